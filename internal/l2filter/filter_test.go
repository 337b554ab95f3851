package l2filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecide(t *testing.T) {
	cases := []struct {
		name string
		in   Inputs
		want Decision
	}{
		{"hit claims immediately", Inputs{CacheHit: true}, ClaimNow},
		{"target with mustAccessTarget claims immediately",
			Inputs{TargetingThisBank: true, MustAccessTarget: true}, ClaimNow},
		{"mustAccessTarget on non-target bank is ignored",
			Inputs{MustAccessTarget: true, TargetingThisBank: false}, Ignore},
		{"target without hit waits for the others",
			Inputs{TargetingThisBank: true}, WaitForOthers},
		{"neither hit nor target is ignored", Inputs{}, Ignore},
		{"hit takes priority over waiting even when also the target",
			Inputs{CacheHit: true, TargetingThisBank: true}, ClaimNow},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Decide(tc.in))
		})
	}
}

func TestAssociationFiresOnceAllBanksReport(t *testing.T) {
	a := NewAssociation(4)
	fired := 0
	a.OnAllResponsesReceived = func() { fired++ }

	a.Report(0, false)
	a.Report(1, false)
	assert.False(t, a.AllReported())
	assert.Equal(t, 0, fired)

	a.Report(2, true)
	a.Report(3, false)
	assert.True(t, a.AllReported())
	assert.True(t, a.AnyHit())
	assert.Equal(t, 1, fired)
}

func TestAssociationReportIsIdempotentPerBank(t *testing.T) {
	a := NewAssociation(2)
	fired := 0
	a.OnAllResponsesReceived = func() { fired++ }

	a.Report(0, false)
	a.Report(0, true) // duplicate report from the same bank must not double-count
	assert.False(t, a.AllReported())

	a.Report(1, false)
	assert.True(t, a.AllReported())
	assert.False(t, a.AnyHit())
	assert.Equal(t, 1, fired)
}

func TestAssociationResetClearsState(t *testing.T) {
	a := NewAssociation(2)
	a.Report(0, true)
	a.Claim(0)

	a.Reset()
	assert.False(t, a.AllReported())
	assert.False(t, a.AnyHit())
	assert.False(t, a.Claimed())
}

func TestAssociationDoubleClaimPanics(t *testing.T) {
	a := NewAssociation(2)
	a.Claim(0)
	assert.Panics(t, func() { a.Claim(1) })
}
