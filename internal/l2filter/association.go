package l2filter

import "fmt"

// Association aggregates per-bank hit/miss reports for one in-flight
// tile-broadcast request (§4.7). Every bank on a tile reports in exactly
// once per request; once the last one does, OnAllResponsesReceived fires so
// the miss-fallback target bank (if any) knows whether it may claim.
type Association struct {
	numBanks int
	reported []bool
	count    int
	anyHit   bool
	claimed  bool
	claimant int

	OnAllResponsesReceived func()
}

// NewAssociation builds an Association tracking numBanks banks.
func NewAssociation(numBanks int) *Association {
	return &Association{numBanks: numBanks, reported: make([]bool, numBanks), claimant: -1}
}

// Reset prepares the association to track a new broadcast request,
// discarding any reports from the previous one.
func (a *Association) Reset() {
	for i := range a.reported {
		a.reported[i] = false
	}
	a.count = 0
	a.anyHit = false
	a.claimed = false
	a.claimant = -1
}

// Report records bank idx's hit/miss verdict for the request currently
// being tracked. Reporting the same bank twice before a Reset is a no-op.
func (a *Association) Report(idx int, hit bool) {
	if a.reported[idx] {
		return
	}
	a.reported[idx] = true
	a.count++
	if hit {
		a.anyHit = true
	}
	if a.count == a.numBanks && a.OnAllResponsesReceived != nil {
		a.OnAllResponsesReceived()
	}
}

// AllReported reports whether every bank has reported in.
func (a *Association) AllReported() bool { return a.count == a.numBanks }

// AnyHit reports whether any bank claimed a cache hit.
func (a *Association) AnyHit() bool { return a.anyHit }

// Claimed reports whether some bank has already claimed the request.
func (a *Association) Claimed() bool { return a.claimed }

// Claim records that bank idx is claiming the request. Panics on a
// protocol violation — §8 property 1 requires exactly one claim per
// broadcast request, and a second claim is a bug in the filter logic
// driving this association, not a recoverable runtime condition.
func (a *Association) Claim(idx int) {
	if a.claimed {
		panic(fmt.Sprintf("l2filter: double claim of broadcast request: bank %d claims after bank %d already did", idx, a.claimant))
	}
	a.claimed = true
	a.claimant = idx
}
