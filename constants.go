package tilesim

import "github.com/tilesim/tilesim/internal/constants"

// Re-exported so callers configuring a Chip don't need to import
// internal/constants directly.
const (
	LineSizeBytes = constants.LineSizeBytes
	WordsPerLine  = constants.WordsPerLine

	DefaultBanksPerTile  = constants.DefaultBanksPerTile
	DefaultLinesPerBank  = constants.DefaultLinesPerBank
	DefaultBufferSize    = constants.DefaultBufferSize
	DefaultCoresPerTile  = constants.DefaultCoresPerTile
	DefaultNumAccelerators = constants.DefaultNumAccelerators

	DeadlockCheckInterval = constants.DeadlockCheckInterval
)
