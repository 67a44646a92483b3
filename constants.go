package castle

import "github.com/castlefs/castle-client/internal/constants"

// Re-exported tunables, for callers that want the defaults without an
// internal/constants import.
const (
	DefaultControlPath    = constants.DefaultControlPath
	DefaultRingSize       = constants.DefaultRingSize
	NStateful             = constants.NStateful
	MaxDimensions         = constants.MaxDimensions
	MaxDimensionLength    = constants.MaxDimensionLength
	DefaultChunkSize      = constants.DefaultChunkSize
	ProtocolVersion       = constants.ProtocolVersion
)

var (
	DefaultPoolSizeClasses = constants.DefaultPoolSizeClasses
	DefaultPoolQuantities  = constants.DefaultPoolQuantities
)
