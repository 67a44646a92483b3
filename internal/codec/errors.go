package codec

import "fmt"

var (
	ErrTooManyDimensions = fmt.Errorf("codec: too many dimensions")
	ErrDimensionTooLong  = fmt.Errorf("codec: dimension payload too long")
	ErrKeyTooLarge       = fmt.Errorf("codec: encoded key exceeds 2^32-1 bytes")
)

// ErrBufferTooSmall is returned by Encode when dst is shorter than the
// key it was asked to encode. Needed carries the required size so the
// caller can retry with a larger buffer (or a size-query-only pattern).
type ErrBufferTooSmall struct {
	Needed int
}

func (e *ErrBufferTooSmall) Error() string {
	return fmt.Sprintf("codec: buffer too small, need %d bytes", e.Needed)
}
