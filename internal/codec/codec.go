// Package codec implements the multi-dimensional key wire format: a fixed
// header, a per-dimension header array, and the concatenated dimension
// payloads. Every data-plane request traverses this package.
package codec

import (
	"github.com/cloudwego/gopkg/unsafex"

	"github.com/castlefs/castle-client/internal/constants"
	"github.com/castlefs/castle-client/internal/uapi"
)

// Dimension is the ergonomic, Go-native way to describe one key
// dimension when building a key from application code.
type Dimension struct {
	Payload []byte
	Flags   uint8
}

// Size computes the number of bytes Encode would require for dims.
// Pure: performs no allocation beyond the returned int.
func Size(dims []Dimension) (int, error) {
	if len(dims) > constants.MaxDimensions {
		return 0, ErrTooManyDimensions
	}
	total := uapi.SizeOfKeyHeader + len(dims)*uapi.SizeOfDimHeader
	for _, d := range dims {
		if len(d.Payload) > constants.MaxDimensionLength {
			return 0, ErrDimensionTooLong
		}
		total += len(d.Payload)
	}
	if total > 1<<32-1 {
		return 0, ErrKeyTooLarge
	}
	return total, nil
}

// Encode writes dims into dst in the wire layout described above. dst
// must be at least as large as Size(dims); Encode returns the number of
// bytes written. Passing a dst shorter than required returns the
// required size as the error's Needed field instead of writing anything.
func Encode(dst []byte, dims []Dimension) (int, error) {
	need, err := Size(dims)
	if err != nil {
		return 0, err
	}
	if len(dst) < need {
		return 0, &ErrBufferTooSmall{Needed: need}
	}

	header := uapi.KeyHeader{
		Length:  uint32(need) - 4, // declared length excludes the length field itself
		NumDims: uint8(len(dims)),
	}
	uapi.MarshalKeyHeader(dst[:uapi.SizeOfKeyHeader], &header)

	dimHeaderBase := uapi.SizeOfKeyHeader
	payloadOffset := uapi.SizeOfKeyHeader + len(dims)*uapi.SizeOfDimHeader
	for i, d := range dims {
		dh := uapi.DimHeader{Offset: uint32(payloadOffset), Len: uint32(len(d.Payload)), Flags: d.Flags}
		off := dimHeaderBase + i*uapi.SizeOfDimHeader
		uapi.MarshalDimHeader(dst[off:off+uapi.SizeOfDimHeader], &dh)
		copy(dst[payloadOffset:payloadOffset+len(d.Payload)], d.Payload)
		payloadOffset += len(d.Payload)
	}
	return need, nil
}

// BuildKey allocates a new buffer and encodes dims into it, for callers
// who don't already hold a shared buffer (e.g. encoded keys handed to
// FakeEngine.Put rather than sent over the ring).
func BuildKey(dims []Dimension) ([]byte, error) {
	need, err := Size(dims)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, need)
	if _, err := Encode(buf, dims); err != nil {
		return nil, err
	}
	return buf, nil
}

// NumDimensions reads the dimension count from an encoded key.
func NumDimensions(buf []byte) uint8 {
	return uapi.UnmarshalKeyHeader(buf[:uapi.SizeOfKeyHeader]).NumDims
}

func dimHeader(buf []byte, i int) uapi.DimHeader {
	off := uapi.SizeOfKeyHeader + i*uapi.SizeOfDimHeader
	return uapi.UnmarshalDimHeader(buf[off : off+uapi.SizeOfDimHeader])
}

// ElementData returns a zero-copy slice of the i-th dimension's payload,
// aliasing buf.
func ElementData(buf []byte, i int) []byte {
	dh := dimHeader(buf, i)
	return buf[dh.Offset : dh.Offset+dh.Len]
}

// ElementString is ElementData's zero-copy string view, for comparisons
// and map keys that don't need to retain or mutate the bytes.
func ElementString(buf []byte, i int) string {
	return unsafex.BinaryToString(ElementData(buf, i))
}

// ElementLength returns the length of the i-th dimension's payload
// without materialising a slice.
func ElementLength(buf []byte, i int) uint32 {
	return dimHeader(buf, i).Len
}

// ElementFlags returns the flag byte of the i-th dimension.
func ElementFlags(buf []byte, i int) uint8 {
	return dimHeader(buf, i).Flags
}

// Copy returns an independent copy of an encoded key, for callers who
// need to retain a key past the lifetime of its source buffer (e.g. the
// iterator batch deserialiser copying keys out of a leased buffer it is
// about to release).
func Copy(buf []byte) []byte {
	out := make([]byte, len(buf))
	copy(out, buf)
	return out
}

// FromStrings is a convenience constructor for the common case of a key
// whose dimensions are plain strings with zero flags.
func FromStrings(parts ...string) []Dimension {
	dims := make([]Dimension, len(parts))
	for i, p := range parts {
		dims[i] = Dimension{Payload: unsafex.StringToBinary(p)}
	}
	return dims
}
