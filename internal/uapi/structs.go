// Package uapi defines the wire-compatible structures shared with the
// kernel-resident engine: ring header, request/response records, the key
// header, and the control (ioctl) record. Layouts here are load-bearing —
// they must match the engine's struct layout bit-for-bit.
package uapi

import "unsafe"

// RequestTag discriminates the RequestRecord union.
type RequestTag uint8

const (
	TagReplace RequestTag = iota
	TagRemove
	TagGet
	TagCounterSet
	TagCounterAdd
	TagReplaceTimestamp
	TagRemoveTimestamp
	TagIterStart
	TagIterNext
	TagIterFinish
	TagBigPut
	TagPutChunk
	TagBigGet
	TagGetChunk
)

// RequestRecord is a fixed-size discriminated union of every data-plane
// operation. Not every field is meaningful for every tag; the request
// builders in the root package's convenience.go, bigio.go and
// iterator.go show which fields each tag uses.
// Fields are ordered largest-alignment-first so the Go layout has no
// implicit padding beyond the trailing tag/flags pair.
type RequestRecord struct {
	KeyPtr     uint64 // shared-buffer address of an encoded key
	BufPtr     uint64 // shared-buffer address of a value/output buffer
	Timestamp  uint64 // user timestamp, for *Timestamp variants
	Delta      int64  // counter-add delta
	CallID     uint32
	Collection uint32
	KeyLen     uint32
	BufLen     uint32
	Token      uint32 // stateful-op token; 0 for non-stateful requests
	Tag        RequestTag
	Flags      uint8
	_          uint16 // padding
}

// Compile-time size check: 56 bytes.
var _ [56]byte = [unsafe.Sizeof(RequestRecord{})]byte{}

// ResponseRecord is the fixed-size response the engine writes back.
type ResponseRecord struct {
	CallID uint32
	Err    int32
	Length uint64
	Token  uint32
	_      uint32 // padding
}

var _ [24]byte = [unsafe.Sizeof(ResponseRecord{})]byte{}

// RingHeader is the shared control structure prefixing the mmap'd ring
// region. Capacity is a power of two; index arithmetic elsewhere in the
// client reduces an index to a slot as index modulo Capacity.
type RingHeader struct {
	Capacity uint32
	ReqProd  uint32 // written by client only
	ReqCons  uint32 // written by engine only
	RspProd  uint32 // written by engine only
	RspCons  uint32 // written by client only
}

var _ [20]byte = [unsafe.Sizeof(RingHeader{})]byte{}

// ControlRecord is the single tagged-union structure exchanged with every
// control-plane ioctl. Every opcode packs its inputs into In[0..3) and, if
// it has an output, reads it back from Out. String-bearing opcodes (e.g.
// collection_attach's name argument) pass the address and length of an
// ordinary process-memory byte buffer, packed into two In slots.
type ControlRecord struct {
	Opcode uint32
	_      uint32
	In     [3]uint64
	Out    uint64
	Ret    int32
	_      uint32
}

var _ [48]byte = [unsafe.Sizeof(ControlRecord{})]byte{}

// KeyHeader is the fixed prefix of an on-wire encoded key, followed by
// NumDims DimHeader entries and then the concatenated dimension payloads.
type KeyHeader struct {
	Length  uint32 // total encoded length, excluding this field
	NumDims uint8
	_       [3]uint8
}

var _ [8]byte = [unsafe.Sizeof(KeyHeader{})]byte{}

// DimHeader describes one dimension of an encoded key: its payload's
// offset from the start of the key blob, its length, and a flag byte.
type DimHeader struct {
	Offset uint32
	Len    uint32
	Flags  uint8
	_      [3]uint8
}

var _ [12]byte = [unsafe.Sizeof(DimHeader{})]byte{}
