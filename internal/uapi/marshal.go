package uapi

import "encoding/binary"

// SizeRequestRecord is the on-wire size of RequestRecord.
const SizeRequestRecord = 56

// SizeResponseRecord is the on-wire size of ResponseRecord.
const SizeResponseRecord = 24

// SizeRingHeader is the on-wire size of RingHeader.
const SizeRingHeader = 20

// SizeControlRecord is the on-wire size of ControlRecord.
const SizeControlRecord = 48

// SizeOfKeyHeader is the on-wire size of KeyHeader.
const SizeOfKeyHeader = 8

// SizeOfDimHeader is the on-wire size of DimHeader.
const SizeOfDimHeader = 12

// MarshalRequest writes r into buf, which must be at least SizeRequestRecord bytes.
func MarshalRequest(buf []byte, r *RequestRecord) {
	binary.LittleEndian.PutUint64(buf[0:8], r.KeyPtr)
	binary.LittleEndian.PutUint64(buf[8:16], r.BufPtr)
	binary.LittleEndian.PutUint64(buf[16:24], r.Timestamp)
	binary.LittleEndian.PutUint64(buf[24:32], uint64(r.Delta))
	binary.LittleEndian.PutUint32(buf[32:36], r.CallID)
	binary.LittleEndian.PutUint32(buf[36:40], r.Collection)
	binary.LittleEndian.PutUint32(buf[40:44], r.KeyLen)
	binary.LittleEndian.PutUint32(buf[44:48], r.BufLen)
	binary.LittleEndian.PutUint32(buf[48:52], r.Token)
	buf[52] = byte(r.Tag)
	buf[53] = r.Flags
	buf[54] = 0
	buf[55] = 0
}

// UnmarshalRequest reads a RequestRecord from buf.
func UnmarshalRequest(buf []byte) RequestRecord {
	var r RequestRecord
	r.KeyPtr = binary.LittleEndian.Uint64(buf[0:8])
	r.BufPtr = binary.LittleEndian.Uint64(buf[8:16])
	r.Timestamp = binary.LittleEndian.Uint64(buf[16:24])
	r.Delta = int64(binary.LittleEndian.Uint64(buf[24:32]))
	r.CallID = binary.LittleEndian.Uint32(buf[32:36])
	r.Collection = binary.LittleEndian.Uint32(buf[36:40])
	r.KeyLen = binary.LittleEndian.Uint32(buf[40:44])
	r.BufLen = binary.LittleEndian.Uint32(buf[44:48])
	r.Token = binary.LittleEndian.Uint32(buf[48:52])
	r.Tag = RequestTag(buf[52])
	r.Flags = buf[53]
	return r
}

// MarshalResponse writes r into buf, which must be at least SizeResponseRecord bytes.
func MarshalResponse(buf []byte, r *ResponseRecord) {
	binary.LittleEndian.PutUint32(buf[0:4], r.CallID)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(r.Err))
	binary.LittleEndian.PutUint64(buf[8:16], r.Length)
	binary.LittleEndian.PutUint32(buf[16:20], r.Token)
	binary.LittleEndian.PutUint32(buf[20:24], 0)
}

// UnmarshalResponse reads a ResponseRecord from buf.
func UnmarshalResponse(buf []byte) ResponseRecord {
	var r ResponseRecord
	r.CallID = binary.LittleEndian.Uint32(buf[0:4])
	r.Err = int32(binary.LittleEndian.Uint32(buf[4:8]))
	r.Length = binary.LittleEndian.Uint64(buf[8:16])
	r.Token = binary.LittleEndian.Uint32(buf[16:20])
	return r
}

// MarshalRingHeader writes h into buf.
func MarshalRingHeader(buf []byte, h *RingHeader) {
	binary.LittleEndian.PutUint32(buf[0:4], h.Capacity)
	binary.LittleEndian.PutUint32(buf[4:8], h.ReqProd)
	binary.LittleEndian.PutUint32(buf[8:12], h.ReqCons)
	binary.LittleEndian.PutUint32(buf[12:16], h.RspProd)
	binary.LittleEndian.PutUint32(buf[16:20], h.RspCons)
}

// UnmarshalRingHeader reads a RingHeader from buf.
func UnmarshalRingHeader(buf []byte) RingHeader {
	var h RingHeader
	h.Capacity = binary.LittleEndian.Uint32(buf[0:4])
	h.ReqProd = binary.LittleEndian.Uint32(buf[4:8])
	h.ReqCons = binary.LittleEndian.Uint32(buf[8:12])
	h.RspProd = binary.LittleEndian.Uint32(buf[12:16])
	h.RspCons = binary.LittleEndian.Uint32(buf[16:20])
	return h
}

// MarshalControl writes c into buf.
func MarshalControl(buf []byte, c *ControlRecord) {
	binary.LittleEndian.PutUint32(buf[0:4], c.Opcode)
	binary.LittleEndian.PutUint32(buf[4:8], 0)
	binary.LittleEndian.PutUint64(buf[8:16], c.In[0])
	binary.LittleEndian.PutUint64(buf[16:24], c.In[1])
	binary.LittleEndian.PutUint64(buf[24:32], c.In[2])
	binary.LittleEndian.PutUint64(buf[32:40], c.Out)
	binary.LittleEndian.PutUint32(buf[40:44], uint32(c.Ret))
	binary.LittleEndian.PutUint32(buf[44:48], 0)
}

// UnmarshalControl reads a ControlRecord from buf.
func UnmarshalControl(buf []byte) ControlRecord {
	var c ControlRecord
	c.Opcode = binary.LittleEndian.Uint32(buf[0:4])
	c.In[0] = binary.LittleEndian.Uint64(buf[8:16])
	c.In[1] = binary.LittleEndian.Uint64(buf[16:24])
	c.In[2] = binary.LittleEndian.Uint64(buf[24:32])
	c.Out = binary.LittleEndian.Uint64(buf[32:40])
	c.Ret = int32(binary.LittleEndian.Uint32(buf[40:44]))
	return c
}

// MarshalKeyHeader writes h into buf.
func MarshalKeyHeader(buf []byte, h *KeyHeader) {
	binary.LittleEndian.PutUint32(buf[0:4], h.Length)
	buf[4] = h.NumDims
	buf[5], buf[6], buf[7] = 0, 0, 0
}

// UnmarshalKeyHeader reads a KeyHeader from buf.
func UnmarshalKeyHeader(buf []byte) KeyHeader {
	var h KeyHeader
	h.Length = binary.LittleEndian.Uint32(buf[0:4])
	h.NumDims = buf[4]
	return h
}

// MarshalDimHeader writes h into buf.
func MarshalDimHeader(buf []byte, h *DimHeader) {
	binary.LittleEndian.PutUint32(buf[0:4], h.Offset)
	binary.LittleEndian.PutUint32(buf[4:8], h.Len)
	buf[8] = h.Flags
	buf[9], buf[10], buf[11] = 0, 0, 0
}

// UnmarshalDimHeader reads a DimHeader from buf.
func UnmarshalDimHeader(buf []byte) DimHeader {
	var h DimHeader
	h.Offset = binary.LittleEndian.Uint32(buf[0:4])
	h.Len = binary.LittleEndian.Uint32(buf[4:8])
	h.Flags = buf[8]
	return h
}
