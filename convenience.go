package castle

import (
	"bytes"
	"unsafe"

	"github.com/castlefs/castle-client/internal/codec"
	"github.com/castlefs/castle-client/internal/shmbuf"
	"github.com/castlefs/castle-client/internal/uapi"
)

// leaseKey encodes dims into a freshly leased buffer and returns it
// alongside its encoded length. The caller must Release it.
func (c *Connection) leaseKey(dims []codec.Dimension) (*shmbuf.Buffer, int, error) {
	if c.State() != StateOpen {
		return nil, 0, newError("leaseKey", ErrCodeUnattached, "connection is not open")
	}
	need, err := codec.Size(dims)
	if err != nil {
		return nil, 0, err
	}
	buf, err := c.pool.Lease(need)
	if err != nil {
		return nil, 0, err
	}
	n, err := codec.Encode(buf.Bytes(), dims)
	if err != nil {
		c.pool.Release(buf)
		return nil, 0, err
	}
	return buf, n, nil
}

func ptrOf(buf *shmbuf.Buffer) uint64 {
	return uint64(uintptr(buf.Ptr))
}

// Get fetches the value stored under the key described by dims into a
// pool-leased buffer, returning its contents as an independent copy.
func (c *Connection) Get(collection uint32, dims []codec.Dimension) ([]byte, error) {
	return c.get(collection, dims, uapi.TagGet, 0, 0)
}

// GetTimestamped is Get, constrained to the version visible as of
// timestamp (engine-defined units, matching ReplaceTimestamped).
func (c *Connection) GetTimestamped(collection uint32, dims []codec.Dimension, timestamp uint64) ([]byte, error) {
	return c.get(collection, dims, uapi.TagGet, timestamp, 0)
}

func (c *Connection) get(collection uint32, dims []codec.Dimension, tag uapi.RequestTag, timestamp uint64, delta int64) ([]byte, error) {
	keyBuf, keyLen, err := c.leaseKey(dims)
	if err != nil {
		return nil, err
	}
	defer c.pool.Release(keyBuf)
	return c.getWithKey(collection, ptrOf(keyBuf), uint32(keyLen), tag, timestamp)
}

// getByEncodedKey performs a point-get against a key that is already in
// its wire-encoded form, for the iterator's non-inline value
// materialisation: the batch decoder only has the key's raw bytes, not
// the []codec.Dimension that produced them.
func (c *Connection) getByEncodedKey(collection uint32, keyBytes []byte, timestamp uint64) ([]byte, error) {
	keyBuf, err := c.pool.Lease(len(keyBytes))
	if err != nil {
		return nil, err
	}
	copy(keyBuf.Bytes(), keyBytes)
	defer c.pool.Release(keyBuf)
	return c.getWithKey(collection, ptrOf(keyBuf), uint32(len(keyBytes)), uapi.TagGet, timestamp)
}

func (c *Connection) getWithKey(collection uint32, keyPtr uint64, keyLen uint32, tag uapi.RequestTag, timestamp uint64) ([]byte, error) {
	valBuf, err := c.pool.Lease(defaultValueBufferSize)
	if err != nil {
		return nil, err
	}
	defer c.pool.Release(valBuf)

	req := uapi.RequestRecord{
		KeyPtr:     keyPtr,
		KeyLen:     keyLen,
		BufPtr:     ptrOf(valBuf),
		BufLen:     uint32(valBuf.Len),
		Collection: collection,
		Tag:        tag,
		Timestamp:  timestamp,
	}
	result, err := c.submitBlockingTagged("Get", req)
	if err != nil {
		return nil, err
	}
	if result.Length > uint64(valBuf.Len) {
		// The value didn't fit the speculative inline buffer: the engine
		// still reported its true length, so upgrade transparently to a
		// chunked big-get instead of failing the caller.
		var out bytes.Buffer
		out.Grow(int(result.Length))
		if err := c.bigGetWithKey(collection, keyPtr, keyLen, &out, int64(result.Length), timestamp); err != nil {
			return nil, err
		}
		return out.Bytes(), nil
	}
	out := make([]byte, result.Length)
	copy(out, valBuf.Bytes()[:result.Length])
	return out, nil
}

// defaultValueBufferSize is the buffer Get leases speculatively before
// it knows the value's real length; GetSlice/BigGet handle values too
// large for any pool class via explicit chunking instead.
const defaultValueBufferSize = 64 * 1024

// Replace sets the value stored under dims to value.
func (c *Connection) Replace(collection uint32, dims []codec.Dimension, value []byte) error {
	return c.replace(collection, dims, value, uapi.TagReplace, 0)
}

// ReplaceTimestamped sets the value and records timestamp as the
// write's logical time, for time-travel queries.
func (c *Connection) ReplaceTimestamped(collection uint32, dims []codec.Dimension, value []byte, timestamp uint64) error {
	return c.replace(collection, dims, value, uapi.TagReplaceTimestamp, timestamp)
}

func (c *Connection) replace(collection uint32, dims []codec.Dimension, value []byte, tag uapi.RequestTag, timestamp uint64) error {
	keyBuf, keyLen, err := c.leaseKey(dims)
	if err != nil {
		return err
	}
	defer c.pool.Release(keyBuf)

	valBuf, err := c.pool.Lease(len(value))
	if err != nil {
		return err
	}
	defer c.pool.Release(valBuf)
	copy(valBuf.Bytes(), value)

	req := uapi.RequestRecord{
		KeyPtr:     ptrOf(keyBuf),
		KeyLen:     uint32(keyLen),
		BufPtr:     ptrOf(valBuf),
		BufLen:     uint32(len(value)),
		Collection: collection,
		Tag:        tag,
		Timestamp:  timestamp,
	}
	_, err = c.submitBlockingTagged("Replace", req)
	return err
}

// Remove deletes the key described by dims.
func (c *Connection) Remove(collection uint32, dims []codec.Dimension) error {
	return c.remove(collection, dims, uapi.TagRemove, 0)
}

// RemoveTimestamped is Remove, recording timestamp as the tombstone's
// logical time.
func (c *Connection) RemoveTimestamped(collection uint32, dims []codec.Dimension, timestamp uint64) error {
	return c.remove(collection, dims, uapi.TagRemoveTimestamp, timestamp)
}

func (c *Connection) remove(collection uint32, dims []codec.Dimension, tag uapi.RequestTag, timestamp uint64) error {
	keyBuf, keyLen, err := c.leaseKey(dims)
	if err != nil {
		return err
	}
	defer c.pool.Release(keyBuf)

	req := uapi.RequestRecord{
		KeyPtr:     ptrOf(keyBuf),
		KeyLen:     uint32(keyLen),
		Collection: collection,
		Tag:        tag,
		Timestamp:  timestamp,
	}
	_, err = c.submitBlockingTagged("Remove", req)
	return err
}

// CounterSet sets the counter stored under dims to an absolute value.
func (c *Connection) CounterSet(collection uint32, dims []codec.Dimension, value int64) error {
	keyBuf, keyLen, err := c.leaseKey(dims)
	if err != nil {
		return err
	}
	defer c.pool.Release(keyBuf)

	valBuf, err := c.pool.Lease(8)
	if err != nil {
		return err
	}
	defer c.pool.Release(valBuf)
	*(*int64)(unsafe.Pointer(&valBuf.Bytes()[0])) = value

	req := uapi.RequestRecord{
		KeyPtr:     ptrOf(keyBuf),
		KeyLen:     uint32(keyLen),
		BufPtr:     ptrOf(valBuf),
		BufLen:     8,
		Collection: collection,
		Tag:        uapi.TagCounterSet,
	}
	_, err = c.submitBlockingTagged("CounterSet", req)
	return err
}

// CounterAdd adds delta to the counter stored under dims, atomically on
// the engine side.
func (c *Connection) CounterAdd(collection uint32, dims []codec.Dimension, delta int64) error {
	keyBuf, keyLen, err := c.leaseKey(dims)
	if err != nil {
		return err
	}
	defer c.pool.Release(keyBuf)

	req := uapi.RequestRecord{
		KeyPtr:     ptrOf(keyBuf),
		KeyLen:     uint32(keyLen),
		Collection: collection,
		Tag:        uapi.TagCounterAdd,
		Delta:      delta,
	}
	_, err = c.submitBlockingTagged("CounterAdd", req)
	return err
}
