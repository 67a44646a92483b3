package castle

import (
	"io"

	"github.com/castlefs/castle-client/internal/codec"
	"github.com/castlefs/castle-client/internal/constants"
	"github.com/castlefs/castle-client/internal/uapi"
)

// BigPut streams r (totalSize bytes) into the value stored under dims,
// chunk by chunk, for values too large to stage in one pool-leased
// buffer. It starts a stateful operation with the engine, uploads each
// chunk under that operation's token, and finishes once r is exhausted.
func (c *Connection) BigPut(collection uint32, dims []codec.Dimension, r io.Reader, totalSize int64) error {
	keyBuf, keyLen, err := c.leaseKey(dims)
	if err != nil {
		return err
	}
	defer c.pool.Release(keyBuf)

	token := c.nextStatefulToken()
	startReq := uapi.RequestRecord{
		KeyPtr:     ptrOf(keyBuf),
		KeyLen:     uint32(keyLen),
		Collection: collection,
		Tag:        uapi.TagBigPut,
		Token:      token,
		BufLen:     uint32(totalSize),
	}
	if _, err := c.submitBlockingTagged("BigPut", startReq); err != nil {
		return err
	}

	chunkBuf, err := c.pool.Lease(constants.DefaultChunkSize)
	if err != nil {
		return err
	}
	defer c.pool.Release(chunkBuf)

	remaining := totalSize
	for remaining > 0 {
		n := int64(constants.DefaultChunkSize)
		if remaining < n {
			n = remaining
		}
		if _, err := io.ReadFull(r, chunkBuf.Bytes()[:n]); err != nil {
			return &Error{Op: "BigPut", Code: ErrCodeEngine, Msg: "reading chunk from source", Inner: err}
		}

		chunkReq := uapi.RequestRecord{
			BufPtr:     ptrOf(chunkBuf),
			BufLen:     uint32(n),
			Collection: collection,
			Tag:        uapi.TagPutChunk,
			Token:      token,
		}
		if _, err := c.submitBlockingTagged("PutChunk", chunkReq); err != nil {
			return err
		}
		remaining -= n
	}
	return nil
}

// BigGet streams the value stored under dims into w, chunk by chunk.
// length is the value's total byte length, normally obtained from a
// preceding Get-style length probe or from application metadata.
func (c *Connection) BigGet(collection uint32, dims []codec.Dimension, w io.Writer, length int64) error {
	return c.bigGet(collection, dims, w, length, 0)
}

// bigGet is BigGet generalized with a timestamp, so Get's inline-buffer
// fallthrough can preserve GetTimestamped's time-travel semantics when
// the value turns out too large for the speculative buffer.
func (c *Connection) bigGet(collection uint32, dims []codec.Dimension, w io.Writer, length int64, timestamp uint64) error {
	keyBuf, keyLen, err := c.leaseKey(dims)
	if err != nil {
		return err
	}
	defer c.pool.Release(keyBuf)
	return c.bigGetWithKey(collection, ptrOf(keyBuf), uint32(keyLen), w, length, timestamp)
}

// bigGetWithKey is bigGet against an already-leased key buffer, so
// get's and the iterator's non-inline-value paths can reuse the chunk
// loop without re-encoding a key they only have in wire-encoded form.
func (c *Connection) bigGetWithKey(collection uint32, keyPtr uint64, keyLen uint32, w io.Writer, length int64, timestamp uint64) error {
	token := c.nextStatefulToken()
	startReq := uapi.RequestRecord{
		KeyPtr:     keyPtr,
		KeyLen:     keyLen,
		Collection: collection,
		Tag:        uapi.TagBigGet,
		Token:      token,
		Timestamp:  timestamp,
	}
	if _, err := c.submitBlockingTagged("BigGet", startReq); err != nil {
		return err
	}

	chunkBuf, err := c.pool.Lease(constants.DefaultChunkSize)
	if err != nil {
		return err
	}
	defer c.pool.Release(chunkBuf)

	remaining := length
	for remaining > 0 {
		want := int64(constants.DefaultChunkSize)
		if remaining < want {
			want = remaining
		}
		chunkReq := uapi.RequestRecord{
			BufPtr:     ptrOf(chunkBuf),
			BufLen:     uint32(chunkBuf.Len),
			Collection: collection,
			Tag:        uapi.TagGetChunk,
			Token:      token,
		}
		result, err := c.submitBlockingTagged("GetChunk", chunkReq)
		if err != nil {
			return err
		}
		n := int64(result.Length)
		if n > want {
			n = want
		}
		if _, err := w.Write(chunkBuf.Bytes()[:n]); err != nil {
			return &Error{Op: "BigGet", Code: ErrCodeEngine, Msg: "writing chunk to destination", Inner: err}
		}
		remaining -= n
	}
	return nil
}
