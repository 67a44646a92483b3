package castle

import (
	"github.com/castlefs/castle-client/internal/codec"
	"github.com/castlefs/castle-client/internal/ring"
	"github.com/castlefs/castle-client/internal/uapi"
)

// iterBatchBufferSize is the shared buffer an Iterator leases to receive
// one batch of entries per IterNext call.
const iterBatchBufferSize = 256 * 1024

// Entry is one key/value pair yielded by an Iterator, with the key still
// in its wire-encoded form (decode it with internal/codec accessors).
type Entry struct {
	Key   []byte
	Value []byte
}

// Iterator walks a range of keys within a collection, pulling one batch
// of entries at a time over the stateful ring protocol (IterStart,
// repeated IterNext, IterFinish).
type Iterator struct {
	conn       *Connection
	collection uint32
	token      uint32
	pending    []ring.IterEntry
	pendingIdx int
	done       bool
	started    bool
	err        error
}

// IterStart begins an iteration over [start, end) within collection.
// A nil end means "no upper bound". Call Finish on the returned
// Iterator when done, even after running it to exhaustion (Next never
// sends IterFinish), so the engine can release its iteration state.
func (c *Connection) IterStart(collection uint32, start, end []codec.Dimension) (*Iterator, error) {
	startBuf, startLen, err := c.leaseKey(start)
	if err != nil {
		return nil, err
	}
	defer c.pool.Release(startBuf)

	var endBuf = startBuf
	var endLen = 0
	if end != nil {
		b, l, err := c.leaseKey(end)
		if err != nil {
			return nil, err
		}
		defer c.pool.Release(b)
		endBuf, endLen = b, l
	}

	token := c.nextStatefulToken()
	req := uapi.RequestRecord{
		KeyPtr:     ptrOf(startBuf),
		KeyLen:     uint32(startLen),
		BufPtr:     ptrOf(endBuf),
		BufLen:     uint32(endLen),
		Collection: collection,
		Tag:        uapi.TagIterStart,
		Token:      token,
	}
	if _, err := c.submitBlockingTagged("IterStart", req); err != nil {
		return nil, err
	}

	it := &Iterator{conn: c, collection: collection, token: token, started: true}
	return it, nil
}

// Next advances the iterator, returning the next entry. It returns
// ErrIterComplete once the range is exhausted; callers should always
// call Finish when done with an iterator, successful or not.
func (it *Iterator) Next() (Entry, error) {
	if it.err != nil {
		return Entry{}, it.err
	}
	if it.pendingIdx < len(it.pending) {
		e := it.pending[it.pendingIdx]
		it.pendingIdx++
		return Entry{Key: e.Key, Value: e.Value}, nil
	}
	if it.done {
		return Entry{}, ErrIterComplete
	}
	if err := it.fetchBatch(); err != nil {
		it.err = err
		return Entry{}, err
	}
	if it.pendingIdx >= len(it.pending) {
		it.done = true
		return Entry{}, ErrIterComplete
	}
	e := it.pending[it.pendingIdx]
	it.pendingIdx++
	return Entry{Key: e.Key, Value: e.Value}, nil
}

func (it *Iterator) fetchBatch() error {
	buf, err := it.conn.pool.Lease(iterBatchBufferSize)
	if err != nil {
		return err
	}
	defer it.conn.pool.Release(buf)

	req := uapi.RequestRecord{
		BufPtr:     ptrOf(buf),
		BufLen:     uint32(buf.Len),
		Collection: it.collection,
		Tag:        uapi.TagIterNext,
		Token:      it.token,
	}
	result, err := it.conn.submitBlockingTagged("IterNext", req)
	if err != nil {
		return err
	}
	if result.Length == 0 {
		it.done = true
		it.pending = nil
		it.pendingIdx = 0
		return nil
	}

	entries, hasMore, err := ring.DecodeIterBatch(buf.Bytes()[:result.Length])
	if err != nil {
		return err
	}
	it.done = !hasMore
	it.pending = make([]ring.IterEntry, len(entries))
	for i, e := range entries {
		key := make([]byte, len(e.Key))
		copy(key, e.Key)

		var val []byte
		if e.Inline {
			val = make([]byte, len(e.Value))
			copy(val, e.Value)
		} else {
			// The engine didn't inline this value into the batch; fetch
			// it with an ordinary point-get on the same collection/key.
			val, err = it.conn.getByEncodedKey(it.collection, key, 0)
			if err != nil {
				return err
			}
		}
		it.pending[i] = ring.IterEntry{Key: key, Value: val, Inline: true}
	}
	it.pendingIdx = 0
	return nil
}

// Finish releases the iterator's stateful slot on the engine. It is
// safe to call more than once, and safe to call after Next has
// returned ErrIterComplete or any other error.
func (it *Iterator) Finish() error {
	if !it.started {
		return nil
	}
	it.started = false

	req := uapi.RequestRecord{
		Collection: it.collection,
		Tag:        uapi.TagIterFinish,
		Token:      it.token,
	}
	_, err := it.conn.submitBlockingTagged("IterFinish", req)
	return err
}

// GetSlice collects up to limit entries in [start, end) into memory. A
// limit of 0 means unbounded. It is a convenience built on top of
// IterStart/Next/Finish for callers who don't need streaming
// consumption; large ranges should drive the Iterator directly instead.
// Reaching limit before the range is exhausted still calls Finish, to
// release the engine's stateful slot for this iteration.
func (c *Connection) GetSlice(collection uint32, start, end []codec.Dimension, limit int) ([]Entry, error) {
	it, err := c.IterStart(collection, start, end)
	if err != nil {
		return nil, err
	}
	defer it.Finish()

	var out []Entry
	for limit == 0 || len(out) < limit {
		e, err := it.Next()
		if err == ErrIterComplete {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, e)
	}
	return out, nil
}
