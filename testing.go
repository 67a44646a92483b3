package castle

import (
	"bytes"
	"context"
	"encoding/binary"
	"sort"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/castlefs/castle-client/internal/bufpool"
	"github.com/castlefs/castle-client/internal/constants"
	"github.com/castlefs/castle-client/internal/ctrl"
	"github.com/castlefs/castle-client/internal/logging"
	"github.com/castlefs/castle-client/internal/ring"
	"github.com/castlefs/castle-client/internal/uapi"
)

// FakeEngine is an in-process stand-in for the kernel-resident engine,
// for testing application code against this client without a real
// device. It understands point get/replace/remove/counter operations,
// the big-put/big-get chunk protocol, and single-pass iteration over an
// in-memory map keyed by encoded key bytes. It does not model versions,
// snapshots, or collections beyond accepting any collection id.
type FakeEngine struct {
	mu       sync.Mutex
	values   map[string][]byte
	counters map[string]int64

	bigPuts map[uint32]*bigPutState
	bigGets map[uint32]*bigGetState
	iters   map[uint32]*iterState

	held map[uapi.RequestTag]bool
}

type bigPutState struct {
	key []byte
	buf bytes.Buffer
}

type bigGetState struct {
	remaining []byte
}

type iterState struct {
	entries [][2][]byte // key, value
	pos     int
}

// NewFakeEngine creates an empty FakeEngine.
func NewFakeEngine() *FakeEngine {
	return &FakeEngine{
		values:   make(map[string][]byte),
		counters: make(map[string]int64),
		bigPuts:  make(map[uint32]*bigPutState),
		bigGets:  make(map[uint32]*bigGetState),
		iters:    make(map[uint32]*iterState),
	}
}

// Put seeds the engine with a value under an already-encoded key, for
// tests that want to assert on reads without first driving a Replace.
func (e *FakeEngine) Put(encodedKey, value []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.values[string(encodedKey)] = append([]byte(nil), value...)
}

// Hold makes the engine stop consuming requests tagged with tag,
// leaving them (and anything queued behind them) sitting in the ring
// as genuinely in-flight, and returns a function that resumes normal
// processing. This is for tests that need a deterministic window in
// which a blocking call is outstanding — e.g. racing a disconnect
// against an in-flight iter-next — rather than one that depends on
// winning a real scheduling race against the engine's response latency.
func (e *FakeEngine) Hold(tag uapi.RequestTag) func() {
	e.mu.Lock()
	if e.held == nil {
		e.held = make(map[uapi.RequestTag]bool)
	}
	e.held[tag] = true
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		delete(e.held, tag)
		e.mu.Unlock()
	}
}

func (e *FakeEngine) isHeld(tag uapi.RequestTag) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.held[tag]
}

func bytesAt(ptr uint64, length uint32) []byte {
	if ptr == 0 || length == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(uintptr(ptr))), int(length))
}

func (e *FakeEngine) handle(req uapi.RequestRecord) uapi.ResponseRecord {
	resp := uapi.ResponseRecord{CallID: req.CallID, Token: req.Token}

	e.mu.Lock()
	defer e.mu.Unlock()

	switch req.Tag {
	case uapi.TagReplace, uapi.TagReplaceTimestamp:
		key := bytesAt(req.KeyPtr, req.KeyLen)
		val := bytesAt(req.BufPtr, req.BufLen)
		e.values[string(key)] = append([]byte(nil), val...)

	case uapi.TagGet:
		key := bytesAt(req.KeyPtr, req.KeyLen)
		val, ok := e.values[string(key)]
		if !ok {
			resp.Err = -2
			break
		}
		resp.Length = uint64(len(val))
		dst := bytesAt(req.BufPtr, req.BufLen)
		copy(dst, val)

	case uapi.TagRemove, uapi.TagRemoveTimestamp:
		key := bytesAt(req.KeyPtr, req.KeyLen)
		delete(e.values, string(key))

	case uapi.TagCounterSet:
		key := bytesAt(req.KeyPtr, req.KeyLen)
		val := bytesAt(req.BufPtr, req.BufLen)
		if len(val) >= 8 {
			e.counters[string(key)] = int64(binary.LittleEndian.Uint64(val))
		}

	case uapi.TagCounterAdd:
		key := bytesAt(req.KeyPtr, req.KeyLen)
		e.counters[string(key)] += req.Delta

	case uapi.TagBigPut:
		key := bytesAt(req.KeyPtr, req.KeyLen)
		e.bigPuts[req.Token] = &bigPutState{key: append([]byte(nil), key...)}

	case uapi.TagPutChunk:
		st := e.bigPuts[req.Token]
		if st == nil {
			resp.Err = -22
			break
		}
		chunk := bytesAt(req.BufPtr, req.BufLen)
		st.buf.Write(chunk)
		e.values[string(st.key)] = append([]byte(nil), st.buf.Bytes()...)

	case uapi.TagBigGet:
		key := bytesAt(req.KeyPtr, req.KeyLen)
		val := e.values[string(key)]
		e.bigGets[req.Token] = &bigGetState{remaining: append([]byte(nil), val...)}

	case uapi.TagGetChunk:
		st := e.bigGets[req.Token]
		if st == nil {
			resp.Err = -22
			break
		}
		dst := bytesAt(req.BufPtr, req.BufLen)
		n := copy(dst, st.remaining)
		st.remaining = st.remaining[n:]
		resp.Length = uint64(n)

	case uapi.TagIterStart:
		start := bytesAt(req.KeyPtr, req.KeyLen)
		end := bytesAt(req.BufPtr, req.BufLen)
		e.iters[req.Token] = &iterState{entries: e.rangeLocked(start, end)}

	case uapi.TagIterNext:
		st := e.iters[req.Token]
		if st == nil {
			resp.Err = -22
			break
		}
		buf := bytesAt(req.BufPtr, req.BufLen)
		n := encodeIterBatch(buf, st)
		resp.Length = uint64(n)

	case uapi.TagIterFinish:
		delete(e.iters, req.Token)

	default:
		resp.Err = -22
	}

	return resp
}

// rangeLocked returns every key/value pair with an encoded key in
// [start, end) (end == nil means no upper bound), sorted by encoded key.
// Must be called with e.mu held.
func (e *FakeEngine) rangeLocked(start, end []byte) [][2][]byte {
	var out [][2][]byte
	for k, v := range e.values {
		if bytes.Compare([]byte(k), start) < 0 {
			continue
		}
		if end != nil && bytes.Compare([]byte(k), end) >= 0 {
			continue
		}
		out = append(out, [2][]byte{[]byte(k), v})
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][0], out[j][0]) < 0 })
	return out
}

// iterInlineThreshold is the value size above which the FakeEngine
// omits the value bytes from an iterator batch node, mirroring an
// engine that only inlines small values and makes the client
// point-get the rest. Exercises the Inline/non-inline path in
// internal/ring.DecodeIterBatch and Iterator.fetchBatch.
const iterInlineThreshold = 64

// encodeIterBatch writes as many remaining entries from st as fit in
// buf, using internal/ring.EncodeIterNode, and advances st.pos past
// whatever was written. It returns the number of bytes written, 0
// meaning the iteration is already exhausted. The final node written
// across the whole iteration (not just this batch) gets next =
// ring.IterNextEnd; a node that fills the batch with entries still
// remaining gets next = offset+need, exactly at the end of the bytes
// written (the Length reported back), which DecodeIterBatch reads as
// "batch exhausted, call iter-next again".
func encodeIterBatch(buf []byte, st *iterState) int {
	offset := 0
	for st.pos < len(st.entries) {
		key, val := st.entries[st.pos][0], st.entries[st.pos][1]
		inline := len(val) <= iterInlineThreshold
		need := ring.IterNodeSize(len(key), len(val), inline)
		if offset+need > len(buf) {
			break
		}
		next := uint32(offset + need)
		if st.pos+1 >= len(st.entries) {
			next = ring.IterNextEnd
		}
		offset += ring.EncodeIterNode(buf[offset:], key, val, inline, next)
		st.pos++
	}
	return offset
}

// run drains r's request ring against e until stop is closed, playing
// the engine side of the wire protocol: for every newly published
// request it computes a response and publishes it back, waking the
// completion thread exactly as a real device's poll readiness would.
func (e *FakeEngine) run(r *ring.Ring, stop <-chan struct{}) {
	raw := r.RawBuffer()
	capacity := binary.LittleEndian.Uint32(raw[0:4])
	reqArrOff := uapi.SizeRingHeader
	rspArrOff := uapi.SizeRingHeader + int(capacity)*uapi.SizeRequestRecord

	reqProdAddr := (*uint32)(unsafe.Pointer(&raw[4]))
	reqConsAddr := (*uint32)(unsafe.Pointer(&raw[8]))
	rspProdAddr := (*uint32)(unsafe.Pointer(&raw[12]))

	requestSlot := func(idx uint32) []byte {
		off := reqArrOff + int(idx%capacity)*uapi.SizeRequestRecord
		return raw[off : off+uapi.SizeRequestRecord]
	}
	responseSlot := func(idx uint32) []byte {
		off := rspArrOff + int(idx%capacity)*uapi.SizeResponseRecord
		return raw[off : off+uapi.SizeResponseRecord]
	}

	for {
		select {
		case <-stop:
			return
		default:
		}
		reqProd := atomic.LoadUint32(reqProdAddr)
		reqCons := atomic.LoadUint32(reqConsAddr)
		for reqCons != reqProd {
			req := uapi.UnmarshalRequest(requestSlot(reqCons))
			if e.isHeld(req.Tag) {
				break
			}
			resp := e.handle(req)
			uapi.MarshalResponse(responseSlot(reqCons), &resp)
			reqCons++
			atomic.StoreUint32(reqConsAddr, reqCons)
			atomic.AddUint32(rspProdAddr, 1)
			_, _ = unix.Write(r.WakeWriteFd(), []byte{0})
		}
		time.Sleep(time.Millisecond)
	}
}

// NewTestConnection builds a Connection wired to a fresh FakeEngine
// instead of a real device, for exercising application code end to end
// without root or a loaded kernel module. The returned stop function
// tears down the fake engine's goroutine and the connection's ring and
// pool, and closes the /dev/zero fd the connection was built over.
func NewTestConnection(opts *ConnectOptions) (*Connection, *FakeEngine, func(), error) {
	if opts == nil {
		opts = &ConnectOptions{}
	}
	opts = opts.withDefaults()

	fd, err := unix.Open("/dev/zero", unix.O_RDWR, 0)
	if err != nil {
		return nil, nil, nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.NewLogger(&logging.Config{Level: logging.LevelError})
	}

	c := &Connection{logger: logger, metrics: NewMetrics()}
	c.fd = fd
	c.ctrl = ctrl.NewControllerFromFd(fd, logger)

	pool, err := bufpool.New(fd, opts.PoolSizeClasses, opts.PoolQuantities)
	if err != nil {
		unix.Close(fd)
		return nil, nil, nil, err
	}
	c.pool = pool

	r, err := ring.New(fd, opts.RingCapacity, constants.NStateful, c.poke, logger, opts.Observer)
	if err != nil {
		pool.Destroy()
		unix.Close(fd)
		return nil, nil, nil, err
	}
	c.ring = r
	c.state.Store(int32(StateOpen))

	engine := NewFakeEngine()
	stop := make(chan struct{})
	go engine.run(r, stop)

	teardown := func() {
		close(stop)
		c.Disconnect(context.Background())
	}
	return c, engine, teardown, nil
}
