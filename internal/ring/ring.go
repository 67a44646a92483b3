// Package ring implements the asynchronous request/response transport:
// the shared-memory ring discipline, the callback/token accounting that
// makes stateful multi-chunk operations safe under bounded ring
// capacity, and the completion thread that drains responses and
// dispatches callbacks.
package ring

import (
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/eapache/queue"
	"golang.org/x/sys/unix"

	"github.com/castlefs/castle-client/internal/constants"
	"github.com/castlefs/castle-client/internal/interfaces"
	"github.com/castlefs/castle-client/internal/logging"
	"github.com/castlefs/castle-client/internal/shmbuf"
	"github.com/castlefs/castle-client/internal/uapi"
)

// Callback is invoked by the completion thread for each response. It
// must not block and must not re-enter blocking APIs on the same
// connection.
type Callback func(resp uapi.ResponseRecord, userdata any)

type slotEntry struct {
	callback Callback
	userdata any
	token    uint32
	inUse    bool
}

// Poker notifies the engine that new requests are available when it was
// previously caught up. It bypasses the ring entirely. Connection's
// implementation writes one doorbell byte to the device fd; it issues no
// ioctl and does not go through internal/ctrl.
type Poker func() error

// Ring owns the mmap'd request/response ring and everything needed to
// submit requests and dispatch their responses: the callback-slot table,
// the stateful reservation counters, and the completion thread.
type Ring struct {
	buf        *shmbuf.Buffer
	data       []byte
	capacity   uint32
	nStateful  int
	reqArrOff  int
	rspArrOff  int
	reqProdPvt uint32 // client-private producer index; mirrors header.ReqProd once published

	mu            sync.Mutex // guards ring-index arithmetic and admission
	admissionCond *sync.Cond

	freeMu   sync.Mutex
	freeList *queue.Queue
	slots    []slotEntry

	outstanding []int32
	reserved    int32

	poke     Poker
	logger   *logging.Logger
	observer interfaces.Observer

	fd          int
	wakeR       int
	wakeW       int
	closed      int32
	wg          sync.WaitGroup
}

// New maps a ring of the given capacity (must be a power of two) over
// fd, sized to hold capacity request slots and capacity response slots
// plus the shared header, and allocates a callback-slot table with
// exactly capacity entries (one per potential in-flight request).
func New(fd int, capacity uint32, nStateful int, poke Poker, logger *logging.Logger, observer interfaces.Observer) (*Ring, error) {
	if capacity == 0 || capacity&(capacity-1) != 0 {
		return nil, fmt.Errorf("ring: capacity must be a power of two, got %d", capacity)
	}
	total := uapi.SizeRingHeader + int(capacity)*uapi.SizeRequestRecord + int(capacity)*uapi.SizeResponseRecord
	buf, err := shmbuf.Allocate(fd, total)
	if err != nil {
		return nil, fmt.Errorf("ring: mapping ring region: %w", err)
	}

	header := uapi.RingHeader{Capacity: capacity}
	uapi.MarshalRingHeader(buf.Bytes()[:uapi.SizeRingHeader], &header)

	wakeFds := make([]int, 2)
	if err := unix.Pipe2(wakeFds, unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		_ = buf.Free()
		return nil, fmt.Errorf("ring: creating wake pipe: %w", err)
	}

	r := &Ring{
		buf:         buf,
		data:        buf.Bytes(),
		capacity:    capacity,
		nStateful:   nStateful,
		reqArrOff:   uapi.SizeRingHeader,
		rspArrOff:   uapi.SizeRingHeader + int(capacity)*uapi.SizeRequestRecord,
		freeList:    queue.New(),
		slots:       make([]slotEntry, capacity),
		outstanding: make([]int32, nStateful),
		reserved:    int32(nStateful),
		poke:        poke,
		logger:      logger,
		observer:    observer,
		fd:          fd,
		wakeR:       wakeFds[0],
		wakeW:       wakeFds[1],
	}
	r.admissionCond = sync.NewCond(&r.mu)
	for i := uint32(0); i < capacity; i++ {
		r.freeList.Add(i)
	}

	r.wg.Add(1)
	go r.completionLoop()
	return r, nil
}

func (r *Ring) reqProdAddr() *uint32 { return (*uint32)(unsafe.Pointer(&r.data[4])) }
func (r *Ring) reqConsAddr() *uint32 { return (*uint32)(unsafe.Pointer(&r.data[8])) }
func (r *Ring) rspProdAddr() *uint32 { return (*uint32)(unsafe.Pointer(&r.data[12])) }
func (r *Ring) rspConsAddr() *uint32 { return (*uint32)(unsafe.Pointer(&r.data[16])) }

func (r *Ring) requestSlot(idx uint32) []byte {
	off := r.reqArrOff + int(idx%r.capacity)*uapi.SizeRequestRecord
	return r.data[off : off+uapi.SizeRequestRecord]
}

func (r *Ring) responseSlot(idx uint32) []byte {
	off := r.rspArrOff + int(idx%r.capacity)*uapi.SizeResponseRecord
	return r.data[off : off+uapi.SizeResponseRecord]
}

func tokenSlot(token uint32, nStateful int) int {
	return int(token) % nStateful
}

// freeSlotsLocked returns how many ring slots are currently unoccupied.
// Must be called with mu held.
func (r *Ring) freeSlotsLocked() uint32 {
	reqCons := atomic.LoadUint32(r.reqConsAddr())
	occupied := r.reqProdPvt - reqCons
	return r.capacity - occupied
}

// admissibleLocked implements the admission rule of the stateful
// reservation scheme. Must be called with mu held.
func (r *Ring) admissibleLocked(token uint32) bool {
	i := tokenSlot(token, r.nStateful)
	if token != 0 && atomic.LoadInt32(&r.outstanding[i]) > 0 {
		return r.freeSlotsLocked() > 0
	}
	return r.freeSlotsLocked() > uint32(atomic.LoadInt32(&r.reserved))
}

// Submit admits and submits requests[0..n) in order, assigning each a
// callback slot and publishing them to the ring under a single
// acquisition of the submission mutex. It blocks on the admission
// condition while a given request is not yet admissible.
func (r *Ring) Submit(requests []uapi.RequestRecord, callbacks []Callback, userdatas []any) error {
	if len(requests) != len(callbacks) || len(requests) != len(userdatas) {
		return fmt.Errorf("ring: requests/callbacks/userdatas length mismatch")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if atomic.LoadInt32(&r.closed) != 0 {
		return ErrUnattached
	}

	prevProd := r.reqProdPvt
	prevCons := atomic.LoadUint32(r.reqConsAddr())
	engineWasIdle := prevProd == prevCons

	for i := range requests {
		req := &requests[i]
		for !r.admissibleLocked(req.Token) {
			if atomic.LoadInt32(&r.closed) != 0 {
				return ErrUnattached
			}
			r.admissionCond.Wait()
		}

		slotIdx, err := r.acquireSlot(callbacks[i], userdatas[i], req.Token)
		if err != nil {
			return err
		}
		req.CallID = slotIdx

		if req.Token != 0 {
			ti := tokenSlot(req.Token, r.nStateful)
			prev := atomic.AddInt32(&r.outstanding[ti], 1)
			if prev-1 == 0 {
				atomic.AddInt32(&r.reserved, -1)
			}
		}

		uapi.MarshalRequest(r.requestSlot(r.reqProdPvt), req)
		r.reqProdPvt++
	}

	atomic.StoreUint32(r.reqProdAddr(), r.reqProdPvt)

	if engineWasIdle && r.poke != nil {
		if err := r.poke(); err != nil {
			r.logger.Warn("poke failed", "err", err)
		}
	}
	return nil
}

// acquireSlot detaches a free callback slot and records its contents.
// Must be called with r.mu held (admission and slot assignment happen
// atomically with respect to other submitters).
func (r *Ring) acquireSlot(cb Callback, userdata any, token uint32) (uint32, error) {
	r.freeMu.Lock()
	defer r.freeMu.Unlock()

	if r.freeList.Length() == 0 {
		// Invariant violation: admission guaranteed a free slot exists.
		panic("ring: callback-slot free list empty under a held reservation")
	}
	idx := r.freeList.Remove().(uint32)
	r.slots[idx] = slotEntry{callback: cb, userdata: userdata, token: token, inUse: true}
	return idx, nil
}

func (r *Ring) releaseSlot(idx uint32) {
	r.freeMu.Lock()
	r.slots[idx] = slotEntry{}
	r.freeList.Add(idx)
	r.freeMu.Unlock()
}

// completionLoop is the connection's single long-lived completion
// thread: it multiplex-waits on {device fd, wake pipe}, drains
// responses, dispatches callbacks, and updates reservation counters.
func (r *Ring) completionLoop() {
	defer r.wg.Done()

	fds := []unix.PollFd{
		{Fd: int32(r.fd), Events: unix.POLLIN},
		{Fd: int32(r.wakeR), Events: unix.POLLIN},
	}

	for {
		if atomic.LoadInt32(&r.closed) != 0 {
			r.drainExit()
			return
		}

		_, err := unix.Poll(fds, int(constants.PollTimeout/1_000_000))
		if err != nil && err != unix.EINTR {
			r.logger.Error("completion thread poll failed", "err", err)
		}

		// Drain the wake pipe so poll doesn't busy-spin.
		var scratch [64]byte
		for {
			n, _ := unix.Read(r.wakeR, scratch[:])
			if n <= 0 {
				break
			}
		}

		r.drainResponses()

		if atomic.LoadInt32(&r.closed) != 0 {
			r.drainExit()
			return
		}
	}
}

// drainResponses implements the engine → client half of one completion
// pass: read rsp_prod, process every newly-published response, write
// rsp_cons back, then re-check for responses published during the drain
// (the standard ring final-check pattern).
func (r *Ring) drainResponses() {
	for {
		rspCons := atomic.LoadUint32(r.rspConsAddr())
		rspProd := atomic.LoadUint32(r.rspProdAddr())
		if rspCons == rspProd {
			return
		}
		for rspCons != rspProd {
			resp := uapi.UnmarshalResponse(r.responseSlot(rspCons))
			r.dispatch(resp)
			rspCons++
		}
		atomic.StoreUint32(r.rspConsAddr(), rspCons)
		r.mu.Lock()
		r.admissionCond.Broadcast()
		r.mu.Unlock()
	}
}

func (r *Ring) dispatch(resp uapi.ResponseRecord) {
	r.freeMu.Lock()
	entry := r.slots[resp.CallID]
	r.freeMu.Unlock()

	if !entry.inUse {
		panic(fmt.Sprintf("ring: response for call_id %d names an unused callback slot", resp.CallID))
	}

	entry.callback(resp, entry.userdata)
	r.releaseSlot(resp.CallID)

	if entry.token != 0 {
		i := tokenSlot(entry.token, r.nStateful)
		newVal := atomic.AddInt32(&r.outstanding[i], -1)
		if newVal == 0 {
			atomic.AddInt32(&r.reserved, 1)
		}
	}
}

// drainExit runs synthetic "unattached" completions for every still-used
// callback slot, once the connection has begun tearing down.
func (r *Ring) drainExit() {
	r.freeMu.Lock()
	inUse := make([]uint32, 0)
	for i := range r.slots {
		if r.slots[i].inUse {
			inUse = append(inUse, uint32(i))
		}
	}
	r.freeMu.Unlock()

	for _, idx := range inUse {
		r.freeMu.Lock()
		entry := r.slots[idx]
		r.freeMu.Unlock()
		if !entry.inUse {
			continue
		}
		entry.callback(uapi.ResponseRecord{CallID: idx, Err: int32(CodeUnattached)}, entry.userdata)
		r.releaseSlot(idx)
	}
}

// Reserved returns the current reservation counter, for tests asserting
// testable property 2.
func (r *Ring) Reserved() int32 { return atomic.LoadInt32(&r.reserved) }

// Outstanding returns the outstanding-continuation counter for a given
// stateful slot index.
func (r *Ring) Outstanding(slot int) int32 { return atomic.LoadInt32(&r.outstanding[slot]) }

// RawBuffer exposes the mmap'd region for the fake-engine test harness,
// which plays the engine's side of the ring directly.
func (r *Ring) RawBuffer() []byte { return r.data }

// WakeWriteFd exposes the wake pipe's write end so the fake engine can
// nudge the completion thread after publishing responses, the same way
// the real device's poll-readiness would.
func (r *Ring) WakeWriteFd() int { return r.wakeW }

// Close transitions the ring to draining: it flags exit, wakes the
// completion thread, and waits for it to finish synthesizing
// "unattached" completions for any still in-flight callback slots.
func (r *Ring) Close() error {
	if !atomic.CompareAndSwapInt32(&r.closed, 0, 1) {
		return nil
	}
	r.mu.Lock()
	r.admissionCond.Broadcast()
	r.mu.Unlock()

	_, _ = unix.Write(r.wakeW, []byte{0})
	r.wg.Wait()

	_ = unix.Close(r.wakeR)
	_ = unix.Close(r.wakeW)
	return r.buf.Free()
}
