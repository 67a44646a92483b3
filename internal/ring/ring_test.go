package ring

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/castlefs/castle-client/internal/logging"
	"github.com/castlefs/castle-client/internal/uapi"
)

func memfd(t *testing.T, size int) int {
	t.Helper()
	fd, err := unix.MemfdCreate("ring-test", 0)
	require.NoError(t, err)
	require.NoError(t, unix.Ftruncate(fd, int64(size)))
	t.Cleanup(func() { _ = unix.Close(fd) })
	return fd
}

func newTestRing(t *testing.T, capacity uint32, nStateful int) *Ring {
	t.Helper()
	fd := memfd(t, uapi.SizeRingHeader+int(capacity)*(uapi.SizeRequestRecord+uapi.SizeResponseRecord))
	logger := logging.NewLogger(&logging.Config{Level: logging.LevelError})
	r, err := New(fd, capacity, nStateful, nil, logger, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

// fakeEngineRespondAll plays the engine side of the ring: it consumes
// every newly published request and immediately publishes a success
// response for it, waking the completion thread the same way the real
// device's poll readiness would.
func fakeEngineRespondAll(t *testing.T, r *Ring, stop <-chan struct{}) {
	t.Helper()
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
			}
			reqProd := atomic.LoadUint32(r.reqProdAddr())
			reqCons := atomic.LoadUint32(r.reqConsAddr())
			for reqCons != reqProd {
				req := requestAt(r, reqCons)
				rsp := uapi.ResponseRecord{CallID: req.CallID, Err: 0, Length: 0, Token: req.Token}
				uapi.MarshalResponse(r.responseSlot(reqCons), &rsp)
				reqCons++
				atomic.StoreUint32(r.reqConsAddr(), reqCons)
				atomic.AddUint32(r.rspProdAddr(), 1)
				_, _ = unix.Write(r.WakeWriteFd(), []byte{0})
			}
			time.Sleep(time.Millisecond)
		}
	}()
}

func requestAt(r *Ring, idx uint32) uapi.RequestRecord {
	return uapi.UnmarshalRequest(r.requestSlot(idx))
}

func TestReservationInvariantAtRest(t *testing.T) {
	r := newTestRing(t, 128, 64)
	require.Equal(t, int32(64), r.Reserved())
	for i := 0; i < 64; i++ {
		require.Equal(t, int32(0), r.Outstanding(i))
	}
}

func TestSubmitStatelessRoundTrip(t *testing.T) {
	r := newTestRing(t, 128, 64)
	stop := make(chan struct{})
	defer close(stop)
	fakeEngineRespondAll(t, r, stop)

	var mu sync.Mutex
	var got uapi.ResponseRecord
	done := make(chan struct{})
	cb := func(resp uapi.ResponseRecord, _ any) {
		mu.Lock()
		got = resp
		mu.Unlock()
		close(done)
	}

	req := uapi.RequestRecord{Tag: uapi.TagGet}
	require.NoError(t, r.Submit([]uapi.RequestRecord{req}, []Callback{cb}, []any{nil}))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("response not delivered")
	}
	mu.Lock()
	require.Equal(t, int32(0), got.Err)
	mu.Unlock()
}

func TestReservationCrossesZeroUnderStatefulOp(t *testing.T) {
	r := newTestRing(t, 128, 64)
	stop := make(chan struct{})
	defer close(stop)
	fakeEngineRespondAll(t, r, stop)

	token := uint32(1) // never zero, slot 1 % 64 == 1

	var wg sync.WaitGroup
	wg.Add(1)
	cb := func(resp uapi.ResponseRecord, _ any) { wg.Done() }

	req := uapi.RequestRecord{Tag: uapi.TagIterStart, Token: token}
	require.NoError(t, r.Submit([]uapi.RequestRecord{req}, []Callback{cb}, []any{nil}))

	require.Eventually(t, func() bool {
		return r.Outstanding(tokenSlot(token, 64)) == 0
	}, 2*time.Second, time.Millisecond)
	wg.Wait()

	// Once the single outstanding continuation on this token completes,
	// the slot returns to zero and the reservation counter is restored.
	require.Equal(t, int32(64), r.Reserved())
}

func TestCloseSynthesizesUnattachedForInFlight(t *testing.T) {
	r := newTestRing(t, 128, 64)
	// No fake engine response: the request sits in flight until Close.

	var gotErr int32
	done := make(chan struct{})
	cb := func(resp uapi.ResponseRecord, _ any) {
		gotErr = resp.Err
		close(done)
	}

	req := uapi.RequestRecord{Tag: uapi.TagGet}
	require.NoError(t, r.Submit([]uapi.RequestRecord{req}, []Callback{cb}, []any{nil}))

	require.NoError(t, r.Close())

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("synthetic completion not delivered on close")
	}
	require.Equal(t, CodeUnattached, gotErr)
}

func TestSubmitAfterCloseFails(t *testing.T) {
	r := newTestRing(t, 128, 64)
	require.NoError(t, r.Close())

	req := uapi.RequestRecord{Tag: uapi.TagGet}
	err := r.Submit([]uapi.RequestRecord{req}, []Callback{func(uapi.ResponseRecord, any) {}}, []any{nil})
	require.ErrorIs(t, err, ErrUnattached)
}
