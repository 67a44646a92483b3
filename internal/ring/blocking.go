package ring

import (
	"sync"
	"sync/atomic"

	"github.com/castlefs/castle-client/internal/uapi"
)

// BlockingCall mirrors the engine's blocking-call record: a completion
// flag, the settled error/length/token, guarded by a condition variable
// a waiting caller blocks on.
type BlockingCall struct {
	mu        sync.Mutex
	cond      *sync.Cond
	completed bool
	result    ResponseSummary
}

func newBlockingCall() *BlockingCall {
	bc := &BlockingCall{}
	bc.cond = sync.NewCond(&bc.mu)
	return bc
}

func (bc *BlockingCall) settle(r ResponseSummary) {
	bc.mu.Lock()
	bc.result = r
	bc.completed = true
	bc.cond.Broadcast()
	bc.mu.Unlock()
}

// Wait blocks until the call completes (engine response or synthetic
// disconnect) and returns its settled result. A CodeUnattached error
// additionally returns ErrUnattached so callers can type-switch without
// inspecting the numeric code.
func (bc *BlockingCall) Wait() (ResponseSummary, error) {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	for !bc.completed {
		bc.cond.Wait()
	}
	if bc.result.Err == CodeUnattached {
		return bc.result, ErrUnattached
	}
	return bc.result, nil
}

// SubmitBlocking submits a single request and returns a BlockingCall the
// caller waits on for the settled result.
func (r *Ring) SubmitBlocking(req uapi.RequestRecord) (*BlockingCall, error) {
	bc := newBlockingCall()
	cb := func(resp uapi.ResponseRecord, _ any) {
		bc.settle(ResponseSummary{Err: resp.Err, Length: resp.Length, Token: resp.Token})
	}
	if err := r.Submit([]uapi.RequestRecord{req}, []Callback{cb}, []any{nil}); err != nil {
		return nil, err
	}
	return bc, nil
}

// SubmitBlockingMulti submits n requests sharing one BlockingCall: Wait
// returns once every response has settled, with the first non-zero
// error observed across the batch.
func (r *Ring) SubmitBlockingMulti(requests []uapi.RequestRecord) (*BlockingCall, error) {
	n := len(requests)
	bc := newBlockingCall()
	remaining := int32(n)
	var firstErr int32

	callbacks := make([]Callback, n)
	userdatas := make([]any, n)
	for i := range requests {
		callbacks[i] = func(resp uapi.ResponseRecord, _ any) {
			casFirstErr(&firstErr, resp.Err)
			if atomic.AddInt32(&remaining, -1) == 0 {
				bc.settle(ResponseSummary{Err: atomic.LoadInt32(&firstErr)})
			}
		}
		userdatas[i] = nil
	}
	if err := r.Submit(requests, callbacks, userdatas); err != nil {
		return nil, err
	}
	return bc, nil
}
