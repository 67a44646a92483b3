package ring

import (
	"sync/atomic"

	"github.com/castlefs/castle-client/internal/uapi"
)

// BatchCallback receives the final response of a batch submission, with
// Err overridden by the first non-zero error seen across the batch (if
// any), once every response in the batch has been drained.
type BatchCallback func(final ResponseSummary, userdata any)

// ResponseSummary is the subset of a response a caller needs once a
// batch or blocking call has settled.
type ResponseSummary struct {
	Err    int32
	Length uint64
	Token  uint32
}

type batchState struct {
	remaining int32
	firstErr  int32
	last      ResponseSummary
	cb        BatchCallback
	userdata  any
}

func casFirstErr(firstErr *int32, err int32) {
	if err == 0 {
		return
	}
	atomic.CompareAndSwapInt32(firstErr, 0, err)
}

// SubmitBatch submits requests as one batch sharing a single user
// callback: the callback fires exactly once, after every response has
// been consumed from the ring, with the first non-zero error observed
// across the batch (if any) overriding the final response's error.
func (r *Ring) SubmitBatch(requests []uapi.RequestRecord, cb BatchCallback, userdata any) error {
	n := len(requests)
	state := &batchState{remaining: int32(n), cb: cb, userdata: userdata}

	callbacks := make([]Callback, n)
	userdatas := make([]any, n)
	for i := range requests {
		callbacks[i] = func(resp uapi.ResponseRecord, _ any) {
			r.batchTrampoline(state, resp)
		}
		userdatas[i] = nil
	}
	return r.Submit(requests, callbacks, userdatas)
}

func (r *Ring) batchTrampoline(s *batchState, resp uapi.ResponseRecord) {
	casFirstErr(&s.firstErr, resp.Err)
	s.last = ResponseSummary{Err: resp.Err, Length: resp.Length, Token: resp.Token}

	if atomic.AddInt32(&s.remaining, -1) == 0 {
		final := s.last
		if fe := atomic.LoadInt32(&s.firstErr); fe != 0 {
			final.Err = fe
		}
		s.cb(final, s.userdata)
	}
}
