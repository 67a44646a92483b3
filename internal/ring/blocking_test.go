package ring

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/castlefs/castle-client/internal/uapi"
)

func TestSubmitBlockingSucceeds(t *testing.T) {
	r := newTestRing(t, 128, 64)
	stop := make(chan struct{})
	defer close(stop)
	fakeEngineRespondAll(t, r, stop)

	bc, err := r.SubmitBlocking(uapi.RequestRecord{Tag: uapi.TagGet})
	require.NoError(t, err)

	result, err := bc.Wait()
	require.NoError(t, err)
	require.Equal(t, int32(0), result.Err)
}

func TestSubmitBlockingUnattachedOnClose(t *testing.T) {
	r := newTestRing(t, 128, 64)

	bc, err := r.SubmitBlocking(uapi.RequestRecord{Tag: uapi.TagGet})
	require.NoError(t, err)

	require.NoError(t, r.Close())

	_, err = bc.Wait()
	require.ErrorIs(t, err, ErrUnattached)
}

func TestSubmitBlockingMultiWaitsForAll(t *testing.T) {
	r := newTestRing(t, 128, 64)
	stop := make(chan struct{})
	defer close(stop)
	fakeEngineRespondAll(t, r, stop)

	reqs := []uapi.RequestRecord{
		{Tag: uapi.TagGet},
		{Tag: uapi.TagGet},
		{Tag: uapi.TagGet},
	}
	bc, err := r.SubmitBlockingMulti(reqs)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		_, _ = bc.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("blocking multi did not settle")
	}
}

func TestSubmitBlockingMultiCapturesFirstError(t *testing.T) {
	r := newTestRing(t, 128, 64)
	stop := make(chan struct{})
	defer close(stop)

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
				errCode := int32(0)
				if reqCons%2 == 1 {
					errCode = -5
				}
				rsp := uapi.ResponseRecord{CallID: req.CallID, Err: errCode, Token: req.Token}
				uapi.MarshalResponse(r.responseSlot(reqCons), &rsp)
				reqCons++
				atomic.StoreUint32(r.reqConsAddr(), reqCons)
				atomic.AddUint32(r.rspProdAddr(), 1)
				_, _ = unix.Write(r.WakeWriteFd(), []byte{0})
			}
			time.Sleep(time.Millisecond)
		}
	}()

	reqs := []uapi.RequestRecord{{Tag: uapi.TagGet}, {Tag: uapi.TagGet}}
	bc, err := r.SubmitBlockingMulti(reqs)
	require.NoError(t, err)

	result, err := bc.Wait()
	require.NoError(t, err)
	require.Equal(t, int32(-5), result.Err)
}
