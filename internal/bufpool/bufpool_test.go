package bufpool

import (
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func openDevZero(t *testing.T) int {
	t.Helper()
	f, err := os.OpenFile("/dev/zero", os.O_RDWR, 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	return int(f.Fd())
}

func TestLeaseReturnsAtLeastRequestedSize(t *testing.T) {
	fd := openDevZero(t)
	p, err := New(fd, []int{4096, 16384}, []int{1, 1})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Destroy() })

	buf, err := p.Lease(5000)
	require.NoError(t, err)
	require.GreaterOrEqual(t, buf.Len, 5000)
	require.Equal(t, 16384, buf.Len)
}

func TestReleaseThenLeaseDoesNotBlock(t *testing.T) {
	fd := openDevZero(t)
	p, err := New(fd, []int{4096}, []int{1})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Destroy() })

	buf, err := p.Lease(4096)
	require.NoError(t, err)
	require.NoError(t, p.Release(buf))

	done := make(chan struct{})
	go func() {
		_, err := p.Lease(4096)
		require.NoError(t, err)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lease blocked after release with no competing lessee")
	}
}

func TestLeaseBlocksUntilRelease(t *testing.T) {
	fd := openDevZero(t)
	p, err := New(fd, []int{4096}, []int{1})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Destroy() })

	held, err := p.Lease(4096)
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	leased := make(chan struct{})
	go func() {
		defer wg.Done()
		_, err := p.Lease(4096)
		require.NoError(t, err)
		close(leased)
	}()

	select {
	case <-leased:
		t.Fatal("lease should have blocked with no free buffers")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, p.Release(held))
	wg.Wait()
}

func TestLeaseOversizeFails(t *testing.T) {
	fd := openDevZero(t)
	p, err := New(fd, []int{4096}, []int{1})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Destroy() })

	_, err = p.Lease(1 << 20)
	require.Error(t, err)
}
