package shmbuf

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

// devZero stands in for the connection's device fd: like the real
// character device, mmap'ing it shared read-write hands back zeroed,
// writable pages.
func openDevZero(t *testing.T) int {
	t.Helper()
	f, err := os.OpenFile("/dev/zero", os.O_RDWR, 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	return int(f.Fd())
}

func TestAllocateAndFree(t *testing.T) {
	fd := openDevZero(t)

	buf, err := Allocate(fd, 4096)
	require.NoError(t, err)
	require.NotNil(t, buf.Ptr)
	require.Equal(t, 4096, buf.Len)

	data := buf.Bytes()
	data[0] = 0x42
	require.Equal(t, byte(0x42), buf.Bytes()[0])

	require.NoError(t, buf.Free())
}

func TestAllocateRejectsZeroSize(t *testing.T) {
	fd := openDevZero(t)
	_, err := Allocate(fd, 0)
	require.Error(t, err)
}
