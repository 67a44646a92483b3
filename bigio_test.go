package castle

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/castlefs/castle-client/internal/codec"
)

func TestBigPutThenBigGetRoundTrip(t *testing.T) {
	c, _, stop, err := NewTestConnection(nil)
	require.NoError(t, err)
	defer stop()

	payload := bytes.Repeat([]byte("abcdefgh"), 1<<17) // 1MiB, spans multiple chunks
	key := codec.FromStrings("blobs", "large")

	require.NoError(t, c.BigPut(1, key, bytes.NewReader(payload), int64(len(payload))))

	var out bytes.Buffer
	require.NoError(t, c.BigGet(1, key, &out, int64(len(payload))))
	require.Equal(t, payload, out.Bytes())
}

func TestBigPutSmallerThanOneChunk(t *testing.T) {
	c, _, stop, err := NewTestConnection(nil)
	require.NoError(t, err)
	defer stop()

	payload := []byte("small value")
	key := codec.FromStrings("blobs", "small")

	require.NoError(t, c.BigPut(1, key, bytes.NewReader(payload), int64(len(payload))))

	var out bytes.Buffer
	require.NoError(t, c.BigGet(1, key, &out, int64(len(payload))))
	require.Equal(t, payload, out.Bytes())
}
