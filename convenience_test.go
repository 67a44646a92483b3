package castle

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/castlefs/castle-client/internal/codec"
)

func TestReplaceThenGetRoundTrip(t *testing.T) {
	c, _, stop, err := NewTestConnection(nil)
	require.NoError(t, err)
	defer stop()

	key := codec.FromStrings("users", "42")
	require.NoError(t, c.Replace(1, key, []byte("hello")))

	val, err := c.Get(1, key)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), val)
}

func TestGetMissingKeyReturnsNotFound(t *testing.T) {
	c, _, stop, err := NewTestConnection(nil)
	require.NoError(t, err)
	defer stop()

	_, err = c.Get(1, codec.FromStrings("missing"))
	require.Error(t, err)
	require.True(t, IsCode(err, ErrCodeNotFound))
}

func TestRemoveDeletesKey(t *testing.T) {
	c, _, stop, err := NewTestConnection(nil)
	require.NoError(t, err)
	defer stop()

	key := codec.FromStrings("users", "42")
	require.NoError(t, c.Replace(1, key, []byte("hello")))
	require.NoError(t, c.Remove(1, key))

	_, err = c.Get(1, key)
	require.True(t, IsCode(err, ErrCodeNotFound))
}

func TestCounterSetThenAdd(t *testing.T) {
	c, engine, stop, err := NewTestConnection(nil)
	require.NoError(t, err)
	defer stop()

	key := codec.FromStrings("views", "home")
	require.NoError(t, c.CounterSet(1, key, 10))
	require.NoError(t, c.CounterAdd(1, key, 5))

	encoded, err := codec.BuildKey(key)
	require.NoError(t, err)

	engine.mu.Lock()
	got := engine.counters[string(encoded)]
	engine.mu.Unlock()
	require.Equal(t, int64(15), got)
}
