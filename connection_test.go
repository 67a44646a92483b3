package castle

import (
	"context"
	"testing"

	"github.com/castlefs/castle-client/internal/constants"
	"github.com/stretchr/testify/require"
)

func TestConnectionLifecycleStartsOpen(t *testing.T) {
	c, _, stop, err := NewTestConnection(nil)
	require.NoError(t, err)
	defer stop()

	require.Equal(t, StateOpen, c.State())
}

func TestDisconnectTransitionsToClosed(t *testing.T) {
	c, _, stop, err := NewTestConnection(nil)
	require.NoError(t, err)
	defer stop()

	require.NoError(t, c.Disconnect(context.Background()))
	require.Equal(t, StateClosed, c.State())
}

func TestDisconnectIsIdempotent(t *testing.T) {
	c, _, stop, err := NewTestConnection(nil)
	require.NoError(t, err)
	defer stop()

	require.NoError(t, c.Disconnect(context.Background()))
	require.NoError(t, c.Disconnect(context.Background()))
	require.Equal(t, StateClosed, c.State())
}

func TestSubmitAfterDisconnectFailsUnattached(t *testing.T) {
	c, _, stop, err := NewTestConnection(nil)
	require.NoError(t, err)
	defer stop()

	require.NoError(t, c.Disconnect(context.Background()))
	err = c.Replace(1, nil, []byte("v"))
	require.Error(t, err)
	require.True(t, IsCode(err, ErrCodeUnattached))
}

func TestNextStatefulTokenNeverZero(t *testing.T) {
	c, _, stop, err := NewTestConnection(nil)
	require.NoError(t, err)
	defer stop()

	for i := 0; i < 10; i++ {
		require.NotZero(t, c.nextStatefulToken())
	}
}

func TestCheckProtocolVersionAcceptsMatch(t *testing.T) {
	require.NoError(t, checkProtocolVersion(uint32(constants.ProtocolVersion)))
}

func TestCheckProtocolVersionRejectsMismatch(t *testing.T) {
	err := checkProtocolVersion(uint32(constants.ProtocolVersion) - 1)
	require.Error(t, err)
	require.True(t, IsCode(err, ErrCodeNoProtocol))
}

func TestReservedSlotsStartsAtNStateful(t *testing.T) {
	c, _, stop, err := NewTestConnection(nil)
	require.NoError(t, err)
	defer stop()

	require.Equal(t, int32(constants.NStateful), c.ReservedSlots())
}
