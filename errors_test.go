package castle

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStructuredErrorMessage(t *testing.T) {
	err := newError("Get", ErrCodeInvalidParameters, "empty key")
	require.Equal(t, "Get", err.Op)
	require.Equal(t, ErrCodeInvalidParameters, err.Code)
	require.Equal(t, "castle: empty key (op=Get)", err.Error())
}

func TestWrapEngineErrorClassifiesNotFound(t *testing.T) {
	err := wrapEngineError("Get", -2)
	require.Equal(t, ErrCodeNotFound, err.Code)
	require.Equal(t, int32(-2), err.Engine)
}

func TestWrapEngineErrorClassifiesUnattached(t *testing.T) {
	err := wrapEngineError("Replace", -1000)
	require.Equal(t, ErrCodeUnattached, err.Code)
}

func TestWrapEngineErrorFallsBackToGeneric(t *testing.T) {
	err := wrapEngineError("Replace", -999)
	require.Equal(t, ErrCodeEngine, err.Code)
}

func TestIsCode(t *testing.T) {
	err := newError("Get", ErrCodeNotFound, "missing")
	require.True(t, IsCode(err, ErrCodeNotFound))
	require.False(t, IsCode(err, ErrCodeEngine))
	require.False(t, IsCode(errors.New("plain"), ErrCodeNotFound))
}

func TestErrorIsMatchesByCode(t *testing.T) {
	a := newError("Get", ErrCodeNotFound, "missing")
	b := newError("Remove", ErrCodeNotFound, "also missing")
	require.True(t, errors.Is(a, b))
}

func TestErrorUnwrap(t *testing.T) {
	inner := errors.New("boom")
	wrapped := &Error{Op: "Get", Code: ErrCodeEngine, Inner: inner}
	require.ErrorIs(t, wrapped, inner)
}
