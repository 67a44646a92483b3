package castle

import (
	"errors"
	"fmt"
)

// Error represents a structured Castle client error with call context
// and an engine error-code mapping.
type Error struct {
	Op         string    // operation that failed (e.g. "Get", "Replace", "IterNext")
	Collection uint32    // collection ID, 0 if not applicable
	Token      uint32    // stateful-op token, 0 if not applicable
	Code       ErrorCode // high-level error category
	Engine     int32     // raw engine return/errno code, 0 if not applicable
	Msg        string    // human-readable message
	Inner      error     // wrapped error
}

func (e *Error) Error() string {
	var parts []string
	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}
	if e.Collection != 0 {
		parts = append(parts, fmt.Sprintf("collection=%d", e.Collection))
	}
	if e.Engine != 0 {
		parts = append(parts, fmt.Sprintf("engine=%d", e.Engine))
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}
	if len(parts) > 0 {
		return fmt.Sprintf("castle: %s (%s)", msg, parts[0])
	}
	return fmt.Sprintf("castle: %s", msg)
}

func (e *Error) Unwrap() error { return e.Inner }

func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}
	switch target {
	case ErrNotFound:
		return e.Code == ErrCodeNotFound
	case ErrUnattached:
		return e.Code == ErrCodeUnattached
	case ErrInvalidKey:
		return e.Code == ErrCodeInvalidKey
	case ErrIterComplete:
		return e.Code == ErrCodeIterationComplete
	}
	return false
}

// ErrorCode represents a high-level error category, independent of the
// engine's raw numeric return code.
type ErrorCode string

const (
	ErrCodeNotFound          ErrorCode = "key not found"
	ErrCodeUnattached        ErrorCode = "connection unattached"
	ErrCodeInvalidKey        ErrorCode = "invalid key"
	ErrCodeInvalidParameters ErrorCode = "invalid parameters"
	ErrCodeCollectionUnknown ErrorCode = "unknown collection"
	ErrCodeVersionConflict   ErrorCode = "version conflict"
	ErrCodeBufferTooSmall    ErrorCode = "buffer too small"
	ErrCodeIterationComplete ErrorCode = "iteration complete"
	ErrCodeEngine            ErrorCode = "engine error"
	ErrCodeNoProtocol        ErrorCode = "no-protocol"
)

// Sentinel errors for errors.Is comparisons that don't need the full
// *Error context.
var (
	ErrNotFound       = errors.New("castle: key not found")
	ErrUnattached     = errors.New("castle: connection unattached")
	ErrInvalidKey     = errors.New("castle: invalid key")
	ErrIterComplete   = errors.New("castle: iteration complete")
)

func newError(op string, code ErrorCode, msg string) *Error {
	return &Error{Op: op, Code: code, Msg: msg}
}

func wrapEngineError(op string, engineCode int32) *Error {
	return &Error{
		Op:     op,
		Code:   classifyEngineCode(engineCode),
		Engine: engineCode,
		Msg:    fmt.Sprintf("engine returned %d", engineCode),
	}
}

// classifyEngineCode maps the engine's raw return codes (negative errno
// values, or the synthetic CodeUnattached from a torn-down ring) onto
// ErrorCode categories.
func classifyEngineCode(code int32) ErrorCode {
	switch code {
	case 0:
		return ""
	case -2: // ENOENT
		return ErrCodeNotFound
	case -22: // EINVAL
		return ErrCodeInvalidParameters
	case -1000: // ring.CodeUnattached
		return ErrCodeUnattached
	default:
		return ErrCodeEngine
	}
}

// IsCode reports whether err is a *Error with the given code.
func IsCode(err error, code ErrorCode) bool {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code == code
	}
	return false
}
