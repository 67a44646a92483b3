package ctrl

import "fmt"

// CommandError reports a non-zero return code from a control command.
type CommandError struct {
	Op  Opcode
	Ret int32
}

func newErrnoError(op Opcode, ret int32) *CommandError {
	return &CommandError{Op: op, Ret: ret}
}

func (e *CommandError) Error() string {
	name := fmt.Sprintf("opcode %d", e.Op)
	if spec, ok := specFor(e.Op); ok {
		name = spec.Name
	}
	return fmt.Sprintf("ctrl: %s returned %d", name, e.Ret)
}
