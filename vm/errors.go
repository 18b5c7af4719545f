package vm

import "fmt"

// Engine return codes. They classify execution failures the same way the
// run loop reports them internally: a generic engine error, an operand that
// escaped the validator, and an opcode with no handler.
const (
	codeOK         = 0
	codeEngine     = -1
	codeBadOperand = -2
	codeBadOpcode  = -3
)

// ValidationError reports a malformed program. PC is the byte offset of the
// offending instruction or operand; -1 when the fault is not positional
// (for example a bad program length).
type ValidationError struct {
	PC   int
	Rule string
}

func (e *ValidationError) Error() string {
	if e.PC < 0 {
		return fmt.Sprintf("invalid program: %s", e.Rule)
	}
	return fmt.Sprintf("invalid program: %s at %d", e.Rule, e.PC)
}

// UnsupportedConfigError reports a caller/runtime mismatch that validation
// cannot catch: wrong input count, oversized register file, or a reduction
// requested under parallel execution.
type UnsupportedConfigError struct {
	Msg string
}

func (e *UnsupportedConfigError) Error() string { return e.Msg }

// AllocationError reports a failed temporary-buffer allocation. Any buffers
// already allocated for the call have been released.
type AllocationError struct {
	Register int
	Bytes    int
}

func (e *AllocationError) Error() string {
	return fmt.Sprintf("cannot allocate %d bytes for temporary register %d", e.Bytes, e.Register)
}

// RunError reports a failure inside the execution engine. Code is one of the
// engine return codes; PC is the failing program counter where applicable.
type RunError struct {
	Code int
	PC   int
	Msg  string
}

func (e *RunError) Error() string {
	switch e.Code {
	case codeBadOperand:
		return fmt.Sprintf("bad argument at pc=%d", e.PC)
	case codeBadOpcode:
		return fmt.Sprintf("bad opcode at pc=%d", e.PC)
	case codeEngine:
		if e.Msg != "" {
			return e.Msg
		}
		return "an error occurred while running the program"
	default:
		return "unknown error occurred while running the program"
	}
}

func runErr(code, pc int, msg string) error {
	if code == codeOK {
		return nil
	}
	return &RunError{Code: code, PC: pc, Msg: msg}
}
