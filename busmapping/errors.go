package busmapping

import (
	"fmt"

	"github.com/zkevmlab/zkevm-go/evm"
)

// TraceErrorKind classifies fatal inconsistencies found while replaying a
// trace.
type TraceErrorKind uint8

const (
	// TraceInconsistency means the trace violates an EVM invariant the
	// replay relies on (gas increasing, operand count mismatch, impossible
	// depth change).
	TraceInconsistency TraceErrorKind = iota
	// TraceTruncated means the trace ended mid-frame.
	TraceTruncated
)

func (k TraceErrorKind) String() string {
	switch k {
	case TraceInconsistency:
		return "trace inconsistency"
	case TraceTruncated:
		return "trace truncated"
	}
	return "unknown trace error"
}

// TraceError aborts the build of the affected transaction; a circuit built
// from an inconsistent trace would be unsound, so there is no partial
// recovery.
type TraceError struct {
	Kind   TraceErrorKind
	PC     uint64
	Op     evm.OpCode
	Reason string
}

func (e *TraceError) Error() string {
	return fmt.Sprintf("%s at pc=%d op=%s: %s", e.Kind, e.PC, e.Op, e.Reason)
}

func traceErr(kind TraceErrorKind, pc uint64, op evm.OpCode, format string, args ...interface{}) *TraceError {
	return &TraceError{Kind: kind, PC: pc, Op: op, Reason: fmt.Sprintf(format, args...)}
}

// UnsupportedOpcodeError is returned when the trace contains an opcode with
// no registered handler. The build fails rather than emitting an empty
// operation set for the step.
type UnsupportedOpcodeError struct {
	Op evm.OpCode
	PC uint64
}

func (e *UnsupportedOpcodeError) Error() string {
	return fmt.Sprintf("unsupported opcode %s at pc=%d", e.Op, e.PC)
}
