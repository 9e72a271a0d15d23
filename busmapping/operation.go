// Package busmapping replays raw EVM execution traces and converts them into
// the canonical ordered sequence of typed state-access operations (the bus)
// plus the per-instruction step table the circuit layers consume.
//
// The builder is a deterministic replay of the trace, not an independent EVM:
// operand and result values are taken from the trace's stack and memory
// snapshots and cross-checked, never recomputed. An internally inconsistent
// trace aborts the build with a TraceError.
package busmapping

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// RW tags an operation as a read or a write.
type RW uint8

const (
	Read RW = iota
	Write
)

func (rw RW) IsWrite() bool { return rw == Write }

func (rw RW) String() string {
	if rw == Write {
		return "WRITE"
	}
	return "READ"
}

// Target discriminates the state resource an operation touches. The RW table
// is sorted by target first, so the order here fixes the table layout.
type Target uint8

const (
	TargetStart Target = iota
	TargetStack
	TargetMemory
	TargetStorage
	TargetCallContext
)

func (t Target) String() string {
	switch t {
	case TargetStart:
		return "Start"
	case TargetStack:
		return "Stack"
	case TargetMemory:
		return "Memory"
	case TargetStorage:
		return "Storage"
	case TargetCallContext:
		return "CallContext"
	}
	return fmt.Sprintf("Target(%d)", uint8(t))
}

// CallContextField names one field of a call frame readable through
// CallContextOp.
type CallContextField uint8

const (
	FieldTxID CallContextField = iota
	FieldCallerAddress
	FieldCalleeAddress
	FieldValue
	FieldCallDataLength
	FieldDepth
	FieldIsStatic
	FieldIsCreate
	FieldIsPersistent
	// FieldRwCounterEndOfReversion is the rw counter of the last entry of
	// the frame's reversion section, zero for persistent frames. Its value
	// is only known once the frame ends; reads emitted during replay are
	// patched before the transaction input is returned.
	FieldRwCounterEndOfReversion
)

// Op is one typed state access.
type Op interface {
	Target() Target
}

// StackOp is an access to one slot of a call's operand stack.
// StackPointer is 1024 minus the stack depth, so it grows downwards.
type StackOp struct {
	CallID       int
	StackPointer int
	Value        uint256.Int
}

func (StackOp) Target() Target { return TargetStack }

// MemoryOp is a single-byte access to a call's memory.
type MemoryOp struct {
	CallID  int
	Address uint64
	Byte    byte
}

func (MemoryOp) Target() Target { return TargetMemory }

// StorageOp is an access to one storage slot of an account. ValuePrev is the
// slot value immediately before this access and Committed the value at the
// start of the transaction.
type StorageOp struct {
	Address   common.Address
	Key       uint256.Int
	Value     uint256.Int
	ValuePrev uint256.Int
	Committed uint256.Int
	TxID      int
}

func (StorageOp) Target() Target { return TargetStorage }

// CallContextOp is an access to a field of a call frame.
type CallContextOp struct {
	CallID int
	Field  CallContextField
	Value  uint256.Int
}

func (CallContextOp) Target() Target { return TargetCallContext }

// StartOp is the unique rw_counter=0 row anchoring the RW table.
type StartOp struct{}

func (StartOp) Target() Target { return TargetStart }

// Operation is one entry of the bus: a typed access tagged with its position
// in the global total order.
type Operation struct {
	// RWCounter is unique and strictly increasing across the whole batch.
	RWCounter int
	RW        RW
	// Reversible marks state writes that are rolled back if the emitting
	// call frame reverts.
	Reversible bool
	// Reverted marks a reversible write whose frame did revert. The write
	// stays in the sequence (its gas was charged); its paired rollback
	// entry restores the previous value inside the frame's reversion
	// section.
	Reverted bool
	// Rollback marks the paired entry that undoes a reverted write. It is
	// an ordinary write for read-after-write consistency purposes.
	Rollback bool
	Op       Op
}

// OperationContainer owns the ordered operation sequence of one transaction
// replay. The rw counter is state of the container, threaded through the
// builder explicitly; counters start at 1, with 0 reserved for the start row.
type OperationContainer struct {
	Ops     []Operation
	counter int
}

func NewOperationContainer() *OperationContainer {
	return &OperationContainer{}
}

// Push appends an operation, assigns it the next rw counter and returns its
// index in the sequence.
func (c *OperationContainer) Push(rw RW, op Op) int {
	c.counter++
	c.Ops = append(c.Ops, Operation{RWCounter: c.counter, RW: rw, Op: op})
	return len(c.Ops) - 1
}

// PushReversible is Push for state writes that must be undone if the current
// call frame reverts.
func (c *OperationContainer) PushReversible(rw RW, op Op) int {
	idx := c.Push(rw, op)
	c.Ops[idx].Reversible = true
	return idx
}

// Counter returns the last assigned rw counter.
func (c *OperationContainer) Counter() int {
	return c.counter
}
