package busmapping

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/zkevmlab/zkevm-go/evm"
	"github.com/zkevmlab/zkevm-go/oracle"
)

// Call is one call or create frame. Frames live in a flat arena owned by the
// builder and reference each other by index; they are created and destroyed
// in strict LIFO order so no pointer links are needed.
type Call struct {
	// ID is the stable call identifier operations reference; unique within
	// a transaction, assigned in creation order starting at 1.
	ID int
	// ParentIndex is the arena index of the caller frame, -1 for the root.
	ParentIndex int
	Depth       int

	Caller   common.Address
	Address  common.Address
	CodeHash common.Hash
	Value    uint256.Int

	CallDataOffset uint64
	CallDataLength uint64

	IsRoot   bool
	IsCreate bool
	IsStatic bool

	// IsPersistent is true while this frame and all its ancestors are not
	// known to revert; recomputed when frames end.
	IsPersistent bool
	// Reverted is set when the frame ends with REVERT or an error.
	Reverted bool
	// RwCounterEndOfReversion is the counter of the last entry of the
	// reversion section this frame's reversible writes roll back in, zero
	// for persistent frames. A write made at local reversible-write count
	// c rolls back at counter RwCounterEndOfReversion - c.
	RwCounterEndOfReversion int
}

// ExecResult tags how an execution step ended.
type ExecResult uint8

const (
	ResultSuccess ExecResult = iota
	ResultReverted
	ResultOutOfGas
	ResultInvalidOpcode
	ResultStackUnderflow
	ResultStackOverflow
	ResultInvalidJump
	ResultWriteProtection
)

func (r ExecResult) String() string {
	switch r {
	case ResultSuccess:
		return "success"
	case ResultReverted:
		return "reverted"
	case ResultOutOfGas:
		return "out of gas"
	case ResultInvalidOpcode:
		return "invalid opcode"
	case ResultStackUnderflow:
		return "stack underflow"
	case ResultStackOverflow:
		return "stack overflow"
	case ResultInvalidJump:
		return "invalid jump"
	case ResultWriteProtection:
		return "write protection"
	}
	return "unknown"
}

// ExecStep is one row of the step table: one instruction execution together
// with the contiguous range of operations it consumed. Immutable once
// emitted.
type ExecStep struct {
	PC           uint64
	Op           evm.OpCode
	GasLeft      uint64
	GasCost      uint64
	Depth        int
	StackPointer int
	// MemoryWordSize is the size of the frame memory in 32-byte words
	// before this step executes.
	MemoryWordSize uint64

	// CallIndex is the arena index of the frame this step belongs to.
	CallIndex int
	// RWCounter is the counter of the first operation of this step.
	RWCounter int
	// RWIndices point into the operation sequence, in emission order.
	// Rollback entries created when a frame later reverts are appended to
	// the step that made the original write.
	RWIndices []int

	// ReversibleWriteCounter is the frame's reversible-write count before
	// this step; a successful child call adds its own count to the caller
	// on return.
	ReversibleWriteCounter int

	Result ExecResult
}

// TxInput is the bus-mapping output for one transaction: the operation
// sequence, the step table and the call arena, plus the bytecodes executed.
// Downstream layers hold read-only views into it.
type TxInput struct {
	TxID      int
	Tx        oracle.Transaction
	Steps     []ExecStep
	Container *OperationContainer
	Calls     []Call
	Bytecodes map[common.Hash][]byte
}

// stateShadow tracks storage values during replay so storage operations can
// carry previous and committed values. It is rolled back when frames revert.
type stateShadow struct {
	storage   map[common.Address]map[common.Hash]uint256.Int
	committed map[common.Address]map[common.Hash]uint256.Int
}

func newStateShadow(accounts map[common.Address]oracle.Account) *stateShadow {
	s := &stateShadow{
		storage:   make(map[common.Address]map[common.Hash]uint256.Int),
		committed: make(map[common.Address]map[common.Hash]uint256.Int),
	}
	for addr, acc := range accounts {
		cur := make(map[common.Hash]uint256.Int, len(acc.Storage))
		com := make(map[common.Hash]uint256.Int, len(acc.Storage))
		for key, value := range acc.Storage {
			var v uint256.Int
			v.SetBytes(value.Bytes())
			cur[key] = v
			com[key] = v
		}
		s.storage[addr] = cur
		s.committed[addr] = com
	}
	return s
}

// applyOverlay folds the post-storage of earlier transactions into the
// shadow; the overlaid values are this transaction's committed state.
func (s *stateShadow) applyOverlay(overlay map[common.Address]map[common.Hash]common.Hash) {
	for addr, slots := range overlay {
		if s.storage[addr] == nil {
			s.storage[addr] = make(map[common.Hash]uint256.Int, len(slots))
			s.committed[addr] = make(map[common.Hash]uint256.Int, len(slots))
		}
		for key, value := range slots {
			var v uint256.Int
			v.SetBytes(value.Bytes())
			s.storage[addr][key] = v
			s.committed[addr][key] = v
		}
	}
}

func (s *stateShadow) getStorage(addr common.Address, key *uint256.Int) uint256.Int {
	if slots, ok := s.storage[addr]; ok {
		return slots[key.Bytes32()]
	}
	return uint256.Int{}
}

func (s *stateShadow) getCommitted(addr common.Address, key *uint256.Int) uint256.Int {
	if slots, ok := s.committed[addr]; ok {
		return slots[key.Bytes32()]
	}
	return uint256.Int{}
}

func (s *stateShadow) setStorage(addr common.Address, key *uint256.Int, value uint256.Int) {
	slots, ok := s.storage[addr]
	if !ok {
		slots = make(map[common.Hash]uint256.Int)
		s.storage[addr] = slots
	}
	slots[key.Bytes32()] = value
}
