package busmapping

import (
	"errors"
	"strings"

	"github.com/consensys/gnark/logger"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/zkevmlab/zkevm-go/oracle"
)

// CircuitInputBuilder converts reference-EVM traces into circuit inputs.
// It is safe for concurrent use: each HandleTx call replays on private
// state.
type CircuitInputBuilder struct {
	accounts map[common.Address]oracle.Account
}

func NewCircuitInputBuilder(accounts map[common.Address]oracle.Account) *CircuitInputBuilder {
	return &CircuitInputBuilder{accounts: accounts}
}

// HandleTx replays one traced transaction against the declared pre-state and
// returns its bus-mapping output. Replaying the returned operations in rw
// counter order reproduces the stack, memory and storage values the trace
// recorded at every step.
func (b *CircuitInputBuilder) HandleTx(txID int, tx oracle.Transaction, trace *oracle.TxTrace) (*TxInput, error) {
	return b.handleTx(txID, tx, trace, nil)
}

func (b *CircuitInputBuilder) handleTx(txID int, tx oracle.Transaction, trace *oracle.TxTrace, overlay map[common.Address]map[common.Hash]common.Hash) (*TxInput, error) {
	shadow := newStateShadow(b.accounts)
	shadow.applyOverlay(overlay)
	r := &txReplay{
		accounts:   b.accounts,
		txID:       txID,
		tx:         tx,
		shadow:     shadow,
		container:  NewOperationContainer(),
		reversible: make(map[int][]revRecord),
		localRev:   make(map[int]int),
		bytecodes:  make(map[common.Hash][]byte),
	}

	r.pushRootCall()

	for i := range trace.Steps {
		if err := r.handleStep(i, trace.Steps); err != nil {
			return nil, err
		}
	}

	if len(r.callStack) != 0 && len(trace.Steps) > 0 {
		last := trace.Steps[len(trace.Steps)-1]
		return nil, traceErr(TraceTruncated, last.PC, last.Op,
			"%d call frame(s) still open at end of trace", len(r.callStack))
	}

	r.finalizePersistence()
	r.patchCallContextReads()

	log := logger.Logger()
	log.Debug().
		Int("tx", txID).
		Int("steps", len(r.steps)).
		Int("ops", len(r.container.Ops)).
		Int("calls", len(r.calls)).
		Msg("bus-mapping replay complete")

	return &TxInput{
		TxID:      txID,
		Tx:        tx,
		Steps:     r.steps,
		Container: r.container,
		Calls:     r.calls,
		Bytecodes: r.bytecodes,
	}, nil
}

// revRecord remembers a reversible write so a reverting frame can flag the
// operation, emit its paired rollback entry and restore the storage shadow.
type revRecord struct {
	opIdx int
	// stepIdx is the step-table index of the emitting step; the rollback
	// entry is charged to that step.
	stepIdx int
	// callIdx and localIdx locate the write in its frame's reversible
	// sequence; together with the frame's RwCounterEndOfReversion they fix
	// the rollback counter.
	callIdx  int
	localIdx int
	addr     common.Address
	key      uint256.Int
	prev     uint256.Int
}

type txReplay struct {
	accounts map[common.Address]oracle.Account
	txID     int
	tx       oracle.Transaction

	shadow    *stateShadow
	container *OperationContainer
	calls     []Call
	callStack []int
	steps     []ExecStep

	// reversible writes pending the outcome of each open frame, keyed by
	// arena index.
	reversible map[int][]revRecord
	// localRev is each open frame's reversible-write count; a successful
	// child folds its count into the caller on return.
	localRev map[int]int

	bytecodes  map[common.Hash][]byte
	nextCallID int
}

func (r *txReplay) pushRootCall() {
	var callee common.Address
	isCreate := r.tx.To == nil
	if !isCreate {
		callee = *r.tx.To
	}
	code := r.tx.Input
	if !isCreate {
		code = r.accounts[callee].Code
	}
	codeHash := crypto.Keccak256Hash(code)
	r.bytecodes[codeHash] = code

	var value uint256.Int
	if r.tx.Value != nil {
		value.SetFromBig(r.tx.Value)
	}

	r.nextCallID++
	r.calls = append(r.calls, Call{
		ID:             r.nextCallID,
		ParentIndex:    -1,
		Depth:          1,
		Caller:         r.tx.From,
		Address:        callee,
		CodeHash:       codeHash,
		Value:          value,
		CallDataLength: uint64(len(r.tx.Input)),
		IsRoot:         true,
		IsCreate:       isCreate,
		IsPersistent:   true,
	})
	r.callStack = append(r.callStack, 0)
}

func (r *txReplay) pushCall(c Call) *Call {
	r.nextCallID++
	c.ID = r.nextCallID
	c.ParentIndex = r.callStack[len(r.callStack)-1]
	r.calls = append(r.calls, c)
	idx := len(r.calls) - 1
	r.callStack = append(r.callStack, idx)
	return &r.calls[idx]
}

func (r *txReplay) currentCall() *Call {
	return &r.calls[r.callStack[len(r.callStack)-1]]
}

func (r *txReplay) currentCallIndex() int {
	return r.callStack[len(r.callStack)-1]
}

// endFrame closes the top frame. A reverted frame emits its reversion
// section: one rollback write per pending reversible write, in reverse
// creation order, restoring the storage shadow as it goes. Each rollback is
// charged to the step that made the original write, so the step's gadget can
// account for both entries. A successful frame instead hands its pending
// writes (and its reversible-write count) to the parent, since an outer
// revert still undoes them.
func (r *txReplay) endFrame(reverted bool) {
	idx := r.currentCallIndex()
	frame := &r.calls[idx]
	frame.Reverted = reverted

	records := r.reversible[idx]
	delete(r.reversible, idx)
	localCount := r.localRev[idx]
	delete(r.localRev, idx)

	if !reverted {
		if frame.ParentIndex >= 0 {
			parent := frame.ParentIndex
			r.reversible[parent] = append(r.reversible[parent], records...)
			r.localRev[parent] += localCount
		}
		r.callStack = r.callStack[:len(r.callStack)-1]
		return
	}

	// Reversion section: record t (creation order) rolls back at counter
	// end - t, where end is the counter of the section's last entry.
	end := r.container.Counter() + len(records)
	for t := len(records) - 1; t >= 0; t-- {
		rec := records[t]
		r.container.Ops[rec.opIdx].Reverted = true

		key := rec.key
		cur := r.shadow.getStorage(rec.addr, &key)
		rbIdx := r.container.Push(Write, StorageOp{
			Address:   rec.addr,
			Key:       rec.key,
			Value:     rec.prev,
			ValuePrev: cur,
			Committed: r.shadow.getCommitted(rec.addr, &key),
			TxID:      r.txID,
		})
		r.container.Ops[rbIdx].Rollback = true
		r.steps[rec.stepIdx].RWIndices = append(r.steps[rec.stepIdx].RWIndices, rbIdx)
		r.shadow.setStorage(rec.addr, &key, rec.prev)

		// The creating frame's section anchor satisfies
		// end_of_reversion - localIdx == rollback counter.
		r.calls[rec.callIdx].RwCounterEndOfReversion =
			r.container.Ops[rbIdx].RWCounter + rec.localIdx
	}
	if frame.RwCounterEndOfReversion == 0 {
		frame.RwCounterEndOfReversion = end
	}

	r.callStack = r.callStack[:len(r.callStack)-1]
}

// finalizePersistence recomputes IsPersistent now that every frame's
// outcome is known.
func (r *txReplay) finalizePersistence() {
	for i := range r.calls {
		c := &r.calls[i]
		if c.ParentIndex < 0 {
			c.IsPersistent = !c.Reverted
			continue
		}
		c.IsPersistent = !c.Reverted && r.calls[c.ParentIndex].IsPersistent
	}
}

// patchCallContextReads rewrites the call-context reads whose values are
// only known once frames have ended (persistence flags and reversion-section
// anchors were recorded optimistically during replay).
func (r *txReplay) patchCallContextReads() {
	byID := make(map[int]*Call, len(r.calls))
	for i := range r.calls {
		byID[r.calls[i].ID] = &r.calls[i]
	}
	for i := range r.container.Ops {
		cc, ok := r.container.Ops[i].Op.(CallContextOp)
		if !ok {
			continue
		}
		call := byID[cc.CallID]
		switch cc.Field {
		case FieldIsPersistent:
			cc.Value = boolWord(call.IsPersistent)
		case FieldRwCounterEndOfReversion:
			cc.Value = *uint256.NewInt(uint64(call.RwCounterEndOfReversion))
		default:
			continue
		}
		r.container.Ops[i].Op = cc
	}
}

// Operation emission helpers; each records the new operation on the step.

func (r *txReplay) pushStackOp(step *ExecStep, rw RW, stackPointer int, value uint256.Int) {
	idx := r.container.Push(rw, StackOp{
		CallID:       r.currentCall().ID,
		StackPointer: stackPointer,
		Value:        value,
	})
	step.RWIndices = append(step.RWIndices, idx)
}

func (r *txReplay) pushMemoryOp(step *ExecStep, rw RW, address uint64, b byte) {
	idx := r.container.Push(rw, MemoryOp{
		CallID:  r.currentCall().ID,
		Address: address,
		Byte:    b,
	})
	step.RWIndices = append(step.RWIndices, idx)
}

func (r *txReplay) pushCallContextOp(step *ExecStep, rw RW, callID int, field CallContextField, value uint256.Int) {
	idx := r.container.Push(rw, CallContextOp{
		CallID: callID,
		Field:  field,
		Value:  value,
	})
	step.RWIndices = append(step.RWIndices, idx)
}

func (r *txReplay) pushStorageRead(step *ExecStep, addr common.Address, key uint256.Int) uint256.Int {
	value := r.shadow.getStorage(addr, &key)
	idx := r.container.Push(Read, StorageOp{
		Address:   addr,
		Key:       key,
		Value:     value,
		ValuePrev: value,
		Committed: r.shadow.getCommitted(addr, &key),
		TxID:      r.txID,
	})
	step.RWIndices = append(step.RWIndices, idx)
	return value
}

func (r *txReplay) pushStorageWrite(step *ExecStep, addr common.Address, key, value uint256.Int) {
	prev := r.shadow.getStorage(addr, &key)
	idx := r.container.PushReversible(Write, StorageOp{
		Address:   addr,
		Key:       key,
		Value:     value,
		ValuePrev: prev,
		Committed: r.shadow.getCommitted(addr, &key),
		TxID:      r.txID,
	})
	step.RWIndices = append(step.RWIndices, idx)

	callIdx := r.currentCallIndex()
	r.reversible[callIdx] = append(r.reversible[callIdx], revRecord{
		opIdx:    idx,
		stepIdx:  len(r.steps),
		callIdx:  callIdx,
		localIdx: r.localRev[callIdx],
		addr:     addr,
		key:      key,
		prev:     prev,
	})
	r.localRev[callIdx]++
	r.shadow.setStorage(addr, &key, value)
}

func resultFromError(err error) ExecResult {
	switch {
	case err == nil:
		return ResultSuccess
	case errors.Is(err, vm.ErrOutOfGas):
		return ResultOutOfGas
	case errors.Is(err, vm.ErrInvalidJump):
		return ResultInvalidJump
	case errors.Is(err, vm.ErrWriteProtection):
		return ResultWriteProtection
	case errors.Is(err, vm.ErrExecutionReverted):
		return ResultReverted
	}
	// Stack errors are distinct types in go-ethereum, matched by message.
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "stack underflow"):
		return ResultStackUnderflow
	case strings.Contains(msg, "stack limit reached"):
		return ResultStackOverflow
	case strings.Contains(msg, "invalid opcode"):
		return ResultInvalidOpcode
	}
	return ResultReverted
}
