package busmapping

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/zkevmlab/zkevm-go/evm"
	"github.com/zkevmlab/zkevm-go/oracle"
)

// nthLast returns the stack operand n positions below the top.
func nthLast(stack []uint256.Int, n int) uint256.Int {
	return stack[len(stack)-1-n]
}

// nthLastPos returns the stack-pointer address of the operand n positions
// below the top. The stack pointer counts down from 1024.
func nthLastPos(stack []uint256.Int, n int) int {
	return evm.StackLimit - len(stack) + n
}

// memByte reads one byte of a memory snapshot, treating bytes beyond the
// captured size as zero.
func memByte(mem []byte, addr uint64) byte {
	if addr < uint64(len(mem)) {
		return mem[addr]
	}
	return 0
}

func memBytes(mem []byte, offset, length uint64) []byte {
	out := make([]byte, length)
	for i := uint64(0); i < length; i++ {
		out[i] = memByte(mem, offset+i)
	}
	return out
}

func (r *txReplay) handleStep(i int, steps []oracle.StepLog) error {
	cur := &steps[i]
	var next *oracle.StepLog
	if i+1 < len(steps) {
		next = &steps[i+1]
	}

	// A frame that faulted without a halting opcode shows up as a depth
	// drop; unwind to the reported depth before processing.
	for len(r.callStack) > 0 && cur.Depth < r.currentCall().Depth {
		r.endFrame(true)
	}
	if len(r.callStack) == 0 || cur.Depth != r.currentCall().Depth {
		return traceErr(TraceInconsistency, cur.PC, cur.Op,
			"reported depth %d does not match any open frame", cur.Depth)
	}

	op := cur.Op
	step := ExecStep{
		PC:             cur.PC,
		Op:             op,
		GasLeft:        cur.Gas,
		GasCost:        cur.GasCost,
		Depth:          cur.Depth,
		StackPointer:   evm.StackLimit - len(cur.Stack),
		MemoryWordSize: (uint64(cur.MemorySize) + 31) / 32,
		CallIndex:              r.currentCallIndex(),
		RWCounter:              r.container.Counter() + 1,
		ReversibleWriteCounter: r.localRev[r.currentCallIndex()],
		Result:                 resultFromError(cur.Err),
	}

	// A faulted step emits no operations; its frame unwinds and the gas
	// spent stays accounted in the step table.
	if cur.Err != nil {
		r.steps = append(r.steps, step)
		r.endFrame(true)
		return nil
	}

	if err := r.checkStep(cur, next); err != nil {
		return err
	}

	if err := r.dispatch(&step, cur, next, steps, i); err != nil {
		return err
	}
	if op == evm.REVERT {
		step.Result = ResultReverted
	}
	r.steps = append(r.steps, step)

	if op.IsHalting() {
		r.endFrame(op == evm.REVERT)
	}
	return nil
}

// checkStep validates the invariants the replay relies on before emitting
// any operation for the step.
func (r *txReplay) checkStep(cur, next *oracle.StepLog) error {
	op := cur.Op
	if len(cur.Stack) < op.StackPops() {
		return traceErr(TraceInconsistency, cur.PC, op,
			"stack has %d items, opcode consumes %d", len(cur.Stack), op.StackPops())
	}
	if len(cur.Stack) > evm.StackLimit {
		return traceErr(TraceInconsistency, cur.PC, op,
			"stack size %d exceeds limit", len(cur.Stack))
	}
	if next == nil || next.Depth != cur.Depth {
		return nil
	}
	if next.Gas > cur.Gas {
		return traceErr(TraceInconsistency, cur.PC, op,
			"gas increases from %d to %d", cur.Gas, next.Gas)
	}
	if !op.HasDynamicGas() {
		if cur.GasCost != op.ConstantGas() {
			return traceErr(TraceInconsistency, cur.PC, op,
				"reported gas cost %d, expected %d", cur.GasCost, op.ConstantGas())
		}
		if cur.Gas-cur.GasCost != next.Gas {
			return traceErr(TraceInconsistency, cur.PC, op,
				"gas left %d does not follow from %d - %d", next.Gas, cur.Gas, cur.GasCost)
		}
	}
	if !op.IsCallFamily() {
		if want := len(cur.Stack) + op.StackDelta(); len(next.Stack) != want {
			return traceErr(TraceInconsistency, cur.PC, op,
				"next stack has %d items, expected %d", len(next.Stack), want)
		}
	}
	return nil
}

// dispatch is the closed per-opcode handler table. Every opcode the pipeline
// supports appears here; anything else is an UnsupportedOpcodeError, never a
// silently empty operation set.
func (r *txReplay) dispatch(step *ExecStep, cur, next *oracle.StepLog, steps []oracle.StepLog, i int) error {
	op := cur.Op
	switch {
	case op.IsPush():
		return r.handlePush(step, cur, next)
	case op.IsDup():
		return r.handleDup(step, cur)
	case op.IsSwap():
		return r.handleSwap(step, cur)
	}

	switch op {
	case evm.STOP, evm.JUMPDEST:
		return nil
	case evm.ADD, evm.MUL, evm.SUB, evm.DIV, evm.SDIV, evm.MOD, evm.SMOD,
		evm.EXP, evm.SIGNEXTEND, evm.LT, evm.GT, evm.SLT, evm.SGT, evm.EQ,
		evm.AND, evm.OR, evm.XOR, evm.BYTE, evm.SHL, evm.SHR, evm.SAR:
		return r.handleBinary(step, cur, next)
	case evm.ADDMOD, evm.MULMOD:
		return r.handleTernary(step, cur, next)
	case evm.ISZERO, evm.NOT:
		return r.handleUnary(step, cur, next)
	case evm.POP:
		return r.handlePop(step, cur)
	case evm.MLOAD:
		return r.handleMload(step, cur, next)
	case evm.MSTORE:
		return r.handleMstore(step, cur)
	case evm.MSTORE8:
		return r.handleMstore8(step, cur)
	case evm.SLOAD:
		return r.handleSload(step, cur, next)
	case evm.SSTORE:
		return r.handleSstore(step, cur)
	case evm.JUMP:
		return r.handleJump(step, cur)
	case evm.JUMPI:
		return r.handleJumpi(step, cur)
	case evm.PC, evm.MSIZE, evm.GAS:
		return r.handleMachineState(step, cur, next)
	case evm.ADDRESS, evm.CALLER, evm.CALLVALUE, evm.CALLDATASIZE:
		return r.handleCallContextRead(step, cur, next)
	case evm.ORIGIN, evm.GASPRICE, evm.COINBASE, evm.TIMESTAMP, evm.NUMBER,
		evm.DIFFICULTY, evm.GASLIMIT, evm.CHAINID, evm.BASEFEE, evm.SELFBALANCE:
		return r.handleEnvironment(step, cur, next)
	case evm.CALLDATALOAD:
		return r.handleCalldataload(step, cur, next)
	case evm.CALL, evm.CALLCODE, evm.DELEGATECALL, evm.STATICCALL:
		return r.handleCall(step, cur, next, steps, i)
	case evm.CREATE, evm.CREATE2:
		return r.handleCreate(step, cur, next, steps, i)
	case evm.RETURN, evm.REVERT:
		return r.handleReturnRevert(step, cur)
	default:
		return &UnsupportedOpcodeError{Op: op, PC: cur.PC}
	}
}

func (r *txReplay) resultOf(cur, next *oracle.StepLog) (uint256.Int, error) {
	if next == nil || len(next.Stack) == 0 {
		return uint256.Int{}, traceErr(TraceTruncated, cur.PC, cur.Op,
			"opcode pushes a result but the trace has no following step")
	}
	return nthLast(next.Stack, 0), nil
}

func (r *txReplay) handlePush(step *ExecStep, cur, next *oracle.StepLog) error {
	value, err := r.resultOf(cur, next)
	if err != nil {
		return err
	}
	r.pushStackOp(step, Write, evm.StackLimit-len(cur.Stack)-1, value)
	return nil
}

func (r *txReplay) handlePop(step *ExecStep, cur *oracle.StepLog) error {
	r.pushStackOp(step, Read, nthLastPos(cur.Stack, 0), nthLast(cur.Stack, 0))
	return nil
}

func (r *txReplay) handleDup(step *ExecStep, cur *oracle.StepLog) error {
	depth := cur.Op.DupDepth()
	value := nthLast(cur.Stack, depth-1)
	r.pushStackOp(step, Read, nthLastPos(cur.Stack, depth-1), value)
	r.pushStackOp(step, Write, evm.StackLimit-len(cur.Stack)-1, value)
	return nil
}

func (r *txReplay) handleSwap(step *ExecStep, cur *oracle.StepLog) error {
	depth := cur.Op.SwapDepth()
	top := nthLast(cur.Stack, 0)
	other := nthLast(cur.Stack, depth)
	r.pushStackOp(step, Read, nthLastPos(cur.Stack, 0), top)
	r.pushStackOp(step, Read, nthLastPos(cur.Stack, depth), other)
	r.pushStackOp(step, Write, nthLastPos(cur.Stack, depth), top)
	r.pushStackOp(step, Write, nthLastPos(cur.Stack, 0), other)
	return nil
}

func (r *txReplay) handleBinary(step *ExecStep, cur, next *oracle.StepLog) error {
	r.pushStackOp(step, Read, nthLastPos(cur.Stack, 0), nthLast(cur.Stack, 0))
	r.pushStackOp(step, Read, nthLastPos(cur.Stack, 1), nthLast(cur.Stack, 1))
	result, err := r.resultOf(cur, next)
	if err != nil {
		return err
	}
	r.pushStackOp(step, Write, nthLastPos(cur.Stack, 1), result)
	return nil
}

func (r *txReplay) handleTernary(step *ExecStep, cur, next *oracle.StepLog) error {
	for n := 0; n < 3; n++ {
		r.pushStackOp(step, Read, nthLastPos(cur.Stack, n), nthLast(cur.Stack, n))
	}
	result, err := r.resultOf(cur, next)
	if err != nil {
		return err
	}
	r.pushStackOp(step, Write, nthLastPos(cur.Stack, 2), result)
	return nil
}

func (r *txReplay) handleUnary(step *ExecStep, cur, next *oracle.StepLog) error {
	r.pushStackOp(step, Read, nthLastPos(cur.Stack, 0), nthLast(cur.Stack, 0))
	result, err := r.resultOf(cur, next)
	if err != nil {
		return err
	}
	r.pushStackOp(step, Write, nthLastPos(cur.Stack, 0), result)
	return nil
}

func (r *txReplay) handleMload(step *ExecStep, cur, next *oracle.StepLog) error {
	offset := nthLast(cur.Stack, 0)
	r.pushStackOp(step, Read, nthLastPos(cur.Stack, 0), offset)

	value, err := r.resultOf(cur, next)
	if err != nil {
		return err
	}
	valueBytes := value.Bytes32()
	base := offset.Uint64()
	for k := uint64(0); k < evm.WordSize; k++ {
		b := memByte(next.Memory, base+k)
		if b != valueBytes[k] {
			return traceErr(TraceInconsistency, cur.PC, cur.Op,
				"memory byte at %#x is %#x, loaded word has %#x", base+k, b, valueBytes[k])
		}
		r.pushMemoryOp(step, Read, base+k, b)
	}
	r.pushStackOp(step, Write, nthLastPos(cur.Stack, 0), value)
	return nil
}

func (r *txReplay) handleMstore(step *ExecStep, cur *oracle.StepLog) error {
	offset := nthLast(cur.Stack, 0)
	value := nthLast(cur.Stack, 1)
	r.pushStackOp(step, Read, nthLastPos(cur.Stack, 0), offset)
	r.pushStackOp(step, Read, nthLastPos(cur.Stack, 1), value)

	valueBytes := value.Bytes32()
	base := offset.Uint64()
	for k := uint64(0); k < evm.WordSize; k++ {
		r.pushMemoryOp(step, Write, base+k, valueBytes[k])
	}
	return nil
}

func (r *txReplay) handleMstore8(step *ExecStep, cur *oracle.StepLog) error {
	offset := nthLast(cur.Stack, 0)
	value := nthLast(cur.Stack, 1)
	r.pushStackOp(step, Read, nthLastPos(cur.Stack, 0), offset)
	r.pushStackOp(step, Read, nthLastPos(cur.Stack, 1), value)
	valueBytes := value.Bytes32()
	r.pushMemoryOp(step, Write, offset.Uint64(), valueBytes[31])
	return nil
}

func (r *txReplay) handleSload(step *ExecStep, cur, next *oracle.StepLog) error {
	frame := r.currentCall()
	key := nthLast(cur.Stack, 0)
	r.pushStackOp(step, Read, nthLastPos(cur.Stack, 0), key)

	value := r.pushStorageRead(step, frame.Address, key)
	pushed, err := r.resultOf(cur, next)
	if err != nil {
		return err
	}
	if !value.Eq(&pushed) {
		return traceErr(TraceInconsistency, cur.PC, cur.Op,
			"storage slot holds %s, trace pushed %s", value.Hex(), pushed.Hex())
	}
	r.pushStackOp(step, Write, nthLastPos(cur.Stack, 0), value)
	return nil
}

func (r *txReplay) handleSstore(step *ExecStep, cur *oracle.StepLog) error {
	frame := r.currentCall()

	r.pushCallContextOp(step, Read, frame.ID, FieldTxID, *uint256.NewInt(uint64(r.txID)))
	// Value patched once the frame's outcome is known.
	r.pushCallContextOp(step, Read, frame.ID, FieldRwCounterEndOfReversion, uint256.Int{})
	r.pushCallContextOp(step, Read, frame.ID, FieldIsPersistent, boolWord(frame.IsPersistent))
	r.pushCallContextOp(step, Read, frame.ID, FieldCalleeAddress, addressWord(frame.Address))

	key := nthLast(cur.Stack, 0)
	value := nthLast(cur.Stack, 1)
	r.pushStackOp(step, Read, nthLastPos(cur.Stack, 0), key)
	r.pushStackOp(step, Read, nthLastPos(cur.Stack, 1), value)

	r.pushStorageWrite(step, frame.Address, key, value)
	return nil
}

func (r *txReplay) handleJump(step *ExecStep, cur *oracle.StepLog) error {
	r.pushStackOp(step, Read, nthLastPos(cur.Stack, 0), nthLast(cur.Stack, 0))
	return nil
}

func (r *txReplay) handleJumpi(step *ExecStep, cur *oracle.StepLog) error {
	r.pushStackOp(step, Read, nthLastPos(cur.Stack, 0), nthLast(cur.Stack, 0))
	r.pushStackOp(step, Read, nthLastPos(cur.Stack, 1), nthLast(cur.Stack, 1))
	return nil
}

// handleMachineState covers PC, MSIZE and GAS: a single stack write whose
// value the replay can cross-check against the step metadata.
func (r *txReplay) handleMachineState(step *ExecStep, cur, next *oracle.StepLog) error {
	value, err := r.resultOf(cur, next)
	if err != nil {
		return err
	}
	var want uint64
	switch cur.Op {
	case evm.PC:
		want = cur.PC
	case evm.MSIZE:
		want = uint64(cur.MemorySize)
	case evm.GAS:
		want = cur.Gas - cur.GasCost
	}
	if value.Uint64() != want || !value.IsUint64() {
		return traceErr(TraceInconsistency, cur.PC, cur.Op,
			"pushed %s, machine state says %d", value.Hex(), want)
	}
	r.pushStackOp(step, Write, evm.StackLimit-len(cur.Stack)-1, value)
	return nil
}

// handleCallContextRead covers opcodes that surface a call frame field:
// one CallContextOp read plus the stack write of the same value.
func (r *txReplay) handleCallContextRead(step *ExecStep, cur, next *oracle.StepLog) error {
	frame := r.currentCall()
	var (
		field CallContextField
		value uint256.Int
	)
	switch cur.Op {
	case evm.ADDRESS:
		field, value = FieldCalleeAddress, addressWord(frame.Address)
	case evm.CALLER:
		field, value = FieldCallerAddress, addressWord(frame.Caller)
	case evm.CALLVALUE:
		field, value = FieldValue, frame.Value
	case evm.CALLDATASIZE:
		field, value = FieldCallDataLength, *uint256.NewInt(frame.CallDataLength)
	}

	pushed, err := r.resultOf(cur, next)
	if err != nil {
		return err
	}
	if !value.Eq(&pushed) {
		return traceErr(TraceInconsistency, cur.PC, cur.Op,
			"pushed %s, call context holds %s", pushed.Hex(), value.Hex())
	}

	r.pushCallContextOp(step, Read, frame.ID, field, value)
	r.pushStackOp(step, Write, evm.StackLimit-len(cur.Stack)-1, value)
	return nil
}

// handleEnvironment covers block- and transaction-level reads; their values
// are proven against the block/tx tables, so the bus only carries the stack
// write.
func (r *txReplay) handleEnvironment(step *ExecStep, cur, next *oracle.StepLog) error {
	value, err := r.resultOf(cur, next)
	if err != nil {
		return err
	}
	r.pushStackOp(step, Write, evm.StackLimit-len(cur.Stack)-1, value)
	return nil
}

func (r *txReplay) handleCalldataload(step *ExecStep, cur, next *oracle.StepLog) error {
	r.pushStackOp(step, Read, nthLastPos(cur.Stack, 0), nthLast(cur.Stack, 0))
	value, err := r.resultOf(cur, next)
	if err != nil {
		return err
	}
	r.pushStackOp(step, Write, nthLastPos(cur.Stack, 0), value)
	return nil
}

func (r *txReplay) handleReturnRevert(step *ExecStep, cur *oracle.StepLog) error {
	r.pushStackOp(step, Read, nthLastPos(cur.Stack, 0), nthLast(cur.Stack, 0))
	r.pushStackOp(step, Read, nthLastPos(cur.Stack, 1), nthLast(cur.Stack, 1))
	return nil
}

// callResult scans forward for the first step back at the caller's depth;
// its stack top is the value the call pushed. A missing resume step means
// the caller itself never ran again, in which case the call failed.
func callResult(steps []oracle.StepLog, i int) uint256.Int {
	depth := steps[i].Depth
	for j := i + 1; j < len(steps); j++ {
		if steps[j].Depth == depth {
			if len(steps[j].Stack) == 0 {
				return uint256.Int{}
			}
			return nthLast(steps[j].Stack, 0)
		}
	}
	return uint256.Int{}
}

func (r *txReplay) handleCall(step *ExecStep, cur, next *oracle.StepLog, steps []oracle.StepLog, i int) error {
	op := cur.Op
	frame := r.currentCall()

	pops := op.StackPops()
	for n := 0; n < pops; n++ {
		r.pushStackOp(step, Read, nthLastPos(cur.Stack, n), nthLast(cur.Stack, n))
	}

	calleeWord := nthLast(cur.Stack, 1)
	callee := common.BytesToAddress(calleeWord.Bytes())

	var value uint256.Int
	argBase := 2
	switch op {
	case evm.CALL, evm.CALLCODE:
		value = nthLast(cur.Stack, 2)
		argBase = 3
	case evm.DELEGATECALL:
		value = frame.Value
	}
	argsOffsetWord := nthLast(cur.Stack, argBase)
	argsLengthWord := nthLast(cur.Stack, argBase+1)
	argsOffset := argsOffsetWord.Uint64()
	argsLength := argsLengthWord.Uint64()

	result := callResult(steps, i)
	r.pushStackOp(step, Write, nthLastPos(cur.Stack, pops-1), result)

	if next == nil || next.Depth != cur.Depth+1 {
		// Callee had no code (or was a precompile); no frame to open.
		return nil
	}

	code := r.accounts[callee].Code
	codeHash := crypto.Keccak256Hash(code)
	r.bytecodes[codeHash] = code

	storageAddr := callee
	caller := frame.Address
	if op == evm.CALLCODE || op == evm.DELEGATECALL {
		storageAddr = frame.Address
	}
	if op == evm.DELEGATECALL {
		caller = frame.Caller
	}

	child := r.pushCall(Call{
		Depth:          cur.Depth + 1,
		Caller:         caller,
		Address:        storageAddr,
		CodeHash:       codeHash,
		Value:          value,
		CallDataOffset: argsOffset,
		CallDataLength: argsLength,
		IsStatic:       op == evm.STATICCALL || frame.IsStatic,
	})

	r.pushCallContextOp(step, Write, child.ID, FieldCallerAddress, addressWord(child.Caller))
	r.pushCallContextOp(step, Write, child.ID, FieldCalleeAddress, addressWord(child.Address))
	r.pushCallContextOp(step, Write, child.ID, FieldValue, child.Value)
	r.pushCallContextOp(step, Write, child.ID, FieldCallDataLength, *uint256.NewInt(child.CallDataLength))
	r.pushCallContextOp(step, Write, child.ID, FieldDepth, *uint256.NewInt(uint64(child.Depth)))
	r.pushCallContextOp(step, Write, child.ID, FieldIsStatic, boolWord(child.IsStatic))
	return nil
}

func (r *txReplay) handleCreate(step *ExecStep, cur, next *oracle.StepLog, steps []oracle.StepLog, i int) error {
	op := cur.Op
	frame := r.currentCall()

	pops := op.StackPops()
	for n := 0; n < pops; n++ {
		r.pushStackOp(step, Read, nthLastPos(cur.Stack, n), nthLast(cur.Stack, n))
	}

	value := nthLast(cur.Stack, 0)
	initOffsetWord := nthLast(cur.Stack, 1)
	initLengthWord := nthLast(cur.Stack, 2)
	initOffset := initOffsetWord.Uint64()
	initLength := initLengthWord.Uint64()

	result := callResult(steps, i)
	r.pushStackOp(step, Write, nthLastPos(cur.Stack, pops-1), result)

	if next == nil || next.Depth != cur.Depth+1 {
		return nil
	}

	initCode := memBytes(cur.Memory, initOffset, initLength)
	codeHash := crypto.Keccak256Hash(initCode)
	r.bytecodes[codeHash] = initCode

	createdAddr := common.BytesToAddress(result.Bytes())
	child := r.pushCall(Call{
		Depth:          cur.Depth + 1,
		Caller:         frame.Address,
		Address:        createdAddr,
		CodeHash:       codeHash,
		Value:          value,
		CallDataLength: 0,
		IsCreate:       true,
		IsStatic:       frame.IsStatic,
	})

	r.pushCallContextOp(step, Write, child.ID, FieldCallerAddress, addressWord(child.Caller))
	r.pushCallContextOp(step, Write, child.ID, FieldCalleeAddress, addressWord(child.Address))
	r.pushCallContextOp(step, Write, child.ID, FieldValue, child.Value)
	r.pushCallContextOp(step, Write, child.ID, FieldDepth, *uint256.NewInt(uint64(child.Depth)))
	r.pushCallContextOp(step, Write, child.ID, FieldIsCreate, boolWord(true))
	return nil
}

func addressWord(addr common.Address) uint256.Int {
	var w uint256.Int
	w.SetBytes(addr.Bytes())
	return w
}

func boolWord(b bool) uint256.Int {
	if b {
		return *uint256.NewInt(1)
	}
	return uint256.Int{}
}
