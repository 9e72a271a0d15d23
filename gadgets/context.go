package gadgets

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/zkevmlab/zkevm-go/busmapping"
	"github.com/zkevmlab/zkevm-go/evm"
	"github.com/zkevmlab/zkevm-go/tables"
)

func addressHalves(addr common.Address) (lo, hi *big.Int) {
	full := new(big.Int).SetBytes(addr.Bytes())
	lo = new(big.Int).And(full, halfMask())
	hi = new(big.Int).Rsh(full, 128)
	return lo, hi
}

// callValueGadget covers CALLVALUE: read the frame's value and push it.
type callValueGadget struct {
	value Word
}

func newCallValueGadget() *callValueGadget { return &callValueGadget{} }

func (g *callValueGadget) Name() string { return "call_value" }

func (g *callValueGadget) States() []ExecutionState { return []ExecutionState{StateCallValue} }

func (g *callValueGadget) Configure(cb *ConstraintBuilder) {
	g.value = cb.AllocWord("call_value/value")
	cb.CallContextLookup("call_value/read", busmapping.FieldValue,
		g.value.Lo(), g.value.Hi())
	cb.StackPushWord("call_value/value", g.value)

	opcode := cb.constUint(uint64(evm.CALLVALUE))
	cb.OpcodeAtPC("call_value/opcode", opcode)
	cb.ConstantGas("call_value/gas", opcode)
	cb.RequireTransition(StepStateTransition{})
}

func (g *callValueGadget) Assign(w *Witness, view StepView) error {
	value, err := view.StackValue(1)
	if err != nil {
		return err
	}
	w.SetWord(g.value, &value)
	return nil
}

// addressReadGadget covers CALLER and ADDRESS: read an address field of
// the frame and push it.
type addressReadGadget struct {
	name     string
	state    ExecutionState
	op       evm.OpCode
	fieldTag busmapping.CallContextField

	lo, hi Cell
}

func newCallerGadget() *addressReadGadget {
	return &addressReadGadget{
		name: "caller", state: StateCaller, op: evm.CALLER,
		fieldTag: busmapping.FieldCallerAddress,
	}
}

func newAddressGadget() *addressReadGadget {
	return &addressReadGadget{
		name: "address", state: StateAddress, op: evm.ADDRESS,
		fieldTag: busmapping.FieldCalleeAddress,
	}
}

func (g *addressReadGadget) Name() string { return g.name }

func (g *addressReadGadget) States() []ExecutionState { return []ExecutionState{g.state} }

func (g *addressReadGadget) Configure(cb *ConstraintBuilder) {
	g.lo = cb.AllocCell()
	g.hi = cb.AllocCell()
	if g.fieldTag == busmapping.FieldCalleeAddress {
		cb.requireEqual(g.name+"/callee_split",
			cb.add(cb.v(g.lo), cb.shift128(cb.v(g.hi))),
			cb.v(cb.Curr.CalleeAddress))
	}
	cb.CallContextLookup(g.name+"/read", g.fieldTag, cb.v(g.lo), cb.v(g.hi))
	cb.StackPush(g.name+"/value", cb.v(g.lo), cb.v(g.hi))

	opcode := cb.constUint(uint64(g.op))
	cb.OpcodeAtPC(g.name+"/opcode", opcode)
	cb.ConstantGas(g.name+"/gas", opcode)
	cb.RequireTransition(StepStateTransition{})
}

func (g *addressReadGadget) Assign(w *Witness, view StepView) error {
	addr := view.Call.Address
	if g.fieldTag == busmapping.FieldCallerAddress {
		addr = view.Call.Caller
	}
	lo, hi := addressHalves(addr)
	w.SetBig(g.lo, lo)
	w.SetBig(g.hi, hi)
	return nil
}

// calldatasizeGadget covers CALLDATASIZE.
type calldatasizeGadget struct {
	length Cell
}

func newCalldatasizeGadget() *calldatasizeGadget { return &calldatasizeGadget{} }

func (g *calldatasizeGadget) Name() string { return "calldatasize" }

func (g *calldatasizeGadget) States() []ExecutionState { return []ExecutionState{StateCalldatasize} }

func (g *calldatasizeGadget) Configure(cb *ConstraintBuilder) {
	g.length = cb.AllocCell()
	cb.CallContextLookup("calldatasize/read", busmapping.FieldCallDataLength,
		cb.v(g.length), cb.zero())
	cb.StackPush("calldatasize/value", cb.v(g.length), cb.zero())

	opcode := cb.constUint(uint64(evm.CALLDATASIZE))
	cb.OpcodeAtPC("calldatasize/opcode", opcode)
	cb.ConstantGas("calldatasize/gas", opcode)
	cb.RequireTransition(StepStateTransition{})
}

func (g *calldatasizeGadget) Assign(w *Witness, view StepView) error {
	w.SetUint64(g.length, view.Call.CallDataLength)
	return nil
}

// calldataloadGadget covers CALLDATALOAD. The loaded word is vouched for
// by the replay; only the stack traffic is constrained.
type calldataloadGadget struct {
	offset Word
	value  Word
}

func newCalldataloadGadget() *calldataloadGadget { return &calldataloadGadget{} }

func (g *calldataloadGadget) Name() string { return "calldataload" }

func (g *calldataloadGadget) States() []ExecutionState { return []ExecutionState{StateCalldataload} }

func (g *calldataloadGadget) Configure(cb *ConstraintBuilder) {
	g.offset = cb.StackPop("calldataload/offset")
	g.value = cb.AllocWord("calldataload/value")
	cb.StackPushWord("calldataload/value", g.value)

	opcode := cb.constUint(uint64(evm.CALLDATALOAD))
	cb.OpcodeAtPC("calldataload/opcode", opcode)
	cb.ConstantGas("calldataload/gas", opcode)
	cb.RequireTransition(StepStateTransition{})
}

func (g *calldataloadGadget) Assign(w *Witness, view StepView) error {
	offset, err := view.StackValue(0)
	if err != nil {
		return err
	}
	value, err := view.StackValue(1)
	if err != nil {
		return err
	}
	w.SetWord(g.offset, &offset)
	w.SetWord(g.value, &value)
	return nil
}

// txReadGadget covers opcodes that surface one transaction context
// field: the pushed value must be a row of the tx table.
type txReadGadget struct {
	name     string
	state    ExecutionState
	fieldTag tables.TxField
	op       evm.OpCode

	value Word
}

func newTxReadGadget(name string, state ExecutionState, fieldTag tables.TxField, op evm.OpCode) *txReadGadget {
	return &txReadGadget{name: name, state: state, fieldTag: fieldTag, op: op}
}

func (g *txReadGadget) Name() string { return g.name }

func (g *txReadGadget) States() []ExecutionState { return []ExecutionState{g.state} }

func (g *txReadGadget) Configure(cb *ConstraintBuilder) {
	g.value = cb.AllocWord(g.name + "/value")
	cb.TxLookup(g.name+"/read", g.fieldTag, g.value.Lo(), g.value.Hi())
	cb.StackPushWord(g.name+"/value", g.value)

	opcode := cb.constUint(uint64(g.op))
	cb.OpcodeAtPC(g.name+"/opcode", opcode)
	cb.ConstantGas(g.name+"/gas", opcode)
	cb.RequireTransition(StepStateTransition{})
}

func (g *txReadGadget) Assign(w *Witness, view StepView) error {
	value, err := view.StackValue(0)
	if err != nil {
		return err
	}
	w.SetWord(g.value, &value)
	return nil
}

// blockReadGadget covers opcodes that surface one block context field.
type blockReadGadget struct {
	name     string
	state    ExecutionState
	fieldTag tables.BlockField
	op       evm.OpCode

	value Word
}

func newBlockReadGadget(name string, state ExecutionState, fieldTag tables.BlockField, op evm.OpCode) *blockReadGadget {
	return &blockReadGadget{name: name, state: state, fieldTag: fieldTag, op: op}
}

func (g *blockReadGadget) Name() string { return g.name }

func (g *blockReadGadget) States() []ExecutionState { return []ExecutionState{g.state} }

func (g *blockReadGadget) Configure(cb *ConstraintBuilder) {
	g.value = cb.AllocWord(g.name + "/value")
	cb.BlockLookup(g.name+"/read", g.fieldTag, g.value.Lo(), g.value.Hi())
	cb.StackPushWord(g.name+"/value", g.value)

	opcode := cb.constUint(uint64(g.op))
	cb.OpcodeAtPC(g.name+"/opcode", opcode)
	cb.ConstantGas(g.name+"/gas", opcode)
	cb.RequireTransition(StepStateTransition{})
}

func (g *blockReadGadget) Assign(w *Witness, view StepView) error {
	value, err := view.StackValue(0)
	if err != nil {
		return err
	}
	w.SetWord(g.value, &value)
	return nil
}

// selfBalanceGadget covers SELFBALANCE. There is no account table to
// bind the balance to, so the pushed value is witnessed.
type selfBalanceGadget struct {
	value Word
}

func newSelfBalanceGadget() *selfBalanceGadget { return &selfBalanceGadget{} }

func (g *selfBalanceGadget) Name() string { return "self_balance" }

func (g *selfBalanceGadget) States() []ExecutionState { return []ExecutionState{StateSelfBalance} }

func (g *selfBalanceGadget) Configure(cb *ConstraintBuilder) {
	g.value = cb.AllocWord("self_balance/value")
	cb.StackPushWord("self_balance/value", g.value)

	opcode := cb.constUint(uint64(evm.SELFBALANCE))
	cb.OpcodeAtPC("self_balance/opcode", opcode)
	cb.ConstantGas("self_balance/gas", opcode)
	cb.RequireTransition(StepStateTransition{})
}

func (g *selfBalanceGadget) Assign(w *Witness, view StepView) error {
	value, err := view.StackValue(0)
	if err != nil {
		return err
	}
	w.SetWord(g.value, &value)
	return nil
}
