package gadgets

import (
	"github.com/zkevmlab/zkevm-go/evm"
)

// mloadGadget covers MLOAD: 32 byte reads recombined into the pushed
// word, plus memory expansion pricing.
type mloadGadget struct {
	offset Word
	value  Word
	exp    *memExpansionChip
}

func newMloadGadget() *mloadGadget { return &mloadGadget{} }

func (g *mloadGadget) Name() string { return "mload" }

func (g *mloadGadget) States() []ExecutionState { return []ExecutionState{StateMload} }

func (g *mloadGadget) Configure(cb *ConstraintBuilder) {
	g.offset = cb.StackPop("mload/offset")
	addr := cb.wordLowUint64("mload/offset_range", g.offset)

	g.value = cb.AllocWordBytes("mload/value")
	for k := 0; k < 32; k++ {
		// Memory is big-endian: the byte at addr+k is value byte 31-k.
		cb.MemoryLookup("mload/byte", false,
			cb.addUint(addr, uint64(k)), cb.v(g.value.Byte(31-k)))
	}
	cb.StackPushWord("mload/value", g.value)

	g.exp = newMemExpansion(cb, "mload/expansion", cb.addUint(addr, 32))

	opcode := cb.constUint(uint64(evm.MLOAD))
	cb.OpcodeAtPC("mload/opcode", opcode)
	cb.RequireTransition(StepStateTransition{
		MemoryWordSize: To(g.exp.next),
		GasLeft:        Delta(cb.neg(cb.addUint(g.exp.gas, evm.GasFastestStep))),
	})
}

func (g *mloadGadget) Assign(w *Witness, view StepView) error {
	offset, err := view.StackValue(0)
	if err != nil {
		return err
	}
	value, err := view.StackValue(view.NumOps() - 1)
	if err != nil {
		return err
	}
	w.SetWord(g.offset, &offset)
	w.SetWord(g.value, &value)
	g.exp.assign(w, offset.Uint64()+32, view.Step.MemoryWordSize)
	return nil
}

// mstoreGadget covers MSTORE: 32 byte writes.
type mstoreGadget struct {
	offset Word
	value  Word
	exp    *memExpansionChip
}

func newMstoreGadget() *mstoreGadget { return &mstoreGadget{} }

func (g *mstoreGadget) Name() string { return "mstore" }

func (g *mstoreGadget) States() []ExecutionState { return []ExecutionState{StateMstore} }

func (g *mstoreGadget) Configure(cb *ConstraintBuilder) {
	g.offset = cb.StackPop("mstore/offset")
	g.value = cb.AllocWordBytes("mstore/value")
	cb.StackPopInto("mstore/value", g.value)

	addr := cb.wordLowUint64("mstore/offset_range", g.offset)
	for k := 0; k < 32; k++ {
		cb.MemoryLookup("mstore/byte", true,
			cb.addUint(addr, uint64(k)), cb.v(g.value.Byte(31-k)))
	}

	g.exp = newMemExpansion(cb, "mstore/expansion", cb.addUint(addr, 32))

	opcode := cb.constUint(uint64(evm.MSTORE))
	cb.OpcodeAtPC("mstore/opcode", opcode)
	cb.RequireTransition(StepStateTransition{
		MemoryWordSize: To(g.exp.next),
		GasLeft:        Delta(cb.neg(cb.addUint(g.exp.gas, evm.GasFastestStep))),
	})
}

func (g *mstoreGadget) Assign(w *Witness, view StepView) error {
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
	g.exp.assign(w, offset.Uint64()+32, view.Step.MemoryWordSize)
	return nil
}

// mstore8Gadget covers MSTORE8: a single byte write of the value's low
// byte.
type mstore8Gadget struct {
	offset Word
	value  Word
	exp    *memExpansionChip
}

func newMstore8Gadget() *mstore8Gadget { return &mstore8Gadget{} }

func (g *mstore8Gadget) Name() string { return "mstore8" }

func (g *mstore8Gadget) States() []ExecutionState { return []ExecutionState{StateMstore8} }

func (g *mstore8Gadget) Configure(cb *ConstraintBuilder) {
	g.offset = cb.StackPop("mstore8/offset")
	g.value = cb.AllocWordBytes("mstore8/value")
	cb.StackPopInto("mstore8/value", g.value)

	addr := cb.wordLowUint64("mstore8/offset_range", g.offset)
	cb.MemoryLookup("mstore8/byte", true, addr, cb.v(g.value.Byte(0)))

	g.exp = newMemExpansion(cb, "mstore8/expansion", cb.addUint(addr, 1))

	opcode := cb.constUint(uint64(evm.MSTORE8))
	cb.OpcodeAtPC("mstore8/opcode", opcode)
	cb.RequireTransition(StepStateTransition{
		MemoryWordSize: To(g.exp.next),
		GasLeft:        Delta(cb.neg(cb.addUint(g.exp.gas, evm.GasFastestStep))),
	})
}

func (g *mstore8Gadget) Assign(w *Witness, view StepView) error {
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
	g.exp.assign(w, offset.Uint64()+1, view.Step.MemoryWordSize)
	return nil
}

// msizeGadget covers MSIZE: push the active word count times 32.
type msizeGadget struct {
	value Word
}

func newMsizeGadget() *msizeGadget { return &msizeGadget{} }

func (g *msizeGadget) Name() string { return "msize" }

func (g *msizeGadget) States() []ExecutionState { return []ExecutionState{StateMsize} }

func (g *msizeGadget) Configure(cb *ConstraintBuilder) {
	g.value = cb.AllocWord("msize/value")
	low := cb.wordLowUint64("msize/value_range", g.value)
	cb.requireEqual("msize/value", low, cb.scale(cb.v(cb.Curr.MemoryWordSize), 32))
	cb.StackPushWord("msize/value", g.value)

	opcode := cb.constUint(uint64(evm.MSIZE))
	cb.OpcodeAtPC("msize/opcode", opcode)
	cb.ConstantGas("msize/gas", opcode)
	cb.RequireTransition(StepStateTransition{})
}

func (g *msizeGadget) Assign(w *Witness, view StepView) error {
	value, err := view.StackValue(0)
	if err != nil {
		return err
	}
	w.SetWord(g.value, &value)
	return nil
}
