package gadgets

import (
	"github.com/zkevmlab/zkevm-go/evm"
)

// pushGadget covers PUSH1..PUSH32. A decreasing boolean selector per
// immediate byte conditions the bytecode lookups, and their sum pins the
// opcode to the push range.
type pushGadget struct {
	opcode Cell
	value  Word
	sel    [32]Cell
}

func newPushGadget() *pushGadget { return &pushGadget{} }

func (g *pushGadget) Name() string { return "push" }

func (g *pushGadget) States() []ExecutionState { return []ExecutionState{StatePush} }

func (g *pushGadget) Configure(cb *ConstraintBuilder) {
	g.opcode = cb.AllocCell()
	n := cb.addUint(cb.subUint(cb.v(g.opcode), uint64(evm.PUSH1)), 1)

	g.value = cb.AllocWordBytes("push/value")
	cb.StackPushWord("push/value", g.value)

	selSum := cb.zero()
	for k := 0; k < 32; k++ {
		g.sel[k] = cb.AllocBool("push/selector")
		selSum = cb.add(selSum, cb.v(g.sel[k]))
		if k > 0 {
			cb.requireZero("push/selector_monotonic",
				cb.mul(cb.v(g.sel[k]), cb.not(cb.v(g.sel[k-1]))))
		}
		cb.requireZero("push/padded_byte",
			cb.mul(cb.not(cb.v(g.sel[k])), cb.v(g.value.Byte(k))))
	}
	cb.requireEqual("push/selector_count", selSum, n)
	cb.requireZero("push/nonempty", cb.not(cb.v(g.sel[0])))

	// Immediate bytes sit after the opcode in code order, so the k-th
	// little-endian value byte lives at pc + n - k.
	for k := 0; k < 32; k++ {
		cb.Condition(cb.v(g.sel[k]), func() {
			index := cb.sub(cb.add(cb.v(cb.Curr.ProgramCounter), n), cb.constUint(uint64(k)))
			cb.BytecodeLookup("push/immediate", index, cb.v(g.value.Byte(k)), cb.zero())
		})
	}

	cb.OpcodeAtPC("push/opcode", cb.v(g.opcode))
	cb.ConstantGas("push/gas", cb.v(g.opcode))
	cb.RequireTransition(StepStateTransition{
		ProgramCounter: Delta(cb.addUint(n, 1)),
	})
}

func (g *pushGadget) Assign(w *Witness, view StepView) error {
	op := view.Step.Op
	w.SetUint64(g.opcode, uint64(op))

	value, err := view.StackValue(0)
	if err != nil {
		return err
	}
	w.SetWord(g.value, &value)

	n := op.PushSize()
	for k := 0; k < 32; k++ {
		w.SetBool(g.sel[k], k < n)
	}
	return nil
}

// popGadget covers POP: one unconstrained stack read.
type popGadget struct {
	a Word
}

func newPopGadget() *popGadget { return &popGadget{} }

func (g *popGadget) Name() string { return "pop" }

func (g *popGadget) States() []ExecutionState { return []ExecutionState{StatePop} }

func (g *popGadget) Configure(cb *ConstraintBuilder) {
	g.a = cb.StackPop("pop/a")
	opcode := cb.constUint(uint64(evm.POP))
	cb.OpcodeAtPC("pop/opcode", opcode)
	cb.ConstantGas("pop/gas", opcode)
	cb.RequireTransition(StepStateTransition{})
}

func (g *popGadget) Assign(w *Witness, view StepView) error {
	a, err := view.StackValue(0)
	if err != nil {
		return err
	}
	w.SetWord(g.a, &a)
	return nil
}

// dupGadget covers DUP1..DUP16: read at depth, write a new top.
type dupGadget struct {
	opcode Cell
	value  Word
}

func newDupGadget() *dupGadget { return &dupGadget{} }

func (g *dupGadget) Name() string { return "dup" }

func (g *dupGadget) States() []ExecutionState { return []ExecutionState{StateDup} }

func (g *dupGadget) Configure(cb *ConstraintBuilder) {
	g.opcode = cb.AllocCell()
	depth := cb.subUint(cb.v(g.opcode), uint64(evm.DUP1))
	cb.requireInSet("dup/depth_range", depth, rangeVals(16))

	g.value = cb.AllocWord("dup/value")
	cb.stackLookupAt("dup/read", false, depth, g.value.Lo(), g.value.Hi())
	cb.StackPushWord("dup/write", g.value)

	cb.OpcodeAtPC("dup/opcode", cb.v(g.opcode))
	cb.ConstantGas("dup/gas", cb.v(g.opcode))
	cb.RequireTransition(StepStateTransition{})
}

func (g *dupGadget) Assign(w *Witness, view StepView) error {
	w.SetUint64(g.opcode, uint64(view.Step.Op))
	value, err := view.StackValue(0)
	if err != nil {
		return err
	}
	w.SetWord(g.value, &value)
	return nil
}

// swapGadget covers SWAP1..SWAP16: two reads, two crossed writes.
type swapGadget struct {
	opcode Cell
	top    Word
	other  Word
}

func newSwapGadget() *swapGadget { return &swapGadget{} }

func (g *swapGadget) Name() string { return "swap" }

func (g *swapGadget) States() []ExecutionState { return []ExecutionState{StateSwap} }

func (g *swapGadget) Configure(cb *ConstraintBuilder) {
	g.opcode = cb.AllocCell()
	depth := cb.addUint(cb.subUint(cb.v(g.opcode), uint64(evm.SWAP1)), 1)
	cb.requireInSet("swap/depth_range", depth, rangeVals1(16))

	g.top = cb.AllocWord("swap/top")
	g.other = cb.AllocWord("swap/other")
	cb.stackLookupAt("swap/read_top", false, cb.zero(), g.top.Lo(), g.top.Hi())
	cb.stackLookupAt("swap/read_other", false, depth, g.other.Lo(), g.other.Hi())
	cb.stackLookupAt("swap/write_other", true, depth, g.top.Lo(), g.top.Hi())
	cb.stackLookupAt("swap/write_top", true, cb.zero(), g.other.Lo(), g.other.Hi())

	cb.OpcodeAtPC("swap/opcode", cb.v(g.opcode))
	cb.ConstantGas("swap/gas", cb.v(g.opcode))
	cb.RequireTransition(StepStateTransition{})
}

func (g *swapGadget) Assign(w *Witness, view StepView) error {
	w.SetUint64(g.opcode, uint64(view.Step.Op))
	top, err := view.StackValue(0)
	if err != nil {
		return err
	}
	other, err := view.StackValue(1)
	if err != nil {
		return err
	}
	w.SetWord(g.top, &top)
	w.SetWord(g.other, &other)
	return nil
}

func rangeVals(n int) []uint64 {
	out := make([]uint64, n)
	for i := range out {
		out[i] = uint64(i)
	}
	return out
}

func rangeVals1(n int) []uint64 {
	out := make([]uint64, n)
	for i := range out {
		out[i] = uint64(i + 1)
	}
	return out
}
