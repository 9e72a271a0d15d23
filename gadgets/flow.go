package gadgets

import (
	"github.com/zkevmlab/zkevm-go/evm"
	"github.com/zkevmlab/zkevm-go/expr"
)

// stopGadget covers STOP. The step halts the frame, so nothing is
// constrained beyond the state mapping; a trailing STOP may also sit
// past the last code byte.
type stopGadget struct{}

func newStopGadget() *stopGadget { return &stopGadget{} }

func (g *stopGadget) Name() string { return "stop" }

func (g *stopGadget) States() []ExecutionState { return []ExecutionState{StateStop} }

func (g *stopGadget) Configure(cb *ConstraintBuilder) {}

func (g *stopGadget) Assign(w *Witness, view StepView) error { return nil }

// jumpGadget covers JUMP: the destination must hold a JUMPDEST marked as
// code.
type jumpGadget struct {
	dest Word
}

func newJumpGadget() *jumpGadget { return &jumpGadget{} }

func (g *jumpGadget) Name() string { return "jump" }

func (g *jumpGadget) States() []ExecutionState { return []ExecutionState{StateJump} }

func (g *jumpGadget) Configure(cb *ConstraintBuilder) {
	g.dest = cb.StackPop("jump/dest")
	addr := cb.wordLowUint64("jump/dest_range", g.dest)
	cb.BytecodeLookup("jump/dest_is_jumpdest", addr,
		cb.constUint(uint64(evm.JUMPDEST)), cb.one())

	opcode := cb.constUint(uint64(evm.JUMP))
	cb.OpcodeAtPC("jump/opcode", opcode)
	cb.ConstantGas("jump/gas", opcode)
	cb.RequireTransition(StepStateTransition{
		ProgramCounter: To(addr),
	})
}

func (g *jumpGadget) Assign(w *Witness, view StepView) error {
	dest, err := view.StackValue(0)
	if err != nil {
		return err
	}
	w.SetWord(g.dest, &dest)
	return nil
}

// jumpiGadget covers JUMPI: the destination rules only apply on a
// non-zero condition.
type jumpiGadget struct {
	dest     Word
	cond     Word
	zLo, zHi *isZeroChip
}

func newJumpiGadget() *jumpiGadget { return &jumpiGadget{} }

func (g *jumpiGadget) Name() string { return "jumpi" }

func (g *jumpiGadget) States() []ExecutionState { return []ExecutionState{StateJumpi} }

func (g *jumpiGadget) Configure(cb *ConstraintBuilder) {
	g.dest = cb.StackPop("jumpi/dest")
	g.cond = cb.StackPop("jumpi/cond")

	g.zLo = newIsZero(cb, "jumpi/cond_lo", g.cond.Lo())
	g.zHi = newIsZero(cb, "jumpi/cond_hi", g.cond.Hi())
	taken := cb.not(cb.mul(g.zLo.out, g.zHi.out))

	var addr expr.Expression
	cb.Condition(taken, func() {
		addr = cb.wordLowUint64("jumpi/dest_range", g.dest)
		cb.BytecodeLookup("jumpi/dest_is_jumpdest", addr,
			cb.constUint(uint64(evm.JUMPDEST)), cb.one())
	})

	opcode := cb.constUint(uint64(evm.JUMPI))
	cb.OpcodeAtPC("jumpi/opcode", opcode)
	cb.ConstantGas("jumpi/gas", opcode)
	cb.RequireTransition(StepStateTransition{
		ProgramCounter: To(cb.choose(taken, addr,
			cb.addUint(cb.v(cb.Curr.ProgramCounter), 1))),
	})
}

func (g *jumpiGadget) Assign(w *Witness, view StepView) error {
	dest, err := view.StackValue(0)
	if err != nil {
		return err
	}
	cond, err := view.StackValue(1)
	if err != nil {
		return err
	}
	w.SetWord(g.dest, &dest)
	w.SetWord(g.cond, &cond)

	lo, hi := halves(&cond)
	g.zLo.assign(w, w.f.FromInterface(lo))
	g.zHi.assign(w, w.f.FromInterface(hi))
	return nil
}

// jumpdestGadget covers JUMPDEST, a priced no-op.
type jumpdestGadget struct{}

func newJumpdestGadget() *jumpdestGadget { return &jumpdestGadget{} }

func (g *jumpdestGadget) Name() string { return "jumpdest" }

func (g *jumpdestGadget) States() []ExecutionState { return []ExecutionState{StateJumpdest} }

func (g *jumpdestGadget) Configure(cb *ConstraintBuilder) {
	opcode := cb.constUint(uint64(evm.JUMPDEST))
	cb.OpcodeAtPC("jumpdest/opcode", opcode)
	cb.ConstantGas("jumpdest/gas", opcode)
	cb.RequireTransition(StepStateTransition{})
}

func (g *jumpdestGadget) Assign(w *Witness, view StepView) error { return nil }

// pcGadget covers PC: push the current program counter.
type pcGadget struct{}

func newPcGadget() *pcGadget { return &pcGadget{} }

func (g *pcGadget) Name() string { return "pc" }

func (g *pcGadget) States() []ExecutionState { return []ExecutionState{StatePc} }

func (g *pcGadget) Configure(cb *ConstraintBuilder) {
	cb.StackPush("pc/value", cb.v(cb.Curr.ProgramCounter), cb.zero())
	opcode := cb.constUint(uint64(evm.PC))
	cb.OpcodeAtPC("pc/opcode", opcode)
	cb.ConstantGas("pc/gas", opcode)
	cb.RequireTransition(StepStateTransition{})
}

func (g *pcGadget) Assign(w *Witness, view StepView) error { return nil }

// gasGadget covers GAS: push the gas left after paying for the opcode.
type gasGadget struct{}

func newGasGadget() *gasGadget { return &gasGadget{} }

func (g *gasGadget) Name() string { return "gas" }

func (g *gasGadget) States() []ExecutionState { return []ExecutionState{StateGas} }

func (g *gasGadget) Configure(cb *ConstraintBuilder) {
	cb.StackPush("gas/value",
		cb.subUint(cb.v(cb.Curr.GasLeft), evm.GasQuickStep), cb.zero())
	opcode := cb.constUint(uint64(evm.GAS))
	cb.OpcodeAtPC("gas/opcode", opcode)
	cb.ConstantGas("gas/gas", opcode)
	cb.RequireTransition(StepStateTransition{})
}

func (g *gasGadget) Assign(w *Witness, view StepView) error { return nil }

// haltGadget covers RETURN and REVERT: two stack reads, then the frame
// ends, so no transition is constrained.
type haltGadget struct {
	name   string
	state  ExecutionState
	op     evm.OpCode
	offset Word
	length Word
}

func newHaltGadget(name string, state ExecutionState, op evm.OpCode) *haltGadget {
	return &haltGadget{name: name, state: state, op: op}
}

func (g *haltGadget) Name() string { return g.name }

func (g *haltGadget) States() []ExecutionState { return []ExecutionState{g.state} }

func (g *haltGadget) Configure(cb *ConstraintBuilder) {
	g.offset = cb.StackPop(g.name + "/offset")
	g.length = cb.StackPop(g.name + "/length")
	cb.OpcodeAtPC(g.name+"/opcode", cb.constUint(uint64(g.op)))
}

func (g *haltGadget) Assign(w *Witness, view StepView) error {
	offset, err := view.StackValue(0)
	if err != nil {
		return err
	}
	length, err := view.StackValue(1)
	if err != nil {
		return err
	}
	w.SetWord(g.offset, &offset)
	w.SetWord(g.length, &length)
	return nil
}

// errorGadget covers the error states. A failed step emits no bus
// operations and ends its frame, so the gadget only anchors the state.
type errorGadget struct {
	name  string
	state ExecutionState
}

func newErrorGadget(name string, state ExecutionState) *errorGadget {
	return &errorGadget{name: name, state: state}
}

func (g *errorGadget) Name() string { return g.name }

func (g *errorGadget) States() []ExecutionState { return []ExecutionState{g.state} }

func (g *errorGadget) Configure(cb *ConstraintBuilder) {}

func (g *errorGadget) Assign(w *Witness, view StepView) error { return nil }
