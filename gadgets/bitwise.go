package gadgets

import (
	"math/big"

	"github.com/zkevmlab/zkevm-go/evm"
	"github.com/zkevmlab/zkevm-go/tables"
)

// halfMask is 2^128 - 1, the all-ones value of one word half.
func halfMask() *big.Int {
	return new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))
}

// bitwiseGadget covers AND, OR and XOR with per-byte fixed table
// lookups. The three fixed tags are laid out in opcode order, so one
// selector expression picks both the opcode and the tag.
type bitwiseGadget struct {
	isOr, isXor Cell
	a, b, c     Word
}

func newBitwiseGadget() *bitwiseGadget { return &bitwiseGadget{} }

func (g *bitwiseGadget) Name() string { return "bitwise" }

func (g *bitwiseGadget) States() []ExecutionState { return []ExecutionState{StateBitwise} }

func (g *bitwiseGadget) Configure(cb *ConstraintBuilder) {
	g.isOr = cb.AllocBool("bitwise/is_or")
	g.isXor = cb.AllocBool("bitwise/is_xor")
	cb.requireZero("bitwise/selector_exclusive", cb.mul(cb.v(g.isOr), cb.v(g.isXor)))
	idx := cb.add(cb.v(g.isOr), cb.scale(cb.v(g.isXor), 2))
	opcode := cb.addUint(idx, uint64(evm.AND))
	tag := cb.addUint(idx, uint64(tables.FixedBitwiseAnd))

	g.a = cb.AllocWordBytes("bitwise/a")
	g.b = cb.AllocWordBytes("bitwise/b")
	g.c = cb.AllocWordBytes("bitwise/c")
	cb.StackPopInto("bitwise/a", g.a)
	cb.StackPopInto("bitwise/b", g.b)
	cb.StackPushWord("bitwise/c", g.c)

	for k := 0; k < 32; k++ {
		cb.fixedLookup("bitwise/byte", tag,
			cb.v(g.a.Byte(k)), cb.v(g.b.Byte(k)), cb.v(g.c.Byte(k)))
	}

	cb.OpcodeAtPC("bitwise/opcode", opcode)
	cb.ConstantGas("bitwise/gas", opcode)
	cb.RequireTransition(StepStateTransition{})
}

func (g *bitwiseGadget) Assign(w *Witness, view StepView) error {
	op := view.Step.Op
	w.SetBool(g.isOr, op == evm.OR)
	w.SetBool(g.isXor, op == evm.XOR)

	a, err := view.StackValue(0)
	if err != nil {
		return err
	}
	b, err := view.StackValue(1)
	if err != nil {
		return err
	}
	c, err := view.StackValue(2)
	if err != nil {
		return err
	}
	w.SetWord(g.a, &a)
	w.SetWord(g.b, &b)
	w.SetWord(g.c, &c)
	return nil
}

// notGadget covers NOT: every result limb is the 16-bit complement of
// the operand limb, so only the operand needs cells.
type notGadget struct {
	a Word
}

func newNotGadget() *notGadget { return &notGadget{} }

func (g *notGadget) Name() string { return "not" }

func (g *notGadget) States() []ExecutionState { return []ExecutionState{StateNot} }

func (g *notGadget) Configure(cb *ConstraintBuilder) {
	g.a = cb.StackPop("not/a")

	mask := cb.constBig(halfMask())
	cb.StackPush("not/result",
		cb.sub(mask, g.a.Lo()),
		cb.sub(mask, g.a.Hi()))

	opcode := cb.constUint(uint64(evm.NOT))
	cb.OpcodeAtPC("not/opcode", opcode)
	cb.ConstantGas("not/gas", opcode)
	cb.RequireTransition(StepStateTransition{})
}

func (g *notGadget) Assign(w *Witness, view StepView) error {
	a, err := view.StackValue(0)
	if err != nil {
		return err
	}
	w.SetWord(g.a, &a)
	return nil
}
