package gadgets

import (
	"github.com/holiman/uint256"

	"github.com/zkevmlab/zkevm-go/evm"
	"github.com/zkevmlab/zkevm-go/expr"
)

// addSubGadget covers ADD and SUB with one shared addition identity:
// for SUB the popped result takes the addend slot and the minuend the
// sum slot.
type addSubGadget struct {
	isSub   Cell
	a, b, c Word
	adder   *wordAddChip
}

func newAddSubGadget() *addSubGadget { return &addSubGadget{} }

func (g *addSubGadget) Name() string { return "add_sub" }

func (g *addSubGadget) States() []ExecutionState { return []ExecutionState{StateAddSub} }

func (g *addSubGadget) Configure(cb *ConstraintBuilder) {
	g.isSub = cb.AllocBool("add_sub/is_sub")
	opcode := cb.addUint(cb.scale(cb.v(g.isSub), 2), uint64(evm.ADD))

	g.a = cb.StackPop("add_sub/a")
	g.b = cb.StackPop("add_sub/b")
	g.c = cb.AllocWord("add_sub/c")
	cb.StackPushWord("add_sub/c", g.c)

	var x, y, z [wordLimbs]expr.Expression
	for i := 0; i < wordLimbs; i++ {
		x[i] = g.b.Limb(i)
		y[i] = cb.choose(cb.v(g.isSub), g.c.Limb(i), g.a.Limb(i))
		z[i] = cb.choose(cb.v(g.isSub), g.a.Limb(i), g.c.Limb(i))
	}
	g.adder = newWordAdd(cb, "add_sub/word", x, y, z)

	cb.OpcodeAtPC("add_sub/opcode", opcode)
	cb.ConstantGas("add_sub/gas", opcode)
	cb.RequireTransition(StepStateTransition{})
}

func (g *addSubGadget) Assign(w *Witness, view StepView) error {
	isSub := view.Step.Op == evm.SUB
	w.SetBool(g.isSub, isSub)

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

	y := a
	if isSub {
		y = c
	}
	g.adder.assign(w, &b, &y)
	return nil
}

// mulGadget proves a*b = c mod 2^256 by limb convolution with carries.
type mulGadget struct {
	a, b, c Word
	carries [wordLimbs][3]Cell
}

func newMulGadget() *mulGadget { return &mulGadget{} }

func (g *mulGadget) Name() string { return "mul" }

func (g *mulGadget) States() []ExecutionState { return []ExecutionState{StateMul} }

func (g *mulGadget) Configure(cb *ConstraintBuilder) {
	g.a = cb.StackPop("mul/a")
	g.b = cb.StackPop("mul/b")
	g.c = cb.AllocWord("mul/c")
	cb.StackPushWord("mul/c", g.c)

	carry := func(k int) expr.Expression {
		e := cb.zero()
		for t := 0; t < 3; t++ {
			e = cb.add(e, cb.scale(cb.v(g.carries[k][t]), shl16(t)))
		}
		return e
	}
	for k := 0; k < wordLimbs; k++ {
		for t := 0; t < 3; t++ {
			g.carries[k][t] = cb.AllocU16("mul/carry")
		}
		lhs := cb.zero()
		for i := 0; i <= k; i++ {
			lhs = cb.add(lhs, cb.mul(g.a.Limb(i), g.b.Limb(k-i)))
		}
		if k > 0 {
			lhs = cb.add(lhs, carry(k-1))
		}
		rhs := cb.add(g.c.Limb(k), cb.scale(carry(k), 1<<16))
		cb.requireEqual("mul/limb", lhs, rhs)
	}

	opcode := cb.constUint(uint64(evm.MUL))
	cb.OpcodeAtPC("mul/opcode", opcode)
	cb.ConstantGas("mul/gas", opcode)
	cb.RequireTransition(StepStateTransition{})
}

func (g *mulGadget) Assign(w *Witness, view StepView) error {
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

	al, bl := limbsOf(&a), limbsOf(&b)
	carry := uint64(0)
	for k := 0; k < wordLimbs; k++ {
		t := carry
		for i := 0; i <= k; i++ {
			t += al[i] * bl[k-i]
		}
		carry = t >> 16
		for s := 0; s < 3; s++ {
			w.SetUint64(g.carries[k][s], (carry>>uint(16*s))&0xffff)
		}
	}
	return nil
}

func limbsOf(v *uint256.Int) [wordLimbs]uint64 {
	b := v.Bytes32()
	var out [wordLimbs]uint64
	for i := 0; i < wordLimbs; i++ {
		out[i] = uint64(b[31-2*i]) | uint64(b[30-2*i])<<8
	}
	return out
}
