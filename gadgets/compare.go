package gadgets

import (
	"github.com/zkevmlab/zkevm-go/evm"
	"github.com/zkevmlab/zkevm-go/expr"
)

// cmpGadget covers LT, GT and EQ. GT swaps the operands and reuses the
// unsigned less-than circuit.
type cmpGadget struct {
	isGt, isEq Cell
	a, b       Word
	lt         *wordLtChip
	eqLo, eqHi *isZeroChip
}

func newCmpGadget() *cmpGadget { return &cmpGadget{} }

func (g *cmpGadget) Name() string { return "cmp" }

func (g *cmpGadget) States() []ExecutionState { return []ExecutionState{StateCmp} }

func (g *cmpGadget) Configure(cb *ConstraintBuilder) {
	g.isGt = cb.AllocBool("cmp/is_gt")
	g.isEq = cb.AllocBool("cmp/is_eq")
	cb.requireZero("cmp/selector_exclusive", cb.mul(cb.v(g.isGt), cb.v(g.isEq)))
	opcode := cb.sum(cb.constUint(uint64(evm.LT)), cb.v(g.isGt), cb.scale(cb.v(g.isEq), 4))

	g.a = cb.StackPop("cmp/a")
	g.b = cb.StackPop("cmp/b")

	lhsLo := cb.choose(cb.v(g.isGt), g.b.Lo(), g.a.Lo())
	lhsHi := cb.choose(cb.v(g.isGt), g.b.Hi(), g.a.Hi())
	rhsLo := cb.choose(cb.v(g.isGt), g.a.Lo(), g.b.Lo())
	rhsHi := cb.choose(cb.v(g.isGt), g.a.Hi(), g.b.Hi())

	g.lt = newWordLt(cb, "cmp/lt", lhsLo, lhsHi, rhsLo, rhsHi)
	g.eqLo = newIsZero(cb, "cmp/eq_lo", cb.sub(g.a.Lo(), g.b.Lo()))
	g.eqHi = newIsZero(cb, "cmp/eq_hi", cb.sub(g.a.Hi(), g.b.Hi()))

	eq := cb.mul(g.eqLo.out, g.eqHi.out)
	res := cb.choose(cb.v(g.isEq), eq, g.lt.out(cb))
	cb.StackPush("cmp/result", res, cb.zero())

	cb.OpcodeAtPC("cmp/opcode", opcode)
	cb.ConstantGas("cmp/gas", opcode)
	cb.RequireTransition(StepStateTransition{})
}

func (g *cmpGadget) Assign(w *Witness, view StepView) error {
	op := view.Step.Op
	w.SetBool(g.isGt, op == evm.GT)
	w.SetBool(g.isEq, op == evm.EQ)

	a, err := view.StackValue(0)
	if err != nil {
		return err
	}
	b, err := view.StackValue(1)
	if err != nil {
		return err
	}
	w.SetWord(g.a, &a)
	w.SetWord(g.b, &b)

	lhs, rhs := &a, &b
	if op == evm.GT {
		lhs, rhs = &b, &a
	}
	g.lt.assign(w, lhs, rhs)

	aLo, aHi := halves(&a)
	bLo, bHi := halves(&b)
	g.eqLo.assign(w, w.f.Sub(w.f.FromInterface(aLo), w.f.FromInterface(bLo)))
	g.eqHi.assign(w, w.f.Sub(w.f.FromInterface(aHi), w.f.FromInterface(bHi)))
	return nil
}

// signedCmpGadget covers SLT and SGT. Operands of equal sign compare as
// unsigned words; otherwise the negative one is smaller.
type signedCmpGadget struct {
	isSgt  Cell
	a, b   Word
	sa, sb *signChip
	lt     *wordLtChip
}

func newSignedCmpGadget() *signedCmpGadget { return &signedCmpGadget{} }

func (g *signedCmpGadget) Name() string { return "signed_cmp" }

func (g *signedCmpGadget) States() []ExecutionState { return []ExecutionState{StateSignedCmp} }

func (g *signedCmpGadget) Configure(cb *ConstraintBuilder) {
	g.isSgt = cb.AllocBool("signed_cmp/is_sgt")
	opcode := cb.addUint(cb.v(g.isSgt), uint64(evm.SLT))

	g.a = cb.StackPop("signed_cmp/a")
	g.b = cb.StackPop("signed_cmp/b")

	sel := func(x, y expr.Expression) expr.Expression {
		return cb.choose(cb.v(g.isSgt), y, x)
	}
	g.sa = newSign(cb, "signed_cmp/sign_lhs", sel(g.a.Limb(15), g.b.Limb(15)))
	g.sb = newSign(cb, "signed_cmp/sign_rhs", sel(g.b.Limb(15), g.a.Limb(15)))
	g.lt = newWordLt(cb, "signed_cmp/lt",
		sel(g.a.Lo(), g.b.Lo()), sel(g.a.Hi(), g.b.Hi()),
		sel(g.b.Lo(), g.a.Lo()), sel(g.b.Hi(), g.a.Hi()))

	sa, sb := g.sa.out(cb), g.sb.out(cb)
	sameSign := cb.add(cb.mul(cb.not(sa), cb.not(sb)), cb.mul(sa, sb))
	res := cb.add(cb.mul(sa, cb.not(sb)), cb.mul(sameSign, g.lt.out(cb)))
	cb.StackPush("signed_cmp/result", res, cb.zero())

	cb.OpcodeAtPC("signed_cmp/opcode", opcode)
	cb.ConstantGas("signed_cmp/gas", opcode)
	cb.RequireTransition(StepStateTransition{})
}

func (g *signedCmpGadget) Assign(w *Witness, view StepView) error {
	isSgt := view.Step.Op == evm.SGT
	w.SetBool(g.isSgt, isSgt)

	a, err := view.StackValue(0)
	if err != nil {
		return err
	}
	b, err := view.StackValue(1)
	if err != nil {
		return err
	}
	w.SetWord(g.a, &a)
	w.SetWord(g.b, &b)

	lhs, rhs := &a, &b
	if isSgt {
		lhs, rhs = &b, &a
	}
	g.sa.assign(w, limbsOf(lhs)[15])
	g.sb.assign(w, limbsOf(rhs)[15])
	g.lt.assign(w, lhs, rhs)
	return nil
}

// isZeroGadget covers ISZERO.
type isZeroGadget struct {
	a        Word
	zLo, zHi *isZeroChip
}

func newIsZeroGadget() *isZeroGadget { return &isZeroGadget{} }

func (g *isZeroGadget) Name() string { return "is_zero" }

func (g *isZeroGadget) States() []ExecutionState { return []ExecutionState{StateIsZero} }

func (g *isZeroGadget) Configure(cb *ConstraintBuilder) {
	g.a = cb.StackPop("is_zero/a")
	g.zLo = newIsZero(cb, "is_zero/lo", g.a.Lo())
	g.zHi = newIsZero(cb, "is_zero/hi", g.a.Hi())
	cb.StackPush("is_zero/result", cb.mul(g.zLo.out, g.zHi.out), cb.zero())

	opcode := cb.constUint(uint64(evm.ISZERO))
	cb.OpcodeAtPC("is_zero/opcode", opcode)
	cb.ConstantGas("is_zero/gas", opcode)
	cb.RequireTransition(StepStateTransition{})
}

func (g *isZeroGadget) Assign(w *Witness, view StepView) error {
	a, err := view.StackValue(0)
	if err != nil {
		return err
	}
	w.SetWord(g.a, &a)
	lo, hi := halves(&a)
	g.zLo.assign(w, w.f.FromInterface(lo))
	g.zHi.assign(w, w.f.FromInterface(hi))
	return nil
}

// byteGadget covers BYTE: select the idx-th byte of a, most significant
// first, zero when idx is out of range.
type byteGadget struct {
	idx   Word
	a     Word
	idxHi *isZeroChip
	sel   [32]*isZeroChip
}

func newByteGadget() *byteGadget { return &byteGadget{} }

func (g *byteGadget) Name() string { return "byte" }

func (g *byteGadget) States() []ExecutionState { return []ExecutionState{StateByte} }

func (g *byteGadget) Configure(cb *ConstraintBuilder) {
	g.idx = cb.StackPop("byte/idx")
	g.a = cb.AllocWordBytes("byte/a")
	cb.StackPopInto("byte/a", g.a)

	g.idxHi = newIsZero(cb, "byte/idx_hi", g.idx.Hi())
	res := cb.zero()
	for k := 0; k < 32; k++ {
		// Big-endian index i selects the little-endian byte 31-i.
		g.sel[k] = newIsZero(cb, "byte/select",
			cb.subUint(g.idx.Lo(), uint64(31-k)))
		res = cb.add(res, cb.mul(g.sel[k].out, cb.v(g.a.Byte(k))))
	}
	cb.StackPush("byte/result", cb.mul(g.idxHi.out, res), cb.zero())

	opcode := cb.constUint(uint64(evm.BYTE))
	cb.OpcodeAtPC("byte/opcode", opcode)
	cb.ConstantGas("byte/gas", opcode)
	cb.RequireTransition(StepStateTransition{})
}

func (g *byteGadget) Assign(w *Witness, view StepView) error {
	idx, err := view.StackValue(0)
	if err != nil {
		return err
	}
	a, err := view.StackValue(1)
	if err != nil {
		return err
	}
	w.SetWord(g.idx, &idx)
	w.SetWord(g.a, &a)

	idxLo, idxHi := halves(&idx)
	g.idxHi.assign(w, w.f.FromInterface(idxHi))
	for k := 0; k < 32; k++ {
		diff := w.f.Sub(w.f.FromInterface(idxLo), w.f.FromInterface(uint64(31-k)))
		g.sel[k].assign(w, diff)
	}
	return nil
}
