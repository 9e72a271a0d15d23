package gadgets

import (
	"math/big"

	"github.com/consensys/gnark/constraint"
	"github.com/holiman/uint256"

	"github.com/zkevmlab/zkevm-go/expr"
	"github.com/zkevmlab/zkevm-go/tables"
)

// isZeroChip proves out = (e == 0) with an inverse hint cell.
type isZeroChip struct {
	inv Cell
	out expr.Expression
}

func newIsZero(cb *ConstraintBuilder, name string, e expr.Expression) *isZeroChip {
	ch := &isZeroChip{inv: cb.AllocCell()}
	ch.out = cb.not(cb.mul(e, cb.v(ch.inv)))
	// e != 0 forces out = 0; e == 0 makes out = 1 for any inverse.
	cb.requireZero(name, cb.mul(e, ch.out))
	return ch
}

func (ch *isZeroChip) assign(w *Witness, val constraint.Element) {
	inv, ok := w.f.Inverse(val)
	if !ok {
		inv = constraint.Element{}
	}
	w.Set(ch.inv, inv)
}

// ltChip proves lt = (lhs < rhs) for operands below 2^bits, via the
// identity lhs - rhs + lt*2^bits = diff with diff range-checked to bits.
type ltChip struct {
	bits int
	lt   Cell
	diff []Cell
}

func newLt(cb *ConstraintBuilder, name string, bits int, lhs, rhs expr.Expression) *ltChip {
	ch := &ltChip{bits: bits, lt: cb.AllocBool(name)}
	ch.diff = make([]Cell, bits/16)
	diffVal := cb.zero()
	for i := range ch.diff {
		ch.diff[i] = cb.AllocU16(name)
		diffVal = cb.add(diffVal, cb.scale(cb.v(ch.diff[i]), shl16(i)))
	}
	bound := new(big.Int).Lsh(big.NewInt(1), uint(bits))
	cb.requireZero(name, cb.sub(
		cb.add(cb.sub(lhs, rhs), cb.mul(cb.v(ch.lt), cb.constBig(bound))),
		diffVal))
	return ch
}

func (ch *ltChip) out(cb *ConstraintBuilder) expr.Expression { return cb.v(ch.lt) }

func (ch *ltChip) assign(w *Witness, lhs, rhs *big.Int) bool {
	lt := lhs.Cmp(rhs) < 0
	w.SetBool(ch.lt, lt)
	diff := new(big.Int).Sub(lhs, rhs)
	if lt {
		diff.Add(diff, new(big.Int).Lsh(big.NewInt(1), uint(ch.bits)))
	}
	for i := range ch.diff {
		limb := new(big.Int).Rsh(diff, uint(16*i))
		w.SetUint64(ch.diff[i], limb.Uint64()&0xffff)
	}
	return lt
}

// wordLtChip composes two 128-bit comparisons into a 256-bit one.
type wordLtChip struct {
	lo, hi *ltChip
	eqHi   *isZeroChip
}

func newWordLt(cb *ConstraintBuilder, name string, lhsLo, lhsHi, rhsLo, rhsHi expr.Expression) *wordLtChip {
	ch := &wordLtChip{}
	ch.lo = newLt(cb, name+"/lo", 128, lhsLo, rhsLo)
	ch.hi = newLt(cb, name+"/hi", 128, lhsHi, rhsHi)
	ch.eqHi = newIsZero(cb, name+"/eq_hi", cb.sub(lhsHi, rhsHi))
	return ch
}

func (ch *wordLtChip) out(cb *ConstraintBuilder) expr.Expression {
	return cb.add(ch.hi.out(cb), cb.mul(ch.eqHi.out, ch.lo.out(cb)))
}

func (ch *wordLtChip) assign(w *Witness, lhs, rhs *uint256.Int) {
	lhsLo, lhsHi := halves(lhs)
	rhsLo, rhsHi := halves(rhs)
	ch.lo.assign(w, lhsLo, rhsLo)
	ch.hi.assign(w, lhsHi, rhsHi)
	ch.eqHi.assign(w, w.f.Sub(w.f.FromInterface(lhsHi), w.f.FromInterface(rhsHi)))
}

func halves(v *uint256.Int) (lo, hi *big.Int) {
	b := v.Bytes32()
	return new(big.Int).SetBytes(b[16:]), new(big.Int).SetBytes(b[:16])
}

// wordAddChip proves x + y = z mod 2^256 limbwise with boolean carries.
type wordAddChip struct {
	carries [wordLimbs]Cell
}

func newWordAdd(cb *ConstraintBuilder, name string, x, y, z [wordLimbs]expr.Expression) *wordAddChip {
	ch := &wordAddChip{}
	for i := 0; i < wordLimbs; i++ {
		ch.carries[i] = cb.AllocBool(name)
		lhs := cb.add(x[i], y[i])
		if i > 0 {
			lhs = cb.add(lhs, cb.v(ch.carries[i-1]))
		}
		rhs := cb.add(z[i], cb.scale(cb.v(ch.carries[i]), 1<<16))
		cb.requireEqual(name, lhs, rhs)
	}
	return ch
}

func (ch *wordAddChip) assign(w *Witness, x, y *uint256.Int) {
	xb, yb := x.Bytes32(), y.Bytes32()
	carry := uint64(0)
	for i := 0; i < wordLimbs; i++ {
		xl := uint64(xb[31-2*i]) | uint64(xb[30-2*i])<<8
		yl := uint64(yb[31-2*i]) | uint64(yb[30-2*i])<<8
		t := xl + yl + carry
		carry = t >> 16
		w.SetUint64(ch.carries[i], carry)
	}
}

// signChip splits a word's top limb into its sign bit and the low 15
// bits, range-checked by looking up the doubled remainder.
type signChip struct {
	msb Cell
	low Cell
}

func newSign(cb *ConstraintBuilder, name string, topLimb expr.Expression) *signChip {
	ch := &signChip{msb: cb.AllocBool(name), low: cb.AllocCell()}
	cb.fixedLookup(name, cb.fixedTag(tables.FixedU16), cb.scale(cb.v(ch.low), 2), cb.zero(), cb.zero())
	cb.requireEqual(name, topLimb,
		cb.add(cb.scale(cb.v(ch.msb), 1<<15), cb.v(ch.low)))
	return ch
}

func (ch *signChip) out(cb *ConstraintBuilder) expr.Expression { return cb.v(ch.msb) }

func (ch *signChip) assign(w *Witness, topLimb uint64) {
	w.SetBool(ch.msb, topLimb>>15 == 1)
	w.SetUint64(ch.low, topLimb&0x7fff)
}

// quadCostChip decomposes floor(words^2 / 512), the quadratic part of
// the memory cost function.
type quadCostChip struct {
	quot [8]Cell
	rem  Cell
	out  expr.Expression
}

func newQuadCost(cb *ConstraintBuilder, name string, words expr.Expression) *quadCostChip {
	ch := &quadCostChip{rem: cb.AllocCell()}
	quotVal := cb.zero()
	for i := range ch.quot {
		ch.quot[i] = cb.AllocU16(name)
		quotVal = cb.add(quotVal, cb.scale(cb.v(ch.quot[i]), shl16(i)))
	}
	// rem < 512, checked by looking up the doubled value in the u10 range.
	cb.fixedLookup(name+"/rem", cb.fixedTag(tables.FixedU10),
		cb.scale(cb.v(ch.rem), 2), cb.zero(), cb.zero())
	cb.requireEqual(name, cb.mul(words, words),
		cb.add(cb.scale(quotVal, 512), cb.v(ch.rem)))
	ch.out = quotVal
	return ch
}

func (ch *quadCostChip) assign(w *Witness, words uint64) {
	sq := new(big.Int).Mul(new(big.Int).SetUint64(words), new(big.Int).SetUint64(words))
	quot := new(big.Int).Rsh(sq, 9)
	for i := range ch.quot {
		limb := new(big.Int).Rsh(quot, uint(16*i))
		w.SetUint64(ch.quot[i], limb.Uint64()&0xffff)
	}
	w.SetUint64(ch.rem, new(big.Int).And(sq, big.NewInt(511)).Uint64())
}

// memExpansionChip computes the memory word size after an access ending
// at addrEnd and the gas the growth costs, 3 per new word plus the
// growth of the quadratic term. Both quadratic floors are decomposed
// separately, matching how the interpreter prices expansion.
type memExpansionChip struct {
	qLimbs   [4]Cell
	pad      [5]Cell
	lt       *ltChip
	quadNext *quadCostChip
	quadCurr *quadCostChip

	next expr.Expression
	gas  expr.Expression
}

func newMemExpansion(cb *ConstraintBuilder, name string, addrEnd expr.Expression) *memExpansionChip {
	ch := &memExpansionChip{}

	q := cb.zero()
	for i := range ch.qLimbs {
		ch.qLimbs[i] = cb.AllocU16(name + "/words")
		q = cb.add(q, cb.scale(cb.v(ch.qLimbs[i]), shl16(i)))
	}
	padVal := cb.zero()
	for i := range ch.pad {
		ch.pad[i] = cb.AllocBool(name + "/pad")
		padVal = cb.add(padVal, cb.scale(cb.v(ch.pad[i]), uint64(1)<<uint(i)))
	}
	cb.requireEqual(name+"/alignment", cb.add(addrEnd, padVal), cb.scale(q, 32))

	curr := cb.v(cb.Curr.MemoryWordSize)
	ch.lt = newLt(cb, name+"/grow", 64, curr, q)
	ch.next = cb.choose(ch.lt.out(cb), q, curr)

	ch.quadNext = newQuadCost(cb, name+"/quad_next", ch.next)
	ch.quadCurr = newQuadCost(cb, name+"/quad_curr", curr)

	ch.gas = cb.add(
		cb.scale(cb.sub(ch.next, curr), 3),
		cb.sub(ch.quadNext.out, ch.quadCurr.out))
	return ch
}

func (ch *memExpansionChip) assign(w *Witness, addrEnd, currWords uint64) {
	q := (addrEnd + 31) / 32
	pad := q*32 - addrEnd
	for i := range ch.qLimbs {
		w.SetUint64(ch.qLimbs[i], (q>>uint(16*i))&0xffff)
	}
	for i := range ch.pad {
		w.SetUint64(ch.pad[i], (pad>>uint(i))&1)
	}
	ch.lt.assign(w, new(big.Int).SetUint64(currWords), new(big.Int).SetUint64(q))

	next := currWords
	if q > currWords {
		next = q
	}
	ch.quadNext.assign(w, next)
	ch.quadCurr.assign(w, currWords)
}

func shl16(i int) uint64 { return uint64(1) << uint(16*i) }
