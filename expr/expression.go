// Package expr implements multivariate polynomial expressions over circuit
// variables, the common vocabulary of the gadget and assembler layers.
// Coefficients are field elements in gnark's constraint.Element form.
package expr

import (
	"sort"

	"github.com/consensys/gnark/constraint"

	"github.com/zkevmlab/zkevm-go/field"
)

// Expression is a sum of terms, kept sorted by monomial and with like
// monomials merged. The zero polynomial is the empty expression.
type Expression []Term

// Constant returns the expression with fixed value c.
func Constant(c constraint.Element) Expression {
	if c.IsZero() {
		return Expression{}
	}
	return Expression{NewConstantTerm(c)}
}

// Linear returns c * v.
func Linear(v int, c constraint.Element) Expression {
	return Expression{NewLinearTerm(v, c)}
}

// Variable returns the expression 1 * v.
func Variable(f field.Field, v int) Expression {
	return Expression{NewLinearTerm(v, f.One())}
}

func (e Expression) Clone() Expression {
	res := make(Expression, len(e))
	copy(res, e)
	return res
}

// Degree returns the total degree of the polynomial.
func (e Expression) Degree() int {
	res := 0
	for _, t := range e {
		if d := t.Degree(); d > res {
			res = d
		}
	}
	return res
}

func (e Expression) IsZero() bool {
	return len(e) == 0
}

func (e Expression) IsConstant() bool {
	return e.Degree() == 0
}

// ConstantValue returns the value of a constant expression.
func (e Expression) ConstantValue() constraint.Element {
	if len(e) == 0 {
		return constraint.Element{}
	}
	return e[0].Coeff
}

// Equal reports whether both normalized expressions are the same polynomial.
func (e Expression) Equal(o Expression) bool {
	if len(e) != len(o) {
		return false
	}
	for i := range e {
		if !e[i].sameMonomial(o[i]) || e[i].Coeff != o[i].Coeff {
			return false
		}
	}
	return true
}

// HashCode is a fast, not collision resistant, identifier for the
// normalized expression.
func (e Expression) HashCode() uint64 {
	h := uint64(17)
	for _, t := range e {
		h = h*23 + t.hashCode()
	}
	return h
}

// normalize sorts terms and merges like monomials, dropping zero terms.
func normalize(f field.Field, terms []Term) Expression {
	sort.Slice(terms, func(i, j int) bool { return terms[i].lessMonomial(terms[j]) })
	res := make(Expression, 0, len(terms))
	for _, t := range terms {
		if n := len(res); n > 0 && res[n-1].sameMonomial(t) {
			res[n-1].Coeff = f.Add(res[n-1].Coeff, t.Coeff)
			continue
		}
		res = append(res, Term{VIDs: t.VIDs, Coeff: t.Coeff})
	}
	out := res[:0]
	for _, t := range res {
		if !t.Coeff.IsZero() {
			out = append(out, t)
		}
	}
	return Expression(out)
}

// Add returns a + b.
func Add(f field.Field, a, b Expression) Expression {
	terms := make([]Term, 0, len(a)+len(b))
	terms = append(terms, a...)
	terms = append(terms, b...)
	return normalize(f, terms)
}

// Sub returns a - b.
func Sub(f field.Field, a, b Expression) Expression {
	return Add(f, a, Neg(f, b))
}

// Neg returns -a.
func Neg(f field.Field, a Expression) Expression {
	res := a.Clone()
	for i := range res {
		res[i].Coeff = f.Neg(res[i].Coeff)
	}
	return res
}

// Scale returns c * a.
func Scale(f field.Field, a Expression, c constraint.Element) Expression {
	if c.IsZero() {
		return Expression{}
	}
	res := a.Clone()
	for i := range res {
		res[i].Coeff = f.Mul(res[i].Coeff, c)
	}
	return res
}

// Mul returns a * b, the full product of both polynomials.
func Mul(f field.Field, a, b Expression) Expression {
	terms := make([]Term, 0, len(a)*len(b))
	for _, ta := range a {
		for _, tb := range b {
			vids := make([]int, 0, len(ta.VIDs)+len(tb.VIDs))
			vids = append(vids, ta.VIDs...)
			vids = append(vids, tb.VIDs...)
			sort.Sort(sort.Reverse(sort.IntSlice(vids)))
			terms = append(terms, Term{VIDs: vids, Coeff: f.Mul(ta.Coeff, tb.Coeff)})
		}
	}
	return normalize(f, terms)
}

// Eval computes the value of e under the assignment at, which maps a
// variable id to its witnessed value.
func Eval(f field.Field, e Expression, at func(vid int) constraint.Element) constraint.Element {
	var acc constraint.Element
	for _, t := range e {
		v := t.Coeff
		for _, vid := range t.VIDs {
			v = f.Mul(v, at(vid))
		}
		acc = f.Add(acc, v)
	}
	return acc
}

// Vars returns the sorted set of variable ids referenced by e.
func (e Expression) Vars() []int {
	seen := map[int]struct{}{}
	for _, t := range e {
		for _, v := range t.VIDs {
			seen[v] = struct{}{}
		}
	}
	res := make([]int, 0, len(seen))
	for v := range seen {
		res = append(res, v)
	}
	sort.Ints(res)
	return res
}
