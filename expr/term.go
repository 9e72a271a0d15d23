package expr

import "github.com/consensys/gnark/constraint"

// Term is coeff * v_0 * v_1 * ... * v_k where each v_i is a circuit
// variable id. An empty id list denotes a constant term. Ids are kept
// sorted so that structurally equal terms compare equal.
type Term struct {
	VIDs  []int
	Coeff constraint.Element
}

// NewConstantTerm returns the term with value coeff.
func NewConstantTerm(coeff constraint.Element) Term {
	return Term{Coeff: coeff}
}

// NewLinearTerm returns coeff * v.
func NewLinearTerm(v int, coeff constraint.Element) Term {
	return Term{VIDs: []int{v}, Coeff: coeff}
}

// NewQuadraticTerm returns coeff * v0 * v1.
func NewQuadraticTerm(v0, v1 int, coeff constraint.Element) Term {
	if v0 < v1 {
		v0, v1 = v1, v0
	}
	return Term{VIDs: []int{v0, v1}, Coeff: coeff}
}

func (t Term) Degree() int {
	return len(t.VIDs)
}

func (t Term) sameMonomial(o Term) bool {
	if len(t.VIDs) != len(o.VIDs) {
		return false
	}
	for i := range t.VIDs {
		if t.VIDs[i] != o.VIDs[i] {
			return false
		}
	}
	return true
}

func (t Term) hashCode() uint64 {
	x := t.Coeff[0] ^ t.Coeff[1] ^ t.Coeff[2] ^ t.Coeff[3] ^ t.Coeff[4] ^ t.Coeff[5]
	for _, v := range t.VIDs {
		x = x*998244353 + uint64(v)
	}
	return x
}

func (t Term) monomialHash() uint64 {
	x := uint64(1)
	for _, v := range t.VIDs {
		x = x*998244353 + uint64(v)
	}
	return x
}

// lessMonomial orders terms by degree then lexicographically by ids.
func (t Term) lessMonomial(o Term) bool {
	if len(t.VIDs) != len(o.VIDs) {
		return len(t.VIDs) < len(o.VIDs)
	}
	for i := range t.VIDs {
		if t.VIDs[i] != o.VIDs[i] {
			return t.VIDs[i] < o.VIDs[i]
		}
	}
	return false
}
