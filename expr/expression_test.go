package expr

import (
	"testing"

	"github.com/consensys/gnark/constraint"
	"github.com/stretchr/testify/require"

	"github.com/zkevmlab/zkevm-go/field"
)

func assignment(vals map[int]uint64) func(int) constraint.Element {
	f := field.BN254()
	return func(vid int) constraint.Element {
		return f.FromInterface(vals[vid])
	}
}

func TestAddMergesLikeTerms(t *testing.T) {
	f := field.BN254()

	a := Variable(f, 1)
	b := Variable(f, 1)
	sum := Add(f, a, b)
	require.Len(t, sum, 1)
	require.Equal(t, 1, sum.Degree())

	// v1 + (-v1) == 0
	zero := Add(f, a, Neg(f, b))
	require.True(t, zero.IsZero())
}

func TestMulDegree(t *testing.T) {
	f := field.BN254()

	v1 := Variable(f, 1)
	v2 := Variable(f, 2)
	prod := Mul(f, v1, v2)
	require.Equal(t, 2, prod.Degree())

	cubic := Mul(f, prod, v1)
	require.Equal(t, 3, cubic.Degree())
}

func TestEval(t *testing.T) {
	f := field.BN254()

	// 3*v1*v2 + 2*v3 + 5
	e := Add(f, Scale(f, Mul(f, Variable(f, 1), Variable(f, 2)), f.FromInterface(3)),
		Add(f, Scale(f, Variable(f, 3), f.FromInterface(2)), Constant(f.FromInterface(5))))

	got := Eval(f, e, assignment(map[int]uint64{1: 7, 2: 11, 3: 13}))
	require.Equal(t, "262", f.String(got)) // 3*77 + 26 + 5
}

func TestEqualAndHash(t *testing.T) {
	f := field.BN254()

	a := Add(f, Variable(f, 1), Variable(f, 2))
	b := Add(f, Variable(f, 2), Variable(f, 1))
	require.True(t, a.Equal(b))
	require.Equal(t, a.HashCode(), b.HashCode())

	c := Add(f, Variable(f, 1), Variable(f, 3))
	require.False(t, a.Equal(c))
}

func TestVars(t *testing.T) {
	f := field.BN254()
	e := Add(f, Mul(f, Variable(f, 4), Variable(f, 2)), Variable(f, 9))
	require.Equal(t, []int{2, 4, 9}, e.Vars())
}

func TestConstantValue(t *testing.T) {
	f := field.BN254()
	e := Constant(f.FromInterface(42))
	require.True(t, e.IsConstant())
	require.Equal(t, "42", f.String(e.ConstantValue()))
	require.True(t, Constant(constraint.Element{}).IsZero())
}
