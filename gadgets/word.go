package gadgets

import (
	"math/big"

	"github.com/zkevmlab/zkevm-go/expr"
	"github.com/zkevmlab/zkevm-go/field"
)

const wordLimbs = 16

// Word is a 256-bit EVM word as 16 little-endian 16-bit limbs. Limbs are
// expressions; allocated words additionally carry their backing cells so
// the witness side can assign them. Byte-backed words expose the 32 byte
// cells (least significant first) and derive the limbs from them.
type Word struct {
	f     field.Field
	limbs [wordLimbs]expr.Expression
	cells []Cell
	bytes []Cell
}

// Limb returns the i-th 16-bit limb, least significant first.
func (w Word) Limb(i int) expr.Expression { return w.limbs[i] }

// Byte returns the k-th byte cell, least significant first. Only valid
// for byte-backed words.
func (w Word) Byte(k int) Cell { return w.bytes[k] }

func (w Word) half(from int) expr.Expression {
	res := expr.Expression{}
	shift := big.NewInt(1)
	for i := 0; i < 8; i++ {
		c := w.f.FromInterface(new(big.Int).Set(shift))
		res = expr.Add(w.f, res, expr.Scale(w.f, w.limbs[from+i], c))
		shift = new(big.Int).Lsh(shift, 16)
	}
	return res
}

// Lo is the low 128 bits of the word as one field element.
func (w Word) Lo() expr.Expression { return w.half(0) }

// Hi is the high 128 bits of the word as one field element.
func (w Word) Hi() expr.Expression { return w.half(8) }
