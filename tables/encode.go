// Package tables builds the lookup tables the circuit layer proves against:
// the RW table with its per-tag consistency rules, the bytecode table and
// the fixed range/gas tables. Rows are encoded as tuples of field elements;
// 256-bit words appear as 128-bit lo/hi halves so they never wrap the BN254
// modulus.
package tables

import (
	"encoding/binary"
	"math/big"

	"github.com/consensys/gnark/constraint"
	"github.com/holiman/uint256"

	"github.com/zkevmlab/zkevm-go/field"
)

// Kind names a lookup table. Gadget lookups carry a Kind so the checker can
// route them to the right table.
type Kind uint8

const (
	KindRw Kind = iota
	KindBytecode
	KindFixed
	KindBlock
	KindTx
)

func (k Kind) String() string {
	switch k {
	case KindRw:
		return "rw"
	case KindBytecode:
		return "bytecode"
	case KindFixed:
		return "fixed"
	case KindBlock:
		return "block"
	case KindTx:
		return "tx"
	}
	return "unknown"
}

// WordLoHi splits a 256-bit word into its 128-bit halves.
func WordLoHi(f field.Field, w *uint256.Int) (lo, hi constraint.Element) {
	b := w.Bytes32()
	var loBig, hiBig big.Int
	loBig.SetBytes(b[16:])
	hiBig.SetBytes(b[:16])
	return f.FromInterface(&loBig), f.FromInterface(&hiBig)
}

// TupleKey returns a stable map key for a tuple of field elements.
func TupleKey(tuple []constraint.Element) string {
	buf := make([]byte, 0, len(tuple)*48)
	for _, e := range tuple {
		for _, limb := range e {
			buf = binary.LittleEndian.AppendUint64(buf, limb)
		}
	}
	return string(buf)
}

func boolElement(f field.Field, b bool) constraint.Element {
	if b {
		return f.One()
	}
	return constraint.Element{}
}
