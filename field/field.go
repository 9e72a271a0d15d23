// Package field wraps the gnark constraint.Field arithmetic used by the
// constraint layers. All circuit values are elements of the BN254 scalar
// field; constraint.Element is the 6-limb representation shared with gnark.
package field

import (
	"math/big"

	"github.com/consensys/gnark/constraint"
)

// Field extends gnark's constraint.Field with the modulus and bit length,
// which gadget construction needs for range reasoning.
type Field interface {
	constraint.Field
	Field() *big.Int
	FieldBitLen() int
}

// BN254 returns the scalar field of the BN254 curve, the field every
// circuit in this module is built over.
func BN254() Field {
	return &bn254Field{}
}
