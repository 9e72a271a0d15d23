package tables

import (
	"github.com/consensys/gnark/constraint"

	"github.com/zkevmlab/zkevm-go/evm"
	"github.com/zkevmlab/zkevm-go/field"
)

// FixedTag selects one of the fixed sub-tables. The fixed table is a single
// lookup target with rows (tag, v0, v1, v2).
type FixedTag uint8

const (
	FixedU8 FixedTag = iota
	FixedU10
	FixedU16
	FixedBoolean
	// FixedConstantGas holds (opcode, constant gas) for every defined
	// opcode without dynamic gas.
	FixedConstantGas
	FixedBitwiseAnd
	FixedBitwiseOr
	FixedBitwiseXor
)

func (t FixedTag) String() string {
	switch t {
	case FixedU8:
		return "u8"
	case FixedU10:
		return "u10"
	case FixedU16:
		return "u16"
	case FixedBoolean:
		return "boolean"
	case FixedConstantGas:
		return "constant_gas"
	case FixedBitwiseAnd:
		return "bitwise_and"
	case FixedBitwiseOr:
		return "bitwise_or"
	case FixedBitwiseXor:
		return "bitwise_xor"
	}
	return "unknown"
}

// FixedTupleWidth is tag plus three values.
const FixedTupleWidth = 4

// FixedTable answers membership queries for the fixed sub-tables. The range
// and bitwise families are closed-form, so membership is decided directly
// instead of materializing two hundred thousand rows.
type FixedTable struct {
	f field.Field
}

func NewFixedTable(f field.Field) *FixedTable {
	return &FixedTable{f: f}
}

// Contains reports whether (tag, v0, v1, v2) is a fixed table row.
func (t *FixedTable) Contains(tuple []constraint.Element) bool {
	if len(tuple) != FixedTupleWidth {
		return false
	}
	tag, ok := t.smallUint(tuple[0])
	if !ok {
		return false
	}
	v0, ok0 := t.smallUint(tuple[1])
	v1, ok1 := t.smallUint(tuple[2])
	v2, ok2 := t.smallUint(tuple[3])

	switch FixedTag(tag) {
	case FixedU8:
		return ok0 && v0 < 1<<8 && t.zero(tuple[2]) && t.zero(tuple[3])
	case FixedU10:
		return ok0 && v0 < 1<<10 && t.zero(tuple[2]) && t.zero(tuple[3])
	case FixedU16:
		return ok0 && v0 < 1<<16 && t.zero(tuple[2]) && t.zero(tuple[3])
	case FixedBoolean:
		return ok0 && v0 <= 1 && t.zero(tuple[2]) && t.zero(tuple[3])
	case FixedConstantGas:
		if !ok0 || !ok1 || v0 > 0xff || !t.zero(tuple[3]) {
			return false
		}
		op := evm.OpCode(v0)
		return op.IsDefined() && !op.HasDynamicGas() && v1 == op.ConstantGas()
	case FixedBitwiseAnd:
		return ok0 && ok1 && ok2 && v0 < 256 && v1 < 256 && v2 == v0&v1
	case FixedBitwiseOr:
		return ok0 && ok1 && ok2 && v0 < 256 && v1 < 256 && v2 == v0|v1
	case FixedBitwiseXor:
		return ok0 && ok1 && ok2 && v0 < 256 && v1 < 256 && v2 == v0^v1
	}
	return false
}

func (t *FixedTable) smallUint(e constraint.Element) (uint64, bool) {
	v := t.f.ToBigInt(e)
	if v.Sign() < 0 || v.BitLen() > 63 {
		return 0, false
	}
	return v.Uint64(), true
}

func (t *FixedTable) zero(e constraint.Element) bool {
	return t.f.ToBigInt(e).Sign() == 0
}
