package tables

import (
	"sort"

	"github.com/consensys/gnark/constraint"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/zkevmlab/zkevm-go/evm"
	"github.com/zkevmlab/zkevm-go/field"
)

// BytecodeTupleWidth is the element count of an encoded bytecode row:
// code hash lo/hi, index, byte, is_code.
const BytecodeTupleWidth = 5

// BytecodeRow is one byte of a deployed (or init) bytecode. IsCode is false
// for bytes inside PUSH immediate data; jump-destination validity and
// instruction fetches both depend on it.
type BytecodeRow struct {
	CodeHash common.Hash
	Index    int
	Byte     byte
	IsCode   bool
}

func (r *BytecodeRow) Tuple(f field.Field) []constraint.Element {
	var hash uint256.Int
	hash.SetBytes(r.CodeHash.Bytes())
	hashLo, hashHi := WordLoHi(f, &hash)
	return []constraint.Element{
		hashLo, hashHi,
		f.FromInterface(r.Index),
		f.FromInterface(uint64(r.Byte)),
		boolElement(f, r.IsCode),
	}
}

// BytecodeTable holds every executed bytecode, unrolled byte by byte.
type BytecodeTable struct {
	Rows []BytecodeRow

	f       field.Field
	byTuple map[string]struct{}
}

func NewBytecodeTable(f field.Field, bytecodes map[common.Hash][]byte) *BytecodeTable {
	hashes := make([]common.Hash, 0, len(bytecodes))
	for h := range bytecodes {
		hashes = append(hashes, h)
	}
	sort.Slice(hashes, func(i, j int) bool {
		return hashes[i].Hex() < hashes[j].Hex()
	})

	t := &BytecodeTable{f: f, byTuple: make(map[string]struct{})}
	for _, h := range hashes {
		t.addCode(h, bytecodes[h])
	}
	return t
}

func (t *BytecodeTable) addCode(hash common.Hash, code []byte) {
	// A byte is an instruction unless it sits inside the immediate data of
	// a preceding PUSH.
	pushData := 0
	for i, b := range code {
		isCode := pushData == 0
		if isCode {
			if op := evm.OpCode(b); op.IsPush() {
				pushData = op.PushSize()
			}
		} else {
			pushData--
		}
		row := BytecodeRow{CodeHash: hash, Index: i, Byte: b, IsCode: isCode}
		t.Rows = append(t.Rows, row)
		t.byTuple[TupleKey(row.Tuple(t.f))] = struct{}{}
	}
}

// Contains reports whether the encoded tuple is a row of the table.
func (t *BytecodeTable) Contains(tuple []constraint.Element) bool {
	_, ok := t.byTuple[TupleKey(tuple)]
	return ok
}
