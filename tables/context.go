package tables

import (
	"math/big"

	"github.com/consensys/gnark/constraint"
	"github.com/holiman/uint256"

	"github.com/zkevmlab/zkevm-go/field"
	"github.com/zkevmlab/zkevm-go/oracle"
)

// BlockField names a row of the block context table.
type BlockField uint8

const (
	BlockCoinbase BlockField = iota
	BlockTimestamp
	BlockNumber
	BlockGasLimit
	BlockBaseFee
	BlockDifficulty
)

// TxField names a row of the transaction context table.
type TxField uint8

const (
	TxOrigin TxField = iota
	TxGasPrice
	TxGasLimit
	TxValue
	TxCallDataLength
	TxIsCreate
)

// ContextTupleWidth covers both context tables: (id, field, value lo, value
// hi); the block table uses id 0.
const ContextTupleWidth = 4

// ContextTable holds the block-level and per-transaction environment values
// opcodes like TIMESTAMP and GASPRICE read.
type ContextTable struct {
	f       field.Field
	byBlock map[string]struct{}
	byTx    map[string]struct{}
}

func NewContextTable(f field.Field, block oracle.BlockContext, txs []oracle.Transaction) *ContextTable {
	t := &ContextTable{
		f:       f,
		byBlock: make(map[string]struct{}),
		byTx:    make(map[string]struct{}),
	}

	var coinbase uint256.Int
	coinbase.SetBytes(block.Coinbase.Bytes())
	t.addBlock(BlockCoinbase, &coinbase)
	t.addBlock(BlockTimestamp, uint256.NewInt(block.Time))
	t.addBlock(BlockNumber, uint256.NewInt(block.Number))
	t.addBlock(BlockGasLimit, uint256.NewInt(block.GasLimit))
	t.addBlock(BlockBaseFee, fromBig(block.BaseFee))
	t.addBlock(BlockDifficulty, fromBig(block.Difficulty))

	for i, tx := range txs {
		id := i + 1
		var origin uint256.Int
		origin.SetBytes(tx.From.Bytes())
		t.addTx(id, TxOrigin, &origin)
		t.addTx(id, TxGasPrice, fromBig(tx.GasPrice))
		t.addTx(id, TxGasLimit, uint256.NewInt(tx.GasLimit))
		t.addTx(id, TxValue, fromBig(tx.Value))
		t.addTx(id, TxCallDataLength, uint256.NewInt(uint64(len(tx.Input))))
		isCreate := uint256.Int{}
		if tx.To == nil {
			isCreate.SetOne()
		}
		t.addTx(id, TxIsCreate, &isCreate)
	}
	return t
}

func (t *ContextTable) addBlock(fieldTag BlockField, value *uint256.Int) {
	t.byBlock[TupleKey(contextTuple(t.f, 0, uint64(fieldTag), value))] = struct{}{}
}

func (t *ContextTable) addTx(id int, fieldTag TxField, value *uint256.Int) {
	t.byTx[TupleKey(contextTuple(t.f, id, uint64(fieldTag), value))] = struct{}{}
}

func contextTuple(f field.Field, id int, fieldTag uint64, value *uint256.Int) []constraint.Element {
	lo, hi := WordLoHi(f, value)
	return []constraint.Element{f.FromInterface(id), f.FromInterface(fieldTag), lo, hi}
}

// ContainsBlock reports whether (0, field, value) is a block context row.
func (t *ContextTable) ContainsBlock(tuple []constraint.Element) bool {
	_, ok := t.byBlock[TupleKey(tuple)]
	return ok
}

// ContainsTx reports whether (tx id, field, value) is a tx context row.
func (t *ContextTable) ContainsTx(tuple []constraint.Element) bool {
	_, ok := t.byTx[TupleKey(tuple)]
	return ok
}

func fromBig(x *big.Int) *uint256.Int {
	if x == nil {
		return &uint256.Int{}
	}
	v, _ := uint256.FromBig(x)
	return v
}
