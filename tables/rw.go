package tables

import (
	"fmt"
	"sort"

	"github.com/consensys/gnark/constraint"
	"github.com/holiman/uint256"

	"github.com/zkevmlab/zkevm-go/busmapping"
	"github.com/zkevmlab/zkevm-go/field"
)

// RwTupleWidth is the number of field elements in an encoded RW row:
// counter, is_write, tag, id, address, key lo/hi, value lo/hi, value_prev
// lo/hi, tx_id, committed lo/hi.
const RwTupleWidth = 14

// RwRow is one row of the RW table. The meaning of ID, Address and Key
// depends on the tag: stack rows use (call id, stack pointer), memory rows
// (call id, byte address), storage rows (contract address, slot key) with a
// zero ID, call-context rows (call id, field tag as key).
type RwRow struct {
	Counter int
	IsWrite bool
	Tag     busmapping.Target
	ID      int
	Address uint256.Int
	Key     uint256.Int

	Value     uint256.Int
	ValuePrev uint256.Int

	TxID      int
	Committed uint256.Int
}

// Tuple encodes the row for lookups and the permutation argument.
func (r *RwRow) Tuple(f field.Field) []constraint.Element {
	keyLo, keyHi := WordLoHi(f, &r.Key)
	valLo, valHi := WordLoHi(f, &r.Value)
	prevLo, prevHi := WordLoHi(f, &r.ValuePrev)
	comLo, comHi := WordLoHi(f, &r.Committed)
	// Addresses fit 160 bits, one element is enough.
	addr := f.FromInterface(r.Address.ToBig())
	return []constraint.Element{
		f.FromInterface(r.Counter),
		boolElement(f, r.IsWrite),
		f.FromInterface(uint64(r.Tag)),
		f.FromInterface(r.ID),
		addr,
		keyLo, keyHi,
		valLo, valHi,
		prevLo, prevHi,
		f.FromInterface(r.TxID),
		comLo, comHi,
	}
}

// RuleError reports the first violated RW table rule.
type RuleError struct {
	Rule    string
	Counter int
}

func (e *RuleError) Error() string {
	return fmt.Sprintf("rw table rule %q violated at counter %d", e.Rule, e.Counter)
}

func ruleErr(rule string, counter int) error {
	return &RuleError{Rule: rule, Counter: counter}
}

// RwTable is the sorted RW table of one batch.
type RwTable struct {
	// Rows are sorted lexicographically by (tag, id, address, key,
	// counter); the start row sorts first.
	Rows []RwRow

	f       field.Field
	byTuple map[string]struct{}
}

// NewRwTable converts the batch's operation sequence into sorted rows.
func NewRwTable(f field.Field, container *busmapping.OperationContainer) *RwTable {
	rows := make([]RwRow, 0, len(container.Ops))
	for i := range container.Ops {
		rows = append(rows, rwRowOf(&container.Ops[i]))
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return lessRw(&rows[i], &rows[j])
	})

	t := &RwTable{Rows: rows, f: f, byTuple: make(map[string]struct{}, len(rows))}
	for i := range rows {
		t.byTuple[TupleKey(rows[i].Tuple(f))] = struct{}{}
	}
	return t
}

func rwRowOf(op *busmapping.Operation) RwRow {
	row := RwRow{
		Counter: op.RWCounter,
		IsWrite: op.RW.IsWrite(),
		Tag:     op.Op.Target(),
	}
	switch o := op.Op.(type) {
	case busmapping.StartOp:
	case busmapping.StackOp:
		row.ID = o.CallID
		row.Address = *uint256.NewInt(uint64(o.StackPointer))
		row.Value = o.Value
	case busmapping.MemoryOp:
		row.ID = o.CallID
		row.Address = *uint256.NewInt(o.Address)
		row.Value = *uint256.NewInt(uint64(o.Byte))
	case busmapping.StorageOp:
		row.Address.SetBytes(o.Address.Bytes())
		row.Key = o.Key
		row.Value = o.Value
		row.ValuePrev = o.ValuePrev
		row.TxID = o.TxID
		row.Committed = o.Committed
	case busmapping.CallContextOp:
		row.ID = o.CallID
		row.Key = *uint256.NewInt(uint64(o.Field))
		row.Value = o.Value
	}
	return row
}

func lessRw(a, b *RwRow) bool {
	if a.Tag != b.Tag {
		return a.Tag < b.Tag
	}
	if a.ID != b.ID {
		return a.ID < b.ID
	}
	if c := a.Address.Cmp(&b.Address); c != 0 {
		return c < 0
	}
	if c := a.Key.Cmp(&b.Key); c != 0 {
		return c < 0
	}
	return a.Counter < b.Counter
}

func sameKey(a, b *RwRow) bool {
	return a.Tag == b.Tag && a.ID == b.ID &&
		a.Address.Eq(&b.Address) && a.Key.Eq(&b.Key)
}

// Contains reports whether the encoded tuple is a row of the table.
func (t *RwTable) Contains(tuple []constraint.Element) bool {
	_, ok := t.byTuple[TupleKey(tuple)]
	return ok
}

// Tuples returns every row encoded, for the permutation argument.
func (t *RwTable) Tuples() [][]constraint.Element {
	out := make([][]constraint.Element, len(t.Rows))
	for i := range t.Rows {
		out[i] = t.Rows[i].Tuple(t.f)
	}
	return out
}

var (
	u10Max  = uint256.NewInt(1 << 10)
	byteMax = uint256.NewInt(1 << 8)
)

// Verify checks the table-side invariants: the start anchor, global counter
// uniqueness and the per-tag first-access and read-after-write rules.
func (t *RwTable) Verify() error {
	if len(t.Rows) == 0 || t.Rows[0].Tag != busmapping.TargetStart || t.Rows[0].Counter != 0 {
		return ruleErr("start/counter_zero", 0)
	}

	seen := make(map[int]struct{}, len(t.Rows))
	for i := range t.Rows {
		row := &t.Rows[i]
		if i > 0 && row.Tag == busmapping.TargetStart {
			return ruleErr("start/unique", row.Counter)
		}
		if _, dup := seen[row.Counter]; dup {
			return ruleErr("global/counter_unique", row.Counter)
		}
		seen[row.Counter] = struct{}{}

		var prev *RwRow
		if i > 0 && sameKey(&t.Rows[i-1], row) {
			prev = &t.Rows[i-1]
			if prev.Counter >= row.Counter {
				return ruleErr("global/sorted", row.Counter)
			}
		}

		var err error
		switch row.Tag {
		case busmapping.TargetStack:
			err = verifyStack(row, prev)
		case busmapping.TargetMemory:
			err = verifyMemory(row, prev)
		case busmapping.TargetStorage:
			err = verifyStorage(row, prev)
		case busmapping.TargetCallContext:
			err = verifyCallContext(row, prev)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func verifyStack(row, prev *RwRow) error {
	if row.Address.Cmp(u10Max) >= 0 {
		return ruleErr("stack/pointer_range", row.Counter)
	}
	if prev == nil {
		if !row.IsWrite {
			return ruleErr("stack/first_access_write", row.Counter)
		}
		return nil
	}
	if !row.IsWrite && !row.Value.Eq(&prev.Value) {
		return ruleErr("stack/read_consistency", row.Counter)
	}
	return nil
}

func verifyMemory(row, prev *RwRow) error {
	if row.Value.Cmp(byteMax) >= 0 {
		return ruleErr("memory/value_byte", row.Counter)
	}
	if prev == nil {
		// Fresh memory reads as zero.
		if !row.IsWrite && !row.Value.IsZero() {
			return ruleErr("memory/first_read_zero", row.Counter)
		}
		return nil
	}
	if !row.IsWrite && !row.Value.Eq(&prev.Value) {
		return ruleErr("memory/read_consistency", row.Counter)
	}
	return nil
}

func verifyStorage(row, prev *RwRow) error {
	if prev == nil {
		if !row.ValuePrev.Eq(&row.Committed) {
			return ruleErr("storage/first_access_committed", row.Counter)
		}
	} else {
		if !row.ValuePrev.Eq(&prev.Value) {
			return ruleErr("storage/value_prev_chain", row.Counter)
		}
		if row.TxID == prev.TxID && !row.Committed.Eq(&prev.Committed) {
			return ruleErr("storage/committed_constant_in_tx", row.Counter)
		}
		if row.TxID != prev.TxID && !row.Committed.Eq(&prev.Value) {
			return ruleErr("storage/committed_carries_over", row.Counter)
		}
	}
	if !row.IsWrite && !row.Value.Eq(&row.ValuePrev) {
		return ruleErr("storage/read_consistency", row.Counter)
	}
	return nil
}

func verifyCallContext(row, prev *RwRow) error {
	// Root frame fields are never written inside the sequence, so a first
	// access may be a read; its value is bound by the call arena instead.
	if prev != nil && !row.IsWrite && !row.Value.Eq(&prev.Value) {
		return ruleErr("callcontext/read_consistency", row.Counter)
	}
	return nil
}
