package gadgets

import (
	"fmt"
	"math/big"

	"github.com/zkevmlab/zkevm-go/busmapping"
	"github.com/zkevmlab/zkevm-go/expr"
	"github.com/zkevmlab/zkevm-go/field"
	"github.com/zkevmlab/zkevm-go/tables"
)

// Cell is one witness variable of a configured gadget.
type Cell struct {
	VID int
}

// StepCells are the variables every gadget shares: the step state columns
// of the current row and, for transition constraints, the next row.
type StepCells struct {
	RwCounter              Cell
	ProgramCounter         Cell
	StackPointer           Cell
	GasLeft                Cell
	MemoryWordSize         Cell
	ReversibleWriteCounter Cell

	CallID                  Cell
	TxID                    Cell
	CalleeAddress           Cell
	IsPersistent            Cell
	RwCounterEndOfReversion Cell
	CodeHashLo              Cell
	CodeHashHi              Cell
}

// Named couples a polynomial with the name reported when it does not
// evaluate to zero.
type Named struct {
	Name string
	E    expr.Expression
}

// Lookup is a query against one of the circuit tables. Inputs follow the
// table's tuple encoding. A non-nil Cond scopes the query: the lookup is
// dropped for steps where Cond evaluates to zero.
type Lookup struct {
	Name   string
	Kind   tables.Kind
	Inputs []expr.Expression
	Cond   expr.Expression
}

type transitionKind uint8

const (
	transitionDefault transitionKind = iota
	transitionDelta
	transitionTo
	transitionSame
)

// Transition pins one step state column of the next row. The zero value
// leaves the column on its per-field default.
type Transition struct {
	kind  transitionKind
	value expr.Expression
}

// Delta constrains next = current + e.
func Delta(e expr.Expression) Transition { return Transition{kind: transitionDelta, value: e} }

// To constrains next = e.
func To(e expr.Expression) Transition { return Transition{kind: transitionTo, value: e} }

// Same constrains next = current.
func Same() Transition { return Transition{kind: transitionSame} }

// StepStateTransition describes how a step advances the machine state.
// The rw counter is not listed: it always advances by the number of
// sequential bus queries the gadget made. Defaults: the program counter
// advances by one, the stack pointer by the gadget's pop/push balance,
// gas left drops by the opcode's looked-up constant cost, and the
// remaining columns stay unchanged.
type StepStateTransition struct {
	ProgramCounter         Transition
	StackPointer           Transition
	GasLeft                Transition
	MemoryWordSize         Transition
	ReversibleWriteCounter Transition
}

// ConstraintBuilder accumulates the constraints and lookups of one
// gadget. Gadgets must emit every sequential bus query before declaring
// their state transition.
type ConstraintBuilder struct {
	f field.Field

	numCells int
	Curr     StepCells
	Next     StepCells

	constraints []Named
	transitions []Named
	lookups     []Lookup

	conds       []expr.Expression
	rwOffset    int
	stackOffset int

	gasCost *Cell
	pending *StepStateTransition
}

// NewConstraintBuilder returns a builder with the shared step cells
// already allocated.
func NewConstraintBuilder(f field.Field) *ConstraintBuilder {
	cb := &ConstraintBuilder{f: f}
	cb.Curr = cb.allocStepCells()
	cb.Next = cb.allocStepCells()
	return cb
}

func (cb *ConstraintBuilder) allocStepCells() StepCells {
	return StepCells{
		RwCounter:              cb.AllocCell(),
		ProgramCounter:         cb.AllocCell(),
		StackPointer:           cb.AllocCell(),
		GasLeft:                cb.AllocCell(),
		MemoryWordSize:         cb.AllocCell(),
		ReversibleWriteCounter: cb.AllocCell(),

		CallID:                  cb.AllocCell(),
		TxID:                    cb.AllocCell(),
		CalleeAddress:           cb.AllocCell(),
		IsPersistent:            cb.AllocCell(),
		RwCounterEndOfReversion: cb.AllocCell(),
		CodeHashLo:              cb.AllocCell(),
		CodeHashHi:              cb.AllocCell(),
	}
}

// AllocCell allocates an unconstrained witness cell.
func (cb *ConstraintBuilder) AllocCell() Cell {
	c := Cell{VID: cb.numCells}
	cb.numCells++
	return c
}

// expression helpers

func (cb *ConstraintBuilder) v(c Cell) expr.Expression {
	return expr.Variable(cb.f, c.VID)
}

func (cb *ConstraintBuilder) constUint(v uint64) expr.Expression {
	return expr.Constant(cb.f.FromInterface(v))
}

func (cb *ConstraintBuilder) constInt(v int64) expr.Expression {
	return expr.Constant(cb.f.FromInterface(v))
}

func (cb *ConstraintBuilder) constBig(v *big.Int) expr.Expression {
	return expr.Constant(cb.f.FromInterface(v))
}

func (cb *ConstraintBuilder) zero() expr.Expression { return expr.Expression{} }

func (cb *ConstraintBuilder) one() expr.Expression { return expr.Constant(cb.f.One()) }

func (cb *ConstraintBuilder) add(a, b expr.Expression) expr.Expression {
	return expr.Add(cb.f, a, b)
}

func (cb *ConstraintBuilder) sub(a, b expr.Expression) expr.Expression {
	return expr.Sub(cb.f, a, b)
}

func (cb *ConstraintBuilder) mul(a, b expr.Expression) expr.Expression {
	return expr.Mul(cb.f, a, b)
}

func (cb *ConstraintBuilder) neg(a expr.Expression) expr.Expression {
	return expr.Neg(cb.f, a)
}

func (cb *ConstraintBuilder) scale(a expr.Expression, v uint64) expr.Expression {
	return expr.Scale(cb.f, a, cb.f.FromInterface(v))
}

func (cb *ConstraintBuilder) addUint(a expr.Expression, v uint64) expr.Expression {
	return cb.add(a, cb.constUint(v))
}

func (cb *ConstraintBuilder) subUint(a expr.Expression, v uint64) expr.Expression {
	return cb.sub(a, cb.constUint(v))
}

// shift128 scales an expression by 2^128, placing it in the high half.
func (cb *ConstraintBuilder) shift128(e expr.Expression) expr.Expression {
	return expr.Scale(cb.f, e, cb.f.FromInterface(new(big.Int).Lsh(big.NewInt(1), 128)))
}

// not returns 1 - e, the complement of a boolean expression.
func (cb *ConstraintBuilder) not(e expr.Expression) expr.Expression {
	return cb.sub(cb.one(), e)
}

// choose returns cond*a + (1-cond)*b for a boolean cond.
func (cb *ConstraintBuilder) choose(cond, a, b expr.Expression) expr.Expression {
	return cb.add(cb.mul(cond, a), cb.mul(cb.not(cond), b))
}

func (cb *ConstraintBuilder) sum(es ...expr.Expression) expr.Expression {
	res := expr.Expression{}
	for _, e := range es {
		res = cb.add(res, e)
	}
	return res
}

// constraints

func (cb *ConstraintBuilder) requireZero(name string, e expr.Expression) {
	for _, cond := range cb.conds {
		e = cb.mul(cond, e)
	}
	cb.constraints = append(cb.constraints, Named{Name: name, E: e})
}

func (cb *ConstraintBuilder) requireEqual(name string, a, b expr.Expression) {
	cb.requireZero(name, cb.sub(a, b))
}

func (cb *ConstraintBuilder) requireBoolean(name string, e expr.Expression) {
	cb.requireZero(name, cb.mul(e, cb.not(e)))
}

func (cb *ConstraintBuilder) requireInSet(name string, e expr.Expression, vals []uint64) {
	prod := cb.one()
	for _, v := range vals {
		prod = cb.mul(prod, cb.subUint(e, v))
	}
	cb.requireZero(name, prod)
}

// Condition runs fn with every constraint and lookup it emits scoped by
// the boolean expression cond.
func (cb *ConstraintBuilder) Condition(cond expr.Expression, fn func()) {
	cb.conds = append(cb.conds, cond)
	fn()
	cb.conds = cb.conds[:len(cb.conds)-1]
}

// lookups

func (cb *ConstraintBuilder) addLookup(name string, kind tables.Kind, inputs []expr.Expression) {
	var cond expr.Expression
	for _, c := range cb.conds {
		if cond == nil {
			cond = c
		} else {
			cond = cb.mul(cond, c)
		}
	}
	cb.lookups = append(cb.lookups, Lookup{Name: name, Kind: kind, Inputs: inputs, Cond: cond})
}

func (cb *ConstraintBuilder) fixedLookup(name string, tag, v0, v1, v2 expr.Expression) {
	cb.addLookup(name, tables.KindFixed, []expr.Expression{tag, v0, v1, v2})
}

func (cb *ConstraintBuilder) fixedTag(t tables.FixedTag) expr.Expression {
	return cb.constUint(uint64(t))
}

// AllocU16 allocates a cell range-checked to 16 bits.
func (cb *ConstraintBuilder) AllocU16(name string) Cell {
	c := cb.AllocCell()
	cb.fixedLookup(name, cb.fixedTag(tables.FixedU16), cb.v(c), cb.zero(), cb.zero())
	return c
}

// AllocU8 allocates a cell range-checked to 8 bits.
func (cb *ConstraintBuilder) AllocU8(name string) Cell {
	c := cb.AllocCell()
	cb.fixedLookup(name, cb.fixedTag(tables.FixedU8), cb.v(c), cb.zero(), cb.zero())
	return c
}

// AllocBool allocates a cell constrained to 0 or 1.
func (cb *ConstraintBuilder) AllocBool(name string) Cell {
	c := cb.AllocCell()
	cb.requireBoolean(name, cb.v(c))
	return c
}

// AllocWord allocates a limb-backed word, each limb range-checked.
func (cb *ConstraintBuilder) AllocWord(name string) Word {
	w := Word{f: cb.f, cells: make([]Cell, wordLimbs)}
	for i := 0; i < wordLimbs; i++ {
		w.cells[i] = cb.AllocU16(name)
		w.limbs[i] = cb.v(w.cells[i])
	}
	return w
}

// AllocWordBytes allocates a byte-backed word: 32 range-checked byte
// cells, limbs derived from byte pairs.
func (cb *ConstraintBuilder) AllocWordBytes(name string) Word {
	w := Word{f: cb.f, bytes: make([]Cell, 32)}
	for k := 0; k < 32; k++ {
		w.bytes[k] = cb.AllocU8(name)
	}
	for i := 0; i < wordLimbs; i++ {
		lo := cb.v(w.bytes[2*i])
		hi := cb.v(w.bytes[2*i+1])
		w.limbs[i] = cb.add(lo, cb.scale(hi, 256))
	}
	return w
}

// wordLowUint64 constrains the word to 64 bits and returns it as one
// field element. Constraints inherit the current condition scope.
func (cb *ConstraintBuilder) wordLowUint64(name string, w Word) expr.Expression {
	for i := 4; i < wordLimbs; i++ {
		cb.requireZero(name, w.Limb(i))
	}
	res := expr.Expression{}
	for i := 0; i < 4; i++ {
		res = cb.add(res, cb.scale(w.Limb(i), uint64(1)<<uint(16*i)))
	}
	return res
}

// bus queries

// seqRw returns the counter of the next sequential bus query of the
// step, step.RwCounter + offset.
func (cb *ConstraintBuilder) seqRw() expr.Expression {
	e := cb.addUint(cb.v(cb.Curr.RwCounter), uint64(cb.rwOffset))
	cb.rwOffset++
	return e
}

func (cb *ConstraintBuilder) rwBool(write bool) expr.Expression {
	if write {
		return cb.one()
	}
	return cb.zero()
}

func (cb *ConstraintBuilder) rwLookup(name string, counter expr.Expression, write bool,
	tag busmapping.Target, id, addr, keyLo, keyHi, valLo, valHi, prevLo, prevHi, txID, comLo, comHi expr.Expression) {
	inputs := []expr.Expression{
		counter, cb.rwBool(write), cb.constUint(uint64(tag)),
		id, addr, keyLo, keyHi, valLo, valHi, prevLo, prevHi, txID, comLo, comHi,
	}
	for i, in := range inputs {
		if in == nil {
			inputs[i] = cb.zero()
		}
	}
	cb.addLookup(name, tables.KindRw, inputs)
}

func (cb *ConstraintBuilder) stackLookupAt(name string, write bool, offset, lo, hi expr.Expression) {
	addr := cb.add(cb.v(cb.Curr.StackPointer), offset)
	cb.rwLookup(name, cb.seqRw(), write, busmapping.TargetStack,
		cb.v(cb.Curr.CallID), addr, nil, nil, lo, hi, nil, nil, nil, nil, nil)
}

// StackPopInto reads the next operand into the given word.
func (cb *ConstraintBuilder) StackPopInto(name string, w Word) {
	cb.stackLookupAt(name, false, cb.constInt(int64(cb.stackOffset)), w.Lo(), w.Hi())
	cb.stackOffset++
}

// StackPop allocates a limb-backed word and reads the next operand into it.
func (cb *ConstraintBuilder) StackPop(name string) Word {
	w := cb.AllocWord(name)
	cb.StackPopInto(name, w)
	return w
}

// StackPush writes the result word at the position the pop/push balance
// dictates.
func (cb *ConstraintBuilder) StackPush(name string, lo, hi expr.Expression) {
	cb.stackOffset--
	cb.stackLookupAt(name, true, cb.constInt(int64(cb.stackOffset)), lo, hi)
}

// StackPushWord is StackPush of an allocated word.
func (cb *ConstraintBuilder) StackPushWord(name string, w Word) {
	cb.StackPush(name, w.Lo(), w.Hi())
}

// MemoryLookup queries one memory byte at the given address.
func (cb *ConstraintBuilder) MemoryLookup(name string, write bool, addr, byteE expr.Expression) {
	cb.rwLookup(name, cb.seqRw(), write, busmapping.TargetMemory,
		cb.v(cb.Curr.CallID), addr, nil, nil, byteE, nil, nil, nil, nil, nil, nil)
}

// CallContextLookup reads one field of the current call frame.
func (cb *ConstraintBuilder) CallContextLookup(name string, fieldTag busmapping.CallContextField, lo, hi expr.Expression) {
	cb.rwLookup(name, cb.seqRw(), false, busmapping.TargetCallContext,
		cb.v(cb.Curr.CallID), nil, cb.constUint(uint64(fieldTag)), nil, lo, hi, nil, nil, nil, nil, nil)
}

// StorageLookup queries a storage slot of the executing contract. The
// caller supplies the counter so reversion rollbacks can sit outside the
// step's sequential range.
func (cb *ConstraintBuilder) StorageLookup(name string, counter expr.Expression, write bool,
	key Word, valLo, valHi, prevLo, prevHi expr.Expression, committed Word) {
	cb.rwLookup(name, counter, write, busmapping.TargetStorage,
		nil, cb.v(cb.Curr.CalleeAddress), key.Lo(), key.Hi(),
		valLo, valHi, prevLo, prevHi,
		cb.v(cb.Curr.TxID), committed.Lo(), committed.Hi())
}

// BytecodeLookup queries one byte of the executing code.
func (cb *ConstraintBuilder) BytecodeLookup(name string, index, byteE, isCode expr.Expression) {
	cb.addLookup(name, tables.KindBytecode, []expr.Expression{
		cb.v(cb.Curr.CodeHashLo), cb.v(cb.Curr.CodeHashHi), index, byteE, isCode,
	})
}

// BlockLookup queries one block context field.
func (cb *ConstraintBuilder) BlockLookup(name string, fieldTag tables.BlockField, lo, hi expr.Expression) {
	cb.addLookup(name, tables.KindBlock, []expr.Expression{
		cb.zero(), cb.constUint(uint64(fieldTag)), lo, hi,
	})
}

// TxLookup queries one field of the enclosing transaction.
func (cb *ConstraintBuilder) TxLookup(name string, fieldTag tables.TxField, lo, hi expr.Expression) {
	cb.addLookup(name, tables.KindTx, []expr.Expression{
		cb.v(cb.Curr.TxID), cb.constUint(uint64(fieldTag)), lo, hi,
	})
}

// OpcodeAtPC binds the opcode expression to the byte under the program
// counter.
func (cb *ConstraintBuilder) OpcodeAtPC(name string, opcode expr.Expression) {
	cb.BytecodeLookup(name, cb.v(cb.Curr.ProgramCounter), opcode, cb.one())
}

// ConstantGas looks the opcode's constant cost up in the fixed table and
// makes it the default gas transition.
func (cb *ConstraintBuilder) ConstantGas(name string, opcode expr.Expression) {
	gc := cb.AllocCell()
	cb.gasCost = &gc
	cb.fixedLookup(name, cb.fixedTag(tables.FixedConstantGas), opcode, cb.v(gc), cb.zero())
}

// DynamicGas allocates a witnessed gas cost cell for opcodes whose cost
// the gadget does not reconstruct, and makes it the gas transition.
func (cb *ConstraintBuilder) DynamicGas(name string) Cell {
	gc := cb.AllocCell()
	cb.gasCost = &gc
	cb.fixedLookup(name, cb.fixedTag(tables.FixedU16), cb.v(gc), cb.zero(), cb.zero())
	return gc
}

// RequireTransition declares the step state transition. It is
// materialized when the gadget is finalized, so the rw counter and stack
// pointer deltas see the full pop/push balance.
func (cb *ConstraintBuilder) RequireTransition(t StepStateTransition) {
	cb.pending = &t
}

func (cb *ConstraintBuilder) materialize(name string, next, curr Cell, t Transition, def Transition) {
	if t.kind == transitionDefault {
		t = def
	}
	var e expr.Expression
	switch t.kind {
	case transitionDelta:
		e = cb.sub(cb.v(next), cb.add(cb.v(curr), t.value))
	case transitionTo:
		e = cb.sub(cb.v(next), t.value)
	default:
		e = cb.sub(cb.v(next), cb.v(curr))
	}
	cb.transitions = append(cb.transitions, Named{Name: name, E: e})
}

func (cb *ConstraintBuilder) finalize(g Gadget) *Configured {
	if cb.pending != nil {
		t := *cb.pending
		cb.materialize("transition/rw_counter", cb.Next.RwCounter, cb.Curr.RwCounter,
			Delta(cb.constUint(uint64(cb.rwOffset))), Transition{})
		cb.materialize("transition/program_counter", cb.Next.ProgramCounter, cb.Curr.ProgramCounter,
			t.ProgramCounter, Delta(cb.one()))
		cb.materialize("transition/stack_pointer", cb.Next.StackPointer, cb.Curr.StackPointer,
			t.StackPointer, Delta(cb.constInt(int64(cb.stackOffset))))
		gasDef := Same()
		if cb.gasCost != nil {
			gasDef = Delta(cb.neg(cb.v(*cb.gasCost)))
		}
		cb.materialize("transition/gas_left", cb.Next.GasLeft, cb.Curr.GasLeft,
			t.GasLeft, gasDef)
		cb.materialize("transition/memory_word_size", cb.Next.MemoryWordSize, cb.Curr.MemoryWordSize,
			t.MemoryWordSize, Same())
		cb.materialize("transition/reversible_write_counter",
			cb.Next.ReversibleWriteCounter, cb.Curr.ReversibleWriteCounter,
			t.ReversibleWriteCounter, Same())
	}
	return &Configured{
		Gadget:      g,
		NumCells:    cb.numCells,
		Curr:        cb.Curr,
		Next:        cb.Next,
		GasCost:     cb.gasCost,
		Constraints: cb.constraints,
		Transitions: cb.transitions,
		Lookups:     cb.lookups,
	}
}

// Configure runs the gadget's Configure against a fresh builder and
// returns the frozen result.
func Configure(f field.Field, g Gadget) (*Configured, error) {
	cb := NewConstraintBuilder(f)
	g.Configure(cb)
	for _, lk := range cb.lookups {
		var want int
		switch lk.Kind {
		case tables.KindRw:
			want = tables.RwTupleWidth
		case tables.KindBytecode:
			want = tables.BytecodeTupleWidth
		case tables.KindFixed:
			want = tables.FixedTupleWidth
		case tables.KindBlock, tables.KindTx:
			want = tables.ContextTupleWidth
		}
		if len(lk.Inputs) != want {
			return nil, fmt.Errorf("gadget %s: lookup %s has %d inputs, %s table takes %d",
				g.Name(), lk.Name, len(lk.Inputs), lk.Kind, want)
		}
	}
	return cb.finalize(g), nil
}
