package gadgets

import (
	"fmt"
	"math/big"

	"github.com/consensys/gnark/constraint"
	"github.com/holiman/uint256"

	"github.com/zkevmlab/zkevm-go/busmapping"
	"github.com/zkevmlab/zkevm-go/expr"
	"github.com/zkevmlab/zkevm-go/field"
)

// Witness holds the assigned value of every cell of one step.
type Witness struct {
	f    field.Field
	vals []constraint.Element
}

// NewWitness returns an all-zero witness for n cells.
func NewWitness(f field.Field, n int) *Witness {
	return &Witness{f: f, vals: make([]constraint.Element, n)}
}

func (w *Witness) Set(c Cell, v constraint.Element) { w.vals[c.VID] = v }

func (w *Witness) SetUint64(c Cell, v uint64) { w.Set(c, w.f.FromInterface(v)) }

func (w *Witness) SetBig(c Cell, v *big.Int) { w.Set(c, w.f.FromInterface(v)) }

func (w *Witness) SetBool(c Cell, v bool) {
	if v {
		w.Set(c, w.f.One())
	} else {
		w.Set(c, constraint.Element{})
	}
}

// SetWord assigns a word's backing cells from a 256-bit value.
func (w *Witness) SetWord(wd Word, v *uint256.Int) {
	b := v.Bytes32()
	if wd.bytes != nil {
		for k := 0; k < 32; k++ {
			w.SetUint64(wd.bytes[k], uint64(b[31-k]))
		}
		return
	}
	for i := 0; i < wordLimbs; i++ {
		limb := uint64(b[31-2*i]) | uint64(b[30-2*i])<<8
		w.SetUint64(wd.cells[i], limb)
	}
}

// Value returns the assigned value of a variable, for expression
// evaluation.
func (w *Witness) Value(vid int) constraint.Element { return w.vals[vid] }

// Eval evaluates an expression under this witness.
func (w *Witness) Eval(e expr.Expression) constraint.Element {
	return expr.Eval(w.f, e, w.Value)
}

// StepView is one replayed step with everything a gadget needs to assign
// its witness: the step, the next step of the same call frame if any,
// the enclosing call and transaction, and the batch whose container the
// step's rw indices point into.
type StepView struct {
	Batch *busmapping.Batch
	Tx    *busmapping.TxInput
	Step  *busmapping.ExecStep
	Next  *busmapping.ExecStep
	Call  *busmapping.Call
}

// Op resolves the i-th bus operation of the step.
func (v StepView) Op(i int) *busmapping.Operation {
	return &v.Batch.Container.Ops[v.Step.RWIndices[i]]
}

// NumOps is the number of bus operations the step produced, rollbacks
// included.
func (v StepView) NumOps() int { return len(v.Step.RWIndices) }

// StackValue returns the value of the i-th operation, which must be a
// stack access.
func (v StepView) StackValue(i int) (uint256.Int, error) {
	op, ok := v.Op(i).Op.(busmapping.StackOp)
	if !ok {
		return uint256.Int{}, fmt.Errorf("operation %d of %s step is not a stack access", i, v.Step.Op)
	}
	return op.Value, nil
}

// StorageAt returns the i-th operation, which must be a storage access.
func (v StepView) StorageAt(i int) (busmapping.StorageOp, error) {
	op, ok := v.Op(i).Op.(busmapping.StorageOp)
	if !ok {
		return busmapping.StorageOp{}, fmt.Errorf("operation %d of %s step is not a storage access", i, v.Step.Op)
	}
	return op, nil
}

// Configured is a finalized gadget: its cells, constraints and lookups.
type Configured struct {
	Gadget   Gadget
	NumCells int
	Curr     StepCells
	Next     StepCells
	GasCost  *Cell

	Constraints []Named
	Transitions []Named
	Lookups     []Lookup
}

// Assign builds the full witness of one step: the shared step cells,
// then the gadget's own.
func (c *Configured) Assign(f field.Field, view StepView) (*Witness, error) {
	w := NewWitness(f, c.NumCells)
	c.assignStep(w, c.Curr, view.Step, view)
	if view.Next != nil {
		c.assignStep(w, c.Next, view.Next, view)
	}
	if c.GasCost != nil {
		w.SetUint64(*c.GasCost, view.Step.GasCost)
	}
	if err := c.Gadget.Assign(w, view); err != nil {
		return nil, fmt.Errorf("gadget %s: %w", c.Gadget.Name(), err)
	}
	return w, nil
}

func (c *Configured) assignStep(w *Witness, cells StepCells, step *busmapping.ExecStep, view StepView) {
	w.SetUint64(cells.RwCounter, uint64(step.RWCounter))
	w.SetUint64(cells.ProgramCounter, step.PC)
	w.SetUint64(cells.StackPointer, uint64(step.StackPointer))
	w.SetUint64(cells.GasLeft, step.GasLeft)
	w.SetUint64(cells.MemoryWordSize, step.MemoryWordSize)
	w.SetUint64(cells.ReversibleWriteCounter, uint64(step.ReversibleWriteCounter))

	call := view.Call
	w.SetUint64(cells.CallID, uint64(call.ID))
	w.SetUint64(cells.TxID, uint64(view.Tx.TxID))
	w.SetBig(cells.CalleeAddress, new(big.Int).SetBytes(call.Address.Bytes()))
	w.SetBool(cells.IsPersistent, call.IsPersistent)
	w.SetUint64(cells.RwCounterEndOfReversion, uint64(call.RwCounterEndOfReversion))

	var hash uint256.Int
	hash.SetBytes(call.CodeHash.Bytes())
	b := hash.Bytes32()
	var lo, hi uint256.Int
	lo.SetBytes(b[16:])
	hi.SetBytes(b[:16])
	w.Set(cells.CodeHashLo, w.f.FromInterface(lo.ToBig()))
	w.Set(cells.CodeHashHi, w.f.FromInterface(hi.ToBig()))
}
