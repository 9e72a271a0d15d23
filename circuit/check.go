package circuit

import (
	"context"
	crand "crypto/rand"
	"fmt"

	"github.com/consensys/gnark/constraint"
	"golang.org/x/sync/errgroup"

	"github.com/zkevmlab/zkevm-go/busmapping"
	"github.com/zkevmlab/zkevm-go/expr"
	"github.com/zkevmlab/zkevm-go/field"
	"github.com/zkevmlab/zkevm-go/gadgets"
	"github.com/zkevmlab/zkevm-go/tables"
)

// System is one assembled batch: the assigned steps and the tables their
// lookups are checked against.
type System struct {
	f           field.Field
	parallelism int

	Steps    []AssignedStep
	Rw       *tables.RwTable
	Bytecode *tables.BytecodeTable
	Fixed    *tables.FixedTable
	Context  *tables.ContextTable
}

// Check verifies the whole system: the RW table rules, every step's
// constraints, transitions and lookups, and the permutation tying the
// steps' RW queries to the RW table. A nil return means every argument
// holds.
func (s *System) Check(ctx context.Context) error {
	if err := s.Rw.Verify(); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallelism)
	for i := range s.Steps {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return s.checkStep(i)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	return s.checkPermutation()
}

func (s *System) checkStep(i int) error {
	st := &s.Steps[i]
	w := st.Witness

	for _, c := range st.Cfg.Constraints {
		if v := w.Eval(c.E); !v.IsZero() {
			return &UnsatisfiedError{Name: c.Name, Step: i, Op: st.View.Step.Op}
		}
	}
	if st.View.Next != nil {
		for _, tr := range st.Cfg.Transitions {
			if v := w.Eval(tr.E); !v.IsZero() {
				return &UnsatisfiedError{Name: tr.Name, Step: i, Op: st.View.Step.Op}
			}
		}
	}

	for _, lk := range st.Cfg.Lookups {
		if lk.Cond != nil {
			if cond := w.Eval(lk.Cond); cond.IsZero() {
				continue
			}
		}
		tuple := evalTuple(w, lk.Inputs)
		var ok bool
		switch lk.Kind {
		case tables.KindRw:
			ok = s.Rw.Contains(tuple)
		case tables.KindBytecode:
			ok = s.Bytecode.Contains(tuple)
		case tables.KindFixed:
			ok = s.Fixed.Contains(tuple)
		case tables.KindBlock:
			ok = s.Context.ContainsBlock(tuple)
		case tables.KindTx:
			ok = s.Context.ContainsTx(tuple)
		}
		if !ok {
			return &UnsatisfiedError{Name: lk.Name, Step: i, Op: st.View.Step.Op}
		}
	}
	return nil
}

func evalTuple(w *gadgets.Witness, inputs []expr.Expression) []constraint.Element {
	tuple := make([]constraint.Element, len(inputs))
	for j, in := range inputs {
		tuple[j] = w.Eval(in)
	}
	return tuple
}

// checkPermutation proves the steps' RW queries and the RW table are the
// same multiset: both sides are compressed row-wise with a random
// challenge and folded into grand products under a second one. The start
// row is queried by no gadget and enters the left side explicitly.
func (s *System) checkPermutation() error {
	queried := make([][]constraint.Element, 0, len(s.Rw.Rows))
	start := tables.RwRow{Tag: busmapping.TargetStart}
	queried = append(queried, start.Tuple(s.f))
	for i := range s.Steps {
		st := &s.Steps[i]
		for _, lk := range st.Cfg.Lookups {
			if lk.Kind != tables.KindRw {
				continue
			}
			if lk.Cond != nil {
				if cond := st.Witness.Eval(lk.Cond); cond.IsZero() {
					continue
				}
			}
			queried = append(queried, evalTuple(st.Witness, lk.Inputs))
		}
	}

	rows := s.Rw.Tuples()
	if len(queried) != len(rows) {
		return &UnsatisfiedError{Name: "permutation/cardinality", Step: -1}
	}

	gamma, err := s.challenge()
	if err != nil {
		return err
	}
	beta, err := s.challenge()
	if err != nil {
		return err
	}

	lhs := s.fingerprint(queried, gamma, beta)
	rhs := s.fingerprint(rows, gamma, beta)
	if lhs != rhs {
		return &UnsatisfiedError{Name: "permutation/fingerprint", Step: -1}
	}
	return nil
}

// fingerprint folds the tuples into the grand product of (beta - rlc)
// where rlc compresses one tuple with powers of gamma.
func (s *System) fingerprint(tuples [][]constraint.Element, gamma, beta constraint.Element) constraint.Element {
	prod := s.f.One()
	for _, tuple := range tuples {
		rlc := constraint.Element{}
		for j := len(tuple) - 1; j >= 0; j-- {
			rlc = s.f.Add(s.f.Mul(rlc, gamma), tuple[j])
		}
		prod = s.f.Mul(prod, s.f.Sub(beta, rlc))
	}
	return prod
}

func (s *System) challenge() (constraint.Element, error) {
	n, err := crand.Int(crand.Reader, s.f.Field())
	if err != nil {
		return constraint.Element{}, fmt.Errorf("sampling challenge: %w", err)
	}
	return s.f.FromInterface(n), nil
}
