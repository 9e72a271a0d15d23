// Package circuit assembles a replayed batch into a checkable constraint
// system: every execution step is routed to the gadget of its state, the
// gadget's witness is assigned from the bus operations, and the resulting
// lookups are proven against the RW, bytecode, fixed and context tables.
// The RW table side is tied to the step side by a permutation argument
// over random linear compressions of the rows.
package circuit

import (
	"context"
	"fmt"
	"runtime"

	"github.com/consensys/gnark/logger"
	"golang.org/x/sync/errgroup"

	"github.com/zkevmlab/zkevm-go/busmapping"
	"github.com/zkevmlab/zkevm-go/evm"
	"github.com/zkevmlab/zkevm-go/field"
	"github.com/zkevmlab/zkevm-go/gadgets"
	"github.com/zkevmlab/zkevm-go/oracle"
	"github.com/zkevmlab/zkevm-go/tables"
)

// UnsupportedStateError reports a step no gadget covers.
type UnsupportedStateError struct {
	Op     evm.OpCode
	Result busmapping.ExecResult
}

func (e *UnsupportedStateError) Error() string {
	return fmt.Sprintf("no gadget covers opcode %s (step result: %s)", e.Op, e.Result)
}

// UnsatisfiedError reports the first constraint, lookup or argument that
// does not hold. Step is -1 for table-wide failures.
type UnsatisfiedError struct {
	Name string
	Step int
	Op   evm.OpCode
}

func (e *UnsatisfiedError) Error() string {
	if e.Step < 0 {
		return fmt.Sprintf("%s does not hold", e.Name)
	}
	return fmt.Sprintf("%s does not hold at step %d (%s)", e.Name, e.Step, e.Op)
}

type config struct {
	parallelism int
}

// Option configures an Assembler.
type Option func(*config)

// WithParallelism bounds the number of steps assigned concurrently.
func WithParallelism(n int) Option {
	return func(c *config) { c.parallelism = n }
}

// Assembler holds the configured gadgets, one per execution state. The
// configuration is done once; the same assembler can assemble any number
// of batches.
type Assembler struct {
	f       field.Field
	cfg     config
	gadgets map[gadgets.ExecutionState]*gadgets.Configured
}

func NewAssembler(f field.Field, opts ...Option) (*Assembler, error) {
	a := &Assembler{
		f:       f,
		cfg:     config{parallelism: runtime.NumCPU()},
		gadgets: make(map[gadgets.ExecutionState]*gadgets.Configured),
	}
	for _, o := range opts {
		o(&a.cfg)
	}

	for _, g := range gadgets.All() {
		configured, err := gadgets.Configure(f, g)
		if err != nil {
			return nil, err
		}
		for _, s := range g.States() {
			if prev, taken := a.gadgets[s]; taken {
				return nil, fmt.Errorf("state %s claimed by both %s and %s",
					s, prev.Gadget.Name(), g.Name())
			}
			a.gadgets[s] = configured
		}
	}
	return a, nil
}

// AssignedStep couples one replayed step with its gadget and witness.
type AssignedStep struct {
	State   gadgets.ExecutionState
	Cfg     *gadgets.Configured
	View    gadgets.StepView
	Witness *gadgets.Witness
}

// Assemble routes every step of the batch to its gadget, assigns the
// witnesses in parallel and builds the lookup tables. Steps whose state
// has no gadget fail with UnsupportedStateError.
func (a *Assembler) Assemble(ctx context.Context, block oracle.BlockContext, batch *busmapping.Batch) (*System, error) {
	var steps []AssignedStep
	for _, tx := range batch.Txs {
		for i := range tx.Steps {
			step := &tx.Steps[i]
			state, ok := gadgets.ExecutionStateFor(step)
			if !ok {
				return nil, &UnsupportedStateError{Op: step.Op, Result: step.Result}
			}
			view := gadgets.StepView{
				Batch: batch,
				Tx:    tx,
				Step:  step,
				Call:  &tx.Calls[step.CallIndex],
			}
			// The transition constraints reach into the next row, which
			// only exists while the frame keeps executing.
			if i+1 < len(tx.Steps) && tx.Steps[i+1].CallIndex == step.CallIndex {
				view.Next = &tx.Steps[i+1]
			}
			steps = append(steps, AssignedStep{State: state, Cfg: a.gadgets[state], View: view})
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.parallelism)
	for i := range steps {
		s := &steps[i]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			w, err := s.Cfg.Assign(a.f, s.View)
			if err != nil {
				return err
			}
			s.Witness = w
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Context table rows are keyed by tx id, which survives dropped
	// transactions, so index by id rather than by position.
	maxID := 0
	for _, tx := range batch.Txs {
		if tx.TxID > maxID {
			maxID = tx.TxID
		}
	}
	txs := make([]oracle.Transaction, maxID)
	for _, tx := range batch.Txs {
		txs[tx.TxID-1] = tx.Tx
	}

	log := logger.Logger()
	log.Debug().
		Int("steps", len(steps)).
		Int("ops", len(batch.Container.Ops)).
		Msg("assembled circuit witness")

	return &System{
		f:           a.f,
		parallelism: a.cfg.parallelism,
		Steps:       steps,
		Rw:          tables.NewRwTable(a.f, batch.Container),
		Bytecode:    tables.NewBytecodeTable(a.f, batch.Bytecodes),
		Fixed:       tables.NewFixedTable(a.f),
		Context:     tables.NewContextTable(a.f, block, txs),
	}, nil
}
