package busmapping

import (
	"context"
	"runtime"

	"github.com/consensys/gnark/logger"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"golang.org/x/sync/errgroup"

	"github.com/zkevmlab/zkevm-go/oracle"
)

// TracedTx pairs a transaction with the trace the oracle produced for it.
type TracedTx struct {
	Tx    oracle.Transaction
	Trace *oracle.TxTrace
}

// Batch is the merged bus-mapping output for an ordered list of
// transactions: one operation sequence with globally unique rw counters,
// anchored by the rw_counter=0 start row.
type Batch struct {
	Txs       []*TxInput
	Container *OperationContainer
	Bytecodes map[common.Hash][]byte
}

// BatchMode selects how a failing transaction affects the batch.
type BatchMode int

const (
	// PerTxAtomic drops a transaction whose replay fails and keeps the
	// rest of the batch.
	PerTxAtomic BatchMode = iota
	// BatchAtomic fails the whole batch on the first replay error.
	BatchAtomic
)

type batchConfig struct {
	mode        BatchMode
	parallelism int
}

// BatchOption configures BuildBatch.
type BatchOption func(*batchConfig)

func WithBatchMode(m BatchMode) BatchOption {
	return func(c *batchConfig) { c.mode = m }
}

// WithParallelism bounds the number of transactions replayed concurrently.
func WithParallelism(n int) BatchOption {
	return func(c *batchConfig) {
		if n > 0 {
			c.parallelism = n
		}
	}
}

// BuildBatch replays the transactions concurrently, then concatenates their
// operation sequences in transaction order, renumbering rw counters and call
// IDs so both stay globally unique. Each replay allocates call IDs from 1;
// without the per-transaction ID offset the merged RW table would key frames
// of different transactions onto the same (tag, id) rows. Transaction IDs are
// 1-based positions in the input slice and survive even when PerTxAtomic
// drops a failed transaction.
func (b *CircuitInputBuilder) BuildBatch(ctx context.Context, txs []TracedTx, opts ...BatchOption) (*Batch, error) {
	cfg := batchConfig{mode: PerTxAtomic, parallelism: runtime.NumCPU()}
	for _, o := range opts {
		o(&cfg)
	}

	results := make([]*TxInput, len(txs))
	failures := make([]error, len(txs))

	// Each transaction replays against the storage the previous ones left
	// behind; the overlays are cheap to fold sequentially, the replays
	// themselves run in parallel.
	overlays := make([]map[common.Address]map[common.Hash]common.Hash, len(txs))
	acc := make(map[common.Address]map[common.Hash]common.Hash)
	for i, ttx := range txs {
		overlays[i] = cloneOverlay(acc)
		for addr, slots := range ttx.Trace.PostStorage {
			if acc[addr] == nil {
				acc[addr] = make(map[common.Hash]common.Hash, len(slots))
			}
			for key, value := range slots {
				acc[addr][key] = value
			}
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.parallelism)
	for i := range txs {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			in, err := b.handleTx(i+1, txs[i].Tx, txs[i].Trace, overlays[i])
			if err != nil {
				if cfg.mode == BatchAtomic {
					return err
				}
				failures[i] = err
				return nil
			}
			results[i] = in
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	log := logger.Logger()

	ops := []Operation{{RWCounter: 0, RW: Read, Op: StartOp{}}}
	bytecodes := make(map[common.Hash][]byte)
	var kept []*TxInput
	var firstErr error
	offset := 0
	callOffset := 0

	for i, in := range results {
		if in == nil {
			if firstErr == nil {
				firstErr = failures[i]
			}
			log.Warn().Int("tx", i+1).Err(failures[i]).
				Msg("dropping transaction from batch")
			continue
		}

		indexOffset := len(ops)
		for _, op := range in.Container.Ops {
			op.RWCounter += offset
			switch o := op.Op.(type) {
			case StackOp:
				o.CallID += callOffset
				op.Op = o
			case MemoryOp:
				o.CallID += callOffset
				op.Op = o
			case CallContextOp:
				o.CallID += callOffset
				// Reversion-section anchors are rw counters themselves.
				if o.Field == FieldRwCounterEndOfReversion && !o.Value.IsZero() {
					var v uint256.Int
					v.AddUint64(&o.Value, uint64(offset))
					o.Value = v
				}
				op.Op = o
			}
			ops = append(ops, op)
		}
		for si := range in.Steps {
			st := &in.Steps[si]
			st.RWCounter += offset
			for k := range st.RWIndices {
				st.RWIndices[k] += indexOffset
			}
		}
		for ci := range in.Calls {
			in.Calls[ci].ID += callOffset
			if in.Calls[ci].RwCounterEndOfReversion != 0 {
				in.Calls[ci].RwCounterEndOfReversion += offset
			}
		}
		offset += in.Container.Counter()
		callOffset += len(in.Calls)

		for h, code := range in.Bytecodes {
			bytecodes[h] = code
		}
		kept = append(kept, in)
	}

	if len(kept) == 0 && len(txs) > 0 {
		return nil, firstErr
	}

	log.Info().
		Int("txs", len(kept)).
		Int("ops", len(ops)).
		Msg("bus-mapping batch built")

	return &Batch{
		Txs:       kept,
		Container: &OperationContainer{Ops: ops, counter: offset},
		Bytecodes: bytecodes,
	}, nil
}

func cloneOverlay(src map[common.Address]map[common.Hash]common.Hash) map[common.Address]map[common.Hash]common.Hash {
	if len(src) == 0 {
		return nil
	}
	out := make(map[common.Address]map[common.Hash]common.Hash, len(src))
	for addr, slots := range src {
		dst := make(map[common.Hash]common.Hash, len(slots))
		for key, value := range slots {
			dst[key] = value
		}
		out[addr] = dst
	}
	return out
}
