// Package oracle invokes a reference EVM to execute transactions against a
// declared pre-state and returns the opcode-level execution log consumed by
// the bus-mapping builder. The reference EVM is go-ethereum's interpreter
// run in-process with a struct logger attached; this package is a pure I/O
// boundary and holds no constraint logic.
package oracle

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/core/state"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/core/vm/runtime"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/eth/tracers/logger"
	"github.com/ethereum/go-ethereum/params"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog/log"

	"github.com/zkevmlab/zkevm-go/evm"
)

// Account is one entry of the pre-state snapshot.
type Account struct {
	Nonce   uint64
	Balance *big.Int
	Code    []byte
	Storage map[common.Hash]common.Hash
}

// CodeHash returns the keccak hash of the account code.
func (a Account) CodeHash() common.Hash {
	return crypto.Keccak256Hash(a.Code)
}

// Transaction describes one transaction to trace. A nil To deploys Input as
// initcode.
type Transaction struct {
	From     common.Address
	To       *common.Address
	GasLimit uint64
	GasPrice *big.Int
	Value    *big.Int
	Input    []byte
}

// BlockContext carries the block-level values opcodes like TIMESTAMP and
// COINBASE observe.
type BlockContext struct {
	Coinbase   common.Address
	Number     uint64
	Time       uint64
	GasLimit   uint64
	BaseFee    *big.Int
	Difficulty *big.Int
}

// TraceConfig is the full input of one oracle invocation.
type TraceConfig struct {
	Accounts     map[common.Address]Account
	Transactions []Transaction
	Block        BlockContext
}

// StepLog is one opcode-level entry of the execution log: the machine state
// observed immediately before the opcode executes.
type StepLog struct {
	PC         uint64
	Op         evm.OpCode
	Gas        uint64
	GasCost    uint64
	Memory     []byte
	MemorySize int
	Stack      []uint256.Int
	Storage    map[common.Hash]common.Hash
	Depth      int
	Refund     uint64
	Err        error
}

// TxTrace is the ordered step log of a single traced transaction.
type TxTrace struct {
	Steps       []StepLog
	ReturnValue []byte
	UsedGas     uint64
	Failed      bool
	// PostStorage holds the post-transaction values of every storage slot
	// the transaction touched, so later transactions in the batch can be
	// replayed against the state this one left behind. Slots of contracts
	// created by this transaction are not attributed.
	PostStorage map[common.Address]map[common.Hash]common.Hash
}

// UnavailableError wraps any failure of the reference EVM; callers may
// retry at their discretion.
type UnavailableError struct {
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("trace oracle unavailable: %v", e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// Trace executes cfg.Transactions in order against cfg.Accounts and returns
// one TxTrace per transaction. State carries over between transactions in
// the batch. The context is only observed between transactions; a single
// execution is not interruptible.
func Trace(ctx context.Context, cfg TraceConfig) ([]*TxTrace, error) {
	statedb, err := newPreState(cfg.Accounts)
	if err != nil {
		return nil, &UnavailableError{Err: err}
	}

	traces := make([]*TxTrace, 0, len(cfg.Transactions))
	for i, tx := range cfg.Transactions {
		if err := ctx.Err(); err != nil {
			return nil, &UnavailableError{Err: err}
		}
		trace, err := traceTx(statedb, cfg.Block, tx)
		if err != nil {
			return nil, &UnavailableError{Err: fmt.Errorf("tx %d: %w", i, err)}
		}
		traces = append(traces, trace)
	}
	return traces, nil
}

func newPreState(accounts map[common.Address]Account) (*state.StateDB, error) {
	statedb, err := state.New(types.EmptyRootHash, state.NewDatabase(rawdb.NewMemoryDatabase()), nil)
	if err != nil {
		return nil, err
	}
	for addr, acc := range accounts {
		statedb.CreateAccount(addr)
		statedb.SetNonce(addr, acc.Nonce)
		if acc.Balance != nil {
			statedb.SetBalance(addr, uint256.MustFromBig(acc.Balance))
		}
		statedb.SetCode(addr, acc.Code)
		for key, value := range acc.Storage {
			statedb.SetState(addr, key, value)
		}
	}
	return statedb, nil
}

func traceTx(statedb *state.StateDB, block BlockContext, tx Transaction) (*TxTrace, error) {
	tracer := logger.NewStructLogger(&logger.Config{
		EnableMemory:     true,
		EnableReturnData: true,
	})

	runtimeCfg := &runtime.Config{
		ChainConfig: params.AllEthashProtocolChanges,
		Origin:      tx.From,
		Coinbase:    block.Coinbase,
		BlockNumber: new(big.Int).SetUint64(block.Number),
		Time:        block.Time,
		GasLimit:    tx.GasLimit,
		GasPrice:    bigOrZero(tx.GasPrice),
		Value:       bigOrZero(tx.Value),
		BaseFee:     bigOrZero(block.BaseFee),
		Difficulty:  bigOrZero(block.Difficulty),
		State:       statedb,
		EVMConfig: vm.Config{
			Tracer: tracer,
		},
	}

	var (
		ret     []byte
		gasLeft uint64
		vmErr   error
		root    common.Address
	)
	if tx.To == nil {
		ret, root, gasLeft, vmErr = runtime.Create(tx.Input, runtimeCfg)
	} else {
		root = *tx.To
		ret, gasLeft, vmErr = runtime.Call(*tx.To, tx.Input, runtimeCfg)
	}

	structLogs := tracer.StructLogs()
	steps := make([]StepLog, len(structLogs))
	for i, sl := range structLogs {
		steps[i] = StepLog{
			PC:         sl.Pc,
			Op:         evm.OpCode(sl.Op),
			Gas:        sl.Gas,
			GasCost:    sl.GasCost,
			Memory:     sl.Memory,
			MemorySize: sl.MemorySize,
			Stack:      sl.Stack,
			Storage:    sl.Storage,
			Depth:      sl.Depth,
			Refund:     sl.RefundCounter,
			Err:        sl.Err,
		}
	}

	log.Debug().
		Int("steps", len(steps)).
		Uint64("gasUsed", tx.GasLimit-gasLeft).
		Bool("failed", vmErr != nil).
		Msg("traced transaction")

	return &TxTrace{
		Steps:       steps,
		ReturnValue: ret,
		UsedGas:     tx.GasLimit - gasLeft,
		Failed:      vmErr != nil,
		PostStorage: postStorage(statedb, root, steps),
	}, nil
}

// postStorage reads back the final value of every storage slot the traced
// steps touched. Attributing a slot to its contract requires replaying the
// call structure: the storage address follows the frame for DELEGATECALL and
// CALLCODE and switches to the callee for CALL and STATICCALL.
func postStorage(statedb *state.StateDB, root common.Address, steps []StepLog) map[common.Address]map[common.Hash]common.Hash {
	touched := make(map[common.Address]map[common.Hash]struct{})
	addrStack := []common.Address{root}

	for i, s := range steps {
		if s.Depth < len(addrStack) {
			addrStack = addrStack[:s.Depth]
		}
		cur := addrStack[len(addrStack)-1]

		if (s.Op == evm.SLOAD || s.Op == evm.SSTORE) && len(s.Stack) >= 1 && cur != (common.Address{}) {
			key := common.Hash(s.Stack[len(s.Stack)-1].Bytes32())
			if touched[cur] == nil {
				touched[cur] = make(map[common.Hash]struct{})
			}
			touched[cur][key] = struct{}{}
		}

		if i+1 < len(steps) && steps[i+1].Depth == s.Depth+1 {
			var child common.Address
			switch s.Op {
			case evm.CALL, evm.STATICCALL:
				if len(s.Stack) >= 2 {
					child = common.BytesToAddress(s.Stack[len(s.Stack)-2].Bytes())
				}
			case evm.CALLCODE, evm.DELEGATECALL:
				child = cur
			}
			// CREATE frames keep the zero sentinel; their slots are
			// not attributed.
			addrStack = append(addrStack, child)
		}
	}

	out := make(map[common.Address]map[common.Hash]common.Hash, len(touched))
	for addr, keys := range touched {
		slots := make(map[common.Hash]common.Hash, len(keys))
		for key := range keys {
			slots[key] = statedb.GetState(addr, key)
		}
		out[addr] = slots
	}
	return out
}

func bigOrZero(x *big.Int) *big.Int {
	if x == nil {
		return new(big.Int)
	}
	return x
}
