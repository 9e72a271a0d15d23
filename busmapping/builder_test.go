package busmapping

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/zkevmlab/zkevm-go/evm"
	"github.com/zkevmlab/zkevm-go/oracle"
)

var (
	testCaller = common.HexToAddress("0x00000000000000000000000000000000cafe0001")
	testCallee = common.HexToAddress("0x00000000000000000000000000000000cafe0002")
)

func tracedContract(t *testing.T, code []byte) (*CircuitInputBuilder, TracedTx) {
	t.Helper()
	accounts := map[common.Address]oracle.Account{
		testCaller: {Balance: big.NewInt(1e18)},
		testCallee: {Balance: big.NewInt(0), Code: code},
	}
	to := testCallee
	tx := oracle.Transaction{
		From:     testCaller,
		To:       &to,
		GasLimit: 1_000_000,
		GasPrice: big.NewInt(1),
		Value:    big.NewInt(0),
	}
	traces, err := oracle.Trace(context.Background(), oracle.TraceConfig{
		Accounts:     accounts,
		Transactions: []oracle.Transaction{tx},
	})
	require.NoError(t, err)
	require.Len(t, traces, 1)
	return NewCircuitInputBuilder(accounts), TracedTx{Tx: tx, Trace: traces[0]}
}

func opsOfStep(t *testing.T, in *TxInput, step ExecStep) []Operation {
	t.Helper()
	out := make([]Operation, 0, len(step.RWIndices))
	for _, idx := range step.RWIndices {
		require.Less(t, idx, len(in.Container.Ops))
		out = append(out, in.Container.Ops[idx])
	}
	return out
}

func findStep(t *testing.T, in *TxInput, op evm.OpCode) ExecStep {
	t.Helper()
	for _, s := range in.Steps {
		if s.Op == op {
			return s
		}
	}
	t.Fatalf("no %s step in replay output", op)
	return ExecStep{}
}

func TestHandleTxMstoreMsize(t *testing.T) {
	code := oracle.NewAssembly().
		MStore(0x40, 0x80).
		MSize().
		Stop().
		Bytecode()
	b, traced := tracedContract(t, code)

	in, err := b.HandleTx(1, traced.Tx, traced.Trace)
	require.NoError(t, err)

	// PUSH1 PUSH1 MSTORE MSIZE STOP
	require.Len(t, in.Steps, 5)

	mstore := findStep(t, in, evm.MSTORE)
	ops := opsOfStep(t, in, mstore)
	require.Len(t, ops, 2+32)

	// Two stack reads: offset on top, value below it.
	offRead := ops[0].Op.(StackOp)
	valRead := ops[1].Op.(StackOp)
	require.Equal(t, Read, ops[0].RW)
	require.Equal(t, Read, ops[1].RW)
	require.Equal(t, uint64(0x40), offRead.Value.Uint64())
	require.Equal(t, uint64(0x80), valRead.Value.Uint64())
	require.Equal(t, offRead.StackPointer+1, valRead.StackPointer)

	// 32 big-endian byte writes covering 0x40..0x5f; only the last byte of
	// the word is nonzero.
	for k := 0; k < 32; k++ {
		op := ops[2+k]
		require.Equal(t, Write, op.RW)
		mem := op.Op.(MemoryOp)
		require.Equal(t, uint64(0x40+k), mem.Address)
		if k == 31 {
			require.Equal(t, byte(0x80), mem.Byte)
		} else {
			require.Equal(t, byte(0), mem.Byte)
		}
	}

	// MSIZE pushes the word-rounded memory size.
	msize := findStep(t, in, evm.MSIZE)
	msizeOps := opsOfStep(t, in, msize)
	require.Len(t, msizeOps, 1)
	require.Equal(t, Write, msizeOps[0].RW)
	msizeWord := msizeOps[0].Op.(StackOp).Value
	require.Equal(t, uint64(0x60), msizeWord.Uint64())
	require.Equal(t, uint64(3), msize.MemoryWordSize)
}

func TestHandleTxRwCounterTotalOrder(t *testing.T) {
	code := oracle.NewAssembly().
		Push(3).Push(4).Add().
		Push(10).Mul().
		Pop().
		Stop().
		Bytecode()
	b, traced := tracedContract(t, code)

	in, err := b.HandleTx(1, traced.Tx, traced.Trace)
	require.NoError(t, err)

	for i, op := range in.Container.Ops {
		require.Equal(t, i+1, op.RWCounter)
	}
	// Step-referenced indices are emitted in counter order within a step.
	for _, step := range in.Steps {
		for k := 1; k < len(step.RWIndices); k++ {
			require.Greater(t, step.RWIndices[k], step.RWIndices[k-1])
		}
	}
}

func TestHandleTxStackReadWriteConsistency(t *testing.T) {
	code := oracle.NewAssembly().
		Push(3).Push(4).Add().
		Pop().
		Stop().
		Bytecode()
	b, traced := tracedContract(t, code)

	in, err := b.HandleTx(1, traced.Tx, traced.Trace)
	require.NoError(t, err)

	add := findStep(t, in, evm.ADD)
	ops := opsOfStep(t, in, add)
	require.Len(t, ops, 3)
	lhs := ops[0].Op.(StackOp)
	rhs := ops[1].Op.(StackOp)
	sum := ops[2].Op.(StackOp)
	require.Equal(t, uint64(4), lhs.Value.Uint64())
	require.Equal(t, uint64(3), rhs.Value.Uint64())
	require.Equal(t, Write, ops[2].RW)
	require.Equal(t, uint64(7), sum.Value.Uint64())
	// Result lands where the deeper operand was.
	require.Equal(t, rhs.StackPointer, sum.StackPointer)

	// The POP read observes the ADD result.
	pop := findStep(t, in, evm.POP)
	popOps := opsOfStep(t, in, pop)
	require.Len(t, popOps, 1)
	popped := popOps[0].Op.(StackOp)
	require.Equal(t, uint64(7), popped.Value.Uint64())
}

func TestHandleTxMemoryRoundTrip(t *testing.T) {
	code := oracle.NewAssembly().
		MStore(0, 0xdeadbeef).
		MLoad(0).
		Pop().
		Stop().
		Bytecode()
	b, traced := tracedContract(t, code)

	in, err := b.HandleTx(1, traced.Tx, traced.Trace)
	require.NoError(t, err)

	mload := findStep(t, in, evm.MLOAD)
	ops := opsOfStep(t, in, mload)
	// offset read + 32 memory reads + value write
	require.Len(t, ops, 1+32+1)
	loaded := ops[len(ops)-1].Op.(StackOp)
	require.Equal(t, uint64(0xdeadbeef), loaded.Value.Uint64())

	var fromBytes uint256.Int
	buf := make([]byte, 32)
	for k := 0; k < 32; k++ {
		buf[k] = ops[1+k].Op.(MemoryOp).Byte
	}
	fromBytes.SetBytes(buf)
	require.True(t, loaded.Value.Eq(&fromBytes))
}

func TestHandleTxStorageOps(t *testing.T) {
	code := oracle.NewAssembly().
		SStore(0x01, 0x2a).
		SLoad(0x01).
		Pop().
		Stop().
		Bytecode()
	b, traced := tracedContract(t, code)

	in, err := b.HandleTx(1, traced.Tx, traced.Trace)
	require.NoError(t, err)

	sstore := findStep(t, in, evm.SSTORE)
	ops := opsOfStep(t, in, sstore)
	// 4 call-context reads, 2 stack reads, 1 storage write.
	require.Len(t, ops, 7)
	write := ops[6]
	require.Equal(t, Write, write.RW)
	require.True(t, write.Reversible)
	require.False(t, write.Reverted)
	st := write.Op.(StorageOp)
	require.Equal(t, testCallee, st.Address)
	require.Equal(t, uint64(0x01), st.Key.Uint64())
	require.Equal(t, uint64(0x2a), st.Value.Uint64())
	require.True(t, st.ValuePrev.IsZero())
	require.True(t, st.Committed.IsZero())

	sload := findStep(t, in, evm.SLOAD)
	sloadOps := opsOfStep(t, in, sload)
	require.Len(t, sloadOps, 3)
	read := sloadOps[1].Op.(StorageOp)
	require.Equal(t, uint64(0x2a), read.Value.Uint64())
	require.True(t, read.Committed.IsZero())
}

func TestHandleTxRevertFlagsStorageWrites(t *testing.T) {
	code := oracle.NewAssembly().
		SStore(0x01, 0x2a).
		Revert(0, 0).
		Bytecode()
	b, traced := tracedContract(t, code)
	require.True(t, traced.Trace.Failed)

	in, err := b.HandleTx(1, traced.Tx, traced.Trace)
	require.NoError(t, err)

	var original, rollbacks []Operation
	for _, op := range in.Container.Ops {
		if op.Op.Target() != TargetStorage || op.RW != Write {
			continue
		}
		if op.Rollback {
			rollbacks = append(rollbacks, op)
		} else {
			original = append(original, op)
		}
	}
	require.Len(t, original, 1)
	require.True(t, original[0].Reverted,
		"write inside a reverted frame must carry the reverted flag")

	// The paired rollback entry restores the previous value at the frame's
	// reversion-section counter.
	require.Len(t, rollbacks, 1)
	rb := rollbacks[0].Op.(StorageOp)
	require.True(t, rb.Value.IsZero())
	require.Equal(t, uint64(0x2a), rb.ValuePrev.Uint64())
	require.Equal(t, in.Calls[0].RwCounterEndOfReversion, rollbacks[0].RWCounter)

	// The rollback is charged to the step that made the write.
	sstore := findStep(t, in, evm.SSTORE)
	sstoreOps := opsOfStep(t, in, sstore)
	require.True(t, sstoreOps[len(sstoreOps)-1].Rollback)

	require.Len(t, in.Calls, 1)
	require.True(t, in.Calls[0].Reverted)
	require.False(t, in.Calls[0].IsPersistent)

	revert := findStep(t, in, evm.REVERT)
	require.Equal(t, ResultReverted, revert.Result)
}

func TestHandleTxInnerRevertRollsBack(t *testing.T) {
	childAddr := common.HexToAddress("0x00000000000000000000000000000000cafe0004")
	child := oracle.NewAssembly().
		SStore(0x01, 0x2a).
		Revert(0, 0).
		Bytecode()
	// DELEGATECALL so the child writes this contract's storage, then read
	// the slot back after the child reverted.
	var childWord uint256.Int
	childWord.SetBytes(childAddr.Bytes())
	root := oracle.NewAssembly().
		Push(0).Push(0).Push(0).Push(0).
		PushWord(&childWord).
		Push(200_000).
		Op(evm.DELEGATECALL).
		Pop().
		SLoad(0x01).
		Pop().
		Stop().
		Bytecode()

	accounts := map[common.Address]oracle.Account{
		testCaller: {Balance: big.NewInt(1e18)},
		testCallee: {Code: root},
		childAddr:  {Code: child},
	}
	to := testCallee
	tx := oracle.Transaction{
		From: testCaller, To: &to,
		GasLimit: 1_000_000, GasPrice: big.NewInt(1),
	}
	traces, err := oracle.Trace(context.Background(), oracle.TraceConfig{
		Accounts:     accounts,
		Transactions: []oracle.Transaction{tx},
	})
	require.NoError(t, err)
	require.False(t, traces[0].Failed)

	in, err := NewCircuitInputBuilder(accounts).HandleTx(1, tx, traces[0])
	require.NoError(t, err)

	require.Len(t, in.Calls, 2)
	require.False(t, in.Calls[0].Reverted)
	require.True(t, in.Calls[1].Reverted)
	require.True(t, in.Calls[0].IsPersistent)
	require.False(t, in.Calls[1].IsPersistent)
	// Delegate child inherits the caller's storage address.
	require.Equal(t, testCallee, in.Calls[1].Address)

	// The child's storage write survives in the sequence, flagged, with a
	// rollback entry in the child's reversion section.
	var writes, rollbacks, reads []StorageOp
	for _, op := range in.Container.Ops {
		st, ok := op.Op.(StorageOp)
		if !ok {
			continue
		}
		switch {
		case op.Rollback:
			rollbacks = append(rollbacks, st)
		case op.RW == Write:
			require.True(t, op.Reverted)
			writes = append(writes, st)
		default:
			reads = append(reads, st)
		}
	}
	require.Len(t, writes, 1)
	require.Equal(t, testCallee, writes[0].Address)
	require.Len(t, rollbacks, 1)
	require.True(t, rollbacks[0].Value.IsZero())

	// The root's SLOAD after the revert observes the rolled-back value.
	require.Len(t, reads, 1)
	require.True(t, reads[0].Value.IsZero())

	// DELEGATECALL pushed failure.
	call := findStep(t, in, evm.DELEGATECALL)
	callOps := opsOfStep(t, in, call)
	result := callOps[6].Op.(StackOp)
	require.True(t, result.Value.IsZero())
}

func TestHandleTxCallContextOps(t *testing.T) {
	code := oracle.NewAssembly().
		Op(evm.CALLVALUE).
		Pop().
		Op(evm.CALLER).
		Pop().
		Stop().
		Bytecode()
	b, traced := tracedContract(t, code)

	in, err := b.HandleTx(1, traced.Tx, traced.Trace)
	require.NoError(t, err)

	cv := findStep(t, in, evm.CALLVALUE)
	ops := opsOfStep(t, in, cv)
	require.Len(t, ops, 2)
	require.Equal(t, TargetCallContext, ops[0].Op.Target())
	cc := ops[0].Op.(CallContextOp)
	require.Equal(t, FieldValue, cc.Field)
	require.Equal(t, in.Calls[0].ID, cc.CallID)

	caller := findStep(t, in, evm.CALLER)
	callerOps := opsOfStep(t, in, caller)
	var want uint256.Int
	want.SetBytes(testCaller.Bytes())
	got := callerOps[0].Op.(CallContextOp).Value
	require.True(t, want.Eq(&got))
}

func TestHandleTxUnsupportedOpcode(t *testing.T) {
	// CALLDATACOPY executes fine on the reference EVM but has no handler.
	code := oracle.NewAssembly().
		Push(0x20).Push(0).Push(0).
		Op(evm.CALLDATACOPY).
		Stop().
		Bytecode()
	b, traced := tracedContract(t, code)

	_, err := b.HandleTx(1, traced.Tx, traced.Trace)
	var unsup *UnsupportedOpcodeError
	require.ErrorAs(t, err, &unsup)
	require.Equal(t, evm.CALLDATACOPY, unsup.Op)
}

func TestHandleTxTraceInconsistency(t *testing.T) {
	mk := func(mutate func(steps []oracle.StepLog)) error {
		code := oracle.NewAssembly().Push(1).Pop().Stop().Bytecode()
		b, traced := tracedContract(t, code)
		mutate(traced.Trace.Steps)
		_, err := b.HandleTx(1, traced.Tx, traced.Trace)
		return err
	}

	t.Run("gas increases", func(t *testing.T) {
		err := mk(func(steps []oracle.StepLog) {
			steps[1].Gas = steps[0].Gas + 100
		})
		var te *TraceError
		require.ErrorAs(t, err, &te)
		require.Equal(t, TraceInconsistency, te.Kind)
	})

	t.Run("missing operand", func(t *testing.T) {
		err := mk(func(steps []oracle.StepLog) {
			steps[1].Stack = nil // POP with empty stack
		})
		var te *TraceError
		require.ErrorAs(t, err, &te)
		require.Equal(t, TraceInconsistency, te.Kind)
	})

	t.Run("wrong constant gas", func(t *testing.T) {
		err := mk(func(steps []oracle.StepLog) {
			steps[0].GasCost = 5
		})
		var te *TraceError
		require.ErrorAs(t, err, &te)
		require.Equal(t, TraceInconsistency, te.Kind)
	})
}

func TestHandleTxOutOfGasResult(t *testing.T) {
	code := oracle.NewAssembly().
		MStore(0x40, 0x80).
		Stop().
		Bytecode()
	accounts := map[common.Address]oracle.Account{
		testCaller: {Balance: big.NewInt(1e18)},
		testCallee: {Code: code},
	}
	to := testCallee
	tx := oracle.Transaction{
		From:     testCaller,
		To:       &to,
		GasLimit: 10, // enough for the pushes, not the MSTORE expansion
		GasPrice: big.NewInt(1),
	}
	traces, err := oracle.Trace(context.Background(), oracle.TraceConfig{
		Accounts:     accounts,
		Transactions: []oracle.Transaction{tx},
	})
	require.NoError(t, err)
	require.True(t, traces[0].Failed)

	in, err := NewCircuitInputBuilder(accounts).HandleTx(1, tx, traces[0])
	require.NoError(t, err)

	last := in.Steps[len(in.Steps)-1]
	require.Equal(t, ResultOutOfGas, last.Result)
	require.True(t, in.Calls[0].Reverted)
}

func TestBuildBatchRenumbersCounters(t *testing.T) {
	code := oracle.NewAssembly().
		Push(1).Push(2).Add().Pop().
		Stop().
		Bytecode()
	accounts := map[common.Address]oracle.Account{
		testCaller: {Balance: big.NewInt(1e18)},
		testCallee: {Code: code},
	}
	to := testCallee
	tx := oracle.Transaction{
		From: testCaller, To: &to,
		GasLimit: 100_000, GasPrice: big.NewInt(1),
	}
	traces, err := oracle.Trace(context.Background(), oracle.TraceConfig{
		Accounts:     accounts,
		Transactions: []oracle.Transaction{tx, tx},
	})
	require.NoError(t, err)

	b := NewCircuitInputBuilder(accounts)
	batch, err := b.BuildBatch(context.Background(), []TracedTx{
		{Tx: tx, Trace: traces[0]},
		{Tx: tx, Trace: traces[1]},
	})
	require.NoError(t, err)
	require.Len(t, batch.Txs, 2)

	// Start row plus gap-free global counters: counter equals position.
	require.Equal(t, TargetStart, batch.Container.Ops[0].Op.Target())
	for i, op := range batch.Container.Ops {
		require.Equal(t, i, op.RWCounter)
	}

	// Step indices still resolve into the merged container.
	for _, in := range batch.Txs {
		for _, step := range in.Steps {
			for _, idx := range step.RWIndices {
				op := batch.Container.Ops[idx]
				require.Equal(t, step.RWCounter <= op.RWCounter, true)
			}
		}
	}

	// The second transaction's first operation follows the first's last.
	firstEnd := batch.Txs[0].Steps[len(batch.Txs[0].Steps)-1].RWCounter
	secondStart := batch.Txs[1].Steps[0].RWCounter
	require.Greater(t, secondStart, firstEnd)
}

func TestBuildBatchRenumbersCallIDs(t *testing.T) {
	code := oracle.NewAssembly().
		Op(evm.ADDRESS).Pop().
		Stop().
		Bytecode()
	accounts := map[common.Address]oracle.Account{
		testCaller: {Balance: big.NewInt(1e18)},
		testCallee: {Code: code},
	}
	to := testCallee
	tx := oracle.Transaction{
		From: testCaller, To: &to,
		GasLimit: 100_000, GasPrice: big.NewInt(1),
	}
	traces, err := oracle.Trace(context.Background(), oracle.TraceConfig{
		Accounts:     accounts,
		Transactions: []oracle.Transaction{tx, tx},
	})
	require.NoError(t, err)

	batch, err := NewCircuitInputBuilder(accounts).BuildBatch(context.Background(), []TracedTx{
		{Tx: tx, Trace: traces[0]},
		{Tx: tx, Trace: traces[1]},
	})
	require.NoError(t, err)
	require.Len(t, batch.Txs, 2)

	// Frames of different transactions must not share an ID: the RW table
	// keys stack, memory and call-context rows by it.
	seen := make(map[int]int)
	for _, in := range batch.Txs {
		for _, c := range in.Calls {
			owner, dup := seen[c.ID]
			require.False(t, dup, "call id %d used by tx %d and tx %d", c.ID, owner, in.TxID)
			seen[c.ID] = in.TxID
		}
	}

	// Every operation's call id resolves to a frame of its own transaction.
	for _, in := range batch.Txs {
		ids := make(map[int]bool, len(in.Calls))
		for _, c := range in.Calls {
			ids[c.ID] = true
		}
		for _, step := range in.Steps {
			for _, idx := range step.RWIndices {
				var callID int
				switch o := batch.Container.Ops[idx].Op.(type) {
				case StackOp:
					callID = o.CallID
				case MemoryOp:
					callID = o.CallID
				case CallContextOp:
					callID = o.CallID
				default:
					continue
				}
				require.True(t, ids[callID], "tx %d references foreign call id %d", in.TxID, callID)
			}
		}
	}
}

func TestBuildBatchCarriesStorageBetweenTxs(t *testing.T) {
	writer := oracle.NewAssembly().SStore(0x05, 0x77).Stop().Bytecode()

	accounts := map[common.Address]oracle.Account{
		testCaller: {Balance: big.NewInt(1e18)},
		testCallee: {Code: writer},
	}
	// Both transactions run the same SSTORE so the second one observes the
	// slot value the first one left behind.
	writeTo := testCallee
	writeTx := oracle.Transaction{From: testCaller, To: &writeTo, GasLimit: 200_000, GasPrice: big.NewInt(1)}
	readTx := writeTx

	traces, err := oracle.Trace(context.Background(), oracle.TraceConfig{
		Accounts:     accounts,
		Transactions: []oracle.Transaction{writeTx, readTx},
	})
	require.NoError(t, err)

	batch, err := NewCircuitInputBuilder(accounts).BuildBatch(context.Background(), []TracedTx{
		{Tx: writeTx, Trace: traces[0]},
		{Tx: readTx, Trace: traces[1]},
	})
	require.NoError(t, err)
	require.Len(t, batch.Txs, 2)

	// The second transaction's replay starts from the first one's
	// post-storage: its SSTORE sees 0x77 as both previous and committed.
	var second *TxInput
	for _, in := range batch.Txs {
		if in.TxID == 2 {
			second = in
		}
	}
	require.NotNil(t, second)
	var found bool
	for _, idx := range findStep(t, second, evm.SSTORE).RWIndices {
		op := batch.Container.Ops[idx]
		if st, ok := op.Op.(StorageOp); ok && op.RW == Write {
			require.Equal(t, uint64(0x77), st.ValuePrev.Uint64())
			require.Equal(t, uint64(0x77), st.Committed.Uint64())
			found = true
		}
	}
	require.True(t, found)
}

func TestBuildBatchModes(t *testing.T) {
	good := oracle.NewAssembly().Push(1).Pop().Stop().Bytecode()
	bad := oracle.NewAssembly().
		Push(0).Push(0).Push(0).Op(evm.CALLDATACOPY).Stop().
		Bytecode()

	badAddr := common.HexToAddress("0x00000000000000000000000000000000cafe0003")
	accounts := map[common.Address]oracle.Account{
		testCaller: {Balance: big.NewInt(1e18)},
		testCallee: {Code: good},
		badAddr:    {Code: bad},
	}
	goodTo, badTo := testCallee, badAddr
	goodTx := oracle.Transaction{From: testCaller, To: &goodTo, GasLimit: 100_000, GasPrice: big.NewInt(1)}
	badTx := oracle.Transaction{From: testCaller, To: &badTo, GasLimit: 100_000, GasPrice: big.NewInt(1)}

	traces, err := oracle.Trace(context.Background(), oracle.TraceConfig{
		Accounts:     accounts,
		Transactions: []oracle.Transaction{goodTx, badTx},
	})
	require.NoError(t, err)

	txs := []TracedTx{
		{Tx: goodTx, Trace: traces[0]},
		{Tx: badTx, Trace: traces[1]},
	}
	b := NewCircuitInputBuilder(accounts)

	batch, err := b.BuildBatch(context.Background(), txs)
	require.NoError(t, err)
	require.Len(t, batch.Txs, 1, "per-tx atomic drops the failing transaction")
	require.Equal(t, 1, batch.Txs[0].TxID)

	_, err = b.BuildBatch(context.Background(), txs, WithBatchMode(BatchAtomic))
	var unsup *UnsupportedOpcodeError
	require.True(t, errors.As(err, &unsup))
}
