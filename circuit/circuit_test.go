package circuit

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/zkevmlab/zkevm-go/busmapping"
	"github.com/zkevmlab/zkevm-go/evm"
	"github.com/zkevmlab/zkevm-go/field"
	"github.com/zkevmlab/zkevm-go/oracle"
)

var (
	testCaller   = common.HexToAddress("0x00000000000000000000000000000000cafe0001")
	testCallee   = common.HexToAddress("0x00000000000000000000000000000000cafe0002")
	testCoinbase = common.HexToAddress("0x00000000000000000000000000000000c0ffee01")
)

func testBlock() oracle.BlockContext {
	return oracle.BlockContext{
		Coinbase: testCoinbase,
		Number:   1337,
		Time:     1714000000,
		GasLimit: 30_000_000,
	}
}

func tracedBatch(t *testing.T, code []byte, input []byte) *busmapping.Batch {
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
		GasPrice: big.NewInt(2),
		Value:    big.NewInt(3),
		Input:    input,
	}
	traces, err := oracle.Trace(context.Background(), oracle.TraceConfig{
		Accounts:     accounts,
		Transactions: []oracle.Transaction{tx},
		Block:        testBlock(),
	})
	require.NoError(t, err)
	require.Len(t, traces, 1)

	batch, err := busmapping.NewCircuitInputBuilder(accounts).
		BuildBatch(context.Background(), []busmapping.TracedTx{{Tx: tx, Trace: traces[0]}})
	require.NoError(t, err)
	return batch
}

func checkedSystem(t *testing.T, code []byte) *System {
	t.Helper()
	batch := tracedBatch(t, code, nil)
	asm, err := NewAssembler(field.BN254())
	require.NoError(t, err)
	sys, err := asm.Assemble(context.Background(), testBlock(), batch)
	require.NoError(t, err)
	NewAssert(t).CheckSucceeded(sys)
	return sys
}

func TestArithmeticProgram(t *testing.T) {
	code := oracle.NewAssembly().
		Push(7).Push(5).
		Op(evm.DUP2).  // [7 5 7]
		Add().         // [7 12]
		Mul().         // [84]
		Push(100).     // [84 100]
		Op(evm.LT).    // 100 < 84 = 0
		Op(evm.ISZERO).
		Push(2).
		Op(evm.SWAP1). // [2 1]
		Op(evm.XOR).   // [3]
		Op(evm.NOT).
		Pop().
		Push(0xff00).Push(0x0ff0).
		Op(evm.AND). // [0x0f00]
		Push(0x1234).
		Op(evm.SGT). // 0x1234 > 0x0f00 signed = 1
		Pop().
		PushWord(new(uint256.Int).Lsh(uint256.NewInt(0x12), 248)).
		Push(0).
		Op(evm.BYTE). // most significant byte = 0x12
		Pop().
		Stop().
		Bytecode()
	checkedSystem(t, code)
}

func TestMemoryProgram(t *testing.T) {
	code := oracle.NewAssembly().
		MStore(0x40, 0x80).
		MLoad(0x40).
		Pop().
		MStore8(0x20, 0xab).
		MSize().
		Pop().
		Stop().
		Bytecode()
	checkedSystem(t, code)
}

func TestStorageProgram(t *testing.T) {
	code := oracle.NewAssembly().
		SStore(1, 0x2a).
		SLoad(1).
		Pop().
		Stop().
		Bytecode()
	sys := checkedSystem(t, code)

	// The frame is persistent, so no rollback rows entered the table.
	for _, row := range sys.Rw.Rows {
		if row.Tag == busmapping.TargetStorage {
			require.True(t, row.IsWrite || row.Value.Eq(&row.ValuePrev))
		}
	}
}

func TestRevertedStorageProgram(t *testing.T) {
	code := oracle.NewAssembly().
		SStore(1, 0x2a).
		SStore(1, 0x55).
		Revert(0, 0).
		Bytecode()
	// The reversion section adds one rollback row per reversible write;
	// the permutation only closes if the SSTORE gadgets query them.
	checkedSystem(t, code)
}

func TestJumpPrograms(t *testing.T) {
	jump := oracle.NewAssembly().
		Push(4).
		Op(evm.JUMP).
		Stop().
		JumpDest().
		Stop().
		Bytecode()
	checkedSystem(t, jump)

	jumpiTaken := oracle.NewAssembly().
		Push(1).
		Push(6).
		Op(evm.JUMPI).
		Stop().
		JumpDest().
		Stop().
		Bytecode()
	checkedSystem(t, jumpiTaken)

	jumpiFallthrough := oracle.NewAssembly().
		Push(0).
		Push(6).
		Op(evm.JUMPI).
		Stop().
		JumpDest().
		Stop().
		Bytecode()
	checkedSystem(t, jumpiFallthrough)
}

func TestEnvironmentProgram(t *testing.T) {
	code := oracle.NewAssembly().
		Op(evm.CALLVALUE).Pop().
		Op(evm.CALLER).Pop().
		Op(evm.ADDRESS).Pop().
		Op(evm.CALLDATASIZE).Pop().
		Push(0).Op(evm.CALLDATALOAD).Pop().
		Op(evm.ORIGIN).Pop().
		Op(evm.GASPRICE).Pop().
		Op(evm.TIMESTAMP).Pop().
		Op(evm.NUMBER).Pop().
		Op(evm.COINBASE).Pop().
		Op(evm.SELFBALANCE).Pop().
		Op(evm.PC).Pop().
		Op(evm.GAS).Pop().
		Stop().
		Bytecode()
	batch := tracedBatch(t, code, []byte{0xde, 0xad, 0xbe, 0xef})
	asm, err := NewAssembler(field.BN254())
	require.NoError(t, err)
	sys, err := asm.Assemble(context.Background(), testBlock(), batch)
	require.NoError(t, err)
	NewAssert(t).CheckSucceeded(sys)
}

func assembledBatch(t *testing.T, accounts map[common.Address]oracle.Account, txs []oracle.Transaction) (*System, *busmapping.Batch) {
	t.Helper()
	traces, err := oracle.Trace(context.Background(), oracle.TraceConfig{
		Accounts:     accounts,
		Transactions: txs,
		Block:        testBlock(),
	})
	require.NoError(t, err)
	require.Len(t, traces, len(txs))

	traced := make([]busmapping.TracedTx, len(txs))
	for i := range txs {
		traced[i] = busmapping.TracedTx{Tx: txs[i], Trace: traces[i]}
	}
	batch, err := busmapping.NewCircuitInputBuilder(accounts).
		BuildBatch(context.Background(), traced)
	require.NoError(t, err)

	asm, err := NewAssembler(field.BN254())
	require.NoError(t, err)
	sys, err := asm.Assemble(context.Background(), testBlock(), batch)
	require.NoError(t, err)
	return sys, batch
}

func TestMultiTransactionBatch(t *testing.T) {
	// Two transactions calling distinct contracts: each ADDRESS read must
	// resolve against its own frame's call-context row, which only works if
	// the merged batch keeps call ids globally unique.
	code := oracle.NewAssembly().
		Op(evm.ADDRESS).Pop().
		Stop().
		Bytecode()
	other := common.HexToAddress("0x00000000000000000000000000000000cafe0003")
	accounts := map[common.Address]oracle.Account{
		testCaller: {Balance: big.NewInt(1e18)},
		testCallee: {Code: code},
		other:      {Code: code},
	}
	toA, toB := testCallee, other
	txA := oracle.Transaction{From: testCaller, To: &toA, GasLimit: 100_000, GasPrice: big.NewInt(1)}
	txB := oracle.Transaction{From: testCaller, To: &toB, GasLimit: 100_000, GasPrice: big.NewInt(1)}

	sys, batch := assembledBatch(t, accounts, []oracle.Transaction{txA, txB})
	require.Len(t, batch.Txs, 2)
	NewAssert(t).CheckSucceeded(sys)
}

func TestBatchRevertingSecondTransaction(t *testing.T) {
	write := oracle.NewAssembly().
		SStore(1, 0x2a).
		Stop().
		Bytecode()
	revert := oracle.NewAssembly().
		SStore(1, 0x55).
		Revert(0, 0).
		Bytecode()
	other := common.HexToAddress("0x00000000000000000000000000000000cafe0003")
	accounts := map[common.Address]oracle.Account{
		testCaller: {Balance: big.NewInt(1e18)},
		testCallee: {Code: write},
		other:      {Code: revert},
	}
	toA, toB := testCallee, other
	txA := oracle.Transaction{From: testCaller, To: &toA, GasLimit: 200_000, GasPrice: big.NewInt(1)}
	txB := oracle.Transaction{From: testCaller, To: &toB, GasLimit: 200_000, GasPrice: big.NewInt(1)}

	// The second transaction's reversion-section anchors are rw counters;
	// they must survive the batch renumbering for its rollback lookups to
	// land on the merged table's rows.
	sys, batch := assembledBatch(t, accounts, []oracle.Transaction{txA, txB})
	require.Len(t, batch.Txs, 2)
	NewAssert(t).CheckSucceeded(sys)
}

func TestBatchDroppedTransactionStillChecks(t *testing.T) {
	bad := oracle.NewAssembly().
		Push(0).Push(0).Push(0).Op(evm.CALLDATACOPY).Stop().
		Bytecode()
	good := oracle.NewAssembly().
		Op(evm.ADDRESS).Pop().
		Op(evm.ORIGIN).Pop().
		Stop().
		Bytecode()
	other := common.HexToAddress("0x00000000000000000000000000000000cafe0003")
	accounts := map[common.Address]oracle.Account{
		testCaller: {Balance: big.NewInt(1e18)},
		testCallee: {Code: bad},
		other:      {Code: good},
	}
	toA, toB := testCallee, other
	txA := oracle.Transaction{From: testCaller, To: &toA, GasLimit: 100_000, GasPrice: big.NewInt(1)}
	txB := oracle.Transaction{From: testCaller, To: &toB, GasLimit: 100_000, GasPrice: big.NewInt(1)}

	// Per-tx atomic mode drops the first transaction but the survivor keeps
	// tx id 2, so its tx-table lookups must still resolve after assembly.
	sys, batch := assembledBatch(t, accounts, []oracle.Transaction{txA, txB})
	require.Len(t, batch.Txs, 1)
	require.Equal(t, 2, batch.Txs[0].TxID)
	NewAssert(t).CheckSucceeded(sys)
}

func TestUnsupportedOpcode(t *testing.T) {
	code := oracle.NewAssembly().
		Push(2).Push(3).
		Op(evm.EXP).
		Pop().
		Stop().
		Bytecode()
	batch := tracedBatch(t, code, nil)
	asm, err := NewAssembler(field.BN254())
	require.NoError(t, err)
	_, err = asm.Assemble(context.Background(), testBlock(), batch)
	var unsupported *UnsupportedStateError
	require.ErrorAs(t, err, &unsupported)
	require.Equal(t, evm.EXP, unsupported.Op)
}

func TestCorruptedResultFailsCheck(t *testing.T) {
	code := oracle.NewAssembly().
		Push(1).Push(2).
		Add().
		Stop().
		Bytecode()
	batch := tracedBatch(t, code, nil)

	// Falsify the ADD result in the bus; the result is never read again,
	// so only the gadget's carry decomposition can catch it.
	var corrupted bool
	for _, tx := range batch.Txs {
		for _, step := range tx.Steps {
			if step.Op != evm.ADD {
				continue
			}
			idx := step.RWIndices[2]
			op := batch.Container.Ops[idx].Op.(busmapping.StackOp)
			op.Value.AddUint64(&op.Value, 1)
			batch.Container.Ops[idx].Op = op
			corrupted = true
		}
	}
	require.True(t, corrupted)

	asm, err := NewAssembler(field.BN254())
	require.NoError(t, err)
	sys, err := asm.Assemble(context.Background(), testBlock(), batch)
	require.NoError(t, err)

	unsat := NewAssert(t).CheckFailed(sys)
	require.Equal(t, evm.ADD, unsat.Op)
}

func TestParallelismOption(t *testing.T) {
	code := oracle.NewAssembly().
		Push(1).Push(2).Add().Pop().Stop().
		Bytecode()
	batch := tracedBatch(t, code, nil)
	asm, err := NewAssembler(field.BN254(), WithParallelism(1))
	require.NoError(t, err)
	sys, err := asm.Assemble(context.Background(), testBlock(), batch)
	require.NoError(t, err)
	require.NoError(t, sys.Check(context.Background()))
}
