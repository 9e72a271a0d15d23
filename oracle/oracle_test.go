package oracle

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/zkevmlab/zkevm-go/evm"
)

func contractAddr() common.Address {
	return common.BytesToAddress([]byte{0xff})
}

func traceCode(t *testing.T, code []byte, gasLimit uint64) *TxTrace {
	t.Helper()
	addr := contractAddr()
	cfg := TraceConfig{
		Accounts: map[common.Address]Account{
			addr: {Code: code, Balance: big.NewInt(1)},
		},
		Transactions: []Transaction{
			{To: &addr, GasLimit: gasLimit},
		},
	}
	traces, err := Trace(context.Background(), cfg)
	require.NoError(t, err)
	require.Len(t, traces, 1)
	return traces[0]
}

func TestTraceMStoreMSize(t *testing.T) {
	code := NewAssembly().MStore(0x40, 0x80).MSize().Stop().Bytecode()
	trace := traceCode(t, code, 100000)
	require.False(t, trace.Failed)

	ops := make([]evm.OpCode, len(trace.Steps))
	for i, s := range trace.Steps {
		ops[i] = s.Op
	}
	require.Equal(t, []evm.OpCode{
		evm.PUSH1, evm.PUSH1, evm.MSTORE, evm.MSIZE, evm.STOP,
	}, ops)

	// MSIZE pushes 0x60: memory expanded to cover 0x40..0x5f.
	stop := trace.Steps[4]
	require.Equal(t, uint64(0x60), stop.Stack[len(stop.Stack)-1].Uint64())
}

func TestTraceStackSnapshots(t *testing.T) {
	code := NewAssembly().Push(3).Push(4).Add().Stop().Bytecode()
	trace := traceCode(t, code, 100000)
	require.False(t, trace.Failed)

	addStep := trace.Steps[2]
	require.Equal(t, evm.ADD, addStep.Op)
	require.Len(t, addStep.Stack, 2)
	require.Equal(t, uint64(4), addStep.Stack[1].Uint64())
	require.Equal(t, uint64(3), addStep.Stack[0].Uint64())

	stop := trace.Steps[3]
	require.Equal(t, uint64(7), stop.Stack[0].Uint64())
}

func TestTraceGasDecreases(t *testing.T) {
	code := NewAssembly().Push(1).Push(2).Add().Pop().Stop().Bytecode()
	trace := traceCode(t, code, 100000)
	for i := 1; i < len(trace.Steps); i++ {
		require.LessOrEqual(t, trace.Steps[i].Gas, trace.Steps[i-1].Gas)
	}
}

func TestTraceRevert(t *testing.T) {
	code := NewAssembly().Revert(0, 0).Bytecode()
	trace := traceCode(t, code, 100000)
	require.True(t, trace.Failed)
}

func TestTraceCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	addr := contractAddr()
	_, err := Trace(ctx, TraceConfig{
		Accounts:     map[common.Address]Account{addr: {Code: NewAssembly().Stop().Bytecode()}},
		Transactions: []Transaction{{To: &addr, GasLimit: 30000}},
	})
	require.Error(t, err)
	var unavailable *UnavailableError
	require.ErrorAs(t, err, &unavailable)
}

func TestAssemblyBytecode(t *testing.T) {
	code := NewAssembly().MStore(0x40, 0x80).MSize().Stop().Bytecode()
	require.Equal(t, []byte{
		byte(evm.PUSH1), 0x80,
		byte(evm.PUSH1), 0x40,
		byte(evm.MSTORE),
		byte(evm.MSIZE),
		byte(evm.STOP),
	}, code)
}
