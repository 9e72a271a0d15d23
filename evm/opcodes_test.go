package evm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpCodeString(t *testing.T) {
	require.Equal(t, "STOP", STOP.String())
	require.Equal(t, "MSTORE", MSTORE.String())
	require.Equal(t, "PUSH1", PUSH1.String())
	require.Equal(t, "PUSH32", PUSH32.String())
	require.Equal(t, "SELFDESTRUCT", SELFDESTRUCT.String())
	require.Contains(t, OpCode(0x21).String(), "not defined")
}

func TestPushClassification(t *testing.T) {
	require.False(t, STOP.IsPush())
	require.True(t, PUSH1.IsPush())
	require.True(t, PUSH32.IsPush())
	require.False(t, DUP1.IsPush())
	require.Equal(t, 1, PUSH1.PushSize())
	require.Equal(t, 32, PUSH32.PushSize())
	require.Equal(t, 0, ADD.PushSize())
}

func TestDupSwapDepths(t *testing.T) {
	require.Equal(t, 1, DUP1.DupDepth())
	require.Equal(t, 16, DUP16.DupDepth())
	require.Equal(t, 1, SWAP1.SwapDepth())
	require.Equal(t, 16, SWAP16.SwapDepth())
	require.Equal(t, 0, ADD.DupDepth())
}

func TestStackMetadata(t *testing.T) {
	require.Equal(t, 2, ADD.StackPops())
	require.Equal(t, 1, ADD.StackPushes())
	require.Equal(t, -1, ADD.StackDelta())
	require.Equal(t, 0, PUSH1.StackPops())
	require.Equal(t, 1, PUSH1.StackDelta())
	require.Equal(t, 3, DUP3.StackPops())
	require.Equal(t, 4, DUP3.StackPushes())
	require.Equal(t, 4, SWAP2.StackPops())
	require.Equal(t, 0, SWAP2.StackDelta())
	require.Equal(t, 7, CALL.StackPops())
}

func TestGasMetadata(t *testing.T) {
	require.Equal(t, GasFastestStep, ADD.ConstantGas())
	require.Equal(t, GasQuickStep, MSIZE.ConstantGas())
	require.Equal(t, GasJumpDest, JUMPDEST.ConstantGas())
	require.False(t, ADD.HasDynamicGas())
	require.True(t, MSTORE.HasDynamicGas())
	require.True(t, SSTORE.HasDynamicGas())
}

func TestDefined(t *testing.T) {
	require.True(t, STOP.IsDefined())
	require.True(t, SELFDESTRUCT.IsDefined())
	require.False(t, OpCode(0x0c).IsDefined())
	require.False(t, OpCode(0x21).IsDefined())
	require.False(t, INVALID.IsDefined())
}

func TestCallAndHaltFamilies(t *testing.T) {
	for _, op := range []OpCode{CALL, CALLCODE, DELEGATECALL, STATICCALL, CREATE, CREATE2} {
		require.True(t, op.IsCallFamily(), op.String())
	}
	for _, op := range []OpCode{STOP, RETURN, REVERT, SELFDESTRUCT} {
		require.True(t, op.IsHalting(), op.String())
	}
	require.False(t, ADD.IsCallFamily())
	require.False(t, JUMP.IsHalting())
}
