package gadgets

import (
	"testing"

	"github.com/consensys/gnark/constraint"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/zkevmlab/zkevm-go/busmapping"
	"github.com/zkevmlab/zkevm-go/evm"
	"github.com/zkevmlab/zkevm-go/field"
)

func TestAllCoversEveryState(t *testing.T) {
	f := field.BN254()
	owner := make(map[ExecutionState]string)
	for _, g := range All() {
		cfg, err := Configure(f, g)
		require.NoError(t, err, g.Name())
		require.Greater(t, cfg.NumCells, 0, g.Name())
		for _, s := range g.States() {
			prev, taken := owner[s]
			require.False(t, taken, "state %s claimed by both %s and %s", s, prev, g.Name())
			owner[s] = g.Name()
		}
	}
	require.Len(t, owner, int(numStates))
}

func TestExecutionStateFor(t *testing.T) {
	cases := []struct {
		op    evm.OpCode
		state ExecutionState
	}{
		{evm.STOP, StateStop},
		{evm.ADD, StateAddSub},
		{evm.SUB, StateAddSub},
		{evm.MUL, StateMul},
		{evm.LT, StateCmp},
		{evm.GT, StateCmp},
		{evm.EQ, StateCmp},
		{evm.SLT, StateSignedCmp},
		{evm.SGT, StateSignedCmp},
		{evm.ISZERO, StateIsZero},
		{evm.AND, StateBitwise},
		{evm.XOR, StateBitwise},
		{evm.NOT, StateNot},
		{evm.BYTE, StateByte},
		{evm.PUSH1, StatePush},
		{evm.PUSH32, StatePush},
		{evm.POP, StatePop},
		{evm.DUP1, StateDup},
		{evm.DUP16, StateDup},
		{evm.SWAP1, StateSwap},
		{evm.SWAP16, StateSwap},
		{evm.MLOAD, StateMload},
		{evm.MSTORE8, StateMstore8},
		{evm.SLOAD, StateSload},
		{evm.SSTORE, StateSstore},
		{evm.JUMPI, StateJumpi},
		{evm.PC, StatePc},
		{evm.CALLVALUE, StateCallValue},
		{evm.CALLDATALOAD, StateCalldataload},
		{evm.ORIGIN, StateOrigin},
		{evm.COINBASE, StateCoinbase},
		{evm.SELFBALANCE, StateSelfBalance},
		{evm.RETURN, StateReturn},
		{evm.REVERT, StateRevert},
	}
	for _, tc := range cases {
		state, ok := ExecutionStateFor(&busmapping.ExecStep{Op: tc.op})
		require.True(t, ok, tc.op)
		require.Equal(t, tc.state, state, tc.op)
	}

	for _, op := range []evm.OpCode{evm.EXP, evm.SHA3, evm.BALANCE, evm.CALL} {
		_, ok := ExecutionStateFor(&busmapping.ExecStep{Op: op})
		require.False(t, ok, op)
	}
}

func TestExecutionStateForErrors(t *testing.T) {
	cases := []struct {
		result busmapping.ExecResult
		state  ExecutionState
	}{
		{busmapping.ResultOutOfGas, StateErrOutOfGas},
		{busmapping.ResultStackOverflow, StateErrStackOverflow},
		{busmapping.ResultStackUnderflow, StateErrStackUnderflow},
		{busmapping.ResultInvalidOpcode, StateErrInvalidOpcode},
		{busmapping.ResultInvalidJump, StateErrInvalidJump},
		{busmapping.ResultWriteProtection, StateErrWriteProtection},
	}
	for _, tc := range cases {
		// The error kind wins over whatever opcode the step carries.
		state, ok := ExecutionStateFor(&busmapping.ExecStep{Op: evm.ADD, Result: tc.result})
		require.True(t, ok, tc.result)
		require.Equal(t, tc.state, state, tc.result)
	}

	state, ok := ExecutionStateFor(&busmapping.ExecStep{Op: evm.REVERT, Result: busmapping.ResultReverted})
	require.True(t, ok)
	require.Equal(t, StateRevert, state)
}

func requireSatisfied(t *testing.T, w *Witness, constraints []Named) {
	t.Helper()
	for _, c := range constraints {
		require.Equal(t, constraint.Element{}, w.Eval(c.E), c.Name)
	}
}

func TestWordHalves(t *testing.T) {
	f := field.BN254()
	cb := NewConstraintBuilder(f)
	limbWord := cb.AllocWord("w")
	byteWord := cb.AllocWordBytes("wb")

	v := uint256.MustFromHex("0x102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f20")
	w := NewWitness(f, cb.numCells)
	w.SetWord(limbWord, v)
	w.SetWord(byteWord, v)

	lo, hi := halves(v)
	for _, word := range []Word{limbWord, byteWord} {
		require.Equal(t, f.FromInterface(lo), w.Eval(word.Lo()))
		require.Equal(t, f.FromInterface(hi), w.Eval(word.Hi()))
		require.Equal(t, f.FromInterface(0x1f20), w.Eval(word.Limb(0)))
		require.Equal(t, f.FromInterface(0x0102), w.Eval(word.Limb(15)))
	}
	require.Equal(t, f.FromInterface(0x20), w.Value(byteWord.Byte(0).VID))
	require.Equal(t, f.FromInterface(0x01), w.Value(byteWord.Byte(31).VID))
}

func TestIsZeroChip(t *testing.T) {
	f := field.BN254()
	cb := NewConstraintBuilder(f)
	in := cb.AllocCell()
	ch := newIsZero(cb, "test", cb.v(in))

	for _, val := range []uint64{0, 1, 7, 1 << 40} {
		w := NewWitness(f, cb.numCells)
		w.SetUint64(in, val)
		ch.assign(w, w.Value(in.VID))
		requireSatisfied(t, w, cb.constraints)
		want := constraint.Element{}
		if val == 0 {
			want = f.One()
		}
		require.Equal(t, want, w.Eval(ch.out), "input %d", val)
	}
}

func TestLtChip(t *testing.T) {
	f := field.BN254()
	cb := NewConstraintBuilder(f)
	lhs := cb.AllocCell()
	rhs := cb.AllocCell()
	ch := newLt(cb, "test", 64, cb.v(lhs), cb.v(rhs))

	cases := []struct {
		lhs, rhs uint64
		lt       bool
	}{
		{0, 0, false},
		{0, 1, true},
		{5, 5, false},
		{5, 6, true},
		{1 << 63, 1, false},
		{1, 1 << 63, true},
	}
	for _, tc := range cases {
		w := NewWitness(f, cb.numCells)
		w.SetUint64(lhs, tc.lhs)
		w.SetUint64(rhs, tc.rhs)
		got := ch.assign(w,
			new(uint256.Int).SetUint64(tc.lhs).ToBig(),
			new(uint256.Int).SetUint64(tc.rhs).ToBig())
		require.Equal(t, tc.lt, got, "%d < %d", tc.lhs, tc.rhs)
		requireSatisfied(t, w, cb.constraints)
		want := constraint.Element{}
		if tc.lt {
			want = f.One()
		}
		require.Equal(t, want, w.Eval(ch.out(cb)), "%d < %d", tc.lhs, tc.rhs)
	}
}

func TestWordLtChip(t *testing.T) {
	f := field.BN254()
	cb := NewConstraintBuilder(f)
	a := cb.AllocWord("a")
	b := cb.AllocWord("b")
	ch := newWordLt(cb, "test", a.Lo(), a.Hi(), b.Lo(), b.Hi())

	one := uint256.NewInt(1)
	big1 := new(uint256.Int).Lsh(one, 200)
	big2 := new(uint256.Int).Add(big1, one)
	cases := []struct {
		lhs, rhs *uint256.Int
		lt       bool
	}{
		{one, big1, true},
		{big1, one, false},
		{big1, big2, true},
		{big1, big1, false},
	}
	for _, tc := range cases {
		w := NewWitness(f, cb.numCells)
		w.SetWord(a, tc.lhs)
		w.SetWord(b, tc.rhs)
		ch.assign(w, tc.lhs, tc.rhs)
		requireSatisfied(t, w, cb.constraints)
		want := constraint.Element{}
		if tc.lt {
			want = f.One()
		}
		require.Equal(t, want, w.Eval(ch.out(cb)))
	}
}

func TestMemExpansionGas(t *testing.T) {
	f := field.BN254()
	cb := NewConstraintBuilder(f)
	addrEnd := cb.AllocCell()
	ch := newMemExpansion(cb, "test", cb.v(addrEnd))

	quad := func(words uint64) uint64 { return words * words / 512 }
	cases := []struct {
		addrEnd, currWords uint64
	}{
		{0, 0},
		{32, 0},
		{64, 2},   // already covered, no growth
		{33, 1},   // one padded byte past the boundary
		{736, 10}, // quadratic floors differ from the single-floor form
		{100_000, 0},
		{100_000, 5000},
	}
	for _, tc := range cases {
		w := NewWitness(f, cb.numCells)
		w.SetUint64(addrEnd, tc.addrEnd)
		w.SetUint64(cb.Curr.MemoryWordSize, tc.currWords)
		ch.assign(w, tc.addrEnd, tc.currWords)
		requireSatisfied(t, w, cb.constraints)

		next := (tc.addrEnd + 31) / 32
		if next < tc.currWords {
			next = tc.currWords
		}
		wantGas := 3*(next-tc.currWords) + quad(next) - quad(tc.currWords)
		require.Equal(t, f.FromInterface(next), w.Eval(ch.next), "addrEnd=%d", tc.addrEnd)
		require.Equal(t, f.FromInterface(wantGas), w.Eval(ch.gas), "addrEnd=%d curr=%d", tc.addrEnd, tc.currWords)
	}
}
