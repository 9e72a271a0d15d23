package oracle

import (
	"github.com/holiman/uint256"

	"github.com/zkevmlab/zkevm-go/evm"
)

// Assembly accumulates EVM bytecode through a fluent interface, mainly for
// building test programs.
type Assembly struct {
	code []byte
}

func NewAssembly() *Assembly {
	return &Assembly{}
}

// Bytecode returns the accumulated code.
func (a *Assembly) Bytecode() []byte {
	return append([]byte(nil), a.code...)
}

// Op appends a raw opcode.
func (a *Assembly) Op(op evm.OpCode) *Assembly {
	a.code = append(a.code, byte(op))
	return a
}

// Push appends the smallest PUSHn carrying v.
func (a *Assembly) Push(v uint64) *Assembly {
	return a.PushWord(uint256.NewInt(v))
}

// PushWord appends the smallest PUSHn carrying w.
func (a *Assembly) PushWord(w *uint256.Int) *Assembly {
	bytes := w.Bytes()
	if len(bytes) == 0 {
		bytes = []byte{0}
	}
	a.code = append(a.code, byte(evm.PUSH1)+byte(len(bytes)-1))
	a.code = append(a.code, bytes...)
	return a
}

func (a *Assembly) Stop() *Assembly     { return a.Op(evm.STOP) }
func (a *Assembly) Add() *Assembly      { return a.Op(evm.ADD) }
func (a *Assembly) Sub() *Assembly      { return a.Op(evm.SUB) }
func (a *Assembly) Mul() *Assembly      { return a.Op(evm.MUL) }
func (a *Assembly) Pop() *Assembly      { return a.Op(evm.POP) }
func (a *Assembly) MSize() *Assembly    { return a.Op(evm.MSIZE) }
func (a *Assembly) JumpDest() *Assembly { return a.Op(evm.JUMPDEST) }

// MLoad appends PUSH offset, MLOAD.
func (a *Assembly) MLoad(offset uint64) *Assembly {
	return a.Push(offset).Op(evm.MLOAD)
}

// MStore appends PUSH value, PUSH offset, MSTORE.
func (a *Assembly) MStore(offset, value uint64) *Assembly {
	return a.Push(value).Push(offset).Op(evm.MSTORE)
}

// MStore8 appends PUSH value, PUSH offset, MSTORE8.
func (a *Assembly) MStore8(offset, value uint64) *Assembly {
	return a.Push(value).Push(offset).Op(evm.MSTORE8)
}

// SStore appends PUSH value, PUSH key, SSTORE.
func (a *Assembly) SStore(key, value uint64) *Assembly {
	return a.Push(value).Push(key).Op(evm.SSTORE)
}

// SLoad appends PUSH key, SLOAD.
func (a *Assembly) SLoad(key uint64) *Assembly {
	return a.Push(key).Op(evm.SLOAD)
}

// Return appends PUSH length, PUSH offset, RETURN.
func (a *Assembly) Return(offset, length uint64) *Assembly {
	return a.Push(length).Push(offset).Op(evm.RETURN)
}

// Revert appends PUSH length, PUSH offset, REVERT.
func (a *Assembly) Revert(offset, length uint64) *Assembly {
	return a.Push(length).Push(offset).Op(evm.REVERT)
}
