// Package gadgets turns replayed execution steps into polynomial
// constraints and table lookups. Each gadget owns one execution state:
// it configures the constraints once, and assigns a witness for every
// step that landed in that state.
package gadgets

import (
	"github.com/zkevmlab/zkevm-go/busmapping"
	"github.com/zkevmlab/zkevm-go/evm"
)

// ExecutionState partitions steps by the gadget responsible for them.
// Opcodes sharing a constraint shape share a state.
type ExecutionState uint8

const (
	StateStop ExecutionState = iota
	StateAddSub
	StateMul
	StateCmp
	StateSignedCmp
	StateIsZero
	StateBitwise
	StateNot
	StateByte
	StatePush
	StatePop
	StateDup
	StateSwap
	StateMload
	StateMstore
	StateMstore8
	StateMsize
	StateSload
	StateSstore
	StateJump
	StateJumpi
	StateJumpdest
	StatePc
	StateGas
	StateCallValue
	StateCaller
	StateAddress
	StateCalldatasize
	StateCalldataload
	StateOrigin
	StateGasPrice
	StateTimestamp
	StateNumber
	StateCoinbase
	StateSelfBalance
	StateReturn
	StateRevert
	StateErrOutOfGas
	StateErrStackOverflow
	StateErrStackUnderflow
	StateErrInvalidOpcode
	StateErrInvalidJump
	StateErrWriteProtection

	numStates
)

var stateNames = map[ExecutionState]string{
	StateStop:               "STOP",
	StateAddSub:             "ADD_SUB",
	StateMul:                "MUL",
	StateCmp:                "CMP",
	StateSignedCmp:          "SCMP",
	StateIsZero:             "ISZERO",
	StateBitwise:            "BITWISE",
	StateNot:                "NOT",
	StateByte:               "BYTE",
	StatePush:               "PUSH",
	StatePop:                "POP",
	StateDup:                "DUP",
	StateSwap:               "SWAP",
	StateMload:              "MLOAD",
	StateMstore:             "MSTORE",
	StateMstore8:            "MSTORE8",
	StateMsize:              "MSIZE",
	StateSload:              "SLOAD",
	StateSstore:             "SSTORE",
	StateJump:               "JUMP",
	StateJumpi:              "JUMPI",
	StateJumpdest:           "JUMPDEST",
	StatePc:                 "PC",
	StateGas:                "GAS",
	StateCallValue:          "CALLVALUE",
	StateCaller:             "CALLER",
	StateAddress:            "ADDRESS",
	StateCalldatasize:       "CALLDATASIZE",
	StateCalldataload:       "CALLDATALOAD",
	StateOrigin:             "ORIGIN",
	StateGasPrice:           "GASPRICE",
	StateTimestamp:          "TIMESTAMP",
	StateNumber:             "NUMBER",
	StateCoinbase:           "COINBASE",
	StateSelfBalance:        "SELFBALANCE",
	StateReturn:             "RETURN",
	StateRevert:             "REVERT",
	StateErrOutOfGas:        "ErrOutOfGas",
	StateErrStackOverflow:   "ErrStackOverflow",
	StateErrStackUnderflow:  "ErrStackUnderflow",
	StateErrInvalidOpcode:   "ErrInvalidOpcode",
	StateErrInvalidJump:     "ErrInvalidJump",
	StateErrWriteProtection: "ErrWriteProtection",
}

func (s ExecutionState) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "ExecutionState(?)"
}

// ExecutionStateFor maps a replayed step to the execution state whose
// gadget constrains it. Steps that ended in an error map by the error
// kind, every other step maps by opcode. The second return is false for
// opcodes the constraint layer does not cover.
func ExecutionStateFor(step *busmapping.ExecStep) (ExecutionState, bool) {
	switch step.Result {
	case busmapping.ResultOutOfGas:
		return StateErrOutOfGas, true
	case busmapping.ResultStackOverflow:
		return StateErrStackOverflow, true
	case busmapping.ResultStackUnderflow:
		return StateErrStackUnderflow, true
	case busmapping.ResultInvalidOpcode:
		return StateErrInvalidOpcode, true
	case busmapping.ResultInvalidJump:
		return StateErrInvalidJump, true
	case busmapping.ResultWriteProtection:
		return StateErrWriteProtection, true
	}

	op := step.Op
	switch {
	case op.IsPush():
		return StatePush, true
	case op.IsDup():
		return StateDup, true
	case op.IsSwap():
		return StateSwap, true
	}

	switch op {
	case evm.STOP:
		return StateStop, true
	case evm.ADD, evm.SUB:
		return StateAddSub, true
	case evm.MUL:
		return StateMul, true
	case evm.LT, evm.GT, evm.EQ:
		return StateCmp, true
	case evm.SLT, evm.SGT:
		return StateSignedCmp, true
	case evm.ISZERO:
		return StateIsZero, true
	case evm.AND, evm.OR, evm.XOR:
		return StateBitwise, true
	case evm.NOT:
		return StateNot, true
	case evm.BYTE:
		return StateByte, true
	case evm.POP:
		return StatePop, true
	case evm.MLOAD:
		return StateMload, true
	case evm.MSTORE:
		return StateMstore, true
	case evm.MSTORE8:
		return StateMstore8, true
	case evm.MSIZE:
		return StateMsize, true
	case evm.SLOAD:
		return StateSload, true
	case evm.SSTORE:
		return StateSstore, true
	case evm.JUMP:
		return StateJump, true
	case evm.JUMPI:
		return StateJumpi, true
	case evm.JUMPDEST:
		return StateJumpdest, true
	case evm.PC:
		return StatePc, true
	case evm.GAS:
		return StateGas, true
	case evm.CALLVALUE:
		return StateCallValue, true
	case evm.CALLER:
		return StateCaller, true
	case evm.ADDRESS:
		return StateAddress, true
	case evm.CALLDATASIZE:
		return StateCalldatasize, true
	case evm.CALLDATALOAD:
		return StateCalldataload, true
	case evm.ORIGIN:
		return StateOrigin, true
	case evm.GASPRICE:
		return StateGasPrice, true
	case evm.TIMESTAMP:
		return StateTimestamp, true
	case evm.NUMBER:
		return StateNumber, true
	case evm.COINBASE:
		return StateCoinbase, true
	case evm.SELFBALANCE:
		return StateSelfBalance, true
	case evm.RETURN:
		return StateReturn, true
	case evm.REVERT:
		return StateRevert, true
	}
	return 0, false
}
