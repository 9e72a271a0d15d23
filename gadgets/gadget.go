package gadgets

import (
	"github.com/zkevmlab/zkevm-go/evm"
	"github.com/zkevmlab/zkevm-go/tables"
)

// Gadget constrains the execution states it declares. Configure runs
// once per circuit; Assign runs for every step that landed in one of
// the gadget's states.
type Gadget interface {
	Name() string
	States() []ExecutionState
	Configure(cb *ConstraintBuilder)
	Assign(w *Witness, view StepView) error
}

// All returns one instance of every gadget, covering every execution
// state the circuit supports.
func All() []Gadget {
	return []Gadget{
		newStopGadget(),
		newAddSubGadget(),
		newMulGadget(),
		newCmpGadget(),
		newSignedCmpGadget(),
		newIsZeroGadget(),
		newBitwiseGadget(),
		newNotGadget(),
		newByteGadget(),
		newPushGadget(),
		newPopGadget(),
		newDupGadget(),
		newSwapGadget(),
		newMloadGadget(),
		newMstoreGadget(),
		newMstore8Gadget(),
		newMsizeGadget(),
		newSloadGadget(),
		newSstoreGadget(),
		newJumpGadget(),
		newJumpiGadget(),
		newJumpdestGadget(),
		newPcGadget(),
		newGasGadget(),
		newCallValueGadget(),
		newCallerGadget(),
		newAddressGadget(),
		newCalldatasizeGadget(),
		newCalldataloadGadget(),
		newTxReadGadget("origin", StateOrigin, tables.TxOrigin, evm.ORIGIN),
		newTxReadGadget("gas_price", StateGasPrice, tables.TxGasPrice, evm.GASPRICE),
		newBlockReadGadget("timestamp", StateTimestamp, tables.BlockTimestamp, evm.TIMESTAMP),
		newBlockReadGadget("number", StateNumber, tables.BlockNumber, evm.NUMBER),
		newBlockReadGadget("coinbase", StateCoinbase, tables.BlockCoinbase, evm.COINBASE),
		newSelfBalanceGadget(),
		newHaltGadget("return", StateReturn, evm.RETURN),
		newHaltGadget("revert", StateRevert, evm.REVERT),
		newErrorGadget("err_out_of_gas", StateErrOutOfGas),
		newErrorGadget("err_stack_overflow", StateErrStackOverflow),
		newErrorGadget("err_stack_underflow", StateErrStackUnderflow),
		newErrorGadget("err_invalid_opcode", StateErrInvalidOpcode),
		newErrorGadget("err_invalid_jump", StateErrInvalidJump),
		newErrorGadget("err_write_protection", StateErrWriteProtection),
	}
}
