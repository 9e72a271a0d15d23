package evm

// Gas cost tiers, following the yellow paper naming with the Berlin
// warm-access additions.
const (
	GasZero        uint64 = 0
	GasQuickStep   uint64 = 2
	GasFastestStep uint64 = 3
	GasFastStep    uint64 = 5
	GasMidStep     uint64 = 8
	GasSlowStep    uint64 = 10
	GasExtStep     uint64 = 20

	GasWarmAccess   uint64 = 100
	GasColdSload    uint64 = 2100
	GasColdAccount  uint64 = 2600
	GasSstoreSet    uint64 = 20000
	GasSstoreReset  uint64 = 2900
	GasJumpDest     uint64 = 1
	GasKeccak256    uint64 = 30
	GasLog          uint64 = 375
	GasSelfdestruct uint64 = 5000
	GasCreate       uint64 = 32000
)

// TxGas is the intrinsic gas of a plain value transfer.
const TxGas uint64 = 21000

// StackLimit is the maximum depth of the EVM operand stack.
const StackLimit = 1024

// CallDepthLimit is the maximum nesting depth of call frames.
const CallDepthLimit = 1024

// WordSize is the EVM word width in bytes.
const WordSize = 32

type opInfo struct {
	pops        int
	pushes      int
	constantGas uint64
	dynamicGas  bool
	defined     bool
}

var opTable = buildOpTable()

func buildOpTable() [256]opInfo {
	var t [256]opInfo
	def := func(op OpCode, pops, pushes int, gas uint64, dynamic bool) {
		t[op] = opInfo{pops: pops, pushes: pushes, constantGas: gas, dynamicGas: dynamic, defined: true}
	}

	def(STOP, 0, 0, GasZero, false)
	def(ADD, 2, 1, GasFastestStep, false)
	def(MUL, 2, 1, GasFastStep, false)
	def(SUB, 2, 1, GasFastestStep, false)
	def(DIV, 2, 1, GasFastStep, false)
	def(SDIV, 2, 1, GasFastStep, false)
	def(MOD, 2, 1, GasFastStep, false)
	def(SMOD, 2, 1, GasFastStep, false)
	def(ADDMOD, 3, 1, GasMidStep, false)
	def(MULMOD, 3, 1, GasMidStep, false)
	def(EXP, 2, 1, GasSlowStep, true)
	def(SIGNEXTEND, 2, 1, GasFastStep, false)

	for _, op := range []OpCode{LT, GT, SLT, SGT, EQ, AND, OR, XOR} {
		def(op, 2, 1, GasFastestStep, false)
	}
	def(ISZERO, 1, 1, GasFastestStep, false)
	def(NOT, 1, 1, GasFastestStep, false)
	def(BYTE, 2, 1, GasFastestStep, false)
	def(SHL, 2, 1, GasFastestStep, false)
	def(SHR, 2, 1, GasFastestStep, false)
	def(SAR, 2, 1, GasFastestStep, false)
	def(SHA3, 2, 1, GasKeccak256, true)

	def(ADDRESS, 0, 1, GasQuickStep, false)
	def(BALANCE, 1, 1, GasWarmAccess, true)
	def(ORIGIN, 0, 1, GasQuickStep, false)
	def(CALLER, 0, 1, GasQuickStep, false)
	def(CALLVALUE, 0, 1, GasQuickStep, false)
	def(CALLDATALOAD, 1, 1, GasFastestStep, false)
	def(CALLDATASIZE, 0, 1, GasQuickStep, false)
	def(CALLDATACOPY, 3, 0, GasFastestStep, true)
	def(CODESIZE, 0, 1, GasQuickStep, false)
	def(CODECOPY, 3, 0, GasFastestStep, true)
	def(GASPRICE, 0, 1, GasQuickStep, false)
	def(EXTCODESIZE, 1, 1, GasWarmAccess, true)
	def(EXTCODECOPY, 4, 0, GasWarmAccess, true)
	def(RETURNDATASIZE, 0, 1, GasQuickStep, false)
	def(RETURNDATACOPY, 3, 0, GasFastestStep, true)
	def(EXTCODEHASH, 1, 1, GasWarmAccess, true)

	def(BLOCKHASH, 1, 1, GasExtStep, false)
	def(COINBASE, 0, 1, GasQuickStep, false)
	def(TIMESTAMP, 0, 1, GasQuickStep, false)
	def(NUMBER, 0, 1, GasQuickStep, false)
	def(DIFFICULTY, 0, 1, GasQuickStep, false)
	def(GASLIMIT, 0, 1, GasQuickStep, false)
	def(CHAINID, 0, 1, GasQuickStep, false)
	def(SELFBALANCE, 0, 1, GasFastStep, false)
	def(BASEFEE, 0, 1, GasQuickStep, false)

	def(POP, 1, 0, GasQuickStep, false)
	def(MLOAD, 1, 1, GasFastestStep, true)
	def(MSTORE, 2, 0, GasFastestStep, true)
	def(MSTORE8, 2, 0, GasFastestStep, true)
	def(SLOAD, 1, 1, GasWarmAccess, true)
	def(SSTORE, 2, 0, GasZero, true)
	def(JUMP, 1, 0, GasMidStep, false)
	def(JUMPI, 2, 0, GasSlowStep, false)
	def(PC, 0, 1, GasQuickStep, false)
	def(MSIZE, 0, 1, GasQuickStep, false)
	def(GAS, 0, 1, GasQuickStep, false)
	def(JUMPDEST, 0, 0, GasJumpDest, false)

	for i := 0; i < 32; i++ {
		def(PUSH1+OpCode(i), 0, 1, GasFastestStep, false)
	}
	for i := 0; i < 16; i++ {
		def(DUP1+OpCode(i), i+1, i+2, GasFastestStep, false)
	}
	for i := 0; i < 16; i++ {
		def(SWAP1+OpCode(i), i+2, i+2, GasFastestStep, false)
	}
	for i := 0; i < 5; i++ {
		def(LOG0+OpCode(i), i+2, 0, GasLog, true)
	}

	def(CREATE, 3, 1, GasCreate, true)
	def(CALL, 7, 1, GasWarmAccess, true)
	def(CALLCODE, 7, 1, GasWarmAccess, true)
	def(RETURN, 2, 0, GasZero, true)
	def(DELEGATECALL, 6, 1, GasWarmAccess, true)
	def(CREATE2, 4, 1, GasCreate, true)
	def(STATICCALL, 6, 1, GasWarmAccess, true)
	def(REVERT, 2, 0, GasZero, true)
	def(SELFDESTRUCT, 1, 0, GasSelfdestruct, true)

	return t
}

// IsDefined reports whether op is a valid opcode on the supported fork.
func (op OpCode) IsDefined() bool {
	return opTable[op].defined
}

// StackPops returns the number of stack operands op consumes.
func (op OpCode) StackPops() int {
	return opTable[op].pops
}

// StackPushes returns the number of stack results op produces.
func (op OpCode) StackPushes() int {
	return opTable[op].pushes
}

// StackDelta is pushes minus pops; the stack pointer moves by -StackDelta.
func (op OpCode) StackDelta() int {
	return opTable[op].pushes - opTable[op].pops
}

// ConstantGas returns the static portion of op's gas cost.
func (op OpCode) ConstantGas() uint64 {
	return opTable[op].constantGas
}

// HasDynamicGas reports whether op charges gas beyond the constant portion
// (memory expansion, cold access, copy costs).
func (op OpCode) HasDynamicGas() bool {
	return opTable[op].dynamicGas
}
