package sevm

import (
	"fmt"

	"github.com/pkg/errors"
)

// OpCode is a single bytecode instruction.
type OpCode byte

// 0x00 range: arithmetic.
const (
	OpStop OpCode = iota
	OpAdd
	OpMul
	OpSub
	OpDiv
	OpSDiv
	OpMod
	OpSMod
	OpAddMod
	OpMulMod
	OpExp
	OpSignExtend
)

// 0x10 range: comparison and bitwise logic.
const (
	OpLt OpCode = iota + 0x10
	OpGt
	OpSlt
	OpSgt
	OpEq
	OpIsZero
	OpAnd
	OpOr
	OpXor
	OpNot
	OpByte
	OpShl
	OpShr
	OpSar
)

// 0x20 range: hashing.
const (
	OpKeccak256 OpCode = 0x20
)

// 0x30 range: environment.
const (
	OpAddress OpCode = iota + 0x30
	OpBalance
	OpOrigin
	OpCaller
	OpCallValue
	OpCalldataLoad
	OpCalldataSize
	OpCalldataCopy
	OpCodeSize
	OpCodeCopy
	OpGasPrice
	OpExtCodeSize
	OpExtCodeCopy
	OpReturnDataSize
	OpReturnDataCopy
	OpExtCodeHash
)

// 0x40 range: block context.
const (
	OpBlockHash OpCode = iota + 0x40
	OpCoinbase
	OpTimestamp
	OpNumber
	OpDifficulty
	OpGasLimit
	OpChainID
	OpSelfBalance
	OpBaseFee
)

// 0x50 range: stack, memory, storage and control flow.
const (
	OpPop OpCode = iota + 0x50
	OpMLoad
	OpMStore
	OpMStore8
	OpSLoad
	OpSStore
	OpJump
	OpJumpi
	OpPC
	OpMSize
	OpGas
	OpJumpDest
)

// 0x5f-0x9f range: push, dup and swap.
const (
	OpPush0  OpCode = 0x5f
	OpPush1  OpCode = 0x60
	OpPush32 OpCode = 0x7f
	OpDup1   OpCode = 0x80
	OpDup16  OpCode = 0x8f
	OpSwap1  OpCode = 0x90
	OpSwap16 OpCode = 0x9f
)

// 0xa0 range: logging.
const (
	OpLog0 OpCode = iota + 0xa0
	OpLog1
	OpLog2
	OpLog3
	OpLog4
)

// 0xf0 range: calls and halts.
const (
	OpCreate OpCode = iota + 0xf0
	OpCall
	OpCallCode
	OpReturn
	OpDelegateCall
	OpCreate2
)
const (
	OpStaticCall   OpCode = 0xfa
	OpRevert       OpCode = 0xfd
	OpInvalid      OpCode = 0xfe
	OpSelfDestruct OpCode = 0xff
)

var opcodeNames [256]string
var opcodeByName map[string]OpCode

func init() {
	for op, name := range map[OpCode]string{
		OpStop: "STOP", OpAdd: "ADD", OpMul: "MUL", OpSub: "SUB",
		OpDiv: "DIV", OpSDiv: "SDIV", OpMod: "MOD", OpSMod: "SMOD",
		OpAddMod: "ADDMOD", OpMulMod: "MULMOD", OpExp: "EXP", OpSignExtend: "SIGNEXTEND",
		OpLt: "LT", OpGt: "GT", OpSlt: "SLT", OpSgt: "SGT",
		OpEq: "EQ", OpIsZero: "ISZERO", OpAnd: "AND", OpOr: "OR",
		OpXor: "XOR", OpNot: "NOT", OpByte: "BYTE", OpShl: "SHL",
		OpShr: "SHR", OpSar: "SAR",
		OpKeccak256: "KECCAK256",
		OpAddress:   "ADDRESS", OpBalance: "BALANCE", OpOrigin: "ORIGIN", OpCaller: "CALLER",
		OpCallValue: "CALLVALUE", OpCalldataLoad: "CALLDATALOAD", OpCalldataSize: "CALLDATASIZE",
		OpCalldataCopy: "CALLDATACOPY", OpCodeSize: "CODESIZE", OpCodeCopy: "CODECOPY",
		OpGasPrice: "GASPRICE", OpExtCodeSize: "EXTCODESIZE", OpExtCodeCopy: "EXTCODECOPY",
		OpReturnDataSize: "RETURNDATASIZE", OpReturnDataCopy: "RETURNDATACOPY", OpExtCodeHash: "EXTCODEHASH",
		OpBlockHash: "BLOCKHASH", OpCoinbase: "COINBASE", OpTimestamp: "TIMESTAMP",
		OpNumber: "NUMBER", OpDifficulty: "DIFFICULTY", OpGasLimit: "GASLIMIT",
		OpChainID: "CHAINID", OpSelfBalance: "SELFBALANCE", OpBaseFee: "BASEFEE",
		OpPop: "POP", OpMLoad: "MLOAD", OpMStore: "MSTORE", OpMStore8: "MSTORE8",
		OpSLoad: "SLOAD", OpSStore: "SSTORE", OpJump: "JUMP", OpJumpi: "JUMPI",
		OpPC: "PC", OpMSize: "MSIZE", OpGas: "GAS", OpJumpDest: "JUMPDEST",
		OpPush0:  "PUSH0",
		OpCreate: "CREATE", OpCall: "CALL", OpCallCode: "CALLCODE", OpReturn: "RETURN",
		OpDelegateCall: "DELEGATECALL", OpCreate2: "CREATE2", OpStaticCall: "STATICCALL",
		OpRevert: "REVERT", OpInvalid: "INVALID", OpSelfDestruct: "SELFDESTRUCT",
	} {
		opcodeNames[op] = name
	}
	for i := 0; i < 32; i++ {
		opcodeNames[int(OpPush1)+i] = fmt.Sprintf("PUSH%d", i+1)
	}
	for i := 0; i < 16; i++ {
		opcodeNames[int(OpDup1)+i] = fmt.Sprintf("DUP%d", i+1)
		opcodeNames[int(OpSwap1)+i] = fmt.Sprintf("SWAP%d", i+1)
	}
	for i := 0; i < 5; i++ {
		opcodeNames[int(OpLog0)+i] = fmt.Sprintf("LOG%d", i)
	}

	opcodeByName = make(map[string]OpCode, 256)
	for op, name := range opcodeNames {
		if name != "" {
			opcodeByName[name] = OpCode(op)
		}
	}

	initGasCosts()
}

// String returns the mnemonic of the opcode.
func (op OpCode) String() string {
	if name := opcodeNames[op]; name != "" {
		return name
	}
	return fmt.Sprintf("opcode %#x", byte(op))
}

// ParseOpCode returns the opcode for a mnemonic.
func ParseOpCode(name string) (OpCode, bool) {
	op, ok := opcodeByName[name]
	return op, ok
}

// IsDefined returns true if the opcode has assigned semantics.
// Undefined opcodes halt execution as invalid.
func (op OpCode) IsDefined() bool {
	return opcodeNames[op] != ""
}

// IsPush returns true for PUSH0 through PUSH32.
func (op OpCode) IsPush() bool {
	return op == OpPush0 || (op >= OpPush1 && op <= OpPush32)
}

// PushSize returns the immediate size in bytes for PUSH opcodes.
func (op OpCode) PushSize() int {
	if op >= OpPush1 && op <= OpPush32 {
		return int(op-OpPush1) + 1
	}
	return 0
}

// Gas cost tiers.
const (
	gasZero     = 0
	gasBase     = 2
	gasVeryLow  = 3
	gasLow      = 5
	gasMid      = 8
	gasHigh     = 10
	gasJumpDest = 1

	gasKeccak256     = 30
	gasKeccak256Word = 6
	gasCopyWord      = 3
	gasMemoryWord    = 3
	gasExpByte       = 50
	gasLogTopic      = 375
	gasLogByte       = 8

	gasBlockHash    = 20
	gasExternal     = 700
	gasSLoad        = 800
	gasSStore       = 5000
	gasCreate       = 32000
	gasSelfDestruct = 5000
)

var gasCosts [256]uint64

func initGasCosts() {
	set := func(cost uint64, ops ...OpCode) {
		for _, op := range ops {
			gasCosts[op] = cost
		}
	}

	set(gasZero, OpStop, OpReturn, OpRevert, OpInvalid)
	set(gasBase,
		OpAddress, OpOrigin, OpCaller, OpCallValue, OpCalldataSize, OpCodeSize,
		OpGasPrice, OpCoinbase, OpTimestamp, OpNumber, OpDifficulty, OpGasLimit,
		OpChainID, OpBaseFee, OpReturnDataSize, OpPop, OpPC, OpMSize, OpGas, OpPush0)
	set(gasVeryLow,
		OpAdd, OpSub, OpNot, OpLt, OpGt, OpSlt, OpSgt, OpEq, OpIsZero,
		OpAnd, OpOr, OpXor, OpByte, OpShl, OpShr, OpSar,
		OpCalldataLoad, OpMLoad, OpMStore, OpMStore8,
		OpCalldataCopy, OpCodeCopy, OpReturnDataCopy)
	set(gasLow, OpMul, OpDiv, OpSDiv, OpMod, OpSMod, OpSignExtend, OpSelfBalance)
	set(gasMid, OpAddMod, OpMulMod, OpJump)
	set(gasHigh, OpJumpi, OpExp)
	set(gasJumpDest, OpJumpDest)
	set(gasKeccak256, OpKeccak256)
	set(gasBlockHash, OpBlockHash)
	set(gasExternal, OpBalance, OpExtCodeSize, OpExtCodeCopy, OpExtCodeHash,
		OpCall, OpCallCode, OpDelegateCall, OpStaticCall)
	set(gasSLoad, OpSLoad)
	set(gasSStore, OpSStore)
	set(gasCreate, OpCreate, OpCreate2)
	set(gasSelfDestruct, OpSelfDestruct)
	set(gasLogTopic, OpLog0)
	set(2*gasLogTopic, OpLog1)
	set(3*gasLogTopic, OpLog2)
	set(4*gasLogTopic, OpLog3)
	set(5*gasLogTopic, OpLog4)

	for op := OpPush1; op <= OpPush32; op++ {
		gasCosts[op] = gasVeryLow
	}
	for op := OpDup1; op <= OpDup16; op++ {
		gasCosts[op] = gasVeryLow
	}
	for op := OpSwap1; op <= OpSwap16; op++ {
		gasCosts[op] = gasVeryLow
	}
}

// ConstantGas returns the static gas cost of the opcode. Operand
// dependent costs are charged separately by the interpreter.
func (op OpCode) ConstantGas() uint64 {
	return gasCosts[op]
}

// Program holds validated bytecode and its jump destinations.
type Program struct {
	code      []byte
	jumpdests map[uint64]struct{}
}

// NewProgram parses code into a Program. The code is scanned once up
// front for JUMPDEST markers. Code that ends inside a PUSH immediate
// is rejected as malformed.
func NewProgram(code []byte) (*Program, error) {
	p := &Program{
		code:      append([]byte(nil), code...),
		jumpdests: make(map[uint64]struct{}),
	}

	for pc := uint64(0); pc < uint64(len(code)); pc++ {
		op := OpCode(code[pc])
		if op == OpJumpDest {
			p.jumpdests[pc] = struct{}{}
		} else if n := uint64(op.PushSize()); n > 0 {
			if pc+n >= uint64(len(code)) {
				return nil, errors.Errorf("sevm: truncated %s immediate at offset %d", op, pc)
			}
			pc += n
		}
	}
	return p, nil
}

// Code returns the raw bytecode. The result must not be modified.
func (p *Program) Code() []byte { return p.code }

// Len returns the bytecode length.
func (p *Program) Len() uint64 { return uint64(len(p.code)) }

// OpAt returns the opcode at pc. Out of range counts as STOP.
func (p *Program) OpAt(pc uint64) OpCode {
	if pc >= uint64(len(p.code)) {
		return OpStop
	}
	return OpCode(p.code[pc])
}

// ImmediateAt returns n bytes of push immediate starting at pc.
func (p *Program) ImmediateAt(pc uint64, n int) []byte {
	assert(pc+uint64(n) <= uint64(len(p.code)), "immediate out of range: %d+%d > %d", pc, n, len(p.code))
	return p.code[pc : pc+uint64(n)]
}

// IsJumpDest returns true if pc is a valid jump destination.
func (p *Program) IsJumpDest(pc uint64) bool {
	_, ok := p.jumpdests[pc]
	return ok
}
