package sevm

import (
	"fmt"

	"github.com/pkg/errors"
)

// branchSignal is produced by step when execution reaches a JUMPI whose
// condition is not a literal. The executor decides which successors are
// feasible and forks.
type branchSignal struct {
	cond     Expr   // jump condition, width 1
	truePC   uint64 // successor when cond holds
	falsePC  uint64 // fall-through successor
	location uint64 // pc of the branching instruction
}

// step executes exactly one instruction against s. It returns a branch
// signal when the instruction is a data-dependent branch; otherwise the
// state is mutated in place and, on a halting instruction, moved to a
// terminal status. Path-local errors are returned to the caller for
// classification.
func (e *Executor) step(s *ExecutionState) (*branchSignal, error) {
	op := e.prog.OpAt(s.pc)
	if !op.IsDefined() {
		s.halt(ExecutionStatusInvalid, fmt.Sprintf("undefined %s", op))
		return nil, nil
	}
	if !s.UseGas(op.ConstantGas()) {
		return nil, nil
	}

	// PUSH, DUP & SWAP families are position-encoded.
	switch {
	case op.IsPush():
		value := NewConstantExpr256(0)
		if n := op.PushSize(); n > 0 {
			value = NewConstantExprFromBytes(e.prog.ImmediateAt(s.pc+1, n), Width256)
			s.pc += uint64(n)
		}
		if err := s.Push(value); err != nil {
			return nil, err
		}
		s.pc++
		return nil, nil

	case op >= OpDup1 && op <= OpDup16:
		value, err := s.Peek(int(op - OpDup1))
		if err != nil {
			return nil, err
		}
		if err := s.Push(value); err != nil {
			return nil, err
		}
		s.pc++
		return nil, nil

	case op >= OpSwap1 && op <= OpSwap16:
		if err := s.swap(int(op-OpSwap1) + 1); err != nil {
			return nil, err
		}
		s.pc++
		return nil, nil
	}

	switch op {
	// Halts.
	case OpStop:
		s.halt(ExecutionStatusStopped, "")
		return nil, nil
	case OpReturn, OpRevert:
		offset, n, err := s.popMemRange()
		if err != nil {
			return nil, err
		}
		s.touchMemory(offset, n)
		if s.Terminated() {
			return nil, nil
		}
		s.returnData = s.ReadBytes(offset, n)
		if op == OpReturn {
			s.halt(ExecutionStatusReturned, "")
		} else {
			s.halt(ExecutionStatusReverted, "")
		}
		return nil, nil
	case OpInvalid:
		s.halt(ExecutionStatusInvalid, "invalid opcode")
		return nil, nil
	case OpSelfDestruct:
		if _, err := s.Pop(); err != nil {
			return nil, err
		}
		s.halt(ExecutionStatusStopped, "selfdestruct")
		return nil, nil

	// Calls are a hard capability boundary: the callee's behavior is
	// not synthesized, so the path cannot continue.
	case OpCall, OpCallCode, OpDelegateCall, OpStaticCall, OpCreate, OpCreate2:
		return nil, errors.Wrapf(ErrUnresolvedCallTarget, "%s at %#x", op, s.pc)

	// Control flow.
	case OpJump:
		dest, err := s.Pop()
		if err != nil {
			return nil, err
		}
		return nil, e.jump(s, dest)
	case OpJumpi:
		dest, err := s.Pop()
		if err != nil {
			return nil, err
		}
		cond, err := s.Pop()
		if err != nil {
			return nil, err
		}

		boolCond := NewBinaryExpr(NE, cond, NewConstantExpr256(0))
		if boolCond, ok := boolCond.(*ConstantExpr); ok {
			if boolCond.IsTrue() {
				return nil, e.jump(s, dest)
			}
			s.pc++
			return nil, nil
		}

		destConst, ok := dest.(*ConstantExpr)
		if !ok || !destConst.Value.IsUint64() {
			return nil, errors.Wrapf(ErrUnsupportedSymbolicAddress, "jump target %s at %#x", dest, s.pc)
		}
		return &branchSignal{
			cond:     boolCond,
			truePC:   destConst.Value.Uint64(),
			falsePC:  s.pc + 1,
			location: s.pc,
		}, nil
	case OpJumpDest:
		s.pc++
		return nil, nil
	}

	if err := e.stepValue(s, op); err != nil {
		return nil, err
	}
	if !s.Terminated() {
		s.pc++
	}
	return nil, nil
}

// jump validates and follows an unconditional jump to dest.
func (e *Executor) jump(s *ExecutionState, dest Expr) error {
	destConst, ok := dest.(*ConstantExpr)
	if !ok || !destConst.Value.IsUint64() {
		return errors.Wrapf(ErrUnsupportedSymbolicAddress, "jump target %s at %#x", dest, s.pc)
	}
	pc := destConst.Value.Uint64()
	if !e.prog.IsJumpDest(pc) {
		s.halt(ExecutionStatusInvalid, fmt.Sprintf("jump to invalid destination %#x", pc))
		return nil
	}
	s.pc = pc
	return nil
}

// stepValue executes the value-computing instructions: everything that
// pops operands, builds expressions through the expression model and
// pushes results. The program counter is advanced by the caller.
func (e *Executor) stepValue(s *ExecutionState, op OpCode) error {
	env := e.Env

	switch op {
	// Arithmetic.
	case OpAdd, OpMul, OpSub, OpDiv, OpSDiv, OpMod, OpSMod:
		a, b, err := s.pop2()
		if err != nil {
			return err
		}
		var binop BinaryOp
		switch op {
		case OpAdd:
			binop = ADD
		case OpMul:
			binop = MUL
		case OpSub:
			binop = SUB
		case OpDiv:
			binop = UDIV
		case OpSDiv:
			binop = SDIV
		case OpMod:
			binop = UREM
		case OpSMod:
			binop = SREM
		}
		return s.Push(NewBinaryExpr(binop, a, b))

	case OpAddMod, OpMulMod:
		a, b, err := s.pop2()
		if err != nil {
			return err
		}
		n, err := s.Pop()
		if err != nil {
			return err
		}
		// Build the intermediate at 512 bits so the result does not wrap
		// before the modulo is applied.
		binop := ADD
		if op == OpMulMod {
			binop = MUL
		}
		wide := NewBinaryExpr(binop,
			NewCastExpr(a, 2*Width256, false),
			NewCastExpr(b, 2*Width256, false),
		)
		rem := NewExtractExpr(NewBinaryExpr(UREM, wide, NewCastExpr(n, 2*Width256, false)), 0, Width256)
		return s.Push(NewIfExpr(
			NewIsZeroExpr(n),
			NewConstantExpr256(0),
			rem,
		))

	case OpExp:
		base, exponent, err := s.pop2()
		if err != nil {
			return err
		}
		if exponent, ok := exponent.(*ConstantExpr); ok {
			if !s.UseGas(uint64(minBytes(uint(exponent.Value.BitLen()))) * gasExpByte) {
				return nil
			}
			return s.Push(expExpr(base, exponent))
		}
		return s.Push(NewUFExpr("exp", []Expr{base, exponent}, Width256))

	case OpSignExtend:
		back, x, err := s.pop2()
		if err != nil {
			return err
		}
		if back, ok := back.(*ConstantExpr); ok {
			if !back.Value.IsUint64() || back.Value.Uint64() >= 31 {
				return s.Push(x)
			}
			width := 8 * (uint(back.Value.Uint64()) + 1)
			return s.Push(NewCastExpr(NewExtractExpr(x, 0, width), Width256, true))
		}
		return s.Push(NewUFExpr("signextend", []Expr{back, x}, Width256))

	// Comparison & bitwise logic.
	case OpLt, OpGt, OpSlt, OpSgt, OpEq:
		a, b, err := s.pop2()
		if err != nil {
			return err
		}
		var binop BinaryOp
		switch op {
		case OpLt:
			binop = ULT
		case OpGt:
			binop = UGT
		case OpSlt:
			binop = SLT
		case OpSgt:
			binop = SGT
		case OpEq:
			binop = EQ
		}
		return s.pushBool(NewBinaryExpr(binop, a, b))

	case OpIsZero:
		a, err := s.Pop()
		if err != nil {
			return err
		}
		return s.pushBool(NewIsZeroExpr(a))

	case OpAnd, OpOr, OpXor:
		a, b, err := s.pop2()
		if err != nil {
			return err
		}
		var binop BinaryOp
		switch op {
		case OpAnd:
			binop = AND
		case OpOr:
			binop = OR
		case OpXor:
			binop = XOR
		}
		return s.Push(NewBinaryExpr(binop, a, b))

	case OpNot:
		a, err := s.Pop()
		if err != nil {
			return err
		}
		return s.Push(NewNotExpr(a))

	case OpByte:
		i, x, err := s.pop2()
		if err != nil {
			return err
		}
		// (x >> (8*(31-i))) & 0xff, zero when i is out of range. The
		// shift/mask form folds whenever the index is a literal.
		shift := NewBinaryExpr(MUL, NewConstantExpr256(8),
			NewBinaryExpr(SUB, NewConstantExpr256(31), i))
		value := NewBinaryExpr(AND, NewBinaryExpr(LSHR, x, shift), NewConstantExpr256(0xff))
		return s.Push(NewIfExpr(
			NewBinaryExpr(ULT, i, NewConstantExpr256(32)),
			value,
			NewConstantExpr256(0),
		))

	case OpShl, OpShr, OpSar:
		shift, value, err := s.pop2()
		if err != nil {
			return err
		}
		var binop BinaryOp
		switch op {
		case OpShl:
			binop = SHL
		case OpShr:
			binop = LSHR
		case OpSar:
			binop = ASHR
		}
		return s.Push(NewBinaryExpr(binop, value, shift))

	// Hashing.
	case OpKeccak256:
		offset, n, err := s.popMemRange()
		if err != nil {
			return err
		} else if !s.UseGas((n + 31) / 32 * gasKeccak256Word) {
			return nil
		} else if s.Terminated() {
			return nil
		}
		return s.Push(Keccak256(s.ReadBytes(offset, n)))

	// Environment.
	case OpAddress:
		return s.Push(NewCastExpr(env.Address, Width256, false))
	case OpCaller:
		return s.Push(NewCastExpr(env.Caller, Width256, false))
	case OpOrigin:
		return s.Push(NewCastExpr(env.Origin, Width256, false))
	case OpCallValue:
		return s.Push(env.CallValue)
	case OpGasPrice:
		return s.Push(env.GasPrice)
	case OpBalance:
		addr, err := s.Pop()
		if err != nil {
			return err
		}
		return s.Push(NewUFExpr("balance", []Expr{NewExtractExpr(addr, 0, Width160)}, Width256))
	case OpSelfBalance:
		return s.Push(NewUFExpr("balance", []Expr{env.Address}, Width256))
	case OpExtCodeSize:
		addr, err := s.Pop()
		if err != nil {
			return err
		}
		return s.Push(NewUFExpr("extcodesize", []Expr{NewExtractExpr(addr, 0, Width160)}, Width256))
	case OpExtCodeHash:
		addr, err := s.Pop()
		if err != nil {
			return err
		}
		return s.Push(NewUFExpr("extcodehash", []Expr{NewExtractExpr(addr, 0, Width160)}, Width256))
	case OpExtCodeCopy:
		// Foreign code is never resolved, so the copied bytes cannot be
		// produced byte-addressably.
		return errors.Wrapf(ErrUnresolvedCallTarget, "%s at %#x", op, s.pc)

	case OpCalldataLoad:
		offset, err := s.Pop()
		if err != nil {
			return err
		}
		return s.Push(env.Calldata.Select(offset, Width256, false))
	case OpCalldataSize:
		return s.Push(env.Calldata.Size)
	case OpCalldataCopy:
		memOffset, err := s.popConcrete()
		if err != nil {
			return err
		}
		dataOffset, err := s.Pop()
		if err != nil {
			return err
		}
		n, err := s.popConcrete()
		if err != nil {
			return err
		}
		if !s.UseGas((n + 31) / 32 * gasCopyWord) {
			return nil
		}
		s.touchMemory(memOffset, n)
		if s.Terminated() {
			return nil
		}
		values := make([]Expr, n)
		for i := uint64(0); i < n; i++ {
			values[i] = env.Calldata.Select(
				NewBinaryExpr(ADD, dataOffset, NewConstantExpr256(i)), Width8, false)
		}
		s.WriteBytes(memOffset, values)
		return nil

	case OpCodeSize:
		return s.Push(NewConstantExpr256(e.prog.Len()))
	case OpCodeCopy:
		memOffset, err := s.popConcrete()
		if err != nil {
			return err
		}
		codeOffset, err := s.popConcrete()
		if err != nil {
			return err
		}
		n, err := s.popConcrete()
		if err != nil {
			return err
		}
		if !s.UseGas((n + 31) / 32 * gasCopyWord) {
			return nil
		}
		s.touchMemory(memOffset, n)
		if s.Terminated() {
			return nil
		}
		code := e.prog.Code()
		values := make([]Expr, n)
		for i := uint64(0); i < n; i++ {
			var b byte
			if codeOffset+i < uint64(len(code)) {
				b = code[codeOffset+i]
			}
			values[i] = NewConstantExpr8(uint64(b))
		}
		s.WriteBytes(memOffset, values)
		return nil

	case OpReturnDataSize:
		// No inner call ever completes, so the return data buffer of
		// the frame is always empty.
		return s.Push(NewConstantExpr256(0))
	case OpReturnDataCopy:
		if _, err := s.popConcrete(); err != nil {
			return err
		}
		if _, err := s.Pop(); err != nil {
			return err
		}
		n, err := s.popConcrete()
		if err != nil {
			return err
		}
		if n != 0 {
			s.halt(ExecutionStatusInvalid, "returndatacopy out of bounds")
		}
		return nil

	// Block context.
	case OpBlockHash:
		number, err := s.Pop()
		if err != nil {
			return err
		}
		return s.Push(NewUFExpr("blockhash", []Expr{number}, Width256))
	case OpCoinbase:
		return s.Push(NewCastExpr(env.Coinbase, Width256, false))
	case OpTimestamp:
		return s.Push(env.Timestamp)
	case OpNumber:
		return s.Push(env.Number)
	case OpDifficulty:
		return s.Push(env.Difficulty)
	case OpGasLimit:
		return s.Push(env.GasLimit)
	case OpChainID:
		return s.Push(env.ChainID)
	case OpBaseFee:
		return s.Push(env.BaseFee)

	// Stack, memory & storage.
	case OpPop:
		_, err := s.Pop()
		return err
	case OpMLoad:
		offset, err := s.popConcrete()
		if err != nil {
			return err
		}
		if s.Terminated() {
			return nil
		}
		return s.Push(s.LoadWord(offset))
	case OpMStore:
		offset, err := s.popConcrete()
		if err != nil {
			return err
		}
		value, err := s.Pop()
		if err != nil {
			return err
		}
		if s.Terminated() {
			return nil
		}
		s.StoreWord(offset, value)
		return nil
	case OpMStore8:
		offset, err := s.popConcrete()
		if err != nil {
			return err
		}
		value, err := s.Pop()
		if err != nil {
			return err
		}
		if s.Terminated() {
			return nil
		}
		s.StoreByte(offset, NewExtractExpr(value, 0, Width8))
		return nil
	case OpSLoad:
		key, err := s.Pop()
		if err != nil {
			return err
		}
		value, err := s.StorageValue(key)
		if err != nil {
			return err
		}
		return s.Push(value)
	case OpSStore:
		key, value, err := s.pop2()
		if err != nil {
			return err
		}
		s.StoreStorage(key, value)
		return nil

	case OpPC:
		return s.Push(NewConstantExpr256(s.pc))
	case OpMSize:
		return s.Push(NewConstantExpr256(s.memorySize))
	case OpGas:
		return s.Push(NewConstantExpr256(s.gas))

	// Logging. Topics and data are consumed but not recorded.
	case OpLog0, OpLog1, OpLog2, OpLog3, OpLog4:
		offset, n, err := s.popMemRange()
		if err != nil {
			return err
		}
		for i := 0; i < int(op-OpLog0); i++ {
			if _, err := s.Pop(); err != nil {
				return err
			}
		}
		if !s.UseGas(n * gasLogByte) {
			return nil
		}
		s.touchMemory(offset, n)
		return nil

	default:
		panic(fmt.Sprintf("unhandled opcode: %s", op))
	}
}

// pop2 pops the top two stack entries. a was on top.
func (s *ExecutionState) pop2() (a, b Expr, err error) {
	if a, err = s.Pop(); err != nil {
		return nil, nil, err
	}
	if b, err = s.Pop(); err != nil {
		return nil, nil, err
	}
	return a, b, nil
}

// pushBool widens a boolean expression to a word and pushes it.
func (s *ExecutionState) pushBool(cond Expr) error {
	return s.Push(NewCastExpr(cond, Width256, false))
}

// popConcrete pops a stack entry that must be a concrete machine
// offset. Symbolic values fail the path; concrete values beyond the
// addressable range exhaust the gas budget.
func (s *ExecutionState) popConcrete() (uint64, error) {
	expr, err := s.Pop()
	if err != nil {
		return 0, err
	}
	c, ok := expr.(*ConstantExpr)
	if !ok {
		return 0, errors.Wrapf(ErrUnsupportedSymbolicAddress, "memory offset %s at %#x", expr, s.pc)
	}
	if !c.Value.IsUint64() {
		s.UseGas(s.gas + 1)
		return 0, nil
	}
	return c.Value.Uint64(), nil
}

// popMemRange pops an offset/length pair of concrete memory operands.
func (s *ExecutionState) popMemRange() (offset, n uint64, err error) {
	if offset, err = s.popConcrete(); err != nil {
		return 0, 0, err
	}
	if n, err = s.popConcrete(); err != nil {
		return 0, 0, err
	}
	return offset, n, nil
}

// expExpr unrolls exponentiation by squaring for a literal exponent.
func expExpr(base Expr, exponent *ConstantExpr) Expr {
	if base, ok := base.(*ConstantExpr); ok {
		return base.Exp(exponent)
	}

	// An exponent this wide would build an enormous multiply chain;
	// leave it uninterpreted.
	if exponent.Value.BitLen() > 16 {
		return NewUFExpr("exp", []Expr{base, exponent}, Width256)
	}

	result := Expr(NewConstantExpr256(1))
	square := base
	for e := exponent.Value.Uint64(); e > 0; e >>= 1 {
		if e&1 == 1 {
			result = NewBinaryExpr(MUL, result, square)
		}
		if e > 1 {
			square = NewBinaryExpr(MUL, square, square)
		}
	}
	return result
}
