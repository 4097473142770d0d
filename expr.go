package sevm

import (
	"encoding/binary"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/crypto/sha3"
)

// Expr represents a symbolic expression.
//
// Expressions are immutable and hash-consed. Constructors return the
// canonical node for each distinct structure, so two structurally equal
// expressions are always pointer equal.
type Expr interface {
	fmt.Stringer
	expr()
}

func (*BinaryExpr) expr()   {}
func (*CastExpr) expr()     {}
func (*ConcatExpr) expr()   {}
func (*ConstantExpr) expr() {}
func (*ExtractExpr) expr()  {}
func (*IfExpr) expr()       {}
func (*NotExpr) expr()      {}
func (*SelectExpr) expr()   {}
func (*SymbolExpr) expr()   {}
func (*UFExpr) expr()       {}

// ExprWidth returns the bit width of the expression.
func ExprWidth(expr Expr) uint {
	switch expr := expr.(type) {
	case *ConstantExpr:
		return expr.Width
	case *SymbolExpr:
		return expr.Width
	case *SelectExpr:
		return Width8
	case *ConcatExpr:
		return ExprWidth(expr.MSB) + ExprWidth(expr.LSB)
	case *ExtractExpr:
		return expr.Width
	case *NotExpr:
		return ExprWidth(expr.Expr)
	case *CastExpr:
		return expr.Width
	case *IfExpr:
		return ExprWidth(expr.Then)
	case *UFExpr:
		return expr.Width
	case *BinaryExpr:
		if expr.Op.IsCompare() {
			return WidthBool
		}
		return ExprWidth(expr.LHS)
	default:
		panic("unreachable")
	}
}

// The arena of canonical expression nodes. Entries are only added,
// never removed, so canonical pointers stay valid for a whole run.
var interner = struct {
	mu     sync.RWMutex
	table  map[uint64][]Expr
	hashes map[Expr]uint64
}{
	table:  make(map[uint64][]Expr),
	hashes: make(map[Expr]uint64),
}

// intern returns the canonical node for expr, registering it if no
// structurally equal node exists yet.
func intern(e Expr) Expr {
	interner.mu.Lock()
	defer interner.mu.Unlock()

	h := hashExpr(e)
	for _, other := range interner.table[h] {
		if shallowEqualExpr(e, other) {
			return other
		}
	}
	interner.table[h] = append(interner.table[h], e)
	interner.hashes[e] = h
	return e
}

func internConstantExpr(e *ConstantExpr) *ConstantExpr {
	return intern(e).(*ConstantExpr)
}

// hashExpr computes a structural hash over the node kind, its scalar
// fields and the hashes of its children. Must be called with the
// interner lock held.
func hashExpr(e Expr) uint64 {
	d := xxhash.New()
	var buf [8]byte
	writeUint := func(v uint64) {
		binary.LittleEndian.PutUint64(buf[:], v)
		d.Write(buf[:])
	}
	writeChild := func(child Expr) {
		if h, ok := interner.hashes[child]; ok {
			writeUint(h)
			return
		}
		writeUint(hashExpr(child))
	}

	writeUint(uint64(exprKind(e)))
	switch e := e.(type) {
	case *ConstantExpr:
		writeUint(uint64(e.Width))
		d.Write(e.Value.Bytes())
	case *SymbolExpr:
		writeUint(uint64(e.Width))
		d.WriteString(e.Name)
	case *SelectExpr:
		writeUint(e.Array.ID)
		writeChild(e.Index)
	case *ConcatExpr:
		writeChild(e.MSB)
		writeChild(e.LSB)
	case *ExtractExpr:
		writeUint(uint64(e.Offset))
		writeUint(uint64(e.Width))
		writeChild(e.Expr)
	case *NotExpr:
		writeChild(e.Expr)
	case *CastExpr:
		writeUint(uint64(e.Width))
		if e.Signed {
			writeUint(1)
		} else {
			writeUint(0)
		}
		writeChild(e.Src)
	case *IfExpr:
		writeChild(e.Cond)
		writeChild(e.Then)
		writeChild(e.Else)
	case *UFExpr:
		writeUint(uint64(e.Width))
		d.WriteString(e.Name)
		writeUint(uint64(len(e.Args)))
		for _, arg := range e.Args {
			writeChild(arg)
		}
	case *BinaryExpr:
		writeUint(uint64(e.Op))
		writeChild(e.LHS)
		writeChild(e.RHS)
	default:
		panic("unreachable")
	}
	return d.Sum64()
}

// shallowEqualExpr reports structural equality assuming both sides have
// canonical children, so children compare by pointer.
func shallowEqualExpr(a, b Expr) bool {
	switch a := a.(type) {
	case *ConstantExpr:
		b, ok := b.(*ConstantExpr)
		return ok && a.Width == b.Width && a.Value.Cmp(b.Value) == 0
	case *SymbolExpr:
		b, ok := b.(*SymbolExpr)
		return ok && a.Width == b.Width && a.Name == b.Name
	case *SelectExpr:
		b, ok := b.(*SelectExpr)
		return ok && a.Array == b.Array && a.Index == b.Index
	case *ConcatExpr:
		b, ok := b.(*ConcatExpr)
		return ok && a.MSB == b.MSB && a.LSB == b.LSB
	case *ExtractExpr:
		b, ok := b.(*ExtractExpr)
		return ok && a.Offset == b.Offset && a.Width == b.Width && a.Expr == b.Expr
	case *NotExpr:
		b, ok := b.(*NotExpr)
		return ok && a.Expr == b.Expr
	case *CastExpr:
		b, ok := b.(*CastExpr)
		return ok && a.Width == b.Width && a.Signed == b.Signed && a.Src == b.Src
	case *IfExpr:
		b, ok := b.(*IfExpr)
		return ok && a.Cond == b.Cond && a.Then == b.Then && a.Else == b.Else
	case *UFExpr:
		b, ok := b.(*UFExpr)
		if !ok || a.Name != b.Name || a.Width != b.Width || len(a.Args) != len(b.Args) {
			return false
		}
		for i := range a.Args {
			if a.Args[i] != b.Args[i] {
				return false
			}
		}
		return true
	case *BinaryExpr:
		b, ok := b.(*BinaryExpr)
		return ok && a.Op == b.Op && a.LHS == b.LHS && a.RHS == b.RHS
	default:
		panic("unreachable")
	}
}

// BinaryOp represents a binary expression operations.
type BinaryOp int

// BinaryExpr operations.
const (
	arithmetic_op_begin = BinaryOp(iota)
	ADD
	SUB
	MUL
	UDIV
	SDIV
	UREM
	SREM
	AND
	OR
	XOR
	SHL
	LSHR
	ASHR
	arithmetic_op_end

	compare_op_begin
	EQ
	NE
	ULT
	ULE
	UGT
	UGE
	SLT
	SLE
	SGT
	SGE
	compare_op_end
)

var binaryOps = [...]string{
	ADD:  "add",
	SUB:  "sub",
	MUL:  "mul",
	UDIV: "udiv",
	SDIV: "sdiv",
	UREM: "urem",
	SREM: "srem",
	AND:  "and",
	OR:   "or",
	XOR:  "xor",
	SHL:  "shl",
	LSHR: "lshr",
	ASHR: "ashr",
	EQ:   "eq",
	NE:   "ne",
	ULT:  "ult",
	ULE:  "ule",
	UGT:  "ugt",
	UGE:  "uge",
	SLT:  "slt",
	SLE:  "sle",
	SGT:  "sgt",
	SGE:  "sge",
}

// String returns the string representation of the operation.
func (op BinaryOp) String() string {
	if op >= 0 && op < BinaryOp(len(binaryOps)) && binaryOps[op] != "" {
		return binaryOps[op]
	}
	return fmt.Sprintf("BinaryOp<%d>", op)
}

// IsArithmetic returns true if op is an arithmetic operator.
func (op BinaryOp) IsArithmetic() bool {
	return op > arithmetic_op_begin && op < arithmetic_op_end
}

// IsCompare returns true if op is a comparison operator.
func (op BinaryOp) IsCompare() bool {
	return op > compare_op_begin && op < compare_op_end
}

// BinaryExpr represents an operation on two expressions.
type BinaryExpr struct {
	Op  BinaryOp
	LHS Expr
	RHS Expr
}

// NewBinaryExpr returns a new instance of BinaryExpr.
func NewBinaryExpr(op BinaryOp, lhs, rhs Expr) Expr {
	assert(ExprWidth(lhs) == ExprWidth(rhs), "binary expr width mismatch: op=%s (%T) %d != (%T) %d", op, lhs, ExprWidth(lhs), rhs, ExprWidth(rhs))

	switch op {
	// Arithmetic operators
	case ADD:
		return newAddExpr(lhs, rhs)
	case SUB:
		return newSubExpr(lhs, rhs)
	case MUL:
		return newMulExpr(lhs, rhs)
	case UDIV, SDIV:
		return newDivExpr(op, lhs, rhs)
	case UREM, SREM:
		return newRemExpr(op, lhs, rhs)
	case AND:
		return newAndExpr(lhs, rhs)
	case OR:
		return newOrExpr(lhs, rhs)
	case XOR:
		return newXorExpr(lhs, rhs)
	case SHL:
		return newShlExpr(lhs, rhs)
	case LSHR:
		return newLShrExpr(lhs, rhs)
	case ASHR:
		return newAShrExpr(lhs, rhs)

	// Comparison operators
	case EQ:
		return newEqExpr(lhs, rhs)
	case NE:
		return NewBinaryExpr(EQ, NewConstantExpr(0, WidthBool), NewBinaryExpr(EQ, lhs, rhs))
	case ULT:
		return newUltExpr(lhs, rhs)
	case UGT:
		return newUltExpr(rhs, lhs) // reverse
	case ULE:
		return newUleExpr(lhs, rhs)
	case UGE:
		return newUleExpr(rhs, lhs) // reverse
	case SLT:
		return newSltExpr(lhs, rhs)
	case SGT:
		return newSltExpr(rhs, lhs) // reverse
	case SLE:
		return newSleExpr(lhs, rhs)
	case SGE:
		return newSleExpr(rhs, lhs) // reverse

	default:
		panic("unreachable")
	}
}

// String returns the string representation of the expression.
func (e *BinaryExpr) String() string {
	return fmt.Sprintf("(%s %s %s)", e.Op, e.LHS, e.RHS)
}

// newAddExpr returns the expression representing the sum of lhs & rhs.
func newAddExpr(lhs, rhs Expr) Expr {
	// Move constant expression to left hand side.
	if !IsConstantExpr(lhs) && IsConstantExpr(rhs) {
		lhs, rhs = rhs, lhs
	}

	// Refactor to XOR for boolean expressions.
	if ExprWidth(lhs) == WidthBool {
		return NewBinaryExpr(XOR, lhs, rhs)
	}

	// Compute constant if both sides are constant.
	if lhs, ok := lhs.(*ConstantExpr); ok {
		if lhs.IsZero() {
			return rhs
		} else if rhs, ok := rhs.(*ConstantExpr); ok {
			return lhs.Add(rhs)
		}
	}

	// Merge constant LHS with constant in RHS binary expression.
	if lhs, ok := lhs.(*ConstantExpr); ok {
		if rhs, ok := rhs.(*BinaryExpr); ok {
			if rhs.Op == ADD && IsConstantExpr(rhs.LHS) { // X + (Y+z) == (X+Y) + z
				return NewBinaryExpr(ADD, NewBinaryExpr(ADD, lhs, rhs.LHS), rhs.RHS)
			} else if rhs.Op == SUB && IsConstantExpr(rhs.LHS) { // X + (Y-z) == (X+Y) - z
				return NewBinaryExpr(SUB, NewBinaryExpr(ADD, lhs, rhs.LHS), rhs.RHS)
			}
		}
	}

	// Refactor constant LHS.LHS to a standalone value on LHS.
	if lhs, ok := lhs.(*BinaryExpr); ok && IsConstantExpr(lhs.LHS) {
		if lhs.Op == ADD { // (X+y) + z = X + (y+z)
			return NewBinaryExpr(ADD, lhs.LHS, NewBinaryExpr(ADD, lhs.RHS, rhs))
		} else if lhs.Op == SUB { // (x-y) + z = x + (z-y)
			return NewBinaryExpr(ADD, lhs.LHS, NewBinaryExpr(SUB, rhs, lhs.RHS))
		}
	}

	// Refactor constant RHS.LHS to a standalone value on LHS.
	if rhs, ok := rhs.(*BinaryExpr); ok && IsConstantExpr(rhs.LHS) {
		if rhs.Op == ADD { // a + (k+b) = k+(a+b)
			return NewBinaryExpr(ADD, rhs.LHS, NewBinaryExpr(ADD, lhs, rhs.RHS))
		} else if rhs.Op == SUB { // a + (k-b) = k+(a-b)
			return NewBinaryExpr(ADD, rhs.LHS, NewBinaryExpr(SUB, lhs, rhs.RHS))
		}
	}

	return intern(&BinaryExpr{Op: ADD, LHS: lhs, RHS: rhs})
}

// newSubExpr returns an expression representing the difference of lhs & rhs.
func newSubExpr(lhs, rhs Expr) Expr {
	// Subtracting a value from itself is zero.
	if CompareExpr(lhs, rhs) == 0 {
		return NewConstantExpr(0, ExprWidth(lhs))
	}

	// Compute constant if both sides are constant.
	if lhs, ok := lhs.(*ConstantExpr); ok {
		if rhs, ok := rhs.(*ConstantExpr); ok {
			return lhs.Sub(rhs)
		}
	}

	// Refactor to XOR for boolean expressions.
	if ExprWidth(lhs) == WidthBool {
		return NewBinaryExpr(XOR, lhs, rhs)
	}

	// If constant is on right side, refactor to addition with LHS & RHS flipped.
	if rhs, ok := rhs.(*ConstantExpr); ok && !IsConstantExpr(lhs) {
		return NewBinaryExpr(ADD, NewConstantExpr(0, rhs.Width).Sub(rhs), lhs)
	}

	// Combine with children of RHS binary expression, if possible.
	if lhs, ok := lhs.(*ConstantExpr); ok {
		if rhs, ok := rhs.(*BinaryExpr); ok {
			if rhs.Op == ADD && IsConstantExpr(rhs.LHS) { // X - (Y+z) == (X-Y) - z
				return NewBinaryExpr(SUB, NewBinaryExpr(SUB, lhs, rhs.LHS), rhs.RHS)
			} else if rhs.Op == SUB && IsConstantExpr(rhs.LHS) { // X - (Y-z) == (X-Y) + z
				return NewBinaryExpr(ADD, NewBinaryExpr(SUB, lhs, rhs.LHS), rhs.RHS)
			}
		}
	}

	// Refactor constant LHS.LHS to a standalone value on LHS.
	if lhs, ok := lhs.(*BinaryExpr); ok && IsConstantExpr(lhs.LHS) {
		if lhs.Op == ADD { // (X+y) - z = X + (y-z)
			return NewBinaryExpr(ADD, lhs.LHS, NewBinaryExpr(SUB, lhs.RHS, rhs))
		} else if lhs.Op == SUB { // (X-y) - z = X - (y+z)
			return NewBinaryExpr(SUB, lhs.LHS, NewBinaryExpr(ADD, lhs.RHS, rhs))
		}
	}

	// Refactor constant RHS.LHS to a standalone value on LHS.
	if rhs, ok := rhs.(*BinaryExpr); ok && IsConstantExpr(rhs.LHS) {
		if rhs.Op == ADD { // x - (Y+z) = (x-z) - Y
			return NewBinaryExpr(SUB, NewBinaryExpr(SUB, lhs, rhs.RHS), rhs.LHS)
		} else if rhs.Op == SUB { // x - (Y-z) = (x+z) - Y
			return NewBinaryExpr(SUB, NewBinaryExpr(ADD, lhs, rhs.RHS), rhs.LHS)
		}
	}

	return intern(&BinaryExpr{Op: SUB, LHS: lhs, RHS: rhs})
}

// newMulExpr returns an expression that represents the product of lhs & rhs.
func newMulExpr(lhs, rhs Expr) Expr {
	// If constant is on right side, swap to left side.
	if IsConstantExpr(rhs) && !IsConstantExpr(lhs) {
		lhs, rhs = rhs, lhs
	}

	// Compute constant if both sides are constant.
	if lhs, ok := lhs.(*ConstantExpr); ok {
		if rhs, ok := rhs.(*ConstantExpr); ok {
			return lhs.Mul(rhs)
		}
	}

	// Refactor to AND for boolean expressions.
	if ExprWidth(lhs) == WidthBool {
		return NewBinaryExpr(AND, lhs, rhs)
	}

	// Optimize for multiplication with a constant 1 or 0.
	if lhs, ok := lhs.(*ConstantExpr); ok {
		if isOne(lhs) {
			return rhs
		} else if lhs.IsZero() {
			return lhs
		}
	}
	return intern(&BinaryExpr{Op: MUL, LHS: lhs, RHS: rhs})
}

// newDivExpr returns an expression that represents the division of lhs & rhs.
func newDivExpr(op BinaryOp, lhs, rhs Expr) Expr {
	assert(op == UDIV || op == SDIV, "invalid div op: %s", op)

	if lhs, ok := lhs.(*ConstantExpr); ok {
		if rhs, ok := rhs.(*ConstantExpr); ok {
			if op == UDIV {
				return lhs.UDiv(rhs)
			}
			return lhs.SDiv(rhs)
		}
	}
	if ExprWidth(lhs) == WidthBool {
		return lhs // rhs must be 1
	}
	return intern(&BinaryExpr{Op: op, LHS: lhs, RHS: rhs})
}

// newRemExpr returns an expression that represents the remainder of lhs divided by rhs.
func newRemExpr(op BinaryOp, lhs, rhs Expr) Expr {
	assert(op == UREM || op == SREM, "invalid rem op: %s", op)

	if lhs, ok := lhs.(*ConstantExpr); ok {
		if rhs, ok := rhs.(*ConstantExpr); ok {
			if op == UREM {
				return lhs.URem(rhs)
			}
			return lhs.SRem(rhs)
		}
	}
	if ExprWidth(lhs) == WidthBool {
		return NewConstantExpr(0, WidthBool) // rhs must be 1
	}
	return intern(&BinaryExpr{Op: op, LHS: lhs, RHS: rhs})
}

// newAndExpr returns an expression that represents the bitwise AND of lhs & rhs.
func newAndExpr(lhs, rhs Expr) Expr {
	// Compute constant if both sides are constant.
	if lhs, ok := lhs.(*ConstantExpr); ok {
		if rhs, ok := rhs.(*ConstantExpr); ok {
			return lhs.And(rhs)
		}
	}

	// If constant is on left side, swap to right side.
	if IsConstantExpr(lhs) && !IsConstantExpr(rhs) {
		lhs, rhs = rhs, lhs
	}

	// Optimize for if constant is all ones or zeros.
	if rhs, ok := rhs.(*ConstantExpr); ok {
		if rhs.IsAllOnes() {
			return lhs
		} else if rhs.IsZero() {
			return rhs
		}
	}
	return intern(&BinaryExpr{Op: AND, LHS: lhs, RHS: rhs})
}

// newOrExpr returns an expression that represents the bitwise OR of lhs & rhs.
func newOrExpr(lhs, rhs Expr) Expr {
	// Compute constant if both sides are constant.
	if lhs, ok := lhs.(*ConstantExpr); ok {
		if rhs, ok := rhs.(*ConstantExpr); ok {
			return lhs.Or(rhs)
		}
	}

	// If constant is on left side, swap to right side.
	if IsConstantExpr(lhs) && !IsConstantExpr(rhs) {
		lhs, rhs = rhs, lhs
	}

	// Optimize for if constant is all ones or zeros.
	if rhs, ok := rhs.(*ConstantExpr); ok {
		if rhs.IsAllOnes() {
			return rhs
		} else if rhs.IsZero() {
			return lhs
		}
	}
	return intern(&BinaryExpr{Op: OR, LHS: lhs, RHS: rhs})
}

// newXorExpr returns an expression that represents the bitwise XOR of lhs & rhs.
func newXorExpr(lhs, rhs Expr) Expr {
	// If constant is on right side, swap to left side.
	if !IsConstantExpr(lhs) && IsConstantExpr(rhs) {
		lhs, rhs = rhs, lhs
	}

	// Compute constant if both sides are constant.
	if lhs, ok := lhs.(*ConstantExpr); ok {
		if lhs.IsZero() {
			return rhs
		} else if rhs, ok := rhs.(*ConstantExpr); ok {
			return lhs.Xor(rhs)
		}
	}

	return intern(&BinaryExpr{Op: XOR, LHS: lhs, RHS: rhs})
}

// newShlExpr returns an expression that represents the shift-left of lhs by rhs bits.
func newShlExpr(lhs, rhs Expr) Expr {
	if lhs, ok := lhs.(*ConstantExpr); ok {
		if rhs, ok := rhs.(*ConstantExpr); ok {
			return lhs.Shl(rhs)
		}
	}
	if ExprWidth(lhs) == WidthBool { // l & !r
		return NewBinaryExpr(AND, lhs, NewIsZeroExpr(rhs))
	}
	return intern(&BinaryExpr{Op: SHL, LHS: lhs, RHS: rhs})
}

// newLShrExpr returns an expression that represents the logical shift-right of lhs by rhs bits.
func newLShrExpr(lhs, rhs Expr) Expr {
	if lhs, ok := lhs.(*ConstantExpr); ok {
		if rhs, ok := rhs.(*ConstantExpr); ok {
			return lhs.LShr(rhs)
		}
	}
	if ExprWidth(lhs) == WidthBool {
		return NewBinaryExpr(AND, lhs, NewIsZeroExpr(rhs)) // l & !r
	}
	return intern(&BinaryExpr{Op: LSHR, LHS: lhs, RHS: rhs})
}

// newAShrExpr returns an expression that represents the arithmetic shift-right of lhs by rhs bits.
func newAShrExpr(lhs, rhs Expr) Expr {
	if lhs, ok := lhs.(*ConstantExpr); ok {
		if rhs, ok := rhs.(*ConstantExpr); ok {
			return lhs.AShr(rhs)
		}
	}
	if ExprWidth(lhs) == WidthBool { // l
		return lhs
	}
	return intern(&BinaryExpr{Op: ASHR, LHS: lhs, RHS: rhs})
}

// newEqExpr returns an expression that represents the equality of lhs and rhs.
func newEqExpr(lhs, rhs Expr) Expr {
	// If constant is on right side, swap to left side.
	if !IsConstantExpr(lhs) && IsConstantExpr(rhs) {
		lhs, rhs = rhs, lhs
	}

	// Compute constant if both sides are constant.
	if lhs, ok := lhs.(*ConstantExpr); ok {
		if rhs, ok := rhs.(*ConstantExpr); ok {
			return lhs.Eq(rhs)
		}

		width := ExprWidth(lhs)
		switch rhs := rhs.(type) {
		case *BinaryExpr:
			switch rhs.Op {
			case EQ:
				if width == WidthBool {
					if lhs.IsTrue() {
						return rhs
					} else if IsConstantFalse(lhs) && IsConstantFalse(rhs.LHS) {
						return rhs.RHS // 0 == (0 == A) => A
					}
				}
			case OR:
				if width == WidthBool {
					if lhs.IsTrue() {
						return rhs // T == X || Y => X || Y
					} else if ExprWidth(rhs.LHS) == WidthBool {
						return NewBinaryExpr(AND, NewIsZeroExpr(rhs.LHS), NewIsZeroExpr(rhs.RHS)) // F == X || Y => !X && !Y
					}
				}
			case ADD:
				if IsConstantExpr(rhs.LHS) { // X = Y + z => X - Y = z
					return NewBinaryExpr(EQ, NewBinaryExpr(SUB, lhs, rhs.LHS), rhs.RHS)
				}
			case SUB:
				if IsConstantExpr(rhs.LHS) { // X = Y - z => Y - X = z
					return NewBinaryExpr(EQ, NewBinaryExpr(SUB, rhs.LHS, lhs), rhs.RHS)
				}
			}

		case *CastExpr:
			trunc := lhs.ZExt(ExprWidth(rhs.Src))
			if rhs.Signed { // (sext(a,T)==c) == (a==c)
				if CompareExpr(lhs, trunc.SExt(width)) == 0 {
					return NewBinaryExpr(EQ, rhs.Src, trunc)
				}
				return NewConstantExpr(0, WidthBool)
			} else { // (zext(a,T)==c) == (a==c)
				if CompareExpr(lhs, trunc.ZExt(width)) == 0 {
					return NewBinaryExpr(EQ, rhs.Src, trunc)
				}
				return NewConstantExpr(0, WidthBool)
			}
		}
	}

	if CompareExpr(lhs, rhs) == 0 {
		return NewConstantExpr(1, WidthBool)
	}
	return intern(&BinaryExpr{Op: EQ, LHS: lhs, RHS: rhs})
}

// newUltExpr returns an expression that represents the if lhs is less than rhs (unsigned).
func newUltExpr(lhs, rhs Expr) Expr {
	if lhs, ok := lhs.(*ConstantExpr); ok {
		if rhs, ok := rhs.(*ConstantExpr); ok {
			return lhs.Ult(rhs)
		}
	}
	if ExprWidth(lhs) == WidthBool { // !lhs && rhs
		return NewBinaryExpr(AND, NewIsZeroExpr(lhs), rhs)
	}
	return intern(&BinaryExpr{Op: ULT, LHS: lhs, RHS: rhs})
}

// newUleExpr returns an expression that represents the if lhs is less than or equal to rhs (unsigned).
func newUleExpr(lhs, rhs Expr) Expr {
	if lhs, ok := lhs.(*ConstantExpr); ok {
		if rhs, ok := rhs.(*ConstantExpr); ok {
			return lhs.Ule(rhs)
		}
	}
	if ExprWidth(lhs) == WidthBool { // !(lhs && !rhs)
		return NewBinaryExpr(OR, NewIsZeroExpr(lhs), rhs)
	}
	return intern(&BinaryExpr{Op: ULE, LHS: lhs, RHS: rhs})
}

// newSltExpr returns an expression that represents the if lhs is less than rhs (signed).
func newSltExpr(lhs, rhs Expr) Expr {
	if lhs, ok := lhs.(*ConstantExpr); ok {
		if rhs, ok := rhs.(*ConstantExpr); ok {
			return lhs.Slt(rhs)
		}
	}
	if ExprWidth(lhs) == WidthBool { // lhs && !rhs
		return NewBinaryExpr(AND, lhs, NewIsZeroExpr(rhs))
	}
	return intern(&BinaryExpr{Op: SLT, LHS: lhs, RHS: rhs})
}

// newSleExpr returns an expression that represents the if lhs is less than or equal to rhs (signed).
func newSleExpr(lhs, rhs Expr) Expr {
	if lhs, ok := lhs.(*ConstantExpr); ok {
		if rhs, ok := rhs.(*ConstantExpr); ok {
			return lhs.Sle(rhs)
		}
	}
	if ExprWidth(lhs) == WidthBool { // !(!lhs && rhs)
		return NewBinaryExpr(OR, lhs, NewIsZeroExpr(rhs))
	}
	return intern(&BinaryExpr{Op: SLE, LHS: lhs, RHS: rhs})
}

// isOne returns true if e holds the value one.
func isOne(e *ConstantExpr) bool {
	return e.Value.IsUint64() && e.Value.Uint64() == 1
}

// SymbolExpr represents a free variable of a fixed width.
type SymbolExpr struct {
	Name  string
	Width uint
}

// NewSymbolExpr returns the canonical symbol for the given name and width.
func NewSymbolExpr(name string, width uint) *SymbolExpr {
	return intern(&SymbolExpr{Name: name, Width: width}).(*SymbolExpr)
}

// String returns the string representation of the expression.
func (e *SymbolExpr) String() string {
	return fmt.Sprintf("(sym %s %d)", e.Name, e.Width)
}

// SelectExpr represents a one byte read from an array.
type SelectExpr struct {
	Array *Array
	Index Expr
}

// NewSelectExpr returns a new instance of SelectExpr based on a given array.
func NewSelectExpr(a *Array, index Expr) Expr {
	return intern(&SelectExpr{Array: a, Index: index})
}

// String returns the string representation of the expression.
func (e *SelectExpr) String() string {
	return fmt.Sprintf("(select %s %s)", e.Array, e.Index)
}

// ConcatExpr represents a concatenation of two expressions.
type ConcatExpr struct {
	MSB Expr
	LSB Expr
}

// NewConcatExpr returns a new instance of ConcatExpr.
func NewConcatExpr(msb, lsb Expr) Expr {
	// Combine expressions if they are both constants.
	if msb, ok := msb.(*ConstantExpr); ok {
		if lsb, ok := lsb.(*ConstantExpr); ok {
			return msb.Concat(lsb)
		}
	}

	// Combine extract expressions if they are contiguous.
	if msb, ok := msb.(*ExtractExpr); ok {
		if lsb, ok := lsb.(*ExtractExpr); ok {
			if msb.Expr == lsb.Expr && lsb.Offset+lsb.Width == msb.Offset {
				return NewExtractExpr(msb.Expr, lsb.Offset, msb.Width+lsb.Width)
			}
		}
	}

	return intern(&ConcatExpr{MSB: msb, LSB: lsb})
}

// String returns the string representation of the expression.
func (e *ConcatExpr) String() string {
	return fmt.Sprintf("(concat %s %s)", e.MSB, e.LSB)
}

// ExtractExpr represents the extraction of a set of bits at a given offset/width.
type ExtractExpr struct {
	Expr   Expr
	Offset uint
	Width  uint
}

// NewExtractExpr returns a new instance of ExtractExpr.
func NewExtractExpr(expr Expr, offset uint, width uint) Expr {
	kw := ExprWidth(expr)
	assert(width > 0, "extract width cannot be zero")
	assert(offset+width <= kw, "extract out of bounds: %d+%d > %d", width, offset, kw)

	if width == kw {
		return expr
	} else if expr, ok := expr.(*ConstantExpr); ok {
		return expr.Extract(offset, width)
	}

	// Extract(Concat)
	if expr, ok := expr.(*ConcatExpr); ok {
		// Directly extract from MSB if we skip over LSB.
		if offset >= ExprWidth(expr.LSB) {
			return NewExtractExpr(expr.MSB, offset-ExprWidth(expr.LSB), width)
		}

		// Directly extract from LSB if we skip over MSB.
		if offset+width <= ExprWidth(expr.LSB) {
			return NewExtractExpr(expr.LSB, offset, width)
		}

		// Convert extraction to a concatenation of two extractions.
		// E(C(x,y)) = C(E(x), E(y))
		return NewConcatExpr(
			NewExtractExpr(expr.MSB, 0, offset+width-ExprWidth(expr.LSB)),
			NewExtractExpr(expr.LSB, offset, ExprWidth(expr.LSB)-offset),
		)
	}

	return intern(&ExtractExpr{Expr: expr, Offset: offset, Width: width})
}

// String returns the string representation of the expression.
func (e *ExtractExpr) String() string {
	return fmt.Sprintf("(extract %s %d %d)", e.Expr, e.Offset, e.Width)
}

// NotExpr represents a bitwise not of an expression.
type NotExpr struct {
	Expr Expr
}

// NewNotExpr returns a new instance of NotExpr.
func NewNotExpr(expr Expr) Expr {
	if expr, ok := expr.(*ConstantExpr); ok {
		return expr.Not()
	}
	return intern(&NotExpr{Expr: expr})
}

// String returns the string representation of the expression.
func (e *NotExpr) String() string {
	return fmt.Sprintf("(not %s)", e.Expr)
}

// CastExpr represents an expression that casts an expression to a new width.
type CastExpr struct {
	Src    Expr
	Width  uint
	Signed bool
}

// NewCastExpr returns a new instance of CastExpr.
func NewCastExpr(src Expr, width uint, signed bool) Expr {
	if signed {
		return newSExtExpr(src, width)
	}
	return newZExtExpr(src, width)
}

// newZExtExpr returns a new zero-extension binary operation.
func newZExtExpr(src Expr, w uint) Expr {
	sw := ExprWidth(src)
	if w == sw { // nop
		return src
	} else if w < sw { // truncate
		return NewExtractExpr(src, 0, w)
	} else if src, ok := src.(*ConstantExpr); ok {
		return src.ZExt(w)
	}
	return intern(&CastExpr{Src: src, Width: w, Signed: false})
}

// newSExtExpr returns a new signed-extension binary operation.
func newSExtExpr(src Expr, w uint) Expr {
	sw := ExprWidth(src)
	if w == sw { // nop
		return src
	} else if w < sw { // truncate
		return NewExtractExpr(src, 0, w)
	} else if src, ok := src.(*ConstantExpr); ok {
		return src.SExt(w)
	}
	return intern(&CastExpr{Src: src, Width: w, Signed: true})
}

// String returns the string representation of the expression.
func (e *CastExpr) String() string {
	if e.Signed {
		return fmt.Sprintf("(sext %s %d)", e.Src, e.Width)
	}
	return fmt.Sprintf("(zext %s %d)", e.Src, e.Width)
}

// IfExpr represents a conditional choice between two expressions of equal width.
type IfExpr struct {
	Cond Expr
	Then Expr
	Else Expr
}

// NewIfExpr returns an expression that selects between then and els on cond.
func NewIfExpr(cond, then, els Expr) Expr {
	assert(ExprWidth(cond) == WidthBool, "if cond must be boolean, got width %d", ExprWidth(cond))
	assert(ExprWidth(then) == ExprWidth(els), "if branch width mismatch: %d != %d", ExprWidth(then), ExprWidth(els))

	if cond, ok := cond.(*ConstantExpr); ok {
		if cond.IsTrue() {
			return then
		}
		return els
	}
	if then == els {
		return then
	}
	return intern(&IfExpr{Cond: cond, Then: then, Else: els})
}

// String returns the string representation of the expression.
func (e *IfExpr) String() string {
	return fmt.Sprintf("(ite %s %s %s)", e.Cond, e.Then, e.Else)
}

// UFExpr represents an application of an uninterpreted function.
// Two applications of the same function to equal arguments are equal.
type UFExpr struct {
	Name  string
	Args  []Expr
	Width uint
}

// NewUFExpr returns the canonical application of fn to args.
func NewUFExpr(name string, args []Expr, width uint) Expr {
	a := make([]Expr, len(args))
	copy(a, args)
	return intern(&UFExpr{Name: name, Args: a, Width: width})
}

// String returns the string representation of the expression.
func (e *UFExpr) String() string {
	var sb strings.Builder
	sb.WriteString("(uf ")
	sb.WriteString(e.Name)
	for _, arg := range e.Args {
		sb.WriteRune(' ')
		sb.WriteString(arg.String())
	}
	sb.WriteRune(')')
	return sb.String()
}

// NewIsZeroExpr returns an expression that checks the equality of other to zero.
func NewIsZeroExpr(other Expr) Expr {
	return NewBinaryExpr(EQ, other, NewConstantExpr(0, ExprWidth(other)))
}

// Keccak256 returns the Keccak-256 digest of the given byte expressions
// as a 256-bit expression. Fully concrete input folds to a constant;
// otherwise the digest is left as an uninterpreted function application.
func Keccak256(data []Expr) Expr {
	buf := make([]byte, 0, len(data))
	for _, e := range data {
		c, ok := e.(*ConstantExpr)
		if !ok {
			return NewUFExpr("keccak256", data, Width256)
		}
		assert(c.Width == Width8, "keccak input must be bytes, got width %d", c.Width)
		buf = append(buf, byte(c.Value.Uint64()))
	}

	h := sha3.NewLegacyKeccak256()
	h.Write(buf)
	return NewConstantExprFromBytes(h.Sum(nil), Width256)
}

// CompareExpr returns an integer comparing two expressions.
// The result will be 0 if a==b, -1 if a < b, and +1 if a > b.
func CompareExpr(a, b Expr) int {
	if a == nil && b != nil {
		return -1
	} else if a != nil && b == nil {
		return 1
	} else if a == nil && b == nil {
		return 0
	}

	// Canonical nodes are pointer equal.
	if a == b {
		return 0
	}

	if ak, bk := exprKind(a), exprKind(b); ak < bk {
		return -1
	} else if ak > bk {
		return 1
	}

	switch a := a.(type) {
	case *ConstantExpr:
		return compareConstantExpr(a, b.(*ConstantExpr))
	case *SymbolExpr:
		return compareSymbolExpr(a, b.(*SymbolExpr))
	case *SelectExpr:
		return compareSelectExpr(a, b.(*SelectExpr))
	case *ConcatExpr:
		return compareConcatExpr(a, b.(*ConcatExpr))
	case *ExtractExpr:
		return compareExtractExpr(a, b.(*ExtractExpr))
	case *NotExpr:
		return compareNotExpr(a, b.(*NotExpr))
	case *CastExpr:
		return compareCastExpr(a, b.(*CastExpr))
	case *IfExpr:
		return compareIfExpr(a, b.(*IfExpr))
	case *UFExpr:
		return compareUFExpr(a, b.(*UFExpr))
	case *BinaryExpr:
		return compareBinaryExpr(a, b.(*BinaryExpr))
	default:
		panic("unreachable")
	}
}

func compareConstantExpr(a, b *ConstantExpr) int {
	if a.Width < b.Width {
		return -1
	} else if a.Width > b.Width {
		return 1
	}
	return a.Value.Cmp(b.Value)
}

func compareSymbolExpr(a, b *SymbolExpr) int {
	if cmp := strings.Compare(a.Name, b.Name); cmp != 0 {
		return cmp
	}
	if a.Width < b.Width {
		return -1
	} else if a.Width > b.Width {
		return 1
	}
	return 0
}

func compareSelectExpr(a, b *SelectExpr) int {
	if cmp := CompareExpr(a.Index, b.Index); cmp != 0 {
		return cmp
	}
	return CompareArray(a.Array, b.Array)
}

func compareConcatExpr(a, b *ConcatExpr) int {
	if cmp := CompareExpr(a.MSB, b.MSB); cmp != 0 {
		return cmp
	}
	return CompareExpr(a.LSB, b.LSB)
}

func compareExtractExpr(a, b *ExtractExpr) int {
	if a.Offset < b.Offset {
		return -1
	} else if a.Offset > b.Offset {
		return 1
	}

	if a.Width < b.Width {
		return -1
	} else if a.Width > b.Width {
		return 1
	}
	return CompareExpr(a.Expr, b.Expr)
}

func compareNotExpr(a, b *NotExpr) int {
	return CompareExpr(a.Expr, b.Expr)
}

func compareCastExpr(a, b *CastExpr) int {
	if a.Signed && !b.Signed {
		return -1
	} else if !a.Signed && b.Signed {
		return 1
	}

	if a.Width < b.Width {
		return -1
	} else if a.Width > b.Width {
		return 1
	}
	return CompareExpr(a.Src, b.Src)
}

func compareIfExpr(a, b *IfExpr) int {
	if cmp := CompareExpr(a.Cond, b.Cond); cmp != 0 {
		return cmp
	}
	if cmp := CompareExpr(a.Then, b.Then); cmp != 0 {
		return cmp
	}
	return CompareExpr(a.Else, b.Else)
}

func compareUFExpr(a, b *UFExpr) int {
	if cmp := strings.Compare(a.Name, b.Name); cmp != 0 {
		return cmp
	}
	if len(a.Args) < len(b.Args) {
		return -1
	} else if len(a.Args) > len(b.Args) {
		return 1
	}
	for i := range a.Args {
		if cmp := CompareExpr(a.Args[i], b.Args[i]); cmp != 0 {
			return cmp
		}
	}
	if a.Width < b.Width {
		return -1
	} else if a.Width > b.Width {
		return 1
	}
	return 0
}

func compareBinaryExpr(a, b *BinaryExpr) int {
	if a.Op < b.Op {
		return -1
	} else if a.Op > b.Op {
		return 1
	}
	if cmp := CompareExpr(a.LHS, b.LHS); cmp != 0 {
		return cmp
	}
	return CompareExpr(a.RHS, b.RHS)
}

// exprKind returns a numeric value for the type of expression.
// Only used internally for equality checks and sorting.
func exprKind(expr Expr) int {
	switch expr.(type) {
	case *ConstantExpr:
		return 1
	case *SymbolExpr:
		return 2
	case *SelectExpr:
		return 3
	case *ConcatExpr:
		return 4
	case *ExtractExpr:
		return 5
	case *NotExpr:
		return 6
	case *CastExpr:
		return 7
	case *IfExpr:
		return 8
	case *UFExpr:
		return 9
	case *BinaryExpr:
		return 10
	default:
		panic("unreachable")
	}
}

// ExprVisitor represents a visitor that can be passed to WalkExpr().
type ExprVisitor interface {
	// Executed for every visited node. Return a different expression to replace it.
	Visit(expr Expr) (Expr, ExprVisitor)
}

// WalkExpr traverses the expression tree in depth-first order. Nodes are
// never mutated; replacements rebuild the enclosing expression through
// the regular constructors.
func WalkExpr(v ExprVisitor, expr Expr) Expr {
	other, v := v.Visit(expr)
	if v == nil {
		return other
	}

	switch other := other.(type) {
	case *BinaryExpr:
		lhs, rhs := WalkExpr(v, other.LHS), WalkExpr(v, other.RHS)
		if lhs != other.LHS || rhs != other.RHS {
			return NewBinaryExpr(other.Op, lhs, rhs)
		}
	case *CastExpr:
		if src := WalkExpr(v, other.Src); src != other.Src {
			return NewCastExpr(src, other.Width, other.Signed)
		}
	case *ConcatExpr:
		msb, lsb := WalkExpr(v, other.MSB), WalkExpr(v, other.LSB)
		if msb != other.MSB || lsb != other.LSB {
			return NewConcatExpr(msb, lsb)
		}
	case *ConstantExpr, *SymbolExpr:
		// nop
	case *ExtractExpr:
		if src := WalkExpr(v, other.Expr); src != other.Expr {
			return NewExtractExpr(src, other.Offset, other.Width)
		}
	case *NotExpr:
		if src := WalkExpr(v, other.Expr); src != other.Expr {
			return NewNotExpr(src)
		}
	case *IfExpr:
		cond, then, els := WalkExpr(v, other.Cond), WalkExpr(v, other.Then), WalkExpr(v, other.Else)
		if cond != other.Cond || then != other.Then || els != other.Else {
			return NewIfExpr(cond, then, els)
		}
	case *UFExpr:
		var changed bool
		args := make([]Expr, len(other.Args))
		for i, arg := range other.Args {
			args[i] = WalkExpr(v, arg)
			changed = changed || args[i] != arg
		}
		if changed {
			return NewUFExpr(other.Name, args, other.Width)
		}
	case *SelectExpr:
		if index := WalkExpr(v, other.Index); index != other.Index {
			return NewSelectExpr(other.Array, index)
		}
		for upd := other.Array.Updates; upd != nil; upd = upd.Next {
			index := WalkExpr(v, upd.Index)
			assert(index == upd.Index, "array update replacement unsupported")
			value := WalkExpr(v, upd.Value)
			assert(value == upd.Value, "array update replacement unsupported")
		}
	default:
		panic("unreachable")
	}

	return other
}

// FindArrays returns all symbolic arrays in the expression tree.
func FindArrays(exprs ...Expr) []*Array {
	v := newArrayExprVisitor()
	for _, expr := range exprs {
		WalkExpr(v, expr)
	}

	a := make([]*Array, 0, len(v.m))
	for _, array := range v.m {
		a = append(a, array)
	}
	sort.Slice(a, func(i, j int) bool { return CompareArray(a[i], a[j]) == -1 })

	return a
}

type arrayExprVisitor struct {
	m map[uint64]*Array
}

func newArrayExprVisitor() *arrayExprVisitor {
	return &arrayExprVisitor{m: make(map[uint64]*Array)}
}

func (v *arrayExprVisitor) Visit(expr Expr) (Expr, ExprVisitor) {
	if expr, ok := expr.(*SelectExpr); ok && expr.Array.IsSymbolic() {
		if _, ok := v.m[expr.Array.ID]; !ok {
			v.m[expr.Array.ID] = expr.Array
		}
	}
	return expr, v
}

// FindSymbols returns all free symbols in the expression tree, sorted by name.
func FindSymbols(exprs ...Expr) []*SymbolExpr {
	v := &symbolExprVisitor{m: make(map[string]*SymbolExpr)}
	for _, expr := range exprs {
		WalkExpr(v, expr)
	}

	a := make([]*SymbolExpr, 0, len(v.m))
	for _, sym := range v.m {
		a = append(a, sym)
	}
	sort.Slice(a, func(i, j int) bool { return a[i].Name < a[j].Name })
	return a
}

type symbolExprVisitor struct {
	m map[string]*SymbolExpr
}

func (v *symbolExprVisitor) Visit(expr Expr) (Expr, ExprVisitor) {
	if expr, ok := expr.(*SymbolExpr); ok {
		v.m[expr.Name] = expr
	}
	return expr, v
}

// FindUFs returns all applications of the named uninterpreted
// function in the expression tree, sorted structurally.
func FindUFs(name string, exprs ...Expr) []*UFExpr {
	v := &ufExprVisitor{name: name, m: make(map[*UFExpr]struct{})}
	for _, expr := range exprs {
		WalkExpr(v, expr)
	}

	a := make([]*UFExpr, 0, len(v.m))
	for uf := range v.m {
		a = append(a, uf)
	}
	sort.Slice(a, func(i, j int) bool { return compareUFExpr(a[i], a[j]) == -1 })
	return a
}

type ufExprVisitor struct {
	name string
	m    map[*UFExpr]struct{}
}

func (v *ufExprVisitor) Visit(expr Expr) (Expr, ExprVisitor) {
	if expr, ok := expr.(*UFExpr); ok && expr.Name == v.name {
		v.m[expr] = struct{}{}
	}
	return expr, v
}
