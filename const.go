package sevm

import (
	"fmt"
	"math/big"
)

// ConstantExpr represents a fixed-width two's complement integer.
// The value is always stored masked to its width and non-negative.
type ConstantExpr struct {
	Value *big.Int
	Width uint
}

// NewConstantExpr returns a new instance of ConstantExpr.
func NewConstantExpr(value uint64, width uint) *ConstantExpr {
	return NewConstantExprFromBig(new(big.Int).SetUint64(value), width)
}

// NewConstantExprFromBig returns a constant expression holding value
// truncated to width bits. Negative values wrap.
func NewConstantExprFromBig(value *big.Int, width uint) *ConstantExpr {
	v := new(big.Int).Set(value)
	if v.Sign() < 0 {
		v.Add(v, modulus(width))
	}
	v.And(v, bitmask(width))
	return internConstantExpr(&ConstantExpr{Value: v, Width: width})
}

// NewConstantExprFromBytes returns a constant expression from big-endian bytes.
func NewConstantExprFromBytes(b []byte, width uint) *ConstantExpr {
	return NewConstantExprFromBig(new(big.Int).SetBytes(b), width)
}

// NewConstantExpr8 returns a 8-bit constant expression.
func NewConstantExpr8(value uint64) *ConstantExpr {
	return NewConstantExpr(value, 8)
}

// NewConstantExpr160 returns a 160-bit constant expression.
func NewConstantExpr160(value uint64) *ConstantExpr {
	return NewConstantExpr(value, 160)
}

// NewConstantExpr256 returns a 256-bit constant expression.
func NewConstantExpr256(value uint64) *ConstantExpr {
	return NewConstantExpr(value, 256)
}

// NewBoolConstantExpr is an ease of use function for creating constant boolean expressions.
func NewBoolConstantExpr(value bool) *ConstantExpr {
	if value {
		return NewConstantExpr(1, WidthBool)
	}
	return NewConstantExpr(0, WidthBool)
}

// String returns the string representation of the expression.
func (e *ConstantExpr) String() string {
	return fmt.Sprintf("(const %d %d)", e.Value, e.Width)
}

// IsTrue returns true if this is a boolean true expression.
func (e *ConstantExpr) IsTrue() bool {
	return e.Width == WidthBool && e.Value.Sign() != 0
}

// IsFalse returns true if this is a boolean false expression.
func (e *ConstantExpr) IsFalse() bool {
	return e.Width == WidthBool && e.Value.Sign() == 0
}

// IsZero returns true if the value is zero.
func (e *ConstantExpr) IsZero() bool {
	return e.Value.Sign() == 0
}

// IsAllOnes returns true if all bits in the value are one.
func (e *ConstantExpr) IsAllOnes() bool {
	return e.Value.Cmp(bitmask(e.Width)) == 0
}

// Uint64 returns the value as a uint64. The value must fit.
func (e *ConstantExpr) Uint64() uint64 {
	assert(e.Value.IsUint64(), "constant out of uint64 range: %s", e.Value)
	return e.Value.Uint64()
}

// Bytes returns the value as big-endian bytes padded to the full width.
func (e *ConstantExpr) Bytes() []byte {
	b := e.Value.Bytes()
	n := int(minBytes(e.Width))
	if len(b) >= n {
		return b
	}
	padded := make([]byte, n)
	copy(padded[n-len(b):], b)
	return padded
}

// signed returns the value interpreted as a signed integer.
func (e *ConstantExpr) signed() *big.Int {
	if e.Value.Bit(int(e.Width)-1) == 0 {
		return e.Value
	}
	return new(big.Int).Sub(e.Value, modulus(e.Width))
}

// Add returns the sum of e and other.
func (e *ConstantExpr) Add(other *ConstantExpr) *ConstantExpr {
	assert(e.Width == other.Width, "add: width mismatch: %d != %d", e.Width, other.Width)
	return NewConstantExprFromBig(new(big.Int).Add(e.Value, other.Value), e.Width)
}

// Sub returns the difference of e and other.
func (e *ConstantExpr) Sub(other *ConstantExpr) *ConstantExpr {
	assert(e.Width == other.Width, "sub: width mismatch: %d != %d", e.Width, other.Width)
	return NewConstantExprFromBig(new(big.Int).Sub(e.Value, other.Value), e.Width)
}

// Mul returns the product of e and other.
func (e *ConstantExpr) Mul(other *ConstantExpr) *ConstantExpr {
	assert(e.Width == other.Width, "mul: width mismatch: %d != %d", e.Width, other.Width)
	return NewConstantExprFromBig(new(big.Int).Mul(e.Value, other.Value), e.Width)
}

// UDiv returns the quotient of unsigned division of e by other.
// Division by zero yields zero.
func (e *ConstantExpr) UDiv(other *ConstantExpr) *ConstantExpr {
	assert(e.Width == other.Width, "udiv: width mismatch: %d != %d", e.Width, other.Width)
	if other.IsZero() {
		return NewConstantExpr(0, e.Width)
	}
	return NewConstantExprFromBig(new(big.Int).Quo(e.Value, other.Value), e.Width)
}

// SDiv returns the quotient of signed division of e by other,
// truncated toward zero. Division by zero yields zero.
func (e *ConstantExpr) SDiv(other *ConstantExpr) *ConstantExpr {
	assert(e.Width == other.Width, "sdiv: width mismatch: %d != %d", e.Width, other.Width)
	if other.IsZero() {
		return NewConstantExpr(0, e.Width)
	}
	return NewConstantExprFromBig(new(big.Int).Quo(e.signed(), other.signed()), e.Width)
}

// URem returns the remainder of unsigned division of e by other.
// A zero divisor yields zero.
func (e *ConstantExpr) URem(other *ConstantExpr) *ConstantExpr {
	assert(e.Width == other.Width, "urem: width mismatch: %d != %d", e.Width, other.Width)
	if other.IsZero() {
		return NewConstantExpr(0, e.Width)
	}
	return NewConstantExprFromBig(new(big.Int).Rem(e.Value, other.Value), e.Width)
}

// SRem returns the remainder of signed division of e by other.
// The result takes the sign of the dividend. A zero divisor yields zero.
func (e *ConstantExpr) SRem(other *ConstantExpr) *ConstantExpr {
	assert(e.Width == other.Width, "srem: width mismatch: %d != %d", e.Width, other.Width)
	if other.IsZero() {
		return NewConstantExpr(0, e.Width)
	}
	return NewConstantExprFromBig(new(big.Int).Rem(e.signed(), other.signed()), e.Width)
}

// And returns the bitwise AND of e and other.
func (e *ConstantExpr) And(other *ConstantExpr) *ConstantExpr {
	assert(e.Width == other.Width, "and: width mismatch: %d != %d", e.Width, other.Width)
	return NewConstantExprFromBig(new(big.Int).And(e.Value, other.Value), e.Width)
}

// Or returns the bitwise OR of e and other.
func (e *ConstantExpr) Or(other *ConstantExpr) *ConstantExpr {
	assert(e.Width == other.Width, "or: width mismatch: %d != %d", e.Width, other.Width)
	return NewConstantExprFromBig(new(big.Int).Or(e.Value, other.Value), e.Width)
}

// Xor returns the bitwise XOR of e and other.
func (e *ConstantExpr) Xor(other *ConstantExpr) *ConstantExpr {
	assert(e.Width == other.Width, "xor: width mismatch: %d != %d", e.Width, other.Width)
	return NewConstantExprFromBig(new(big.Int).Xor(e.Value, other.Value), e.Width)
}

// Shl returns the value of e shifted left by other number of bits.
// Shifts of the full width or more yield zero.
func (e *ConstantExpr) Shl(other *ConstantExpr) *ConstantExpr {
	if n, ok := shiftAmount(other, e.Width); ok {
		return NewConstantExprFromBig(new(big.Int).Lsh(e.Value, n), e.Width)
	}
	return NewConstantExpr(0, e.Width)
}

// LShr returns the value of e logically shifted right by other number of bits.
func (e *ConstantExpr) LShr(other *ConstantExpr) *ConstantExpr {
	if n, ok := shiftAmount(other, e.Width); ok {
		return NewConstantExprFromBig(new(big.Int).Rsh(e.Value, n), e.Width)
	}
	return NewConstantExpr(0, e.Width)
}

// AShr returns the value of e arithmetically shifted right by other number of bits.
func (e *ConstantExpr) AShr(other *ConstantExpr) *ConstantExpr {
	n, ok := shiftAmount(other, e.Width)
	if !ok {
		n = e.Width
	}
	return NewConstantExprFromBig(new(big.Int).Rsh(e.signed(), n), e.Width)
}

// shiftAmount reports other as a bit count if it is below width.
func shiftAmount(other *ConstantExpr, width uint) (uint, bool) {
	if !other.Value.IsUint64() || other.Value.Uint64() >= uint64(width) {
		return 0, false
	}
	return uint(other.Value.Uint64()), true
}

// Eq returns the equality of e and other.
func (e *ConstantExpr) Eq(other *ConstantExpr) *ConstantExpr {
	assert(e.Width == other.Width, "eq: width mismatch: %d != %d", e.Width, other.Width)
	return NewBoolConstantExpr(e.Value.Cmp(other.Value) == 0)
}

// Ult returns the unsigned less than comparison of e to other.
func (e *ConstantExpr) Ult(other *ConstantExpr) *ConstantExpr {
	assert(e.Width == other.Width, "ult: width mismatch: %d != %d", e.Width, other.Width)
	return NewBoolConstantExpr(e.Value.Cmp(other.Value) < 0)
}

// Ugt returns the unsigned greater than comparison of e to other.
func (e *ConstantExpr) Ugt(other *ConstantExpr) *ConstantExpr {
	return other.Ult(e)
}

// Ule returns the unsigned less than or equal to comparison of e to other.
func (e *ConstantExpr) Ule(other *ConstantExpr) *ConstantExpr {
	assert(e.Width == other.Width, "ule: width mismatch: %d != %d", e.Width, other.Width)
	return NewBoolConstantExpr(e.Value.Cmp(other.Value) <= 0)
}

// Uge returns the unsigned greater than or equal to comparison of e to other.
func (e *ConstantExpr) Uge(other *ConstantExpr) *ConstantExpr {
	return other.Ule(e)
}

// Slt returns the signed less than comparison of e to other.
func (e *ConstantExpr) Slt(other *ConstantExpr) *ConstantExpr {
	assert(e.Width == other.Width, "slt: width mismatch: %d != %d", e.Width, other.Width)
	return NewBoolConstantExpr(e.signed().Cmp(other.signed()) < 0)
}

// Sgt returns the signed greater than comparison of e to other.
func (e *ConstantExpr) Sgt(other *ConstantExpr) *ConstantExpr {
	return other.Slt(e)
}

// Sle returns the signed less than or equal to comparison of e to other.
func (e *ConstantExpr) Sle(other *ConstantExpr) *ConstantExpr {
	assert(e.Width == other.Width, "sle: width mismatch: %d != %d", e.Width, other.Width)
	return NewBoolConstantExpr(e.signed().Cmp(other.signed()) <= 0)
}

// Sge returns the signed greater than or equal to comparison of e to other.
func (e *ConstantExpr) Sge(other *ConstantExpr) *ConstantExpr {
	return other.Sle(e)
}

// ZExt returns the zero-extension of e to a new width.
// Narrower widths truncate.
func (e *ConstantExpr) ZExt(width uint) *ConstantExpr {
	if e.Width == width {
		return e
	} else if width == WidthBool {
		return NewBoolConstantExpr(e.Value.Sign() != 0)
	}
	return NewConstantExprFromBig(e.Value, width)
}

// SExt returns the sign-extension of e to a new width.
func (e *ConstantExpr) SExt(width uint) *ConstantExpr {
	if e.Width == width {
		return e
	} else if width < e.Width {
		return NewConstantExprFromBig(e.Value, width)
	}
	return NewConstantExprFromBig(e.signed(), width)
}

// Not returns the bitwise NOT of the expression.
func (e *ConstantExpr) Not() *ConstantExpr {
	return NewConstantExprFromBig(new(big.Int).Xor(e.Value, bitmask(e.Width)), e.Width)
}

// Extract returns width number of bits starting at offset.
func (e *ConstantExpr) Extract(offset, width uint) *ConstantExpr {
	return NewConstantExprFromBig(new(big.Int).Rsh(e.Value, offset), width)
}

// Concat returns the concatenation of e and lsb.
func (e *ConstantExpr) Concat(lsb *ConstantExpr) *ConstantExpr {
	v := new(big.Int).Lsh(e.Value, lsb.Width)
	v.Or(v, lsb.Value)
	return NewConstantExprFromBig(v, e.Width+lsb.Width)
}

// Exp returns e raised to the power of other, modulo the width.
func (e *ConstantExpr) Exp(other *ConstantExpr) *ConstantExpr {
	assert(e.Width == other.Width, "exp: width mismatch: %d != %d", e.Width, other.Width)
	return NewConstantExprFromBig(new(big.Int).Exp(e.Value, other.Value, modulus(e.Width)), e.Width)
}

// bitmask returns a value with the low width bits set.
func bitmask(width uint) *big.Int {
	return new(big.Int).Sub(modulus(width), big.NewInt(1))
}

// modulus returns 2 raised to width.
func modulus(width uint) *big.Int {
	return new(big.Int).Lsh(big.NewInt(1), width)
}

// IsConstantExpr returns true if expr is an instance of ConstantExpr.
func IsConstantExpr(expr Expr) bool {
	_, ok := expr.(*ConstantExpr)
	return ok
}

// IsConstantTrue returns true if expr is an instance of ConstantExpr and is true.
func IsConstantTrue(expr Expr) bool {
	tmp, ok := expr.(*ConstantExpr)
	return ok && tmp.IsTrue()
}

// IsConstantFalse returns true if expr is an instance of ConstantExpr and is false.
func IsConstantFalse(expr Expr) bool {
	tmp, ok := expr.(*ConstantExpr)
	return ok && tmp.IsFalse()
}

// minBytes returns smallest number of bytes in which the w fits.
func minBytes(bits uint) uint {
	return (bits + 7) / 8
}
