package sevm

import (
	"fmt"
	"sync/atomic"
)

// arraySeq issues process-wide unique array ids.
var arraySeq uint64

// Array represents an array of symbolic or concrete bytes, such as the
// calldata buffer. Indexes are 256-bit words.
type Array struct {
	ID      uint64       // unique id
	Name    string       // solver-facing name
	Size    Expr         // length in bytes; nil if unbounded
	Updates *ArrayUpdate // linked list of symbolic updates
}

// NewArray returns a new Array with the given name and size.
// A nil size leaves the array unbounded.
func NewArray(name string, size Expr) *Array {
	if size != nil {
		assert(ExprWidth(size) == Width256, "array size must be a word, got width %d", ExprWidth(size))
	}
	return &Array{
		ID:   atomic.AddUint64(&arraySeq, 1),
		Name: name,
		Size: size,
	}
}

// String returns a string representation of the array.
func (a *Array) String() string {
	if a.Name != "" {
		return fmt.Sprintf("(array %s)", a.Name)
	}
	return fmt.Sprintf("(array #%d)", a.ID)
}

// Clone returns a copy of the array.
func (a *Array) Clone() *Array {
	return &Array{
		ID:      a.ID,
		Name:    a.Name,
		Size:    a.Size,
		Updates: a.Updates,
	}
}

// Select reads a value from the array.
//
// Reads past a known size fold to zero; reads that may cross the size
// are guarded so that out-of-range bytes read as zero.
func (a *Array) Select(offset Expr, width uint, isLittleEndian bool) Expr {
	assert(width > 0, "select: invalid width")

	offset = newZExtExpr(offset, Width256)

	if width == WidthBool {
		return NewExtractExpr(a.selectByte(offset), 0, WidthBool)
	}

	// Handle read byte-by-byte.
	var result Expr
	for i, n := uint64(0), uint64(width)/8; i != n; i++ {
		byteOffset := i
		if !isLittleEndian {
			byteOffset = (n - i - 1)
		}

		value := a.selectByte(NewBinaryExpr(ADD, offset, NewConstantExpr256(byteOffset)))
		if i == 0 {
			result = value
		} else {
			result = NewConcatExpr(value, result)
		}
	}
	return result
}

// selectByte reads a single byte from the array.
//
// Attempts to find a concrete value by traversing the array update history.
// Falls back to a select expression if either the selected index or an update's
// index is symbolic.
func (a *Array) selectByte(index Expr) Expr {
	assert(ExprWidth(index) == Width256, "selectByte: invalid array index width: %d", ExprWidth(index))
	for upd := a.Updates; upd != nil; upd = upd.Next {
		cond, ok := NewBinaryExpr(EQ, index, upd.Index).(*ConstantExpr)
		if !ok {
			break // found symbolic index, exit
		} else if cond.IsTrue() {
			return upd.Value
		}
	}

	value := NewSelectExpr(a, index)
	if a.Size == nil {
		return value
	}
	inRange := NewBinaryExpr(ULT, index, a.Size)
	return NewIfExpr(inRange, value, NewConstantExpr(0, Width8))
}

// Store writes a value at an offset. Returns a new copy of the array.
//
// Stores must complete before the first Select against the array so
// that previously issued select expressions keep their meaning.
func (a *Array) Store(offset, value Expr, isLittleEndian bool) *Array {
	other := a.Clone()

	offset = newZExtExpr(offset, Width256)

	// Treat bool specially, it is the only non-byte sized write we allow.
	width := ExprWidth(value)
	assert(width > 0, "store: invalid width")
	if width == WidthBool {
		other.storeByte(offset, value)
		return other
	}

	// Otherwise, follow the slow general case.
	for i, n := uint64(0), uint64(width)/8; i != n; i++ {
		byteOffset := i
		if !isLittleEndian {
			byteOffset = (n - i - 1)
		}

		other.storeByte(NewBinaryExpr(ADD, offset, NewConstantExpr256(byteOffset)), NewExtractExpr(value, uint(i*8), Width8))
	}
	return other
}

// storeByte writes a single byte to the array.
func (a *Array) storeByte(index, value Expr) {
	assert(ExprWidth(index) == Width256, "storeByte: invalid array index width: %d", ExprWidth(index))

	// Verify constant is not out of bounds against a known size.
	if index, ok := index.(*ConstantExpr); ok {
		if size, ok := a.Size.(*ConstantExpr); ok {
			assert(index.Value.Cmp(size.Value) < 0, "storeByte: index out of bounds: %d >= %d", index.Value, size.Value)
		}
	}

	// Add update to the head of the chain.
	a.Updates = NewArrayUpdate(index, value, a.Updates)

	// Remove any previous updates to the index from the chain.
	if index, ok := index.(*ConstantExpr); ok {
		prev := a.Updates
		for upd := prev.Next; upd != nil; upd = upd.Next {
			if updIndex, ok := upd.Index.(*ConstantExpr); !ok {
				break // symbolic index
			} else if index.Value.Cmp(updIndex.Value) == 0 {
				prev.Next = upd.Next // matching index, remove
			} else {
				prev = upd // no matching index, continue
			}
		}
	}
}

// IsSymbolic returns true if any bytes in the array are symbolic.
func (a *Array) IsSymbolic() bool {
	size, ok := a.Size.(*ConstantExpr)
	if !ok || !size.Value.IsUint64() {
		return true // unknown extent
	}

	// Mark all bytes with concrete values.
	bytes := make([]bool, size.Value.Uint64())
	for upd := a.Updates; upd != nil; upd = upd.Next {
		if index, ok := upd.Index.(*ConstantExpr); !ok {
			return true // found symbolic index
		} else if _, ok := upd.Value.(*ConstantExpr); ok {
			bytes[index.Value.Uint64()] = true // index & value are concrete
		}
	}

	for _, isConcrete := range bytes {
		if !isConcrete {
			return true
		}
	}
	return false
}

// CompareArray returns an integer comparing two arrays.
// The result will be 0 if a==b, -1 if a < b, and +1 if a > b.
func CompareArray(a, b *Array) int {
	if a == nil && b != nil {
		return -1
	} else if a != nil && b == nil {
		return 1
	} else if a == nil && b == nil {
		return 0
	}

	if a.ID < b.ID {
		return -1
	} else if a.ID > b.ID {
		return 1
	}

	if cmp := CompareExpr(a.Size, b.Size); cmp != 0 {
		return cmp
	}

	return CompareArrayUpdate(a.Updates, b.Updates)
}

// ArrayUpdate represents a symbolic update to an array.
type ArrayUpdate struct {
	Index Expr // byte index of update
	Value Expr // byte value to update

	Next *ArrayUpdate // linked list of next update
}

// NewArrayUpdate returns a new instance of ArrayUpdate.
func NewArrayUpdate(index, value Expr, next *ArrayUpdate) *ArrayUpdate {
	return &ArrayUpdate{
		Index: newZExtExpr(index, Width256),
		Value: newZExtExpr(value, Width8),
		Next:  next,
	}
}

// CompareArrayUpdate returns an integer comparing two array updates.
// The result will be 0 if a==b, -1 if a < b, and +1 if a > b.
func CompareArrayUpdate(a, b *ArrayUpdate) int {
	if a == nil && b != nil {
		return -1
	} else if a != nil && b == nil {
		return 1
	} else if a == nil && b == nil {
		return 0
	}

	if cmp := CompareExpr(a.Index, b.Index); cmp != 0 {
		return cmp
	} else if cmp := CompareExpr(a.Value, b.Value); cmp != 0 {
		return cmp
	}
	return CompareArrayUpdate(a.Next, b.Next)
}
