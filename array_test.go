package sevm_test

import (
	"testing"

	"github.com/benbjohnson/sevm"
)

func TestArray_Select(t *testing.T) {
	t.Run("ConcreteUpdate", func(t *testing.T) {
		a := sevm.NewArray("data", sevm.NewConstantExpr256(32))
		a = a.Store(sevm.NewConstantExpr256(0), sevm.NewConstantExpr8(0xab), false)

		expr := a.Select(sevm.NewConstantExpr256(0), sevm.Width8, false)
		if expr != sevm.NewConstantExpr8(0xab) {
			t.Fatalf("unexpected expr: %s", expr)
		}
	})

	t.Run("WordAssembly", func(t *testing.T) {
		a := sevm.NewArray("data", sevm.NewConstantExpr256(32))
		word := sevm.NewConstantExpr256(0x1122)
		a = a.Store(sevm.NewConstantExpr256(0), word, false)

		expr := a.Select(sevm.NewConstantExpr256(0), sevm.Width256, false)
		if expr != word {
			t.Fatalf("unexpected expr: %s", expr)
		}
	})

	t.Run("LatestWriteWins", func(t *testing.T) {
		a := sevm.NewArray("data", sevm.NewConstantExpr256(32))
		a = a.Store(sevm.NewConstantExpr256(3), sevm.NewConstantExpr8(1), false)
		a = a.Store(sevm.NewConstantExpr256(3), sevm.NewConstantExpr8(2), false)

		expr := a.Select(sevm.NewConstantExpr256(3), sevm.Width8, false)
		if expr != sevm.NewConstantExpr8(2) {
			t.Fatalf("unexpected expr: %s", expr)
		}
	})

	t.Run("SymbolicIndex", func(t *testing.T) {
		a := sevm.NewArray("data", sevm.NewConstantExpr256(32))
		expr := a.Select(sevm.NewSymbolExpr("i", 256), sevm.Width8, false)

		// Reads that may cross the extent are guarded.
		if _, ok := expr.(*sevm.IfExpr); !ok {
			t.Fatalf("expected guarded read, got %s", expr)
		}
	})

	t.Run("Unbounded", func(t *testing.T) {
		a := sevm.NewArray("data", nil)
		expr := a.Select(sevm.NewConstantExpr256(100), sevm.Width8, false)
		if _, ok := expr.(*sevm.SelectExpr); !ok {
			t.Fatalf("expected raw select, got %s", expr)
		}
	})
}

func TestArray_Store(t *testing.T) {
	t.Run("Immutable", func(t *testing.T) {
		a := sevm.NewArray("data", sevm.NewConstantExpr256(32))
		b := a.Store(sevm.NewConstantExpr256(0), sevm.NewConstantExpr8(1), false)

		if a.Updates != nil {
			t.Fatal("store mutated the receiver")
		}
		if b.Updates == nil {
			t.Fatal("store did not record an update")
		}
		if a.ID != b.ID {
			t.Fatal("store changed the array identity")
		}
	})

	t.Run("PrunesShadowedWrites", func(t *testing.T) {
		a := sevm.NewArray("data", sevm.NewConstantExpr256(32))
		a = a.Store(sevm.NewConstantExpr256(0), sevm.NewConstantExpr8(1), false)
		a = a.Store(sevm.NewConstantExpr256(0), sevm.NewConstantExpr8(2), false)

		n := 0
		for upd := a.Updates; upd != nil; upd = upd.Next {
			n++
		}
		if n != 1 {
			t.Fatalf("unexpected update count: %d", n)
		}
	})
}

func TestArray_IsSymbolic(t *testing.T) {
	t.Run("FullyConcrete", func(t *testing.T) {
		a := sevm.NewArray("data", sevm.NewConstantExpr256(2))
		a = a.Store(sevm.NewConstantExpr256(0), sevm.NewConstantExpr8(1), false)
		a = a.Store(sevm.NewConstantExpr256(1), sevm.NewConstantExpr8(2), false)
		if a.IsSymbolic() {
			t.Fatal("expected concrete array")
		}
	})
	t.Run("PartiallyWritten", func(t *testing.T) {
		a := sevm.NewArray("data", sevm.NewConstantExpr256(2))
		a = a.Store(sevm.NewConstantExpr256(0), sevm.NewConstantExpr8(1), false)
		if !a.IsSymbolic() {
			t.Fatal("expected symbolic array")
		}
	})
	t.Run("SymbolicSize", func(t *testing.T) {
		a := sevm.NewArray("data", sevm.NewSymbolExpr("n", 256))
		if !a.IsSymbolic() {
			t.Fatal("expected symbolic array")
		}
	})
}
