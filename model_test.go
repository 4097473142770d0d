package sevm_test

import (
	"testing"

	"github.com/benbjohnson/sevm"
)

func TestModel_SymbolValue(t *testing.T) {
	m := sevm.NewModel()
	m.Symbols["x"] = sevm.NewConstantExpr256(5)

	if got := m.SymbolValue("x", 256); got != sevm.NewConstantExpr256(5) {
		t.Fatalf("unexpected value: %s", got)
	}

	// Unconstrained symbols read as zero.
	if got := m.SymbolValue("y", 256); got != sevm.NewConstantExpr256(0) {
		t.Fatalf("unexpected value: %s", got)
	}
}

func TestModel_Evaluate(t *testing.T) {
	t.Run("Binary", func(t *testing.T) {
		m := sevm.NewModel()
		m.Symbols["x"] = sevm.NewConstantExpr256(3)
		m.Symbols["y"] = sevm.NewConstantExpr256(4)

		expr := sevm.NewBinaryExpr(sevm.ADD,
			sevm.NewSymbolExpr("x", 256),
			sevm.NewBinaryExpr(sevm.MUL, sevm.NewSymbolExpr("y", 256), sevm.NewConstantExpr256(2)),
		)
		if got := m.Evaluate(expr); got != sevm.NewConstantExpr256(11) {
			t.Fatalf("unexpected value: %s", got)
		}
	})

	t.Run("Conditional", func(t *testing.T) {
		m := sevm.NewModel()
		m.Symbols["x"] = sevm.NewConstantExpr256(3)

		cond := sevm.NewBinaryExpr(sevm.ULT, sevm.NewSymbolExpr("x", 256), sevm.NewConstantExpr256(10))
		expr := sevm.NewIfExpr(cond, sevm.NewConstantExpr256(1), sevm.NewConstantExpr256(2))
		if got := m.Evaluate(expr); got != sevm.NewConstantExpr256(1) {
			t.Fatalf("unexpected value: %s", got)
		}
	})

	t.Run("Select", func(t *testing.T) {
		a := sevm.NewArray("data", nil)
		a = a.Store(sevm.NewConstantExpr256(0), sevm.NewConstantExpr8(0xab), false)

		m := sevm.NewModel()
		m.SetArrayByte(a.ID, 5, 0x7f)

		// An index matching a recorded write reads the written value.
		m.Symbols["i"] = sevm.NewConstantExpr256(0)
		expr := a.Select(sevm.NewSymbolExpr("i", 256), sevm.Width8, false)
		if got := m.Evaluate(expr); got != sevm.NewConstantExpr8(0xab) {
			t.Fatalf("unexpected value: %s", got)
		}

		// Any other index falls back to the model's array assignment.
		m.Symbols["i"] = sevm.NewConstantExpr256(5)
		if got := m.Evaluate(expr); got != sevm.NewConstantExpr8(0x7f) {
			t.Fatalf("unexpected value: %s", got)
		}
	})

	t.Run("UF", func(t *testing.T) {
		uf := sevm.NewUFExpr("sload", []sevm.Expr{sevm.NewConstantExpr256(1)}, 256)

		m := sevm.NewModel()
		m.UFs[uf.String()] = sevm.NewConstantExpr256(42)
		if got := m.Evaluate(uf); got != sevm.NewConstantExpr256(42) {
			t.Fatalf("unexpected value: %s", got)
		}

		// Unassigned applications read as zero.
		other := sevm.NewUFExpr("sload", []sevm.Expr{sevm.NewConstantExpr256(2)}, 256)
		if got := m.Evaluate(other); got != sevm.NewConstantExpr256(0) {
			t.Fatalf("unexpected value: %s", got)
		}
	})

	t.Run("Cast", func(t *testing.T) {
		m := sevm.NewModel()
		m.Symbols["b"] = sevm.NewConstantExpr(0x80, 8)

		expr := sevm.NewCastExpr(sevm.NewSymbolExpr("b", 8), 16, true)
		if got := m.Evaluate(expr); got != sevm.NewConstantExpr(0xff80, 16) {
			t.Fatalf("unexpected value: %s", got)
		}
	})
}
