package sevm_test

import (
	"context"
	"math/big"
	"testing"

	"github.com/benbjohnson/sevm"
)

// runReturn executes body followed by a one-word return and yields the
// returned constant. The body must leave exactly one value on the
// stack.
func runReturn(t testing.TB, body string, opt sevm.Config) *sevm.ConstantExpr {
	t.Helper()

	e := newTestExecutor(t, body+`
		PUSH1 0x00
		MSTORE
		PUSH1 0x20
		PUSH1 0x00
		RETURN
	`, &scriptSolver{}, opt)

	leaves, err := e.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(leaves) != 1 {
		t.Fatalf("unexpected leaf count: %d", len(leaves))
	}
	if got, want := leaves[0].Status(), sevm.ExecutionStatusReturned; got != want {
		t.Fatalf("unexpected status: %s (%s)", got, leaves[0].Reason())
	}

	word, ok := leaves[0].ReturnWord()
	if !ok {
		t.Fatal("expected return data")
	}
	c, ok := word.(*sevm.ConstantExpr)
	if !ok {
		t.Fatalf("expected constant return, got %s", word)
	}
	return c
}

func TestInterp_Arithmetic(t *testing.T) {
	allOnes := sevm.NewConstantExprFromBig(
		new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1)), sevm.Width256)

	for _, tt := range []struct {
		name string
		body string
		want *sevm.ConstantExpr
	}{
		{"AddMod", "PUSH1 0x08\nPUSH1 0x0a\nPUSH1 0x0a\nADDMOD", sevm.NewConstantExpr256(4)},
		{"AddModZero", "PUSH1 0x00\nPUSH1 0x0a\nPUSH1 0x0a\nADDMOD", sevm.NewConstantExpr256(0)},
		{"MulMod", "PUSH1 0x08\nPUSH1 0x0a\nPUSH1 0x0a\nMULMOD", sevm.NewConstantExpr256(4)},
		{"Exp", "PUSH1 0x0a\nPUSH1 0x02\nEXP", sevm.NewConstantExpr256(1024)},
		{"SignExtend", "PUSH1 0xff\nPUSH1 0x00\nSIGNEXTEND", allOnes},
		{"Byte", "PUSH1 0xab\nPUSH1 0x1f\nBYTE", sevm.NewConstantExpr256(0xab)},
		{"ByteOutOfRange", "PUSH1 0xab\nPUSH1 0x20\nBYTE", sevm.NewConstantExpr256(0)},
		{"Shl", "PUSH1 0x01\nPUSH1 0x04\nSHL", sevm.NewConstantExpr256(0x10)},
		{"Shr", "PUSH1 0x10\nPUSH1 0x04\nSHR", sevm.NewConstantExpr256(0x01)},
		{"Sar", "PUSH32 0x8000000000000000000000000000000000000000000000000000000000000000\nPUSH1 0xff\nSAR", allOnes},
		{"Not", "PUSH1 0x00\nNOT", allOnes},
		{"IsZero", "PUSH1 0x00\nISZERO", sevm.NewConstantExpr256(1)},
		{"Lt", "PUSH1 0x02\nPUSH1 0x01\nLT", sevm.NewConstantExpr256(1)},
		{"Sgt", "PUSH1 0x01\nPUSH1 0x00\nNOT\nSGT", sevm.NewConstantExpr256(0)},
	} {
		t.Run(tt.name, func(t *testing.T) {
			if got := runReturn(t, tt.body, sevm.Config{}); got != tt.want {
				t.Fatalf("unexpected result: %s", got)
			}
		})
	}
}

func TestInterp_Memory(t *testing.T) {
	t.Run("MStore8", func(t *testing.T) {
		got := runReturn(t, `
			PUSH1 0xff
			PUSH1 0x1f
			MSTORE8
			PUSH1 0x00
			MLOAD
		`, sevm.Config{})
		if got != sevm.NewConstantExpr256(0xff) {
			t.Fatalf("unexpected result: %s", got)
		}
	})

	t.Run("MSize", func(t *testing.T) {
		got := runReturn(t, `
			PUSH1 0x01
			PUSH1 0x40
			MSTORE
			MSIZE
		`, sevm.Config{})
		if got != sevm.NewConstantExpr256(0x60) {
			t.Fatalf("unexpected result: %s", got)
		}
	})
}

func TestInterp_Storage(t *testing.T) {
	got := runReturn(t, `
		PUSH1 0x2a
		PUSH1 0x05
		SSTORE
		PUSH1 0x05
		SLOAD
	`, sevm.Config{})
	if got != sevm.NewConstantExpr256(0x2a) {
		t.Fatalf("unexpected result: %s", got)
	}
}

func TestInterp_Env(t *testing.T) {
	t.Run("CallDataSize", func(t *testing.T) {
		got := runReturn(t, `CALLDATASIZE`, sevm.Config{Signature: "add(uint256,uint256)"})
		if got != sevm.NewConstantExpr256(68) {
			t.Fatalf("unexpected result: %s", got)
		}
	})

	t.Run("Address", func(t *testing.T) {
		got := runReturn(t, `ADDRESS`, sevm.Config{})
		if got != sevm.NewConstantExpr256(0xc0de) {
			t.Fatalf("unexpected result: %s", got)
		}
	})

	t.Run("Selector", func(t *testing.T) {
		// The first calldata word starts with the four literal selector
		// bytes; the argument region stays symbolic.
		e := newTestExecutor(t, `
			PUSH1 0x00
			CALLDATALOAD
			PUSH1 0xe0
			SHR
			PUSH1 0x00
			MSTORE
			PUSH1 0x20
			PUSH1 0x00
			RETURN
		`, &scriptSolver{}, sevm.Config{Signature: "transfer(address,uint256)"})

		leaves, err := e.Run(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		word, ok := leaves[0].ReturnWord()
		if !ok {
			t.Fatal("expected return data")
		}
		if got := sevm.NewModel().Evaluate(word); got != sevm.NewConstantExpr256(0xa9059cbb) {
			t.Fatalf("unexpected result: %s", got)
		}
	})

	t.Run("ReturnDataSize", func(t *testing.T) {
		got := runReturn(t, `RETURNDATASIZE`, sevm.Config{})
		if got != sevm.NewConstantExpr256(0) {
			t.Fatalf("unexpected result: %s", got)
		}
	})
}
