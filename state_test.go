package sevm_test

import (
	"testing"

	"github.com/benbjohnson/sevm"
)

// newTestState returns a fresh entry state over a trivial program.
func newTestState(t testing.TB, opt sevm.Config) *sevm.ExecutionState {
	t.Helper()
	prog, err := sevm.NewProgram([]byte{byte(sevm.OpStop)})
	if err != nil {
		t.Fatal(err)
	}
	e, err := sevm.NewExecutor(prog, opt)
	if err != nil {
		t.Fatal(err)
	}
	return sevm.NewExecutionState(e)
}

func TestExecutionState_Stack(t *testing.T) {
	t.Run("PushPop", func(t *testing.T) {
		s := newTestState(t, sevm.Config{})
		if err := s.Push(sevm.NewConstantExpr256(1)); err != nil {
			t.Fatal(err)
		}
		if err := s.Push(sevm.NewConstantExpr256(2)); err != nil {
			t.Fatal(err)
		}

		if expr, err := s.Peek(0); err != nil {
			t.Fatal(err)
		} else if expr != sevm.NewConstantExpr256(2) {
			t.Fatalf("unexpected peek: %s", expr)
		}
		if expr, err := s.Pop(); err != nil {
			t.Fatal(err)
		} else if expr != sevm.NewConstantExpr256(2) {
			t.Fatalf("unexpected pop: %s", expr)
		}
		if got, want := s.StackLen(), 1; got != want {
			t.Fatalf("unexpected stack length: %d", got)
		}
	})

	t.Run("Underflow", func(t *testing.T) {
		s := newTestState(t, sevm.Config{})
		if _, err := s.Pop(); err != sevm.ErrStackUnderflow {
			t.Fatalf("unexpected error: %v", err)
		}
		if !sevm.IsPathError(sevm.ErrStackUnderflow) {
			t.Fatal("expected path error")
		}
	})

	t.Run("Overflow", func(t *testing.T) {
		s := newTestState(t, sevm.Config{})
		for i := 0; i < sevm.StackLimit; i++ {
			if err := s.Push(sevm.NewConstantExpr256(0)); err != nil {
				t.Fatal(err)
			}
		}
		if err := s.Push(sevm.NewConstantExpr256(0)); err != sevm.ErrStackOverflow {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

func TestExecutionState_Memory(t *testing.T) {
	t.Run("WordRoundTrip", func(t *testing.T) {
		s := newTestState(t, sevm.Config{})
		word := sevm.NewConstantExpr256(0xdeadbeef)
		s.StoreWord(64, word)

		if expr := s.LoadWord(64); expr != word {
			t.Fatalf("unexpected load: %s", expr)
		}
		if got, want := s.MemorySize(), uint64(96); got != want {
			t.Fatalf("unexpected memory size: %d", got)
		}
	})

	t.Run("UntouchedReadsZero", func(t *testing.T) {
		s := newTestState(t, sevm.Config{})
		if expr := s.LoadWord(0); expr != sevm.NewConstantExpr256(0) {
			t.Fatalf("unexpected load: %s", expr)
		}
	})

	t.Run("ByteOverwrite", func(t *testing.T) {
		s := newTestState(t, sevm.Config{})
		s.StoreWord(0, sevm.NewConstantExpr256(0))
		s.StoreByte(31, sevm.NewConstantExpr8(0x7f))

		if expr := s.LoadWord(0); expr != sevm.NewConstantExpr256(0x7f) {
			t.Fatalf("unexpected load: %s", expr)
		}
	})

	t.Run("ExpansionChargesGas", func(t *testing.T) {
		s := newTestState(t, sevm.Config{})
		before := s.Gas()
		s.StoreWord(0, sevm.NewConstantExpr256(1))
		if s.Gas() >= before {
			t.Fatal("expected gas charge for expansion")
		}

		// Re-touching the same range is free.
		mid := s.Gas()
		s.StoreWord(0, sevm.NewConstantExpr256(2))
		if s.Gas() != mid {
			t.Fatal("unexpected gas charge without expansion")
		}
	})
}

func TestExecutionState_Storage(t *testing.T) {
	t.Run("ReadOverWrite", func(t *testing.T) {
		s := newTestState(t, sevm.Config{})
		key := sevm.NewConstantExpr256(1)
		s.StoreStorage(key, sevm.NewConstantExpr256(42))

		value, err := s.StorageValue(key)
		if err != nil {
			t.Fatal(err)
		} else if value != sevm.NewConstantExpr256(42) {
			t.Fatalf("unexpected value: %s", value)
		}
	})

	t.Run("UnwrittenSlotIsUninterpreted", func(t *testing.T) {
		s := newTestState(t, sevm.Config{})
		value, err := s.StorageValue(sevm.NewConstantExpr256(9))
		if err != nil {
			t.Fatal(err)
		}
		if _, ok := value.(*sevm.UFExpr); !ok {
			t.Fatalf("expected uninterpreted read, got %s", value)
		}
	})

	t.Run("SymbolicKeyAliasing", func(t *testing.T) {
		s := newTestState(t, sevm.Config{})
		k := sevm.NewSymbolExpr("k", 256)
		s.StoreStorage(sevm.NewConstantExpr256(1), sevm.NewConstantExpr256(42))

		// The read may or may not alias slot 1, so it must stay
		// conditional on the key comparison.
		value, err := s.StorageValue(k)
		if err != nil {
			t.Fatal(err)
		}
		if _, ok := value.(*sevm.IfExpr); !ok {
			t.Fatalf("expected conditional read, got %s", value)
		}
	})

	t.Run("WrittenKeys", func(t *testing.T) {
		s := newTestState(t, sevm.Config{})
		s.StoreStorage(sevm.NewConstantExpr256(1), sevm.NewConstantExpr256(10))
		s.StoreStorage(sevm.NewConstantExpr256(2), sevm.NewConstantExpr256(20))
		s.StoreStorage(sevm.NewConstantExpr256(1), sevm.NewConstantExpr256(30))

		keys := s.WrittenKeys()
		if len(keys) != 2 {
			t.Fatalf("unexpected key count: %d", len(keys))
		}
		if keys[0] != sevm.NewConstantExpr256(1) || keys[1] != sevm.NewConstantExpr256(2) {
			t.Fatalf("unexpected keys: %s, %s", keys[0], keys[1])
		}
	})
}

func TestExecutionState_Fork(t *testing.T) {
	s := newTestState(t, sevm.Config{})
	cond := sevm.NewBinaryExpr(sevm.ULT, sevm.NewSymbolExpr("x", 256), sevm.NewConstantExpr256(10))

	child := s.Fork(cond)
	if child.Parent() != s {
		t.Fatal("unexpected parent")
	}
	if !s.Forked() {
		t.Fatal("expected forked state")
	}
	if len(child.Constraints()) != 1 || child.Constraints()[0] != cond {
		t.Fatalf("unexpected constraints: %v", child.Constraints())
	}
	if len(s.Constraints()) != 0 {
		t.Fatal("fork mutated parent constraints")
	}

	// Leaves of a forked parent are its children.
	leaves := s.Leaves()
	if len(leaves) != 1 || leaves[0] != child {
		t.Fatalf("unexpected leaves: %v", leaves)
	}
}

func TestExecutionState_AddConstraint(t *testing.T) {
	s := newTestState(t, sevm.Config{})
	x := sevm.NewSymbolExpr("x", 256)
	a := sevm.NewBinaryExpr(sevm.ULT, x, sevm.NewConstantExpr256(10))
	b := sevm.NewBinaryExpr(sevm.ULT, sevm.NewConstantExpr256(5), x)

	// Conjunctions split into independent constraints.
	s.AddConstraint(sevm.NewBinaryExpr(sevm.AND, a, b))
	if got := s.Constraints(); len(got) != 2 {
		t.Fatalf("unexpected constraint count: %d", len(got))
	}
}

func TestExecutionState_UseGas(t *testing.T) {
	s := newTestState(t, sevm.Config{Gas: 10})
	if !s.UseGas(4) {
		t.Fatal("expected gas available")
	}
	if got, want := s.Gas(), uint64(6); got != want {
		t.Fatalf("unexpected gas: %d", got)
	}

	if s.UseGas(7) {
		t.Fatal("expected gas exhaustion")
	}
	if got, want := s.Status(), sevm.ExecutionStatusOutOfGas; got != want {
		t.Fatalf("unexpected status: %s", got)
	}

	// Further charges on a terminated state are refused without panicking.
	if s.UseGas(1) {
		t.Fatal("expected refusal on terminated state")
	}
}
