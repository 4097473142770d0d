package sevm_test

import (
	"testing"

	"github.com/benbjohnson/sevm"
	"github.com/pkg/errors"
)

func TestNewStorageModel(t *testing.T) {
	for _, name := range []string{
		sevm.StorageModelSymbolic,
		sevm.StorageModelInitialZero,
		sevm.StorageModelConcrete,
	} {
		if _, err := sevm.NewStorageModel(name); err != nil {
			t.Fatalf("%s: %v", name, err)
		}
	}

	if _, err := sevm.NewStorageModel("bogus"); err == nil {
		t.Fatal("expected error")
	}
}

func TestSymbolicStorage(t *testing.T) {
	m := sevm.NewSymbolicStorage()

	key := sevm.NewSymbolExpr("k", 256)
	value, err := m.InitialValue(key)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := value.(*sevm.UFExpr); !ok {
		t.Fatalf("expected uninterpreted read, got %s", value)
	}

	// Equal keys produce the identical application.
	other, err := m.InitialValue(key)
	if err != nil {
		t.Fatal(err)
	} else if other != value {
		t.Fatal("expected identical interned application")
	}
}

func TestZeroStorage(t *testing.T) {
	m := sevm.NewZeroStorage()
	value, err := m.InitialValue(sevm.NewSymbolExpr("k", 256))
	if err != nil {
		t.Fatal(err)
	}
	if value != sevm.NewConstantExpr256(0) {
		t.Fatalf("unexpected value: %s", value)
	}
}

func TestConcreteStorage(t *testing.T) {
	t.Run("SeededKey", func(t *testing.T) {
		src := sevm.NewMapStateSource()
		src.SetStorage(sevm.NewConstantExpr256(1), sevm.NewConstantExpr256(42))

		m := sevm.NewConcreteStorage(src)
		value, err := m.InitialValue(sevm.NewConstantExpr256(1))
		if err != nil {
			t.Fatal(err)
		}
		if value != sevm.NewConstantExpr256(42) {
			t.Fatalf("unexpected value: %s", value)
		}
	})

	t.Run("UnseededKeyIsZero", func(t *testing.T) {
		m := sevm.NewConcreteStorage(sevm.NewMapStateSource())
		value, err := m.InitialValue(sevm.NewConstantExpr256(7))
		if err != nil {
			t.Fatal(err)
		}
		if value != sevm.NewConstantExpr256(0) {
			t.Fatalf("unexpected value: %s", value)
		}
	})

	t.Run("SymbolicKeyFailsPath", func(t *testing.T) {
		m := sevm.NewConcreteStorage(sevm.NewMapStateSource())
		_, err := m.InitialValue(sevm.NewSymbolExpr("k", 256))
		if errors.Cause(err) != sevm.ErrUnsupportedSymbolicStorageRead {
			t.Fatalf("unexpected error: %v", err)
		}
		if !sevm.IsPathError(err) {
			t.Fatal("expected path error")
		}
	})

	t.Run("FetchErrorFailsPath", func(t *testing.T) {
		m := sevm.NewConcreteStorage(&failingStateSource{})
		_, err := m.InitialValue(sevm.NewConstantExpr256(1))
		if errors.Cause(err) != sevm.ErrStateFetchFailed {
			t.Fatalf("unexpected error: %v", err)
		}
		if !sevm.IsPathError(err) {
			t.Fatal("expected path error")
		}
	})

	t.Run("CachesFetches", func(t *testing.T) {
		src := &countingStateSource{}
		m := sevm.NewConcreteStorage(src)
		for i := 0; i < 3; i++ {
			if _, err := m.InitialValue(sevm.NewConstantExpr256(1)); err != nil {
				t.Fatal(err)
			}
		}
		if src.n != 1 {
			t.Fatalf("unexpected fetch count: %d", src.n)
		}
	})
}

type failingStateSource struct{}

func (s *failingStateSource) StorageAt(key *sevm.ConstantExpr) (*sevm.ConstantExpr, error) {
	return nil, errors.New("connection refused")
}

type countingStateSource struct {
	n int
}

func (s *countingStateSource) StorageAt(key *sevm.ConstantExpr) (*sevm.ConstantExpr, error) {
	s.n++
	return sevm.NewConstantExpr256(0), nil
}
