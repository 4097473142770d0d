package sevm

import (
	"sync"

	"github.com/pkg/errors"
)

// StorageModel decides what a read of a storage slot that was never
// written on the current path resolves to. Writes are tracked by the
// execution state itself; the model only supplies initial values, which
// is what keeps the interpreter policy-agnostic.
type StorageModel interface {
	// InitialValue returns the value of an unwritten slot.
	InitialValue(key Expr) (Expr, error)
}

// NewStorageModel returns the storage model registered under name.
// The "concrete" model requires an external state source; use
// NewConcreteStorage directly to supply one.
func NewStorageModel(name string) (StorageModel, error) {
	switch name {
	case StorageModelSymbolic:
		return NewSymbolicStorage(), nil
	case StorageModelInitialZero:
		return NewZeroStorage(), nil
	case StorageModelConcrete:
		return NewConcreteStorage(nil), nil
	default:
		return nil, errors.Errorf("sevm: unknown storage model %q", name)
	}
}

// SymbolicStorage treats storage as an uninterpreted mapping: an
// unwritten slot reads as an opaque function of its key, so two reads
// of provably equal keys agree and nothing else is assumed.
type SymbolicStorage struct{}

// NewSymbolicStorage returns a new instance of SymbolicStorage.
func NewSymbolicStorage() *SymbolicStorage {
	return &SymbolicStorage{}
}

// InitialValue returns an uninterpreted application over the key.
func (m *SymbolicStorage) InitialValue(key Expr) (Expr, error) {
	return NewUFExpr("sload", []Expr{key}, Width256), nil
}

// ZeroStorage models a freshly constructed contract: every unwritten
// slot reads as zero.
type ZeroStorage struct{}

// NewZeroStorage returns a new instance of ZeroStorage.
func NewZeroStorage() *ZeroStorage {
	return &ZeroStorage{}
}

// InitialValue returns the zero word.
func (m *ZeroStorage) InitialValue(key Expr) (Expr, error) {
	return NewConstantExpr256(0), nil
}

// ConcreteStorage resolves unwritten slots against an external state
// source. Fetched values are cached for the remainder of the run.
// Reads at a symbolic key cannot be resolved and fail the path.
type ConcreteStorage struct {
	src StateSource

	mu    sync.Mutex
	cache map[*ConstantExpr]*ConstantExpr
}

// NewConcreteStorage returns a ConcreteStorage backed by src.
func NewConcreteStorage(src StateSource) *ConcreteStorage {
	return &ConcreteStorage{
		src:   src,
		cache: make(map[*ConstantExpr]*ConstantExpr),
	}
}

// InitialValue fetches the slot value for a concrete key. A symbolic
// key returns ErrUnsupportedSymbolicStorageRead.
func (m *ConcreteStorage) InitialValue(key Expr) (Expr, error) {
	k, ok := key.(*ConstantExpr)
	if !ok {
		return nil, errors.Wrapf(ErrUnsupportedSymbolicStorageRead, "key %s", key)
	}
	if m.src == nil {
		return nil, errors.New("sevm: concrete storage requires a state source")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if value, ok := m.cache[k]; ok {
		return value, nil
	}

	value, err := m.src.StorageAt(k)
	if err != nil {
		return nil, errors.Wrapf(ErrStateFetchFailed, "storage %s: %s", k.Value, err)
	}
	m.cache[k] = value
	return value, nil
}

// StateSource supplies on-demand lookups of live contract state.
// Implementations are expected to be safe for concurrent use.
type StateSource interface {
	// StorageAt returns the value stored at a concrete key.
	StorageAt(key *ConstantExpr) (*ConstantExpr, error)
}

// MapStateSource is an in-memory StateSource used for tests and for
// pre-seeded offline runs.
type MapStateSource struct {
	mu    sync.RWMutex
	slots map[string]*ConstantExpr
}

// NewMapStateSource returns an empty MapStateSource.
func NewMapStateSource() *MapStateSource {
	return &MapStateSource{slots: make(map[string]*ConstantExpr)}
}

// SetStorage seeds the value returned for key.
func (s *MapStateSource) SetStorage(key, value *ConstantExpr) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slots[key.Value.String()] = value
}

// StorageAt returns the seeded value for key, or zero.
func (s *MapStateSource) StorageAt(key *ConstantExpr) (*ConstantExpr, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if value, ok := s.slots[key.Value.String()]; ok {
		return value, nil
	}
	return NewConstantExpr256(0), nil
}
