package sevm

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// Standard widths.
const (
	WidthBool = 1
	Width8    = 8
	Width160  = 160
	Width256  = 256
)

// StackLimit is the maximum operand stack depth.
const StackLimit = 1024

// General errors.
var (
	ErrNoStateAvailable = errors.New("sevm: no state available")
	ErrInfeasiblePath   = errors.New("sevm: infeasible path reached")

	ErrStackUnderflow = errors.New("sevm: stack underflow")
	ErrStackOverflow  = errors.New("sevm: stack overflow")

	ErrUnsupportedSymbolicAddress     = errors.New("sevm: unsupported symbolic address")
	ErrUnresolvedCallTarget           = errors.New("sevm: unresolved call target")
	ErrUnsupportedSymbolicStorageRead = errors.New("sevm: unsupported symbolic storage read")
	ErrStateFetchFailed               = errors.New("sevm: state fetch failed")
)

// IsPathError returns true if err only abandons the current path.
// Path errors mark the state as failed; all other errors abort the run.
func IsPathError(err error) bool {
	switch errors.Cause(err) {
	case ErrStackUnderflow,
		ErrStackOverflow,
		ErrUnsupportedSymbolicAddress,
		ErrUnresolvedCallTarget,
		ErrUnsupportedSymbolicStorageRead,
		ErrStateFetchFailed:
		return true
	default:
		return false
	}
}

// Result is the outcome of a satisfiability query.
type Result int

const (
	// Unknown means the solver could not decide within its limits.
	Unknown Result = iota

	// Unsat means no assignment satisfies the constraints.
	Unsat

	// Sat means at least one assignment satisfies the constraints.
	Sat
)

func (r Result) String() string {
	switch r {
	case Unsat:
		return "unsat"
	case Sat:
		return "sat"
	default:
		return "unknown"
	}
}

// Solver answers satisfiability queries over constraint sets.
//
// Each call is independent of every other call. A model is only
// returned when the result is Sat and wantModel was set.
type Solver interface {
	Solve(ctx context.Context, constraints []Expr, wantModel bool) (Result, *Model, error)
}

// Storage model names accepted by NewStorageModel.
const (
	StorageModelSymbolic    = "symbolic"
	StorageModelInitialZero = "initial-zero"
	StorageModelConcrete    = "concrete"
)

// Default execution limits.
const (
	DefaultMaxIterations = 8
	DefaultGas           = uint64(10000000)
	DefaultSolverTimeout = 10 * time.Second
)

// Config holds the tunable parameters of an analysis run.
type Config struct {
	// MaxIterations bounds how many times a single branch location may
	// fork along one path before it is cut off as a bound-reached leaf.
	MaxIterations int

	// BoundGlobal counts branch revisits across all paths instead of
	// per path.
	BoundGlobal bool

	// SolverTimeout is the per-query time limit. A query past the limit
	// reports Unknown.
	SolverTimeout time.Duration

	// StorageModel selects how reads of unwritten storage slots resolve.
	// One of "symbolic", "initial-zero" or "concrete".
	StorageModel string

	// GetModels requests a concrete witness for every reported outcome.
	GetModels bool

	// Signature is the function signature used to shape calldata and to
	// decode witness models, e.g. "transfer(address,uint256)".
	Signature string

	// Gas is the initial gas budget of each run.
	Gas uint64
}

// DefaultConfig returns a Config with all limits set to their defaults.
func DefaultConfig() Config {
	return Config{
		MaxIterations: DefaultMaxIterations,
		SolverTimeout: DefaultSolverTimeout,
		StorageModel:  StorageModelSymbolic,
		Gas:           DefaultGas,
	}
}

// assert panics if condition is false.
func assert(condition bool, format string, args ...interface{}) {
	if !condition {
		panic(fmt.Sprintf("assert: "+format, args...))
	}
}
