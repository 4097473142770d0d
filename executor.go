package sevm

import (
	"context"
	"io"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Executor explores the execution tree of a program. Each branch whose
// condition depends on symbolic data is decided by the solver and may
// fork the current state into two continuations.
type Executor struct {
	prog       *Program
	root       *ExecutionState
	stateIDSeq int

	// Shared revisit counters, used only when BoundGlobal is set.
	globalVisits map[uint64]int

	// Used for deciding branch feasibility.
	// Must set before execution.
	Solver Solver

	// Search strategy for the executor. Defaults to depth-first.
	Searcher Searcher

	// Logger receives per-step diagnostics. Defaults to a discard logger.
	Logger logrus.FieldLogger

	// Environment registers shared by every state of the run.
	Env *Env

	// Initial values for storage slots never written on a path.
	Storage StorageModel

	// Maximum branch revisits per location before a path is cut off.
	MaxIterations int

	// BoundGlobal counts revisits across the whole tree rather than
	// per path.
	BoundGlobal bool

	// Gas is the budget each run starts with.
	Gas uint64
}

// NewExecutor returns an executor over prog configured by opt.
// The Solver field must be set before execution.
func NewExecutor(prog *Program, opt Config) (*Executor, error) {
	storage, err := NewStorageModel(defaultString(opt.StorageModel, StorageModelSymbolic))
	if err != nil {
		return nil, err
	}

	env := NewEnv()
	if opt.Signature != "" {
		if err := env.SetSignature(opt.Signature); err != nil {
			return nil, err
		}
	}

	e := &Executor{
		prog:         prog,
		globalVisits: make(map[uint64]int),

		Searcher: NewDFSSearcher(),
		Logger:   discardLogger(),
		Env:      env,
		Storage:  storage,

		MaxIterations: defaultInt(opt.MaxIterations, DefaultMaxIterations),
		BoundGlobal:   opt.BoundGlobal,
		Gas:           defaultUint64(opt.Gas, DefaultGas),
	}

	// Initialize entry state.
	e.root = NewExecutionState(e)
	e.root.id = e.nextStateID()
	e.Searcher.AddState(e.root)

	return e, nil
}

// Program returns the program under execution.
func (e *Executor) Program() *Program { return e.prog }

// RootState returns the initial state of the run.
func (e *Executor) RootState() *ExecutionState { return e.root }

// nextStateID returns the next autoincrementing state ID.
func (e *Executor) nextStateID() int {
	e.stateIDSeq++
	return e.stateIDSeq
}

// Run drains the work list and returns every leaf of the execution
// tree. The context is checked between states; cancelling it abandons
// outstanding work.
func (e *Executor) Run(ctx context.Context) ([]*ExecutionState, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		if _, err := e.ExecuteNextState(ctx); errors.Cause(err) == ErrNoStateAvailable {
			break
		} else if err != nil {
			return nil, err
		}
	}
	return e.root.Leaves(), nil
}

// ExecuteNextState executes the next available state up to its next
// branch point or terminal instruction. This can be called continually
// until ErrNoStateAvailable is returned.
func (e *Executor) ExecuteNextState(ctx context.Context) (*ExecutionState, error) {
	if e.Solver == nil {
		return nil, errors.New("sevm: solver required")
	}

	state := e.Searcher.SelectState()
	if state == nil {
		return nil, ErrNoStateAvailable
	}

	e.Logger.Debugf("[state] begin: id=%d pc=%#x", state.ID(), state.PC())

	for !state.Terminated() {
		sig, err := e.step(state)
		if err != nil {
			if !IsPathError(err) {
				return state, err
			}
			e.Logger.Debugf("[path] abandoned: id=%d pc=%#x err=%s", state.ID(), state.PC(), err)
			state.fail(err)
			break
		}
		if sig != nil {
			return state, e.fork(ctx, state, sig)
		}
	}

	e.Logger.Debugf("[leaf] id=%d status=%s", state.ID(), state.Status())
	return state, nil
}

// fork decides the feasibility of both branch successors and forks
// state accordingly. The true branch is always the first child.
func (e *Executor) fork(ctx context.Context, state *ExecutionState, sig *branchSignal) error {
	cond, notCond := sig.cond, NewIsZeroExpr(sig.cond)

	trueResult, _, err := e.Solver.Solve(ctx, AddConstraint(snapshot(state.constraints), cond), false)
	if err != nil {
		return errors.Wrapf(err, "solve true branch at %#x", sig.location)
	}
	falseResult, _, err := e.Solver.Solve(ctx, AddConstraint(snapshot(state.constraints), notCond), false)
	if err != nil {
		return errors.Wrapf(err, "solve false branch at %#x", sig.location)
	}

	// An unsatisfiable parent means this state should never have been
	// reached. Surface it instead of silently dropping the subtree.
	if trueResult == Unsat && falseResult == Unsat {
		return errors.Wrapf(ErrInfeasiblePath, "branch at %#x", sig.location)
	}

	bothSat := trueResult == Sat && falseResult == Sat

	// Canonical child order: condition-true first.
	trueChild := e.forkChild(state, sig, cond, sig.truePC, trueResult, bothSat, true)
	falseChild := e.forkChild(state, sig, notCond, sig.falsePC, falseResult, bothSat, false)

	// Enqueue false before true so depth-first search explores the
	// true branch first.
	if falseChild != nil {
		e.Searcher.AddState(falseChild)
	}
	if trueChild != nil {
		e.Searcher.AddState(trueChild)
	}
	return nil
}

// forkChild creates one branch successor. It returns the child when it
// should be enqueued for further exploration and nil when the child is
// infeasible or became a leaf.
func (e *Executor) forkChild(state *ExecutionState, sig *branchSignal, cond Expr, pc uint64, result Result, bothSat, taken bool) *ExecutionState {
	if result == Unsat {
		return nil
	}

	child := state.Fork(cond)
	child.id = e.nextStateID()
	child.pc = pc

	// A timed-out query leaves the branch undecided: the leaf is
	// reported but never claimed proven or refuted.
	if result == Unknown {
		e.Logger.Debugf("[fork] undecided: id=%d pc=%#x", child.ID(), pc)
		child.halt(ExecutionStatusUndecided, "solver unknown")
		return nil
	}

	// Both sides feasible at this location: count the revisit and cut
	// the path off once the bound is exceeded.
	if bothSat {
		if n := child.incrementVisits(sig.location); n > e.MaxIterations {
			e.Logger.Debugf("[fork] bound reached: id=%d location=%#x n=%d", child.ID(), sig.location, n)
			child.halt(ExecutionStatusBoundReached, "max iterations exceeded")
			return nil
		}
	}

	// A taken conditional jump must land on a JUMPDEST.
	if taken && !e.prog.IsJumpDest(pc) {
		child.halt(ExecutionStatusInvalid, "jump to invalid destination")
		return nil
	}

	e.Logger.Debugf("[fork] id=%d pc=%#x cond=%s", child.ID(), pc, cond)
	return child
}

// snapshot returns a copy of constraints safe to extend.
func snapshot(constraints []Expr) []Expr {
	a := make([]Expr, len(constraints))
	copy(a, constraints)
	return a
}

func defaultInt(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func defaultUint64(v, def uint64) uint64 {
	if v == 0 {
		return def
	}
	return v
}

func defaultString(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// discardLogger returns a logger that drops all output.
func discardLogger() logrus.FieldLogger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// Searcher represents a strategy for finding the next execution state to execute.
type Searcher interface {
	// Returns the next state to explore.
	SelectState() *ExecutionState

	// Adds states to the current searcher.
	AddState(state *ExecutionState)
}

// DFSSearcher represents a searcher with a depth-first search strategy.
type DFSSearcher struct {
	states []*ExecutionState
}

// NewDFSSearcher returns a new instance of DFSSearcher.
func NewDFSSearcher() *DFSSearcher {
	return &DFSSearcher{}
}

// SelectState returns the next execution state to explore.
func (s *DFSSearcher) SelectState() *ExecutionState {
	if len(s.states) == 0 {
		return nil
	}
	state := s.states[len(s.states)-1]
	s.states = s.states[:len(s.states)-1]
	return state
}

// AddState adds a new state to the searcher.
func (s *DFSSearcher) AddState(state *ExecutionState) {
	s.states = append(s.states, state)
}

// BFSSearcher represents a searcher with a breadth-first search strategy.
type BFSSearcher struct {
	states []*ExecutionState
}

// NewBFSSearcher returns a new instance of BFSSearcher.
func NewBFSSearcher() *BFSSearcher {
	return &BFSSearcher{}
}

// SelectState returns the next execution state to explore.
func (s *BFSSearcher) SelectState() *ExecutionState {
	if len(s.states) == 0 {
		return nil
	}
	state := s.states[0]
	s.states = s.states[1:]
	return state
}

// AddState adds a new state to the searcher.
func (s *BFSSearcher) AddState(state *ExecutionState) {
	s.states = append(s.states, state)
}
