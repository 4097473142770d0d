package sevm_test

import (
	"context"
	"strings"
	"testing"

	"github.com/benbjohnson/sevm"
	"github.com/pkg/errors"
)

// scriptSolver answers queries from a fixed script and falls back to
// Sat once the script runs out. Queries arrive in a deterministic
// order: for each fork, the true branch is solved first.
type scriptSolver struct {
	results []sevm.Result
	calls   int
}

func (s *scriptSolver) Solve(ctx context.Context, constraints []sevm.Expr, wantModel bool) (sevm.Result, *sevm.Model, error) {
	s.calls++
	result := sevm.Sat
	if len(s.results) > 0 {
		result, s.results = s.results[0], s.results[1:]
	}
	if result == sevm.Sat && wantModel {
		return result, sevm.NewModel(), nil
	}
	return result, nil, nil
}

// newTestExecutor assembles src and returns an executor over it.
func newTestExecutor(t testing.TB, src string, solver sevm.Solver, opt sevm.Config) *sevm.Executor {
	t.Helper()
	prog, err := sevm.NewProgram(sevm.MustAssemble(src))
	if err != nil {
		t.Fatal(err)
	}
	e, err := sevm.NewExecutor(prog, opt)
	if err != nil {
		t.Fatal(err)
	}
	e.Solver = solver
	return e
}

// statusCounts tallies leaves by status.
func statusCounts(leaves []*sevm.ExecutionState) map[sevm.ExecutionStatus]int {
	m := make(map[sevm.ExecutionStatus]int)
	for _, leaf := range leaves {
		m[leaf.Status()]++
	}
	return m
}

func TestExecutor_Run_Linear(t *testing.T) {
	solver := &scriptSolver{}
	e := newTestExecutor(t, `
		PUSH1 0x2a
		PUSH1 0x00
		MSTORE
		PUSH1 0x20
		PUSH1 0x00
		RETURN
	`, solver, sevm.Config{})

	leaves, err := e.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(leaves) != 1 {
		t.Fatalf("unexpected leaf count: %d", len(leaves))
	}
	if got, want := leaves[0].Status(), sevm.ExecutionStatusReturned; got != want {
		t.Fatalf("unexpected status: %s", got)
	}

	if word, ok := leaves[0].ReturnWord(); !ok {
		t.Fatal("expected return data")
	} else if word != sevm.NewConstantExpr256(0x2a) {
		t.Fatalf("unexpected return word: %s", word)
	}

	// A straight-line program never consults the solver.
	if solver.calls != 0 {
		t.Fatalf("unexpected solver calls: %d", solver.calls)
	}
}

// branchProgram jumps to a clean stop when the first calldata word is
// nonzero and reverts otherwise.
const branchProgram = `
	PUSH1 0x00
	CALLDATALOAD
	PUSH1 @ok
	JUMPI
	PUSH1 0x00
	PUSH1 0x00
	REVERT
ok:
	JUMPDEST
	STOP
`

func TestExecutor_Run_Fork(t *testing.T) {
	t.Run("BothFeasible", func(t *testing.T) {
		e := newTestExecutor(t, branchProgram, &scriptSolver{}, sevm.Config{})
		leaves, err := e.Run(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if len(leaves) != 2 {
			t.Fatalf("unexpected leaf count: %d", len(leaves))
		}

		// Children come in canonical order: condition-true first.
		children := e.RootState().Children()
		if got, want := children[0].Status(), sevm.ExecutionStatusStopped; got != want {
			t.Fatalf("unexpected true-branch status: %s", got)
		}
		if got, want := children[1].Status(), sevm.ExecutionStatusReverted; got != want {
			t.Fatalf("unexpected false-branch status: %s", got)
		}

		// Each child carries exactly its branch constraint.
		if n := len(children[0].Constraints()); n != 1 {
			t.Fatalf("unexpected constraint count: %d", n)
		}
	})

	t.Run("TrueSideUnreachable", func(t *testing.T) {
		e := newTestExecutor(t, branchProgram, &scriptSolver{results: []sevm.Result{sevm.Unsat, sevm.Sat}}, sevm.Config{})
		leaves, err := e.Run(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if len(leaves) != 1 {
			t.Fatalf("unexpected leaf count: %d", len(leaves))
		}
		if got, want := leaves[0].Status(), sevm.ExecutionStatusReverted; got != want {
			t.Fatalf("unexpected status: %s", got)
		}
	})

	t.Run("FalseSideUnreachable", func(t *testing.T) {
		e := newTestExecutor(t, branchProgram, &scriptSolver{results: []sevm.Result{sevm.Sat, sevm.Unsat}}, sevm.Config{})
		leaves, err := e.Run(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if len(leaves) != 1 {
			t.Fatalf("unexpected leaf count: %d", len(leaves))
		}
		if got, want := leaves[0].Status(), sevm.ExecutionStatusStopped; got != want {
			t.Fatalf("unexpected status: %s", got)
		}
	})

	t.Run("BothUnreachable", func(t *testing.T) {
		e := newTestExecutor(t, branchProgram, &scriptSolver{results: []sevm.Result{sevm.Unsat, sevm.Unsat}}, sevm.Config{})
		if _, err := e.Run(context.Background()); errors.Cause(err) != sevm.ErrInfeasiblePath {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("Undecided", func(t *testing.T) {
		e := newTestExecutor(t, branchProgram, &scriptSolver{results: []sevm.Result{sevm.Unknown, sevm.Sat}}, sevm.Config{})
		leaves, err := e.Run(context.Background())
		if err != nil {
			t.Fatal(err)
		}

		counts := statusCounts(leaves)
		if counts[sevm.ExecutionStatusUndecided] != 1 {
			t.Fatalf("unexpected statuses: %v", counts)
		}
		if counts[sevm.ExecutionStatusReverted] != 1 {
			t.Fatalf("unexpected statuses: %v", counts)
		}
	})
}

// loopProgram loops while the first calldata word is nonzero.
const loopProgram = `
loop:
	JUMPDEST
	PUSH1 0x00
	CALLDATALOAD
	PUSH1 @loop
	JUMPI
	STOP
`

func TestExecutor_Run_Bound(t *testing.T) {
	t.Run("PerPath", func(t *testing.T) {
		e := newTestExecutor(t, loopProgram, &scriptSolver{}, sevm.Config{MaxIterations: 2})
		leaves, err := e.Run(context.Background())
		if err != nil {
			t.Fatal(err)
		}

		counts := statusCounts(leaves)
		if counts[sevm.ExecutionStatusStopped] != 2 {
			t.Fatalf("unexpected statuses: %v", counts)
		}
		if counts[sevm.ExecutionStatusBoundReached] != 2 {
			t.Fatalf("unexpected statuses: %v", counts)
		}
		if len(leaves) != 4 {
			t.Fatalf("unexpected leaf count: %d", len(leaves))
		}
	})

	t.Run("Global", func(t *testing.T) {
		e := newTestExecutor(t, loopProgram, &scriptSolver{}, sevm.Config{MaxIterations: 2, BoundGlobal: true})
		leaves, err := e.Run(context.Background())
		if err != nil {
			t.Fatal(err)
		}

		// The shared counter cuts exploration off sooner than the
		// per-path counters would.
		counts := statusCounts(leaves)
		if counts[sevm.ExecutionStatusStopped] != 1 {
			t.Fatalf("unexpected statuses: %v", counts)
		}
		if counts[sevm.ExecutionStatusBoundReached] != 2 {
			t.Fatalf("unexpected statuses: %v", counts)
		}
	})
}

func TestExecutor_Run_PathError(t *testing.T) {
	t.Run("SymbolicJumpTarget", func(t *testing.T) {
		e := newTestExecutor(t, `
			PUSH1 0x00
			CALLDATALOAD
			JUMP
		`, &scriptSolver{}, sevm.Config{})

		leaves, err := e.Run(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if got, want := leaves[0].Status(), sevm.ExecutionStatusFailed; got != want {
			t.Fatalf("unexpected status: %s", got)
		}
		if !strings.Contains(leaves[0].Reason(), "symbolic address") {
			t.Fatalf("unexpected reason: %s", leaves[0].Reason())
		}
	})

	t.Run("SymbolicMemoryOffset", func(t *testing.T) {
		e := newTestExecutor(t, `
			PUSH1 0x00
			CALLDATALOAD
			MLOAD
		`, &scriptSolver{}, sevm.Config{})

		leaves, err := e.Run(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if got, want := leaves[0].Status(), sevm.ExecutionStatusFailed; got != want {
			t.Fatalf("unexpected status: %s", got)
		}
		if !strings.Contains(leaves[0].Reason(), "symbolic address") {
			t.Fatalf("unexpected reason: %s", leaves[0].Reason())
		}
	})

	t.Run("UnresolvedCall", func(t *testing.T) {
		e := newTestExecutor(t, `
			PUSH1 0x00
			PUSH1 0x00
			PUSH1 0x00
			PUSH1 0x00
			PUSH1 0x00
			PUSH1 0x00
			PUSH1 0x00
			CALL
		`, &scriptSolver{}, sevm.Config{})

		leaves, err := e.Run(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if got, want := leaves[0].Status(), sevm.ExecutionStatusFailed; got != want {
			t.Fatalf("unexpected status: %s", got)
		}
	})

	t.Run("StackUnderflow", func(t *testing.T) {
		e := newTestExecutor(t, `ADD`, &scriptSolver{}, sevm.Config{})
		leaves, err := e.Run(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if got, want := leaves[0].Status(), sevm.ExecutionStatusFailed; got != want {
			t.Fatalf("unexpected status: %s", got)
		}
	})
}

func TestExecutor_Run_InvalidJump(t *testing.T) {
	// A literal jump to a non-JUMPDEST is an exceptional halt, not an
	// error.
	e := newTestExecutor(t, `
		PUSH1 0x01
		PUSH1 0x00
		JUMP
	`, &scriptSolver{}, sevm.Config{})

	leaves, err := e.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got, want := leaves[0].Status(), sevm.ExecutionStatusInvalid; got != want {
		t.Fatalf("unexpected status: %s", got)
	}
}

func TestExecutor_Run_OutOfGas(t *testing.T) {
	t.Run("BudgetExhausted", func(t *testing.T) {
		e := newTestExecutor(t, `
			PUSH1 0x01
			PUSH1 0x02
			ADD
			STOP
		`, &scriptSolver{}, sevm.Config{Gas: 5})

		leaves, err := e.Run(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if got, want := leaves[0].Status(), sevm.ExecutionStatusOutOfGas; got != want {
			t.Fatalf("unexpected status: %s", got)
		}
	})

	t.Run("MemoryOffsetNearAddressLimit", func(t *testing.T) {
		// The word at this offset ends past 2^64; the expansion cost
		// must exhaust the budget rather than wrap around.
		e := newTestExecutor(t, `
			PUSH8 0xfffffffffffffff8
			MLOAD
			STOP
		`, &scriptSolver{}, sevm.Config{})

		leaves, err := e.Run(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if got, want := leaves[0].Status(), sevm.ExecutionStatusOutOfGas; got != want {
			t.Fatalf("unexpected status: %s", got)
		}
	})
}

func TestExecutor_ExecuteNextState(t *testing.T) {
	t.Run("ErrNoStateAvailable", func(t *testing.T) {
		e := newTestExecutor(t, `STOP`, &scriptSolver{}, sevm.Config{})
		if _, err := e.ExecuteNextState(context.Background()); err != nil {
			t.Fatal(err)
		}
		if _, err := e.ExecuteNextState(context.Background()); err != sevm.ErrNoStateAvailable {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("SolverRequired", func(t *testing.T) {
		e := newTestExecutor(t, `STOP`, nil, sevm.Config{})
		if _, err := e.ExecuteNextState(context.Background()); err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestExecutor_Run_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e := newTestExecutor(t, `STOP`, &scriptSolver{}, sevm.Config{})
	if _, err := e.Run(ctx); err != context.Canceled {
		t.Fatalf("unexpected error: %v", err)
	}
}
