package sevm_test

import (
	"context"
	"testing"

	"github.com/benbjohnson/sevm"
)

// boundedPredicate asserts that an unrelated symbol stays below ten.
// Its negation keeps the solver in the loop so scripted results drive
// the outcome.
func boundedPredicate(state *sevm.ExecutionState) (sevm.Expr, error) {
	return sevm.NewBinaryExpr(sevm.ULT, sevm.NewSymbolExpr("x", 256), sevm.NewConstantExpr256(10)), nil
}

func TestFindViolations(t *testing.T) {
	t.Run("InvalidHalt", func(t *testing.T) {
		e := newTestExecutor(t, `
			PUSH1 0x01
			PUSH1 0x00
			JUMP
		`, &scriptSolver{}, sevm.Config{})

		report, err := sevm.FindViolations(context.Background(), e, sevm.CheckOptions{})
		if err != nil {
			t.Fatal(err)
		}
		if len(report.Violations) != 1 {
			t.Fatalf("unexpected violation count: %d", len(report.Violations))
		}
		if got, want := report.Violations[0].Kind, "invalid"; got != want {
			t.Fatalf("unexpected kind: %s", got)
		}
		if report.Violations[0].Model != nil {
			t.Fatal("unexpected model without GetModels")
		}
		if !report.Exhaustive {
			t.Fatal("expected exhaustive report")
		}
	})

	t.Run("InvalidHaltWithModel", func(t *testing.T) {
		e := newTestExecutor(t, `
			PUSH1 0x01
			PUSH1 0x00
			JUMP
		`, &scriptSolver{}, sevm.Config{})

		report, err := sevm.FindViolations(context.Background(), e, sevm.CheckOptions{GetModels: true})
		if err != nil {
			t.Fatal(err)
		}
		if len(report.Violations) != 1 {
			t.Fatalf("unexpected violation count: %d", len(report.Violations))
		}
		if report.Violations[0].Model == nil {
			t.Fatal("expected model")
		}
		if report.Violations[0].Witness == nil {
			t.Fatal("expected witness")
		}
	})

	t.Run("AssertionViolated", func(t *testing.T) {
		e := newTestExecutor(t, `STOP`, &scriptSolver{results: []sevm.Result{sevm.Sat}}, sevm.Config{})
		report, err := sevm.FindViolations(context.Background(), e, sevm.CheckOptions{Predicate: boundedPredicate})
		if err != nil {
			t.Fatal(err)
		}
		if len(report.Violations) != 1 {
			t.Fatalf("unexpected violation count: %d", len(report.Violations))
		}
		if got, want := report.Violations[0].Kind, "assertion"; got != want {
			t.Fatalf("unexpected kind: %s", got)
		}
		if !report.Exhaustive {
			t.Fatal("expected exhaustive report")
		}
	})

	t.Run("AssertionHolds", func(t *testing.T) {
		e := newTestExecutor(t, `STOP`, &scriptSolver{results: []sevm.Result{sevm.Unsat}}, sevm.Config{})
		report, err := sevm.FindViolations(context.Background(), e, sevm.CheckOptions{Predicate: boundedPredicate})
		if err != nil {
			t.Fatal(err)
		}
		if len(report.Violations) != 0 {
			t.Fatalf("unexpected violation count: %d", len(report.Violations))
		}
		if !report.Exhaustive {
			t.Fatal("expected exhaustive report")
		}
	})

	t.Run("AssertionUndecided", func(t *testing.T) {
		e := newTestExecutor(t, `STOP`, &scriptSolver{results: []sevm.Result{sevm.Unknown}}, sevm.Config{})
		report, err := sevm.FindViolations(context.Background(), e, sevm.CheckOptions{Predicate: boundedPredicate})
		if err != nil {
			t.Fatal(err)
		}
		if len(report.Violations) != 0 {
			t.Fatalf("unexpected violation count: %d", len(report.Violations))
		}
		if report.Exhaustive {
			t.Fatal("expected inexhaustive report")
		}
	})

	t.Run("FirstOnly", func(t *testing.T) {
		// The taken branch jumps into the middle of the code; the
		// fall-through halts cleanly.
		e := newTestExecutor(t, `
			PUSH1 0x00
			CALLDATALOAD
			PUSH1 0x07
			JUMPI
			STOP
		`, &scriptSolver{}, sevm.Config{})

		report, err := sevm.FindViolations(context.Background(), e, sevm.CheckOptions{FirstOnly: true})
		if err != nil {
			t.Fatal(err)
		}
		if len(report.Violations) != 1 {
			t.Fatalf("unexpected violation count: %d", len(report.Violations))
		}
		if report.Exhaustive {
			t.Fatal("expected inexhaustive report")
		}
	})
}

func TestProve(t *testing.T) {
	t.Run("Proved", func(t *testing.T) {
		e := newTestExecutor(t, `STOP`, &scriptSolver{results: []sevm.Result{sevm.Unsat}}, sevm.Config{})
		report, err := sevm.Prove(context.Background(), e, boundedPredicate)
		if err != nil {
			t.Fatal(err)
		}
		if !report.Proved {
			t.Fatal("expected proof")
		}
	})

	t.Run("Refuted", func(t *testing.T) {
		e := newTestExecutor(t, `STOP`, &scriptSolver{results: []sevm.Result{sevm.Sat}}, sevm.Config{})
		report, err := sevm.Prove(context.Background(), e, boundedPredicate)
		if err != nil {
			t.Fatal(err)
		}
		if report.Proved {
			t.Fatal("unexpected proof")
		}
		if len(report.Counterexamples) != 1 {
			t.Fatalf("unexpected counterexample count: %d", len(report.Counterexamples))
		}
		if report.Counterexamples[0].Witness == nil {
			t.Fatal("expected witness")
		}
	})

	t.Run("Inexhaustive", func(t *testing.T) {
		// A bound-cut path disproves nothing but blocks the proof.
		e := newTestExecutor(t, loopProgram, &scriptSolver{results: []sevm.Result{sevm.Sat, sevm.Sat, sevm.Sat, sevm.Sat, sevm.Unsat}}, sevm.Config{MaxIterations: 1})
		report, err := sevm.Prove(context.Background(), e, boundedPredicate)
		if err != nil {
			t.Fatal(err)
		}
		if report.Proved {
			t.Fatal("unexpected proof")
		}
		if len(report.Counterexamples) != 0 {
			t.Fatalf("unexpected counterexample count: %d", len(report.Counterexamples))
		}
		if report.Exhaustive {
			t.Fatal("expected inexhaustive report")
		}
	})
}

// returnConstProgram returns a single word of return data.
func returnConstProgram(value string) string {
	return `
		PUSH1 ` + value + `
		PUSH1 0x00
		MSTORE
		PUSH1 0x20
		PUSH1 0x00
		RETURN
	`
}

func TestCheckEquivalence(t *testing.T) {
	t.Run("Identical", func(t *testing.T) {
		solver := &scriptSolver{}
		ea := newTestExecutor(t, returnConstProgram("0x2a"), solver, sevm.Config{})
		eb := newTestExecutor(t, returnConstProgram("0x2a"), solver, sevm.Config{})

		report, err := sevm.CheckEquivalence(context.Background(), ea, eb, sevm.CheckOptions{})
		if err != nil {
			t.Fatal(err)
		}
		if !report.Equivalent {
			t.Fatal("expected equivalence")
		}
		if len(report.Discrepancies) != 0 {
			t.Fatalf("unexpected discrepancy count: %d", len(report.Discrepancies))
		}
	})

	t.Run("ReturnDataDiverges", func(t *testing.T) {
		solver := &scriptSolver{}
		ea := newTestExecutor(t, returnConstProgram("0x2a"), solver, sevm.Config{})
		eb := newTestExecutor(t, returnConstProgram("0x2b"), solver, sevm.Config{})

		report, err := sevm.CheckEquivalence(context.Background(), ea, eb, sevm.CheckOptions{})
		if err != nil {
			t.Fatal(err)
		}
		if report.Equivalent {
			t.Fatal("unexpected equivalence")
		}
		if len(report.Discrepancies) != 1 {
			t.Fatalf("unexpected discrepancy count: %d", len(report.Discrepancies))
		}
		if got, want := report.Discrepancies[0].Kind, "return_data"; got != want {
			t.Fatalf("unexpected kind: %s", got)
		}
	})

	t.Run("HaltDiverges", func(t *testing.T) {
		solver := &scriptSolver{}
		ea := newTestExecutor(t, `STOP`, solver, sevm.Config{})
		eb := newTestExecutor(t, `
			PUSH1 0x00
			PUSH1 0x00
			REVERT
		`, solver, sevm.Config{})

		report, err := sevm.CheckEquivalence(context.Background(), ea, eb, sevm.CheckOptions{})
		if err != nil {
			t.Fatal(err)
		}
		if len(report.Discrepancies) != 1 {
			t.Fatalf("unexpected discrepancy count: %d", len(report.Discrepancies))
		}
		if got, want := report.Discrepancies[0].Kind, "halt"; got != want {
			t.Fatalf("unexpected kind: %s", got)
		}
	})

	t.Run("Symmetric", func(t *testing.T) {
		solver := &scriptSolver{}
		ea := newTestExecutor(t, returnConstProgram("0x2a"), solver, sevm.Config{})
		eb := newTestExecutor(t, returnConstProgram("0x2b"), solver, sevm.Config{})

		report, err := sevm.CheckEquivalence(context.Background(), eb, ea, sevm.CheckOptions{})
		if err != nil {
			t.Fatal(err)
		}
		if report.Equivalent {
			t.Fatal("unexpected equivalence")
		}
		if len(report.Discrepancies) != 1 {
			t.Fatalf("unexpected discrepancy count: %d", len(report.Discrepancies))
		}
	})
}
