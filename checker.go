package sevm

import (
	"context"

	"github.com/pkg/errors"
)

// Postcondition builds an assertion over a terminated state. The
// returned expression must be a predicate (width 1).
type Postcondition func(state *ExecutionState) (Expr, error)

// CheckOptions configures violation search and equivalence checking.
type CheckOptions struct {
	// Predicate is an additional assertion checked on every clean
	// leaf. A leaf where its negation is satisfiable is a violation.
	Predicate Postcondition

	// GetModels attaches a satisfying model and a rendered witness to
	// every finding.
	GetModels bool

	// Signature decodes witness calldata when set.
	Signature string

	// FirstOnly stops after the first finding.
	FirstOnly bool
}

// Violation is one feasible path to a rejected outcome.
type Violation struct {
	Leaf    *ExecutionState
	Kind    string // "invalid" or "assertion"
	Model   *Model
	Witness *Witness
}

// CheckReport summarizes a violation search.
type CheckReport struct {
	Leaves     []*ExecutionState
	Violations []*Violation

	// Statuses counts leaves by terminal status.
	Statuses map[ExecutionStatus]int

	// Exhaustive reports whether every path was fully decided. Any
	// undecided, bound-reached or failed leaf clears it, as does any
	// Unknown predicate query.
	Exhaustive bool
}

// FindViolations explores the program and reports every feasible path
// to an invalid halt, plus every clean leaf where the configured
// predicate can be violated.
func FindViolations(ctx context.Context, e *Executor, opt CheckOptions) (*CheckReport, error) {
	leaves, err := e.Run(ctx)
	if err != nil {
		return nil, err
	}

	report := &CheckReport{
		Leaves:     leaves,
		Statuses:   make(map[ExecutionStatus]int),
		Exhaustive: true,
	}

	for _, leaf := range leaves {
		report.Statuses[leaf.Status()]++

		switch leaf.Status() {
		case ExecutionStatusInvalid:
			v, err := e.invalidViolation(ctx, leaf, opt)
			if err != nil {
				return nil, err
			}
			report.Violations = append(report.Violations, v)

		case ExecutionStatusStopped, ExecutionStatusReturned:
			if opt.Predicate == nil {
				continue
			}
			v, decided, err := e.assertionViolation(ctx, leaf, opt)
			if err != nil {
				return nil, err
			}
			if !decided {
				report.Exhaustive = false
			}
			if v != nil {
				report.Violations = append(report.Violations, v)
			}

		case ExecutionStatusReverted:
			// Decided outcome; nothing to assert.

		default:
			report.Exhaustive = false
		}

		if opt.FirstOnly && len(report.Violations) > 0 {
			report.Exhaustive = false
			return report, nil
		}
	}
	return report, nil
}

// invalidViolation reports an invalid-halt leaf. Feasibility is already
// established by the forking solver queries; the model is only fetched
// when requested.
func (e *Executor) invalidViolation(ctx context.Context, leaf *ExecutionState, opt CheckOptions) (*Violation, error) {
	v := &Violation{Leaf: leaf, Kind: "invalid"}
	if !opt.GetModels {
		return v, nil
	}

	result, model, err := e.Solver.Solve(ctx, leaf.Constraints(), true)
	if err != nil {
		return nil, errors.Wrap(err, "solve violation model")
	} else if result == Sat {
		v.Model = model
		v.Witness = Synthesize(model, leaf, Config{Signature: opt.Signature})
	}
	return v, nil
}

// assertionViolation checks the predicate's negation on a clean leaf.
// decided is false when the solver could not answer.
func (e *Executor) assertionViolation(ctx context.Context, leaf *ExecutionState, opt CheckOptions) (_ *Violation, decided bool, _ error) {
	pred, err := opt.Predicate(leaf)
	if err != nil {
		return nil, false, errors.Wrapf(err, "predicate at leaf %d", leaf.ID())
	}

	constraints := AddConstraint(snapshot(leaf.Constraints()), NewIsZeroExpr(pred))
	result, model, err := e.Solver.Solve(ctx, constraints, opt.GetModels)
	if err != nil {
		return nil, false, errors.Wrap(err, "solve predicate negation")
	}

	switch result {
	case Unsat:
		return nil, true, nil
	case Unknown:
		return nil, false, nil
	}

	v := &Violation{Leaf: leaf, Kind: "assertion"}
	if opt.GetModels {
		v.Model = model
		v.Witness = Synthesize(model, leaf, Config{Signature: opt.Signature})
	}
	return v, true, nil
}

// ProveReport is the outcome of a postcondition proof.
type ProveReport struct {
	// Proved is true only when every clean leaf refutes the negated
	// postcondition and exploration was exhaustive.
	Proved bool

	Counterexamples []*Violation
	Leaves          []*ExecutionState
	Exhaustive      bool
}

// Prove attempts to prove that post holds on every clean halt of the
// program. An inexhaustive exploration can disprove but never prove.
func Prove(ctx context.Context, e *Executor, post Postcondition) (*ProveReport, error) {
	report, err := FindViolations(ctx, e, CheckOptions{
		Predicate: post,
		GetModels: true,
	})
	if err != nil {
		return nil, err
	}

	return &ProveReport{
		Proved:          report.Exhaustive && len(report.Violations) == 0,
		Counterexamples: report.Violations,
		Leaves:          report.Leaves,
		Exhaustive:      report.Exhaustive,
	}, nil
}

// Discrepancy is one jointly feasible behavior divergence between two
// programs.
type Discrepancy struct {
	A, B    *ExecutionState
	Kind    string // "halt", "return_data" or "storage"
	Model   *Model
	Witness *Witness
}

// EquivReport summarizes an equivalence check.
type EquivReport struct {
	// Equivalent is true only when no discrepancy was found and both
	// explorations were exhaustive.
	Equivalent bool

	Discrepancies []*Discrepancy
	LeavesA       []*ExecutionState
	LeavesB       []*ExecutionState
	Exhaustive    bool
}

// CheckEquivalence explores both programs under one shared symbolic
// environment and reports every jointly feasible pair of leaves whose
// outcomes diverge. The check is symmetric in its arguments.
func CheckEquivalence(ctx context.Context, ea, eb *Executor, opt CheckOptions) (*EquivReport, error) {
	// Both programs must see the same inputs and the same initial
	// storage for their leaf constraints to be comparable.
	eb.Env = ea.Env
	eb.Storage = ea.Storage

	leavesA, err := ea.Run(ctx)
	if err != nil {
		return nil, err
	}
	leavesB, err := eb.Run(ctx)
	if err != nil {
		return nil, err
	}

	report := &EquivReport{
		LeavesA:    leavesA,
		LeavesB:    leavesB,
		Exhaustive: true,
	}

	for _, la := range leavesA {
		if !comparableLeaf(la) {
			report.Exhaustive = false
			continue
		}
		for _, lb := range leavesB {
			if !comparableLeaf(lb) {
				report.Exhaustive = false
				continue
			}

			d, decided, err := ea.compareLeaves(ctx, la, lb, opt)
			if err != nil {
				return nil, err
			}
			if !decided {
				report.Exhaustive = false
			}
			if d != nil {
				report.Discrepancies = append(report.Discrepancies, d)
				if opt.FirstOnly {
					report.Exhaustive = false
					report.Equivalent = false
					return report, nil
				}
			}
		}
	}

	report.Equivalent = report.Exhaustive && len(report.Discrepancies) == 0
	return report, nil
}

// comparableLeaf reports whether a leaf carries a comparable outcome.
func comparableLeaf(leaf *ExecutionState) bool {
	switch leaf.Status() {
	case ExecutionStatusStopped, ExecutionStatusReturned, ExecutionStatusReverted, ExecutionStatusInvalid:
		return true
	default:
		return false
	}
}

// outcomeKind maps a terminal status to its observable halt class. A
// clean stop and a return are the same class; their data may still
// diverge.
func outcomeKind(status ExecutionStatus) string {
	switch status {
	case ExecutionStatusStopped, ExecutionStatusReturned:
		return "return"
	case ExecutionStatusReverted:
		return "revert"
	default:
		return "invalid"
	}
}

// compareLeaves checks one leaf pair for a jointly feasible divergence.
// decided is false when a solver query returned Unknown.
func (e *Executor) compareLeaves(ctx context.Context, la, lb *ExecutionState, opt CheckOptions) (_ *Discrepancy, decided bool, _ error) {
	joint := append(snapshot(la.Constraints()), lb.Constraints()...)

	result, _, err := e.Solver.Solve(ctx, joint, false)
	if err != nil {
		return nil, false, errors.Wrap(err, "solve joint feasibility")
	} else if result == Unsat {
		return nil, true, nil
	} else if result == Unknown {
		return nil, false, nil
	}

	// Different halt classes diverge outright under any joint model.
	if outcomeKind(la.Status()) != outcomeKind(lb.Status()) {
		d, err := e.newDiscrepancy(ctx, la, lb, "halt", joint, opt)
		return d, err == nil, err
	}

	if cond := dataDivergence(la.ReturnData(), lb.ReturnData()); cond != nil {
		d, decided, err := e.condDiscrepancy(ctx, la, lb, "return_data", joint, cond, opt)
		if d != nil || !decided || err != nil {
			return d, decided, err
		}
	}

	cond, err := storageDivergence(la, lb)
	if err != nil {
		return nil, false, err
	} else if cond != nil {
		return e.condDiscrepancy(ctx, la, lb, "storage", joint, cond, opt)
	}
	return nil, true, nil
}

// condDiscrepancy reports a discrepancy when cond is satisfiable under
// the joint constraints.
func (e *Executor) condDiscrepancy(ctx context.Context, la, lb *ExecutionState, kind string, joint []Expr, cond Expr, opt CheckOptions) (_ *Discrepancy, decided bool, _ error) {
	result, model, err := e.Solver.Solve(ctx, AddConstraint(snapshot(joint), cond), opt.GetModels)
	if err != nil {
		return nil, false, errors.Wrapf(err, "solve %s divergence", kind)
	}

	switch result {
	case Unsat:
		return nil, true, nil
	case Unknown:
		return nil, false, nil
	}

	d := &Discrepancy{A: la, B: lb, Kind: kind, Model: model}
	if opt.GetModels && model != nil {
		d.Witness = Synthesize(model, la, Config{Signature: opt.Signature})
	}
	return d, true, nil
}

// newDiscrepancy reports an unconditional divergence, fetching a joint
// model when requested.
func (e *Executor) newDiscrepancy(ctx context.Context, la, lb *ExecutionState, kind string, joint []Expr, opt CheckOptions) (*Discrepancy, error) {
	d := &Discrepancy{A: la, B: lb, Kind: kind}
	if !opt.GetModels {
		return d, nil
	}

	result, model, err := e.Solver.Solve(ctx, joint, true)
	if err != nil {
		return nil, errors.Wrap(err, "solve divergence model")
	} else if result == Sat {
		d.Model = model
		d.Witness = Synthesize(model, la, Config{Signature: opt.Signature})
	}
	return d, nil
}

// dataDivergence builds the predicate under which two return buffers
// differ, or nil when they are identical by construction.
func dataDivergence(a, b []Expr) Expr {
	if len(a) != len(b) {
		return NewBoolConstantExpr(true)
	}

	var cond Expr
	for i := range a {
		cond = orExpr(cond, NewBinaryExpr(NE, a[i], b[i]))
	}
	return cond
}

// storageDivergence builds the predicate under which the final storage
// of two leaves differs on the union of their written keys.
func storageDivergence(la, lb *ExecutionState) (Expr, error) {
	keys := la.WrittenKeys()
	keys = append(keys, lb.WrittenKeys()...)

	seen := make(map[Expr]struct{})
	var cond Expr
	for _, key := range keys {
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}

		va, err := la.StorageValue(key)
		if err != nil {
			return nil, err
		}
		vb, err := lb.StorageValue(key)
		if err != nil {
			return nil, err
		}
		if va == vb {
			continue
		}
		cond = orExpr(cond, NewBinaryExpr(NE, va, vb))
	}
	return cond, nil
}

// orExpr joins predicates with OR, treating nil and literal false as
// the empty predicate.
func orExpr(a, b Expr) Expr {
	if b == nil || IsConstantFalse(b) {
		return a
	} else if a == nil || IsConstantFalse(a) {
		return b
	}
	return NewBinaryExpr(OR, a, b)
}
