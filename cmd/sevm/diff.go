package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/benbjohnson/sevm"
	"github.com/benbjohnson/sevm/z3"
	"github.com/davecgh/go-spew/spew"
)

// DiffCommand represents a command for checking two programs for
// behavioral equivalence.
type DiffCommand struct{}

// NewDiffCommand returns a new instance of DiffCommand.
func NewDiffCommand() *DiffCommand {
	return &DiffCommand{}
}

// Run executes the "diff" subcommand.
func (cmd *DiffCommand) Run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("sevm-diff", flag.ContinueOnError)
	maxIterations := fs.Int("max-iterations", sevm.DefaultMaxIterations, "branch revisit bound")
	timeout := fs.Duration("timeout", sevm.DefaultSolverTimeout, "per-query solver timeout")
	storage := fs.String("storage", sevm.StorageModelSymbolic, "storage model")
	models := fs.Bool("models", false, "attach concrete witnesses to findings")
	sig := fs.String("sig", "", "function signature shaping calldata")
	gas := fs.Uint64("gas", sevm.DefaultGas, "gas budget")
	first := fs.Bool("first", false, "stop at the first discrepancy")
	verbose := fs.Bool("v", false, "verbose")
	fs.Usage = cmd.usage
	if err := fs.Parse(args); err != nil {
		return err
	} else if fs.NArg() != 2 {
		return fmt.Errorf("two program files required")
	}

	opt := sevm.Config{
		MaxIterations: *maxIterations,
		SolverTimeout: *timeout,
		StorageModel:  *storage,
		GetModels:     *models,
		Signature:     *sig,
		Gas:           *gas,
	}

	solver := z3.NewSolver()
	solver.Timeout = opt.SolverTimeout
	logger := newLogger(*verbose)

	executors := make([]*sevm.Executor, 2)
	for i := 0; i < 2; i++ {
		prog, err := loadProgram(fs.Arg(i))
		if err != nil {
			return err
		}
		e, err := sevm.NewExecutor(prog, opt)
		if err != nil {
			return err
		}
		e.Solver = solver
		e.Logger = logger
		executors[i] = e
	}

	report, err := sevm.CheckEquivalence(ctx, executors[0], executors[1], sevm.CheckOptions{
		GetModels: opt.GetModels,
		Signature: opt.Signature,
		FirstOnly: *first,
	})
	if err != nil {
		return err
	}

	for _, d := range report.Discrepancies {
		entry := logger.WithField("kind", d.Kind).
			WithField("leaf_a", d.A.ID()).
			WithField("leaf_b", d.B.ID()).
			WithField("status_a", d.A.Status()).
			WithField("status_b", d.B.Status())
		if d.Witness != nil {
			entry = entry.WithField("calldata", d.Witness.Calldata)
		}
		entry.Warn("discrepancy")

		if *verbose && d.Witness != nil {
			spew.Fdump(os.Stderr, d.Witness)
		}
	}

	fmt.Printf("equivalent=%v discrepancies=%d exhaustive=%v\n",
		report.Equivalent, len(report.Discrepancies), report.Exhaustive)

	if len(report.Discrepancies) > 0 {
		return fmt.Errorf("found %d discrepancy(ies)", len(report.Discrepancies))
	}
	return nil
}

func (cmd *DiffCommand) usage() {
	fmt.Fprintln(os.Stderr, `
usage: sevm diff [arguments] <program-a> <program-b>

Explores both programs under one shared symbolic environment and
reports every jointly feasible pair of paths whose outcomes diverge.

Arguments:

	-max-iterations N
	    Branch revisit bound per path and location.

	-timeout D
	    Per-query solver timeout.

	-storage MODEL
	    Initial storage model: symbolic, initial-zero or concrete.

	-models
	    Attach concrete witnesses to discrepancies.

	-sig SIGNATURE
	    Shape calldata for one function, e.g. "add(uint256,uint256)".

	-gas N
	    Gas budget per run.

	-first
	    Stop at the first discrepancy.

	-v
	    Enable verbose logging.
`[1:])
}
