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

// CheckCommand represents a command for searching a program for
// feasible violations.
type CheckCommand struct{}

// NewCheckCommand returns a new instance of CheckCommand.
func NewCheckCommand() *CheckCommand {
	return &CheckCommand{}
}

// Run executes the "check" subcommand.
func (cmd *CheckCommand) Run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("sevm-check", flag.ContinueOnError)
	maxIterations := fs.Int("max-iterations", sevm.DefaultMaxIterations, "branch revisit bound")
	timeout := fs.Duration("timeout", sevm.DefaultSolverTimeout, "per-query solver timeout")
	storage := fs.String("storage", sevm.StorageModelSymbolic, "storage model")
	models := fs.Bool("models", false, "attach concrete witnesses to findings")
	sig := fs.String("sig", "", "function signature shaping calldata")
	gas := fs.Uint64("gas", sevm.DefaultGas, "gas budget")
	first := fs.Bool("first", false, "stop at the first violation")
	verbose := fs.Bool("v", false, "verbose")
	fs.Usage = cmd.usage
	if err := fs.Parse(args); err != nil {
		return err
	} else if fs.NArg() == 0 {
		return fmt.Errorf("program file required")
	} else if fs.NArg() > 1 {
		return fmt.Errorf("too many program files specified")
	}

	prog, err := loadProgram(fs.Arg(0))
	if err != nil {
		return err
	}

	opt := sevm.Config{
		MaxIterations: *maxIterations,
		SolverTimeout: *timeout,
		StorageModel:  *storage,
		GetModels:     *models,
		Signature:     *sig,
		Gas:           *gas,
	}

	e, err := sevm.NewExecutor(prog, opt)
	if err != nil {
		return err
	}

	solver := z3.NewSolver()
	solver.Timeout = opt.SolverTimeout
	e.Solver = solver

	logger := newLogger(*verbose)
	e.Logger = logger

	report, err := sevm.FindViolations(ctx, e, sevm.CheckOptions{
		GetModels: opt.GetModels,
		Signature: opt.Signature,
		FirstOnly: *first,
	})
	if err != nil {
		return err
	}

	for _, v := range report.Violations {
		entry := logger.WithField("leaf", v.Leaf.ID()).
			WithField("kind", v.Kind).
			WithField("pc", fmt.Sprintf("%#x", v.Leaf.PC()))
		if v.Witness != nil {
			entry = entry.WithField("caller", v.Witness.Caller).
				WithField("callvalue", v.Witness.CallValue).
				WithField("calldata", v.Witness.Calldata)
		}
		entry.Warn("violation")

		if *verbose && v.Witness != nil {
			spew.Fdump(os.Stderr, v.Witness)
		}
	}

	for status, n := range report.Statuses {
		logger.Infof("leaves %s=%d", status, n)
	}
	fmt.Printf("leaves=%d violations=%d exhaustive=%v\n",
		len(report.Leaves), len(report.Violations), report.Exhaustive)
	fmt.Printf("solver queries=%d time=%s\n", solver.Stats().SolveN, solver.Stats().SolveTime)

	if len(report.Violations) > 0 {
		return fmt.Errorf("found %d violation(s)", len(report.Violations))
	}
	return nil
}

func (cmd *CheckCommand) usage() {
	fmt.Fprintln(os.Stderr, `
usage: sevm check [arguments] <program>

Searches every feasible path of a program for invalid halts. The
program file holds hex bytecode, or mnemonic text when named "*.asm".

Arguments:

	-max-iterations N
	    Branch revisit bound per path and location.

	-timeout D
	    Per-query solver timeout.

	-storage MODEL
	    Initial storage model: symbolic, initial-zero or concrete.

	-models
	    Attach concrete witnesses to findings.

	-sig SIGNATURE
	    Shape calldata for one function, e.g. "add(uint256,uint256)".

	-gas N
	    Gas budget per run.

	-first
	    Stop at the first violation.

	-v
	    Enable verbose logging.
`[1:])
}
