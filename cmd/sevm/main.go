package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/benbjohnson/sevm"
	"github.com/sirupsen/logrus"
)

func main() {
	if err := run(context.Background(), os.Args[1:]); err == flag.ErrHelp {
		os.Exit(1)
	} else if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	var cmd string
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "", "-h", "--help", "help":
		usage()
		return flag.ErrHelp
	case "check":
		return NewCheckCommand().Run(ctx, args)
	case "diff":
		return NewDiffCommand().Run(ctx, args)
	case "asm":
		return NewAsmCommand().Run(ctx, args)
	case "disasm":
		return NewDisasmCommand().Run(ctx, args)
	default:
		return fmt.Errorf(`sevm %s: unknown command`, cmd)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `
Sevm is a tool for symbolic execution of stack machine bytecode.

Usage:

	sevm <command> [arguments]

The commands are:

	check       search a program for feasible violations
	diff        check two programs for behavioral equivalence
	asm         assemble mnemonic text into bytecode
	disasm      disassemble bytecode
	help        this screen
`[1:])
}

// loadProgram reads a program from path. Files ending in ".asm" hold
// mnemonic text; anything else holds hex bytecode.
func loadProgram(path string) (*sevm.Program, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var code []byte
	if strings.HasSuffix(path, ".asm") {
		if code, err = sevm.Assemble(string(buf)); err != nil {
			return nil, err
		}
	} else {
		s := strings.TrimPrefix(strings.TrimSpace(string(buf)), "0x")
		if code, err = hex.DecodeString(s); err != nil {
			return nil, err
		}
	}
	return sevm.NewProgram(code)
}

// newLogger returns a logger writing to stderr, at debug level when
// verbose is set.
func newLogger(verbose bool) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
	}
	return logger
}
