package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/benbjohnson/sevm"
)

// AsmCommand represents a command for assembling mnemonic text.
type AsmCommand struct{}

// NewAsmCommand returns a new instance of AsmCommand.
func NewAsmCommand() *AsmCommand {
	return &AsmCommand{}
}

// Run executes the "asm" subcommand.
func (cmd *AsmCommand) Run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("sevm-asm", flag.ContinueOnError)
	fs.Usage = cmd.usage
	if err := fs.Parse(args); err != nil {
		return err
	} else if fs.NArg() != 1 {
		return fmt.Errorf("assembly file required")
	}

	buf, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		return err
	}
	code, err := sevm.Assemble(string(buf))
	if err != nil {
		return err
	}

	fmt.Println(hex.EncodeToString(code))
	return nil
}

func (cmd *AsmCommand) usage() {
	fmt.Fprintln(os.Stderr, `
usage: sevm asm <file>

Assembles mnemonic text into hex bytecode on stdout.
`[1:])
}

// DisasmCommand represents a command for disassembling bytecode.
type DisasmCommand struct{}

// NewDisasmCommand returns a new instance of DisasmCommand.
func NewDisasmCommand() *DisasmCommand {
	return &DisasmCommand{}
}

// Run executes the "disasm" subcommand.
func (cmd *DisasmCommand) Run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("sevm-disasm", flag.ContinueOnError)
	fs.Usage = cmd.usage
	if err := fs.Parse(args); err != nil {
		return err
	} else if fs.NArg() != 1 {
		return fmt.Errorf("bytecode file required")
	}

	buf, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		return err
	}
	s := strings.TrimPrefix(strings.TrimSpace(string(buf)), "0x")
	code, err := hex.DecodeString(s)
	if err != nil {
		return err
	}

	fmt.Print(sevm.Disassemble(code))
	return nil
}

func (cmd *DisasmCommand) usage() {
	fmt.Fprintln(os.Stderr, `
usage: sevm disasm <file>

Disassembles hex bytecode into mnemonic text on stdout.
`[1:])
}
