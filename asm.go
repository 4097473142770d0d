package sevm

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/pkg/errors"
)

// Assemble converts assembly text into bytecode.
//
// Each line holds one instruction: an optional "name:" label definition
// followed by a mnemonic and, for PUSH opcodes, a single immediate.
// Immediates are written as hex (0x2a), decimal (42) or a label
// reference (@name) that resolves to the label's byte offset.
// Comments run from ';' or '//' to the end of the line.
func Assemble(src string) ([]byte, error) {
	type instr struct {
		line int
		op   OpCode
		imm  string
	}

	labels := make(map[string]uint64)
	var instrs []instr
	var offset uint64

	for i, raw := range strings.Split(src, "\n") {
		line := raw
		if idx := strings.Index(line, ";"); idx >= 0 {
			line = line[:idx]
		}
		if idx := strings.Index(line, "//"); idx >= 0 {
			line = line[:idx]
		}

		fields := strings.Fields(line)
		for len(fields) > 0 && strings.HasSuffix(fields[0], ":") {
			name := strings.TrimSuffix(fields[0], ":")
			if name == "" {
				return nil, errors.Errorf("sevm: empty label at line %d", i+1)
			}
			if _, ok := labels[name]; ok {
				return nil, errors.Errorf("sevm: duplicate label %q at line %d", name, i+1)
			}
			labels[name] = offset
			fields = fields[1:]
		}
		if len(fields) == 0 {
			continue
		}

		op, ok := ParseOpCode(strings.ToUpper(fields[0]))
		if !ok {
			return nil, errors.Errorf("sevm: unknown mnemonic %q at line %d", fields[0], i+1)
		}

		in := instr{line: i + 1, op: op}
		if n := op.PushSize(); n > 0 {
			if len(fields) != 2 {
				return nil, errors.Errorf("sevm: %s requires one immediate at line %d", op, i+1)
			}
			in.imm = fields[1]
		} else if len(fields) != 1 {
			return nil, errors.Errorf("sevm: unexpected operand for %s at line %d", op, i+1)
		}

		instrs = append(instrs, in)
		offset += 1 + uint64(op.PushSize())
	}

	code := make([]byte, 0, offset)
	for _, in := range instrs {
		code = append(code, byte(in.op))
		n := in.op.PushSize()
		if n == 0 {
			continue
		}

		value, err := resolveImmediate(in.imm, labels)
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", in.line)
		}
		if value.BitLen() > n*8 {
			return nil, errors.Errorf("sevm: immediate %s overflows %s at line %d", in.imm, in.op, in.line)
		}

		buf := make([]byte, n)
		value.FillBytes(buf)
		code = append(code, buf...)
	}
	return code, nil
}

// MustAssemble is like Assemble but panics on error. Intended for
// fixtures with known-good source.
func MustAssemble(src string) []byte {
	code, err := Assemble(src)
	if err != nil {
		panic(err)
	}
	return code
}

func resolveImmediate(token string, labels map[string]uint64) (*big.Int, error) {
	if name, ok := strings.CutPrefix(token, "@"); ok {
		offset, ok := labels[name]
		if !ok {
			return nil, errors.Errorf("sevm: unknown label %q", name)
		}
		return new(big.Int).SetUint64(offset), nil
	}

	base := 10
	digits := token
	if rest, ok := strings.CutPrefix(token, "0x"); ok {
		base, digits = 16, rest
	}
	value, ok := new(big.Int).SetString(digits, base)
	if !ok || value.Sign() < 0 {
		return nil, errors.Errorf("sevm: invalid immediate %q", token)
	}
	return value, nil
}

// Disassemble renders bytecode as one instruction per line.
func Disassemble(code []byte) string {
	var sb strings.Builder
	for pc := 0; pc < len(code); pc++ {
		op := OpCode(code[pc])
		fmt.Fprintf(&sb, "%04x: %s", pc, op)
		if n := op.PushSize(); n > 0 {
			if pc+n < len(code) {
				fmt.Fprintf(&sb, " 0x%s", hex.EncodeToString(code[pc+1:pc+1+n]))
			} else {
				sb.WriteString(" <truncated>")
			}
			pc += n
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}
