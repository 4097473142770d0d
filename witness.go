package sevm

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/crypto/sha3"
)

// maxWitnessCalldata caps how many calldata bytes a witness renders.
const maxWitnessCalldata = 4096

// Signature describes an external function by its canonical
// declaration, e.g. "add(uint256,uint256)". Only statically encoded
// argument types are supported.
type Signature struct {
	Name string
	Args []string
}

// ParseSignature parses a declaration of the form "name(type,...)".
// Shorthand types are canonicalized ("uint" becomes "uint256").
func ParseSignature(s string) (*Signature, error) {
	open := strings.IndexByte(s, '(')
	if open <= 0 || !strings.HasSuffix(s, ")") {
		return nil, errors.Errorf("sevm: malformed signature %q", s)
	}

	name := s[:open]
	for _, ch := range name {
		if !isIdentRune(ch) {
			return nil, errors.Errorf("sevm: malformed signature %q", s)
		}
	}

	var args []string
	if inner := s[open+1 : len(s)-1]; inner != "" {
		for _, arg := range strings.Split(inner, ",") {
			typ, ok := canonicalArgType(strings.TrimSpace(arg))
			if !ok {
				return nil, errors.Errorf("sevm: unsupported argument type %q", arg)
			}
			args = append(args, typ)
		}
	}
	return &Signature{Name: name, Args: args}, nil
}

// String returns the canonical declaration used for selector hashing.
func (sig *Signature) String() string {
	return sig.Name + "(" + strings.Join(sig.Args, ",") + ")"
}

// Selector returns the first four bytes of the Keccak-256 hash of the
// canonical declaration.
func (sig *Signature) Selector() [4]byte {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(sig.String()))
	var sel [4]byte
	copy(sel[:], h.Sum(nil))
	return sel
}

// EncodedLen returns the size of a call encoded for this signature.
// Every supported argument type occupies one 32-byte slot.
func (sig *Signature) EncodedLen() uint64 {
	return 4 + 32*uint64(len(sig.Args))
}

func isIdentRune(ch rune) bool {
	return ch == '_' ||
		(ch >= 'a' && ch <= 'z') ||
		(ch >= 'A' && ch <= 'Z') ||
		(ch >= '0' && ch <= '9')
}

// canonicalArgType validates an argument type and returns its canonical
// spelling. Only types encoded in a single static slot are accepted.
func canonicalArgType(typ string) (string, bool) {
	switch typ {
	case "address", "bool":
		return typ, true
	case "uint", "int":
		return typ + "256", true
	}
	if n, ok := typeSuffix(typ, "uint"); ok {
		if n%8 == 0 && n >= 8 && n <= 256 {
			return typ, true
		}
		return "", false
	}
	if n, ok := typeSuffix(typ, "int"); ok {
		if n%8 == 0 && n >= 8 && n <= 256 {
			return typ, true
		}
		return "", false
	}
	if n, ok := typeSuffix(typ, "bytes"); ok {
		if n >= 1 && n <= 32 {
			return typ, true
		}
		return "", false
	}
	return "", false
}

func typeSuffix(typ, prefix string) (int, bool) {
	if !strings.HasPrefix(typ, prefix) {
		return 0, false
	}
	n, err := strconv.Atoi(typ[len(prefix):])
	if err != nil {
		return 0, false
	}
	return n, true
}

// Witness is a concrete transaction reproducing one explored path. All
// values are rendered for reporting.
type Witness struct {
	Status ExecutionStatus
	Reason string

	Caller    string
	CallValue string
	Calldata  string

	// Args holds decoded calldata arguments when a signature shaped
	// the call; undecodable arguments degrade to raw hex.
	Args []WitnessArg

	// Storage holds model assignments for slots read before any write.
	Storage []StorageWitness

	ReturnData   string
	RevertReason string
}

// WitnessArg is one decoded calldata argument.
type WitnessArg struct {
	Type  string
	Value string
}

// StorageWitness is the initial value of one storage slot under the
// model.
type StorageWitness struct {
	Key   string
	Value string
}

// Synthesize renders a model and the leaf it satisfies into a concrete
// witness. Decoding failures degrade to raw hex; synthesis itself never
// fails.
func Synthesize(model *Model, leaf *ExecutionState, opt Config) *Witness {
	if model == nil {
		model = NewModel()
	}
	env := leaf.Env()

	w := &Witness{
		Status:    leaf.Status(),
		Reason:    leaf.Reason(),
		Caller:    hexString(model.Evaluate(env.Caller)),
		CallValue: model.Evaluate(env.CallValue).Value.String(),
	}

	data := evaluateBytes(model, calldataBytes(env))
	w.Calldata = "0x" + hex.EncodeToString(data)

	if opt.Signature != "" {
		if sig, err := ParseSignature(opt.Signature); err == nil {
			w.Args = decodeArgs(sig, data)
		}
	}

	if ret := evaluateBytes(model, leaf.ReturnData()); len(ret) > 0 {
		w.ReturnData = "0x" + hex.EncodeToString(ret)
		if leaf.Status() == ExecutionStatusReverted {
			if reason, ok := decodeRevertReason(ret); ok {
				w.RevertReason = reason
			}
		}
	}

	w.Storage = storageWitnesses(model, leaf)
	return w
}

// calldataBytes returns one byte expression per calldata position, up
// to the model's size or the rendering cap.
func calldataBytes(env *Env) []Expr {
	size := env.Calldata.Size
	n := uint64(maxWitnessCalldata)
	if c, ok := size.(*ConstantExpr); ok && c.Value.IsUint64() && c.Value.Uint64() < n {
		n = c.Value.Uint64()
	}

	a := make([]Expr, 0, n)
	for i := uint64(0); i < n; i++ {
		a = append(a, env.Calldata.Select(NewConstantExpr256(i), Width8, false))
	}
	return a
}

// evaluateBytes reduces byte expressions to concrete bytes under the
// model.
func evaluateBytes(model *Model, exprs []Expr) []byte {
	b := make([]byte, len(exprs))
	for i, expr := range exprs {
		b[i] = byte(model.Evaluate(expr).Value.Uint64())
	}
	return b
}

// decodeArgs decodes the static argument slots following the selector.
func decodeArgs(sig *Signature, data []byte) []WitnessArg {
	args := make([]WitnessArg, 0, len(sig.Args))
	for i, typ := range sig.Args {
		off := 4 + 32*i
		if off+32 > len(data) {
			break
		}
		word := new(big.Int).SetBytes(data[off : off+32])
		args = append(args, WitnessArg{Type: typ, Value: decodeArg(typ, word)})
	}
	return args
}

// decodeArg renders one 32-byte argument slot per its type.
func decodeArg(typ string, word *big.Int) string {
	switch {
	case typ == "address":
		return fmt.Sprintf("0x%040x", new(big.Int).And(word, bitmask(Width160)))
	case typ == "bool":
		if word.Sign() != 0 {
			return "true"
		}
		return "false"
	case strings.HasPrefix(typ, "uint"):
		return word.String()
	case strings.HasPrefix(typ, "int"):
		n, _ := typeSuffix(typ, "int")
		v := new(big.Int).And(word, bitmask(uint(n)))
		if v.Bit(n-1) == 1 {
			v.Sub(v, modulus(uint(n)))
		}
		return v.String()
	case strings.HasPrefix(typ, "bytes"):
		n, _ := typeSuffix(typ, "bytes")
		b := NewConstantExprFromBig(word, Width256).Bytes()
		return "0x" + hex.EncodeToString(b[:n])
	default:
		b := NewConstantExprFromBig(word, Width256).Bytes()
		return "0x" + hex.EncodeToString(b)
	}
}

// revertErrorSelector is the selector of Error(string).
var revertErrorSelector = [4]byte{0x08, 0xc3, 0x79, 0xa0}

// decodeRevertReason decodes a revert buffer carrying the standard
// Error(string) encoding.
func decodeRevertReason(data []byte) (string, bool) {
	if len(data) < 68 {
		return "", false
	}
	var sel [4]byte
	copy(sel[:], data)
	if sel != revertErrorSelector {
		return "", false
	}

	offset := new(big.Int).SetBytes(data[4:36])
	if !offset.IsUint64() || offset.Uint64() != 32 {
		return "", false
	}
	strlen := new(big.Int).SetBytes(data[36:68])
	if !strlen.IsUint64() || 68+strlen.Uint64() > uint64(len(data)) {
		return "", false
	}
	return string(data[68 : 68+strlen.Uint64()]), true
}

// storageWitnesses reports the model's assignment for every initial
// storage read reachable from the leaf's constraints or return data.
func storageWitnesses(model *Model, leaf *ExecutionState) []StorageWitness {
	exprs := append([]Expr{}, leaf.Constraints()...)
	exprs = append(exprs, leaf.ReturnData()...)
	ufs := FindUFs("sload", exprs...)

	seen := make(map[string]struct{})
	var a []StorageWitness
	for _, uf := range ufs {
		key := model.Evaluate(uf.Args[0])
		if _, ok := seen[key.Value.String()]; ok {
			continue
		}
		seen[key.Value.String()] = struct{}{}
		a = append(a, StorageWitness{
			Key:   hexString(key),
			Value: hexString(model.Evaluate(uf)),
		})
	}

	sort.Slice(a, func(i, j int) bool { return a[i].Key < a[j].Key })
	return a
}

// hexString renders a constant as 0x-prefixed big-endian hex padded to
// its width.
func hexString(c *ConstantExpr) string {
	return "0x" + hex.EncodeToString(c.Bytes())
}
