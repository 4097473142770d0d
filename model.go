package sevm

// Model is a concrete assignment produced by the solver for a
// satisfiable constraint set. It is only used for reporting; model
// values are never fed back into expression construction.
type Model struct {
	// Symbols maps symbol names to their assigned values.
	Symbols map[string]*ConstantExpr

	// Arrays maps array IDs to sparse byte assignments. Bytes not
	// present read as zero.
	Arrays map[uint64]map[uint64]byte

	// UFs maps rendered uninterpreted applications to their assigned
	// result values. Keys are the canonical string form of the node.
	UFs map[string]*ConstantExpr
}

// NewModel returns an empty model.
func NewModel() *Model {
	return &Model{
		Symbols: make(map[string]*ConstantExpr),
		Arrays:  make(map[uint64]map[uint64]byte),
		UFs:     make(map[string]*ConstantExpr),
	}
}

// SetArrayByte records the byte at index of the identified array.
func (m *Model) SetArrayByte(id, index uint64, value byte) {
	bytes := m.Arrays[id]
	if bytes == nil {
		bytes = make(map[uint64]byte)
		m.Arrays[id] = bytes
	}
	bytes[index] = value
}

// SymbolValue returns the assigned value for a symbol, or zero if the
// symbol is unconstrained.
func (m *Model) SymbolValue(name string, width uint) *ConstantExpr {
	if value, ok := m.Symbols[name]; ok {
		return value.ZExt(width)
	}
	return NewConstantExpr(0, width)
}

// ArrayByte returns the assigned byte at index of the identified array.
func (m *Model) ArrayByte(id, index uint64) byte {
	return m.Arrays[id][index]
}

// Evaluate reduces expr to a constant under the model.
func (m *Model) Evaluate(expr Expr) *ConstantExpr {
	return NewExprEvaluator(m).Evaluate(expr)
}

// ExprEvaluator evaluates expressions to constants under a model.
// Unassigned symbols, array bytes and applications read as zero, which
// matches the freedom the solver had in choosing them.
type ExprEvaluator struct {
	model *Model
}

// NewExprEvaluator returns an evaluator over model.
func NewExprEvaluator(model *Model) *ExprEvaluator {
	return &ExprEvaluator{model: model}
}

// Evaluate reduces expr to a constant.
func (ev *ExprEvaluator) Evaluate(expr Expr) *ConstantExpr {
	switch expr := expr.(type) {
	case *ConstantExpr:
		return expr
	case *SymbolExpr:
		return ev.model.SymbolValue(expr.Name, expr.Width)
	case *BinaryExpr:
		return ev.evaluateBinaryExpr(expr)
	case *NotExpr:
		return ev.Evaluate(expr.Expr).Not()
	case *CastExpr:
		if expr.Signed {
			return ev.Evaluate(expr.Src).SExt(expr.Width)
		}
		return ev.Evaluate(expr.Src).ZExt(expr.Width)
	case *ExtractExpr:
		return ev.Evaluate(expr.Expr).Extract(expr.Offset, expr.Width)
	case *ConcatExpr:
		return ev.Evaluate(expr.MSB).Concat(ev.Evaluate(expr.LSB))
	case *IfExpr:
		if ev.Evaluate(expr.Cond).IsTrue() {
			return ev.Evaluate(expr.Then)
		}
		return ev.Evaluate(expr.Else)
	case *SelectExpr:
		return ev.evaluateSelectExpr(expr)
	case *UFExpr:
		if value, ok := ev.model.UFs[expr.String()]; ok {
			return value.ZExt(expr.Width)
		}
		return NewConstantExpr(0, expr.Width)
	default:
		panic("unreachable")
	}
}

func (ev *ExprEvaluator) evaluateBinaryExpr(expr *BinaryExpr) *ConstantExpr {
	lhs, rhs := ev.Evaluate(expr.LHS), ev.Evaluate(expr.RHS)
	switch expr.Op {
	case ADD:
		return lhs.Add(rhs)
	case SUB:
		return lhs.Sub(rhs)
	case MUL:
		return lhs.Mul(rhs)
	case UDIV:
		return lhs.UDiv(rhs)
	case SDIV:
		return lhs.SDiv(rhs)
	case UREM:
		return lhs.URem(rhs)
	case SREM:
		return lhs.SRem(rhs)
	case AND:
		return lhs.And(rhs)
	case OR:
		return lhs.Or(rhs)
	case XOR:
		return lhs.Xor(rhs)
	case SHL:
		return lhs.Shl(rhs)
	case LSHR:
		return lhs.LShr(rhs)
	case ASHR:
		return lhs.AShr(rhs)
	case EQ:
		return lhs.Eq(rhs)
	case ULT:
		return lhs.Ult(rhs)
	case ULE:
		return lhs.Ule(rhs)
	case UGT:
		return lhs.Ugt(rhs)
	case UGE:
		return lhs.Uge(rhs)
	case SLT:
		return lhs.Slt(rhs)
	case SLE:
		return lhs.Sle(rhs)
	case SGT:
		return lhs.Sgt(rhs)
	case SGE:
		return lhs.Sge(rhs)
	default:
		panic("unreachable")
	}
}

func (ev *ExprEvaluator) evaluateSelectExpr(expr *SelectExpr) *ConstantExpr {
	index := ev.Evaluate(expr.Index)
	for upd := expr.Array.Updates; upd != nil; upd = upd.Next {
		if ev.Evaluate(upd.Index).Eq(index).IsTrue() {
			return ev.Evaluate(upd.Value)
		}
	}
	if !index.Value.IsUint64() {
		return NewConstantExpr8(0)
	}
	return NewConstantExpr8(uint64(ev.model.ArrayByte(expr.Array.ID, index.Value.Uint64())))
}
