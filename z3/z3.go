package z3

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	z3lib "github.com/aclements/go-z3/z3"
	"github.com/benbjohnson/sevm"
	"github.com/pkg/errors"
)

var (
	big0 = big.NewInt(0)
	big1 = big.NewInt(1)
)

// Ensure solver implements interface.
var _ sevm.Solver = (*Solver)(nil)

// Solver decides constraint sets with an embedded Z3 solver. Each query
// runs in a fresh Z3 context so that abandoned or interrupted queries
// cannot poison later ones. Safe for concurrent use.
type Solver struct {
	// Timeout bounds a single query. A query past its deadline is
	// interrupted and reported Unknown. Zero means no deadline.
	Timeout time.Duration

	mu    sync.Mutex
	stats Stats
}

// NewSolver returns a new instance of Solver.
func NewSolver() *Solver {
	return &Solver{Timeout: sevm.DefaultSolverTimeout}
}

// Stats returns statistics for the solver.
func (s *Solver) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Solve checks the conjunction of constraints. A model is returned only
// on Sat when wantModel is set.
func (s *Solver) Solve(ctx context.Context, constraints []sevm.Expr, wantModel bool) (result sevm.Result, model *sevm.Model, err error) {
	t := time.Now()
	defer func() {
		s.mu.Lock()
		s.stats.SolveN++
		s.stats.SolveTime += time.Since(t)
		s.mu.Unlock()
	}()

	q := newQuery()
	for _, constraint := range constraints {
		q.solver.Assert(q.convertBool(constraint))
	}
	q.assertCongruence()

	sat, checkErr, interrupted := q.check(ctx, s.Timeout)
	if interrupted {
		if ctx.Err() != nil {
			return sevm.Unknown, nil, ctx.Err()
		}
		return sevm.Unknown, nil, nil
	} else if checkErr != nil {
		// Z3 reports "unknown" through the error return.
		return sevm.Unknown, nil, nil
	} else if !sat {
		return sevm.Unsat, nil, nil
	}

	if !wantModel {
		return sevm.Sat, nil, nil
	}
	model, err = q.extractModel()
	if err != nil {
		return sevm.Sat, nil, err
	}
	return sevm.Sat, model, nil
}

// query holds the translation state for a single solver call.
type query struct {
	ctx    *z3lib.Context
	solver *z3lib.Solver

	cache   map[sevm.Expr]z3lib.Value
	symbols map[string]z3lib.BV

	selects []*selectApp
	ufs     []*ufApp
	seq     int
}

// selectApp is one base read of a symbolic array, lowered to a fresh
// constant related to its peers by congruence axioms.
type selectApp struct {
	array *sevm.Array
	index z3lib.BV
	value z3lib.BV
}

// ufApp is one uninterpreted application, lowered the same way.
type ufApp struct {
	expr  *sevm.UFExpr
	args  []z3lib.BV
	value z3lib.BV
}

func newQuery() *query {
	ctx := z3lib.NewContext(z3lib.NewContextConfig())
	return &query{
		ctx:     ctx,
		solver:  z3lib.NewSolver(ctx),
		cache:   make(map[sevm.Expr]z3lib.Value),
		symbols: make(map[string]z3lib.BV),
	}
}

// check runs the solver, interrupting it when the timeout elapses or
// ctx is canceled.
func (q *query) check(ctx context.Context, timeout time.Duration) (sat bool, err error, interrupted bool) {
	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		sat, err = q.solver.Check()
	}()

	select {
	case <-done:
		return sat, err, false
	case <-timer:
	case <-ctx.Done():
	}
	q.ctx.Interrupt()
	<-done
	return false, nil, true
}

// fresh returns a new unconstrained constant of the given width.
func (q *query) fresh(prefix string, width uint) z3lib.BV {
	q.seq++
	return q.ctx.BVConst(fmt.Sprintf("%s!%d", prefix, q.seq), int(width))
}

func (q *query) bvSort(width uint) z3lib.Sort {
	return q.ctx.BVSort(int(width))
}

// convert translates an expression node, caching per-node results so
// shared subtrees translate once.
func (q *query) convert(expr sevm.Expr) z3lib.Value {
	if v, ok := q.cache[expr]; ok {
		return v
	}

	var result z3lib.Value
	switch expr := expr.(type) {
	case *sevm.ConstantExpr:
		result = q.ctx.FromBigInt(expr.Value, q.bvSort(expr.Width))
	case *sevm.SymbolExpr:
		bv := q.ctx.BVConst(expr.Name, int(expr.Width))
		q.symbols[expr.Name] = bv
		result = bv
	case *sevm.BinaryExpr:
		result = q.convertBinaryExpr(expr)
	case *sevm.NotExpr:
		result = q.convertBV(expr.Expr).Not()
	case *sevm.CastExpr:
		src := q.convertBV(expr.Src)
		n := int(expr.Width - sevm.ExprWidth(expr.Src))
		if expr.Signed {
			result = src.SignExtend(n)
		} else {
			result = src.ZeroExtend(n)
		}
	case *sevm.ExtractExpr:
		result = q.convertBV(expr.Expr).Extract(int(expr.Offset+expr.Width-1), int(expr.Offset))
	case *sevm.ConcatExpr:
		result = q.convertBV(expr.MSB).Concat(q.convertBV(expr.LSB))
	case *sevm.IfExpr:
		result = q.convertBool(expr.Cond).IfThenElse(q.convert(expr.Then), q.convert(expr.Else))
	case *sevm.SelectExpr:
		result = q.convertSelectExpr(expr)
	case *sevm.UFExpr:
		result = q.convertUFExpr(expr)
	default:
		panic("unreachable")
	}

	q.cache[expr] = result
	return result
}

// convertBV translates an expression into a bitvector, rendering a
// boolean result as a single bit.
func (q *query) convertBV(expr sevm.Expr) z3lib.BV {
	switch v := q.convert(expr).(type) {
	case z3lib.BV:
		return v
	case z3lib.Bool:
		one := q.ctx.FromBigInt(big1, q.bvSort(sevm.WidthBool))
		zero := q.ctx.FromBigInt(big0, q.bvSort(sevm.WidthBool))
		return v.IfThenElse(one, zero).(z3lib.BV)
	default:
		panic("unreachable")
	}
}

// convertBool translates an expression into a boolean, rendering a
// single-bit vector as a comparison against one.
func (q *query) convertBool(expr sevm.Expr) z3lib.Bool {
	switch v := q.convert(expr).(type) {
	case z3lib.Bool:
		return v
	case z3lib.BV:
		return v.Eq(q.ctx.FromBigInt(big1, v.Sort()).(z3lib.BV))
	default:
		panic("unreachable")
	}
}

func (q *query) convertBinaryExpr(expr *sevm.BinaryExpr) z3lib.Value {
	lhs, rhs := q.convertBV(expr.LHS), q.convertBV(expr.RHS)
	switch expr.Op {
	case sevm.ADD:
		return lhs.Add(rhs)
	case sevm.SUB:
		return lhs.Add(rhs.Neg())
	case sevm.MUL:
		return lhs.Mul(rhs)
	case sevm.UDIV:
		return lhs.UDiv(rhs)
	case sevm.SDIV:
		return lhs.SDiv(rhs)
	case sevm.UREM:
		return lhs.URem(rhs)
	case sevm.SREM:
		return lhs.SRem(rhs)
	case sevm.AND:
		return lhs.And(rhs)
	case sevm.OR:
		return lhs.Or(rhs)
	case sevm.XOR:
		return lhs.Xor(rhs)
	case sevm.SHL:
		return lhs.Lsh(rhs)
	case sevm.LSHR:
		return lhs.URsh(rhs)
	case sevm.ASHR:
		return lhs.SRsh(rhs)
	case sevm.EQ:
		return lhs.Eq(rhs)
	case sevm.NE:
		return lhs.NE(rhs)
	case sevm.ULT:
		return lhs.ULT(rhs)
	case sevm.ULE:
		return lhs.ULE(rhs)
	case sevm.UGT:
		return lhs.UGT(rhs)
	case sevm.UGE:
		return lhs.UGE(rhs)
	case sevm.SLT:
		return lhs.SLT(rhs)
	case sevm.SLE:
		return lhs.SLE(rhs)
	case sevm.SGT:
		return lhs.SGT(rhs)
	case sevm.SGE:
		return lhs.SGE(rhs)
	default:
		panic("unreachable")
	}
}

// convertSelectExpr lowers a base array read to a fresh constant,
// folding the array's symbolic update chain into an if-then-else tower
// over it. Congruence between base reads is asserted afterwards.
func (q *query) convertSelectExpr(expr *sevm.SelectExpr) z3lib.Value {
	index := q.convertBV(expr.Index)

	app := &selectApp{
		array: expr.Array,
		index: index,
		value: q.fresh("select", sevm.Width8),
	}
	q.selects = append(q.selects, app)

	// Fold the chain oldest-in so the newest write ends up outermost.
	var upds []*sevm.ArrayUpdate
	for upd := expr.Array.Updates; upd != nil; upd = upd.Next {
		upds = append(upds, upd)
	}

	value := z3lib.Value(app.value)
	for i := len(upds) - 1; i >= 0; i-- {
		cond := q.convertBV(upds[i].Index).Eq(index)
		value = cond.IfThenElse(q.convertBV(upds[i].Value), value)
	}
	return value
}

// convertUFExpr lowers an uninterpreted application to a fresh
// constant. Congruence between applications of the same function is
// asserted afterwards.
func (q *query) convertUFExpr(expr *sevm.UFExpr) z3lib.Value {
	app := &ufApp{
		expr:  expr,
		value: q.fresh("uf", expr.Width),
	}
	for _, arg := range expr.Args {
		app.args = append(app.args, q.convertBV(arg))
	}
	q.ufs = append(q.ufs, app)
	return app.value
}

// assertCongruence adds pairwise Ackermann axioms: applications of the
// same function (or base reads of the same array) with equal arguments
// must yield equal results.
func (q *query) assertCongruence() {
	for i, a := range q.selects {
		for _, b := range q.selects[i+1:] {
			if a.array.ID != b.array.ID {
				continue
			}
			q.solver.Assert(a.index.Eq(b.index).Implies(a.value.Eq(b.value)))
		}
	}

	for i, a := range q.ufs {
		for _, b := range q.ufs[i+1:] {
			if !congruent(a.expr, b.expr) {
				continue
			}
			cond := a.args[0].Eq(b.args[0])
			for k := 1; k < len(a.args); k++ {
				cond = cond.And(a.args[k].Eq(b.args[k]))
			}
			q.solver.Assert(cond.Implies(a.value.Eq(b.value)))
		}
	}
}

// congruent reports whether two applications belong to the same
// uninterpreted function.
func congruent(a, b *sevm.UFExpr) bool {
	if a.Name != b.Name || a.Width != b.Width || len(a.Args) != len(b.Args) {
		return false
	}
	for i := range a.Args {
		if sevm.ExprWidth(a.Args[i]) != sevm.ExprWidth(b.Args[i]) {
			return false
		}
	}
	return true
}

// extractModel reads the satisfying assignment back out of the solver.
func (q *query) extractModel() (*sevm.Model, error) {
	m := q.solver.Model()
	if m == nil {
		return nil, errors.New("z3: missing model")
	}

	model := sevm.NewModel()
	for name, bv := range q.symbols {
		value, err := evalBV(m, bv)
		if err != nil {
			return nil, err
		}
		model.Symbols[name] = sevm.NewConstantExprFromBig(value, uint(bv.Sort().BVSize()))
	}

	for _, app := range q.selects {
		index, err := evalBV(m, app.index)
		if err != nil {
			return nil, err
		} else if !index.IsUint64() {
			continue
		}
		value, err := evalBV(m, app.value)
		if err != nil {
			return nil, err
		}
		model.SetArrayByte(app.array.ID, index.Uint64(), byte(value.Uint64()))
	}

	for _, app := range q.ufs {
		value, err := evalBV(m, app.value)
		if err != nil {
			return nil, err
		}
		model.UFs[app.expr.String()] = sevm.NewConstantExprFromBig(value, app.expr.Width)
	}
	return model, nil
}

// evalBV evaluates a bitvector under the model, completing
// unconstrained terms with arbitrary values.
func evalBV(m *z3lib.Model, bv z3lib.BV) (*big.Int, error) {
	value, ok := m.Eval(bv, true).(z3lib.BV).AsBigUnsigned()
	if !ok {
		return nil, errors.Errorf("z3: non-literal model value for %s", bv)
	}
	return value, nil
}

// Stats represents statistics for the solver.
type Stats struct {
	SolveN    int
	SolveTime time.Duration
}
