package sevm

import (
	"bytes"
	"fmt"
	"math"

	"github.com/benbjohnson/immutable"
)

// ExecutionState represents one path under exploration: a machine state
// snapshot plus the constraints accumulated along the path.
type ExecutionState struct {
	id int

	// Executor this is executed within.
	executor *Executor

	// Execution hierarchy.
	parent   *ExecutionState
	children []*ExecutionState

	// Machine registers.
	pc    uint64
	stack []Expr
	gas   uint64

	// Byte-addressed memory. Offsets are always concrete; the value at
	// each touched offset is a byte-width expression.
	memory     *immutable.SortedMap
	memorySize uint64

	// Storage writes along this path, newest first. Initial values for
	// slots outside the chain come from the executor's storage model.
	storage *storageWrite

	// Shows whether state is running, halted, or terminated by error state.
	status ExecutionStatus
	reason string

	// Data returned by RETURN or REVERT.
	returnData []Expr

	// Constraints collected so far during execution.
	constraints []Expr

	// Per-location branch revisit counters for loop bounding.
	visits *immutable.Map
}

// NewExecutionState returns the entry state for a call into executor's program.
func NewExecutionState(executor *Executor) *ExecutionState {
	return &ExecutionState{
		executor: executor,
		status:   ExecutionStatusRunning,
		gas:      executor.Gas,
		memory:   immutable.NewSortedMap(&uint64Comparer{}),
		visits:   immutable.NewMap(&uint64Hasher{}),
	}
}

// ID returns an autoincrementing ID assigned by the executor.
func (s *ExecutionState) ID() int { return s.id }

// Executor returns the parent executor of this state.
func (s *ExecutionState) Executor() *Executor { return s.executor }

// Parent returns the state this state was forked from, if any.
func (s *ExecutionState) Parent() *ExecutionState { return s.parent }

// Children returns the states forked from this state, true branch first.
func (s *ExecutionState) Children() []*ExecutionState { return s.children }

// PC returns the current program counter.
func (s *ExecutionState) PC() uint64 { return s.pc }

// Gas returns the remaining gas.
func (s *ExecutionState) Gas() uint64 { return s.gas }

// Env returns the environment registers shared by the whole run.
func (s *ExecutionState) Env() *Env { return s.executor.Env }

// Constraints returns the accumulated path constraints.
func (s *ExecutionState) Constraints() []Expr { return s.constraints }

// ReturnData returns the bytes produced by RETURN or REVERT, if any.
func (s *ExecutionState) ReturnData() []Expr { return s.returnData }

// Status returns the current status of the state.
// See Reason() for additional information if status is in an error state.
func (s *ExecutionState) Status() ExecutionStatus { return s.status }

// Reason returns additional information about the status of the state.
func (s *ExecutionState) Reason() string { return s.reason }

// Terminated returns true if the state completes execution of a path.
func (s *ExecutionState) Terminated() bool {
	return s.status != ExecutionStatusRunning
}

// Forked returns true if state has a child state.
func (s *ExecutionState) Forked() bool {
	return len(s.children) > 0
}

// Leaves returns the leaf states of the subtree rooted at s in
// deterministic order.
func (s *ExecutionState) Leaves() []*ExecutionState {
	if len(s.children) == 0 {
		return []*ExecutionState{s}
	}
	var a []*ExecutionState
	for _, child := range s.children {
		a = append(a, child.Leaves()...)
	}
	return a
}

// Clone returns a copy of the state including copies of the stack and
// constraints. Memory, storage and revisit counters are persistent and
// shared structurally. Child states are not cloned.
func (s *ExecutionState) Clone() *ExecutionState {
	stack := make([]Expr, len(s.stack))
	copy(stack, s.stack)

	constraints := make([]Expr, len(s.constraints))
	copy(constraints, s.constraints)

	returnData := make([]Expr, len(s.returnData))
	copy(returnData, s.returnData)

	return &ExecutionState{
		executor:    s.executor,
		parent:      s.parent,
		pc:          s.pc,
		stack:       stack,
		gas:         s.gas,
		memory:      s.memory,
		memorySize:  s.memorySize,
		storage:     s.storage,
		status:      s.status,
		reason:      s.reason,
		returnData:  returnData,
		constraints: constraints,
		visits:      s.visits,
	}
}

// Fork returns a child copy of the given state with the additional constraint.
func (s *ExecutionState) Fork(constraint Expr) *ExecutionState {
	child := s.Clone()
	child.parent = s
	if constraint != nil {
		child.AddConstraint(constraint)
	}
	s.children = append(s.children, child)
	return child
}

// AddConstraint adds a constraint to the state. Panic if expr is a constant false.
func (s *ExecutionState) AddConstraint(expr Expr) {
	if expr, ok := expr.(*ConstantExpr); ok {
		assert(expr.IsTrue(), "invalid false constraint")
	}

	// Split logical conjunctions into two separate constraints.
	if expr, ok := expr.(*BinaryExpr); ok && expr.Op == AND && ExprWidth(expr.LHS) == WidthBool {
		s.AddConstraint(expr.LHS)
		s.AddConstraint(expr.RHS)
		return
	}

	s.constraints = append(s.constraints, expr)
}

// AddConstraint adds expr to constraints and returns the new constraint list.
// If expr is a boolean AND expression then its LHS & RHS are split into
// independent constraints.
func AddConstraint(a []Expr, expr Expr) []Expr {
	if expr, ok := expr.(*BinaryExpr); ok && expr.Op == AND && ExprWidth(expr.LHS) == WidthBool {
		a = AddConstraint(a, expr.LHS)
		a = AddConstraint(a, expr.RHS)
		return a
	}
	return append(a, expr)
}

// Push adds expr to the top of the operand stack.
func (s *ExecutionState) Push(expr Expr) error {
	if len(s.stack) >= StackLimit {
		return ErrStackOverflow
	}
	s.stack = append(s.stack, expr)
	return nil
}

// Pop removes and returns the top of the operand stack.
func (s *ExecutionState) Pop() (Expr, error) {
	if len(s.stack) == 0 {
		return nil, ErrStackUnderflow
	}
	expr := s.stack[len(s.stack)-1]
	s.stack[len(s.stack)-1] = nil
	s.stack = s.stack[:len(s.stack)-1]
	return expr, nil
}

// Peek returns the n-th entry from the top of the stack without
// removing it. Peek(0) is the top.
func (s *ExecutionState) Peek(n int) (Expr, error) {
	if n >= len(s.stack) {
		return nil, ErrStackUnderflow
	}
	return s.stack[len(s.stack)-1-n], nil
}

// StackLen returns the current operand stack depth.
func (s *ExecutionState) StackLen() int { return len(s.stack) }

// swap exchanges the top of the stack with the n-th entry below it.
func (s *ExecutionState) swap(n int) error {
	if n >= len(s.stack) {
		return ErrStackUnderflow
	}
	i, j := len(s.stack)-1, len(s.stack)-1-n
	s.stack[i], s.stack[j] = s.stack[j], s.stack[i]
	return nil
}

// MemorySize returns the current memory extent in bytes, word aligned.
func (s *ExecutionState) MemorySize() uint64 { return s.memorySize }

// touchMemory grows the memory extent to cover [offset, offset+n),
// charging the linear expansion cost. A zero-length range leaves the
// extent unchanged.
func (s *ExecutionState) touchMemory(offset, n uint64) {
	if n == 0 {
		return
	}
	if offset > math.MaxUint64-n || offset+n > math.MaxUint64-31 {
		// The range end cannot be represented; its expansion cost
		// exceeds any gas budget.
		s.UseGas(s.gas + 1)
		return
	}
	end := offset + n
	if end <= s.memorySize {
		return
	}
	aligned := (end + 31) / 32 * 32
	words := (aligned - s.memorySize) / 32
	if !s.UseGas(words * gasMemoryWord) {
		return
	}
	s.memorySize = aligned
}

// memByte returns the byte at a concrete memory offset.
// Untouched offsets read as zero.
func (s *ExecutionState) memByte(offset uint64) Expr {
	if value, _ := s.memory.Get(offset); value != nil {
		return value.(Expr)
	}
	return NewConstantExpr8(0)
}

// StoreByte writes a byte-width expression at a concrete offset.
func (s *ExecutionState) StoreByte(offset uint64, value Expr) {
	assert(ExprWidth(value) == Width8, "memory store byte width: %d", ExprWidth(value))
	s.touchMemory(offset, 1)
	s.memory = s.memory.Set(offset, value)
}

// StoreWord writes a 256-bit expression big-endian at a concrete offset.
func (s *ExecutionState) StoreWord(offset uint64, value Expr) {
	assert(ExprWidth(value) == Width256, "memory store word width: %d", ExprWidth(value))
	s.touchMemory(offset, 32)
	for i := uint64(0); i < 32; i++ {
		s.memory = s.memory.Set(offset+i, NewExtractExpr(value, uint((31-i)*8), Width8))
	}
}

// LoadWord reads a 256-bit expression big-endian from a concrete offset.
// Reads past the current extent zero-extend.
func (s *ExecutionState) LoadWord(offset uint64) Expr {
	s.touchMemory(offset, 32)
	result := s.memByte(offset)
	for i := uint64(1); i < 32; i++ {
		result = NewConcatExpr(result, s.memByte(offset+i))
	}
	return result
}

// ReadBytes returns n bytes of memory starting at a concrete offset.
func (s *ExecutionState) ReadBytes(offset, n uint64) []Expr {
	s.touchMemory(offset, n)
	a := make([]Expr, n)
	for i := uint64(0); i < n; i++ {
		a[i] = s.memByte(offset + i)
	}
	return a
}

// WriteBytes writes byte-width expressions starting at a concrete offset.
func (s *ExecutionState) WriteBytes(offset uint64, values []Expr) {
	s.touchMemory(offset, uint64(len(values)))
	for i, value := range values {
		assert(ExprWidth(value) == Width8, "memory write byte width: %d", ExprWidth(value))
		s.memory = s.memory.Set(offset+uint64(i), value)
	}
}

// storageWrite is one entry of the per-path storage write chain.
// The chain is persistent: forked children share their parent's tail.
type storageWrite struct {
	key   Expr
	value Expr
	next  *storageWrite
}

// StoreStorage records a write of value at key.
func (s *ExecutionState) StoreStorage(key, value Expr) {
	s.storage = &storageWrite{key: key, value: value, next: s.storage}
}

// StorageValue resolves a storage read against the path's write chain.
// Writes at provably equal keys resolve directly; writes at possibly
// aliasing keys produce a conditional chain, newest write first; slots
// outside the chain take their initial value from the storage model.
func (s *ExecutionState) StorageValue(key Expr) (Expr, error) {
	type pending struct {
		cond  Expr
		value Expr
	}
	var pendings []pending
	var base Expr

	for w := s.storage; w != nil; w = w.next {
		cond := NewBinaryExpr(EQ, key, w.key)
		if cond, ok := cond.(*ConstantExpr); ok {
			if cond.IsTrue() {
				base = w.value
				break
			}
			continue
		}
		pendings = append(pendings, pending{cond: cond, value: w.value})
	}

	if base == nil {
		value, err := s.executor.Storage.InitialValue(key)
		if err != nil {
			return nil, err
		}
		base = value
	}

	value := base
	for i := len(pendings) - 1; i >= 0; i-- {
		value = NewIfExpr(pendings[i].cond, pendings[i].value, value)
	}
	return value, nil
}

// WrittenKeys returns the distinct keys written along this path,
// oldest write first.
func (s *ExecutionState) WrittenKeys() []Expr {
	var a []Expr
	for w := s.storage; w != nil; w = w.next {
		a = append(a, w.key)
	}
	// Reverse to oldest-first and drop structural duplicates.
	keys := make([]Expr, 0, len(a))
	seen := make(map[Expr]struct{})
	for i := len(a) - 1; i >= 0; i-- {
		if _, ok := seen[a[i]]; ok {
			continue
		}
		seen[a[i]] = struct{}{}
		keys = append(keys, a[i])
	}
	return keys
}

// UseGas deducts cost from the remaining gas. If the budget is
// exhausted the state halts with an out-of-gas classification and
// false is returned.
func (s *ExecutionState) UseGas(cost uint64) bool {
	if s.Terminated() {
		return false
	}
	if cost > s.gas {
		s.gas = 0
		s.halt(ExecutionStatusOutOfGas, "gas exhausted")
		return false
	}
	s.gas -= cost
	return true
}

// Visits returns the branch revisit count recorded for location.
func (s *ExecutionState) Visits(location uint64) int {
	if s.executor.BoundGlobal {
		return s.executor.globalVisits[location]
	}
	if value, _ := s.visits.Get(location); value != nil {
		return value.(int)
	}
	return 0
}

// incrementVisits bumps the revisit counter for location and returns
// the new count.
func (s *ExecutionState) incrementVisits(location uint64) int {
	n := s.Visits(location) + 1
	if s.executor.BoundGlobal {
		s.executor.globalVisits[location] = n
	} else {
		s.visits = s.visits.Set(location, n)
	}
	return n
}

// halt moves the state to a terminal status.
func (s *ExecutionState) halt(status ExecutionStatus, reason string) {
	assert(s.status == ExecutionStatusRunning, "halt on terminated state: %s", s.status)
	s.status, s.reason = status, reason
}

// fail terminates the state because of a path-local error.
func (s *ExecutionState) fail(err error) {
	s.halt(ExecutionStatusFailed, err.Error())
}

// ReturnWord interprets the first 32 bytes of return data as a word.
// Returns false if no data was returned.
func (s *ExecutionState) ReturnWord() (Expr, bool) {
	if len(s.returnData) < 32 {
		return nil, false
	}
	result := s.returnData[0]
	for i := 1; i < 32; i++ {
		result = NewConcatExpr(result, s.returnData[i])
	}
	return result, true
}

// Dump returns the contents of the state as a string.
func (s *ExecutionState) Dump() string {
	var buf bytes.Buffer

	fmt.Fprintln(&buf, "EXECUTION STATE")
	fmt.Fprintln(&buf, "===============")
	fmt.Fprintf(&buf, "id=%d\n", s.id)
	fmt.Fprintf(&buf, "status=%s\n", s.status)
	fmt.Fprintf(&buf, "reason=%s\n", s.reason)
	fmt.Fprintf(&buf, "pc=%#x gas=%d msize=%d\n", s.pc, s.gas, s.memorySize)
	fmt.Fprintln(&buf, "")

	fmt.Fprintln(&buf, "== STACK")
	for i := len(s.stack) - 1; i >= 0; i-- {
		fmt.Fprintf(&buf, "%d. %s\n", len(s.stack)-1-i, s.stack[i].String())
	}
	fmt.Fprintln(&buf, "")

	fmt.Fprintln(&buf, "== STORAGE")
	for w := s.storage; w != nil; w = w.next {
		fmt.Fprintf(&buf, "%s => %s\n", w.key.String(), w.value.String())
	}
	fmt.Fprintln(&buf, "")

	fmt.Fprintln(&buf, "== CONSTRAINTS")
	for i, expr := range s.constraints {
		fmt.Fprintf(&buf, "%d. %s\n", i, expr.String())
	}
	return buf.String()
}

// ExecutionStatus represents the current status of the execution state.
// The state will also include a reason if the status is not running.
type ExecutionStatus string

const (
	ExecutionStatusRunning      = ExecutionStatus("running")       // has future states
	ExecutionStatusStopped      = ExecutionStatus("stopped")       // clean halt, no data
	ExecutionStatusReturned     = ExecutionStatus("returned")      // clean halt with data
	ExecutionStatusReverted     = ExecutionStatus("reverted")      // state rolled back with data
	ExecutionStatusInvalid      = ExecutionStatus("invalid")       // exceptional halt
	ExecutionStatusOutOfGas     = ExecutionStatus("out_of_gas")    // gas budget exhausted
	ExecutionStatusBoundReached = ExecutionStatus("bound_reached") // branch revisit bound hit
	ExecutionStatusUndecided    = ExecutionStatus("undecided")     // solver could not decide
	ExecutionStatusFailed       = ExecutionStatus("failed")        // path-local error
)

// uint64Comparer compares two 64-bit unsigned integers. Implements immutable.Comparer.
type uint64Comparer struct{}

// Compare returns -1 if a is less than b, returns 1 if a is greater than b, and
// returns 0 if a is equal to b. Panic if a or b is not a uint64.
func (c *uint64Comparer) Compare(a, b interface{}) int {
	if i, j := a.(uint64), b.(uint64); i < j {
		return -1
	} else if i > j {
		return 1
	}
	return 0
}

// uint64Hasher hashes 64-bit unsigned integers. Implements immutable.Hasher.
type uint64Hasher struct{}

// Hash returns a 32-bit hash for key.
func (h *uint64Hasher) Hash(key interface{}) uint32 {
	k := key.(uint64)
	return uint32(k) ^ uint32(k>>32)
}

// Equal returns true if a equals b.
func (h *uint64Hasher) Equal(a, b interface{}) bool {
	return a.(uint64) == b.(uint64)
}
