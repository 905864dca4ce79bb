package jit

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/specialistvlad/modeljit/internal/assembler"
	"github.com/specialistvlad/modeljit/internal/manifest"
	"github.com/zclconf/go-cty/cty"
)

// frame is the per-call state of a kernel.
type frame struct {
	state, param, out []float64
	t                 float64
	locals            []float64
}

type (
	evalFn func(*frame) float64
	stmtFn func(*frame)
	idxFn  func(*frame) int
)

// value is a compiled expression. Constant values also carry their result.
type value struct {
	fn      evalFn
	isConst bool
	c       float64
}

// index is a compiled array index.
type index struct {
	fn      idxFn
	isConst bool
	c       int
}

func literal(c float64) evalFn {
	return func(*frame) float64 { return c }
}

func truth(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// compiler holds the state of a single compilation. Nothing in it outlives
// the Compile call that created it.
type compiler struct {
	tc        *Toolchain
	opt       assembler.OptLevel
	positions assembler.PositionMap
	consts    map[string]float64
	diags     hcl.Diagnostics
	nodes     int
}

// IndexError is the panic value of a kernel whose computed array index is
// not a non-negative integer. Line and Column locate the index in the model
// body.
type IndexError struct {
	Value  float64
	Line   int
	Column int
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("%d:%d: computed index %v is not a non-negative integer", e.Line, e.Column, e.Value)
}

// scope tracks name resolution inside one kernel compiled for one signature.
type scope struct {
	// sig is zero for kernels no export binds, which see every solver argument.
	sig       manifest.Signature
	constOnly bool
	locals    map[string]int
	localAt   map[string]hcl.Range
	used      map[string]bool
	writes    int
}

func newScope(sig manifest.Signature) *scope {
	return &scope{
		sig:     sig,
		locals:  make(map[string]int),
		localAt: make(map[string]hcl.Range),
		used:    make(map[string]bool),
	}
}

func (sc *scope) accepts(kind manifest.ArgKind) bool {
	switch {
	case sc.constOnly:
		return false
	case sc.sig == 0:
		return manifest.StateDeriv.Accepts(kind)
	}
	return sc.sig.Accepts(kind)
}

func (sc *scope) describe() string {
	if sc.constOnly {
		return "constant declarations"
	}
	if sc.sig == 0 {
		return "unexported kernels"
	}
	return sc.sig.String() + " kernels"
}

func (c *compiler) diag(sev hcl.DiagnosticSeverity, rng hcl.Range, summary, detail string, args ...any) {
	r := rng
	c.diags = append(c.diags, &hcl.Diagnostic{
		Severity: sev,
		Summary:  summary,
		Detail:   fmt.Sprintf(detail, args...),
		Subject:  &r,
	})
}

func (c *compiler) errorf(rng hcl.Range, summary, detail string, args ...any) {
	c.diag(hcl.DiagError, rng, summary, detail, args...)
}

func (c *compiler) warnf(rng hcl.Range, summary, detail string, args ...any) {
	c.diag(hcl.DiagWarning, rng, summary, detail, args...)
}

// emit counts one closure towards the artifact's code size.
func (c *compiler) emit(v value) value {
	c.nodes++
	return v
}

// fold evaluates an expression whose operands are all constant. The same
// closure runs at compile time and would run at call time, so the folded
// result is bit-identical to the unfolded one. When optimising, the operand
// closures compiled since before are replaced by a single literal.
func (c *compiler) fold(fn evalFn, before int) value {
	k := fn(nil)
	if c.throughput() {
		c.nodes = before
		return c.emit(value{fn: literal(k), isConst: true, c: k})
	}
	return c.emit(value{fn: fn, isConst: true, c: k})
}

func (c *compiler) throughput() bool {
	return c.opt == assembler.OptThroughput
}

func newKernel(stmts []stmtFn, nLocals int) Kernel {
	pool := &sync.Pool{New: func() any {
		return &frame{locals: make([]float64, nLocals)}
	}}
	return func(state, param []float64, t float64, out []float64) {
		f := pool.Get().(*frame)
		f.state, f.param, f.t, f.out = state, param, t, out
		clear(f.locals)
		for _, s := range stmts {
			s(f)
		}
		f.state, f.param, f.out = nil, nil, nil
		pool.Put(f)
	}
}

func (c *compiler) compileKernel(decl *kernelDecl, sig manifest.Signature) (Kernel, int) {
	before := c.nodes
	sc := newScope(sig)

	stmts := make([]stmtFn, 0, len(decl.stmts))
	for _, st := range decl.stmts {
		if fn := c.compileStatement(st, sc); fn != nil {
			stmts = append(stmts, fn)
		}
	}

	names := make([]string, 0, len(sc.localAt))
	for name := range sc.localAt {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if !sc.used[name] {
			c.warnf(sc.localAt[name], "Unused local value", "Local %q is assigned but never read.", name)
		}
	}
	if sc.writes == 0 && len(decl.stmts) > 0 {
		c.warnf(kernelRange(decl), "Kernel writes no output", "No statement of this kernel assigns to out[...].")
	}

	return newKernel(stmts, len(sc.locals)), c.nodes - before
}

func kernelRange(decl *kernelDecl) hcl.Range {
	if decl.name == "" && len(decl.stmts) > 0 {
		return decl.stmts[0].rng
	}
	return decl.nameRange
}

func (c *compiler) compileStatement(st statement, sc *scope) stmtFn {
	val, ok := c.compileExpr(st.value, sc)

	if trav, isTrav := st.target.(*hclsyntax.ScopeTraversalExpr); isTrav && len(trav.Traversal) == 1 {
		return c.assignLocal(trav.Traversal.RootName(), trav.SrcRange, val, ok, sc)
	}

	ref, isRef := arrayRefOf(st.target)
	if !isRef {
		c.errorf(st.target.Range(), "Invalid assignment target", "Only local names and out[...] elements can be assigned.")
		return nil
	}
	if ref.root != manifest.ArgOutput.Accessor() {
		c.errorf(ref.rootRange, "Read-only argument", "%q cannot be assigned; kernels write results to out[...].", ref.root)
		return nil
	}
	idx, idxOK := c.compileIndex(ref, manifest.ArgOutput, sc)
	if !ok || !idxOK {
		return nil
	}

	sc.writes++
	c.nodes++
	v := val.fn
	if idx.isConst && c.throughput() {
		k := idx.c
		return func(f *frame) { f.out[k] = v(f) }
	}
	i := idx.fn
	return func(f *frame) { f.out[i(f)] = v(f) }
}

func (c *compiler) assignLocal(name string, rng hcl.Range, val value, ok bool, sc *scope) stmtFn {
	switch {
	case isAccessor(name):
		c.errorf(rng, "Read-only argument", "%q cannot be assigned; kernels write results to out[...].", name)
		return nil
	case c.isConst(name):
		c.errorf(rng, "Cannot assign to constant", "%q is a constant.", name)
		return nil
	case reservedName(name) || c.tc.IsBuiltin(name):
		c.errorf(rng, "Reserved identifier", "%q is reserved and cannot name a local value.", name)
		return nil
	case !manifest.IsIdentifier(name):
		c.errorf(rng, "Invalid local name", "%q is not a valid identifier; write subtraction with spaces around '-'.", name)
		return nil
	}

	slot, exists := sc.locals[name]
	if !exists {
		slot = len(sc.locals)
		sc.locals[name] = slot
		sc.localAt[name] = rng
	}
	if !ok {
		return nil
	}

	c.nodes++
	v := val.fn
	return func(f *frame) { f.locals[slot] = v(f) }
}

func (c *compiler) isConst(name string) bool {
	_, ok := c.consts[name]
	return ok
}

func isAccessor(name string) bool {
	_, ok := accessorKind(name)
	return ok || name == manifest.ArgTime.Accessor()
}

// accessorKind maps the array accessors to their argument kind.
func accessorKind(name string) (manifest.ArgKind, bool) {
	switch name {
	case manifest.ArgState.Accessor():
		return manifest.ArgState, true
	case manifest.ArgParams.Accessor():
		return manifest.ArgParams, true
	case manifest.ArgOutput.Accessor():
		return manifest.ArgOutput, true
	}
	return 0, false
}

// numberOf extracts a float64 from a literal cty value.
func numberOf(v cty.Value) (float64, bool) {
	if v.IsNull() || !v.IsKnown() {
		return 0, false
	}
	switch v.Type() {
	case cty.Number:
		f, _ := v.AsBigFloat().Float64()
		return f, true
	case cty.Bool:
		return truth(v.True()), true
	}
	return 0, false
}

func (c *compiler) compileExpr(expr hclsyntax.Expression, sc *scope) (value, bool) {
	switch e := expr.(type) {
	case *hclsyntax.LiteralValueExpr:
		k, ok := numberOf(e.Val)
		if !ok {
			c.errorf(e.SrcRange, "Unsupported value", "Only numeric and boolean literals are allowed, got %s.", e.Val.Type().FriendlyName())
			return value{}, false
		}
		return c.emit(value{fn: literal(k), isConst: true, c: k}), true

	case *hclsyntax.ParenthesesExpr:
		return c.compileExpr(e.Expression, sc)

	case *hclsyntax.ScopeTraversalExpr:
		if len(e.Traversal) == 1 {
			return c.compileIdent(e.Traversal.RootName(), e.SrcRange, sc)
		}
		ref, _ := arrayRefOf(e)
		return c.compileArrayRead(ref, sc)

	case *hclsyntax.IndexExpr, *hclsyntax.RelativeTraversalExpr:
		ref, ok := arrayRefOf(e)
		if !ok {
			c.errorf(e.Range(), "Unsupported index expression", "Only state, param and out can be indexed.")
			return value{}, false
		}
		return c.compileArrayRead(ref, sc)

	case *hclsyntax.BinaryOpExpr:
		return c.compileBinary(e, sc)

	case *hclsyntax.UnaryOpExpr:
		return c.compileUnary(e, sc)

	case *hclsyntax.ConditionalExpr:
		return c.compileConditional(e, sc)

	case *hclsyntax.FunctionCallExpr:
		return c.compileCall(e, sc)

	case *hclsyntax.TemplateExpr, *hclsyntax.TemplateWrapExpr:
		c.errorf(e.Range(), "Unsupported value", "Strings are not supported in kernel bodies.")
		return value{}, false
	}

	c.errorf(expr.Range(), "Unsupported expression", "Kernel bodies only support arithmetic over numbers.")
	return value{}, false
}

func (c *compiler) compileIdent(name string, rng hcl.Range, sc *scope) (value, bool) {
	if name == manifest.ArgTime.Accessor() {
		if !sc.accepts(manifest.ArgTime) {
			c.errorf(rng, "Argument not available", "t is not in scope in %s.", sc.describe())
			return value{}, false
		}
		return c.emit(value{fn: func(f *frame) float64 { return f.t }}), true
	}
	if _, ok := accessorKind(name); ok {
		c.errorf(rng, "Missing index", "%q is an array argument; read one element with %s[i].", name, name)
		return value{}, false
	}
	if slot, ok := sc.locals[name]; ok {
		sc.used[name] = true
		return c.emit(value{fn: func(f *frame) float64 { return f.locals[slot] }}), true
	}
	if k, ok := c.consts[name]; ok {
		return c.emit(value{fn: literal(k), isConst: true, c: k}), true
	}
	if c.tc.IsBuiltin(name) {
		c.errorf(rng, "Function used as value", "%q is a function; call it as %s(...).", name, name)
		return value{}, false
	}
	if reservedName(name) {
		c.errorf(rng, "Reserved identifier", "Identifiers starting with %q are reserved for the engine.", manifest.ReservedPrefix)
		return value{}, false
	}
	if strings.Contains(name, "-") {
		c.errorf(rng, "Undefined identifier", "There is no name %q; write subtraction with spaces around '-'.", name)
		return value{}, false
	}
	c.errorf(rng, "Undefined identifier", "There is no local value, constant or argument named %q.", name)
	return value{}, false
}

// indexTerm is one [...] of an array reference: a literal key from a
// traversal, an expression from an index operator, or an unsupported
// attribute step.
type indexTerm struct {
	key  cty.Value
	expr hclsyntax.Expression
	attr string
	rng  hcl.Range
}

type arrayRef struct {
	root      string
	rootRange hcl.Range
	terms     []indexTerm
}

// arrayRefOf flattens nested traversals and index operators into a root
// name and its index terms.
func arrayRefOf(expr hclsyntax.Expression) (arrayRef, bool) {
	switch e := expr.(type) {
	case *hclsyntax.ScopeTraversalExpr:
		ref := arrayRef{root: e.Traversal.RootName(), rootRange: e.Traversal[0].SourceRange()}
		ref.terms = appendTraversal(ref.terms, e.Traversal[1:])
		return ref, true
	case *hclsyntax.RelativeTraversalExpr:
		ref, ok := arrayRefOf(e.Source)
		if !ok {
			return ref, false
		}
		ref.terms = appendTraversal(ref.terms, e.Traversal)
		return ref, true
	case *hclsyntax.IndexExpr:
		ref, ok := arrayRefOf(e.Collection)
		if !ok {
			return ref, false
		}
		ref.terms = append(ref.terms, indexTerm{expr: e.Key, rng: e.Key.Range()})
		return ref, true
	}
	return arrayRef{}, false
}

func appendTraversal(terms []indexTerm, trav hcl.Traversal) []indexTerm {
	for _, step := range trav {
		switch s := step.(type) {
		case hcl.TraverseIndex:
			terms = append(terms, indexTerm{key: s.Key, rng: s.SrcRange})
		case hcl.TraverseAttr:
			terms = append(terms, indexTerm{attr: s.Name, rng: s.SrcRange})
		default:
			terms = append(terms, indexTerm{attr: "*", rng: step.SourceRange()})
		}
	}
	return terms
}

func (c *compiler) compileArrayRead(ref arrayRef, sc *scope) (value, bool) {
	kind, ok := accessorKind(ref.root)
	if !ok {
		_, local := sc.locals[ref.root]
		if local || c.isConst(ref.root) || ref.root == manifest.ArgTime.Accessor() {
			c.errorf(ref.rootRange, "Not an array", "%q is a scalar and cannot be indexed.", ref.root)
		} else {
			c.errorf(ref.rootRange, "Undefined identifier", "There is no array argument named %q.", ref.root)
		}
		return value{}, false
	}
	idx, ok := c.compileIndex(ref, kind, sc)
	if !ok {
		return value{}, false
	}

	if idx.isConst && c.throughput() {
		k := idx.c
		switch kind {
		case manifest.ArgState:
			return c.emit(value{fn: func(f *frame) float64 { return f.state[k] }}), true
		case manifest.ArgParams:
			return c.emit(value{fn: func(f *frame) float64 { return f.param[k] }}), true
		default:
			return c.emit(value{fn: func(f *frame) float64 { return f.out[k] }}), true
		}
	}
	i := idx.fn
	switch kind {
	case manifest.ArgState:
		return c.emit(value{fn: func(f *frame) float64 { return f.state[i(f)] }}), true
	case manifest.ArgParams:
		return c.emit(value{fn: func(f *frame) float64 { return f.param[i(f)] }}), true
	default:
		return c.emit(value{fn: func(f *frame) float64 { return f.out[i(f)] }}), true
	}
}

// compileIndex resolves the index terms of an array reference. out accepts
// two terms in jacobian kernels, addressing out[row*len(state)+col].
func (c *compiler) compileIndex(ref arrayRef, kind manifest.ArgKind, sc *scope) (index, bool) {
	if !sc.accepts(kind) {
		c.errorf(ref.rootRange, "Argument not available", "%s is not in scope in %s.", ref.root, sc.describe())
		return index{}, false
	}

	maxDims := 1
	if kind == manifest.ArgOutput && sc.sig == manifest.JacobianEval {
		maxDims = 2
	}
	if len(ref.terms) == 0 {
		c.errorf(ref.rootRange, "Missing index", "%q is an array argument; read one element with %s[i].", ref.root, ref.root)
		return index{}, false
	}
	if len(ref.terms) > maxDims {
		extra := ref.terms[maxDims].rng
		if kind == manifest.ArgOutput {
			c.errorf(extra, "Too many indices", "Two-dimensional out[i][j] is only available to %s kernels.", manifest.JacobianEval)
		} else {
			c.errorf(extra, "Too many indices", "%q is one-dimensional.", ref.root)
		}
		return index{}, false
	}

	parts := make([]index, 0, len(ref.terms))
	for _, term := range ref.terms {
		part, ok := c.compileIndexTerm(term, sc)
		if !ok {
			return index{}, false
		}
		parts = append(parts, part)
	}
	c.nodes++

	if len(parts) == 1 {
		return parts[0], true
	}

	row, col := parts[0], parts[1]
	if row.isConst && col.isConst {
		r, k := row.c, col.c
		return index{fn: func(f *frame) int { return r*len(f.state) + k }}, true
	}
	rf, cf := row.fn, col.fn
	return index{fn: func(f *frame) int { return rf(f)*len(f.state) + cf(f) }}, true
}

func (c *compiler) compileIndexTerm(term indexTerm, sc *scope) (index, bool) {
	if term.attr != "" {
		c.errorf(term.rng, "Unsupported attribute access", "Use [index] to address array elements.")
		return index{}, false
	}

	var v value
	if term.expr != nil {
		var ok bool
		if v, ok = c.compileExpr(term.expr, sc); !ok {
			return index{}, false
		}
	} else {
		k, ok := numberOf(term.key)
		if !ok {
			c.errorf(term.rng, "Invalid index", "Array indices must be numbers.")
			return index{}, false
		}
		v = value{fn: literal(k), isConst: true, c: k}
	}

	if v.isConst {
		if v.c < 0 || v.c != math.Trunc(v.c) || v.c > math.MaxInt32 {
			c.errorf(term.rng, "Invalid index", "Constant index %v must be a non-negative integer.", v.c)
			return index{}, false
		}
		k := int(v.c)
		return index{fn: func(*frame) int { return k }, isConst: true, c: k}, true
	}
	fn := v.fn
	_, line, col := c.positions.Locate(term.rng.Start.Line, term.rng.Start.Column)
	return index{fn: func(f *frame) int {
		x := fn(f)
		if !(x >= 0) || x != math.Trunc(x) || x > math.MaxInt32 {
			panic(&IndexError{Value: x, Line: line, Column: col})
		}
		return int(x)
	}}, true
}

func (c *compiler) compileBinary(e *hclsyntax.BinaryOpExpr, sc *scope) (value, bool) {
	before := c.nodes
	lhs, okL := c.compileExpr(e.LHS, sc)
	rhs, okR := c.compileExpr(e.RHS, sc)
	if !okL || !okR {
		return value{}, false
	}
	l, r := lhs.fn, rhs.fn

	var fn evalFn
	switch e.Op {
	case hclsyntax.OpAdd:
		fn = c.arith(lhs, rhs, func(a, b float64) float64 { return a + b },
			func(f *frame) float64 { return l(f) + r(f) })
	case hclsyntax.OpSubtract:
		fn = c.arith(lhs, rhs, func(a, b float64) float64 { return a - b },
			func(f *frame) float64 { return l(f) - r(f) })
	case hclsyntax.OpMultiply:
		fn = c.arith(lhs, rhs, func(a, b float64) float64 { return a * b },
			func(f *frame) float64 { return l(f) * r(f) })
	case hclsyntax.OpDivide:
		fn = c.arith(lhs, rhs, func(a, b float64) float64 { return a / b },
			func(f *frame) float64 { return l(f) / r(f) })
		if rhs.isConst && rhs.c == 0 {
			c.warnf(e.RHS.Range(), "Division by zero", "The divisor is the constant 0; the result is ±Inf or NaN.")
		}
	case hclsyntax.OpModulo:
		fn = func(f *frame) float64 { return math.Mod(l(f), r(f)) }
	case hclsyntax.OpEqual:
		fn = func(f *frame) float64 { return truth(l(f) == r(f)) }
	case hclsyntax.OpNotEqual:
		fn = func(f *frame) float64 { return truth(l(f) != r(f)) }
	case hclsyntax.OpLessThan:
		fn = func(f *frame) float64 { return truth(l(f) < r(f)) }
	case hclsyntax.OpLessThanOrEqual:
		fn = func(f *frame) float64 { return truth(l(f) <= r(f)) }
	case hclsyntax.OpGreaterThan:
		fn = func(f *frame) float64 { return truth(l(f) > r(f)) }
	case hclsyntax.OpGreaterThanOrEqual:
		fn = func(f *frame) float64 { return truth(l(f) >= r(f)) }
	case hclsyntax.OpLogicalAnd:
		fn = func(f *frame) float64 { return truth(l(f) != 0 && r(f) != 0) }
	case hclsyntax.OpLogicalOr:
		fn = func(f *frame) float64 { return truth(l(f) != 0 || r(f) != 0) }
	default:
		c.errorf(e.Range(), "Unsupported operator", "This operator is not available in kernel bodies.")
		return value{}, false
	}

	if lhs.isConst && rhs.isConst {
		return c.fold(fn, before), true
	}
	return c.emit(value{fn: fn}), true
}

// arith picks a closure for an arithmetic operator, specialising constant
// operands when optimising for throughput. Every variant computes op(a, b)
// with a single float64 operation, so they agree bit for bit.
func (c *compiler) arith(lhs, rhs value, op func(a, b float64) float64, generic evalFn) evalFn {
	if !c.throughput() || lhs.isConst == rhs.isConst {
		return generic
	}
	// The constant operand is absorbed into the closure.
	c.nodes--
	if rhs.isConst {
		l, k := lhs.fn, rhs.c
		return func(f *frame) float64 { return op(l(f), k) }
	}
	k, r := lhs.c, rhs.fn
	return func(f *frame) float64 { return op(k, r(f)) }
}

func (c *compiler) compileUnary(e *hclsyntax.UnaryOpExpr, sc *scope) (value, bool) {
	before := c.nodes
	operand, ok := c.compileExpr(e.Val, sc)
	if !ok {
		return value{}, false
	}
	v := operand.fn

	var fn evalFn
	switch e.Op {
	case hclsyntax.OpNegate:
		fn = func(f *frame) float64 { return -v(f) }
	case hclsyntax.OpLogicalNot:
		fn = func(f *frame) float64 { return truth(v(f) == 0) }
	default:
		c.errorf(e.Range(), "Unsupported operator", "This operator is not available in kernel bodies.")
		return value{}, false
	}

	if operand.isConst {
		return c.fold(fn, before), true
	}
	return c.emit(value{fn: fn}), true
}

func (c *compiler) compileConditional(e *hclsyntax.ConditionalExpr, sc *scope) (value, bool) {
	before := c.nodes
	cond, okC := c.compileExpr(e.Condition, sc)
	afterCond := c.nodes
	yes, okY := c.compileExpr(e.TrueResult, sc)
	afterYes := c.nodes
	no, okN := c.compileExpr(e.FalseResult, sc)
	if !okC || !okY || !okN {
		return value{}, false
	}

	// A constant condition keeps only the branch it selects.
	if cond.isConst && c.throughput() {
		if cond.c != 0 {
			c.nodes = before + afterYes - afterCond
			return yes, true
		}
		c.nodes = before + c.nodes - afterYes
		return no, true
	}

	cf, yf, nf := cond.fn, yes.fn, no.fn
	fn := func(f *frame) float64 {
		if cf(f) != 0 {
			return yf(f)
		}
		return nf(f)
	}
	if cond.isConst && yes.isConst && no.isConst {
		return c.fold(fn, before), true
	}
	return c.emit(value{fn: fn}), true
}

func (c *compiler) compileCall(e *hclsyntax.FunctionCallExpr, sc *scope) (value, bool) {
	b, ok := c.tc.builtins[e.Name]
	if !ok {
		c.errorf(e.NameRange, "Call to unknown function", "There is no builtin function named %q.", e.Name)
		return value{}, false
	}
	if e.ExpandFinal {
		c.errorf(e.Range(), "Unsupported argument expansion", "Builtin functions take their arguments individually.")
		return value{}, false
	}
	if n := b.arity(); (n > 0 && len(e.Args) != n) || (n < 0 && len(e.Args) == 0) {
		want := fmt.Sprintf("%d", n)
		if n < 0 {
			want = "at least 1"
		}
		c.errorf(e.Range(), "Wrong number of arguments", "%s takes %s argument(s), got %d.", e.Name, want, len(e.Args))
		return value{}, false
	}

	before := c.nodes
	args := make([]value, 0, len(e.Args))
	allConst, failed := true, false
	for _, arg := range e.Args {
		v, ok := c.compileExpr(arg, sc)
		if !ok {
			failed = true
			continue
		}
		allConst = allConst && v.isConst
		args = append(args, v)
	}
	if failed {
		return value{}, false
	}

	var fn evalFn
	switch {
	case b.fn1 != nil:
		g, a := b.fn1, args[0].fn
		fn = func(f *frame) float64 { return g(a(f)) }
	case b.fn2 != nil:
		g, a0, a1 := b.fn2, args[0].fn, args[1].fn
		fn = func(f *frame) float64 { return g(a0(f), a1(f)) }
	default:
		g := b.fnN
		fns := make([]evalFn, len(args))
		for i, a := range args {
			fns[i] = a.fn
		}
		fn = func(f *frame) float64 {
			var buf [8]float64
			xs := buf[:0]
			for _, a := range fns {
				xs = append(xs, a(f))
			}
			return g(xs)
		}
	}

	if allConst {
		return c.fold(fn, before), true
	}
	return c.emit(value{fn: fn}), true
}
