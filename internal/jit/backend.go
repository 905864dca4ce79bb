package jit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/specialistvlad/modeljit/internal/assembler"
	"github.com/specialistvlad/modeljit/internal/ctxlog"
	"github.com/specialistvlad/modeljit/internal/diag"
	"github.com/specialistvlad/modeljit/internal/manifest"
)

// DefaultMaxCodeSize caps the number of closures in one artifact.
const DefaultMaxCodeSize = 1 << 20

// SummaryEntryPointMissing is the summary of the diagnostic raised when an
// exported symbol has no kernel to bind to.
const SummaryEntryPointMissing = "Entry point missing"

// Backend turns a translation unit into a loaded artifact. On success the
// returned diagnostics hold warnings only and the caller owns the artifact's
// first reference.
type Backend interface {
	Compile(ctx context.Context, unit *assembler.Unit) (*Artifact, hcl.Diagnostics)
}

// contractViolation marks a diagnostic as an internal contract violation
// between the assembled unit and the backend.
type contractViolation struct{ symbol string }

func (contractViolation) DiagnosticClass() diag.Class { return diag.ClassInternal }

// resourceExhausted marks a diagnostic raised by a compiler resource limit.
type resourceExhausted struct{}

func (resourceExhausted) DiagnosticClass() diag.Class { return diag.ClassResource }

// Options configures a ClosureBackend.
type Options struct {
	// Toolchain defaults to DefaultToolchain().
	Toolchain *Toolchain
	// MaxCodeSize defaults to DefaultMaxCodeSize.
	MaxCodeSize int
}

// ClosureBackend compiles units into trees of Go closures.
type ClosureBackend struct {
	tc          *Toolchain
	maxCodeSize int
}

var _ Backend = (*ClosureBackend)(nil)

// NewClosureBackend returns a backend with defaults applied to opts.
func NewClosureBackend(opts Options) *ClosureBackend {
	if opts.Toolchain == nil {
		opts.Toolchain = DefaultToolchain()
	}
	if opts.MaxCodeSize <= 0 {
		opts.MaxCodeSize = DefaultMaxCodeSize
	}
	return &ClosureBackend{tc: opts.Toolchain, maxCodeSize: opts.MaxCodeSize}
}

// Toolchain returns the toolchain the backend compiles with.
func (b *ClosureBackend) Toolchain() *Toolchain { return b.tc }

// Compile implements Backend.
func (b *ClosureBackend) Compile(ctx context.Context, unit *assembler.Unit) (*Artifact, hcl.Diagnostics) {
	logger := ctxlog.FromContext(ctx).With("fingerprint", unit.Fingerprint.Short())

	if b.tc.Closed() {
		return nil, hcl.Diagnostics{{
			Severity: hcl.DiagError,
			Summary:  "Toolchain unavailable",
			Detail:   "The compiler toolchain has been shut down.",
			Extra:    resourceExhausted{},
		}}
	}
	b.tc.compiles.Add(1)
	start := time.Now()

	prog, diags := parseUnit(unit.Source, unit.Positions)
	c := &compiler{
		tc:        b.tc,
		opt:       assembler.OptThroughput,
		positions: unit.Positions,
		consts:    make(map[string]float64),
		diags:     diags,
	}
	c.confineDirectives(prog, unit.Positions)
	c.applyPragmas(prog.pragmas)
	c.declareConsts(prog.consts)
	symbols := c.link(prog, unit.Exports)

	all := dedupe(c.diags)
	if c.nodes > b.maxCodeSize {
		all = append(all, &hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  "Code size limit exceeded",
			Detail:   fmt.Sprintf("The unit needs %d closures; the limit is %d.", c.nodes, b.maxCodeSize),
			Extra:    resourceExhausted{},
		})
	}
	if all.HasErrors() {
		logger.Debug("Unit failed to compile.", "diagnostics", len(all), "elapsed", time.Since(start))
		return nil, all
	}

	art := newArtifact(unit.Fingerprint, symbols, all, c.nodes)
	logger.Debug("Unit compiled.",
		"artifact", art.ID(),
		"symbols", len(symbols),
		"code_size", c.nodes,
		"warnings", len(all),
		"elapsed", time.Since(start),
	)
	return art, all
}

// confineDirectives rejects pragma and export lines written in the body.
// Only the assembler emits them.
func (c *compiler) confineDirectives(prog *program, pos assembler.PositionMap) {
	inBody := func(r hcl.Range) bool {
		region, _, _ := pos.Locate(r.Start.Line, r.Start.Column)
		return region == assembler.RegionBody
	}

	pragmas := prog.pragmas[:0]
	for _, p := range prog.pragmas {
		if inBody(p.rng) {
			c.errorf(p.rng, "Reserved declaration", "pragma lines are written by the engine and cannot appear in a model body.")
			continue
		}
		pragmas = append(pragmas, p)
	}
	prog.pragmas = pragmas

	exports := prog.exports[:0]
	for _, ex := range prog.exports {
		if inBody(ex.rng) {
			c.errorf(ex.rng, "Reserved declaration", "export lines are written by the engine and cannot appear in a model body.")
			continue
		}
		exports = append(exports, ex)
	}
	prog.exports = exports
}

func (c *compiler) applyPragmas(pragmas []pragmaDecl) {
	sawPrecision := false
	for _, p := range pragmas {
		switch p.name {
		case "precision":
			sawPrecision = true
			if len(p.args) != 1 || p.args[0] != "float64" {
				c.errorf(p.rng, "Unsupported precision", "Only `pragma precision float64` is supported.")
			}
		case "optimize":
			if len(p.args) != 1 {
				c.errorf(p.rng, "Invalid pragma", "Expected `pragma optimize LEVEL`.")
				continue
			}
			level, err := assembler.ParseOptLevel(p.args[0])
			if err != nil {
				c.errorf(p.rng, "Invalid pragma", "%s", err)
				continue
			}
			c.opt = level
		case "noalias":
			for _, arg := range p.args {
				if _, ok := accessorKind(arg); !ok {
					c.warnf(p.rng, "Unknown noalias target", "%q is not an array argument.", arg)
				}
			}
		default:
			c.warnf(p.rng, "Unknown pragma", "Pragma %q is ignored.", p.name)
		}
	}
	if !sawPrecision {
		c.diags = append(c.diags, &hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  "Missing precision pragma",
			Detail:   "The unit does not declare its floating-point precision.",
			Extra:    contractViolation{},
		})
	}
}

func (c *compiler) declareConsts(consts []constDecl) {
	sc := &scope{constOnly: true}
	for _, d := range consts {
		switch {
		case isAccessor(d.name) || reservedName(d.name) && !isPrologueConst(d.name) || c.tc.IsBuiltin(d.name):
			c.errorf(d.nameRange, "Reserved identifier", "%q is reserved and cannot name a constant.", d.name)
			continue
		case !manifest.IsIdentifier(d.name):
			c.errorf(d.nameRange, "Invalid constant name", "%q is not a valid identifier.", d.name)
			continue
		case c.isConst(d.name):
			c.errorf(d.nameRange, "Duplicate constant", "Constant %q is already declared.", d.name)
			continue
		}
		v, ok := c.compileExpr(d.value, sc)
		if !ok {
			continue
		}
		if !v.isConst {
			c.errorf(d.value.Range(), "Non-constant value", "Constant %q must be computable at compile time.", d.name)
			continue
		}
		c.consts[d.name] = v.c
	}
}

// isPrologueConst reports the constants the assembler declares in every
// unit. Bodies cannot redeclare them: the duplicate check rejects that.
func isPrologueConst(name string) bool {
	return name == "pi" || name == "e"
}

type compiledKey struct {
	decl *kernelDecl
	sig  manifest.Signature
}

type compiledKernel struct {
	kernel Kernel
	nodes  int
}

// link compiles every exported kernel for the signature it is exported with
// and checks that each symbol the unit promises was produced. Kernels that
// no export binds are still compiled so their errors surface.
func (c *compiler) link(prog *program, requested []assembler.Export) map[string]*Symbol {
	symbols := make(map[string]*Symbol)
	compiled := make(map[compiledKey]compiledKernel)
	// A body that failed to parse may have lost the statements an export
	// would bind to. Its own errors explain the failure.
	userErrors := hasUserErrors(c.diags)
	attempted := make(map[string]bool)
	bound := make(map[*kernelDecl]bool)

	for _, ex := range prog.exports {
		if !strings.HasPrefix(ex.symbol, assembler.SymbolPrefix) {
			c.errorf(ex.rng, "Invalid export symbol", "Exported symbols must start with %q.", assembler.SymbolPrefix)
			continue
		}
		if attempted[ex.symbol] {
			c.errorf(ex.rng, "Duplicate export", "Symbol %q is exported twice.", ex.symbol)
			continue
		}
		attempted[ex.symbol] = true

		decl := prog.kernels[ex.target]
		if decl == nil && len(prog.anon.stmts) > 0 {
			decl = prog.anon
		}
		if decl == nil && userErrors {
			continue
		}
		if decl == nil {
			r := ex.rng
			c.diags = append(c.diags, &hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  SummaryEntryPointMissing,
				Detail:   fmt.Sprintf("No kernel named %q and no top-level statements to bind symbol %s to.", ex.target, ex.symbol),
				Subject:  &r,
				Extra:    contractViolation{symbol: ex.symbol},
			})
			continue
		}
		bound[decl] = true

		key := compiledKey{decl: decl, sig: ex.signature}
		ck, ok := compiled[key]
		if !ok {
			ck.kernel, ck.nodes = c.compileKernel(decl, ex.signature)
			compiled[key] = ck
		}
		symbols[ex.symbol] = &Symbol{
			Name:       ex.symbol,
			EntryPoint: ex.target,
			Signature:  ex.signature,
			Kernel:     ck.kernel,
			Nodes:      ck.nodes,
		}
	}

	for _, decl := range prog.order {
		if bound[decl] {
			continue
		}
		c.compileKernel(decl, 0)
		c.warnf(decl.nameRange, "Unused kernel", "Kernel %q is not bound to any entry point.", decl.name)
	}
	if len(prog.anon.stmts) > 0 && !bound[prog.anon] {
		c.compileKernel(prog.anon, 0)
		c.warnf(prog.anon.stmts[0].rng, "Unbound statements",
			"Statements outside a func block only run for entry points without a kernel of their own.")
	}

	for _, req := range requested {
		sym, ok := symbols[req.Symbol]
		switch {
		case !ok && !attempted[req.Symbol]:
			c.diags = append(c.diags, &hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  SummaryEntryPointMissing,
				Detail:   fmt.Sprintf("The unit does not export symbol %s.", req.Symbol),
				Extra:    contractViolation{symbol: req.Symbol},
			})
		case ok && sym.Signature != req.Signature:
			c.diags = append(c.diags, &hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Export signature mismatch",
				Detail:   fmt.Sprintf("Symbol %s is exported as %s, expected %s.", req.Symbol, sym.Signature, req.Signature),
				Extra:    contractViolation{symbol: req.Symbol},
			})
		}
	}
	return symbols
}

func hasUserErrors(diags hcl.Diagnostics) bool {
	for _, d := range diags {
		if d.Severity == hcl.DiagError && diag.ClassOf(d) == diag.ClassUser {
			return true
		}
	}
	return false
}

type diagKey struct {
	summary string
	detail  string
	start   hcl.Pos
}

// dedupe drops repeats of the same message at the same place, which arise
// when one kernel is compiled for several signatures.
func dedupe(diags hcl.Diagnostics) hcl.Diagnostics {
	seen := make(map[diagKey]bool, len(diags))
	out := make(hcl.Diagnostics, 0, len(diags))
	for _, d := range diags {
		k := diagKey{summary: d.Summary, detail: d.Detail}
		if d.Subject != nil {
			k.start = d.Subject.Start
		}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, d)
	}
	return out
}
