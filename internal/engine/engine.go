package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/specialistvlad/modeljit/internal/assembler"
	"github.com/specialistvlad/modeljit/internal/cache"
	"github.com/specialistvlad/modeljit/internal/ctxlog"
	"github.com/specialistvlad/modeljit/internal/diag"
	"github.com/specialistvlad/modeljit/internal/jit"
	"github.com/specialistvlad/modeljit/internal/manifest"
)

// State is a step of the compile request lifecycle.
type State string

const (
	StateRequested   State = "requested"
	StateAssembling  State = "assembling"
	StateCacheLookup State = "cache_lookup"
	StateCacheHit    State = "cache_hit"
	StateCacheMiss   State = "cache_miss"
	StateCompiling   State = "compiling"
	StateReady       State = "ready"
	StateFailed      State = "failed"
)

// Option customises an Engine.
type Option func(*Engine)

// WithBackend replaces the closure backend, e.g. with a counting fake.
func WithBackend(b jit.Backend) Option {
	return func(e *Engine) { e.backend = b }
}

// WithCache shares a cache between engines.
func WithCache(c *cache.Cache) Option {
	return func(e *Engine) { e.cache = c }
}

// Engine compiles manifests into handles. It is safe for concurrent use.
type Engine struct {
	cfg     Config
	backend jit.Backend
	cache   *cache.Cache
	logger  *slog.Logger
}

// New creates an engine. cfg must come from NewConfig; a nil cfg means
// DefaultConfig().
func New(cfg *Config, opts ...Option) *Engine {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	e := &Engine{cfg: *cfg, logger: cfg.Logger}
	for _, opt := range opts {
		opt(e)
	}
	if e.backend == nil {
		e.backend = jit.NewClosureBackend(jit.Options{MaxCodeSize: cfg.MaxCodeSize})
	}
	if e.cache == nil {
		e.cache = cache.New(cfg.CacheCapacity)
	}
	return e
}

// Cache returns the engine's compilation cache.
func (e *Engine) Cache() *cache.Cache { return e.cache }

// Config returns a copy of the engine's configuration.
func (e *Engine) Config() Config { return e.cfg }

// PrometheusCollectors returns the engine's metrics for registration.
func (e *Engine) PrometheusCollectors() []prometheus.Collector {
	return e.cache.PrometheusCollectors()
}

// request carries the per-call logging context through the state machine.
type request struct {
	logger *slog.Logger
	state  State
}

func (r *request) to(s State, args ...any) {
	r.state = s
	r.logger.Debug("Compile request state changed.", append([]any{"state", s}, args...)...)
}

func (e *Engine) newRequest(ctx context.Context, m *manifest.Manifest) (context.Context, *request) {
	ctx = ctxlog.Ensure(ctx, e.logger)
	logger := ctxlog.FromContext(ctx).With("request", uuid.NewString())
	req := &request{logger: logger}
	req.to(StateRequested, "entry_points", len(m.EntryPoints()))
	return ctxlog.WithLogger(ctx, logger), req
}

func (e *Engine) assemble(req *request, m *manifest.Manifest) (*assembler.Unit, error) {
	req.to(StateAssembling)
	unit, err := assembler.Assemble(m, assembler.Options{OptLevel: e.cfg.OptLevel})
	if err != nil {
		req.to(StateFailed, "error", err)
		return nil, err
	}
	req.logger = req.logger.With("fingerprint", unit.Fingerprint.Short())
	return unit, nil
}

// Compile returns a handle for m, compiling it unless an artifact for the
// same translation unit is cached.
func (e *Engine) Compile(ctx context.Context, m *manifest.Manifest) (*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ctx, req := e.newRequest(ctx, m)

	unit, err := e.assemble(req, m)
	if err != nil {
		return nil, err
	}

	req.to(StateCacheLookup)
	ref, err := e.cache.GetOrCompile(ctx, unit.Fingerprint, func(ctx context.Context) (*jit.Artifact, error) {
		// The flight may outlive this call, so it logs through its own request.
		flight := &request{logger: req.logger}
		flight.to(StateCacheMiss)
		return e.build(ctx, flight, unit)
	})
	if err != nil {
		req.to(StateFailed, "error", err)
		return nil, err
	}
	if ref.Hit() {
		req.to(StateCacheHit, "artifact", ref.Artifact().ID())
	}

	h := newHandle(m, unit, ref.Artifact(), ref.Release)
	req.to(StateReady, "artifact", ref.Artifact().ID(), "warnings", len(h.warnings))
	return h, nil
}

// CompileUncached compiles m without consulting or populating the cache.
func (e *Engine) CompileUncached(ctx context.Context, m *manifest.Manifest) (*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ctx, req := e.newRequest(ctx, m)

	unit, err := e.assemble(req, m)
	if err != nil {
		return nil, err
	}
	art, err := e.build(ctx, req, unit)
	if err != nil {
		req.to(StateFailed, "error", err)
		return nil, err
	}

	h := newHandle(m, unit, art, art.Release)
	req.to(StateReady, "artifact", art.ID(), "warnings", len(h.warnings))
	return h, nil
}

// build runs the backend and turns its diagnostics into the request's
// outcome. The returned artifact carries one reference owned by the caller.
func (e *Engine) build(ctx context.Context, req *request, unit *assembler.Unit) (*jit.Artifact, error) {
	req.to(StateCompiling)
	art, raw := e.backend.Compile(ctx, unit)

	report := diag.NewCollector(unit, e.cfg.IncludeUnit).Collect(raw)
	if err := report.Err(); err != nil {
		if art != nil {
			art.Release()
		}
		return nil, err
	}
	if art == nil {
		return nil, &diag.InternalError{Diagnostics: []diag.Diagnostic{{
			Severity: diag.Error,
			Summary:  "Missing artifact",
			Detail:   "The backend reported no errors but returned no artifact.",
		}}}
	}

	// No partial success: every requested entry point must be present.
	for _, ex := range unit.Exports {
		if _, ok := art.Lookup(ex.Symbol); !ok {
			art.Release()
			return nil, &diag.InternalError{Diagnostics: []diag.Diagnostic{{
				Severity: diag.Error,
				Summary:  jit.SummaryEntryPointMissing,
				Detail:   fmt.Sprintf("The artifact does not export %s for entry point %q.", ex.Symbol, ex.Name),
			}}}
		}
	}
	return art, nil
}
