package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/specialistvlad/modeljit/internal/ctxlog"
	"github.com/specialistvlad/modeljit/internal/engine"
	"github.com/specialistvlad/modeljit/internal/manifest"
	"github.com/specialistvlad/modeljit/internal/manifestfile"
)

// App wires the engine to manifest files and an output stream.
type App struct {
	outW   io.Writer
	logger *slog.Logger
	config *Config
	engine *engine.Engine
}

// NewApp is the constructor for the main application. Program output goes
// to outW and logs to logW.
func NewApp(outW, logW io.Writer, cfg *Config) (*App, error) {
	logger := newLogger(cfg, logW)
	logger.Debug("Logger configured successfully.")

	ec, err := cfg.engineConfig()
	if err != nil {
		return nil, err
	}
	ec.Logger = logger

	a := &App{
		outW:   outW,
		logger: logger,
		config: cfg,
		engine: engine.New(ec),
	}
	logger.Debug("Engine created.", "cache_capacity", ec.CacheCapacity, "opt", ec.OptLevel, "max_code_size", ec.MaxCodeSize)
	return a, nil
}

// Engine returns the application's engine. This is primarily for testing.
func (a *App) Engine() *engine.Engine { return a.engine }

func (a *App) context(ctx context.Context) context.Context {
	return ctxlog.WithLogger(ctx, a.logger)
}

// Build is the outcome of compiling one manifest file.
type Build struct {
	File     *manifestfile.File
	Handle   *engine.Handle
	Hit      bool
	Duration time.Duration
}

// build loads and compiles path. Diagnostics are printed to the output
// stream; the returned error is non-nil whenever no handle was produced.
func (a *App) build(ctx context.Context, path string) (*Build, error) {
	ctx = a.context(ctx)

	file, err := manifestfile.Load(ctx, path)
	if err != nil {
		return nil, err
	}

	compilesBefore := a.engine.Cache().Stats().Compiles
	start := time.Now()
	h, err := a.engine.Compile(ctx, file.Manifest)
	elapsed := time.Since(start)
	if err != nil {
		if errors.Is(err, engine.ErrCompile) {
			for _, line := range file.Format(err) {
				fmt.Fprintln(a.outW, line)
			}
		}
		return &Build{File: file, Duration: elapsed}, err
	}

	for _, w := range h.Warnings() {
		fmt.Fprintln(a.outW, file.FormatDiagnostic(w))
	}
	return &Build{
		File:     file,
		Handle:   h,
		Hit:      a.engine.Cache().Stats().Compiles == compilesBefore,
		Duration: elapsed,
	}, nil
}

// Compile compiles the manifest at path and reports the result.
func (a *App) Compile(ctx context.Context, path string) error {
	b, err := a.build(ctx, path)
	if err != nil {
		return err
	}
	defer b.Handle.Close()

	for _, ep := range b.Handle.EntryPoints() {
		sym, _ := b.Handle.Symbol(ep.Name)
		fmt.Fprintf(a.outW, "%s\t%s\t%s\n", ep.Name, ep.Signature, sym)
	}
	fmt.Fprintf(a.outW, "compiled %d entry points (fingerprint %s, %d closures) in %s\n",
		len(b.Handle.EntryPoints()), b.Handle.Fingerprint().Short(), b.Handle.Artifact().CodeSize(), b.Duration.Round(time.Microsecond))
	return nil
}

// EvalRequest names the entry point to call and its inputs.
type EvalRequest struct {
	EntryPoint string
	State      []float64
	Param      []float64
	T          float64
	// OutLen overrides the output length implied by the signature. It is
	// required for algebraic and root entry points.
	OutLen int
}

// Eval compiles the manifest at path, calls one entry point and prints
// its output.
func (a *App) Eval(ctx context.Context, path string, req EvalRequest) ([]float64, error) {
	b, err := a.build(ctx, path)
	if err != nil {
		return nil, err
	}
	defer b.Handle.Close()

	out, err := call(b.Handle, req)
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(a.outW, "%s = [%s]\n", req.EntryPoint, formatVector(out))
	return out, nil
}

func call(h *engine.Handle, req EvalRequest) ([]float64, error) {
	sig, err := h.Signature(req.EntryPoint)
	if err != nil {
		return nil, err
	}
	n := req.OutLen
	if n == 0 {
		n = sig.OutputLen(len(req.State))
	}
	if n <= 0 {
		return nil, fmt.Errorf("entry point %q (%s) needs an explicit output length", req.EntryPoint, sig)
	}
	out := make([]float64, n)

	// Kernels index their inputs directly; a short buffer is the caller's bug.
	switch sig {
	case manifest.StateDeriv:
		f, err := h.StateDeriv(req.EntryPoint)
		if err != nil {
			return nil, err
		}
		err = guard(func() { f(req.State, req.Param, req.T, out) })
		return out, err
	case manifest.AlgebraicEval:
		f, err := h.Algebraic(req.EntryPoint)
		if err != nil {
			return nil, err
		}
		err = guard(func() { f(req.State, req.Param, req.T, out) })
		return out, err
	case manifest.RootEval:
		f, err := h.Root(req.EntryPoint)
		if err != nil {
			return nil, err
		}
		err = guard(func() { f(req.State, req.Param, req.T, out) })
		return out, err
	case manifest.JacobianEval:
		f, err := h.Jacobian(req.EntryPoint)
		if err != nil {
			return nil, err
		}
		err = guard(func() { f(req.State, req.Param, req.T, out) })
		return out, err
	case manifest.InitEval:
		f, err := h.Init(req.EntryPoint)
		if err != nil {
			return nil, err
		}
		err = guard(func() { f(req.Param, out) })
		return out, err
	}
	return nil, fmt.Errorf("entry point %q has unsupported signature %s", req.EntryPoint, sig)
}

// guard turns an out-of-range access inside a kernel into an error.
func guard(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("kernel failed: %v", r)
		}
	}()
	fn()
	return nil
}

func formatVector(v []float64) string {
	parts := make([]string, len(v))
	for i, x := range v {
		parts[i] = strconv.FormatFloat(x, 'g', -1, 64)
	}
	return strings.Join(parts, ", ")
}
