package engine

import (
	"fmt"
	"sync"

	"github.com/specialistvlad/modeljit/internal/assembler"
	"github.com/specialistvlad/modeljit/internal/diag"
	"github.com/specialistvlad/modeljit/internal/jit"
	"github.com/specialistvlad/modeljit/internal/manifest"
)

type (
	// StateDerivFunc computes dy/dt = f(y, p, t) into out (len(state)).
	StateDerivFunc func(state, param []float64, t float64, out []float64)
	// AlgebraicFunc evaluates algebraic variables into out.
	AlgebraicFunc func(state, param []float64, t float64, out []float64)
	// RootFunc evaluates event root functions into out.
	RootFunc func(state, param []float64, t float64, out []float64)
	// JacobianFunc computes df/dy into out, row-major with stride len(state).
	JacobianFunc func(state, param []float64, t float64, out []float64)
	// InitFunc computes the initial state from the parameters into out.
	InitFunc func(param, out []float64)
)

// Handle is a compiled model: a set of typed entry points backed by one
// shared artifact. Kernels may be called concurrently as long as every
// call writes to its own output buffer. A Handle must be closed once it is
// no longer needed; kernels obtained from it must not be called afterwards.
//
// Kernels index the caller's slices directly. A model whose index depends on
// state or param values panics when that index is out of range, with a
// *jit.IndexError when it is negative or fractional. Callers evaluating
// untrusted models recover around the call.
type Handle struct {
	art         *jit.Artifact
	fingerprint assembler.Fingerprint
	entryPoints map[string]manifest.EntryPoint
	order       []manifest.EntryPoint
	warnings    []diag.Diagnostic

	mu      sync.Mutex
	closed  bool
	release func()
}

func newHandle(m *manifest.Manifest, unit *assembler.Unit, art *jit.Artifact, release func()) *Handle {
	eps := m.EntryPoints()
	h := &Handle{
		art:         art,
		fingerprint: unit.Fingerprint,
		entryPoints: make(map[string]manifest.EntryPoint, len(eps)),
		order:       eps,
		release:     release,
	}
	for _, ep := range eps {
		h.entryPoints[ep.Name] = ep
	}
	// Artifacts keep raw warnings; the unit maps them to body coordinates.
	h.warnings = diag.NewCollector(unit, false).Collect(art.Warnings()).Warnings()
	return h
}

// Fingerprint identifies the translation unit the handle was compiled from.
func (h *Handle) Fingerprint() assembler.Fingerprint { return h.fingerprint }

// Artifact returns the shared artifact behind the handle.
func (h *Handle) Artifact() *jit.Artifact { return h.art }

// Warnings returns the compiler warnings, in body coordinates.
func (h *Handle) Warnings() []diag.Diagnostic {
	return append([]diag.Diagnostic(nil), h.warnings...)
}

// EntryPoints lists the compiled entry points in manifest order.
func (h *Handle) EntryPoints() []manifest.EntryPoint {
	return append([]manifest.EntryPoint(nil), h.order...)
}

// Signature returns the signature an entry point was compiled for.
func (h *Handle) Signature(name string) (manifest.Signature, error) {
	ep, ok := h.entryPoints[name]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownEntryPoint, name)
	}
	return ep.Signature, nil
}

// Symbol returns the reserved symbol an entry point is exported under.
func (h *Handle) Symbol(name string) (string, error) {
	if _, ok := h.entryPoints[name]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownEntryPoint, name)
	}
	return assembler.SymbolFor(name), nil
}

// OutputLen returns the length out must have for an entry point of a model
// with nState state variables, or -1 when it depends on the model.
func (h *Handle) OutputLen(name string, nState int) (int, error) {
	sig, err := h.Signature(name)
	if err != nil {
		return 0, err
	}
	return sig.OutputLen(nState), nil
}

func (h *Handle) kernel(name string, want manifest.Signature) (jit.Kernel, error) {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	ep, ok := h.entryPoints[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEntryPoint, name)
	}
	if ep.Signature != want {
		return nil, fmt.Errorf("%w: %q is %s, not %s", ErrSignatureMismatch, name, ep.Signature, want)
	}
	sym, ok := h.art.Lookup(assembler.SymbolFor(name))
	if !ok {
		// Engine.build verified every export, so this is an engine bug.
		return nil, fmt.Errorf("%w: symbol for %q missing from artifact %s", ErrInternal, name, h.art.ID())
	}
	return sym.Kernel, nil
}

// StateDeriv returns the state_deriv entry point called name.
func (h *Handle) StateDeriv(name string) (StateDerivFunc, error) {
	k, err := h.kernel(name, manifest.StateDeriv)
	if err != nil {
		return nil, err
	}
	return StateDerivFunc(k), nil
}

// Algebraic returns the algebraic_eval entry point called name.
func (h *Handle) Algebraic(name string) (AlgebraicFunc, error) {
	k, err := h.kernel(name, manifest.AlgebraicEval)
	if err != nil {
		return nil, err
	}
	return AlgebraicFunc(k), nil
}

// Root returns the root_eval entry point called name.
func (h *Handle) Root(name string) (RootFunc, error) {
	k, err := h.kernel(name, manifest.RootEval)
	if err != nil {
		return nil, err
	}
	return RootFunc(k), nil
}

// Jacobian returns the jacobian_eval entry point called name.
func (h *Handle) Jacobian(name string) (JacobianFunc, error) {
	k, err := h.kernel(name, manifest.JacobianEval)
	if err != nil {
		return nil, err
	}
	return JacobianFunc(k), nil
}

// Init returns the init_eval entry point called name.
func (h *Handle) Init(name string) (InitFunc, error) {
	k, err := h.kernel(name, manifest.InitEval)
	if err != nil {
		return nil, err
	}
	return func(param, out []float64) { k(nil, param, 0, out) }, nil
}

// Clone returns an independent handle to the same artifact. Each handle
// must be closed separately.
func (h *Handle) Clone() (*Handle, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrClosed
	}

	art := h.art.Retain()
	return &Handle{
		art:         art,
		fingerprint: h.fingerprint,
		entryPoints: h.entryPoints,
		order:       h.order,
		warnings:    h.warnings,
		release:     art.Release,
	}, nil
}

// Close releases the handle's reference to its artifact. Closing twice is
// a no-op.
func (h *Handle) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	release := h.release
	h.mu.Unlock()

	release()
	return nil
}
