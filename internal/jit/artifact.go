package jit

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/hashicorp/hcl/v2"
	"github.com/specialistvlad/modeljit/internal/assembler"
	"github.com/specialistvlad/modeljit/internal/manifest"
)

// Kernel is the uniform native form of every entry point. InitEval kernels
// ignore state and t. Like any Go slice access, a kernel panics when an index
// falls outside the buffers it is given; an index computed from state or
// param that is negative or fractional panics with an *IndexError.
type Kernel func(state, param []float64, t float64, out []float64)

// Symbol is one resolved export of an artifact.
type Symbol struct {
	// Name is the reserved symbol, e.g. "__mdl_ep_f".
	Name string
	// EntryPoint is the manifest entry-point name.
	EntryPoint string
	Signature  manifest.Signature
	Kernel     Kernel
	// Nodes is the number of closures the kernel is built from.
	Nodes int
}

// Artifact is an immutable compiled unit. It is shared by reference count:
// the creator holds the first reference, and the artifact is released when
// the count drops to zero.
type Artifact struct {
	id          uuid.UUID
	fingerprint assembler.Fingerprint
	symbols     map[string]*Symbol
	warnings    hcl.Diagnostics
	codeSize    int

	refs        atomic.Int64
	releaseOnce sync.Once
	released    atomic.Bool
	onRelease   []func(*Artifact)
}

func newArtifact(fp assembler.Fingerprint, symbols map[string]*Symbol, warnings hcl.Diagnostics, codeSize int) *Artifact {
	a := &Artifact{
		id:          uuid.New(),
		fingerprint: fp,
		symbols:     symbols,
		warnings:    warnings,
		codeSize:    codeSize,
	}
	a.refs.Store(1)
	return a
}

// ID uniquely identifies this artifact instance.
func (a *Artifact) ID() uuid.UUID { return a.id }

// Fingerprint is the digest of the unit the artifact was compiled from.
func (a *Artifact) Fingerprint() assembler.Fingerprint { return a.fingerprint }

// CodeSize is the total number of closures in the artifact.
func (a *Artifact) CodeSize() int { return a.codeSize }

// Warnings returns the warning diagnostics produced by the compilation.
func (a *Artifact) Warnings() hcl.Diagnostics {
	return append(hcl.Diagnostics(nil), a.warnings...)
}

// Lookup resolves a reserved symbol name.
func (a *Artifact) Lookup(symbol string) (*Symbol, bool) {
	s, ok := a.symbols[symbol]
	return s, ok
}

// Symbols lists the exported symbol names in sorted order.
func (a *Artifact) Symbols() []string {
	names := make([]string, 0, len(a.symbols))
	for name := range a.symbols {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// OnRelease registers fn to run once the last reference is dropped. It must
// be called before the artifact is shared.
func (a *Artifact) OnRelease(fn func(*Artifact)) {
	a.onRelease = append(a.onRelease, fn)
}

// Retain adds a reference and returns a for chaining.
func (a *Artifact) Retain() *Artifact {
	if a.refs.Add(1) <= 1 {
		panic("jit: retain of released artifact")
	}
	return a
}

// TryRetain adds a reference unless the artifact has already been released.
func (a *Artifact) TryRetain() bool {
	for {
		n := a.refs.Load()
		if n <= 0 {
			return false
		}
		if a.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// Release drops a reference. Dropping the last one releases the artifact.
func (a *Artifact) Release() {
	n := a.refs.Add(-1)
	if n < 0 {
		panic("jit: artifact released more times than retained")
	}
	if n == 0 {
		a.releaseOnce.Do(func() {
			a.released.Store(true)
			for _, fn := range a.onRelease {
				fn(a)
			}
		})
	}
}

// Refs returns the current reference count.
func (a *Artifact) Refs() int64 { return a.refs.Load() }

// Released reports whether the last reference has been dropped.
func (a *Artifact) Released() bool { return a.released.Load() }
