package testutil

import (
	"context"
	"sync/atomic"

	"github.com/hashicorp/hcl/v2"
	"github.com/specialistvlad/modeljit/internal/assembler"
	"github.com/specialistvlad/modeljit/internal/diag"
	"github.com/specialistvlad/modeljit/internal/jit"
)

// CountingBackend wraps a backend and counts its compilations. When Gate is
// set, every compilation blocks until it is closed.
type CountingBackend struct {
	Inner jit.Backend
	Gate  chan struct{}

	calls atomic.Int32
}

// NewCountingBackend wraps a closure backend with a private toolchain.
func NewCountingBackend() *CountingBackend {
	return &CountingBackend{Inner: jit.NewClosureBackend(jit.Options{Toolchain: jit.NewToolchain()})}
}

// Compile implements jit.Backend.
func (b *CountingBackend) Compile(ctx context.Context, unit *assembler.Unit) (*jit.Artifact, hcl.Diagnostics) {
	b.calls.Add(1)
	if b.Gate != nil {
		<-b.Gate
	}
	return b.Inner.Compile(ctx, unit)
}

// Calls returns the number of compilations started.
func (b *CountingBackend) Calls() int { return int(b.calls.Load()) }

// StubBackend returns fixed diagnostics, and no artifact, for every unit.
type StubBackend struct {
	Diagnostics func(unit *assembler.Unit) hcl.Diagnostics
}

// Compile implements jit.Backend.
func (b *StubBackend) Compile(_ context.Context, unit *assembler.Unit) (*jit.Artifact, hcl.Diagnostics) {
	if b.Diagnostics == nil {
		return nil, nil
	}
	return nil, b.Diagnostics(unit)
}

// classified tags a stub diagnostic with a collector class.
type classified diag.Class

func (c classified) DiagnosticClass() diag.Class { return diag.Class(c) }

// PrologueError returns an error diagnostic positioned on the first line of
// the unit, which lies outside the model body.
func PrologueError(unit *assembler.Unit) hcl.Diagnostics {
	pos := hcl.Pos{Line: 1, Column: 1, Byte: 0}
	return hcl.Diagnostics{{
		Severity: hcl.DiagError,
		Summary:  "Broken prologue",
		Subject:  &hcl.Range{Filename: assembler.Filename, Start: pos, End: pos},
	}}
}

// ResourceFailure returns a diagnostic classified as resource exhaustion.
func ResourceFailure(*assembler.Unit) hcl.Diagnostics {
	return hcl.Diagnostics{{
		Severity: hcl.DiagError,
		Summary:  "Out of memory",
		Extra:    classified(diag.ClassResource),
	}}
}
