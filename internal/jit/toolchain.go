package jit

import (
	"sync"
	"sync/atomic"

	"github.com/dc0d/onexit"
)

// Toolchain is the process-wide compiler context. It is created on first
// use, holds the read-only builtin table, and is shut down when the process
// exits. Compilations never mutate it apart from its counters.
type Toolchain struct {
	builtins map[string]builtin
	compiles atomic.Int64
	closed   atomic.Bool
}

var (
	toolchainOnce sync.Once
	toolchain     *Toolchain
)

// DefaultToolchain returns the shared toolchain, initialising it and
// registering its teardown on first call.
func DefaultToolchain() *Toolchain {
	toolchainOnce.Do(func() {
		toolchain = NewToolchain()
		onexit.Register(toolchain.Shutdown)
	})
	return toolchain
}

// NewToolchain returns an independent toolchain. Tests use it to avoid
// sharing counters with the process-wide instance.
func NewToolchain() *Toolchain {
	return &Toolchain{builtins: defaultBuiltins()}
}

// Shutdown marks the toolchain closed; later compilations fail.
func (tc *Toolchain) Shutdown() {
	tc.closed.Store(true)
}

// Closed reports whether Shutdown has run.
func (tc *Toolchain) Closed() bool {
	return tc.closed.Load()
}

// Compiles returns the number of compilations started on this toolchain.
func (tc *Toolchain) Compiles() int64 {
	return tc.compiles.Load()
}

// IsBuiltin reports whether name is a builtin function.
func (tc *Toolchain) IsBuiltin(name string) bool {
	_, ok := tc.builtins[name]
	return ok
}

// BuiltinNames lists the builtin functions, unordered.
func (tc *Toolchain) BuiltinNames() []string {
	names := make([]string, 0, len(tc.builtins))
	for name := range tc.builtins {
		names = append(names, name)
	}
	return names
}
