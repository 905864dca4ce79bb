// Package jit compiles assembled translation units into callable kernels.
//
// The Backend interface is the seam between the engine and a concrete
// toolchain. ClosureBackend is the toolchain shipped with the engine: it
// lexes the unit with the HCL native-syntax scanner, parses each statement's
// expressions with hclsyntax, resolves names against the entry point's
// canonical signature, and lowers every expression into a tree of Go
// closures over float64 buffers. Diagnostics are hcl.Diagnostics positioned
// in unit coordinates; the diag package maps them back to the body.
//
// # Kernel language
//
// Statements end at ';' or at a newline outside brackets (a trailing binary
// operator, '=' or ',' continues the statement on the next line):
//
//	out[0] = 2.0*state[0] + param[0];
//	k = param[1] * exp(-t)
//	out[1] = -k * state[1]
//
// `func NAME { ... }` groups statements into a named kernel; statements
// outside any func form the anonymous kernel, which every entry point
// without a func of its own binds to. `const NAME = expr` declares a
// compile-time constant. Comparison and logical operators yield 1 or 0 and
// treat any non-zero operand as true.
//
// HCL identifiers may contain '-', so `a-b` is one identifier: write `a - b`.
//
// # Numeric model
//
// Every value is a float64 and every operation rounds to float64; constant
// folding evaluates the same closures used at run time, so an optimised
// kernel is bit-identical to an unoptimised one.
package jit
