// Package assembler builds the translation unit handed to the JIT backend.
//
// A unit is the concatenation of a fixed prologue (precision and
// optimisation pragmas, aliasing hints, builtin constants), the caller's
// equation body verbatim, and an epilogue exporting every requested entry
// point under a reserved, collision-free symbol name. Alongside the text the
// assembler returns a PositionMap so diagnostics can be reported in body
// coordinates, and a Fingerprint used as the compilation cache key.
//
// Assembly is a pure function of the manifest and the options.
package assembler
