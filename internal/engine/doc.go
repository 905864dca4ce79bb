// Package engine is the public face of the runtime model compiler.
//
// An Engine turns a manifest (an equation body plus the entry points a
// solver needs) into a Handle of typed, callable kernels:
//
//	eng := engine.New(cfg)
//	h, err := eng.Compile(ctx, m)
//	if err != nil { ... }
//	defer h.Close()
//	f, _ := h.StateDeriv("f")
//	f(state, param, t, out)
//
// # Request lifecycle
//
// Every Compile call walks the same states, each logged at debug level:
//
//	Requested → Assembling → CacheLookup → CacheHit → Ready
//	                                     → CacheMiss → Compiling → Ready | Failed
//
// Assembly fails only on contract violations (manifest.ErrContract). A
// compilation either yields every requested entry point or fails as a
// whole; there is no partial success.
//
// # Errors
//
//   - ErrContract: the manifest or an entry point is malformed.
//   - ErrCompile: the body has errors; the *diag.CompileError carries them
//     in body coordinates. Retrying cannot help.
//   - ErrInternal: a diagnostic pointed outside the body, or an exported
//     entry point had no kernel. Retrying cannot help.
//   - ErrResourceExhausted: the toolchain ran out of resources. Retryable.
//
// Handles are reference counted through the compilation cache: closing a
// handle never invalidates another handle, and cache eviction never
// invalidates a handle.
package engine
