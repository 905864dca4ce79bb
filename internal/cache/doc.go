// Package cache memoises compiled artifacts by translation-unit fingerprint.
//
// # Purpose
//
// Compiling a unit is expensive and models are recompiled far more often
// than they change. The cache keys artifacts by the SHA-256 fingerprint of
// the assembled unit, so any change to the body, the entry points or the
// compiler configuration is a different key.
//
// # Guarantees
//
//   - **At most one compile per fingerprint:** concurrent misses on the same
//     key join a single in-flight compilation (singleflight) and all see its
//     artifact or its failure.
//   - **Failures are not cached:** the next request compiles again.
//   - **Bounded:** entries are kept in least-recently-used order and the
//     oldest is evicted once the capacity is exceeded.
//   - **Eviction never invalidates a caller:** artifacts are reference
//     counted. The cache holds one reference per entry and every Ref holds
//     another, so an evicted artifact lives until its last Ref is released.
//
// # Concurrency Model
//
// The LRU list and index are guarded by one mutex that is never held while
// compiling. Distinct fingerprints compile concurrently. A caller whose
// context is cancelled stops waiting; the compilation it joined still
// completes and populates the cache for later callers.
//
// # Metrics
//
// PrometheusCollectors exposes hit, miss, compile, failure and eviction
// counters, the number of entries, and a compile-duration histogram.
package cache
