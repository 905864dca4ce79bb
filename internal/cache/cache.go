package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/specialistvlad/modeljit/internal/assembler"
	"github.com/specialistvlad/modeljit/internal/ctxlog"
	"github.com/specialistvlad/modeljit/internal/jit"
	"golang.org/x/sync/singleflight"
)

// DefaultCapacity is the number of artifacts kept when no capacity is given.
const DefaultCapacity = 64

// CompileFunc produces the artifact for a fingerprint on a miss. On success
// the cache takes over the artifact's first reference.
type CompileFunc func(ctx context.Context) (*jit.Artifact, error)

// Stats is a point-in-time snapshot of the cache counters.
type Stats struct {
	Hits      int64
	Misses    int64
	Compiles  int64
	Failures  int64
	Evictions int64
	Entries   int
	Capacity  int
}

type entry struct {
	fp  assembler.Fingerprint
	art *jit.Artifact
}

// Cache is a bounded LRU of compiled artifacts.
type Cache struct {
	capacity int

	mu      sync.Mutex
	lru     *list.List // front is most recently used; values are *entry
	entries map[assembler.Fingerprint]*list.Element

	flights singleflight.Group
	counts  counters
	metrics *cacheMetrics
}

// New creates an empty cache. A capacity below one means DefaultCapacity.
func New(capacity int) *Cache {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	c := &Cache{
		capacity: capacity,
		lru:      list.New(),
		entries:  make(map[assembler.Fingerprint]*list.Element),
	}
	c.metrics = newCacheMetrics(&c.counts, c.Len)
	return c
}

// PrometheusCollectors returns the cache's metrics for registration.
func (c *Cache) PrometheusCollectors() []prometheus.Collector {
	return c.metrics.PrometheusCollectors()
}

// Ref is one caller's reference to a cached artifact. It must be released
// exactly once; further calls to Release are no-ops.
type Ref struct {
	art  *jit.Artifact
	hit  bool
	once sync.Once
}

// Artifact returns the referenced artifact.
func (r *Ref) Artifact() *jit.Artifact { return r.art }

// Hit reports whether the request was served without waiting for a
// compilation.
func (r *Ref) Hit() bool { return r.hit }

// Release drops the reference.
func (r *Ref) Release() {
	r.once.Do(r.art.Release)
}

// GetOrCompile returns a reference to the artifact for fp, calling compile
// on a miss. Concurrent misses for the same fingerprint share one call.
func (c *Cache) GetOrCompile(ctx context.Context, fp assembler.Fingerprint, compile CompileFunc) (*Ref, error) {
	logger := ctxlog.FromContext(ctx).With("fingerprint", fp.Short())

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if art, ok := c.acquire(fp); ok {
			c.counts.hits.Add(1)
			logger.Debug("Cache hit.", "artifact", art.ID())
			return &Ref{art: art, hit: true}, nil
		}
		c.counts.misses.Add(1)

		// The compilation must not die with the caller that happened to
		// start it: other callers may be waiting on the same flight.
		flightCtx := context.WithoutCancel(ctx)
		ch := c.flights.DoChan(fp.String(), func() (any, error) {
			return c.compile(flightCtx, fp, compile)
		})

		select {
		case <-ctx.Done():
			logger.Debug("Stopped waiting for compilation.", "error", ctx.Err())
			return nil, ctx.Err()
		case res := <-ch:
			if res.Err != nil {
				return nil, res.Err
			}
			art := res.Val.(*jit.Artifact)
			if art.TryRetain() {
				return &Ref{art: art}, nil
			}
			// Evicted and released before this caller took a reference.
			logger.Debug("Compiled artifact already evicted, retrying.", "artifact", art.ID())
		}
	}
}

// compile runs inside a flight. It rechecks the index first so that a
// flight starting just after another one finished does not compile twice.
func (c *Cache) compile(ctx context.Context, fp assembler.Fingerprint, compile CompileFunc) (*jit.Artifact, error) {
	if art, ok := c.peek(fp); ok {
		return art, nil
	}

	c.counts.compiles.Add(1)
	start := time.Now()
	art, err := compile(ctx)
	c.metrics.CompileDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		c.counts.failures.Add(1)
		return nil, err
	}
	return c.insert(ctx, fp, art), nil
}

// acquire looks fp up, marks it recently used and takes a reference.
func (c *Cache) acquire(fp assembler.Fingerprint) (*jit.Artifact, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[fp]
	if !ok {
		return nil, false
	}
	c.lru.MoveToFront(el)
	return el.Value.(*entry).art.Retain(), true
}

func (c *Cache) peek(fp assembler.Fingerprint) (*jit.Artifact, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[fp]
	if !ok {
		return nil, false
	}
	return el.Value.(*entry).art, true
}

// insert stores art under fp, evicting from the back as needed, and
// returns the artifact now cached for fp.
func (c *Cache) insert(ctx context.Context, fp assembler.Fingerprint, art *jit.Artifact) *jit.Artifact {
	logger := ctxlog.FromContext(ctx)

	c.mu.Lock()
	if el, ok := c.entries[fp]; ok {
		c.mu.Unlock()
		art.Release()
		return el.Value.(*entry).art
	}
	c.entries[fp] = c.lru.PushFront(&entry{fp: fp, art: art})

	var evicted []*entry
	for c.lru.Len() > c.capacity {
		el := c.lru.Back()
		e := c.lru.Remove(el).(*entry)
		delete(c.entries, e.fp)
		evicted = append(evicted, e)
	}
	c.mu.Unlock()

	for _, e := range evicted {
		c.counts.evictions.Add(1)
		logger.Debug("Evicted artifact.", "fingerprint", e.fp.Short(), "artifact", e.art.ID(), "refs", e.art.Refs()-1)
		e.art.Release()
	}
	return art
}

// Contains reports whether fp is cached, without touching its recency.
func (c *Cache) Contains(fp assembler.Fingerprint) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[fp]
	return ok
}

// Len returns the number of cached artifacts.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Capacity returns the maximum number of cached artifacts.
func (c *Cache) Capacity() int { return c.capacity }

// Purge drops every entry. Outstanding Refs stay valid.
func (c *Cache) Purge() {
	c.mu.Lock()
	var dropped []*entry
	for el := c.lru.Front(); el != nil; el = el.Next() {
		dropped = append(dropped, el.Value.(*entry))
	}
	c.lru.Init()
	clear(c.entries)
	c.mu.Unlock()

	for _, e := range dropped {
		e.art.Release()
	}
}

// Stats returns a snapshot of the counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:      c.counts.hits.Load(),
		Misses:    c.counts.misses.Load(),
		Compiles:  c.counts.compiles.Load(),
		Failures:  c.counts.failures.Load(),
		Evictions: c.counts.evictions.Load(),
		Entries:   c.Len(),
		Capacity:  c.capacity,
	}
}
