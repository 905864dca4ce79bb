package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/specialistvlad/modeljit/internal/assembler"
	"github.com/specialistvlad/modeljit/internal/jit"
	"github.com/specialistvlad/modeljit/internal/manifest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// compiler compiles a fixed body and counts its invocations.
type compiler struct {
	body  string
	calls atomic.Int32
	gate  chan struct{} // when set, compilations block until it is closed
	err   error
}

func newCompiler(t *testing.T, body string) *compiler {
	t.Helper()
	return &compiler{body: body}
}

func (c *compiler) compile(ctx context.Context) (*jit.Artifact, error) {
	c.calls.Add(1)
	if c.gate != nil {
		<-c.gate
	}
	if c.err != nil {
		return nil, c.err
	}
	m, err := manifest.New(c.body, manifest.EntryPoint{Name: "f", Signature: manifest.StateDeriv})
	if err != nil {
		return nil, err
	}
	unit, err := assembler.Assemble(m, assembler.Options{})
	if err != nil {
		return nil, err
	}
	art, diags := jit.NewClosureBackend(jit.Options{Toolchain: jit.NewToolchain()}).Compile(ctx, unit)
	if diags.HasErrors() {
		return nil, diags
	}
	return art, nil
}

func fingerprint(s string) assembler.Fingerprint {
	return assembler.FingerprintOf([]byte(s))
}

func TestGetOrCompile_MissThenHit(t *testing.T) {
	c := New(4)
	comp := newCompiler(t, "out[0] = 1")
	fp := fingerprint("a")

	first, err := c.GetOrCompile(context.Background(), fp, comp.compile)
	require.NoError(t, err)
	assert.False(t, first.Hit())

	second, err := c.GetOrCompile(context.Background(), fp, comp.compile)
	require.NoError(t, err)
	assert.True(t, second.Hit())
	assert.Same(t, first.Artifact(), second.Artifact())

	assert.EqualValues(t, 1, comp.calls.Load())
	assert.True(t, c.Contains(fp))

	// Cache slot plus two callers.
	assert.EqualValues(t, 3, first.Artifact().Refs())
	first.Release()
	first.Release()
	second.Release()
	assert.EqualValues(t, 1, second.Artifact().Refs())

	stats := c.Stats()
	assert.Equal(t, Stats{Hits: 1, Misses: 1, Compiles: 1, Entries: 1, Capacity: 4}, stats)
}

func TestGetOrCompile_AtMostOneCompilePerFingerprint(t *testing.T) {
	c := New(4)
	comp := newCompiler(t, "out[0] = state[0]")
	comp.gate = make(chan struct{})
	fp := fingerprint("shared")

	const callers = 32
	var (
		wg    sync.WaitGroup
		ready sync.WaitGroup
		refs  = make([]*Ref, callers)
		errs  = make([]error, callers)
	)
	ready.Add(callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ready.Done()
			refs[i], errs[i] = c.GetOrCompile(context.Background(), fp, comp.compile)
		}(i)
	}
	ready.Wait()
	// Give the callers time to join the flight before it completes.
	time.Sleep(20 * time.Millisecond)
	close(comp.gate)
	wg.Wait()

	require.EqualValues(t, 1, comp.calls.Load())
	for i := range refs {
		require.NoError(t, errs[i])
		assert.Same(t, refs[0].Artifact(), refs[i].Artifact())
	}
	assert.EqualValues(t, callers+1, refs[0].Artifact().Refs())
	for _, ref := range refs {
		ref.Release()
	}
	assert.EqualValues(t, 1, refs[0].Artifact().Refs())
}

func TestGetOrCompile_FailuresAreNotCached(t *testing.T) {
	c := New(4)
	comp := newCompiler(t, "out[0] = 1")
	comp.err = errors.New("boom")
	fp := fingerprint("a")

	_, err := c.GetOrCompile(context.Background(), fp, comp.compile)
	require.EqualError(t, err, "boom")
	assert.False(t, c.Contains(fp))

	comp.err = nil
	ref, err := c.GetOrCompile(context.Background(), fp, comp.compile)
	require.NoError(t, err)
	defer ref.Release()

	assert.EqualValues(t, 2, comp.calls.Load())
	assert.EqualValues(t, 1, c.Stats().Failures)
}

func TestGetOrCompile_EvictionKeepsReferencesValid(t *testing.T) {
	c := New(1)
	a, err := c.GetOrCompile(context.Background(), fingerprint("a"), newCompiler(t, "out[0] = 2").compile)
	require.NoError(t, err)

	b, err := c.GetOrCompile(context.Background(), fingerprint("b"), newCompiler(t, "out[0] = 3").compile)
	require.NoError(t, err)
	defer b.Release()

	assert.False(t, c.Contains(fingerprint("a")))
	assert.True(t, c.Contains(fingerprint("b")))
	assert.Equal(t, 1, c.Len())
	assert.EqualValues(t, 1, c.Stats().Evictions)

	// The evicted artifact is still usable through the caller's reference.
	require.False(t, a.Artifact().Released())
	sym, ok := a.Artifact().Lookup(assembler.SymbolFor("f"))
	require.True(t, ok)
	out := make([]float64, 1)
	sym.Kernel(nil, nil, 0, out)
	assert.Equal(t, 2.0, out[0])

	a.Release()
	assert.True(t, a.Artifact().Released())
}

func TestGetOrCompile_LeastRecentlyUsedIsEvicted(t *testing.T) {
	c := New(2)
	get := func(key string) {
		ref, err := c.GetOrCompile(context.Background(), fingerprint(key), newCompiler(t, "out[0] = 1").compile)
		require.NoError(t, err)
		ref.Release()
	}

	get("a")
	get("b")
	get("a") // a is now the most recent
	get("c")

	assert.True(t, c.Contains(fingerprint("a")))
	assert.False(t, c.Contains(fingerprint("b")))
	assert.True(t, c.Contains(fingerprint("c")))
}

func TestGetOrCompile_CancelledWaiter(t *testing.T) {
	c := New(4)
	comp := newCompiler(t, "out[0] = 1")
	comp.gate = make(chan struct{})
	fp := fingerprint("slow")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.GetOrCompile(ctx, fp, comp.compile)
		done <- err
	}()

	require.Eventually(t, func() bool { return comp.calls.Load() == 1 }, time.Second, time.Millisecond)
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	// The abandoned compilation still completes and is cached.
	close(comp.gate)
	require.Eventually(t, func() bool { return c.Contains(fp) }, time.Second, time.Millisecond)

	ref, err := c.GetOrCompile(context.Background(), fp, comp.compile)
	require.NoError(t, err)
	defer ref.Release()
	assert.True(t, ref.Hit())
	assert.EqualValues(t, 1, comp.calls.Load())
}

func TestGetOrCompile_CancelledBeforeStart(t *testing.T) {
	c := New(4)
	comp := newCompiler(t, "out[0] = 1")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.GetOrCompile(ctx, fingerprint("a"), comp.compile)
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, comp.calls.Load())
}

func TestPurge(t *testing.T) {
	c := New(4)
	ref, err := c.GetOrCompile(context.Background(), fingerprint("a"), newCompiler(t, "out[0] = 1").compile)
	require.NoError(t, err)

	c.Purge()
	assert.Zero(t, c.Len())
	assert.False(t, ref.Artifact().Released())
	assert.EqualValues(t, 1, ref.Artifact().Refs())

	ref.Release()
	assert.True(t, ref.Artifact().Released())
}

func TestPrometheusCollectors(t *testing.T) {
	c := New(1)
	reg := prometheus.NewRegistry()
	reg.MustRegister(c.PrometheusCollectors()...)

	for _, key := range []string{"a", "a", "b"} {
		ref, err := c.GetOrCompile(context.Background(), fingerprint(key), newCompiler(t, "out[0] = 1").compile)
		require.NoError(t, err)
		ref.Release()
	}

	assert.Equal(t, 1.0, testutil.ToFloat64(c.metrics.Hits))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.metrics.Misses))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.metrics.Compiles))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.metrics.Evictions))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.metrics.Entries))
	assert.Equal(t, 1, testutil.CollectAndCount(c.metrics.CompileDuration))

	mfs, err := reg.Gather()
	require.NoError(t, err)
	assert.Len(t, mfs, 7)
}
