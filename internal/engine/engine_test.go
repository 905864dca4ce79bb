package engine

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/specialistvlad/modeljit/internal/assembler"
	"github.com/specialistvlad/modeljit/internal/diag"
	"github.com/specialistvlad/modeljit/internal/manifest"
	"github.com/specialistvlad/modeljit/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const oscillator = `
func rhs {
  out[0] = state[1]
  out[1] = -param[0] * state[0]
}

func jac {
  out[0][0] = 0
  out[0][1] = 1
  out[1][0] = -param[0]
  out[1][1] = 0
}

func start {
  out[0] = param[1]
  out[1] = 0
}
`

func oscillatorManifest(t *testing.T) *manifest.Manifest {
	return testutil.Manifest(t, oscillator,
		testutil.EP("rhs", manifest.StateDeriv),
		testutil.EP("jac", manifest.JacobianEval),
		testutil.EP("start", manifest.InitEval),
	)
}

func newTestEngine(t *testing.T, cfg Config, opts ...Option) *Engine {
	t.Helper()
	c, err := NewConfig(cfg)
	require.NoError(t, err)
	return New(c, opts...)
}

func TestCompile_EndToEnd(t *testing.T) {
	eng := newTestEngine(t, Config{})
	m := testutil.Manifest(t, "out[0] = 2.0*state[0] + param[0]", testutil.EP("f", manifest.StateDeriv))

	h, err := eng.Compile(context.Background(), m)
	require.NoError(t, err)
	defer h.Close()

	f, err := h.StateDeriv("f")
	require.NoError(t, err)
	out := make([]float64, 1)
	f([]float64{3}, []float64{1}, 0, out)
	assert.Equal(t, 7.0, out[0])
	assert.Empty(t, h.Warnings())
}

func TestCompile_TypedEntryPoints(t *testing.T) {
	eng := newTestEngine(t, Config{})
	h, err := eng.Compile(context.Background(), oscillatorManifest(t))
	require.NoError(t, err)
	defer h.Close()

	rhs, err := h.StateDeriv("rhs")
	require.NoError(t, err)
	jac, err := h.Jacobian("jac")
	require.NoError(t, err)
	start, err := h.Init("start")
	require.NoError(t, err)

	param := []float64{4, 1.5}
	y := make([]float64, 2)
	start(param, y)
	assert.Equal(t, []float64{1.5, 0}, y)

	dy := make([]float64, 2)
	rhs(y, param, 0, dy)
	assert.Equal(t, []float64{0, -6}, dy)

	n, err := h.OutputLen("jac", len(y))
	require.NoError(t, err)
	j := make([]float64, n)
	jac(y, param, 0, j)
	assert.Equal(t, []float64{0, 1, -4, 0}, j)

	sym, err := h.Symbol("rhs")
	require.NoError(t, err)
	assert.Equal(t, assembler.SymbolPrefix+"rhs", sym)
	assert.Len(t, h.EntryPoints(), 3)
}

func TestHandle_LookupErrors(t *testing.T) {
	eng := newTestEngine(t, Config{})
	h, err := eng.Compile(context.Background(), oscillatorManifest(t))
	require.NoError(t, err)
	defer h.Close()

	_, err = h.Algebraic("rhs")
	assert.ErrorIs(t, err, ErrSignatureMismatch)
	_, err = h.Root("nope")
	assert.ErrorIs(t, err, ErrUnknownEntryPoint)
	_, err = h.Signature("nope")
	assert.ErrorIs(t, err, ErrUnknownEntryPoint)

	sig, err := h.Signature("jac")
	require.NoError(t, err)
	assert.Equal(t, manifest.JacobianEval, sig)
}

func TestCompile_CacheHit(t *testing.T) {
	backend := testutil.NewCountingBackend()
	eng := newTestEngine(t, Config{}, WithBackend(backend))
	ctx, logs := testutil.Context(t)

	first, err := eng.Compile(ctx, oscillatorManifest(t))
	require.NoError(t, err)
	second, err := eng.Compile(ctx, oscillatorManifest(t))
	require.NoError(t, err)

	assert.Equal(t, 1, backend.Calls())
	assert.Same(t, first.Artifact(), second.Artifact())
	assert.Equal(t, first.Fingerprint(), second.Fingerprint())
	assert.EqualValues(t, 3, first.Artifact().Refs())

	stats := eng.Cache().Stats()
	assert.EqualValues(t, 1, stats.Hits)
	assert.EqualValues(t, 1, stats.Compiles)

	testutil.RequireLogged(t, logs,
		"state=requested", "state=assembling", "state=cache_lookup",
		"state=cache_miss", "state=compiling", "state=cache_hit", "state=ready",
	)

	require.NoError(t, first.Close())
	require.NoError(t, second.Close())
	assert.EqualValues(t, 1, first.Artifact().Refs())
}

func TestCompile_OptLevelIsPartOfTheKey(t *testing.T) {
	backend := testutil.NewCountingBackend()
	m := oscillatorManifest(t)

	fast := newTestEngine(t, Config{}, WithBackend(backend))
	slow := newTestEngine(t, Config{OptLevel: assembler.OptNone}, WithBackend(backend), WithCache(fast.Cache()))

	a, err := fast.Compile(context.Background(), m)
	require.NoError(t, err)
	defer a.Close()
	b, err := slow.Compile(context.Background(), m)
	require.NoError(t, err)
	defer b.Close()

	assert.NotEqual(t, a.Fingerprint(), b.Fingerprint())
	assert.Equal(t, 2, backend.Calls())
	assert.Equal(t, 2, fast.Cache().Len())
}

func TestCompile_ContractError(t *testing.T) {
	_, err := manifest.New("out[0] = 1", testutil.EP("__mdl_f", manifest.StateDeriv))
	require.ErrorIs(t, err, ErrContract)
	assert.False(t, Retryable(err))

	_, err = manifest.New("out[0] = 1", manifest.EntryPoint{Name: "f", Signature: 42})
	require.ErrorIs(t, err, ErrContract)
}

func TestCompile_CompileErrorIsInBodyCoordinates(t *testing.T) {
	backend := testutil.NewCountingBackend()
	eng := newTestEngine(t, Config{}, WithBackend(backend))
	m := testutil.Manifest(t, "x = 1\nout[0] = x + y", testutil.EP("f", manifest.StateDeriv))

	h, err := eng.Compile(context.Background(), m)
	require.Nil(t, h)
	require.ErrorIs(t, err, ErrCompile)
	assert.False(t, Retryable(err))
	testutil.RequireBodyError(t, err, "Undefined identifier", 2, 14)

	// Failures are not cached: the next request compiles again.
	_, err = eng.Compile(context.Background(), m)
	require.ErrorIs(t, err, ErrCompile)
	assert.Equal(t, 2, backend.Calls())
	assert.Zero(t, eng.Cache().Len())
}

func TestCompile_IncludeUnit(t *testing.T) {
	eng := newTestEngine(t, Config{IncludeUnit: true})
	m := testutil.Manifest(t, "out[0] = y", testutil.EP("f", manifest.StateDeriv))

	_, err := eng.Compile(context.Background(), m)
	var ce *diag.CompileError
	require.True(t, errors.As(err, &ce))
	assert.Contains(t, ce.Report.Unit, "pragma precision float64")
	assert.Contains(t, ce.Report.Unit, "out[0] = y")
}

func TestCompile_InternalError(t *testing.T) {
	eng := newTestEngine(t, Config{}, WithBackend(&testutil.StubBackend{Diagnostics: testutil.PrologueError}))
	m := testutil.Manifest(t, "out[0] = 1", testutil.EP("f", manifest.StateDeriv))

	_, err := eng.Compile(context.Background(), m)
	require.ErrorIs(t, err, ErrInternal)
	assert.NotErrorIs(t, err, ErrCompile)
	assert.False(t, Retryable(err))
}

func TestCompile_MissingArtifactIsInternal(t *testing.T) {
	eng := newTestEngine(t, Config{}, WithBackend(&testutil.StubBackend{}))
	m := testutil.Manifest(t, "out[0] = 1", testutil.EP("f", manifest.StateDeriv))

	_, err := eng.Compile(context.Background(), m)
	require.ErrorIs(t, err, ErrInternal)
}

func TestCompile_ResourceErrorIsRetryable(t *testing.T) {
	m := testutil.Manifest(t, "out[0] = state[0] + state[1] * state[2]", testutil.EP("f", manifest.StateDeriv))

	small := newTestEngine(t, Config{MaxCodeSize: 2})
	_, err := small.Compile(context.Background(), m)
	require.ErrorIs(t, err, ErrResourceExhausted)
	assert.True(t, Retryable(err))
	assert.Zero(t, small.Cache().Len())

	stub := newTestEngine(t, Config{}, WithBackend(&testutil.StubBackend{Diagnostics: testutil.ResourceFailure}))
	_, err = stub.Compile(context.Background(), m)
	require.ErrorIs(t, err, ErrResourceExhausted)
}

func TestCompile_SyntaxErrorInOnlyStatement(t *testing.T) {
	eng := newTestEngine(t, Config{})
	m := testutil.Manifest(t, "out[0] = 2 +* 3\n", testutil.EP("f", manifest.StateDeriv))

	h, err := eng.Compile(context.Background(), m)
	require.Nil(t, h)
	require.ErrorIs(t, err, ErrCompile)
	assert.NotErrorIs(t, err, ErrInternal)
	testutil.RequireBodyError(t, err, "Invalid expression", 1, 13)
}

func TestCompile_UnclosedConstructsAreCompileErrors(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		lines int
	}{
		{"paren", "out[0] = (1", 1},
		{"bracket", "out[0] = [1", 1},
		{"block comment", "out[0] = 1 /* oops", 1},
		{"quoted string", "out[0] = \"abc", 1},
		{"heredoc", "out[0] = 1\nout[1] = <<EOT\nabc", 3},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			eng := newTestEngine(t, Config{})
			m := testutil.Manifest(t, tc.body, testutil.EP("f", manifest.StateDeriv))

			_, err := eng.Compile(context.Background(), m)
			require.ErrorIs(t, err, ErrCompile)
			assert.False(t, Retryable(err))

			var ce *diag.CompileError
			require.True(t, errors.As(err, &ce))
			for _, d := range ce.Report.Errors() {
				assert.GreaterOrEqual(t, d.Line, 1, d.String())
				assert.LessOrEqual(t, d.Line, tc.lines, d.String())
			}
		})
	}
}

func TestCompile_EntryPointIsolation(t *testing.T) {
	eng := newTestEngine(t, Config{})
	m := testutil.Manifest(t, "func f {\n  out[0] = 1\n}\nfunc g {\n  out[0] = undefined_y\n}\n",
		testutil.EP("f", manifest.StateDeriv),
		testutil.EP("g", manifest.StateDeriv),
	)

	h, err := eng.Compile(context.Background(), m)
	require.Nil(t, h)
	require.ErrorIs(t, err, ErrCompile)
	testutil.RequireBodyError(t, err, "Undefined identifier", 5, 12)
	assert.Zero(t, eng.Cache().Len())
}

func TestCompile_EntryPointWithoutKernelIsInternal(t *testing.T) {
	eng := newTestEngine(t, Config{})
	m := testutil.Manifest(t, "func f {\n  out[0] = 1\n}",
		testutil.EP("f", manifest.StateDeriv),
		testutil.EP("g", manifest.RootEval),
	)

	h, err := eng.Compile(context.Background(), m)
	require.Nil(t, h)
	require.ErrorIs(t, err, ErrInternal)
	assert.Zero(t, eng.Cache().Len())
}

func TestCompile_Warnings(t *testing.T) {
	eng := newTestEngine(t, Config{})
	m := testutil.Manifest(t, "unused = 1\nout[0] = 1", testutil.EP("f", manifest.StateDeriv))

	h, err := eng.Compile(context.Background(), m)
	require.NoError(t, err)
	defer h.Close()

	warnings := h.Warnings()
	require.Len(t, warnings, 1)
	assert.Equal(t, "Unused local value", warnings[0].Summary)
	assert.Equal(t, diag.Warning, warnings[0].Severity)
	assert.Equal(t, 1, warnings[0].Line)
}

func TestCompileUncached_IsIdempotent(t *testing.T) {
	eng := newTestEngine(t, Config{})
	m := testutil.Manifest(t, "out[0] = sin(state[0]) * exp(param[0]) / 3 + t", testutil.EP("f", manifest.StateDeriv))

	a, err := eng.CompileUncached(context.Background(), m)
	require.NoError(t, err)
	defer a.Close()
	b, err := eng.CompileUncached(context.Background(), m)
	require.NoError(t, err)
	defer b.Close()

	assert.NotSame(t, a.Artifact(), b.Artifact())
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
	assert.Zero(t, eng.Cache().Len())

	fa, err := a.StateDeriv("f")
	require.NoError(t, err)
	fb, err := b.StateDeriv("f")
	require.NoError(t, err)

	state, param := []float64{0.3}, []float64{1.7}
	outA, outB := make([]float64, 1), make([]float64, 1)
	fa(state, param, 0.25, outA)
	fb(state, param, 0.25, outB)
	assert.Equal(t, math.Float64bits(outA[0]), math.Float64bits(outB[0]))
}

func TestCompile_ConcurrentRequestsShareOneCompilation(t *testing.T) {
	backend := testutil.NewCountingBackend()
	eng := newTestEngine(t, Config{}, WithBackend(backend))
	m := oscillatorManifest(t)

	const callers = 16
	handles := make([]*Handle, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			handles[i], errs[i] = eng.Compile(context.Background(), m)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, backend.Calls())
	for i, h := range handles {
		require.NoError(t, errs[i])
		assert.Same(t, handles[0].Artifact(), h.Artifact())
	}

	// Every handle is independently usable from its own goroutine.
	for _, h := range handles {
		wg.Add(1)
		go func(h *Handle) {
			defer wg.Done()
			defer h.Close()
			rhs, err := h.StateDeriv("rhs")
			if !assert.NoError(t, err) {
				return
			}
			out := make([]float64, 2)
			rhs([]float64{1, 2}, []float64{3}, 0, out)
			assert.Equal(t, []float64{2, -3}, out)
		}(h)
	}
	wg.Wait()
	assert.EqualValues(t, 1, handles[0].Artifact().Refs())
}

func TestHandle_CloneAndClose(t *testing.T) {
	eng := newTestEngine(t, Config{CacheCapacity: 1})
	h, err := eng.Compile(context.Background(), oscillatorManifest(t))
	require.NoError(t, err)

	clone, err := h.Clone()
	require.NoError(t, err)
	art := h.Artifact()
	assert.EqualValues(t, 3, art.Refs())

	require.NoError(t, h.Close())
	require.NoError(t, h.Close())
	_, err = h.StateDeriv("rhs")
	require.ErrorIs(t, err, ErrClosed)
	_, err = h.Clone()
	require.ErrorIs(t, err, ErrClosed)

	// Evicting the artifact does not invalidate the clone.
	other := testutil.Manifest(t, "out[0] = 1", testutil.EP("f", manifest.StateDeriv))
	h2, err := eng.Compile(context.Background(), other)
	require.NoError(t, err)
	defer h2.Close()
	assert.EqualValues(t, 1, art.Refs())

	rhs, err := clone.StateDeriv("rhs")
	require.NoError(t, err)
	out := make([]float64, 2)
	rhs([]float64{1, 2}, []float64{3}, 0, out)
	assert.Equal(t, []float64{2, -3}, out)

	require.NoError(t, clone.Close())
	assert.True(t, art.Released())
}

func TestCompile_CancelledContext(t *testing.T) {
	backend := testutil.NewCountingBackend()
	eng := newTestEngine(t, Config{}, WithBackend(backend))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := eng.Compile(ctx, oscillatorManifest(t))
	require.ErrorIs(t, err, context.Canceled)
	_, err = eng.CompileUncached(ctx, oscillatorManifest(t))
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, backend.Calls())
}

func TestNewConfig(t *testing.T) {
	cfg, err := NewConfig(Config{})
	require.NoError(t, err)
	assert.Equal(t, 64, cfg.CacheCapacity)
	assert.Equal(t, assembler.OptThroughput, cfg.OptLevel)
	assert.Positive(t, cfg.MaxCodeSize)

	_, err = NewConfig(Config{CacheCapacity: -1})
	assert.Error(t, err)
	_, err = NewConfig(Config{OptLevel: "ludicrous"})
	assert.Error(t, err)
	_, err = NewConfig(Config{MaxCodeSize: -5})
	assert.Error(t, err)
}
