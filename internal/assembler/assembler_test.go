package assembler

import (
	"strings"
	"testing"

	"github.com/specialistvlad/modeljit/internal/manifest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustManifest(t *testing.T, body string, eps ...manifest.EntryPoint) *manifest.Manifest {
	t.Helper()
	m, err := manifest.New(body, eps...)
	require.NoError(t, err)
	return m
}

func TestAssemble_Layout(t *testing.T) {
	body := "out[0] = 2.0*state[0] + param[0];"
	m := mustManifest(t, body,
		manifest.EntryPoint{Name: "f", Signature: manifest.StateDeriv},
		manifest.EntryPoint{Name: "g", Signature: manifest.RootEval},
	)

	unit, err := Assemble(m, Options{})
	require.NoError(t, err)

	src := string(unit.Source)
	lines := strings.Split(src, "\n")
	require.Equal(t, body, lines[unit.Positions.BodyStartLine-1], "body must start at column 1 of its line")
	assert.Contains(t, src, "pragma precision float64\n")
	assert.Contains(t, src, "pragma optimize throughput\n")
	assert.Contains(t, src, "export __mdl_ep_f = f : state_deriv\n")
	assert.Contains(t, src, "export __mdl_ep_g = g : root_eval\n")
	assert.Less(t, strings.Index(src, "__mdl_ep_f"), strings.Index(src, "__mdl_ep_g"), "exports follow manifest order")

	require.Len(t, unit.Exports, 2)
	assert.Equal(t, "__mdl_ep_f", unit.Exports[0].Symbol)
	assert.Equal(t, 1, unit.Positions.BodyLines)
}

func TestAssemble_FingerprintDeterminism(t *testing.T) {
	ep := manifest.EntryPoint{Name: "f", Signature: manifest.StateDeriv}
	a, err := Assemble(mustManifest(t, "out[0] = state[0];", ep), Options{})
	require.NoError(t, err)
	b, err := Assemble(mustManifest(t, "out[0] = state[0];", ep), Options{OptLevel: OptThroughput})
	require.NoError(t, err)

	require.Equal(t, a.Source, b.Source)
	assert.Equal(t, a.Fingerprint, b.Fingerprint)

	// Any change to the unit, including compiler configuration, changes the key.
	c, err := Assemble(mustManifest(t, "out[0] = state[0];", ep), Options{OptLevel: OptNone})
	require.NoError(t, err)
	assert.NotEqual(t, a.Fingerprint, c.Fingerprint)

	d, err := Assemble(mustManifest(t, "out[0] = state[0] ;", ep), Options{})
	require.NoError(t, err)
	assert.NotEqual(t, a.Fingerprint, d.Fingerprint)
}

func TestAssemble_InvalidOptLevel(t *testing.T) {
	m := mustManifest(t, "", manifest.EntryPoint{Name: "f", Signature: manifest.StateDeriv})
	_, err := Assemble(m, Options{OptLevel: "size"})
	require.Error(t, err)
}

func TestPositionMap_Locate(t *testing.T) {
	body := "a = 1\nb = 2\n\nout[0] = a + b"
	m := mustManifest(t, body, manifest.EntryPoint{Name: "f", Signature: manifest.StateDeriv})
	unit, err := Assemble(m, Options{})
	require.NoError(t, err)

	pm := unit.Positions
	require.Equal(t, 4, pm.BodyLines)

	region, _, _ := pm.Locate(1, 1)
	assert.Equal(t, RegionPrologue, region)

	region, line, col := pm.Locate(pm.BodyStartLine+3, 7)
	assert.Equal(t, RegionBody, region)
	assert.Equal(t, 4, line)
	assert.Equal(t, 7, col)

	region, _, _ = pm.Locate(pm.BodyStartLine+4, 1)
	assert.Equal(t, RegionEpilogue, region)

	assert.Equal(t, pm.BodyStartLine+3, pm.UnitLine(4))
}

func TestCountLines(t *testing.T) {
	assert.Equal(t, 0, countLines(""))
	assert.Equal(t, 1, countLines("x"))
	assert.Equal(t, 1, countLines("x\n"))
	assert.Equal(t, 2, countLines("x\ny"))
}
