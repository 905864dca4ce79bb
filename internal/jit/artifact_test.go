package jit

import (
	"testing"

	"github.com/specialistvlad/modeljit/internal/manifest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArtifact_RefCounting(t *testing.T) {
	art := mustCompile(t, "out[0] = 1", ep("f", manifest.StateDeriv))
	require.EqualValues(t, 1, art.Refs())

	var released int
	art.OnRelease(func(a *Artifact) {
		assert.Same(t, art, a)
		released++
	})

	art.Retain()
	art.Release()
	assert.False(t, art.Released())
	assert.Zero(t, released)

	art.Release()
	assert.True(t, art.Released())
	assert.Equal(t, 1, released)

	assert.Panics(t, func() { art.Retain() })
}

func TestArtifact_OverRelease(t *testing.T) {
	art := mustCompile(t, "out[0] = 1", ep("f", manifest.StateDeriv))
	art.Release()
	assert.Panics(t, art.Release)
}

func TestArtifact_IDsAreUnique(t *testing.T) {
	a := mustCompile(t, "out[0] = 1", ep("f", manifest.StateDeriv))
	b := mustCompile(t, "out[0] = 1", ep("f", manifest.StateDeriv))
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
	assert.NotEqual(t, a.ID(), b.ID())
}

func TestToolchain_Builtins(t *testing.T) {
	tc := NewToolchain()
	for _, name := range tc.BuiltinNames() {
		assert.True(t, tc.IsBuiltin(name))
		assert.True(t, manifest.IsReserved(name), "builtin %q must be reserved for bodies", name)
	}
	assert.False(t, tc.IsBuiltin("frob"))

	assert.False(t, tc.Closed())
	tc.Shutdown()
	assert.True(t, tc.Closed())
}

func TestDefaultToolchain_IsShared(t *testing.T) {
	assert.Same(t, DefaultToolchain(), DefaultToolchain())
}

func TestArtifact_TryRetain(t *testing.T) {
	art := mustCompile(t, "out[0] = 1", ep("f", manifest.StateDeriv))
	require.True(t, art.TryRetain())
	assert.EqualValues(t, 2, art.Refs())

	art.Release()
	art.Release()
	assert.False(t, art.TryRetain())
	assert.Zero(t, art.Refs())
}
