package manifest

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	m, err := New("out[0] = 1;", EntryPoint{Name: "f", Signature: StateDeriv})
	require.NoError(t, err)
	assert.Equal(t, "out[0] = 1;", m.Body())
	require.Len(t, m.EntryPoints(), 1)

	ep, ok := m.Lookup("f")
	require.True(t, ok)
	assert.Equal(t, StateDeriv, ep.Signature)

	_, ok = m.Lookup("g")
	assert.False(t, ok)
}

func TestNew_CopiesInputs(t *testing.T) {
	eps := []EntryPoint{{Name: "f", Signature: StateDeriv}}
	m, err := New("", eps...)
	require.NoError(t, err)

	eps[0].Name = "mutated"
	assert.Equal(t, "f", m.EntryPoints()[0].Name)

	got := m.EntryPoints()
	got[0].Signature = RootEval
	assert.Equal(t, StateDeriv, m.EntryPoints()[0].Signature)
}

func TestNew_ContractErrors(t *testing.T) {
	tests := []struct {
		name string
		eps  []EntryPoint
	}{
		{"No entry points", nil},
		{"Unsupported signature", []EntryPoint{{Name: "f", Signature: Signature(42)}}},
		{"Zero signature", []EntryPoint{{Name: "f"}}},
		{"Invalid identifier", []EntryPoint{{Name: "1f", Signature: StateDeriv}}},
		{"Dash in name", []EntryPoint{{Name: "f-g", Signature: StateDeriv}}},
		{"Reserved prefix", []EntryPoint{{Name: "__mdl_ep_f", Signature: StateDeriv}}},
		{"Accessor name", []EntryPoint{{Name: "state", Signature: StateDeriv}}},
		{"Builtin name", []EntryPoint{{Name: "sin", Signature: StateDeriv}}},
		{"Keyword", []EntryPoint{{Name: "func", Signature: StateDeriv}}},
		{"Duplicate", []EntryPoint{{Name: "f", Signature: StateDeriv}, {Name: "f", Signature: RootEval}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New("", tt.eps...)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrContract))

			var ce *ContractError
			assert.True(t, errors.As(err, &ce))
		})
	}
}

func TestSignature(t *testing.T) {
	for _, sig := range Signatures() {
		parsed, err := ParseSignature(sig.String())
		require.NoError(t, err)
		assert.Equal(t, sig, parsed)
		assert.NotEmpty(t, sig.Args())
	}

	assert.Equal(t, []ArgKind{ArgState, ArgParams, ArgTime, ArgOutput}, StateDeriv.Args())
	assert.Equal(t, []ArgKind{ArgParams, ArgOutput}, InitEval.Args())
	assert.False(t, InitEval.Accepts(ArgState))
	assert.True(t, JacobianEval.Accepts(ArgTime))

	assert.Equal(t, 9, JacobianEval.OutputLen(3))
	assert.Equal(t, 3, StateDeriv.OutputLen(3))
	assert.Equal(t, -1, RootEval.OutputLen(3))

	_, err := ParseSignature("hessian_eval")
	assert.ErrorIs(t, err, ErrContract)
	assert.Nil(t, Signature(0).Args())
}
