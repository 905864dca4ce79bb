package manifest

import (
	"fmt"
	"strings"
)

// ArgKind is the role of one argument of a compiled entry point.
type ArgKind int

const (
	// ArgState is the array of floating-point state variables.
	ArgState ArgKind = iota + 1
	// ArgParams is the array of floating-point parameters.
	ArgParams
	// ArgTime is the scalar independent variable.
	ArgTime
	// ArgOutput is the array the kernel writes its results into.
	ArgOutput
)

// Accessor returns the identifier under which the kernel body reads the argument.
func (k ArgKind) Accessor() string {
	switch k {
	case ArgState:
		return "state"
	case ArgParams:
		return "param"
	case ArgTime:
		return "t"
	case ArgOutput:
		return "out"
	}
	return ""
}

func (k ArgKind) String() string {
	if a := k.Accessor(); a != "" {
		return a
	}
	return fmt.Sprintf("ArgKind(%d)", int(k))
}

// Signature is one of the canonical entry-point shapes the solvers consume.
type Signature int

const (
	// StateDeriv evaluates dx/dt: (state, param, t, out[len(state)]).
	StateDeriv Signature = iota + 1
	// AlgebraicEval evaluates algebraic variables: (state, param, t, out).
	AlgebraicEval
	// RootEval evaluates event/root functions: (state, param, t, out).
	RootEval
	// JacobianEval evaluates d(rates)/d(state) row-major:
	// (state, param, t, out[len(state)*len(state)]).
	JacobianEval
	// InitEval computes initial state from parameters: (param, out).
	InitEval
)

var signatureNames = map[Signature]string{
	StateDeriv:    "state_deriv",
	AlgebraicEval: "algebraic_eval",
	RootEval:      "root_eval",
	JacobianEval:  "jacobian_eval",
	InitEval:      "init_eval",
}

var solverArgs = []ArgKind{ArgState, ArgParams, ArgTime, ArgOutput}

// Signatures lists every supported signature in declaration order.
func Signatures() []Signature {
	return []Signature{StateDeriv, AlgebraicEval, RootEval, JacobianEval, InitEval}
}

// Valid reports whether s is one of the canonical shapes.
func (s Signature) Valid() bool {
	_, ok := signatureNames[s]
	return ok
}

func (s Signature) String() string {
	if name, ok := signatureNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Signature(%d)", int(s))
}

// Args returns the canonical argument order. It returns nil for an
// unsupported signature.
func (s Signature) Args() []ArgKind {
	switch s {
	case StateDeriv, AlgebraicEval, RootEval, JacobianEval:
		return append([]ArgKind(nil), solverArgs...)
	case InitEval:
		return []ArgKind{ArgParams, ArgOutput}
	}
	return nil
}

// Accepts reports whether the body of an entry point with this signature may
// read the given argument.
func (s Signature) Accepts(kind ArgKind) bool {
	for _, k := range s.Args() {
		if k == kind {
			return true
		}
	}
	return false
}

// OutputLen documents the number of elements the caller must provide in the
// output buffer for a model with nState state variables. AlgebraicEval and
// RootEval outputs are sized by the model, so -1 is returned for them.
func (s Signature) OutputLen(nState int) int {
	switch s {
	case StateDeriv, InitEval:
		return nState
	case JacobianEval:
		return nState * nState
	}
	return -1
}

// ParseSignature maps the textual signature names used in manifest files
// and translation units back to a Signature.
func ParseSignature(name string) (Signature, error) {
	want := strings.ToLower(strings.TrimSpace(name))
	for sig, n := range signatureNames {
		if n == want {
			return sig, nil
		}
	}
	return 0, &ContractError{Reason: fmt.Sprintf("unsupported signature %q", name)}
}
