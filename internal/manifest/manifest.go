package manifest

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hashicorp/hcl/v2/hclsyntax"
)

// ReservedPrefix starts every engine-owned symbol. Kernel bodies may not
// declare or reference identifiers with this prefix, which keeps exported
// entry-point symbols disjoint from model identifiers.
const ReservedPrefix = "__mdl_"

// ErrContract is matched by every ContractError via errors.Is.
var ErrContract = errors.New("manifest contract violation")

// ContractError reports a request the engine refuses before compiling.
type ContractError struct {
	EntryPoint string
	Reason     string
}

func (e *ContractError) Error() string {
	if e.EntryPoint == "" {
		return fmt.Sprintf("manifest contract violation: %s", e.Reason)
	}
	return fmt.Sprintf("manifest contract violation: entry point %q: %s", e.EntryPoint, e.Reason)
}

// Is makes errors.Is(err, ErrContract) true for any ContractError.
func (e *ContractError) Is(target error) bool {
	return target == ErrContract
}

// EntryPoint names one callable the compiled artifact must expose.
type EntryPoint struct {
	Name      string
	Signature Signature
}

// Manifest is one immutable compilation request.
type Manifest struct {
	body        string
	entryPoints []EntryPoint
}

// New validates the request and returns a Manifest holding private copies of
// its inputs.
func New(body string, entryPoints ...EntryPoint) (*Manifest, error) {
	if len(entryPoints) == 0 {
		return nil, &ContractError{Reason: "at least one entry point is required"}
	}
	seen := make(map[string]struct{}, len(entryPoints))
	for _, ep := range entryPoints {
		if err := ValidateEntryPoint(ep); err != nil {
			return nil, err
		}
		if _, dup := seen[ep.Name]; dup {
			return nil, &ContractError{EntryPoint: ep.Name, Reason: "declared more than once"}
		}
		seen[ep.Name] = struct{}{}
	}
	return &Manifest{
		body:        body,
		entryPoints: append([]EntryPoint(nil), entryPoints...),
	}, nil
}

// ValidateEntryPoint checks a single entry point against the naming and
// signature rules.
func ValidateEntryPoint(ep EntryPoint) error {
	if !ep.Signature.Valid() {
		return &ContractError{EntryPoint: ep.Name, Reason: fmt.Sprintf("unsupported signature %s", ep.Signature)}
	}
	if !IsIdentifier(ep.Name) {
		return &ContractError{EntryPoint: ep.Name, Reason: "name is not a valid identifier"}
	}
	if IsReserved(ep.Name) {
		return &ContractError{EntryPoint: ep.Name, Reason: "name collides with a reserved identifier"}
	}
	return nil
}

// Body returns the equation body text.
func (m *Manifest) Body() string { return m.body }

// EntryPoints returns a copy of the ordered entry-point list.
func (m *Manifest) EntryPoints() []EntryPoint {
	return append([]EntryPoint(nil), m.entryPoints...)
}

// Lookup returns the entry point with the given name.
func (m *Manifest) Lookup(name string) (EntryPoint, bool) {
	for _, ep := range m.entryPoints {
		if ep.Name == name {
			return ep, true
		}
	}
	return EntryPoint{}, false
}

// IsIdentifier reports whether s is a C-style identifier. HCL identifiers
// also admit '-', which would be ambiguous with subtraction in kernel bodies.
func IsIdentifier(s string) bool {
	return s != "" && !strings.Contains(s, "-") && hclsyntax.ValidIdentifier(s)
}

// keywords are statement words of the kernel language.
var keywords = map[string]struct{}{
	"func": {}, "const": {}, "export": {}, "pragma": {},
	"true": {}, "false": {}, "null": {},
}

// builtinNames must stay in sync with the function table of the jit package.
var builtinNames = map[string]struct{}{
	"sin": {}, "cos": {}, "tan": {}, "asin": {}, "acos": {}, "atan": {}, "atan2": {},
	"sinh": {}, "cosh": {}, "tanh": {}, "asinh": {}, "acosh": {}, "atanh": {},
	"sec": {}, "csc": {}, "cot": {},
	"exp": {}, "log": {}, "log10": {}, "log2": {}, "sqrt": {}, "cbrt": {}, "root": {},
	"pow": {}, "abs": {}, "floor": {}, "ceil": {}, "min": {}, "max": {},
	"hypot": {}, "sign": {}, "pi": {}, "e": {},
}

// IsReserved reports whether name is owned by the engine: the reserved
// prefix, an argument accessor, a keyword, or a builtin function or constant.
func IsReserved(name string) bool {
	if strings.HasPrefix(name, ReservedPrefix) {
		return true
	}
	for _, k := range []ArgKind{ArgState, ArgParams, ArgTime, ArgOutput} {
		if name == k.Accessor() {
			return true
		}
	}
	if _, ok := keywords[name]; ok {
		return true
	}
	_, ok := builtinNames[name]
	return ok
}

// IsBuiltin reports whether name is a builtin function or constant.
func IsBuiltin(name string) bool {
	_, ok := builtinNames[name]
	return ok
}
