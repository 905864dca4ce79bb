package manifestfile

import (
	"fmt"
	"math"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/gocty"
)

// valueContext lets command-line inputs use the builtin constants.
var valueContext = &hcl.EvalContext{
	Variables: map[string]cty.Value{
		"pi": cty.NumberFloatVal(math.Pi),
		"e":  cty.NumberFloatVal(math.E),
	},
}

// ParseVector parses a list of numbers such as "1, 2.5, -pi" or "[1, 2]".
// An empty string yields an empty vector.
func ParseVector(s string) ([]float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if !strings.HasPrefix(s, "[") {
		s = "[" + s + "]"
	}

	val, err := evalInput(s)
	if err != nil {
		return nil, err
	}
	val, err = convert.Convert(val, cty.List(cty.Number))
	if err != nil {
		return nil, fmt.Errorf("invalid vector %q: %w", s, err)
	}

	var out []float64
	if err := gocty.FromCtyValue(val, &out); err != nil {
		return nil, fmt.Errorf("invalid vector %q: %w", s, err)
	}
	return out, nil
}

// ParseScalar parses a single number expression.
func ParseScalar(s string) (float64, error) {
	val, err := evalInput(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	var out float64
	if err := gocty.FromCtyValue(val, &out); err != nil {
		return 0, fmt.Errorf("invalid number %q: %w", s, err)
	}
	return out, nil
}

func evalInput(s string) (cty.Value, error) {
	expr, diags := hclsyntax.ParseExpression([]byte(s), "<input>", hcl.InitialPos)
	if diags.HasErrors() {
		return cty.NilVal, fmt.Errorf("invalid input %q: %w", s, diags)
	}
	val, diags := expr.Value(valueContext)
	if diags.HasErrors() {
		return cty.NilVal, fmt.Errorf("invalid input %q: %w", s, diags)
	}
	if !val.IsWhollyKnown() || val.IsNull() {
		return cty.NilVal, fmt.Errorf("invalid input %q: value must be known and not null", s)
	}
	return val, nil
}
