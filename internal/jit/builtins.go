package jit

import "math"

// builtin is a pure math function callable from kernel bodies. Exactly one
// of fn1, fn2 or fnN is set; fnN functions take at least one argument.
type builtin struct {
	name string
	fn1  func(float64) float64
	fn2  func(float64, float64) float64
	fnN  func([]float64) float64
}

func (b builtin) arity() int {
	switch {
	case b.fn1 != nil:
		return 1
	case b.fn2 != nil:
		return 2
	}
	return -1
}

func sign(x float64) float64 {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	}
	return x // keeps ±0 and NaN
}

func nthRoot(x, n float64) float64 {
	if n == 3 {
		return math.Cbrt(x)
	}
	return math.Pow(x, 1/n)
}

func minOf(xs []float64) float64 {
	m := xs[0]
	for _, x := range xs[1:] {
		m = math.Min(m, x)
	}
	return m
}

func maxOf(xs []float64) float64 {
	m := xs[0]
	for _, x := range xs[1:] {
		m = math.Max(m, x)
	}
	return m
}

func defaultBuiltins() map[string]builtin {
	list := []builtin{
		{name: "sin", fn1: math.Sin},
		{name: "cos", fn1: math.Cos},
		{name: "tan", fn1: math.Tan},
		{name: "asin", fn1: math.Asin},
		{name: "acos", fn1: math.Acos},
		{name: "atan", fn1: math.Atan},
		{name: "atan2", fn2: math.Atan2},
		{name: "sinh", fn1: math.Sinh},
		{name: "cosh", fn1: math.Cosh},
		{name: "tanh", fn1: math.Tanh},
		{name: "asinh", fn1: math.Asinh},
		{name: "acosh", fn1: math.Acosh},
		{name: "atanh", fn1: math.Atanh},
		{name: "sec", fn1: func(x float64) float64 { return 1 / math.Cos(x) }},
		{name: "csc", fn1: func(x float64) float64 { return 1 / math.Sin(x) }},
		{name: "cot", fn1: func(x float64) float64 { return 1 / math.Tan(x) }},
		{name: "exp", fn1: math.Exp},
		{name: "log", fn1: math.Log},
		{name: "log10", fn1: math.Log10},
		{name: "log2", fn1: math.Log2},
		{name: "sqrt", fn1: math.Sqrt},
		{name: "cbrt", fn1: math.Cbrt},
		{name: "root", fn2: nthRoot},
		{name: "pow", fn2: math.Pow},
		{name: "abs", fn1: math.Abs},
		{name: "floor", fn1: math.Floor},
		{name: "ceil", fn1: math.Ceil},
		{name: "hypot", fn2: math.Hypot},
		{name: "sign", fn1: sign},
		{name: "min", fnN: minOf},
		{name: "max", fnN: maxOf},
	}
	out := make(map[string]builtin, len(list))
	for _, b := range list {
		out[b.name] = b
	}
	return out
}
