// Package moremath provides float helpers whose NaN/sign-of-zero behavior
// differs from the Go standard library's but matches the Wasm numeric
// instruction semantics spec.md §4.6.3 requires (f32/f64 min/max must
// propagate any NaN operand, even against +/-Inf).
package moremath

import "math"

// WasmCompatMin64 borrows from the Go standard library's math.Min with one
// change: either operand being NaN produces NaN even when the other is -Inf.
// https://github.com/golang/go/blob/1d20a362d0ca4898d77865e314ef6f73582daef0/src/math/dim.go#L74-L91
func WasmCompatMin64(x, y float64) float64 {
	switch {
	case math.IsNaN(x) || math.IsNaN(y):
		return math.NaN()
	case math.IsInf(x, -1) || math.IsInf(y, -1):
		return math.Inf(-1)
	case x == 0 && x == y:
		if math.Signbit(x) {
			return x
		}
		return y
	}
	if x < y {
		return x
	}
	return y
}

// WasmCompatMax64 is WasmCompatMin64's counterpart for f64.max.
// https://github.com/golang/go/blob/1d20a362d0ca4898d77865e314ef6f73582daef0/src/math/dim.go#L42-L59
func WasmCompatMax64(x, y float64) float64 {
	switch {
	case math.IsNaN(x) || math.IsNaN(y):
		return math.NaN()
	case math.IsInf(x, 1) || math.IsInf(y, 1):
		return math.Inf(1)
	case x == 0 && x == y:
		if math.Signbit(x) {
			return y
		}
		return x
	}
	if x > y {
		return x
	}
	return y
}

// WasmCompatMin32 and WasmCompatMax32 are the f32.min/f32.max analogs,
// computed in float64 to avoid intermediate rounding and cast back.
func WasmCompatMin32(x, y float32) float32 {
	return float32(WasmCompatMin64(float64(x), float64(y)))
}

func WasmCompatMax32(x, y float32) float32 {
	return float32(WasmCompatMax64(float64(x), float64(y)))
}

// WasmCompatNearestF32 and WasmCompatNearestF64 implement f32.nearest /
// f64.nearest: round to nearest, ties to even, which math.Round does not do
// (it rounds ties away from zero).
func WasmCompatNearestF32(f float32) float32 {
	return float32(WasmCompatNearestF64(float64(f)))
}

func WasmCompatNearestF64(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) || f == 0 {
		return f
	}
	rounded := math.Round(f)
	diff := f - math.Trunc(f)
	if (diff == 0.5 || diff == -0.5) && math.Mod(rounded, 2) != 0 {
		if rounded > f {
			rounded--
		} else {
			rounded++
		}
	}
	return rounded
}
