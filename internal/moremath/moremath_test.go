package moremath

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWasmCompatMin64(t *testing.T) {
	require.Equal(t, WasmCompatMin64(-1.1, 123), -1.1)
	require.Equal(t, WasmCompatMin64(-1.1, math.Inf(1)), -1.1)
	require.Equal(t, WasmCompatMin64(math.Inf(-1), 123), math.Inf(-1))

	// NaN cannot be compared with itself, so check with IsNaN.
	require.True(t, math.IsNaN(WasmCompatMin64(math.NaN(), 1.0)))
	require.True(t, math.IsNaN(WasmCompatMin64(1.0, math.NaN())))
	require.True(t, math.IsNaN(WasmCompatMin64(math.Inf(-1), math.NaN())))
	require.True(t, math.IsNaN(WasmCompatMin64(math.Inf(1), math.NaN())))
	require.True(t, math.IsNaN(WasmCompatMin64(math.NaN(), math.NaN())))

	// Signed zero: min(-0, 0) must be -0.
	require.True(t, math.Signbit(WasmCompatMin64(math.Copysign(0, -1), 0)))
	require.True(t, math.Signbit(WasmCompatMin64(0, math.Copysign(0, -1))))
}

func TestWasmCompatMax64(t *testing.T) {
	require.Equal(t, WasmCompatMax64(-1.1, 123.1), 123.1)
	require.Equal(t, WasmCompatMax64(-1.1, math.Inf(1)), math.Inf(1))
	require.Equal(t, WasmCompatMax64(math.Inf(-1), 123.1), 123.1)

	require.True(t, math.IsNaN(WasmCompatMax64(math.NaN(), 1.0)))
	require.True(t, math.IsNaN(WasmCompatMax64(1.0, math.NaN())))
	require.True(t, math.IsNaN(WasmCompatMax64(math.Inf(-1), math.NaN())))
	require.True(t, math.IsNaN(WasmCompatMax64(math.Inf(1), math.NaN())))
	require.True(t, math.IsNaN(WasmCompatMax64(math.NaN(), math.NaN())))

	require.False(t, math.Signbit(WasmCompatMax64(math.Copysign(0, -1), 0)))
}

func TestWasmCompatMin32AndMax32(t *testing.T) {
	require.Equal(t, WasmCompatMin32(-1.1, 123), float32(-1.1))
	require.True(t, math.IsNaN(float64(WasmCompatMin32(float32(math.NaN()), 1))))

	require.Equal(t, WasmCompatMax32(-1.1, 123.1), float32(123.1))
	require.True(t, math.IsNaN(float64(WasmCompatMax32(float32(math.NaN()), 1))))
}

func TestWasmCompatNearestF32(t *testing.T) {
	require.Equal(t, WasmCompatNearestF32(-1.5), float32(-2.0))

	// Ties round to even, unlike math.Round which rounds away from zero.
	require.Equal(t, WasmCompatNearestF32(-4.5), float32(-4.0))
	require.Equal(t, float32(math.Round(-4.5)), float32(-5.0))
}

func TestWasmCompatNearestF64(t *testing.T) {
	require.Equal(t, WasmCompatNearestF64(-1.5), -2.0)

	require.Equal(t, WasmCompatNearestF64(-4.5), -4.0)
	require.Equal(t, math.Round(-4.5), -5.0)

	require.True(t, math.IsNaN(WasmCompatNearestF64(math.NaN())))
	require.Equal(t, WasmCompatNearestF64(math.Inf(1)), math.Inf(1))
	require.Equal(t, WasmCompatNearestF64(0), 0.0)
}
