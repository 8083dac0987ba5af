package wasm

import "math"

func f32bits(f float32) uint32  { return math.Float32bits(f) }
func f64bits(f float64) uint64  { return math.Float64bits(f) }
func bitsToF32(u uint32) float32 { return math.Float32frombits(u) }
func bitsToF64(u uint64) float64 { return math.Float64frombits(u) }
