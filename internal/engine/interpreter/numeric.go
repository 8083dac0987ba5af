package interpreter

import (
	"math"
	"math/bits"

	"github.com/nexuswasm/wazero/internal/wasmruntime"
)

func i32Div(a, b int32) (int32, error) {
	if b == 0 {
		return 0, wasmruntime.ErrDivideByZero
	}
	if a == math.MinInt32 && b == -1 {
		return 0, wasmruntime.ErrIntegerOverflow
	}
	return a / b, nil
}

func u32Div(a, b uint32) (uint32, error) {
	if b == 0 {
		return 0, wasmruntime.ErrDivideByZero
	}
	return a / b, nil
}

func i32Rem(a, b int32) (int32, error) {
	if b == 0 {
		return 0, wasmruntime.ErrDivideByZero
	}
	if a == math.MinInt32 && b == -1 {
		return 0, nil
	}
	return a % b, nil
}

func u32Rem(a, b uint32) (uint32, error) {
	if b == 0 {
		return 0, wasmruntime.ErrDivideByZero
	}
	return a % b, nil
}

func i64Div(a, b int64) (int64, error) {
	if b == 0 {
		return 0, wasmruntime.ErrDivideByZero
	}
	if a == math.MinInt64 && b == -1 {
		return 0, wasmruntime.ErrIntegerOverflow
	}
	return a / b, nil
}

func u64Div(a, b uint64) (uint64, error) {
	if b == 0 {
		return 0, wasmruntime.ErrDivideByZero
	}
	return a / b, nil
}

func i64Rem(a, b int64) (int64, error) {
	if b == 0 {
		return 0, wasmruntime.ErrDivideByZero
	}
	if a == math.MinInt64 && b == -1 {
		return 0, nil
	}
	return a % b, nil
}

func u64Rem(a, b uint64) (uint64, error) {
	if b == 0 {
		return 0, wasmruntime.ErrDivideByZero
	}
	return a % b, nil
}

func rotl32(x uint32, n uint32) uint32 { return bits.RotateLeft32(x, int(n)) }
func rotr32(x uint32, n uint32) uint32 { return bits.RotateLeft32(x, -int(n)) }
func rotl64(x uint64, n uint64) uint64 { return bits.RotateLeft64(x, int(n)) }
func rotr64(x uint64, n uint64) uint64 { return bits.RotateLeft64(x, -int(n)) }

// truncToI32 implements the trapping float-to-int conversions (spec.md §7
// InvalidConversionToInteger / IntegerOverflow).
func truncToI32(f float64, signed bool) (int32, error) {
	if math.IsNaN(f) {
		return 0, wasmruntime.ErrInvalidConversionToInteger
	}
	t := math.Trunc(f)
	if signed {
		if t < math.MinInt32 || t > math.MaxInt32 {
			return 0, wasmruntime.ErrIntegerOverflow
		}
		return int32(t), nil
	}
	if t < 0 || t > math.MaxUint32 {
		return 0, wasmruntime.ErrIntegerOverflow
	}
	return int32(uint32(t)), nil
}

func truncToI64(f float64, signed bool) (int64, error) {
	if math.IsNaN(f) {
		return 0, wasmruntime.ErrInvalidConversionToInteger
	}
	t := math.Trunc(f)
	if signed {
		if t < math.MinInt64 || t >= math.MaxInt64 {
			return 0, wasmruntime.ErrIntegerOverflow
		}
		return int64(t), nil
	}
	if t < 0 || t >= math.MaxUint64 {
		return 0, wasmruntime.ErrIntegerOverflow
	}
	return int64(uint64(t)), nil
}

// satTruncToI32/64 implement the non-trapping (saturating) conversions
// (0xFC-prefixed; non-trapping-float-to-int proposal).
func satTruncToI32(f float64, signed bool) int32 {
	if math.IsNaN(f) {
		return 0
	}
	t := math.Trunc(f)
	if signed {
		if t < math.MinInt32 {
			return math.MinInt32
		}
		if t > math.MaxInt32 {
			return math.MaxInt32
		}
		return int32(t)
	}
	if t < 0 {
		return 0
	}
	if t > math.MaxUint32 {
		return -1 // same bits as uint32(math.MaxUint32)
	}
	return int32(uint32(t))
}

func satTruncToI64(f float64, signed bool) int64 {
	if math.IsNaN(f) {
		return 0
	}
	t := math.Trunc(f)
	if signed {
		if t < math.MinInt64 {
			return math.MinInt64
		}
		if t >= math.MaxInt64 {
			return math.MaxInt64
		}
		return int64(t)
	}
	if t < 0 {
		return 0
	}
	if t >= math.MaxUint64 {
		return -1 // same bits as uint64(math.MaxUint64)
	}
	return int64(uint64(t))
}
