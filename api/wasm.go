// Package api includes constants and interfaces used by both end-users and
// internal implementations of the core WebAssembly engine.
package api

import (
	"context"
	"fmt"
	"math"
)

// ExternType classifies imports and exports with their respective types.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#external-types%E2%91%A0
type ExternType = byte

const (
	ExternTypeFunc   ExternType = 0x00
	ExternTypeTable  ExternType = 0x01
	ExternTypeMemory ExternType = 0x02
	ExternTypeGlobal ExternType = 0x03
	ExternTypeTag    ExternType = 0x04
)

const (
	ExternTypeFuncName   = "func"
	ExternTypeTableName  = "table"
	ExternTypeMemoryName = "memory"
	ExternTypeGlobalName = "global"
	ExternTypeTagName    = "tag"
)

// ExternTypeName returns the name of the text-format field for the given ExternType.
func ExternTypeName(et ExternType) string {
	switch et {
	case ExternTypeFunc:
		return ExternTypeFuncName
	case ExternTypeTable:
		return ExternTypeTableName
	case ExternTypeMemory:
		return ExternTypeMemoryName
	case ExternTypeGlobal:
		return ExternTypeGlobalName
	case ExternTypeTag:
		return ExternTypeTagName
	}
	return fmt.Sprintf("%#x", et)
}

// ValueType describes a numeric type usable as a function parameter or
// result, a global's type, or a local. Reference and vector types have their
// own leading byte but share the same representation width (a uint64 slot).
//
// See ValueType documentation for how to convert to and from Go types:
//
//   - ValueTypeI32 - uint64(uint32,int32)
//   - ValueTypeI64 - uint64(int64)
//   - ValueTypeF32 - EncodeF32 / DecodeF32 from float32
//   - ValueTypeF64 - EncodeF64 / DecodeF64 from float64
//   - ValueTypeV128 - not representable in a single uint64; carried as two
//     stack slots by the interpreter.
//   - ValueTypeFuncref / ValueTypeExternref - an opaque Store address, or a
//     null sentinel.
type ValueType = byte

const (
	ValueTypeI32 ValueType = 0x7f
	ValueTypeI64 ValueType = 0x7e
	ValueTypeF32 ValueType = 0x7d
	ValueTypeF64 ValueType = 0x7c

	// ValueTypeV128 is a 128-bit vector (SIMD proposal).
	ValueTypeV128 ValueType = 0x7b

	// ValueTypeFuncref is a reference to a function (reference-types/bulk-memory proposal).
	ValueTypeFuncref ValueType = 0x70
	// ValueTypeExternref is an opaque host reference (reference-types/bulk-memory proposal).
	ValueTypeExternref ValueType = 0x6f
)

// ValueTypeName returns the Wasm text format name of the given ValueType, or
// "unknown" if it isn't recognized.
func ValueTypeName(t ValueType) string {
	switch t {
	case ValueTypeI32:
		return "i32"
	case ValueTypeI64:
		return "i64"
	case ValueTypeF32:
		return "f32"
	case ValueTypeF64:
		return "f64"
	case ValueTypeV128:
		return "v128"
	case ValueTypeFuncref:
		return "funcref"
	case ValueTypeExternref:
		return "externref"
	}
	return "unknown"
}

// Module is the runtime representation of an instantiated module.
//
// Note: This is an interface for decoupling, not third-party implementations.
type Module interface {
	fmt.Stringer

	// Name is the name this module was instantiated with.
	Name() string

	// Memory returns the first memory defined in this module, or nil.
	Memory() Memory

	// ExportedFunction returns a function exported from this module, or nil.
	ExportedFunction(name string) Function

	// ExportedMemory returns a memory exported from this module, or nil.
	ExportedMemory(name string) Memory

	// ExportedGlobal returns a global exported from this module, or nil.
	ExportedGlobal(name string) Global

	// CloseWithExitCode releases resources held by this module. exitCode is
	// accepted but not reported to later callers.
	CloseWithExitCode(ctx context.Context, exitCode uint32) error

	Closer
}

// Closer closes a resource.
type Closer interface {
	Close(context.Context) error
}

// Function is an exported WebAssembly function.
type Function interface {
	// Definition describes the function's defining module, name, and signature.
	Definition() FunctionDefinition

	// Call invokes the function with parameters encoded according to
	// ParamTypes, returning results encoded according to ResultTypes.
	Call(ctx context.Context, params ...uint64) ([]uint64, error)
}

// FunctionDefinition is metadata about a function, whether or not it is exported.
type FunctionDefinition interface {
	ModuleName() string
	Index() uint32
	Name() string
	DebugName() string
	Import() (moduleName, name string, isImport bool)
	ExportNames() []string
	ParamTypes() []ValueType
	ResultTypes() []ValueType
}

// Global is an exported global variable.
type Global interface {
	fmt.Stringer

	Type() ValueType
	Get(context.Context) uint64
}

// MutableGlobal is a Global whose value can be updated.
type MutableGlobal interface {
	Global
	Set(ctx context.Context, v uint64)
}

// Memory allows restricted, bounds-checked access to a module's linear memory.
type Memory interface {
	// Size returns the size in bytes currently available, a multiple of the
	// 64KiB page size.
	Size(context.Context) uint32

	// Grow increases memory by deltaPages (65536 bytes each), returning the
	// previous size in pages, or false if the delta would exceed the max.
	Grow(ctx context.Context, deltaPages uint32) (previousPages uint32, ok bool)

	ReadByte(ctx context.Context, offset uint32) (byte, bool)
	ReadUint16Le(ctx context.Context, offset uint32) (uint16, bool)
	ReadUint32Le(ctx context.Context, offset uint32) (uint32, bool)
	ReadFloat32Le(ctx context.Context, offset uint32) (float32, bool)
	ReadUint64Le(ctx context.Context, offset uint32) (uint64, bool)
	ReadFloat64Le(ctx context.Context, offset uint32) (float64, bool)

	// Read returns a write-through view of byteCount bytes at offset, or
	// false if out of range.
	Read(ctx context.Context, offset, byteCount uint32) ([]byte, bool)

	WriteByte(ctx context.Context, offset uint32, v byte) bool
	WriteUint16Le(ctx context.Context, offset uint32, v uint16) bool
	WriteUint32Le(ctx context.Context, offset, v uint32) bool
	WriteFloat32Le(ctx context.Context, offset uint32, v float32) bool
	WriteUint64Le(ctx context.Context, offset uint32, v uint64) bool
	WriteFloat64Le(ctx context.Context, offset uint32, v float64) bool
	Write(ctx context.Context, offset uint32, v []byte) bool
}

// GoFunction is the low-level signature a host function body must implement.
// stack holds, in order, the encoded parameters on entry and must hold the
// encoded results on return.
type GoFunction func(ctx context.Context, stack []uint64)

// GoModuleFunction is like GoFunction but also receives the calling Module,
// so the host body can access the active memory.
type GoModuleFunction func(ctx context.Context, mod Module, stack []uint64)

// EncodeI32 encodes the input as a ValueTypeI32.
func EncodeI32(input int32) uint64 { return uint64(uint32(input)) }

// EncodeI64 encodes the input as a ValueTypeI64.
func EncodeI64(input int64) uint64 { return uint64(input) }

// EncodeF32 encodes the input as a ValueTypeF32.
func EncodeF32(input float32) uint64 { return uint64(math.Float32bits(input)) }

// DecodeF32 decodes the input as a ValueTypeF32.
func DecodeF32(input uint64) float32 { return math.Float32frombits(uint32(input)) }

// EncodeF64 encodes the input as a ValueTypeF64.
func EncodeF64(input float64) uint64 { return math.Float64bits(input) }

// DecodeF64 decodes the input as a ValueTypeF64.
func DecodeF64(input uint64) float64 { return math.Float64frombits(input) }

// EncodeExternref encodes a Store address (or the null sentinel) as a ValueTypeExternref.
func EncodeExternref(addr uint64) uint64 { return addr }

// DecodeExternref decodes a ValueTypeExternref back to a Store address.
func DecodeExternref(input uint64) uint64 { return input }
