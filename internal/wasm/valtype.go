package wasm

import (
	"fmt"

	"github.com/nexuswasm/wazero/api"
)

// ValueType re-exports api.ValueType so AST code can stay within this
// package's vocabulary without an import cycle back to api for the
// additional, internal-only packed field types below.
type ValueType = api.ValueType

const (
	ValueTypeI32       = api.ValueTypeI32
	ValueTypeI64       = api.ValueTypeI64
	ValueTypeF32       = api.ValueTypeF32
	ValueTypeF64       = api.ValueTypeF64
	ValueTypeV128      = api.ValueTypeV128
	ValueTypeFuncref   = api.ValueTypeFuncref
	ValueTypeExternref = api.ValueTypeExternref

	// ValueTypeI8 and ValueTypeI16 are packed storage types (GC proposal);
	// legal only inside a FieldType, never as a param/result/local type.
	ValueTypeI8  ValueType = 0x78
	ValueTypeI16 ValueType = 0x77
)

// HeapTypeCode is an abstract heap type (function-references/GC proposals).
// A concrete heap type is instead a non-negative type-section index, so
// HeapType below carries both in one value: codes are negative, each its
// Wasm encoding byte sign-extended as an s33 (0x70 becomes -0x10), and
// concrete indices are any non-negative value.
type HeapTypeCode int32

const (
	HeapTypeFunc     HeapTypeCode = -0x10 // 0x70 sign-extended as s33
	HeapTypeExtern   HeapTypeCode = -0x11
	HeapTypeAny      HeapTypeCode = -0x12
	HeapTypeEq       HeapTypeCode = -0x13
	HeapTypeI31      HeapTypeCode = -0x14
	HeapTypeStruct   HeapTypeCode = -0x15
	HeapTypeArray    HeapTypeCode = -0x16
	HeapTypeNoFunc   HeapTypeCode = -0x0d
	HeapTypeNoExtern HeapTypeCode = -0x0e
	HeapTypeNone     HeapTypeCode = -0x0f
	HeapTypeExn      HeapTypeCode = -0x17
	HeapTypeNoExn    HeapTypeCode = -0x0c
)

// HeapType is either one of the HeapTypeCode abstract codes (Index < 0) or a
// concrete type-section index (Index >= 0).
type HeapType struct {
	Index int32
}

func (h HeapType) IsConcrete() bool { return h.Index >= 0 }

func (h HeapType) Code() HeapTypeCode { return HeapTypeCode(h.Index) }

func (h HeapType) String() string {
	if h.IsConcrete() {
		return fmt.Sprintf("$%d", h.Index)
	}
	switch h.Code() {
	case HeapTypeFunc:
		return "func"
	case HeapTypeExtern:
		return "extern"
	case HeapTypeAny:
		return "any"
	case HeapTypeEq:
		return "eq"
	case HeapTypeI31:
		return "i31"
	case HeapTypeStruct:
		return "struct"
	case HeapTypeArray:
		return "array"
	case HeapTypeNoFunc:
		return "nofunc"
	case HeapTypeNoExtern:
		return "noextern"
	case HeapTypeNone:
		return "none"
	case HeapTypeExn:
		return "exn"
	case HeapTypeNoExn:
		return "noexn"
	}
	return "unknown"
}

// RefType is a ValType known to be a reference: either the 1.0-era
// funcref/externref bytes, or a function-references/GC-proposal Ref/RefNull
// around a HeapType.
type RefType struct {
	// Nullable is true for RefNull (0x63) and for the legacy funcref/externref
	// encodings (which are always nullable); false for non-null Ref (0x64).
	Nullable bool
	Heap     HeapType
}

func (r RefType) IsFuncRef() bool { return !r.Heap.IsConcrete() && r.Heap.Code() == HeapTypeFunc }

func (r RefType) IsExternRef() bool { return !r.Heap.IsConcrete() && r.Heap.Code() == HeapTypeExtern }

// ValType is the tagged variant described in spec.md §3: numeric | vector |
// reference | (packed, field-type-only).
type ValType struct {
	// Kind is one of the ValueType* byte constants above. For Ref/RefNull
	// kinds this is always ValueTypeFuncref's byte family; Ref carries the
	// detail in Ref.
	Kind ValueType
	// Ref is populated when Kind denotes a reference type.
	Ref *RefType
}

func NumericValType(kind ValueType) ValType { return ValType{Kind: kind} }

func RefValType(nullable bool, heap HeapType) ValType {
	kind := ValueTypeFuncref
	if !(!heap.IsConcrete() && heap.Code() == HeapTypeFunc) {
		kind = ValueTypeExternref
	}
	return ValType{Kind: kind, Ref: &RefType{Nullable: nullable, Heap: heap}}
}

func (v ValType) IsReference() bool {
	return v.Kind == ValueTypeFuncref || v.Kind == ValueTypeExternref
}

func (v ValType) IsNumeric() bool {
	switch v.Kind {
	case ValueTypeI32, ValueTypeI64, ValueTypeF32, ValueTypeF64:
		return true
	}
	return false
}

func (v ValType) String() string {
	if v.Ref != nil {
		return v.Ref.String()
	}
	return api.ValueTypeName(v.Kind)
}

func (r RefType) String() string {
	if !r.Heap.IsConcrete() {
		switch r.Heap.Code() {
		case HeapTypeFunc:
			return "funcref"
		case HeapTypeExtern:
			return "externref"
		}
	}
	if r.Nullable {
		return "(ref null " + r.Heap.String() + ")"
	}
	return "(ref " + r.Heap.String() + ")"
}

// ValTypeSize returns the number of 64-bit stack slots a value of this type
// occupies at runtime: 2 for v128, 1 otherwise.
func ValTypeSize(v ValType) int {
	if v.Kind == ValueTypeV128 {
		return 2
	}
	return 1
}
