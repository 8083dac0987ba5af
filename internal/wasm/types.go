package wasm

// Limits is spec.md §3's Limit: {min, max?, shared}. Shared is only legal on
// a MemoryType, and only when the threads proposal is enabled.
type Limits struct {
	Min    uint32
	Max    *uint32
	Shared bool
}

// TableType is (element RefType, Limits).
type TableType struct {
	ElemType RefType
	Lim      Limits
}

// MemoryType is a Limits measured in 64KiB pages.
type MemoryType struct {
	Lim Limits
}

// Mutability is a GlobalType's var/const flag.
type Mutability bool

const (
	Const Mutability = false
	Var   Mutability = true
)

// GlobalType is (ValType, mutability).
type GlobalType struct {
	ValType ValType
	Mutable Mutability
}

// TagType is a type-index into a FunctionType with empty results
// (exception-handling proposal).
type TagType struct {
	TypeIndex uint32
}

// FunctionType is an ordered sequence of parameter and result ValTypes.
type FunctionType struct {
	Params  []ValType
	Results []ValType

	// cachedKey memoizes key's string form; computed lazily.
	cachedKey string
}

// key returns a string that is equal for two function types whose parameter
// and result kinds match; used for call_indirect's type check and import
// signature matching without repeated deep comparison. Reference types are
// compared by Kind only, so their heap types are not distinguished.
func (f *FunctionType) key() string {
	if f.cachedKey != "" {
		return f.cachedKey
	}
	buf := make([]byte, 0, 2+len(f.Params)+len(f.Results))
	buf = append(buf, byte(len(f.Params)))
	for _, p := range f.Params {
		buf = append(buf, p.Kind)
	}
	buf = append(buf, byte(len(f.Results)))
	for _, r := range f.Results {
		buf = append(buf, r.Kind)
	}
	f.cachedKey = string(buf)
	return f.cachedKey
}

// Equal reports whether f and o describe the same parameter/result sequence.
func (f *FunctionType) Equal(o *FunctionType) bool {
	if f == o {
		return true
	}
	if f == nil || o == nil {
		return false
	}
	return f.key() == o.key()
}

// ParamNumInUint64 is the number of uint64 value-stack slots f's parameters
// occupy (v128 occupies two).
func (f *FunctionType) ParamNumInUint64() (n int) {
	for _, p := range f.Params {
		n += ValTypeSize(p)
	}
	return
}

// ResultNumInUint64 is the uint64-slot-width analog for results.
func (f *FunctionType) ResultNumInUint64() (n int) {
	for _, r := range f.Results {
		n += ValTypeSize(r)
	}
	return
}

// FieldType is a StructType/ArrayType member: a storage type (which may be
// packed, i.e. ValueTypeI8/I16) plus mutability (GC proposal).
type FieldType struct {
	StorageType ValType
	Mutable     Mutability
}

// StructType is an ordered sequence of FieldTypes (GC proposal).
type StructType struct {
	Fields []FieldType
}

// ArrayType is a single FieldType repeated (GC proposal).
type ArrayType struct {
	Elem FieldType
}

// CompositeTypeKind distinguishes FunctionType/StructType/ArrayType within a CompositeType.
type CompositeTypeKind byte

const (
	CompositeTypeFunc CompositeTypeKind = iota
	CompositeTypeStruct
	CompositeTypeArray
)

// CompositeType is a FunctionType, StructType, or ArrayType (spec.md §3).
type CompositeType struct {
	Kind   CompositeTypeKind
	Func   *FunctionType
	Struct *StructType
	Array  *ArrayType
}

// SubType has a finality flag, supertype indices, and a CompositeType
// (spec.md §3). GroupIndex is this member's position within its recursive
// group, so later references resolve even before the group is closed.
type SubType struct {
	Final       bool
	SuperTypes  []uint32
	Composite   CompositeType
	GroupIndex  uint32
	GroupLength uint32
}

func (s *SubType) AsFunctionType() *FunctionType {
	if s.Composite.Kind != CompositeTypeFunc {
		return nil
	}
	return s.Composite.Func
}
