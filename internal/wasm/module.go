package wasm

// SectionID identifies a core module section. ID 0 is custom and may repeat
// and appear anywhere; IDs 1-13 are the standard sections and must appear in
// strictly ascending order (spec.md §4.2).
type SectionID byte

const (
	SectionCustom SectionID = iota
	SectionType
	SectionImport
	SectionFunction
	SectionTable
	SectionMemory
	SectionGlobal
	SectionExport
	SectionStart
	SectionElement
	SectionCode
	SectionData
	SectionDataCount
	SectionTag
)

// Import describes one entry of the import section.
type Import struct {
	Module, Name string
	Kind         ImportKind
	// Exactly one of the following is populated, selected by Kind.
	FuncTypeIndex uint32
	Table         TableType
	Memory        MemoryType
	Global        GlobalType
	Tag           TagType
}

type ImportKind byte

const (
	ImportKindFunc ImportKind = iota
	ImportKindTable
	ImportKindMemory
	ImportKindGlobal
	ImportKindTag
)

func (k ImportKind) String() string {
	switch k {
	case ImportKindFunc:
		return "func"
	case ImportKindTable:
		return "table"
	case ImportKindMemory:
		return "memory"
	case ImportKindGlobal:
		return "global"
	case ImportKindTag:
		return "tag"
	}
	return "unknown"
}

// Global is a module-defined (non-imported) global with its constant
// initializer expression.
type Global struct {
	Type GlobalType
	Init Expression
}

// Export maps an external name to a (kind, index) pair, where index is into
// the corresponding index space (imports first, then locally defined).
type Export struct {
	Name  string
	Kind  ImportKind
	Index uint32
}

// ElementMode distinguishes active/passive/declarative element segments
// (spec.md GLOSSARY).
type ElementMode byte

const (
	ElementModeActive ElementMode = iota
	ElementModePassive
	ElementModeDeclarative
)

// ElementSegment is a table initializer (spec.md §4.2's six flag
// combinations collapse to this one shape post-decode).
type ElementSegment struct {
	Mode       ElementMode
	TableIndex uint32
	Offset     Expression // only meaningful when Mode == ElementModeActive
	Type       RefType
	// Init holds one expression per element; the compact func-index
	// encoding is normalized into ref.func expressions during loading.
	Init []Expression
}

// DataMode distinguishes active/passive data segments.
type DataMode byte

const (
	DataModeActive DataMode = iota
	DataModePassive
)

// DataSegment is a memory initializer.
type DataSegment struct {
	Mode      DataMode
	MemoryIdx uint32
	Offset    Expression // only meaningful when Mode == DataModeActive
	Init      []byte
}

// Code is one entry of the code section: a function body's locals and
// instruction sequence.
type Code struct {
	// LocalTypes is expanded (not run-length-encoded): one entry per local,
	// not counting parameters.
	LocalTypes []ValType
	Body       Expression
	// BodyOffset is the byte offset of the body, kept for diagnostics.
	BodyOffset uint64
}

// CustomSection is an opaque, by-name custom section (ID 0).
type CustomSection struct {
	Name string
	Data []byte
}

// ModuleID is a content hash used to key compiled-code caches; see
// spec.md's Instantiator notes and the interpreter engine's per-module code
// cache.
type ModuleID [32]byte

// Module is the AST the Loader produces: spec.md §2's "ready-to-instantiate
// Module".
type Module struct {
	ID ModuleID

	// Types holds recursive type groups flattened into one slice; each
	// SubType.GroupIndex/GroupLength records its group membership so
	// supertype resolution can distinguish "earlier in this group" from
	// "an already-closed group" (spec.md §3 invariant table).
	Types []SubType

	Imports []Import

	// FunctionTypeIndices has one entry per locally defined function (not
	// counting imports), indexing into Types.
	FunctionTypeIndices []uint32

	Tables  []TableType
	Memories []MemoryType
	Globals []Global
	Tags    []TagType

	Exports []Export

	// StartIndex is the function index to invoke after instantiation, if any.
	StartIndex    uint32
	HasStartIndex bool

	Elements []ElementSegment
	Code     []Code
	Data     []DataSegment

	// HasDataCount records whether the DataCount section was present (it is
	// required for memory.init/data.drop to validate named segments within a
	// single-pass decode, per spec.md §7 DataCountRequired).
	HasDataCount  bool
	DataCountSize uint32

	Custom []CustomSection

	// AOTSection is the optional "wasmedge" custom section payload; present
	// means the loader recognized the section but its bytes are only
	// consumed when the embedder does not force interpreter mode (spec.md
	// §4.2 "AOT coexistence"). The pure interpreter never reads it.
	AOTSection []byte

	// ImportFuncCount, etc. cache index-space boundaries computed once
	// during loading.
	ImportFuncCount, ImportTableCount, ImportMemoryCount, ImportGlobalCount, ImportTagCount uint32
}

// TypeOf resolves a function-type index, whether it names a bare
// FunctionType entry or a SubType wrapping one.
func (m *Module) TypeOf(idx uint32) *FunctionType {
	if int(idx) >= len(m.Types) {
		return nil
	}
	return m.Types[idx].AsFunctionType()
}

// FunctionTypeIndex resolves the FunctionType of the idx'th entry in the
// function index space (imports first).
func (m *Module) FunctionTypeIndex(idx uint32) uint32 {
	if idx < m.ImportFuncCount {
		count := uint32(0)
		for _, imp := range m.Imports {
			if imp.Kind != ImportKindFunc {
				continue
			}
			if count == idx {
				return imp.FuncTypeIndex
			}
			count++
		}
	}
	return m.FunctionTypeIndices[idx-m.ImportFuncCount]
}

// Component is the surface the loader must produce for the 0x0A 0x00 0x01
// 0x00 version word (spec.md §4.2's component-model loader). Its runtime
// semantics are explicitly out of scope; this is a plain tree of the nodes
// the binary format defines.
type Component struct {
	CoreModules   []*Module
	CoreInstances []ComponentCoreInstance
	CoreTypes     []SubType
	Components    []*Component
	Instances     []ComponentInstance
	Aliases       []ComponentAlias
	Types         []ComponentType
	Canonicals    []ComponentCanonical
	Start         *ComponentStart
	Imports       []ComponentImportExport
	Exports       []ComponentImportExport
	Custom        []CustomSection
}

type ComponentCoreInstance struct {
	ModuleIndex uint32
	Args        []string
}

type ComponentInstance struct {
	ComponentIndex uint32
	Args           []string
}

type ComponentAlias struct {
	Sort   string
	Target string
	Name   string
}

type ComponentType struct {
	Kind string
	Raw  []byte
}

type ComponentCanonical struct {
	Kind        string // "lift" or "lower"
	CoreFuncIdx uint32
}

type ComponentStart struct {
	FuncIndex uint32
	Args      []uint32
}

type ComponentImportExport struct {
	Name string
	Kind string
}
