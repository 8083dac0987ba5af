package wasm

import "github.com/nexuswasm/wazero/api"

// Addr is a dense, monotonically assigned, never-reused (within a live
// Store) 32-bit address into one of the Store's per-kind instance tables
// (spec.md §4.4 "Address policy").
type Addr uint32

// NullAddr is the sentinel for a null reference.
const NullAddr Addr = 0xffffffff

// FunctionInstance is either a Wasm-defined function (Type+Module+Body) or a
// host function (GoFunc); exactly one of Body/GoFunc is populated.
type FunctionInstance struct {
	// Module is the address of the owning ModuleInstance, or NullAddr for a
	// host function not yet adopted by a Store registration.
	Module Addr
	Type   *FunctionType

	// Body is the decoded instruction sequence for a Wasm-defined function.
	Body       []Instruction
	NumLocals  int
	LocalTypes []ValType

	// GoFunc is populated for host functions; Body/LocalTypes are unused.
	GoFunc api.GoFunction

	DebugName string
}

func (f *FunctionInstance) IsHostFunction() bool { return f.GoFunc != nil }

// TableInstance is a vector of references plus growth policy.
type TableInstance struct {
	Type   TableType
	Refs   []Addr // Addr per slot; NullAddr denotes a null reference.
	Max    *uint32
}

func NewTableInstance(t TableType) *TableInstance {
	refs := make([]Addr, t.Lim.Min)
	for i := range refs {
		refs[i] = NullAddr
	}
	return &TableInstance{Type: t, Refs: refs, Max: t.Lim.Max}
}

// Grow attempts to grow the table by delta entries, filled with init. Returns
// the previous length, or false if the growth would exceed Max.
func (t *TableInstance) Grow(delta uint32, init Addr) (previous uint32, ok bool) {
	previous = uint32(len(t.Refs))
	if delta == 0 {
		return previous, true
	}
	newLen := uint64(previous) + uint64(delta)
	if t.Max != nil && newLen > uint64(*t.Max) {
		return previous, false
	}
	if newLen > 1<<32-1 {
		return previous, false
	}
	grown := make([]Addr, newLen)
	copy(grown, t.Refs)
	for i := previous; i < uint32(newLen); i++ {
		grown[i] = init
	}
	t.Refs = grown
	return previous, true
}

// PageSize is the Wasm linear-memory page size (spec.md §3's "64 KiB pages").
const PageSize = 65536

// MemoryInstance is a byte-addressable page vector; shared memories
// synchronize via atomic primitives (spec.md §3).
type MemoryInstance struct {
	Type   MemoryType
	Buffer []byte
	Max    *uint32
	// Shared memories obey sequentially-consistent atomic access; Buffer is
	// still a plain []byte because Go gives atomic access through
	// sync/atomic on specific addresses, not through the slice type.
	Shared bool
}

func NewMemoryInstance(t MemoryType) *MemoryInstance {
	return &MemoryInstance{
		Type:   t,
		Buffer: make([]byte, uint64(t.Lim.Min)*PageSize),
		Max:    t.Lim.Max,
		Shared: t.Lim.Shared,
	}
}

func (m *MemoryInstance) PageCount() uint32 { return uint32(len(m.Buffer) / PageSize) }

// Grow attempts to grow the memory by delta pages. Returns the previous page
// count, or false if the growth would exceed Max or the configured ceiling.
func (m *MemoryInstance) Grow(delta uint32, maxPagesCeiling uint32) (previous uint32, ok bool) {
	previous = m.PageCount()
	if delta == 0 {
		return previous, true
	}
	newPages := uint64(previous) + uint64(delta)
	if newPages > uint64(maxPagesCeiling) {
		return previous, false
	}
	if m.Max != nil && newPages > uint64(*m.Max) {
		return previous, false
	}
	grown := make([]byte, newPages*PageSize)
	copy(grown, m.Buffer)
	m.Buffer = grown
	return previous, true
}

// GlobalInstance is a (GlobalType, current value) pair. Value is a uint64
// bit-pattern per api.ValueType encoding conventions; V128 globals (rare, but
// legal under the SIMD proposal) use ValueHi for the upper 64 bits.
type GlobalInstance struct {
	Type     GlobalType
	Value    uint64
	ValueHi  uint64
}

// ElementInstance is a vector of references plus a dropped flag.
type ElementInstance struct {
	Type    RefType
	Refs    []Addr
	Dropped bool
}

// DataInstance is a byte vector plus a dropped flag.
type DataInstance struct {
	Bytes   []byte
	Dropped bool
}

func (d *DataInstance) Len() int {
	if d.Dropped {
		return 0
	}
	return len(d.Bytes)
}

func (e *ElementInstance) Len() int {
	if e.Dropped {
		return 0
	}
	return len(e.Refs)
}

// TagInstance is a FunctionType reference (exception-handling proposal).
type TagInstance struct {
	Type *FunctionType
}

// ExportInstance resolves an external name to a (kind, address) pair.
type ExportInstance struct {
	Kind ImportKind
	Addr Addr
}

// ModuleInstance is the runtime instantiation of a Module: name, per-kind
// address vectors, export map, optional start index, cached function types
// (spec.md §3).
type ModuleInstance struct {
	Name string

	Functions []Addr
	Tables    []Addr
	Memories  []Addr
	Globals   []Addr
	Tags      []Addr
	Elements  []Addr
	Data      []Addr

	Exports map[string]ExportInstance

	Types []SubType

	// Self is this instance's own address in the Store, set once allocated.
	Self Addr

	closed bool
}

func (mi *ModuleInstance) Closed() bool { return mi.closed }
