package wazero

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/nexuswasm/wazero/api"
	"github.com/nexuswasm/wazero/internal/wasm"
)

// moduleInstance adapts a *wasm.ModuleInstance plus the Runtime that owns it
// to api.Module, the embedder-facing view (spec.md §6's instantiate result).
type moduleInstance struct {
	r      *runtime
	mi     *wasm.ModuleInstance
	closed bool
}

var _ api.Module = (*moduleInstance)(nil)

func (m *moduleInstance) String() string { return fmt.Sprintf("Module[%s]", m.mi.Name) }
func (m *moduleInstance) Name() string   { return m.mi.Name }

func (m *moduleInstance) Memory() api.Memory {
	if len(m.mi.Memories) == 0 {
		return nil
	}
	return &memoryView{r: m.r, addr: m.mi.Memories[0]}
}

func (m *moduleInstance) ExportedFunction(name string) api.Function {
	exp, ok := m.mi.Exports[name]
	if !ok || exp.Kind != wasm.ImportKindFunc {
		return nil
	}
	return &moduleFunction{r: m.r, addr: exp.Addr, moduleName: m.mi.Name, exportName: name}
}

func (m *moduleInstance) ExportedMemory(name string) api.Memory {
	exp, ok := m.mi.Exports[name]
	if !ok || exp.Kind != wasm.ImportKindMemory {
		return nil
	}
	return &memoryView{r: m.r, addr: exp.Addr}
}

func (m *moduleInstance) ExportedGlobal(name string) api.Global {
	exp, ok := m.mi.Exports[name]
	if !ok || exp.Kind != wasm.ImportKindGlobal {
		return nil
	}
	g := m.r.store.GetGlobal(exp.Addr)
	view := &globalView{r: m.r, addr: exp.Addr}
	if g.Type.Mutable {
		return &mutableGlobalView{view}
	}
	return view
}

func (m *moduleInstance) Close(ctx context.Context) error {
	return m.CloseWithExitCode(ctx, 0)
}

// CloseWithExitCode marks the module closed. exitCode is not recorded, and
// functions already obtained from the module can still be called afterwards.
func (m *moduleInstance) CloseWithExitCode(ctx context.Context, exitCode uint32) error {
	m.closed = true
	return nil
}

// moduleFunction adapts one exported function address to api.Function.
type moduleFunction struct {
	r                      *runtime
	addr                   wasm.Addr
	moduleName, exportName string
}

var _ api.Function = (*moduleFunction)(nil)

func (f *moduleFunction) Definition() api.FunctionDefinition {
	fn := f.r.store.GetFunction(f.addr)
	return &functionDefinition{moduleName: f.moduleName, name: f.exportName, fn: fn}
}

func (f *moduleFunction) Call(ctx context.Context, params ...uint64) ([]uint64, error) {
	if ctx == nil {
		ctx = f.r.config.ctx
	}
	return f.r.engine.Invoke(ctx, f.r.store, f.addr, params)
}

type functionDefinition struct {
	moduleName, name string
	fn               *wasm.FunctionInstance
}

var _ api.FunctionDefinition = (*functionDefinition)(nil)

func (d *functionDefinition) ModuleName() string { return d.moduleName }
func (d *functionDefinition) Index() uint32      { return 0 }
func (d *functionDefinition) Name() string       { return d.name }
func (d *functionDefinition) DebugName() string  { return d.fn.DebugName }
func (d *functionDefinition) Import() (moduleName, name string, isImport bool) {
	return "", "", false
}
func (d *functionDefinition) ExportNames() []string { return []string{d.name} }
func (d *functionDefinition) ParamTypes() []api.ValueType {
	out := make([]api.ValueType, len(d.fn.Type.Params))
	for i, p := range d.fn.Type.Params {
		out[i] = p.Kind
	}
	return out
}
func (d *functionDefinition) ResultTypes() []api.ValueType {
	out := make([]api.ValueType, len(d.fn.Type.Results))
	for i, r := range d.fn.Type.Results {
		out[i] = r.Kind
	}
	return out
}

// globalView adapts one global address to api.Global.
type globalView struct {
	r    *runtime
	addr wasm.Addr
}

var _ api.Global = (*globalView)(nil)

func (g *globalView) String() string {
	return fmt.Sprintf("Global(%d)", g.r.store.GetGlobal(g.addr).Value)
}
func (g *globalView) Type() api.ValueType { return g.r.store.GetGlobal(g.addr).Type.ValType.Kind }
func (g *globalView) Get(context.Context) uint64 { return g.r.store.GetGlobal(g.addr).Value }

type mutableGlobalView struct{ *globalView }

var _ api.MutableGlobal = (*mutableGlobalView)(nil)

func (g *mutableGlobalView) Set(ctx context.Context, v uint64) {
	g.r.store.GetGlobal(g.addr).Value = v
}

// memoryView adapts one memory address to api.Memory, implementing
// spec.md §6's memory_view with bounds-checked little-endian accessors.
type memoryView struct {
	r    *runtime
	addr wasm.Addr
}

var _ api.Memory = (*memoryView)(nil)

func (m *memoryView) inst() *wasm.MemoryInstance { return m.r.store.GetMemory(m.addr) }

func (m *memoryView) Size(context.Context) uint32 { return uint32(len(m.inst().Buffer)) }

func (m *memoryView) Grow(ctx context.Context, deltaPages uint32) (uint32, bool) {
	return m.inst().Grow(deltaPages, m.r.config.maxMemoryPages)
}

func (m *memoryView) ReadByte(ctx context.Context, offset uint32) (byte, bool) {
	buf := m.inst().Buffer
	if uint64(offset) >= uint64(len(buf)) {
		return 0, false
	}
	return buf[offset], true
}

func (m *memoryView) ReadUint16Le(ctx context.Context, offset uint32) (uint16, bool) {
	b, ok := m.Read(ctx, offset, 2)
	if !ok {
		return 0, false
	}
	return binary.LittleEndian.Uint16(b), true
}

func (m *memoryView) ReadUint32Le(ctx context.Context, offset uint32) (uint32, bool) {
	b, ok := m.Read(ctx, offset, 4)
	if !ok {
		return 0, false
	}
	return binary.LittleEndian.Uint32(b), true
}

func (m *memoryView) ReadFloat32Le(ctx context.Context, offset uint32) (float32, bool) {
	v, ok := m.ReadUint32Le(ctx, offset)
	return api.DecodeF32(uint64(v)), ok
}

func (m *memoryView) ReadUint64Le(ctx context.Context, offset uint32) (uint64, bool) {
	b, ok := m.Read(ctx, offset, 8)
	if !ok {
		return 0, false
	}
	return binary.LittleEndian.Uint64(b), true
}

func (m *memoryView) ReadFloat64Le(ctx context.Context, offset uint32) (float64, bool) {
	v, ok := m.ReadUint64Le(ctx, offset)
	return api.DecodeF64(v), ok
}

func (m *memoryView) Read(ctx context.Context, offset, byteCount uint32) ([]byte, bool) {
	buf := m.inst().Buffer
	if uint64(offset)+uint64(byteCount) > uint64(len(buf)) {
		return nil, false
	}
	return buf[offset : offset+byteCount], true
}

func (m *memoryView) WriteByte(ctx context.Context, offset uint32, v byte) bool {
	buf := m.inst().Buffer
	if uint64(offset) >= uint64(len(buf)) {
		return false
	}
	buf[offset] = v
	return true
}

func (m *memoryView) WriteUint16Le(ctx context.Context, offset uint32, v uint16) bool {
	b, ok := m.Read(ctx, offset, 2)
	if !ok {
		return false
	}
	binary.LittleEndian.PutUint16(b, v)
	return true
}

func (m *memoryView) WriteUint32Le(ctx context.Context, offset, v uint32) bool {
	b, ok := m.Read(ctx, offset, 4)
	if !ok {
		return false
	}
	binary.LittleEndian.PutUint32(b, v)
	return true
}

func (m *memoryView) WriteFloat32Le(ctx context.Context, offset uint32, v float32) bool {
	return m.WriteUint32Le(ctx, offset, uint32(api.EncodeF32(v)))
}

func (m *memoryView) WriteUint64Le(ctx context.Context, offset uint32, v uint64) bool {
	b, ok := m.Read(ctx, offset, 8)
	if !ok {
		return false
	}
	binary.LittleEndian.PutUint64(b, v)
	return true
}

func (m *memoryView) WriteFloat64Le(ctx context.Context, offset uint32, v float64) bool {
	return m.WriteUint64Le(ctx, offset, api.EncodeF64(v))
}

func (m *memoryView) Write(ctx context.Context, offset uint32, v []byte) bool {
	b, ok := m.Read(ctx, offset, uint32(len(v)))
	if !ok {
		return false
	}
	copy(b, v)
	return true
}
