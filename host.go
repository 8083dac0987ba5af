package wazero

import (
	"context"
	"fmt"
	"reflect"

	"github.com/nexuswasm/wazero/api"
	"github.com/nexuswasm/wazero/internal/wasm"
)

// HostFunctionBuilder defines one host function for a HostModuleBuilder
// (spec.md §6's "register_host"), mirroring the teacher's builder shape.
type HostFunctionBuilder interface {
	// WithGoFunction defines the function from its low-level stack-based
	// signature plus explicit Wasm types.
	WithGoFunction(fn api.GoFunction, params, results []api.ValueType) HostFunctionBuilder

	// WithGoModuleFunction is WithGoFunction plus access to the calling
	// api.Module (its memory, in particular).
	WithGoModuleFunction(fn api.GoModuleFunction, params, results []api.ValueType) HostFunctionBuilder

	// WithFunc maps an idiomatic Go func to a Wasm signature via
	// reflection. Parameters/results must be context.Context (first
	// parameter only), api.Module (optional second parameter), uint32,
	// int32, uint64, int64, float32, or float64.
	WithFunc(fn interface{}) HostFunctionBuilder

	// Export makes this function importable under name.
	Export(name string) HostModuleBuilder
}

// HostModuleBuilder builds a module of Go-defined functions that Wasm
// modules can import (spec.md §6's register_host).
type HostModuleBuilder interface {
	NewFunctionBuilder() HostFunctionBuilder

	// ExportMemory adds linear memory a Wasm module can import.
	ExportMemory(name string, minPages uint32) HostModuleBuilder

	// Compile finishes the definition without instantiating it.
	Compile(ctx context.Context) (*CompiledModule, error)

	// Instantiate compiles then instantiates into the owning Runtime.
	Instantiate(ctx context.Context) (api.Module, error)
}

type hostFuncDef struct {
	fn         api.GoFunction
	modFn      api.GoModuleFunction
	params     []wasm.ValType
	results    []wasm.ValType
	exportName string
}

type hostModuleBuilder struct {
	r          *runtime
	moduleName string
	funcs      []*hostFuncDef
	memories   map[string]uint32
}

var _ HostModuleBuilder = (*hostModuleBuilder)(nil)

func (b *hostModuleBuilder) NewFunctionBuilder() HostFunctionBuilder {
	return &hostFunctionBuilder{b: b}
}

func (b *hostModuleBuilder) ExportMemory(name string, minPages uint32) HostModuleBuilder {
	if b.memories == nil {
		b.memories = map[string]uint32{}
	}
	b.memories[name] = minPages
	return b
}

// Compile pushes this builder's functions and memories into the owning
// Runtime's Store and builds the *wasm.ModuleInstance that will back them,
// but does not yet register it under a name (spec.md §6's register_host is
// split into build-then-adopt so the same definition could, in principle,
// back more than one name).
func (b *hostModuleBuilder) Compile(ctx context.Context) (*CompiledModule, error) {
	mi := &wasm.ModuleInstance{Exports: map[string]wasm.ExportInstance{}}

	for _, fd := range b.funcs {
		ft := &wasm.FunctionType{Params: fd.params, Results: fd.results}
		fn := &wasm.FunctionInstance{
			Module:    wasm.NullAddr,
			Type:      ft,
			GoFunc:    b.goFuncOf(mi, fd),
			DebugName: fmt.Sprintf("%s.%s", b.moduleName, fd.exportName),
		}
		addr := b.r.store.PushFunction(fn)
		mi.Functions = append(mi.Functions, addr)
		mi.Exports[fd.exportName] = wasm.ExportInstance{Kind: wasm.ImportKindFunc, Addr: addr}
	}

	for name, minPages := range b.memories {
		addr := b.r.store.PushMemory(wasm.NewMemoryInstance(wasm.MemoryType{Lim: wasm.Limits{Min: minPages}}))
		mi.Memories = append(mi.Memories, addr)
		mi.Exports[name] = wasm.ExportInstance{Kind: wasm.ImportKindMemory, Addr: addr}
	}

	return &CompiledModule{instance: mi, name: b.moduleName}, nil
}

func (b *hostModuleBuilder) Instantiate(ctx context.Context) (api.Module, error) {
	compiled, err := b.Compile(ctx)
	if err != nil {
		return nil, err
	}
	return b.r.InstantiateModule(ctx, compiled, NewModuleConfig().WithName(b.moduleName))
}

// goFuncOf adapts a hostFuncDef to the api.GoFunction stored on
// FunctionInstance.GoFunc, which the interpreter invokes as
// fn.GoFunc(ctx, stack) with no module parameter. A GoModuleFunction
// resolves its calling api.Module lazily, by address, since fn.Module is
// only fixed up once mi is registered (see runtime.go's InstantiateModule).
func (b *hostModuleBuilder) goFuncOf(mi *wasm.ModuleInstance, fd *hostFuncDef) api.GoFunction {
	if fd.fn != nil {
		return fd.fn
	}
	modFn := fd.modFn
	r := b.r
	return func(ctx context.Context, stack []uint64) {
		modFn(ctx, &moduleInstance{r: r, mi: r.store.Modules[mi.Self]}, stack)
	}
}

type hostFunctionBuilder struct {
	b       *hostModuleBuilder
	def     *hostFuncDef
	rawFunc interface{}
}

var _ HostFunctionBuilder = (*hostFunctionBuilder)(nil)

func (h *hostFunctionBuilder) WithGoFunction(fn api.GoFunction, params, results []api.ValueType) HostFunctionBuilder {
	h.def = &hostFuncDef{fn: fn, params: valTypesOf(params), results: valTypesOf(results)}
	return h
}

func (h *hostFunctionBuilder) WithGoModuleFunction(fn api.GoModuleFunction, params, results []api.ValueType) HostFunctionBuilder {
	h.def = &hostFuncDef{modFn: fn, params: valTypesOf(params), results: valTypesOf(results)}
	return h
}

func (h *hostFunctionBuilder) WithFunc(fn interface{}) HostFunctionBuilder {
	h.rawFunc = fn
	return h
}

func (h *hostFunctionBuilder) Export(name string) HostModuleBuilder {
	def := h.def
	if def == nil {
		def = reflectHostFunc(h.rawFunc)
	}
	def.exportName = name
	h.b.funcs = append(h.b.funcs, def)
	return h.b
}

func valTypesOf(vs []api.ValueType) []wasm.ValType {
	out := make([]wasm.ValType, len(vs))
	for i, v := range vs {
		out[i] = wasm.NumericValType(v)
	}
	return out
}

// reflectHostFunc maps an idiomatic Go func onto the stack-based
// api.GoFunction ABI, inferring Wasm value types from the Go parameter/
// result types (the teacher's WithFunc contract).
func reflectHostFunc(fn interface{}) *hostFuncDef {
	rv := reflect.ValueOf(fn)
	rt := rv.Type()
	if rt.Kind() != reflect.Func {
		panic(fmt.Sprintf("wazero: WithFunc requires a func, got %s", rt.Kind()))
	}

	start := 0
	if rt.NumIn() > 0 && rt.In(0) == reflect.TypeOf((*context.Context)(nil)).Elem() {
		start = 1
	}
	withModule := false
	if rt.NumIn() > start && rt.In(start) == reflect.TypeOf((*api.Module)(nil)).Elem() {
		withModule = true
		start++
	}

	var params, results []wasm.ValType
	for i := start; i < rt.NumIn(); i++ {
		params = append(params, valTypeForGoKind(rt.In(i)))
	}
	for i := 0; i < rt.NumOut(); i++ {
		results = append(results, valTypeForGoKind(rt.Out(i)))
	}

	goFn := func(ctx context.Context, mod api.Module, stack []uint64) {
		args := make([]reflect.Value, rt.NumIn())
		argc := 0
		if start >= 1 {
			args[argc] = reflect.ValueOf(ctx)
			argc++
		}
		if withModule {
			args[argc] = reflect.ValueOf(mod)
			argc++
		}
		for i, p := range params {
			args[argc+i] = reflect.ValueOf(decodeGoKind(rt.In(argc+i), p, stack[i]))
		}
		out := rv.Call(args)
		for i, o := range out {
			stack[i] = encodeGoValue(results[i], o)
		}
	}

	return &hostFuncDef{
		modFn:   func(ctx context.Context, mod api.Module, stack []uint64) { goFn(ctx, mod, stack) },
		params:  params,
		results: results,
	}
}

func valTypeForGoKind(t reflect.Type) wasm.ValType {
	switch t.Kind() {
	case reflect.Uint32, reflect.Int32:
		return wasm.NumericValType(api.ValueTypeI32)
	case reflect.Uint64, reflect.Int64:
		return wasm.NumericValType(api.ValueTypeI64)
	case reflect.Float32:
		return wasm.NumericValType(api.ValueTypeF32)
	case reflect.Float64:
		return wasm.NumericValType(api.ValueTypeF64)
	}
	panic(fmt.Sprintf("wazero: unsupported WithFunc type %s", t))
}

func decodeGoKind(t reflect.Type, vt wasm.ValType, raw uint64) interface{} {
	switch t.Kind() {
	case reflect.Uint32:
		return uint32(raw)
	case reflect.Int32:
		return int32(uint32(raw))
	case reflect.Uint64:
		return raw
	case reflect.Int64:
		return int64(raw)
	case reflect.Float32:
		return api.DecodeF32(raw)
	case reflect.Float64:
		return api.DecodeF64(raw)
	}
	return nil
}

func encodeGoValue(vt wasm.ValType, v reflect.Value) uint64 {
	switch v.Kind() {
	case reflect.Uint32:
		return api.EncodeI32(int32(v.Uint()))
	case reflect.Int32:
		return api.EncodeI32(int32(v.Int()))
	case reflect.Uint64:
		return v.Uint()
	case reflect.Int64:
		return api.EncodeI64(v.Int())
	case reflect.Float32:
		return api.EncodeF32(float32(v.Float()))
	case reflect.Float64:
		return api.EncodeF64(v.Float())
	}
	return 0
}
