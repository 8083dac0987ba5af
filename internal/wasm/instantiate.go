package wasm

import (
	"context"
	"fmt"

	"github.com/nexuswasm/wazero/internal/wasmruntime"
)

// Instantiator drives Store.push/import operations following the ordered
// steps in spec.md §4.5.
type Instantiator struct {
	Store    *Store
	Features Features
	Invoker  Invoker // may be nil only for modules without a start function; Instantiate fails otherwise

	// MaxMemoryPages is the ceiling a module's initial memory size is checked
	// against (0 means 65536 pages); it does not bound memory.grow.
	MaxMemoryPages uint32
}

// Instantiate allocates instances for module into the Instantiator's Store,
// resolves imports by name, runs constant initializers and active
// element/data segments, and optionally invokes the start function.
func (in *Instantiator) Instantiate(ctx context.Context, module *Module, name string) (*ModuleInstance, error) {
	if name != "" && in.Store.NameRegistered(name) {
		return nil, fmt.Errorf("%w: %q", wasmruntime.ErrModuleNameConflict, name)
	}

	in.Store.BeginInstantiation()

	mi := &ModuleInstance{
		Name:    name,
		Exports: map[string]ExportInstance{},
		Types:   module.Types,
	}

	if err := in.resolveImports(module, mi); err != nil {
		in.Store.Rollback()
		return nil, err
	}

	in.allocateFunctions(module, mi)
	if err := in.allocateTablesAndMemories(module, mi); err != nil {
		in.Store.Rollback()
		return nil, err
	}
	if err := in.allocateGlobals(module, mi); err != nil {
		in.Store.Rollback()
		return nil, err
	}
	if err := in.allocateTags(module, mi); err != nil {
		in.Store.Rollback()
		return nil, err
	}

	if err := in.allocateElements(module, mi); err != nil {
		in.Store.Rollback()
		return nil, err
	}
	in.allocateData(module, mi)

	if err := in.initializeActiveElements(module, mi); err != nil {
		in.Store.Rollback()
		return nil, err
	}
	if err := in.initializeActiveData(module, mi); err != nil {
		in.Store.Rollback()
		return nil, err
	}

	in.buildExports(module, mi)

	if name != "" {
		if err := in.Store.RegisterModule(name, mi); err != nil {
			in.Store.Rollback()
			return nil, err
		}
	} else {
		// Anonymous modules are still tracked so their instances stay
		// reachable via ModuleInstance.Self.
		in.Store.mux.Lock()
		in.Store.Modules = append(in.Store.Modules, mi)
		mi.Self = Addr(len(in.Store.Modules) - 1)
		in.Store.mux.Unlock()
	}

	for _, addr := range mi.Functions[module.ImportFuncCount:] {
		in.Store.GetFunction(addr).Module = mi.Self
	}

	if module.HasStartIndex {
		if in.Invoker == nil {
			return nil, fmt.Errorf("module declares a start function but no Invoker was configured")
		}
		startAddr := mi.Functions[module.StartIndex]
		if _, err := in.Invoker.Invoke(ctx, in.Store, startAddr, nil); err != nil {
			return mi, err
		}
	}

	return mi, nil
}

func (in *Instantiator) resolveImports(module *Module, mi *ModuleInstance) error {
	for _, imp := range module.Imports {
		exporter := in.Store.FindModule(imp.Module)
		if exporter == nil {
			return fmt.Errorf("%w: module %q not found for import %q.%q", wasmruntime.ErrUnknownImport, imp.Module, imp.Module, imp.Name)
		}
		exp, ok := exporter.Exports[imp.Name]
		if !ok {
			return fmt.Errorf("%w: %q.%q", wasmruntime.ErrUnknownImport, imp.Module, imp.Name)
		}
		if exp.Kind != importKindOf(imp) {
			return fmt.Errorf("%w: %q.%q is a %v, not a %v", wasmruntime.ErrIncompatibleImportType, imp.Module, imp.Name, exp.Kind, importKindOf(imp))
		}

		switch imp.Kind {
		case ImportKindFunc:
			want := module.TypeOf(imp.FuncTypeIndex)
			got := in.Store.GetFunction(exp.Addr)
			if !want.Equal(got.Type) {
				return fmt.Errorf("%w: function signature mismatch importing %q.%q", wasmruntime.ErrIncompatibleImportType, imp.Module, imp.Name)
			}
			mi.Functions = append(mi.Functions, exp.Addr)
		case ImportKindTable:
			got := in.Store.GetTable(exp.Addr)
			if got.Type.ElemType != imp.Table.ElemType || !limitsCompatible(got.Type.Lim, imp.Table.Lim) {
				return fmt.Errorf("%w: table mismatch importing %q.%q", wasmruntime.ErrIncompatibleImportType, imp.Module, imp.Name)
			}
			mi.Tables = append(mi.Tables, exp.Addr)
		case ImportKindMemory:
			got := in.Store.GetMemory(exp.Addr)
			if !limitsCompatible(got.Type.Lim, imp.Memory.Lim) {
				return fmt.Errorf("%w: memory mismatch importing %q.%q", wasmruntime.ErrIncompatibleImportType, imp.Module, imp.Name)
			}
			mi.Memories = append(mi.Memories, exp.Addr)
		case ImportKindGlobal:
			got := in.Store.GetGlobal(exp.Addr)
			if got.Type.ValType.Kind != imp.Global.ValType.Kind || got.Type.Mutable != imp.Global.Mutable {
				return fmt.Errorf("%w: global mismatch importing %q.%q", wasmruntime.ErrIncompatibleImportType, imp.Module, imp.Name)
			}
			mi.Globals = append(mi.Globals, exp.Addr)
		case ImportKindTag:
			got := in.Store.GetTag(exp.Addr)
			want := module.TypeOf(imp.Tag.TypeIndex)
			if !want.Equal(got.Type) {
				return fmt.Errorf("%w: tag signature mismatch importing %q.%q", wasmruntime.ErrIncompatibleImportType, imp.Module, imp.Name)
			}
			mi.Tags = append(mi.Tags, exp.Addr)
		}
	}
	module.ImportFuncCount = uint32(len(mi.Functions))
	module.ImportTableCount = uint32(len(mi.Tables))
	module.ImportMemoryCount = uint32(len(mi.Memories))
	module.ImportGlobalCount = uint32(len(mi.Globals))
	module.ImportTagCount = uint32(len(mi.Tags))
	return nil
}

// limitsCompatible implements spec.md §4.5 step 3's "imported.min >=
// declared.min, and if the declaration has a max then the imported side
// must also have a max no larger".
func limitsCompatible(imported, declared Limits) bool {
	if imported.Min < declared.Min {
		return false
	}
	if declared.Max != nil {
		if imported.Max == nil || *imported.Max > *declared.Max {
			return false
		}
	}
	if declared.Shared && !imported.Shared {
		return false
	}
	return true
}

func importKindOf(imp Import) ImportKind { return imp.Kind }

func (in *Instantiator) allocateFunctions(module *Module, mi *ModuleInstance) {
	for i, code := range module.Code {
		typeIdx := module.FunctionTypeIndices[i]
		fn := &FunctionInstance{
			Type:       module.TypeOf(typeIdx),
			Body:       code.Body.Instructions,
			LocalTypes: code.LocalTypes,
			NumLocals:  len(code.LocalTypes),
			DebugName:  fmt.Sprintf("%s.$%d", mi.Name, uint32(len(mi.Functions))),
		}
		addr := in.Store.PushFunction(fn)
		// fn.Module is filled in once mi.Self is known, after registration.
		mi.Functions = append(mi.Functions, addr)
	}
}

func (in *Instantiator) allocateTablesAndMemories(module *Module, mi *ModuleInstance) error {
	for _, t := range module.Tables {
		mi.Tables = append(mi.Tables, in.Store.PushTable(NewTableInstance(t)))
	}
	ceiling := in.MaxMemoryPages
	if ceiling == 0 {
		ceiling = 65536
	}
	for _, m := range module.Memories {
		if m.Lim.Min > ceiling {
			return fmt.Errorf("%w: initial memory size exceeds the configured ceiling", wasmruntime.ErrMemoryOutOfBounds)
		}
		mi.Memories = append(mi.Memories, in.Store.PushMemory(NewMemoryInstance(m)))
	}
	return nil
}

func (in *Instantiator) allocateGlobals(module *Module, mi *ModuleInstance) error {
	cctx := &ConstExprContext{Store: in.Store, ImportedGlobals: mi.Globals, FunctionAddrs: mi.Functions}
	for _, g := range module.Globals {
		v, _, err := EvalConstExpr(cctx, g.Init)
		if err != nil {
			return err
		}
		addr := in.Store.PushGlobal(&GlobalInstance{Type: g.Type, Value: v})
		mi.Globals = append(mi.Globals, addr)
	}
	return nil
}

func (in *Instantiator) allocateTags(module *Module, mi *ModuleInstance) error {
	for _, t := range module.Tags {
		ft := module.TypeOf(t.TypeIndex)
		addr := in.Store.PushTag(&TagInstance{Type: ft})
		mi.Tags = append(mi.Tags, addr)
	}
	return nil
}

func (in *Instantiator) allocateElements(module *Module, mi *ModuleInstance) error {
	cctx := &ConstExprContext{Store: in.Store, ImportedGlobals: mi.Globals, FunctionAddrs: mi.Functions}
	for _, seg := range module.Elements {
		refs := make([]Addr, len(seg.Init))
		for i, initExpr := range seg.Init {
			_, refAddr, err := EvalConstExpr(cctx, initExpr)
			if err != nil {
				return err
			}
			refs[i] = refAddr
		}
		addr := in.Store.PushElement(&ElementInstance{Type: seg.Type, Refs: refs})
		mi.Elements = append(mi.Elements, addr)
	}
	return nil
}

func (in *Instantiator) allocateData(module *Module, mi *ModuleInstance) {
	for _, seg := range module.Data {
		b := make([]byte, len(seg.Init))
		copy(b, seg.Init)
		addr := in.Store.PushData(&DataInstance{Bytes: b})
		mi.Data = append(mi.Data, addr)
	}
}

func (in *Instantiator) initializeActiveElements(module *Module, mi *ModuleInstance) error {
	cctx := &ConstExprContext{Store: in.Store, ImportedGlobals: mi.Globals, FunctionAddrs: mi.Functions}
	for i, seg := range module.Elements {
		elemAddr := mi.Elements[i]
		elem := in.Store.GetElement(elemAddr)
		switch seg.Mode {
		case ElementModeDeclarative:
			elem.Dropped = true
		case ElementModeActive:
			offsetVal, _, err := EvalConstExpr(cctx, seg.Offset)
			if err != nil {
				return err
			}
			offset := uint32(offsetVal)
			table := in.Store.GetTable(mi.Tables[seg.TableIndex])
			if uint64(offset)+uint64(len(elem.Refs)) > uint64(len(table.Refs)) {
				return fmt.Errorf("%w: active element segment copy", wasmruntime.ErrTableOutOfBounds)
			}
			copy(table.Refs[offset:], elem.Refs)
			elem.Dropped = true
		}
	}
	return nil
}

func (in *Instantiator) initializeActiveData(module *Module, mi *ModuleInstance) error {
	cctx := &ConstExprContext{Store: in.Store, ImportedGlobals: mi.Globals, FunctionAddrs: mi.Functions}
	for i, seg := range module.Data {
		dataAddr := mi.Data[i]
		data := in.Store.GetData(dataAddr)
		if seg.Mode != DataModeActive {
			continue
		}
		offsetVal, _, err := EvalConstExpr(cctx, seg.Offset)
		if err != nil {
			return err
		}
		offset := uint32(offsetVal)
		mem := in.Store.GetMemory(mi.Memories[seg.MemoryIdx])
		if uint64(offset)+uint64(len(data.Bytes)) > uint64(len(mem.Buffer)) {
			return fmt.Errorf("%w: active data segment copy", wasmruntime.ErrMemoryOutOfBounds)
		}
		copy(mem.Buffer[offset:], data.Bytes)
		data.Dropped = true
	}
	return nil
}

func (in *Instantiator) buildExports(module *Module, mi *ModuleInstance) {
	for _, exp := range module.Exports {
		var addr Addr
		switch exp.Kind {
		case ImportKindFunc:
			addr = mi.Functions[exp.Index]
		case ImportKindTable:
			addr = mi.Tables[exp.Index]
		case ImportKindMemory:
			addr = mi.Memories[exp.Index]
		case ImportKindGlobal:
			addr = mi.Globals[exp.Index]
		case ImportKindTag:
			addr = mi.Tags[exp.Index]
		}
		mi.Exports[exp.Name] = ExportInstance{Kind: exp.Kind, Addr: addr}
	}
}
