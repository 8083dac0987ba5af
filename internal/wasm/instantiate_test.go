package wasm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func funcSubType(params, results []ValueType) SubType {
	ft := &FunctionType{Params: toValTypes(params), Results: toValTypes(results)}
	return SubType{Composite: CompositeType{Kind: CompositeTypeFunc, Func: ft}}
}

func toValTypes(ks []ValueType) []ValType {
	out := make([]ValType, len(ks))
	for i, k := range ks {
		out[i] = NumericValType(k)
	}
	return out
}

func TestInstantiateResolvesFunctionImport(t *testing.T) {
	store := NewStore()
	host := &ModuleInstance{Exports: map[string]ExportInstance{}}
	hostFn := &FunctionInstance{Type: &FunctionType{Params: toValTypes([]ValueType{ValueTypeI32}), Results: toValTypes([]ValueType{ValueTypeI32})}}
	addr := store.PushFunction(hostFn)
	host.Functions = append(host.Functions, addr)
	host.Exports["double"] = ExportInstance{Kind: ImportKindFunc, Addr: addr}
	require.NoError(t, store.RegisterModule("env", host))

	m := &Module{
		Types: []SubType{funcSubType([]ValueType{ValueTypeI32}, []ValueType{ValueTypeI32})},
		Imports: []Import{
			{Module: "env", Name: "double", Kind: ImportKindFunc, FuncTypeIndex: 0},
		},
	}

	in := &Instantiator{Store: store}
	mi, err := in.Instantiate(context.Background(), m, "caller")
	require.NoError(t, err)
	require.Len(t, mi.Functions, 1)
	require.Equal(t, addr, mi.Functions[0])
	require.EqualValues(t, 1, m.ImportFuncCount)
}

func TestInstantiateUnknownImportModule(t *testing.T) {
	store := NewStore()
	m := &Module{
		Types:   []SubType{funcSubType(nil, nil)},
		Imports: []Import{{Module: "missing", Name: "f", Kind: ImportKindFunc, FuncTypeIndex: 0}},
	}
	in := &Instantiator{Store: store}
	_, err := in.Instantiate(context.Background(), m, "")
	require.Error(t, err)
}

func TestInstantiateFunctionSignatureMismatch(t *testing.T) {
	store := NewStore()
	host := &ModuleInstance{Exports: map[string]ExportInstance{}}
	hostFn := &FunctionInstance{Type: &FunctionType{Params: toValTypes([]ValueType{ValueTypeI64}), Results: nil}}
	addr := store.PushFunction(hostFn)
	host.Functions = append(host.Functions, addr)
	host.Exports["f"] = ExportInstance{Kind: ImportKindFunc, Addr: addr}
	require.NoError(t, store.RegisterModule("env", host))

	m := &Module{
		Types:   []SubType{funcSubType([]ValueType{ValueTypeI32}, nil)},
		Imports: []Import{{Module: "env", Name: "f", Kind: ImportKindFunc, FuncTypeIndex: 0}},
	}
	in := &Instantiator{Store: store}
	_, err := in.Instantiate(context.Background(), m, "")
	require.Error(t, err)
	// the failed instantiation must not have leaked a rolled-back function push
	require.Len(t, store.Functions, 1)
}

func TestInstantiateImportKindMismatch(t *testing.T) {
	store := NewStore()
	host := &ModuleInstance{Exports: map[string]ExportInstance{}}
	addr := store.PushMemory(NewMemoryInstance(MemoryType{Lim: Limits{Min: 1}}))
	host.Memories = append(host.Memories, addr)
	host.Exports["mem"] = ExportInstance{Kind: ImportKindMemory, Addr: addr}
	require.NoError(t, store.RegisterModule("env", host))

	m := &Module{
		Types:   []SubType{funcSubType(nil, nil)},
		Imports: []Import{{Module: "env", Name: "mem", Kind: ImportKindFunc, FuncTypeIndex: 0}},
	}
	in := &Instantiator{Store: store}
	_, err := in.Instantiate(context.Background(), m, "")
	require.Error(t, err)
}

func TestInstantiateDuplicateNameRejected(t *testing.T) {
	store := NewStore()
	require.NoError(t, store.RegisterModule("dup", &ModuleInstance{Exports: map[string]ExportInstance{}}))

	m := &Module{Types: []SubType{funcSubType(nil, nil)}}
	in := &Instantiator{Store: store}
	_, err := in.Instantiate(context.Background(), m, "dup")
	require.Error(t, err)
}

func TestInstantiateAnonymousModuleTracked(t *testing.T) {
	store := NewStore()
	m := &Module{Types: []SubType{funcSubType(nil, nil)}}
	in := &Instantiator{Store: store}

	mi1, err := in.Instantiate(context.Background(), m, "")
	require.NoError(t, err)
	mi2, err := in.Instantiate(context.Background(), m, "")
	require.NoError(t, err)

	require.Equal(t, Addr(0), mi1.Self)
	require.Equal(t, Addr(1), mi2.Self)
	require.False(t, store.NameRegistered(""))
}
