package wasm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStorePushAndGet(t *testing.T) {
	s := NewStore()

	fAddr := s.PushFunction(&FunctionInstance{DebugName: "f0"})
	require.Equal(t, Addr(0), fAddr)
	require.Equal(t, "f0", s.GetFunction(fAddr).DebugName)
	require.Nil(t, s.GetFunction(Addr(1)))

	mAddr := s.PushMemory(NewMemoryInstance(MemoryType{Lim: Limits{Min: 1}}))
	require.Equal(t, Addr(0), mAddr)
	require.NotNil(t, s.GetMemory(mAddr))
}

func TestStoreRegisterModuleRejectsDuplicateName(t *testing.T) {
	s := NewStore()
	mi := &ModuleInstance{Exports: map[string]ExportInstance{}}
	require.NoError(t, s.RegisterModule("env", mi))
	require.Equal(t, Addr(0), mi.Self)

	err := s.RegisterModule("env", &ModuleInstance{Exports: map[string]ExportInstance{}})
	require.Error(t, err)

	require.True(t, s.NameRegistered("env"))
	require.Same(t, mi, s.FindModule("env"))
	require.Nil(t, s.FindModule("missing"))
}

func TestStoreAppendAnonymousModuleDoesNotClaimName(t *testing.T) {
	s := NewStore()
	a := &ModuleInstance{Exports: map[string]ExportInstance{}}
	b := &ModuleInstance{Exports: map[string]ExportInstance{}}
	s.AppendAnonymousModule(a)
	s.AppendAnonymousModule(b)

	require.Equal(t, Addr(0), a.Self)
	require.Equal(t, Addr(1), b.Self)
	require.False(t, s.NameRegistered(""))
	require.Len(t, s.Modules, 2)
}

func TestStoreCaseInsensitiveNames(t *testing.T) {
	s := NewStore()
	s.CaseInsensitiveNames = true
	mi := &ModuleInstance{Exports: map[string]ExportInstance{}}
	require.NoError(t, s.RegisterModule("Env", mi))
	require.True(t, s.NameRegistered("env"))
	require.Same(t, mi, s.FindModule("ENV"))
}

func TestStoreBeginInstantiationRollback(t *testing.T) {
	s := NewStore()
	s.PushFunction(&FunctionInstance{DebugName: "kept"})

	s.BeginInstantiation()
	s.PushFunction(&FunctionInstance{DebugName: "speculative"})
	s.PushMemory(NewMemoryInstance(MemoryType{Lim: Limits{Min: 1}}))
	require.Len(t, s.Functions, 2)

	s.Rollback()
	require.Len(t, s.Functions, 1)
	require.Equal(t, "kept", s.Functions[0].DebugName)
	require.Len(t, s.Memories, 0)
}

func TestStoreReset(t *testing.T) {
	s := NewStore()
	s.PushFunction(&FunctionInstance{})
	require.NoError(t, s.RegisterModule("env", &ModuleInstance{Exports: map[string]ExportInstance{}}))

	s.Reset()
	require.Len(t, s.Functions, 0)
	require.Len(t, s.Modules, 0)
	require.False(t, s.NameRegistered("env"))
}
