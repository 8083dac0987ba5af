package wasm

import (
	"fmt"
	"strings"
	"sync"

	"github.com/nexuswasm/wazero/internal/wasmruntime"
)

// Store owns all mutable runtime state (spec.md §4.4): dense per-kind
// instance tables addressed by Addr, plus the module registry used to
// resolve imports.
type Store struct {
	mux sync.RWMutex

	Functions []*FunctionInstance
	Tables    []*TableInstance
	Memories  []*MemoryInstance
	Globals   []*GlobalInstance
	Tags      []*TagInstance
	Elements  []*ElementInstance
	Data      []*DataInstance
	Modules   []*ModuleInstance

	// byName indexes Modules by their registration name, case-sensitivity
	// governed by CaseInsensitiveNames.
	byName map[string]Addr

	CaseInsensitiveNames bool

	// pending* track addresses pushed for the module currently being
	// instantiated, so a failed instantiation can roll them back (spec.md
	// §4.4 "On failure during instantiation, the push pointers are rolled
	// back so the store never leaks half-instantiated state").
	pendingFunctions, pendingTables, pendingMemories, pendingGlobals,
	pendingTags, pendingElements, pendingData int
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{byName: map[string]Addr{}}
}

// BeginInstantiation snapshots the current push-pointer watermarks so a
// failed instantiation can be rolled back to them.
func (s *Store) BeginInstantiation() {
	s.mux.Lock()
	defer s.mux.Unlock()
	s.pendingFunctions = len(s.Functions)
	s.pendingTables = len(s.Tables)
	s.pendingMemories = len(s.Memories)
	s.pendingGlobals = len(s.Globals)
	s.pendingTags = len(s.Tags)
	s.pendingElements = len(s.Elements)
	s.pendingData = len(s.Data)
}

// Rollback discards every instance pushed since the last BeginInstantiation.
func (s *Store) Rollback() {
	s.mux.Lock()
	defer s.mux.Unlock()
	s.Functions = s.Functions[:s.pendingFunctions]
	s.Tables = s.Tables[:s.pendingTables]
	s.Memories = s.Memories[:s.pendingMemories]
	s.Globals = s.Globals[:s.pendingGlobals]
	s.Tags = s.Tags[:s.pendingTags]
	s.Elements = s.Elements[:s.pendingElements]
	s.Data = s.Data[:s.pendingData]
}

func (s *Store) PushFunction(f *FunctionInstance) Addr {
	s.mux.Lock()
	defer s.mux.Unlock()
	s.Functions = append(s.Functions, f)
	return Addr(len(s.Functions) - 1)
}

func (s *Store) PushTable(t *TableInstance) Addr {
	s.mux.Lock()
	defer s.mux.Unlock()
	s.Tables = append(s.Tables, t)
	return Addr(len(s.Tables) - 1)
}

func (s *Store) PushMemory(m *MemoryInstance) Addr {
	s.mux.Lock()
	defer s.mux.Unlock()
	s.Memories = append(s.Memories, m)
	return Addr(len(s.Memories) - 1)
}

func (s *Store) PushGlobal(g *GlobalInstance) Addr {
	s.mux.Lock()
	defer s.mux.Unlock()
	s.Globals = append(s.Globals, g)
	return Addr(len(s.Globals) - 1)
}

func (s *Store) PushTag(t *TagInstance) Addr {
	s.mux.Lock()
	defer s.mux.Unlock()
	s.Tags = append(s.Tags, t)
	return Addr(len(s.Tags) - 1)
}

func (s *Store) PushElement(e *ElementInstance) Addr {
	s.mux.Lock()
	defer s.mux.Unlock()
	s.Elements = append(s.Elements, e)
	return Addr(len(s.Elements) - 1)
}

func (s *Store) PushData(d *DataInstance) Addr {
	s.mux.Lock()
	defer s.mux.Unlock()
	s.Data = append(s.Data, d)
	return Addr(len(s.Data) - 1)
}

func (s *Store) GetFunction(a Addr) *FunctionInstance {
	s.mux.RLock()
	defer s.mux.RUnlock()
	if int(a) >= len(s.Functions) {
		return nil
	}
	return s.Functions[a]
}

func (s *Store) GetTable(a Addr) *TableInstance {
	s.mux.RLock()
	defer s.mux.RUnlock()
	if int(a) >= len(s.Tables) {
		return nil
	}
	return s.Tables[a]
}

func (s *Store) GetMemory(a Addr) *MemoryInstance {
	s.mux.RLock()
	defer s.mux.RUnlock()
	if int(a) >= len(s.Memories) {
		return nil
	}
	return s.Memories[a]
}

func (s *Store) GetGlobal(a Addr) *GlobalInstance {
	s.mux.RLock()
	defer s.mux.RUnlock()
	if int(a) >= len(s.Globals) {
		return nil
	}
	return s.Globals[a]
}

func (s *Store) GetTag(a Addr) *TagInstance {
	s.mux.RLock()
	defer s.mux.RUnlock()
	if int(a) >= len(s.Tags) {
		return nil
	}
	return s.Tags[a]
}

func (s *Store) GetElement(a Addr) *ElementInstance {
	s.mux.RLock()
	defer s.mux.RUnlock()
	if int(a) >= len(s.Elements) {
		return nil
	}
	return s.Elements[a]
}

func (s *Store) GetData(a Addr) *DataInstance {
	s.mux.RLock()
	defer s.mux.RUnlock()
	if int(a) >= len(s.Data) {
		return nil
	}
	return s.Data[a]
}

// RegisterModule adds mi to the module registry under name, rejecting
// duplicates with ModuleNameConflict (spec.md §4.4).
func (s *Store) RegisterModule(name string, mi *ModuleInstance) error {
	s.mux.Lock()
	defer s.mux.Unlock()
	key := s.normalizeName(name)
	if _, exists := s.byName[key]; exists {
		return fmt.Errorf("%w: %q", wasmruntime.ErrModuleNameConflict, name)
	}
	s.Modules = append(s.Modules, mi)
	mi.Self = Addr(len(s.Modules) - 1)
	s.byName[key] = mi.Self
	return nil
}

// AppendAnonymousModule tracks mi without a lookup-by-name entry, for
// modules instantiated with no name (spec.md §4.5's anonymous instances).
func (s *Store) AppendAnonymousModule(mi *ModuleInstance) {
	s.mux.Lock()
	defer s.mux.Unlock()
	s.Modules = append(s.Modules, mi)
	mi.Self = Addr(len(s.Modules) - 1)
}

// FindModule resolves a registered module by external name.
func (s *Store) FindModule(name string) *ModuleInstance {
	s.mux.RLock()
	defer s.mux.RUnlock()
	addr, ok := s.byName[s.normalizeName(name)]
	if !ok {
		return nil
	}
	return s.Modules[addr]
}

// NameRegistered reports whether name is already claimed.
func (s *Store) NameRegistered(name string) bool {
	s.mux.RLock()
	defer s.mux.RUnlock()
	_, ok := s.byName[s.normalizeName(name)]
	return ok
}

func (s *Store) normalizeName(name string) string {
	if s.CaseInsensitiveNames {
		return strings.ToLower(name)
	}
	return name
}

// Reset drops every instance table, every module and every registered name
// back to empty, host modules included, so it is meant for tests/fixtures
// that rebuild a Store from scratch rather than for production use.
func (s *Store) Reset() {
	s.mux.Lock()
	defer s.mux.Unlock()
	s.Functions = nil
	s.Tables = nil
	s.Memories = nil
	s.Globals = nil
	s.Tags = nil
	s.Elements = nil
	s.Data = nil
	s.Modules = nil
	s.byName = map[string]Addr{}
}
