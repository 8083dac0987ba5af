// Package wazero is the embedding surface spec.md §6 describes: compiling
// WebAssembly binaries, instantiating them against a shared Store, invoking
// their exports, and registering host modules for them to import.
package wazero

import (
	"context"
	"fmt"

	"github.com/nexuswasm/wazero/api"
	"github.com/nexuswasm/wazero/internal/engine/interpreter"
	"github.com/nexuswasm/wazero/internal/wasm"
	"github.com/nexuswasm/wazero/internal/wasm/binary"
)

// CompiledModule is a decoded and validated module, ready for
// Runtime.InstantiateModule. Compiling once and instantiating many times
// avoids repeating decode/validate work (spec.md §6 "load_module").
type CompiledModule struct {
	module *wasm.Module
	name   string

	// instance is set instead of module for a host module (built directly
	// by HostModuleBuilder.Compile): its functions/memories are already
	// pushed into the Store, so InstantiateModule only has to register
	// and adopt it rather than run it through wasm.Instantiator.
	instance *wasm.ModuleInstance
}

// Name is the module name a HostModuleBuilder compiled this module under.
// CompileModule does not decode a name section, so it is empty for a binary.
func (c *CompiledModule) Name() string { return c.name }

// Runtime is a Store plus the engine and configuration used to run modules
// against it. One Runtime is normally shared by every module in a process;
// spec.md §5 requires no cross-Store state, so nothing stops running
// multiple Runtimes side by side.
type Runtime interface {
	// CompileModule decodes and validates a binary module (spec.md
	// §6's load_module + validate), without instantiating it.
	CompileModule(ctx context.Context, binary []byte) (*CompiledModule, error)

	// InstantiateModule instantiates a CompiledModule into this Runtime's
	// Store, running its start function if it has one (spec.md §6's
	// "instantiate").
	InstantiateModule(ctx context.Context, compiled *CompiledModule, config *ModuleConfig) (api.Module, error)

	// Instantiate is a convenience that Compiles then Instantiates.
	Instantiate(ctx context.Context, source []byte) (api.Module, error)

	// NewHostModuleBuilder begins defining a host module
	// (spec.md §6's "register_host"), importable by name moduleName.
	NewHostModuleBuilder(moduleName string) HostModuleBuilder

	// Statistics returns the interpreter's gas/instruction/time counters.
	// Instruction and gas counts are collected only while a cost table is in
	// use (RuntimeConfig.WithStatsEnabled, WithCostLimit or WithCostTable).
	Statistics() interpreter.Statistics

	Close(ctx context.Context) error
}

type runtime struct {
	config  *RuntimeConfig
	store   *wasm.Store
	engine  *interpreter.Engine
	modules []*moduleInstance
}

var _ Runtime = (*runtime)(nil)

// NewRuntime constructs a Runtime with the default configuration.
func NewRuntime(ctx context.Context) Runtime {
	return NewRuntimeWithConfig(ctx, NewRuntimeConfig())
}

// NewRuntimeWithConfig constructs a Runtime with an explicit RuntimeConfig.
func NewRuntimeWithConfig(ctx context.Context, config *RuntimeConfig) Runtime {
	if ctx != nil {
		config = config.WithContext(ctx)
	}
	eng := interpreter.New(config.features)
	eng.MaxMemoryPages = config.maxMemoryPages
	eng.CostLimit = config.costLimit
	eng.CostTable = config.costTable
	if config.statsEnabled && eng.CostTable == nil {
		eng.CostTable = interpreter.DefaultCostTable()
	}
	return &runtime{config: config, store: wasm.NewStore(), engine: eng}
}

func (r *runtime) CompileModule(ctx context.Context, source []byte) (*CompiledModule, error) {
	m, err := binary.DecodeModule(source, binary.DecodeModuleConfig{Features: r.config.features})
	if err != nil {
		return nil, err
	}
	return &CompiledModule{module: m}, nil
}

func (r *runtime) InstantiateModule(ctx context.Context, compiled *CompiledModule, config *ModuleConfig) (api.Module, error) {
	if ctx == nil {
		ctx = r.config.ctx
	}
	if config == nil {
		config = NewModuleConfig()
	}
	name := compiled.name
	if config.name != nil {
		name = *config.name
	}

	if compiled.instance != nil {
		mi := compiled.instance
		mi.Name = name
		if name != "" {
			if err := r.store.RegisterModule(name, mi); err != nil {
				return nil, err
			}
		} else {
			r.store.AppendAnonymousModule(mi)
		}
		for _, addr := range mi.Functions {
			r.store.GetFunction(addr).Module = mi.Self
		}
		m := &moduleInstance{r: r, mi: mi}
		r.modules = append(r.modules, m)
		return m, nil
	}

	in := &wasm.Instantiator{
		Store:          r.store,
		Features:       r.config.features,
		Invoker:        r.engine,
		MaxMemoryPages: r.config.maxMemoryPages,
	}
	mi, err := in.Instantiate(ctx, compiled.module, name)
	if err != nil {
		return nil, err
	}
	m := &moduleInstance{r: r, mi: mi}
	r.modules = append(r.modules, m)
	return m, nil
}

func (r *runtime) Instantiate(ctx context.Context, source []byte) (api.Module, error) {
	compiled, err := r.CompileModule(ctx, source)
	if err != nil {
		return nil, err
	}
	return r.InstantiateModule(ctx, compiled, NewModuleConfig())
}

func (r *runtime) NewHostModuleBuilder(moduleName string) HostModuleBuilder {
	return &hostModuleBuilder{r: r, moduleName: moduleName}
}

func (r *runtime) Statistics() interpreter.Statistics {
	if r.engine.Stats == nil {
		return interpreter.Statistics{}
	}
	return *r.engine.Stats
}

func (r *runtime) Close(ctx context.Context) error {
	for _, m := range r.modules {
		if err := m.Close(ctx); err != nil {
			return fmt.Errorf("closing module %q: %w", m.Name(), err)
		}
	}
	r.store.Reset()
	return nil
}

// ModuleConfig configures one InstantiateModule call: the registered name,
// and (reserved for a WASI-style host module) process-like resources.
type ModuleConfig struct {
	name *string
}

// NewModuleConfig returns a ModuleConfig that keeps the CompiledModule's
// Name and registers it under that name in the Store; with an empty name
// the module is instantiated anonymously.
func NewModuleConfig() *ModuleConfig {
	return &ModuleConfig{}
}

// WithName overrides the name the module is registered and instantiated
// under, so the same CompiledModule can back several named instances.
func (c *ModuleConfig) WithName(name string) *ModuleConfig {
	ret := *c
	ret.name = &name
	return &ret
}
