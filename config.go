package wazero

import (
	"context"

	"github.com/nexuswasm/wazero/internal/engine/interpreter"
	"github.com/nexuswasm/wazero/internal/wasm"
)

// RuntimeConfig controls the behavior of a Runtime created via NewRuntime,
// configuring which proposal extensions are accepted and how the engine
// meters and bounds execution (spec.md §6 "Configuration options").
type RuntimeConfig struct {
	features       wasm.Features
	ctx            context.Context
	maxMemoryPages uint32
	costLimit      uint64
	costTable      *interpreter.CostTable
	forceInterpreter bool
	statsEnabled   bool
}

// NewRuntimeConfig returns the default configuration: WebAssembly 1.0
// (20191205) features only, a 65536-page memory ceiling, no gas limit.
func NewRuntimeConfig() *RuntimeConfig {
	return &RuntimeConfig{
		features:       wasm.Default1_0Features,
		ctx:            context.Background(),
		maxMemoryPages: 65536,
	}
}

func (c *RuntimeConfig) clone() *RuntimeConfig {
	ret := *c
	return &ret
}

// WithContext sets the default context used for the start function and any
// api.Function invocation that receives a nil context.
func (c *RuntimeConfig) WithContext(ctx context.Context) *RuntimeConfig {
	if ctx == nil {
		ctx = context.Background()
	}
	ret := c.clone()
	ret.ctx = ctx
	return ret
}

// WithMemoryMaxPages clamps memory.grow (and a module's own declared max)
// to at most maxPages, regardless of what an individual MemoryType allows.
func (c *RuntimeConfig) WithMemoryMaxPages(maxPages uint32) *RuntimeConfig {
	ret := c.clone()
	ret.maxMemoryPages = maxPages
	return ret
}

// WithCostLimit sets a gas ceiling; exceeding it traps with
// ErrCostLimitExceeded. Zero (the default) sets no ceiling; gas is still
// counted, since this method installs the default cost table if none is set.
func (c *RuntimeConfig) WithCostLimit(limit uint64) *RuntimeConfig {
	ret := c.clone()
	ret.costLimit = limit
	if ret.costTable == nil {
		ret.costTable = interpreter.DefaultCostTable()
	}
	return ret
}

// WithCostTable overrides the per-opcode-family gas weights used for
// metering (see interpreter.CostTable's prefix-byte indexing).
func (c *RuntimeConfig) WithCostTable(t *interpreter.CostTable) *RuntimeConfig {
	ret := c.clone()
	ret.costTable = t
	return ret
}

// WithForceInterpreter ignores any embedded AOT payload (the `wasmedge`
// custom section) and always runs via the bytecode interpreter. This
// Runtime only ever runs via the interpreter, so this is a no-op retained
// for API parity with embedders that toggle it.
func (c *RuntimeConfig) WithForceInterpreter(force bool) *RuntimeConfig {
	ret := c.clone()
	ret.forceInterpreter = force
	return ret
}

// WithStatsEnabled turns on per-instruction and gas counters (using the
// default cost table unless one is set), readable afterward via
// Runtime.Statistics. Wall-clock timing is recorded on every call either way.
func (c *RuntimeConfig) WithStatsEnabled(enabled bool) *RuntimeConfig {
	ret := c.clone()
	ret.statsEnabled = enabled
	return ret
}

// proposal toggles, one method per name in spec.md §6's enumerated list.

func (c *RuntimeConfig) WithFeatureMultiValue(enabled bool) *RuntimeConfig {
	return c.withFeature(wasm.FeatureMultiValue, enabled)
}

func (c *RuntimeConfig) WithFeatureBulkMemoryOperations(enabled bool) *RuntimeConfig {
	return c.withFeature(wasm.FeatureBulkMemoryOperations, enabled)
}

func (c *RuntimeConfig) WithFeatureReferenceTypes(enabled bool) *RuntimeConfig {
	return c.withFeature(wasm.FeatureReferenceTypes, enabled)
}

func (c *RuntimeConfig) WithFeatureSIMD(enabled bool) *RuntimeConfig {
	return c.withFeature(wasm.FeatureSIMD, enabled)
}

func (c *RuntimeConfig) WithFeatureTailCall(enabled bool) *RuntimeConfig {
	return c.withFeature(wasm.FeatureTailCall, enabled)
}

func (c *RuntimeConfig) WithFeatureThreads(enabled bool) *RuntimeConfig {
	return c.withFeature(wasm.FeatureThreads, enabled)
}

func (c *RuntimeConfig) WithFeatureMultiMemory(enabled bool) *RuntimeConfig {
	return c.withFeature(wasm.FeatureMultiMemory, enabled)
}

func (c *RuntimeConfig) WithFeatureMutableGlobalsImportsExports(enabled bool) *RuntimeConfig {
	return c.withFeature(wasm.FeatureMutableGlobalsImportsExports, enabled)
}

func (c *RuntimeConfig) WithFeatureSignExtensionOps(enabled bool) *RuntimeConfig {
	return c.withFeature(wasm.FeatureSignExtensionOps, enabled)
}

func (c *RuntimeConfig) WithFeatureNonTrappingFloatToIntConversion(enabled bool) *RuntimeConfig {
	return c.withFeature(wasm.FeatureNonTrappingFloatToIntConversion, enabled)
}

func (c *RuntimeConfig) WithFeatureFunctionReferences(enabled bool) *RuntimeConfig {
	return c.withFeature(wasm.FeatureFunctionReferences, enabled)
}

func (c *RuntimeConfig) WithFeatureGC(enabled bool) *RuntimeConfig {
	return c.withFeature(wasm.FeatureGC, enabled)
}

func (c *RuntimeConfig) WithFeatureExceptionHandling(enabled bool) *RuntimeConfig {
	return c.withFeature(wasm.FeatureExceptionHandling, enabled)
}

func (c *RuntimeConfig) WithFeatureMemory64(enabled bool) *RuntimeConfig {
	return c.withFeature(wasm.FeatureMemory64, enabled)
}

func (c *RuntimeConfig) WithFeatureRelaxedSIMD(enabled bool) *RuntimeConfig {
	return c.withFeature(wasm.FeatureRelaxedSIMD, enabled)
}

func (c *RuntimeConfig) WithFeatureComponentModel(enabled bool) *RuntimeConfig {
	return c.withFeature(wasm.FeatureComponentModel, enabled)
}

// WithWASICoreFeatures enables every proposal listed in spec.md §6, a
// convenience for embedders that want maximal acceptance.
func (c *RuntimeConfig) WithWASICoreFeatures() *RuntimeConfig {
	ret := c.clone()
	ret.features = wasm.FeaturesAll
	return ret
}

func (c *RuntimeConfig) withFeature(f wasm.Features, enabled bool) *RuntimeConfig {
	ret := c.clone()
	ret.features = ret.features.Set(f, enabled)
	return ret
}
