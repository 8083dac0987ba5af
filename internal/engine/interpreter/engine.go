package interpreter

import (
	"context"
	"fmt"

	"github.com/nexuswasm/wazero/api"
	"github.com/nexuswasm/wazero/internal/wasm"
	"github.com/nexuswasm/wazero/internal/wasmdebug"
	"github.com/nexuswasm/wazero/internal/wasmruntime"
)

// Engine is the interpreter: spec.md §4.6's single implementation of
// wasm.Invoker, configured with the active proposal set and optional
// metering.
type Engine struct {
	Features  wasm.Features
	CostTable *CostTable
	CostLimit uint64 // 0 sets no gas ceiling; metering itself runs whenever CostTable is set
	Stats     *Statistics

	// MaxMemoryPages caps memory.grow regardless of a MemoryType's own Max, 0
	// meaning the spec default of 65536 pages (4GiB).
	MaxMemoryPages uint32
}

// New constructs an Engine. A nil CostTable disables per-opcode metering
// even if CostLimit is set.
func New(features wasm.Features) *Engine {
	return &Engine{Features: features, Stats: &Statistics{}}
}

var _ wasm.Invoker = (*Engine)(nil)

// Invoke runs funcAddr to completion, implementing wasm.Invoker (used both
// by the Instantiator's start-function call and by the embedding API's
// exported-function Call).
func (e *Engine) Invoke(ctx context.Context, store *wasm.Store, funcAddr wasm.Addr, params []uint64) (results []uint64, err error) {
	fn := store.GetFunction(funcAddr)
	if fn == nil {
		return nil, fmt.Errorf("%w: function address %d", wasmruntime.ErrInvalidFuncIdx, funcAddr)
	}
	v := &vm{ctx: ctx, store: store, engine: e}
	e.Stats.start()
	defer e.Stats.stop()
	return v.call(fn, params, wasmdebug.NewErrorBuilder())
}

// call invokes fn (host or Wasm-defined) with params already encoded per
// fn.Type.Params, translating panics (traps, exceptions, Go host panics)
// into errors annotated with a wasm stack trace (spec.md §7 diagnostics).
func (v *vm) call(fn *wasm.FunctionInstance, params []uint64, eb wasmdebug.ErrorBuilder) (results []uint64, err error) {
	if len(v.frames) >= maxCallDepth {
		return nil, wasmruntime.ErrCallStackOverflow
	}

	name := fn.DebugName
	var paramTypes, resultTypes []api.ValueType
	if fn.Type != nil {
		for _, p := range fn.Type.Params {
			paramTypes = append(paramTypes, p.Kind)
		}
		for _, r := range fn.Type.Results {
			resultTypes = append(resultTypes, r.Kind)
		}
	}
	eb.AddFrame(name, paramTypes, resultTypes)

	if fn.IsHostFunction() {
		return v.callHost(fn, params, eb)
	}
	return v.callWasm(fn, params, eb)
}

func (v *vm) callHost(fn *wasm.FunctionInstance, params []uint64, eb wasmdebug.ErrorBuilder) (results []uint64, err error) {
	numResults := len(fn.Type.Results)
	stack := make([]uint64, len(params))
	copy(stack, params)
	if numResults > len(stack) {
		stack = append(stack, make([]uint64, numResults-len(stack))...)
	}
	defer func() {
		if r := recover(); r != nil {
			if term, ok := r.(*wasmruntime.Terminated); ok {
				err = term
				return
			}
			if rev, ok := r.(*wasmruntime.Revert); ok {
				err = rev
				return
			}
			err = eb.FromRecovered(r)
		}
	}()
	fn.GoFunc(v.ctx, stack)
	return stack[:numResults], nil
}

func (v *vm) callWasm(fn *wasm.FunctionInstance, params []uint64, eb wasmdebug.ErrorBuilder) (results []uint64, err error) {
	// local indices address params first, then declared locals (module.go's
	// Code.LocalTypes doc comment), so the frame's locals slice must hold both.
	total := len(fn.Type.Params) + fn.NumLocals
	locals := make([]uint64, total)
	localsHi := make([]uint64, total)
	copy(locals, params)

	base := len(v.stack)
	numResults := len(fn.Type.Results)
	f := &frame{fn: fn, locals: locals, localsHi: localsHi, base: base, numResults: numResults}
	v.frames = append(v.frames, f)
	defer func() { v.frames = v.frames[:len(v.frames)-1] }()

	defer func() {
		if r := recover(); r != nil {
			switch ex := r.(type) {
			case wasmException:
				err = fmt.Errorf("%w: tag %d uncaught", wasmruntime.ErrUncaughtException, ex.tagAddr)
			case *wasmruntime.Terminated:
				err = ex
			case *wasmruntime.Revert:
				err = ex
			default:
				err = eb.FromRecovered(r)
			}
		}
	}()

	sig, _, rerr := v.execBlock(f, fn.Body, 0, len(fn.Body), 0, numResults, false)
	if rerr != nil {
		return nil, rerr
	}
	_ = sig // sigReturn and sigFallthrough both mean "done"; results are on the stack

	results = make([]uint64, numResults)
	copy(results, v.stack[len(v.stack)-numResults:])
	v.stack = v.stack[:base]
	v.stackHi = v.stackHi[:base]
	return results, nil
}
