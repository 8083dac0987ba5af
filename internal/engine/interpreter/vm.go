// Package interpreter implements spec.md §4.6's decode-once, program-counter
// interpreter: a flat Opcode switch over the Loader's pre-resolved
// Instruction stream, rather than a second intermediate representation.
package interpreter

import (
	"context"
	"fmt"

	"github.com/nexuswasm/wazero/internal/wasm"
	"github.com/nexuswasm/wazero/internal/wasmruntime"
)

// maxCallDepth bounds recursive Wasm-to-Wasm calls; exceeding it traps with
// ErrCallStackOverflow rather than exhausting the Go goroutine stack.
const maxCallDepth = 2048

// label is one entry of a frame's structured-control stack: the state needed
// to resolve a `br` that targets it (spec.md §4.6.2).
type label struct {
	arity       int  // number of values this label yields on exit
	stackHeight int  // value-stack height at the point the label was entered
	isLoop      bool // loops branch back to their own start; blocks exit past their end
}

// frame is one Wasm-defined function activation.
type frame struct {
	fn     *wasm.FunctionInstance
	locals []uint64
	// localsHi holds the upper 64 bits of any v128 local; indexed the same as locals.
	localsHi []uint64

	// base is the value-stack height when this frame's body started running;
	// numResults is its function type's result arity. Both are what `return`
	// truncates/preserves against regardless of how deeply nested it is.
	base       int
	numResults int
}

// ctrlSignal is what execBlock reports to its caller about how it stopped.
type ctrlSignal int

const (
	sigFallthrough ctrlSignal = iota // reached this block's `end` normally
	sigBranch                       // a `br`/`br_if`/catch is still unwinding; execBlock's int result is the remaining depth
	sigReturn                        // a `return`/return_call is unwinding to the function boundary
)

// wasmException is panicked by `throw`/`throw_ref` and recovered by the
// nearest enclosing try_table whose catch list matches (spec.md §6
// exception-handling). Uncaught, it surfaces as ErrUncaughtException.
type wasmException struct {
	tag     *wasm.TagInstance
	tagAddr wasm.Addr
	values  []uint64
}

// vm is the per-Invoke execution context: the shared value stack and the
// Store/engine it runs against.
type vm struct {
	ctx    context.Context
	store  *wasm.Store
	engine *Engine

	stack   []uint64
	stackHi []uint64 // parallel to stack; only meaningful for v128 slots

	frames []*frame

	// gcStructs/gcArrays back the GC proposal's struct/array references: the
	// Store has no heap-object table of its own (spec.md's address space
	// covers only the module-level instance kinds), so this Invoke-scoped vm
	// owns a small heap instead. Refs are plain indices into these slices;
	// callers rely on static typing to use struct.* ops only on indices that
	// came from struct.new and array.* ops only on indices from array.new.
	gcStructs []*gcStructObj
	gcArrays  []*gcArrayObj
}

func (v *vm) push(val uint64)    { v.stack = append(v.stack, val); v.stackHi = append(v.stackHi, 0) }
func (v *vm) pushHi(lo, hi uint64) {
	v.stack = append(v.stack, lo)
	v.stackHi = append(v.stackHi, hi)
}
func (v *vm) pop() uint64 {
	n := len(v.stack) - 1
	val := v.stack[n]
	v.stack = v.stack[:n]
	v.stackHi = v.stackHi[:n]
	return val
}
func (v *vm) popHi() (lo, hi uint64) {
	n := len(v.stack) - 1
	lo, hi = v.stack[n], v.stackHi[n]
	v.stack = v.stack[:n]
	v.stackHi = v.stackHi[:n]
	return
}
func (v *vm) popI32() uint32  { return uint32(v.pop()) }
func (v *vm) popI64() uint64  { return v.pop() }
func (v *vm) pushI32(x uint32) { v.push(uint64(x)) }
func (v *vm) pushBool(b bool) {
	if b {
		v.push(1)
	} else {
		v.push(0)
	}
}
func (v *vm) peek() uint64 { return v.stack[len(v.stack)-1] }

// truncateForBranch drops the stack back to height, keeping the top arity
// values (spec.md §4.6.2's br semantics: "the label's result values are
// preserved, everything else pushed inside the block is discarded").
func (v *vm) truncateForBranch(height, arity int) {
	top := len(v.stack)
	src, srcHi := v.stack[top-arity:top], v.stackHi[top-arity:top]
	dstStack := v.stack[height : height+arity]
	dstHi := v.stackHi[height : height+arity]
	copy(dstStack, src)
	copy(dstHi, srcHi)
	v.stack = v.stack[:height+arity]
	v.stackHi = v.stackHi[:height+arity]
}

func trap(err error) error {
	if _, ok := err.(wasmruntime.Error); ok {
		return err
	}
	return fmt.Errorf("%w", err)
}
