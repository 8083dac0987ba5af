package wasm

import (
	"fmt"

	"github.com/nexuswasm/wazero/internal/wasmruntime"
)

// ConstExprContext supplies the subset of runtime state a constant
// initializer expression may observe: only already-imported globals
// (spec.md §4.5 step 4 "to forbid forward references") and function
// addresses for ref.func.
type ConstExprContext struct {
	Store           *Store
	ImportedGlobals []Addr // dense, index-space order, imports only
	FunctionAddrs   []Addr // dense function index space, as allocated so far
}

// EvalConstExpr evaluates a constant initializer expression to a single
// value (spec.md §4.5 steps 4/5/7/8: globals, element refs, and active
// offset expressions are all constant expressions).
//
// The result is returned as a raw uint64 bit pattern plus, for reference
// types, the resolved Addr (NullAddr for ref.null).
func EvalConstExpr(ctx *ConstExprContext, expr Expression) (value uint64, refAddr Addr, err error) {
	refAddr = NullAddr
	var stack []uint64
	for _, ins := range expr.Instructions {
		switch ins.Op {
		case OpI32Const:
			stack = append(stack, uint64(uint32(ins.I32)))
		case OpI64Const:
			stack = append(stack, uint64(ins.I64))
		case OpF32Const:
			stack = append(stack, uint64(f32bits(ins.F32)))
		case OpF64Const:
			stack = append(stack, f64bits(ins.F64))
		case OpGlobalGet:
			if int(ins.Index) >= len(ctx.ImportedGlobals) {
				return 0, NullAddr, fmt.Errorf("%w: global.get in constant expression may only reference imports", wasmruntime.ErrIllegalGrammar)
			}
			g := ctx.Store.GetGlobal(ctx.ImportedGlobals[ins.Index])
			stack = append(stack, g.Value)
		case OpRefNull:
			refAddr = NullAddr
			stack = append(stack, uint64(NullAddr))
		case OpRefFunc:
			if int(ins.Index) >= len(ctx.FunctionAddrs) {
				return 0, NullAddr, fmt.Errorf("%w: ref.func index out of range", wasmruntime.ErrInvalidFuncIdx)
			}
			refAddr = ctx.FunctionAddrs[ins.Index]
			stack = append(stack, uint64(refAddr))
		case OpI32Add, OpI32Sub, OpI32Mul, OpI64Add, OpI64Sub, OpI64Mul:
			// GC "extended-const" proposal; supported here since it is a
			// strict superset of the base const-expr grammar.
			if len(stack) < 2 {
				return 0, NullAddr, fmt.Errorf("%w: malformed constant expression", wasmruntime.ErrIllegalGrammar)
			}
			b := stack[len(stack)-1]
			a := stack[len(stack)-2]
			stack = stack[:len(stack)-2]
			stack = append(stack, applyConstBinOp(ins.Op, a, b))
		case OpEnd:
			// terminal.
		default:
			return 0, NullAddr, fmt.Errorf("%w: opcode %#x not allowed in a constant expression", wasmruntime.ErrIllegalGrammar, ins.Op)
		}
	}
	if len(stack) == 0 {
		return 0, refAddr, nil
	}
	return stack[len(stack)-1], refAddr, nil
}

func applyConstBinOp(op Opcode, a, b uint64) uint64 {
	switch op {
	case OpI32Add:
		return uint64(uint32(a) + uint32(b))
	case OpI32Sub:
		return uint64(uint32(a) - uint32(b))
	case OpI32Mul:
		return uint64(uint32(a) * uint32(b))
	case OpI64Add:
		return a + b
	case OpI64Sub:
		return a - b
	case OpI64Mul:
		return a * b
	}
	return 0
}
