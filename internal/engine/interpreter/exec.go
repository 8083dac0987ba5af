package interpreter

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/nexuswasm/wazero/internal/wasm"
	"github.com/nexuswasm/wazero/internal/wasmdebug"
	"github.com/nexuswasm/wazero/internal/wasmruntime"
)

func (v *vm) moduleOf(f *frame) *wasm.ModuleInstance { return v.store.Modules[f.fn.Module] }

func (v *vm) blockArity(f *frame, bt wasm.BlockType) (params, results int) {
	switch bt.Kind {
	case wasm.BlockTypeEmpty:
		return 0, 0
	case wasm.BlockTypeValue:
		return 0, 1
	default:
		ft := v.moduleOf(f).Types[bt.Idx].AsFunctionType()
		return len(ft.Params), len(ft.Results)
	}
}

// execBlock runs instrs[start:end] as one structured-control region (a
// function body, or a nested block/loop/if/try_table's body). paramArity is
// how many values of the enclosing stack this region's own params already
// occupy (0 for a function body, whose params live in frame.locals instead).
// labelArity is the number of values this region's own label carries on
// branch (its result arity, except for a loop, whose label carries its
// param arity since branching to a loop re-enters at the top).
func (v *vm) execBlock(f *frame, instrs []wasm.Instruction, start, end, paramArity, labelArity int, isLoop bool) (ctrlSignal, int, error) {
	heightAtEntry := len(v.stack) - paramArity

restart:
	for pc := start; pc < end; pc++ {
		instr := instrs[pc]
		if v.engine.CostTable != nil {
			v.engine.Stats.record(1, v.engine.CostTable.costOf(instr.Op))
			if v.engine.CostLimit != 0 && v.engine.Stats.GasUsed > v.engine.CostLimit {
				return sigFallthrough, 0, wasmruntime.ErrCostLimitExceeded
			}
		}

		switch instr.Op {
		case wasm.OpUnreachable:
			return sigFallthrough, 0, wasmruntime.ErrUnreachable
		case wasm.OpNop, wasm.OpEnd:
			// no-op; OpEnd only terminates the loop naturally.

		case wasm.OpBlock:
			p, r := v.blockArity(f, instr.Block)
			sig, d, err := v.execBlock(f, instrs, pc+1, instr.EndOffset+1, p, r, false)
			if err != nil {
				return sigFallthrough, 0, err
			}
			if sig == sigReturn {
				return sigReturn, 0, nil
			}
			if sig == sigBranch {
				if d == 0 {
					v.truncateForBranch(heightAtEntry, labelArity)
					pc = instr.EndOffset
					continue
				}
				return sigBranch, d - 1, nil
			}
			pc = instr.EndOffset

		case wasm.OpLoop:
			p, _ := v.blockArity(f, instr.Block)
			sig, d, err := v.execBlock(f, instrs, pc+1, instr.EndOffset+1, p, p, true)
			if err != nil {
				return sigFallthrough, 0, err
			}
			if sig == sigReturn {
				return sigReturn, 0, nil
			}
			if sig == sigBranch {
				if d == 0 {
					v.truncateForBranch(heightAtEntry, labelArity)
					pc = instr.EndOffset
					continue
				}
				return sigBranch, d - 1, nil
			}
			pc = instr.EndOffset

		case wasm.OpIf:
			cond := v.popI32()
			p, r := v.blockArity(f, instr.Block)
			var bodyStart, bodyEnd int
			if cond != 0 {
				bodyStart, bodyEnd = pc+1, instr.ElseOffset
			} else if instr.ElseOffset != instr.EndOffset {
				bodyStart, bodyEnd = instr.ElseOffset+1, instr.EndOffset+1
			} else {
				bodyStart, bodyEnd = instr.EndOffset, instr.EndOffset
			}
			sig, d, err := v.execBlock(f, instrs, bodyStart, bodyEnd, p, r, false)
			if err != nil {
				return sigFallthrough, 0, err
			}
			if sig == sigReturn {
				return sigReturn, 0, nil
			}
			if sig == sigBranch {
				if d == 0 {
					v.truncateForBranch(heightAtEntry, labelArity)
					pc = instr.EndOffset
					continue
				}
				return sigBranch, d - 1, nil
			}
			pc = instr.EndOffset

		case wasm.OpElse:
			// only reached if execBlock was entered directly at an else body
			// (never the case here); no-op.

		case wasm.OpTryTable:
			p, r := v.blockArity(f, instr.Block)
			sig, d, err := v.runTryTable(f, instrs, pc, p, r)
			if err != nil {
				return sigFallthrough, 0, err
			}
			if sig == sigReturn {
				return sigReturn, 0, nil
			}
			if sig == sigBranch {
				if d == 0 {
					v.truncateForBranch(heightAtEntry, labelArity)
					pc = instr.EndOffset
					continue
				}
				return sigBranch, d - 1, nil
			}
			pc = instr.EndOffset

		case wasm.OpTry:
			// Legacy try: its catch/catch_all handlers run inline via
			// runTryLegacy, tag-matched the same way as try_table's Catches.
			p, r := v.blockArity(f, instr.Block)
			sig, d, err := v.runTryLegacy(f, instrs, pc, p, r)
			if err != nil {
				return sigFallthrough, 0, err
			}
			if sig == sigReturn {
				return sigReturn, 0, nil
			}
			if sig == sigBranch {
				if d == 0 {
					v.truncateForBranch(heightAtEntry, labelArity)
					pc = instr.EndOffset
					continue
				}
				return sigBranch, d - 1, nil
			}
			pc = instr.EndOffset

		case wasm.OpThrow:
			mi := v.moduleOf(f)
			tagAddr := mi.Tags[instr.Index]
			tag := v.store.GetTag(tagAddr)
			n := len(tag.Type.Params)
			vals := make([]uint64, n)
			for i := n - 1; i >= 0; i-- {
				vals[i] = v.pop()
			}
			panic(wasmException{tag: tag, tagAddr: tagAddr, values: vals})

		case wasm.OpThrowRef:
			ref := v.pop()
			if ref == uint64(wasm.NullAddr) {
				return sigFallthrough, 0, wasmruntime.ErrUncaughtException
			}
			panic(wasmException{tagAddr: wasm.Addr(ref)})

		case wasm.OpBr:
			depth := int(instr.Index)
			if depth == 0 {
				v.truncateForBranch(heightAtEntry, labelArity)
				if isLoop {
					pc = start - 1
					continue restart
				}
				return sigFallthrough, 0, nil
			}
			return sigBranch, depth - 1, nil

		case wasm.OpBrIf:
			cond := v.popI32()
			if cond == 0 {
				continue
			}
			depth := int(instr.Index)
			if depth == 0 {
				v.truncateForBranch(heightAtEntry, labelArity)
				if isLoop {
					pc = start - 1
					continue restart
				}
				return sigFallthrough, 0, nil
			}
			return sigBranch, depth - 1, nil

		case wasm.OpBrTable:
			idx := v.popI32()
			depth := instr.DefaultLabel
			if int(idx) < len(instr.LabelIndices) {
				depth = instr.LabelIndices[idx]
			}
			d := int(depth)
			if d == 0 {
				v.truncateForBranch(heightAtEntry, labelArity)
				if isLoop {
					pc = start - 1
					continue restart
				}
				return sigFallthrough, 0, nil
			}
			return sigBranch, d - 1, nil

		case wasm.OpReturn:
			v.truncateForBranch(f.base, f.numResults)
			return sigReturn, 0, nil

		case wasm.OpCall, wasm.OpReturnCall:
			mi := v.moduleOf(f)
			callee := v.store.GetFunction(mi.Functions[instr.Index])
			if err := v.invokeInline(f, callee); err != nil {
				return sigFallthrough, 0, err
			}
			if instr.Op == wasm.OpReturnCall {
				return sigReturn, 0, nil
			}

		case wasm.OpCallIndirect, wasm.OpReturnCallIndirect:
			mi := v.moduleOf(f)
			tableAddr := mi.Tables[instr.Index2]
			table := v.store.GetTable(tableAddr)
			idx := v.popI32()
			if int(idx) >= len(table.Refs) {
				return sigFallthrough, 0, wasmruntime.ErrTableOutOfBounds
			}
			refAddr := table.Refs[idx]
			if refAddr == wasm.NullAddr {
				return sigFallthrough, 0, wasmruntime.ErrUninitializedElement
			}
			callee := v.store.GetFunction(refAddr)
			if callee == nil {
				return sigFallthrough, 0, wasmruntime.ErrUndefinedElement
			}
			expected := mi.Types[instr.Index].AsFunctionType()
			if !callee.Type.Equal(expected) {
				return sigFallthrough, 0, wasmruntime.ErrIndirectCallTypeMismatch
			}
			if err := v.invokeInline(f, callee); err != nil {
				return sigFallthrough, 0, err
			}
			if instr.Op == wasm.OpReturnCallIndirect {
				return sigReturn, 0, nil
			}

		case wasm.OpCallRef, wasm.OpReturnCallRef:
			ref := v.pop()
			if ref == uint64(wasm.NullAddr) {
				return sigFallthrough, 0, wasmruntime.ErrUninitializedElement
			}
			callee := v.store.GetFunction(wasm.Addr(ref))
			if callee == nil {
				return sigFallthrough, 0, wasmruntime.ErrUndefinedElement
			}
			if err := v.invokeInline(f, callee); err != nil {
				return sigFallthrough, 0, err
			}
			if instr.Op == wasm.OpReturnCallRef {
				return sigReturn, 0, nil
			}

		case wasm.OpDrop:
			v.pop()
		case wasm.OpSelect, wasm.OpSelectT:
			cond := v.popI32()
			b := v.pop()
			a := v.pop()
			if cond != 0 {
				v.push(a)
			} else {
				v.push(b)
			}

		case wasm.OpRefNull:
			v.push(uint64(wasm.NullAddr))
		case wasm.OpRefIsNull:
			v.pushBool(v.pop() == uint64(wasm.NullAddr))
		case wasm.OpRefFunc:
			mi := v.moduleOf(f)
			v.push(uint64(mi.Functions[instr.Index]))
		case wasm.OpRefEq:
			b, a := v.pop(), v.pop()
			v.pushBool(a == b)
		case wasm.OpRefAsNonNull:
			if v.peek() == uint64(wasm.NullAddr) {
				return sigFallthrough, 0, wasmruntime.ErrUninitializedElement
			}
		case wasm.OpBrOnNull:
			if v.peek() == uint64(wasm.NullAddr) {
				v.pop()
				depth := int(instr.Index)
				if depth == 0 {
					v.truncateForBranch(heightAtEntry, labelArity)
					if isLoop {
						pc = start - 1
						continue restart
					}
					return sigFallthrough, 0, nil
				}
				return sigBranch, depth - 1, nil
			}
		case wasm.OpBrOnNonNull:
			if v.peek() != uint64(wasm.NullAddr) {
				depth := int(instr.Index)
				if depth == 0 {
					v.truncateForBranch(heightAtEntry, labelArity)
					if isLoop {
						pc = start - 1
						continue restart
					}
					return sigFallthrough, 0, nil
				}
				return sigBranch, depth - 1, nil
			}
			v.pop()

		case wasm.OpLocalGet:
			v.pushHi(f.locals[instr.Index], f.localsHi[instr.Index])
		case wasm.OpLocalSet:
			lo, hi := v.popHi()
			f.locals[instr.Index], f.localsHi[instr.Index] = lo, hi
		case wasm.OpLocalTee:
			lo, hi := v.popHi()
			f.locals[instr.Index], f.localsHi[instr.Index] = lo, hi
			v.pushHi(lo, hi)
		case wasm.OpGlobalGet:
			mi := v.moduleOf(f)
			g := v.store.GetGlobal(mi.Globals[instr.Index])
			v.pushHi(g.Value, g.ValueHi)
		case wasm.OpGlobalSet:
			mi := v.moduleOf(f)
			g := v.store.GetGlobal(mi.Globals[instr.Index])
			g.Value, g.ValueHi = v.popHi()

		case wasm.OpTableGet:
			mi := v.moduleOf(f)
			t := v.store.GetTable(mi.Tables[instr.Index])
			idx := v.popI32()
			if int(idx) >= len(t.Refs) {
				return sigFallthrough, 0, wasmruntime.ErrTableOutOfBounds
			}
			v.push(uint64(t.Refs[idx]))
		case wasm.OpTableSet:
			mi := v.moduleOf(f)
			t := v.store.GetTable(mi.Tables[instr.Index])
			ref := wasm.Addr(v.pop())
			idx := v.popI32()
			if int(idx) >= len(t.Refs) {
				return sigFallthrough, 0, wasmruntime.ErrTableOutOfBounds
			}
			t.Refs[idx] = ref

		case wasm.OpI32Const:
			v.pushI32(uint32(instr.I32))
		case wasm.OpI64Const:
			v.push(uint64(instr.I64))
		case wasm.OpF32Const:
			v.pushI32(math.Float32bits(instr.F32))
		case wasm.OpF64Const:
			v.push(math.Float64bits(instr.F64))

		default:
			if err := v.execMemoryOrNumeric(f, instr); err != nil {
				return sigFallthrough, 0, err
			}
		}
	}
	return sigFallthrough, 0, nil
}

// invokeInline runs callee synchronously as part of the calling frame's
// execution, translating its panics/errors with an extra stack frame in the
// diagnostic.
func (v *vm) invokeInline(caller *frame, callee *wasm.FunctionInstance) error {
	numParams := len(callee.Type.Params)
	params := make([]uint64, numParams)
	copy(params, v.stack[len(v.stack)-numParams:])
	v.stack = v.stack[:len(v.stack)-numParams]
	v.stackHi = v.stackHi[:len(v.stackHi)-numParams]

	results, err := v.call(callee, params, wasmdebug.NewErrorBuilder())
	if err != nil {
		return err
	}
	for _, r := range results {
		v.push(r)
	}
	return nil
}

// runTryTable executes a try_table's body, recovering a wasmException if one
// of instr.Catches matches it (spec.md §6 exception-handling).
func (v *vm) runTryTable(f *frame, instrs []wasm.Instruction, pc, paramArity, arity int) (sig ctrlSignal, depth int, err error) {
	instr := instrs[pc]
	defer func() {
		if r := recover(); r != nil {
			ex, ok := r.(wasmException)
			if !ok {
				panic(r)
			}
			for _, c := range instr.Catches {
				if c.IsAll || (c.HasTag && ex.tag != nil && c.Tag < uint32(len(v.moduleOf(f).Tags)) && v.moduleOf(f).Tags[c.Tag] == ex.tagAddr) {
					for _, val := range ex.values {
						v.push(val)
					}
					if c.IsRef {
						v.push(uint64(ex.tagAddr))
					}
					sig, depth, err = sigBranch, int(c.Label), nil
					return
				}
			}
			panic(r)
		}
	}()
	return v.execBlock(f, instrs, pc+1, instr.EndOffset+1, paramArity, arity, false)
}

// runTryLegacy executes a legacy try block's protected region, dispatching a
// caught wasmException to the first matching catch/catch_all clause by tag,
// the same way runTryTable matches instr.Catches. Unlike try_table, a legacy
// catch's handler body is inline wasm bytecode (between its `catch` marker
// and the next `catch`/`catch_all`/`end`), so a match runs that body region
// directly instead of branching; instr.Catches[i].Label is the index of the
// first instruction of handler i's body (binary/instr.go's decodeExpression
// sets it one past the catch marker, so the marker itself is never executed).
func (v *vm) runTryLegacy(f *frame, instrs []wasm.Instruction, pc, paramArity, arity int) (sig ctrlSignal, depth int, err error) {
	instr := instrs[pc]
	bodyEnd := instr.EndOffset + 1
	if len(instr.Catches) > 0 {
		bodyEnd = int(instr.Catches[0].Label) - 1
	}
	defer func() {
		if r := recover(); r != nil {
			ex, ok := r.(wasmException)
			if !ok {
				panic(r)
			}
			for i, c := range instr.Catches {
				if !(c.IsAll || (c.HasTag && ex.tag != nil && c.Tag < uint32(len(v.moduleOf(f).Tags)) && v.moduleOf(f).Tags[c.Tag] == ex.tagAddr)) {
					continue
				}
				handlerParamArity := 0
				if c.HasTag {
					for _, val := range ex.values {
						v.push(val)
					}
					handlerParamArity = len(ex.values)
				}
				handlerEnd := instr.EndOffset + 1
				if i+1 < len(instr.Catches) {
					handlerEnd = int(instr.Catches[i+1].Label) - 1
				}
				sig, depth, err = v.execBlock(f, instrs, int(c.Label), handlerEnd, handlerParamArity, arity, false)
				return
			}
			panic(r)
		}
	}()
	return v.execBlock(f, instrs, pc+1, bodyEnd, paramArity, arity, false)
}

func (v *vm) memOf(f *frame, idx uint32) *wasm.MemoryInstance {
	mi := v.moduleOf(f)
	return v.store.GetMemory(mi.Memories[idx])
}

func boundsCheck(bufLen int, base uint32, offset uint32, width int) (int, error) {
	ea := uint64(base) + uint64(offset)
	if ea+uint64(width) > uint64(bufLen) {
		return 0, wasmruntime.ErrMemoryOutOfBounds
	}
	return int(ea), nil
}

// execMemoryOrNumeric handles every opcode not special-cased in execBlock's
// control-flow switch: memory access, the numeric instruction set, and the
// prefixed bulk-memory/atomics/SIMD/GC bands.
func (v *vm) execMemoryOrNumeric(f *frame, instr wasm.Instruction) error {
	op := instr.Op
	switch {
	case op >= wasm.OpI32Load && op <= wasm.OpI64Store32:
		return v.execMemAccess(f, instr)
	case op == wasm.OpMemorySize:
		mi := v.moduleOf(f)
		m := v.store.GetMemory(mi.Memories[instr.Mem.MemoryIdx])
		v.pushI32(m.PageCount())
		return nil
	case op == wasm.OpMemoryGrow:
		mi := v.moduleOf(f)
		m := v.store.GetMemory(mi.Memories[instr.Mem.MemoryIdx])
		delta := v.popI32()
		prev, ok := m.Grow(delta, v.engine.maxMemoryPagesOr(65536))
		if !ok {
			v.pushI32(^uint32(0))
			return nil
		}
		v.pushI32(prev)
		return nil
	case op >= wasm.OpI32Eqz && op <= wasm.OpF64ReinterpretI64:
		return v.execNumeric(instr)
	case op >= wasm.OpI32Extend8S && op <= wasm.OpI64Extend32S:
		return v.execSignExtend(instr)
	case op >= 0x100 && op < 0x1000:
		return v.execMisc(f, instr)
	case op >= 0x4000 && op < 0x5000:
		return v.execAtomic(f, instr)
	case op >= 0x1000 && op < 0x4000:
		return v.execSIMD(f, instr)
	case op >= 0x5000:
		return v.execGC(f, instr)
	}
	return fmt.Errorf("%w: unhandled opcode %#x", wasmruntime.ErrExecutionFailed, uint32(op))
}

func (v *vm) execMemAccess(f *frame, instr wasm.Instruction) error {
	m := v.memOf(f, instr.Mem.MemoryIdx)
	op := instr.Op
	if op >= wasm.OpI32Store {
		return v.execStore(m, instr)
	}
	base := v.popI32()
	switch op {
	case wasm.OpI32Load:
		ea, err := boundsCheck(len(m.Buffer), base, instr.Mem.Offset, 4)
		if err != nil {
			return err
		}
		v.pushI32(binary.LittleEndian.Uint32(m.Buffer[ea:]))
	case wasm.OpI64Load:
		ea, err := boundsCheck(len(m.Buffer), base, instr.Mem.Offset, 8)
		if err != nil {
			return err
		}
		v.push(binary.LittleEndian.Uint64(m.Buffer[ea:]))
	case wasm.OpF32Load:
		ea, err := boundsCheck(len(m.Buffer), base, instr.Mem.Offset, 4)
		if err != nil {
			return err
		}
		v.pushI32(binary.LittleEndian.Uint32(m.Buffer[ea:]))
	case wasm.OpF64Load:
		ea, err := boundsCheck(len(m.Buffer), base, instr.Mem.Offset, 8)
		if err != nil {
			return err
		}
		v.push(binary.LittleEndian.Uint64(m.Buffer[ea:]))
	case wasm.OpI32Load8S:
		ea, err := boundsCheck(len(m.Buffer), base, instr.Mem.Offset, 1)
		if err != nil {
			return err
		}
		v.pushI32(uint32(int32(int8(m.Buffer[ea]))))
	case wasm.OpI32Load8U:
		ea, err := boundsCheck(len(m.Buffer), base, instr.Mem.Offset, 1)
		if err != nil {
			return err
		}
		v.pushI32(uint32(m.Buffer[ea]))
	case wasm.OpI32Load16S:
		ea, err := boundsCheck(len(m.Buffer), base, instr.Mem.Offset, 2)
		if err != nil {
			return err
		}
		v.pushI32(uint32(int32(int16(binary.LittleEndian.Uint16(m.Buffer[ea:])))))
	case wasm.OpI32Load16U:
		ea, err := boundsCheck(len(m.Buffer), base, instr.Mem.Offset, 2)
		if err != nil {
			return err
		}
		v.pushI32(uint32(binary.LittleEndian.Uint16(m.Buffer[ea:])))
	case wasm.OpI64Load8S:
		ea, err := boundsCheck(len(m.Buffer), base, instr.Mem.Offset, 1)
		if err != nil {
			return err
		}
		v.push(uint64(int64(int8(m.Buffer[ea]))))
	case wasm.OpI64Load8U:
		ea, err := boundsCheck(len(m.Buffer), base, instr.Mem.Offset, 1)
		if err != nil {
			return err
		}
		v.push(uint64(m.Buffer[ea]))
	case wasm.OpI64Load16S:
		ea, err := boundsCheck(len(m.Buffer), base, instr.Mem.Offset, 2)
		if err != nil {
			return err
		}
		v.push(uint64(int64(int16(binary.LittleEndian.Uint16(m.Buffer[ea:])))))
	case wasm.OpI64Load16U:
		ea, err := boundsCheck(len(m.Buffer), base, instr.Mem.Offset, 2)
		if err != nil {
			return err
		}
		v.push(uint64(binary.LittleEndian.Uint16(m.Buffer[ea:])))
	case wasm.OpI64Load32S:
		ea, err := boundsCheck(len(m.Buffer), base, instr.Mem.Offset, 4)
		if err != nil {
			return err
		}
		v.push(uint64(int64(int32(binary.LittleEndian.Uint32(m.Buffer[ea:])))))
	case wasm.OpI64Load32U:
		ea, err := boundsCheck(len(m.Buffer), base, instr.Mem.Offset, 4)
		if err != nil {
			return err
		}
		v.push(uint64(binary.LittleEndian.Uint32(m.Buffer[ea:])))
	}
	return nil
}

func (v *vm) execStore(m *wasm.MemoryInstance, instr wasm.Instruction) error {
	switch instr.Op {
	case wasm.OpI32Store, wasm.OpF32Store:
		val := v.popI32()
		base := v.popI32()
		ea, err := boundsCheck(len(m.Buffer), base, instr.Mem.Offset, 4)
		if err != nil {
			return err
		}
		binary.LittleEndian.PutUint32(m.Buffer[ea:], val)
	case wasm.OpI64Store, wasm.OpF64Store:
		val := v.pop()
		base := v.popI32()
		ea, err := boundsCheck(len(m.Buffer), base, instr.Mem.Offset, 8)
		if err != nil {
			return err
		}
		binary.LittleEndian.PutUint64(m.Buffer[ea:], val)
	case wasm.OpI32Store8:
		val := v.popI32()
		base := v.popI32()
		ea, err := boundsCheck(len(m.Buffer), base, instr.Mem.Offset, 1)
		if err != nil {
			return err
		}
		m.Buffer[ea] = byte(val)
	case wasm.OpI32Store16:
		val := v.popI32()
		base := v.popI32()
		ea, err := boundsCheck(len(m.Buffer), base, instr.Mem.Offset, 2)
		if err != nil {
			return err
		}
		binary.LittleEndian.PutUint16(m.Buffer[ea:], uint16(val))
	case wasm.OpI64Store8:
		val := v.pop()
		base := v.popI32()
		ea, err := boundsCheck(len(m.Buffer), base, instr.Mem.Offset, 1)
		if err != nil {
			return err
		}
		m.Buffer[ea] = byte(val)
	case wasm.OpI64Store16:
		val := v.pop()
		base := v.popI32()
		ea, err := boundsCheck(len(m.Buffer), base, instr.Mem.Offset, 2)
		if err != nil {
			return err
		}
		binary.LittleEndian.PutUint16(m.Buffer[ea:], uint16(val))
	case wasm.OpI64Store32:
		val := v.pop()
		base := v.popI32()
		ea, err := boundsCheck(len(m.Buffer), base, instr.Mem.Offset, 4)
		if err != nil {
			return err
		}
		binary.LittleEndian.PutUint32(m.Buffer[ea:], uint32(val))
	}
	return nil
}

func (e *Engine) maxMemoryPagesOr(def uint32) uint32 {
	if e.MaxMemoryPages != 0 {
		return e.MaxMemoryPages
	}
	return def
}

// waiters tracks one memory.atomic.wait32/wait64 address so a concurrent
// memory.atomic.notify can wake it (SPEC_FULL.md's threads/atomics wiring).
var waiters = struct {
	mu sync.Mutex
	m  map[*wasm.MemoryInstance]map[uint32][]chan struct{}
}{m: map[*wasm.MemoryInstance]map[uint32][]chan struct{}{}}

func registerWaiter(m *wasm.MemoryInstance, addr uint32) chan struct{} {
	waiters.mu.Lock()
	defer waiters.mu.Unlock()
	ch := make(chan struct{})
	if waiters.m[m] == nil {
		waiters.m[m] = map[uint32][]chan struct{}{}
	}
	waiters.m[m][addr] = append(waiters.m[m][addr], ch)
	return ch
}

func notifyWaiters(m *wasm.MemoryInstance, addr uint32, count uint32) uint32 {
	waiters.mu.Lock()
	defer waiters.mu.Unlock()
	chans := waiters.m[m][addr]
	n := uint32(0)
	for len(chans) > 0 && n < count {
		close(chans[0])
		chans = chans[1:]
		n++
	}
	waiters.m[m][addr] = chans
	return n
}

func (v *vm) execAtomic(f *frame, instr wasm.Instruction) error {
	m := v.memOf(f, instr.Mem.MemoryIdx)
	switch instr.Op {
	case wasm.OpAtomicFence:
		return nil
	case wasm.OpMemoryAtomicNotify:
		count := v.popI32()
		base := v.popI32()
		ea, err := boundsCheck(len(m.Buffer), base, instr.Mem.Offset, 4)
		if err != nil {
			return err
		}
		v.pushI32(notifyWaiters(m, uint32(ea), count))
		return nil
	case wasm.OpMemoryAtomicWait32:
		timeout := int64(v.pop())
		expected := v.popI32()
		base := v.popI32()
		ea, err := boundsCheck(len(m.Buffer), base, instr.Mem.Offset, 4)
		if err != nil {
			return err
		}
		if !m.Shared {
			return wasmruntime.ErrExpectSharedMemory
		}
		if atomic.LoadUint32((*uint32)(unsafe.Pointer(&m.Buffer[ea]))) != expected {
			v.pushI32(1)
			return nil
		}
		ch := registerWaiter(m, uint32(ea))
		if waitOnChan(ch, timeout) {
			v.pushI32(0)
		} else {
			v.pushI32(2)
		}
		return nil
	case wasm.OpMemoryAtomicWait64:
		timeout := int64(v.pop())
		expected := v.pop()
		base := v.popI32()
		ea, err := boundsCheck(len(m.Buffer), base, instr.Mem.Offset, 8)
		if err != nil {
			return err
		}
		if !m.Shared {
			return wasmruntime.ErrExpectSharedMemory
		}
		if binary.LittleEndian.Uint64(m.Buffer[ea:]) != expected {
			v.pushI32(1)
			return nil
		}
		ch := registerWaiter(m, uint32(ea))
		if waitOnChan(ch, timeout) {
			v.pushI32(0)
		} else {
			v.pushI32(2)
		}
		return nil
	}

	// Atomic load/store/RMW: alignment must be natural (spec.md §7
	// UnalignedAtomicAccess).
	width := atomicWidth(instr.Op)
	if instr.Mem.Offset%uint32(width) != 0 {
		return wasmruntime.ErrUnalignedAtomicAccess
	}
	return v.execAtomicRMW(m, instr, width)
}

func atomicWidth(op wasm.Opcode) int {
	switch op {
	case wasm.OpI32AtomicLoad8U, wasm.OpI64AtomicLoad8U, wasm.OpI32AtomicStore8, wasm.OpI64AtomicStore8:
		return 1
	case wasm.OpI32AtomicLoad16U, wasm.OpI64AtomicLoad16U, wasm.OpI32AtomicStore16, wasm.OpI64AtomicStore16:
		return 2
	case wasm.OpI64AtomicLoad32U, wasm.OpI64AtomicStore32:
		return 4
	case wasm.OpI64AtomicLoad, wasm.OpI64AtomicStore, wasm.OpI64AtomicRmwAdd, wasm.OpI64AtomicRmwSub,
		wasm.OpI64AtomicRmwXchg, wasm.OpI64AtomicRmwCmpxchg:
		return 8
	}
	return 4
}

func (v *vm) execAtomicRMW(m *wasm.MemoryInstance, instr wasm.Instruction, width int) error {
	switch instr.Op {
	case wasm.OpI32AtomicLoad, wasm.OpI32AtomicLoad8U, wasm.OpI32AtomicLoad16U:
		base := v.popI32()
		ea, err := boundsCheck(len(m.Buffer), base, instr.Mem.Offset, width)
		if err != nil {
			return err
		}
		v.pushI32(loadWidth32(m.Buffer, ea, width))
		return nil
	case wasm.OpI64AtomicLoad, wasm.OpI64AtomicLoad8U, wasm.OpI64AtomicLoad16U, wasm.OpI64AtomicLoad32U:
		base := v.popI32()
		ea, err := boundsCheck(len(m.Buffer), base, instr.Mem.Offset, width)
		if err != nil {
			return err
		}
		v.push(loadWidth64(m.Buffer, ea, width))
		return nil
	case wasm.OpI32AtomicStore, wasm.OpI32AtomicStore8, wasm.OpI32AtomicStore16:
		val := v.popI32()
		base := v.popI32()
		ea, err := boundsCheck(len(m.Buffer), base, instr.Mem.Offset, width)
		if err != nil {
			return err
		}
		storeWidth32(m.Buffer, ea, width, val)
		return nil
	case wasm.OpI64AtomicStore, wasm.OpI64AtomicStore8, wasm.OpI64AtomicStore16, wasm.OpI64AtomicStore32:
		val := v.pop()
		base := v.popI32()
		ea, err := boundsCheck(len(m.Buffer), base, instr.Mem.Offset, width)
		if err != nil {
			return err
		}
		storeWidth64(m.Buffer, ea, width, val)
		return nil
	case wasm.OpI32AtomicRmwAdd, wasm.OpI32AtomicRmwSub, wasm.OpI32AtomicRmwXchg:
		val := v.popI32()
		base := v.popI32()
		ea, err := boundsCheck(len(m.Buffer), base, instr.Mem.Offset, 4)
		if err != nil {
			return err
		}
		old := atomic.LoadUint32((*uint32)(unsafe.Pointer(&m.Buffer[ea])))
		var next uint32
		switch instr.Op {
		case wasm.OpI32AtomicRmwAdd:
			next = old + val
		case wasm.OpI32AtomicRmwSub:
			next = old - val
		default:
			next = val
		}
		atomic.StoreUint32((*uint32)(unsafe.Pointer(&m.Buffer[ea])), next)
		v.pushI32(old)
		return nil
	case wasm.OpI64AtomicRmwAdd, wasm.OpI64AtomicRmwSub, wasm.OpI64AtomicRmwXchg:
		val := v.pop()
		base := v.popI32()
		ea, err := boundsCheck(len(m.Buffer), base, instr.Mem.Offset, 8)
		if err != nil {
			return err
		}
		old := atomic.LoadUint64((*uint64)(unsafe.Pointer(&m.Buffer[ea])))
		var next uint64
		switch instr.Op {
		case wasm.OpI64AtomicRmwAdd:
			next = old + val
		case wasm.OpI64AtomicRmwSub:
			next = old - val
		default:
			next = val
		}
		atomic.StoreUint64((*uint64)(unsafe.Pointer(&m.Buffer[ea])), next)
		v.push(old)
		return nil
	case wasm.OpI32AtomicRmwCmpxchg:
		replacement := v.popI32()
		expected := v.popI32()
		base := v.popI32()
		ea, err := boundsCheck(len(m.Buffer), base, instr.Mem.Offset, 4)
		if err != nil {
			return err
		}
		ptr := (*uint32)(unsafe.Pointer(&m.Buffer[ea]))
		old := atomic.LoadUint32(ptr)
		if old == expected {
			atomic.StoreUint32(ptr, replacement)
		}
		v.pushI32(old)
		return nil
	case wasm.OpI64AtomicRmwCmpxchg:
		replacement := v.pop()
		expected := v.pop()
		base := v.popI32()
		ea, err := boundsCheck(len(m.Buffer), base, instr.Mem.Offset, 8)
		if err != nil {
			return err
		}
		ptr := (*uint64)(unsafe.Pointer(&m.Buffer[ea]))
		old := atomic.LoadUint64(ptr)
		if old == expected {
			atomic.StoreUint64(ptr, replacement)
		}
		v.push(old)
		return nil
	}
	return fmt.Errorf("%w: unhandled atomic opcode %#x", wasmruntime.ErrExecutionFailed, uint32(instr.Op))
}

func waitOnChan(ch chan struct{}, timeoutNanos int64) bool {
	if timeoutNanos < 0 {
		<-ch
		return true
	}
	select {
	case <-ch:
		return true
	case <-time.After(time.Duration(timeoutNanos)):
		return false
	}
}

func loadWidth32(buf []byte, ea, width int) uint32 {
	switch width {
	case 1:
		return uint32(buf[ea])
	case 2:
		return uint32(binary.LittleEndian.Uint16(buf[ea:]))
	default:
		return binary.LittleEndian.Uint32(buf[ea:])
	}
}

func loadWidth64(buf []byte, ea, width int) uint64 {
	switch width {
	case 1:
		return uint64(buf[ea])
	case 2:
		return uint64(binary.LittleEndian.Uint16(buf[ea:]))
	case 4:
		return uint64(binary.LittleEndian.Uint32(buf[ea:]))
	default:
		return binary.LittleEndian.Uint64(buf[ea:])
	}
}

func storeWidth32(buf []byte, ea, width int, v uint32) {
	switch width {
	case 1:
		buf[ea] = byte(v)
	case 2:
		binary.LittleEndian.PutUint16(buf[ea:], uint16(v))
	default:
		binary.LittleEndian.PutUint32(buf[ea:], v)
	}
}

func storeWidth64(buf []byte, ea, width int, v uint64) {
	switch width {
	case 1:
		buf[ea] = byte(v)
	case 2:
		binary.LittleEndian.PutUint16(buf[ea:], uint16(v))
	case 4:
		binary.LittleEndian.PutUint32(buf[ea:], uint32(v))
	default:
		binary.LittleEndian.PutUint64(buf[ea:], v)
	}
}
