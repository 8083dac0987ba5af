package interpreter

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/nexuswasm/wazero/internal/wasm"
	"github.com/nexuswasm/wazero/internal/wasmruntime"
)

// gcStructObj and gcArrayObj are the heap objects backing the GC proposal's
// struct.new/array.new family (see vm.gcStructs/gcArrays).
type gcStructObj struct {
	typeIdx uint32
	fields  []uint64
}

type gcArrayObj struct {
	typeIdx uint32
	elems   []uint64
}

// execGC handles a representative subset of the 0xFB-prefixed GC proposal:
// struct/array allocation and access, ref.test/ref.cast (approximated as a
// nullness check rather than full type-hierarchy matching, since this vm
// does not track a runtime rtt per allocation), and i31 packing.
func (v *vm) execGC(f *frame, instr wasm.Instruction) error {
	mi := v.moduleOf(f)
	switch instr.Op {
	case wasm.OpStructNew:
		st := mi.Types[instr.Index].Composite.Struct
		n := len(st.Fields)
		fields := make([]uint64, n)
		for i := n - 1; i >= 0; i-- {
			fields[i] = v.pop()
		}
		v.gcStructs = append(v.gcStructs, &gcStructObj{typeIdx: instr.Index, fields: fields})
		v.push(uint64(len(v.gcStructs) - 1))
	case wasm.OpStructNewDefault:
		st := mi.Types[instr.Index].Composite.Struct
		v.gcStructs = append(v.gcStructs, &gcStructObj{typeIdx: instr.Index, fields: make([]uint64, len(st.Fields))})
		v.push(uint64(len(v.gcStructs) - 1))
	case wasm.OpStructGet, wasm.OpStructGetS, wasm.OpStructGetU:
		ref := v.pop()
		obj := v.gcStructs[ref]
		v.push(obj.fields[instr.Index2])
	case wasm.OpStructSet:
		val := v.pop()
		ref := v.pop()
		obj := v.gcStructs[ref]
		obj.fields[instr.Index2] = val

	case wasm.OpArrayNew:
		n := v.popI32()
		init := v.pop()
		elems := make([]uint64, n)
		for i := range elems {
			elems[i] = init
		}
		v.gcArrays = append(v.gcArrays, &gcArrayObj{typeIdx: instr.Index, elems: elems})
		v.push(uint64(len(v.gcArrays) - 1))
	case wasm.OpArrayNewDefault:
		n := v.popI32()
		v.gcArrays = append(v.gcArrays, &gcArrayObj{typeIdx: instr.Index, elems: make([]uint64, n)})
		v.push(uint64(len(v.gcArrays) - 1))
	case wasm.OpArrayNewFixed:
		n := instr.Index2
		elems := make([]uint64, n)
		for i := int(n) - 1; i >= 0; i-- {
			elems[i] = v.pop()
		}
		v.gcArrays = append(v.gcArrays, &gcArrayObj{typeIdx: instr.Index, elems: elems})
		v.push(uint64(len(v.gcArrays) - 1))
	case wasm.OpArrayNewData:
		n := v.popI32()
		off := v.popI32()
		d := v.store.GetData(mi.Data[instr.Index2])
		if uint64(off)+uint64(n) > uint64(d.Len()) {
			return wasmruntime.ErrMemoryOutOfBounds
		}
		elems := make([]uint64, n)
		for i := range elems {
			elems[i] = uint64(d.Bytes[int(off)+i])
		}
		v.gcArrays = append(v.gcArrays, &gcArrayObj{typeIdx: instr.Index, elems: elems})
		v.push(uint64(len(v.gcArrays) - 1))
	case wasm.OpArrayNewElem:
		n := v.popI32()
		off := v.popI32()
		e := v.store.GetElement(mi.Elements[instr.Index2])
		if uint64(off)+uint64(n) > uint64(e.Len()) {
			return wasmruntime.ErrTableOutOfBounds
		}
		elems := make([]uint64, n)
		for i := range elems {
			elems[i] = uint64(e.Refs[int(off)+i])
		}
		v.gcArrays = append(v.gcArrays, &gcArrayObj{typeIdx: instr.Index, elems: elems})
		v.push(uint64(len(v.gcArrays) - 1))
	case wasm.OpArrayGet, wasm.OpArrayGetS, wasm.OpArrayGetU:
		idx := v.popI32()
		ref := v.pop()
		arr := v.gcArrays[ref]
		if int(idx) >= len(arr.elems) {
			return wasmruntime.ErrTableOutOfBounds
		}
		v.push(arr.elems[idx])
	case wasm.OpArraySet:
		val := v.pop()
		idx := v.popI32()
		ref := v.pop()
		arr := v.gcArrays[ref]
		if int(idx) >= len(arr.elems) {
			return wasmruntime.ErrTableOutOfBounds
		}
		arr.elems[idx] = val
	case wasm.OpArrayLen:
		ref := v.pop()
		v.pushI32(uint32(len(v.gcArrays[ref].elems)))
	case wasm.OpArrayFill:
		n := v.popI32()
		val := v.pop()
		idx := v.popI32()
		ref := v.pop()
		arr := v.gcArrays[ref]
		if uint64(idx)+uint64(n) > uint64(len(arr.elems)) {
			return wasmruntime.ErrTableOutOfBounds
		}
		for i := uint32(0); i < n; i++ {
			arr.elems[idx+i] = val
		}
	case wasm.OpArrayCopy:
		n := v.popI32()
		srcIdx := v.popI32()
		srcRef := v.pop()
		dstIdx := v.popI32()
		dstRef := v.pop()
		src := v.gcArrays[srcRef]
		dst := v.gcArrays[dstRef]
		if uint64(srcIdx)+uint64(n) > uint64(len(src.elems)) || uint64(dstIdx)+uint64(n) > uint64(len(dst.elems)) {
			return wasmruntime.ErrTableOutOfBounds
		}
		copy(dst.elems[dstIdx:dstIdx+n], src.elems[srcIdx:srcIdx+n])

	case wasm.OpRefTest, wasm.OpRefTestNull:
		ref := v.pop()
		v.pushBool(ref != uint64(wasm.NullAddr))
	case wasm.OpRefCast, wasm.OpRefCastNull:
		// Cast failure would trap; this vm does not track per-allocation rtt
		// so it only rejects an outright null against a non-null target type.
		if v.peek() == uint64(wasm.NullAddr) && instr.Op == wasm.OpRefCast {
			return wasmruntime.ErrUninitializedElement
		}
	case wasm.OpBrOnCast, wasm.OpBrOnCastFail:
		// Approximated: neither op ever branches; the reference stays on the
		// stack and execution falls through (see DESIGN.md's GC-subset note).
	case wasm.OpAnyConvertExtern, wasm.OpExternConvertAny:
		// anyref and externref share this vm's untyped Addr-sized
		// representation, so the conversion is the identity.
	case wasm.OpRefI31:
		n := v.popI32()
		v.push(uint64(n & 0x7fffffff))
	case wasm.OpI31GetS:
		n := v.popI32()
		if n&0x40000000 != 0 {
			n |= 0x80000000
		}
		v.pushI32(n)
	case wasm.OpI31GetU:
		v.pushI32(v.popI32() & 0x7fffffff)
	default:
		return fmt.Errorf("%w: unhandled GC opcode %#x", wasmruntime.ErrExecutionFailed, uint32(instr.Op))
	}
	return nil
}

// execSIMD handles the 0xFD-prefixed SIMD opcodes named in instruction.go:
// v128 load/store/const, splat, bitwise and bitselect, any_true/all_true queries,
// unary abs/neg/sqrt, shuffle, and the most common per-lane integer/float
// arithmetic. A decoded opcode with no case here (instruction.go documents
// the covered set) traps via the default case below rather than silently
// leaving the operand stack untouched.
func (v *vm) execSIMD(f *frame, instr wasm.Instruction) error {
	switch instr.Op {
	case wasm.OpV128Load:
		m := v.memOf(f, instr.Mem.MemoryIdx)
		base := v.popI32()
		ea, err := boundsCheck(len(m.Buffer), base, instr.Mem.Offset, 16)
		if err != nil {
			return err
		}
		lo := binary.LittleEndian.Uint64(m.Buffer[ea:])
		hi := binary.LittleEndian.Uint64(m.Buffer[ea+8:])
		v.pushHi(lo, hi)
	case wasm.OpV128Store:
		lo, hi := v.popHi()
		m := v.memOf(f, instr.Mem.MemoryIdx)
		base := v.popI32()
		ea, err := boundsCheck(len(m.Buffer), base, instr.Mem.Offset, 16)
		if err != nil {
			return err
		}
		binary.LittleEndian.PutUint64(m.Buffer[ea:], lo)
		binary.LittleEndian.PutUint64(m.Buffer[ea+8:], hi)
	case wasm.OpV128Const:
		lo := binary.LittleEndian.Uint64(instr.V128[:8])
		hi := binary.LittleEndian.Uint64(instr.V128[8:])
		v.pushHi(lo, hi)

	case wasm.OpI8x16Splat:
		b := uint64(byte(v.popI32()))
		word := b | b<<8 | b<<16 | b<<24
		lane := word | word<<32
		v.pushHi(lane, lane)
	case wasm.OpI16x8Splat:
		h := uint64(uint16(v.popI32()))
		word := h | h<<16
		lane := word | word<<32
		v.pushHi(lane, lane)
	case wasm.OpI32x4Splat:
		x := v.popI32()
		lane := uint64(x)
		v.pushHi(lane|lane<<32, lane|lane<<32)
	case wasm.OpI64x2Splat:
		x := v.pop()
		v.pushHi(x, x)
	case wasm.OpF32x4Splat:
		x := math.Float32bits(v.popF32())
		lane := uint64(x)
		v.pushHi(lane|lane<<32, lane|lane<<32)
	case wasm.OpF64x2Splat:
		x := v.pop()
		v.pushHi(x, x)

	case wasm.OpV128Not:
		lo, hi := v.popHi()
		v.pushHi(^lo, ^hi)
	case wasm.OpV128And:
		blo, bhi := v.popHi()
		alo, ahi := v.popHi()
		v.pushHi(alo&blo, ahi&bhi)
	case wasm.OpV128Or:
		blo, bhi := v.popHi()
		alo, ahi := v.popHi()
		v.pushHi(alo|blo, ahi|bhi)
	case wasm.OpV128Xor:
		blo, bhi := v.popHi()
		alo, ahi := v.popHi()
		v.pushHi(alo^blo, ahi^bhi)
	case wasm.OpV128AndNot:
		blo, bhi := v.popHi()
		alo, ahi := v.popHi()
		v.pushHi(alo&^blo, ahi&^bhi)
	case wasm.OpV128Bitselect:
		clo, chi := v.popHi()
		blo, bhi := v.popHi()
		alo, ahi := v.popHi()
		v.pushHi((alo&clo)|(blo&^clo), (ahi&chi)|(bhi&^chi))
	case wasm.OpV128AnyTrue:
		lo, hi := v.popHi()
		v.pushBool(lo != 0 || hi != 0)

	case wasm.OpI8x16Abs, wasm.OpI8x16Neg, wasm.OpI8x16AllTrue:
		lo, hi := v.popHi()
		var src [16]byte
		binary.LittleEndian.PutUint64(src[0:], lo)
		binary.LittleEndian.PutUint64(src[8:], hi)
		switch instr.Op {
		case wasm.OpI8x16AllTrue:
			all := true
			for _, b := range src {
				if b == 0 {
					all = false
					break
				}
			}
			v.pushBool(all)
		default:
			var dst [16]byte
			for i, b := range src {
				if instr.Op == wasm.OpI8x16Neg {
					dst[i] = byte(-int8(b))
				} else {
					n := int8(b)
					if n < 0 {
						n = -n
					}
					dst[i] = byte(n)
				}
			}
			v.pushHi(binary.LittleEndian.Uint64(dst[0:8]), binary.LittleEndian.Uint64(dst[8:16]))
		}

	case wasm.OpF32x4Abs:
		v.simdF32x4Unary(func(a float32) float32 { return float32(math.Abs(float64(a))) })
	case wasm.OpF32x4Neg:
		v.simdF32x4Unary(func(a float32) float32 { return -a })
	case wasm.OpF32x4Sqrt:
		v.simdF32x4Unary(func(a float32) float32 { return float32(math.Sqrt(float64(a))) })
	case wasm.OpF64x2Abs:
		lo, hi := v.popHi()
		v.pushHi(math.Float64bits(math.Abs(math.Float64frombits(lo))), math.Float64bits(math.Abs(math.Float64frombits(hi))))
	case wasm.OpF64x2Neg:
		lo, hi := v.popHi()
		v.pushHi(math.Float64bits(-math.Float64frombits(lo)), math.Float64bits(-math.Float64frombits(hi)))
	case wasm.OpF64x2Sqrt:
		lo, hi := v.popHi()
		v.pushHi(math.Float64bits(math.Sqrt(math.Float64frombits(lo))), math.Float64bits(math.Sqrt(math.Float64frombits(hi))))

	case wasm.OpI32x4Add:
		v.simdI32x4(func(a, b uint32) uint32 { return a + b })
	case wasm.OpI32x4Sub:
		v.simdI32x4(func(a, b uint32) uint32 { return a - b })
	case wasm.OpI32x4Mul:
		v.simdI32x4(func(a, b uint32) uint32 { return a * b })
	case wasm.OpI64x2Add:
		blo, bhi := v.popHi()
		alo, ahi := v.popHi()
		v.pushHi(alo+blo, ahi+bhi)
	case wasm.OpI64x2Sub:
		blo, bhi := v.popHi()
		alo, ahi := v.popHi()
		v.pushHi(alo-blo, ahi-bhi)
	case wasm.OpF32x4Add:
		v.simdF32x4(func(a, b float32) float32 { return a + b })
	case wasm.OpF32x4Sub:
		v.simdF32x4(func(a, b float32) float32 { return a - b })
	case wasm.OpF32x4Mul:
		v.simdF32x4(func(a, b float32) float32 { return a * b })
	case wasm.OpF64x2Add:
		blo, bhi := v.popHi()
		alo, ahi := v.popHi()
		v.pushHi(math.Float64bits(math.Float64frombits(alo)+math.Float64frombits(blo)),
			math.Float64bits(math.Float64frombits(ahi)+math.Float64frombits(bhi)))
	case wasm.OpF64x2Sub:
		blo, bhi := v.popHi()
		alo, ahi := v.popHi()
		v.pushHi(math.Float64bits(math.Float64frombits(alo)-math.Float64frombits(blo)),
			math.Float64bits(math.Float64frombits(ahi)-math.Float64frombits(bhi)))
	case wasm.OpF64x2Mul:
		blo, bhi := v.popHi()
		alo, ahi := v.popHi()
		v.pushHi(math.Float64bits(math.Float64frombits(alo)*math.Float64frombits(blo)),
			math.Float64bits(math.Float64frombits(ahi)*math.Float64frombits(bhi)))

	case wasm.OpI8x16Shuffle:
		blo, bhi := v.popHi()
		alo, ahi := v.popHi()
		src := [32]byte{}
		binary.LittleEndian.PutUint64(src[0:], alo)
		binary.LittleEndian.PutUint64(src[8:], ahi)
		binary.LittleEndian.PutUint64(src[16:], blo)
		binary.LittleEndian.PutUint64(src[24:], bhi)
		var dst [16]byte
		for i, lane := range instr.Lanes {
			if i >= 16 {
				break
			}
			dst[i] = src[lane%32]
		}
		v.pushHi(binary.LittleEndian.Uint64(dst[:8]), binary.LittleEndian.Uint64(dst[8:]))
	default:
		return fmt.Errorf("%w: unhandled SIMD opcode %#x", wasmruntime.ErrExecutionFailed, uint32(instr.Op))
	}
	return nil
}

func (v *vm) simdI32x4(op func(a, b uint32) uint32) {
	blo, bhi := v.popHi()
	alo, ahi := v.popHi()
	rlo := uint64(op(uint32(alo), uint32(blo))) | uint64(op(uint32(alo>>32), uint32(blo>>32)))<<32
	rhi := uint64(op(uint32(ahi), uint32(bhi))) | uint64(op(uint32(ahi>>32), uint32(bhi>>32)))<<32
	v.pushHi(rlo, rhi)
}

func (v *vm) simdF32x4(op func(a, b float32) float32) {
	blo, bhi := v.popHi()
	alo, ahi := v.popHi()
	lane := func(lo, hi uint64, i int) float32 {
		var word uint32
		switch i {
		case 0:
			word = uint32(lo)
		case 1:
			word = uint32(lo >> 32)
		case 2:
			word = uint32(hi)
		case 3:
			word = uint32(hi >> 32)
		}
		return math.Float32frombits(word)
	}
	var words [4]uint32
	for i := 0; i < 4; i++ {
		words[i] = math.Float32bits(op(lane(alo, ahi, i), lane(blo, bhi, i)))
	}
	rlo := uint64(words[0]) | uint64(words[1])<<32
	rhi := uint64(words[2]) | uint64(words[3])<<32
	v.pushHi(rlo, rhi)
}

func (v *vm) simdF32x4Unary(op func(a float32) float32) {
	lo, hi := v.popHi()
	words := [4]uint32{uint32(lo), uint32(lo >> 32), uint32(hi), uint32(hi >> 32)}
	for i, w := range words {
		words[i] = math.Float32bits(op(math.Float32frombits(w)))
	}
	v.pushHi(uint64(words[0])|uint64(words[1])<<32, uint64(words[2])|uint64(words[3])<<32)
}
