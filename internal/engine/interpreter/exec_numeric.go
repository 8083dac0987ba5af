package interpreter

import (
	"math"
	"math/bits"

	"github.com/nexuswasm/wazero/internal/moremath"
	"github.com/nexuswasm/wazero/internal/wasm"
	"github.com/nexuswasm/wazero/internal/wasmruntime"
)

func (v *vm) popF32() float32 { return math.Float32frombits(v.popI32()) }
func (v *vm) popF64() float64 { return math.Float64frombits(v.pop()) }
func (v *vm) pushF32(f float32) { v.pushI32(math.Float32bits(f)) }
func (v *vm) pushF64(f float64) { v.push(math.Float64bits(f)) }

// execNumeric handles the unprefixed numeric instruction set, 0x45 (i32.eqz)
// through 0xbf (f64.reinterpret_i64).
func (v *vm) execNumeric(instr wasm.Instruction) error {
	switch instr.Op {
	case wasm.OpI32Eqz:
		v.pushBool(v.popI32() == 0)
	case wasm.OpI32Eq:
		b, a := v.popI32(), v.popI32()
		v.pushBool(a == b)
	case wasm.OpI32Ne:
		b, a := v.popI32(), v.popI32()
		v.pushBool(a != b)
	case wasm.OpI32LtS:
		b, a := int32(v.popI32()), int32(v.popI32())
		v.pushBool(a < b)
	case wasm.OpI32LtU:
		b, a := v.popI32(), v.popI32()
		v.pushBool(a < b)
	case wasm.OpI32GtS:
		b, a := int32(v.popI32()), int32(v.popI32())
		v.pushBool(a > b)
	case wasm.OpI32GtU:
		b, a := v.popI32(), v.popI32()
		v.pushBool(a > b)
	case wasm.OpI32LeS:
		b, a := int32(v.popI32()), int32(v.popI32())
		v.pushBool(a <= b)
	case wasm.OpI32LeU:
		b, a := v.popI32(), v.popI32()
		v.pushBool(a <= b)
	case wasm.OpI32GeS:
		b, a := int32(v.popI32()), int32(v.popI32())
		v.pushBool(a >= b)
	case wasm.OpI32GeU:
		b, a := v.popI32(), v.popI32()
		v.pushBool(a >= b)

	case wasm.OpI64Eqz:
		v.pushBool(v.pop() == 0)
	case wasm.OpI64Eq:
		b, a := v.pop(), v.pop()
		v.pushBool(a == b)
	case wasm.OpI64Ne:
		b, a := v.pop(), v.pop()
		v.pushBool(a != b)
	case wasm.OpI64LtS:
		b, a := int64(v.pop()), int64(v.pop())
		v.pushBool(a < b)
	case wasm.OpI64LtU:
		b, a := v.pop(), v.pop()
		v.pushBool(a < b)
	case wasm.OpI64GtS:
		b, a := int64(v.pop()), int64(v.pop())
		v.pushBool(a > b)
	case wasm.OpI64GtU:
		b, a := v.pop(), v.pop()
		v.pushBool(a > b)
	case wasm.OpI64LeS:
		b, a := int64(v.pop()), int64(v.pop())
		v.pushBool(a <= b)
	case wasm.OpI64LeU:
		b, a := v.pop(), v.pop()
		v.pushBool(a <= b)
	case wasm.OpI64GeS:
		b, a := int64(v.pop()), int64(v.pop())
		v.pushBool(a >= b)
	case wasm.OpI64GeU:
		b, a := v.pop(), v.pop()
		v.pushBool(a >= b)

	case wasm.OpF32Eq:
		b, a := v.popF32(), v.popF32()
		v.pushBool(a == b)
	case wasm.OpF32Ne:
		b, a := v.popF32(), v.popF32()
		v.pushBool(a != b)
	case wasm.OpF32Lt:
		b, a := v.popF32(), v.popF32()
		v.pushBool(a < b)
	case wasm.OpF32Gt:
		b, a := v.popF32(), v.popF32()
		v.pushBool(a > b)
	case wasm.OpF32Le:
		b, a := v.popF32(), v.popF32()
		v.pushBool(a <= b)
	case wasm.OpF32Ge:
		b, a := v.popF32(), v.popF32()
		v.pushBool(a >= b)

	case wasm.OpF64Eq:
		b, a := v.popF64(), v.popF64()
		v.pushBool(a == b)
	case wasm.OpF64Ne:
		b, a := v.popF64(), v.popF64()
		v.pushBool(a != b)
	case wasm.OpF64Lt:
		b, a := v.popF64(), v.popF64()
		v.pushBool(a < b)
	case wasm.OpF64Gt:
		b, a := v.popF64(), v.popF64()
		v.pushBool(a > b)
	case wasm.OpF64Le:
		b, a := v.popF64(), v.popF64()
		v.pushBool(a <= b)
	case wasm.OpF64Ge:
		b, a := v.popF64(), v.popF64()
		v.pushBool(a >= b)

	case wasm.OpI32Clz:
		v.pushI32(uint32(bits.LeadingZeros32(v.popI32())))
	case wasm.OpI32Ctz:
		v.pushI32(uint32(bits.TrailingZeros32(v.popI32())))
	case wasm.OpI32Popcnt:
		v.pushI32(uint32(bits.OnesCount32(v.popI32())))
	case wasm.OpI32Add:
		b, a := v.popI32(), v.popI32()
		v.pushI32(a + b)
	case wasm.OpI32Sub:
		b, a := v.popI32(), v.popI32()
		v.pushI32(a - b)
	case wasm.OpI32Mul:
		b, a := v.popI32(), v.popI32()
		v.pushI32(a * b)
	case wasm.OpI32DivS:
		b, a := int32(v.popI32()), int32(v.popI32())
		r, err := i32Div(a, b)
		if err != nil {
			return err
		}
		v.pushI32(uint32(r))
	case wasm.OpI32DivU:
		b, a := v.popI32(), v.popI32()
		r, err := u32Div(a, b)
		if err != nil {
			return err
		}
		v.pushI32(r)
	case wasm.OpI32RemS:
		b, a := int32(v.popI32()), int32(v.popI32())
		r, err := i32Rem(a, b)
		if err != nil {
			return err
		}
		v.pushI32(uint32(r))
	case wasm.OpI32RemU:
		b, a := v.popI32(), v.popI32()
		r, err := u32Rem(a, b)
		if err != nil {
			return err
		}
		v.pushI32(r)
	case wasm.OpI32And:
		b, a := v.popI32(), v.popI32()
		v.pushI32(a & b)
	case wasm.OpI32Or:
		b, a := v.popI32(), v.popI32()
		v.pushI32(a | b)
	case wasm.OpI32Xor:
		b, a := v.popI32(), v.popI32()
		v.pushI32(a ^ b)
	case wasm.OpI32Shl:
		b, a := v.popI32(), v.popI32()
		v.pushI32(a << (b & 31))
	case wasm.OpI32ShrS:
		b, a := v.popI32(), int32(v.popI32())
		v.pushI32(uint32(a >> (b & 31)))
	case wasm.OpI32ShrU:
		b, a := v.popI32(), v.popI32()
		v.pushI32(a >> (b & 31))
	case wasm.OpI32Rotl:
		b, a := v.popI32(), v.popI32()
		v.pushI32(rotl32(a, b))
	case wasm.OpI32Rotr:
		b, a := v.popI32(), v.popI32()
		v.pushI32(rotr32(a, b))

	case wasm.OpI64Clz:
		v.push(uint64(bits.LeadingZeros64(v.pop())))
	case wasm.OpI64Ctz:
		v.push(uint64(bits.TrailingZeros64(v.pop())))
	case wasm.OpI64Popcnt:
		v.push(uint64(bits.OnesCount64(v.pop())))
	case wasm.OpI64Add:
		b, a := v.pop(), v.pop()
		v.push(a + b)
	case wasm.OpI64Sub:
		b, a := v.pop(), v.pop()
		v.push(a - b)
	case wasm.OpI64Mul:
		b, a := v.pop(), v.pop()
		v.push(a * b)
	case wasm.OpI64DivS:
		b, a := int64(v.pop()), int64(v.pop())
		r, err := i64Div(a, b)
		if err != nil {
			return err
		}
		v.push(uint64(r))
	case wasm.OpI64DivU:
		b, a := v.pop(), v.pop()
		r, err := u64Div(a, b)
		if err != nil {
			return err
		}
		v.push(r)
	case wasm.OpI64RemS:
		b, a := int64(v.pop()), int64(v.pop())
		r, err := i64Rem(a, b)
		if err != nil {
			return err
		}
		v.push(uint64(r))
	case wasm.OpI64RemU:
		b, a := v.pop(), v.pop()
		r, err := u64Rem(a, b)
		if err != nil {
			return err
		}
		v.push(r)
	case wasm.OpI64And:
		b, a := v.pop(), v.pop()
		v.push(a & b)
	case wasm.OpI64Or:
		b, a := v.pop(), v.pop()
		v.push(a | b)
	case wasm.OpI64Xor:
		b, a := v.pop(), v.pop()
		v.push(a ^ b)
	case wasm.OpI64Shl:
		b, a := v.pop(), v.pop()
		v.push(a << (b & 63))
	case wasm.OpI64ShrS:
		b, a := v.pop(), int64(v.pop())
		v.push(uint64(a >> (b & 63)))
	case wasm.OpI64ShrU:
		b, a := v.pop(), v.pop()
		v.push(a >> (b & 63))
	case wasm.OpI64Rotl:
		b, a := v.pop(), v.pop()
		v.push(rotl64(a, b))
	case wasm.OpI64Rotr:
		b, a := v.pop(), v.pop()
		v.push(rotr64(a, b))

	case wasm.OpF32Abs:
		v.pushF32(float32(math.Abs(float64(v.popF32()))))
	case wasm.OpF32Neg:
		v.pushF32(-v.popF32())
	case wasm.OpF32Ceil:
		v.pushF32(float32(math.Ceil(float64(v.popF32()))))
	case wasm.OpF32Floor:
		v.pushF32(float32(math.Floor(float64(v.popF32()))))
	case wasm.OpF32Trunc:
		v.pushF32(float32(math.Trunc(float64(v.popF32()))))
	case wasm.OpF32Nearest:
		v.pushF32(moremath.WasmCompatNearestF32(v.popF32()))
	case wasm.OpF32Sqrt:
		v.pushF32(float32(math.Sqrt(float64(v.popF32()))))
	case wasm.OpF32Add:
		b, a := v.popF32(), v.popF32()
		v.pushF32(a + b)
	case wasm.OpF32Sub:
		b, a := v.popF32(), v.popF32()
		v.pushF32(a - b)
	case wasm.OpF32Mul:
		b, a := v.popF32(), v.popF32()
		v.pushF32(a * b)
	case wasm.OpF32Div:
		b, a := v.popF32(), v.popF32()
		v.pushF32(a / b)
	case wasm.OpF32Min:
		b, a := v.popF32(), v.popF32()
		v.pushF32(moremath.WasmCompatMin32(a, b))
	case wasm.OpF32Max:
		b, a := v.popF32(), v.popF32()
		v.pushF32(moremath.WasmCompatMax32(a, b))
	case wasm.OpF32Copysign:
		b, a := v.popF32(), v.popF32()
		v.pushF32(float32(math.Copysign(float64(a), float64(b))))

	case wasm.OpF64Abs:
		v.pushF64(math.Abs(v.popF64()))
	case wasm.OpF64Neg:
		v.pushF64(-v.popF64())
	case wasm.OpF64Ceil:
		v.pushF64(math.Ceil(v.popF64()))
	case wasm.OpF64Floor:
		v.pushF64(math.Floor(v.popF64()))
	case wasm.OpF64Trunc:
		v.pushF64(math.Trunc(v.popF64()))
	case wasm.OpF64Nearest:
		v.pushF64(moremath.WasmCompatNearestF64(v.popF64()))
	case wasm.OpF64Sqrt:
		v.pushF64(math.Sqrt(v.popF64()))
	case wasm.OpF64Add:
		b, a := v.popF64(), v.popF64()
		v.pushF64(a + b)
	case wasm.OpF64Sub:
		b, a := v.popF64(), v.popF64()
		v.pushF64(a - b)
	case wasm.OpF64Mul:
		b, a := v.popF64(), v.popF64()
		v.pushF64(a * b)
	case wasm.OpF64Div:
		b, a := v.popF64(), v.popF64()
		v.pushF64(a / b)
	case wasm.OpF64Min:
		b, a := v.popF64(), v.popF64()
		v.pushF64(moremath.WasmCompatMin64(a, b))
	case wasm.OpF64Max:
		b, a := v.popF64(), v.popF64()
		v.pushF64(moremath.WasmCompatMax64(a, b))
	case wasm.OpF64Copysign:
		b, a := v.popF64(), v.popF64()
		v.pushF64(math.Copysign(a, b))

	case wasm.OpI32WrapI64:
		v.pushI32(uint32(v.pop()))
	case wasm.OpI32TruncF32S:
		r, err := truncToI32(float64(v.popF32()), true)
		if err != nil {
			return err
		}
		v.pushI32(uint32(r))
	case wasm.OpI32TruncF32U:
		r, err := truncToI32(float64(v.popF32()), false)
		if err != nil {
			return err
		}
		v.pushI32(uint32(r))
	case wasm.OpI32TruncF64S:
		r, err := truncToI32(v.popF64(), true)
		if err != nil {
			return err
		}
		v.pushI32(uint32(r))
	case wasm.OpI32TruncF64U:
		r, err := truncToI32(v.popF64(), false)
		if err != nil {
			return err
		}
		v.pushI32(uint32(r))
	case wasm.OpI64ExtendI32S:
		v.push(uint64(int64(int32(v.popI32()))))
	case wasm.OpI64ExtendI32U:
		v.push(uint64(v.popI32()))
	case wasm.OpI64TruncF32S:
		r, err := truncToI64(float64(v.popF32()), true)
		if err != nil {
			return err
		}
		v.push(uint64(r))
	case wasm.OpI64TruncF32U:
		r, err := truncToI64(float64(v.popF32()), false)
		if err != nil {
			return err
		}
		v.push(uint64(r))
	case wasm.OpI64TruncF64S:
		r, err := truncToI64(v.popF64(), true)
		if err != nil {
			return err
		}
		v.push(uint64(r))
	case wasm.OpI64TruncF64U:
		r, err := truncToI64(v.popF64(), false)
		if err != nil {
			return err
		}
		v.push(uint64(r))
	case wasm.OpF32ConvertI32S:
		v.pushF32(float32(int32(v.popI32())))
	case wasm.OpF32ConvertI32U:
		v.pushF32(float32(v.popI32()))
	case wasm.OpF32ConvertI64S:
		v.pushF32(float32(int64(v.pop())))
	case wasm.OpF32ConvertI64U:
		v.pushF32(float32(v.pop()))
	case wasm.OpF32DemoteF64:
		v.pushF32(float32(v.popF64()))
	case wasm.OpF64ConvertI32S:
		v.pushF64(float64(int32(v.popI32())))
	case wasm.OpF64ConvertI32U:
		v.pushF64(float64(v.popI32()))
	case wasm.OpF64ConvertI64S:
		v.pushF64(float64(int64(v.pop())))
	case wasm.OpF64ConvertI64U:
		v.pushF64(float64(v.pop()))
	case wasm.OpF64PromoteF32:
		v.pushF64(float64(v.popF32()))
	case wasm.OpI32ReinterpretF32:
		v.pushI32(v.popI32())
	case wasm.OpI64ReinterpretF64:
		v.push(v.pop())
	case wasm.OpF32ReinterpretI32:
		v.pushI32(v.popI32())
	case wasm.OpF64ReinterpretI64:
		v.push(v.pop())
	}
	return nil
}

// execSignExtend handles the sign-extension-ops proposal, 0xc0-0xc4.
func (v *vm) execSignExtend(instr wasm.Instruction) error {
	switch instr.Op {
	case wasm.OpI32Extend8S:
		v.pushI32(uint32(int32(int8(v.popI32()))))
	case wasm.OpI32Extend16S:
		v.pushI32(uint32(int32(int16(v.popI32()))))
	case wasm.OpI64Extend8S:
		v.push(uint64(int64(int8(v.pop()))))
	case wasm.OpI64Extend16S:
		v.push(uint64(int64(int16(v.pop()))))
	case wasm.OpI64Extend32S:
		v.push(uint64(int64(int32(v.pop()))))
	}
	return nil
}

// execMisc handles the 0xFC-prefixed band: saturating truncation and
// bulk-memory/table operations (spec.md §6 bulk-memory).
func (v *vm) execMisc(f *frame, instr wasm.Instruction) error {
	switch instr.Op {
	case wasm.OpI32TruncSatF32S:
		v.pushI32(uint32(satTruncToI32(float64(v.popF32()), true)))
	case wasm.OpI32TruncSatF32U:
		v.pushI32(uint32(satTruncToI32(float64(v.popF32()), false)))
	case wasm.OpI32TruncSatF64S:
		v.pushI32(uint32(satTruncToI32(v.popF64(), true)))
	case wasm.OpI32TruncSatF64U:
		v.pushI32(uint32(satTruncToI32(v.popF64(), false)))
	case wasm.OpI64TruncSatF32S:
		v.push(uint64(satTruncToI64(float64(v.popF32()), true)))
	case wasm.OpI64TruncSatF32U:
		v.push(uint64(satTruncToI64(float64(v.popF32()), false)))
	case wasm.OpI64TruncSatF64S:
		v.push(uint64(satTruncToI64(v.popF64(), true)))
	case wasm.OpI64TruncSatF64U:
		v.push(uint64(satTruncToI64(v.popF64(), false)))

	case wasm.OpMemoryInit:
		return v.opMemoryInit(f, instr)
	case wasm.OpDataDrop:
		mi := v.moduleOf(f)
		d := v.store.GetData(mi.Data[instr.Index])
		d.Dropped = true
		d.Bytes = nil
	case wasm.OpMemoryCopy:
		return v.opMemoryCopy(f)
	case wasm.OpMemoryFill:
		return v.opMemoryFill(f)

	case wasm.OpTableInit:
		return v.opTableInit(f, instr)
	case wasm.OpElemDrop:
		mi := v.moduleOf(f)
		e := v.store.GetElement(mi.Elements[instr.Index])
		e.Dropped = true
		e.Refs = nil
	case wasm.OpTableCopy:
		return v.opTableCopy(f, instr)
	case wasm.OpTableGrow:
		mi := v.moduleOf(f)
		t := v.store.GetTable(mi.Tables[instr.Index])
		n := v.popI32()
		init := wasm.Addr(v.pop())
		prev, ok := t.Grow(n, init)
		if !ok {
			v.pushI32(^uint32(0))
			return nil
		}
		v.pushI32(prev)
	case wasm.OpTableSize:
		mi := v.moduleOf(f)
		t := v.store.GetTable(mi.Tables[instr.Index])
		v.pushI32(uint32(len(t.Refs)))
	case wasm.OpTableFill:
		mi := v.moduleOf(f)
		t := v.store.GetTable(mi.Tables[instr.Index])
		n := v.popI32()
		val := wasm.Addr(v.pop())
		dst := v.popI32()
		if uint64(dst)+uint64(n) > uint64(len(t.Refs)) {
			return wasmruntime.ErrTableOutOfBounds
		}
		for i := uint32(0); i < n; i++ {
			t.Refs[dst+i] = val
		}
	}
	return nil
}

func (v *vm) opMemoryInit(f *frame, instr wasm.Instruction) error {
	mi := v.moduleOf(f)
	m := v.store.GetMemory(mi.Memories[instr.Mem.MemoryIdx])
	d := v.store.GetData(mi.Data[instr.Index])
	n := v.popI32()
	src := v.popI32()
	dst := v.popI32()
	if uint64(src)+uint64(n) > uint64(d.Len()) || uint64(dst)+uint64(n) > uint64(len(m.Buffer)) {
		return wasmruntime.ErrMemoryOutOfBounds
	}
	copy(m.Buffer[dst:dst+n], d.Bytes[src:src+n])
	return nil
}

func (v *vm) opMemoryCopy(f *frame) error {
	mi := v.moduleOf(f)
	m := v.store.GetMemory(mi.Memories[0])
	n := v.popI32()
	src := v.popI32()
	dst := v.popI32()
	if uint64(src)+uint64(n) > uint64(len(m.Buffer)) || uint64(dst)+uint64(n) > uint64(len(m.Buffer)) {
		return wasmruntime.ErrMemoryOutOfBounds
	}
	// copy handles overlap correctly regardless of direction.
	copy(m.Buffer[dst:dst+n], m.Buffer[src:src+n])
	return nil
}

func (v *vm) opMemoryFill(f *frame) error {
	mi := v.moduleOf(f)
	m := v.store.GetMemory(mi.Memories[0])
	n := v.popI32()
	val := byte(v.popI32())
	dst := v.popI32()
	if uint64(dst)+uint64(n) > uint64(len(m.Buffer)) {
		return wasmruntime.ErrMemoryOutOfBounds
	}
	buf := m.Buffer[dst : dst+n]
	for i := range buf {
		buf[i] = val
	}
	return nil
}

func (v *vm) opTableInit(f *frame, instr wasm.Instruction) error {
	mi := v.moduleOf(f)
	t := v.store.GetTable(mi.Tables[instr.Index2])
	e := v.store.GetElement(mi.Elements[instr.Index])
	n := v.popI32()
	src := v.popI32()
	dst := v.popI32()
	if uint64(src)+uint64(n) > uint64(e.Len()) || uint64(dst)+uint64(n) > uint64(len(t.Refs)) {
		return wasmruntime.ErrTableOutOfBounds
	}
	copy(t.Refs[dst:dst+n], e.Refs[src:src+n])
	return nil
}

func (v *vm) opTableCopy(f *frame, instr wasm.Instruction) error {
	mi := v.moduleOf(f)
	dstT := v.store.GetTable(mi.Tables[instr.Index])
	srcT := v.store.GetTable(mi.Tables[instr.Index2])
	n := v.popI32()
	src := v.popI32()
	dst := v.popI32()
	if uint64(src)+uint64(n) > uint64(len(srcT.Refs)) || uint64(dst)+uint64(n) > uint64(len(dstT.Refs)) {
		return wasmruntime.ErrTableOutOfBounds
	}
	copy(dstT.Refs[dst:dst+n], srcT.Refs[src:src+n])
	return nil
}
