package binary

import (
	"fmt"

	"github.com/nexuswasm/wazero/internal/wasm"
	"github.com/nexuswasm/wazero/internal/wasmruntime"
)

// ctrlFrame tracks one open block/loop/if/try/try_table while decoding a
// function body, so `else`/`end`/`catch` can patch the opening instruction's
// jump target the moment the matching byte is seen (spec.md §4.6.2: "jump
// targets are resolved once, during decode, never at run time").
type ctrlFrame struct {
	openIndex int // index into the instruction slice of the opening instruction
	isIf      bool
	isTry     bool // legacy try, whose body is scattered with catch/catch_all markers
	elseSeen  bool
}

// decodeExpression decodes instructions up to and including the `end` that
// closes this expression (a function body, global initializer, or segment
// offset), resolving all interior block/if/try jump targets.
func (d *decoder) decodeExpression() (wasm.Expression, error) {
	var instrs []wasm.Instruction
	var frames []ctrlFrame

	for {
		off := d.r.getOffset()
		instr, done, err := d.decodeInstruction(off)
		if err != nil {
			return wasm.Expression{}, err
		}

		switch instr.Op {
		case wasm.OpBlock, wasm.OpLoop, wasm.OpIf, wasm.OpTry, wasm.OpTryTable:
			instr.ElseOffset, instr.EndOffset = -1, -1
			frames = append(frames, ctrlFrame{openIndex: len(instrs), isIf: instr.Op == wasm.OpIf, isTry: instr.Op == wasm.OpTry})
		case wasm.OpElse:
			if len(frames) == 0 || !frames[len(frames)-1].isIf {
				return wasm.Expression{}, wasmruntime.WithOffset(wasmruntime.ErrIllegalGrammar, off, wasmruntime.NodeKindExpression)
			}
			top := &frames[len(frames)-1]
			instrs[top.openIndex].ElseOffset = len(instrs)
			top.elseSeen = true
		case wasm.OpCatch, wasm.OpCatchAll:
			// catch/catch_all are markers, not executable instructions: record
			// a CatchClause (tag + the body's start index, one past this
			// marker) on the owning `try` so the interpreter's runTryLegacy
			// can dispatch on the thrown tag and skip the markers entirely,
			// the same way OpTryTable's immediate-encoded Catches work.
			if len(frames) == 0 || !frames[len(frames)-1].isTry {
				return wasm.Expression{}, wasmruntime.WithOffset(wasmruntime.ErrIllegalGrammar, off, wasmruntime.NodeKindExpression)
			}
			top := frames[len(frames)-1]
			cc := wasm.CatchClause{Label: uint32(len(instrs) + 1)}
			if instr.Op == wasm.OpCatch {
				cc.HasTag, cc.Tag = true, instr.Index
			} else {
				cc.IsAll = true
			}
			instrs[top.openIndex].Catches = append(instrs[top.openIndex].Catches, cc)
		case wasm.OpEnd:
			if len(frames) == 0 {
				instrs = append(instrs, instr)
				return wasm.Expression{Instructions: instrs}, nil
			}
			top := frames[len(frames)-1]
			frames = frames[:len(frames)-1]
			instrs[top.openIndex].EndOffset = len(instrs)
			if top.isIf && instrs[top.openIndex].ElseOffset == -1 {
				instrs[top.openIndex].ElseOffset = len(instrs)
			}
		}

		instrs = append(instrs, instr)
		if done {
			return wasm.Expression{Instructions: instrs}, nil
		}
	}
}

// decodeInstruction decodes one instruction. done is true only for a
// top-level `end` closing the whole expression, which decodeExpression
// already special-cases before appending; it is always false here.
func (d *decoder) decodeInstruction(off uint64) (wasm.Instruction, bool, error) {
	b, err := d.r.ReadByte()
	if err != nil {
		return wasm.Instruction{}, false, err
	}

	switch b {
	case 0xfb:
		return d.decodeGCInstruction(off)
	case 0xfc:
		return d.decodeMiscInstruction(off)
	case 0xfd:
		return d.decodeSIMDInstruction(off)
	case 0xfe:
		return d.decodeAtomicInstruction(off)
	}

	op := wasm.Opcode(b)
	instr := wasm.Instruction{Op: op}

	switch op {
	case wasm.OpBlock, wasm.OpLoop, wasm.OpIf, wasm.OpTry:
		bt, err := d.decodeBlockType()
		if err != nil {
			return wasm.Instruction{}, false, err
		}
		instr.Block = bt
	case wasm.OpTryTable:
		bt, err := d.decodeBlockType()
		if err != nil {
			return wasm.Instruction{}, false, err
		}
		instr.Block = bt
		if !d.features.IsEnabled(wasm.FeatureExceptionHandling) {
			return wasm.Instruction{}, false, wasmruntime.WithProposal(wasmruntime.ErrIllegalOpCode, off, wasmruntime.NodeKindInstruction, "exception-handling")
		}
		n, err := d.r.readU32()
		if err != nil {
			return wasm.Instruction{}, false, err
		}
		for i := uint32(0); i < n; i++ {
			cc, err := d.decodeCatchClause()
			if err != nil {
				return wasm.Instruction{}, false, err
			}
			instr.Catches = append(instr.Catches, cc)
		}
	case wasm.OpElse, wasm.OpEnd, wasm.OpCatchAll, wasm.OpUnreachable, wasm.OpNop,
		wasm.OpReturn, wasm.OpDrop, wasm.OpSelect, wasm.OpThrowRef,
		wasm.OpRefIsNull, wasm.OpRefEq, wasm.OpRefAsNonNull:
		if !d.features.IsEnabled(wasm.FeatureExceptionHandling) && op == wasm.OpThrowRef {
			return wasm.Instruction{}, false, wasmruntime.WithProposal(wasmruntime.ErrIllegalOpCode, off, wasmruntime.NodeKindInstruction, "exception-handling")
		}
	case wasm.OpCatch:
		if !d.features.IsEnabled(wasm.FeatureExceptionHandling) {
			return wasm.Instruction{}, false, wasmruntime.WithProposal(wasmruntime.ErrIllegalOpCode, off, wasmruntime.NodeKindInstruction, "exception-handling")
		}
		instr.Index, err = d.r.readU32() // tag index
		if err != nil {
			return wasm.Instruction{}, false, err
		}
	case wasm.OpThrow:
		if !d.features.IsEnabled(wasm.FeatureExceptionHandling) {
			return wasm.Instruction{}, false, wasmruntime.WithProposal(wasmruntime.ErrIllegalOpCode, off, wasmruntime.NodeKindInstruction, "exception-handling")
		}
		instr.Index, err = d.r.readU32()
		if err != nil {
			return wasm.Instruction{}, false, err
		}
	case wasm.OpRethrow, wasm.OpDelegate:
		// Legacy-handling opcodes accepted by other engines but rejected here:
		// the runtime runs try_table and legacy try/catch/catch_all, but has
		// no delegate or rethrow (DESIGN.md Open Question #2).
		return wasm.Instruction{}, false, wasmruntime.WithOffset(wasmruntime.ErrIllegalOpCode, off, wasmruntime.NodeKindInstruction)
	case wasm.OpBr, wasm.OpBrIf:
		instr.Index, err = d.r.readU32()
		if err != nil {
			return wasm.Instruction{}, false, err
		}
	case wasm.OpBrTable:
		n, err := d.r.readU32()
		if err != nil {
			return wasm.Instruction{}, false, err
		}
		for i := uint32(0); i < n; i++ {
			idx, err := d.r.readU32()
			if err != nil {
				return wasm.Instruction{}, false, err
			}
			instr.LabelIndices = append(instr.LabelIndices, idx)
		}
		instr.DefaultLabel, err = d.r.readU32()
		if err != nil {
			return wasm.Instruction{}, false, err
		}
	case wasm.OpCall:
		instr.Index, err = d.r.readU32()
		if err != nil {
			return wasm.Instruction{}, false, err
		}
	case wasm.OpCallIndirect:
		instr.Index, err = d.r.readU32() // type index
		if err != nil {
			return wasm.Instruction{}, false, err
		}
		instr.Index2, err = d.r.readU32() // table index
		if err != nil {
			return wasm.Instruction{}, false, err
		}
	case wasm.OpReturnCall:
		if !d.features.IsEnabled(wasm.FeatureTailCall) {
			return wasm.Instruction{}, false, wasmruntime.WithProposal(wasmruntime.ErrIllegalOpCode, off, wasmruntime.NodeKindInstruction, "tail-call")
		}
		instr.Index, err = d.r.readU32()
		if err != nil {
			return wasm.Instruction{}, false, err
		}
	case wasm.OpReturnCallIndirect:
		if !d.features.IsEnabled(wasm.FeatureTailCall) {
			return wasm.Instruction{}, false, wasmruntime.WithProposal(wasmruntime.ErrIllegalOpCode, off, wasmruntime.NodeKindInstruction, "tail-call")
		}
		instr.Index, err = d.r.readU32()
		if err != nil {
			return wasm.Instruction{}, false, err
		}
		instr.Index2, err = d.r.readU32()
		if err != nil {
			return wasm.Instruction{}, false, err
		}
	case wasm.OpCallRef, wasm.OpReturnCallRef:
		if !d.features.IsEnabled(wasm.FeatureFunctionReferences) {
			return wasm.Instruction{}, false, wasmruntime.WithProposal(wasmruntime.ErrIllegalOpCode, off, wasmruntime.NodeKindInstruction, "function-references")
		}
		instr.Index, err = d.r.readU32() // type index
		if err != nil {
			return wasm.Instruction{}, false, err
		}
	case wasm.OpRefNull:
		heap, err := d.decodeHeapType()
		if err != nil {
			return wasm.Instruction{}, false, err
		}
		instr.Heap = heap
	case wasm.OpRefFunc:
		instr.Index, err = d.r.readU32()
		if err != nil {
			return wasm.Instruction{}, false, err
		}
	case wasm.OpBrOnNull, wasm.OpBrOnNonNull:
		instr.Index, err = d.r.readU32()
		if err != nil {
			return wasm.Instruction{}, false, err
		}
	case wasm.OpSelectT:
		n, err := d.r.readU32()
		if err != nil {
			return wasm.Instruction{}, false, err
		}
		for i := uint32(0); i < n; i++ {
			vt, err := d.decodeValType()
			if err != nil {
				return wasm.Instruction{}, false, err
			}
			instr.SelectTypes = append(instr.SelectTypes, vt)
		}
	case wasm.OpLocalGet, wasm.OpLocalSet, wasm.OpLocalTee, wasm.OpGlobalGet, wasm.OpGlobalSet:
		instr.Index, err = d.r.readU32()
		if err != nil {
			return wasm.Instruction{}, false, err
		}
	case wasm.OpTableGet, wasm.OpTableSet:
		if !d.features.IsEnabled(wasm.FeatureReferenceTypes) {
			return wasm.Instruction{}, false, wasmruntime.WithProposal(wasmruntime.ErrIllegalOpCode, off, wasmruntime.NodeKindInstruction, "reference-types")
		}
		instr.Index, err = d.r.readU32()
		if err != nil {
			return wasm.Instruction{}, false, err
		}
	case wasm.OpI32Const:
		instr.I32, err = d.r.readS32()
		if err != nil {
			return wasm.Instruction{}, false, err
		}
	case wasm.OpI64Const:
		instr.I64, err = d.r.readS64()
		if err != nil {
			return wasm.Instruction{}, false, err
		}
	case wasm.OpF32Const:
		instr.F32, err = d.r.readF32()
		if err != nil {
			return wasm.Instruction{}, false, err
		}
	case wasm.OpF64Const:
		instr.F64, err = d.r.readF64()
		if err != nil {
			return wasm.Instruction{}, false, err
		}
	case wasm.OpMemorySize, wasm.OpMemoryGrow:
		zero, err := d.r.ReadByte()
		if err != nil {
			return wasm.Instruction{}, false, err
		}
		if zero != 0 {
			return wasm.Instruction{}, false, wasmruntime.WithOffset(wasmruntime.ErrExpectedZeroByte, off, wasmruntime.NodeKindInstruction)
		}
	default:
		if isMemoryOp(op) {
			instr.Mem, err = d.decodeMemArg()
			if err != nil {
				return wasm.Instruction{}, false, err
			}
			break
		}
		if isSignExtOp(op) {
			if !d.features.IsEnabled(wasm.FeatureSignExtensionOps) {
				return wasm.Instruction{}, false, wasmruntime.WithProposal(wasmruntime.ErrIllegalOpCode, off, wasmruntime.NodeKindInstruction, "sign-extension-ops")
			}
			break
		}
		if !isPlainNumericOp(op) {
			return wasm.Instruction{}, false, wasmruntime.WithOffset(fmt.Errorf("%w: %#x", wasmruntime.ErrIllegalOpCode, b), off, wasmruntime.NodeKindInstruction)
		}
	}
	return instr, false, nil
}

func isMemoryOp(op wasm.Opcode) bool {
	return op >= wasm.OpI32Load && op <= wasm.OpI64Store32
}

func isSignExtOp(op wasm.Opcode) bool {
	return op >= wasm.OpI32Extend8S && op <= wasm.OpI64Extend32S
}

func isPlainNumericOp(op wasm.Opcode) bool {
	return op >= wasm.OpI32Eqz && op <= wasm.OpF64ReinterpretI64
}

func (d *decoder) decodeMemArg() (wasm.MemArg, error) {
	off := d.r.getOffset()
	flags, err := d.r.readU32()
	if err != nil {
		return wasm.MemArg{}, err
	}
	hasMemIdx := flags&0x40 != 0
	align := flags &^ 0x40
	if align >= 32 {
		return wasm.MemArg{}, wasmruntime.WithOffset(wasmruntime.ErrIllegalGrammar, off, wasmruntime.NodeKindInstruction)
	}
	var memIdx uint32
	if hasMemIdx {
		if !d.features.IsEnabled(wasm.FeatureMultiMemory) {
			return wasm.MemArg{}, wasmruntime.WithProposal(wasmruntime.ErrIllegalGrammar, off, wasmruntime.NodeKindInstruction, "multi-memory")
		}
		memIdx, err = d.r.readU32()
		if err != nil {
			return wasm.MemArg{}, err
		}
	}
	offset, err := d.r.readU32()
	if err != nil {
		return wasm.MemArg{}, err
	}
	return wasm.MemArg{Align: align, MemoryIdx: memIdx, Offset: offset}, nil
}

func (d *decoder) decodeBlockType() (wasm.BlockType, error) {
	off := d.r.getOffset()
	b, err := d.r.peekByte()
	if err != nil {
		return wasm.BlockType{}, err
	}
	if b == 0x40 {
		d.r.ReadByte()
		return wasm.BlockType{Kind: wasm.BlockTypeEmpty}, nil
	}
	switch b {
	case 0x7f, 0x7e, 0x7d, 0x7c, 0x7b, 0x70, 0x6f, 0x64, 0x63, 0x78, 0x77:
		vt, err := d.decodeValType()
		if err != nil {
			return wasm.BlockType{}, err
		}
		return wasm.BlockType{Kind: wasm.BlockTypeValue, Val: vt}, nil
	}
	idx, err := d.r.readS33()
	if err != nil {
		return wasm.BlockType{}, err
	}
	if idx < 0 {
		return wasm.BlockType{}, wasmruntime.WithOffset(wasmruntime.ErrMalformedDefType, off, wasmruntime.NodeKindInstruction)
	}
	return wasm.BlockType{Kind: wasm.BlockTypeIndex, Idx: uint32(idx)}, nil
}

func (d *decoder) decodeCatchClause() (wasm.CatchClause, error) {
	off := d.r.getOffset()
	b, err := d.r.ReadByte()
	if err != nil {
		return wasm.CatchClause{}, err
	}
	cc := wasm.CatchClause{}
	switch b {
	case 0x00:
		cc.HasTag = true
		if cc.Tag, err = d.r.readU32(); err != nil {
			return wasm.CatchClause{}, err
		}
	case 0x01:
		cc.HasTag, cc.IsRef = true, true
		if cc.Tag, err = d.r.readU32(); err != nil {
			return wasm.CatchClause{}, err
		}
	case 0x02:
		cc.IsAll = true
	case 0x03:
		cc.IsAll, cc.IsRef = true, true
	default:
		return wasm.CatchClause{}, wasmruntime.WithOffset(wasmruntime.ErrIllegalGrammar, off, wasmruntime.NodeKindInstruction)
	}
	if cc.Label, err = d.r.readU32(); err != nil {
		return wasm.CatchClause{}, err
	}
	return cc, nil
}

// decodeMiscInstruction decodes the 0xFC-prefixed band: saturating
// conversions and bulk-memory/table operations (spec.md §6 bulk-memory).
func (d *decoder) decodeMiscInstruction(off uint64) (wasm.Instruction, bool, error) {
	sub, err := d.r.readU32()
	if err != nil {
		return wasm.Instruction{}, false, err
	}
	op := wasm.Opcode(0x100 + sub)
	instr := wasm.Instruction{Op: op}
	switch op {
	case wasm.OpI32TruncSatF32S, wasm.OpI32TruncSatF32U, wasm.OpI32TruncSatF64S, wasm.OpI32TruncSatF64U,
		wasm.OpI64TruncSatF32S, wasm.OpI64TruncSatF32U, wasm.OpI64TruncSatF64S, wasm.OpI64TruncSatF64U:
		if !d.features.IsEnabled(wasm.FeatureNonTrappingFloatToIntConversion) {
			return wasm.Instruction{}, false, wasmruntime.WithProposal(wasmruntime.ErrIllegalOpCode, off, wasmruntime.NodeKindInstruction, "non-trapping-float-to-int")
		}
	case wasm.OpMemoryInit:
		if err := d.requireFeature(off, wasm.FeatureBulkMemoryOperations, "bulk-memory"); err != nil {
			return wasm.Instruction{}, false, err
		}
		if instr.Index, err = d.r.readU32(); err != nil { // data index
			return wasm.Instruction{}, false, err
		}
		if _, err := d.r.ReadByte(); err != nil { // memory index, always 0 unless multi-memory
			return wasm.Instruction{}, false, err
		}
	case wasm.OpDataDrop:
		if err := d.requireFeature(off, wasm.FeatureBulkMemoryOperations, "bulk-memory"); err != nil {
			return wasm.Instruction{}, false, err
		}
		if instr.Index, err = d.r.readU32(); err != nil {
			return wasm.Instruction{}, false, err
		}
	case wasm.OpMemoryCopy:
		if err := d.requireFeature(off, wasm.FeatureBulkMemoryOperations, "bulk-memory"); err != nil {
			return wasm.Instruction{}, false, err
		}
		if _, err := d.r.ReadByte(); err != nil {
			return wasm.Instruction{}, false, err
		}
		if _, err := d.r.ReadByte(); err != nil {
			return wasm.Instruction{}, false, err
		}
	case wasm.OpMemoryFill:
		if err := d.requireFeature(off, wasm.FeatureBulkMemoryOperations, "bulk-memory"); err != nil {
			return wasm.Instruction{}, false, err
		}
		if _, err := d.r.ReadByte(); err != nil {
			return wasm.Instruction{}, false, err
		}
	case wasm.OpTableInit:
		if err := d.requireFeature(off, wasm.FeatureBulkMemoryOperations, "bulk-memory"); err != nil {
			return wasm.Instruction{}, false, err
		}
		if instr.Index, err = d.r.readU32(); err != nil { // elem index
			return wasm.Instruction{}, false, err
		}
		if instr.Index2, err = d.r.readU32(); err != nil { // table index
			return wasm.Instruction{}, false, err
		}
	case wasm.OpElemDrop:
		if err := d.requireFeature(off, wasm.FeatureBulkMemoryOperations, "bulk-memory"); err != nil {
			return wasm.Instruction{}, false, err
		}
		if instr.Index, err = d.r.readU32(); err != nil {
			return wasm.Instruction{}, false, err
		}
	case wasm.OpTableCopy:
		if err := d.requireFeature(off, wasm.FeatureBulkMemoryOperations, "bulk-memory"); err != nil {
			return wasm.Instruction{}, false, err
		}
		if instr.Index, err = d.r.readU32(); err != nil { // dst
			return wasm.Instruction{}, false, err
		}
		if instr.Index2, err = d.r.readU32(); err != nil { // src
			return wasm.Instruction{}, false, err
		}
	case wasm.OpTableGrow, wasm.OpTableSize, wasm.OpTableFill:
		if err := d.requireFeature(off, wasm.FeatureBulkMemoryOperations, "bulk-memory"); err != nil {
			return wasm.Instruction{}, false, err
		}
		if instr.Index, err = d.r.readU32(); err != nil {
			return wasm.Instruction{}, false, err
		}
	default:
		return wasm.Instruction{}, false, wasmruntime.WithOffset(fmt.Errorf("%w: 0xfc %#x", wasmruntime.ErrIllegalOpCode, sub), off, wasmruntime.NodeKindInstruction)
	}
	return instr, false, nil
}

func (d *decoder) requireFeature(off uint64, f wasm.Features, name string) error {
	if !d.features.IsEnabled(f) {
		return wasmruntime.WithProposal(wasmruntime.ErrIllegalOpCode, off, wasmruntime.NodeKindInstruction, name)
	}
	return nil
}

// decodeAtomicInstruction decodes the 0xFE-prefixed threads/atomics band.
func (d *decoder) decodeAtomicInstruction(off uint64) (wasm.Instruction, bool, error) {
	if err := d.requireFeature(off, wasm.FeatureThreads, "threads"); err != nil {
		return wasm.Instruction{}, false, err
	}
	sub, err := d.r.readU32()
	if err != nil {
		return wasm.Instruction{}, false, err
	}
	op := wasm.Opcode(0x4000 + sub)
	instr := wasm.Instruction{Op: op}
	if op == wasm.OpAtomicFence {
		if _, err := d.r.ReadByte(); err != nil { // reserved, always 0
			return wasm.Instruction{}, false, err
		}
		return instr, false, nil
	}
	instr.Mem, err = d.decodeMemArg()
	if err != nil {
		return wasm.Instruction{}, false, err
	}
	return instr, false, nil
}

// decodeSIMDInstruction decodes the 0xFD-prefixed SIMD/relaxed-SIMD band.
func (d *decoder) decodeSIMDInstruction(off uint64) (wasm.Instruction, bool, error) {
	if err := d.requireFeature(off, wasm.FeatureSIMD, "simd"); err != nil {
		return wasm.Instruction{}, false, err
	}
	sub, err := d.r.readU32()
	if err != nil {
		return wasm.Instruction{}, false, err
	}
	op := wasm.Opcode(0x1000 + sub)
	instr := wasm.Instruction{Op: op}
	switch op {
	case wasm.OpV128Load, wasm.OpV128Store:
		instr.Mem, err = d.decodeMemArg()
		if err != nil {
			return wasm.Instruction{}, false, err
		}
	case wasm.OpV128Const:
		b, err := d.r.readBytes(16)
		if err != nil {
			return wasm.Instruction{}, false, err
		}
		copy(instr.V128[:], b)
	case wasm.OpI8x16Shuffle:
		b, err := d.r.readBytes(16)
		if err != nil {
			return wasm.Instruction{}, false, err
		}
		instr.Lanes = append([]byte(nil), b...)
	}
	return instr, false, nil
}

// decodeGCInstruction decodes the 0xFB-prefixed GC band.
func (d *decoder) decodeGCInstruction(off uint64) (wasm.Instruction, bool, error) {
	if err := d.requireFeature(off, wasm.FeatureGC, "gc"); err != nil {
		return wasm.Instruction{}, false, err
	}
	sub, err := d.r.readU32()
	if err != nil {
		return wasm.Instruction{}, false, err
	}
	op := wasm.Opcode(0x5000 + sub)
	instr := wasm.Instruction{Op: op}
	switch op {
	case wasm.OpStructNew, wasm.OpStructNewDefault, wasm.OpArrayNew, wasm.OpArrayNewDefault,
		wasm.OpArrayNewData, wasm.OpArrayNewElem:
		instr.Index, err = d.r.readU32()
		if err != nil {
			return wasm.Instruction{}, false, err
		}
		if op == wasm.OpArrayNewData || op == wasm.OpArrayNewElem {
			instr.Index2, err = d.r.readU32()
			if err != nil {
				return wasm.Instruction{}, false, err
			}
		}
	case wasm.OpStructGet, wasm.OpStructGetS, wasm.OpStructGetU, wasm.OpStructSet:
		instr.Index, err = d.r.readU32() // type index
		if err != nil {
			return wasm.Instruction{}, false, err
		}
		instr.Index2, err = d.r.readU32() // field index
		if err != nil {
			return wasm.Instruction{}, false, err
		}
	case wasm.OpArrayNewFixed:
		instr.Index, err = d.r.readU32()
		if err != nil {
			return wasm.Instruction{}, false, err
		}
		instr.Index2, err = d.r.readU32() // element count
		if err != nil {
			return wasm.Instruction{}, false, err
		}
	case wasm.OpArrayGet, wasm.OpArrayGetS, wasm.OpArrayGetU, wasm.OpArraySet, wasm.OpArrayLen,
		wasm.OpArrayFill:
		instr.Index, err = d.r.readU32()
		if err != nil {
			return wasm.Instruction{}, false, err
		}
	case wasm.OpArrayCopy:
		instr.Index, err = d.r.readU32()
		if err != nil {
			return wasm.Instruction{}, false, err
		}
		instr.Index2, err = d.r.readU32()
		if err != nil {
			return wasm.Instruction{}, false, err
		}
	case wasm.OpRefTest, wasm.OpRefTestNull, wasm.OpRefCast, wasm.OpRefCastNull:
		heap, err := d.decodeHeapType()
		if err != nil {
			return wasm.Instruction{}, false, err
		}
		instr.Heap = heap
	case wasm.OpBrOnCast, wasm.OpBrOnCastFail:
		flags, err := d.r.ReadByte()
		if err != nil {
			return wasm.Instruction{}, false, err
		}
		instr.Index, err = d.r.readU32() // label
		if err != nil {
			return wasm.Instruction{}, false, err
		}
		from, err := d.decodeHeapType()
		if err != nil {
			return wasm.Instruction{}, false, err
		}
		to, err := d.decodeHeapType()
		if err != nil {
			return wasm.Instruction{}, false, err
		}
		instr.Heap = to
		instr.Nullable = flags&0x02 != 0
		_ = from
	case wasm.OpRefI31, wasm.OpI31GetS, wasm.OpI31GetU, wasm.OpAnyConvertExtern, wasm.OpExternConvertAny:
		// no immediates
	}
	return instr, false, nil
}

func (d *decoder) decodeCodeSection() error {
	n, err := d.decodeVecCount()
	if err != nil {
		return err
	}
	for i := uint32(0); i < n; i++ {
		size, err := d.r.readU32()
		if err != nil {
			return err
		}
		bodyStart := d.r.getOffset()
		code, err := d.decodeCode()
		if err != nil {
			return err
		}
		consumed := d.r.getOffset() - bodyStart
		if consumed != uint64(size) {
			return wasmruntime.WithOffset(wasmruntime.ErrSectionSizeMismatch, bodyStart, wasmruntime.NodeKindSectionCode)
		}
		d.m.Code = append(d.m.Code, code)
	}
	return nil
}

const maxLocals = 1 << 26

func (d *decoder) decodeCode() (wasm.Code, error) {
	localsOff := d.r.getOffset()
	groupCount, err := d.decodeVecCount()
	if err != nil {
		return wasm.Code{}, err
	}
	var locals []wasm.ValType
	var total uint64
	for i := uint32(0); i < groupCount; i++ {
		count, err := d.r.readU32()
		if err != nil {
			return wasm.Code{}, err
		}
		total += uint64(count)
		if total > maxLocals {
			return wasm.Code{}, wasmruntime.WithOffset(wasmruntime.ErrTooManyLocals, localsOff, wasmruntime.NodeKindSectionCode)
		}
		vt, err := d.decodeValType()
		if err != nil {
			return wasm.Code{}, err
		}
		for j := uint32(0); j < count; j++ {
			locals = append(locals, vt)
		}
	}
	bodyOff := d.r.getOffset()
	expr, err := d.decodeExpression()
	if err != nil {
		return wasm.Code{}, err
	}
	if len(expr.Instructions) == 0 || expr.Instructions[len(expr.Instructions)-1].Op != wasm.OpEnd {
		return wasm.Code{}, wasmruntime.WithOffset(wasmruntime.ErrENDCodeExpected, bodyOff, wasmruntime.NodeKindSectionCode)
	}
	return wasm.Code{LocalTypes: locals, Body: expr, BodyOffset: bodyOff}, nil
}

// decodeElementSection implements spec.md §4.2's six element-segment flag
// combinations, normalized to the single ElementSegment shape.
func (d *decoder) decodeElementSection() error {
	n, err := d.decodeVecCount()
	if err != nil {
		return err
	}
	for i := uint32(0); i < n; i++ {
		seg, err := d.decodeElementSegment()
		if err != nil {
			return err
		}
		d.m.Elements = append(d.m.Elements, seg)
	}
	return nil
}

func (d *decoder) decodeElementSegment() (wasm.ElementSegment, error) {
	off := d.r.getOffset()
	flags, err := d.r.readU32()
	if err != nil {
		return wasm.ElementSegment{}, err
	}
	seg := wasm.ElementSegment{Type: wasm.RefType{Heap: wasm.HeapType{Index: int32(wasm.HeapTypeFunc)}}}

	readFuncIndices := func() error {
		m, err := d.decodeVecCount()
		if err != nil {
			return err
		}
		seg.Init = make([]wasm.Expression, m)
		for j := uint32(0); j < m; j++ {
			idx, err := d.r.readU32()
			if err != nil {
				return err
			}
			seg.Init[j] = wasm.Expression{Instructions: []wasm.Instruction{
				{Op: wasm.OpRefFunc, Index: idx}, {Op: wasm.OpEnd},
			}}
		}
		return nil
	}
	readExprs := func() error {
		m, err := d.decodeVecCount()
		if err != nil {
			return err
		}
		seg.Init = make([]wasm.Expression, m)
		for j := uint32(0); j < m; j++ {
			expr, err := d.decodeExpression()
			if err != nil {
				return err
			}
			seg.Init[j] = expr
		}
		return nil
	}

	switch flags {
	case 0:
		seg.Mode = wasm.ElementModeActive
		seg.TableIndex = 0
		seg.Offset, err = d.decodeExpression()
		if err != nil {
			return wasm.ElementSegment{}, err
		}
		if err := readFuncIndices(); err != nil {
			return wasm.ElementSegment{}, err
		}
	case 1:
		seg.Mode = wasm.ElementModePassive
		if _, err := d.r.ReadByte(); err != nil { // elemkind, always 0x00
			return wasm.ElementSegment{}, err
		}
		if err := readFuncIndices(); err != nil {
			return wasm.ElementSegment{}, err
		}
	case 2:
		seg.Mode = wasm.ElementModeActive
		if seg.TableIndex, err = d.r.readU32(); err != nil {
			return wasm.ElementSegment{}, err
		}
		if seg.Offset, err = d.decodeExpression(); err != nil {
			return wasm.ElementSegment{}, err
		}
		if _, err := d.r.ReadByte(); err != nil {
			return wasm.ElementSegment{}, err
		}
		if err := readFuncIndices(); err != nil {
			return wasm.ElementSegment{}, err
		}
	case 3:
		seg.Mode = wasm.ElementModeDeclarative
		if _, err := d.r.ReadByte(); err != nil {
			return wasm.ElementSegment{}, err
		}
		if err := readFuncIndices(); err != nil {
			return wasm.ElementSegment{}, err
		}
	case 4:
		seg.Mode = wasm.ElementModeActive
		seg.TableIndex = 0
		if seg.Offset, err = d.decodeExpression(); err != nil {
			return wasm.ElementSegment{}, err
		}
		if err := readExprs(); err != nil {
			return wasm.ElementSegment{}, err
		}
	case 5:
		seg.Mode = wasm.ElementModePassive
		rt, err := d.decodeRefType()
		if err != nil {
			return wasm.ElementSegment{}, err
		}
		seg.Type = rt
		if err := readExprs(); err != nil {
			return wasm.ElementSegment{}, err
		}
	case 6:
		seg.Mode = wasm.ElementModeActive
		if seg.TableIndex, err = d.r.readU32(); err != nil {
			return wasm.ElementSegment{}, err
		}
		if seg.Offset, err = d.decodeExpression(); err != nil {
			return wasm.ElementSegment{}, err
		}
		rt, err := d.decodeRefType()
		if err != nil {
			return wasm.ElementSegment{}, err
		}
		seg.Type = rt
		if err := readExprs(); err != nil {
			return wasm.ElementSegment{}, err
		}
	case 7:
		seg.Mode = wasm.ElementModeDeclarative
		rt, err := d.decodeRefType()
		if err != nil {
			return wasm.ElementSegment{}, err
		}
		seg.Type = rt
		if err := readExprs(); err != nil {
			return wasm.ElementSegment{}, err
		}
	default:
		return wasm.ElementSegment{}, wasmruntime.WithOffset(wasmruntime.ErrMalformedElemType, off, wasmruntime.NodeKindSegmentElement)
	}
	if flags != 0 && flags != 4 && !d.features.IsEnabled(wasm.FeatureBulkMemoryOperations) && !d.features.IsEnabled(wasm.FeatureReferenceTypes) {
		return wasm.ElementSegment{}, wasmruntime.WithProposal(wasmruntime.ErrMalformedElemType, off, wasmruntime.NodeKindSegmentElement, "bulk-memory")
	}
	return seg, nil
}

func (d *decoder) decodeDataSection() error {
	n, err := d.decodeVecCount()
	if err != nil {
		return err
	}
	if d.m.HasDataCount && n != d.m.DataCountSize {
		return wasmruntime.ErrIncompatibleDataCount
	}
	for i := uint32(0); i < n; i++ {
		seg, err := d.decodeDataSegment()
		if err != nil {
			return err
		}
		d.m.Data = append(d.m.Data, seg)
	}
	return nil
}

func (d *decoder) decodeDataSegment() (wasm.DataSegment, error) {
	off := d.r.getOffset()
	flags, err := d.r.readU32()
	if err != nil {
		return wasm.DataSegment{}, err
	}
	seg := wasm.DataSegment{}
	switch flags {
	case 0:
		seg.Mode = wasm.DataModeActive
		seg.Offset, err = d.decodeExpression()
		if err != nil {
			return wasm.DataSegment{}, err
		}
	case 1:
		if !d.features.IsEnabled(wasm.FeatureBulkMemoryOperations) {
			return wasm.DataSegment{}, wasmruntime.WithProposal(wasmruntime.ErrMalformedSection, off, wasmruntime.NodeKindSegmentData, "bulk-memory")
		}
		seg.Mode = wasm.DataModePassive
	case 2:
		if !d.features.IsEnabled(wasm.FeatureBulkMemoryOperations) && !d.features.IsEnabled(wasm.FeatureMultiMemory) {
			return wasm.DataSegment{}, wasmruntime.WithProposal(wasmruntime.ErrMalformedSection, off, wasmruntime.NodeKindSegmentData, "multi-memory")
		}
		seg.Mode = wasm.DataModeActive
		if seg.MemoryIdx, err = d.r.readU32(); err != nil {
			return wasm.DataSegment{}, err
		}
		if seg.Offset, err = d.decodeExpression(); err != nil {
			return wasm.DataSegment{}, err
		}
	default:
		return wasm.DataSegment{}, wasmruntime.WithOffset(wasmruntime.ErrMalformedSection, off, wasmruntime.NodeKindSegmentData)
	}
	n, err := d.decodeVecCount()
	if err != nil {
		return wasm.DataSegment{}, err
	}
	seg.Init, err = d.r.readBytes(int(n))
	if err != nil {
		return wasm.DataSegment{}, err
	}
	return seg, nil
}
