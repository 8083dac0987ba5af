package binary

import (
	"fmt"

	"github.com/nexuswasm/wazero/internal/wasm"
	"github.com/nexuswasm/wazero/internal/wasmruntime"
)

// decodeValType dispatches on the leading byte per spec.md §4.2's value-type
// table, gating each family on the enabling proposal.
func (d *decoder) decodeValType() (wasm.ValType, error) {
	off := d.r.getOffset()
	b, err := d.r.ReadByte()
	if err != nil {
		return wasm.ValType{}, err
	}
	switch b {
	case 0x7f:
		return wasm.NumericValType(wasm.ValueTypeI32), nil
	case 0x7e:
		return wasm.NumericValType(wasm.ValueTypeI64), nil
	case 0x7d:
		return wasm.NumericValType(wasm.ValueTypeF32), nil
	case 0x7c:
		return wasm.NumericValType(wasm.ValueTypeF64), nil
	case 0x7b:
		if !d.features.IsEnabled(wasm.FeatureSIMD) {
			return wasm.ValType{}, wasmruntime.WithProposal(wasmruntime.ErrMalformedValType, off, wasmruntime.NodeKindTypeDef, "simd")
		}
		return wasm.NumericValType(wasm.ValueTypeV128), nil
	case 0x70:
		if !d.features.IsEnabled(wasm.FeatureReferenceTypes) && !d.features.IsEnabled(wasm.FeatureBulkMemoryOperations) {
			return wasm.ValType{}, wasmruntime.WithProposal(wasmruntime.ErrMalformedValType, off, wasmruntime.NodeKindTypeDef, "reference-types")
		}
		return wasm.RefValType(true, wasm.HeapType{Index: int32(wasm.HeapTypeFunc)}), nil
	case 0x6f:
		if !d.features.IsEnabled(wasm.FeatureReferenceTypes) && !d.features.IsEnabled(wasm.FeatureBulkMemoryOperations) {
			return wasm.ValType{}, wasmruntime.WithProposal(wasmruntime.ErrMalformedValType, off, wasmruntime.NodeKindTypeDef, "reference-types")
		}
		return wasm.RefValType(true, wasm.HeapType{Index: int32(wasm.HeapTypeExtern)}), nil
	case 0x64, 0x63:
		if !d.features.IsEnabled(wasm.FeatureFunctionReferences) && !d.features.IsEnabled(wasm.FeatureGC) {
			return wasm.ValType{}, wasmruntime.WithProposal(wasmruntime.ErrMalformedValType, off, wasmruntime.NodeKindTypeDef, "function-references")
		}
		nullable := b == 0x63
		heap, err := d.decodeHeapType()
		if err != nil {
			return wasm.ValType{}, err
		}
		return wasm.RefValType(nullable, heap), nil
	case 0x78, 0x77:
		if !d.features.IsEnabled(wasm.FeatureGC) {
			return wasm.ValType{}, wasmruntime.WithProposal(wasmruntime.ErrMalformedValType, off, wasmruntime.NodeKindTypeDef, "gc")
		}
		if b == 0x78 {
			return wasm.NumericValType(wasm.ValueTypeI8), nil
		}
		return wasm.NumericValType(wasm.ValueTypeI16), nil
	}
	return wasm.ValType{}, wasmruntime.WithOffset(fmt.Errorf("%w: %#x", wasmruntime.ErrMalformedValType, b), off, wasmruntime.NodeKindTypeDef)
}

// decodeRefType requires the leading byte to denote a reference (used for
// table element types and the SelectT / elemkind decoders).
func (d *decoder) decodeRefType() (wasm.RefType, error) {
	off := d.r.getOffset()
	b, err := d.r.peekByte()
	if err != nil {
		return wasm.RefType{}, err
	}
	switch b {
	case 0x70, 0x6f, 0x64, 0x63:
		vt, err := d.decodeValType()
		if err != nil {
			return wasm.RefType{}, err
		}
		return *vt.Ref, nil
	}
	return wasm.RefType{}, wasmruntime.WithOffset(wasmruntime.ErrMalformedRefType, off, wasmruntime.NodeKindTypeDef)
}

// decodeHeapType reads an s33: negative values (>= -0x18 in practice) select
// an abstract HeapTypeCode, non-negative values are a concrete type index.
func (d *decoder) decodeHeapType() (wasm.HeapType, error) {
	v, err := d.r.readS33()
	if err != nil {
		return wasm.HeapType{}, err
	}
	return wasm.HeapType{Index: int32(v)}, nil
}

func (d *decoder) decodeLimits() (wasm.Limits, error) {
	off := d.r.getOffset()
	flags, err := d.r.ReadByte()
	if err != nil {
		return wasm.Limits{}, err
	}
	shared := flags == 0x02 || flags == 0x03
	hasMax := flags == 0x01 || flags == 0x03
	if shared && !d.features.IsEnabled(wasm.FeatureThreads) {
		return wasm.Limits{}, wasmruntime.WithProposal(wasmruntime.ErrMalformedLimitFlags, off, wasmruntime.NodeKindDescMemory, "threads")
	}
	if flags > 0x03 {
		return wasm.Limits{}, wasmruntime.WithOffset(wasmruntime.ErrMalformedLimitFlags, off, wasmruntime.NodeKindDescMemory)
	}
	min, err := d.r.readU32()
	if err != nil {
		return wasm.Limits{}, err
	}
	lim := wasm.Limits{Min: min, Shared: shared}
	if hasMax {
		max, err := d.r.readU32()
		if err != nil {
			return wasm.Limits{}, err
		}
		lim.Max = &max
	}
	return lim, nil
}

func (d *decoder) decodeTableType() (wasm.TableType, error) {
	elem, err := d.decodeRefType()
	if err != nil {
		return wasm.TableType{}, err
	}
	lim, err := d.decodeLimits()
	if err != nil {
		return wasm.TableType{}, err
	}
	return wasm.TableType{ElemType: elem, Lim: lim}, nil
}

func (d *decoder) decodeMemoryType() (wasm.MemoryType, error) {
	lim, err := d.decodeLimits()
	if err != nil {
		return wasm.MemoryType{}, err
	}
	return wasm.MemoryType{Lim: lim}, nil
}

func (d *decoder) decodeGlobalType() (wasm.GlobalType, error) {
	vt, err := d.decodeValType()
	if err != nil {
		return wasm.GlobalType{}, err
	}
	off := d.r.getOffset()
	m, err := d.r.ReadByte()
	if err != nil {
		return wasm.GlobalType{}, err
	}
	if m > 1 {
		return wasm.GlobalType{}, wasmruntime.WithOffset(wasmruntime.ErrMalformedMutability, off, wasmruntime.NodeKindDescGlobal)
	}
	return wasm.GlobalType{ValType: vt, Mutable: wasm.Mutability(m == 1)}, nil
}
