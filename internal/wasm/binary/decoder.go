package binary

import (
	"crypto/sha256"
	"fmt"

	"github.com/nexuswasm/wazero/internal/wasm"
	"github.com/nexuswasm/wazero/internal/wasmruntime"
)

// decoder holds the FileManager cursor plus the proposal gates active for
// this parse (spec.md §4.2 Loader).
type decoder struct {
	r        *reader
	features wasm.Features

	m *wasm.Module
}

// DecodeModuleConfig mirrors the embedder-visible proposal toggles (spec.md
// §6 Configuration options) that affect decoding.
type DecodeModuleConfig struct {
	Features wasm.Features
}

var coreModuleVersion = [4]byte{0x01, 0x00, 0x00, 0x00}
var componentVersion = [4]byte{0x0A, 0x00, 0x01, 0x00}

// DecodeModule parses bytes as a core Wasm module (spec.md §4.2 parse).
func DecodeModule(bytes []byte, cfg DecodeModuleConfig) (*wasm.Module, error) {
	r := newReader(bytes)
	if err := checkMagicAndVersion(r, coreModuleVersion); err != nil {
		return nil, err
	}
	d := &decoder{r: r, features: cfg.Features, m: &wasm.Module{ID: moduleID(bytes)}}
	if err := d.decodeSections(); err != nil {
		return nil, err
	}
	if len(d.m.Code) != len(d.m.FunctionTypeIndices) {
		return nil, wasmruntime.ErrIncompatibleFuncCode
	}
	return d.m, nil
}

// DecodeComponent parses bytes as a component (spec.md §4.2 "Component-model
// loader"); its runtime semantics are out of scope, so this only produces
// the tree shape the binary format defines.
func DecodeComponent(bytes []byte, cfg DecodeModuleConfig) (*wasm.Component, error) {
	r := newReader(bytes)
	if err := checkMagicAndVersion(r, componentVersion); err != nil {
		return nil, err
	}
	d := &componentDecoder{r: r, features: cfg.Features}
	return d.decode()
}

func moduleID(bytes []byte) (id wasm.ModuleID) {
	return sha256.Sum256(bytes)
}

func checkMagicAndVersion(r *reader, version [4]byte) error {
	magic, err := r.readBytes(4)
	if err != nil || string(magic) != "\x00asm" {
		h := r.getHeaderType()
		if h != headerUnknown && h != headerWasm {
			return fmt.Errorf("%w: input looks like a %s object, which the interpreter cannot load directly", wasmruntime.ErrMalformedMagic, h)
		}
		return wasmruntime.WithOffset(wasmruntime.ErrMalformedMagic, 0, wasmruntime.NodeKindModule)
	}
	v, err := r.readBytes(4)
	if err != nil || v[0] != version[0] || v[1] != version[1] || v[2] != version[2] || v[3] != version[3] {
		return wasmruntime.WithOffset(wasmruntime.ErrMalformedVersion, 4, wasmruntime.NodeKindModule)
	}
	return nil
}

// decodeSections implements spec.md §4.2's section loop: IDs must be
// strictly ascending except ID 0 (custom), which may repeat anywhere.
func (d *decoder) decodeSections() error {
	lastNonCustom := wasm.SectionID(0)
	for d.r.remaining() > 0 {
		secOffset := d.r.getOffset()
		id, err := d.r.ReadByte()
		if err != nil {
			return err
		}
		size, err := d.r.readU32()
		if err != nil {
			return err
		}
		sectionStart := d.r.getOffset()
		sid := wasm.SectionID(id)

		if sid != wasm.SectionCustom {
			if sid <= lastNonCustom || sid > wasm.SectionTag {
				return wasmruntime.WithOffset(wasmruntime.ErrJunkSection, secOffset, wasmruntime.NodeKindModule)
			}
			lastNonCustom = sid
		}

		if err := d.decodeSection(sid, size); err != nil {
			return err
		}

		consumed := d.r.getOffset() - sectionStart
		if consumed != uint64(size) {
			if consumed > uint64(size) {
				return wasmruntime.WithOffset(wasmruntime.ErrSectionSizeMismatch, sectionStart, wasmruntime.NodeKindModule)
			}
			return wasmruntime.WithOffset(wasmruntime.ErrJunkSection, sectionStart, wasmruntime.NodeKindModule)
		}
	}
	return nil
}

func (d *decoder) decodeSection(id wasm.SectionID, size uint32) error {
	switch id {
	case wasm.SectionCustom:
		return d.decodeCustomSection(size)
	case wasm.SectionType:
		return d.decodeTypeSection()
	case wasm.SectionImport:
		return d.decodeImportSection()
	case wasm.SectionFunction:
		return d.decodeFunctionSection()
	case wasm.SectionTable:
		return d.decodeTableSection()
	case wasm.SectionMemory:
		return d.decodeMemorySection()
	case wasm.SectionGlobal:
		return d.decodeGlobalSection()
	case wasm.SectionExport:
		return d.decodeExportSection()
	case wasm.SectionStart:
		return d.decodeStartSection()
	case wasm.SectionElement:
		return d.decodeElementSection()
	case wasm.SectionCode:
		return d.decodeCodeSection()
	case wasm.SectionData:
		return d.decodeDataSection()
	case wasm.SectionDataCount:
		return d.decodeDataCountSection()
	case wasm.SectionTag:
		return d.decodeTagSection()
	}
	return wasmruntime.WithOffset(wasmruntime.ErrMalformedSection, d.r.getOffset(), wasmruntime.NodeKindModule)
}

func (d *decoder) decodeCustomSection(size uint32) error {
	start := d.r.getOffset()
	name, err := d.r.readName()
	if err != nil {
		return err
	}
	consumedByName := d.r.getOffset() - start
	remaining := int(size) - int(consumedByName)
	if remaining < 0 {
		return wasmruntime.WithOffset(wasmruntime.ErrSectionSizeMismatch, start, wasmruntime.NodeKindSectionCustom)
	}
	data, err := d.r.readBytes(remaining)
	if err != nil {
		return err
	}
	if name == "wasmedge" {
		// spec.md §4.2 "AOT coexistence": recognized but not required to
		// parse successfully; the interpreter never depends on its content.
		d.m.AOTSection = data
		return nil
	}
	d.m.Custom = append(d.m.Custom, wasm.CustomSection{Name: name, Data: data})
	return nil
}

func (d *decoder) decodeVecCount() (uint32, error) { return d.r.readU32() }

func (d *decoder) decodeTypeSection() error {
	n, err := d.decodeVecCount()
	if err != nil {
		return err
	}
	for i := uint32(0); i < n; i++ {
		if err := d.decodeRecGroup(); err != nil {
			return err
		}
	}
	return nil
}

// decodeRecGroup decodes one type-section entry, which is either a bare
// SubType or (GC proposal) a recursive group of them (spec.md §3
// "Recursive groups appear as blocks within the type section").
func (d *decoder) decodeRecGroup() error {
	off := d.r.getOffset()
	b, err := d.r.peekByte()
	if err != nil {
		return err
	}
	if b == 0x4e && d.features.IsEnabled(wasm.FeatureGC) { // rec
		d.r.ReadByte()
		count, err := d.r.readU32()
		if err != nil {
			return err
		}
		groupStart := uint32(len(d.m.Types))
		for i := uint32(0); i < count; i++ {
			st, err := d.decodeSubType()
			if err != nil {
				return err
			}
			st.GroupIndex = i
			st.GroupLength = count
			d.m.Types = append(d.m.Types, st)
		}
		return d.validateSuperTypes(groupStart, count)
	}
	st, err := d.decodeSubType()
	if err != nil {
		return err
	}
	st.GroupIndex, st.GroupLength = 0, 1
	d.m.Types = append(d.m.Types, st)
	_ = off
	return nil
}

// validateSuperTypes enforces spec.md §3's invariant: "supertype indices
// refer to already-closed groups or earlier members of the same group".
func (d *decoder) validateSuperTypes(groupStart, count uint32) error {
	for i := uint32(0); i < count; i++ {
		st := &d.m.Types[groupStart+i]
		for _, sup := range st.SuperTypes {
			if sup >= groupStart && sup >= groupStart+i {
				return wasmruntime.ErrIllegalGrammar
			}
		}
	}
	return nil
}

func (d *decoder) decodeSubType() (wasm.SubType, error) {
	off := d.r.getOffset()
	b, err := d.r.peekByte()
	if err != nil {
		return wasm.SubType{}, err
	}
	st := wasm.SubType{Final: true}
	if (b == 0x50 || b == 0x4f) && d.features.IsEnabled(wasm.FeatureGC) { // sub, sub final
		d.r.ReadByte()
		st.Final = b == 0x4f
		n, err := d.r.readU32()
		if err != nil {
			return wasm.SubType{}, err
		}
		for i := uint32(0); i < n; i++ {
			idx, err := d.r.readU32()
			if err != nil {
				return wasm.SubType{}, err
			}
			st.SuperTypes = append(st.SuperTypes, idx)
		}
	}
	ct, err := d.decodeCompositeType(off)
	if err != nil {
		return wasm.SubType{}, err
	}
	st.Composite = ct
	return st, nil
}

func (d *decoder) decodeCompositeType(off uint64) (wasm.CompositeType, error) {
	b, err := d.r.peekByte()
	if err != nil {
		return wasm.CompositeType{}, err
	}
	switch {
	case b == 0x60:
		d.r.ReadByte()
		ft, err := d.decodeFunctionType()
		if err != nil {
			return wasm.CompositeType{}, err
		}
		return wasm.CompositeType{Kind: wasm.CompositeTypeFunc, Func: ft}, nil
	case b == 0x5f && d.features.IsEnabled(wasm.FeatureGC):
		d.r.ReadByte()
		st, err := d.decodeStructType()
		if err != nil {
			return wasm.CompositeType{}, err
		}
		return wasm.CompositeType{Kind: wasm.CompositeTypeStruct, Struct: st}, nil
	case b == 0x5e && d.features.IsEnabled(wasm.FeatureGC):
		d.r.ReadByte()
		at, err := d.decodeArrayType()
		if err != nil {
			return wasm.CompositeType{}, err
		}
		return wasm.CompositeType{Kind: wasm.CompositeTypeArray, Array: at}, nil
	}
	return wasm.CompositeType{}, wasmruntime.WithOffset(wasmruntime.ErrMalformedDefType, off, wasmruntime.NodeKindTypeDef)
}

func (d *decoder) decodeFunctionType() (*wasm.FunctionType, error) {
	params, err := d.decodeValTypeVec()
	if err != nil {
		return nil, err
	}
	results, err := d.decodeValTypeVec()
	if err != nil {
		return nil, err
	}
	if len(results) > 1 && !d.features.IsEnabled(wasm.FeatureMultiValue) {
		return nil, wasmruntime.WithProposal(wasmruntime.ErrMalformedDefType, d.r.getOffset(), wasmruntime.NodeKindTypeDef, "multi-value")
	}
	return &wasm.FunctionType{Params: params, Results: results}, nil
}

func (d *decoder) decodeValTypeVec() ([]wasm.ValType, error) {
	n, err := d.decodeVecCount()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	out := make([]wasm.ValType, n)
	for i := range out {
		vt, err := d.decodeValType()
		if err != nil {
			return nil, err
		}
		out[i] = vt
	}
	return out, nil
}

func (d *decoder) decodeFieldType() (wasm.FieldType, error) {
	vt, err := d.decodeValType()
	if err != nil {
		return wasm.FieldType{}, err
	}
	mut, err := d.r.ReadByte()
	if err != nil {
		return wasm.FieldType{}, err
	}
	return wasm.FieldType{StorageType: vt, Mutable: wasm.Mutability(mut == 1)}, nil
}

func (d *decoder) decodeStructType() (*wasm.StructType, error) {
	n, err := d.decodeVecCount()
	if err != nil {
		return nil, err
	}
	fields := make([]wasm.FieldType, n)
	for i := range fields {
		ft, err := d.decodeFieldType()
		if err != nil {
			return nil, err
		}
		fields[i] = ft
	}
	return &wasm.StructType{Fields: fields}, nil
}

func (d *decoder) decodeArrayType() (*wasm.ArrayType, error) {
	ft, err := d.decodeFieldType()
	if err != nil {
		return nil, err
	}
	return &wasm.ArrayType{Elem: ft}, nil
}

func (d *decoder) decodeImportSection() error {
	n, err := d.decodeVecCount()
	if err != nil {
		return err
	}
	for i := uint32(0); i < n; i++ {
		mod, err := d.r.readName()
		if err != nil {
			return err
		}
		name, err := d.r.readName()
		if err != nil {
			return err
		}
		off := d.r.getOffset()
		kind, err := d.r.ReadByte()
		if err != nil {
			return err
		}
		imp := wasm.Import{Module: mod, Name: name}
		switch kind {
		case 0x00:
			imp.Kind = wasm.ImportKindFunc
			imp.FuncTypeIndex, err = d.r.readU32()
		case 0x01:
			imp.Kind = wasm.ImportKindTable
			imp.Table, err = d.decodeTableType()
		case 0x02:
			imp.Kind = wasm.ImportKindMemory
			imp.Memory, err = d.decodeMemoryType()
		case 0x03:
			imp.Kind = wasm.ImportKindGlobal
			imp.Global, err = d.decodeGlobalType()
		case 0x04:
			if !d.features.IsEnabled(wasm.FeatureExceptionHandling) {
				return wasmruntime.WithProposal(wasmruntime.ErrMalformedImportKind, off, wasmruntime.NodeKindDescFunc, "exception-handling")
			}
			imp.Kind = wasm.ImportKindTag
			if _, err = d.r.ReadByte(); err != nil { // attribute byte, always 0
				return err
			}
			imp.Tag.TypeIndex, err = d.r.readU32()
		default:
			return wasmruntime.WithOffset(wasmruntime.ErrMalformedImportKind, off, wasmruntime.NodeKindDescFunc)
		}
		if err != nil {
			return err
		}
		d.m.Imports = append(d.m.Imports, imp)
	}
	return nil
}

func (d *decoder) decodeFunctionSection() error {
	n, err := d.decodeVecCount()
	if err != nil {
		return err
	}
	for i := uint32(0); i < n; i++ {
		idx, err := d.r.readU32()
		if err != nil {
			return err
		}
		d.m.FunctionTypeIndices = append(d.m.FunctionTypeIndices, idx)
	}
	return nil
}

func (d *decoder) decodeTableSection() error {
	n, err := d.decodeVecCount()
	if err != nil {
		return err
	}
	for i := uint32(0); i < n; i++ {
		t, err := d.decodeTableType()
		if err != nil {
			return err
		}
		d.m.Tables = append(d.m.Tables, t)
	}
	return nil
}

func (d *decoder) decodeMemorySection() error {
	n, err := d.decodeVecCount()
	if err != nil {
		return err
	}
	if n > 1 && !d.features.IsEnabled(wasm.FeatureMultiMemory) {
		return wasmruntime.WithProposal(wasmruntime.ErrMalformedSection, d.r.getOffset(), wasmruntime.NodeKindSectionMemory, "multi-memory")
	}
	for i := uint32(0); i < n; i++ {
		m, err := d.decodeMemoryType()
		if err != nil {
			return err
		}
		d.m.Memories = append(d.m.Memories, m)
	}
	return nil
}

func (d *decoder) decodeGlobalSection() error {
	n, err := d.decodeVecCount()
	if err != nil {
		return err
	}
	for i := uint32(0); i < n; i++ {
		gt, err := d.decodeGlobalType()
		if err != nil {
			return err
		}
		expr, err := d.decodeExpression()
		if err != nil {
			return err
		}
		d.m.Globals = append(d.m.Globals, wasm.Global{Type: gt, Init: expr})
	}
	return nil
}

func (d *decoder) decodeExportSection() error {
	n, err := d.decodeVecCount()
	if err != nil {
		return err
	}
	seen := map[string]bool{}
	for i := uint32(0); i < n; i++ {
		name, err := d.r.readName()
		if err != nil {
			return err
		}
		off := d.r.getOffset()
		kind, err := d.r.ReadByte()
		if err != nil {
			return err
		}
		idx, err := d.r.readU32()
		if err != nil {
			return err
		}
		if kind > 0x04 {
			return wasmruntime.WithOffset(wasmruntime.ErrMalformedExportKind, off, wasmruntime.NodeKindSectionExport)
		}
		if seen[name] {
			return wasmruntime.WithOffset(fmt.Errorf("%w: duplicate export name %q", wasmruntime.ErrIllegalGrammar, name), off, wasmruntime.NodeKindSectionExport)
		}
		seen[name] = true
		d.m.Exports = append(d.m.Exports, wasm.Export{Name: name, Kind: wasm.ImportKind(kind), Index: idx})
	}
	return nil
}

func (d *decoder) decodeStartSection() error {
	idx, err := d.r.readU32()
	if err != nil {
		return err
	}
	d.m.StartIndex = idx
	d.m.HasStartIndex = true
	return nil
}

func (d *decoder) decodeDataCountSection() error {
	n, err := d.r.readU32()
	if err != nil {
		return err
	}
	d.m.HasDataCount = true
	d.m.DataCountSize = n
	return nil
}

func (d *decoder) decodeTagSection() error {
	n, err := d.decodeVecCount()
	if err != nil {
		return err
	}
	for i := uint32(0); i < n; i++ {
		if _, err := d.r.ReadByte(); err != nil { // attribute, always 0
			return err
		}
		idx, err := d.r.readU32()
		if err != nil {
			return err
		}
		d.m.Tags = append(d.m.Tags, wasm.TagType{TypeIndex: idx})
	}
	return nil
}
