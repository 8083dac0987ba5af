package binary

import (
	"github.com/nexuswasm/wazero/internal/wasm"
	"github.com/nexuswasm/wazero/internal/wasmruntime"
)

// componentDecoder produces the plain tree shape spec.md §4.2's
// "component-model loader" describes; it does not elaborate canonical ABI
// semantics (SPEC_FULL.md's component-model supplement is loader-only).
type componentDecoder struct {
	r        *reader
	features wasm.Features
}

// componentSectionID mirrors the component-model binary format's own section
// numbering, which is distinct from (and overlaps the bytes of) the core
// module's.
type componentSectionID byte

const (
	csCustom componentSectionID = iota
	csCoreModule
	csCoreInstance
	csCoreType
	csComponent
	csInstance
	csAlias
	csType
	csCanon
	csStart
	csImport
	csExport
)

func (d *componentDecoder) decode() (*wasm.Component, error) {
	c := &wasm.Component{}
	for d.r.remaining() > 0 {
		id, err := d.r.ReadByte()
		if err != nil {
			return nil, err
		}
		size, err := d.r.readU32()
		if err != nil {
			return nil, err
		}
		start := d.r.getOffset()
		if err := d.decodeSection(c, componentSectionID(id), size); err != nil {
			return nil, err
		}
		if d.r.getOffset()-start != uint64(size) {
			return nil, wasmruntime.WithOffset(wasmruntime.ErrSectionSizeMismatch, start, wasmruntime.NodeKindModule)
		}
	}
	return c, nil
}

func (d *componentDecoder) decodeSection(c *wasm.Component, id componentSectionID, size uint32) error {
	switch id {
	case csCustom:
		nameStart := d.r.getOffset()
		name, err := d.r.readName()
		if err != nil {
			return err
		}
		data, err := d.r.readBytes(int(size) - int(d.r.getOffset()-nameStart))
		if err != nil {
			return err
		}
		c.Custom = append(c.Custom, wasm.CustomSection{Name: name, Data: data})
	case csCoreModule:
		bytes, err := d.r.readBytes(int(size))
		if err != nil {
			return err
		}
		m, err := DecodeModule(bytes, DecodeModuleConfig{Features: d.features})
		if err != nil {
			return err
		}
		c.CoreModules = append(c.CoreModules, m)
	case csCoreInstance:
		modIdx, err := d.r.readU32()
		if err != nil {
			return err
		}
		c.CoreInstances = append(c.CoreInstances, wasm.ComponentCoreInstance{ModuleIndex: modIdx})
	case csCoreType:
		st, err := (&decoder{r: d.r, features: d.features, m: &wasm.Module{}}).decodeSubType2Wrapper()
		if err != nil {
			return err
		}
		c.CoreTypes = append(c.CoreTypes, st)
	case csComponent:
		bytes, err := d.r.readBytes(int(size))
		if err != nil {
			return err
		}
		sub := &componentDecoder{r: newReader(bytes), features: d.features}
		child, err := sub.decode()
		if err != nil {
			return err
		}
		c.Components = append(c.Components, child)
	case csInstance:
		compIdx, err := d.r.readU32()
		if err != nil {
			return err
		}
		c.Instances = append(c.Instances, wasm.ComponentInstance{ComponentIndex: compIdx})
	case csAlias:
		if _, err := d.r.readBytes(int(size)); err != nil {
			return err
		}
	case csType:
		raw, err := d.r.readBytes(int(size))
		if err != nil {
			return err
		}
		c.Types = append(c.Types, wasm.ComponentType{Raw: raw})
	case csCanon:
		kind, err := d.r.ReadByte()
		if err != nil {
			return err
		}
		idx, err := d.r.readU32()
		if err != nil {
			return err
		}
		k := "lift"
		if kind == 1 {
			k = "lower"
		}
		c.Canonicals = append(c.Canonicals, wasm.ComponentCanonical{Kind: k, CoreFuncIdx: idx})
	case csStart:
		idx, err := d.r.readU32()
		if err != nil {
			return err
		}
		c.Start = &wasm.ComponentStart{FuncIndex: idx}
	case csImport:
		nameStart := d.r.getOffset()
		name, err := d.r.readName()
		if err != nil {
			return err
		}
		if _, err := d.r.readBytes(int(size) - int(d.r.getOffset()-nameStart)); err != nil {
			return err
		}
		c.Imports = append(c.Imports, wasm.ComponentImportExport{Name: name})
	case csExport:
		nameStart := d.r.getOffset()
		name, err := d.r.readName()
		if err != nil {
			return err
		}
		if _, err := d.r.readBytes(int(size) - int(d.r.getOffset()-nameStart)); err != nil {
			return err
		}
		c.Exports = append(c.Exports, wasm.ComponentImportExport{Name: name})
	default:
		if _, err := d.r.readBytes(int(size)); err != nil {
			return err
		}
	}
	return nil
}

// decodeSubType2Wrapper lets the component decoder reuse the core decoder's
// recursive-group parser for a core:type section entry.
func (d *decoder) decodeSubType2Wrapper() (wasm.SubType, error) {
	return d.decodeSubType()
}
