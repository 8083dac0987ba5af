package binary

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nexuswasm/wazero/internal/wasm"
)

func TestDecodeValTypeNumeric(t *testing.T) {
	for _, c := range []struct {
		b    byte
		kind wasm.ValueType
	}{
		{0x7f, wasm.ValueTypeI32},
		{0x7e, wasm.ValueTypeI64},
		{0x7d, wasm.ValueTypeF32},
		{0x7c, wasm.ValueTypeF64},
	} {
		d := &decoder{r: newReader([]byte{c.b})}
		vt, err := d.decodeValType()
		require.NoError(t, err)
		require.Equal(t, c.kind, vt.Kind)
		require.Nil(t, vt.Ref)
	}
}

func TestDecodeValTypeFuncrefAlwaysAllowed(t *testing.T) {
	d := &decoder{r: newReader([]byte{0x70})}
	vt, err := d.decodeValType()
	require.NoError(t, err)
	require.NotNil(t, vt.Ref)
	require.True(t, vt.Ref.Nullable)
}

func TestDecodeValTypeSIMDGatedByFeature(t *testing.T) {
	d := &decoder{r: newReader([]byte{0x7b})}
	_, err := d.decodeValType()
	require.Error(t, err)

	d2 := &decoder{r: newReader([]byte{0x7b}), features: wasm.FeatureSIMD}
	vt, err := d2.decodeValType()
	require.NoError(t, err)
	require.Equal(t, wasm.ValueTypeV128, vt.Kind)
}

func TestDecodeValTypeUnknownByte(t *testing.T) {
	d := &decoder{r: newReader([]byte{0x00})}
	_, err := d.decodeValType()
	require.Error(t, err)
}

func TestDecodeLimitsNoMax(t *testing.T) {
	d := &decoder{r: newReader([]byte{0x00, 0x05})}
	lim, err := d.decodeLimits()
	require.NoError(t, err)
	require.Equal(t, uint32(5), lim.Min)
	require.Nil(t, lim.Max)
	require.False(t, lim.Shared)
}

func TestDecodeLimitsWithMax(t *testing.T) {
	d := &decoder{r: newReader([]byte{0x01, 0x02, 0x0a})}
	lim, err := d.decodeLimits()
	require.NoError(t, err)
	require.Equal(t, uint32(2), lim.Min)
	require.NotNil(t, lim.Max)
	require.Equal(t, uint32(10), *lim.Max)
}

func TestDecodeLimitsSharedRequiresThreads(t *testing.T) {
	d := &decoder{r: newReader([]byte{0x03, 0x00, 0x01})}
	_, err := d.decodeLimits()
	require.Error(t, err)

	d2 := &decoder{r: newReader([]byte{0x03, 0x00, 0x01}), features: wasm.FeatureThreads}
	lim, err := d2.decodeLimits()
	require.NoError(t, err)
	require.True(t, lim.Shared)
	require.NotNil(t, lim.Max)
}

func TestDecodeLimitsInvalidFlags(t *testing.T) {
	d := &decoder{r: newReader([]byte{0x04, 0x00})}
	_, err := d.decodeLimits()
	require.Error(t, err)
}

func TestDecodeGlobalType(t *testing.T) {
	d := &decoder{r: newReader([]byte{0x7f, 0x01})}
	gt, err := d.decodeGlobalType()
	require.NoError(t, err)
	require.Equal(t, wasm.ValueTypeI32, gt.ValType.Kind)
	require.True(t, gt.Mutable)
}

func TestDecodeGlobalTypeInvalidMutability(t *testing.T) {
	d := &decoder{r: newReader([]byte{0x7f, 0x02})}
	_, err := d.decodeGlobalType()
	require.Error(t, err)
}
