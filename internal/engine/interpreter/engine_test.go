package interpreter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nexuswasm/wazero/internal/wasm"
)

func i32Type(params, results int) *wasm.FunctionType {
	p := make([]wasm.ValType, params)
	r := make([]wasm.ValType, results)
	for i := range p {
		p[i] = wasm.NumericValType(wasm.ValueTypeI32)
	}
	for i := range r {
		r[i] = wasm.NumericValType(wasm.ValueTypeI32)
	}
	return &wasm.FunctionType{Params: p, Results: r}
}

func TestEngineInvokeI32ConstAdd(t *testing.T) {
	store := wasm.NewStore()
	fn := &wasm.FunctionInstance{
		Type: i32Type(0, 1),
		Body: []wasm.Instruction{
			{Op: wasm.OpI32Const, I32: 2},
			{Op: wasm.OpI32Const, I32: 40},
			{Op: wasm.OpI32Add},
			{Op: wasm.OpEnd},
		},
	}
	addr := store.PushFunction(fn)

	e := New(wasm.Features(0))
	results, err := e.Invoke(context.Background(), store, addr, nil)
	require.NoError(t, err)
	require.Equal(t, []uint64{42}, results)
}

func TestEngineInvokeLocalsIncludeParams(t *testing.T) {
	store := wasm.NewStore()
	// (i32, i32) -> i32: local.get 0, local.get 1, i32.add; exercises the
	// frame's locals slice sized to hold params plus zero declared locals.
	fn := &wasm.FunctionInstance{
		Type:      i32Type(2, 1),
		NumLocals: 0,
		Body: []wasm.Instruction{
			{Op: wasm.OpLocalGet, Index: 0},
			{Op: wasm.OpLocalGet, Index: 1},
			{Op: wasm.OpI32Add},
			{Op: wasm.OpEnd},
		},
	}
	addr := store.PushFunction(fn)

	e := New(wasm.Features(0))
	results, err := e.Invoke(context.Background(), store, addr, []uint64{3, 4})
	require.NoError(t, err)
	require.Equal(t, []uint64{7}, results)
}

func TestEngineInvokeLocalSetThenGet(t *testing.T) {
	store := wasm.NewStore()
	// one param, one declared local: local.get 0, local.set 1, local.get 1
	fn := &wasm.FunctionInstance{
		Type:       i32Type(1, 1),
		NumLocals:  1,
		LocalTypes: []wasm.ValType{wasm.NumericValType(wasm.ValueTypeI32)},
		Body: []wasm.Instruction{
			{Op: wasm.OpLocalGet, Index: 0},
			{Op: wasm.OpLocalSet, Index: 1},
			{Op: wasm.OpLocalGet, Index: 1},
			{Op: wasm.OpEnd},
		},
	}
	addr := store.PushFunction(fn)

	e := New(wasm.Features(0))
	results, err := e.Invoke(context.Background(), store, addr, []uint64{9})
	require.NoError(t, err)
	require.Equal(t, []uint64{9}, results)
}

func TestEngineInvokeCallsAnotherFunction(t *testing.T) {
	store := wasm.NewStore()
	// call resolves through the caller's owning ModuleInstance.Functions by
	// module-relative index (exec.go's OpCall), not by raw Store address.
	doubleAddr := store.PushFunction(&wasm.FunctionInstance{
		Type: i32Type(1, 1),
		Body: []wasm.Instruction{
			{Op: wasm.OpLocalGet, Index: 0},
			{Op: wasm.OpLocalGet, Index: 0},
			{Op: wasm.OpI32Add},
			{Op: wasm.OpEnd},
		},
	})

	callerAddr := store.PushFunction(&wasm.FunctionInstance{
		Type: i32Type(1, 1),
		Body: []wasm.Instruction{
			{Op: wasm.OpLocalGet, Index: 0},
			{Op: wasm.OpCall, Index: 0},
			{Op: wasm.OpEnd},
		},
	})

	mi := &wasm.ModuleInstance{Exports: map[string]wasm.ExportInstance{}, Functions: []wasm.Addr{doubleAddr, callerAddr}}
	store.AppendAnonymousModule(mi)
	store.GetFunction(doubleAddr).Module = mi.Self
	store.GetFunction(callerAddr).Module = mi.Self

	e := New(wasm.Features(0))
	results, err := e.Invoke(context.Background(), store, callerAddr, []uint64{21})
	require.NoError(t, err)
	require.Equal(t, []uint64{42}, results)
}

func TestEngineInvokeHostFunction(t *testing.T) {
	store := wasm.NewStore()
	var got uint64
	fn := &wasm.FunctionInstance{
		Type: i32Type(1, 1),
		GoFunc: func(ctx context.Context, stack []uint64) {
			got = stack[0]
			stack[0] = stack[0] * 2
		},
	}
	addr := store.PushFunction(fn)

	e := New(wasm.Features(0))
	results, err := e.Invoke(context.Background(), store, addr, []uint64{5})
	require.NoError(t, err)
	require.Equal(t, []uint64{10}, results)
	require.Equal(t, uint64(5), got)
}

func TestEngineInvokeFactorialRecursion(t *testing.T) {
	store := wasm.NewStore()
	// n == 0 ? 1 : n * fact(n - 1), built directly against execBlock's
	// if/else offset convention (exec.go: ElseOffset indexes the matching
	// `else`, EndOffset the matching `end`, both within the same Body slice).
	body := []wasm.Instruction{
		{Op: wasm.OpLocalGet, Index: 0},                                          // 0
		{Op: wasm.OpI32Eqz},                                                      // 1
		{Op: wasm.OpIf, Block: wasm.BlockType{Kind: wasm.BlockTypeValue}, ElseOffset: 4, EndOffset: 11}, // 2
		{Op: wasm.OpI32Const, I32: 1},                                            // 3
		{Op: wasm.OpElse},                                                        // 4
		{Op: wasm.OpLocalGet, Index: 0},                                          // 5
		{Op: wasm.OpLocalGet, Index: 0},                                          // 6
		{Op: wasm.OpI32Const, I32: 1},                                            // 7
		{Op: wasm.OpI32Sub},                                                      // 8
		{Op: wasm.OpCall, Index: 0},                                              // 9
		{Op: wasm.OpI32Mul},                                                      // 10
		{Op: wasm.OpEnd},                                                         // 11, closes the if
		{Op: wasm.OpEnd},                                                         // 12, closes the function
	}
	fn := &wasm.FunctionInstance{Type: i32Type(1, 1), Body: body}
	addr := store.PushFunction(fn)

	mi := &wasm.ModuleInstance{Exports: map[string]wasm.ExportInstance{}, Functions: []wasm.Addr{addr}}
	store.AppendAnonymousModule(mi)
	fn.Module = mi.Self

	e := New(wasm.Features(0))
	results, err := e.Invoke(context.Background(), store, addr, []uint64{5})
	require.NoError(t, err)
	require.Equal(t, []uint64{120}, results)
}

func TestEngineInvokeUnreachableTraps(t *testing.T) {
	store := wasm.NewStore()
	fn := &wasm.FunctionInstance{
		Type: i32Type(0, 0),
		Body: []wasm.Instruction{
			{Op: wasm.OpUnreachable},
			{Op: wasm.OpEnd},
		},
	}
	addr := store.PushFunction(fn)

	e := New(wasm.Features(0))
	_, err := e.Invoke(context.Background(), store, addr, nil)
	require.Error(t, err)
}
