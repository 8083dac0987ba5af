package wazero

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

// addModuleBytes is a hand-assembled minimal Wasm binary exporting a single
// function "add" of type (i32, i32) -> i32 that computes local.get 0 +
// local.get 1 (spec.md §8's simplest end-to-end scenario).
func addModuleBytes() []byte {
	return []byte{
		0x00, 0x61, 0x73, 0x6d, // magic
		0x01, 0x00, 0x00, 0x00, // version

		// type section: [(i32,i32)->i32]
		0x01, 0x07, 0x01, 0x60, 0x02, 0x7f, 0x7f, 0x01, 0x7f,

		// function section: func 0 uses type 0
		0x03, 0x02, 0x01, 0x00,

		// export section: export "add" as func 0
		0x07, 0x07, 0x01, 0x03, 'a', 'd', 'd', 0x00, 0x00,

		// code section: one function, no locals, local.get 0, local.get 1, i32.add, end
		0x0a, 0x09, 0x01,
		0x07, 0x00, // body size, 0 local decl groups
		0x20, 0x00, // local.get 0
		0x20, 0x01, // local.get 1
		0x6a,       // i32.add
		0x0b,       // end
	}
}

func TestRuntimeInstantiateAndCallAdd(t *testing.T) {
	ctx := context.Background()
	r := NewRuntime(ctx)
	defer r.Close(ctx)

	mod, err := r.Instantiate(ctx, addModuleBytes())
	require.NoError(t, err)

	add := mod.ExportedFunction("add")
	require.NotNil(t, add)

	results, err := add.Call(ctx, 3, 4)
	require.NoError(t, err)
	require.Equal(t, []uint64{7}, results)
}

func TestRuntimeHostModuleRoundTrip(t *testing.T) {
	ctx := context.Background()
	r := NewRuntime(ctx)
	defer r.Close(ctx)

	var got int32
	_, err := r.NewHostModuleBuilder("env").
		NewFunctionBuilder().
		WithFunc(func(x int32) int32 {
			got = x
			return x * 2
		}).
		Export("double").
		Instantiate(ctx)
	require.NoError(t, err)

	mod, err := r.InstantiateModule(ctx, mustCompileHostCaller(t, r, ctx), NewModuleConfig())
	require.NoError(t, err)

	fn := mod.ExportedFunction("run")
	require.NotNil(t, fn)
	results, err := fn.Call(ctx, 21)
	require.NoError(t, err)
	require.Equal(t, []uint64{42}, results)
	require.Equal(t, int32(21), got)
}

// mustCompileHostCaller builds a module that imports env.double and
// re-exports a "run" wrapper calling it, to exercise import resolution
// against a previously-registered host module.
func mustCompileHostCaller(t *testing.T, r Runtime, ctx context.Context) *CompiledModule {
	t.Helper()
	bytes := []byte{
		0x00, 0x61, 0x73, 0x6d,
		0x01, 0x00, 0x00, 0x00,

		// type section: [(i32)->i32]
		0x01, 0x06, 0x01, 0x60, 0x01, 0x7f, 0x01, 0x7f,

		// import section: env.double, type 0
		0x02, 0x0e, 0x01,
		0x03, 'e', 'n', 'v',
		0x06, 'd', 'o', 'u', 'b', 'l', 'e',
		0x00, 0x00,

		// function section: func 1 (index 1, since 0 is the import) uses type 0
		0x03, 0x02, 0x01, 0x00,

		// export section: export "run" as func 1
		0x07, 0x07, 0x01, 0x03, 'r', 'u', 'n', 0x00, 0x01,

		// code section: local.get 0, call 0 (the imported double), end
		0x0a, 0x08, 0x01,
		0x06, 0x00,
		0x20, 0x00,
		0x10, 0x00,
		0x0b,
	}
	compiled, err := r.CompileModule(ctx, bytes)
	require.NoError(t, err)
	return compiled
}
