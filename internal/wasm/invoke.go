package wasm

import "context"

// Invoker is the narrow capability the Instantiator needs from the
// Interpreter: run an already-allocated function to completion (spec.md
// §4.5 step 10, "If a start function is declared, invoke it ... via the
// Interpreter"). Keeping this as an interface (rather than importing the
// interpreter package directly) avoids a store<->interpreter import cycle,
// mirroring the teacher's wasm.Engine/ModuleEngine interface split.
type Invoker interface {
	Invoke(ctx context.Context, store *Store, funcAddr Addr, params []uint64) ([]uint64, error)
}
