// Package wasmruntime defines the closed error-kind enum spec.md §7
// describes: decode, link, validation, and execution-trap errors, plus the
// non-error meta terminators (Terminated, Revert).
package wasmruntime

import "fmt"

// Error is implemented by every sentinel defined in this package, so callers
// can type-switch on the trap/decode taxonomy without string-matching.
type Error interface {
	error
	// Kind is the closed enum tag identifying this error.
	Kind() string
}

type sentinel string

func (s sentinel) Error() string { return string(s) }
func (s sentinel) Kind() string  { return string(s) }

// Decode errors (§7 "Decoding").
const (
	ErrMalformedMagic          sentinel = "malformed magic"
	ErrMalformedVersion        sentinel = "malformed version"
	ErrMalformedSection        sentinel = "malformed section"
	ErrJunkSection             sentinel = "junk after section"
	ErrSectionSizeMismatch     sentinel = "section size mismatch"
	ErrUnexpectedEnd           sentinel = "unexpected end"
	ErrIntegerTooLong          sentinel = "integer representation too long"
	ErrIntegerTooLarge         sentinel = "integer too large"
	ErrMalformedName           sentinel = "malformed UTF-8 encoding"
	ErrMalformedValType        sentinel = "malformed value type"
	ErrMalformedRefType        sentinel = "malformed reference type"
	ErrMalformedElemType       sentinel = "malformed element type"
	ErrMalformedLimitFlags     sentinel = "malformed limits flags"
	ErrMalformedImportKind     sentinel = "malformed import kind"
	ErrMalformedExportKind     sentinel = "malformed export kind"
	ErrMalformedMutability     sentinel = "malformed mutability"
	ErrMalformedDefType        sentinel = "malformed definition type"
	ErrMalformedTableType      sentinel = "malformed table type"
	ErrExpectedZeroByte        sentinel = "zero byte expected"
	ErrIllegalOpCode           sentinel = "illegal opcode"
	ErrIllegalGrammar          sentinel = "illegal grammar"
	ErrDataCountRequired       sentinel = "data count section required"
	ErrTooManyLocals           sentinel = "too many locals"
	ErrENDCodeExpected         sentinel = "END opcode expected"
)

// Link errors (§7 "Linking").
const (
	ErrUnknownImport         sentinel = "unknown import"
	ErrIncompatibleImportType sentinel = "incompatible import type"
	ErrModuleNameConflict     sentinel = "module name conflict"
	ErrIncompatibleFuncCode   sentinel = "incompatible function code"
	ErrIncompatibleDataCount  sentinel = "incompatible data count"
)

// Validation errors (§7 "Validation").
const (
	ErrTypeMismatch       sentinel = "type mismatch"
	ErrInvalidMut         sentinel = "invalid mutability"
	ErrInvalidStartFunc   sentinel = "invalid start function"
	ErrInvalidResultArity sentinel = "invalid result arity"
	ErrInvalidLaneIdx     sentinel = "invalid lane index"
	ErrInvalidMemoryIdx   sentinel = "invalid memory index"
	ErrInvalidTableIdx    sentinel = "invalid table index"
	ErrInvalidFuncIdx     sentinel = "invalid function index"
	ErrInvalidGlobalIdx   sentinel = "invalid global index"
)

// Execution traps (§7 "Execution traps"). These unwind the interpreter
// immediately, popping all frames and labels up to the invocation entry.
const (
	ErrUnreachable                sentinel = "unreachable"
	ErrMemoryOutOfBounds          sentinel = "out of bounds memory access"
	ErrTableOutOfBounds           sentinel = "out of bounds table access"
	ErrDivideByZero               sentinel = "integer divide by zero"
	ErrIntegerOverflow            sentinel = "integer overflow"
	ErrInvalidConversionToInteger sentinel = "invalid conversion to integer"
	ErrUndefinedElement           sentinel = "undefined element"
	ErrUninitializedElement       sentinel = "uninitialized element"
	ErrIndirectCallTypeMismatch   sentinel = "indirect call type mismatch"
	ErrUncaughtException          sentinel = "uncaught exception"
	ErrUnalignedAtomicAccess      sentinel = "unaligned atomic access"
	ErrExpectSharedMemory         sentinel = "expected shared memory"
	ErrCallStackOverflow          sentinel = "call stack overflow"
)

// Meta: non-trap terminators the embedder API treats specially.
const (
	ErrCostLimitExceeded sentinel = "cost limit exceeded"
	ErrExecutionFailed   sentinel = "execution failed"
)

// Terminated signals a non-error, intentional termination of an invocation
// (e.g. a WASI-style proc_exit). It is not surfaced as a failure to
// embedders; ExitCode carries the process exit status.
type Terminated struct{ ExitCode uint32 }

func (t *Terminated) Error() string { return fmt.Sprintf("terminated with exit code %d", t.ExitCode) }
func (t *Terminated) Kind() string  { return "Terminated" }

// Revert is a host-initiated non-trapping terminator carrying return data,
// distinct from a trap (see SPEC_FULL.md "host function error taxonomy").
type Revert struct{ Data []byte }

func (r *Revert) Error() string { return "reverted" }
func (r *Revert) Kind() string  { return "Revert" }

// NodeKind is a closed enum over AST locations used to annotate diagnostics
// (§6 "Diagnostics"); it is not part of error identity.
type NodeKind int

const (
	NodeKindUnknown NodeKind = iota
	NodeKindModule
	NodeKindSectionType
	NodeKindSectionImport
	NodeKindSectionFunction
	NodeKindSectionTable
	NodeKindSectionMemory
	NodeKindSectionGlobal
	NodeKindSectionExport
	NodeKindSectionStart
	NodeKindSectionElement
	NodeKindSectionCode
	NodeKindSectionData
	NodeKindSectionDataCount
	NodeKindSectionTag
	NodeKindSectionCustom
	NodeKindTypeDef
	NodeKindSegmentElement
	NodeKindSegmentData
	NodeKindDescFunc
	NodeKindDescTable
	NodeKindDescMemory
	NodeKindDescGlobal
	NodeKindInstruction
	NodeKindExpression
)

// DecodeError annotates a wasmruntime.Error with the byte offset (spec.md
// §4.1 "every failure records the byte offset before the failing read") and
// the AST location it was found at, plus an optional proposal hint.
type DecodeError struct {
	Err      error
	Offset   uint64
	Node     NodeKind
	Proposal string
}

func (e *DecodeError) Error() string {
	if e.Proposal != "" {
		return fmt.Sprintf("%s at offset %#x (requires proposal %q)", e.Err, e.Offset, e.Proposal)
	}
	return fmt.Sprintf("%s at offset %#x", e.Err, e.Offset)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func (e *DecodeError) Kind() string {
	if k, ok := e.Err.(Error); ok {
		return k.Kind()
	}
	return "unknown"
}

// WithOffset wraps err as a DecodeError at the given offset/node, unless err
// is already nil.
func WithOffset(err error, offset uint64, node NodeKind) error {
	if err == nil {
		return nil
	}
	return &DecodeError{Err: err, Offset: offset, Node: node}
}

// WithProposal is like WithOffset but also records the gating proposal name,
// used for IllegalOpCode's "proposal that would enable it" requirement.
func WithProposal(err error, offset uint64, node NodeKind, proposal string) error {
	if err == nil {
		return nil
	}
	return &DecodeError{Err: err, Offset: offset, Node: node, Proposal: proposal}
}
