// Package wasmdebug builds the human-readable wasm stack traces attached to
// a panicking host call or an execution trap (spec.md §7 diagnostics).
package wasmdebug

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/nexuswasm/wazero/api"
	"github.com/nexuswasm/wazero/internal/wasmruntime"
)

// FuncName formats a frame's module/function name the way diagnostics print
// it: "$<index>" stands in for an unnamed function.
func FuncName(moduleName, funcName string, funcIdx uint32) string {
	if funcName == "" {
		funcName = fmt.Sprintf("$%d", funcIdx)
	}
	return moduleName + "." + funcName
}

func signature(name string, paramTypes, resultTypes []api.ValueType) string {
	var sb strings.Builder
	sb.WriteString(name)
	sb.WriteByte('(')
	for i, p := range paramTypes {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(api.ValueTypeName(p))
	}
	sb.WriteByte(')')
	switch len(resultTypes) {
	case 0:
	case 1:
		sb.WriteByte(' ')
		sb.WriteString(api.ValueTypeName(resultTypes[0]))
	default:
		sb.WriteString(" (")
		for i, r := range resultTypes {
			if i > 0 {
				sb.WriteByte(',')
			}
			sb.WriteString(api.ValueTypeName(r))
		}
		sb.WriteByte(')')
	}
	return sb.String()
}

// maxFrames caps how many frames FromRecovered prints, so a runaway
// recursive trap doesn't produce an unbounded error string.
const maxFrames = 32

// ErrorBuilder accumulates call frames (outermost last) and renders them as
// a wasm stack trace alongside the recovered error.
type ErrorBuilder interface {
	AddFrame(name string, paramTypes, resultTypes []api.ValueType)
	FromRecovered(recovered any) error
}

type errorBuilder struct {
	frames []string
}

func NewErrorBuilder() ErrorBuilder { return &errorBuilder{} }

func (b *errorBuilder) AddFrame(name string, paramTypes, resultTypes []api.ValueType) {
	if len(b.frames) >= maxFrames {
		return
	}
	b.frames = append(b.frames, signature(name, paramTypes, resultTypes))
}

func (b *errorBuilder) FromRecovered(recovered any) error {
	var err error
	switch v := recovered.(type) {
	case error:
		err = v
	default:
		err = fmt.Errorf("%v", v)
	}

	var head string
	if rtErr, ok := err.(runtime.Error); ok {
		head = rtErr.Error()
	} else if wrErr, ok := err.(wasmruntime.Error); ok {
		head = "wasm error: " + wrErr.Error()
	} else {
		head = err.Error() + " (recovered by wazero)"
	}

	var sb strings.Builder
	sb.WriteString(head)
	sb.WriteString("\nwasm stack trace:")
	for _, f := range b.frames {
		sb.WriteString("\n\t")
		sb.WriteString(f)
	}
	return &traceError{msg: sb.String(), cause: err}
}

type traceError struct {
	msg   string
	cause error
}

func (e *traceError) Error() string { return e.msg }
func (e *traceError) Unwrap() error { return e.cause }
