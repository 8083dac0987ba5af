// Package binary implements the WebAssembly binary format decoder: the
// FileManager byte-cursor primitives (spec.md §4.1) and the section/
// instruction Loader built on top of them (spec.md §4.2).
package binary

import (
	"unicode/utf8"

	"github.com/nexuswasm/wazero/internal/leb128"
	"github.com/nexuswasm/wazero/internal/wasmruntime"
)

// reader is the FileManager: a random-access byte cursor over an in-memory
// buffer. It tracks the offset before the last read so callers can annotate
// diagnostics with "the byte offset before the failing read" (spec.md §4.1).
type reader struct {
	buf        []byte
	pos        int
	lastOffset int
}

func newReader(buf []byte) *reader { return &reader{buf: buf} }

func (r *reader) getOffset() uint64     { return uint64(r.pos) }
func (r *reader) getLastOffset() uint64 { return uint64(r.lastOffset) }

func (r *reader) remaining() int { return len(r.buf) - r.pos }

func (r *reader) seek(pos int) { r.pos = pos }

// ReadByte implements io.ByteReader so the leb128 package can read directly
// off this cursor.
func (r *reader) ReadByte() (byte, error) {
	r.lastOffset = r.pos
	if r.remaining() < 1 {
		return 0, wasmruntime.ErrUnexpectedEnd
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *reader) peekByte() (byte, error) {
	if r.remaining() < 1 {
		return 0, wasmruntime.ErrUnexpectedEnd
	}
	return r.buf[r.pos], nil
}

func (r *reader) readBytes(n int) ([]byte, error) {
	r.lastOffset = r.pos
	if r.remaining() < n {
		return nil, wasmruntime.ErrUnexpectedEnd
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *reader) readU32() (uint32, error) {
	r.lastOffset = r.pos
	v, n, err := leb128.DecodeUint32(r)
	if err != nil {
		return 0, translateLEBErr(err)
	}
	_ = n
	return v, nil
}

func (r *reader) readU64() (uint64, error) {
	r.lastOffset = r.pos
	v, _, err := leb128.DecodeUint64(r)
	if err != nil {
		return 0, translateLEBErr(err)
	}
	return v, nil
}

func (r *reader) readS32() (int32, error) {
	r.lastOffset = r.pos
	v, _, err := leb128.DecodeInt32(r)
	if err != nil {
		return 0, translateLEBErr(err)
	}
	return v, nil
}

func (r *reader) readS33() (int64, error) {
	r.lastOffset = r.pos
	v, _, err := leb128.DecodeInt33AsInt64(r)
	if err != nil {
		return 0, translateLEBErr(err)
	}
	return v, nil
}

func (r *reader) readS64() (int64, error) {
	r.lastOffset = r.pos
	v, _, err := leb128.DecodeInt64(r)
	if err != nil {
		return 0, translateLEBErr(err)
	}
	return v, nil
}

func translateLEBErr(err error) error {
	switch err {
	case leb128.ErrIntegerTooLong:
		return wasmruntime.ErrIntegerTooLong
	case leb128.ErrIntegerTooLarge:
		return wasmruntime.ErrIntegerTooLarge
	default:
		return err
	}
}

func (r *reader) readF32() (float32, error) {
	b, err := r.readBytes(4)
	if err != nil {
		return 0, err
	}
	u := uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
	return bitsToF32(u), nil
}

func (r *reader) readF64() (float64, error) {
	b, err := r.readBytes(8)
	if err != nil {
		return 0, err
	}
	var u uint64
	for i := 7; i >= 0; i-- {
		u = u<<8 | uint64(b[i])
	}
	return bitsToF64(u), nil
}

// readName reads a u32 length followed by that many bytes, validating UTF-8
// (spec.md §4.1 MalformedName).
func (r *reader) readName() (string, error) {
	n, err := r.readU32()
	if err != nil {
		return "", err
	}
	b, err := r.readBytes(int(n))
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", wasmruntime.ErrMalformedName
	}
	return string(b), nil
}

// headerType sniffs common AOT-only object formats so the loader can report
// a precise diagnostic instead of a generic "malformed magic" (spec.md §4.1
// getHeaderType).
type headerType int

const (
	headerUnknown headerType = iota
	headerWasm
	headerELF
	headerMachO
	headerPE
)

func (r *reader) getHeaderType() headerType {
	if len(r.buf) < 4 {
		return headerUnknown
	}
	switch {
	case string(r.buf[:4]) == "\x00asm":
		return headerWasm
	case r.buf[0] == 0x7f && r.buf[1] == 'E' && r.buf[2] == 'L' && r.buf[3] == 'F':
		return headerELF
	case (r.buf[0] == 0xfe && r.buf[1] == 0xed && r.buf[2] == 0xfa) || (r.buf[0] == 0xcf && r.buf[1] == 0xfa && r.buf[2] == 0xed && r.buf[3] == 0xfe):
		return headerMachO
	case r.buf[0] == 'M' && r.buf[1] == 'Z':
		return headerPE
	}
	return headerUnknown
}

func (h headerType) String() string {
	switch h {
	case headerWasm:
		return "wasm"
	case headerELF:
		return "ELF"
	case headerMachO:
		return "Mach-O"
	case headerPE:
		return "PE"
	}
	return "unknown"
}

func offsetErr(err error, offset uint64, node wasmruntime.NodeKind) error {
	return wasmruntime.WithOffset(err, offset, node)
}
