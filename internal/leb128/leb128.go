// Package leb128 implements the LEB128 variable-length integer encodings
// used throughout the WebAssembly binary format, with the strict length
// bounds spec.md §4.1 requires (max 5 bytes for 32-bit values, max 10 bytes
// for 64-bit values; non-canonical padding beyond those bounds is rejected).
package leb128

import (
	"errors"
	"io"
)

// ErrIntegerTooLong is returned when a LEB128 encoding exceeds the maximum
// byte count for its target width.
var ErrIntegerTooLong = errors.New("integer representation too long")

// ErrIntegerTooLarge is returned when a LEB128 encoding fits the byte-count
// bound but carries set bits beyond the target width (non-canonical padding).
var ErrIntegerTooLarge = errors.New("integer too large")

const (
	maxVarintLen32 = 5
	maxVarintLen33 = 5
	maxVarintLen64 = 10
)

// DecodeUint32 reads an unsigned LEB128-encoded u32.
func DecodeUint32(r io.ByteReader) (uint32, uint64, error) {
	v, n, err := decodeUnsigned(r, 32, maxVarintLen32)
	return uint32(v), n, err
}

// DecodeUint64 reads an unsigned LEB128-encoded u64.
func DecodeUint64(r io.ByteReader) (uint64, uint64, error) {
	return decodeUnsigned(r, 64, maxVarintLen64)
}

// DecodeInt32 reads a signed LEB128-encoded i32.
func DecodeInt32(r io.ByteReader) (int32, uint64, error) {
	v, n, err := decodeSigned(r, 32, maxVarintLen32)
	return int32(v), n, err
}

// DecodeInt33AsInt64 reads a signed LEB128-encoded s33, used for block type
// immediates where the extra bit distinguishes an inline value type from a
// type-section index.
func DecodeInt33AsInt64(r io.ByteReader) (int64, uint64, error) {
	return decodeSigned(r, 33, maxVarintLen33)
}

// DecodeInt64 reads a signed LEB128-encoded i64.
func DecodeInt64(r io.ByteReader) (int64, uint64, error) {
	return decodeSigned(r, 64, maxVarintLen64)
}

func decodeUnsigned(r io.ByteReader, width int, maxLen int) (result uint64, bytesRead uint64, err error) {
	var shift uint
	for i := 0; ; i++ {
		if i >= maxLen {
			return 0, 0, ErrIntegerTooLong
		}
		b, e := r.ReadByte()
		if e != nil {
			if e == io.EOF && i > 0 {
				return 0, 0, io.ErrUnexpectedEOF
			}
			return 0, 0, e
		}
		bytesRead++
		lastByte := i == maxLen-1
		payload := uint64(b & 0x7f)
		if lastByte {
			// Any bits beyond the target width in the final byte must be zero.
			remaining := width - int(shift)
			if remaining < 7 {
				mask := uint64(1)<<uint(remaining) - 1
				if payload & ^mask != 0 {
					return 0, 0, ErrIntegerTooLarge
				}
				payload &= mask
			}
		}
		result |= payload << shift
		if b&0x80 == 0 {
			return result, bytesRead, nil
		}
		shift += 7
	}
}

func decodeSigned(r io.ByteReader, width int, maxLen int) (result int64, bytesRead uint64, err error) {
	var shift uint
	var b byte
	for i := 0; ; i++ {
		if i >= maxLen {
			return 0, 0, ErrIntegerTooLong
		}
		nb, e := r.ReadByte()
		if e != nil {
			if e == io.EOF && i > 0 {
				return 0, 0, io.ErrUnexpectedEOF
			}
			return 0, 0, e
		}
		b = nb
		bytesRead++
		lastByte := i == maxLen-1
		payload := int64(b & 0x7f)
		if lastByte {
			remaining := width - int(shift)
			if remaining < 7 {
				signBit := int64(1) << uint(remaining-1)
				mask := int64(1)<<uint(remaining) - 1
				trunc := payload & mask
				// All discarded high bits must equal the sign bit, replicated.
				signExtended := trunc
				if trunc&signBit != 0 {
					signExtended = trunc | ^mask
				}
				if int64(payload) != (signExtended & 0x7f) {
					return 0, 0, ErrIntegerTooLarge
				}
				payload = trunc
			}
		}
		result |= payload << shift
		shift += 7
		if b&0x80 == 0 {
			if shift < uint(width) && b&0x40 != 0 {
				result |= -1 << shift
			}
			return result, bytesRead, nil
		}
	}
}

// EncodeUint32 encodes v as unsigned LEB128.
func EncodeUint32(v uint32) []byte { return EncodeUint64(uint64(v)) }

// EncodeUint64 encodes v as unsigned LEB128.
func EncodeUint64(v uint64) []byte {
	out := make([]byte, 0, 10)
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			out = append(out, b|0x80)
		} else {
			out = append(out, b)
			return out
		}
	}
}

// EncodeInt32 encodes v as signed LEB128.
func EncodeInt32(v int32) []byte { return EncodeInt64(int64(v)) }

// EncodeInt64 encodes v as signed LEB128.
func EncodeInt64(v int64) []byte {
	out := make([]byte, 0, 10)
	for {
		b := byte(v & 0x7f)
		v >>= 7
		signBitSet := b&0x40 != 0
		if (v == 0 && !signBitSet) || (v == -1 && signBitSet) {
			out = append(out, b)
			return out
		}
		out = append(out, b|0x80)
	}
}
