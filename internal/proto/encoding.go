/*
Package proto implements a minimal subset of protobuf wire encoding used to
serialize document properties in the canonical order of their schema
positions.

Only the fields needed by the document codec are supported: varints (incl.
zigzag-encoded signed integers), 64-bit fixed values and length-delimited
bytes.
*/
package proto

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

var errVarintOverflow = errors.New("varint overflow")

// EncodeTag encodes protobuf tag for field with given number and type.
func EncodeTag(num, typ uint64) uint64 {
	return num<<3 | typ&7
}

// SizeTag returns size of protobuf tag for field with given number.
func SizeTag(num uint64) int {
	return SizeVarint(num << 3)
}

// SizeLEN returns length of nested [FieldTypeLEN] field.
func SizeLEN(ln int) int {
	return SizeVarint(uint64(ln)) + ln
}

// SizeVarint returns length of [FieldTypeVARINT] field.
func SizeVarint(x uint64) int {
	i := 0
	for x >= 0x80 {
		x >>= 7
		i++
	}
	return i + 1
}

// AppendVarint appends varint-encoded x to buf.
func AppendVarint(buf []byte, x uint64) []byte {
	return binary.AppendUvarint(buf, x)
}

// AppendTag appends tag of the field with given number and type to buf.
func AppendTag(buf []byte, num int, typ int) []byte {
	return AppendVarint(buf, EncodeTag(uint64(num), uint64(typ)))
}

// AppendVarintField appends complete [FieldTypeVARINT] field to buf.
func AppendVarintField(buf []byte, num int, x uint64) []byte {
	return AppendVarint(AppendTag(buf, num, FieldTypeVARINT), x)
}

// AppendSintField appends complete zigzag-encoded signed [FieldTypeVARINT]
// field to buf.
func AppendSintField(buf []byte, num int, x int64) []byte {
	return AppendVarintField(buf, num, EncodeZigZag(x))
}

// AppendDoubleField appends complete [FieldTypeI64] field carrying IEEE 754
// value to buf.
func AppendDoubleField(buf []byte, num int, f float64) []byte {
	return binary.LittleEndian.AppendUint64(AppendTag(buf, num, FieldTypeI64), math.Float64bits(f))
}

// AppendLENField appends complete [FieldTypeLEN] field to buf.
func AppendLENField(buf []byte, num int, b []byte) []byte {
	buf = AppendTag(buf, num, FieldTypeLEN)
	buf = AppendVarint(buf, uint64(len(b)))
	return append(buf, b...)
}

// EncodeZigZag maps signed integers to unsigned ones so that values with
// small magnitude have small varint encoding.
func EncodeZigZag(x int64) uint64 {
	return uint64(x<<1) ^ uint64(x>>63)
}

// DecodeZigZag is an inverse of EncodeZigZag.
func DecodeZigZag(x uint64) int64 {
	return int64(x>>1) ^ -int64(x&1)
}

// ReadTag reads tag of protobuf field from b. Returns field number, type and
// number of bytes read.
func ReadTag(b []byte) (int, int, int, error) {
	n, r, err := uvarint(b)
	if err != nil {
		return 0, 0, 0, err
	}

	num := n >> 3
	if num == 0 || num > MaxFieldNumber {
		return 0, 0, 0, fmt.Errorf("invalid/unsupported protobuf field num %d", num)
	}

	typ := n & 7
	if typ >= firstUnknownFieldType {
		return 0, 0, 0, fmt.Errorf("invalid/unsupported protobuf field type %d", typ)
	}

	return int(num), int(typ), r, nil
}

// ReadSizeLEN reads length of nested [FieldTypeLEN] field from b. Returns
// resulting length and number of bytes read.
func ReadSizeLEN(b []byte) (int, int, error) {
	n, r, err := uvarint(b)
	if err != nil {
		return 0, 0, err
	}

	if full := uint64(len(b)); n > full || n > full-uint64(r) {
		return 0, 0, fmt.Errorf("too big field len %d, full %d", n, len(b))
	}

	return int(n), r, nil
}

// ReadVarint reads protobuf field of [FieldTypeVARINT] type. Returns field
// value and number of bytes read.
func ReadVarint(b []byte) (uint64, int, error) {
	return uvarint(b)
}

// ReadUint32 reads protobuf field of uint32 type. Returns field value and
// number of bytes read.
func ReadUint32(b []byte) (uint32, int, error) {
	n, r, err := uvarint(b)
	if err != nil {
		return 0, 0, err
	}

	if n > math.MaxUint32 {
		return 0, 0, fmt.Errorf("%d overflows uint32", n)
	}

	return uint32(n), r, nil
}

// ReadDouble reads protobuf field of [FieldTypeI64] type as IEEE 754 value.
// Returns field value and number of bytes read.
func ReadDouble(b []byte) (float64, int, error) {
	if len(b) < 8 {
		return 0, 0, fmt.Errorf("unexpected end of I64 field: %d bytes left", len(b))
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(b)), 8, nil
}

func uvarint(buf []byte) (uint64, int, error) {
	const maxVarintLen = 10
	var x uint64
	var s uint
	for i, b := range buf {
		if i == maxVarintLen {
			// Catch byte reads past maxVarintLen.
			// See issue https://golang.org/issues/41185
			return 0, 0, errVarintOverflow
		}
		if b < 0x80 {
			if i == maxVarintLen-1 && b > 1 {
				return 0, 0, errVarintOverflow
			}
			return x | uint64(b)<<s, i + 1, nil
		}
		x |= uint64(b&0x7f) << s
		s += 7
	}
	return 0, 0, errors.New("unexpected end of varint")
}
