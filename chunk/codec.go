// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package chunk

import (
	"fmt"
	"math"

	"github.com/cockroachdb/redact"
	"golang.org/x/exp/constraints"
)

// Codec identifies the encoding of a chunk.
type Codec uint8

const (
	// CodecConst stores one float64 for every row. A NaN constant means every
	// row is missing.
	CodecConst Codec = 1 + iota
	// CodecConstInt stores one int64 for every row.
	CodecConstInt
	// CodecU8Full stores one unsigned byte per row with no missing values.
	CodecU8Full
	// CodecU8 stores one unsigned byte per row; 0xFF is missing.
	CodecU8
	// CodecI16 stores little-endian int16s; math.MinInt16 is missing.
	CodecI16
	// CodecI32 stores little-endian int32s; math.MinInt32 is missing.
	CodecI32
	// CodecI64 stores little-endian int64s; math.MinInt64 is missing.
	CodecI64
	// CodecScaled8 stores (value/10^exp - bias) in an unsigned byte; 0xFF is
	// missing.
	CodecScaled8
	// CodecScaled16 stores (value/10^exp - bias) in an int16; math.MinInt16 is
	// missing.
	CodecScaled16
	// CodecScaled32 stores (value/10^exp - bias) in an int32; math.MinInt32 is
	// missing.
	CodecScaled32
	// CodecF32 stores float32s; NaN is missing.
	CodecF32
	// CodecF64 stores float64s; NaN is missing.
	CodecF64
	// CodecDictF64 stores up to 256 distinct float64s and one index byte per
	// row.
	CodecDictF64
	// CodecBool1 stores one bit per row with no missing values.
	CodecBool1
	// CodecBool2 stores two bits per row; 0b10 is missing.
	CodecBool2
	// CodecSparseZero stores the rows that are nonzero or missing; every other
	// row is zero.
	CodecSparseZero
	// CodecSparseNA stores the rows that are not missing; every other row is
	// missing.
	CodecSparseNA
	// CodecUUID stores 16 bytes per row (low then high half); a low half of
	// math.MinInt64 with a zero high half is missing.
	CodecUUID
	// CodecStr stores a uint32 offset per row into a heap of uvarint
	// length-prefixed strings; 0xFFFFFFFF is missing.
	CodecStr

	numCodecs
)

var codecNames = [numCodecs]string{
	CodecConst:      "const",
	CodecConstInt:   "const-int",
	CodecU8Full:     "u8-full",
	CodecU8:         "u8",
	CodecI16:        "i16",
	CodecI32:        "i32",
	CodecI64:        "i64",
	CodecScaled8:    "scaled8",
	CodecScaled16:   "scaled16",
	CodecScaled32:   "scaled32",
	CodecF32:        "f32",
	CodecF64:        "f64",
	CodecDictF64:    "dict-f64",
	CodecBool1:      "bool1",
	CodecBool2:      "bool2",
	CodecSparseZero: "sparse-zero",
	CodecSparseNA:   "sparse-na",
	CodecUUID:       "uuid",
	CodecStr:        "str",
}

// String implements fmt.Stringer.
func (c Codec) String() string {
	if c > 0 && c < numCodecs {
		return codecNames[c]
	}
	return fmt.Sprintf("codec(%d)", uint8(c))
}

// SafeFormat implements redact.SafeFormatter.
func (c Codec) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Print(redact.SafeString(c.String()))
}

// Codecs returns every codec in tag order.
func Codecs() []Codec {
	out := make([]Codec, 0, numCodecs-1)
	for c := CodecConst; c < numCodecs; c++ {
		out = append(out, c)
	}
	return out
}

// IsSparse returns true for the sparse codecs.
func (c Codec) IsSparse() bool { return c == CodecSparseZero || c == CodecSparseNA }

// Serialized layout.
//
//	[codec: 1][rows: 4 LE][codec header][payload]
//
// Codec headers:
//
//	Const, ConstInt:           [value: 8]
//	Scaled8/16/32:             [bias: 8 LE][exp: 1]
//	DictF64:                   [n: 2 LE][n float64 entries]
//	SparseZero, SparseNA:      [stored: 4 LE][id width: 1][value kind: 1][const: 8, only for sparseConst]
//
// Sparse payloads are the row ids followed by the values. Str payloads are
// the per-row offsets followed by the string heap.
const (
	headerLen      = 5
	maxDictEntries = 256
)

// Missing sentinels.
const (
	naU8    = 0xFF
	naI16   = math.MinInt16
	naI32   = math.MinInt32
	naI64   = math.MinInt64
	naStr   = math.MaxUint32
	naUUIDh = 0
	naUUIDl = math.MinInt64
)

// Bit patterns of the signed sentinels, for writing.
const (
	naI8Bits  byte   = 0x80
	naI16Bits uint16 = 0x8000
	naI32Bits uint32 = 0x80000000
	naI64Bits uint64 = 1 << 63
)

// fitsSigned reports whether v converts to the signed width T exactly and is
// not the width's minimum, which marks a missing row.
func fitsSigned[T constraints.Signed](v int64) bool {
	t := T(v)
	// t-1 wraps only at the minimum.
	return int64(t) == v && t-1 < t
}

// Bool2 bit patterns.
const (
	bool2False   = 0b00
	bool2True    = 0b01
	bool2Missing = 0b10
)

// sparseKind is the representation of the values stored by a sparse chunk.
type sparseKind uint8

const (
	// sparseConst stores no values; every stored row holds the header constant.
	sparseConst sparseKind = iota
	sparseI8
	sparseI16
	sparseI32
	sparseI64
	sparseF32
	sparseF64
)

func (k sparseKind) width() int {
	switch k {
	case sparseConst:
		return 0
	case sparseI8:
		return 1
	case sparseI16:
		return 2
	case sparseI32, sparseF32:
		return 4
	default:
		return 8
	}
}

func (k sparseKind) isFloat() bool { return k == sparseF32 || k == sparseF64 }

// sparseIDWidth returns the width of a row id in a sparse chunk of n rows.
func sparseIDWidth(rows int) int {
	if rows < math.MaxUint16 {
		return 2
	}
	return 4
}

// pow10 holds the powers of ten that are exact in float64.
var pow10 = [...]float64{
	1e0, 1e1, 1e2, 1e3, 1e4, 1e5, 1e6, 1e7, 1e8, 1e9, 1e10, 1e11,
	1e12, 1e13, 1e14, 1e15, 1e16, 1e17, 1e18, 1e19, 1e20, 1e21, 1e22,
}

// maxExp bounds the magnitude of the decimal exponent of scaled codecs.
const maxExp = len(pow10) - 1

// scale returns m*10^exp, dividing for negative exponents so that values with
// an exact decimal representation decode to the nearest float64.
func scale(m int64, exp int8) float64 {
	switch {
	case exp == 0:
		return float64(m)
	case exp < 0:
		return float64(m) / pow10[-exp]
	default:
		return float64(m) * pow10[exp]
	}
}
