// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package chunk implements the compressed, immutable runs of column values
// ("chunks") and the builder that selects the cheapest encoding for a run.
//
// A Chunk is a closed tagged union over the codecs in this package. Every
// operation dispatches with a single switch on the codec; there is no
// per-codec type. Chunks decode in O(1) over the serialized bytes: reads index
// directly into the payload.
//
// Chunks perform no locking. Readers may share a chunk freely; in-place
// writes (TrySet and friends) require exclusive ownership of a chunk obtained
// with Clone.
package chunk

import (
	"encoding/binary"
	"math"
	"sort"

	"github.com/cockroachdb/colvec/internal/base"
	"github.com/cockroachdb/colvec/internal/invariants"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/redact"
)

var le = binary.LittleEndian

// Chunk is an immutable, codec-tagged run of column values.
type Chunk struct {
	codec Codec
	rows  int
	data  []byte
	// payload is the codec payload following the header.
	payload []byte
	// owned is set on chunks whose bytes may be written in place.
	owned bool

	// f holds the constant of Const chunks and sparse chunks of kind
	// sparseConst; i holds the constant of ConstInt chunks.
	f float64
	i int64

	// Scaled codecs.
	bias int64
	exp  int8

	// DictF64.
	dict []byte

	// Sparse codecs.
	stored int
	idw    int
	kind   sparseKind
	ids    []byte
	vals   []byte

	// Str.
	heap []byte
}

// Decode interprets b as a serialized chunk. The chunk aliases b, which must
// not be modified while the chunk is in use.
func Decode(b []byte) (*Chunk, error) {
	if len(b) < headerLen {
		return nil, base.CorruptionErrorf("chunk: %d bytes is shorter than the header", len(b))
	}
	c := &Chunk{
		codec: Codec(b[0]),
		rows:  int(le.Uint32(b[1:])),
		data:  b,
	}
	rest := b[headerLen:]
	expect := func(n int) error {
		if len(rest) != n {
			return base.CorruptionErrorf("chunk: %s payload of %d rows is %d bytes, expected %d",
				c.codec, c.rows, len(rest), n)
		}
		return nil
	}
	var err error
	switch c.codec {
	case CodecConst:
		if err = expect(8); err == nil {
			c.f = math.Float64frombits(le.Uint64(rest))
		}
	case CodecConstInt:
		if err = expect(8); err == nil {
			c.i = int64(le.Uint64(rest))
		}
	case CodecU8Full, CodecU8:
		err = expect(c.rows)
	case CodecI16:
		err = expect(2 * c.rows)
	case CodecI32, CodecF32:
		err = expect(4 * c.rows)
	case CodecI64, CodecF64:
		err = expect(8 * c.rows)
	case CodecScaled8, CodecScaled16, CodecScaled32:
		if len(rest) < 9 {
			return nil, base.CorruptionErrorf("chunk: truncated %s header", c.codec)
		}
		c.bias = int64(le.Uint64(rest))
		c.exp = int8(rest[8])
		if int(c.exp) < -maxExp || int(c.exp) > maxExp {
			return nil, base.CorruptionErrorf("chunk: %s exponent %d out of range", c.codec, c.exp)
		}
		rest = rest[9:]
		err = expect(c.width() * c.rows)
	case CodecDictF64:
		if len(rest) < 2 {
			return nil, base.CorruptionErrorf("chunk: truncated %s header", c.codec)
		}
		n := int(le.Uint16(rest))
		if n > maxDictEntries || len(rest) < 2+8*n {
			return nil, base.CorruptionErrorf("chunk: invalid %s dictionary of %d entries", c.codec, n)
		}
		c.dict = rest[2 : 2+8*n]
		rest = rest[2+8*n:]
		if err = expect(c.rows); err == nil {
			for _, idx := range rest {
				if int(idx) >= n {
					return nil, base.CorruptionErrorf("chunk: %s index %d beyond %d entries", c.codec, idx, n)
				}
			}
		}
	case CodecBool1:
		err = expect((c.rows + 7) / 8)
	case CodecBool2:
		err = expect((c.rows + 3) / 4)
	case CodecSparseZero, CodecSparseNA:
		if len(rest) < 6 {
			return nil, base.CorruptionErrorf("chunk: truncated %s header", c.codec)
		}
		c.stored = int(le.Uint32(rest))
		c.idw = int(rest[4])
		c.kind = sparseKind(rest[5])
		rest = rest[6:]
		if c.stored > c.rows || (c.idw != 2 && c.idw != 4) || c.kind > sparseF64 {
			return nil, base.CorruptionErrorf("chunk: invalid %s header (stored=%d width=%d kind=%d)",
				c.codec, c.stored, c.idw, c.kind)
		}
		if c.kind == sparseConst {
			if len(rest) < 8 {
				return nil, base.CorruptionErrorf("chunk: truncated %s constant", c.codec)
			}
			c.f = math.Float64frombits(le.Uint64(rest))
			rest = rest[8:]
		}
		if err = expect(c.stored * (c.idw + c.kind.width())); err == nil {
			c.ids = rest[:c.stored*c.idw]
			c.vals = rest[c.stored*c.idw:]
		}
	case CodecUUID:
		err = expect(16 * c.rows)
	case CodecStr:
		if len(rest) < 4*c.rows {
			return nil, base.CorruptionErrorf("chunk: truncated %s offsets", c.codec)
		}
		c.heap = rest[4*c.rows:]
		rest = rest[:4*c.rows]
		for i := 0; i < c.rows; i++ {
			if off := le.Uint32(rest[4*i:]); off != naStr && int(off) >= len(c.heap) {
				return nil, base.CorruptionErrorf("chunk: %s offset %d beyond heap of %d bytes", c.codec, off, len(c.heap))
			}
		}
	default:
		return nil, base.CorruptionErrorf("chunk: unknown codec %d", c.codec)
	}
	if err != nil {
		return nil, err
	}
	c.payload = rest
	return c, nil
}

// mustDecode decodes bytes produced by this package.
func mustDecode(b []byte) *Chunk {
	c, err := Decode(b)
	if err != nil {
		panic(err)
	}
	c.owned = true
	return c
}

// Codec returns the chunk's encoding.
func (c *Chunk) Codec() Codec { return c.codec }

// Len returns the number of rows.
func (c *Chunk) Len() int { return c.rows }

// Bytes returns the serialized chunk.
func (c *Chunk) Bytes() []byte { return c.data }

// Size returns the serialized size in bytes.
func (c *Chunk) Size() int { return len(c.data) }

// Clone returns a copy of the chunk that owns its bytes and may be written in
// place.
func (c *Chunk) Clone() *Chunk {
	return mustDecode(append([]byte(nil), c.data...))
}

// IsNumeric returns false for UUID and string chunks.
func (c *Chunk) IsNumeric() bool { return c.codec != CodecUUID && c.codec != CodecStr }

// String implements fmt.Stringer.
func (c *Chunk) String() string {
	return redact.StringWithoutMarkers(c)
}

// SafeFormat implements redact.SafeFormatter.
func (c *Chunk) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Printf("%s rows=%d size=%d", c.codec, c.rows, len(c.data))
	switch c.codec {
	case CodecConst:
		w.Printf(" value=%v", c.f)
	case CodecConstInt:
		w.Printf(" value=%d", c.i)
	case CodecScaled8, CodecScaled16, CodecScaled32:
		w.Printf(" bias=%d exp=%d", c.bias, c.exp)
	case CodecDictF64:
		w.Printf(" entries=%d", len(c.dict)/8)
	case CodecSparseZero, CodecSparseNA:
		w.Printf(" stored=%d id-width=%d value-width=%d", c.stored, c.idw, c.kind.width())
	}
}

// width returns the per-row width of fixed-width codecs.
func (c *Chunk) width() int {
	switch c.codec {
	case CodecU8Full, CodecU8, CodecScaled8, CodecDictF64:
		return 1
	case CodecI16, CodecScaled16:
		return 2
	case CodecI32, CodecScaled32, CodecF32:
		return 4
	case CodecI64, CodecF64:
		return 8
	case CodecUUID:
		return 16
	}
	return 0
}

// Scale returns the bias and decimal exponent of scaled chunks.
func (c *Chunk) Scale() (bias int64, exp int) { return c.bias, int(c.exp) }

// Stored returns the number of explicitly stored rows of a sparse chunk, or
// the row count otherwise.
func (c *Chunk) Stored() int {
	if c.codec.IsSparse() {
		return c.stored
	}
	return c.rows
}

func (c *Chunk) sparseID(j int) int {
	if c.idw == 2 {
		return int(le.Uint16(c.ids[2*j:]))
	}
	return int(le.Uint32(c.ids[4*j:]))
}

// sparseFind returns the slot holding row i of a sparse chunk.
func (c *Chunk) sparseFind(i int) (int, bool) {
	j := sort.Search(c.stored, func(j int) bool { return c.sparseID(j) >= i })
	return j, j < c.stored && c.sparseID(j) == i
}

func (c *Chunk) sparseMissing(j int) bool {
	switch c.kind {
	case sparseConst:
		return math.IsNaN(c.f)
	case sparseI8:
		return int8(c.vals[j]) == math.MinInt8
	case sparseI16:
		return int16(le.Uint16(c.vals[2*j:])) == naI16
	case sparseI32:
		return int32(le.Uint32(c.vals[4*j:])) == naI32
	case sparseI64:
		return int64(le.Uint64(c.vals[8*j:])) == naI64
	case sparseF32:
		return math.IsNaN(float64(math.Float32frombits(le.Uint32(c.vals[4*j:]))))
	default:
		return math.IsNaN(math.Float64frombits(le.Uint64(c.vals[8*j:])))
	}
}

// sparseInt returns the integer stored in slot j of an integer sparse chunk.
func (c *Chunk) sparseInt(j int) int64 {
	switch c.kind {
	case sparseI8:
		return int64(int8(c.vals[j]))
	case sparseI16:
		return int64(int16(le.Uint16(c.vals[2*j:])))
	case sparseI32:
		return int64(int32(le.Uint32(c.vals[4*j:])))
	case sparseI64:
		return int64(le.Uint64(c.vals[8*j:]))
	}
	panic(errors.AssertionFailedf("chunk: sparse kind %d is not integral", c.kind))
}

func (c *Chunk) sparseFloat(j int) float64 {
	if c.sparseMissing(j) {
		return math.NaN()
	}
	switch c.kind {
	case sparseConst:
		return c.f
	case sparseF32:
		return float64(math.Float32frombits(le.Uint32(c.vals[4*j:])))
	case sparseF64:
		return math.Float64frombits(le.Uint64(c.vals[8*j:]))
	default:
		return float64(c.sparseInt(j))
	}
}

func (c *Chunk) dictAt(idx byte) float64 {
	return math.Float64frombits(le.Uint64(c.dict[8*int(idx):]))
}

func (c *Chunk) bool2(i int) byte {
	return (c.payload[i>>2] >> (2 * uint(i&3))) & 0b11
}

func (c *Chunk) uuidAt(i int) (lo, hi int64) {
	return int64(le.Uint64(c.payload[16*i:])), int64(le.Uint64(c.payload[16*i+8:]))
}

func (c *Chunk) strOffset(i int) uint32 {
	return le.Uint32(c.payload[4*i:])
}

// IsMissing returns true if row i is missing.
func (c *Chunk) IsMissing(i int) bool {
	invariants.CheckBounds(i, c.rows)
	switch c.codec {
	case CodecConst:
		return math.IsNaN(c.f)
	case CodecConstInt, CodecU8Full, CodecBool1:
		return false
	case CodecU8, CodecScaled8:
		return c.payload[i] == naU8
	case CodecI16, CodecScaled16:
		return int16(le.Uint16(c.payload[2*i:])) == naI16
	case CodecI32, CodecScaled32:
		return int32(le.Uint32(c.payload[4*i:])) == naI32
	case CodecI64:
		return int64(le.Uint64(c.payload[8*i:])) == naI64
	case CodecF32:
		return math.IsNaN(float64(math.Float32frombits(le.Uint32(c.payload[4*i:]))))
	case CodecF64:
		return math.IsNaN(math.Float64frombits(le.Uint64(c.payload[8*i:])))
	case CodecDictF64:
		return math.IsNaN(c.dictAt(c.payload[i]))
	case CodecBool2:
		return c.bool2(i) == bool2Missing
	case CodecSparseZero:
		j, ok := c.sparseFind(i)
		return ok && c.sparseMissing(j)
	case CodecSparseNA:
		j, ok := c.sparseFind(i)
		return !ok || c.sparseMissing(j)
	case CodecUUID:
		lo, hi := c.uuidAt(i)
		return lo == naUUIDl && hi == naUUIDh
	case CodecStr:
		return c.strOffset(i) == naStr
	}
	panic(errors.AssertionFailedf("chunk: unknown codec %d", c.codec))
}

// At returns row i as a float64, or NaN if the row is missing. It panics on
// non-missing rows of UUID and string chunks.
func (c *Chunk) At(i int) float64 {
	invariants.CheckBounds(i, c.rows)
	switch c.codec {
	case CodecConst:
		return c.f
	case CodecConstInt:
		return float64(c.i)
	case CodecU8Full:
		return float64(c.payload[i])
	case CodecU8:
		if b := c.payload[i]; b != naU8 {
			return float64(b)
		}
	case CodecI16:
		if v := int16(le.Uint16(c.payload[2*i:])); v != naI16 {
			return float64(v)
		}
	case CodecI32:
		if v := int32(le.Uint32(c.payload[4*i:])); v != naI32 {
			return float64(v)
		}
	case CodecI64:
		if v := int64(le.Uint64(c.payload[8*i:])); v != naI64 {
			return float64(v)
		}
	case CodecScaled8:
		if b := c.payload[i]; b != naU8 {
			return scale(int64(b)+c.bias, c.exp)
		}
	case CodecScaled16:
		if v := int16(le.Uint16(c.payload[2*i:])); v != naI16 {
			return scale(int64(v)+c.bias, c.exp)
		}
	case CodecScaled32:
		if v := int32(le.Uint32(c.payload[4*i:])); v != naI32 {
			return scale(int64(v)+c.bias, c.exp)
		}
	case CodecF32:
		return float64(math.Float32frombits(le.Uint32(c.payload[4*i:])))
	case CodecF64:
		return math.Float64frombits(le.Uint64(c.payload[8*i:]))
	case CodecDictF64:
		return c.dictAt(c.payload[i])
	case CodecBool1:
		return float64((c.payload[i>>3] >> uint(i&7)) & 1)
	case CodecBool2:
		switch c.bool2(i) {
		case bool2False:
			return 0
		case bool2True:
			return 1
		}
	case CodecSparseZero:
		if j, ok := c.sparseFind(i); ok {
			return c.sparseFloat(j)
		}
		return 0
	case CodecSparseNA:
		if j, ok := c.sparseFind(i); ok {
			return c.sparseFloat(j)
		}
	case CodecUUID, CodecStr:
		if !c.IsMissing(i) {
			panic(errors.AssertionFailedf("chunk: %s row %d has no numeric value", c.codec, i))
		}
	default:
		panic(errors.AssertionFailedf("chunk: unknown codec %d", c.codec))
	}
	return math.NaN()
}

// AtInt returns row i as an int64. It panics with an error marked
// base.ErrMissingValue if the row is missing, and with an assertion failure if
// the row holds a non-integral value.
func (c *Chunk) AtInt(i int) int64 {
	if c.IsMissing(i) {
		panic(base.MissingValueError("chunk: row %d is missing", i))
	}
	switch c.codec {
	case CodecConstInt:
		return c.i
	case CodecU8Full, CodecU8:
		return int64(c.payload[i])
	case CodecI16:
		return int64(int16(le.Uint16(c.payload[2*i:])))
	case CodecI32:
		return int64(int32(le.Uint32(c.payload[4*i:])))
	case CodecI64:
		return int64(le.Uint64(c.payload[8*i:]))
	case CodecScaled8, CodecScaled16, CodecScaled32:
		if c.exp == 0 {
			return c.rawScaled(i) + c.bias
		}
	case CodecSparseZero, CodecSparseNA:
		j, ok := c.sparseFind(i)
		if !ok {
			return 0
		}
		if !c.kind.isFloat() && c.kind != sparseConst {
			return c.sparseInt(j)
		}
	}
	f := c.At(i)
	if f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
		panic(errors.AssertionFailedf("chunk: row %d holds non-integral value %v", i, f))
	}
	return int64(f)
}

// rawScaled returns the stored mantissa of row i of a scaled chunk.
func (c *Chunk) rawScaled(i int) int64 {
	switch c.codec {
	case CodecScaled8:
		return int64(c.payload[i])
	case CodecScaled16:
		return int64(int16(le.Uint16(c.payload[2*i:])))
	default:
		return int64(int32(le.Uint32(c.payload[4*i:])))
	}
}

// AtUUID returns row i of a UUID chunk as its low and high halves. It panics
// with an error marked base.ErrMissingValue if the row is missing.
func (c *Chunk) AtUUID(i int) (lo, hi int64) {
	if c.IsMissing(i) {
		panic(base.MissingValueError("chunk: row %d is missing", i))
	}
	if c.codec != CodecUUID {
		panic(errors.AssertionFailedf("chunk: %s chunk has no UUID values", c.codec))
	}
	return c.uuidAt(i)
}

// AtString returns row i of a string chunk. It panics with an error marked
// base.ErrMissingValue if the row is missing.
func (c *Chunk) AtString(i int) string {
	if c.IsMissing(i) {
		panic(base.MissingValueError("chunk: row %d is missing", i))
	}
	if c.codec != CodecStr {
		panic(errors.AssertionFailedf("chunk: %s chunk has no string values", c.codec))
	}
	return string(c.strBytes(c.strOffset(i)))
}

func (c *Chunk) strBytes(off uint32) []byte {
	n, w := binary.Uvarint(c.heap[off:])
	if w <= 0 || int(off)+w+int(n) > len(c.heap) {
		panic(base.CorruptionErrorf("chunk: invalid string at heap offset %d", off))
	}
	start := int(off) + w
	return c.heap[start : start+int(n)]
}

// AllMissing returns true if every row is missing.
func (c *Chunk) AllMissing() bool {
	switch c.codec {
	case CodecConst:
		return math.IsNaN(c.f) || c.rows == 0
	case CodecSparseNA:
		return c.stored == 0
	}
	for i := 0; i < c.rows; i++ {
		if !c.IsMissing(i) {
			return false
		}
	}
	return true
}
