// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package chunk

import (
	"math"

	"github.com/cockroachdb/errors"
)

// In-place writes. Each returns false, leaving the chunk unchanged, when the
// codec cannot represent the value at that row; the caller is expected to
// inflate the chunk into a Builder and retry there (see Writer).

func (c *Chunk) checkOwned() {
	if !c.owned {
		panic(errors.AssertionFailedf("chunk: in-place write to a shared chunk"))
	}
}

// TrySet stores f at row i. NaN is treated as missing.
func (c *Chunk) TrySet(i int, f float64) bool {
	if math.IsNaN(f) {
		return c.TrySetMissing(i)
	}
	c.checkOwned()
	switch c.codec {
	case CodecConst:
		return math.Float64bits(c.f) == math.Float64bits(f)
	case CodecConstInt:
		v, ok := exactInt(f)
		return ok && v == c.i
	case CodecF32:
		if float64(float32(f)) != f {
			return false
		}
		le.PutUint32(c.payload[4*i:], math.Float32bits(float32(f)))
		return true
	case CodecF64:
		le.PutUint64(c.payload[8*i:], math.Float64bits(f))
		return true
	case CodecDictF64:
		for j := 0; j < len(c.dict)/8; j++ {
			if math.Float64bits(c.dictAt(byte(j))) == math.Float64bits(f) {
				c.payload[i] = byte(j)
				return true
			}
		}
		return false
	case CodecScaled8, CodecScaled16, CodecScaled32:
		return c.trySetScaled(i, f)
	case CodecSparseZero, CodecSparseNA:
		return c.trySetSparse(i, f)
	case CodecUUID, CodecStr:
		return false
	}
	v, ok := exactInt(f)
	return ok && c.TrySetInt(i, v)
}

// TrySetInt stores v at row i.
func (c *Chunk) TrySetInt(i int, v int64) bool {
	c.checkOwned()
	switch c.codec {
	case CodecConst:
		return c.f == float64(v) && int64(c.f) == v
	case CodecConstInt:
		return c.i == v
	case CodecU8Full:
		if v < 0 || v > math.MaxUint8 {
			return false
		}
		c.payload[i] = byte(v)
		return true
	case CodecU8:
		if v < 0 || v >= naU8 {
			return false
		}
		c.payload[i] = byte(v)
		return true
	case CodecI16:
		if !fitsSigned[int16](v) {
			return false
		}
		le.PutUint16(c.payload[2*i:], uint16(int16(v)))
		return true
	case CodecI32:
		if !fitsSigned[int32](v) {
			return false
		}
		le.PutUint32(c.payload[4*i:], uint32(int32(v)))
		return true
	case CodecI64:
		if !fitsSigned[int64](v) {
			return false
		}
		le.PutUint64(c.payload[8*i:], uint64(v))
		return true
	case CodecBool1:
		if v != 0 && v != 1 {
			return false
		}
		c.payload[i>>3] = c.payload[i>>3]&^(1<<uint(i&7)) | byte(v)<<uint(i&7)
		return true
	case CodecBool2:
		if v != 0 && v != 1 {
			return false
		}
		c.setBool2(i, byte(v))
		return true
	case CodecScaled8, CodecScaled16, CodecScaled32:
		if c.exp == 0 {
			return c.trySetMantissa(i, v-c.bias)
		}
	case CodecSparseZero, CodecSparseNA:
		if !c.kind.isFloat() && c.kind != sparseConst {
			return c.trySetSparseInt(i, v)
		}
	case CodecUUID, CodecStr:
		return false
	}
	f := float64(v)
	if f >= math.MaxInt64 || int64(f) != v {
		return false
	}
	return c.TrySet(i, f)
}

// TrySetMissing marks row i missing.
func (c *Chunk) TrySetMissing(i int) bool {
	c.checkOwned()
	switch c.codec {
	case CodecConst:
		return math.IsNaN(c.f)
	case CodecConstInt, CodecU8Full, CodecBool1:
		return false
	case CodecU8, CodecScaled8:
		c.payload[i] = naU8
	case CodecI16, CodecScaled16:
		le.PutUint16(c.payload[2*i:], naI16Bits)
	case CodecI32, CodecScaled32:
		le.PutUint32(c.payload[4*i:], naI32Bits)
	case CodecI64:
		le.PutUint64(c.payload[8*i:], naI64Bits)
	case CodecF32:
		le.PutUint32(c.payload[4*i:], math.Float32bits(float32(math.NaN())))
	case CodecF64:
		le.PutUint64(c.payload[8*i:], math.Float64bits(math.NaN()))
	case CodecDictF64:
		for j := 0; j < len(c.dict)/8; j++ {
			if math.IsNaN(c.dictAt(byte(j))) {
				c.payload[i] = byte(j)
				return true
			}
		}
		return false
	case CodecBool2:
		c.setBool2(i, bool2Missing)
	case CodecSparseZero:
		j, ok := c.sparseFind(i)
		if !ok {
			return false
		}
		return c.setSparseMissing(j)
	case CodecSparseNA:
		j, ok := c.sparseFind(i)
		if !ok {
			return true
		}
		return c.setSparseMissing(j)
	case CodecUUID:
		c.putUUID(i, naUUIDl, naUUIDh)
	case CodecStr:
		le.PutUint32(c.payload[4*i:], naStr)
	default:
		panic(errors.AssertionFailedf("chunk: unknown codec %d", c.codec))
	}
	return true
}

// TrySetUUID stores a UUID at row i of a UUID chunk.
func (c *Chunk) TrySetUUID(i int, lo, hi int64) bool {
	c.checkOwned()
	if c.codec != CodecUUID {
		return false
	}
	c.putUUID(i, lo, hi)
	return true
}

// TrySetString stores s at row i of a string chunk. The heap cannot grow in
// place, so this only succeeds when the row already holds s.
func (c *Chunk) TrySetString(i int, s string) bool {
	c.checkOwned()
	if c.codec != CodecStr || c.IsMissing(i) {
		return false
	}
	return string(c.strBytes(c.strOffset(i))) == s
}

func (c *Chunk) putUUID(i int, lo, hi int64) {
	le.PutUint64(c.payload[16*i:], uint64(lo))
	le.PutUint64(c.payload[16*i+8:], uint64(hi))
}

func (c *Chunk) setBool2(i int, bits byte) {
	shift := 2 * uint(i&3)
	c.payload[i>>2] = c.payload[i>>2]&^(0b11<<shift) | bits<<shift
}

func (c *Chunk) trySetScaled(i int, f float64) bool {
	m := f
	if c.exp < 0 {
		m = f * pow10[-c.exp]
	} else if c.exp > 0 {
		m = f / pow10[c.exp]
	}
	m = math.Round(m)
	if m < math.MinInt64/2 || m > math.MaxInt64/2 {
		return false
	}
	mant := int64(m) - c.bias
	if math.Float64bits(scale(mant+c.bias, c.exp)) != math.Float64bits(f) {
		return false
	}
	return c.trySetMantissa(i, mant)
}

// trySetMantissa stores the biased mantissa s at row i of a scaled chunk.
func (c *Chunk) trySetMantissa(i int, s int64) bool {
	switch c.codec {
	case CodecScaled8:
		if s < 0 || s >= naU8 {
			return false
		}
		c.payload[i] = byte(s)
	case CodecScaled16:
		if !fitsSigned[int16](s) {
			return false
		}
		le.PutUint16(c.payload[2*i:], uint16(int16(s)))
	default:
		if !fitsSigned[int32](s) {
			return false
		}
		le.PutUint32(c.payload[4*i:], uint32(int32(s)))
	}
	return true
}

// trySetSparse overwrites a stored row. Rows that are not stored can only be
// set to the chunk's default.
func (c *Chunk) trySetSparse(i int, f float64) bool {
	j, ok := c.sparseFind(i)
	if !ok {
		return c.codec == CodecSparseZero && f == 0 && !isNegZero(f)
	}
	switch c.kind {
	case sparseConst:
		return math.Float64bits(c.f) == math.Float64bits(f)
	case sparseF32:
		if float64(float32(f)) != f {
			return false
		}
		le.PutUint32(c.vals[4*j:], math.Float32bits(float32(f)))
		return true
	case sparseF64:
		le.PutUint64(c.vals[8*j:], math.Float64bits(f))
		return true
	}
	v, ok := exactInt(f)
	return ok && c.putSparseInt(j, v)
}

func (c *Chunk) trySetSparseInt(i int, v int64) bool {
	j, ok := c.sparseFind(i)
	if !ok {
		return c.codec == CodecSparseZero && v == 0
	}
	return c.putSparseInt(j, v)
}

func (c *Chunk) putSparseInt(j int, v int64) bool {
	switch c.kind {
	case sparseI8:
		if !fitsSigned[int8](v) {
			return false
		}
		c.vals[j] = byte(int8(v))
	case sparseI16:
		if !fitsSigned[int16](v) {
			return false
		}
		le.PutUint16(c.vals[2*j:], uint16(int16(v)))
	case sparseI32:
		if !fitsSigned[int32](v) {
			return false
		}
		le.PutUint32(c.vals[4*j:], uint32(int32(v)))
	case sparseI64:
		if !fitsSigned[int64](v) {
			return false
		}
		le.PutUint64(c.vals[8*j:], uint64(v))
	default:
		return false
	}
	return true
}

func (c *Chunk) setSparseMissing(j int) bool {
	switch c.kind {
	case sparseConst:
		return math.IsNaN(c.f)
	case sparseI8:
		c.vals[j] = naI8Bits
	case sparseI16:
		le.PutUint16(c.vals[2*j:], naI16Bits)
	case sparseI32:
		le.PutUint32(c.vals[4*j:], naI32Bits)
	case sparseI64:
		le.PutUint64(c.vals[8*j:], naI64Bits)
	case sparseF32:
		le.PutUint32(c.vals[4*j:], math.Float32bits(float32(math.NaN())))
	case sparseF64:
		le.PutUint64(c.vals[8*j:], math.Float64bits(math.NaN()))
	}
	return true
}

// exactInt returns f as an int64 if the conversion is exact.
func exactInt(f float64) (int64, bool) {
	if f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 || isNegZero(f) {
		return 0, false
	}
	return int64(f), true
}

func isNegZero(f float64) bool { return f == 0 && math.Signbit(f) }
