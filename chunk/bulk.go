// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package chunk

import (
	"math"

	"github.com/cockroachdb/colvec/internal/invariants"
	"github.com/cockroachdb/errors"
)

// Floats appends rows [from, to) to dst as float64s, with NaN for missing
// rows, and returns the extended slice.
func (c *Chunk) Floats(dst []float64, from, to int) []float64 {
	if from < 0 || to > c.rows || from > to {
		panic(errors.AssertionFailedf("chunk: range [%d, %d) out of bounds [0, %d)", from, to, c.rows))
	}
	switch c.codec {
	case CodecConst:
		for i := from; i < to; i++ {
			dst = append(dst, c.f)
		}
	case CodecU8Full:
		for _, b := range c.payload[from:to] {
			dst = append(dst, float64(b))
		}
	case CodecU8:
		for _, b := range c.payload[from:to] {
			if b == naU8 {
				dst = append(dst, math.NaN())
			} else {
				dst = append(dst, float64(b))
			}
		}
	case CodecF64:
		for i := from; i < to; i++ {
			dst = append(dst, math.Float64frombits(le.Uint64(c.payload[8*i:])))
		}
	case CodecSparseZero, CodecSparseNA:
		def := 0.0
		if c.codec == CodecSparseNA {
			def = math.NaN()
		}
		j, _ := c.sparseFind(from)
		for i := from; i < to; i++ {
			if j < c.stored && c.sparseID(j) == i {
				dst = append(dst, c.sparseFloat(j))
				j++
			} else {
				dst = append(dst, def)
			}
		}
	default:
		for i := from; i < to; i++ {
			dst = append(dst, c.At(i))
		}
	}
	return dst
}

// Gather appends the given rows to dst as float64s.
func (c *Chunk) Gather(dst []float64, rows []int) []float64 {
	for _, i := range rows {
		dst = append(dst, c.At(i))
	}
	return dst
}

// Ints appends rows [from, to) to dst as int64s. It panics like AtInt if any
// row is missing or non-integral.
func (c *Chunk) Ints(dst []int64, from, to int) []int64 {
	switch c.codec {
	case CodecU8Full:
		for _, b := range c.payload[from:to] {
			dst = append(dst, int64(b))
		}
	case CodecI64:
		for i := from; i < to; i++ {
			v := int64(le.Uint64(c.payload[8*i:]))
			if v == naI64 {
				c.AtInt(i)
			}
			dst = append(dst, v)
		}
	default:
		for i := from; i < to; i++ {
			dst = append(dst, c.AtInt(i))
		}
	}
	return dst
}

// SparseFloats appends the rows that are nonzero or missing to ids and their
// values (NaN when missing) to vals. Sparse chunks visit only their stored
// rows.
func (c *Chunk) SparseFloats(vals []float64, ids []int) ([]float64, []int) {
	switch c.codec {
	case CodecSparseZero:
		for j := 0; j < c.stored; j++ {
			if f := c.sparseFloat(j); f != 0 {
				vals = append(vals, f)
				ids = append(ids, c.sparseID(j))
			}
		}
		return vals, ids
	case CodecSparseNA:
		// Every absent row is missing.
		j := 0
		for i := 0; i < c.rows; i++ {
			if j < c.stored && c.sparseID(j) == i {
				if f := c.sparseFloat(j); f != 0 {
					vals = append(vals, f)
					ids = append(ids, i)
				}
				j++
				continue
			}
			vals = append(vals, math.NaN())
			ids = append(ids, i)
		}
		return vals, ids
	}
	for i := 0; i < c.rows; i++ {
		if f := c.At(i); f != 0 {
			vals = append(vals, f)
			ids = append(ids, i)
		}
	}
	return vals, ids
}

// NextNonZero returns the first row after i that is nonzero or missing, or
// Len() if there is none. Pass -1 to start from the first row.
func (c *Chunk) NextNonZero(i int) int {
	if invariants.Enabled && i < -1 {
		panic(errors.AssertionFailedf("chunk: invalid row %d", i))
	}
	if c.codec == CodecSparseZero {
		for j, _ := c.sparseFind(i + 1); j < c.stored; j++ {
			if c.sparseFloat(j) != 0 {
				return c.sparseID(j)
			}
		}
		return c.rows
	}
	for i++; i < c.rows; i++ {
		if c.At(i) != 0 {
			return i
		}
	}
	return c.rows
}
