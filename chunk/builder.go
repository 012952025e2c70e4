// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package chunk

import (
	"math"
	"math/bits"
	"sort"

	"github.com/cockroachdb/colvec/internal/base"
	"github.com/cockroachdb/errors"
	"golang.org/x/exp/constraints"
)

// DefaultSparseRatio is the default Config.SparseRatio.
const DefaultSparseRatio = 32

// minSparseSlots is the number of values a builder holds sparsely before it
// considers densifying.
const minSparseSlots = 16

// Config parameterizes codec selection.
type Config struct {
	// SparseRatio selects sparse encodings: a chunk is encoded sparse when the
	// number of rows differing from the sparse default, multiplied by
	// SparseRatio, is below the row count. Defaults to DefaultSparseRatio.
	SparseRatio int
	// OnFreeze, if set, is called with every chunk produced by Freeze.
	OnFreeze func(*Chunk)
}

func (c Config) sparseRatio() int {
	if c.SparseRatio <= 0 {
		return DefaultSparseRatio
	}
	return c.SparseRatio
}

type valueKind uint8

const (
	kindUnset valueKind = iota
	kindNumeric
	kindUUID
	kindString
)

// Builder accumulates the values of one chunk. It is append-only except for
// the Set methods, which overwrite existing rows when a frozen chunk is being
// rebuilt. Freeze selects the cheapest encoding that reproduces every value
// exactly; the builder cannot be used afterwards.
//
// Numeric values are held in one of several backings: integers (with a
// missing bitmap) while every value is an exact integer, float64s (NaN for
// missing) once a non-integral value arrives, and, while most rows are zero,
// a sparse list of the rows holding a value. Until a numeric, UUID or string
// value arrives, missing rows are held as numeric.
type Builder struct {
	cfg  Config
	kind valueKind
	rows int
	// ids lists the row of each slot while the builder is sparse; rows without
	// a slot are zero. nil once dense.
	ids     []int32
	ints    []int64
	na      bitmap
	floats  []float64
	isFloat bool
	uuids   [][2]int64
	strs    []string
	strNA   bitmap
	frozen  bool
}

// NewBuilder returns an empty builder.
func NewBuilder(cfg Config) *Builder {
	return &Builder{cfg: cfg, ids: []int32{}}
}

// Len returns the number of rows appended so far.
func (b *Builder) Len() int { return b.rows }

func (b *Builder) checkNotFrozen() {
	if b.frozen {
		panic(errors.AssertionFailedf("chunk: use of frozen builder"))
	}
}

// setKind fixes the kind of values held by the builder. Rows appended while
// the kind was unset are all missing.
func (b *Builder) setKind(k valueKind) {
	if b.kind == k {
		return
	}
	if b.kind != kindUnset {
		panic(errors.AssertionFailedf("chunk: mixing value kinds %d and %d in one chunk", b.kind, k))
	}
	b.kind = k
	switch k {
	case kindUUID:
		for i := 0; i < b.rows; i++ {
			b.uuids = append(b.uuids, [2]int64{naUUIDl, naUUIDh})
		}
	case kindString:
		b.strs = make([]string, b.rows)
		b.strNA = newBitmap(b.rows)
		for i := 0; i < b.rows; i++ {
			b.strNA.set(i)
		}
	default:
		return
	}
	b.ids, b.ints, b.na, b.floats = nil, nil, nil, nil
}

// slots returns the number of stored numeric values.
func (b *Builder) slots() int {
	if b.isFloat {
		return len(b.floats)
	}
	return len(b.ints)
}

// push appends a numeric slot for the next row.
func (b *Builder) push(v int64, f float64, isInt, missing bool) {
	if b.ids != nil {
		b.ids = append(b.ids, int32(b.rows))
	}
	if !isInt && !missing && !b.isFloat {
		b.toFloats()
	}
	if b.isFloat {
		if missing {
			f = math.NaN()
		} else if isInt {
			f = float64(v)
		}
		b.floats = append(b.floats, f)
	} else {
		if missing {
			b.na.grow(len(b.ints) + 1)
			b.na.set(len(b.ints))
			v = 0
		}
		b.ints = append(b.ints, v)
	}
	b.rows++
	// Leave the sparse representation once it stops paying for itself.
	if b.ids != nil && len(b.ids) > minSparseSlots && 2*len(b.ids) > b.rows {
		b.densify()
	}
}

// toFloats switches the numeric backing to float64s.
func (b *Builder) toFloats() {
	b.floats = make([]float64, len(b.ints), max(len(b.ints), 16))
	for i, v := range b.ints {
		if b.na.get(i) {
			b.floats[i] = math.NaN()
		} else {
			b.floats[i] = float64(v)
		}
	}
	b.ints, b.na, b.isFloat = nil, nil, true
}

// densify materializes the zero rows of a sparse builder.
func (b *Builder) densify() {
	if b.ids == nil {
		return
	}
	if b.isFloat {
		floats := make([]float64, b.rows)
		for j, id := range b.ids {
			floats[id] = b.floats[j]
		}
		b.floats = floats
	} else {
		ints := make([]int64, b.rows)
		na := newBitmap(b.rows)
		for j, id := range b.ids {
			ints[id] = b.ints[j]
			if b.na.get(j) {
				na.set(int(id))
			}
		}
		b.ints, b.na = ints, na
	}
	b.ids = nil
}

// slot returns the slot holding row i, or false if the builder is sparse and
// row i is an implicit zero.
func (b *Builder) slot(i int) (int, bool) {
	if b.ids == nil {
		return i, true
	}
	j := sort.Search(len(b.ids), func(j int) bool { return int(b.ids[j]) >= i })
	return j, j < len(b.ids) && int(b.ids[j]) == i
}

// value returns the numeric value in slot j.
func (b *Builder) value(j int) (v int64, f float64, isInt, missing bool) {
	if b.isFloat {
		f = b.floats[j]
		if math.IsNaN(f) {
			return 0, f, false, true
		}
		v, isInt = exactInt(f)
		return v, f, isInt, false
	}
	if b.na.get(j) {
		return 0, math.NaN(), false, true
	}
	v = b.ints[j]
	return v, float64(v), true, false
}

// AddInt appends an integer.
func (b *Builder) AddInt(v int64) {
	b.checkNotFrozen()
	b.setKind(kindNumeric)
	if v == 0 && b.ids != nil {
		b.rows++
		return
	}
	b.push(v, 0, true, false)
}

// AddFloat appends a float. NaN appends a missing row.
func (b *Builder) AddFloat(f float64) {
	if math.IsNaN(f) {
		b.AddMissing()
		return
	}
	if v, ok := exactInt(f); ok {
		b.AddInt(v)
		return
	}
	b.checkNotFrozen()
	b.setKind(kindNumeric)
	b.push(0, f, false, false)
}

// AddDecimal appends mantissa×10^exp.
func (b *Builder) AddDecimal(mantissa int64, exp int) {
	if exp == 0 {
		b.AddInt(mantissa)
		return
	}
	if exp > 0 && exp <= maxExp {
		if hi, lo := bits.Mul64(uint64(abs(mantissa)), uint64(pow10[exp])); hi == 0 && lo <= math.MaxInt64 {
			b.AddInt(mantissa * int64(pow10[exp]))
			return
		}
	}
	if exp < -maxExp || exp > maxExp {
		b.AddFloat(float64(mantissa) * math.Pow10(exp))
		return
	}
	b.AddFloat(scale(mantissa, int8(exp)))
}

// AddMissing appends a missing row.
func (b *Builder) AddMissing() {
	b.checkNotFrozen()
	switch b.kind {
	case kindUUID:
		b.uuids = append(b.uuids, [2]int64{naUUIDl, naUUIDh})
		b.rows++
	case kindString:
		b.strs = append(b.strs, "")
		b.strNA.grow(b.rows + 1)
		b.strNA.set(b.rows)
		b.rows++
	default:
		b.push(0, 0, false, true)
	}
}

// AddMissings appends n missing rows.
func (b *Builder) AddMissings(n int) {
	for i := 0; i < n; i++ {
		b.AddMissing()
	}
}

// AddZeros appends n zero rows.
func (b *Builder) AddZeros(n int) {
	b.checkNotFrozen()
	b.setKind(kindNumeric)
	if b.ids != nil {
		b.rows += n
		return
	}
	for i := 0; i < n; i++ {
		b.push(0, 0, true, false)
	}
}

// AddUUID appends a UUID given as its low and high halves.
func (b *Builder) AddUUID(lo, hi int64) {
	b.checkNotFrozen()
	b.setKind(kindUUID)
	b.uuids = append(b.uuids, [2]int64{lo, hi})
	b.rows++
}

// AddString appends a string.
func (b *Builder) AddString(s string) {
	b.checkNotFrozen()
	b.setKind(kindString)
	b.strs = append(b.strs, s)
	b.strNA.grow(b.rows + 1)
	b.rows++
}

func (b *Builder) checkRow(i int) {
	if i < 0 || i >= b.rows {
		panic(base.OutOfRangeError(int64(i), int64(b.rows), "row"))
	}
}

// SetInt overwrites row i.
func (b *Builder) SetInt(i int, v int64) {
	b.checkNotFrozen()
	b.checkRow(i)
	b.setKind(kindNumeric)
	b.set(i, v, 0, true, false)
}

// SetFloat overwrites row i. NaN marks the row missing.
func (b *Builder) SetFloat(i int, f float64) {
	b.checkNotFrozen()
	b.checkRow(i)
	if math.IsNaN(f) {
		b.SetMissing(i)
		return
	}
	b.setKind(kindNumeric)
	if v, ok := exactInt(f); ok {
		b.set(i, v, f, true, false)
		return
	}
	b.set(i, 0, f, false, false)
}

// SetMissing marks row i missing.
func (b *Builder) SetMissing(i int) {
	b.checkNotFrozen()
	b.checkRow(i)
	switch b.kind {
	case kindUUID:
		b.uuids[i] = [2]int64{naUUIDl, naUUIDh}
	case kindString:
		b.strs[i] = ""
		b.strNA.set(i)
	default:
		b.set(i, 0, 0, false, true)
	}
}

func (b *Builder) set(i int, v int64, f float64, isInt, missing bool) {
	j, ok := b.slot(i)
	if !ok {
		if isInt && v == 0 {
			return
		}
		b.densify()
		j = i
	}
	if !isInt && !missing && !b.isFloat {
		b.toFloats()
	}
	if b.isFloat {
		switch {
		case missing:
			f = math.NaN()
		case isInt:
			f = float64(v)
		}
		b.floats[j] = f
		return
	}
	if missing {
		b.na.grow(j + 1)
		b.na.set(j)
		b.ints[j] = 0
		return
	}
	b.na.clear(j)
	b.ints[j] = v
}

// SetUUID overwrites row i of a UUID builder.
func (b *Builder) SetUUID(i int, lo, hi int64) {
	b.checkNotFrozen()
	b.checkRow(i)
	b.setKind(kindUUID)
	b.uuids[i] = [2]int64{lo, hi}
}

// SetString overwrites row i of a string builder.
func (b *Builder) SetString(i int, s string) {
	b.checkNotFrozen()
	b.checkRow(i)
	b.setKind(kindString)
	b.strs[i] = s
	b.strNA.clear(i)
}

// At returns row i as a float64, NaN if missing.
func (b *Builder) At(i int) float64 {
	b.checkRow(i)
	if b.kind == kindUUID || b.kind == kindString {
		panic(errors.AssertionFailedf("chunk: builder holds non-numeric values"))
	}
	j, ok := b.slot(i)
	if !ok {
		return 0
	}
	_, f, _, _ := b.value(j)
	return f
}

// IsMissing returns true if row i is missing.
func (b *Builder) IsMissing(i int) bool {
	b.checkRow(i)
	switch b.kind {
	case kindUUID:
		return b.uuids[i] == [2]int64{naUUIDl, naUUIDh}
	case kindString:
		return b.strNA.get(i)
	}
	j, ok := b.slot(i)
	if !ok {
		return false
	}
	_, _, _, missing := b.value(j)
	return missing
}

// Freeze encodes the accumulated values. It may be called once; later calls
// return base.ErrFrozen.
func (b *Builder) Freeze() (*Chunk, error) {
	if b.frozen {
		return nil, base.ErrFrozen
	}
	b.frozen = true
	var c *Chunk
	switch b.kind {
	case kindUUID:
		c = b.freezeUUID()
	case kindString:
		c = b.freezeString()
	default:
		c = b.freezeNumeric()
	}
	if c.rows != b.rows {
		panic(errors.AssertionFailedf("chunk: froze %d rows into a chunk of %d", b.rows, c.rows))
	}
	b.ids, b.ints, b.na, b.floats, b.uuids, b.strs, b.strNA = nil, nil, nil, nil, nil, nil, nil
	if b.cfg.OnFreeze != nil {
		b.cfg.OnFreeze(c)
	}
	return c, nil
}

// Inflate returns a builder seeded with the chunk's rows.
func (c *Chunk) Inflate(cfg Config) *Builder {
	b := NewBuilder(cfg)
	switch c.codec {
	case CodecUUID:
		b.setKind(kindUUID)
		for i := 0; i < c.rows; i++ {
			lo, hi := c.uuidAt(i)
			b.AddUUID(lo, hi)
		}
		return b
	case CodecStr:
		b.setKind(kindString)
		for i := 0; i < c.rows; i++ {
			if c.IsMissing(i) {
				b.AddMissing()
			} else {
				b.AddString(c.AtString(i))
			}
		}
		return b
	case CodecSparseZero, CodecSparseNA:
		next := 0
		for j := 0; j < c.stored; j++ {
			id := c.sparseID(j)
			if gap := id - next; gap > 0 {
				if c.codec == CodecSparseZero {
					b.AddZeros(gap)
				} else {
					b.AddMissings(gap)
				}
			}
			c.addRow(b, id)
			next = id + 1
		}
		if gap := c.rows - next; gap > 0 {
			if c.codec == CodecSparseZero {
				b.AddZeros(gap)
			} else {
				b.AddMissings(gap)
			}
		}
		return b
	}
	for i := 0; i < c.rows; i++ {
		c.addRow(b, i)
	}
	return b
}

func (c *Chunk) addRow(b *Builder, i int) {
	switch {
	case c.IsMissing(i):
		b.AddMissing()
	default:
		if v, ok := c.intAt(i); ok {
			b.AddInt(v)
		} else {
			b.AddFloat(c.At(i))
		}
	}
}

// intAt returns row i as an int64 if it holds an exact integer.
func (c *Chunk) intAt(i int) (int64, bool) {
	if c.IsMissing(i) {
		return 0, false
	}
	switch c.codec {
	case CodecConstInt, CodecU8Full, CodecU8, CodecI16, CodecI32, CodecI64, CodecBool1, CodecBool2:
		return c.AtInt(i), true
	case CodecScaled8, CodecScaled16, CodecScaled32:
		if c.exp == 0 {
			return c.rawScaled(i) + c.bias, true
		}
	case CodecSparseZero, CodecSparseNA:
		if j, ok := c.sparseFind(i); !ok {
			return 0, true
		} else if !c.kind.isFloat() && c.kind != sparseConst {
			return c.sparseInt(j), true
		}
	}
	return exactInt(c.At(i))
}

func abs[T constraints.Signed](v T) T {
	if v < 0 {
		return -v
	}
	return v
}

// bitmap is a growable bitset.
type bitmap []uint64

func newBitmap(n int) bitmap { return make(bitmap, (n+63)/64) }

func (m *bitmap) grow(n int) {
	for len(*m)*64 < n {
		*m = append(*m, 0)
	}
}

func (m bitmap) get(i int) bool {
	return i>>6 < len(m) && m[i>>6]&(1<<uint(i&63)) != 0
}

func (m bitmap) set(i int) { m[i>>6] |= 1 << uint(i&63) }

func (m bitmap) clear(i int) {
	if i>>6 < len(m) {
		m[i>>6] &^= 1 << uint(i&63)
	}
}
