// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package chunk

import (
	"bytes"
	"encoding/binary"
	"math"
	"math/bits"
	"strconv"

	"github.com/cockroachdb/swiss"
)

// Codec selection. freezeNumeric classifies the accumulated values once and
// then tries encodings in increasing order of cost. Every candidate is
// verified against the accumulated values before it is accepted, so a
// candidate whose cheap precheck passes but which cannot reproduce a value
// exactly falls through to the next.

// summary is the single-pass classification of a numeric builder.
type summary struct {
	rows    int
	missing int
	// nonzero counts present rows that are not +0.
	nonzero int
	// allInt is set if every present row holds an exact integer.
	allInt     bool
	imin, imax int64
	// f32 is set if every present row survives a round trip through float32.
	f32      bool
	allEqual bool
	first    struct {
		set   bool
		v     int64
		f     float64
		isInt bool
	}
}

func (s *summary) present() int { return s.rows - s.missing }

func (s *summary) observe(v int64, f float64, isInt bool) {
	if f != 0 || isNegZero(f) {
		s.nonzero++
	}
	s.addValue(v, f, isInt)
}

// addValue folds a present value into everything but the counts.
func (s *summary) addValue(v int64, f float64, isInt bool) {
	if !s.first.set {
		s.first.set = true
		s.first.v, s.first.f, s.first.isInt = v, f, isInt
	} else if s.allEqual {
		if isInt != s.first.isInt ||
			(isInt && v != s.first.v) ||
			(!isInt && math.Float64bits(f) != math.Float64bits(s.first.f)) {
			s.allEqual = false
		}
	}
	if isInt {
		s.imin = min(s.imin, v)
		s.imax = max(s.imax, v)
	} else {
		s.allInt = false
	}
	if s.f32 && float64(float32(f)) != f {
		s.f32 = false
	}
}

func (b *Builder) summarize() summary {
	s := summary{
		rows:     b.rows,
		allInt:   true,
		f32:      true,
		allEqual: true,
		imin:     math.MaxInt64,
		imax:     math.MinInt64,
	}
	n := b.slots()
	for j := 0; j < n; j++ {
		v, f, isInt, missing := b.value(j)
		if missing {
			s.missing++
			continue
		}
		s.observe(v, f, isInt)
	}
	if b.ids != nil && b.rows > n {
		// Implicit zeros.
		s.addValue(0, 0, true)
	}
	return s
}

func (b *Builder) freezeNumeric() *Chunk {
	s := b.summarize()
	ratio := b.cfg.sparseRatio()
	switch {
	case s.missing == s.rows:
		return encodeConst(s.rows, math.NaN())
	case s.missing == 0 && s.allEqual:
		if s.first.isInt {
			return encodeConstInt(s.rows, s.first.v)
		}
		return encodeConst(s.rows, s.first.f)
	}

	if (s.nonzero+s.missing)*ratio < s.rows {
		if c := b.encodeSparse(CodecSparseZero); b.verify(c) {
			return c
		}
	} else if s.present()*ratio < s.rows {
		if c := b.encodeSparse(CodecSparseNA); b.verify(c) {
			return c
		}
	}

	b.densify()
	if s.allInt && s.imin >= 0 && s.imax <= 1 {
		codec := CodecBool1
		if s.missing > 0 {
			codec = CodecBool2
		}
		if c := b.encodeBool(codec); b.verify(c) {
			return c
		}
	}
	if s.allInt && s.imin >= 0 && s.imax <= math.MaxUint8 && s.missing == 0 {
		if c := b.encodeU8(CodecU8Full); b.verify(c) {
			return c
		}
	}
	if s.allInt && s.imin >= 0 && s.imax < naU8 {
		if c := b.encodeU8(CodecU8); b.verify(c) {
			return c
		}
	}
	d := b.decimals(&s)
	if d.ok && d.max-d.min < naU8 {
		if c := b.encodeScaled(CodecScaled8, d, d.min); b.verify(c) {
			return c
		}
	}
	if s.allInt && s.imin > naI16 && s.imax <= math.MaxInt16 {
		if c := b.encodeFixed(CodecI16); b.verify(c) {
			return c
		}
	}
	if d.ok && d.max-d.min <= math.MaxInt16-(naI16+1) {
		if c := b.encodeScaled(CodecScaled16, d, d.min-(naI16+1)); b.verify(c) {
			return c
		}
	}
	if s.allInt && s.imin > naI32 && s.imax <= math.MaxInt32 {
		if c := b.encodeFixed(CodecI32); b.verify(c) {
			return c
		}
	}
	if d.ok && d.max-d.min <= math.MaxInt32-(naI32+1) {
		if c := b.encodeScaled(CodecScaled32, d, d.min-(naI32+1)); b.verify(c) {
			return c
		}
	}
	if s.f32 {
		if c := b.encodeFixed(CodecF32); b.verify(c) {
			return c
		}
	}
	if s.allInt && s.imin > naI64 {
		if c := b.encodeFixed(CodecI64); b.verify(c) {
			return c
		}
	}
	if c := b.encodeDict(); c != nil && b.verify(c) {
		return c
	}
	return b.encodeFixed(CodecF64)
}

// verify returns true if c reproduces every accumulated value exactly.
func (b *Builder) verify(c *Chunk) bool {
	if c == nil || c.rows != b.rows {
		return false
	}
	check := func(i int, v int64, f float64, isInt, missing bool) bool {
		if missing || c.IsMissing(i) {
			return missing && c.IsMissing(i)
		}
		if isInt {
			got, ok := c.intAt(i)
			return ok && got == v
		}
		return math.Float64bits(c.At(i)) == math.Float64bits(f)
	}
	if b.ids == nil {
		for i := 0; i < b.rows; i++ {
			v, f, isInt, missing := b.value(i)
			if !check(i, v, f, isInt, missing) {
				return false
			}
		}
		return true
	}
	next := 0
	for j, id := range b.ids {
		for r := next; r < int(id); r++ {
			if !check(r, 0, 0, true, false) {
				return false
			}
		}
		v, f, isInt, missing := b.value(j)
		if !check(int(id), v, f, isInt, missing) {
			return false
		}
		next = int(id) + 1
	}
	for r := next; r < b.rows; r++ {
		if !check(r, 0, 0, true, false) {
			return false
		}
	}
	return true
}

// decimalSet holds every present row as a mantissa scaled to one common
// decimal exponent.
type decimalSet struct {
	ok       bool
	exp      int8
	mant     []int64
	min, max int64
}

// maxMantissa bounds scaled mantissas to the integers that are exact in
// float64.
const maxMantissa = 1 << 53

// decimals computes the fixed-point representation of a dense builder.
func (b *Builder) decimals(s *summary) decimalSet {
	d := decimalSet{ok: true, min: math.MaxInt64, max: math.MinInt64}
	if s.allInt && !b.isFloat {
		// The integer backing is already the mantissa array.
		d.mant = b.ints
		d.min, d.max = s.imin, s.imax
		return d
	}
	d.mant = make([]int64, b.rows)
	exps := make([]int8, b.rows)
	minExp := 0
	for i := 0; i < b.rows; i++ {
		_, f, _, missing := b.value(i)
		if missing {
			continue
		}
		m, e, ok := decimal(f)
		if !ok {
			return decimalSet{}
		}
		d.mant[i], exps[i] = m, int8(e)
		minExp = min(minExp, e)
	}
	d.exp = int8(minExp)
	for i := 0; i < b.rows; i++ {
		if b.IsMissing(i) {
			continue
		}
		k := int(exps[i]) - minExp
		if k > maxExp {
			return decimalSet{}
		}
		m := d.mant[i]
		if k > 0 {
			hi, lo := bits.Mul64(uint64(abs(m)), uint64(pow10[k]))
			if hi != 0 || lo > maxMantissa {
				return decimalSet{}
			}
			m *= int64(pow10[k])
		}
		if m > maxMantissa || m < -maxMantissa {
			return decimalSet{}
		}
		d.mant[i] = m
		d.min = min(d.min, m)
		d.max = max(d.max, m)
	}
	return d
}

// decimal returns f as m×10^e with e ≤ 0 using the shortest decimal
// representation that parses back to f.
func decimal(f float64) (m int64, e int, ok bool) {
	if v, ok := exactInt(f); ok {
		return v, 0, true
	}
	if math.IsInf(f, 0) || math.IsNaN(f) || isNegZero(f) {
		return 0, 0, false
	}
	var buf [32]byte
	s := strconv.AppendFloat(buf[:0], f, 'e', -1, 64)
	neg := s[0] == '-'
	if neg {
		s = s[1:]
	}
	ei := bytes.IndexByte(s, 'e')
	if ei < 0 {
		return 0, 0, false
	}
	exp10, err := strconv.Atoi(string(s[ei+1:]))
	if err != nil {
		return 0, 0, false
	}
	digits := make([]byte, 0, ei)
	for _, c := range s[:ei] {
		if c != '.' {
			digits = append(digits, c)
		}
	}
	e = exp10 - (len(digits) - 1)
	if e >= 0 || e < -maxExp {
		return 0, 0, false
	}
	m, err = strconv.ParseInt(string(digits), 10, 64)
	if err != nil {
		return 0, 0, false
	}
	if neg {
		m = -m
	}
	return m, e, true
}

// Encoders. Dense encoders require a dense builder (slot i holds row i).

func newBuf(codec Codec, rows, size int) []byte {
	buf := make([]byte, headerLen, headerLen+size)
	buf[0] = byte(codec)
	le.PutUint32(buf[1:], uint32(rows))
	return buf
}

func encodeConst(rows int, f float64) *Chunk {
	buf := newBuf(CodecConst, rows, 8)
	return mustDecode(le.AppendUint64(buf, math.Float64bits(f)))
}

func encodeConstInt(rows int, v int64) *Chunk {
	buf := newBuf(CodecConstInt, rows, 8)
	return mustDecode(le.AppendUint64(buf, uint64(v)))
}

// NewConst returns a chunk of rows copies of f. NaN yields an all-missing
// chunk.
func NewConst(rows int, f float64) *Chunk {
	if v, ok := exactInt(f); ok {
		return encodeConstInt(rows, v)
	}
	return encodeConst(rows, f)
}

func (b *Builder) encodeBool(codec Codec) *Chunk {
	per := 8
	if codec == CodecBool2 {
		per = 4
	}
	buf := newBuf(codec, b.rows, (b.rows+per-1)/per)
	buf = buf[:headerLen+(b.rows+per-1)/per]
	payload := buf[headerLen:]
	for i := 0; i < b.rows; i++ {
		v, _, _, missing := b.value(i)
		if codec == CodecBool1 {
			payload[i>>3] |= byte(v) << uint(i&7)
			continue
		}
		pat := byte(v)
		if missing {
			pat = bool2Missing
		}
		payload[i>>2] |= pat << (2 * uint(i&3))
	}
	return mustDecode(buf)
}

func (b *Builder) encodeU8(codec Codec) *Chunk {
	buf := newBuf(codec, b.rows, b.rows)
	for i := 0; i < b.rows; i++ {
		v, _, _, missing := b.value(i)
		if missing {
			buf = append(buf, naU8)
		} else {
			buf = append(buf, byte(v))
		}
	}
	return mustDecode(buf)
}

// encodeFixed encodes the integer and float codecs without a header.
func (b *Builder) encodeFixed(codec Codec) *Chunk {
	w := (&Chunk{codec: codec}).width()
	buf := newBuf(codec, b.rows, w*b.rows)
	for i := 0; i < b.rows; i++ {
		v, f, _, missing := b.value(i)
		switch codec {
		case CodecI16:
			if missing {
				buf = le.AppendUint16(buf, naI16Bits)
			} else {
				buf = le.AppendUint16(buf, uint16(int16(v)))
			}
		case CodecI32:
			if missing {
				buf = le.AppendUint32(buf, naI32Bits)
			} else {
				buf = le.AppendUint32(buf, uint32(int32(v)))
			}
		case CodecI64:
			if missing {
				buf = le.AppendUint64(buf, naI64Bits)
			} else {
				buf = le.AppendUint64(buf, uint64(v))
			}
		case CodecF32:
			buf = le.AppendUint32(buf, math.Float32bits(float32(f)))
		case CodecF64:
			buf = le.AppendUint64(buf, math.Float64bits(f))
		}
	}
	return mustDecode(buf)
}

func (b *Builder) encodeScaled(codec Codec, d decimalSet, bias int64) *Chunk {
	w := (&Chunk{codec: codec}).width()
	buf := newBuf(codec, b.rows, 9+w*b.rows)
	buf = le.AppendUint64(buf, uint64(bias))
	buf = append(buf, byte(d.exp))
	for i := 0; i < b.rows; i++ {
		missing := b.IsMissing(i)
		s := d.mant[i] - bias
		switch codec {
		case CodecScaled8:
			if missing {
				buf = append(buf, naU8)
			} else {
				buf = append(buf, byte(s))
			}
		case CodecScaled16:
			if missing {
				buf = le.AppendUint16(buf, naI16Bits)
			} else {
				buf = le.AppendUint16(buf, uint16(int16(s)))
			}
		case CodecScaled32:
			if missing {
				buf = le.AppendUint32(buf, naI32Bits)
			} else {
				buf = le.AppendUint32(buf, uint32(int32(s)))
			}
		}
	}
	return mustDecode(buf)
}

// encodeDict returns nil if the values do not fit a dictionary or the
// dictionary would not be smaller than 80% of a dense float64 encoding.
func (b *Builder) encodeDict() *Chunk {
	var index swiss.Map[uint64, uint8]
	index.Init(16)
	var dict []uint64
	idx := make([]byte, b.rows)
	for i := 0; i < b.rows; i++ {
		_, f, _, missing := b.value(i)
		if missing {
			f = math.NaN()
		}
		key := math.Float64bits(f)
		j, ok := index.Get(key)
		if !ok {
			if len(dict) == maxDictEntries {
				return nil
			}
			j = uint8(len(dict))
			dict = append(dict, key)
			index.Put(key, j)
		}
		idx[i] = j
	}
	size := headerLen + 2 + 8*len(dict) + b.rows
	if float64(size) >= 0.8*float64(headerLen+8*b.rows) {
		return nil
	}
	buf := newBuf(CodecDictF64, b.rows, size-headerLen)
	buf = le.AppendUint16(buf, uint16(len(dict)))
	for _, k := range dict {
		buf = le.AppendUint64(buf, k)
	}
	return mustDecode(append(buf, idx...))
}

// encodeSparse stores the rows that differ from the codec's default: nonzero
// or missing rows for SparseZero, present rows for SparseNA.
func (b *Builder) encodeSparse(codec Codec) *Chunk {
	var (
		ids   []int
		vals  []float64
		ivals []int64
		s     = summary{allInt: true, f32: true, allEqual: true, imin: math.MaxInt64, imax: math.MinInt64}
		na    int
	)
	n := b.slots()
	for j := 0; j < n; j++ {
		row := j
		if b.ids != nil {
			row = int(b.ids[j])
		}
		v, f, isInt, missing := b.value(j)
		switch {
		case missing:
			if codec == CodecSparseNA {
				continue
			}
			na++
		case codec == CodecSparseZero && f == 0 && !isNegZero(f):
			continue
		default:
			s.addValue(v, f, isInt)
		}
		ids = append(ids, row)
		vals = append(vals, f)
		ivals = append(ivals, v)
	}

	var kind sparseKind
	switch {
	case na == 0 && s.allEqual && s.first.set &&
		(!s.first.isInt || (s.first.v <= maxMantissa && s.first.v >= -maxMantissa)):
		kind = sparseConst
	case s.allInt && s.imin > math.MinInt8 && s.imax <= math.MaxInt8:
		kind = sparseI8
	case s.allInt && s.imin > naI16 && s.imax <= math.MaxInt16:
		kind = sparseI16
	case s.allInt && s.imin > naI32 && s.imax <= math.MaxInt32:
		kind = sparseI32
	case s.allInt && s.imin > naI64:
		kind = sparseI64
	case s.f32:
		kind = sparseF32
	default:
		kind = sparseF64
	}

	idw := sparseIDWidth(b.rows)
	buf := newBuf(codec, b.rows, 6+8+len(ids)*(idw+kind.width()))
	buf = le.AppendUint32(buf, uint32(len(ids)))
	buf = append(buf, byte(idw), byte(kind))
	if kind == sparseConst {
		buf = le.AppendUint64(buf, math.Float64bits(s.first.f))
	}
	for _, id := range ids {
		if idw == 2 {
			buf = le.AppendUint16(buf, uint16(id))
		} else {
			buf = le.AppendUint32(buf, uint32(id))
		}
	}
	for j := range ids {
		missing := math.IsNaN(vals[j])
		switch kind {
		case sparseI8:
			if missing {
				buf = append(buf, naI8Bits)
			} else {
				buf = append(buf, byte(int8(ivals[j])))
			}
		case sparseI16:
			if missing {
				buf = le.AppendUint16(buf, naI16Bits)
			} else {
				buf = le.AppendUint16(buf, uint16(int16(ivals[j])))
			}
		case sparseI32:
			if missing {
				buf = le.AppendUint32(buf, naI32Bits)
			} else {
				buf = le.AppendUint32(buf, uint32(int32(ivals[j])))
			}
		case sparseI64:
			if missing {
				buf = le.AppendUint64(buf, naI64Bits)
			} else {
				buf = le.AppendUint64(buf, uint64(ivals[j]))
			}
		case sparseF32:
			buf = le.AppendUint32(buf, math.Float32bits(float32(vals[j])))
		case sparseF64:
			buf = le.AppendUint64(buf, math.Float64bits(vals[j]))
		}
	}
	return mustDecode(buf)
}

func (b *Builder) freezeUUID() *Chunk {
	all := true
	for _, u := range b.uuids {
		if u != [2]int64{naUUIDl, naUUIDh} {
			all = false
			break
		}
	}
	if all {
		return encodeConst(b.rows, math.NaN())
	}
	buf := newBuf(CodecUUID, b.rows, 16*b.rows)
	for _, u := range b.uuids {
		buf = le.AppendUint64(buf, uint64(u[0]))
		buf = le.AppendUint64(buf, uint64(u[1]))
	}
	return mustDecode(buf)
}

// freezeString deduplicates equal strings in the heap.
func (b *Builder) freezeString() *Chunk {
	var offsets swiss.Map[string, uint32]
	offsets.Init(16)
	var heap []byte
	offs := make([]uint32, b.rows)
	present := 0
	for i, s := range b.strs {
		if b.strNA.get(i) {
			offs[i] = naStr
			continue
		}
		present++
		off, ok := offsets.Get(s)
		if !ok {
			off = uint32(len(heap))
			heap = binary.AppendUvarint(heap, uint64(len(s)))
			heap = append(heap, s...)
			offsets.Put(s, off)
		}
		offs[i] = off
	}
	if present == 0 {
		return encodeConst(b.rows, math.NaN())
	}
	buf := newBuf(CodecStr, b.rows, 4*b.rows+len(heap))
	for _, off := range offs {
		buf = le.AppendUint32(buf, off)
	}
	return mustDecode(append(buf, heap...))
}
