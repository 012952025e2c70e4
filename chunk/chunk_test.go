// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package chunk

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strconv"
	"strings"
	"testing"

	"github.com/cockroachdb/colvec/internal/base"
	"github.com/cockroachdb/datadriven"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

func TestSelect(t *testing.T) {
	datadriven.RunTest(t, "testdata/select", func(t *testing.T, td *datadriven.TestData) string {
		switch td.Cmd {
		case "build":
			var cfg Config
			td.MaybeScanArgs(t, "sparse-ratio", &cfg.SparseRatio)
			b := NewBuilder(cfg)
			for _, tok := range strings.Fields(td.Input) {
				if tok == "NA" {
					b.AddMissing()
					continue
				}
				f, err := strconv.ParseFloat(tok, 64)
				require.NoError(t, err)
				b.AddFloat(f)
			}
			c, err := b.Freeze()
			require.NoError(t, err)
			return dumpChunk(c)
		default:
			return fmt.Sprintf("unknown command: %s", td.Cmd)
		}
	})
}

func dumpChunk(c *Chunk) string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "%s rows=%d", c.Codec(), c.Len())
	switch c.Codec() {
	case CodecSparseZero, CodecSparseNA:
		fmt.Fprintf(&buf, " stored=%d", c.Stored())
	case CodecScaled8, CodecScaled16, CodecScaled32:
		bias, exp := c.Scale()
		fmt.Fprintf(&buf, " bias=%d exp=%d", bias, exp)
	}
	buf.WriteString("\n")
	for i := 0; i < c.Len(); i++ {
		if i > 0 {
			buf.WriteString(" ")
		}
		if c.IsMissing(i) {
			buf.WriteString("NA")
		} else {
			buf.WriteString(strconv.FormatFloat(c.At(i), 'g', -1, 64))
		}
	}
	buf.WriteString("\n")
	return buf.String()
}

// expected is the value appended to a row.
type expected struct {
	missing bool
	isInt   bool
	v       int64
	f       float64
}

func requireRows(t *testing.T, c *Chunk, want []expected) {
	t.Helper()
	require.Equal(t, len(want), c.Len())
	for i, w := range want {
		if w.missing {
			require.True(t, c.IsMissing(i), "row %d of %s", i, c)
			require.True(t, math.IsNaN(c.At(i)))
			continue
		}
		require.False(t, c.IsMissing(i), "row %d of %s", i, c)
		if w.isInt {
			require.Equal(t, w.v, c.AtInt(i), "row %d of %s", i, c)
			continue
		}
		require.Equal(t, math.Float64bits(w.f), math.Float64bits(c.At(i)),
			"row %d of %s: %v != %v", i, c, w.f, c.At(i))
	}
}

// generator appends one random row to b and returns what was appended.
type generator func(rng *rand.Rand, b *Builder) expected

func withMissing(p float64, g generator) generator {
	return func(rng *rand.Rand, b *Builder) expected {
		if rng.Float64() < p {
			b.AddMissing()
			return expected{missing: true}
		}
		return g(rng, b)
	}
}

func intsIn(lo, hi int64) generator {
	return func(rng *rand.Rand, b *Builder) expected {
		// hi-lo may not fit in an int64.
		v := lo + int64(rng.Uint64N(uint64(hi-lo)+1))
		b.AddInt(v)
		return expected{isInt: true, v: v}
	}
}

func decimals(digits int) generator {
	return func(rng *rand.Rand, b *Builder) expected {
		m := rng.Int64N(20000) - 10000
		exp := -1 - rng.IntN(digits)
		b.AddDecimal(m, exp)
		f := scale(m, int8(exp))
		if v, ok := exactInt(f); ok {
			return expected{isInt: true, v: v}
		}
		return expected{f: f}
	}
}

func floats(rng *rand.Rand, b *Builder) expected {
	f := rng.NormFloat64() * 1000
	b.AddFloat(f)
	if v, ok := exactInt(f); ok {
		return expected{isInt: true, v: v}
	}
	return expected{f: f}
}

func mostlyZero(rng *rand.Rand, b *Builder) expected {
	if rng.IntN(100) != 0 {
		b.AddInt(0)
		return expected{isInt: true}
	}
	v := rng.Int64N(1 << 20)
	b.AddInt(v)
	return expected{isInt: true, v: v}
}

func TestRoundTrip(t *testing.T) {
	generators := map[string]generator{
		"bool":         intsIn(0, 1),
		"bool-na":      withMissing(0.1, intsIn(0, 1)),
		"u8":           intsIn(0, 255),
		"u8-na":        withMissing(0.2, intsIn(0, 254)),
		"i16":          withMissing(0.05, intsIn(-30000, 30000)),
		"i32":          withMissing(0.05, intsIn(-1<<30, 1<<30)),
		"i64":          withMissing(0.05, intsIn(-1<<62, 1<<62)),
		"biased":       intsIn(1_000_000, 1_000_200),
		"decimal":      withMissing(0.05, decimals(3)),
		"float":        withMissing(0.05, floats),
		"sparse-zero":  mostlyZero,
		"sparse-na":    withMissing(0.99, intsIn(-100, 100)),
		"sparse-float": withMissing(0.005, mostlyZero),
	}
	rng := rand.New(rand.NewPCG(1, 2))
	for name, g := range generators {
		t.Run(name, func(t *testing.T) {
			for _, n := range []int{1, 7, 100, 5000, 70000} {
				b := NewBuilder(Config{})
				want := make([]expected, n)
				for i := range want {
					want[i] = g(rng, b)
				}
				c, err := b.Freeze()
				require.NoError(t, err)
				requireRows(t, c, want)

				d, err := Decode(c.Bytes())
				require.NoError(t, err)
				require.Equal(t, c.Codec(), d.Codec())
				requireRows(t, d, want)
				requireRows(t, c.Clone(), want)

				// Inflating and refreezing selects the same codec.
				r, err := c.Inflate(Config{}).Freeze()
				require.NoError(t, err)
				require.Equal(t, c.Codec(), r.Codec())
				requireRows(t, r, want)
			}
		})
	}
}

func TestFreeze(t *testing.T) {
	b := NewBuilder(Config{})
	b.AddInt(3)
	b.AddZeros(1000)
	b.AddMissings(20)
	b.AddFloat(0.5)
	b.AddZeros(5)
	require.Equal(t, 1027, b.Len())

	var frozen []*Chunk
	b.cfg.OnFreeze = func(c *Chunk) { frozen = append(frozen, c) }
	c, err := b.Freeze()
	require.NoError(t, err)
	require.Equal(t, 1027, c.Len())
	require.Equal(t, CodecSparseZero, c.Codec())
	require.Equal(t, 22, c.Stored())
	require.Equal(t, []*Chunk{c}, frozen)
	require.Equal(t, 3.0, c.At(0))
	require.Equal(t, 0.0, c.At(500))
	require.True(t, c.IsMissing(1001))
	require.Equal(t, 0.5, c.At(1021))
	require.Equal(t, 0.0, c.At(1026))

	_, err = b.Freeze()
	require.True(t, errors.Is(err, base.ErrFrozen))
	require.Panics(t, func() { b.AddInt(1) })
}

func TestSparseThreshold(t *testing.T) {
	const rows = 320
	build := func(nonzero int) *Chunk {
		b := NewBuilder(Config{})
		for i := 0; i < rows; i++ {
			if i%32 == 0 && i/32 < nonzero {
				b.AddInt(7)
			} else {
				b.AddInt(0)
			}
		}
		c, err := b.Freeze()
		require.NoError(t, err)
		return c
	}
	// Below 1/32 of the rows.
	for _, n := range []int{1, 5, 9} {
		c := build(n)
		require.Equal(t, CodecSparseZero, c.Codec(), "nonzero=%d", n)
		require.Equal(t, n, c.Stored())
	}
	// At the ratio.
	require.Equal(t, CodecU8Full, build(10).Codec())
}

func TestStrings(t *testing.T) {
	b := NewBuilder(Config{})
	b.AddMissing()
	b.AddString("alpha")
	b.AddString("")
	b.AddString("alpha")
	b.AddMissing()
	b.AddString("beta")
	c, err := b.Freeze()
	require.NoError(t, err)
	require.Equal(t, CodecStr, c.Codec())
	require.False(t, c.IsNumeric())

	want := []string{"", "alpha", "", "alpha", "", "beta"}
	for i, s := range want {
		if i == 0 || i == 4 {
			require.True(t, c.IsMissing(i))
			require.True(t, math.IsNaN(c.At(i)))
			continue
		}
		require.Equal(t, s, c.AtString(i))
	}
	// "alpha" is stored once.
	require.Equal(t, headerLen+4*6+len("\x05alpha\x00\x04beta"), c.Size())

	w := NewWriter(c, Config{})
	w.SetString(1, "alpha")
	require.False(t, w.Escalated())
	w.SetString(1, "gamma")
	w.SetMissing(3)
	require.True(t, w.Escalated())
	c2, err := w.Close()
	require.NoError(t, err)
	require.Equal(t, "gamma", c2.AtString(1))
	require.True(t, c2.IsMissing(3))
	require.Equal(t, "beta", c2.AtString(5))
	// The original chunk is unchanged.
	require.Equal(t, "alpha", c.AtString(1))
}

func TestUUIDs(t *testing.T) {
	b := NewBuilder(Config{})
	b.AddUUID(1, 2)
	b.AddMissing()
	b.AddUUID(-3, 4)
	c, err := b.Freeze()
	require.NoError(t, err)
	require.Equal(t, CodecUUID, c.Codec())
	lo, hi := c.AtUUID(2)
	require.Equal(t, [2]int64{-3, 4}, [2]int64{lo, hi})
	require.True(t, c.IsMissing(1))

	w := NewWriter(c, Config{})
	w.SetUUID(1, 5, 6)
	require.False(t, w.Escalated())
	c2, err := w.Close()
	require.NoError(t, err)
	lo, hi = c2.AtUUID(1)
	require.Equal(t, [2]int64{5, 6}, [2]int64{lo, hi})

	// A builder of only missing UUIDs is a missing constant.
	b = NewBuilder(Config{})
	b.AddUUID(naUUIDl, naUUIDh)
	c, err = b.Freeze()
	require.NoError(t, err)
	require.Equal(t, CodecConst, c.Codec())
	require.True(t, c.AllMissing())
}

func TestMissingValuePanics(t *testing.T) {
	b := NewBuilder(Config{})
	b.AddInt(1)
	b.AddMissing()
	b.AddInt(300)
	c, err := b.Freeze()
	require.NoError(t, err)
	require.Equal(t, CodecI16, c.Codec())

	requireMissingPanic := func(fn func()) {
		t.Helper()
		defer func() {
			r := recover()
			require.NotNil(t, r)
			err, ok := r.(error)
			require.True(t, ok)
			require.True(t, errors.Is(err, base.ErrMissingValue), "%v", err)
		}()
		fn()
	}
	requireMissingPanic(func() { c.AtInt(1) })
	require.Equal(t, int64(300), c.AtInt(2))
}

func TestDecodeCorrupt(t *testing.T) {
	b := NewBuilder(Config{})
	for i := 0; i < 10; i++ {
		b.AddInt(int64(i * 1000))
	}
	c, err := b.Freeze()
	require.NoError(t, err)
	data := c.Bytes()
	for _, n := range []int{0, 3, headerLen, len(data) - 1} {
		_, err := Decode(data[:n])
		require.Error(t, err, "truncated to %d", n)
	}
	bad := append([]byte(nil), data...)
	bad[0] = 0xEE
	_, err = Decode(bad)
	require.Error(t, err)
}

func TestWriterEscalation(t *testing.T) {
	b := NewBuilder(Config{})
	for _, v := range []int64{1, 2, 3} {
		b.AddInt(v)
	}
	c, err := b.Freeze()
	require.NoError(t, err)
	require.Equal(t, CodecU8Full, c.Codec())

	w := NewWriter(c, Config{})
	w.SetInt(0, 7)
	require.False(t, w.Escalated())
	require.True(t, w.Dirty())
	w.SetInt(1, 1000)
	require.True(t, w.Escalated())
	require.Equal(t, 1000.0, w.At(1))
	c2, err := w.Close()
	require.NoError(t, err)
	require.Equal(t, CodecI16, c2.Codec())
	require.Equal(t, int64(7), c2.AtInt(0))
	require.Equal(t, int64(1000), c2.AtInt(1))
	require.Equal(t, int64(3), c2.AtInt(2))
	// The source chunk is unchanged.
	require.Equal(t, int64(2), c.AtInt(1))

	_, err = w.Close()
	require.True(t, errors.Is(err, base.ErrFrozen))
}

func TestFitsSigned(t *testing.T) {
	require.True(t, fitsSigned[int8](math.MaxInt8))
	require.True(t, fitsSigned[int8](math.MinInt8+1))
	require.False(t, fitsSigned[int8](math.MinInt8))
	require.False(t, fitsSigned[int8](math.MaxInt8+1))
	require.True(t, fitsSigned[int16](-1))
	require.False(t, fitsSigned[int16](naI16))
	require.False(t, fitsSigned[int32](math.MaxInt32+1))
	require.False(t, fitsSigned[int32](naI32))
	require.True(t, fitsSigned[int64](math.MaxInt64))
	require.False(t, fitsSigned[int64](naI64))
}

func TestWriterWidthLimits(t *testing.T) {
	for _, tc := range []struct {
		vals     []int64
		codec    Codec
		min, max int64
	}{
		{[]int64{-1000, 1000, 1}, CodecI16, math.MinInt16, math.MaxInt16},
		{[]int64{-100000, 100000, 1}, CodecI32, math.MinInt32, math.MaxInt32},
	} {
		t.Run(tc.codec.String(), func(t *testing.T) {
			b := NewBuilder(Config{})
			for _, v := range tc.vals {
				b.AddInt(v)
			}
			c, err := b.Freeze()
			require.NoError(t, err)
			require.Equal(t, tc.codec, c.Codec())

			w := NewWriter(c, Config{})
			w.SetInt(0, tc.max)
			w.SetInt(1, tc.min+1)
			require.False(t, w.Escalated())
			// The minimum marks a missing row.
			w.SetInt(2, tc.min)
			require.True(t, w.Escalated())
			c2, err := w.Close()
			require.NoError(t, err)
			require.Equal(t, []int64{tc.max, tc.min + 1, tc.min},
				[]int64{c2.AtInt(0), c2.AtInt(1), c2.AtInt(2)})
		})
	}
}

func TestWriterRandom(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 4))
	for trial := 0; trial < 50; trial++ {
		n := 1 + rng.IntN(2000)
		b := NewBuilder(Config{})
		want := make([]expected, n)
		for i := range want {
			want[i] = mostlyZero(rng, b)
		}
		c, err := b.Freeze()
		require.NoError(t, err)

		w := NewWriter(c, Config{})
		for k := rng.IntN(50); k > 0; k-- {
			i := rng.IntN(n)
			switch rng.IntN(4) {
			case 0:
				w.SetMissing(i)
				want[i] = expected{missing: true}
			case 1:
				v := rng.Int64N(1<<40) - 1<<39
				w.SetInt(i, v)
				want[i] = expected{isInt: true, v: v}
			case 2:
				f := rng.NormFloat64()
				w.Set(i, f)
				if v, ok := exactInt(f); ok {
					want[i] = expected{isInt: true, v: v}
				} else {
					want[i] = expected{f: f}
				}
			case 3:
				v := int64(rng.IntN(3))
				w.SetInt(i, v)
				want[i] = expected{isInt: true, v: v}
			}
		}
		c2, err := w.Close()
		require.NoError(t, err)
		requireRows(t, c2, want)
	}
}

func TestBulk(t *testing.T) {
	b := NewBuilder(Config{})
	b.AddZeros(100)
	b.AddInt(4)
	b.AddZeros(100)
	b.AddMissing()
	b.AddZeros(100)
	c, err := b.Freeze()
	require.NoError(t, err)
	require.Equal(t, CodecSparseZero, c.Codec())

	got := c.Floats(nil, 98, 103)
	require.Equal(t, []float64{0, 0, 4, 0, 0}, got)
	vals, ids := c.SparseFloats(nil, nil)
	require.Equal(t, []int{100, 201}, ids)
	require.Equal(t, 4.0, vals[0])
	require.True(t, math.IsNaN(vals[1]))

	require.Equal(t, 100, c.NextNonZero(-1))
	require.Equal(t, 201, c.NextNonZero(100))
	require.Equal(t, c.Len(), c.NextNonZero(201))

	require.Equal(t, []float64{4, 0}, c.Gather(nil, []int{100, 0}))
	require.Equal(t, []int64{0, 4, 0}, c.Ints(nil, 99, 102))
}

func TestNewConst(t *testing.T) {
	c := NewConst(10, 1)
	require.Equal(t, CodecConstInt, c.Codec())
	require.Equal(t, int64(1), c.AtInt(9))
	require.Equal(t, headerLen+8, c.Size())

	c = NewConst(10, math.NaN())
	require.True(t, c.AllMissing())
}
