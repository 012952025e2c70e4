// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package rollup computes and caches per-column summary statistics.
//
// A column's rollup record lives in the KV store under the column's rollup
// key and moves through the states
//
//	Absent -> Computing -> Ready (optionally with a histogram)
//
// with Mutating reachable from any state while a write episode is open. When
// the episode ends the record is dropped and the next reader recomputes it.
// Only the record's home node computes it; the Coordinator routes requests
// from other nodes there and coalesces concurrent requests on each node.
package rollup

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/cockroachdb/colvec/internal/base"
	"github.com/cockroachdb/redact"
)

// State is the state of a rollup record.
type State uint8

const (
	// Absent is the state of a column without a record.
	Absent State = iota
	// Computing records are installed by the home node while it computes.
	Computing
	// Ready records hold valid statistics.
	Ready
	// Mutating records mark an open write episode.
	Mutating
)

func (s State) String() string {
	switch s {
	case Absent:
		return "absent"
	case Computing:
		return "computing"
	case Ready:
		return "ready"
	case Mutating:
		return "mutating"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// SafeFormat implements redact.SafeFormatter.
func (s State) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Print(redact.SafeString(s.String()))
}

// maxExtremes is the number of smallest and largest values kept.
const maxExtremes = 5

// Stats is a rollup record.
type Stats struct {
	State State
	// Mins holds up to five of the smallest distinct finite values, ascending.
	Mins []float64
	// Maxs holds up to five of the largest distinct finite values, descending.
	Maxs []float64
	// Mean and M2 are the running mean and sum of squared deviations of the
	// finite values.
	Mean float64
	M2   float64
	// Rows counts the non-missing rows, infinities included.
	Rows int64
	// NonZero counts the non-missing rows that are not zero.
	NonZero int64
	Missing int64
	PosInf  int64
	NegInf  int64
	// IsInt is set if there is at least one finite value and every
	// non-missing value is an integer.
	IsInt bool
	// Checksum is the XOR of the hashes of every chunk's contents.
	Checksum uint64
	// Bytes is the encoded size of every chunk.
	Bytes int64

	// Histogram. Bin i counts the values in [Base+i*Stride, Base+(i+1)*Stride);
	// infinities are counted in the end bins.
	Bins   []int64
	Base   float64
	Stride float64
	// Probes are the quantile probabilities and Percentiles their estimates.
	Probes      []float64
	Percentiles []float64

	// nonInt is set once a non-integral value has been accumulated.
	nonInt bool
}

// Finite returns the number of finite non-missing values.
func (s *Stats) Finite() int64 { return s.Rows - s.PosInf - s.NegInf }

// Min returns the smallest value, or NaN if there are no values.
func (s *Stats) Min() float64 {
	switch {
	case s.NegInf > 0:
		return math.Inf(-1)
	case len(s.Mins) > 0:
		return s.Mins[0]
	case s.PosInf > 0:
		return math.Inf(1)
	}
	return math.NaN()
}

// Max returns the largest value, or NaN if there are no values.
func (s *Stats) Max() float64 {
	switch {
	case s.PosInf > 0:
		return math.Inf(1)
	case len(s.Maxs) > 0:
		return s.Maxs[0]
	case s.NegInf > 0:
		return math.Inf(-1)
	}
	return math.NaN()
}

// Sigma returns the sample standard deviation of the finite values.
func (s *Stats) Sigma() float64 {
	n := s.Finite()
	if n <= 1 {
		return 0
	}
	return math.Sqrt(s.M2 / float64(n-1))
}

// HasHistogram returns true if the record carries a histogram.
func (s *Stats) HasHistogram() bool { return s.Bins != nil }

// Mode returns the index of the most populous bin, or -1 without a histogram.
// Ties resolve to the lowest bin.
func (s *Stats) Mode() int {
	mode := -1
	var best int64
	for i, n := range s.Bins {
		if n > best {
			mode, best = i, n
		}
	}
	return mode
}

// Percentile returns the estimate for probe p, which must be one of Probes.
func (s *Stats) Percentile(p float64) (float64, bool) {
	for i, q := range s.Probes {
		if q == p {
			return s.Percentiles[i], true
		}
	}
	return math.NaN(), false
}

func (s *Stats) String() string {
	return redact.StringWithoutMarkers(s)
}

// SafeFormat implements redact.SafeFormatter.
func (s *Stats) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Printf("%s", s.State)
	if s.State != Ready {
		return
	}
	w.Printf(" rows=%d missing=%d nonzero=%d min=%v max=%v mean=%v sigma=%v",
		s.Rows, s.Missing, s.NonZero, s.Min(), s.Max(), s.Mean, s.Sigma())
	if s.IsInt {
		w.Printf(" int")
	}
	if s.HasHistogram() {
		w.Printf(" bins=%d", len(s.Bins))
	}
}

const (
	flagInt       = 1 << 0
	flagHistogram = 1 << 1
)

// encode serializes a Ready record.
func (s *Stats) encode() []byte {
	buf := make([]byte, 0, 128+8*len(s.Bins))
	buf = append(buf, byte(s.State))
	var flags byte
	if s.IsInt {
		flags |= flagInt
	}
	if s.HasHistogram() {
		flags |= flagHistogram
	}
	buf = append(buf, flags)
	for _, v := range []int64{s.Rows, s.NonZero, s.Missing, s.PosInf, s.NegInf, s.Bytes} {
		buf = binary.AppendUvarint(buf, uint64(v))
	}
	buf = binary.LittleEndian.AppendUint64(buf, s.Checksum)
	buf = appendFloats(buf, s.Mean, s.M2)
	buf = append(buf, byte(len(s.Mins)))
	buf = appendFloats(buf, s.Mins...)
	buf = append(buf, byte(len(s.Maxs)))
	buf = appendFloats(buf, s.Maxs...)
	if s.HasHistogram() {
		buf = appendFloats(buf, s.Base, s.Stride)
		buf = binary.AppendUvarint(buf, uint64(len(s.Bins)))
		for _, n := range s.Bins {
			buf = binary.AppendUvarint(buf, uint64(n))
		}
		buf = binary.AppendUvarint(buf, uint64(len(s.Probes)))
		buf = appendFloats(buf, s.Probes...)
		buf = appendFloats(buf, s.Percentiles...)
	}
	return buf
}

func appendFloats(buf []byte, fs ...float64) []byte {
	for _, f := range fs {
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(f))
	}
	return buf
}

// decoder reads a record, remembering the first error.
type decoder struct {
	b   []byte
	err error
}

func (d *decoder) fail() {
	if d.err == nil {
		d.err = base.CorruptionErrorf("rollup: truncated record")
	}
	d.b = nil
}

func (d *decoder) u8() byte {
	if len(d.b) < 1 {
		d.fail()
		return 0
	}
	v := d.b[0]
	d.b = d.b[1:]
	return v
}

func (d *decoder) uvarint() uint64 {
	v, n := binary.Uvarint(d.b)
	if n <= 0 {
		d.fail()
		return 0
	}
	d.b = d.b[n:]
	return v
}

func (d *decoder) u64() uint64 {
	if len(d.b) < 8 {
		d.fail()
		return 0
	}
	v := binary.LittleEndian.Uint64(d.b)
	d.b = d.b[8:]
	return v
}

func (d *decoder) float() float64 { return math.Float64frombits(d.u64()) }

func (d *decoder) floats(n int) []float64 {
	if n > len(d.b)/8 {
		d.fail()
		return nil
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = d.float()
	}
	return out
}

// decodeStats decodes a record of any state.
func decodeStats(b []byte) (*Stats, error) {
	d := decoder{b: b}
	s := &Stats{State: State(d.u8())}
	if d.err != nil {
		return nil, d.err
	}
	switch s.State {
	case Computing, Mutating:
		return s, nil
	case Ready:
	default:
		return nil, base.CorruptionErrorf("rollup: unknown record state %d", s.State)
	}
	flags := d.u8()
	s.IsInt = flags&flagInt != 0
	for _, v := range []*int64{&s.Rows, &s.NonZero, &s.Missing, &s.PosInf, &s.NegInf, &s.Bytes} {
		*v = int64(d.uvarint())
	}
	s.Checksum = d.u64()
	s.Mean, s.M2 = d.float(), d.float()
	s.Mins = d.floats(int(d.u8()))
	s.Maxs = d.floats(int(d.u8()))
	if flags&flagHistogram != 0 {
		s.Base, s.Stride = d.float(), d.float()
		n := d.uvarint()
		if n > uint64(len(d.b)) {
			d.fail()
		} else {
			s.Bins = make([]int64, n)
			for i := range s.Bins {
				s.Bins[i] = int64(d.uvarint())
			}
		}
		np := int(d.uvarint())
		s.Probes = d.floats(np)
		s.Percentiles = d.floats(np)
	}
	if d.err == nil && len(d.b) != 0 {
		return nil, base.CorruptionErrorf("rollup: %d trailing bytes", len(d.b))
	}
	return s, d.err
}
