// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package rollup

import (
	"context"
	"encoding/binary"
	"math"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/colvec/chunk"
	"github.com/cockroachdb/colvec/keys"
	"github.com/cockroachdb/colvec/mr"
	"github.com/cockroachdb/errors"
)

// Source is the view of a column the rollup passes read.
type Source interface {
	// Key returns the column key.
	Key() keys.Key
	NumChunks() int
	// ChunkStart returns the first row of chunk i.
	ChunkStart(i int) int64
	Chunk(ctx context.Context, i int) (*chunk.Chunk, error)
	// Cardinality returns the domain size of a categorical column, or zero.
	Cardinality() int
}

// Defaults of Config.
const (
	DefaultHistogramBins   = 1000
	DefaultCategoricalBins = 10000
)

// DefaultProbes are the quantile probabilities estimated by the histogram
// pass.
var DefaultProbes = []float64{
	0.001, 0.01, 0.1, 0.2, 0.25, 0.3, 1.0 / 3, 0.4, 0.5, 0.6, 2.0 / 3, 0.7, 0.75, 0.8, 0.9, 0.99, 0.999,
}

// Config parameterizes the passes.
type Config struct {
	// HistogramBins caps the bins of numeric histograms.
	HistogramBins int
	// CategoricalBins caps the bins of categorical histograms.
	CategoricalBins int
	// Probes are the quantile probabilities to estimate.
	Probes []float64
	// Scheduler runs the per-chunk passes. Nil uses GOMAXPROCS workers.
	Scheduler *mr.Scheduler
}

// EnsureDefaults fills unset fields.
func (c *Config) EnsureDefaults() {
	if c.HistogramBins <= 0 {
		c.HistogramBins = DefaultHistogramBins
	}
	if c.CategoricalBins <= 0 {
		c.CategoricalBins = DefaultCategoricalBins
	}
	if c.Probes == nil {
		c.Probes = DefaultProbes
	}
}

func newStats() *Stats { return &Stats{} }

// ChunkStats computes the first-pass statistics of one chunk starting at row
// start.
func ChunkStats(c *chunk.Chunk, start int64) *Stats {
	s := newStats()
	s.Bytes = int64(c.Size())
	h := xxhash.New()
	var word [8]byte
	binary.LittleEndian.PutUint64(word[:], uint64(start))
	_, _ = h.Write(word[:])
	n := c.Len()
	if !c.IsNumeric() {
		for i := 0; i < n; i++ {
			if c.IsMissing(i) {
				s.Missing++
				_, _ = h.Write([]byte{0})
				continue
			}
			s.Rows++
			s.NonZero++
			s.nonInt = true
			if c.Codec() == chunk.CodecStr {
				_, _ = h.WriteString(c.AtString(i))
			} else {
				lo, hi := c.AtUUID(i)
				binary.LittleEndian.PutUint64(word[:], uint64(lo))
				_, _ = h.Write(word[:])
				binary.LittleEndian.PutUint64(word[:], uint64(hi))
				_, _ = h.Write(word[:])
			}
		}
		s.Checksum = h.Sum64()
		return s
	}

	const batch = 1024
	vals := make([]float64, 0, batch)
	for from := 0; from < n; from += batch {
		vals = c.Floats(vals[:0], from, min(from+batch, n))
		for _, f := range vals {
			if math.IsNaN(f) {
				f = math.NaN()
			}
			binary.LittleEndian.PutUint64(word[:], math.Float64bits(f))
			_, _ = h.Write(word[:])
			s.add(f)
		}
	}
	s.Checksum = h.Sum64()
	return s
}

func (s *Stats) add(f float64) {
	switch {
	case math.IsNaN(f):
		s.Missing++
		return
	case math.IsInf(f, 1):
		s.PosInf++
		s.Rows++
		s.NonZero++
		s.nonInt = true
		return
	case math.IsInf(f, -1):
		s.NegInf++
		s.Rows++
		s.NonZero++
		s.nonInt = true
		return
	}
	s.Rows++
	if f != 0 {
		s.NonZero++
	}
	if f != math.Trunc(f) {
		s.nonInt = true
	}
	n := float64(s.Finite())
	delta := f - s.Mean
	s.Mean += delta / n
	s.M2 += delta * (f - s.Mean)
	s.Mins = insertExtreme(s.Mins, f, func(a, b float64) bool { return a < b })
	s.Maxs = insertExtreme(s.Maxs, f, func(a, b float64) bool { return a > b })
}

// insertExtreme inserts f into the list ordered by less, keeping at most
// maxExtremes distinct values.
func insertExtreme(list []float64, f float64, less func(a, b float64) bool) []float64 {
	i := 0
	for i < len(list) && less(list[i], f) {
		i++
	}
	if i < len(list) && list[i] == f {
		return list
	}
	if i == maxExtremes {
		return list
	}
	if len(list) < maxExtremes {
		list = append(list, 0)
	}
	copy(list[i+1:], list[i:len(list)-1])
	list[i] = f
	return list
}

// Merge folds o into s using the pairwise update of the mean and M2.
func (s *Stats) Merge(o *Stats) *Stats {
	na, nb := float64(s.Finite()), float64(o.Finite())
	if n := na + nb; nb > 0 {
		delta := o.Mean - s.Mean
		s.Mean += delta * nb / n
		s.M2 += o.M2 + delta*delta*na*nb/n
	}
	s.Rows += o.Rows
	s.NonZero += o.NonZero
	s.Missing += o.Missing
	s.PosInf += o.PosInf
	s.NegInf += o.NegInf
	s.Bytes += o.Bytes
	s.Checksum ^= o.Checksum
	s.nonInt = s.nonInt || o.nonInt
	less := func(a, b float64) bool { return a < b }
	for _, f := range o.Mins {
		s.Mins = insertExtreme(s.Mins, f, less)
	}
	greater := func(a, b float64) bool { return a > b }
	for _, f := range o.Maxs {
		s.Maxs = insertExtreme(s.Maxs, f, greater)
	}
	return s
}

func (s *Stats) finish() (*Stats, error) {
	s.State = Ready
	s.IsInt = !s.nonInt && s.Finite() > 0
	return s, nil
}

// ComputeStats runs the first pass over src.
func ComputeStats(ctx context.Context, src Source, cfg Config) (*Stats, error) {
	cfg.EnsureDefaults()
	return mr.Run(ctx, cfg.Scheduler, src.NumChunks(), mr.Reducer[*Stats]{
		Map: func(ctx context.Context, i int) (*Stats, error) {
			c, err := src.Chunk(ctx, i)
			if err != nil {
				return nil, err
			}
			return ChunkStats(c, src.ChunkStart(i)), nil
		},
		Reduce:     (*Stats).Merge,
		Identity:   newStats,
		PostGlobal: (*Stats).finish,
	})
}

// histogram describes the bins of the second pass.
type histogram struct {
	base, stride float64
	bins         int
}

func newHistogram(s *Stats, cardinality int, cfg Config) histogram {
	switch {
	case cardinality > 0:
		h := histogram{base: 0, stride: 1, bins: cardinality}
		if cardinality > cfg.CategoricalBins {
			h.bins = cfg.CategoricalBins
			h.stride = float64(cardinality) / float64(cfg.CategoricalBins)
		}
		return h
	case s.Rows == 0:
		return histogram{stride: 1}
	case len(s.Mins) == 0:
		// Only infinities.
		return histogram{stride: 1, bins: 1}
	}
	lo, hi := s.Mins[0], s.Maxs[0]
	if s.IsInt && hi-lo+1 <= float64(cfg.HistogramBins) {
		return histogram{base: lo, stride: 1, bins: int(hi-lo) + 1}
	}
	if hi == lo {
		return histogram{base: lo, stride: 1, bins: 1}
	}
	return histogram{base: lo, stride: (hi - lo) / float64(cfg.HistogramBins), bins: cfg.HistogramBins}
}

// bin returns the bin of a non-missing value, clamping values outside the
// range (infinities among them) into the end bins.
func (h histogram) bin(f float64) int {
	if math.IsInf(f, 1) {
		return h.bins - 1
	}
	if math.IsInf(f, -1) {
		return 0
	}
	i := int(math.Floor((f - h.base) / h.stride))
	return max(0, min(i, h.bins-1))
}

// ComputeHistogram runs the second pass over src and returns a copy of s with
// the histogram and percentiles. s must be a Ready record of src.
func ComputeHistogram(ctx context.Context, src Source, s *Stats, cfg Config) (*Stats, error) {
	if s.State != Ready {
		return nil, errors.AssertionFailedf("rollup: histogram of a %s record", s.State)
	}
	cfg.EnsureDefaults()
	h := newHistogram(s, src.Cardinality(), cfg)
	bins, err := mr.Run(ctx, cfg.Scheduler, src.NumChunks(), mr.Reducer[[]int64]{
		Map: func(ctx context.Context, i int) ([]int64, error) {
			c, err := src.Chunk(ctx, i)
			if err != nil {
				return nil, err
			}
			out := make([]int64, h.bins)
			if !c.IsNumeric() || h.bins == 0 {
				return out, nil
			}
			vals := c.Floats(nil, 0, c.Len())
			for _, f := range vals {
				if !math.IsNaN(f) {
					out[h.bin(f)]++
				}
			}
			return out, nil
		},
		Reduce: func(a, b []int64) []int64 {
			for i := range a {
				a[i] += b[i]
			}
			return a
		},
		Identity: func() []int64 { return make([]int64, h.bins) },
	})
	if err != nil {
		return nil, err
	}
	out := *s
	out.Bins = bins
	out.Base, out.Stride = h.base, h.stride
	out.Probes = append([]float64(nil), cfg.Probes...)
	out.Percentiles = make([]float64, len(cfg.Probes))
	for i, p := range cfg.Probes {
		out.Percentiles[i] = out.percentile(p)
	}
	return &out, nil
}

// percentile estimates the p-quantile by linear interpolation between the
// two order statistics straddling (Rows-1)*p, each estimated within its bin.
func (s *Stats) percentile(p float64) float64 {
	var total int64
	for _, n := range s.Bins {
		total += n
	}
	if total == 0 {
		return math.NaN()
	}
	pos := float64(total-1) * p
	k := int64(math.Floor(pos))
	v := s.orderStat(k)
	if frac := pos - float64(k); frac > 0 && k+1 < total {
		v += frac * (s.orderStat(k+1) - v)
	}
	return v
}

// orderStat estimates the k-th smallest value. Values of a bin are taken to be
// spread evenly across it; bins of width one over integers are exact.
func (s *Stats) orderStat(k int64) float64 {
	var cum int64
	for b, n := range s.Bins {
		if cum+n > k {
			var v float64
			if s.IsInt && s.Stride == 1 {
				v = s.Base + float64(b)
			} else {
				t := (float64(k-cum) + 0.5) / float64(n)
				v = s.Base + s.Stride*(float64(b)+t)
			}
			return max(s.Min(), min(v, s.Max()))
		}
		cum += n
	}
	return s.Max()
}
