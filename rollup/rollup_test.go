// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package rollup

import (
	"context"
	"math"
	"math/rand/v2"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/colvec/chunk"
	"github.com/cockroachdb/colvec/internal/base"
	"github.com/cockroachdb/colvec/keys"
	"github.com/cockroachdb/colvec/kv"
	"github.com/cockroachdb/colvec/metrics"
	"github.com/cockroachdb/colvec/mr"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

// memSource is a column held in memory.
type memSource struct {
	key    keys.Key
	chunks []*chunk.Chunk
	starts []int64
	card   int
	// fail, if set, is returned when reading chunk 0.
	fail atomic.Pointer[error]
}

func newSource(t *testing.T, key keys.Key, rowsPerChunk int, vals []float64) *memSource {
	s := &memSource{key: key}
	for from := 0; from < len(vals); from += rowsPerChunk {
		b := chunk.NewBuilder(chunk.Config{})
		for _, f := range vals[from:min(from+rowsPerChunk, len(vals))] {
			if math.IsNaN(f) {
				b.AddMissing()
			} else {
				b.AddFloat(f)
			}
		}
		c, err := b.Freeze()
		require.NoError(t, err)
		s.chunks = append(s.chunks, c)
		s.starts = append(s.starts, int64(from))
	}
	return s
}

func (s *memSource) Key() keys.Key          { return s.key }
func (s *memSource) NumChunks() int         { return len(s.chunks) }
func (s *memSource) ChunkStart(i int) int64 { return s.starts[i] }
func (s *memSource) Cardinality() int       { return s.card }

func (s *memSource) Chunk(_ context.Context, i int) (*chunk.Chunk, error) {
	if err := s.fail.Load(); err != nil && i == 0 {
		return nil, *err
	}
	return s.chunks[i], nil
}

func randomValues(rng *rand.Rand, n int) []float64 {
	vals := make([]float64, n)
	for i := range vals {
		switch rng.IntN(10) {
		case 0:
			vals[i] = math.NaN()
		case 1:
			vals[i] = 0
		default:
			vals[i] = math.Round(rng.NormFloat64()*1000) / 100
		}
	}
	return vals
}

func TestStatsConstant(t *testing.T) {
	vals := make([]float64, 1000)
	for i := range vals {
		vals[i] = 1
	}
	src := newSource(t, keys.NewGroup().ColumnKey(1), 64, vals)
	s, err := ComputeStats(context.Background(), src, Config{})
	require.NoError(t, err)
	require.Equal(t, Ready, s.State)
	require.Equal(t, int64(1000), s.Rows)
	require.Equal(t, int64(1000), s.NonZero)
	require.Equal(t, int64(0), s.Missing)
	require.Equal(t, 1.0, s.Min())
	require.Equal(t, 1.0, s.Max())
	require.Equal(t, 1.0, s.Mean)
	require.Equal(t, 0.0, s.Sigma())
	require.True(t, s.IsInt)
	require.Equal(t, []float64{1}, s.Mins)
	require.Equal(t, []float64{1}, s.Maxs)
}

func TestStatsEmpty(t *testing.T) {
	src := &memSource{key: keys.NewGroup().ColumnKey(1)}
	s, err := ComputeStats(context.Background(), src, Config{})
	require.NoError(t, err)
	require.Equal(t, Ready, s.State)
	require.Equal(t, int64(0), s.Rows)
	require.False(t, s.IsInt)
	require.True(t, math.IsNaN(s.Min()))

	s, err = ComputeHistogram(context.Background(), src, s, Config{})
	require.NoError(t, err)
	require.True(t, s.HasHistogram())
	require.Empty(t, s.Bins)
	require.Equal(t, -1, s.Mode())
}

func TestStatsRandom(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	for _, n := range []int{1, 7, 1000, 10000} {
		vals := randomValues(rng, n)
		src := newSource(t, keys.NewGroup().ColumnKey(1), 1+rng.IntN(500), vals)
		s, err := ComputeStats(context.Background(), src, Config{Scheduler: &mr.Scheduler{Concurrency: 3}})
		require.NoError(t, err)

		var finite []float64
		var missing, nonzero int64
		var sum float64
		for _, f := range vals {
			switch {
			case math.IsNaN(f):
				missing++
				continue
			case f != 0:
				nonzero++
			}
			finite = append(finite, f)
			sum += f
		}
		require.Equal(t, missing, s.Missing)
		require.Equal(t, nonzero, s.NonZero)
		require.Equal(t, int64(len(finite)), s.Rows)
		if len(finite) == 0 {
			continue
		}
		mean := sum / float64(len(finite))
		require.InDelta(t, mean, s.Mean, 1e-9*math.Max(1, math.Abs(mean)))
		var m2 float64
		for _, f := range finite {
			m2 += (f - mean) * (f - mean)
		}
		require.InDelta(t, m2, s.M2, 1e-6*math.Max(1, m2))

		distinct := slices.Compact(slices.Sorted(slices.Values(finite)))
		k := min(maxExtremes, len(distinct))
		require.Equal(t, distinct[:k], s.Mins)
		slices.Reverse(distinct)
		require.Equal(t, distinct[:k], s.Maxs)
	}
}

func TestStatsInfinities(t *testing.T) {
	vals := []float64{math.Inf(1), 3, math.NaN(), math.Inf(-1), 4}
	src := newSource(t, keys.NewGroup().ColumnKey(1), 2, vals)
	s, err := ComputeStats(context.Background(), src, Config{})
	require.NoError(t, err)
	require.Equal(t, int64(4), s.Rows)
	require.Equal(t, int64(2), s.Finite())
	require.Equal(t, int64(1), s.PosInf)
	require.Equal(t, int64(1), s.NegInf)
	require.Equal(t, math.Inf(-1), s.Min())
	require.Equal(t, math.Inf(1), s.Max())
	require.Equal(t, 3.5, s.Mean)
	require.False(t, s.IsInt)
}

// TestMergeOrder checks that the tree reduction agrees with a sequential fold
// of the per-chunk statistics.
func TestMergeOrder(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 4))
	vals := randomValues(rng, 5000)
	src := newSource(t, keys.NewGroup().ColumnKey(1), 97, vals)

	seq := newStats()
	for i := range src.chunks {
		seq = seq.Merge(ChunkStats(src.chunks[i], src.starts[i]))
	}
	seq, _ = seq.finish()

	tree, err := ComputeStats(context.Background(), src, Config{Scheduler: &mr.Scheduler{Concurrency: 4}})
	require.NoError(t, err)
	require.Equal(t, seq.Rows, tree.Rows)
	require.Equal(t, seq.Missing, tree.Missing)
	require.Equal(t, seq.NonZero, tree.NonZero)
	require.Equal(t, seq.Checksum, tree.Checksum)
	require.Equal(t, seq.Bytes, tree.Bytes)
	require.Equal(t, seq.Mins, tree.Mins)
	require.Equal(t, seq.Maxs, tree.Maxs)
	require.InDelta(t, seq.Mean, tree.Mean, 1e-9)
	require.InDelta(t, seq.M2, tree.M2, 1e-6*seq.M2)

	// The checksum depends on the position of the values.
	shifted := newSource(t, src.key, 97, append([]float64{0}, vals[:len(vals)-1]...))
	other, err := ComputeStats(context.Background(), shifted, Config{})
	require.NoError(t, err)
	require.NotEqual(t, tree.Checksum, other.Checksum)
}

func TestHistogramIntegers(t *testing.T) {
	vals := make([]float64, 100)
	for i := range vals {
		vals[i] = float64(99 - i)
	}
	vals = append(vals, math.NaN(), 42)
	src := newSource(t, keys.NewGroup().ColumnKey(1), 30, vals)
	ctx := context.Background()
	s, err := ComputeStats(ctx, src, Config{})
	require.NoError(t, err)
	require.True(t, s.IsInt)
	s, err = ComputeHistogram(ctx, src, s, Config{})
	require.NoError(t, err)
	require.Len(t, s.Bins, 100)
	require.Equal(t, 1.0, s.Stride)
	require.Equal(t, 0.0, s.Base)
	require.Equal(t, 42, s.Mode())
	var sum int64
	for _, n := range s.Bins {
		sum += n
	}
	require.Equal(t, s.Rows, sum)

	// 101 values: the median is the 51st smallest, 42 being counted twice.
	p, ok := s.Percentile(0.5)
	require.True(t, ok)
	require.Equal(t, 49.0, p)
	p, _ = s.Percentile(0.999)
	require.InDelta(t, 99, p, 0.2)
	_, ok = s.Percentile(0.123)
	require.False(t, ok)
}

func TestHistogramFloats(t *testing.T) {
	rng := rand.New(rand.NewPCG(5, 6))
	vals := randomValues(rng, 20000)
	vals = append(vals, math.Inf(1))
	src := newSource(t, keys.NewGroup().ColumnKey(1), 1000, vals)
	ctx := context.Background()
	s, err := ComputeStats(ctx, src, Config{})
	require.NoError(t, err)
	cfg := Config{HistogramBins: 200}
	cfg.EnsureDefaults()
	s, err = ComputeHistogram(ctx, src, s, cfg)
	require.NoError(t, err)
	require.Len(t, s.Bins, 200)
	var sum int64
	for _, n := range s.Bins {
		sum += n
	}
	require.Equal(t, s.Rows, sum)
	require.Equal(t, int64(1), s.PosInf)

	var sorted []float64
	for _, f := range vals {
		if !math.IsNaN(f) {
			sorted = append(sorted, f)
		}
	}
	slices.Sort(sorted)
	for i, p := range s.Probes {
		pos := float64(len(sorted)-1) * p
		lo := sorted[int(math.Floor(pos))]
		hi := sorted[int(math.Ceil(pos))]
		if math.IsInf(hi, 1) {
			continue
		}
		require.GreaterOrEqual(t, s.Percentiles[i], lo-s.Stride, "p=%v", p)
		require.LessOrEqual(t, s.Percentiles[i], hi+s.Stride, "p=%v", p)
	}
}

func TestHistogramCategorical(t *testing.T) {
	vals := []float64{0, 1, 1, 2, 2, 2, math.NaN()}
	src := newSource(t, keys.NewGroup().ColumnKey(1), 4, vals)
	src.card = 4
	ctx := context.Background()
	s, err := ComputeStats(ctx, src, Config{})
	require.NoError(t, err)
	s, err = ComputeHistogram(ctx, src, s, Config{})
	require.NoError(t, err)
	require.Equal(t, []int64{1, 2, 3, 0}, s.Bins)
	require.Equal(t, 2, s.Mode())

	s, err = ComputeHistogram(ctx, src, s, Config{CategoricalBins: 2})
	require.NoError(t, err)
	require.Equal(t, []int64{3, 3}, s.Bins)
}

func TestEncoding(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 8))
	src := newSource(t, keys.NewGroup().ColumnKey(1), 100, randomValues(rng, 1000))
	ctx := context.Background()
	s, err := ComputeStats(ctx, src, Config{})
	require.NoError(t, err)
	for _, histogram := range []bool{false, true} {
		if histogram {
			cfg := Config{}
			cfg.EnsureDefaults()
			s, err = ComputeHistogram(ctx, src, s, cfg)
			require.NoError(t, err)
		}
		buf := s.encode()
		got, err := decodeStats(buf)
		require.NoError(t, err)
		require.Equal(t, buf, got.encode())
		require.Equal(t, s.String(), got.String())
		require.Equal(t, histogram, got.HasHistogram())

		_, err = decodeStats(buf[:len(buf)-1])
		require.Error(t, err)
		_, err = decodeStats(append(buf, 0))
		require.Error(t, err)
	}

	got, err := decodeStats(encodeComputing(3))
	require.NoError(t, err)
	require.Equal(t, Computing, got.State)
	require.Equal(t, "computing", got.String())
	_, err = decodeStats([]byte{9})
	require.True(t, errors.HasAssertionFailure(err))
}

// cluster is a set of coordinators over an in-process cluster.
type cluster struct {
	kv     *kv.Cluster
	coords []*Coordinator
	// sources resolves columns on every node.
	mu      sync.Mutex
	sources map[keys.Key]*memSource
}

func newCluster(t *testing.T, nodes int, beforeCompute func(keys.Key)) *cluster {
	c := &cluster{
		kv:      kv.NewCluster(kv.ClusterOptions{Nodes: nodes, Logger: base.NoopLogger{}}),
		sources: map[keys.Key]*memSource{},
	}
	for i := 0; i < nodes; i++ {
		c.coords = append(c.coords, NewCoordinator(c.kv.Node(kv.NodeID(i)), Options{
			Resolver: func(_ context.Context, col keys.Key) (Source, error) {
				c.mu.Lock()
				defer c.mu.Unlock()
				src, ok := c.sources[col]
				if !ok {
					return nil, base.ErrNotFound
				}
				return src, nil
			},
			Metrics:       metrics.New(nil),
			BeforeCompute: beforeCompute,
		}))
	}
	t.Cleanup(func() {
		for _, co := range c.coords {
			_ = co.Close()
		}
	})
	return c
}

func (c *cluster) add(src *memSource) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sources[src.key] = src
}

func (c *cluster) home(col keys.Key) int {
	return int(c.kv.Node(0).Home(col.Rollup()))
}

func (c *cluster) computations() int64 {
	var n int64
	for _, co := range c.coords {
		n += co.Computations()
	}
	return n
}

func TestCoordinatorCoalesces(t *testing.T) {
	ctx := context.Background()
	gate := make(chan struct{})
	c := newCluster(t, 3, func(keys.Key) { <-gate })
	col := keys.NewGroup().ColumnKey(1)
	src := newSource(t, col, 10, []float64{1, 2, 3, 4, 5})
	c.add(src)

	const requests = 24
	var wg sync.WaitGroup
	results := make([]*Stats, requests)
	errs := make([]error, requests)
	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.coords[i%3].Request(ctx, src, false)
		}(i)
	}
	close(gate)
	wg.Wait()
	for i := range results {
		require.NoError(t, errs[i])
		require.Equal(t, 3.0, results[i].Mean)
	}
	require.Equal(t, int64(1), c.computations())
	require.Equal(t, int64(1), c.coords[c.home(col)].Computations())

	// Asking for the histogram runs only the second pass.
	s, err := c.coords[0].Request(ctx, src, true)
	require.NoError(t, err)
	require.True(t, s.HasHistogram())
	require.Equal(t, int64(2), c.computations())
	s, err = c.coords[1].Request(ctx, src, false)
	require.NoError(t, err)
	require.True(t, s.HasHistogram())
	require.Equal(t, int64(2), c.computations())
}

func TestCoordinatorHistogramUpgrade(t *testing.T) {
	ctx := context.Background()
	entered := make(chan struct{})
	gate := make(chan struct{})
	var hooks atomic.Int32
	c := newCluster(t, 1, func(keys.Key) {
		if hooks.Add(1) == 1 {
			close(entered)
		}
		<-gate
	})
	co := c.coords[0]
	col := keys.NewGroup().ColumnKey(1)
	src := newSource(t, col, 10, []float64{1, 2, 3, 4, 5})
	c.add(src)

	var wg sync.WaitGroup
	var stats *Stats
	var statsErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		stats, statsErr = co.Request(ctx, src, false)
	}()
	<-entered

	// Requests for the histogram wait on the statistics already in flight
	// rather than starting a computation of their own.
	const requests = 2
	results := make([]*Stats, requests)
	errs := make([]error, requests)
	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = co.Request(ctx, src, true)
		}(i)
	}
	require.Eventually(t, func() bool {
		return co.Coalesced() == requests
	}, 10*time.Second, time.Millisecond)
	require.Equal(t, int64(1), co.Computations())
	close(gate)
	wg.Wait()

	require.NoError(t, statsErr)
	require.Equal(t, 3.0, stats.Mean)
	for i := range results {
		require.NoError(t, errs[i])
		require.True(t, results[i].HasHistogram())
		require.Equal(t, 3.0, results[i].Mean)
	}
	// One statistics pass and one histogram pass.
	require.Equal(t, int64(2), c.computations())
}

func TestCoordinatorComputingRecord(t *testing.T) {
	ctx := context.Background()
	c := newCluster(t, 1, nil)
	co := c.coords[0]
	store := c.kv.Node(0)
	col := keys.NewGroup().ColumnKey(1)
	src := newSource(t, col, 10, []float64{1, 2})
	c.add(src)

	// A computation of another node is never replaced.
	foreign := encodeComputing(1)
	store.Put(col.Rollup(), foreign, nil)
	_, err := co.Request(ctx, src, false)
	require.True(t, errors.HasAssertionFailure(err))
	got, _ := store.Get(col.Rollup())
	require.Equal(t, foreign, got)
	require.Equal(t, int64(0), co.Computations())

	// A computation this node abandoned is.
	store.Put(col.Rollup(), encodeComputing(store.Self()), nil)
	s, err := co.Request(ctx, src, false)
	require.NoError(t, err)
	require.Equal(t, 1.5, s.Mean)
	require.Equal(t, int64(1), co.Computations())
}

func TestCoordinatorRemote(t *testing.T) {
	ctx := context.Background()
	c := newCluster(t, 4, nil)
	col := keys.NewGroup().ColumnKey(7)
	src := newSource(t, col, 10, []float64{2, 4, math.NaN()})
	c.add(src)
	home := c.home(col)
	requester := (home + 1) % 4

	s, err := c.coords[requester].Request(ctx, src, true)
	require.NoError(t, err)
	require.Equal(t, 3.0, s.Mean)
	require.Equal(t, int64(1), s.Missing)
	require.Equal(t, int64(0), c.coords[requester].Computations())
	require.Equal(t, int64(2), c.coords[home].Computations())
	require.Positive(t, c.kv.Stats().Calls)

	peeked, err := c.coords[requester].Peek(col)
	require.NoError(t, err)
	require.Equal(t, s.encode(), peeked.encode())

	// The home node cannot resolve a column it does not know.
	unknown := newSource(t, keys.NewGroup().ColumnKey(1), 10, []float64{1})
	requester = (c.home(unknown.key) + 1) % 4
	_, err = c.coords[requester].Request(ctx, unknown, false)
	require.True(t, errors.Is(err, base.ErrNotFound))
}

func TestCoordinatorMutating(t *testing.T) {
	ctx := context.Background()
	c := newCluster(t, 2, nil)
	col := keys.NewGroup().ColumnKey(1)
	src := newSource(t, col, 10, []float64{1, 1, 1})
	c.add(src)
	co := c.coords[0]

	s, err := co.Request(ctx, src, false)
	require.NoError(t, err)
	require.Equal(t, 1.0, s.Mean)

	require.NoError(t, co.PreWriting(ctx, col))
	require.NoError(t, co.PreWriting(ctx, col))
	for _, other := range c.coords {
		_, err = other.Request(ctx, src, false)
		require.True(t, errors.Is(err, base.ErrMutating))
		require.Contains(t, err.Error(), "being modified")
	}

	// A write replaces the column contents; after the episode the next
	// request sees the new values.
	updated := newSource(t, col, 10, []float64{5, 5, 5})
	c.add(updated)
	require.NoError(t, co.PostWrite(ctx, col))
	peeked, err := co.Peek(col)
	require.NoError(t, err)
	require.Nil(t, peeked)
	s, err = c.coords[1].Request(ctx, updated, false)
	require.NoError(t, err)
	require.Equal(t, 5.0, s.Mean)
}

func TestCoordinatorWriteDuringCompute(t *testing.T) {
	ctx := context.Background()
	var c *cluster
	var once sync.Once
	c = newCluster(t, 1, func(col keys.Key) {
		once.Do(func() {
			_ = c.coords[0].PreWriting(ctx, col)
		})
	})
	col := keys.NewGroup().ColumnKey(1)
	src := newSource(t, col, 10, []float64{1, 2})
	c.add(src)

	_, err := c.coords[0].Request(ctx, src, false)
	require.True(t, errors.Is(err, base.ErrMutating))
	s, err := c.coords[0].Peek(col)
	require.NoError(t, err)
	require.Equal(t, Mutating, s.State)

	require.NoError(t, c.coords[0].PostWrite(ctx, col))
	s, err = c.coords[0].Request(ctx, src, false)
	require.NoError(t, err)
	require.Equal(t, 1.5, s.Mean)
}

func TestCoordinatorError(t *testing.T) {
	ctx := context.Background()
	c := newCluster(t, 2, nil)
	col := keys.NewGroup().ColumnKey(1)
	src := newSource(t, col, 10, []float64{1, 2})
	c.add(src)
	boom := errors.New("boom")
	src.fail.Store(&boom)

	for _, co := range c.coords {
		_, err := co.Request(ctx, src, false)
		require.True(t, errors.Is(err, boom))
		require.Contains(t, err.Error(), "computing rollups")
	}
	// Failures are not cached.
	s, err := c.coords[0].Peek(col)
	require.NoError(t, err)
	require.Nil(t, s)

	src.fail.Store(nil)
	s, err = c.coords[1].Request(ctx, src, false)
	require.NoError(t, err)
	require.Equal(t, 1.5, s.Mean)

	require.NoError(t, c.coords[0].Discard(ctx, col, nil))
	s, err = c.coords[1].Peek(col)
	require.NoError(t, err)
	require.Nil(t, s)
}

func TestCoordinatorClosed(t *testing.T) {
	c := newCluster(t, 1, nil)
	co := c.coords[0]
	require.NoError(t, co.Close())
	require.True(t, errors.Is(co.Close(), base.ErrClosed))
	src := newSource(t, keys.NewGroup().ColumnKey(1), 10, []float64{1})
	_, err := co.Request(context.Background(), src, false)
	require.True(t, errors.Is(err, base.ErrClosed))
}
