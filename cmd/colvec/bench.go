// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package main

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/cockroachdb/colvec"
	"github.com/cockroachdb/colvec/internal/randvar"
	"github.com/cockroachdb/crlib/crtime"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const (
	minLatency = 100 * time.Nanosecond
	maxLatency = 10 * time.Second
)

var benchConfig struct {
	concurrency   int
	duration      time.Duration
	writePercent  int
	rollupPercent int
	skew          bool
}

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "benchmark random row reads against a generated column",
	Long: `
Generate a column and read random rows from every node concurrently. Reads of
chunks homed on other nodes go through the cluster's transfer path. Optionally
mix in single-row write episodes and rollup requests; rollup requests that
race with a write episode fail and are counted separately. With --skew, rows
are drawn from a Zipf distribution so that the first chunks are hot.
`,
	Args: cobra.NoArgs,
	RunE: runBench,
}

type namedHistogram struct {
	name string
	mu   struct {
		sync.Mutex
		hist *hdrhistogram.Histogram
	}
}

func newNamedHistogram(name string) *namedHistogram {
	w := &namedHistogram{name: name}
	w.mu.hist = hdrhistogram.New(minLatency.Nanoseconds(), maxLatency.Nanoseconds(), 2)
	return w
}

func (w *namedHistogram) Record(elapsed time.Duration) {
	elapsed = max(minLatency, min(maxLatency, elapsed))
	w.mu.Lock()
	err := w.mu.hist.RecordValue(elapsed.Nanoseconds())
	w.mu.Unlock()
	if err != nil {
		// The latency is clamped to the histogram's range.
		panic(fmt.Sprintf(`%s: recording value: %s`, w.name, err))
	}
}

func (w *namedHistogram) print(out io.Writer, elapsed time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	h := w.mu.hist
	if h.TotalCount() == 0 {
		return
	}
	fmt.Fprintf(out, "%-7s %10d %12.1f %10s %10s %10s %10s\n",
		w.name, h.TotalCount(), float64(h.TotalCount())/elapsed.Seconds(),
		time.Duration(h.ValueAtQuantile(50)), time.Duration(h.ValueAtQuantile(95)),
		time.Duration(h.ValueAtQuantile(99)), time.Duration(h.Max()))
}

func runBench(cmd *cobra.Command, args []string) error {
	names, err := selectedDists()
	if err != nil {
		return err
	}
	if len(names) != 1 {
		names = []string{"floats"}
	}
	if typ := distributions[names[0]].typ; typ != colvec.TypeNumeric {
		return errors.Newf("bench requires a numeric distribution, %s is %s", names[0], typ)
	}
	if benchConfig.writePercent+benchConfig.rollupPercent > 100 {
		return errors.Newf("write and rollup percentages sum to more than 100")
	}
	e, err := newEnv()
	if err != nil {
		return err
	}
	defer func() { _ = e.close() }()

	ctx := context.Background()
	c, err := e.generate(ctx, names[0])
	if err != nil {
		return err
	}
	fmt.Printf("%s column %s: %d rows in %d chunks on %d nodes\n",
		names[0], c.Key(), c.Len(), c.NumChunks(), len(e.dbs))

	reads := newNamedHistogram("read")
	writes := newNamedHistogram("write")
	rollups := newNamedHistogram("rollup")
	var mutating atomic.Int64

	ctx, cancel := context.WithTimeout(ctx, benchConfig.duration)
	defer cancel()
	start := crtime.NowMono()
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < benchConfig.concurrency; i++ {
		rng := rand.New(rand.NewPCG(seed, uint64(i)))
		d := e.dbs[i%len(e.dbs)]
		g.Go(func() error {
			col, err := d.OpenColumn(ctx, c.Key())
			if err != nil {
				return err
			}
			nextRow := func() int64 { return rng.Int64N(col.Len()) }
			if benchConfig.skew && col.Len() > 1 {
				z, err := randvar.NewZipf(rng, uint64(col.Len()), 0.99)
				if err != nil {
					return err
				}
				nextRow = func() int64 { return int64(z.Uint64()) }
			}
			for ctx.Err() == nil {
				row := nextRow()
				opStart := crtime.NowMono()
				switch op := rng.IntN(100); {
				case op < benchConfig.writePercent:
					if err := writeRow(ctx, col, row, rng.Float64()); err != nil {
						return err
					}
					writes.Record(opStart.Elapsed())
				case op < benchConfig.writePercent+benchConfig.rollupPercent:
					if _, err := col.Rollups(ctx); errors.Is(err, colvec.ErrMutating) {
						mutating.Add(1)
						continue
					} else if err != nil {
						return err
					}
					rollups.Record(opStart.Elapsed())
				default:
					if _, err := col.At(ctx, row); err != nil {
						return err
					}
					reads.Record(opStart.Elapsed())
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	elapsed := start.Elapsed()

	fmt.Printf("\n%-7s %10s %12s %10s %10s %10s %10s\n", "op", "ops", "ops/sec", "p50", "p95", "p99", "max")
	for _, h := range []*namedHistogram{reads, writes, rollups} {
		h.print(os.Stdout, elapsed)
	}
	if n := mutating.Load(); n > 0 {
		fmt.Printf("%d rollup requests raced with a write episode\n", n)
	}
	printTransfers(os.Stdout, e)
	return nil
}

// writeRow stores f at row in its own write episode.
func writeRow(ctx context.Context, col *colvec.Column, row int64, f float64) error {
	w, err := col.BeginWrite(ctx)
	if err != nil {
		return err
	}
	return errors.CombineErrors(w.Set(ctx, row, f), w.End(ctx))
}
