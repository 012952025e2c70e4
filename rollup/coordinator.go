// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package rollup

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/colvec/internal/base"
	"github.com/cockroachdb/colvec/keys"
	"github.com/cockroachdb/colvec/kv"
	"github.com/cockroachdb/colvec/metrics"
	"github.com/cockroachdb/crlib/crtime"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/swiss"
	"github.com/google/uuid"
)

// MethodCompute is the remote call routing a request to the home node of a
// rollup record.
const MethodCompute = "rollup.compute"

// errStale is returned internally when the request must re-read the record
// and try again.
var errStale = errors.New("rollup: record changed during computation")

// MutatingError returns the error of a request for a column that has an open
// write episode.
func MutatingError(col keys.Key) error {
	return errors.Mark(
		errors.Newf("can not access rollups while column %s is being modified", col),
		base.ErrMutating)
}

// Resolver opens the column with the given key on the local node. The home
// node of a rollup record uses it to serve requests routed from other nodes.
type Resolver func(ctx context.Context, col keys.Key) (Source, error)

// Options configures a Coordinator.
type Options struct {
	Config
	// Resolver is required to serve requests from other nodes.
	Resolver Resolver
	Logger   base.Logger
	Metrics  *metrics.Metrics

	// BeforeCompute, if set, is called on the home node after the Computing
	// record is installed and before the passes run. For tests.
	BeforeCompute func(col keys.Key)
}

// call is an in-flight computation shared by every request that joins it.
type call struct {
	done      chan struct{}
	histogram bool
	stats     *Stats
	err       error
}

// Coordinator serves rollup requests on one node and computes the records the
// node is home to.
type Coordinator struct {
	store kv.Store
	opts  Options

	mu struct {
		sync.Mutex
		closed   bool
		inflight swiss.Map[keys.Key, *call]
		// markers holds the Computing record installed by each computation
		// running on this node.
		markers swiss.Map[keys.Key, []byte]
	}
	wg sync.WaitGroup

	computations atomic.Int64
	coalesced    atomic.Int64
}

// NewCoordinator returns a coordinator over store and registers its remote
// call handler.
func NewCoordinator(store kv.Store, opts Options) *Coordinator {
	opts.Config.EnsureDefaults()
	if opts.Logger == nil {
		opts.Logger = base.NoopLogger{}
	}
	c := &Coordinator{store: store, opts: opts}
	c.mu.inflight.Init(16)
	c.mu.markers.Init(16)
	store.Handle(MethodCompute, c.handle)
	return c
}

// Close waits for in-flight computations. Requests after Close fail.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	if c.mu.closed {
		c.mu.Unlock()
		return base.ErrClosed
	}
	c.mu.closed = true
	c.mu.Unlock()
	c.wg.Wait()
	return nil
}

// Computations returns the number of passes this node has run.
func (c *Coordinator) Computations() int64 { return c.computations.Load() }

// Coalesced returns the number of requests that waited on a computation
// already in flight on this node.
func (c *Coordinator) Coalesced() int64 { return c.coalesced.Load() }

// Peek returns the record of the column without computing it. A nil record
// means the column has none.
func (c *Coordinator) Peek(col keys.Key) (*Stats, error) {
	raw, ok := c.store.Get(col.Rollup())
	if !ok {
		return nil, nil
	}
	return decodeStats(raw)
}

// Request returns the Ready record of src, with a histogram if histogram is
// set, computing it if necessary. It fails with an error marked
// base.ErrMutating if the column has an open write episode.
func (c *Coordinator) Request(ctx context.Context, src Source, histogram bool) (*Stats, error) {
	col := src.Key()
	for {
		s, err := c.Peek(col)
		if err != nil {
			return nil, err
		}
		if s != nil {
			switch s.State {
			case Mutating:
				return nil, MutatingError(col)
			case Ready:
				if !histogram || s.HasHistogram() {
					return s, nil
				}
			}
		}
		s, err = c.join(ctx, src, histogram)
		if errors.Is(err, errStale) {
			continue
		}
		return s, err
	}
}

// join waits for an in-flight computation for the column or starts one.
func (c *Coordinator) join(ctx context.Context, src Source, histogram bool) (*Stats, error) {
	key := src.Key().Rollup()
	c.mu.Lock()
	if c.mu.closed {
		c.mu.Unlock()
		return nil, base.ErrClosed
	}
	e, ok := c.mu.inflight.Get(key)
	switch {
	case ok && (e.histogram || !histogram):
		c.mu.Unlock()
		c.coalesce()
	case ok:
		// The computation in flight does not produce the histogram. Wait for
		// its statistics and retry, so that only the histogram pass runs.
		c.mu.Unlock()
		c.coalesce()
		select {
		case <-e.done:
			if e.err != nil {
				return nil, e.err
			}
			return nil, errStale
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	default:
		e = &call{done: make(chan struct{}), histogram: histogram}
		c.mu.inflight.Put(key, e)
		c.wg.Add(1)
		c.mu.Unlock()
		// The computation outlives the caller's context: other requests may
		// join it.
		go c.run(context.WithoutCancel(ctx), key, src, e)
	}
	select {
	case <-e.done:
		return e.stats, e.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Coordinator) coalesce() {
	c.coalesced.Add(1)
	c.opts.Metrics.RollupCoalesced()
}

func (c *Coordinator) run(ctx context.Context, key keys.Key, src Source, e *call) {
	defer c.wg.Done()
	e.stats, e.err = c.compute(ctx, src, e.histogram)
	c.mu.Lock()
	if cur, ok := c.mu.inflight.Get(key); ok && cur == e {
		c.mu.inflight.Delete(key)
	}
	c.mu.Unlock()
	close(e.done)
}

// compute produces the record on the home node, locally or through a remote
// call. Failures of the passes other than a concurrent write episode are
// wrapped once, on the home node.
func (c *Coordinator) compute(ctx context.Context, src Source, histogram bool) (*Stats, error) {
	col := src.Key()
	if home := c.store.Home(col.Rollup()); home != c.store.Self() {
		resp, err := c.store.Call(ctx, home, MethodCompute, encodeRequest(col, histogram))
		if err != nil {
			return nil, err
		}
		return decodeStats(resp)
	}
	s, err := c.computeLocal(ctx, src, histogram)
	if err != nil && !errors.Is(err, base.ErrMutating) && !errors.Is(err, errStale) {
		err = errors.Wrapf(err, "computing rollups for %s", col)
	}
	return s, err
}

// computeLocal runs the passes on the home node. The Computing record it
// installs is unique to this computation, so the final swap fails if a write
// episode started in the meantime. It never replaces the Computing record of
// another computation.
func (c *Coordinator) computeLocal(ctx context.Context, src Source, histogram bool) (*Stats, error) {
	col := src.Key()
	key := col.Rollup()
	prior, _ := c.store.Get(key)
	var ready *Stats
	if prior != nil {
		s, err := decodeStats(prior)
		if err != nil {
			return nil, err
		}
		switch s.State {
		case Mutating:
			return nil, MutatingError(col)
		case Ready:
			if !histogram || s.HasHistogram() {
				return s, nil
			}
			ready = s
		case Computing:
			if err := c.abandoned(col, prior); err != nil {
				return nil, err
			}
		}
	}

	marker := encodeComputing(c.store.Self())
	if got := c.store.CompareAndSwap(key, marker, prior, nil); !bytes.Equal(got, prior) {
		return nil, c.lost(col, got)
	}
	c.mu.Lock()
	c.mu.markers.Put(key, marker)
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.mu.markers.Delete(key)
		c.mu.Unlock()
	}()
	if c.opts.BeforeCompute != nil {
		c.opts.BeforeCompute(col)
	}

	s, err := c.passes(ctx, src, ready, histogram)
	if err != nil {
		// Restore the prior record; a write episode that started meanwhile
		// keeps its Mutating record.
		c.store.CompareAndSwap(key, prior, marker, nil)
		return nil, err
	}
	if got := c.store.CompareAndSwap(key, s.encode(), marker, nil); !bytes.Equal(got, marker) {
		return nil, c.lost(col, got)
	}
	return s, nil
}

func (c *Coordinator) passes(ctx context.Context, src Source, s *Stats, histogram bool) (*Stats, error) {
	if s == nil {
		start := crtime.NowMono()
		c.computations.Add(1)
		var err error
		s, err = ComputeStats(ctx, src, c.opts.Config)
		c.opts.Metrics.RollupComputed(metrics.PassStats, start.Elapsed(), err)
		if err != nil {
			return nil, err
		}
		c.opts.Logger.Infof("rollup: computed statistics of %s in %s", src.Key(), start.Elapsed())
	}
	if !histogram {
		return s, nil
	}
	start := crtime.NowMono()
	c.computations.Add(1)
	s, err := ComputeHistogram(ctx, src, s, c.opts.Config)
	c.opts.Metrics.RollupComputed(metrics.PassHistogram, start.Elapsed(), err)
	if err != nil {
		return nil, err
	}
	c.opts.Logger.Infof("rollup: computed %d-bin histogram of %s in %s", len(s.Bins), src.Key(), start.Elapsed())
	return s, nil
}

// abandoned returns nil if the Computing record found for col was left by a
// computation of this node that is no longer running, and may be replaced.
func (c *Coordinator) abandoned(col keys.Key, rec []byte) error {
	key := col.Rollup()
	if len(rec) < 2 || kv.NodeID(rec[1]) != c.store.Self() {
		return errors.AssertionFailedf("rollup: %s is being computed by another node", col)
	}
	c.mu.Lock()
	live, ok := c.mu.markers.Get(key)
	c.mu.Unlock()
	if ok && bytes.Equal(live, rec) {
		return errors.AssertionFailedf("rollup: %s is already being computed", col)
	}
	c.opts.Logger.Infof("rollup: replacing abandoned computation of %s", col)
	return nil
}

// lost interprets the record found after a failed swap.
func (c *Coordinator) lost(col keys.Key, got []byte) error {
	c.opts.Metrics.CASRetry(metrics.OpRollup)
	if got != nil {
		if s, err := decodeStats(got); err == nil && s.State == Mutating {
			return MutatingError(col)
		}
	}
	return errStale
}

// handle serves MethodCompute on the home node.
func (c *Coordinator) handle(ctx context.Context, req []byte) ([]byte, error) {
	col, histogram, err := decodeRequest(req)
	if err != nil {
		return nil, err
	}
	if c.opts.Resolver == nil {
		return nil, errors.AssertionFailedf("rollup: node %d cannot resolve column %s", c.store.Self(), col)
	}
	src, err := c.opts.Resolver(ctx, col)
	if err != nil {
		return nil, err
	}
	s, err := c.Request(ctx, src, histogram)
	if err != nil {
		return nil, err
	}
	return s.encode(), nil
}

// PreWriting installs a Mutating record for the column, whatever its state.
// It is idempotent.
func (c *Coordinator) PreWriting(ctx context.Context, col keys.Key) error {
	key := col.Rollup()
	mutating := []byte{byte(Mutating)}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		prior, _ := c.store.Get(key)
		if bytes.Equal(prior, mutating) {
			return nil
		}
		if got := c.store.CompareAndSwap(key, mutating, prior, nil); bytes.Equal(got, prior) {
			return nil
		}
		c.opts.Metrics.CASRetry(metrics.OpRollup)
	}
}

// PostWrite drops the Mutating record of the column. The next request
// recomputes the record.
func (c *Coordinator) PostWrite(ctx context.Context, col keys.Key) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	mutating := []byte{byte(Mutating)}
	c.store.CompareAndSwap(col.Rollup(), nil, mutating, nil)
	return nil
}

// Discard deletes the column's record in any state. If fs is non-nil the
// delete completes asynchronously.
func (c *Coordinator) Discard(ctx context.Context, col keys.Key, fs *kv.Futures) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.store.Delete(col.Rollup(), fs)
	return nil
}

// encodeComputing returns a Computing record unique to one computation.
func encodeComputing(node kv.NodeID) []byte {
	id := uuid.New()
	buf := append([]byte{byte(Computing), byte(node)}, id[:]...)
	return buf
}

func encodeRequest(col keys.Key, histogram bool) []byte {
	buf := make([]byte, 0, len(col)+1)
	if histogram {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	return append(buf, col...)
}

func decodeRequest(b []byte) (keys.Key, bool, error) {
	if len(b) < 1 {
		return "", false, base.CorruptionErrorf("rollup: empty request")
	}
	col, err := keys.Parse(b[1:])
	if err != nil {
		return "", false, err
	}
	return col, b[0] == 1, nil
}
