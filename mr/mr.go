// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package mr implements the reduction scheduler: a per-shard map callback
// whose task-local results are merged pairwise, followed by a single
// post-global hook.
package mr

import (
	"context"
	"runtime"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"
)

// Reducer describes one reduction over n shards.
type Reducer[A any] struct {
	// Map computes the accumulator for one shard.
	Map func(ctx context.Context, shard int) (A, error)
	// Reduce merges b into a and returns the result. It must be associative;
	// the merge order is a balanced tree over shard order.
	Reduce func(a, b A) A
	// Identity returns the accumulator of an empty reduction. Required when
	// the reduction may run over zero shards.
	Identity func() A
	// PostGlobal, if set, runs once on the fully merged result.
	PostGlobal func(A) (A, error)
}

// Scheduler runs reductions with bounded parallelism.
type Scheduler struct {
	// Concurrency bounds the number of concurrently running Map and Reduce
	// calls. Defaults to GOMAXPROCS.
	Concurrency int
}

func (s *Scheduler) limit() int {
	if s == nil || s.Concurrency <= 0 {
		return runtime.GOMAXPROCS(0)
	}
	return s.Concurrency
}

// Run maps every shard in [0, n) and reduces the results pairwise. The first
// error cancels the remaining work and is returned.
func Run[A any](ctx context.Context, s *Scheduler, n int, r Reducer[A]) (A, error) {
	var zero A
	if n == 0 {
		if r.Identity == nil {
			return zero, errors.AssertionFailedf("mr: empty reduction without identity")
		}
		return post(r, r.Identity())
	}

	results := make([]A, n)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.limit())
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			a, err := r.Map(gctx, i)
			if err != nil {
				return errors.Wrapf(err, "shard %d", i)
			}
			results[i] = a
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return zero, err
	}

	// Merge adjacent pairs level by level; each level halves the results.
	for width := 1; width < n; width *= 2 {
		g, gctx = errgroup.WithContext(ctx)
		g.SetLimit(s.limit())
		for i := 0; i+width < n; i += 2 * width {
			i := i
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				results[i] = r.Reduce(results[i], results[i+width])
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return zero, err
		}
	}
	return post(r, results[0])
}

func post[A any](r Reducer[A], a A) (A, error) {
	if r.PostGlobal == nil {
		return a, nil
	}
	return r.PostGlobal(a)
}
