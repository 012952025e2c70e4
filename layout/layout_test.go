// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package layout

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/cockroachdb/colvec/internal/base"
	"github.com/cockroachdb/colvec/keys"
	"github.com/cockroachdb/colvec/kv"
	"github.com/cockroachdb/colvec/metrics"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	for _, offsets := range [][]int64{nil, {}, {1, 2}, {0, 5, 4}} {
		_, err := New(offsets)
		require.Error(t, err, "%v", offsets)
		require.True(t, errors.HasAssertionFailure(err))
	}
	l, err := New([]int64{0, 100, 100, 250})
	require.NoError(t, err)
	require.Equal(t, 3, l.NumChunks())
	require.Equal(t, int64(250), l.Len())
	require.Equal(t, 0, l.ChunkLen(1))
	require.Equal(t, int64(250), l.Start(3))
	require.Equal(t, "3 chunks, 250 rows", l.String())

	// Rows of an empty chunk's start belong to the next non-empty chunk.
	require.Equal(t, 0, l.ChunkOf(99))
	require.Equal(t, 2, l.ChunkOf(100))
	require.Equal(t, 2, l.ChunkOf(249))

	l2, err := FromChunkLens([]int{100, 0, 150})
	require.NoError(t, err)
	require.True(t, l.Equal(l2))
}

func TestMonotonicity(t *testing.T) {
	rng := rand.New(rand.NewPCG(5, 6))
	for trial := 0; trial < 100; trial++ {
		lens := make([]int, 1+rng.IntN(20))
		for i := range lens {
			if rng.IntN(4) != 0 {
				lens[i] = rng.IntN(50)
			}
		}
		l, err := FromChunkLens(lens)
		require.NoError(t, err)
		prev := 0
		for row := int64(0); row < l.Len(); row++ {
			c := l.ChunkOf(row)
			require.LessOrEqual(t, prev, c)
			require.LessOrEqual(t, l.Start(c), row)
			require.Less(t, row, l.Start(c+1))
			prev = c
		}
	}
}

func TestEncoding(t *testing.T) {
	a, _ := New([]int64{0, 100, 200})
	b, _ := New([]int64{0})
	c, _ := New([]int64{0, 1 << 40})
	table, err := decodeTable(encodeTable([]*Layout{a, b, c}))
	require.NoError(t, err)
	require.Len(t, table, 3)
	require.True(t, table[0].Equal(a))
	require.True(t, table[1].Equal(b))
	require.True(t, table[2].Equal(c))

	buf := encodeTable([]*Layout{a})
	_, err = decodeTable(buf[:len(buf)-1])
	require.Error(t, err)
	_, err = decodeTable(append(buf, 0))
	require.Error(t, err)
}

func newRegistries(n int) (*kv.Cluster, []*Registry) {
	c := kv.NewCluster(kv.ClusterOptions{Nodes: n, Logger: base.NoopLogger{}})
	regs := make([]*Registry, n)
	for i := range regs {
		regs[i] = NewRegistry(c.Node(kv.NodeID(i)), nil, metrics.New(nil))
	}
	return c, regs
}

func TestRegisterShared(t *testing.T) {
	ctx := context.Background()
	_, regs := newRegistries(3)
	group := keys.NewGroup()

	// Two columns registering the same table share one id and one instance.
	id1, l1, err := regs[0].Register(ctx, group, []int64{0, 100, 200})
	require.NoError(t, err)
	id2, l2, err := regs[0].Register(ctx, group, []int64{0, 100, 200})
	require.NoError(t, err)
	require.Equal(t, id1, id2)
	require.Same(t, l1, l2)

	// Another node resolves the same contents to the same id.
	id3, l3, err := regs[1].Register(ctx, group, []int64{0, 100, 200})
	require.NoError(t, err)
	require.Equal(t, id1, id3)
	require.True(t, l1.Equal(l3))

	idOther, _, err := regs[2].Register(ctx, group, []int64{0, 50, 200})
	require.NoError(t, err)
	require.NotEqual(t, id1, idOther)

	// A refresh on node 0 keeps its own instance for the layout it knows.
	got, err := regs[0].Lookup(ctx, group, idOther)
	require.NoError(t, err)
	require.Equal(t, []int64{0, 50, 200}, got.Offsets())
	got, err = regs[0].Lookup(ctx, group, id1)
	require.NoError(t, err)
	require.Same(t, l1, got)

	_, err = regs[0].Lookup(ctx, group, 7)
	require.True(t, errors.Is(err, base.ErrOutOfRange))

	// Groups have independent tables.
	id, _, err := regs[0].Register(ctx, keys.NewGroup(), []int64{0, 50, 200})
	require.NoError(t, err)
	require.Equal(t, 0, id)
}

func TestRegisterConcurrent(t *testing.T) {
	ctx := context.Background()
	const nodes, workers, distinct = 4, 16, 10
	_, regs := newRegistries(nodes)
	group := keys.NewGroup()

	ids := make([][]int, workers)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			r := regs[w%nodes]
			ids[w] = make([]int, distinct)
			for i := 0; i < distinct; i++ {
				j := (i + w) % distinct
				id, _, err := r.Register(ctx, group, []int64{0, int64(j + 1)})
				if err != nil {
					panic(err)
				}
				ids[w][j] = id
			}
		}(w)
	}
	wg.Wait()

	seen := map[int]int{}
	for j := 0; j < distinct; j++ {
		for w := 1; w < workers; w++ {
			require.Equal(t, ids[0][j], ids[w][j], "layout %d", j)
		}
		seen[ids[0][j]] = j
	}
	require.Len(t, seen, distinct)
	for _, r := range regs {
		for id, j := range seen {
			l, err := r.Lookup(ctx, group, id)
			require.NoError(t, err)
			require.Equal(t, []int64{0, int64(j + 1)}, l.Offsets(), fmt.Sprint(id))
		}
		require.Equal(t, distinct, r.Len(group))
	}
}

func TestRegistryClosed(t *testing.T) {
	ctx := context.Background()
	_, regs := newRegistries(1)
	require.NoError(t, regs[0].Close())
	require.True(t, errors.Is(regs[0].Close(), base.ErrClosed))
	_, _, err := regs[0].Register(ctx, keys.NewGroup(), []int64{0, 1})
	require.True(t, errors.Is(err, base.ErrClosed))

	_, regs = newRegistries(1)
	cctx, cancel := context.WithCancel(ctx)
	cancel()
	_, _, err = regs[0].Register(cctx, keys.NewGroup(), []int64{0, 1})
	require.True(t, errors.Is(err, context.Canceled))
}
