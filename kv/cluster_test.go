// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package kv

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/cockroachdb/colvec/internal/base"
	"github.com/cockroachdb/colvec/keys"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

func testCluster(n int, c Compression) *Cluster {
	return NewCluster(ClusterOptions{Nodes: n, Compression: c, Logger: base.NoopLogger{}})
}

// remoteKey returns a key that is not homed on node 0.
func remoteKey(t *testing.T, c *Cluster) keys.Key {
	g := keys.NewGroup()
	for i := uint32(1); i < 1000; i++ {
		k := g.ColumnKey(i)
		if c.Node(0).Home(k) != 0 {
			return k
		}
	}
	t.Fatal("no remote key")
	return ""
}

func TestGetPutAcrossNodes(t *testing.T) {
	for _, comp := range []Compression{NoCompression, SnappyCompression, ZstdCompression} {
		t.Run(comp.String(), func(t *testing.T) {
			c := testCluster(3, comp)
			k := remoteKey(t, c)
			n0 := c.Node(0)

			_, ok := n0.Get(k)
			require.False(t, ok)

			val := bytes.Repeat([]byte("abc"), 100)
			n0.Put(k, val, nil)
			for i := 0; i < c.Size(); i++ {
				v, ok := c.Node(NodeID(i)).Get(k)
				require.True(t, ok)
				require.Equal(t, val, v)
			}
			// The second read on node 0 comes from its cache.
			before := c.Stats()
			_, ok = n0.Get(k)
			require.True(t, ok)
			require.Equal(t, before.CacheHits+1, c.Stats().CacheHits)
			require.Greater(t, c.Stats().WireBytes, int64(0))
		})
	}
}

func TestCacheInvalidation(t *testing.T) {
	c := testCluster(4, SnappyCompression)
	k := remoteKey(t, c)
	c.Node(1).Put(k, []byte("v1"), nil)
	for i := 0; i < 4; i++ {
		v, _ := c.Node(NodeID(i)).Get(k)
		require.Equal(t, "v1", string(v))
	}
	c.Node(2).Put(k, []byte("v2"), nil)
	for i := 0; i < 4; i++ {
		v, _ := c.Node(NodeID(i)).Get(k)
		require.Equal(t, "v2", string(v))
	}
	c.Node(3).Delete(k, nil)
	for i := 0; i < 4; i++ {
		_, ok := c.Node(NodeID(i)).Get(k)
		require.False(t, ok)
	}
}

func TestCompareAndSwap(t *testing.T) {
	c := testCluster(2, NoCompression)
	k := remoteKey(t, c)
	n := c.Node(0)

	prior := n.CompareAndSwap(k, []byte("a"), nil, nil)
	require.Nil(t, prior)
	v, _ := n.Get(k)
	require.Equal(t, "a", string(v))

	// Lost race: expected value is stale.
	prior = n.CompareAndSwap(k, []byte("c"), []byte("b"), nil)
	require.Equal(t, "a", string(prior))
	v, _ = n.Get(k)
	require.Equal(t, "a", string(v))

	prior = n.CompareAndSwap(k, []byte("b"), []byte("a"), nil)
	require.Equal(t, "a", string(prior))
	v, _ = c.Node(1).Get(k)
	require.Equal(t, "b", string(v))

	// A nil value deletes.
	prior = n.CompareAndSwap(k, nil, []byte("b"), nil)
	require.Equal(t, "b", string(prior))
	_, ok := n.Get(k)
	require.False(t, ok)
}

func TestCompareAndSwapConcurrent(t *testing.T) {
	c := testCluster(3, NoCompression)
	k := remoteKey(t, c)
	const workers, incs = 8, 50
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(n *Node) {
			defer wg.Done()
			for i := 0; i < incs; i++ {
				for {
					prior, _ := n.Get(k)
					var cur int
					if prior != nil {
						_, _ = fmt.Sscanf(string(prior), "%d", &cur)
					}
					next := []byte(fmt.Sprint(cur + 1))
					if bytes.Equal(n.CompareAndSwap(k, next, prior, nil), prior) {
						break
					}
				}
			}
		}(c.Node(NodeID(w % 3)))
	}
	wg.Wait()
	v, _ := c.Node(0).Get(k)
	require.Equal(t, fmt.Sprint(workers*incs), string(v))
}

func TestFutures(t *testing.T) {
	c := testCluster(3, ZstdCompression)
	g := keys.NewGroup().ColumnKey(1)
	var fs Futures
	for i := 0; i < 20; i++ {
		c.Node(0).Put(g.Chunk(i), []byte(fmt.Sprint(i)), &fs)
	}
	require.Equal(t, 20, fs.Len())
	require.NoError(t, fs.Wait())
	for i := 0; i < 20; i++ {
		v, ok := c.Node(2).Get(g.Chunk(i))
		require.True(t, ok)
		require.Equal(t, fmt.Sprint(i), string(v))
	}
}

func TestCall(t *testing.T) {
	c := testCluster(2, SnappyCompression)
	c.Node(1).Handle("echo", func(ctx context.Context, req []byte) ([]byte, error) {
		if string(req) == "fail" {
			return nil, errors.New("boom")
		}
		return append([]byte("echo:"), req...), nil
	})
	resp, err := c.Node(0).Call(context.Background(), 1, "echo", []byte("hi"))
	require.NoError(t, err)
	require.Equal(t, "echo:hi", string(resp))
	require.Equal(t, int64(1), c.Stats().Calls)

	_, err = c.Node(0).Call(context.Background(), 1, "echo", []byte("fail"))
	require.EqualError(t, err, "boom")

	_, err = c.Node(0).Call(context.Background(), 0, "echo", nil)
	require.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Node(0).Call(ctx, 1, "echo", nil)
	require.ErrorIs(t, err, context.Canceled)
}

func TestParseCompression(t *testing.T) {
	for _, c := range []Compression{NoCompression, SnappyCompression, ZstdCompression} {
		p, err := ParseCompression(c.String())
		require.NoError(t, err)
		require.Equal(t, c, p)
	}
	_, err := ParseCompression("lz4")
	require.Error(t, err)
}
