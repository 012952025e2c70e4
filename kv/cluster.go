// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package kv

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/colvec/internal/base"
	"github.com/cockroachdb/colvec/keys"
	"github.com/cockroachdb/errors"
)

// ClusterOptions configures an in-process cluster.
type ClusterOptions struct {
	// Nodes is the number of nodes. Defaults to 1.
	Nodes int
	// Compression is applied to every value crossing a node boundary.
	Compression Compression
	// Logger defaults to base.DefaultLogger.
	Logger base.Logger
}

// Cluster is an in-process set of nodes sharing one key space.
type Cluster struct {
	opts  ClusterOptions
	nodes []*Node
	stats struct {
		remoteGets atomic.Int64
		cacheHits  atomic.Int64
		wireBytes  atomic.Int64
		calls      atomic.Int64
	}
}

// TransferStats summarizes cross-node traffic.
type TransferStats struct {
	// RemoteGets counts reads served by fetching from another node.
	RemoteGets int64
	// CacheHits counts reads of remote keys served from the local cache.
	CacheHits int64
	// WireBytes is the compressed size of every value sent between nodes.
	WireBytes int64
	// Calls counts remote calls.
	Calls int64
}

// NewCluster creates a cluster.
func NewCluster(opts ClusterOptions) *Cluster {
	if opts.Nodes <= 0 {
		opts.Nodes = 1
	}
	if opts.Logger == nil {
		opts.Logger = base.DefaultLogger
	}
	c := &Cluster{opts: opts}
	c.nodes = make([]*Node, opts.Nodes)
	for i := range c.nodes {
		n := &Node{c: c, id: NodeID(i)}
		n.mu.data = make(map[keys.Key][]byte)
		n.cache.m = make(map[keys.Key][]byte)
		n.handlers.m = make(map[string]Handler)
		c.nodes[i] = n
	}
	return c
}

// Node returns the store as seen from node id.
func (c *Cluster) Node(id NodeID) *Node {
	return c.nodes[id]
}

// Size returns the number of nodes.
func (c *Cluster) Size() int { return len(c.nodes) }

// Stats returns the cumulative transfer statistics.
func (c *Cluster) Stats() TransferStats {
	return TransferStats{
		RemoteGets: c.stats.remoteGets.Load(),
		CacheHits:  c.stats.cacheHits.Load(),
		WireBytes:  c.stats.wireBytes.Load(),
		Calls:      c.stats.calls.Load(),
	}
}

// transfer moves b across a node boundary.
func (c *Cluster) transfer(b []byte) []byte {
	out, n, err := c.opts.Compression.transfer(b)
	if err != nil {
		c.opts.Logger.Errorf("kv: %s transfer failed, sending uncompressed: %v", c.opts.Compression, err)
		return append([]byte(nil), b...)
	}
	c.stats.wireBytes.Add(int64(n))
	return out
}

// Node is one member of a Cluster. It implements Store.
type Node struct {
	c  *Cluster
	id NodeID
	// mu protects the keys homed on this node. Lock ordering: a home node's mu
	// is acquired before any node's cache mutex.
	mu struct {
		sync.Mutex
		data map[keys.Key][]byte
	}
	// cache holds copies of keys homed on other nodes.
	cache struct {
		sync.Mutex
		m map[keys.Key][]byte
	}
	handlers struct {
		sync.RWMutex
		m map[string]Handler
	}
}

var _ Store = (*Node)(nil)

// Self implements Store.
func (n *Node) Self() NodeID { return n.id }

// Nodes implements Store.
func (n *Node) Nodes() int { return len(n.c.nodes) }

// Home implements Store.
func (n *Node) Home(key keys.Key) NodeID {
	return NodeID(key.Home(len(n.c.nodes)))
}

func (n *Node) home(key keys.Key) *Node {
	return n.c.nodes[n.Home(key)]
}

// Get implements Store.
func (n *Node) Get(key keys.Key) ([]byte, bool) {
	home := n.home(key)
	if home == n {
		n.mu.Lock()
		defer n.mu.Unlock()
		v, ok := n.mu.data[key]
		return v, ok
	}

	n.cache.Lock()
	v, ok := n.cache.m[key]
	n.cache.Unlock()
	if ok {
		n.c.stats.cacheHits.Add(1)
		return v, true
	}

	// Holding the home lock while filling the cache orders the fill before any
	// subsequent invalidation.
	home.mu.Lock()
	defer home.mu.Unlock()
	v, ok = home.mu.data[key]
	if !ok {
		return nil, false
	}
	v = n.c.transfer(v)
	n.cache.Lock()
	n.cache.m[key] = v
	n.cache.Unlock()
	n.c.stats.remoteGets.Add(1)
	return v, true
}

// Put implements Store.
func (n *Node) Put(key keys.Key, value []byte, fs *Futures) {
	if len(value) == 0 {
		panic(errors.AssertionFailedf("kv: empty value for %s", key))
	}
	put := func() error {
		n.apply(key, func([]byte) ([]byte, bool) { return value, true })
		return nil
	}
	if fs == nil {
		_ = put()
		return
	}
	fs.Go(put)
}

// Delete implements Store.
func (n *Node) Delete(key keys.Key, fs *Futures) {
	del := func() error {
		n.apply(key, func([]byte) ([]byte, bool) { return nil, true })
		return nil
	}
	if fs == nil {
		_ = del()
		return
	}
	fs.Go(del)
}

// CompareAndSwap implements Store. The swap completes before CompareAndSwap
// returns; fs is not used.
func (n *Node) CompareAndSwap(key keys.Key, value, expected []byte, fs *Futures) []byte {
	if value != nil && len(value) == 0 {
		panic(errors.AssertionFailedf("kv: empty value for %s", key))
	}
	return n.apply(key, func(prior []byte) ([]byte, bool) {
		return value, bytes.Equal(prior, expected)
	})
}

// apply runs fn on the home node of key under the home lock. If fn returns
// write=true the key is set to the returned value (deleted if nil) and every
// cached copy is invalidated. The prior value is returned.
func (n *Node) apply(key keys.Key, fn func(prior []byte) (value []byte, write bool)) []byte {
	home := n.home(key)
	home.mu.Lock()
	defer home.mu.Unlock()
	prior := home.mu.data[key]
	value, write := fn(prior)
	if write {
		if home != n && value != nil {
			value = n.c.transfer(value)
		}
		if value == nil {
			delete(home.mu.data, key)
		} else {
			home.mu.data[key] = value
		}
		for _, o := range n.c.nodes {
			if o == home {
				continue
			}
			o.cache.Lock()
			delete(o.cache.m, key)
			o.cache.Unlock()
		}
	}
	if home != n && prior != nil {
		prior = n.c.transfer(prior)
	}
	return prior
}

// Handle implements Store.
func (n *Node) Handle(method string, h Handler) {
	n.handlers.Lock()
	defer n.handlers.Unlock()
	n.handlers.m[method] = h
}

// Call implements Store.
func (n *Node) Call(ctx context.Context, node NodeID, method string, req []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if node < 0 || int(node) >= len(n.c.nodes) {
		return nil, errors.Newf("kv: unknown node %d", node)
	}
	target := n.c.nodes[node]
	target.handlers.RLock()
	h, ok := target.handlers.m[method]
	target.handlers.RUnlock()
	if !ok {
		return nil, errors.Newf("kv: node %d has no handler for %q", node, method)
	}
	if target == n {
		return h(ctx, req)
	}
	n.c.stats.calls.Add(1)
	resp, err := h(ctx, n.c.transfer(req))
	if err != nil {
		return nil, err
	}
	return n.c.transfer(resp), nil
}

// Len returns the number of keys homed on the node.
func (n *Node) Len() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.mu.data)
}
