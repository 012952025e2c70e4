// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package layout

import (
	"bytes"
	"context"
	"sync"

	"github.com/cockroachdb/colvec/internal/base"
	"github.com/cockroachdb/colvec/internal/invariants"
	"github.com/cockroachdb/colvec/keys"
	"github.com/cockroachdb/colvec/kv"
	"github.com/cockroachdb/colvec/metrics"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/swiss"
)

// Registry maps layout ids to layouts for the groups seen by one node. The
// authoritative table of a group lives in the KV store under the group's
// layout key; the registry holds a local copy that is refreshed on a miss.
//
// The local copy of a group's table is replaced, never modified, and a refresh
// keeps the layouts already held locally: entries of a longer authoritative
// table that the node already knows are substituted by the local pointers.
// Columns opened on this node therefore keep sharing one *Layout per id.
type Registry struct {
	store   kv.Store
	logger  base.Logger
	metrics *metrics.Metrics

	mu struct {
		sync.Mutex
		closed bool
		tables swiss.Map[keys.Key, []*Layout]
	}
}

// NewRegistry returns a registry over store. A nil logger discards messages;
// a nil metrics records nothing.
func NewRegistry(store kv.Store, logger base.Logger, m *metrics.Metrics) *Registry {
	if logger == nil {
		logger = base.NoopLogger{}
	}
	r := &Registry{store: store, logger: logger, metrics: m}
	r.mu.tables.Init(16)
	return r
}

// Close releases the registry. Layouts already returned remain valid.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mu.closed {
		return base.ErrClosed
	}
	r.mu.closed = true
	return nil
}

func (r *Registry) local(group keys.Key) ([]*Layout, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mu.closed {
		return nil, base.ErrClosed
	}
	table, _ := r.mu.tables.Get(group)
	return table, nil
}

// Lookup returns layout id of the group.
func (r *Registry) Lookup(ctx context.Context, group keys.Key, id int) (*Layout, error) {
	table, err := r.local(group)
	if err != nil {
		return nil, err
	}
	if id >= 0 && id < len(table) {
		return table[id], nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	table, _, err = r.refresh(group)
	if err != nil {
		return nil, err
	}
	if id < 0 || id >= len(table) {
		return nil, errors.Wrapf(base.OutOfRangeError(int64(id), int64(len(table)), "layout"),
			"group %s", group)
	}
	return table[id], nil
}

// Len returns the number of layouts of the group known to this node.
func (r *Registry) Len(group keys.Key) int {
	table, _ := r.local(group)
	return len(table)
}

// refresh reads the authoritative table of the group, merges it into the local
// copy and returns the merged table with the raw authoritative value.
func (r *Registry) refresh(group keys.Key) ([]*Layout, []byte, error) {
	raw, _ := r.store.Get(group.Layout())
	remote, err := decodeTable(raw)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "decoding layouts of group %s", group)
	}
	r.metrics.LayoutRefreshed()
	table, err := r.merge(group, remote)
	return table, raw, err
}

// merge installs remote as the local table of the group unless the local table
// is already at least as long. The prefix of remote that the node already
// knows is replaced by the local layouts.
func (r *Registry) merge(group keys.Key, remote []*Layout) ([]*Layout, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mu.closed {
		return nil, base.ErrClosed
	}
	local, _ := r.mu.tables.Get(group)
	if len(remote) <= len(local) {
		return local, nil
	}
	merged := make([]*Layout, len(remote))
	for i, l := range local {
		if !l.Equal(remote[i]) {
			return nil, errors.AssertionFailedf("layout: group %s layout %d changed from %s to %s",
				group, i, l, remote[i])
		}
		merged[i] = l
	}
	copy(merged[len(local):], remote[len(local):])
	r.mu.tables.Put(group, merged)
	return merged, nil
}

// find returns the index of l in table by pointer identity, then by equality.
func find(table []*Layout, l *Layout) int {
	for i, t := range table {
		if t == l {
			return i
		}
	}
	for i, t := range table {
		if t.Equal(l) {
			return i
		}
	}
	return -1
}

// Register returns the id of the layout with the given offsets in the group,
// appending it to the group's table if no equal layout exists. The returned
// layout is the instance shared by every column of this node using that id.
func (r *Registry) Register(
	ctx context.Context, group keys.Key, offsets []int64,
) (int, *Layout, error) {
	l, err := New(offsets)
	if err != nil {
		return 0, nil, err
	}
	return r.RegisterLayout(ctx, group, l)
}

// RegisterLayout is like Register for an already constructed layout.
func (r *Registry) RegisterLayout(
	ctx context.Context, group keys.Key, l *Layout,
) (int, *Layout, error) {
	table, err := r.local(group)
	if err != nil {
		return 0, nil, err
	}
	// Invariant builds sometimes skip the local hit to exercise the refresh.
	if i := find(table, l); i >= 0 && !invariants.Sometimes(25) {
		r.metrics.LayoutRegistered(true)
		return i, table[i], nil
	}
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return 0, nil, err
		}
		table, raw, err := r.refresh(group)
		if err != nil {
			return 0, nil, err
		}
		if i := find(table, l); i >= 0 {
			r.metrics.LayoutRegistered(true)
			return i, table[i], nil
		}
		// The refreshed table is the authoritative one: the local table never
		// runs ahead of the store.
		next := make([]*Layout, len(table)+1)
		copy(next, table)
		next[len(table)] = l
		prior := r.store.CompareAndSwap(group.Layout(), encodeTable(next), raw, nil)
		if !bytes.Equal(prior, raw) {
			r.metrics.CASRetry(metrics.OpLayout)
			if attempt > 0 && attempt%10 == 0 {
				r.logger.Infof("layout: registration in group %s lost %d races", group, attempt)
			}
			continue
		}
		merged, err := r.merge(group, next)
		if err != nil {
			return 0, nil, err
		}
		id := len(table)
		r.metrics.LayoutRegistered(false)
		r.logger.Infof("layout: registered layout %d of group %s: %s", id, group, merged[id])
		return id, merged[id], nil
	}
}
