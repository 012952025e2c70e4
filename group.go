// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package colvec

import (
	"bytes"
	"context"
	"encoding/binary"
	"math"

	"github.com/cockroachdb/colvec/internal/base"
	"github.com/cockroachdb/colvec/keys"
	"github.com/cockroachdb/colvec/metrics"
	"github.com/cockroachdb/errors"
)

// Group is a column group. Columns of a group share the group's layout table
// and the i-th chunks of its columns are homed on the same node.
//
// The group record holds the next free column id. Id 0 belongs to the group
// itself, so an absent record means ids start at 1.
type Group struct {
	db  *DB
	key keys.Key
}

// NewGroup returns a new, empty group.
func (d *DB) NewGroup() *Group {
	return &Group{db: d, key: keys.NewGroup()}
}

// Group returns the group a key belongs to.
func (d *DB) Group(key keys.Key) *Group {
	return &Group{db: d, key: key.Group()}
}

// Key returns the group key.
func (g *Group) Key() keys.Key { return g.key }

// ColumnKey returns the key of column id of the group.
func (g *Group) ColumnKey(id uint32) keys.Key { return g.key.ColumnKey(id) }

// NumLayouts returns the number of layouts of the group known locally.
func (g *Group) NumLayouts() int { return g.db.layouts.Len(g.key) }

// ReserveIDs allocates n consecutive column ids and returns the first. Ids are
// never reused, even if the columns are removed.
func (g *Group) ReserveIDs(ctx context.Context, n int) (uint32, error) {
	if n <= 0 {
		return 0, errors.AssertionFailedf("colvec: reserving %d ids", n)
	}
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		prior, _ := g.db.store.Get(g.key)
		next := uint64(1)
		if prior != nil {
			v, m := binary.Uvarint(prior)
			if m <= 0 || m != len(prior) {
				return 0, base.CorruptionErrorf("colvec: malformed record of group %s", g.key)
			}
			next = v
		}
		if next+uint64(n) > math.MaxUint32 {
			return 0, errors.Newf("colvec: group %s is out of column ids", g.key)
		}
		value := binary.AppendUvarint(nil, next+uint64(n))
		if got := g.db.store.CompareAndSwap(g.key, value, prior, nil); bytes.Equal(got, prior) {
			return uint32(next), nil
		}
		g.db.metrics.CASRetry(metrics.OpGroup)
	}
}
