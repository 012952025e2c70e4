// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package colvec provides distributed, compressed columns of typed values.
//
// A column is a sequence of rows split into chunks. Each chunk is stored in a
// distributed key-value store under its own key and encoded with the cheapest
// codec that reproduces its values exactly. Columns of one group share layout
// tables (the row offsets of their chunks), so equally laid out columns can be
// processed chunk by chunk on the nodes holding those chunks. Summary
// statistics of a column are computed on demand, cached in the store and
// invalidated by writes.
package colvec // import "github.com/cockroachdb/colvec"

import (
	"context"
	"math"
	"sync/atomic"

	"github.com/cockroachdb/colvec/chunk"
	"github.com/cockroachdb/colvec/internal/base"
	"github.com/cockroachdb/colvec/keys"
	"github.com/cockroachdb/colvec/kv"
	"github.com/cockroachdb/colvec/layout"
	"github.com/cockroachdb/colvec/metrics"
	"github.com/cockroachdb/colvec/rollup"
	"github.com/cockroachdb/errors"
)

var (
	// ErrNotFound is returned when a column or chunk does not exist.
	ErrNotFound = base.ErrNotFound
	// ErrClosed is returned when an operation is performed on a closed DB.
	ErrClosed = base.ErrClosed
	// ErrMutating marks errors of rollup requests for a column with an open
	// write episode.
	ErrMutating = base.ErrMutating
	// ErrOutOfRange marks row and chunk index errors.
	ErrOutOfRange = base.ErrOutOfRange
	// ErrMissingValue marks reads of missing rows through accessors whose type
	// cannot represent a missing value.
	ErrMissingValue = base.ErrMissingValue
)

// DB is the view of the column store from one node. It owns the node's layout
// registry and rollup coordinator.
type DB struct {
	opts    *Options
	store   kv.Store
	metrics *metrics.Metrics
	layouts *layout.Registry
	rollups *rollup.Coordinator
	closed  atomic.Bool
}

// Open returns the DB of the node owning store. Every node of a cluster must
// open a DB so that rollup requests routed to it are served.
func Open(store kv.Store, opts *Options) (*DB, error) {
	var o Options
	if opts != nil {
		o = *opts
	}
	o.EnsureDefaults()
	if err := o.Validate(); err != nil {
		return nil, err
	}
	d := &DB{
		opts:    &o,
		store:   store,
		metrics: metrics.New(o.Registerer),
	}
	d.layouts = layout.NewRegistry(store, o.Logger, d.metrics)
	d.rollups = rollup.NewCoordinator(store, rollup.Options{
		Config:        o.rollupConfig(),
		Resolver:      d.resolve,
		Logger:        o.Logger,
		Metrics:       d.metrics,
		BeforeCompute: o.testing.beforeCompute,
	})
	o.Logger.Infof("colvec: opened node %d of %d", store.Self(), store.Nodes())
	return d, nil
}

// Close releases the DB, waiting for rollup computations in flight.
func (d *DB) Close() error {
	if d.closed.Swap(true) {
		return ErrClosed
	}
	return errors.CombineErrors(d.rollups.Close(), d.layouts.Close())
}

// Metrics returns the DB's metrics.
func (d *DB) Metrics() *metrics.Metrics { return d.metrics }

// Options returns the options the DB was opened with, defaults filled in.
func (d *DB) Options() *Options { return d.opts }

// Store returns the underlying key-value store.
func (d *DB) Store() kv.Store { return d.store }

func (d *DB) checkOpen() error {
	if d.closed.Load() {
		return ErrClosed
	}
	return nil
}

func (d *DB) chunkConfig() chunk.Config {
	return d.opts.chunkConfig(func(c *chunk.Chunk) {
		d.metrics.ChunkFrozen(c.Codec().String(), c.Size())
	})
}

func (d *DB) resolve(ctx context.Context, col keys.Key) (rollup.Source, error) {
	c, err := d.OpenColumn(ctx, col)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// OpenColumn returns the column with the given key.
func (d *DB) OpenColumn(ctx context.Context, key keys.Key) (*Column, error) {
	if err := d.checkOpen(); err != nil {
		return nil, err
	}
	key = key.Column()
	raw, ok := d.store.Get(key)
	if !ok {
		return nil, errors.Mark(errors.Newf("colvec: column %s not found", key), ErrNotFound)
	}
	desc, err := decodeDescriptor(raw)
	if err != nil {
		return nil, errors.Wrapf(err, "column %s", key)
	}
	l, err := d.layouts.Lookup(ctx, key.Group(), desc.layoutID)
	if err != nil {
		return nil, err
	}
	return newColumn(d, key, desc.layoutID, l, desc.typ, desc.domain), nil
}

// MakeConstant creates a column of the group holding value in every row,
// laid out like the group's layout layoutID.
func (d *DB) MakeConstant(
	ctx context.Context, g *Group, layoutID int, value float64,
) (*Column, error) {
	if err := d.checkOpen(); err != nil {
		return nil, err
	}
	l, err := d.layouts.Lookup(ctx, g.key, layoutID)
	if err != nil {
		return nil, err
	}
	id, err := g.ReserveIDs(ctx, 1)
	if err != nil {
		return nil, err
	}
	key := g.ColumnKey(id)
	var fs kv.Futures
	for i := 0; i < l.NumChunks(); i++ {
		c := chunk.NewConst(l.ChunkLen(i), value)
		d.metrics.ChunkFrozen(c.Codec().String(), c.Size())
		d.store.Put(key.Chunk(i), c.Bytes(), &fs)
	}
	if err := fs.Wait(); err != nil {
		return nil, err
	}
	typ := base.TypeNumeric
	if math.IsNaN(value) || l.Len() == 0 {
		typ = base.TypeBad
	}
	col := newColumn(d, key, layoutID, l, typ, nil)
	d.store.Put(key, col.descriptor().encode(), nil)
	return col, nil
}

// RemoveColumn deletes the chunks, the header and the rollups of the column.
func (d *DB) RemoveColumn(ctx context.Context, c *Column) error {
	if err := d.checkOpen(); err != nil {
		return err
	}
	var fs kv.Futures
	for i := 0; i < c.NumChunks(); i++ {
		d.store.Delete(c.key.Chunk(i), &fs)
	}
	d.store.Delete(c.key, &fs)
	err := d.rollups.Discard(ctx, c.key, &fs)
	return errors.CombineErrors(err, fs.Wait())
}
