// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package colvec

import (
	"context"

	"github.com/cockroachdb/colvec/chunk"
	"github.com/cockroachdb/colvec/internal/base"
	"github.com/cockroachdb/colvec/keys"
	"github.com/cockroachdb/colvec/kv"
	"github.com/cockroachdb/colvec/layout"
	"github.com/cockroachdb/errors"
)

// Appender creates a new column of a group by appending rows. Rows go to the
// current chunk builder; a chunk is frozen and stored when it reaches
// Options.ChunkRows rows or when FinishChunk is called. Close registers the
// column's layout and publishes the column.
//
// An Appender is not safe for concurrent use.
type Appender struct {
	db     *DB
	group  *Group
	key    keys.Key
	typ    base.Type
	domain []string

	b    *chunk.Builder
	lens []int
	fs   kv.Futures
	// present is set once a chunk with a non-missing row is stored.
	present bool
	err     error
	closed  bool
}

// NewAppender reserves a column id in the group and returns an Appender for a
// column of the given type.
func (d *DB) NewAppender(ctx context.Context, g *Group, typ base.Type) (*Appender, error) {
	if err := d.checkOpen(); err != nil {
		return nil, err
	}
	if typ == base.TypeBad {
		return nil, errors.AssertionFailedf("colvec: appending to a column of type %s", typ)
	}
	id, err := g.ReserveIDs(ctx, 1)
	if err != nil {
		return nil, err
	}
	return &Appender{db: d, group: g, key: g.ColumnKey(id), typ: typ}, nil
}

// Key returns the key of the column being created.
func (a *Appender) Key() keys.Key { return a.key }

// SetDomain sets the category names of a categorical column. Rows hold
// indexes into the domain.
func (a *Appender) SetDomain(domain []string) {
	a.domain = domain
}

// Builder returns the builder of the current chunk, starting a new chunk if
// the current one is full.
func (a *Appender) Builder() *chunk.Builder {
	if a.b != nil && a.b.Len() >= a.db.opts.ChunkRows {
		a.finish()
	}
	if a.b == nil {
		a.b = chunk.NewBuilder(a.db.chunkConfig())
	}
	return a.b
}

// AddFloat appends f; NaN appends a missing row.
func (a *Appender) AddFloat(f float64) { a.Builder().AddFloat(f) }

// AddInt appends v.
func (a *Appender) AddInt(v int64) { a.Builder().AddInt(v) }

// AddMissing appends a missing row.
func (a *Appender) AddMissing() { a.Builder().AddMissing() }

// AddString appends s.
func (a *Appender) AddString(s string) { a.Builder().AddString(s) }

// AddUUID appends the UUID with the given halves.
func (a *Appender) AddUUID(lo, hi int64) { a.Builder().AddUUID(lo, hi) }

// FinishChunk freezes and stores the current chunk, which may be empty.
func (a *Appender) FinishChunk() {
	if a.b == nil {
		a.b = chunk.NewBuilder(a.db.chunkConfig())
	}
	a.finish()
}

func (a *Appender) finish() {
	c, err := a.b.Freeze()
	a.b = nil
	if err != nil {
		if a.err == nil {
			a.err = err
		}
		return
	}
	if c.Len() > 0 && !c.AllMissing() {
		a.present = true
	}
	a.db.store.Put(a.key.Chunk(len(a.lens)), c.Bytes(), &a.fs)
	a.lens = append(a.lens, c.Len())
}

// Close stores the last chunk, registers the layout and publishes the column.
// A column without any non-missing row has type TypeBad.
func (a *Appender) Close(ctx context.Context) (*Column, error) {
	if a.closed {
		return nil, ErrClosed
	}
	a.closed = true
	if a.b != nil && a.b.Len() > 0 {
		a.finish()
	}
	if err := errors.CombineErrors(a.err, a.fs.Wait()); err != nil {
		return nil, err
	}
	l, err := layout.FromChunkLens(a.lens)
	if err != nil {
		return nil, err
	}
	id, l, err := a.db.layouts.RegisterLayout(ctx, a.group.key, l)
	if err != nil {
		return nil, err
	}
	typ := a.typ
	if !a.present {
		typ = base.TypeBad
	}
	col := newColumn(a.db, a.key, id, l, typ, a.domain)
	a.db.store.Put(a.key, col.descriptor().encode(), nil)
	return col, nil
}
