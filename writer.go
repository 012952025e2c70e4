// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package colvec

import (
	"context"
	"sync"

	"github.com/cockroachdb/colvec/chunk"
	"github.com/cockroachdb/colvec/internal/base"
	"github.com/cockroachdb/colvec/kv"
	"github.com/cockroachdb/errors"
)

// Writer is an open write episode on a column. While it is open the column's
// rollups cannot be read. Writes to distinct chunks may be issued
// concurrently; writes to rows of one chunk must be serialized by the caller.
//
// Writes go to private copies of the touched chunks, escalating a chunk to a
// wider codec when a value does not fit. End stores the written chunks and
// closes the episode.
type Writer struct {
	col *Column
	mu  struct {
		sync.Mutex
		chunks map[int]*chunk.Writer
		// typ is the column type after the writes: a TypeBad column takes the
		// type of the first value written.
		typ   base.Type
		ended bool
	}
}

// BeginWrite opens a write episode on the column.
func (c *Column) BeginWrite(ctx context.Context) (*Writer, error) {
	if err := c.db.checkOpen(); err != nil {
		return nil, err
	}
	if err := c.db.rollups.PreWriting(ctx, c.key); err != nil {
		return nil, err
	}
	w := &Writer{col: c}
	w.mu.chunks = make(map[int]*chunk.Writer)
	w.mu.typ = c.Type()
	return w, nil
}

// open returns the writer of the chunk holding row after checking that a
// value of type typ may be stored in the column.
func (w *Writer) open(ctx context.Context, row int64, typ base.Type) (*chunk.Writer, int, error) {
	c := w.col
	i, err := c.RowToChunk(row)
	if err != nil {
		return nil, 0, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.mu.ended {
		return nil, 0, ErrClosed
	}
	if typ != base.TypeBad {
		switch cur := w.mu.typ; {
		case cur == base.TypeBad:
			w.mu.typ = typ
		case cur.IsNumeric() && typ.IsNumeric():
		case cur != typ:
			return nil, 0, errors.Newf("colvec: cannot store a %s value in %s column %s", typ, cur, c.key)
		}
	}
	cw, ok := w.mu.chunks[i]
	if !ok {
		ch, err := c.Chunk(ctx, i)
		if err != nil {
			return nil, 0, err
		}
		cw = chunk.NewWriter(ch, c.db.chunkConfig())
		w.mu.chunks[i] = cw
	}
	return cw, int(row - c.layout.Start(i)), nil
}

// Set stores f at row; NaN marks the row missing.
func (w *Writer) Set(ctx context.Context, row int64, f float64) (err error) {
	cw, i, err := w.open(ctx, row, base.TypeNumeric)
	if err != nil {
		return err
	}
	defer catch(&err)
	cw.Set(i, f)
	return nil
}

// SetInt stores v at row.
func (w *Writer) SetInt(ctx context.Context, row int64, v int64) (err error) {
	cw, i, err := w.open(ctx, row, base.TypeNumeric)
	if err != nil {
		return err
	}
	defer catch(&err)
	cw.SetInt(i, v)
	return nil
}

// SetMissing marks row missing.
func (w *Writer) SetMissing(ctx context.Context, row int64) (err error) {
	cw, i, err := w.open(ctx, row, base.TypeBad)
	if err != nil {
		return err
	}
	defer catch(&err)
	cw.SetMissing(i)
	return nil
}

// SetString stores s at row of a string column.
func (w *Writer) SetString(ctx context.Context, row int64, s string) (err error) {
	cw, i, err := w.open(ctx, row, base.TypeString)
	if err != nil {
		return err
	}
	defer catch(&err)
	cw.SetString(i, s)
	return nil
}

// SetUUID stores the UUID with the given halves at row of a UUID column.
func (w *Writer) SetUUID(ctx context.Context, row int64, lo, hi int64) (err error) {
	cw, i, err := w.open(ctx, row, base.TypeUUID)
	if err != nil {
		return err
	}
	defer catch(&err)
	cw.SetUUID(i, lo, hi)
	return nil
}

// End stores the written chunks, waits for the stores to complete and closes
// the episode. The episode is closed even if storing fails.
func (w *Writer) End(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.mu.ended {
		return ErrClosed
	}
	w.mu.ended = true

	c := w.col
	var fs kv.Futures
	var err error
	for i, cw := range w.mu.chunks {
		if !cw.Dirty() {
			continue
		}
		escalated := cw.Escalated()
		ch, cerr := cw.Close()
		if cerr != nil {
			err = errors.CombineErrors(err, errors.Wrapf(cerr, "chunk %d of %s", i, c.key))
			continue
		}
		if escalated {
			c.db.metrics.Escalated()
			c.db.opts.Logger.Infof("colvec: chunk %d of %s escalated to %s", i, c.key, ch.Codec())
		}
		c.db.store.Put(c.key.Chunk(i), ch.Bytes(), &fs)
	}
	err = errors.CombineErrors(err, fs.Wait())
	if cur := c.Type(); w.mu.typ != cur && c.typ.CompareAndSwap(uint32(cur), uint32(w.mu.typ)) {
		c.db.store.Put(c.key, c.descriptor().encode(), nil)
	}
	return errors.CombineErrors(err, c.db.rollups.PostWrite(ctx, c.key))
}
