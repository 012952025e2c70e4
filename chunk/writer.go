// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package chunk

import "github.com/cockroachdb/colvec/internal/base"

// Writer applies writes to a private copy of a chunk. Writes are attempted in
// place; the first write the codec cannot represent escalates the copy into a
// Builder, which re-selects a codec when the Writer is closed.
type Writer struct {
	cfg Config
	c   *Chunk
	b   *Builder
	// dirty is set once any write succeeds.
	dirty  bool
	closed bool
}

// NewWriter returns a Writer over a private copy of c.
func NewWriter(c *Chunk, cfg Config) *Writer {
	return &Writer{cfg: cfg, c: c.Clone()}
}

// Len returns the number of rows.
func (w *Writer) Len() int { return w.c.rows }

func (w *Writer) check(i int) {
	if w.closed {
		panic(base.ErrFrozen)
	}
	if i < 0 || i >= w.c.rows {
		panic(base.OutOfRangeError(int64(i), int64(w.c.rows), "row"))
	}
	w.dirty = true
}

func (w *Writer) escalate() *Builder {
	if w.b == nil {
		w.b = w.c.Inflate(w.cfg)
	}
	return w.b
}

// Set stores f at row i. NaN marks the row missing.
func (w *Writer) Set(i int, f float64) {
	w.check(i)
	if w.b == nil && w.c.TrySet(i, f) {
		return
	}
	w.escalate().SetFloat(i, f)
}

// SetInt stores v at row i.
func (w *Writer) SetInt(i int, v int64) {
	w.check(i)
	if w.b == nil && w.c.TrySetInt(i, v) {
		return
	}
	w.escalate().SetInt(i, v)
}

// SetMissing marks row i missing.
func (w *Writer) SetMissing(i int) {
	w.check(i)
	if w.b == nil && w.c.TrySetMissing(i) {
		return
	}
	w.escalate().SetMissing(i)
}

// SetUUID stores a UUID at row i.
func (w *Writer) SetUUID(i int, lo, hi int64) {
	w.check(i)
	if w.b == nil && w.c.TrySetUUID(i, lo, hi) {
		return
	}
	w.escalate().SetUUID(i, lo, hi)
}

// SetString stores s at row i.
func (w *Writer) SetString(i int, s string) {
	w.check(i)
	if w.b == nil && w.c.TrySetString(i, s) {
		return
	}
	w.escalate().SetString(i, s)
}

// At returns the current value of row i, NaN if missing.
func (w *Writer) At(i int) float64 {
	if w.b != nil {
		return w.b.At(i)
	}
	return w.c.At(i)
}

// IsMissing returns true if row i is currently missing.
func (w *Writer) IsMissing(i int) bool {
	if w.b != nil {
		return w.b.IsMissing(i)
	}
	return w.c.IsMissing(i)
}

// Escalated returns true if a write could not be applied in place.
func (w *Writer) Escalated() bool { return w.b != nil }

// Dirty returns true if any write was applied.
func (w *Writer) Dirty() bool { return w.dirty }

// Close returns the written chunk, re-encoding it if the Writer escalated.
// The Writer cannot be used afterwards.
func (w *Writer) Close() (*Chunk, error) {
	if w.closed {
		return nil, base.ErrFrozen
	}
	w.closed = true
	if w.b == nil {
		return w.c, nil
	}
	return w.b.Freeze()
}
