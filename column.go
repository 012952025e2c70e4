// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package colvec

import (
	"context"
	"sync/atomic"

	"github.com/cockroachdb/colvec/chunk"
	"github.com/cockroachdb/colvec/internal/base"
	"github.com/cockroachdb/colvec/keys"
	"github.com/cockroachdb/colvec/layout"
	"github.com/cockroachdb/colvec/rollup"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/redact"
)

// Column is a handle on a stored column. Reads may be issued concurrently.
// The handle reflects the column's type at the time it was opened, updated by
// write episodes opened through it.
type Column struct {
	db       *DB
	key      keys.Key
	layoutID int
	layout   *layout.Layout
	// typ holds a base.Type. A TypeBad column takes the type of the first
	// value written to it.
	typ    atomic.Uint32
	domain []string
}

func newColumn(
	d *DB, key keys.Key, layoutID int, l *layout.Layout, typ base.Type, domain []string,
) *Column {
	c := &Column{db: d, key: key, layoutID: layoutID, layout: l, domain: domain}
	c.typ.Store(uint32(typ))
	return c
}

var _ rollup.Source = (*Column)(nil)

// Key returns the column key.
func (c *Column) Key() keys.Key { return c.key }

// Group returns the group of the column.
func (c *Column) Group() *Group { return c.db.Group(c.key) }

// Type returns the value type.
func (c *Column) Type() base.Type { return base.Type(c.typ.Load()) }

// Domain returns the category names of a categorical column.
func (c *Column) Domain() []string { return c.domain }

// Cardinality implements rollup.Source.
func (c *Column) Cardinality() int {
	if c.Type() != base.TypeCategorical {
		return 0
	}
	return len(c.domain)
}

// LayoutID returns the id of the column's layout within its group.
func (c *Column) LayoutID() int { return c.layoutID }

// Layout returns the column's layout, shared with every column of the group
// using the same id.
func (c *Column) Layout() *layout.Layout { return c.layout }

// Len returns the number of rows.
func (c *Column) Len() int64 { return c.layout.Len() }

// NumChunks returns the number of chunks.
func (c *Column) NumChunks() int { return c.layout.NumChunks() }

// ChunkStart returns the first row of chunk i.
func (c *Column) ChunkStart(i int) int64 { return c.layout.Start(i) }

// RowToChunk returns the chunk holding row.
func (c *Column) RowToChunk(row int64) (int, error) {
	if row < 0 || row >= c.Len() {
		return 0, base.OutOfRangeError(row, c.Len(), "row")
	}
	return c.layout.ChunkOf(row), nil
}

func (c *Column) String() string {
	return redact.StringWithoutMarkers(c)
}

// SafeFormat implements redact.SafeFormatter.
func (c *Column) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Printf("%s %s: %s", c.key, c.Type(), c.layout)
}

// Chunk fetches and decodes chunk i.
func (c *Column) Chunk(ctx context.Context, i int) (*chunk.Chunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if i < 0 || i >= c.NumChunks() {
		return nil, base.OutOfRangeError(int64(i), int64(c.NumChunks()), "chunk")
	}
	raw, ok := c.db.store.Get(c.key.Chunk(i))
	if !ok {
		return nil, errors.Mark(errors.Newf("colvec: chunk %d of %s not found", i, c.key), ErrNotFound)
	}
	ch, err := chunk.Decode(raw)
	if err != nil {
		return nil, errors.Wrapf(err, "chunk %d of %s", i, c.key)
	}
	if ch.Len() != c.layout.ChunkLen(i) {
		return nil, base.CorruptionErrorf("colvec: chunk %d of %s has %d rows, layout expects %d",
			i, c.key, ch.Len(), c.layout.ChunkLen(i))
	}
	return ch, nil
}

// locate returns the chunk holding row and the row's offset within it.
func (c *Column) locate(ctx context.Context, row int64) (*chunk.Chunk, int, error) {
	i, err := c.RowToChunk(row)
	if err != nil {
		return nil, 0, err
	}
	ch, err := c.Chunk(ctx, i)
	if err != nil {
		return nil, 0, err
	}
	return ch, int(row - c.layout.Start(i)), nil
}

// catch converts an error panic raised by the chunk layer into an error.
func catch(err *error) {
	if r := recover(); r != nil {
		e, ok := r.(error)
		if !ok {
			panic(r)
		}
		*err = e
	}
}

// At returns the value of row as a float64, NaN if missing.
func (c *Column) At(ctx context.Context, row int64) (v float64, err error) {
	ch, i, err := c.locate(ctx, row)
	if err != nil {
		return 0, err
	}
	defer catch(&err)
	return ch.At(i), nil
}

// AtInt returns the value of row as an exact integer. Missing rows return an
// error marked ErrMissingValue.
func (c *Column) AtInt(ctx context.Context, row int64) (v int64, err error) {
	ch, i, err := c.locate(ctx, row)
	if err != nil {
		return 0, err
	}
	defer catch(&err)
	return ch.AtInt(i), nil
}

// AtString returns the value of a string row. Missing rows return an error
// marked ErrMissingValue.
func (c *Column) AtString(ctx context.Context, row int64) (s string, err error) {
	ch, i, err := c.locate(ctx, row)
	if err != nil {
		return "", err
	}
	defer catch(&err)
	return ch.AtString(i), nil
}

// AtUUID returns the halves of a UUID row. Missing rows return an error
// marked ErrMissingValue.
func (c *Column) AtUUID(ctx context.Context, row int64) (lo, hi int64, err error) {
	ch, i, err := c.locate(ctx, row)
	if err != nil {
		return 0, 0, err
	}
	defer catch(&err)
	lo, hi = ch.AtUUID(i)
	return lo, hi, nil
}

// IsMissing returns true if row is missing.
func (c *Column) IsMissing(ctx context.Context, row int64) (missing bool, err error) {
	ch, i, err := c.locate(ctx, row)
	if err != nil {
		return false, err
	}
	return ch.IsMissing(i), nil
}

// Rollups returns the column's statistics, computing them if necessary. It
// fails with an error marked ErrMutating while a write episode is open.
func (c *Column) Rollups(ctx context.Context) (*rollup.Stats, error) {
	if err := c.db.checkOpen(); err != nil {
		return nil, err
	}
	return c.db.rollups.Request(ctx, c, false)
}

// RollupsWithHistogram is like Rollups, with the histogram and percentiles.
func (c *Column) RollupsWithHistogram(ctx context.Context) (*rollup.Stats, error) {
	if err := c.db.checkOpen(); err != nil {
		return nil, err
	}
	return c.db.rollups.Request(ctx, c, true)
}

func (c *Column) stat(ctx context.Context, fn func(s *rollup.Stats) float64) (float64, error) {
	s, err := c.Rollups(ctx)
	if err != nil {
		return 0, err
	}
	return fn(s), nil
}

// Min returns the smallest value, NaN if every row is missing.
func (c *Column) Min(ctx context.Context) (float64, error) {
	return c.stat(ctx, (*rollup.Stats).Min)
}

// Max returns the largest value, NaN if every row is missing.
func (c *Column) Max(ctx context.Context) (float64, error) {
	return c.stat(ctx, (*rollup.Stats).Max)
}

// Mean returns the mean of the finite values.
func (c *Column) Mean(ctx context.Context) (float64, error) {
	return c.stat(ctx, func(s *rollup.Stats) float64 { return s.Mean })
}

// Sigma returns the sample standard deviation of the finite values.
func (c *Column) Sigma(ctx context.Context) (float64, error) {
	return c.stat(ctx, (*rollup.Stats).Sigma)
}

func (c *Column) count(ctx context.Context, fn func(s *rollup.Stats) int64) (int64, error) {
	s, err := c.Rollups(ctx)
	if err != nil {
		return 0, err
	}
	return fn(s), nil
}

// NAs returns the number of missing rows.
func (c *Column) NAs(ctx context.Context) (int64, error) {
	return c.count(ctx, func(s *rollup.Stats) int64 { return s.Missing })
}

// NonZeros returns the number of non-missing, non-zero rows.
func (c *Column) NonZeros(ctx context.Context) (int64, error) {
	return c.count(ctx, func(s *rollup.Stats) int64 { return s.NonZero })
}

// Rows returns the number of non-missing rows.
func (c *Column) Rows(ctx context.Context) (int64, error) {
	return c.count(ctx, func(s *rollup.Stats) int64 { return s.Rows })
}

// IsInt returns true if every non-missing value is an integer.
func (c *Column) IsInt(ctx context.Context) (bool, error) {
	s, err := c.Rollups(ctx)
	if err != nil {
		return false, err
	}
	return s.IsInt, nil
}

// Checksum returns a hash of the column's contents.
func (c *Column) Checksum(ctx context.Context) (uint64, error) {
	s, err := c.Rollups(ctx)
	if err != nil {
		return 0, err
	}
	return s.Checksum, nil
}

// Mins returns up to five of the smallest distinct values, ascending.
func (c *Column) Mins(ctx context.Context) ([]float64, error) {
	s, err := c.Rollups(ctx)
	if err != nil {
		return nil, err
	}
	return s.Mins, nil
}

// Maxs returns up to five of the largest distinct values, descending.
func (c *Column) Maxs(ctx context.Context) ([]float64, error) {
	s, err := c.Rollups(ctx)
	if err != nil {
		return nil, err
	}
	return s.Maxs, nil
}

// Percentiles returns the estimates for the configured probes, in the order
// of Options.Percentiles.
func (c *Column) Percentiles(ctx context.Context) ([]float64, error) {
	s, err := c.RollupsWithHistogram(ctx)
	if err != nil {
		return nil, err
	}
	return s.Percentiles, nil
}

// Histogram returns the bin counts. Bin i covers [start+i*stride,
// start+(i+1)*stride).
func (c *Column) Histogram(ctx context.Context) (bins []int64, start, stride float64, err error) {
	s, err := c.RollupsWithHistogram(ctx)
	if err != nil {
		return nil, 0, 0, err
	}
	return s.Bins, s.Base, s.Stride, nil
}

// Mode returns the most populous histogram bin; for a categorical column it
// is the most frequent category. It returns -1 if every row is missing.
func (c *Column) Mode(ctx context.Context) (int, error) {
	s, err := c.RollupsWithHistogram(ctx)
	if err != nil {
		return 0, err
	}
	return s.Mode(), nil
}

func (c *Column) descriptor() descriptor {
	return descriptor{typ: c.Type(), layoutID: c.layoutID, domain: c.domain}
}
