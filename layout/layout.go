// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package layout implements row layouts (the offset tables partitioning a
// column into chunks) and the per-node registry that assigns them cluster-wide
// ids.
//
// A Layout is immutable once constructed. Every column of a group that shares
// a partitioning shares one *Layout, so a registry never copies or mutates a
// published layout; the authoritative table in the KV store only grows by
// appending.
package layout

import (
	"encoding/binary"
	"sort"

	"github.com/cockroachdb/colvec/internal/base"
	"github.com/cockroachdb/colvec/internal/invariants"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/redact"
)

// Layout is an immutable offset table: chunk i holds rows
// [offsets[i], offsets[i+1]).
type Layout struct {
	offsets []int64
}

// New validates offsets and returns a layout that takes ownership of them. The
// first offset must be zero and offsets must be non-decreasing.
func New(offsets []int64) (*Layout, error) {
	if len(offsets) == 0 || offsets[0] != 0 {
		return nil, errors.AssertionFailedf("layout: offsets must begin with 0: %v", offsets)
	}
	for i := 1; i < len(offsets); i++ {
		if offsets[i] < offsets[i-1] {
			return nil, errors.AssertionFailedf("layout: offsets decrease at chunk %d: %d < %d",
				i-1, offsets[i], offsets[i-1])
		}
	}
	return &Layout{offsets: offsets}, nil
}

// FromChunkLens returns the layout of chunks of the given lengths.
func FromChunkLens(lens []int) (*Layout, error) {
	offsets := make([]int64, len(lens)+1)
	for i, n := range lens {
		if n < 0 {
			return nil, errors.AssertionFailedf("layout: chunk %d has negative length %d", i, n)
		}
		offsets[i+1] = offsets[i] + int64(n)
	}
	return New(offsets)
}

// NumChunks returns the number of chunks.
func (l *Layout) NumChunks() int { return len(l.offsets) - 1 }

// Len returns the number of rows.
func (l *Layout) Len() int64 { return l.offsets[len(l.offsets)-1] }

// Start returns the first row of chunk i. Start(NumChunks()) is Len().
func (l *Layout) Start(i int) int64 {
	invariants.CheckBounds(i, len(l.offsets))
	return l.offsets[i]
}

// ChunkLen returns the number of rows in chunk i.
func (l *Layout) ChunkLen(i int) int {
	invariants.CheckBounds(i, l.NumChunks())
	return int(l.offsets[i+1] - l.offsets[i])
}

// ChunkOf returns the chunk holding row, which must be in [0, Len()). Empty
// chunks are skipped.
func (l *Layout) ChunkOf(row int64) int {
	if invariants.Enabled && (row < 0 || row >= l.Len()) {
		panic(base.OutOfRangeError(row, l.Len(), "row"))
	}
	n := l.NumChunks()
	return sort.Search(n, func(i int) bool { return l.offsets[i+1] > row })
}

// Offsets returns the offset table. The caller must not modify it.
func (l *Layout) Offsets() []int64 { return l.offsets }

// Equal returns true if both layouts have the same offsets.
func (l *Layout) Equal(o *Layout) bool {
	if l == o {
		return true
	}
	if len(l.offsets) != len(o.offsets) {
		return false
	}
	for i := range l.offsets {
		if l.offsets[i] != o.offsets[i] {
			return false
		}
	}
	return true
}

func (l *Layout) String() string {
	return redact.StringWithoutMarkers(l)
}

// SafeFormat implements redact.SafeFormatter.
func (l *Layout) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Printf("%d chunks, %d rows", l.NumChunks(), l.Len())
}

// appendTo appends the layout as a uvarint count followed by uvarint deltas.
func (l *Layout) appendTo(buf []byte) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(l.offsets)))
	var prev int64
	for _, o := range l.offsets {
		buf = binary.AppendUvarint(buf, uint64(o-prev))
		prev = o
	}
	return buf
}

func decodeLayout(b []byte) (*Layout, []byte, error) {
	n, w := binary.Uvarint(b)
	if w <= 0 || n > uint64(len(b)) {
		return nil, nil, base.CorruptionErrorf("layout: invalid offset count")
	}
	b = b[w:]
	offsets := make([]int64, n)
	var prev int64
	for i := range offsets {
		d, w := binary.Uvarint(b)
		if w <= 0 {
			return nil, nil, base.CorruptionErrorf("layout: truncated offset %d of %d", i, n)
		}
		b = b[w:]
		prev += int64(d)
		offsets[i] = prev
	}
	l, err := New(offsets)
	return l, b, err
}

// encodeTable encodes the authoritative table of a group.
func encodeTable(table []*Layout) []byte {
	buf := binary.AppendUvarint(nil, uint64(len(table)))
	for _, l := range table {
		buf = l.appendTo(buf)
	}
	return buf
}

func decodeTable(b []byte) ([]*Layout, error) {
	if len(b) == 0 {
		return nil, nil
	}
	n, w := binary.Uvarint(b)
	if w <= 0 || n > uint64(len(b)) {
		return nil, base.CorruptionErrorf("layout: invalid table length")
	}
	b = b[w:]
	table := make([]*Layout, n)
	for i := range table {
		var err error
		if table[i], b, err = decodeLayout(b); err != nil {
			return nil, errors.Wrapf(err, "layout %d", i)
		}
	}
	if len(b) != 0 {
		return nil, base.CorruptionErrorf("layout: %d trailing bytes", len(b))
	}
	return table, nil
}
