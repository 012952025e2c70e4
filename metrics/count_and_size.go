// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package metrics

import (
	"github.com/cockroachdb/colvec/internal/invariants"
	"github.com/cockroachdb/crlib/crhumanize"
	"github.com/cockroachdb/redact"
)

// CountAndSize tracks the count and total size of a set of chunks.
type CountAndSize struct {
	// Count is the number of chunks.
	Count uint64

	// Bytes is the total encoded size of all chunks.
	Bytes uint64
}

// Inc increases the count and size for a single chunk.
func (cs *CountAndSize) Inc(size uint64) {
	cs.Count++
	cs.Bytes += size
}

// Dec decreases the count and size for a single chunk.
func (cs *CountAndSize) Dec(size uint64) {
	cs.Count = invariants.SafeSub(cs.Count, 1)
	cs.Bytes = invariants.SafeSub(cs.Bytes, size)
}

// Accumulate increases the counts and sizes by the given amounts.
func (cs *CountAndSize) Accumulate(other CountAndSize) {
	cs.Count += other.Count
	cs.Bytes += other.Bytes
}

// IsZero returns true if nothing has been counted.
func (cs CountAndSize) IsZero() bool {
	return cs.Count == 0 && cs.Bytes == 0
}

// AvgSize returns the mean chunk size, or zero if there are no chunks.
func (cs CountAndSize) AvgSize() uint64 {
	if cs.Count == 0 {
		return 0
	}
	return cs.Bytes / cs.Count
}

func (cs CountAndSize) String() string {
	return redact.StringWithoutMarkers(cs)
}

// SafeFormat implements redact.SafeFormatter.
func (cs CountAndSize) SafeFormat(w redact.SafePrinter, verb rune) {
	w.Printf("%s (%s)", crhumanize.Count(cs.Count, crhumanize.Compact), crhumanize.Bytes(cs.Bytes, crhumanize.Compact, crhumanize.OmitI))
}

// CodecTally is a CountAndSize per codec name.
type CodecTally map[string]CountAndSize

// Inc counts one chunk of the given codec.
func (t CodecTally) Inc(codec string, size uint64) {
	cs := t[codec]
	cs.Inc(size)
	t[codec] = cs
}

// Total sums every codec.
func (t CodecTally) Total() CountAndSize {
	var total CountAndSize
	for _, cs := range t {
		total.Accumulate(cs)
	}
	return total
}
