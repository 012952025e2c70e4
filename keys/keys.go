// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package keys implements the byte layout of the keys under which columns,
// chunks, column groups and their metadata are stored.
//
// Every key has the layout
//
//	[kind: 1][home hint: 1][id: 4 LE][chunk index or sentinel: 4 LE][tail]
//
// The id is the column id within its group (0 for group records). The chunk
// index is -1 for a column header and -2 for a rollup record or, in the group
// layout family, the layout table. The tail is shared by every key derived from
// the same group, which is what lets chunk placement co-locate same-indexed
// chunks of grouped columns.
package keys

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/bits"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/redact"
	"github.com/google/uuid"
)

// Kind distinguishes the key families.
type Kind uint8

const (
	// KindColumn keys address column headers and rollup records.
	KindColumn Kind = 1 + iota
	// KindChunk keys address chunk payloads.
	KindChunk
	// KindGroup keys address column group records (the next free column id).
	KindGroup
	// KindGroupLayout keys address a group's layout table.
	KindGroupLayout
)

func (k Kind) String() string {
	switch k {
	case KindColumn:
		return "col"
	case KindChunk:
		return "chunk"
	case KindGroup:
		return "group"
	case KindGroupLayout:
		return "layout"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

const (
	// HeaderIndex is the chunk index sentinel of a column header key.
	HeaderIndex int32 = -1
	// RollupIndex is the chunk index sentinel of a rollup record key.
	RollupIndex int32 = -2
	// LayoutIndex is the chunk index sentinel of a group's layout table key.
	LayoutIndex int32 = -2
)

const (
	prefixLen = 10
	// homeHint is reserved for pinning a key to a node; 0xFF means "hash".
	homeHint = 0xFF
)

// Key is an immutable byte key. The zero value is not a valid key.
type Key string

// Make assembles a key from its parts.
func Make(kind Kind, id uint32, idx int32, tail []byte) Key {
	buf := make([]byte, prefixLen+len(tail))
	buf[0] = byte(kind)
	buf[1] = homeHint
	binary.LittleEndian.PutUint32(buf[2:], id)
	binary.LittleEndian.PutUint32(buf[6:], uint32(idx))
	copy(buf[prefixLen:], tail)
	return Key(buf)
}

// Parse validates b as a key.
func Parse(b []byte) (Key, error) {
	if len(b) < prefixLen {
		return "", errors.Newf("keys: key too short (%d bytes)", len(b))
	}
	k := Key(b)
	switch kind := k.Kind(); kind {
	case KindColumn:
		if idx := k.Index(); idx != HeaderIndex && idx != RollupIndex {
			return "", errors.Newf("keys: column key with chunk index %d", idx)
		}
	case KindChunk:
		if k.Index() < 0 {
			return "", errors.Newf("keys: chunk key with negative index %d", k.Index())
		}
	case KindGroup, KindGroupLayout:
	default:
		return "", errors.Newf("keys: unknown kind %d", kind)
	}
	return k, nil
}

// NewGroup returns a fresh group key with a random tail.
func NewGroup() Key {
	id := uuid.New()
	return Make(KindGroup, 0, HeaderIndex, id[:])
}

// GroupFromTail returns the group key for the given tail.
func GroupFromTail(tail []byte) Key {
	return Make(KindGroup, 0, HeaderIndex, tail)
}

// Kind returns the key family.
func (k Key) Kind() Kind { return Kind(k[0]) }

// ID returns the column id (0 for group keys).
func (k Key) ID() uint32 { return binary.LittleEndian.Uint32([]byte(k[2:6])) }

// Index returns the chunk index or sentinel.
func (k Key) Index() int32 { return int32(binary.LittleEndian.Uint32([]byte(k[6:10]))) }

// Tail returns the group tail shared by every key of the group.
func (k Key) Tail() string { return string(k[prefixLen:]) }

func (k Key) tail() []byte { return []byte(k[prefixLen:]) }

// IsRollup returns true for rollup record keys.
func (k Key) IsRollup() bool { return k.Kind() == KindColumn && k.Index() == RollupIndex }

// IsColumn returns true for column header keys.
func (k Key) IsColumn() bool { return k.Kind() == KindColumn && k.Index() == HeaderIndex }

// Column returns the header key of the column a chunk, rollup or column key
// belongs to.
func (k Key) Column() Key {
	return Make(KindColumn, k.ID(), HeaderIndex, k.tail())
}

// Chunk returns the key of the i-th chunk of the column.
func (k Key) Chunk(i int) Key {
	if i < 0 {
		panic(errors.AssertionFailedf("keys: negative chunk index %d", i))
	}
	return Make(KindChunk, k.ID(), int32(i), k.tail())
}

// Rollup returns the key of the column's rollup record.
func (k Key) Rollup() Key {
	return Make(KindColumn, k.ID(), RollupIndex, k.tail())
}

// Group returns the key of the group the column belongs to.
func (k Key) Group() Key {
	return Make(KindGroup, 0, HeaderIndex, k.tail())
}

// Layout returns the key of the group's layout table.
func (k Key) Layout() Key {
	return Make(KindGroupLayout, 0, LayoutIndex, k.tail())
}

// ColumnKey returns the header key of column id in the group.
func (k Key) ColumnKey(id uint32) Key {
	return Make(KindColumn, id, HeaderIndex, k.tail())
}

// Home returns the index of the node owning the key in a cluster of n nodes.
// Chunk keys are homed by group tail and chunk index only, so the i-th chunks
// of every column in a group land on the same node. Chunks of one column are
// spread in log-runs starting from a per-group offset (see logRun).
func (k Key) Home(n int) int {
	if n <= 1 {
		return 0
	}
	if k.Kind() == KindChunk {
		h := xxhash.Sum64(k.tail())
		return int((h + logRun(int(k.Index()), n)) % uint64(n))
	}
	return int(xxhash.Sum64String(string(k)) % uint64(n))
}

// maxRunLog2 caps runs at 16 consecutive chunks per node.
const maxRunLog2 = 4

// logRun returns the node slot of chunk i in a cluster of n nodes. The first
// 2n chunks go one per node. Then every node takes runs of 2, then 4, then 8
// consecutive chunks, once around each, and runs of 16 from there on. Reads
// that step off the end of a chunk into the next then mostly stay on one node.
func logRun(i, n int) uint64 {
	x := i / n
	if x == 0 {
		return uint64(i)
	}
	log2 := min(bits.Len(uint(x))-1, maxRunLog2)
	lo := (1 << log2) * n
	return uint64((i - lo) >> log2)
}

// String implements fmt.Stringer.
func (k Key) String() string {
	return redact.StringWithoutMarkers(k)
}

// SafeFormat implements redact.SafeFormatter.
func (k Key) SafeFormat(w redact.SafePrinter, _ rune) {
	if len(k) < prefixLen {
		w.Printf("invalid-key(%x)", []byte(k))
		return
	}
	w.Printf("%s", redact.SafeString(k.Kind().String()))
	switch k.Kind() {
	case KindColumn, KindChunk:
		w.Printf("/%d", k.ID())
	}
	switch idx := k.Index(); {
	case k.Kind() == KindChunk:
		w.Printf("/%d", idx)
	case k.IsRollup():
		w.Printf("/rollup")
	}
	w.Printf("@%s", redact.SafeString(formatTail(k.tail())))
}

func formatTail(t []byte) string {
	if len(t) == 16 {
		if id, err := uuid.FromBytes(t); err == nil {
			return id.String()[:8]
		}
	}
	if len(t) > 8 {
		t = t[:8]
	}
	return hex.EncodeToString(t)
}
