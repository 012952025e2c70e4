// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package colvec

import (
	"encoding/binary"

	"github.com/cockroachdb/colvec/internal/base"
)

// descriptor is the record stored under a column key:
//
//	[type: 1][layout id: uvarint][domain size: uvarint]([len: uvarint][bytes])*
type descriptor struct {
	typ      base.Type
	layoutID int
	domain   []string
}

func (d descriptor) encode() []byte {
	buf := make([]byte, 0, 16)
	buf = append(buf, byte(d.typ))
	buf = binary.AppendUvarint(buf, uint64(d.layoutID))
	buf = binary.AppendUvarint(buf, uint64(len(d.domain)))
	for _, s := range d.domain {
		buf = binary.AppendUvarint(buf, uint64(len(s)))
		buf = append(buf, s...)
	}
	return buf
}

func decodeDescriptor(b []byte) (descriptor, error) {
	var d descriptor
	if len(b) < 1 {
		return d, base.CorruptionErrorf("colvec: empty column descriptor")
	}
	d.typ = base.Type(b[0])
	if _, ok := base.ParseType(d.typ.String()); !ok {
		return d, base.CorruptionErrorf("colvec: unknown column type %d", b[0])
	}
	b = b[1:]
	uvarint := func() (uint64, bool) {
		v, n := binary.Uvarint(b)
		if n <= 0 {
			return 0, false
		}
		b = b[n:]
		return v, true
	}
	id, ok := uvarint()
	if !ok {
		return d, base.CorruptionErrorf("colvec: truncated column descriptor")
	}
	d.layoutID = int(id)
	n, ok := uvarint()
	if !ok || n > uint64(len(b)) {
		return d, base.CorruptionErrorf("colvec: truncated column descriptor")
	}
	if n > 0 {
		d.domain = make([]string, n)
	}
	for i := range d.domain {
		l, ok := uvarint()
		if !ok || l > uint64(len(b)) {
			return d, base.CorruptionErrorf("colvec: truncated column descriptor")
		}
		d.domain[i] = string(b[:l])
		b = b[l:]
	}
	if len(b) != 0 {
		return d, base.CorruptionErrorf("colvec: %d trailing bytes in column descriptor", len(b))
	}
	return d, nil
}
