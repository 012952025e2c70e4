// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package kv

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
)

// Compression selects how values are compressed when they cross node
// boundaries.
type Compression uint8

const (
	// NoCompression sends values as-is.
	NoCompression Compression = iota
	// SnappyCompression uses snappy block compression.
	SnappyCompression
	// ZstdCompression uses zstd at the default level.
	ZstdCompression
)

// String implements fmt.Stringer.
func (c Compression) String() string {
	switch c {
	case NoCompression:
		return "none"
	case SnappyCompression:
		return "snappy"
	case ZstdCompression:
		return "zstd"
	default:
		return "unknown"
	}
}

// ParseCompression is the inverse of Compression.String.
func ParseCompression(s string) (Compression, error) {
	switch s {
	case "", "none":
		return NoCompression, nil
	case "snappy":
		return SnappyCompression, nil
	case "zstd":
		return ZstdCompression, nil
	}
	return 0, errors.Newf("kv: unknown compression %q", s)
}

// zstd encoders and decoders are safe for concurrent use of EncodeAll and
// DecodeAll.
var zstdCodec struct {
	once sync.Once
	enc  *zstd.Encoder
	dec  *zstd.Decoder
	err  error
}

func zstdInit() error {
	zstdCodec.once.Do(func() {
		zstdCodec.enc, zstdCodec.err = zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
		if zstdCodec.err != nil {
			return
		}
		zstdCodec.dec, zstdCodec.err = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	})
	return zstdCodec.err
}

// encode compresses b for transfer.
func (c Compression) encode(b []byte) ([]byte, error) {
	switch c {
	case NoCompression:
		return b, nil
	case SnappyCompression:
		return snappy.Encode(nil, b), nil
	case ZstdCompression:
		if err := zstdInit(); err != nil {
			return nil, err
		}
		return zstdCodec.enc.EncodeAll(b, make([]byte, 0, len(b)/2)), nil
	}
	return nil, errors.AssertionFailedf("kv: unknown compression %d", c)
}

// decode reverses encode.
func (c Compression) decode(b []byte) ([]byte, error) {
	switch c {
	case NoCompression:
		return b, nil
	case SnappyCompression:
		return snappy.Decode(nil, b)
	case ZstdCompression:
		if err := zstdInit(); err != nil {
			return nil, err
		}
		return zstdCodec.dec.DecodeAll(b, nil)
	}
	return nil, errors.AssertionFailedf("kv: unknown compression %d", c)
}

// transfer moves b across a node boundary, returning the bytes as the
// receiving node sees them along with the encoded size.
func (c Compression) transfer(b []byte) ([]byte, int, error) {
	if b == nil {
		return nil, 0, nil
	}
	enc, err := c.encode(b)
	if err != nil {
		return nil, 0, err
	}
	dec, err := c.decode(enc)
	if err != nil {
		return nil, 0, errors.Wrapf(err, "kv: decoding %s payload", c)
	}
	if c == NoCompression {
		// The receiver gets its own copy.
		dec = append([]byte(nil), b...)
	}
	return dec, len(enc), nil
}
