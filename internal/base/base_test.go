// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package base

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

func TestType(t *testing.T) {
	for _, typ := range []Type{TypeBad, TypeUUID, TypeString, TypeNumeric, TypeCategorical, TypeTime} {
		got, ok := ParseType(typ.String())
		require.True(t, ok)
		require.Equal(t, typ, got)
	}
	_, ok := ParseType("decimal")
	require.False(t, ok)
	require.Equal(t, "unknown", Type(200).String())

	require.True(t, TypeCategorical.IsNumeric())
	require.False(t, TypeString.IsNumeric())
	require.False(t, TypeBad.IsNumeric())
}

func TestErrors(t *testing.T) {
	err := OutOfRangeError(7, 5, "row")
	require.True(t, errors.Is(err, ErrOutOfRange))
	require.EqualError(t, err, "row 7 out of range [0, 5)")

	err = errors.Wrap(MissingValueError("row %d is missing", 3), "reading")
	require.True(t, errors.Is(err, ErrMissingValue))
	require.False(t, errors.Is(err, ErrOutOfRange))

	require.True(t, errors.HasAssertionFailure(CorruptionErrorf("bad tag %d", 9)))
}

func TestNewLogger(t *testing.T) {
	l, err := NewLogger(LogConfig{Level: "warn", Encoding: "json"})
	require.NoError(t, err)
	l.Infof("dropped %d", 1)

	_, err = NewLogger(LogConfig{Level: "loud"})
	require.ErrorContains(t, err, `invalid log level "loud"`)

	require.Panics(t, func() { NoopLogger{}.Fatalf("boom") })
}
