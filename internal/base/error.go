// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package base

import "github.com/cockroachdb/errors"

// ErrMissingValue marks errors raised when a missing element is read through an
// accessor whose type has no missing sentinel (exact integers, strings, UUIDs).
var ErrMissingValue = errors.New("colvec: missing value")

// ErrOutOfRange marks row, chunk and layout index errors.
var ErrOutOfRange = errors.New("colvec: index out of range")

// ErrMutating marks errors returned when rollups are requested for a column
// that has an open write episode.
var ErrMutating = errors.New("colvec: column is being modified")

// ErrFrozen is returned when a chunk builder is frozen a second time.
var ErrFrozen = errors.New("colvec: builder already frozen")

// ErrClosed is returned by operations on a closed service object.
var ErrClosed = errors.New("colvec: closed")

// ErrNotFound is returned when a column, chunk or group record does not exist.
var ErrNotFound = errors.New("colvec: not found")

// MissingValueError returns an error marked ErrMissingValue.
func MissingValueError(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrMissingValue)
}

// OutOfRangeError returns an error marked ErrOutOfRange.
func OutOfRangeError(i, n int64, what string) error {
	return errors.Mark(errors.Newf("%s %d out of range [0, %d)", errors.Safe(what), i, n), ErrOutOfRange)
}

// CorruptionErrorf formats an assertion error for malformed encoded data.
func CorruptionErrorf(format string, args ...interface{}) error {
	return errors.AssertionFailedf(format, args...)
}
