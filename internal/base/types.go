// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package base defines the types shared by every package of the module: the
// logger, the error markers and the column value types.
package base

import "github.com/cockroachdb/redact"

// Type is the value type of a column.
type Type uint8

const (
	// TypeBad marks a column whose rows are all missing (or which has no rows).
	TypeBad Type = iota
	// TypeUUID holds 128-bit values.
	TypeUUID
	// TypeString holds variable-length byte strings.
	TypeString
	// TypeNumeric holds integers or floating point values.
	TypeNumeric
	// TypeCategorical holds indexes into the column's domain.
	TypeCategorical
	// TypeTime holds milliseconds since the Unix epoch.
	TypeTime
)

var typeNames = [...]string{
	TypeBad:         "bad",
	TypeUUID:        "uuid",
	TypeString:      "string",
	TypeNumeric:     "numeric",
	TypeCategorical: "categorical",
	TypeTime:        "time",
}

// String implements fmt.Stringer.
func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return "unknown"
}

// SafeFormat implements redact.SafeFormatter.
func (t Type) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Print(redact.SafeString(t.String()))
}

// IsNumeric returns true for types whose rows read as float64.
func (t Type) IsNumeric() bool {
	return t == TypeNumeric || t == TypeCategorical || t == TypeTime
}

// ParseType is the inverse of Type.String.
func ParseType(s string) (Type, bool) {
	for i, n := range typeNames {
		if n == s {
			return Type(i), true
		}
	}
	return TypeBad, false
}
