// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package colvec

import "github.com/cockroachdb/colvec/internal/base"

// Type exports the base.Type type.
type Type = base.Type

// These constants are part of the column descriptor format, and should not be
// changed.
const (
	TypeBad         = base.TypeBad
	TypeUUID        = base.TypeUUID
	TypeString      = base.TypeString
	TypeNumeric     = base.TypeNumeric
	TypeCategorical = base.TypeCategorical
	TypeTime        = base.TypeTime
)

// ParseType exports the base.ParseType function.
func ParseType(s string) (Type, bool) { return base.ParseType(s) }

// Logger exports the base.Logger type.
type Logger = base.Logger

// LogConfig exports the base.LogConfig type.
type LogConfig = base.LogConfig

// NoopLogger exports the base.NoopLogger type.
type NoopLogger = base.NoopLogger

// NewLogger exports the base.NewLogger function.
func NewLogger(cfg LogConfig) (Logger, error) { return base.NewLogger(cfg) }
