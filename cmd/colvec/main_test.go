// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/cockroachdb/colvec"
	"github.com/stretchr/testify/require"
)

func withFlags(t *testing.T, n, r int, d string) {
	saved := []any{nodes, rows, dist, verbose}
	nodes, rows, dist, verbose = n, r, d, false
	t.Cleanup(func() {
		nodes, rows, dist, verbose = saved[0].(int), saved[1].(int), saved[2].(string), saved[3].(bool)
	})
}

func TestSelectedDists(t *testing.T) {
	withFlags(t, 1, 10, "all")
	names, err := selectedDists()
	require.NoError(t, err)
	require.Len(t, names, len(distributions))

	dist = "const, uuid"
	names, err = selectedDists()
	require.NoError(t, err)
	require.Equal(t, []string{"const", "uuid"}, names)

	dist = "zipf"
	_, err = selectedDists()
	require.ErrorContains(t, err, `unknown distribution "zipf"`)
}

func TestGenerate(t *testing.T) {
	withFlags(t, 3, 1000, "all")
	e, err := newEnv()
	require.NoError(t, err)
	defer func() { require.NoError(t, e.close()) }()

	ctx := context.Background()
	for name, want := range map[string]struct {
		typ   colvec.Type
		codec string
	}{
		"const":  {colvec.TypeNumeric, "const-int"},
		"string": {colvec.TypeString, "str"},
		"uuid":   {colvec.TypeUUID, "uuid"},
	} {
		c, err := e.generate(ctx, name)
		require.NoError(t, err)
		require.Equal(t, want.typ, c.Type(), name)
		require.EqualValues(t, 1000, c.Len(), name)

		tally, err := columnCodecs(ctx, c)
		require.NoError(t, err)
		require.Len(t, tally, 1, name)
		require.EqualValues(t, 1, tally[want.codec].Count, name)
	}

	c, err := e.generate(ctx, "categorical")
	require.NoError(t, err)
	rc, err := e.dbs[2].OpenColumn(ctx, c.Key())
	require.NoError(t, err)
	s, err := rc.RollupsWithHistogram(ctx)
	require.NoError(t, err)
	require.Len(t, s.Bins, len(categories))

	var buf bytes.Buffer
	printHistogram(&buf, "categorical", rc, s)
	require.Contains(t, buf.String(), "mode: ")
}

func TestDownsample(t *testing.T) {
	require.Equal(t, []float64{1, 2, 3}, downsample([]int64{1, 2, 3}, 80))
	require.Equal(t, []float64{3, 7, 5}, downsample([]int64{1, 2, 3, 4, 5}, 3))
}
