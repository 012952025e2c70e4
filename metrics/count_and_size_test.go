// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package metrics

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func expect(t *testing.T, cs CountAndSize, expCount uint64, expBytes uint64) {
	t.Helper()
	require.Equal(t, expCount, cs.Count)
	require.Equal(t, expBytes, cs.Bytes)
}

func TestCountAndSize(t *testing.T) {
	var cs CountAndSize
	require.True(t, cs.IsZero())
	require.Equal(t, uint64(0), cs.AvgSize())

	cs.Inc(1000)
	cs.Inc(3000)
	expect(t, cs, 2, 4000)
	require.Equal(t, uint64(2000), cs.AvgSize())

	cs.Dec(1000)
	expect(t, cs, 1, 3000)

	cs.Accumulate(CountAndSize{Count: 4, Bytes: 5})
	expect(t, cs, 5, 3005)
	require.False(t, cs.IsZero())
	require.NotEmpty(t, cs.String())
}

func TestCodecTally(t *testing.T) {
	tally := CodecTally{}
	tally.Inc("u8", 100)
	tally.Inc("u8", 50)
	tally.Inc("f64", 800)
	expect(t, tally["u8"], 2, 150)
	expect(t, tally["f64"], 1, 800)
	expect(t, tally.Total(), 3, 950)
}
