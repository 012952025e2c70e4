// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/cockroachdb/colvec"
	"github.com/cockroachdb/colvec/metrics"
	"github.com/cockroachdb/crlib/crhumanize"
	"github.com/cockroachdb/crlib/crtime"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var genCmd = &cobra.Command{
	Use:   "gen",
	Short: "generate columns and print the codecs selected for their chunks",
	Long: `
Generate one column per value distribution and print, for each column, its
encoded size and the codecs chosen for its chunks, followed by the codec
breakdown of every chunk frozen on the cluster.
`,
	Args: cobra.NoArgs,
	RunE: runGen,
}

func runGen(cmd *cobra.Command, args []string) error {
	names, err := selectedDists()
	if err != nil {
		return err
	}
	e, err := newEnv()
	if err != nil {
		return err
	}
	defer func() { _ = e.close() }()

	ctx := context.Background()
	tbl := newTable(os.Stdout, "dist", "type", "rows", "chunks", "size", "bytes/row", "codecs", "elapsed")
	for _, name := range names {
		start := crtime.NowMono()
		c, err := e.generate(ctx, name)
		if err != nil {
			return err
		}
		elapsed := start.Elapsed()
		tally, err := columnCodecs(ctx, c)
		if err != nil {
			return err
		}
		total := tally.Total()
		tbl.Append([]string{
			name,
			c.Type().String(),
			string(crhumanize.Count(c.Len(), crhumanize.Compact)),
			fmt.Sprint(c.NumChunks()),
			string(crhumanize.Bytes(total.Bytes, crhumanize.Compact, crhumanize.OmitI)),
			fmt.Sprintf("%.3f", float64(total.Bytes)/float64(max(c.Len(), 1))),
			formatTally(tally),
			elapsed.Round(time.Microsecond).String(),
		})
	}
	tbl.Render()

	fmt.Println()
	printCodecs(os.Stdout, e.dbs[0].Metrics().Codecs())
	printTransfers(os.Stdout, e)
	return nil
}

// columnCodecs tallies the codecs of the chunks of c.
func columnCodecs(ctx context.Context, c *colvec.Column) (metrics.CodecTally, error) {
	tally := make(metrics.CodecTally)
	for i := 0; i < c.NumChunks(); i++ {
		ch, err := c.Chunk(ctx, i)
		if err != nil {
			return nil, err
		}
		tally.Inc(ch.Codec().String(), uint64(ch.Size()))
	}
	return tally, nil
}

func sortedCodecs(tally metrics.CodecTally) []string {
	names := make([]string, 0, len(tally))
	for name := range tally {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if tally[names[i]].Count != tally[names[j]].Count {
			return tally[names[i]].Count > tally[names[j]].Count
		}
		return names[i] < names[j]
	})
	return names
}

func formatTally(tally metrics.CodecTally) string {
	var parts []string
	for _, name := range sortedCodecs(tally) {
		parts = append(parts, fmt.Sprintf("%s×%d", name, tally[name].Count))
	}
	return strings.Join(parts, " ")
}

func printCodecs(w io.Writer, tally metrics.CodecTally) {
	total := tally.Total()
	tbl := newTable(w, "codec", "chunks", "size", "avg size", "share")
	for _, name := range sortedCodecs(tally) {
		cs := tally[name]
		tbl.Append([]string{
			name,
			string(crhumanize.Count(cs.Count, crhumanize.Compact)),
			string(crhumanize.Bytes(cs.Bytes, crhumanize.Compact, crhumanize.OmitI)),
			string(crhumanize.Bytes(cs.AvgSize(), crhumanize.Compact, crhumanize.OmitI)),
			string(crhumanize.Percent(cs.Bytes, total.Bytes)),
		})
	}
	tbl.SetFooter([]string{"total", total.String(), "", "", ""})
	tbl.Render()
}

func printTransfers(w io.Writer, e *env) {
	s := e.cluster.Stats()
	fmt.Fprintf(w, "%d nodes, %s compression: %d remote gets, %d cache hits, %s on the wire, %d calls\n",
		e.cluster.Size(), compression, s.RemoteGets, s.CacheHits,
		crhumanize.Bytes(s.WireBytes, crhumanize.Compact, crhumanize.OmitI), s.Calls)
}

func newTable(w io.Writer, header ...string) *tablewriter.Table {
	tbl := tablewriter.NewWriter(w)
	tbl.SetHeader(header)
	tbl.SetAutoFormatHeaders(false)
	tbl.SetAlignment(tablewriter.ALIGN_RIGHT)
	return tbl
}
