// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/cockroachdb/colvec"
	"github.com/cockroachdb/colvec/rollup"
	"github.com/cockroachdb/crlib/crhumanize"
	"github.com/cockroachdb/crlib/crtime"
	"github.com/guptarohit/asciigraph"
	"github.com/spf13/cobra"
)

var (
	plotHeight = 15
	plotWidth  = 80
)

var rollupCmd = &cobra.Command{
	Use:   "rollup",
	Short: "generate columns and print their rollup statistics",
	Long: `
Generate one column per value distribution and request its rollups from a
random node. Every request is coalesced onto the computation on the column's
home node.
`,
	Args: cobra.NoArgs,
	RunE: runRollup,
}

var histogramCmd = &cobra.Command{
	Use:   "histogram",
	Short: "generate columns and plot their histograms",
	Args:  cobra.NoArgs,
	RunE:  runHistogram,
}

func runRollup(cmd *cobra.Command, args []string) error {
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
	tbl := newTable(os.Stdout, "dist", "rows", "missing", "nonzero", "min", "max", "mean", "sigma", "int", "checksum", "elapsed")
	for _, name := range names {
		c, err := e.generate(ctx, name)
		if err != nil {
			return err
		}
		if c.Type() == colvec.TypeString || c.Type() == colvec.TypeUUID {
			continue
		}
		start := crtime.NowMono()
		rc, err := e.db().OpenColumn(ctx, c.Key())
		if err != nil {
			return err
		}
		s, err := rc.Rollups(ctx)
		if err != nil {
			return err
		}
		tbl.Append([]string{
			name,
			string(crhumanize.Count(s.Rows, crhumanize.Compact)),
			string(crhumanize.Count(s.Missing, crhumanize.Compact)),
			string(crhumanize.Count(s.NonZero, crhumanize.Compact)),
			formatFloat(s.Min()),
			formatFloat(s.Max()),
			formatFloat(s.Mean),
			formatFloat(s.Sigma()),
			fmt.Sprint(s.IsInt),
			fmt.Sprintf("%016x", s.Checksum),
			start.Elapsed().String(),
		})
	}
	tbl.Render()
	printTransfers(os.Stdout, e)
	return nil
}

func runHistogram(cmd *cobra.Command, args []string) error {
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
	for _, name := range names {
		c, err := e.generate(ctx, name)
		if err != nil {
			return err
		}
		if c.Type() == colvec.TypeString || c.Type() == colvec.TypeUUID {
			continue
		}
		rc, err := e.db().OpenColumn(ctx, c.Key())
		if err != nil {
			return err
		}
		s, err := rc.RollupsWithHistogram(ctx)
		if err != nil {
			return err
		}
		printHistogram(os.Stdout, name, c, s)
	}
	return nil
}

func printHistogram(w io.Writer, name string, c *colvec.Column, s *rollup.Stats) {
	fmt.Fprintf(w, "%s: %d bins of width %s from %s\n", name, len(s.Bins), formatFloat(s.Stride), formatFloat(s.Base))
	if len(s.Bins) == 0 {
		fmt.Fprintln(w)
		return
	}
	fmt.Fprintln(w, asciigraph.Plot(downsample(s.Bins, plotWidth), asciigraph.Height(plotHeight)))
	if mode := s.Mode(); mode >= 0 {
		if domain := c.Domain(); mode < len(domain) {
			fmt.Fprintf(w, "mode: %s\n", domain[mode])
		} else {
			fmt.Fprintf(w, "mode: [%s, %s)\n",
				formatFloat(s.Base+float64(mode)*s.Stride), formatFloat(s.Base+float64(mode+1)*s.Stride))
		}
	}
	var parts []string
	for i, p := range s.Probes[:min(len(s.Probes), len(s.Percentiles))] {
		parts = append(parts, fmt.Sprintf("p%g=%s", p*100, formatFloat(s.Percentiles[i])))
	}
	fmt.Fprintf(w, "%s\n\n", strings.Join(parts, " "))
}

// downsample sums adjacent bins so that at most width points remain.
func downsample(bins []int64, width int) []float64 {
	per := 1
	if width > 0 {
		per = max(1, (len(bins)+width-1)/width)
	}
	out := make([]float64, 0, (len(bins)+per-1)/per)
	for i := 0; i < len(bins); i += per {
		var sum int64
		for _, b := range bins[i:min(i+per, len(bins))] {
			sum += b
		}
		out = append(out, float64(sum))
	}
	return out
}

func formatFloat(f float64) string {
	return fmt.Sprintf("%.6g", f)
}
