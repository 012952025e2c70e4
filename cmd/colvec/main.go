// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Command colvec generates synthetic columns on an in-process cluster and
// reports how they are encoded, their rollups and their read performance.
package main

import (
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	optionsPath string
	nodes       int
	compression string
	rows        int
	chunkRows   int
	dist        string
	seed        uint64
	verbose     bool
)

var rootCmd = &cobra.Command{
	Use:   "colvec [command] (flags)",
	Short: "colvec column store introspection and benchmarking tool",
	Long:  ``,
}

func main() {
	log.SetFlags(0)

	cobra.EnableCommandSorting = false
	rootCmd.AddCommand(
		genCmd,
		rollupCmd,
		histogramCmd,
		benchCmd,
	)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(
		&optionsPath, "options", "", "YAML options file (environment variables are expanded)")
	flags.IntVarP(
		&nodes, "nodes", "n", 3, "number of in-process nodes")
	flags.StringVar(
		&compression, "compression", "none", "compression of cross-node transfers (none, snappy, zstd)")
	flags.IntVarP(
		&rows, "rows", "r", 1<<20, "number of rows per column")
	flags.IntVar(
		&chunkRows, "chunk-rows", 0, "rows per chunk (0 uses the options value)")
	flags.StringVarP(
		&dist, "dist", "d", "all", "value distribution: all, or one of "+distNames())
	flags.Uint64Var(
		&seed, "seed", 1, "random seed")
	flags.BoolVarP(
		&verbose, "verbose", "v", false, "log node activity")

	histogramCmd.Flags().IntVar(
		&plotHeight, "height", plotHeight, "height of the plot")
	histogramCmd.Flags().IntVar(
		&plotWidth, "width", plotWidth, "number of plotted points")

	benchCmd.Flags().IntVarP(
		&benchConfig.concurrency, "concurrency", "c", 1, "number of concurrent readers")
	benchCmd.Flags().DurationVar(
		&benchConfig.duration, "duration", 10*time.Second, "the duration to run")
	benchCmd.Flags().IntVar(
		&benchConfig.writePercent, "write-percent", 0,
		"Percent (0-100) of operations that are single-row write episodes")
	benchCmd.Flags().IntVar(
		&benchConfig.rollupPercent, "rollup-percent", 0,
		"Percent (0-100) of operations that request the column's rollups")
	benchCmd.Flags().BoolVar(
		&benchConfig.skew, "skew", false, "draw rows from a Zipf distribution instead of uniformly")

	if err := rootCmd.Execute(); err != nil {
		// Cobra has already printed the error message.
		os.Exit(1)
	}
}
