// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package colvec

import (
	"fmt"
	"os"
	"strings"

	"github.com/cockroachdb/colvec/chunk"
	"github.com/cockroachdb/colvec/internal/base"
	"github.com/cockroachdb/colvec/keys"
	"github.com/cockroachdb/colvec/mr"
	"github.com/cockroachdb/colvec/rollup"
	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/yaml.v3"
)

// DefaultChunkRows is the default Options.ChunkRows.
const DefaultChunkRows = 1 << 16

// Options holds the parameters of a DB. The zero value is usable after
// EnsureDefaults.
type Options struct {
	// SparseRatio selects sparse chunk encodings: a chunk is stored sparse when
	// fewer than one row in SparseRatio differs from the sparse default.
	// Defaults to 32.
	SparseRatio int `yaml:"sparse_ratio"`

	// ChunkRows is the number of rows after which an Appender starts a new
	// chunk. Defaults to DefaultChunkRows.
	ChunkRows int `yaml:"chunk_rows"`

	// HistogramBins caps the bins of numeric histograms. Defaults to 1000.
	HistogramBins int `yaml:"histogram_bins"`

	// CategoricalHistogramBins caps the bins of categorical histograms.
	// Defaults to 10000.
	CategoricalHistogramBins int `yaml:"categorical_histogram_bins"`

	// Percentiles are the quantile probabilities estimated with every
	// histogram. Each must lie in [0, 1].
	Percentiles []float64 `yaml:"percentiles"`

	// Concurrency bounds the parallelism of the rollup passes. Defaults to
	// GOMAXPROCS.
	Concurrency int `yaml:"concurrency"`

	// Logging configures the default logger when Logger is nil.
	Logging base.LogConfig `yaml:"logging"`

	// Logger is used to write log messages. Defaults to a logger built from
	// Logging.
	Logger base.Logger `yaml:"-"`

	// Registerer, if set, receives the DB's metric collectors.
	Registerer prometheus.Registerer `yaml:"-"`

	// Testing knobs.
	testing struct {
		beforeCompute func(col keys.Key)
	}
}

// EnsureDefaults fills in the unset fields of o with their defaults and
// returns o.
func (o *Options) EnsureDefaults() *Options {
	if o == nil {
		o = &Options{}
	}
	if o.SparseRatio <= 0 {
		o.SparseRatio = chunk.DefaultSparseRatio
	}
	if o.ChunkRows <= 0 {
		o.ChunkRows = DefaultChunkRows
	}
	if o.HistogramBins <= 0 {
		o.HistogramBins = rollup.DefaultHistogramBins
	}
	if o.CategoricalHistogramBins <= 0 {
		o.CategoricalHistogramBins = rollup.DefaultCategoricalBins
	}
	if o.Percentiles == nil {
		o.Percentiles = append([]float64(nil), rollup.DefaultProbes...)
	}
	if o.Logger == nil {
		if l, err := base.NewLogger(o.Logging); err == nil {
			o.Logger = l
		} else {
			o.Logger = base.DefaultLogger
		}
	}
	return o
}

// Validate checks the options for settings that cannot work.
func (o *Options) Validate() error {
	var buf strings.Builder
	if o.SparseRatio < 0 {
		fmt.Fprintf(&buf, "sparse_ratio (%d) must not be negative\n", o.SparseRatio)
	}
	if o.ChunkRows < 0 {
		fmt.Fprintf(&buf, "chunk_rows (%d) must not be negative\n", o.ChunkRows)
	}
	for _, p := range o.Percentiles {
		if !(p >= 0 && p <= 1) {
			fmt.Fprintf(&buf, "percentile %v must lie in [0, 1]\n", p)
		}
	}
	if buf.Len() == 0 {
		return nil
	}
	return errors.New(buf.String())
}

func (o *Options) chunkConfig(onFreeze func(*chunk.Chunk)) chunk.Config {
	return chunk.Config{SparseRatio: o.SparseRatio, OnFreeze: onFreeze}
}

func (o *Options) rollupConfig() rollup.Config {
	return rollup.Config{
		HistogramBins:   o.HistogramBins,
		CategoricalBins: o.CategoricalHistogramBins,
		Probes:          o.Percentiles,
		Scheduler:       &mr.Scheduler{Concurrency: o.Concurrency},
	}
}

// LoadOptions reads options from a YAML file. References of the form ${VAR}
// are replaced by the value of the environment variable VAR before parsing.
func LoadOptions(path string) (*Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading options")
	}
	return ParseOptions(string(data))
}

// ParseOptions parses options from YAML text, expanding ${VAR} references.
func ParseOptions(text string) (*Options, error) {
	o := &Options{}
	if err := yaml.Unmarshal([]byte(os.Expand(text, os.Getenv)), o); err != nil {
		return nil, errors.Wrapf(err, "parsing options")
	}
	if err := o.Validate(); err != nil {
		return nil, err
	}
	return o, nil
}

// String renders the options as YAML.
func (o *Options) String() string {
	out, err := yaml.Marshal(o)
	if err != nil {
		return fmt.Sprintf("options: %v", err)
	}
	return string(out)
}
