// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package main

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"strings"

	"github.com/cockroachdb/colvec"
	"github.com/cockroachdb/colvec/internal/randvar"
	"github.com/cockroachdb/colvec/kv"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// source is the randomness shared by the distributions.
type source struct {
	rng *rand.Rand
	// zipf draws from [0, 1000) with a skew towards small values.
	zipf *randvar.Zipf
}

func newSource(seed uint64) *source {
	rng := rand.New(rand.NewPCG(seed, seed))
	z, err := randvar.NewZipf(rng, 1000, 0.99)
	if err != nil {
		panic(err)
	}
	return &source{rng: rng, zipf: z}
}

// distribution generates the values of a synthetic column.
type distribution struct {
	typ    colvec.Type
	domain []string
	add    func(a *colvec.Appender, src *source, row int)
}

var categories = []string{"red", "green", "blue", "cyan", "magenta", "yellow", "black"}

var distributions = map[string]distribution{
	"const": {typ: colvec.TypeNumeric, add: func(a *colvec.Appender, _ *source, _ int) {
		a.AddInt(7)
	}},
	"bool": {typ: colvec.TypeNumeric, add: func(a *colvec.Appender, src *source, _ int) {
		a.AddInt(src.rng.Int64N(2))
	}},
	"small": {typ: colvec.TypeNumeric, add: func(a *colvec.Appender, src *source, _ int) {
		a.AddInt(src.rng.Int64N(200))
	}},
	"ints": {typ: colvec.TypeNumeric, add: func(a *colvec.Appender, src *source, _ int) {
		a.AddInt(src.rng.Int64N(1<<40) - 1<<39)
	}},
	"serial": {typ: colvec.TypeNumeric, add: func(a *colvec.Appender, _ *source, row int) {
		a.AddInt(1_000_000 + int64(row))
	}},
	"decimal": {typ: colvec.TypeNumeric, add: func(a *colvec.Appender, src *source, _ int) {
		a.AddFloat(float64(src.rng.Int64N(100000)) / 100)
	}},
	"floats": {typ: colvec.TypeNumeric, add: func(a *colvec.Appender, src *source, _ int) {
		a.AddFloat(src.rng.NormFloat64() * 1000)
	}},
	"dict": {typ: colvec.TypeNumeric, add: func(a *colvec.Appender, src *source, _ int) {
		a.AddFloat(math.Pi * float64(src.rng.IntN(100)))
	}},
	"sparse": {typ: colvec.TypeNumeric, add: func(a *colvec.Appender, src *source, _ int) {
		if src.rng.IntN(100) == 0 {
			a.AddInt(src.rng.Int64N(1000) + 1)
			return
		}
		a.AddInt(0)
	}},
	"missing": {typ: colvec.TypeNumeric, add: func(a *colvec.Appender, src *source, _ int) {
		if src.rng.IntN(100) == 0 {
			a.AddFloat(src.rng.Float64())
			return
		}
		a.AddMissing()
	}},
	"categorical": {typ: colvec.TypeCategorical, domain: categories, add: func(a *colvec.Appender, src *source, _ int) {
		// Skewed towards the first categories.
		a.AddInt(int64(math.Sqrt(src.rng.Float64()) * float64(len(categories))))
	}},
	"string": {typ: colvec.TypeString, add: func(a *colvec.Appender, src *source, _ int) {
		a.AddString(fmt.Sprintf("user-%d", src.rng.IntN(10000)))
	}},
	"zipf": {typ: colvec.TypeNumeric, add: func(a *colvec.Appender, src *source, _ int) {
		a.AddInt(int64(src.zipf.Uint64()))
	}},
	"uuid": {typ: colvec.TypeUUID, add: func(a *colvec.Appender, _ *source, _ int) {
		u := uuid.New()
		a.AddUUID(int64(binary.BigEndian.Uint64(u[8:])), int64(binary.BigEndian.Uint64(u[:8])))
	}},
}

func distNames() string {
	names := make([]string, 0, len(distributions))
	for name := range distributions {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

// selectedDists returns the distributions named by the --dist flag.
func selectedDists() ([]string, error) {
	if dist == "all" {
		return strings.Split(distNames(), ", "), nil
	}
	var names []string
	for _, name := range strings.Split(dist, ",") {
		name = strings.TrimSpace(name)
		if _, ok := distributions[name]; !ok {
			return nil, errors.Newf("unknown distribution %q (one of %s)", name, distNames())
		}
		names = append(names, name)
	}
	return names, nil
}

// env is an in-process cluster with one DB per node.
type env struct {
	cluster *kv.Cluster
	dbs     []*colvec.DB
	group   *colvec.Group
	src     *source
}

func newEnv() (*env, error) {
	var opts *colvec.Options
	if optionsPath != "" {
		var err error
		if opts, err = colvec.LoadOptions(optionsPath); err != nil {
			return nil, err
		}
	} else {
		opts = &colvec.Options{}
	}
	if chunkRows > 0 {
		opts.ChunkRows = chunkRows
	}
	if !verbose {
		opts.Logger = colvec.NoopLogger{}
	}
	c, err := kv.ParseCompression(compression)
	if err != nil {
		return nil, err
	}
	e := &env{
		cluster: kv.NewCluster(kv.ClusterOptions{
			Nodes:       nodes,
			Compression: c,
			Logger:      opts.Logger,
		}),
		src: newSource(seed),
	}
	for i := 0; i < e.cluster.Size(); i++ {
		d, err := colvec.Open(e.cluster.Node(kv.NodeID(i)), opts)
		if err != nil {
			_ = e.close()
			return nil, err
		}
		e.dbs = append(e.dbs, d)
	}
	e.group = e.dbs[0].NewGroup()
	return e, nil
}

// db returns the DB of a random node.
func (e *env) db() *colvec.DB {
	return e.dbs[e.src.rng.IntN(len(e.dbs))]
}

// generate appends a column of the named distribution. Columns generated with
// the same row count share a layout.
func (e *env) generate(ctx context.Context, name string) (*colvec.Column, error) {
	d := distributions[name]
	a, err := e.dbs[0].NewAppender(ctx, e.group, d.typ)
	if err != nil {
		return nil, err
	}
	if d.domain != nil {
		a.SetDomain(d.domain)
	}
	for i := 0; i < rows; i++ {
		d.add(a, e.src, i)
	}
	return a.Close(ctx)
}

func (e *env) close() error {
	var err error
	for _, d := range e.dbs {
		err = errors.CombineErrors(err, d.Close())
	}
	return err
}
