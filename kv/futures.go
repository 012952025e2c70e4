// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package kv

import "golang.org/x/sync/errgroup"

// Futures is a completion handle for a set of asynchronous operations. The
// zero value is ready to use.
type Futures struct {
	g errgroup.Group
	n int
}

// Go runs fn asynchronously and tracks its completion.
func (fs *Futures) Go(fn func() error) {
	fs.n++
	fs.g.Go(fn)
}

// Len returns the number of operations started on fs.
func (fs *Futures) Len() int { return fs.n }

// Wait blocks until every operation completes and returns the first error.
func (fs *Futures) Wait() error {
	return fs.g.Wait()
}
