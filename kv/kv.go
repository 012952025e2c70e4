// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package kv defines the distributed key-value store the column store is built
// on and provides an in-process implementation that simulates a cluster of
// nodes.
//
// Every key has one owning (home) node, chosen deterministically from the key.
// Writes go to the home node; reads from other nodes are served from a
// per-node cache that the home node invalidates synchronously on every write.
// Values are opaque, non-empty byte slices which callers must not modify after
// handing them to the store, nor modify when returned from it.
package kv

import (
	"context"

	"github.com/cockroachdb/colvec/keys"
)

// NodeID identifies a node in the cluster. Nodes are numbered from 0.
type NodeID int

// Handler serves a named remote call on a node.
type Handler func(ctx context.Context, req []byte) ([]byte, error)

// Store is the view of the distributed key-value store from one node.
type Store interface {
	// Get returns the value for the key and whether it is present.
	Get(key keys.Key) ([]byte, bool)
	// Put stores the value. If fs is non-nil the write completes
	// asynchronously and fs tracks its completion.
	Put(key keys.Key, value []byte, fs *Futures)
	// CompareAndSwap stores value if the current value equals expected (nil
	// meaning absent) and returns the value found prior to the operation,
	// whether or not the swap happened. A nil value deletes the key. The swap
	// took effect iff the returned prior value equals expected.
	CompareAndSwap(key keys.Key, value, expected []byte, fs *Futures) (prior []byte)
	// Delete removes the key.
	Delete(key keys.Key, fs *Futures)
	// Home returns the node owning the key.
	Home(key keys.Key) NodeID
	// Self returns the local node.
	Self() NodeID
	// Nodes returns the cluster size.
	Nodes() int
	// Handle registers a handler for remote calls named method on the local
	// node.
	Handle(method string, h Handler)
	// Call invokes method on the given node and waits for the response.
	Call(ctx context.Context, node NodeID, method string, req []byte) ([]byte, error)
}
