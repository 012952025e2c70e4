// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package randvar generates skewed synthetic data: values and row indexes
// drawn from a Zipf distribution.
package randvar

import (
	"math"
	"math/rand/v2"

	"github.com/cockroachdb/errors"
)

// Zipf draws integers in [0, n) so that i is drawn with a probability
// proportional to 1/(i+1)^theta. It uses the rejection-free method of Gray et
// al., "Quickly Generating Billion-Record Synthetic Databases" (SIGMOD 1994),
// which requires 0 < theta < 1.
//
// A Zipf is not safe for concurrent use; each goroutine should own one.
type Zipf struct {
	rng   *rand.Rand
	n     uint64
	theta float64
	alpha float64
	zetaN float64
	eta   float64
	// half is 1 + 0.5^theta, the cumulative weight of the two smallest values.
	half float64
}

// NewZipf returns a generator over [0, n). A nil rng uses a randomly seeded
// one.
func NewZipf(rng *rand.Rand, n uint64, theta float64) (*Zipf, error) {
	if n < 2 {
		return nil, errors.Newf("randvar: zipf domain of %d values", n)
	}
	if !(theta > 0 && theta < 1) {
		return nil, errors.Newf("randvar: zipf theta %g not in (0, 1)", theta)
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(0, rand.Uint64()))
	}
	z := &Zipf{
		rng:   rng,
		n:     n,
		theta: theta,
		alpha: 1 / (1 - theta),
		zetaN: zeta(n, theta),
		half:  1 + math.Pow(0.5, theta),
	}
	z.eta = (1 - math.Pow(2/float64(n), 1-theta)) / (1 - zeta(2, theta)/z.zetaN)
	return z, nil
}

// zeta returns the sum of 1/i^theta for i in [1, n].
func zeta(n uint64, theta float64) float64 {
	var sum float64
	for i := uint64(1); i <= n; i++ {
		sum += 1 / math.Pow(float64(i), theta)
	}
	return sum
}

// N returns the size of the domain.
func (z *Zipf) N() uint64 { return z.n }

// Uint64 draws a value.
func (z *Zipf) Uint64() uint64 {
	u := z.rng.Float64()
	uz := u * z.zetaN
	switch {
	case uz < 1:
		return 0
	case uz < z.half:
		return 1
	}
	v := uint64(float64(z.n) * math.Pow(z.eta*u-z.eta+1, z.alpha))
	return min(v, z.n-1)
}
