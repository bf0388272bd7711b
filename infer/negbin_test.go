// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package infer

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/stat/distuv"
)

func TestNBLogProbNormalised(t *testing.T) {
	for _, test := range []struct {
		mean, phi float64
	}{
		{mean: 0.5, phi: 0.3},
		{mean: 5, phi: 2},
		{mean: 40, phi: 10},
	} {
		var sum float64
		for y := 0.; y < 5000; y++ {
			sum += math.Exp(nbLogProb(y, test.mean, math.Log(test.mean), test.phi))
		}
		assert.InDelta(t, 1, sum, 1e-8, "mean=%v phi=%v", test.mean, test.phi)
	}
}

func TestNBPoissonLimit(t *testing.T) {
	const phi = 1e6
	for _, mean := range []float64{0.1, 1, 7.5, 30} {
		p := distuv.Poisson{Lambda: mean}
		for _, y := range []float64{0, 1, 3, 10, 50} {
			got := nbLogProb(y, mean, math.Log(mean), phi)
			// The leading term of the difference is ((y-m)²-y)/2phi.
			tol := 1e-9 + ((y-mean)*(y-mean)+y)/phi
			assert.InDelta(t, p.LogProb(y), got, tol, "mean=%v y=%v", mean, y)
		}
	}
}

func TestNBDerivatives(t *testing.T) {
	settings := &fd.Settings{Formula: fd.Central, Step: 1e-6}
	for _, test := range []struct {
		y, mean, phi float64
	}{
		{y: 0, mean: 2, phi: 1},
		{y: 3, mean: 2, phi: 1},
		{y: 17, mean: 9.5, phi: 0.7},
		{y: 120, mean: 80, phi: 25},
	} {
		logMean := func(lm float64) float64 {
			return nbLogProb(test.y, math.Exp(lm), lm, test.phi)
		}
		want := fd.Derivative(logMean, math.Log(test.mean), settings)
		got := nbDLogMean(test.y, test.mean, test.phi)
		assert.InDelta(t, want, got, 1e-5, "d/dlog(m) for %+v", test)

		dispersion := func(phi float64) float64 {
			return nbLogProb(test.y, test.mean, math.Log(test.mean), phi)
		}
		want = fd.Derivative(dispersion, test.phi, settings)
		got = nbDPhiConst(test.y, test.phi) + nbDPhiVar(test.y, test.mean, test.phi)
		assert.InDelta(t, want, got, 1e-5, "d/dphi for %+v", test)
	}
}

func TestAdamAscends(t *testing.T) {
	x := []float64{-4, 10}
	grad := make([]float64, len(x))
	opt := newAdam(0.1, len(x))
	for i := 0; i < 2000; i++ {
		// Maximise -(x0-3)² - 2(x1+1)².
		grad[0] = -2 * (x[0] - 3)
		grad[1] = -4 * (x[1] + 1)
		opt.ascend(x, grad)
	}
	assert.InDelta(t, 3, x[0], 1e-2)
	assert.InDelta(t, -1, x[1], 1e-2)
}
