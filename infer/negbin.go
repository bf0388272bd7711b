// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package infer

import (
	"math"

	"gonum.org/v1/gonum/mathext"
)

// Bounds on the negative binomial dispersion. The upper bound keeps the
// lgamma difference in nbConst well conditioned. At the bound the log
// probability differs from a Poisson by about ((y-m)²-y)/2phi.
const (
	minLogPhi = -9.210340371976182 // log(1e-4)
	maxLogPhi = 13.815510557964274 // log(1e6)
)

// nbLogProb returns the log probability of the count y under a negative
// binomial with mean m and dispersion phi, so that the variance is
// m + m²/phi. logm must be log(m).
func nbLogProb(y, m, logm, phi float64) float64 {
	return nbConst(y, phi) + nbVar(y, m, logm, phi)
}

// nbConst returns the terms of the negative binomial log probability
// that do not depend on the mean.
func nbConst(y, phi float64) float64 {
	a, _ := math.Lgamma(y + phi)
	b, _ := math.Lgamma(phi)
	c, _ := math.Lgamma(y + 1)
	return a - b - c
}

// nbVar returns the terms of the negative binomial log probability that
// depend on the mean.
func nbVar(y, m, logm, phi float64) float64 {
	v := -phi * math.Log1p(m/phi)
	if y != 0 {
		v += y * (logm - math.Log(phi+m))
	}
	return v
}

// nbDLogMean returns the derivative of the negative binomial log
// probability with respect to log(m).
func nbDLogMean(y, m, phi float64) float64 {
	return phi * (y - m) / (phi + m)
}

// nbDPhiConst returns the terms of the derivative of the negative
// binomial log probability with respect to phi that do not depend
// on the mean.
func nbDPhiConst(y, phi float64) float64 {
	if y == 0 {
		return 0
	}
	return mathext.Digamma(y+phi) - mathext.Digamma(phi)
}

// nbDPhiVar returns the terms of the derivative of the negative
// binomial log probability with respect to phi that depend on the
// mean.
func nbDPhiVar(y, m, phi float64) float64 {
	return (m-y)/(phi+m) - math.Log1p(m/phi)
}
