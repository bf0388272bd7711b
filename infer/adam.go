// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package infer

import "math"

// adam is the state of an Adam optimiser maximising an objective.
// It is owned by a single fit.
type adam struct {
	rate  float64
	beta1 float64
	beta2 float64
	eps   float64

	t    int
	m, v []float64
}

func newAdam(rate float64, n int) *adam {
	return &adam{
		rate:  rate,
		beta1: 0.9,
		beta2: 0.999,
		eps:   1e-8,
		m:     make([]float64, n),
		v:     make([]float64, n),
	}
}

// ascend moves x along grad using bias corrected moment estimates.
func (o *adam) ascend(x, grad []float64) {
	o.t++
	c1 := 1 - math.Pow(o.beta1, float64(o.t))
	c2 := 1 - math.Pow(o.beta2, float64(o.t))
	for i, g := range grad {
		o.m[i] = o.beta1*o.m[i] + (1-o.beta1)*g
		o.v[i] = o.beta2*o.v[i] + (1-o.beta2)*g*g
		x[i] += o.rate * (o.m[i] / c1) / (math.Sqrt(o.v[i]/c2) + o.eps)
	}
}
