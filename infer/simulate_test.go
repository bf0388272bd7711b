// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package infer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

func TestSimulate(t *testing.T) {
	cn := blockCopyNumber(6, 2)
	sim := Simulation{
		Assignment: []int{0, 1, 1},
		Depth:      []float64{500, 500, 500},
		Mu:         []float64{1, 1, 1, 1, 1, 1},
		Phi:        50,
	}
	expr, err := Simulate(cn, sim, rand.NewSource(1))
	require.NoError(t, err)
	assert.Equal(t, []string{"cell0", "cell1", "cell2"}, expr.Cells)
	assert.Equal(t, cn.Genes, expr.Genes)
	for i := range sim.Assignment {
		assert.Greater(t, floats.Sum(expr.Counts.RawRowView(i)), 0.0)
	}
}

func TestSimulateErrors(t *testing.T) {
	cn := &CopyNumber{States: mat.NewDense(2, 2, []float64{
		0, 1,
		0, 1,
	})}
	for _, test := range []struct {
		name string
		sim  Simulation
	}{
		{
			name: "zero clone mean",
			sim:  Simulation{Assignment: []int{1, 0}, Depth: []float64{100, 100}, Mu: []float64{1, 1}, Phi: 10},
		},
		{
			name: "zero baselines",
			sim:  Simulation{Assignment: []int{1}, Depth: []float64{100}, Mu: []float64{0, 0}, Phi: 10},
		},
		{
			name: "clone out of range",
			sim:  Simulation{Assignment: []int{2}, Depth: []float64{100}, Mu: []float64{1, 1}, Phi: 10},
		},
		{
			name: "depth count",
			sim:  Simulation{Assignment: []int{1}, Mu: []float64{1, 1}, Phi: 10},
		},
		{
			name: "dispersion",
			sim:  Simulation{Assignment: []int{1}, Depth: []float64{100}, Mu: []float64{1, 1}},
		},
	} {
		expr, err := Simulate(cn, test.sim, rand.NewSource(1))
		assert.Error(t, err, test.name)
		assert.Nil(t, expr, test.name)
	}
}
