// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package infer

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Simulation describes expression data to be drawn from the model
// without random effects.
type Simulation struct {
	// Assignment is the clone of each simulated cell.
	Assignment []int
	// Depth is the size factor of each simulated cell.
	Depth []float64
	// Mu is the baseline of each gene.
	Mu []float64
	// Phi is the dispersion shared by all genes.
	Phi float64
}

// Simulate draws negative binomial counts for the cells described by sim
// from the clone profiles in cn. Cells are named cell0, cell1, ....
func Simulate(cn *CopyNumber, sim Simulation, src rand.Source) (*Expression, error) {
	g, c := cn.States.Dims()
	if len(sim.Mu) != g {
		return nil, fmt.Errorf("infer: %d baselines for %d genes", len(sim.Mu), g)
	}
	if len(sim.Depth) != len(sim.Assignment) {
		return nil, fmt.Errorf("infer: %d depths for %d cells", len(sim.Depth), len(sim.Assignment))
	}
	if !(sim.Phi > 0) {
		return nil, fmt.Errorf("infer: invalid dispersion: %v", sim.Phi)
	}

	n := len(sim.Assignment)
	counts := mat.NewDense(n, g, nil)
	cells := make([]string, n)
	mean := make([]float64, g)
	for i, cl := range sim.Assignment {
		if cl < 0 || c <= cl {
			return nil, fmt.Errorf("infer: clone %d out of range for cell %d", cl, i)
		}
		cells[i] = fmt.Sprintf("cell%d", i)
		for j := range mean {
			mean[j] = cn.States.At(j, cl) * sim.Mu[j]
		}
		sum := floats.Sum(mean)
		if !(sum > 0) || math.IsInf(sum, 1) {
			return nil, fmt.Errorf("infer: clone %d has no expression for cell %d", cl, i)
		}
		floats.Scale(sim.Depth[i]/sum, mean)
		for j, m := range mean {
			if m == 0 {
				continue
			}
			lambda := distuv.Gamma{Alpha: sim.Phi, Beta: sim.Phi / m, Src: src}.Rand()
			counts.Set(i, j, math.Floor(distuv.Poisson{Lambda: lambda, Src: src}.Rand()))
		}
	}
	return &Expression{Cells: cells, Genes: cn.Genes, Counts: counts}, nil
}
