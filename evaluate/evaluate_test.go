// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package evaluate

import (
	"bytes"
	"fmt"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"

	"github.com/kortschak/clonealign/infer"
)

func blockData(t *testing.T, genes, clones, perClone int, seed uint64) (*infer.Expression, *infer.CopyNumber, []int) {
	cn := &infer.CopyNumber{
		Genes:  make([]string, genes),
		Clones: make([]string, clones),
		States: mat.NewDense(genes, clones, nil),
	}
	block := genes / clones
	for g := 0; g < genes; g++ {
		cn.Genes[g] = fmt.Sprintf("gene%d", g)
		for c := 0; c < clones; c++ {
			v := 2.
			if g/block == c {
				v = 5
			}
			cn.States.Set(g, c, v)
		}
	}
	for c := range cn.Clones {
		cn.Clones[c] = fmt.Sprintf("clone%d", c)
	}

	sim := infer.Simulation{Mu: make([]float64, genes), Phi: 20}
	for i := range sim.Mu {
		sim.Mu[i] = 1 + float64(i%3)
	}
	for c := 0; c < clones; c++ {
		for i := 0; i < perClone; i++ {
			sim.Assignment = append(sim.Assignment, c)
			sim.Depth = append(sim.Depth, 3000)
		}
	}
	expr, err := infer.Simulate(cn, sim, rand.NewSource(seed))
	require.NoError(t, err)
	return expr, cn, sim.Assignment
}

func TestEvaluate(t *testing.T) {
	expr, cn, truth := blockData(t, 60, 3, 10, 1)

	fit := infer.DefaultConfig()
	fit.MaxIter = 200
	fit.RelTol = 1e-12
	fit.Logger = log.New(&bytes.Buffer{}, "", 0)
	cfg := DefaultConfig()
	cfg.HeldOutFraction = 0.3
	cfg.Permutations = 40

	r, err := Evaluate(expr, cn, fit, cfg)
	require.NoError(t, err)

	assert.Len(t, r.HeldOutGenes, 18)
	assert.Len(t, r.TrainingGenes, 42)
	seen := make(map[string]bool)
	for _, g := range append(append([]string(nil), r.HeldOutGenes...), r.TrainingGenes...) {
		assert.False(t, seen[g], "gene %s in both sets", g)
		seen[g] = true
	}

	assert.Equal(t, truth, r.Full.Assignment)
	assert.GreaterOrEqual(t, r.Agreement, 0.9)
	assert.Len(t, r.NullMSE, 40)
	assert.Less(t, r.HeldOutMSE, r.NullMean)
	assert.InDelta(t, 1.0/41, r.P, 1e-12)
	assert.Greater(t, r.MSE, 0.0)
}

func TestEvaluateSparseCell(t *testing.T) {
	expr, cn, _ := blockData(t, 60, 3, 10, 1)
	for j := 0; j < 60; j++ {
		expr.Counts.Set(0, j, 0)
	}
	expr.Counts.Set(0, 7, 50)

	fit := infer.DefaultConfig()
	fit.MaxIter = 20
	fit.Logger = log.New(&bytes.Buffer{}, "", 0)
	cfg := DefaultConfig()
	cfg.Permutations = 5

	var excluded bool
	for seed := uint64(1); seed <= 50 && !excluded; seed++ {
		cfg.Seed = seed
		r, err := Evaluate(expr, cn, fit, cfg)
		require.NoError(t, err, "seed %d", seed)
		if r.ExcludedCells == nil {
			assert.Len(t, r.Training.Assignment, 30)
			continue
		}
		excluded = true
		assert.Equal(t, []string{"cell0"}, r.ExcludedCells)
		assert.Contains(t, r.HeldOutGenes, "gene7")
		assert.Len(t, r.Training.Assignment, 29)
		assert.Len(t, r.Full.Assignment, 30)
	}
	assert.True(t, excluded, "no split held out the only expressed gene")
}

func TestEvaluateConfig(t *testing.T) {
	expr, cn, _ := blockData(t, 6, 2, 2, 2)
	fit := infer.DefaultConfig()
	for _, cfg := range []Config{
		{HeldOutFraction: 0, Permutations: 10},
		{HeldOutFraction: 1, Permutations: 10},
		{HeldOutFraction: 0.5, Permutations: -1},
		{HeldOutFraction: 0.01, Permutations: 10},
	} {
		_, err := Evaluate(expr, cn, fit, cfg)
		assert.Error(t, err, "expected error for %+v", cfg)
	}
}

func TestPredict(t *testing.T) {
	expr := &infer.Expression{Counts: mat.NewDense(2, 2, []float64{
		5, 5,
		8, 4,
	})}
	cn := &infer.CopyNumber{States: mat.NewDense(2, 2, []float64{
		1, 2,
		1, 1,
	})}
	got, err := Predict(expr, cn, []int{0, 1}, infer.DefaultConfig().Factor)
	require.NoError(t, err)

	mu0 := (5.0/10 + 8.0/12) / (1 + 2)
	mu1 := (5.0/10 + 4.0/12) / (1 + 1)
	want := mat.NewDense(2, 2, []float64{
		10 * mu0 / (mu0 + mu1), 10 * mu1 / (mu0 + mu1),
		12 * 2 * mu0 / (2*mu0 + mu1), 12 * mu1 / (2*mu0 + mu1),
	})
	assert.True(t, mat.EqualApprox(want, got, 1e-12), "unexpected prediction:\n%v", mat.Formatted(got))

	_, err = Predict(expr, cn, []int{0}, infer.DefaultConfig().Factor)
	assert.Error(t, err)
	_, err = Predict(expr, cn, []int{0, 2}, infer.DefaultConfig().Factor)
	assert.Error(t, err)
}

func TestPredictCopyNumberCap(t *testing.T) {
	expr := &infer.Expression{Counts: mat.NewDense(3, 3, []float64{
		5, 5, 2,
		8, 4, 9,
		1, 7, 3,
	})}
	cn := &infer.CopyNumber{States: mat.NewDense(3, 2, []float64{
		1, 6,
		2, 0,
		4, 1,
	})}
	capped := &infer.CopyNumber{States: mat.NewDense(3, 2, []float64{
		1, 3,
		2, 0.1,
		3, 1,
	})}
	assign := []int{0, 1, 1}

	cfg := infer.DefaultConfig()
	cfg.MaxCopyNumber = 3
	got, err := Predict(expr, cn, assign, cfg.Factor)
	require.NoError(t, err)
	want, err := Predict(expr, capped, assign, func(v float64) float64 { return v })
	require.NoError(t, err)
	assert.True(t, mat.EqualApprox(want, got, 1e-12), "unexpected prediction:\n%v", mat.Formatted(got))

	uncapped, err := Predict(expr, cn, assign, infer.DefaultConfig().Factor)
	require.NoError(t, err)
	assert.False(t, mat.EqualApprox(uncapped, got, 1e-6), "cap had no effect")
}

func TestPermutationNullDeterministic(t *testing.T) {
	expr, cn, truth := blockData(t, 12, 3, 3, 3)
	a, err := PermutationNull(expr, cn, truth, 10, rand.NewSource(7), infer.DefaultConfig().Factor)
	require.NoError(t, err)
	b, err := PermutationNull(expr, cn, truth, 10, rand.NewSource(7), infer.DefaultConfig().Factor)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 10)
}

func TestMSEAndAgreement(t *testing.T) {
	a := mat.NewDense(2, 2, []float64{1, 2, 3, 4})
	b := mat.NewDense(2, 2, []float64{1, 0, 3, 5})
	assert.Equal(t, 5.0/4, MSE(a, b))
	assert.Equal(t, 0.0, MSE(a, a))

	assert.Equal(t, 0.75, Agreement([]int{0, 1, 2, 2}, []int{0, 1, 2, 1}))
	assert.Panics(t, func() { Agreement([]int{0}, nil) })
}
