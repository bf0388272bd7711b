// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package infer

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Result is the outcome of a fit.
type Result struct {
	Cells  []string
	Genes  []string
	Clones []string

	// Assignment is the index of the most probable
	// clone of each cell.
	Assignment []int
	// CloneProbs is the N×C posterior clone probability
	// matrix.
	CloneProbs *mat.Dense

	// Mu is the baseline expression of each gene.
	Mu []float64
	// W is the G×K matrix of gene random effect loadings.
	W *mat.Dense
	// Phi is the negative binomial dispersion of each gene.
	Phi []float64
	// Psi and PsiSD are the N×K variational means and
	// standard deviations of the cell random effects.
	Psi   *mat.Dense
	PsiSD *mat.Dense
	// Size is the size factor of each cell.
	Size []float64

	// ELBO holds the ELBO estimate of each iteration.
	ELBO       []float64
	Iterations int
	Converged  bool

	minCN, maxCN float64
}

// Clone returns the name of the clone assigned to cell i.
func (r *Result) Clone(i int) string {
	return nameOf(r.Clones, r.Assignment[i])
}

// Params returns the fitted parameters keyed by name. Per-gene and
// per-cell vectors are returned as single column matrices.
func (r *Result) Params() map[string]*mat.Dense {
	return map[string]*mat.Dense{
		"mu":          column(r.Mu),
		"phi":         column(r.Phi),
		"s":           column(r.Size),
		"w":           r.W,
		"psi":         r.Psi,
		"psi_sd":      r.PsiSD,
		"clone_probs": r.CloneProbs,
	}
}

func column(v []float64) *mat.Dense {
	return mat.NewDense(len(v), 1, append([]float64(nil), v...))
}

// Expected returns the N×G matrix of expected counts under the hard clone
// assignment with cell random effects at their variational means. The
// copy-number profiles in cn must be those used for the fit.
func (r *Result) Expected(cn *CopyNumber) (*mat.Dense, error) {
	g, c := cn.States.Dims()
	_, fc := r.CloneProbs.Dims()
	if g != len(r.Mu) || c != fc {
		return nil, fmt.Errorf("%w: copy-number matrix is %d×%d", ErrGeneMismatch, g, c)
	}
	n := len(r.Assignment)
	_, k := r.W.Dims()
	e := mat.NewDense(n, g, nil)
	t := make([]float64, g)
	for i := 0; i < n; i++ {
		psi := r.Psi.RawRowView(i)
		cl := r.Assignment[i]
		for j := range t {
			f := factor(cn.States.At(j, cl), r.minCN, r.maxCN)
			t[j] = math.Log(f) + math.Log(r.Mu[j]) + floats.Dot(psi, r.W.RawRowView(j)[:k])
		}
		norm := floats.LogSumExp(t)
		row := e.RawRowView(i)
		for j, v := range t {
			row[j] = r.Size[i] * math.Exp(v-norm)
		}
	}
	return e, nil
}
