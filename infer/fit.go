// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package infer assigns single-cell expression profiles to clones using
// clone copy-number profiles.
//
// The expected count of gene g in cell n, given that the cell belongs to
// clone c, is
//
//  s_n · f(λ_gc)·μ_g·exp(ψ_n·w_g) / Σ_h f(λ_hc)·μ_h·exp(ψ_n·w_h)
//
// where s is the cell size factor, λ the copy number, μ the gene baseline,
// ψ a cell random effect and w its gene loading. The copy-number factor f
// is the identity clamped to [Config.MinCopyNumber, Config.MaxCopyNumber].
// Counts are negative binomial about this mean with a per-gene dispersion.
//
// Clone assignments and random effects are fitted by reparameterised
// variational inference maximising the evidence lower bound with Adam.
// The baseline of the first gene, or of the first chromosome when
// chromosomes are given, is fixed at one.
package infer

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Fit fits the clone assignment model to the expression counts in expr
// using the clone copy-number profiles in cn. The genes of expr and cn
// must be identical and in the same order.
//
// Failure to converge within cfg.MaxIter iterations is not an error; the
// returned Result holds the final estimates and Converged is false.
func Fit(expr *Expression, cn *CopyNumber, cfg Config) (*Result, error) {
	err := cfg.validate()
	if err != nil {
		return nil, err
	}
	err = validate(expr, cn)
	if err != nil {
		return nil, err
	}
	n, _ := expr.Counts.Dims()

	size, err := sizeFactors(expr, cfg.SizeFactors)
	if err != nil {
		return nil, err
	}

	m := newModel(expr, cn, cfg, size)
	src := rand.NewSource(cfg.Seed)
	rnd := rand.New(src)
	x := make([]float64, m.size)
	m.init(x, size, distuv.Normal{Mu: 0, Sigma: 0.1, Src: src})

	logger := cfg.logger()
	grad := make([]float64, m.size)
	eps := make([]float64, n*cfg.Samples*cfg.RandomEffects)
	opt := newAdam(cfg.LearningRate, m.size)
	var (
		trace     []float64
		converged bool
	)
	for it := 0; it < cfg.MaxIter; it++ {
		for i := range eps {
			eps[i] = rnd.NormFloat64()
		}
		elbo := m.elbo(x, grad, eps, cfg.Samples)
		if math.IsNaN(elbo) || math.IsInf(elbo, 0) {
			return nil, fmt.Errorf("infer: non-finite ELBO at iteration %d", it+1)
		}
		trace = append(trace, elbo)

		change := math.NaN()
		if it > 0 {
			prev := trace[it-1]
			change = math.Abs(elbo-prev) / math.Abs(prev)
			converged = change < cfg.RelTol
		}
		if cfg.Verbose {
			logger.Printf("iteration %d: elbo=%.6f change=%.3g", it+1, elbo, change)
		}
		if converged || it == cfg.MaxIter-1 {
			break
		}

		opt.ascend(x, grad)
		m.clamp(x)
	}
	if cfg.Verbose {
		if converged {
			logger.Printf("converged after %d iterations", len(trace))
		} else {
			logger.Printf("stopped after %d iterations without converging", len(trace))
		}
	}

	return m.result(x, expr, cn, cfg, size, trace, converged), nil
}

// sizeFactors returns the given size factors after checking them, or the
// total count of each cell if size is nil.
func sizeFactors(expr *Expression, size []float64) ([]float64, error) {
	n, _ := expr.Counts.Dims()
	if size != nil {
		if len(size) != n {
			return nil, fmt.Errorf("infer: %d size factors for %d cells", len(size), n)
		}
		for i, s := range size {
			if !(s > 0) || math.IsInf(s, 1) {
				return nil, fmt.Errorf("infer: invalid size factor %v for cell %s", s, nameOf(expr.Cells, i))
			}
		}
		return append([]float64(nil), size...), nil
	}
	size = make([]float64, n)
	for i := range size {
		size[i] = floats.Sum(expr.Counts.RawRowView(i))
	}
	return size, nil
}

// init sets the starting parameters. Baselines start at the mean
// size-normalised expression divided by the mean copy-number factor.
func (m *model) init(x, size []float64, w distuv.Normal) {
	for i := m.offB; i < m.offEta; i++ {
		x[i] = math.Log(0.1)
	}
	for i := m.offW; i < m.offRho; i++ {
		x[i] = w.Rand()
	}
	for i := m.offRho; i < m.size; i++ {
		x[i] = math.Log(10)
	}

	raw := make([]float64, m.nGrp)
	count := make([]float64, m.nGrp)
	for g := 0; g < m.g; g++ {
		var p float64
		for i := 0; i < m.n; i++ {
			p += m.y.At(i, g) / size[i]
		}
		p /= float64(m.n)
		var l float64
		for _, v := range m.logL[g*m.c : (g+1)*m.c] {
			l += math.Exp(v)
		}
		l /= float64(m.c)
		raw[m.group[g]] += math.Log(math.Max(p, 1e-8) / l)
		count[m.group[g]]++
	}
	for h := 1; h < m.nGrp; h++ {
		x[m.offEta+h-1] = raw[h]/count[h] - raw[0]/count[0]
	}
}

// clamp holds the dispersions within their bounds.
func (m *model) clamp(x []float64) {
	for i := m.offRho; i < m.size; i++ {
		x[i] = math.Max(minLogPhi, math.Min(x[i], maxLogPhi))
	}
}

func (m *model) result(x []float64, expr *Expression, cn *CopyNumber, cfg Config, size, trace []float64, converged bool) *Result {
	r := &Result{
		Cells:      expr.Cells,
		Genes:      expr.Genes,
		Clones:     cn.Clones,
		Assignment: make([]int, m.n),
		CloneProbs: mat.NewDense(m.n, m.c, nil),
		Mu:         make([]float64, m.g),
		W:          mat.NewDense(m.g, m.k, append([]float64(nil), x[m.offW:m.offRho]...)),
		Phi:        make([]float64, m.g),
		Psi:        mat.NewDense(m.n, m.k, append([]float64(nil), x[m.offA:m.offB]...)),
		PsiSD:      mat.NewDense(m.n, m.k, nil),
		Size:       size,
		ELBO:       trace,
		Iterations: len(trace),
		Converged:  converged,

		minCN: cfg.MinCopyNumber,
		maxCN: cfg.MaxCopyNumber,
	}
	if r.Genes == nil {
		r.Genes = cn.Genes
	}
	for i := 0; i < m.n; i++ {
		row := r.CloneProbs.RawRowView(i)
		m.probs(row, x, i)
		r.Assignment[i] = floats.MaxIdx(row)
		for j := 0; j < m.k; j++ {
			r.PsiSD.Set(i, j, math.Exp(x[m.offB+i*m.k+j]))
		}
	}
	for g := range r.Mu {
		r.Mu[g] = math.Exp(m.eta(x, m.group[g]))
		r.Phi[g] = math.Exp(x[m.offRho+g])
	}
	return r
}
