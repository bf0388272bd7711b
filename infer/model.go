// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package infer

import (
	"math"
	"sync"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// model holds the fixed data of a fit and the layout of the free
// parameter vector. The parameter vector is laid out as
//
//  gamma  N×C  clone assignment logits
//  a      N×K  random effect variational means
//  b      N×K  random effect variational log standard deviations
//  eta    H-1  log baseline of each non-reference group
//  w      G×K  gene random effect loadings
//  rho    G    log dispersions
//
// with all matrices row major.
type model struct {
	n, g, c, k int

	y     *mat.Dense
	logS  []float64
	logL  []float64 // G×C log copy-number factors.
	group []int     // Baseline group of each gene.
	nGrp  int
	logPi float64

	offA, offB, offEta, offW, offRho, size int

	workers int
}

func newModel(expr *Expression, cn *CopyNumber, cfg Config, size []float64) *model {
	n, g := expr.Counts.Dims()
	_, c := cn.States.Dims()
	k := cfg.RandomEffects

	m := &model{
		n: n, g: g, c: c, k: k,
		y:       expr.Counts,
		logS:    make([]float64, n),
		logL:    make([]float64, g*c),
		logPi:   -math.Log(float64(c)),
		workers: cfg.Workers,
	}
	for i, s := range size {
		m.logS[i] = math.Log(s)
	}
	for i := 0; i < g; i++ {
		for j, v := range cn.States.RawRowView(i) {
			m.logL[i*c+j] = math.Log(factor(v, cfg.MinCopyNumber, cfg.MaxCopyNumber))
		}
	}
	m.group, m.nGrp = cn.groups()

	m.offA = n * c
	m.offB = m.offA + n*k
	m.offEta = m.offB + n*k
	m.offW = m.offEta + m.nGrp - 1
	m.offRho = m.offW + g*k
	m.size = m.offRho + g
	if m.workers < 1 {
		m.workers = 1
	}
	if m.workers > n {
		m.workers = n
	}
	return m
}

// eta returns the log baseline of group h.
func (m *model) eta(x []float64, h int) float64 {
	if h == 0 {
		return 0
	}
	return x[m.offEta+h-1]
}

// cellScratch is per-worker working space.
type cellScratch struct {
	base  []float64 // G log baseline plus random effect.
	t     []float64 // G unnormalised log means for one clone.
	cst   []float64 // G mean independent log probability terms.
	dcst  []float64 // G mean independent dispersion derivative terms.
	phi   []float64 // G dispersions.
	psi   []float64 // K random effect draw.
	gpsi  []float64 // K gradient with respect to psi.
	ll    []float64 // C expected log likelihood per clone.
	r     []float64 // C clone probabilities.
	logr  []float64 // C log clone probabilities.
	gene  []float64 // Gene parameter gradient buffer.
	value float64
}

func (m *model) newScratch() *cellScratch {
	return &cellScratch{
		base: make([]float64, m.g),
		t:    make([]float64, m.g),
		cst:  make([]float64, m.g),
		dcst: make([]float64, m.g),
		phi:  make([]float64, m.g),
		psi:  make([]float64, m.k),
		gpsi: make([]float64, m.k),
		ll:   make([]float64, m.c),
		r:    make([]float64, m.c),
		logr: make([]float64, m.c),
		gene: make([]float64, m.size-m.offEta),
	}
}

// elbo returns the Monte Carlo estimate of the evidence lower bound at x
// using the standard normal draws in eps, laid out as N×S×K. If grad is
// not nil, the gradient of the estimate with respect to x is stored in it.
func (m *model) elbo(x, grad, eps []float64, samples int) float64 {
	chunks := make([]*cellScratch, m.workers)
	var wg sync.WaitGroup
	for w := range chunks {
		chunks[w] = m.newScratch()
		lo := w * m.n / m.workers
		hi := (w + 1) * m.n / m.workers
		wg.Add(1)
		go func(s *cellScratch, lo, hi int) {
			defer wg.Done()
			for i := lo; i < hi; i++ {
				s.value += m.cell(i, x, grad, eps, samples, s)
			}
		}(chunks[w], lo, hi)
	}
	wg.Wait()

	// Reduce in chunk order so the result does not
	// depend on goroutine scheduling.
	var value float64
	if grad != nil {
		for i := range grad[m.offEta:] {
			grad[m.offEta+i] = 0
		}
	}
	for _, s := range chunks {
		value += s.value
		if grad != nil {
			floats.Add(grad[m.offEta:], s.gene)
		}
	}
	return value
}

// cell returns the contribution of cell i to the ELBO, storing the
// gradient of its cell parameters in grad and accumulating the gradient
// of the gene parameters in s.gene.
func (m *model) cell(i int, x, grad, eps []float64, samples int, s *cellScratch) float64 {
	c, k := m.c, m.k
	y := m.y.RawRowView(i)
	gamma := x[i*c : (i+1)*c]
	a := x[m.offA+i*k : m.offA+(i+1)*k]
	b := x[m.offB+i*k : m.offB+(i+1)*k]
	w := x[m.offW : m.offW+m.g*k]
	rho := x[m.offRho : m.offRho+m.g]

	lse := floats.LogSumExp(gamma)
	for j, v := range gamma {
		s.logr[j] = v - lse
		s.r[j] = math.Exp(s.logr[j])
		s.ll[j] = 0
	}
	for g, v := range rho {
		s.phi[g] = math.Exp(v)
		s.cst[g] = nbConst(y[g], s.phi[g])
		if grad != nil {
			s.dcst[g] = nbDPhiConst(y[g], s.phi[g])
		}
	}

	var (
		ga, gb []float64
		gg     []float64
		weight = 1 / float64(samples)
	)
	if grad != nil {
		ga = grad[m.offA+i*k : m.offA+(i+1)*k]
		gb = grad[m.offB+i*k : m.offB+(i+1)*k]
		for j := range ga {
			ga[j] = 0
			gb[j] = 0
		}
		gg = s.gene
	}
	for smp := 0; smp < samples; smp++ {
		e := eps[(i*samples+smp)*k : (i*samples+smp+1)*k]
		for j := range s.psi {
			s.psi[j] = a[j] + math.Exp(b[j])*e[j]
			s.gpsi[j] = 0
		}
		for g := range s.base {
			s.base[g] = m.eta(x, m.group[g]) + floats.Dot(s.psi, w[g*k:(g+1)*k])
		}
		for cl := 0; cl < c; cl++ {
			for g := range s.t {
				s.t[g] = m.logL[g*c+cl] + s.base[g]
			}
			norm := floats.LogSumExp(s.t)
			var ll, sumD float64
			for g, t := range s.t {
				logm := m.logS[i] + t - norm
				mean := math.Exp(logm)
				ll += s.cst[g] + nbVar(y[g], mean, logm, s.phi[g])
				if grad == nil {
					continue
				}
				d := nbDLogMean(y[g], mean, s.phi[g])
				sumD += d
				// Stash d in t; it is replaced below.
				s.t[g] = d
				gg[m.offRho-m.offEta+g] += s.r[cl] * weight * s.phi[g] * (s.dcst[g] + nbDPhiVar(y[g], mean, s.phi[g]))
			}
			s.ll[cl] += ll * weight
			if grad == nil {
				continue
			}

			// The derivative of the log mean of gene g with respect to the
			// unnormalised log mean of gene h is δ(g,h) - p_h, where p is the
			// softmax of the unnormalised log means.
			omega := s.r[cl] * weight
			for g := range s.t {
				p := math.Exp(m.logL[g*c+cl] + s.base[g] - norm)
				dt := omega * (s.t[g] - p*sumD)
				if h := m.group[g]; h != 0 {
					gg[h-1] += dt
				}
				wg := gg[m.offW-m.offEta+g*k : m.offW-m.offEta+(g+1)*k]
				floats.AddScaled(wg, dt, s.psi)
				floats.AddScaled(s.gpsi, dt, w[g*k:(g+1)*k])
			}
		}
		if grad != nil {
			for j, gp := range s.gpsi {
				ga[j] += gp
				gb[j] += gp * math.Exp(b[j]) * e[j]
			}
		}
	}

	// Categorical terms: Σ_c r_c (ll_c + log π_c - log r_c).
	var value, mean float64
	for j := range s.ll {
		v := s.ll[j] + m.logPi - s.logr[j]
		value += s.r[j] * v
	}
	if grad != nil {
		mean = value
		for j := range s.ll {
			v := s.ll[j] + m.logPi - s.logr[j]
			grad[i*c+j] = s.r[j] * (v - mean)
		}
	}

	// Closed form KL divergence of q(psi) from its standard normal prior.
	for j := range a {
		sig2 := math.Exp(2 * b[j])
		value -= 0.5*(a[j]*a[j]+sig2-1) - b[j]
		if grad != nil {
			ga[j] -= a[j]
			gb[j] += 1 - sig2
		}
	}
	return value
}

// probs stores the clone probabilities of cell i in dst.
func (m *model) probs(dst, x []float64, i int) {
	gamma := x[i*m.c : (i+1)*m.c]
	lse := floats.LogSumExp(gamma)
	for j, v := range gamma {
		dst[j] = math.Exp(v - lse)
	}
}
