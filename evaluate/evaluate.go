// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package evaluate provides held-out evaluation of clone assignments.
//
// An assignment is judged by how well the copy-number profiles of the
// assigned clones predict expression of genes that were not used to make
// the assignment, compared with the prediction under randomly permuted
// assignments.
package evaluate

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/kortschak/clonealign/infer"
)

// Config holds the parameters of an evaluation.
type Config struct {
	// HeldOutFraction is the fraction of genes
	// held out from the refit.
	HeldOutFraction float64 `yaml:"held_out_fraction" json:"held_out_fraction"`
	// Permutations is the number of permuted
	// assignments in the null distribution.
	Permutations int `yaml:"permutations" json:"permutations"`
	// Seed seeds gene splitting and permutation.
	Seed uint64 `yaml:"seed" json:"seed"`
}

// DefaultConfig returns the default evaluation parameters.
func DefaultConfig() Config {
	return Config{
		HeldOutFraction: 0.2,
		Permutations:    100,
		Seed:            1,
	}
}

// Report is the outcome of an evaluation.
type Report struct {
	// MSE is the in-sample mean squared error of the full fit.
	MSE float64 `json:"mse"`

	// TrainingGenes and HeldOutGenes are the gene split.
	TrainingGenes []string `json:"training_genes"`
	HeldOutGenes  []string `json:"held_out_genes"`

	// Agreement is the fraction of cells assigned to the
	// same clone by the full fit and the training fit.
	Agreement float64 `json:"agreement"`
	// ExcludedCells are the cells without counts over the
	// training genes. They take no part in the training
	// fit, Agreement or the held-out errors.
	ExcludedCells []string `json:"excluded_cells,omitempty"`

	// HeldOutMSE is the mean squared error of held-out
	// genes under the training assignment.
	HeldOutMSE float64 `json:"held_out_mse"`
	// NullMSE holds held-out mean squared errors under
	// permuted assignments.
	NullMSE []float64 `json:"null_mse"`
	// NullMean and NullSD summarise NullMSE.
	NullMean float64 `json:"null_mean"`
	NullSD   float64 `json:"null_sd"`
	// P is the empirical probability of a permuted
	// assignment doing at least as well as the fit.
	P float64 `json:"p"`

	// Full and Training are the two fits.
	Full     *infer.Result `json:"-"`
	Training *infer.Result `json:"-"`
}

// Evaluate fits expr against cn with the fit parameters in fit, refits on
// a random subset of genes and evaluates the refit assignment on the
// genes held out.
func Evaluate(expr *infer.Expression, cn *infer.CopyNumber, fit infer.Config, cfg Config) (*Report, error) {
	if !(0 < cfg.HeldOutFraction && cfg.HeldOutFraction < 1) {
		return nil, fmt.Errorf("evaluate: held-out fraction out of range: %v", cfg.HeldOutFraction)
	}
	if cfg.Permutations < 0 {
		return nil, fmt.Errorf("evaluate: negative permutation count: %d", cfg.Permutations)
	}
	_, g := expr.Counts.Dims()
	held := int(math.Round(cfg.HeldOutFraction * float64(g)))
	if held < 1 || g-held < 1 {
		return nil, fmt.Errorf("evaluate: cannot hold out %v of %d genes", cfg.HeldOutFraction, g)
	}

	full, err := infer.Fit(expr, cn, fit)
	if err != nil {
		return nil, fmt.Errorf("evaluate: full fit: %w", err)
	}
	expected, err := full.Expected(cn)
	if err != nil {
		return nil, err
	}
	r := &Report{
		MSE:  MSE(expr.Counts, expected),
		Full: full,
	}

	rnd := rand.New(rand.NewSource(cfg.Seed))
	perm := rnd.Perm(g)
	test := perm[:held]
	train := perm[held:]
	sort.Ints(test)
	sort.Ints(train)

	trainExpr, trainCN := subset(expr, cn, train)
	testExpr, testCN := subset(expr, cn, test)
	r.TrainingGenes = trainExpr.Genes
	r.HeldOutGenes = testExpr.Genes

	// Cells with no counts over the training genes cannot be
	// fitted and are left out of the refit and its evaluation.
	fullAssign := full.Assignment
	trainFit := fit
	keep := expressed(trainExpr)
	if len(keep) == 0 {
		return nil, errors.New("evaluate: no cell has counts over the training genes")
	}
	if n, _ := expr.Counts.Dims(); len(keep) < n {
		for i, k := 0, 0; i < n; i++ {
			if k < len(keep) && keep[k] == i {
				k++
				continue
			}
			r.ExcludedCells = append(r.ExcludedCells, cellName(expr, i))
		}
		trainExpr = cellSubset(trainExpr, keep)
		testExpr = cellSubset(testExpr, keep)
		fullAssign = make([]int, len(keep))
		for k, i := range keep {
			fullAssign[k] = full.Assignment[i]
		}
		if fit.SizeFactors != nil {
			trainFit.SizeFactors = make([]float64, len(keep))
			for k, i := range keep {
				trainFit.SizeFactors[k] = fit.SizeFactors[i]
			}
		}
	}

	r.Training, err = infer.Fit(trainExpr, trainCN, trainFit)
	if err != nil {
		return nil, fmt.Errorf("evaluate: training fit: %w", err)
	}
	r.Agreement = Agreement(fullAssign, r.Training.Assignment)

	pred, err := Predict(testExpr, testCN, r.Training.Assignment, fit.Factor)
	if err != nil {
		return nil, err
	}
	r.HeldOutMSE = MSE(testExpr.Counts, pred)
	r.NullMSE, err = PermutationNull(testExpr, testCN, r.Training.Assignment, cfg.Permutations, rand.NewSource(cfg.Seed+1), fit.Factor)
	if err != nil {
		return nil, err
	}
	switch len(r.NullMSE) {
	case 0:
	case 1:
		r.NullMean = r.NullMSE[0]
	default:
		r.NullMean, r.NullSD = stat.MeanStdDev(r.NullMSE, nil)
	}
	var atLeast int
	for _, v := range r.NullMSE {
		if v <= r.HeldOutMSE {
			atLeast++
		}
	}
	r.P = float64(1+atLeast) / float64(1+len(r.NullMSE))
	return r, nil
}

// MSE returns the mean squared difference between the elements of
// observed and predicted, which must have the same shape.
func MSE(observed, predicted mat.Matrix) float64 {
	r, c := observed.Dims()
	var sum float64
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			d := observed.At(i, j) - predicted.At(i, j)
			sum += d * d
		}
	}
	return sum / float64(r*c)
}

// Agreement returns the fraction of equal elements of a and b.
func Agreement(a, b []int) float64 {
	if len(a) != len(b) {
		panic("evaluate: length mismatch")
	}
	if len(a) == 0 {
		return math.NaN()
	}
	var n int
	for i, v := range a {
		if v == b[i] {
			n++
		}
	}
	return float64(n) / float64(len(a))
}

// Predict returns the expected counts of expr under the hard clone
// assignment assign, ignoring random effects. Gene baselines are the mean
// size-normalised expression divided by the mean copy-number factor of the
// assigned clones. Copy-number states are transformed by factor, which
// should be the Factor method of the fit's infer.Config.
func Predict(expr *infer.Expression, cn *infer.CopyNumber, assign []int, factor func(float64) float64) (*mat.Dense, error) {
	n, g := expr.Counts.Dims()
	cg, c := cn.States.Dims()
	if g != cg {
		return nil, fmt.Errorf("%w: %d expression genes but %d copy-number genes", infer.ErrGeneMismatch, g, cg)
	}
	if len(assign) != n {
		return nil, fmt.Errorf("evaluate: %d assignments for %d cells", len(assign), n)
	}
	for i, cl := range assign {
		if cl < 0 || c <= cl {
			return nil, fmt.Errorf("evaluate: clone %d out of range for cell %d", cl, i)
		}
	}

	size := make([]float64, n)
	for i := range size {
		size[i] = floats.Sum(expr.Counts.RawRowView(i))
	}
	f := func(gene, clone int) float64 {
		return factor(cn.States.At(gene, clone))
	}

	mu := make([]float64, g)
	for j := range mu {
		var p, l float64
		for i, cl := range assign {
			if size[i] != 0 {
				p += expr.Counts.At(i, j) / size[i]
			}
			l += f(j, cl)
		}
		mu[j] = p / l
	}

	pred := mat.NewDense(n, g, nil)
	for i, cl := range assign {
		row := pred.RawRowView(i)
		for j := range row {
			row[j] = f(j, cl) * mu[j]
		}
		sum := floats.Sum(row)
		if sum == 0 {
			continue
		}
		floats.Scale(size[i]/sum, row)
	}
	return pred, nil
}

// PermutationNull returns the mean squared errors of Predict for n random
// permutations of assign.
func PermutationNull(expr *infer.Expression, cn *infer.CopyNumber, assign []int, n int, src rand.Source, factor func(float64) float64) ([]float64, error) {
	if n < 0 {
		return nil, errors.New("evaluate: negative permutation count")
	}
	rnd := rand.New(src)
	perm := append([]int(nil), assign...)
	null := make([]float64, n)
	for k := range null {
		rnd.Shuffle(len(perm), func(i, j int) { perm[i], perm[j] = perm[j], perm[i] })
		pred, err := Predict(expr, cn, perm, factor)
		if err != nil {
			return nil, err
		}
		null[k] = MSE(expr.Counts, pred)
	}
	return null, nil
}

// subset returns expr and cn restricted to the genes with the given
// indices.
func subset(expr *infer.Expression, cn *infer.CopyNumber, genes []int) (*infer.Expression, *infer.CopyNumber) {
	n, _ := expr.Counts.Dims()
	_, c := cn.States.Dims()
	e := &infer.Expression{Cells: expr.Cells, Counts: mat.NewDense(n, len(genes), nil)}
	s := &infer.CopyNumber{Clones: cn.Clones, States: mat.NewDense(len(genes), c, nil)}
	e.Genes = make([]string, len(genes))
	if cn.Chroms != nil {
		s.Chroms = make([]string, len(genes))
	}
	for k, j := range genes {
		if expr.Genes != nil {
			e.Genes[k] = expr.Genes[j]
		} else {
			e.Genes[k] = fmt.Sprintf("#%d", j)
		}
		for i := 0; i < n; i++ {
			e.Counts.Set(i, k, expr.Counts.At(i, j))
		}
		s.States.SetRow(k, cn.States.RawRowView(j))
		if s.Chroms != nil {
			s.Chroms[k] = cn.Chroms[j]
		}
	}
	if cn.Genes != nil {
		s.Genes = e.Genes
	}
	return e, s
}

// expressed returns the indices of cells in expr with a non-zero count.
func expressed(expr *infer.Expression) []int {
	n, _ := expr.Counts.Dims()
	var keep []int
	for i := 0; i < n; i++ {
		if floats.Sum(expr.Counts.RawRowView(i)) > 0 {
			keep = append(keep, i)
		}
	}
	return keep
}

// cellSubset returns expr restricted to the cells with the given indices.
func cellSubset(expr *infer.Expression, cells []int) *infer.Expression {
	_, g := expr.Counts.Dims()
	e := &infer.Expression{Genes: expr.Genes, Counts: mat.NewDense(len(cells), g, nil)}
	if expr.Cells != nil {
		e.Cells = make([]string, len(cells))
	}
	for k, i := range cells {
		e.Counts.SetRow(k, expr.Counts.RawRowView(i))
		if e.Cells != nil {
			e.Cells[k] = expr.Cells[i]
		}
	}
	return e
}

func cellName(expr *infer.Expression, i int) string {
	if expr.Cells == nil {
		return fmt.Sprintf("#%d", i)
	}
	return expr.Cells[i]
}
