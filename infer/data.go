// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package infer

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

var (
	// ErrGeneMismatch is returned when the expression and copy-number
	// inputs do not describe the same genes in the same order.
	ErrGeneMismatch = errors.New("infer: gene mismatch between expression and copy number")

	// ErrEmptyCell is returned when a cell has no counts over the
	// genes being fitted.
	ErrEmptyCell = errors.New("infer: cell with zero total count")
)

// Expression is a cell by gene count matrix.
type Expression struct {
	// Cells and Genes name the rows and columns
	// of Counts. They may be nil.
	Cells []string
	Genes []string

	// Counts holds the raw counts with one row per cell.
	Counts *mat.Dense
}

// CopyNumber is a gene by clone copy-number matrix.
type CopyNumber struct {
	// Genes and Clones name the rows and columns
	// of States. They may be nil.
	Genes  []string
	Clones []string

	// Chroms optionally holds the chromosome of each gene.
	// When present, baseline expression is estimated per
	// chromosome rather than per gene.
	Chroms []string

	// States holds the copy-number state with one row per gene.
	States *mat.Dense
}

// validate checks that expr and cn are well formed and aligned.
func validate(expr *Expression, cn *CopyNumber) error {
	if expr == nil || expr.Counts == nil {
		return errors.New("infer: missing expression matrix")
	}
	if cn == nil || cn.States == nil {
		return errors.New("infer: missing copy-number matrix")
	}
	n, g := expr.Counts.Dims()
	cg, c := cn.States.Dims()
	if n == 0 || g == 0 || c == 0 {
		return errors.New("infer: empty input")
	}
	if g != cg {
		return fmt.Errorf("%w: %d expression genes but %d copy-number genes", ErrGeneMismatch, g, cg)
	}
	if expr.Cells != nil && len(expr.Cells) != n {
		return fmt.Errorf("infer: %d cell names for %d rows", len(expr.Cells), n)
	}
	if expr.Genes != nil && len(expr.Genes) != g {
		return fmt.Errorf("infer: %d expression gene names for %d columns", len(expr.Genes), g)
	}
	if cn.Genes != nil && len(cn.Genes) != g {
		return fmt.Errorf("infer: %d copy-number gene names for %d rows", len(cn.Genes), g)
	}
	if cn.Clones != nil && len(cn.Clones) != c {
		return fmt.Errorf("infer: %d clone names for %d columns", len(cn.Clones), c)
	}
	if cn.Chroms != nil && len(cn.Chroms) != g {
		return fmt.Errorf("infer: %d chromosome labels for %d genes", len(cn.Chroms), g)
	}
	if expr.Genes != nil && cn.Genes != nil {
		for i, name := range expr.Genes {
			if cn.Genes[i] != name {
				return fmt.Errorf("%w: gene %d is %q in expression and %q in copy number", ErrGeneMismatch, i, name, cn.Genes[i])
			}
		}
	}

	for i := 0; i < n; i++ {
		var sum float64
		for j, v := range expr.Counts.RawRowView(i) {
			if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("infer: invalid count %v for cell %s gene %s", v, nameOf(expr.Cells, i), nameOf(expr.Genes, j))
			}
			sum += v
		}
		if sum == 0 {
			return fmt.Errorf("%w: %s", ErrEmptyCell, nameOf(expr.Cells, i))
		}
	}
	for i := 0; i < g; i++ {
		for j, v := range cn.States.RawRowView(i) {
			if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("infer: invalid copy number %v for gene %s clone %s", v, nameOf(cn.Genes, i), nameOf(cn.Clones, j))
			}
		}
	}
	return nil
}

// nameOf returns names[i] or a positional name if names is nil.
func nameOf(names []string, i int) string {
	if names == nil {
		return fmt.Sprintf("#%d", i)
	}
	return names[i]
}

// AlignGenes returns copies of expr and cn restricted to the genes present
// in both, ordered as they appear in expr. Both inputs must carry gene names.
func AlignGenes(expr *Expression, cn *CopyNumber) (*Expression, *CopyNumber, error) {
	if expr.Genes == nil || cn.Genes == nil {
		return nil, nil, errors.New("infer: gene names required for alignment")
	}
	row := make(map[string]int, len(cn.Genes))
	for i, name := range cn.Genes {
		if _, dup := row[name]; dup {
			return nil, nil, fmt.Errorf("infer: duplicate copy-number gene %q", name)
		}
		row[name] = i
	}
	var cols, rows []int
	seen := make(map[string]bool)
	for j, name := range expr.Genes {
		if seen[name] {
			return nil, nil, fmt.Errorf("infer: duplicate expression gene %q", name)
		}
		seen[name] = true
		i, ok := row[name]
		if !ok {
			continue
		}
		cols = append(cols, j)
		rows = append(rows, i)
	}
	if len(cols) == 0 {
		return nil, nil, fmt.Errorf("%w: no shared genes", ErrGeneMismatch)
	}

	n, _ := expr.Counts.Dims()
	_, c := cn.States.Dims()
	counts := mat.NewDense(n, len(cols), nil)
	states := mat.NewDense(len(rows), c, nil)
	genes := make([]string, len(cols))
	var chroms []string
	if cn.Chroms != nil {
		chroms = make([]string, len(rows))
	}
	for k, j := range cols {
		genes[k] = expr.Genes[j]
		for i := 0; i < n; i++ {
			counts.Set(i, k, expr.Counts.At(i, j))
		}
		states.SetRow(k, cn.States.RawRowView(rows[k]))
		if chroms != nil {
			chroms[k] = cn.Chroms[rows[k]]
		}
	}

	return &Expression{
			Cells:  expr.Cells,
			Genes:  genes,
			Counts: counts,
		}, &CopyNumber{
			Genes:  append([]string(nil), genes...),
			Clones: cn.Clones,
			Chroms: chroms,
			States: states,
		}, nil
}

// Informative returns a copy of cn holding only genes whose copy-number
// variance across clones is greater than minVar. Genes that do not vary
// between clones carry no information about clone identity.
func (cn *CopyNumber) Informative(minVar float64) (kept *CopyNumber, dropped []string) {
	g, c := cn.States.Dims()
	var rows []int
	for i := 0; i < g; i++ {
		if c > 1 && stat.Variance(cn.States.RawRowView(i), nil) > minVar {
			rows = append(rows, i)
			continue
		}
		dropped = append(dropped, nameOf(cn.Genes, i))
	}

	kept = &CopyNumber{Clones: cn.Clones}
	if len(rows) == 0 {
		return kept, dropped
	}
	kept.States = mat.NewDense(len(rows), c, nil)
	if cn.Genes != nil {
		kept.Genes = make([]string, len(rows))
	}
	if cn.Chroms != nil {
		kept.Chroms = make([]string, len(rows))
	}
	for k, i := range rows {
		kept.States.SetRow(k, cn.States.RawRowView(i))
		if kept.Genes != nil {
			kept.Genes[k] = cn.Genes[i]
		}
		if kept.Chroms != nil {
			kept.Chroms[k] = cn.Chroms[i]
		}
	}
	return kept, dropped
}

// groups returns the index of the baseline group of each gene and the
// number of groups. Groups are numbered in order of first appearance, so
// the group of the first gene is always group zero.
func (cn *CopyNumber) groups() (idx []int, n int) {
	g, _ := cn.States.Dims()
	idx = make([]int, g)
	if cn.Chroms == nil {
		for i := range idx {
			idx[i] = i
		}
		return idx, g
	}
	seen := make(map[string]int)
	for i, chr := range cn.Chroms {
		k, ok := seen[chr]
		if !ok {
			k = len(seen)
			seen[chr] = k
		}
		idx[i] = k
	}
	return idx, len(seen)
}
