// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package infer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestAlignGenes(t *testing.T) {
	expr := &Expression{
		Cells: []string{"c1", "c2"},
		Genes: []string{"g1", "g2", "g3", "g4"},
		Counts: mat.NewDense(2, 4, []float64{
			1, 2, 3, 4,
			5, 6, 7, 8,
		}),
	}
	cn := &CopyNumber{
		Genes:  []string{"g4", "g5", "g1", "g3"},
		Clones: []string{"A", "B"},
		Chroms: []string{"chr4", "chr5", "chr1", "chr3"},
		States: mat.NewDense(4, 2, []float64{
			4, 40,
			5, 50,
			1, 10,
			3, 30,
		}),
	}

	e, c, err := AlignGenes(expr, cn)
	require.NoError(t, err)
	assert.Equal(t, []string{"g1", "g3", "g4"}, e.Genes)
	assert.Equal(t, e.Genes, c.Genes)
	assert.Equal(t, []string{"chr1", "chr3", "chr4"}, c.Chroms)
	assert.True(t, mat.Equal(e.Counts, mat.NewDense(2, 3, []float64{
		1, 3, 4,
		5, 7, 8,
	})))
	assert.True(t, mat.Equal(c.States, mat.NewDense(3, 2, []float64{
		1, 10,
		3, 30,
		4, 40,
	})))
	assert.NoError(t, validate(e, c))

	_, _, err = AlignGenes(expr, &CopyNumber{Genes: []string{"x"}, States: mat.NewDense(1, 1, nil)})
	assert.ErrorIs(t, err, ErrGeneMismatch)

	dup := *cn
	dup.Genes = []string{"g1", "g1", "g3", "g4"}
	_, _, err = AlignGenes(expr, &dup)
	assert.Error(t, err)

	_, _, err = AlignGenes(&Expression{Counts: expr.Counts}, cn)
	assert.Error(t, err)
}

func TestInformative(t *testing.T) {
	cn := &CopyNumber{
		Genes:  []string{"flat", "gain", "loss", "flat2"},
		Clones: []string{"A", "B", "C"},
		States: mat.NewDense(4, 3, []float64{
			2, 2, 2,
			2, 3, 2,
			1, 2, 2,
			3, 3, 3,
		}),
	}
	kept, dropped := cn.Informative(0)
	assert.Equal(t, []string{"gain", "loss"}, kept.Genes)
	assert.Equal(t, []string{"flat", "flat2"}, dropped)
	assert.Equal(t, []float64{1, 2, 2}, kept.States.RawRowView(1))

	kept, dropped = cn.Informative(1)
	assert.Nil(t, kept.States)
	assert.Len(t, dropped, 4)
}

func TestGroups(t *testing.T) {
	cn := &CopyNumber{
		Chroms: []string{"chr2", "chr2", "chr1", "chr2", "chrX"},
		States: mat.NewDense(5, 1, nil),
	}
	idx, n := cn.groups()
	assert.Equal(t, []int{0, 0, 1, 0, 2}, idx)
	assert.Equal(t, 3, n)

	cn.Chroms = nil
	idx, n = cn.groups()
	assert.Equal(t, []int{0, 1, 2, 3, 4}, idx)
	assert.Equal(t, 5, n)
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(strings.NewReader(`
learning_rate: 0.05
rel_tol: 1.0e-5
max_iter: 1000
verbose: true
random_effects: 3
`))
	require.NoError(t, err)
	want := DefaultConfig()
	want.LearningRate = 0.05
	want.RelTol = 1e-5
	want.MaxIter = 1000
	want.Verbose = true
	want.RandomEffects = 3
	assert.Equal(t, want, cfg)

	cfg, err = LoadConfig(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	_, err = LoadConfig(strings.NewReader("max_iter: -1\n"))
	assert.Error(t, err)
	_, err = LoadConfig(strings.NewReader("max_iter: [\n"))
	assert.Error(t, err)
}

func TestFactor(t *testing.T) {
	for _, test := range []struct {
		cn, min, max, want float64
	}{
		{cn: 0, min: 0.1, want: 0.1},
		{cn: 2, min: 0.1, want: 2},
		{cn: 12, min: 0.1, want: 12},
		{cn: 12, min: 0.1, max: 6, want: 6},
	} {
		assert.Equal(t, test.want, factor(test.cn, test.min, test.max), "%+v", test)
		cfg := Config{MinCopyNumber: test.min, MaxCopyNumber: test.max}
		assert.Equal(t, test.want, cfg.Factor(test.cn), "%+v", test)
	}
}
