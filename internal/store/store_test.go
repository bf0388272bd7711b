// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package store

import (
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/kortschak/clonealign/infer"
)

func testResult() *infer.Result {
	return &infer.Result{
		Cells:      []string{"d", "a", "c", "b"},
		Clones:     []string{"X", "Y"},
		Assignment: []int{1, 0, 1, 0},
		CloneProbs: mat.NewDense(4, 2, []float64{
			0.4, 0.6,
			0.9, 0.1,
			0.05, 0.95,
			0.7, 0.3,
		}),
	}
}

func TestAssignmentKey(t *testing.T) {
	k := AssignmentKey{Cell: "AAACCTGAGCGTTCCG-1", Clone: "clone_B", Prob: 0.875}
	assert.Equal(t, k, UnmarshalAssignmentKey(MarshalAssignmentKey(k)))
}

func TestCompare(t *testing.T) {
	var keys [][]byte
	for _, r := range Records(testResult()) {
		keys = append(keys, MarshalAssignmentKey(AssignmentKey{Cell: r.Cell, Clone: r.Clone, Prob: r.Prob}))
	}
	cells := func(keys [][]byte) []string {
		var s []string
		for _, k := range keys {
			s = append(s, UnmarshalAssignmentKey(k).Cell)
		}
		return s
	}

	sort.Slice(keys, func(i, j int) bool { return ByCell(keys[i], keys[j]) < 0 })
	assert.Equal(t, []string{"a", "b", "c", "d"}, cells(keys))

	sort.Slice(keys, func(i, j int) bool { return ByCloneProbability(keys[i], keys[j]) < 0 })
	assert.Equal(t, []string{"a", "b", "c", "d"}, cells(keys))
	assert.Equal(t, 0, ByCloneProbability(keys[0], keys[0]))

	c := AssignmentKey{Cell: "e", Clone: "X", Prob: 0.95}
	assert.Equal(t, -1, ByCloneProbability(MarshalAssignmentKey(c), keys[0]))
}

func TestWriteDo(t *testing.T) {
	dir := t.TempDir()
	for _, test := range []struct {
		name    string
		compare func(x, y []byte) int
		want    []string
	}{
		{name: "assignments.db", compare: ByCell, want: []string{"a", "b", "c", "d"}},
		{name: "clones.db", compare: ByCloneProbability, want: []string{"a", "b", "c", "d"}},
	} {
		path := filepath.Join(dir, test.name)
		require.NoError(t, Write(path, testResult(), test.compare))

		var got []string
		err := Do(path, test.compare, func(k AssignmentKey, r Record) error {
			assert.Equal(t, k.Cell, r.Cell)
			assert.Equal(t, k.Clone, r.Clone)
			assert.Equal(t, r.Probs[r.Clone], r.Prob)
			got = append(got, r.Cell)
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, test.want, got, test.name)
	}
}
