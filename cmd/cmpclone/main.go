// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// The cmpclone program compares the clone assignments in two files. It takes
// two assignment tables written by clonealign and compares the clone given to
// each cell. The output of the analysis is the number of cells that agree
// between the inputs, the number of cells that are assigned in one, but not
// the other, and the number of cells where the assignment differs. These are
// emitted on stdout as a JSON object.
//
// If a dot flag is provided, the concordance between the assignments is
// written as a graph in DOT format, with edge weights representing counts of
// cells assigned to each pair of clones.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"io/ioutil"
	"log"
	"os"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/encoding"
	"gonum.org/v1/gonum/graph/encoding/dot"
	"gonum.org/v1/gonum/graph/simple"

	"github.com/kortschak/clonealign/table"
)

func main() {
	aFile := flag.String("a", "", "specify the input file a name (required)")
	bFile := flag.String("b", "", "specify the input file b name (required)")
	out := flag.String("dot", "", "specify prefix for DOT file describing clone concordance")
	none := flag.String("none", "none", "specify label for 'no assignment'")

	flag.Parse()
	if *aFile == "" || *bFile == "" {
		flag.Usage()
		os.Exit(2)
	}

	a, err := assignments(*aFile)
	if err != nil {
		log.Fatal(err)
	}
	b, err := assignments(*bFile)
	if err != nil {
		log.Fatal(err)
	}

	rec, pairs := compare(a, b)
	m, err := json.Marshal(rec)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("%s\n", m)
	if *out != "" {
		err = dotOut(*out+".clone.dot", *aFile, *bFile, pairs, *none)
		if err != nil {
			log.Fatal(err)
		}
	}
}

// assignments returns the clone of each cell in the assignment table at path.
func assignments(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	cells, clones, err := table.ReadAssignments(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	cloneOf := make(map[string]string, len(cells))
	for i, c := range cells {
		if _, dup := cloneOf[c]; dup {
			return nil, fmt.Errorf("%s: duplicate cell %q", path, c)
		}
		cloneOf[c] = clones[i]
	}
	return cloneOf, nil
}

type record struct {
	Agree    int `json:"agree"`
	AMissing int `json:"a-missing"`
	BMissing int `json:"b-missing"`
	Mismatch int `json:"mismatch"`
}

type names struct {
	a, b string
}

// compare returns the concordance counts for the cells of a and b and the
// number of cells with each pair of clone labels. A missing assignment is
// given the empty label.
func compare(a, b map[string]string) (record, map[names]int) {
	var rec record
	pairs := make(map[names]int)
	for cell, ca := range a {
		cb, ok := b[cell]
		switch {
		case !ok:
			rec.BMissing++
		case ca == cb:
			rec.Agree++
		default:
			rec.Mismatch++
		}
		pairs[names{a: ca, b: cb}]++
	}
	for cell, cb := range b {
		if _, ok := a[cell]; !ok {
			rec.AMissing++
			pairs[names{b: cb}]++
		}
	}
	return rec, pairs
}

func dotOut(path, aFile, bFile string, edges map[names]int, none string) error {
	if aFile == bFile {
		aFile = "a:" + aFile
		bFile = "b:" + bFile
	}
	g := newNameGraph(none)
	for p, w := range edges {
		e := edge{
			f: g.nodeFor(aFile, p.a),
			t: g.nodeFor(bFile, p.b),
			w: float64(w),
		}
		g.SetWeightedEdge(e)
	}
	b, err := dot.Marshal(g, "concord", "", "\t")
	if err != nil {
		return err
	}
	return ioutil.WriteFile(path, b, 0o664)
}

type nameGraph struct {
	*simple.WeightedUndirectedGraph
	idFor map[string]int64
	none  string
}

func newNameGraph(none string) nameGraph {
	return nameGraph{
		WeightedUndirectedGraph: simple.NewWeightedUndirectedGraph(0, 0),
		idFor:                   make(map[string]int64),
		none:                    none,
	}
}

func (g nameGraph) nodeFor(file, s string) graph.Node {
	if s == "" {
		s = g.none
	}
	s = file + ":" + s
	id, ok := g.idFor[s]
	if ok {
		return g.Node(id)
	}
	id = g.WeightedUndirectedGraph.NewNode().ID()
	g.idFor[s] = id
	n := node{id: id, name: s}
	g.AddNode(n)
	return n
}

type node struct {
	id   int64
	name string
}

func (n node) ID() int64     { return n.id }
func (n node) DOTID() string { return n.name }

type edge struct {
	f, t graph.Node
	w    float64
}

func (e edge) From() graph.Node         { return e.f }
func (e edge) To() graph.Node           { return e.t }
func (e edge) ReversedEdge() graph.Edge { return edge{f: e.t, t: e.f, w: e.w} }
func (e edge) Weight() float64          { return e.w }
func (e edge) Attributes() []encoding.Attribute {
	return []encoding.Attribute{{Key: "weight", Value: fmt.Sprint(e.w)}}
}
