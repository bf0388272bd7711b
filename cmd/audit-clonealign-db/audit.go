// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// The audit-clonealign-db command allows the assignment data stores generated
// during a run of clonealign to be queried. There are two persisted data
// stores, written to the directory given to clonealign with the -db flag.
//  - assignments.db: the clone assignment of each cell, ordered by cell name
//  - clones.db: the same records grouped by assigned clone, with the
//    most confidently assigned cells of each clone first
// Each of the databases must be named as described here for
// audit-clonealign-db to understand their contents. Output from
// audit-clonealign-db is a JSON stream on stdout.
//
// Both files contain records in JSON corresponding to the following Go
// struct. Clone is the assigned clone, Prob is its posterior probability and
// Probs holds the posterior probability of every clone.
//  struct {
//  	Cell  string
//  	Clone string
//  	Prob  float64
//  	Probs map[string]float64
//  }
//
// If the clone flag is given, only records assigned to that clone are
// emitted.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"log"
	"os"
	"path/filepath"

	"github.com/kortschak/clonealign/internal/store"
)

// errDone terminates iteration over clones.db.
var errDone = errors.New("done")

func main() {
	path := flag.String("db", "", "specify db file to audit (base must match '{assignments,clones}.db')")
	clone := flag.String("clone", "", "specify a clone to restrict output to")
	flag.Parse()
	base := filepath.Base(*path)
	switch base {
	case "assignments.db", "clones.db":
	default:
		flag.Usage()
		os.Exit(2)
	}

	orderFor := map[string]func(x, y []byte) int{
		"assignments.db": store.ByCell,
		"clones.db":      store.ByCloneProbability,
	}
	enc := json.NewEncoder(os.Stdout)
	var seen bool
	err := store.Do(*path, orderFor[base], func(k store.AssignmentKey, r store.Record) error {
		if *clone != "" && k.Clone != *clone {
			if seen && base == "clones.db" {
				// Records of a clone are contiguous in clones.db.
				return errDone
			}
			return nil
		}
		seen = true
		return enc.Encode(r)
	})
	if err != nil && err != errDone {
		log.Fatal(err)
	}
}
