// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// cnfilter is a tool to remove uninformative genes from a clone copy-number
// table. It discards genes whose copy-number state varies across clones by no
// more than the given variance. Genes with the same state in every clone
// carry no information about clone identity.
//
// usage: cnfilter [-min-var v] < infile.tsv > outfile.tsv
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/kortschak/clonealign/table"
)

func main() {
	minVar := flag.Float64("min-var", 0, "specify the variance a gene's copy-number must exceed to be retained")
	verbose := flag.Bool("verbose", false, "specify logging of dropped genes")
	flag.Usage = func() {
		fmt.Println(`usage: cnfilter [-min-var v] [-verbose] < infile.tsv > outfile.tsv`)
		os.Exit(0)
	}
	flag.Parse()
	if *minVar < 0 {
		log.Fatalf("invalid minimum variance: %v", *minVar)
	}

	cn, err := table.ReadCopyNumber(bufio.NewReader(os.Stdin))
	if err != nil {
		log.Fatal(err)
	}
	kept, dropped := cn.Informative(*minVar)
	if *verbose {
		for _, g := range dropped {
			log.Printf("dropped %s", g)
		}
	}
	log.Printf("kept %d of %d genes", len(kept.Genes), len(cn.Genes))

	w := bufio.NewWriter(os.Stdout)
	err = table.WriteCopyNumber(w, kept)
	if err != nil {
		log.Fatal(err)
	}
	err = w.Flush()
	if err != nil {
		log.Fatal(err)
	}
}
