// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package table

import (
	"fmt"
	"io"
	"strings"

	"github.com/biogo/biogo/io/featio"
	"github.com/biogo/biogo/io/featio/gff"

	"github.com/kortschak/clonealign/infer"
)

// ReadChromosomes returns a map from gene name to chromosome from the gene
// features in the GFF version 2 or GTF stream r. Gene names are taken from
// the gene_id attribute, falling back to gene_name, Name and ID. Features
// with a type other than gene are ignored.
func ReadChromosomes(r io.Reader) (map[string]string, error) {
	chrOf := make(map[string]string)
	sc := featio.NewScanner(gff.NewReader(r))
	for sc.Next() {
		f := sc.Feat().(*gff.Feature)
		if f.Feature != "gene" {
			continue
		}
		name := geneName(f)
		if name == "" {
			return nil, fmt.Errorf("table: unnamed gene at %s:%d", f.SeqName, f.FeatStart+1)
		}
		if chr, ok := chrOf[name]; ok && chr != f.SeqName {
			return nil, fmt.Errorf("table: gene %s on both %s and %s", name, chr, f.SeqName)
		}
		chrOf[name] = f.SeqName
	}
	if err := sc.Error(); err != nil {
		return nil, fmt.Errorf("error during feature read: %w", err)
	}
	return chrOf, nil
}

func geneName(f *gff.Feature) string {
	for _, tag := range []string{"gene_id", "gene_name", "Name", "ID"} {
		v := strings.Trim(f.FeatAttributes.Get(tag), `" `)
		if v != "" {
			return v
		}
	}
	return ""
}

// AssignChromosomes sets the chromosome of each gene of cn from chrOf.
// Every gene of cn must be present in chrOf.
func AssignChromosomes(cn *infer.CopyNumber, chrOf map[string]string) error {
	if cn.Genes == nil {
		return fmt.Errorf("table: copy-number genes are not named")
	}
	chroms := make([]string, len(cn.Genes))
	for i, g := range cn.Genes {
		chr, ok := chrOf[g]
		if !ok {
			return fmt.Errorf("table: no chromosome for gene %s", g)
		}
		chroms[i] = chr
	}
	cn.Chroms = chroms
	return nil
}
