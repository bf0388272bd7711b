// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package table reads and writes the tab-separated tables consumed and
// produced by clone assignment.
package table

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/grailbio/base/tsv"
	"gonum.org/v1/gonum/mat"

	"github.com/kortschak/clonealign/infer"
)

// matrix is a labelled table of numbers.
type matrix struct {
	header []string
	labels []string
	extra  []string
	data   []float64
}

// readMatrix reads a table with a header row whose first column holds
// row labels. If extra is true, the second column is read as a string
// column.
func readMatrix(r io.Reader, extra bool) (*matrix, error) {
	tr := tsv.NewReader(r)
	tr.Comment = '#'
	tr.FieldsPerRecord = 0

	head, err := tr.Reader.Read()
	if err != nil {
		if err == io.EOF {
			return nil, errors.New("table: empty table")
		}
		return nil, err
	}
	first := 1
	if extra {
		first = 2
	}
	if len(head) <= first {
		return nil, fmt.Errorf("table: no data columns in header: %q", head)
	}
	m := &matrix{header: trim(head)}
	for line := 2; ; line++ {
		rec, err := tr.Reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		m.labels = append(m.labels, strings.TrimSpace(rec[0]))
		if extra {
			m.extra = append(m.extra, strings.TrimSpace(rec[1]))
		}
		for _, f := range rec[first:] {
			// Allow padded numeric fields.
			v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
			if err != nil {
				return nil, fmt.Errorf("table: error in line %d: %w", line, err)
			}
			m.data = append(m.data, v)
		}
	}
	if len(m.labels) == 0 {
		return nil, errors.New("table: no rows")
	}
	m.header = m.header[first:]
	return m, nil
}

func trim(s []string) []string {
	t := make([]string, len(s))
	for i, v := range s {
		t[i] = strings.TrimSpace(v)
	}
	return t
}

// ReadExpression reads a cell by gene count table. The header row holds a
// label followed by gene names and each subsequent row holds a cell name
// followed by its counts.
func ReadExpression(r io.Reader) (*infer.Expression, error) {
	m, err := readMatrix(r, false)
	if err != nil {
		return nil, err
	}
	return &infer.Expression{
		Cells:  m.labels,
		Genes:  m.header,
		Counts: mat.NewDense(len(m.labels), len(m.header), m.data),
	}, nil
}

// ReadCopyNumber reads a gene by clone copy-number table. The header row
// holds a label followed by clone names and each subsequent row holds a
// gene name followed by its copy-number state in each clone. If the second
// header field is chr, chrom or chromosome, the second column is read as
// the chromosome of each gene.
func ReadCopyNumber(r io.Reader) (*infer.CopyNumber, error) {
	// Buffer the header to decide on the chromosome column.
	var buf strings.Builder
	_, err := io.Copy(&buf, r)
	if err != nil {
		return nil, err
	}
	data := buf.String()
	head := data
	if i := strings.IndexByte(data, '\n'); i >= 0 {
		head = data[:i]
	}
	fields := strings.Split(strings.TrimRight(head, "\r"), "\t")
	var chroms bool
	if len(fields) > 1 {
		switch strings.ToLower(strings.TrimSpace(fields[1])) {
		case "chr", "chrom", "chromosome":
			chroms = true
		}
	}

	m, err := readMatrix(strings.NewReader(data), chroms)
	if err != nil {
		return nil, err
	}
	return &infer.CopyNumber{
		Genes:  m.labels,
		Clones: m.header,
		Chroms: m.extra,
		States: mat.NewDense(len(m.labels), len(m.header), m.data),
	}, nil
}

// ReadAssignments reads the cell and clone columns of a table written by
// WriteAssignments.
func ReadAssignments(r io.Reader) (cells, clones []string, err error) {
	tr := tsv.NewReader(r)
	tr.FieldsPerRecord = -1
	head, err := tr.Reader.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("table: missing header: %w", err)
	}
	if len(head) < 2 || head[0] != "cell" || head[1] != "clone" {
		return nil, nil, fmt.Errorf("table: unexpected assignment header: %q", head)
	}
	for {
		rec, err := tr.Reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, err
		}
		if len(rec) < 2 {
			return nil, nil, fmt.Errorf("table: short assignment record: %q", rec)
		}
		cells = append(cells, rec[0])
		clones = append(clones, rec[1])
	}
	return cells, clones, nil
}

// WriteAssignments writes the clone assignment and clone probabilities of
// each cell in res.
func WriteAssignments(w io.Writer, res *infer.Result) error {
	tw := tsv.NewWriter(w)
	tw.WriteString("cell")
	tw.WriteString("clone")
	_, c := res.CloneProbs.Dims()
	for j := 0; j < c; j++ {
		tw.WriteString("prob_" + label(res.Clones, j))
	}
	err := tw.EndLine()
	if err != nil {
		return err
	}
	for i := range res.Assignment {
		tw.WriteString(label(res.Cells, i))
		tw.WriteString(res.Clone(i))
		for _, p := range res.CloneProbs.RawRowView(i) {
			tw.WriteString(formatFloat(p))
		}
		err = tw.EndLine()
		if err != nil {
			return err
		}
	}
	return tw.Flush()
}

// WriteParams writes the named parameter table of res. Valid names are
// the keys of res.Params.
func WriteParams(w io.Writer, res *infer.Result, name string) error {
	p, ok := res.Params()[name]
	if !ok {
		return fmt.Errorf("table: unknown parameter %q", name)
	}
	rows, cols := p.Dims()
	rowNames := res.Cells
	if name == "mu" || name == "phi" || name == "w" {
		rowNames = res.Genes
	}
	var colNames []string

	tw := tsv.NewWriter(w)
	switch name {
	case "mu", "phi", "w":
		tw.WriteString("gene")
	case "clone_probs":
		tw.WriteString("cell")
		colNames = res.Clones
	default:
		tw.WriteString("cell")
	}
	if cols == 1 {
		tw.WriteString(name)
	} else {
		for j := 0; j < cols; j++ {
			if colNames != nil {
				tw.WriteString(colNames[j])
			} else {
				tw.WriteString(fmt.Sprintf("%s%d", name, j+1))
			}
		}
	}
	err := tw.EndLine()
	if err != nil {
		return err
	}
	for i := 0; i < rows; i++ {
		tw.WriteString(label(rowNames, i))
		for _, v := range p.RawRowView(i) {
			tw.WriteString(formatFloat(v))
		}
		err = tw.EndLine()
		if err != nil {
			return err
		}
	}
	return tw.Flush()
}

// WriteELBO writes the ELBO trace of res, one iteration per row.
func WriteELBO(w io.Writer, res *infer.Result) error {
	tw := tsv.NewWriter(w)
	tw.WriteString("iteration")
	tw.WriteString("elbo")
	err := tw.EndLine()
	if err != nil {
		return err
	}
	for i, v := range res.ELBO {
		tw.WriteString(strconv.Itoa(i + 1))
		tw.WriteString(formatFloat(v))
		err = tw.EndLine()
		if err != nil {
			return err
		}
	}
	return tw.Flush()
}

// WriteCopyNumber writes cn in the format read by ReadCopyNumber.
func WriteCopyNumber(w io.Writer, cn *infer.CopyNumber) error {
	tw := tsv.NewWriter(w)
	tw.WriteString("gene")
	if cn.Chroms != nil {
		tw.WriteString("chr")
	}
	c := len(cn.Clones)
	if cn.States != nil {
		_, c = cn.States.Dims()
	}
	for j := 0; j < c; j++ {
		tw.WriteString(label(cn.Clones, j))
	}
	err := tw.EndLine()
	if err != nil {
		return err
	}
	if cn.States == nil {
		return tw.Flush()
	}
	g, _ := cn.States.Dims()
	for i := 0; i < g; i++ {
		tw.WriteString(label(cn.Genes, i))
		if cn.Chroms != nil {
			tw.WriteString(cn.Chroms[i])
		}
		for _, v := range cn.States.RawRowView(i) {
			tw.WriteString(formatFloat(v))
		}
		err = tw.EndLine()
		if err != nil {
			return err
		}
	}
	return tw.Flush()
}

func label(names []string, i int) string {
	if names == nil {
		return strconv.Itoa(i)
	}
	return names[i]
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
