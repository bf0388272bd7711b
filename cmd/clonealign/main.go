// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// clonealign assigns single cells to clones from their gene expression
// counts and the copy-number profile of each clone. It fits a negative
// binomial model of expression by variational inference and writes the
// clone assignment of each cell, the fitted parameters and the ELBO trace
// as tab-separated tables.
//
// The expression table has a header of gene names and one row of counts per
// cell. The copy-number table has a header of clone names and one row of
// copy-number states per gene, optionally with a chr column after the gene
// name. Chromosomes may alternatively be taken from a GFF/GTF gene set given
// with the genes flag. Only genes present in both tables are used.
//
// If a db directory is given, the assignments are also persisted in
// assignments.db and clones.db for inspection with audit-clonealign-db.
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"runtime"

	"github.com/kortschak/clonealign/evaluate"
	"github.com/kortschak/clonealign/infer"
	"github.com/kortschak/clonealign/internal/store"
	"github.com/kortschak/clonealign/table"
)

func main() {
	exprFile := flag.String("expr", "", "specify expression count table (required)")
	cnFile := flag.String("cn", "", "specify clone copy-number table (required)")
	genes := flag.String("genes", "", "specify GFF/GTF gene set giving gene chromosomes")
	config := flag.String("config", "", "specify YAML fit configuration file")
	rate := flag.Float64("lr", 0, "specify Adam learning rate (default from config)")
	relTol := flag.Float64("rel-tol", 0, "specify relative ELBO convergence tolerance (default from config)")
	maxIter := flag.Int("max-iter", 0, "specify maximum number of iterations (default from config)")
	seed := flag.Uint64("seed", 0, "specify random seed (default from config)")
	threads := flag.Int("cores", 0, "specify the maximum number of cores for inference (<=0 is use all cores; default from config)")
	minVar := flag.Float64("min-var", 0, "specify minimum copy-number variance across clones for a gene to be used")
	verbose := flag.Bool("verbose", false, "specify verbose logging")
	out := flag.String("out", "clonealign", "specify output file prefix")
	dbDir := flag.String("db", "", "specify directory to write assignment databases")
	eval := flag.Bool("evaluate", false, "specify to evaluate the fit on held-out genes")
	heldOut := flag.Float64("held-out", 0.2, "specify fraction of genes held out for evaluation")
	perms := flag.Int("permutations", 100, "specify number of permutations for the evaluation null")
	flag.Parse()

	if *exprFile == "" || *cnFile == "" {
		flag.Usage()
		os.Exit(2)
	}

	log.Println(os.Args)

	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	cfg, err := fitConfig(*config, set, fitFlags{
		rate:    *rate,
		relTol:  *relTol,
		maxIter: *maxIter,
		seed:    *seed,
		threads: *threads,
		verbose: *verbose,
	})
	if err != nil {
		log.Fatal(err)
	}
	if cfg.Verbose {
		logger := logCapture()
		defer logger.Close()
		cfg.Logger = log.New(logger, "", 0)
	}

	log.Println("reading input")
	expr, err := readExpression(*exprFile)
	if err != nil {
		log.Fatal(err)
	}
	cn, err := readCopyNumber(*cnFile)
	if err != nil {
		log.Fatal(err)
	}
	if *genes != "" {
		err = assignChromosomes(cn, *genes)
		if err != nil {
			log.Fatal(err)
		}
	}
	expr, cn, err = infer.AlignGenes(expr, cn)
	if err != nil {
		log.Fatal(err)
	}
	if *minVar > 0 {
		var dropped []string
		cn, dropped = cn.Informative(*minVar)
		if cn.States == nil {
			log.Fatalf("no genes with copy-number variance above %v", *minVar)
		}
		if len(dropped) != 0 {
			log.Printf("dropped %d uninformative genes", len(dropped))
			expr, cn, err = infer.AlignGenes(expr, cn)
			if err != nil {
				log.Fatal(err)
			}
		}
	}
	log.Printf("fitting %d cells over %d genes and %d clones", len(expr.Cells), len(expr.Genes), len(cn.Clones))

	var res *infer.Result
	if *eval {
		ecfg := evaluate.DefaultConfig()
		ecfg.HeldOutFraction = *heldOut
		ecfg.Permutations = *perms
		ecfg.Seed = cfg.Seed
		rep, err := evaluate.Evaluate(expr, cn, cfg, ecfg)
		if err != nil {
			log.Fatal(err)
		}
		res = rep.Full
		m, err := json.Marshal(rep)
		if err != nil {
			log.Fatal(err)
		}
		fmt.Printf("%s\n", m)
	} else {
		res, err = infer.Fit(expr, cn, cfg)
		if err != nil {
			log.Fatal(err)
		}
	}
	log.Printf("fit used %d iterations: converged=%t", res.Iterations, res.Converged)

	err = writeTable(*out+".assign.tsv", func(w io.Writer) error {
		return table.WriteAssignments(w, res)
	})
	if err != nil {
		log.Fatal(err)
	}
	for name := range res.Params() {
		name := name
		err = writeTable(*out+"."+name+".tsv", func(w io.Writer) error {
			return table.WriteParams(w, res, name)
		})
		if err != nil {
			log.Fatal(err)
		}
	}
	err = writeTable(*out+".elbo.tsv", func(w io.Writer) error {
		return table.WriteELBO(w, res)
	})
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("wrote results with prefix %s", *out)

	if *dbDir != "" {
		err = os.MkdirAll(*dbDir, 0o775)
		if err != nil {
			log.Fatal(err)
		}
		for _, db := range []struct {
			name    string
			compare func(x, y []byte) int
		}{
			{name: "assignments.db", compare: store.ByCell},
			{name: "clones.db", compare: store.ByCloneProbability},
		} {
			path := filepath.Join(*dbDir, db.name)
			err = store.Write(path, res, db.compare)
			if err != nil {
				log.Fatal(err)
			}
			log.Printf("wrote %s", path)
		}
	}
}

// fitFlags holds the command line values of fit parameters.
type fitFlags struct {
	rate    float64
	relTol  float64
	maxIter int
	seed    uint64
	threads int
	verbose bool
}

// fitConfig returns the fit parameters from the YAML file at path, or the
// defaults if path is empty, overridden by the flags named in set. The
// number of workers is only changed by an explicit cores flag.
func fitConfig(path string, set map[string]bool, flags fitFlags) (infer.Config, error) {
	cfg := infer.DefaultConfig()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return cfg, err
		}
		cfg, err = infer.LoadConfig(f)
		f.Close()
		if err != nil {
			return cfg, err
		}
	}
	for name := range set {
		switch name {
		case "lr":
			cfg.LearningRate = flags.rate
		case "rel-tol":
			cfg.RelTol = flags.relTol
		case "max-iter":
			cfg.MaxIter = flags.maxIter
		case "seed":
			cfg.Seed = flags.seed
		case "verbose":
			cfg.Verbose = flags.verbose
		case "cores":
			cfg.Workers = runtime.NumCPU()
			if flags.threads > 0 {
				cfg.Workers = min(flags.threads, cfg.Workers)
			}
		}
	}
	return cfg, nil
}

func readExpression(path string) (*infer.Expression, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return table.ReadExpression(bufio.NewReader(f))
}

func readCopyNumber(path string) (*infer.CopyNumber, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return table.ReadCopyNumber(bufio.NewReader(f))
}

func assignChromosomes(cn *infer.CopyNumber, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	chrOf, err := table.ReadChromosomes(bufio.NewReader(f))
	if err != nil {
		return err
	}
	return table.AssignChromosomes(cn, chrOf)
}

// writeTable creates the file at path and writes to it with fn.
func writeTable(path string, fn func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	err = fn(f)
	if err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// logCapture returns an io.WriteCloser that pipes writes to the default log logger.
func logCapture() io.WriteCloser {
	r, w := io.Pipe()
	go func() {
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			if len(bytes.TrimSpace(sc.Bytes())) == 0 {
				continue
			}
			log.Printf("\t%s", sc.Bytes())
		}
		err := sc.Err()
		if err != nil && err != io.EOF {
			_ = w.CloseWithError(err)
		}
	}()
	return w
}
