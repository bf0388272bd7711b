// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package infer

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds the parameters of a fit.
type Config struct {
	// LearningRate is the Adam step size.
	LearningRate float64 `yaml:"learning_rate"`
	// RelTol is the relative ELBO change below which
	// the fit is considered converged.
	RelTol float64 `yaml:"rel_tol"`
	// MaxIter is the maximum number of iterations.
	MaxIter int `yaml:"max_iter"`
	// Verbose specifies that the ELBO of each iteration
	// is written to Logger.
	Verbose bool `yaml:"verbose"`

	// Samples is the number of Monte Carlo draws of the
	// cell random effects used for each ELBO estimate.
	Samples int `yaml:"samples"`
	// RandomEffects is the dimension of the cell random
	// effect and the gene loadings.
	RandomEffects int `yaml:"random_effects"`
	// Seed seeds the random source. A fit is deterministic
	// for a given seed and number of workers.
	Seed uint64 `yaml:"seed"`
	// Workers is the number of cell chunks evaluated
	// concurrently.
	Workers int `yaml:"workers"`

	// MinCopyNumber and MaxCopyNumber bound the copy-number
	// expression factor. A MaxCopyNumber of zero leaves
	// the factor uncapped.
	MinCopyNumber float64 `yaml:"min_copy_number"`
	MaxCopyNumber float64 `yaml:"max_copy_number"`

	// SizeFactors optionally replaces the per-cell
	// total counts as the size factors.
	SizeFactors []float64 `yaml:"-"`

	// Logger receives progress output. If nil,
	// output is written to os.Stderr.
	Logger *log.Logger `yaml:"-"`
}

// DefaultConfig returns the default fit parameters.
func DefaultConfig() Config {
	return Config{
		LearningRate:  0.1,
		RelTol:        1e-6,
		MaxIter:       500,
		Samples:       1,
		RandomEffects: 1,
		Seed:          1,
		Workers:       1,
		MinCopyNumber: 0.1,
	}
}

// LoadConfig reads a YAML fit configuration from r. Fields absent from
// the document retain their DefaultConfig values.
func LoadConfig(r io.Reader) (Config, error) {
	cfg := DefaultConfig()
	err := yaml.NewDecoder(r).Decode(&cfg)
	if err != nil && err != io.EOF {
		return cfg, fmt.Errorf("infer: invalid config: %w", err)
	}
	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	switch {
	case !(c.LearningRate > 0):
		return fmt.Errorf("infer: learning rate must be positive: %v", c.LearningRate)
	case !(c.RelTol > 0):
		return fmt.Errorf("infer: relative tolerance must be positive: %v", c.RelTol)
	case c.MaxIter <= 0:
		return fmt.Errorf("infer: max iterations must be positive: %d", c.MaxIter)
	case c.Samples <= 0:
		return fmt.Errorf("infer: samples must be positive: %d", c.Samples)
	case c.RandomEffects <= 0:
		return fmt.Errorf("infer: random effects dimension must be positive: %d", c.RandomEffects)
	case !(c.MinCopyNumber > 0):
		return fmt.Errorf("infer: minimum copy number must be positive: %v", c.MinCopyNumber)
	case c.MaxCopyNumber != 0 && c.MaxCopyNumber < c.MinCopyNumber:
		return errors.New("infer: maximum copy number less than minimum")
	}
	return nil
}

func (c *Config) logger() *log.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return log.New(os.Stderr, "", log.LstdFlags)
}

// Factor returns the expression factor applied by a fit with the
// receiver's parameters to the copy-number state cn.
func (c Config) Factor(cn float64) float64 {
	return factor(cn, c.MinCopyNumber, c.MaxCopyNumber)
}

// factor returns the expression factor for the copy-number state cn.
// It is the identity clamped to [min, max], with a max of zero leaving
// the factor uncapped.
func factor(cn, min, max float64) float64 {
	if cn < min {
		return min
	}
	if max != 0 && cn > max {
		return max
	}
	return cn
}
