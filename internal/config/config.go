// Package config loads the single tuning configuration struct that
// parameterizes a population synthesis run, JSON-encoded the way the
// teacher annealing tool loaded its own run configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Config holds every tuning parameter from spec §6 in one struct,
// decoded from a single JSON document.
type Config struct {
	MaxIter              int     `json:"maxIter"`
	RateTolerance        float64 `json:"rateTolerance"`
	ConvergenceRate      float64 `json:"convergenceRate"`
	FailFast             bool    `json:"failFast"`
	Alpha                float64 `json:"alpha"`
	K                    float64 `json:"k"`
	PoolSize             int     `json:"poolSize"`
	Seed                 int64   `json:"seed"`
	MaxRejectsMultiplier int     `json:"maxRejectsMultiplier"`
	// DebugLimitAreas caps the number of areas processed, when > 0 —
	// recovered from the original tool's ad hoc small-run harness, useful
	// for smoke-testing a run against a handful of areas before a full
	// pass over every area of interest.
	DebugLimitAreas int `json:"debugLimitAreas,omitempty"`
}

// Default returns the tuning defaults named in spec §4: a 0.001 ordinal
// kernel exponent, alpha=0 (categorical distance is binary), and a
// worker pool sized for the run's CPU budget handled by the caller.
func Default() Config {
	return Config{
		MaxIter:              1000,
		RateTolerance:        1e-6,
		ConvergenceRate:      1e-9,
		FailFast:             false,
		Alpha:                0,
		K:                    0.001,
		PoolSize:             1,
		Seed:                 1,
		MaxRejectsMultiplier: 1000,
	}
}

// Load reads and decodes a Config from a JSON file, starting from
// Default() so an input file only needs to override the fields it
// cares about.
func Load(path string) (Config, error) {
	cfg := Default()
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("config: opening %s: %w", path, err)
	}
	defer file.Close()

	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("config: decoding %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks that the tuning parameters are usable, mirroring the
// teacher's distance-metric validation in loadAnnealingConfig.
func (c Config) Validate() error {
	if c.MaxIter <= 0 {
		return fmt.Errorf("config: maxIter must be positive, got %d", c.MaxIter)
	}
	if c.PoolSize <= 0 {
		return fmt.Errorf("config: poolSize must be positive, got %d", c.PoolSize)
	}
	if c.Alpha < 0 || c.Alpha > 1 {
		return fmt.Errorf("config: alpha must be in [0,1], got %g", c.Alpha)
	}
	if c.MaxRejectsMultiplier <= 0 {
		return fmt.Errorf("config: maxRejectsMultiplier must be positive, got %d", c.MaxRejectsMultiplier)
	}
	return nil
}
