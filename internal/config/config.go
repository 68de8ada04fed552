// Package config loads and validates configuration for the Lucid memory
// engine: the working-set budget, the brightness scorer's policy knobs,
// the resurrection planner's overscan factor, the reflection trigger's
// idle thresholds, the embedding backend, and the persistent store path.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds all Lucid configuration, as enumerated in spec.md §6.
type Config struct {
	// Store configures the persistent store (SQLite file + vector index).
	Store StoreConfig `yaml:"store"`

	// ContextLimit is the generator's hard cap on active tokens (M).
	ContextLimit int `yaml:"context_limit"`

	// MaxGeneration is the planned max generation length (G).
	MaxGeneration int `yaml:"max_generation"`

	// Overhead and SafetyMargin are subtracted from the resurrection
	// budget as fixed reserves (O).
	Overhead     int `yaml:"overhead"`
	SafetyMargin int `yaml:"safety_margin"`

	Brightness   BrightnessConfig   `yaml:"brightness"`
	Reflection   ReflectionConfig   `yaml:"reflection"`
	Resurrection ResurrectionConfig `yaml:"resurrection"`
	Embedding    EmbeddingConfig    `yaml:"embedding"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// StoreConfig configures the SQLite-backed persistent store.
type StoreConfig struct {
	// Path to the SQLite database file. Empty means in-memory (tests only).
	Path string `yaml:"path"`
}

// DefaultConfig returns a configuration with sensible defaults for all
// sections, mirroring spec.md §6's defaults where the spec states one.
func DefaultConfig() *Config {
	return &Config{
		Store:         StoreConfig{Path: "data/lucid.db"},
		ContextLimit:  32000,
		MaxGeneration: 400,
		Overhead:      32,
		SafetyMargin:  0,
		Brightness:    DefaultBrightnessConfig(),
		Reflection:    DefaultReflectionConfig(),
		Resurrection:  DefaultResurrectionConfig(),
		Embedding:     DefaultEmbeddingConfig(),
		Logging:       DefaultLoggingConfig(),
	}
}

// Load reads a YAML config file, applying defaults for anything unset.
// A missing file is not an error — DefaultConfig() is returned as-is.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration for internally-consistent values.
func (c *Config) Validate() error {
	if c.ContextLimit <= 0 {
		return fmt.Errorf("context_limit must be > 0")
	}
	if c.MaxGeneration < 0 {
		return fmt.Errorf("max_generation must be >= 0")
	}
	if c.Overhead < 0 || c.SafetyMargin < 0 {
		return fmt.Errorf("overhead and safety_margin must be >= 0")
	}
	if err := c.Brightness.Validate(); err != nil {
		return fmt.Errorf("brightness: %w", err)
	}
	if c.Resurrection.TopK <= 0 {
		return fmt.Errorf("resurrection.top_k must be > 0")
	}
	if c.Embedding.Dim <= 0 {
		return fmt.Errorf("embedding.dim must be > 0")
	}
	return nil
}
