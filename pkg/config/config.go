// Package config provides configuration loading and management for srtile.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"

	"srtile/pkg/network"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Model selection
	Model struct {
		// ID is the model identifier to load
		ID string `yaml:"id"`

		// WeightsDir holds converted checkpoints named after the model
		WeightsDir string `yaml:"weightsDir"`

		// WeightsPath overrides WeightsDir with an explicit checkpoint file
		WeightsPath string `yaml:"weightsPath"`
	} `yaml:"model"`

	// Tiling parameters
	Tiling struct {
		// TileSize is the edge length of a tile in input pixels; 0 disables tiling
		TileSize int `yaml:"tileSize"`

		// TilePad is the context border read around every tile
		TilePad int `yaml:"tilePad"`

		// PrePad is the reflection border added before inference
		PrePad int `yaml:"prePad"`

		// FixedSize keeps TileSize even when a tile exceeds the memory
		// budget; such tiles then fail and stay black
		FixedSize bool `yaml:"fixedSize"`
	} `yaml:"tiling"`

	// Alpha channel handling
	Alpha struct {
		// Mode is "model" to run the alpha plane through the network or
		// "resize" to resize it directly
		Mode string `yaml:"mode"`
	} `yaml:"alpha"`

	// DNI (deep network interpolation) parameters
	DNI struct {
		// Enabled turns on blending with SecondaryWeights
		Enabled bool `yaml:"enabled"`

		// SecondaryWeights is the checkpoint blended with the selected model
		SecondaryWeights string `yaml:"secondaryWeights"`

		// Ratio holds the blend weights for the selected and secondary model
		Ratio []float64 `yaml:"ratio"`
	} `yaml:"dni"`

	// Output parameters
	Output struct {
		// Scale is the requested output scale; 0 keeps the network scale
		Scale float64 `yaml:"scale"`

		// Extension selects the output file format
		Extension string `yaml:"extension"`

		// IntermediaryDir receives stage dumps when set
		IntermediaryDir string `yaml:"intermediaryDir"`

		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`

	// Runtime parameters
	Runtime struct {
		// Workers is the number of images processed concurrently
		Workers int `yaml:"workers"`

		// MaxTileElements bounds the feature memory of the tiles in flight,
		// in four byte elements, shared evenly between workers; 0 is unbounded
		MaxTileElements int `yaml:"maxTileElements"`
	} `yaml:"runtime"`

	// CustomModels registers additional models next to the built-in ones
	CustomModels []CustomModel `yaml:"customModels"`
}

// CustomModel describes a model that is not part of the built-in registry
type CustomModel struct {
	ID      string                 `yaml:"id"`
	URL     string                 `yaml:"url"`
	MD5     string                 `yaml:"md5"`
	Scale   int                    `yaml:"scale"`
	Arch    string                 `yaml:"arch"`
	Compact *network.CompactParams `yaml:"compact,omitempty"`
	RRDB    *network.RRDBParams    `yaml:"rrdb,omitempty"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Model.ID = "realesr-general-x4v3"
	cfg.Model.WeightsDir = "weights"

	cfg.Tiling.TileSize = 512
	cfg.Tiling.TilePad = 10
	cfg.Tiling.PrePad = 10

	cfg.Alpha.Mode = "model"

	cfg.DNI.Enabled = false
	cfg.DNI.Ratio = []float64{0.5, 0.5}

	cfg.Output.Scale = 0
	cfg.Output.Extension = ".png"
	cfg.Output.Verbose = true

	cfg.Runtime.Workers = runtime.NumCPU()
	cfg.Runtime.MaxTileElements = network.DefaultMaxElements

	return cfg
}

// Validate checks values that would otherwise fail deep inside the pipeline
func (c *Config) Validate() error {
	if c.Model.ID == "" {
		return fmt.Errorf("model.id must be set")
	}
	if c.Tiling.TilePad < 0 || c.Tiling.PrePad < 0 {
		return fmt.Errorf("tiling pads must be non-negative")
	}
	switch c.Alpha.Mode {
	case "model", "resize":
	default:
		return fmt.Errorf("alpha.mode must be \"model\" or \"resize\", got %q", c.Alpha.Mode)
	}
	if c.DNI.Enabled {
		if c.DNI.SecondaryWeights == "" {
			return fmt.Errorf("dni.secondaryWeights must be set when dni is enabled")
		}
		if len(c.DNI.Ratio) != 2 {
			return fmt.Errorf("dni.ratio must have exactly 2 values, got %d", len(c.DNI.Ratio))
		}
	}
	if c.Output.Scale < 0 {
		return fmt.Errorf("output.scale must not be negative, got %g", c.Output.Scale)
	}
	if c.Runtime.Workers < 1 {
		return fmt.Errorf("runtime.workers must be at least 1")
	}
	if c.Runtime.MaxTileElements < 0 {
		return fmt.Errorf("runtime.maxTileElements must not be negative, got %d", c.Runtime.MaxTileElements)
	}
	return nil
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
