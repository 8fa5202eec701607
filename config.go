package main

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// CropSettings tunes the crop dialog and the exported avatar.
type CropSettings struct {
	MinSize         float64 `yaml:"min_size"`
	Square          bool    `yaml:"square"`
	InitialFraction float64 `yaml:"initial_fraction"`
	OutputSize      int     `yaml:"output_size"`
	Quality         int     `yaml:"quality"`
}

func (s CropSettings) Constraints() Constraints {
	return Constraints{MinSize: s.MinSize, Square: s.Square}
}

// FileConfig is the YAML config file layout.
type FileConfig struct {
	Crop    CropSettings `yaml:"crop"`
	Members []Member     `yaml:"members"`
}

// DefaultFileConfig returns the settings used when no config file is given.
func DefaultFileConfig() *FileConfig {
	return &FileConfig{
		Crop: CropSettings{
			MinSize:         DefaultMinCropSize,
			Square:          true,
			InitialFraction: DefaultInitialFraction,
			OutputSize:      DefaultOutputSize,
			Quality:         DefaultQuality,
		},
	}
}

// LoadFileConfig reads a YAML config. An empty path yields the defaults;
// keys missing from the file keep their default values.
func LoadFileConfig(path string) (*FileConfig, error) {
	cfg := DefaultFileConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}
	cfg.applyEnvOverrides()
	if err := cfg.Crop.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *FileConfig) applyEnvOverrides() {
	if v, err := strconv.Atoi(os.Getenv("FAMLAND_OUTPUT_SIZE")); err == nil {
		c.Crop.OutputSize = v
	}
	if v, err := strconv.Atoi(os.Getenv("FAMLAND_QUALITY")); err == nil {
		c.Crop.Quality = v
	}
	if v, err := strconv.ParseBool(os.Getenv("FAMLAND_SQUARE")); err == nil {
		c.Crop.Square = v
	}
}

func (s CropSettings) validate() error {
	if s.MinSize < 0 {
		return fmt.Errorf("crop.min_size must not be negative, got %g", s.MinSize)
	}
	if s.InitialFraction <= 0 || s.InitialFraction > 1 {
		return fmt.Errorf("crop.initial_fraction must be in (0, 1], got %g", s.InitialFraction)
	}
	if s.OutputSize <= 0 {
		return fmt.Errorf("crop.output_size must be positive, got %d", s.OutputSize)
	}
	if s.Quality < 1 || s.Quality > 100 {
		return fmt.Errorf("crop.quality must be in [1, 100], got %d", s.Quality)
	}
	return nil
}
