// Package config provides configuration loading and management for mriprep.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"

	"mriprep/pkg/biasfield"
	"mriprep/pkg/denoise"
	"mriprep/pkg/geometry"
)

// ErrInvalidConfig is returned by Validate
var ErrInvalidConfig = errors.New("invalid configuration")

// Config represents the application configuration loaded from YAML
type Config struct {
	// Processing parameters
	Processing struct {
		// NumCores specifies how many CPU cores to use for parallel processing
		NumCores int `yaml:"numCores"`

		// Verbose prints a line per pipeline step
		Verbose bool `yaml:"verbose"`
	} `yaml:"processing"`

	// Geometry parameters
	Geometry struct {
		// TargetSpacing is the output voxel spacing in mm along x, y, z
		TargetSpacing []float64 `yaml:"targetSpacing"`

		// CropSize is the center crop size in voxels along x, y, z
		CropSize []int `yaml:"cropSize"`

		// Orientation is the three-letter code volumes are reoriented to
		Orientation string `yaml:"orientation"`

		// Interpolator is one of nearest, linear or bspline
		Interpolator string `yaml:"interpolator"`
	} `yaml:"geometry"`

	// Bias-field correction parameters
	BiasField struct {
		Enabled         bool    `yaml:"enabled"`
		HistogramBins   int     `yaml:"histogramBins"`
		PolynomialOrder int     `yaml:"polynomialOrder"`
		MaxIterations   int     `yaml:"maxIterations"`
		Convergence     float64 `yaml:"convergence"`
		SampleStride    int     `yaml:"sampleStride"`
		OutlierSigma    float64 `yaml:"outlierSigma"`
	} `yaml:"biasField"`

	// Curvature-flow denoising parameters
	Denoise struct {
		Enabled    bool    `yaml:"enabled"`
		TimeStep   float64 `yaml:"timeStep"`
		Iterations int     `yaml:"iterations"`
	} `yaml:"denoise"`

	// Output parameters
	Output struct {
		// SaveIntermediaryResults saves a preview image after every stage
		SaveIntermediaryResults bool `yaml:"saveIntermediaryResults"`

		// IntermediaryDir is where stage previews are written
		IntermediaryDir string `yaml:"intermediaryDir"`

		// PreviewSize is the tile size in pixels of stage previews
		PreviewSize int `yaml:"previewSize"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Processing.NumCores = runtime.NumCPU()
	cfg.Processing.Verbose = true

	cfg.Geometry.TargetSpacing = []float64{1.0, 1.0, 1.0}
	cfg.Geometry.CropSize = []int{128, 256, 256}
	cfg.Geometry.Orientation = "RAI"
	cfg.Geometry.Interpolator = "bspline"

	bias := biasfield.DefaultOptions()
	cfg.BiasField.Enabled = true
	cfg.BiasField.HistogramBins = biasfield.DefaultBins
	cfg.BiasField.PolynomialOrder = bias.PolynomialOrder
	cfg.BiasField.MaxIterations = bias.MaxIterations
	cfg.BiasField.Convergence = bias.Convergence
	cfg.BiasField.SampleStride = bias.SampleStride
	cfg.BiasField.OutlierSigma = bias.OutlierSigma

	smooth := denoise.DefaultOptions()
	cfg.Denoise.Enabled = true
	cfg.Denoise.TimeStep = smooth.TimeStep
	cfg.Denoise.Iterations = smooth.Iterations

	cfg.Output.SaveIntermediaryResults = false
	cfg.Output.IntermediaryDir = "intermediary_results"
	cfg.Output.PreviewSize = 256

	return cfg
}

// Spacing returns the target spacing as a geometry value
func (c *Config) Spacing() (geometry.Spacing3D, error) {
	var s geometry.Spacing3D
	if len(c.Geometry.TargetSpacing) != 3 {
		return s, fmt.Errorf("%w: targetSpacing needs 3 values, got %d", ErrInvalidConfig, len(c.Geometry.TargetSpacing))
	}
	copy(s[:], c.Geometry.TargetSpacing)
	if err := s.Validate(); err != nil {
		return s, fmt.Errorf("%w: targetSpacing: %v", ErrInvalidConfig, err)
	}
	return s, nil
}

// Crop returns the crop size as a geometry value
func (c *Config) Crop() (geometry.Extent3D, error) {
	var e geometry.Extent3D
	if len(c.Geometry.CropSize) != 3 {
		return e, fmt.Errorf("%w: cropSize needs 3 values, got %d", ErrInvalidConfig, len(c.Geometry.CropSize))
	}
	copy(e[:], c.Geometry.CropSize)
	if err := e.Validate(); err != nil {
		return e, fmt.Errorf("%w: cropSize: %v", ErrInvalidConfig, err)
	}
	return e, nil
}

// BiasFieldOptions returns the bias-field section as fit options
func (c *Config) BiasFieldOptions() biasfield.Options {
	return biasfield.Options{
		PolynomialOrder: c.BiasField.PolynomialOrder,
		MaxIterations:   c.BiasField.MaxIterations,
		Convergence:     c.BiasField.Convergence,
		SampleStride:    c.BiasField.SampleStride,
		OutlierSigma:    c.BiasField.OutlierSigma,
	}
}

// DenoiseOptions returns the denoise section as curvature-flow options
func (c *Config) DenoiseOptions() denoise.Options {
	return denoise.Options{
		TimeStep:   c.Denoise.TimeStep,
		Iterations: c.Denoise.Iterations,
	}
}

// Validate checks every value a run depends on, so that a bad file fails
// before any volume is loaded
func (c *Config) Validate() error {
	if _, err := c.Spacing(); err != nil {
		return err
	}
	if _, err := c.Crop(); err != nil {
		return err
	}
	if c.Geometry.Orientation == "" {
		return fmt.Errorf("%w: orientation is empty", ErrInvalidConfig)
	}
	if c.BiasField.Enabled {
		if err := c.BiasFieldOptions().Validate(); err != nil {
			return fmt.Errorf("%w: biasField: %w", ErrInvalidConfig, err)
		}
	}
	if c.Denoise.Enabled {
		if err := c.DenoiseOptions().Validate(); err != nil {
			return fmt.Errorf("%w: denoise: %w", ErrInvalidConfig, err)
		}
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
