// Package pipeline runs the preprocessing stages on a volume in order:
// load, reorient, resample, bias-field correction, normalization, denoising
// and center cropping.
package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"mriprep/internal/models"
	"mriprep/pkg/biasfield"
	"mriprep/pkg/config"
	"mriprep/pkg/denoise"
	"mriprep/pkg/dicomio"
	"mriprep/pkg/export"
	"mriprep/pkg/geometry"
	"mriprep/pkg/normalize"
	"mriprep/pkg/orientation"
	"mriprep/pkg/resample"
	"mriprep/pkg/visualization"
)

// Options holds the per-stage parameters. They are passed explicitly so no
// stage depends on hidden defaults.
type Options struct {
	// TargetSpacing is the voxel spacing in mm after resampling
	TargetSpacing geometry.Spacing3D

	// CropSize is the largest output grid; smaller axes are kept whole
	CropSize geometry.Extent3D

	// Orientation is the code volumes are reoriented to, usually RAI
	Orientation string

	// Interpolator is used for resampling
	Interpolator resample.Interpolator

	// BiasCorrection enables the bias-field stage
	BiasCorrection bool
	HistogramBins  int
	BiasField      biasfield.Options

	// Denoise enables the curvature-flow stage
	Denoise        bool
	DenoiseOptions denoise.Options
}

// DefaultOptions mirrors config.DefaultConfig.
func DefaultOptions() Options {
	opts, err := OptionsFromConfig(config.DefaultConfig())
	if err != nil {
		panic(err)
	}
	return opts
}

// OptionsFromConfig converts a loaded configuration into pipeline options.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	if err := cfg.Validate(); err != nil {
		return Options{}, err
	}
	spacing, _ := cfg.Spacing()
	crop, _ := cfg.Crop()
	interp, err := resample.ParseInterpolator(cfg.Geometry.Interpolator)
	if err != nil {
		return Options{}, err
	}

	return Options{
		TargetSpacing:  spacing,
		CropSize:       crop,
		Orientation:    cfg.Geometry.Orientation,
		Interpolator:   interp,
		BiasCorrection: cfg.BiasField.Enabled,
		HistogramBins:  cfg.BiasField.HistogramBins,
		BiasField:      cfg.BiasFieldOptions(),
		Denoise:        cfg.Denoise.Enabled,
		DenoiseOptions: cfg.DenoiseOptions(),
	}, nil
}

// Params holds the input/output and processing configuration of a run.
type Params struct {
	// InputDir is the directory containing the DICOM series
	InputDir string

	// SeriesUID selects a series; empty means the first one found
	SeriesUID string

	// OutputFile is the .npy path the result is written to by Save
	OutputFile string

	// NumCores specifies how many goroutines per stage process planes
	NumCores int

	// Verbose prints a line per step
	Verbose bool

	// SaveIntermediaryResults writes an orthogonal preview after every stage
	SaveIntermediaryResults bool

	// IntermediaryDir is where stage previews are written
	IntermediaryDir string

	// PreviewSize is the tile size of stage previews in pixels
	PreviewSize int

	// Options are the stage parameters
	Options Options
}

// StageStats summarizes the volume after a stage
type StageStats struct {
	Stage    string
	Size     geometry.Extent3D
	Spacing  geometry.Spacing3D
	Min, Max float64
	Mean     float64
	StdDev   float64
	Duration time.Duration
}

// Preprocessor runs the pipeline and keeps the resulting volume.
type Preprocessor struct {
	params *Params
	volume *models.Volume
	stats  []StageStats
	stage  int
}

// NewPreprocessor creates a new preprocessor with the provided parameters.
func NewPreprocessor(params *Params) *Preprocessor {
	return &Preprocessor{params: params}
}

// Process loads the series from InputDir and runs every stage.
func (p *Preprocessor) Process(ctx context.Context) error {
	p.stats = nil
	p.stage = 0

	p.logf("Step 1: Loading DICOM series from %s...\n", p.params.InputDir)
	start := time.Now()
	var (
		v   *models.Volume
		err error
	)
	if p.params.SeriesUID != "" {
		v, err = dicomio.LoadSeriesByUID(p.params.InputDir, p.params.SeriesUID)
	} else {
		v, err = dicomio.LoadSeries(p.params.InputDir)
	}
	if err != nil {
		return fmt.Errorf("failed to load series: %w", err)
	}
	p.record("loaded", v, start)
	p.logf("Loaded volume %v at %v mm\n", v.Size, v.Spacing)

	return p.run(ctx, v)
}

// ProcessVolume runs every stage after loading on an in-memory volume.
func (p *Preprocessor) ProcessVolume(ctx context.Context, v *models.Volume) error {
	p.stats = nil
	p.stage = 0
	if err := v.Validate(); err != nil {
		return fmt.Errorf("failed to load volume: %w", err)
	}
	p.record("loaded", v, time.Now())
	return p.run(ctx, v)
}

func (p *Preprocessor) run(ctx context.Context, v *models.Volume) error {
	opts := p.params.Options
	workers := p.params.NumCores

	start := time.Now()
	if code, err := orientation.CodeFromDirection(v.Direction); err == nil {
		p.logf("Step 2: Reorienting %s -> %s...\n", code, opts.Orientation)
	} else {
		p.logf("Step 2: Reorienting to %s...\n", opts.Orientation)
	}
	v, err := orientation.Reorient(v, opts.Orientation)
	if err != nil {
		return fmt.Errorf("failed to reorient: %w", err)
	}
	p.record("oriented", v, start)

	size, err := geometry.ResampledSizeFor(v, opts.TargetSpacing)
	if err != nil {
		return fmt.Errorf("failed to compute resampled size: %w", err)
	}
	p.logf("Step 3: Resampling %v -> %v at %v mm (%v)...\n", v.Size, size, opts.TargetSpacing, opts.Interpolator)
	start = time.Now()
	v, err = resample.Resample(ctx, v, opts.TargetSpacing, size, opts.Interpolator, workers)
	if err != nil {
		return fmt.Errorf("failed to resample: %w", err)
	}
	p.record("resampled", v, start)
	extent := geometry.PhysicalExtent(v.Size, v.Spacing)
	p.logf("Physical extent %.1f x %.1f x %.1f mm\n", extent[0], extent[1], extent[2])

	if opts.BiasCorrection {
		p.logln("Step 4: Correcting bias field...")
		start = time.Now()
		mask := biasfield.OtsuMask(v, opts.HistogramBins)
		res, err := biasfield.Correct(ctx, v, mask, opts.BiasField, workers)
		if err != nil {
			return fmt.Errorf("failed to correct bias field: %w", err)
		}
		v = res.Corrected
		p.record("bias_corrected", v, start)
		p.logf("Bias field converged after %d iterations\n", res.Iterations)
	} else {
		p.logln("Step 4: Bias-field correction disabled")
	}

	p.logln("Step 5: Normalizing intensities...")
	start = time.Now()
	v, err = normalize.ZScore(v)
	if err != nil {
		return fmt.Errorf("failed to normalize: %w", err)
	}
	p.record("normalized", v, start)

	if opts.Denoise {
		p.logf("Step 6: Curvature-flow denoising (%d iterations, step %g)...\n",
			opts.DenoiseOptions.Iterations, opts.DenoiseOptions.TimeStep)
		start = time.Now()
		v, err = denoise.CurvatureFlow(ctx, v, opts.DenoiseOptions, workers)
		if err != nil {
			return fmt.Errorf("failed to denoise: %w", err)
		}
		p.record("denoised", v, start)
	} else {
		p.logln("Step 6: Denoising disabled")
	}

	region, err := geometry.CenterCropRegionFor(v, opts.CropSize)
	if err != nil {
		return fmt.Errorf("failed to compute crop region: %w", err)
	}
	p.logf("Step 7: Cropping %v at %v...\n", region.Size, region.Start)
	start = time.Now()
	v, err = visualization.Crop(v, region)
	if err != nil {
		return fmt.Errorf("failed to crop: %w", err)
	}
	p.record("cropped", v, start)

	p.volume = v
	return nil
}

// record appends statistics for a finished stage and saves its preview.
func (p *Preprocessor) record(stage string, v *models.Volume, start time.Time) {
	mean, std := stat.MeanStdDev(v.Data, nil)
	p.stats = append(p.stats, StageStats{
		Stage:    stage,
		Size:     v.Size,
		Spacing:  v.Spacing,
		Min:      floats.Min(v.Data),
		Max:      floats.Max(v.Data),
		Mean:     mean,
		StdDev:   std,
		Duration: time.Since(start),
	})

	p.stage++
	if !p.params.SaveIntermediaryResults {
		return
	}
	name := filepath.Join(p.params.IntermediaryDir, fmt.Sprintf("%02d_%s", p.stage, stage), "orthogonal.jpg")
	if err := visualization.NewViewer(v).SaveOrthogonal(name, p.params.PreviewSize); err != nil {
		fmt.Printf("Warning: Failed to save %s preview: %v\n", stage, err)
	}
}

// Save writes the result to OutputFile with its geometry sidecar.
func (p *Preprocessor) Save() error {
	if p.volume == nil {
		return fmt.Errorf("no processed volume to save")
	}
	if err := export.Save(p.volume, p.params.OutputFile); err != nil {
		return fmt.Errorf("failed to save volume: %w", err)
	}
	return nil
}

// GetVolume returns the processed volume, or nil before a successful run.
func (p *Preprocessor) GetVolume() *models.Volume {
	return p.volume
}

// GetStats returns the per-stage statistics of the last run.
func (p *Preprocessor) GetStats() []StageStats {
	return p.stats
}

func (p *Preprocessor) logf(format string, args ...interface{}) {
	if p.params.Verbose {
		fmt.Printf(format, args...)
	}
}

func (p *Preprocessor) logln(msg string) {
	if p.params.Verbose {
		fmt.Println(msg)
	}
}
