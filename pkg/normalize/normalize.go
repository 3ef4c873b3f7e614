// Package normalize rescales volume intensities.
package normalize

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"mriprep/internal/models"
	"mriprep/pkg/geometry"
)

// ZScore shifts and scales v to zero mean and unit standard deviation.
// A constant volume is only shifted.
func ZScore(v *models.Volume) (*models.Volume, error) {
	if err := v.Validate(); err != nil {
		return nil, err
	}

	mean, std := stat.MeanStdDev(v.Data, nil)
	if !(std > 0) {
		std = 1
	}

	out := v.Clone()
	floats.AddConst(-mean, out.Data)
	floats.Scale(1/std, out.Data)
	return out, nil
}

// MinMax linearly maps the intensity range of v onto [lo, hi].
// A constant volume maps to lo.
func MinMax(v *models.Volume, lo, hi float64) (*models.Volume, error) {
	if err := v.Validate(); err != nil {
		return nil, err
	}
	if !(hi > lo) {
		return nil, fmt.Errorf("%w: empty output range [%g, %g]", geometry.ErrInvalidArgument, lo, hi)
	}

	out := v.Clone()
	Rescale(out.Data, lo, hi)
	return out, nil
}

// Rescale maps values in place onto [lo, hi].
func Rescale(values []float64, lo, hi float64) {
	if len(values) == 0 {
		return
	}
	vmin, vmax := floats.Min(values), floats.Max(values)
	if vmax == vmin {
		for i := range values {
			values[i] = lo
		}
		return
	}

	for i, x := range values {
		values[i] = lo + Window(x, vmin, vmax)*(hi-lo)
	}
}

// Window maps x from [lo, hi] onto [0, 1], clamping values outside the window.
// An empty window maps everything to 0.
func Window(x, lo, hi float64) float64 {
	if !(hi > lo) {
		return 0
	}
	return math.Max(0, math.Min(1, (x-lo)/(hi-lo)))
}
