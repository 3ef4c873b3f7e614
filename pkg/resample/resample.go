// Package resample regenerates a volume on a grid with a different voxel spacing.
package resample

import (
	"context"
	"fmt"
	"math"
	"strings"

	"mriprep/internal/models"
	"mriprep/internal/parallel"
	"mriprep/pkg/geometry"
)

// Interpolator selects how intensities between voxel centers are reconstructed
type Interpolator int

const (
	// NearestNeighbor copies the closest input voxel.
	NearestNeighbor Interpolator = iota
	// Linear blends the eight surrounding voxels.
	Linear
	// BSpline uses cubic B-spline interpolation.
	BSpline
)

func (i Interpolator) String() string {
	switch i {
	case NearestNeighbor:
		return "nearest"
	case Linear:
		return "linear"
	case BSpline:
		return "bspline"
	}
	return fmt.Sprintf("Interpolator(%d)", int(i))
}

// ParseInterpolator maps a configuration name onto an Interpolator.
func ParseInterpolator(name string) (Interpolator, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "nearest", "nearestneighbor", "nn":
		return NearestNeighbor, nil
	case "linear", "trilinear":
		return Linear, nil
	case "bspline", "b-spline", "cubic":
		return BSpline, nil
	}
	return 0, fmt.Errorf("%w: unknown interpolator %q", geometry.ErrInvalidArgument, name)
}

// ToSpacing resamples v to the target spacing, deriving the output size so the
// physical extent of the volume is preserved.
func ToSpacing(ctx context.Context, v *models.Volume, target geometry.Spacing3D, interp Interpolator, workers int) (*models.Volume, error) {
	size, err := geometry.ResampledSizeFor(v, target)
	if err != nil {
		return nil, err
	}
	return Resample(ctx, v, target, size, interp, workers)
}

// Resample samples v onto a grid of the given spacing and size that shares
// v's origin and direction. Output voxel i reads input continuous index
// i*spacing/v.Spacing; positions more than half a voxel outside the input get 0.
// Output planes are processed by up to workers goroutines.
func Resample(ctx context.Context, v *models.Volume, spacing geometry.Spacing3D, size geometry.Extent3D, interp Interpolator, workers int) (*models.Volume, error) {
	if err := v.Validate(); err != nil {
		return nil, err
	}
	if err := spacing.Validate(); err != nil {
		return nil, fmt.Errorf("output %w", err)
	}
	if err := size.Validate(); err != nil {
		return nil, fmt.Errorf("output %w", err)
	}

	var sample func(x, y, z float64) float64
	switch interp {
	case NearestNeighbor:
		sample = func(x, y, z float64) float64 { return nearest(v, x, y, z) }
	case Linear:
		sample = func(x, y, z float64) float64 { return trilinear(v, x, y, z) }
	case BSpline:
		coeffs := coefficients(v)
		sample = func(x, y, z float64) float64 { return cubic(coeffs, x, y, z) }
	default:
		return nil, fmt.Errorf("%w: unknown interpolator %v", geometry.ErrInvalidArgument, interp)
	}

	out := models.NewVolume(size, spacing)
	out.Origin = v.Origin
	out.Direction = v.Direction

	var scale [3]float64
	for i := 0; i < 3; i++ {
		scale[i] = spacing[i] / v.Spacing[i]
	}

	err := parallel.ForEach(ctx, size[2], workers, func(z int) {
		cz := float64(z) * scale[2]
		plane := out.Plane(z)
		if !inside(cz, v.Size[2]) {
			return
		}
		for y := 0; y < size[1]; y++ {
			cy := float64(y) * scale[1]
			if !inside(cy, v.Size[1]) {
				continue
			}
			for x := 0; x < size[0]; x++ {
				cx := float64(x) * scale[0]
				if !inside(cx, v.Size[0]) {
					continue
				}
				plane[y*size[0]+x] = sample(cx, cy, cz)
			}
		}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func inside(c float64, n int) bool {
	return c >= -0.5 && c <= float64(n)-0.5
}

func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

func nearest(v *models.Volume, x, y, z float64) float64 {
	ix := clampIndex(int(math.Floor(x+0.5)), v.Size[0])
	iy := clampIndex(int(math.Floor(y+0.5)), v.Size[1])
	iz := clampIndex(int(math.Floor(z+0.5)), v.Size[2])
	return v.At(ix, iy, iz)
}

func trilinear(v *models.Volume, x, y, z float64) float64 {
	fx, fy, fz := math.Floor(x), math.Floor(y), math.Floor(z)
	tx, ty, tz := x-fx, y-fy, z-fz
	x0, y0, z0 := int(fx), int(fy), int(fz)

	var sum float64
	for dz := 0; dz < 2; dz++ {
		wz := 1 - tz
		if dz == 1 {
			wz = tz
		}
		if wz == 0 {
			continue
		}
		iz := clampIndex(z0+dz, v.Size[2])
		for dy := 0; dy < 2; dy++ {
			wy := 1 - ty
			if dy == 1 {
				wy = ty
			}
			if wy == 0 {
				continue
			}
			iy := clampIndex(y0+dy, v.Size[1])
			for dx := 0; dx < 2; dx++ {
				wx := 1 - tx
				if dx == 1 {
					wx = tx
				}
				if wx == 0 {
					continue
				}
				ix := clampIndex(x0+dx, v.Size[0])
				sum += wx * wy * wz * v.At(ix, iy, iz)
			}
		}
	}
	return sum
}

// coefficients returns a copy of v holding separable cubic B-spline coefficients.
func coefficients(v *models.Volume) *models.Volume {
	c := v.Clone()
	nx, ny, nz := c.Size[0], c.Size[1], c.Size[2]

	line := make([]float64, max(nx, ny, nz))
	for z := 0; z < nz; z++ {
		for y := 0; y < ny; y++ {
			row := c.Data[c.Index(0, y, z) : c.Index(0, y, z)+nx]
			prefilter(row)
		}
	}
	for z := 0; z < nz; z++ {
		for x := 0; x < nx; x++ {
			l := line[:ny]
			for y := range l {
				l[y] = c.At(x, y, z)
			}
			prefilter(l)
			for y := range l {
				c.Set(x, y, z, l[y])
			}
		}
	}
	for y := 0; y < ny; y++ {
		for x := 0; x < nx; x++ {
			l := line[:nz]
			for z := range l {
				l[z] = c.At(x, y, z)
			}
			prefilter(l)
			for z := range l {
				c.Set(x, y, z, l[z])
			}
		}
	}
	return c
}

func cubic(c *models.Volume, x, y, z float64) float64 {
	fx, fy, fz := math.Floor(x), math.Floor(y), math.Floor(z)
	wx, wy, wz := cubicWeights(x-fx), cubicWeights(y-fy), cubicWeights(z-fz)
	x0, y0, z0 := int(fx)-1, int(fy)-1, int(fz)-1

	var ix, iy [4]int
	for k := 0; k < 4; k++ {
		ix[k] = mirror(x0+k, c.Size[0])
		iy[k] = mirror(y0+k, c.Size[1])
	}

	var sum float64
	for kz := 0; kz < 4; kz++ {
		iz := mirror(z0+kz, c.Size[2])
		var sy float64
		for ky := 0; ky < 4; ky++ {
			var sx float64
			for kx := 0; kx < 4; kx++ {
				sx += wx[kx] * c.At(ix[kx], iy[ky], iz)
			}
			sy += wy[ky] * sx
		}
		sum += wz[kz] * sy
	}
	return sum
}
