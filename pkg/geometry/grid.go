// Package geometry holds the voxel-grid arithmetic used by the preprocessing
// pipeline: output grid sizes after a spacing change and centered crop regions.
// Everything here is a pure function of its inputs.
package geometry

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrInvalidArgument is returned when an extent or spacing component is
	// not strictly positive.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrDegenerateGrid is returned when a resampled axis would contain no voxels.
	ErrDegenerateGrid = errors.New("degenerate grid")
)

// Extent3D is a voxel count along the x, y and z axes.
type Extent3D [3]int

// Spacing3D is the physical distance in mm between voxel centers along x, y and z.
type Spacing3D [3]float64

// Grid is anything that exposes a voxel grid size and spacing.
type Grid interface {
	Extent() Extent3D
	VoxelSpacing() Spacing3D
}

// CropRegion identifies an axis-aligned sub-box of a volume.
type CropRegion struct {
	Size  Extent3D
	Start Extent3D
}

// Voxels returns the total number of voxels in the extent.
func (e Extent3D) Voxels() int {
	return e[0] * e[1] * e[2]
}

// Validate checks that every component is at least 1.
func (e Extent3D) Validate() error {
	for i, n := range e {
		if n < 1 {
			return fmt.Errorf("%w: extent axis %d is %d", ErrInvalidArgument, i, n)
		}
	}
	return nil
}

func (e Extent3D) String() string {
	return fmt.Sprintf("%dx%dx%d", e[0], e[1], e[2])
}

// Validate checks that every component is strictly positive and finite.
func (s Spacing3D) Validate() error {
	for i, v := range s {
		if !(v > 0) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: spacing axis %d is %g", ErrInvalidArgument, i, v)
		}
	}
	return nil
}

func (s Spacing3D) String() string {
	return fmt.Sprintf("%gx%gx%g", s[0], s[1], s[2])
}

// End returns the exclusive upper corner of the region.
func (r CropRegion) End() Extent3D {
	return Extent3D{
		r.Start[0] + r.Size[0],
		r.Start[1] + r.Size[1],
		r.Start[2] + r.Size[2],
	}
}

// Contains reports whether the region lies entirely inside a volume of the given size.
func (r CropRegion) Contains(size Extent3D) bool {
	end := r.End()
	for i := 0; i < 3; i++ {
		if r.Start[i] < 0 || r.Size[i] < 0 || end[i] > size[i] {
			return false
		}
	}
	return true
}

// ComputeResampledSize returns the voxel count per axis that preserves the
// physical extent (size × spacing) of a grid when its spacing changes to target.
//
// Each axis is round(size*spacing/target) with ties going to the even
// neighbour. An axis that rounds to zero voxels yields ErrDegenerateGrid
// instead of a zero-sized grid.
func ComputeResampledSize(size Extent3D, spacing, target Spacing3D) (Extent3D, error) {
	if err := size.Validate(); err != nil {
		return Extent3D{}, err
	}
	if err := spacing.Validate(); err != nil {
		return Extent3D{}, err
	}
	if err := target.Validate(); err != nil {
		return Extent3D{}, fmt.Errorf("target %w", err)
	}

	var out Extent3D
	for i := 0; i < 3; i++ {
		n := math.RoundToEven(float64(size[i]) * spacing[i] / target[i])
		if n < 1 {
			return Extent3D{}, fmt.Errorf("%w: axis %d of %d voxels at %gmm collapses at %gmm spacing",
				ErrDegenerateGrid, i, size[i], spacing[i], target[i])
		}
		out[i] = int(n)
	}
	return out, nil
}

// ResampledSizeFor is ComputeResampledSize applied to a Grid.
func ResampledSizeFor(g Grid, target Spacing3D) (Extent3D, error) {
	return ComputeResampledSize(g.Extent(), g.VoxelSpacing(), target)
}

// ComputeCenterCropRegion returns the region of at most crop voxels per axis
// centered in a volume of the given size. Requested sizes larger than the
// volume are clamped to it. When the margin on an axis is odd the extra voxel
// is left after the region.
func ComputeCenterCropRegion(size, crop Extent3D) (CropRegion, error) {
	if err := size.Validate(); err != nil {
		return CropRegion{}, err
	}
	if err := crop.Validate(); err != nil {
		return CropRegion{}, fmt.Errorf("crop %w", err)
	}

	var r CropRegion
	for i := 0; i < 3; i++ {
		r.Size[i] = min(crop[i], size[i])
		r.Start[i] = max(0, (size[i]-r.Size[i])/2)
	}
	return r, nil
}

// CenterCropRegionFor is ComputeCenterCropRegion applied to a Grid.
func CenterCropRegionFor(g Grid, crop Extent3D) (CropRegion, error) {
	return ComputeCenterCropRegion(g.Extent(), crop)
}

// PhysicalExtent returns size × spacing per axis in mm.
func PhysicalExtent(size Extent3D, spacing Spacing3D) [3]float64 {
	return [3]float64{
		float64(size[0]) * spacing[0],
		float64(size[1]) * spacing[1],
		float64(size[2]) * spacing[2],
	}
}
