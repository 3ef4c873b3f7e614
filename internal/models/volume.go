package models

import (
	"fmt"

	"mriprep/pkg/geometry"
)

// IdentityDirection is the direction matrix of a volume whose axes are
// aligned with patient LPS coordinates.
var IdentityDirection = [9]float64{
	1, 0, 0,
	0, 1, 0,
	0, 0, 1,
}

// Volume represents a 3D scalar image in patient space
type Volume struct {
	// Data is the voxel data as a 1D array, x varying fastest:
	// idx = z*width*height + y*width + x
	Data []float64

	// Size is the number of voxels along x, y and z
	Size geometry.Extent3D

	// Spacing is the physical size of each voxel in mm
	Spacing geometry.Spacing3D

	// Origin is the LPS position in mm of the voxel at index (0,0,0)
	Origin [3]float64

	// Direction is a row-major 3x3 matrix. Column j is the unit LPS direction
	// in which image axis j increases.
	Direction [9]float64
}

// NewVolume allocates a zero-filled volume with identity direction and zero origin.
func NewVolume(size geometry.Extent3D, spacing geometry.Spacing3D) *Volume {
	return &Volume{
		Data:      make([]float64, size.Voxels()),
		Size:      size,
		Spacing:   spacing,
		Direction: IdentityDirection,
	}
}

// NewVolumeLike allocates a zero-filled volume sharing v's geometry.
func NewVolumeLike(v *Volume) *Volume {
	out := NewVolume(v.Size, v.Spacing)
	out.Origin = v.Origin
	out.Direction = v.Direction
	return out
}

// Extent implements geometry.Grid.
func (v *Volume) Extent() geometry.Extent3D { return v.Size }

// VoxelSpacing implements geometry.Grid.
func (v *Volume) VoxelSpacing() geometry.Spacing3D { return v.Spacing }

// Index returns the offset of voxel (x, y, z) in Data.
func (v *Volume) Index(x, y, z int) int {
	return z*v.Size[0]*v.Size[1] + y*v.Size[0] + x
}

// At returns the value at voxel (x, y, z).
func (v *Volume) At(x, y, z int) float64 {
	return v.Data[v.Index(x, y, z)]
}

// Set stores a value at voxel (x, y, z).
func (v *Volume) Set(x, y, z int, value float64) {
	v.Data[v.Index(x, y, z)] = value
}

// Clone returns a deep copy of the volume.
func (v *Volume) Clone() *Volume {
	out := *v
	out.Data = make([]float64, len(v.Data))
	copy(out.Data, v.Data)
	return &out
}

// PhysicalPoint maps a continuous index to an LPS position in mm.
func (v *Volume) PhysicalPoint(index [3]float64) [3]float64 {
	var p [3]float64
	for r := 0; r < 3; r++ {
		p[r] = v.Origin[r]
		for c := 0; c < 3; c++ {
			p[r] += v.Direction[r*3+c] * index[c] * v.Spacing[c]
		}
	}
	return p
}

// Plane returns the axial plane z as a slice sharing storage with Data.
func (v *Volume) Plane(z int) []float64 {
	n := v.Size[0] * v.Size[1]
	return v.Data[z*n : (z+1)*n]
}

// Validate checks that the geometry is usable and matches the data length.
func (v *Volume) Validate() error {
	if err := v.Size.Validate(); err != nil {
		return err
	}
	if err := v.Spacing.Validate(); err != nil {
		return err
	}
	if len(v.Data) != v.Size.Voxels() {
		return fmt.Errorf("%w: volume holds %d values for a %v grid",
			geometry.ErrInvalidArgument, len(v.Data), v.Size)
	}
	return nil
}
