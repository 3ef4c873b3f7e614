package models

// Slice represents a single 2D DICOM instance with the metadata needed to
// stack it into a volume
type Slice struct {
	// Path is the file the slice was read from
	Path string

	// SeriesUID is the SeriesInstanceUID the slice belongs to
	SeriesUID string

	// InstanceNumber is the position of this slice in the acquisition sequence
	InstanceNumber int

	// Position is ImagePositionPatient, the LPS location of the first pixel in mm
	Position [3]float64

	// RowCosine and ColumnCosine come from ImageOrientationPatient
	RowCosine    [3]float64
	ColumnCosine [3]float64

	// PixelSpacing is the (x, y) distance between pixel centers in mm
	PixelSpacing [2]float64

	// SliceThickness and SpacingBetweenSlices are 0 when absent
	SliceThickness       float64
	SpacingBetweenSlices float64

	// Rows and Columns are the pixel dimensions
	Rows    int
	Columns int

	// Pixels holds rescaled values in row-major order
	Pixels []float64
}

// Normal returns the slice normal, RowCosine × ColumnCosine.
func (s *Slice) Normal() [3]float64 {
	r, c := s.RowCosine, s.ColumnCosine
	return [3]float64{
		r[1]*c[2] - r[2]*c[1],
		r[2]*c[0] - r[0]*c[2],
		r[0]*c[1] - r[1]*c[0],
	}
}
