// Package dicomio reads DICOM series from a directory and stacks them into volumes.
package dicomio

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	"mriprep/internal/models"
	"mriprep/pkg/geometry"
)

var (
	// ErrNoSeries is returned when a directory holds no readable DICOM series.
	ErrNoSeries = errors.New("no DICOM series found")

	// ErrInconsistentSeries is returned when slices of one series disagree on geometry.
	ErrInconsistentSeries = errors.New("inconsistent DICOM series")

	// ErrUnsupportedPixelData is returned for encapsulated (compressed) pixel data.
	ErrUnsupportedPixelData = errors.New("unsupported pixel data")
)

// Series is a group of slices sharing a SeriesInstanceUID
type Series struct {
	UID         string
	Description string
	Modality    string
	Slices      []*models.Slice
}

// ListSeries parses every file in dir and groups the DICOM image instances by
// series. Files that are not DICOM, or DICOM objects without pixel data, are
// skipped. Series are ordered by UID.
func ListSeries(dir string) ([]*Series, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", dir, err)
	}

	byUID := make(map[string]*Series)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		dataset, err := dicom.ParseFile(path, nil)
		if err != nil {
			continue
		}
		// DICOMDIR, structured reports and presentation states carry no image
		if !hasImage(dataset) {
			continue
		}

		slice, err := sliceFromDataset(path, dataset)
		if err != nil {
			return nil, fmt.Errorf("failed to read slice %s: %w", path, err)
		}

		s, ok := byUID[slice.SeriesUID]
		if !ok {
			s = &Series{
				UID:         slice.SeriesUID,
				Description: firstString(dataset, tag.SeriesDescription),
				Modality:    firstString(dataset, tag.Modality),
			}
			byUID[slice.SeriesUID] = s
		}
		s.Slices = append(s.Slices, slice)
	}

	if len(byUID) == 0 {
		return nil, fmt.Errorf("%w in directory: %s", ErrNoSeries, dir)
	}

	series := make([]*Series, 0, len(byUID))
	for _, s := range byUID {
		series = append(series, s)
	}
	sort.Slice(series, func(i, j int) bool {
		return series[i].UID < series[j].UID
	})
	return series, nil
}

// LoadSeries loads the first series found in dir as a volume.
func LoadSeries(dir string) (*models.Volume, error) {
	series, err := ListSeries(dir)
	if err != nil {
		return nil, err
	}
	return Stack(series[0].Slices)
}

// LoadSeriesByUID loads the series with the given SeriesInstanceUID from dir.
func LoadSeriesByUID(dir, uid string) (*models.Volume, error) {
	series, err := ListSeries(dir)
	if err != nil {
		return nil, err
	}
	for _, s := range series {
		if s.UID == uid {
			return Stack(s.Slices)
		}
	}
	return nil, fmt.Errorf("%w with UID %s in directory: %s", ErrNoSeries, uid, dir)
}

// Stack sorts slices along their common normal and assembles them into a volume.
//
// Slices are ordered by the projection of ImagePositionPatient on the slice
// normal; when every slice shares the same position InstanceNumber is used
// instead. The z spacing is the mean distance between consecutive slices,
// falling back to SpacingBetweenSlices, then SliceThickness, then 1mm.
func Stack(slices []*models.Slice) (*models.Volume, error) {
	if len(slices) == 0 {
		return nil, ErrNoSeries
	}

	first := slices[0]
	for _, s := range slices[1:] {
		if s.Rows != first.Rows || s.Columns != first.Columns {
			return nil, fmt.Errorf("%w: slice %s is %dx%d, expected %dx%d",
				ErrInconsistentSeries, s.Path, s.Columns, s.Rows, first.Columns, first.Rows)
		}
	}

	normal := first.Normal()
	ordered := make([]*models.Slice, len(slices))
	copy(ordered, slices)
	dist := make(map[*models.Slice]float64, len(ordered))
	for _, s := range ordered {
		dist[s] = dot(s.Position, normal)
	}

	byPosition := false
	for _, s := range ordered {
		if dist[s] != dist[ordered[0]] {
			byPosition = true
			break
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		if byPosition {
			return dist[ordered[i]] < dist[ordered[j]]
		}
		return ordered[i].InstanceNumber < ordered[j].InstanceNumber
	})

	zSpacing := 0.0
	if byPosition && len(ordered) > 1 {
		zSpacing = (dist[ordered[len(ordered)-1]] - dist[ordered[0]]) / float64(len(ordered)-1)
	}
	if !(zSpacing > 0) {
		switch {
		case first.SpacingBetweenSlices > 0:
			zSpacing = first.SpacingBetweenSlices
		case first.SliceThickness > 0:
			zSpacing = first.SliceThickness
		default:
			zSpacing = 1
		}
	}

	size := geometry.Extent3D{first.Columns, first.Rows, len(ordered)}
	spacing := geometry.Spacing3D{first.PixelSpacing[0], first.PixelSpacing[1], zSpacing}
	v := models.NewVolume(size, spacing)
	v.Origin = ordered[0].Position
	for r := 0; r < 3; r++ {
		v.Direction[r*3+0] = first.RowCosine[r]
		v.Direction[r*3+1] = first.ColumnCosine[r]
		v.Direction[r*3+2] = normal[r]
	}

	planeSize := size[0] * size[1]
	for z, s := range ordered {
		if len(s.Pixels) != planeSize {
			return nil, fmt.Errorf("%w: slice %s has %d pixels, expected %d",
				ErrInconsistentSeries, s.Path, len(s.Pixels), planeSize)
		}
		copy(v.Plane(z), s.Pixels)
	}

	if err := v.Validate(); err != nil {
		return nil, err
	}
	return v, nil
}

// sliceFromDataset extracts geometry, rescale parameters and pixels from a parsed instance.
func sliceFromDataset(path string, ds dicom.Dataset) (*models.Slice, error) {
	s := &models.Slice{
		Path:         path,
		SeriesUID:    firstString(ds, tag.SeriesInstanceUID),
		RowCosine:    [3]float64{1, 0, 0},
		ColumnCosine: [3]float64{0, 1, 0},
		PixelSpacing: [2]float64{1, 1},
	}

	if n, err := strconv.Atoi(strings.TrimSpace(firstString(ds, tag.InstanceNumber))); err == nil {
		s.InstanceNumber = n
	}
	if pos := floats(ds, tag.ImagePositionPatient); len(pos) == 3 {
		copy(s.Position[:], pos)
	}
	if iop := floats(ds, tag.ImageOrientationPatient); len(iop) == 6 {
		copy(s.RowCosine[:], iop[:3])
		copy(s.ColumnCosine[:], iop[3:])
	}
	// PixelSpacing is stored as (row spacing, column spacing), i.e. (y, x)
	if ps := floats(ds, tag.PixelSpacing); len(ps) == 2 && ps[0] > 0 && ps[1] > 0 {
		s.PixelSpacing = [2]float64{ps[1], ps[0]}
	}
	if v := floats(ds, tag.SliceThickness); len(v) > 0 {
		s.SliceThickness = v[0]
	}
	if v := floats(ds, tag.SpacingBetweenSlices); len(v) > 0 {
		s.SpacingBetweenSlices = math.Abs(v[0])
	}

	s.Rows = firstInt(ds, tag.Rows, 0)
	s.Columns = firstInt(ds, tag.Columns, 0)
	if s.Rows <= 0 || s.Columns <= 0 {
		return nil, fmt.Errorf("%w: missing Rows/Columns", ErrInconsistentSeries)
	}

	slope, intercept := 1.0, 0.0
	if v := floats(ds, tag.RescaleSlope); len(v) > 0 && v[0] != 0 {
		slope = v[0]
	}
	if v := floats(ds, tag.RescaleIntercept); len(v) > 0 {
		intercept = v[0]
	}
	signed := firstInt(ds, tag.PixelRepresentation, 0) == 1
	bitsStored := firstInt(ds, tag.BitsStored, 16)

	raw, err := pixelValues(ds, s.Rows, s.Columns)
	if err != nil {
		return nil, err
	}
	s.Pixels = make([]float64, len(raw))
	for i, p := range raw {
		if signed && bitsStored > 0 && bitsStored < 32 && p >= 1<<(bitsStored-1) {
			p -= 1 << bitsStored
		}
		s.Pixels[i] = float64(p)*slope + intercept
	}
	return s, nil
}

func hasImage(ds dicom.Dataset) bool {
	if _, err := ds.FindElementByTag(tag.PixelData); err != nil {
		return false
	}
	_, err := ds.FindElementByTag(tag.Rows)
	return err == nil
}

// pixelValues returns the first sample of every pixel of the first frame.
func pixelValues(ds dicom.Dataset, rows, cols int) ([]int, error) {
	el, err := ds.FindElementByTag(tag.PixelData)
	if err != nil {
		return nil, fmt.Errorf("%w: no PixelData element", ErrUnsupportedPixelData)
	}
	info, ok := el.Value.GetValue().(dicom.PixelDataInfo)
	if !ok || len(info.Frames) == 0 {
		return nil, fmt.Errorf("%w: empty PixelData", ErrUnsupportedPixelData)
	}

	fr := info.Frames[0]
	if fr.Encapsulated {
		return nil, fmt.Errorf("%w: encapsulated transfer syntax", ErrUnsupportedPixelData)
	}
	native, err := fr.GetNativeFrame()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedPixelData, err)
	}
	if native.Rows != rows || native.Cols != cols || len(native.Data) != rows*cols {
		return nil, fmt.Errorf("%w: frame is %dx%d with %d pixels",
			ErrInconsistentSeries, native.Cols, native.Rows, len(native.Data))
	}

	out := make([]int, len(native.Data))
	for i, px := range native.Data {
		if len(px) > 0 {
			out[i] = px[0]
		}
	}
	return out, nil
}

func strs(ds dicom.Dataset, t tag.Tag) []string {
	el, err := ds.FindElementByTag(t)
	if err != nil {
		return nil
	}
	values, ok := el.Value.GetValue().([]string)
	if !ok {
		return nil
	}
	// some writers keep multi-valued strings joined by a backslash
	var out []string
	for _, v := range values {
		out = append(out, strings.Split(v, "\\")...)
	}
	return out
}

func firstString(ds dicom.Dataset, t tag.Tag) string {
	values := strs(ds, t)
	if len(values) == 0 {
		return ""
	}
	return strings.TrimSpace(values[0])
}

func floats(ds dicom.Dataset, t tag.Tag) []float64 {
	values := strs(ds, t)
	out := make([]float64, 0, len(values))
	for _, v := range values {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil
		}
		out = append(out, f)
	}
	return out
}

func firstInt(ds dicom.Dataset, t tag.Tag, fallback int) int {
	el, err := ds.FindElementByTag(t)
	if err != nil {
		return fallback
	}
	switch v := el.Value.GetValue().(type) {
	case []int:
		if len(v) > 0 {
			return v[0]
		}
	case []string:
		if len(v) > 0 {
			if n, err := strconv.Atoi(strings.TrimSpace(v[0])); err == nil {
				return n
			}
		}
	}
	return fallback
}

func dot(a, b [3]float64) float64 {
	return a[0]*b[0] + a[1]*b[1] + a[2]*b[2]
}
