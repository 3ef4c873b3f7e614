package visualization

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
	"gonum.org/v1/gonum/floats"

	"mriprep/internal/models"
	"mriprep/pkg/geometry"
	"mriprep/pkg/normalize"
)

// Viewer extracts regions and 2D slices from a volume and writes them as images.
type Viewer struct {
	// volume is the data being viewed
	volume *models.Volume

	// window is the intensity range mapped onto black..white
	lo, hi float64
}

// NewViewer creates a viewer whose display window spans the full intensity range of v.
func NewViewer(v *models.Volume) *Viewer {
	viewer := &Viewer{volume: v}
	if len(v.Data) > 0 {
		viewer.lo, viewer.hi = floats.Min(v.Data), floats.Max(v.Data)
	}
	return viewer
}

// SetWindow overrides the display window.
func (v *Viewer) SetWindow(lo, hi float64) {
	v.lo, v.hi = lo, hi
}

// gray maps an intensity onto 16-bit gray through the display window.
func (v *Viewer) gray(value float64) color.Gray16 {
	return color.Gray16{Y: uint16(math.Round(normalize.Window(value, v.lo, v.hi) * 65535))}
}

// ExtractSlice extracts a 2D slice from the volume along the specified axis
func (v *Viewer) ExtractSlice(axis string, position int) (image.Image, error) {
	if position < 0 {
		return nil, fmt.Errorf("position must be non-negative")
	}

	vol := v.volume
	width, height, depth := vol.Size[0], vol.Size[1], vol.Size[2]
	var img *image.Gray16

	switch axis {
	case "x", "X":
		// YZ plane, z across
		if position >= width {
			return nil, fmt.Errorf("position %d exceeds width %d", position, width)
		}
		img = image.NewGray16(image.Rect(0, 0, depth, height))
		for y := 0; y < height; y++ {
			for z := 0; z < depth; z++ {
				img.SetGray16(z, y, v.gray(vol.At(position, y, z)))
			}
		}

	case "y", "Y":
		// XZ plane, z down
		if position >= height {
			return nil, fmt.Errorf("position %d exceeds height %d", position, height)
		}
		img = image.NewGray16(image.Rect(0, 0, width, depth))
		for z := 0; z < depth; z++ {
			for x := 0; x < width; x++ {
				img.SetGray16(x, z, v.gray(vol.At(x, position, z)))
			}
		}

	case "z", "Z":
		if position >= depth {
			return nil, fmt.Errorf("position %d exceeds depth %d", position, depth)
		}
		img = image.NewGray16(image.Rect(0, 0, width, height))
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				img.SetGray16(x, y, v.gray(vol.At(x, y, position)))
			}
		}

	default:
		return nil, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	return img, nil
}

// ExtractRegion copies the voxels of region into a new volume. The region
// must lie inside the viewed volume; the result's origin is the physical
// position of region.Start.
func (v *Viewer) ExtractRegion(region geometry.CropRegion) (*models.Volume, error) {
	return Crop(v.volume, region)
}

// Crop copies the voxels of region out of vol.
func Crop(vol *models.Volume, region geometry.CropRegion) (*models.Volume, error) {
	for i := 0; i < 3; i++ {
		if region.Start[i] < 0 {
			return nil, fmt.Errorf("%w: start coordinates must be non-negative", geometry.ErrInvalidArgument)
		}
	}
	if err := region.Size.Validate(); err != nil {
		return nil, fmt.Errorf("size dimensions must be positive: %w", err)
	}
	if !region.Contains(vol.Size) {
		return nil, fmt.Errorf("%w: region %+v extends beyond volume %v",
			geometry.ErrInvalidArgument, region, vol.Size)
	}

	out := models.NewVolume(region.Size, vol.Spacing)
	out.Direction = vol.Direction
	out.Origin = vol.PhysicalPoint([3]float64{
		float64(region.Start[0]), float64(region.Start[1]), float64(region.Start[2]),
	})

	sizeX := region.Size[0]
	for z := 0; z < region.Size[2]; z++ {
		for y := 0; y < region.Size[1]; y++ {
			src := vol.Index(region.Start[0], region.Start[1]+y, region.Start[2]+z)
			dst := out.Index(0, y, z)
			copy(out.Data[dst:dst+sizeX], vol.Data[src:src+sizeX])
		}
	}
	return out, nil
}

// CenterCrop crops vol to at most size voxels per axis around its center.
func CenterCrop(vol *models.Volume, size geometry.Extent3D) (*models.Volume, error) {
	region, err := geometry.CenterCropRegionFor(vol, size)
	if err != nil {
		return nil, err
	}
	return Crop(vol, region)
}

// SaveSlice saves an image; the format follows the file extension.
// A positive maxDim shrinks the image to fit within maxDim×maxDim.
func (v *Viewer) SaveSlice(img image.Image, filename string, maxDim int) error {
	if maxDim > 0 {
		b := img.Bounds()
		if b.Dx() > maxDim || b.Dy() > maxDim {
			img = imaging.Fit(img, maxDim, maxDim, imaging.Lanczos)
		}
	}
	return imaging.Save(img, filename, imaging.JPEGQuality(90))
}

// SaveSliceSequence extracts and saves every slice along the specified axis
func (v *Viewer) SaveSliceSequence(axis string, outputDir string) error {
	var maxPos int
	switch axis {
	case "x", "X":
		maxPos = v.volume.Size[0]
	case "y", "Y":
		maxPos = v.volume.Size[1]
	case "z", "Z":
		maxPos = v.volume.Size[2]
	default:
		return fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	for pos := 0; pos < maxPos; pos++ {
		img, err := v.ExtractSlice(axis, pos)
		if err != nil {
			return err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.jpg", axis, pos))
		if err := v.SaveSlice(img, filename, 0); err != nil {
			return err
		}
	}

	return nil
}

// SaveOrthogonal saves the three central slices side by side, each scaled to
// a tile of tile×tile pixels.
func (v *Viewer) SaveOrthogonal(filename string, tile int) error {
	if tile <= 0 {
		tile = 256
	}

	canvas := imaging.New(3*tile, tile, color.Black)
	for i, axis := range []string{"x", "y", "z"} {
		img, err := v.ExtractSlice(axis, v.volume.Size[i]/2)
		if err != nil {
			return err
		}
		fitted := imaging.Fit(img, tile, tile, imaging.Lanczos)
		b := fitted.Bounds()
		offset := image.Pt(i*tile+(tile-b.Dx())/2, (tile-b.Dy())/2)
		canvas = imaging.Paste(canvas, fitted, offset)
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return err
	}
	return imaging.Save(canvas, filename, imaging.JPEGQuality(90))
}
