// Package export writes preprocessed volumes to disk.
//
// Voxel data goes to a NumPy .npy file with shape (z, y, x) in C order, which
// matches the in-memory layout of models.Volume. Geometry that .npy cannot
// carry is written to a YAML sidecar next to it.
package export

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kshedden/gonpy"
	"gopkg.in/yaml.v3"

	"mriprep/internal/models"
	"mriprep/pkg/geometry"
)

// Geometry is the sidecar describing where a volume sits in patient space
type Geometry struct {
	Size      [3]int     `yaml:"size"`
	Spacing   [3]float64 `yaml:"spacing"`
	Origin    [3]float64 `yaml:"origin"`
	Direction [9]float64 `yaml:"direction"`
}

// SidecarPath returns the sidecar file name for an .npy path.
func SidecarPath(npyPath string) string {
	return strings.TrimSuffix(npyPath, filepath.Ext(npyPath)) + ".yaml"
}

// Save writes the voxel data to path and the geometry to SidecarPath(path).
func Save(v *models.Volume, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("error creating output directory: %w", err)
	}
	if err := WriteNPY(path, v); err != nil {
		return err
	}
	return WriteSidecar(SidecarPath(path), v)
}

// WriteNPY writes v as a float64 array of shape (z, y, x).
func WriteNPY(path string, v *models.Volume) error {
	if err := v.Validate(); err != nil {
		return err
	}

	w, err := gonpy.NewFileWriter(path)
	if err != nil {
		return fmt.Errorf("error opening npy file: %w", err)
	}
	w.Shape = []int{v.Size[2], v.Size[1], v.Size[0]}
	if err := w.WriteFloat64(v.Data); err != nil {
		return fmt.Errorf("error writing npy file: %w", err)
	}
	return nil
}

// ReadNPY reads a float64 array and its shape.
func ReadNPY(path string) ([]float64, []int, error) {
	r, err := gonpy.NewFileReader(path)
	if err != nil {
		return nil, nil, fmt.Errorf("error opening npy file: %w", err)
	}
	data, err := r.GetFloat64()
	if err != nil {
		return nil, nil, fmt.Errorf("error reading npy file: %w", err)
	}
	return data, r.Shape, nil
}

// WriteSidecar writes the geometry of v as YAML.
func WriteSidecar(path string, v *models.Volume) error {
	g := Geometry{
		Size:      v.Size,
		Spacing:   v.Spacing,
		Origin:    v.Origin,
		Direction: v.Direction,
	}
	data, err := yaml.Marshal(&g)
	if err != nil {
		return fmt.Errorf("error marshaling geometry: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("error writing geometry file: %w", err)
	}
	return nil
}

// Load reads a volume written by Save.
func Load(path string) (*models.Volume, error) {
	raw, err := os.ReadFile(SidecarPath(path))
	if err != nil {
		return nil, fmt.Errorf("error reading geometry file: %w", err)
	}
	var g Geometry
	if err := yaml.Unmarshal(raw, &g); err != nil {
		return nil, fmt.Errorf("error parsing geometry file: %w", err)
	}

	data, shape, err := ReadNPY(path)
	if err != nil {
		return nil, err
	}
	if len(shape) != 3 || shape[0] != g.Size[2] || shape[1] != g.Size[1] || shape[2] != g.Size[0] {
		return nil, fmt.Errorf("%w: npy shape %v does not match geometry size %v",
			geometry.ErrInvalidArgument, shape, g.Size)
	}

	v := &models.Volume{
		Data:      data,
		Size:      g.Size,
		Spacing:   g.Spacing,
		Origin:    g.Origin,
		Direction: g.Direction,
	}
	if err := v.Validate(); err != nil {
		return nil, err
	}
	return v, nil
}
