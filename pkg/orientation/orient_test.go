package orientation

import (
	"errors"
	"math"
	"testing"

	"mriprep/internal/models"
	"mriprep/pkg/geometry"
)

// rampVolume fills each voxel with a unique value derived from its index
func rampVolume(size geometry.Extent3D) *models.Volume {
	v := models.NewVolume(size, geometry.Spacing3D{1, 2, 3})
	for z := 0; z < size[2]; z++ {
		for y := 0; y < size[1]; y++ {
			for x := 0; x < size[0]; x++ {
				v.Set(x, y, z, float64(100*z+10*y+x))
			}
		}
	}
	return v
}

func TestCodeFromDirection(t *testing.T) {
	code, err := CodeFromDirection(models.IdentityDirection)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if code != RAI {
		t.Errorf("Expected identity to be RAI, got %s", code)
	}

	coronal := [9]float64{
		1, 0, 0,
		0, 0, 1,
		0, -1, 0,
	}
	code, err = CodeFromDirection(coronal)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if code != "RSA" {
		t.Errorf("Expected RSA, got %s", code)
	}
}

func TestCodeFromDegenerateDirection(t *testing.T) {
	bad := [9]float64{
		1, 1, 0,
		0, 0, 0,
		0, 0, 1,
	}
	if _, err := CodeFromDirection(bad); !errors.Is(err, ErrInvalidCode) {
		t.Errorf("Expected ErrInvalidCode, got %v", err)
	}
}

// TestReorientFlip checks a left-to-right x axis is flipped to RAI
func TestReorientFlip(t *testing.T) {
	v := rampVolume(geometry.Extent3D{3, 2, 2})
	v.Origin = [3]float64{10, 0, 0}
	v.Direction[0] = -1

	out, err := Reorient(v, RAI)
	if err != nil {
		t.Fatalf("Failed to reorient: %v", err)
	}

	if out.Direction != models.IdentityDirection {
		t.Errorf("Expected identity direction, got %v", out.Direction)
	}
	if math.Abs(out.Origin[0]-8) > 1e-12 {
		t.Errorf("Expected origin x at 8, got %f", out.Origin[0])
	}
	for x := 0; x < 3; x++ {
		if got, want := out.At(x, 1, 1), v.At(2-x, 1, 1); got != want {
			t.Errorf("x=%d: expected %f, got %f", x, want, got)
		}
	}
}

// TestReorientPermutation checks a coronal acquisition is permuted to axial RAI
func TestReorientPermutation(t *testing.T) {
	v := rampVolume(geometry.Extent3D{4, 3, 2})
	v.Direction = [9]float64{
		1, 0, 0,
		0, 0, 1,
		0, -1, 0,
	}

	out, err := Reorient(v, RAI)
	if err != nil {
		t.Fatalf("Failed to reorient: %v", err)
	}

	if out.Size != (geometry.Extent3D{4, 2, 3}) {
		t.Fatalf("Expected size 4x2x3, got %v", out.Size)
	}
	if out.Spacing != (geometry.Spacing3D{1, 3, 2}) {
		t.Errorf("Expected spacing 1x3x2, got %v", out.Spacing)
	}
	if out.Direction != models.IdentityDirection {
		t.Errorf("Expected identity direction, got %v", out.Direction)
	}

	for z := 0; z < 3; z++ {
		for y := 0; y < 2; y++ {
			for x := 0; x < 4; x++ {
				want := v.At(x, 2-z, y)
				if got := out.At(x, y, z); got != want {
					t.Errorf("(%d,%d,%d): expected %f, got %f", x, y, z, want, got)
				}
			}
		}
	}

	// every voxel keeps its physical position
	p := v.PhysicalPoint([3]float64{1, 2, 1})
	q := out.PhysicalPoint([3]float64{1, 1, 0})
	for i := range p {
		if math.Abs(p[i]-q[i]) > 1e-9 {
			t.Errorf("Voxel moved: %v -> %v", p, q)
			break
		}
	}
}

func TestReorientIdentityCopies(t *testing.T) {
	v := rampVolume(geometry.Extent3D{2, 2, 2})
	out, err := Reorient(v, "rai")
	if err != nil {
		t.Fatalf("Failed to reorient: %v", err)
	}
	out.Data[0] = -1
	if v.Data[0] == -1 {
		t.Errorf("Reorient returned a volume sharing storage with its input")
	}
}

func TestReorientInvalidCode(t *testing.T) {
	v := rampVolume(geometry.Extent3D{2, 2, 2})
	for _, code := range []string{"", "RA", "RRI", "XYZ", "RAIS"} {
		if _, err := Reorient(v, code); !errors.Is(err, ErrInvalidCode) {
			t.Errorf("Expected ErrInvalidCode for %q, got %v", code, err)
		}
	}
}
