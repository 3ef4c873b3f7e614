package resample

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"

	"mriprep/internal/models"
	"mriprep/pkg/geometry"
)

func randomVolume(size geometry.Extent3D, spacing geometry.Spacing3D, seed int64) *models.Volume {
	rng := rand.New(rand.NewSource(seed))
	v := models.NewVolume(size, spacing)
	for i := range v.Data {
		v.Data[i] = rng.Float64() * 100
	}
	return v
}

// TestResampleIdentity checks every interpolator reproduces the input at equal spacing
func TestResampleIdentity(t *testing.T) {
	v := randomVolume(geometry.Extent3D{7, 6, 5}, geometry.Spacing3D{1, 1.5, 2}, 1)

	for _, interp := range []Interpolator{NearestNeighbor, Linear, BSpline} {
		out, err := Resample(context.Background(), v, v.Spacing, v.Size, interp, 2)
		if err != nil {
			t.Fatalf("%v: resample failed: %v", interp, err)
		}
		for i := range v.Data {
			if math.Abs(out.Data[i]-v.Data[i]) > 1e-6 {
				t.Errorf("%v: voxel %d expected %f, got %f", interp, i, v.Data[i], out.Data[i])
				break
			}
		}
	}
}

// TestResampleLinearRamp checks trilinear interpolation is exact on a linear field
func TestResampleLinearRamp(t *testing.T) {
	v := models.NewVolume(geometry.Extent3D{8, 8, 8}, geometry.Spacing3D{1, 1, 1})
	for z := 0; z < 8; z++ {
		for y := 0; y < 8; y++ {
			for x := 0; x < 8; x++ {
				v.Set(x, y, z, float64(x)+2*float64(y)+3*float64(z))
			}
		}
	}

	out, err := Resample(context.Background(), v, geometry.Spacing3D{0.5, 0.5, 0.5}, geometry.Extent3D{15, 15, 15}, Linear, 3)
	if err != nil {
		t.Fatalf("Resample failed: %v", err)
	}
	for z := 0; z < 15; z++ {
		for y := 0; y < 15; y++ {
			for x := 0; x < 15; x++ {
				want := 0.5*float64(x) + float64(y) + 1.5*float64(z)
				if got := out.At(x, y, z); math.Abs(got-want) > 1e-9 {
					t.Fatalf("(%d,%d,%d): expected %f, got %f", x, y, z, want, got)
				}
			}
		}
	}
}

// TestResampleBSplineConstant verifies a constant volume stays constant inside
// the input extent and falls to 0 beyond it
func TestResampleBSplineConstant(t *testing.T) {
	v := models.NewVolume(geometry.Extent3D{9, 7, 5}, geometry.Spacing3D{1, 1, 2})
	for i := range v.Data {
		v.Data[i] = 42
	}

	target := geometry.Spacing3D{0.7, 0.7, 0.7}
	out, err := ToSpacing(context.Background(), v, target, BSpline, 4)
	if err != nil {
		t.Fatalf("Resample failed: %v", err)
	}
	// z: round(5*2/0.7) = 14 planes, the last one samples index 4.55
	if out.Size != (geometry.Extent3D{13, 10, 14}) {
		t.Fatalf("Expected 13x10x14, got %v", out.Size)
	}

	outside := 0
	for z := 0; z < out.Size[2]; z++ {
		for y := 0; y < out.Size[1]; y++ {
			for x := 0; x < out.Size[0]; x++ {
				want := 42.0
				if !inside(float64(x)*target[0]/v.Spacing[0], v.Size[0]) ||
					!inside(float64(y)*target[1]/v.Spacing[1], v.Size[1]) ||
					!inside(float64(z)*target[2]/v.Spacing[2], v.Size[2]) {
					want = 0
					outside++
				}
				if got := out.At(x, y, z); math.Abs(got-want) > 1e-6 {
					t.Fatalf("(%d,%d,%d): expected %f, got %f", x, y, z, want, got)
				}
			}
		}
	}
	if outside == 0 {
		t.Errorf("Expected the last z plane to fall outside the input")
	}
}

func TestToSpacingSize(t *testing.T) {
	v := randomVolume(geometry.Extent3D{20, 20, 10}, geometry.Spacing3D{0.5, 0.5, 1}, 2)
	v.Origin = [3]float64{1, 2, 3}

	out, err := ToSpacing(context.Background(), v, geometry.Spacing3D{1, 1, 1}, BSpline, 0)
	if err != nil {
		t.Fatalf("Resample failed: %v", err)
	}
	if out.Size != (geometry.Extent3D{10, 10, 10}) {
		t.Errorf("Expected 10x10x10, got %v", out.Size)
	}
	if out.Spacing != (geometry.Spacing3D{1, 1, 1}) {
		t.Errorf("Expected 1mm spacing, got %v", out.Spacing)
	}
	if out.Origin != v.Origin || out.Direction != v.Direction {
		t.Errorf("Resample should keep origin and direction")
	}
}

// TestResampleOutsideIsZero checks samples beyond the input extent get the default value
func TestResampleOutsideIsZero(t *testing.T) {
	v := models.NewVolume(geometry.Extent3D{4, 4, 4}, geometry.Spacing3D{1, 1, 1})
	for i := range v.Data {
		v.Data[i] = 5
	}

	out, err := Resample(context.Background(), v, v.Spacing, geometry.Extent3D{6, 4, 4}, NearestNeighbor, 1)
	if err != nil {
		t.Fatalf("Resample failed: %v", err)
	}
	if out.At(3, 0, 0) != 5 {
		t.Errorf("Expected last inside voxel to be 5, got %f", out.At(3, 0, 0))
	}
	if out.At(4, 0, 0) != 0 || out.At(5, 3, 3) != 0 {
		t.Errorf("Expected voxels outside the input to be 0")
	}
}

func TestResampleDegenerateTarget(t *testing.T) {
	v := randomVolume(geometry.Extent3D{4, 4, 2}, geometry.Spacing3D{1, 1, 1}, 3)
	_, err := ToSpacing(context.Background(), v, geometry.Spacing3D{1, 1, 50}, Linear, 1)
	if !errors.Is(err, geometry.ErrDegenerateGrid) {
		t.Errorf("Expected ErrDegenerateGrid, got %v", err)
	}
}

func TestResampleCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	v := randomVolume(geometry.Extent3D{4, 4, 4}, geometry.Spacing3D{1, 1, 1}, 4)
	if _, err := Resample(ctx, v, v.Spacing, v.Size, Linear, 1); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestParseInterpolator(t *testing.T) {
	cases := map[string]Interpolator{
		"bspline": BSpline,
		"BSpline": BSpline,
		"linear":  Linear,
		"nearest": NearestNeighbor,
	}
	for name, want := range cases {
		got, err := ParseInterpolator(name)
		if err != nil || got != want {
			t.Errorf("ParseInterpolator(%q) = %v, %v; want %v", name, got, err, want)
		}
	}
	if _, err := ParseInterpolator("sinc"); !errors.Is(err, geometry.ErrInvalidArgument) {
		t.Errorf("Expected ErrInvalidArgument for unknown name, got %v", err)
	}
}

func TestMirror(t *testing.T) {
	// n=4 reflects as 0 1 2 3 2 1 0 1 ...
	want := map[int]int{-2: 2, -1: 1, 0: 0, 3: 3, 4: 2, 5: 1, 6: 0, 7: 1}
	for i, w := range want {
		if got := mirror(i, 4); got != w {
			t.Errorf("mirror(%d, 4) = %d, want %d", i, got, w)
		}
	}
	if mirror(5, 1) != 0 {
		t.Errorf("mirror on a single sample must return 0")
	}
}
