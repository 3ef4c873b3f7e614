package geometry

import (
	"errors"
	"math/rand"
	"testing"
)

type fakeGrid struct {
	size    Extent3D
	spacing Spacing3D
}

func (g fakeGrid) Extent() Extent3D        { return g.size }
func (g fakeGrid) VoxelSpacing() Spacing3D { return g.spacing }

// TestResampledSizeLiteral checks the 200x200x100 @ 0.5x0.5x1.0 -> 1mm case
func TestResampledSizeLiteral(t *testing.T) {
	got, err := ComputeResampledSize(Extent3D{200, 200, 100}, Spacing3D{0.5, 0.5, 1.0}, Spacing3D{1, 1, 1})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	want := Extent3D{100, 100, 100}
	if got != want {
		t.Errorf("Expected %v, got %v", want, got)
	}
}

// TestResampledSizeEqualSpacing verifies the size is unchanged when spacing does not change
func TestResampledSizeEqualSpacing(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 200; i++ {
		size := Extent3D{1 + rng.Intn(512), 1 + rng.Intn(512), 1 + rng.Intn(300)}
		sp := Spacing3D{0.1 + rng.Float64()*3, 0.1 + rng.Float64()*3, 0.1 + rng.Float64()*5}

		got, err := ComputeResampledSize(size, sp, sp)
		if err != nil {
			t.Fatalf("Unexpected error for %v @ %v: %v", size, sp, err)
		}
		if got != size {
			t.Errorf("Expected %v to be preserved at equal spacing %v, got %v", size, sp, got)
		}
	}
}

// TestResampledSizeHalfSpacing verifies halving the spacing doubles the voxel count
func TestResampledSizeHalfSpacing(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	for i := 0; i < 200; i++ {
		size := Extent3D{1 + rng.Intn(256), 1 + rng.Intn(256), 1 + rng.Intn(128)}
		sp := Spacing3D{0.2 + rng.Float64()*2, 0.2 + rng.Float64()*2, 0.5 + rng.Float64()*4}
		half := Spacing3D{sp[0] / 2, sp[1] / 2, sp[2] / 2}

		got, err := ComputeResampledSize(size, sp, half)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		for axis := 0; axis < 3; axis++ {
			diff := got[axis] - 2*size[axis]
			if diff < -1 || diff > 1 {
				t.Errorf("Axis %d: expected about %d voxels, got %d", axis, 2*size[axis], got[axis])
			}
		}
	}
}

// TestResampledSizeRoundsHalfToEven checks ties round to the even neighbour
func TestResampledSizeRoundsHalfToEven(t *testing.T) {
	// 5 voxels at 1mm -> 2mm is 2.5 voxels, 7 voxels -> 3.5
	got, err := ComputeResampledSize(Extent3D{5, 7, 4}, Spacing3D{1, 1, 1}, Spacing3D{2, 2, 2})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	want := Extent3D{2, 4, 2}
	if got != want {
		t.Errorf("Expected %v, got %v", want, got)
	}
}

func TestResampledSizeRejectsInvalidSpacing(t *testing.T) {
	size := Extent3D{10, 10, 10}
	sp := Spacing3D{1, 1, 1}

	for _, target := range []Spacing3D{{0, 1, 1}, {1, -1, 1}, {1, 1, 0}} {
		if _, err := ComputeResampledSize(size, sp, target); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("Expected ErrInvalidArgument for target %v, got %v", target, err)
		}
	}

	if _, err := ComputeResampledSize(Extent3D{0, 10, 10}, sp, sp); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("Expected ErrInvalidArgument for zero extent, got %v", err)
	}
	if _, err := ComputeResampledSize(size, Spacing3D{1, 0, 1}, sp); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("Expected ErrInvalidArgument for zero source spacing, got %v", err)
	}
}

// TestResampledSizeDegenerate checks that a collapsed axis is reported instead of returning 0
func TestResampledSizeDegenerate(t *testing.T) {
	_, err := ComputeResampledSize(Extent3D{10, 10, 2}, Spacing3D{1, 1, 1}, Spacing3D{1, 1, 10})
	if !errors.Is(err, ErrDegenerateGrid) {
		t.Fatalf("Expected ErrDegenerateGrid, got %v", err)
	}
}

func TestResampledSizeFor(t *testing.T) {
	g := fakeGrid{size: Extent3D{64, 64, 32}, spacing: Spacing3D{2, 2, 4}}
	got, err := ResampledSizeFor(g, Spacing3D{1, 1, 1})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if got != (Extent3D{128, 128, 128}) {
		t.Errorf("Expected 128x128x128, got %v", got)
	}
}

// TestCenterCropCentering checks a 50^3 crop centered in a 100^3 volume
func TestCenterCropCentering(t *testing.T) {
	r, err := ComputeCenterCropRegion(Extent3D{100, 100, 100}, Extent3D{50, 50, 50})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if r.Size != (Extent3D{50, 50, 50}) {
		t.Errorf("Expected size 50x50x50, got %v", r.Size)
	}
	if r.Start != (Extent3D{25, 25, 25}) {
		t.Errorf("Expected start (25,25,25), got %v", r.Start)
	}
}

// TestCenterCropOddMargin checks the extra margin voxel goes after the region
func TestCenterCropOddMargin(t *testing.T) {
	r, err := ComputeCenterCropRegion(Extent3D{101, 101, 101}, Extent3D{50, 50, 50})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if r.Start != (Extent3D{25, 25, 25}) {
		t.Errorf("Expected start (25,25,25), got %v", r.Start)
	}
	end := r.End()
	for i := 0; i < 3; i++ {
		before := r.Start[i]
		after := 101 - end[i]
		if after != before+1 {
			t.Errorf("Axis %d: expected margin after (%d) to exceed margin before (%d) by one", i, after, before)
		}
	}
}

// TestCenterCropClamp verifies oversize requests are clamped to the image
func TestCenterCropClamp(t *testing.T) {
	r, err := ComputeCenterCropRegion(Extent3D{90, 300, 40}, Extent3D{128, 256, 256})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	want := CropRegion{Size: Extent3D{90, 256, 40}, Start: Extent3D{0, 22, 0}}
	if r != want {
		t.Errorf("Expected %+v, got %+v", want, r)
	}
}

// TestCenterCropContainment checks the region always fits inside the image
func TestCenterCropContainment(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 500; i++ {
		size := Extent3D{1 + rng.Intn(300), 1 + rng.Intn(300), 1 + rng.Intn(300)}
		crop := Extent3D{1 + rng.Intn(400), 1 + rng.Intn(400), 1 + rng.Intn(400)}

		r, err := ComputeCenterCropRegion(size, crop)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if !r.Contains(size) {
			t.Fatalf("Region %+v escapes image %v", r, size)
		}
		for axis := 0; axis < 3; axis++ {
			if crop[axis] > size[axis] && (r.Size[axis] != size[axis] || r.Start[axis] != 0) {
				t.Errorf("Axis %d: oversize crop %d on %d gave %+v", axis, crop[axis], size[axis], r)
			}
		}
	}
}

func TestCenterCropRejectsNonPositive(t *testing.T) {
	if _, err := ComputeCenterCropRegion(Extent3D{10, 0, 10}, Extent3D{5, 5, 5}); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("Expected ErrInvalidArgument for zero image axis, got %v", err)
	}
	if _, err := ComputeCenterCropRegion(Extent3D{10, 10, 10}, Extent3D{5, -5, 5}); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("Expected ErrInvalidArgument for negative crop axis, got %v", err)
	}
}

func TestCenterCropRegionFor(t *testing.T) {
	r, err := CenterCropRegionFor(fakeGrid{size: Extent3D{10, 20, 30}, spacing: Spacing3D{1, 1, 1}}, Extent3D{4, 4, 4})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if r.Start != (Extent3D{3, 8, 13}) {
		t.Errorf("Expected start (3,8,13), got %v", r.Start)
	}
}

func TestPhysicalExtent(t *testing.T) {
	got := PhysicalExtent(Extent3D{100, 200, 50}, Spacing3D{0.5, 0.5, 2})
	if got != [3]float64{50, 100, 100} {
		t.Errorf("Expected 50x100x100 mm, got %v", got)
	}
}
