// Package orientation standardizes the axis order and polarity of volumes.
//
// Orientation codes use the ITK convention: each letter names the side an
// image axis runs *from*. RAI is therefore x toward Left, y toward Posterior
// and z toward Superior, which is the identity direction in DICOM LPS space.
package orientation

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"mriprep/internal/models"
)

// RAI is the default standard orientation.
const RAI = "RAI"

// ErrInvalidCode is returned for malformed orientation codes or direction matrices
// that do not map onto three distinct patient axes.
var ErrInvalidCode = errors.New("invalid orientation code")

// letters[k][0] is used when an axis points along +k in LPS, letters[k][1] along -k.
var letters = [3][2]byte{
	{'R', 'L'},
	{'A', 'P'},
	{'I', 'S'},
}

// axisCode is the patient axis (0=LR, 1=AP, 2=IS) an image axis follows and its sign.
type axisCode struct {
	axis     int
	positive bool
}

// CodeFromDirection returns the three-letter code closest to a direction matrix.
func CodeFromDirection(direction [9]float64) (string, error) {
	codes, err := fromDirection(direction)
	if err != nil {
		return "", err
	}
	return toString(codes), nil
}

// Reorient permutes and flips the axes of v so that it has the given orientation.
// The physical placement of every voxel is unchanged: origin, spacing and
// direction are updated alongside the data.
func Reorient(v *models.Volume, code string) (*models.Volume, error) {
	target, err := parse(code)
	if err != nil {
		return nil, err
	}
	current, err := fromDirection(v.Direction)
	if err != nil {
		return nil, err
	}

	// source[j] is the input axis that becomes output axis j
	var source [3]int
	var flip [3]bool
	for j := 0; j < 3; j++ {
		for i := 0; i < 3; i++ {
			if current[i].axis == target[j].axis {
				source[j] = i
				flip[j] = current[i].positive != target[j].positive
			}
		}
	}

	if source == [3]int{0, 1, 2} && flip == [3]bool{} {
		return v.Clone(), nil
	}

	out := &models.Volume{}
	for j := 0; j < 3; j++ {
		i := source[j]
		out.Size[j] = v.Size[i]
		out.Spacing[j] = v.Spacing[i]
		sign := 1.0
		if flip[j] {
			sign = -1
		}
		for r := 0; r < 3; r++ {
			out.Direction[r*3+j] = sign * v.Direction[r*3+i]
		}
	}
	out.Data = make([]float64, out.Size.Voxels())

	inputIndex := func(o [3]int) [3]int {
		var in [3]int
		for j := 0; j < 3; j++ {
			i := source[j]
			if flip[j] {
				in[i] = v.Size[i] - 1 - o[j]
			} else {
				in[i] = o[j]
			}
		}
		return in
	}

	first := inputIndex([3]int{0, 0, 0})
	out.Origin = v.PhysicalPoint([3]float64{float64(first[0]), float64(first[1]), float64(first[2])})

	for z := 0; z < out.Size[2]; z++ {
		for y := 0; y < out.Size[1]; y++ {
			for x := 0; x < out.Size[0]; x++ {
				in := inputIndex([3]int{x, y, z})
				out.Data[out.Index(x, y, z)] = v.At(in[0], in[1], in[2])
			}
		}
	}
	return out, nil
}

func parse(code string) ([3]axisCode, error) {
	var codes [3]axisCode
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != 3 {
		return codes, fmt.Errorf("%w: %q", ErrInvalidCode, code)
	}

	var seen [3]bool
	for j := 0; j < 3; j++ {
		found := false
		for k := 0; k < 3 && !found; k++ {
			for s := 0; s < 2; s++ {
				if code[j] == letters[k][s] {
					codes[j] = axisCode{axis: k, positive: s == 0}
					found = true
					break
				}
			}
		}
		if !found || seen[codes[j].axis] {
			return codes, fmt.Errorf("%w: %q", ErrInvalidCode, code)
		}
		seen[codes[j].axis] = true
	}
	return codes, nil
}

func fromDirection(direction [9]float64) ([3]axisCode, error) {
	var codes [3]axisCode
	var seen [3]bool
	for j := 0; j < 3; j++ {
		best, bestAbs := 0, -1.0
		for k := 0; k < 3; k++ {
			if a := math.Abs(direction[k*3+j]); a > bestAbs {
				best, bestAbs = k, a
			}
		}
		if bestAbs == 0 || seen[best] {
			return codes, fmt.Errorf("%w: degenerate direction matrix %v", ErrInvalidCode, direction)
		}
		seen[best] = true
		codes[j] = axisCode{axis: best, positive: direction[best*3+j] > 0}
	}
	return codes, nil
}

func toString(codes [3]axisCode) string {
	b := make([]byte, 3)
	for j, c := range codes {
		if c.positive {
			b[j] = letters[c.axis][0]
		} else {
			b[j] = letters[c.axis][1]
		}
	}
	return string(b)
}
