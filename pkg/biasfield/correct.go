// Package biasfield estimates and removes smooth multiplicative intensity
// inhomogeneity from MR volumes.
//
// The field is modelled in the log domain as a low-order 3D polynomial fitted
// to the foreground voxels by least squares. Each iteration refits after
// discarding voxels whose residual exceeds OutlierSigma standard deviations,
// so tissue boundaries and small structures do not pull the fit.
package biasfield

import (
	"context"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"mriprep/internal/models"
	"mriprep/internal/parallel"
	"mriprep/pkg/geometry"
)

// ErrEmptyMask is returned when no positive foreground voxels are available for the fit.
var ErrEmptyMask = errors.New("empty foreground mask")

// Options controls the bias-field fit
type Options struct {
	// PolynomialOrder is the maximum total degree of the log-field polynomial
	PolynomialOrder int

	// MaxIterations bounds the number of robust refits
	MaxIterations int

	// Convergence stops iterating once the log field changes by less than this
	Convergence float64

	// SampleStride subsamples the foreground by this step along every axis
	SampleStride int

	// OutlierSigma is the residual cutoff, in standard deviations, for refits
	OutlierSigma float64
}

// DefaultOptions returns the default fit settings. config.DefaultConfig is built from them.
func DefaultOptions() Options {
	return Options{
		PolynomialOrder: 3,
		MaxIterations:   5,
		Convergence:     1e-3,
		SampleStride:    2,
		OutlierSigma:    2.5,
	}
}

// Validate checks the option ranges.
func (o Options) Validate() error {
	switch {
	case o.PolynomialOrder < 0:
		return fmt.Errorf("%w: polynomial order %d", geometry.ErrInvalidArgument, o.PolynomialOrder)
	case o.MaxIterations < 1:
		return fmt.Errorf("%w: max iterations %d", geometry.ErrInvalidArgument, o.MaxIterations)
	case o.SampleStride < 1:
		return fmt.Errorf("%w: sample stride %d", geometry.ErrInvalidArgument, o.SampleStride)
	case !(o.OutlierSigma > 0):
		return fmt.Errorf("%w: outlier sigma %g", geometry.ErrInvalidArgument, o.OutlierSigma)
	}
	return nil
}

// Result is the outcome of a bias-field correction
type Result struct {
	// Corrected is the input divided by the estimated field
	Corrected *models.Volume

	// Field is the multiplicative bias field, normalized to a mean log value of 0 over the samples
	Field *models.Volume

	// Iterations is the number of fits performed
	Iterations int
}

// Correct estimates the bias field of v over the voxels selected by mask and
// divides the whole volume by it. A nil mask selects the Otsu foreground.
func Correct(ctx context.Context, v *models.Volume, mask []bool, opts Options, workers int) (*Result, error) {
	if err := v.Validate(); err != nil {
		return nil, err
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if mask == nil {
		mask = OtsuMask(v, DefaultBins)
	}
	if len(mask) != len(v.Data) {
		return nil, fmt.Errorf("%w: mask has %d entries for %d voxels",
			geometry.ErrInvalidArgument, len(mask), len(v.Data))
	}

	basis := newBasis(v.Size, opts.PolynomialOrder)

	var (
		rows    [][]float64
		logVals []float64
	)
	s := opts.SampleStride
	for z := 0; z < v.Size[2]; z += s {
		for y := 0; y < v.Size[1]; y += s {
			for x := 0; x < v.Size[0]; x += s {
				i := v.Index(x, y, z)
				if !mask[i] || v.Data[i] <= 0 {
					continue
				}
				rows = append(rows, basis.eval(x, y, z, nil))
				logVals = append(logVals, math.Log(v.Data[i]))
			}
		}
	}
	if len(rows) < basis.terms() {
		return nil, fmt.Errorf("%w: %d samples for %d polynomial terms", ErrEmptyMask, len(rows), basis.terms())
	}

	keep := make([]bool, len(rows))
	for i := range keep {
		keep[i] = true
	}
	fitted := make([]float64, len(rows))

	var coef []float64
	iterations := 0
	for iterations < opts.MaxIterations {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		iterations++

		next, err := fit(rows, logVals, keep, basis.terms())
		if err != nil {
			return nil, err
		}

		change := 0.0
		residuals := make([]float64, 0, len(rows))
		for i, row := range rows {
			f := dot(row, next)
			change = math.Max(change, math.Abs(f-fitted[i]))
			fitted[i] = f
			if keep[i] {
				residuals = append(residuals, logVals[i]-f)
			}
		}
		coef = next
		if iterations > 1 && change < opts.Convergence {
			break
		}

		_, sd := stat.MeanStdDev(residuals, nil)
		if sd == 0 || math.IsNaN(sd) {
			break
		}
		kept := 0
		for i := range rows {
			keep[i] = math.Abs(logVals[i]-fitted[i]) <= opts.OutlierSigma*sd
			if keep[i] {
				kept++
			}
		}
		if kept < basis.terms() {
			break
		}
	}

	// the field carries no global gain: centre it on the sampled voxels
	offset := stat.Mean(fitted, nil)

	field := models.NewVolumeLike(v)
	corrected := models.NewVolumeLike(v)
	err := parallel.ForEach(ctx, v.Size[2], workers, func(z int) {
		row := make([]float64, basis.terms())
		for y := 0; y < v.Size[1]; y++ {
			for x := 0; x < v.Size[0]; x++ {
				i := v.Index(x, y, z)
				b := math.Exp(dot(basis.eval(x, y, z, row), coef) - offset)
				field.Data[i] = b
				corrected.Data[i] = v.Data[i] / b
			}
		}
	})
	if err != nil {
		return nil, err
	}

	return &Result{Corrected: corrected, Field: field, Iterations: iterations}, nil
}

// fit solves the least-squares polynomial fit over the kept samples.
func fit(rows [][]float64, values []float64, keep []bool, terms int) ([]float64, error) {
	n := 0
	for _, k := range keep {
		if k {
			n++
		}
	}

	a := mat.NewDense(n, terms, nil)
	b := mat.NewVecDense(n, nil)
	r := 0
	for i, row := range rows {
		if !keep[i] {
			continue
		}
		a.SetRow(r, row)
		b.SetVec(r, values[i])
		r++
	}

	var coef mat.VecDense
	if err := coef.SolveVec(a, b); err != nil {
		return nil, fmt.Errorf("bias field fit failed: %w", err)
	}
	return mat.Col(nil, 0, &coef), nil
}

func dot(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

// basis enumerates monomials x^i y^j z^k with i+j+k <= order over
// coordinates normalized to [-1, 1].
type basis struct {
	size   geometry.Extent3D
	order  int
	powers [][3]int
}

func newBasis(size geometry.Extent3D, order int) *basis {
	b := &basis{size: size, order: order}
	for total := 0; total <= order; total++ {
		for i := total; i >= 0; i-- {
			for j := total - i; j >= 0; j-- {
				b.powers = append(b.powers, [3]int{i, j, total - i - j})
			}
		}
	}
	return b
}

func (b *basis) terms() int { return len(b.powers) }

func normalized(i, n int) float64 {
	if n < 2 {
		return 0
	}
	return 2*float64(i)/float64(n-1) - 1
}

// eval fills dst (allocated when nil) with the monomials at voxel (x, y, z).
func (b *basis) eval(x, y, z int, dst []float64) []float64 {
	if dst == nil {
		dst = make([]float64, len(b.powers))
	}
	c := [3]float64{normalized(x, b.size[0]), normalized(y, b.size[1]), normalized(z, b.size[2])}

	var pow [3][]float64
	for a := 0; a < 3; a++ {
		pow[a] = make([]float64, b.order+1)
		pow[a][0] = 1
		for k := 1; k <= b.order; k++ {
			pow[a][k] = pow[a][k-1] * c[a]
		}
	}
	for t, p := range b.powers {
		dst[t] = pow[0][p[0]] * pow[1][p[1]] * pow[2][p[2]]
	}
	return dst
}
