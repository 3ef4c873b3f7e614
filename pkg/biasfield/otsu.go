package biasfield

import (
	"gonum.org/v1/gonum/floats"

	"mriprep/internal/models"
)

// DefaultBins is the histogram resolution used for Otsu thresholding.
const DefaultBins = 255

// OtsuThreshold returns the intensity that maximizes the between-class
// variance of a histogram of values with the given number of bins.
// The returned value is the upper edge of the last background bin.
func OtsuThreshold(values []float64, bins int) float64 {
	if len(values) == 0 {
		return 0
	}
	if bins < 2 {
		bins = DefaultBins
	}

	lo, hi := floats.Min(values), floats.Max(values)
	if lo == hi {
		return lo
	}

	width := (hi - lo) / float64(bins)
	hist := make([]float64, bins)
	for _, v := range values {
		b := int((v - lo) / width)
		if b >= bins {
			b = bins - 1
		}
		hist[b]++
	}

	total := float64(len(values))
	var sumAll float64
	for i, h := range hist {
		sumAll += h * binCenter(lo, width, i)
	}

	var (
		weightBg, sumBg float64
		bestVar         = -1.0
		best            int
	)
	for i := 0; i < bins-1; i++ {
		weightBg += hist[i]
		if weightBg == 0 {
			continue
		}
		weightFg := total - weightBg
		if weightFg == 0 {
			break
		}
		sumBg += hist[i] * binCenter(lo, width, i)

		meanBg := sumBg / weightBg
		meanFg := (sumAll - sumBg) / weightFg
		between := weightBg * weightFg * (meanBg - meanFg) * (meanBg - meanFg)
		if between > bestVar {
			bestVar = between
			best = i
		}
	}
	return lo + float64(best+1)*width
}

func binCenter(lo, width float64, i int) float64 {
	return lo + (float64(i)+0.5)*width
}

// OtsuMask marks voxels strictly above the Otsu threshold of v as foreground.
func OtsuMask(v *models.Volume, bins int) []bool {
	threshold := OtsuThreshold(v.Data, bins)
	mask := make([]bool, len(v.Data))
	for i, x := range v.Data {
		mask[i] = x > threshold
	}
	return mask
}
