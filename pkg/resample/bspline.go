package resample

import (
	"math"
)

// Cubic B-spline interpolation on a uniform grid with mirror boundaries.
// The image is first converted into B-spline coefficients with the recursive
// filter of Unser et al., then sampled with the cubic basis.

const (
	cubicPole      = -0.2679491924311228 // sqrt(3) - 2
	prefilterGain  = 6.0
	prefilterToler = 1e-10
)

// prefilter converts samples into cubic B-spline coefficients in place.
func prefilter(c []float64) {
	n := len(c)
	if n < 2 {
		return
	}

	z := cubicPole
	for k := range c {
		c[k] *= prefilterGain
	}

	c[0] = causalInit(c, z)
	for k := 1; k < n; k++ {
		c[k] += z * c[k-1]
	}

	c[n-1] = (z / (z*z - 1)) * (c[n-1] + z*c[n-2])
	for k := n - 2; k >= 0; k-- {
		c[k] = z * (c[k+1] - c[k])
	}
}

func causalInit(c []float64, z float64) float64 {
	n := len(c)
	horizon := n
	if h := int(math.Ceil(math.Log(prefilterToler) / math.Log(math.Abs(z)))); h < n {
		horizon = h
	}

	if horizon < n {
		sum, zk := c[0], z
		for k := 1; k < horizon; k++ {
			sum += zk * c[k]
			zk *= z
		}
		return sum
	}

	// full mirror-symmetric sum
	zn := math.Pow(z, float64(n-1))
	iz := 1 / z
	z2n := zn * zn * iz
	sum := c[0] + zn*c[n-1]
	zk := z
	for k := 1; k < n-1; k++ {
		sum += (zk + z2n) * c[k]
		zk *= z
		z2n *= iz
	}
	return sum / (1 - zn*zn)
}

// cubicWeights returns the four basis weights for fractional offset t in [0,1).
func cubicWeights(t float64) [4]float64 {
	t2 := t * t
	t3 := t2 * t
	omt := 1 - t
	return [4]float64{
		omt * omt * omt / 6,
		(4 - 6*t2 + 3*t3) / 6,
		(1 + 3*t + 3*t2 - 3*t3) / 6,
		t3 / 6,
	}
}

// mirror folds an index into [0, n) by whole-sample symmetric reflection.
func mirror(i, n int) int {
	if n == 1 {
		return 0
	}
	period := 2*n - 2
	if i < 0 {
		i = -i
	}
	i %= period
	if i >= n {
		i = period - i
	}
	return i
}
