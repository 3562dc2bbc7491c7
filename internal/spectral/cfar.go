package spectral

import (
	"fmt"
	"math"

	"github.com/cwbudde/algo-vecmath"
)

// axisTolerance is the largest X difference at which a threshold sample is
// still considered aligned with its magnitude sample.
const axisTolerance = 0.01

// CFAR computes a cell-averaging constant false alarm rate threshold.
//
// For every index i the reference cells are the samples at distance
// guard+1 .. guard+reference on both sides of i. Cells that fall outside the
// input are skipped. The average of the available cells is multiplied by
// bias. When no cell is available the sum is divided by reference instead.
func CFAR(values []float64, guard, reference int, bias float64) []float64 {
	guard = max(guard, 0)
	reference = max(reference, 0)

	n := len(values)
	out := make([]float64, n)

	for i := range values {
		var sum float64
		var cells int

		// left cells: [i-guard-reference, i-guard)
		lo := max(i-guard-reference, 0)
		hi := min(i-guard, n)
		if hi > lo {
			sum += vecmath.Sum(values[lo:hi])
			cells += hi - lo
		}

		// right cells: (i+guard, i+guard+reference]
		lo = max(i+guard+1, 0)
		hi = min(i+guard+reference+1, n)
		if hi > lo {
			sum += vecmath.Sum(values[lo:hi])
			cells += hi - lo
		}

		if cells == 0 {
			cells = reference
		}
		if cells > 0 {
			out[i] = sum / float64(cells)
		}
	}

	vecmath.ScaleBlockInPlace(out, bias)
	return out
}

// CFARPlot applies CFAR to the Y column of a plot and keeps its X axis.
func CFARPlot(p Plot, guard, reference int, bias float64) Plot {
	threshold := CFAR(p.Values(), guard, reference, bias)

	out := make(Plot, len(p))
	for i, pt := range p {
		out[i] = Point{X: pt.X, Y: threshold[i]}
	}
	return out
}

// FilterAboveThreshold keeps each magnitude sample that exceeds the aligned
// threshold sample and zeroes the rest.
//
// Both plots must share their X axis. A length mismatch or an X difference of
// 0.01 or more is a programming error and panics.
func FilterAboveThreshold(magnitude, threshold Plot) Plot {
	if len(magnitude) != len(threshold) {
		panic(fmt.Sprintf("spectral: threshold length %d does not match plot length %d",
			len(threshold), len(magnitude)))
	}

	out := make(Plot, len(magnitude))
	for i, m := range magnitude {
		t := threshold[i]
		if math.Abs(m.X-t.X) >= axisTolerance {
			panic(fmt.Sprintf("spectral: threshold axis %g does not match plot axis %g at index %d",
				t.X, m.X, i))
		}

		out[i] = Point{X: m.X}
		if m.Y > t.Y {
			out[i].Y = m.Y
		}
	}
	return out
}
