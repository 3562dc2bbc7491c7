package spectral

import (
	"errors"
	"fmt"
	"math"
)

// Peak refinement failures. All of them mean the plot holds no peak that a
// parabola can be fitted through.
var (
	ErrTooFewPoints      = errors.New("spectral: fewer than 3 points")
	ErrPeakAtBoundary    = errors.New("spectral: maximum at plot boundary")
	ErrNotLocalMaximum   = errors.New("spectral: maximum is not a strict local maximum")
	ErrNonUniformSpacing = errors.New("spectral: non-uniform spacing around peak")
	ErrFlatPeak          = errors.New("spectral: peak too flat to interpolate")
)

const (
	spacingTolerance   = 1e-6
	curvatureTolerance = 1e-10
)

// FindPeakIndex scans the indices lo/resolution .. hi/resolution (inclusive)
// of the plot and returns the index holding the largest positive value. If no
// value is positive the first index of the range is returned. It reports
// false when any index of the range lies outside the plot.
func FindPeakIndex(lo, hi float64, p Plot, resolution float64) (int, bool) {
	if resolution <= 0 || math.IsNaN(lo) || math.IsNaN(hi) {
		return 0, false
	}

	first := int(lo / resolution)
	last := int(hi / resolution)

	best := first
	bestValue := 0.0
	for i := first; i <= last; i++ {
		if i < 0 || i >= len(p) {
			return 0, false
		}
		if p[i].Y > bestValue {
			bestValue = p[i].Y
			best = i
		}
	}

	return best, true
}

// CenterTimeDomain relabels an inverse-transformed sequence so that lag 0
// sits at index N/2. For even N the two halves are swapped. For odd N the
// leading (N+1)/2 samples move behind the trailing N/2 samples. Each sample
// is assigned time (i - N/2) * TimeResolution and its real part as value.
func (e *Engine) CenterTimeDomain(s Spectrum) Plot {
	return centerTimeDomain(s, e.TimeResolution())
}

func centerTimeDomain(s Spectrum, resolution float64) Plot {
	n := len(s)
	first := (n + 1) / 2
	half := n / 2

	out := make(Plot, 0, n)
	for i, c := range s[first:] {
		out = append(out, Point{X: float64(i-half) * resolution, Y: real(c)})
	}
	for i, c := range s[:first] {
		out = append(out, Point{X: float64(n-first+i-half) * resolution, Y: real(c)})
	}
	return out
}

// RefinePeak fits a parabola through the global maximum of the plot and its
// two neighbours and returns the vertex. The vertex offset is clamped to half
// a sample on either side of the maximum.
func RefinePeak(p Plot) (Point, error) {
	n := len(p)
	if n < 3 {
		return Point{}, fmt.Errorf("%w: got %d", ErrTooFewPoints, n)
	}

	c := 0
	for i := 1; i < n; i++ {
		if p[i].Y > p[c].Y {
			c = i
		}
	}

	if c == 0 || c == n-1 {
		return Point{}, fmt.Errorf("%w: index %d of %d", ErrPeakAtBoundary, c, n)
	}

	left, center, right := p[c-1], p[c], p[c+1]
	if !(left.Y < center.Y && right.Y < center.Y) {
		return Point{}, fmt.Errorf("%w: index %d", ErrNotLocalMaximum, c)
	}

	stepLeft := center.X - left.X
	stepRight := right.X - center.X
	if math.Abs(stepLeft-stepRight) > spacingTolerance {
		return Point{}, fmt.Errorf("%w: %g vs %g", ErrNonUniformSpacing, stepLeft, stepRight)
	}
	step := (stepLeft + stepRight) / 2
	if step == 0 {
		return Point{}, fmt.Errorf("%w: zero step", ErrNonUniformSpacing)
	}

	d := left.Y - 2*center.Y + right.Y
	if math.Abs(d) < curvatureTolerance {
		return Point{}, fmt.Errorf("%w: curvature %g", ErrFlatPeak, d)
	}

	offset := (step / 2) * (left.Y - right.Y) / d
	limit := 0.5 * math.Abs(step)
	offset = math.Max(-limit, math.Min(limit, offset))

	t := offset / step
	value := center.Y + 0.5*(right.Y-left.Y)*t + 0.5*d*t*t

	return Point{X: center.X + offset, Y: value}, nil
}
