package spectral

import (
	"math"

	"github.com/cwbudde/algo-vecmath"
)

// Magnitudes returns |X[k]| for every bin.
func (s Spectrum) Magnitudes() []float64 {
	if len(s) == 0 {
		return nil
	}

	re := make([]float64, len(s))
	im := make([]float64, len(s))
	for i, c := range s {
		re[i] = real(c)
		im[i] = imag(c)
	}

	out := make([]float64, len(s))
	vecmath.Magnitude(out, re, im)
	return out
}

// MagnitudeDB converts a spectrum into a (frequency, dB) plot where
// dB = 10*log10(|X[k]|). A zero bin maps to -Inf.
func (e *Engine) MagnitudeDB(s Spectrum) Plot {
	res := e.FrequencyResolution(len(s))
	mags := s.Magnitudes()

	out := make(Plot, len(s))
	for i, m := range mags {
		out[i] = Point{X: float64(i) * res, Y: 10 * math.Log10(m)}
	}
	return out
}

// PhaseRadians converts a spectrum into a (frequency, phase) plot.
func (e *Engine) PhaseRadians(s Spectrum) Plot {
	res := e.FrequencyResolution(len(s))

	out := make(Plot, len(s))
	for i, c := range s {
		out[i] = Point{X: float64(i) * res, Y: math.Atan2(imag(c), real(c))}
	}
	return out
}

// MagnitudePlot returns the linear magnitude of each bin against frequency.
func (e *Engine) MagnitudePlot(s Spectrum) Plot {
	return WithFrequencyAxis(s.Magnitudes(), e.FrequencyResolution(len(s)))
}

// RealPlot returns the real part of each sample against time, for
// time-domain sequences coming out of Inverse.
func (e *Engine) RealPlot(s Spectrum) Plot {
	values := make([]float64, len(s))
	for i, c := range s {
		values[i] = real(c)
	}
	return WithTimeAxis(values, e.TimeResolution())
}

// WithFrequencyAxis pairs values with a frequency axis of the given bin
// spacing.
func WithFrequencyAxis(values []float64, resolution float64) Plot {
	return withAxis(values, resolution)
}

// WithTimeAxis pairs values with a time axis of the given sample period.
func WithTimeAxis(values []float64, resolution float64) Plot {
	return withAxis(values, resolution)
}

func withAxis(values []float64, step float64) Plot {
	out := make(Plot, len(values))
	for i, v := range values {
		out[i] = Point{X: float64(i) * step, Y: v}
	}
	return out
}

// WrapAngle wraps an angle in radians into [-pi, pi).
func WrapAngle(a float64) float64 {
	w := math.Mod(a+math.Pi, 2*math.Pi)
	if w < 0 {
		w += 2 * math.Pi
	}
	return w - math.Pi
}
