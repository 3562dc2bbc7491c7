// Package spectral provides the numerical building blocks of the delay
// estimator: FFT transforms, dB and phase conversion, CFAR thresholds,
// fftshift-style centering and sub-sample peak refinement.
//
// An Engine is not safe for concurrent use. It is meant to be owned by the
// single goroutine that runs the correlation pipeline.
package spectral

import (
	"errors"
	"fmt"
)

// ErrEmptyInput is returned when a transform is asked to work on nothing.
var ErrEmptyInput = errors.New("spectral: empty input")

// Spectrum holds the complex bins of one transformed sequence
type Spectrum []complex128

// Point is one (x, y) sample of a plot. X is a frequency in Hz or a lag time
// in seconds depending on the plot.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Plot is an ordered sequence of points with a uniform X axis
type Plot []Point

// Values returns the Y column of the plot.
func (p Plot) Values() []float64 {
	out := make([]float64, len(p))
	for i, pt := range p {
		out[i] = pt.Y
	}
	return out
}

// Engine transforms and analyses sequences captured at a fixed sample rate.
// FFT plans are created lazily and cached per sequence length. Lengths that
// are not a power of two go through a chirp-z transform.
type Engine struct {
	sampleRate float64
	plans      map[int]transform
}

// NewEngine creates an engine for the given sample rate in Hz
func NewEngine(sampleRate float64) (*Engine, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("spectral: sample rate must be positive, got %g", sampleRate)
	}

	return &Engine{
		sampleRate: sampleRate,
		plans:      make(map[int]transform),
	}, nil
}

// SampleRate returns the sample rate the engine was built for.
func (e *Engine) SampleRate() float64 {
	return e.sampleRate
}

// FrequencyResolution returns the bin spacing in Hz for an n-point transform.
func (e *Engine) FrequencyResolution(n int) float64 {
	if n <= 0 {
		return 0
	}
	return e.sampleRate / float64(n)
}

// TimeResolution returns the sample period in seconds.
func (e *Engine) TimeResolution() float64 {
	return 1 / e.sampleRate
}

// CachedPlans reports how many distinct transform lengths have been planned.
func (e *Engine) CachedPlans() int {
	return len(e.plans)
}

func (e *Engine) plan(n int) (transform, error) {
	if p, ok := e.plans[n]; ok {
		return p, nil
	}

	p, err := newTransform(n)
	if err != nil {
		return nil, fmt.Errorf("spectral: create %d-point plan: %w", n, err)
	}

	e.plans[n] = p
	return p, nil
}

// Forward transforms a real sequence. The imaginary part of the input is zero.
func (e *Engine) Forward(x []float64) (Spectrum, error) {
	buf := make([]complex128, len(x))
	for i, v := range x {
		buf[i] = complex(v, 0)
	}
	return e.ForwardComplex(buf)
}

// ForwardComplex transforms a complex sequence into a new spectrum.
func (e *Engine) ForwardComplex(x []complex128) (Spectrum, error) {
	if len(x) == 0 {
		return nil, ErrEmptyInput
	}

	p, err := e.plan(len(x))
	if err != nil {
		return nil, err
	}

	out := make([]complex128, len(x))
	if err := p.Forward(out, x); err != nil {
		return nil, fmt.Errorf("spectral: forward transform: %w", err)
	}

	return out, nil
}

// Inverse transforms a spectrum back to the time domain. The result is
// normalized by 1/N so that Inverse(Forward(x)) reproduces x.
func (e *Engine) Inverse(s Spectrum) (Spectrum, error) {
	if len(s) == 0 {
		return nil, ErrEmptyInput
	}

	p, err := e.plan(len(s))
	if err != nil {
		return nil, err
	}

	out := make([]complex128, len(s))
	if err := p.Inverse(out, s); err != nil {
		return nil, fmt.Errorf("spectral: inverse transform: %w", err)
	}

	return out, nil
}
