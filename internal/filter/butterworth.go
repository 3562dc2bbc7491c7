package filter

import (
	"fmt"
	"math"
)

// ButterworthLowpass designs an order-N Butterworth low-pass as a cascade of
// biquads. Even orders yield N/2 second-order sections; odd orders add one
// first-order section.
func ButterworthLowpass(cutoff float64, order int, sampleRate float64) ([]Coefficients, error) {
	if order < 1 {
		return nil, fmt.Errorf("filter: order must be at least 1, got %d", order)
	}
	if sampleRate <= 0 || math.IsNaN(sampleRate) || math.IsInf(sampleRate, 0) {
		return nil, fmt.Errorf("filter: invalid sample rate %g", sampleRate)
	}
	if cutoff <= 0 || cutoff >= sampleRate/2 || math.IsNaN(cutoff) {
		return nil, fmt.Errorf("filter: cutoff %g outside (0, %g)", cutoff, sampleRate/2)
	}

	pairs := order / 2
	sections := make([]Coefficients, 0, (order+1)/2)

	for i := pairs - 1; i >= 0; i-- {
		sections = append(sections, lowpassBiquad(cutoff, butterworthQ(order, i), sampleRate))
	}

	if order%2 == 1 {
		sections = append(sections, lowpassFirstOrder(cutoff, sampleRate))
	}

	return sections, nil
}

// butterworthQ returns the quality factor of the i-th conjugate pole pair.
func butterworthQ(order, i int) float64 {
	return 1 / (2 * math.Sin(math.Pi*float64(2*i+1)/float64(2*order)))
}

// lowpassBiquad is the RBJ cookbook low-pass.
func lowpassBiquad(freq, q, sampleRate float64) Coefficients {
	w0 := 2 * math.Pi * freq / sampleRate
	cw := math.Cos(w0)
	alpha := math.Sin(w0) / (2 * q)

	b0 := (1 - cw) / 2
	b1 := 1 - cw
	b2 := (1 - cw) / 2
	a0 := 1 + alpha
	a1 := -2 * cw
	a2 := 1 - alpha

	return Coefficients{
		B0: b0 / a0,
		B1: b1 / a0,
		B2: b2 / a0,
		A1: a1 / a0,
		A2: a2 / a0,
	}
}

// lowpassFirstOrder is the bilinear-transformed one-pole low-pass.
func lowpassFirstOrder(freq, sampleRate float64) Coefficients {
	k := math.Tan(math.Pi * freq / sampleRate)
	norm := 1 / (1 + k)

	return Coefficients{
		B0: k * norm,
		B1: k * norm,
		A1: (k - 1) * norm,
	}
}
