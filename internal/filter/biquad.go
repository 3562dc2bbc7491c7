// Package filter implements the IIR smoothing stage: Butterworth low-pass
// biquad cascades and zero-phase forward/backward filtering.
package filter

// Coefficients of one second-order section with a0 normalized to 1.
//
// Direct Form II Transposed:
//
//	y  = B0*x + d0
//	d0 = B1*x - A1*y + d1
//	d1 = B2*x - A2*y
type Coefficients struct {
	B0, B1, B2 float64
	A1, A2     float64
}

// DCGain returns the response of the section at 0 Hz.
func (c Coefficients) DCGain() float64 {
	den := 1 + c.A1 + c.A2
	if den == 0 {
		return 0
	}
	return (c.B0 + c.B1 + c.B2) / den
}

// Section is one biquad with its delay-line state
type Section struct {
	Coefficients

	d0, d1 float64
}

// ProcessSample filters one sample.
func (s *Section) ProcessSample(x float64) float64 {
	y := s.B0*x + s.d0
	s.d0 = s.B1*x - s.A1*y + s.d1
	s.d1 = s.B2*x - s.A2*y
	return y
}

// ProcessBlock filters buf in place.
func (s *Section) ProcessBlock(buf []float64) {
	b0, b1, b2 := s.B0, s.B1, s.B2
	a1, a2 := s.A1, s.A2
	d0, d1 := s.d0, s.d1

	for i, x := range buf {
		y := b0*x + d0
		d0 = b1*x - a1*y + d1
		d1 = b2*x - a2*y
		buf[i] = y
	}

	s.d0, s.d1 = d0, d1
}

// Reset clears the delay line.
func (s *Section) Reset() {
	s.d0, s.d1 = 0, 0
}

// Prime loads the delay line with the steady state reached after an
// infinitely long constant input x, so that filtering a signal starting at x
// produces no start-up transient. It returns the steady-state output.
func (s *Section) Prime(x float64) float64 {
	y := s.DCGain() * x
	s.d1 = s.B2*x - s.A2*y
	s.d0 = s.B1*x - s.A1*y + s.d1
	return y
}

// Chain is a cascade of sections applied in order
type Chain struct {
	sections []Section
}

// NewChain builds a cascade from the given coefficient sets.
func NewChain(coeffs []Coefficients) *Chain {
	sections := make([]Section, len(coeffs))
	for i, c := range coeffs {
		sections[i] = Section{Coefficients: c}
	}
	return &Chain{sections: sections}
}

// Len returns the number of sections.
func (c *Chain) Len() int {
	return len(c.sections)
}

// ProcessSample runs one sample through every section.
func (c *Chain) ProcessSample(x float64) float64 {
	for i := range c.sections {
		x = c.sections[i].ProcessSample(x)
	}
	return x
}

// ProcessBlock filters buf in place through every section.
func (c *Chain) ProcessBlock(buf []float64) {
	for i := range c.sections {
		c.sections[i].ProcessBlock(buf)
	}
}

// Reset clears every section's state.
func (c *Chain) Reset() {
	for i := range c.sections {
		c.sections[i].Reset()
	}
}

// Prime loads every section with its steady state for a constant input x.
func (c *Chain) Prime(x float64) {
	for i := range c.sections {
		x = c.sections[i].Prime(x)
	}
}

// DCGain returns the cascade's response at 0 Hz.
func (c *Chain) DCGain() float64 {
	g := 1.0
	for _, s := range c.sections {
		g *= s.DCGain()
	}
	return g
}
