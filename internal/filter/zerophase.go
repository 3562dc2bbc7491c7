package filter

import "slices"

// ZeroPhase filters a whole sequence forwards and then backwards through the
// same cascade, cancelling the phase shift of the IIR design. The ends are
// padded with an odd reflection of the signal and the cascade is primed with
// its steady state so that edge transients stay small.
type ZeroPhase struct {
	chain  *Chain
	padLen int
}

// NewZeroPhase wraps a cascade for forward/backward filtering.
func NewZeroPhase(coeffs []Coefficients) *ZeroPhase {
	return &ZeroPhase{
		chain:  NewChain(coeffs),
		padLen: 3 * (2*len(coeffs) + 1),
	}
}

// NewZeroPhaseLowpass designs a Butterworth low-pass and wraps it.
func NewZeroPhaseLowpass(order int, cutoff, sampleRate float64) (*ZeroPhase, error) {
	coeffs, err := ButterworthLowpass(cutoff, order, sampleRate)
	if err != nil {
		return nil, err
	}
	return NewZeroPhase(coeffs), nil
}

// Apply returns the zero-phase filtered copy of x. The result has the
// length of x and x is left untouched.
func (z *ZeroPhase) Apply(x []float64) []float64 {
	n := len(x)
	if n == 0 {
		return nil
	}

	pad := min(z.padLen, n-1)
	ext := make([]float64, 0, n+2*pad)

	for i := pad; i >= 1; i-- {
		ext = append(ext, 2*x[0]-x[i])
	}
	ext = append(ext, x...)
	for i := 1; i <= pad; i++ {
		ext = append(ext, 2*x[n-1]-x[n-1-i])
	}

	z.run(ext)
	slices.Reverse(ext)
	z.run(ext)
	slices.Reverse(ext)

	out := make([]float64, n)
	copy(out, ext[pad:pad+n])
	return out
}

func (z *ZeroPhase) run(buf []float64) {
	z.chain.Reset()
	z.chain.Prime(buf[0])
	z.chain.ProcessBlock(buf)
}
