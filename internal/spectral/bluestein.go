package spectral

import (
	"fmt"
	"math"
	"math/bits"
	"math/cmplx"

	algofft "github.com/MeKo-Christian/algo-fft"
)

// transform is an n-point DFT. Inverse is normalized by 1/n.
type transform interface {
	Forward(dst, src []complex128) error
	Inverse(dst, src []complex128) error
}

// newTransform plans a power-of-two length directly and any other length
// with a chirp-z transform over a power-of-two plan.
func newTransform(n int) (transform, error) {
	switch {
	case n == 1:
		return identity{}, nil
	case isPowerOfTwo(n):
		p, err := algofft.NewPlan64(n)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return newBluestein(n)
	}
}

func isPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}

func nextPowerOfTwo(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(n-1))
}

type identity struct{}

func (identity) Forward(dst, src []complex128) error { copy(dst, src); return nil }
func (identity) Inverse(dst, src []complex128) error { copy(dst, src); return nil }

// bluestein evaluates an n-point DFT as a circular convolution of length m,
// the next power of two >= 2n-1.
type bluestein struct {
	n, m  int
	chirp []complex128 // exp(-iπk²/n), k < n
	plan  *algofft.Plan[complex128]
	// kernel is the transformed conjugate chirp, wrapped for circular use
	kernel []complex128
	a, fa  []complex128
}

func newBluestein(n int) (*bluestein, error) {
	m := nextPowerOfTwo(2*n - 1)
	plan, err := algofft.NewPlan64(m)
	if err != nil {
		return nil, fmt.Errorf("chirp-z %d-point plan: %w", m, err)
	}

	b := &bluestein{
		n:     n,
		m:     m,
		chirp: make([]complex128, n),
		plan:  plan,
		a:     make([]complex128, m),
		fa:    make([]complex128, m),
	}

	// k² mod 2n keeps the phase argument small for large k
	mod := uint64(2 * n)
	for k := range n {
		kk := (uint64(k) * uint64(k)) % mod
		b.chirp[k] = cmplx.Exp(complex(0, -math.Pi*float64(kk)/float64(n)))
	}

	w := make([]complex128, m)
	w[0] = cmplx.Conj(b.chirp[0])
	for k := 1; k < n; k++ {
		w[k] = cmplx.Conj(b.chirp[k])
		w[m-k] = w[k]
	}
	b.kernel = make([]complex128, m)
	if err := plan.Forward(b.kernel, w); err != nil {
		return nil, fmt.Errorf("chirp-z kernel: %w", err)
	}

	return b, nil
}

func (b *bluestein) Forward(dst, src []complex128) error {
	if len(src) != b.n || len(dst) != b.n {
		return fmt.Errorf("chirp-z: length %d/%d, plan is %d", len(src), len(dst), b.n)
	}

	clear(b.a)
	for k, v := range src {
		b.a[k] = v * b.chirp[k]
	}
	if err := b.plan.Forward(b.fa, b.a); err != nil {
		return err
	}
	for k := range b.fa {
		b.fa[k] *= b.kernel[k]
	}
	if err := b.plan.Inverse(b.a, b.fa); err != nil {
		return err
	}
	for k := range dst {
		dst[k] = b.a[k] * b.chirp[k]
	}
	return nil
}

// Inverse uses ifft(x) = conj(fft(conj(x))) / n.
func (b *bluestein) Inverse(dst, src []complex128) error {
	if len(src) != b.n {
		return fmt.Errorf("chirp-z: length %d, plan is %d", len(src), b.n)
	}
	conj := make([]complex128, b.n)
	for k, v := range src {
		conj[k] = cmplx.Conj(v)
	}
	if err := b.Forward(dst, conj); err != nil {
		return err
	}
	scale := complex(1/float64(b.n), 0)
	for k, v := range dst {
		dst[k] = cmplx.Conj(v) * scale
	}
	return nil
}
