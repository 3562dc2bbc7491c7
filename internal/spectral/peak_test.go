package spectral

import (
	"errors"
	"math"
	"testing"
)

func TestFindPeakIndex(t *testing.T) {
	p := WithFrequencyAxis([]float64{0, 1, 4, 9, 2, 7, 0, 0}, 100)

	idx, ok := FindPeakIndex(100, 500, p, 100)
	if !ok || idx != 3 {
		t.Errorf("FindPeakIndex = %d, %v; want 3, true", idx, ok)
	}

	idx, ok = FindPeakIndex(400, 600, p, 100)
	if !ok || idx != 5 {
		t.Errorf("FindPeakIndex = %d, %v; want 5, true", idx, ok)
	}
}

func TestFindPeakIndex_OutOfRange(t *testing.T) {
	p := WithFrequencyAxis([]float64{1, 2, 3, 4}, 100)

	if _, ok := FindPeakIndex(0, 400, p, 100); ok {
		t.Error("expected none when upper bound maps past the plot")
	}
	if _, ok := FindPeakIndex(-100, 200, p, 100); ok {
		t.Error("expected none when lower bound maps before the plot")
	}
	if _, ok := FindPeakIndex(0, 100, p, 0); ok {
		t.Error("expected none for zero resolution")
	}
}

func TestFindPeakIndex_NoPositiveValue(t *testing.T) {
	p := WithFrequencyAxis([]float64{-3, -1, -2, -5}, 1)

	idx, ok := FindPeakIndex(1, 3, p, 1)
	if !ok || idx != 1 {
		t.Errorf("FindPeakIndex = %d, %v; want 1, true", idx, ok)
	}
}

func TestCenterTimeDomain_Even(t *testing.T) {
	s := make(Spectrum, 8)
	s[5] = 1

	p := centerTimeDomain(s, 0.1)

	if len(p) != 8 {
		t.Fatalf("length %d, want 8", len(p))
	}
	for i, pt := range p {
		wantY := 0.0
		if i == 1 {
			wantY = 1
		}
		if pt.Y != wantY {
			t.Errorf("index %d: value %g, want %g", i, pt.Y, wantY)
		}
	}
	if math.Abs(p[1].X-(-0.3)) > 1e-12 {
		t.Errorf("impulse time %g, want -0.3", p[1].X)
	}
	if p[4].X != 0 {
		t.Errorf("center time %g, want 0", p[4].X)
	}
}

func TestCenterTimeDomain_Odd(t *testing.T) {
	// labels 0..6 so the relabeled order is visible
	s := make(Spectrum, 7)
	for i := range s {
		s[i] = complex(float64(i), 0)
	}

	p := centerTimeDomain(s, 1)

	// first part has (7+1)/2 = 4 samples, second part 7/2 = 3
	wantOrder := []float64{4, 5, 6, 0, 1, 2, 3}
	for i, w := range wantOrder {
		if p[i].Y != w {
			t.Errorf("index %d: value %g, want %g", i, p[i].Y, w)
		}
		if want := float64(i - 3); p[i].X != want {
			t.Errorf("index %d: time %g, want %g", i, p[i].X, want)
		}
	}
}

func TestEngine_CenterTimeDomainUsesSampleRate(t *testing.T) {
	e, _ := NewEngine(10)

	s := make(Spectrum, 8)
	s[0] = 1
	p := e.CenterTimeDomain(s)

	if p[4].Y != 1 || p[4].X != 0 {
		t.Errorf("lag 0 at %v, want value 1 at time 0", p[4])
	}
	if math.Abs(p[0].X-(-0.4)) > 1e-12 {
		t.Errorf("first time %g, want -0.4", p[0].X)
	}
}

func TestRefinePeak_Symmetric(t *testing.T) {
	p := Plot{{-1, 0}, {0, 1}, {1, 4}, {2, 1}, {3, 0}}

	got, err := RefinePeak(p)
	if err != nil {
		t.Fatalf("RefinePeak: %v", err)
	}
	if math.Abs(got.X-1) > 1e-12 || math.Abs(got.Y-4) > 1e-12 {
		t.Errorf("got %v, want {1 4}", got)
	}
}

func TestRefinePeak_AsymmetricParabola(t *testing.T) {
	// samples of y = -(x-0.3)^2
	f := func(x float64) float64 { return -(x - 0.3) * (x - 0.3) }
	p := Plot{{-1, f(-1)}, {0, f(0)}, {1, f(1)}}

	got, err := RefinePeak(p)
	if err != nil {
		t.Fatalf("RefinePeak: %v", err)
	}
	if math.Abs(got.X-0.3) > 1e-9 {
		t.Errorf("vertex time %g, want 0.3", got.X)
	}
	if math.Abs(got.Y) > 1e-9 {
		t.Errorf("vertex value %g, want 0", got.Y)
	}
}

func TestRefinePeak_Errors(t *testing.T) {
	tests := []struct {
		name string
		plot Plot
		want error
	}{
		{"empty", nil, ErrTooFewPoints},
		{"two points", Plot{{0, 1}, {1, 2}}, ErrTooFewPoints},
		{"max at start", Plot{{0, 5}, {1, 2}, {2, 1}}, ErrPeakAtBoundary},
		{"max at end", Plot{{0, 1}, {1, 2}, {2, 5}}, ErrPeakAtBoundary},
		{"plateau", Plot{{0, 1}, {1, 3}, {2, 3}, {3, 1}}, ErrNotLocalMaximum},
		{"non-uniform", Plot{{0, 1}, {1, 3}, {2.5, 1}}, ErrNonUniformSpacing},
		{"flat", Plot{{0, 1}, {1, 1 + 1e-12}, {2, 1}}, ErrFlatPeak},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := RefinePeak(tt.plot)
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}
