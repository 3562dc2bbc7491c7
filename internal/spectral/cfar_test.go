package spectral

import (
	"math"
	"math/rand"
	"testing"
)

func TestCFAR_HandComputed(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5, 6, 7, 8}
	got := CFAR(values, 1, 2, 1)

	checks := map[int]float64{
		0: 3.5, // right cells 2,3
		1: 4.5, // no left cell fits, right cells 3,4
		4: 5,   // left cells 1,2 and right cells 6,7
		7: 5.5, // left cells 4,5
	}
	for i, want := range checks {
		if math.Abs(got[i]-want) > 1e-12 {
			t.Errorf("index %d: got %g, want %g", i, got[i], want)
		}
	}
}

func TestCFAR_LengthAndBounds(t *testing.T) {
	for _, n := range []int{0, 1, 2, 5, 14, 15, 64} {
		values := make([]float64, n)
		for i := range values {
			values[i] = float64(i + 1)
		}

		got := CFAR(values, 10, 4, 3.5)
		if len(got) != n {
			t.Errorf("n=%d: output length %d", n, len(got))
		}
	}
}

func TestCFAR_ConstantInput(t *testing.T) {
	values := make([]float64, 30)
	for i := range values {
		values[i] = 2
	}

	got := CFAR(values, 10, 4, 3.5)
	for i, v := range got {
		if math.Abs(v-7) > 1e-12 {
			t.Fatalf("index %d: got %g, want 7", i, v)
		}
	}
}

func TestCFAR_NoNeighbours(t *testing.T) {
	got := CFAR([]float64{5, 5, 5}, 10, 4, 3.5)
	for i, v := range got {
		if v != 0 {
			t.Errorf("index %d: got %g, want 0", i, v)
		}
	}
}

func TestCFAR_NonNegative(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	values := make([]float64, 257)
	for i := range values {
		values[i] = rng.Float64() * 60
	}

	for i, v := range CFAR(values, 10, 4, 3.5) {
		if v < 0 || math.IsNaN(v) {
			t.Fatalf("index %d: got %g", i, v)
		}
	}
}

func TestCFARPlot_KeepsAxis(t *testing.T) {
	p := WithFrequencyAxis([]float64{1, 1, 1, 1, 1}, 10)
	th := CFARPlot(p, 0, 1, 2)

	for i := range p {
		if th[i].X != p[i].X {
			t.Errorf("index %d: axis %g, want %g", i, th[i].X, p[i].X)
		}
		if math.Abs(th[i].Y-2) > 1e-12 {
			t.Errorf("index %d: threshold %g, want 2", i, th[i].Y)
		}
	}
}

func TestFilterAboveThreshold(t *testing.T) {
	mag := Plot{{0, 5}, {1, 1}, {2, 3}, {3, 3}}
	th := Plot{{0, 2}, {1, 2}, {2.005, 2}, {3, 3}}

	got := FilterAboveThreshold(mag, th)
	want := []float64{5, 0, 3, 0}
	for i, w := range want {
		if got[i].Y != w {
			t.Errorf("index %d: got %g, want %g", i, got[i].Y, w)
		}
		if got[i].X != mag[i].X {
			t.Errorf("index %d: axis %g, want %g", i, got[i].X, mag[i].X)
		}
	}
}

func TestFilterAboveThreshold_AxisMismatchPanics(t *testing.T) {
	tests := []struct {
		name string
		mag  Plot
		th   Plot
	}{
		{"axis", Plot{{0, 1}, {1, 1}}, Plot{{0, 0}, {1.5, 0}}},
		{"length", Plot{{0, 1}, {1, 1}}, Plot{{0, 0}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Error("expected panic")
				}
			}()
			FilterAboveThreshold(tt.mag, tt.th)
		})
	}
}
