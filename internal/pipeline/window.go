package pipeline

import "github.com/teslashibe/go-tdoa/internal/filter"

// Window is a bounded FIFO of raw delay estimates
type Window struct {
	values   []float64
	capacity int
}

// NewWindow creates an empty window holding at most capacity values
func NewWindow(capacity int) *Window {
	if capacity < 1 {
		capacity = 1
	}
	return &Window{
		values:   make([]float64, 0, capacity),
		capacity: capacity,
	}
}

// Push appends v and evicts the oldest value once the window is full.
func (w *Window) Push(v float64) {
	if len(w.values) == w.capacity {
		// shift in place so the backing array never grows
		copy(w.values, w.values[1:])
		w.values = w.values[:w.capacity-1]
	}
	w.values = append(w.values, v)
}

// Len returns the number of values held.
func (w *Window) Len() int {
	return len(w.values)
}

// Capacity returns the maximum number of values.
func (w *Window) Capacity() int {
	return w.capacity
}

// Values returns a copy of the window, oldest first.
func (w *Window) Values() []float64 {
	out := make([]float64, len(w.values))
	copy(out, w.values)
	return out
}

// WindowSnapshot is a read-only copy of the delay window
type WindowSnapshot struct {
	Raw      []float64 `json:"raw"`
	Smoothed []float64 `json:"smoothed"`
}

// Smoother accumulates raw delays and smooths the whole window with a
// zero-phase low-pass once enough values are present.
type Smoother struct {
	window  *Window
	filter  *filter.ZeroPhase
	minimum int
}

// NewSmoother creates a smoother over a window of the given capacity that
// starts emitting at minimum values.
func NewSmoother(capacity, minimum int, zp *filter.ZeroPhase) *Smoother {
	return &Smoother{
		window:  NewWindow(capacity),
		filter:  zp,
		minimum: max(minimum, 1),
	}
}

// Add pushes one raw delay. Once the window holds at least the minimum
// number of values it returns the newest smoothed sample and the snapshot
// of the window; before that ok is false.
func (s *Smoother) Add(raw float64) (smoothed float64, snap WindowSnapshot, ok bool) {
	s.window.Push(raw)
	if s.window.Len() < s.minimum {
		return 0, WindowSnapshot{}, false
	}

	values := s.window.Values()
	filtered := s.filter.Apply(values)

	return filtered[len(filtered)-1], WindowSnapshot{Raw: values, Smoothed: filtered}, true
}

// Len returns the number of raw values held.
func (s *Smoother) Len() int {
	return s.window.Len()
}
