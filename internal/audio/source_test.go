package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"os"
	"testing"
	"time"

	"github.com/teslashibe/go-tdoa/internal/capture"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.SampleRate <= 0 {
		t.Error("SampleRate should be positive")
	}
	if cfg.FramesPerBuffer <= 0 {
		t.Error("FramesPerBuffer should be positive")
	}
	if cfg.CaptureCmd == "" {
		t.Error("CaptureCmd should not be empty")
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		backend string
		name    string
		wantErr bool
	}{
		{BackendSynthetic, "synthetic", false},
		{BackendArecord, "arecord", false},
		{"", "arecord", false},
		{"jack", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.backend, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Backend = tt.backend

			src, err := New(cfg, nil)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if src.Name() != tt.name {
				t.Errorf("name = %s, want %s", src.Name(), tt.name)
			}
			if src.SampleRate() != cfg.SampleRate {
				t.Errorf("sample rate = %d", src.SampleRate())
			}
		})
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SampleRate = 0
	if _, err := New(cfg, nil); err == nil {
		t.Error("expected error for zero sample rate")
	}

	cfg = DefaultConfig()
	cfg.FramesPerBuffer = -1
	if _, err := New(cfg, nil); err == nil {
		t.Error("expected error for negative frames per buffer")
	}
}

func TestDeinterleave(t *testing.T) {
	ch := Deinterleave([]float32{1, -1, 2, -2, 3, -3, 9}, 2)

	wantL := []float64{1, 2, 3}
	wantR := []float64{-1, -2, -3}
	for i := range wantL {
		if ch[0][i] != wantL[i] || ch[1][i] != wantR[i] {
			t.Fatalf("frame %d: got %g/%g", i, ch[0][i], ch[1][i])
		}
	}
	if len(ch[0]) != 3 {
		t.Errorf("partial frame should be ignored, got %d frames", len(ch[0]))
	}

	if Deinterleave([]float32{1}, 0) != nil {
		t.Error("zero channels should return nil")
	}
}

func TestSynthetic_RightLagsLeft(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FramesPerBuffer = 64
	cfg.SyntheticDelay = 3
	s := NewSyntheticSource(cfg, nil)

	l1, r1 := s.Next(3)
	for i := 3; i < 64; i++ {
		if r1[i] != l1[i-3] {
			t.Fatalf("sample %d: right %g, want %g", i, r1[i], l1[i-3])
		}
	}

	// the delay carries across batch boundaries
	_, r2 := s.Next(3)
	for i := range 3 {
		if r2[i] != l1[61+i] {
			t.Errorf("carry sample %d: %g, want %g", i, r2[i], l1[61+i])
		}
	}
}

func TestSynthetic_NegativeLag(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FramesPerBuffer = 32
	cfg.SyntheticDelay = -2
	s := NewSyntheticSource(cfg, nil)

	l, r := s.Next(-2)
	for i := 2; i < 32; i++ {
		if l[i] != r[i-2] {
			t.Fatalf("sample %d: left %g, want %g", i, l[i], r[i-2])
		}
	}
}

func TestSynthetic_SweepStaysInRange(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SyntheticDelay = 2
	cfg.SyntheticSweep = 4
	cfg.SweepPeriod = time.Second
	s := NewSyntheticSource(cfg, nil)

	if got := s.lagAt(0); got != 2 {
		t.Errorf("lag at 0 = %d, want 2", got)
	}
	if got := s.lagAt(250 * time.Millisecond); got != 6 {
		t.Errorf("lag at quarter period = %d, want 6", got)
	}
	if got := s.lagAt(750 * time.Millisecond); got != -2 {
		t.Errorf("lag at three quarters = %d, want -2", got)
	}
}

func TestSynthetic_RunFillsAndClosesQueues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FramesPerBuffer = 160
	s := NewSyntheticSource(cfg, nil)

	left := capture.NewQueue("left", 100)
	right := capture.NewQueue("right", 100)

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()

	if err := s.Run(ctx, left, right); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if s.Healthy() {
		t.Error("source should not be healthy after Run returns")
	}
	if left.Sent() == 0 || left.Sent() != right.Sent() {
		t.Errorf("sent left=%d right=%d", left.Sent(), right.Sent())
	}

	_, err := capture.ReceivePair(context.Background(), emptyQueue(left), emptyQueue(right), 0)
	if !errors.Is(err, capture.ErrClosed) {
		t.Errorf("queues should be closed, got %v", err)
	}
}

// emptyQueue drains q so the next receive sees the close.
func emptyQueue(q *capture.Queue) *capture.Queue {
	for q.Len() > 0 {
		capture.ReceivePair(context.Background(), q, q, 0)
	}
	return q
}

func encodeFloats(vals ...float32) []byte {
	var buf bytes.Buffer
	for _, v := range vals {
		binary.Write(&buf, binary.LittleEndian, math.Float32bits(v))
	}
	return buf.Bytes()
}

func TestArecord_StreamDeinterleaves(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FramesPerBuffer = 2
	a := NewArecordSource(cfg, nil)

	left := capture.NewQueue("left", 4)
	right := capture.NewQueue("right", 4)

	r := bytes.NewReader(encodeFloats(0.5, -0.5, 0.25, -0.25, 1, -1, 0, 0))
	err := a.stream(r, left, right)
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("stream error = %v, want unexpected EOF", err)
	}

	f, err := capture.ReceivePair(context.Background(), left, right, 0)
	if err != nil {
		t.Fatalf("ReceivePair: %v", err)
	}
	if f.Left[0] != 0.5 || f.Left[1] != 0.25 || f.Right[0] != -0.5 || f.Right[1] != -0.25 {
		t.Errorf("unexpected first frame %+v", f)
	}
	if a.Stats().Batches != 2 {
		t.Errorf("batches = %d, want 2", a.Stats().Batches)
	}
}

func TestArecord_FullQueueCountsDrop(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FramesPerBuffer = 1
	a := NewArecordSource(cfg, nil)

	left := capture.NewQueue("left", 1)
	right := capture.NewQueue("right", 1)

	a.stream(bytes.NewReader(encodeFloats(1, 2, 3, 4)), left, right)

	if a.Stats().Dropped != 1 {
		t.Errorf("dropped = %d, want 1", a.Stats().Dropped)
	}
	if left.Dropped() != 1 || right.Dropped() != 1 {
		t.Errorf("queue drops left=%d right=%d", left.Dropped(), right.Dropped())
	}
}

func TestArecord_Args(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Device = "hw:1,0"
	a := NewArecordSource(cfg, nil)

	want := []string{"-D", "hw:1,0", "-f", "FLOAT_LE", "-c", "2", "-r", "16000", "-t", "raw", "-q"}
	got := a.args()
	if len(got) != len(want) {
		t.Fatalf("args = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("arg %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestArecord_IsAvailable(t *testing.T) {
	self, err := os.Executable()
	if err != nil {
		t.Skipf("no executable path: %v", err)
	}

	cfg := DefaultConfig()
	cfg.CaptureCmd = self
	if !NewArecordSource(cfg, nil).IsAvailable() {
		t.Errorf("%s should be available", self)
	}

	cfg.CaptureCmd = "/nonexistent/go-tdoa-capture"
	if NewArecordSource(cfg, nil).IsAvailable() {
		t.Error("missing command reported available")
	}

	// New still succeeds so the restart loop can pick the command up later
	cfg.Backend = BackendArecord
	if _, err := New(cfg, nil); err != nil {
		t.Errorf("New with missing command: %v", err)
	}
}
