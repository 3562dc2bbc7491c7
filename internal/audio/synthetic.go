package audio

import (
	"context"
	"log/slog"
	"math"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-tdoa/internal/capture"
)

// SyntheticSource generates white noise on the left leg and the same noise,
// delayed by a whole number of samples, on the right leg. The delay is
// continuous across batches, so the pair behaves like a real source off axis.
type SyntheticSource struct {
	cfg    Config
	logger *slog.Logger
	rng    *rand.Rand

	// tail holds the last maxLag samples of the previous batch
	tail   []float64
	maxLag int
	start  time.Time

	running atomic.Bool
	batches atomic.Uint64
	dropped atomic.Uint64
}

// NewSyntheticSource creates a synthetic source
func NewSyntheticSource(cfg Config, logger *slog.Logger) *SyntheticSource {
	if logger == nil {
		logger = slog.Default()
	}

	maxLag := abs(cfg.SyntheticDelay) + abs(cfg.SyntheticSweep)
	return &SyntheticSource{
		cfg:    cfg,
		logger: logger,
		rng:    rand.New(rand.NewSource(cfg.SyntheticSeed)),
		tail:   make([]float64, maxLag),
		maxLag: maxLag,
	}
}

// Name returns "synthetic".
func (s *SyntheticSource) Name() string { return BackendSynthetic }

// SampleRate returns the configured rate.
func (s *SyntheticSource) SampleRate() int { return s.cfg.SampleRate }

// Healthy reports whether Run is active.
func (s *SyntheticSource) Healthy() bool { return s.running.Load() }

// Close is a no-op; Run stops with its context.
func (s *SyntheticSource) Close() error { return nil }

// Run emits one batch per buffer period until ctx is done.
func (s *SyntheticSource) Run(ctx context.Context, left, right *capture.Queue) error {
	defer left.Close()
	defer right.Close()

	period := time.Duration(float64(time.Second) * float64(s.cfg.FramesPerBuffer) / float64(s.cfg.SampleRate))
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	s.start = time.Now()
	s.running.Store(true)
	defer s.running.Store(false)

	s.logger.Info("synthetic source started",
		"sample_rate", s.cfg.SampleRate,
		"frames_per_buffer", s.cfg.FramesPerBuffer,
		"delay_samples", s.cfg.SyntheticDelay,
		"sweep_samples", s.cfg.SyntheticSweep,
	)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("synthetic source stopped", "batches", s.batches.Load(), "dropped", s.dropped.Load())
			return nil
		case now := <-ticker.C:
			l, r := s.Next(s.lagAt(now.Sub(s.start)))
			s.batches.Add(1)
			okL := left.TrySend(l)
			okR := right.TrySend(r)
			if !okL || !okR {
				s.dropped.Add(1)
			}
		}
	}
}

// lagAt returns the right channel lag in samples after elapsed time.
func (s *SyntheticSource) lagAt(elapsed time.Duration) int {
	lag := float64(s.cfg.SyntheticDelay)
	if s.cfg.SyntheticSweep != 0 && s.cfg.SweepPeriod > 0 {
		phase := 2 * math.Pi * elapsed.Seconds() / s.cfg.SweepPeriod.Seconds()
		lag += float64(s.cfg.SyntheticSweep) * math.Sin(phase)
	}
	return max(-s.maxLag, min(s.maxLag, int(math.Round(lag))))
}

// Next generates one batch in which the right leg lags the left leg by lag
// samples. A negative lag makes the left leg lag instead.
func (s *SyntheticSource) Next(lag int) (left, right []float64) {
	n := s.cfg.FramesPerBuffer
	lag = max(-s.maxLag, min(s.maxLag, lag))

	buf := make([]float64, s.maxLag+n)
	copy(buf, s.tail)
	for i := s.maxLag; i < len(buf); i++ {
		buf[i] = s.rng.Float64()*2 - 1
	}

	left = make([]float64, n)
	right = make([]float64, n)
	lagL, lagR := max(-lag, 0), max(lag, 0)
	for i := range n {
		left[i] = buf[s.maxLag+i-lagL]
		right[i] = buf[s.maxLag+i-lagR]
	}

	copy(s.tail, buf[n:])
	return left, right
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
