// Package pipeline runs the GCC-PHAT delay estimator. Each cycle pairs one
// left and one right batch, estimates the inter-channel delay with sub-sample
// precision, smooths it over a bounded window and publishes the results.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/cmplx"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-tdoa/internal/capture"
	"github.com/teslashibe/go-tdoa/internal/filter"
	"github.com/teslashibe/go-tdoa/internal/observe"
	"github.com/teslashibe/go-tdoa/internal/spectral"
)

// Cycle-local failures. A cycle that fails with one of these is skipped and
// nothing is published for it.
var (
	ErrFrameMismatch = errors.New("pipeline: left and right batches differ in length")
	ErrNoPeak        = errors.New("pipeline: no interpolatable correlation peak")
	ErrWindowFilling = errors.New("pipeline: delay window not full enough to smooth")
)

// Config configures the estimator
type Config struct {
	SampleRate float64

	CFARGuard     int
	CFARReference int
	CFARBias      float64

	WindowCapacity int
	WindowMinimum  int

	// WhiteningFloor is the cross-spectrum magnitude below which a bin is
	// zeroed instead of normalized.
	WhiteningFloor float64

	// PairTimeout bounds the wait for each leg. Zero waits forever.
	PairTimeout time.Duration

	SmoothingOrder      int
	SmoothingSampleRate float64
	SmoothingCutoff     float64
}

// DefaultConfig returns the estimator defaults for the given sample rate
func DefaultConfig(sampleRate float64) Config {
	return Config{
		SampleRate:          sampleRate,
		CFARGuard:           10,
		CFARReference:       4,
		CFARBias:            3.5,
		WindowCapacity:      120,
		WindowMinimum:       10,
		WhiteningFloor:      1e-12,
		SmoothingOrder:      2,
		SmoothingSampleRate: 20000,
		SmoothingCutoff:     6000,
	}
}

// Cycle holds everything one iteration produced
type Cycle struct {
	LeftSpectrum   spectral.Plot
	RightSpectrum  spectral.Plot
	LeftThreshold  spectral.Plot
	RightThreshold spectral.Plot
	Correlation    spectral.Plot

	// Peak is the refined correlation maximum; Peak.X is the raw delay.
	Peak     spectral.Point
	RawDelay float64
	Delay    float64
	Window   WindowSnapshot
}

// Pipeline owns the spectral engine and the delay window. Both are touched
// only by the goroutine that calls Run or Process.
type Pipeline struct {
	cfg      Config
	engine   *spectral.Engine
	smoother *Smoother

	left, right *capture.Queue
	out         *Outputs

	logger  *slog.Logger
	metrics *observe.Metrics

	cycles   atomic.Uint64
	emitted  atomic.Uint64
	noPeak   atomic.Uint64
	filling  atomic.Uint64
	mismatch atomic.Uint64
	stalled  atomic.Uint64
	lastRaw  atomic.Uint64 // math.Float64bits of the last raw delay
	lastOut  atomic.Uint64 // math.Float64bits of the last smoothed delay

	leftDrops, rightDrops uint64
}

// New creates a pipeline reading from left and right and publishing into
// out. metrics may be nil.
func New(cfg Config, left, right *capture.Queue, out *Outputs, logger *slog.Logger, metrics *observe.Metrics) (*Pipeline, error) {
	if logger == nil {
		logger = slog.Default()
	}

	engine, err := spectral.NewEngine(cfg.SampleRate)
	if err != nil {
		return nil, err
	}

	zp, err := filter.NewZeroPhaseLowpass(cfg.SmoothingOrder, cfg.SmoothingCutoff, cfg.SmoothingSampleRate)
	if err != nil {
		return nil, fmt.Errorf("pipeline: smoothing filter: %w", err)
	}

	return &Pipeline{
		cfg:      cfg,
		engine:   engine,
		smoother: NewSmoother(cfg.WindowCapacity, cfg.WindowMinimum, zp),
		left:     left,
		right:    right,
		out:      out,
		logger:   logger,
		metrics:  metrics,
	}, nil
}

// Process runs one cycle on a frame. It returns ErrFrameMismatch, ErrNoPeak
// (wrapping the refinement failure) or ErrWindowFilling when the cycle
// produced nothing to publish.
func (p *Pipeline) Process(frame capture.Frame) (Cycle, error) {
	n := len(frame.Left)
	if n == 0 || n != len(frame.Right) {
		return Cycle{}, fmt.Errorf("%w: %d vs %d", ErrFrameMismatch, len(frame.Left), len(frame.Right))
	}

	ls, err := p.engine.Forward(frame.Left)
	if err != nil {
		return Cycle{}, err
	}
	rs, err := p.engine.Forward(frame.Right)
	if err != nil {
		return Cycle{}, err
	}

	var c Cycle
	c.LeftSpectrum = p.engine.MagnitudeDB(ls)
	c.RightSpectrum = p.engine.MagnitudeDB(rs)
	c.LeftThreshold = spectral.CFARPlot(c.LeftSpectrum, p.cfg.CFARGuard, p.cfg.CFARReference, p.cfg.CFARBias)
	c.RightThreshold = spectral.CFARPlot(c.RightSpectrum, p.cfg.CFARGuard, p.cfg.CFARReference, p.cfg.CFARBias)

	corr, err := p.engine.Inverse(p.whiten(crossSpectrum(ls, rs)))
	if err != nil {
		return Cycle{}, err
	}
	c.Correlation = p.engine.CenterTimeDomain(corr)

	c.Peak, err = spectral.RefinePeak(c.Correlation)
	if err != nil {
		return Cycle{}, fmt.Errorf("%w: %w", ErrNoPeak, err)
	}
	c.RawDelay = c.Peak.X

	smoothed, snap, ok := p.smoother.Add(c.RawDelay)
	if !ok {
		return Cycle{}, fmt.Errorf("%w: %d of %d", ErrWindowFilling, p.smoother.Len(), p.cfg.WindowMinimum)
	}
	c.Delay = smoothed
	c.Window = snap

	return c, nil
}

// crossSpectrum returns L[k] * conj(R[k]).
func crossSpectrum(l, r spectral.Spectrum) spectral.Spectrum {
	out := make(spectral.Spectrum, len(l))
	for i := range l {
		out[i] = l[i] * cmplx.Conj(r[i])
	}
	return out
}

// whiten applies the phase transform in place: every bin is scaled to unit
// magnitude, bins below the floor are zeroed.
func (p *Pipeline) whiten(s spectral.Spectrum) spectral.Spectrum {
	for i, m := range s.Magnitudes() {
		if m < p.cfg.WhiteningFloor || m == 0 {
			s[i] = 0
			continue
		}
		s[i] /= complex(m, 0)
	}
	return s
}

// Run processes frames until ctx is done or a capture leg is closed. A closed
// leg ends the run with an error wrapping capture.ErrClosed.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("pipeline started",
		"sample_rate", p.cfg.SampleRate,
		"window_capacity", p.cfg.WindowCapacity,
		"window_minimum", p.cfg.WindowMinimum,
		"pair_timeout", p.cfg.PairTimeout,
	)

	for {
		frame, err := capture.ReceivePair(ctx, p.left, p.right, p.cfg.PairTimeout)
		switch {
		case errors.Is(err, capture.ErrClosed):
			p.logger.Info("capture closed, pipeline stopping",
				"cycles", p.cycles.Load(),
				"emitted", p.emitted.Load(),
			)
			return err
		case errors.Is(err, capture.ErrStalled):
			p.stalled.Add(1)
			p.metrics.RecordCycle(ctx, observe.OutcomeStalled, 0)
			p.logger.Debug("capture leg stalled", "timeout", p.cfg.PairTimeout)
			continue
		case err != nil:
			return err
		}

		p.step(ctx, frame)
	}
}

func (p *Pipeline) step(ctx context.Context, frame capture.Frame) {
	start := time.Now()
	p.cycles.Add(1)
	p.recordCaptureDrops(ctx)

	cycle, err := p.Process(frame)
	elapsed := time.Since(start)

	if err != nil {
		outcome := observe.OutcomeError
		switch {
		case errors.Is(err, ErrWindowFilling):
			p.filling.Add(1)
			outcome = observe.OutcomeWindowFilling
		case errors.Is(err, ErrNoPeak):
			p.noPeak.Add(1)
			outcome = observe.OutcomeNoPeak
		case errors.Is(err, ErrFrameMismatch):
			p.mismatch.Add(1)
			outcome = observe.OutcomeFrameMismatch
		default:
			p.logger.Warn("pipeline cycle failed", "error", err)
		}
		p.metrics.RecordCycle(ctx, outcome, elapsed)
		p.logger.Debug("cycle skipped", "reason", err)
		return
	}

	seq := p.emitted.Add(1)
	p.lastRaw.Store(math.Float64bits(cycle.RawDelay))
	p.lastOut.Store(math.Float64bits(cycle.Delay))

	p.out.publish(ctx, cycle, seq, p.metrics)
	p.metrics.RecordCycle(ctx, observe.OutcomeEmitted, elapsed)
	p.metrics.RecordDelay(ctx, cycle.Delay)

	if seq%100 == 0 {
		p.logger.Debug("delay estimate",
			"seq", seq,
			"raw_delay", cycle.RawDelay,
			"delay", cycle.Delay,
			"elapsed", elapsed,
		)
	}
}

// recordCaptureDrops forwards newly dropped capture batches to the metrics.
func (p *Pipeline) recordCaptureDrops(ctx context.Context) {
	if l := p.left.Dropped(); l > p.leftDrops {
		p.metrics.RecordDrops(ctx, p.left.Name(), int64(l-p.leftDrops))
		p.leftDrops = l
	}
	if r := p.right.Dropped(); r > p.rightDrops {
		p.metrics.RecordDrops(ctx, p.right.Name(), int64(r-p.rightDrops))
		p.rightDrops = r
	}
}

// Stats contains pipeline statistics
type Stats struct {
	Cycles         uint64  `json:"cycles"`
	Emitted        uint64  `json:"emitted"`
	NoPeak         uint64  `json:"no_peak"`
	WindowFilling  uint64  `json:"window_filling"`
	FrameMismatch  uint64  `json:"frame_mismatch"`
	Stalled        uint64  `json:"stalled"`
	LeftDropped    uint64  `json:"left_dropped"`
	RightDropped   uint64  `json:"right_dropped"`
	LastRawDelay   float64 `json:"last_raw_delay"`
	LastDelay      float64 `json:"last_delay"`
	SampleRate     float64 `json:"sample_rate"`
	WindowCapacity int     `json:"window_capacity"`
}

// Stats returns pipeline statistics. It is safe to call from any goroutine.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Cycles:         p.cycles.Load(),
		Emitted:        p.emitted.Load(),
		NoPeak:         p.noPeak.Load(),
		WindowFilling:  p.filling.Load(),
		FrameMismatch:  p.mismatch.Load(),
		Stalled:        p.stalled.Load(),
		LeftDropped:    p.left.Dropped(),
		RightDropped:   p.right.Dropped(),
		LastRawDelay:   math.Float64frombits(p.lastRaw.Load()),
		LastDelay:      math.Float64frombits(p.lastOut.Load()),
		SampleRate:     p.cfg.SampleRate,
		WindowCapacity: p.cfg.WindowCapacity,
	}
}

// Healthy reports whether the pipeline has emitted an estimate.
func (p *Pipeline) Healthy() bool {
	return p.emitted.Load() > 0
}
