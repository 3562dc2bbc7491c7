package doa

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-tdoa/internal/pipeline"
	"github.com/teslashibe/go-tdoa/internal/protocol"
	"github.com/teslashibe/go-tdoa/internal/spectral"
)

// TrackerConfig configures the bearing tracker
type TrackerConfig struct {
	PollInterval time.Duration
	HistorySize  int
	SpeedOfSound float64
}

// DefaultTrackerConfig returns sensible defaults
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		PollInterval: 50 * time.Millisecond, // 20Hz
		HistorySize:  100,
		SpeedOfSound: SpeedOfSound,
	}
}

// Result is one delay estimate converted to a bearing
type Result struct {
	Seq       uint64    `json:"seq"`
	Delay     float64   `json:"delay"`
	RawDelay  float64   `json:"raw_delay"`
	Angle     float64   `json:"angle"`   // radians from broadside
	Heading   float64   `json:"heading"` // phi + angle, radians in [-π, π)
	Valid     bool      `json:"valid"`
	Timestamp time.Time `json:"timestamp"`
}

// Bearing returns the stream payload for r.
func (r Result) Bearing() protocol.BearingData {
	return protocol.BearingData{
		Seq:      r.Seq,
		Delay:    r.Delay,
		RawDelay: r.RawDelay,
		Angle:    r.Angle,
		AngleDeg: Degrees(r.Angle),
		Heading:  r.Heading,
		Valid:    r.Valid,
	}
}

// Snapshot is the latest value of every pipeline output. Plots are shared
// with the pipeline and must be treated as read-only.
type Snapshot struct {
	LeftSpectrum   spectral.Plot           `json:"left_spectrum"`
	RightSpectrum  spectral.Plot           `json:"right_spectrum"`
	LeftThreshold  spectral.Plot           `json:"left_threshold"`
	RightThreshold spectral.Plot           `json:"right_threshold"`
	Correlation    spectral.Plot           `json:"correlation"`
	Window         pipeline.WindowSnapshot `json:"window"`
	Latest         Result                  `json:"latest"`
	Updated        time.Time               `json:"updated"`
}

// Tracker drains the pipeline mailboxes on the visualization goroutine and
// serves the results to any number of readers.
type Tracker struct {
	out      *pipeline.Outputs
	geometry protocol.Geometry
	cfg      TrackerConfig
	logger   *slog.Logger

	mu       sync.RWMutex
	snapshot Snapshot
	history  []Result

	// Metrics
	pollCount   int64
	resultCount int64
	invalid     int64

	// Subscribers for real-time updates
	subsMu sync.RWMutex
	subs   map[chan Result]struct{}
}

// NewTracker creates a tracker reading from out
func NewTracker(out *pipeline.Outputs, geometry protocol.Geometry, cfg TrackerConfig, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HistorySize < 1 {
		cfg.HistorySize = DefaultTrackerConfig().HistorySize
	}
	if cfg.SpeedOfSound <= 0 {
		cfg.SpeedOfSound = SpeedOfSound
	}

	return &Tracker{
		out:      out,
		geometry: geometry,
		cfg:      cfg,
		logger:   logger,
		history:  make([]Result, 0, cfg.HistorySize),
		subs:     make(map[chan Result]struct{}),
	}
}

// Run starts the polling loop (blocking, use goroutine). Subscriber channels
// are closed when it returns.
func (t *Tracker) Run(ctx context.Context) error {
	defer t.closeSubscribers()

	ticker := time.NewTicker(t.cfg.PollInterval)
	defer ticker.Stop()

	t.logger.Info("tracker started",
		"poll_interval", t.cfg.PollInterval,
		"history_size", t.cfg.HistorySize,
		"mic_distance", t.geometry.MicDistance,
		"max_delay", MaxDelay(t.geometry.MicDistance, t.cfg.SpeedOfSound),
		"phi", t.geometry.Phi,
	)

	for {
		select {
		case <-ctx.Done():
			t.mu.RLock()
			t.logger.Info("tracker stopped",
				"polls", t.pollCount,
				"results", t.resultCount,
				"invalid", t.invalid,
			)
			t.mu.RUnlock()
			return ctx.Err()
		case <-ticker.C:
			t.Poll()
		}
	}
}

// Poll drains every mailbox once without blocking and reports whether a new
// delay estimate arrived.
func (t *Tracker) Poll() bool {
	est, gotEstimate := t.out.Estimates.TryReceive()

	t.mu.Lock()
	t.pollCount++

	s := &t.snapshot
	updated := gotEstimate
	if v, ok := t.out.LeftSpectrum.TryReceive(); ok {
		s.LeftSpectrum, updated = v, true
	}
	if v, ok := t.out.RightSpectrum.TryReceive(); ok {
		s.RightSpectrum, updated = v, true
	}
	if v, ok := t.out.LeftThreshold.TryReceive(); ok {
		s.LeftThreshold, updated = v, true
	}
	if v, ok := t.out.RightThreshold.TryReceive(); ok {
		s.RightThreshold, updated = v, true
	}
	if v, ok := t.out.Correlation.TryReceive(); ok {
		s.Correlation, updated = v, true
	}
	if v, ok := t.out.Window.TryReceive(); ok {
		s.Window, updated = v, true
	}
	if updated {
		s.Updated = time.Now()
	}

	if !gotEstimate {
		t.mu.Unlock()
		return false
	}

	result := t.resolve(est)
	s.Latest = result
	t.resultCount++
	if !result.Valid {
		t.invalid++
	}
	t.appendHistory(result)
	t.mu.Unlock()

	// Notify subscribers (non-blocking)
	t.notifySubscribers(result)

	if result.Seq%100 == 0 {
		t.logger.Debug("bearing",
			"seq", result.Seq,
			"delay", result.Delay,
			"angle_deg", Degrees(result.Angle),
			"valid", result.Valid,
		)
	}
	return true
}

func (t *Tracker) resolve(est pipeline.Estimate) Result {
	angle, ok := Angle(est.Delay, t.geometry.MicDistance, t.cfg.SpeedOfSound)
	heading := t.geometry.Phi
	if ok {
		heading = NormalizeAngle(t.geometry.Phi + angle)
	}

	ts := est.At
	if ts.IsZero() {
		ts = time.Now()
	}

	return Result{
		Seq:       est.Seq,
		Delay:     est.Delay,
		RawDelay:  est.RawDelay,
		Angle:     angle,
		Heading:   heading,
		Valid:     ok,
		Timestamp: ts,
	}
}

func (t *Tracker) appendHistory(result Result) {
	t.history = append(t.history, result)

	if len(t.history) > t.cfg.HistorySize {
		copy(t.history, t.history[1:])
		t.history = t.history[:t.cfg.HistorySize]
	}
}

func (t *Tracker) notifySubscribers(result Result) {
	t.subsMu.RLock()
	defer t.subsMu.RUnlock()

	for ch := range t.subs {
		select {
		case ch <- result:
		default:
			// Drop if subscriber is slow
		}
	}
}

// Subscribe returns a channel that receives bearing updates
func (t *Tracker) Subscribe() chan Result {
	ch := make(chan Result, 10)

	t.subsMu.Lock()
	t.subs[ch] = struct{}{}
	t.subsMu.Unlock()

	return ch
}

// Unsubscribe removes a subscriber
func (t *Tracker) Unsubscribe(ch chan Result) {
	t.subsMu.Lock()
	if _, exists := t.subs[ch]; exists {
		delete(t.subs, ch)
		close(ch)
	}
	t.subsMu.Unlock()
}

// GetLatest returns the most recent bearing
func (t *Tracker) GetLatest() Result {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snapshot.Latest
}

// Snapshot returns the latest pipeline outputs
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snapshot
}

// History returns a copy of the recent bearings, oldest first
func (t *Tracker) History() []Result {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]Result(nil), t.history...)
}

// Geometry returns the array geometry used for bearings
func (t *Tracker) Geometry() protocol.Geometry {
	return t.geometry
}

// Stats returns tracker statistics
func (t *Tracker) Stats() TrackerStats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	t.subsMu.RLock()
	subs := len(t.subs)
	t.subsMu.RUnlock()

	return TrackerStats{
		PollCount:       t.pollCount,
		ResultCount:     t.resultCount,
		InvalidCount:    t.invalid,
		HistorySize:     len(t.history),
		SubscriberCount: subs,
		CurrentDelay:    t.snapshot.Latest.Delay,
		CurrentHeading:  t.snapshot.Latest.Heading,
		LastUpdate:      t.snapshot.Updated,
	}
}

// TrackerStats contains tracker statistics
type TrackerStats struct {
	PollCount       int64     `json:"poll_count"`
	ResultCount     int64     `json:"result_count"`
	InvalidCount    int64     `json:"invalid_count"`
	HistorySize     int       `json:"history_size"`
	SubscriberCount int       `json:"subscriber_count"`
	CurrentDelay    float64   `json:"current_delay"`
	CurrentHeading  float64   `json:"current_heading"`
	LastUpdate      time.Time `json:"last_update"`
}

func (t *Tracker) closeSubscribers() {
	t.subsMu.Lock()
	defer t.subsMu.Unlock()

	for ch := range t.subs {
		close(ch)
		delete(t.subs, ch)
	}
}
