// Package telemetry delivers delay estimates to the downstream collector
// over a persistent connection that is rebuilt whenever it fails.
//
// Delivery is at most once: a record whose write fails is not retried.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-tdoa/internal/mailbox"
	"github.com/teslashibe/go-tdoa/internal/observe"
	"github.com/teslashibe/go-tdoa/internal/protocol"
)

// Config holds telemetry sink configuration
type Config struct {
	Address       string        // host:port, tcp://host:port or ws(s):// URL
	RetryInterval time.Duration // Fixed delay between connection attempts
	DialTimeout   time.Duration // Per-attempt connect timeout
	WriteTimeout  time.Duration // Per-record write timeout
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Address:       "127.0.0.1:9099",
		RetryInterval: 1 * time.Second,
		DialTimeout:   5 * time.Second,
		WriteTimeout:  2 * time.Second,
	}
}

// Sink owns the collector connection. It is meant to be driven by a single
// goroutine; Stats and Connected may be called from anywhere.
type Sink struct {
	cfg      Config
	geometry protocol.Geometry
	dialer   Dialer
	logger   *slog.Logger
	metrics  *observe.Metrics

	conn Conn
	buf  []byte

	connected  atomic.Bool
	dials      atomic.Uint64
	sent       atomic.Uint64
	failed     atomic.Uint64
	reconnects atomic.Uint64
}

// NewSink creates an unconnected sink. Call Connect, or use Dial.
func NewSink(cfg Config, geometry protocol.Geometry, dialer Dialer, logger *slog.Logger, metrics *observe.Metrics) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = DefaultConfig().RetryInterval
	}

	return &Sink{
		cfg:      cfg,
		geometry: geometry,
		dialer:   dialer,
		logger:   logger,
		metrics:  metrics,
		buf:      make([]byte, 0, 128),
	}
}

// Dial creates a sink and connects it, retrying every RetryInterval until a
// connection is established or ctx is done. This can block for an unbounded
// time and must not run on the pipeline goroutine.
func Dial(ctx context.Context, cfg Config, geometry protocol.Geometry, dialer Dialer, logger *slog.Logger, metrics *observe.Metrics) (*Sink, error) {
	s := NewSink(cfg, geometry, dialer, logger, metrics)
	if err := s.Connect(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Connect establishes the first connection with the same retry policy as
// Dial.
func (s *Sink) Connect(ctx context.Context) error {
	if s.conn != nil {
		return nil
	}
	return s.connect(ctx)
}

// connect loops until the dialer succeeds
func (s *Sink) connect(ctx context.Context) error {
	for attempt := 1; ; attempt++ {
		s.dials.Add(1)
		conn, err := s.dialer.Dial(ctx, s.cfg.Address)
		if err == nil {
			s.conn = conn
			s.connected.Store(true)
			s.logger.Info("connected to telemetry collector",
				"address", s.cfg.Address,
				"attempts", attempt,
			)
			return nil
		}

		s.logger.Warn("telemetry connection failed",
			"address", s.cfg.Address,
			"error", err,
			"attempt", attempt,
			"retry_in", s.cfg.RetryInterval,
		)

		select {
		case <-time.After(s.cfg.RetryInterval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Sink) reconnect(ctx context.Context) error {
	s.reconnects.Add(1)
	s.metrics.RecordReconnect(ctx)
	return s.connect(ctx)
}

func (s *Sink) closeConn() {
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.connected.Store(false)
}

// Send writes one record. On a write error the connection is dropped and
// rebuilt before Send returns the write error; the record is lost.
func (s *Sink) Send(ctx context.Context, delay float64, ts time.Time) error {
	if s.conn == nil {
		if err := s.reconnect(ctx); err != nil {
			return fmt.Errorf("telemetry: not connected: %w", err)
		}
	}

	rec := protocol.Record{
		TimestampMs: ts.UnixMilli(),
		Geometry:    s.geometry,
		Delay:       delay,
	}
	s.buf = rec.AppendLine(s.buf[:0])

	if err := s.conn.WriteLine(s.buf); err != nil {
		s.failed.Add(1)
		s.metrics.RecordTelemetry(ctx, false)
		s.logger.Warn("telemetry write failed, reconnecting", "error", err)

		s.closeConn()
		werr := fmt.Errorf("telemetry: write: %w", err)
		if rerr := s.reconnect(ctx); rerr != nil {
			return errors.Join(werr, rerr)
		}
		return werr
	}

	s.sent.Add(1)
	s.metrics.RecordTelemetry(ctx, true)
	return nil
}

// Run forwards every delay published in delays until ctx is done. Each
// record is stamped with the time it was taken from the mailbox.
func (s *Sink) Run(ctx context.Context, delays *mailbox.Mailbox[float64]) error {
	s.logger.Info("telemetry sink started", "address", s.cfg.Address)

	for {
		delay, err := delays.Receive(ctx)
		if err != nil {
			s.logger.Info("telemetry sink stopped",
				"sent", s.sent.Load(),
				"failed", s.failed.Load(),
				"reconnects", s.reconnects.Load(),
			)
			return err
		}

		if err := s.Send(ctx, delay, time.Now()); err != nil {
			s.logger.Debug("telemetry record dropped", "error", err)
		}
	}
}

// Close drops the connection.
func (s *Sink) Close() error {
	s.closeConn()
	return nil
}

// Connected returns connection status
func (s *Sink) Connected() bool {
	return s.connected.Load()
}

// Stats returns sink statistics
type Stats struct {
	Address    string `json:"address"`
	Connected  bool   `json:"connected"`
	Dials      uint64 `json:"dials"`
	Sent       uint64 `json:"sent"`
	Failed     uint64 `json:"failed"`
	Reconnects uint64 `json:"reconnects"`
}

// Stats returns sink statistics
func (s *Sink) Stats() Stats {
	return Stats{
		Address:    s.cfg.Address,
		Connected:  s.connected.Load(),
		Dials:      s.dials.Load(),
		Sent:       s.sent.Load(),
		Failed:     s.failed.Load(),
		Reconnects: s.reconnects.Load(),
	}
}
