// Package server provides the HTTP and WebSocket surface of go-tdoa
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/teslashibe/go-tdoa/internal/config"
	"github.com/teslashibe/go-tdoa/internal/doa"
	"github.com/teslashibe/go-tdoa/internal/health"
	"github.com/teslashibe/go-tdoa/internal/mailbox"
	"github.com/teslashibe/go-tdoa/internal/observe"
	"github.com/teslashibe/go-tdoa/internal/pipeline"
	"github.com/teslashibe/go-tdoa/internal/protocol"
	"github.com/teslashibe/go-tdoa/internal/telemetry"
)

// PipelineStats is implemented by *pipeline.Pipeline
type PipelineStats interface {
	Stats() pipeline.Stats
}

// TelemetryStats is implemented by *telemetry.Sink
type TelemetryStats interface {
	Stats() telemetry.Stats
}

// MailboxStats is implemented by *pipeline.Outputs
type MailboxStats interface {
	Stats() []mailbox.Stats
}

// Deps are the components the API reads from. Any of them may be nil.
// Without a tracker the snapshot endpoints answer 503, the others omit what
// is missing.
type Deps struct {
	Tracker   *doa.Tracker
	Health    *health.Checker
	Pipeline  PipelineStats
	Telemetry TelemetryStats
	Mailboxes MailboxStats
	Metrics   *observe.Metrics
	Config    *config.Config
}

// Server is the HTTP server for go-tdoa
type Server struct {
	app       *fiber.App
	cfg       config.ServerConfig
	deps      Deps
	logger    *slog.Logger
	wsHub     *WSHub
	startTime time.Time
	version   string
}

// New creates a new HTTP server
func New(cfg config.ServerConfig, deps Deps, broadcastInterval time.Duration, logger *slog.Logger, version string) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	app := fiber.New(fiber.Config{
		AppName:               "go-tdoa",
		DisableStartupMessage: true,
		ReadTimeout:           cfg.ReadTimeout,
		WriteTimeout:          cfg.WriteTimeout,
	})

	// Middleware
	app.Use(recover.New())
	app.Use(cors.New())
	app.Use(MetricsMiddleware(deps.Metrics))
	app.Use(LoggingMiddleware(logger))

	s := &Server{
		app:       app,
		cfg:       cfg,
		deps:      deps,
		logger:    logger,
		startTime: time.Now(),
		version:   version,
	}
	s.wsHub = NewWSHub(deps.Tracker, s.Stats, broadcastInterval, deps.Metrics, logger)

	s.registerRoutes()

	return s
}

// registerRoutes sets up all API routes
func (s *Server) registerRoutes() {
	s.app.Get("/health", s.healthHandler)
	s.app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	api := s.app.Group("/api")

	api.Get("/bearing", s.bearingHandler)
	api.Get("/bearing/stream", s.wsHub.UpgradeHandler())
	api.Get("/spectrum", s.spectrumHandler)
	api.Get("/correlation", s.correlationHandler)
	api.Get("/window", s.windowHandler)
	api.Get("/history", s.historyHandler)

	api.Get("/config", s.configHandler)
	api.Get("/stats", s.statsHandler)
}

func unavailable(c *fiber.Ctx, what string) error {
	return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
		"error": what + " not available",
	})
}

// healthHandler returns service health
func (s *Server) healthHandler(c *fiber.Ctx) error {
	if s.deps.Health == nil {
		return c.JSON(fiber.Map{
			"status":         "ok",
			"version":        s.version,
			"uptime_seconds": int64(time.Since(s.startTime).Seconds()),
		})
	}

	status := s.deps.Health.GetStatus()
	status.Version = s.version
	return c.JSON(status)
}

// bearingHandler returns the latest bearing
func (s *Server) bearingHandler(c *fiber.Ctx) error {
	if s.deps.Tracker == nil {
		return unavailable(c, "bearing tracker")
	}
	return c.JSON(s.deps.Tracker.GetLatest().Bearing())
}

// spectrumHandler returns both legs' magnitude plots and CFAR thresholds
func (s *Server) spectrumHandler(c *fiber.Ctx) error {
	if s.deps.Tracker == nil {
		return unavailable(c, "bearing tracker")
	}
	snap := s.deps.Tracker.Snapshot()
	return c.JSON(protocol.NewSpectrumData(snap.LeftSpectrum, snap.LeftThreshold, snap.RightSpectrum, snap.RightThreshold))
}

// correlationHandler returns the centered cross-correlation function
func (s *Server) correlationHandler(c *fiber.Ctx) error {
	if s.deps.Tracker == nil {
		return unavailable(c, "bearing tracker")
	}
	return c.JSON(protocol.CorrelationData{Points: s.deps.Tracker.Snapshot().Correlation})
}

// windowHandler returns the raw and smoothed delay window
func (s *Server) windowHandler(c *fiber.Ctx) error {
	if s.deps.Tracker == nil {
		return unavailable(c, "bearing tracker")
	}
	w := s.deps.Tracker.Snapshot().Window
	return c.JSON(protocol.WindowData{Raw: w.Raw, Smoothed: w.Smoothed})
}

// historyHandler returns recent bearings, oldest first
func (s *Server) historyHandler(c *fiber.Ctx) error {
	if s.deps.Tracker == nil {
		return unavailable(c, "bearing tracker")
	}

	history := s.deps.Tracker.History()
	out := make([]protocol.BearingData, len(history))
	for i, r := range history {
		out[i] = r.Bearing()
	}
	return c.JSON(out)
}

// configHandler returns current configuration
func (s *Server) configHandler(c *fiber.Ctx) error {
	resp := fiber.Map{
		"server": fiber.Map{
			"port":             s.cfg.Port,
			"read_timeout_ms":  s.cfg.ReadTimeout.Milliseconds(),
			"write_timeout_ms": s.cfg.WriteTimeout.Milliseconds(),
		},
	}

	if cfg := s.deps.Config; cfg != nil {
		resp["audio"] = fiber.Map{
			"backend":           cfg.Audio.Backend,
			"device":            cfg.Audio.Device,
			"sample_rate":       cfg.Audio.SampleRate,
			"frames_per_buffer": cfg.Audio.FramesPerBuffer,
			"queue_capacity":    cfg.Audio.QueueCapacity,
		}
		resp["geometry"] = cfg.Geometry.Geometry()
		resp["pipeline"] = fiber.Map{
			"cfar_guard":      cfg.Pipeline.CFARGuard,
			"cfar_reference":  cfg.Pipeline.CFARReference,
			"cfar_bias":       cfg.Pipeline.CFARBias,
			"window_capacity": cfg.Pipeline.WindowCapacity,
			"window_minimum":  cfg.Pipeline.WindowMinimum,
			"pair_timeout_ms": cfg.Pipeline.PairTimeout.Milliseconds(),
			"mailbox_policy":  cfg.Pipeline.MailboxPolicy,
		}
		resp["smoothing"] = fiber.Map{
			"order":       cfg.Smoothing.Order,
			"sample_rate": cfg.Smoothing.SampleRate,
			"cutoff":      cfg.Smoothing.Cutoff,
		}
		resp["telemetry"] = fiber.Map{
			"address":           cfg.Telemetry.Address,
			"retry_interval_ms": cfg.Telemetry.RetryInterval.Milliseconds(),
		}
		resp["visualization"] = fiber.Map{
			"speed_of_sound":        cfg.Visualization.SpeedOfSound,
			"history_size":          cfg.Visualization.HistorySize,
			"broadcast_interval_ms": cfg.Visualization.BroadcastInterval.Milliseconds(),
		}
	}

	return c.JSON(resp)
}

// Stats contains runtime statistics of every component
type Stats struct {
	Pipeline         *pipeline.Stats   `json:"pipeline,omitempty"`
	Telemetry        *telemetry.Stats  `json:"telemetry,omitempty"`
	Tracker          *doa.TrackerStats `json:"tracker,omitempty"`
	Mailboxes        []mailbox.Stats   `json:"mailboxes,omitempty"`
	WebSocketClients int               `json:"websocket_clients"`
	UptimeSeconds    int64             `json:"uptime_seconds"`
}

// Stats collects statistics from every configured component
func (s *Server) Stats() Stats {
	st := Stats{
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
	}
	if s.wsHub != nil {
		st.WebSocketClients = s.wsHub.ClientCount()
	}
	if s.deps.Pipeline != nil {
		p := s.deps.Pipeline.Stats()
		st.Pipeline = &p
	}
	if s.deps.Telemetry != nil {
		t := s.deps.Telemetry.Stats()
		st.Telemetry = &t
	}
	if s.deps.Tracker != nil {
		t := s.deps.Tracker.Stats()
		st.Tracker = &t
	}
	if s.deps.Mailboxes != nil {
		st.Mailboxes = s.deps.Mailboxes.Stats()
	}
	return st
}

// statsHandler returns runtime statistics of every component
func (s *Server) statsHandler(c *fiber.Ctx) error {
	return c.JSON(s.Stats())
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server",
		"port", s.cfg.Port,
	)

	return s.app.Listen(fmt.Sprintf(":%d", s.cfg.Port))
}

// Serve serves on an existing listener.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("starting HTTP server", "addr", ln.Addr().String())
	return s.app.Listener(ln)
}

// WSHub returns the WebSocket hub for external control
func (s *Server) WSHub() *WSHub {
	return s.wsHub
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	// Close WebSocket hub
	s.wsHub.Close()

	// Shutdown Fiber with timeout from context
	done := make(chan error, 1)
	go func() {
		done <- s.app.Shutdown()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
