// go-tdoa: real-time bearing estimation for a stereo microphone pair
// Measures the inter-channel delay with GCC-PHAT and streams it downstream
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/teslashibe/go-tdoa/internal/audio"
	"github.com/teslashibe/go-tdoa/internal/capture"
	"github.com/teslashibe/go-tdoa/internal/config"
	"github.com/teslashibe/go-tdoa/internal/doa"
	"github.com/teslashibe/go-tdoa/internal/health"
	"github.com/teslashibe/go-tdoa/internal/mailbox"
	"github.com/teslashibe/go-tdoa/internal/observe"
	"github.com/teslashibe/go-tdoa/internal/pipeline"
	"github.com/teslashibe/go-tdoa/internal/server"
	"github.com/teslashibe/go-tdoa/internal/telemetry"
)

var (
	version     = "0.3.0"
	configPath  = flag.String("config", "/etc/go-tdoa/config.yaml", "config file path")
	showVersion = flag.Bool("version", false, "print version and exit")
	debug       = flag.Bool("debug", false, "enable debug logging")
	useMock     = flag.Bool("mock", false, "use the synthetic audio source (for testing)")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("go-tdoa %s\n", version)
		os.Exit(0)
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to load config from %s: %v\n", *configPath, err)
		os.Exit(1)
	}

	if *debug {
		cfg.Logging.Level = "debug"
	}
	if *useMock {
		cfg.Audio.Backend = audio.BackendSynthetic
	}

	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	logger.Info("starting go-tdoa",
		"version", version,
		"config", *configPath,
		"backend", cfg.Audio.Backend,
		"telemetry", cfg.Telemetry.Address,
	)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("go-tdoa failed", "error", err)
		os.Exit(1)
	}

	logger.Info("go-tdoa stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	// Metrics
	shutdownMetrics, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "go-tdoa",
		ServiceVersion: version,
	})
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	defer func() {
		if err := shutdownMetrics(context.Background()); err != nil {
			logger.Warn("metrics shutdown error", "error", err)
		}
	}()

	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		return fmt.Errorf("create metrics: %w", err)
	}

	// Audio source
	source, err := audio.New(audioConfig(cfg.Audio), logger)
	if err != nil {
		return err
	}
	defer source.Close()

	logger.Info("audio source ready", "type", source.Name(), "sample_rate", source.SampleRate())

	left := capture.NewQueue("capture_left", cfg.Audio.QueueCapacity)
	right := capture.NewQueue("capture_right", cfg.Audio.QueueCapacity)

	// Pipeline
	policy, err := mailbox.ParsePolicy(cfg.Pipeline.MailboxPolicy)
	if err != nil {
		return err
	}
	outputs := pipeline.NewOutputs(policy)

	pipe, err := pipeline.New(pipelineConfig(cfg, source.SampleRate()), left, right, outputs, logger, metrics)
	if err != nil {
		return err
	}

	// Telemetry
	geometry := cfg.Geometry.Geometry()
	telemetryCfg := telemetry.Config{
		RetryInterval: cfg.Telemetry.RetryInterval,
		DialTimeout:   cfg.Telemetry.DialTimeout,
		WriteTimeout:  cfg.Telemetry.WriteTimeout,
	}
	dialer, address := telemetry.NewDialer(cfg.Telemetry.Address, telemetryCfg)
	telemetryCfg.Address = address
	sink := telemetry.NewSink(telemetryCfg, geometry, dialer, logger, metrics)
	defer sink.Close()

	// Visualization
	tracker := doa.NewTracker(outputs, geometry, doa.TrackerConfig{
		PollInterval: cfg.Visualization.PollInterval,
		HistorySize:  cfg.Visualization.HistorySize,
		SpeedOfSound: cfg.Visualization.SpeedOfSound,
	}, logger)

	logger.Info("geometry",
		"h", geometry.H,
		"k", geometry.K,
		"phi", geometry.Phi,
		"mic_distance", geometry.MicDistance,
		"max_delay_samples", doa.MaxDelay(geometry.MicDistance, cfg.Visualization.SpeedOfSound)*float64(source.SampleRate()),
		"resolution_deg", doa.Degrees(doa.AngularResolution(geometry.MicDistance, float64(source.SampleRate()), cfg.Visualization.SpeedOfSound)),
	)

	checker := health.NewChecker(version)
	checker.Register("audio", func() (bool, string) {
		if source.Healthy() {
			return true, source.Name()
		}
		return false, source.Name() + " not capturing"
	})
	checker.Register("pipeline", func() (bool, string) {
		if pipe.Healthy() {
			return true, ""
		}
		return false, "no estimate yet"
	})
	checker.Register("telemetry", func() (bool, string) {
		if sink.Connected() {
			return true, address
		}
		return false, "connecting to " + address
	})

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := ignoreCanceled(source.Run(ctx, left, right)); err != nil {
			return fmt.Errorf("audio: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return pipelineExit(ctx, pipe.Run(ctx))
	})

	g.Go(func() error {
		// Blocks until the collector accepts, never stalls the pipeline
		if err := sink.Connect(ctx); err != nil {
			return ignoreCanceled(err)
		}
		return ignoreCanceled(sink.Run(ctx, outputs.Delay))
	})

	g.Go(func() error {
		return ignoreCanceled(tracker.Run(ctx))
	})

	if cfg.Server.Enabled {
		srv := server.New(cfg.Server, server.Deps{
			Tracker:   tracker,
			Health:    checker,
			Pipeline:  pipe,
			Telemetry: sink,
			Mailboxes: outputs,
			Metrics:   metrics,
			Config:    cfg,
		}, cfg.Visualization.BroadcastInterval, logger, version)

		g.Go(func() error {
			srv.WSHub().Run(ctx)
			return nil
		})

		g.Go(func() error {
			if err := srv.Start(); err != nil {
				return fmt.Errorf("server: %w", err)
			}
			return nil
		})

		g.Go(func() error {
			<-ctx.Done()
			logger.Info("shutting down server...")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("server shutdown error", "error", err)
			}
			return nil
		})
	}

	printStartupBanner(cfg, version)

	return g.Wait()
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// pipelineExit turns a closed capture leg into a group error unless the
// close came from shutdown.
func pipelineExit(ctx context.Context, err error) error {
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return nil
	case errors.Is(err, capture.ErrClosed) && ctx.Err() != nil:
		return nil
	default:
		return fmt.Errorf("pipeline: %w", err)
	}
}

func audioConfig(c config.AudioConfig) audio.Config {
	return audio.Config{
		Backend:         c.Backend,
		Device:          c.Device,
		SampleRate:      c.SampleRate,
		FramesPerBuffer: c.FramesPerBuffer,
		CaptureCmd:      c.CaptureCmd,
		RestartDelay:    c.RestartDelay,
		SyntheticDelay:  c.Synthetic.DelaySamples,
		SyntheticSweep:  c.Synthetic.SweepSamples,
		SweepPeriod:     c.Synthetic.SweepPeriod,
		SyntheticSeed:   c.Synthetic.Seed,
	}
}

func pipelineConfig(cfg *config.Config, sampleRate int) pipeline.Config {
	pc := pipeline.DefaultConfig(float64(sampleRate))
	pc.CFARGuard = cfg.Pipeline.CFARGuard
	pc.CFARReference = cfg.Pipeline.CFARReference
	pc.CFARBias = cfg.Pipeline.CFARBias
	pc.WindowCapacity = cfg.Pipeline.WindowCapacity
	pc.WindowMinimum = cfg.Pipeline.WindowMinimum
	pc.WhiteningFloor = cfg.Pipeline.WhiteningFloor
	pc.PairTimeout = cfg.Pipeline.PairTimeout
	pc.SmoothingOrder = cfg.Smoothing.Order
	pc.SmoothingSampleRate = cfg.Smoothing.SampleRate
	pc.SmoothingCutoff = cfg.Smoothing.Cutoff
	return pc
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var handler slog.Handler

	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

func printStartupBanner(cfg *config.Config, version string) {
	fmt.Println()
	fmt.Println("🎙  go-tdoa v" + version)
	fmt.Println("   GCC-PHAT bearing estimation")
	fmt.Println()
	fmt.Printf("📡 Telemetry to %s\n", cfg.Telemetry.Address)
	if !cfg.Server.Enabled {
		fmt.Println()
		return
	}
	fmt.Printf("🚀 Running at http://0.0.0.0:%d\n", cfg.Server.Port)
	fmt.Println()
	fmt.Println("   Endpoints:")
	fmt.Println("   GET  /health              - Health check")
	fmt.Println("   GET  /api/bearing         - Current bearing")
	fmt.Println("   WS   /api/bearing/stream  - Real-time bearing stream")
	fmt.Println("   GET  /api/spectrum        - Magnitude spectra and CFAR thresholds")
	fmt.Println("   GET  /api/correlation     - GCC-PHAT cross-correlation")
	fmt.Println("   GET  /api/window          - Raw and smoothed delay window")
	fmt.Println("   GET  /api/history         - Recent bearings")
	fmt.Println("   GET  /api/stats           - Runtime statistics")
	fmt.Println("   GET  /metrics             - Prometheus metrics")
	fmt.Println()
	fmt.Println("   Press Ctrl+C to stop")
	fmt.Println()
}
