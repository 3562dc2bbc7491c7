// Package config provides configuration management for go-tdoa
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/teslashibe/go-tdoa/internal/mailbox"
	"github.com/teslashibe/go-tdoa/internal/protocol"
)

// Config is the root configuration structure
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Audio         AudioConfig         `mapstructure:"audio"`
	Geometry      GeometryConfig      `mapstructure:"geometry"`
	Pipeline      PipelineConfig      `mapstructure:"pipeline"`
	Smoothing     SmoothingConfig     `mapstructure:"smoothing"`
	Telemetry     TelemetryConfig     `mapstructure:"telemetry"`
	Visualization VisualizationConfig `mapstructure:"visualization"`
	Logging       LoggingConfig       `mapstructure:"logging"`
}

// ServerConfig configures the HTTP server
type ServerConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	GracefulTimeout time.Duration `mapstructure:"graceful_timeout"`
}

// AudioConfig configures capture
type AudioConfig struct {
	Backend         string        `mapstructure:"backend"` // synthetic, arecord, portaudio
	Device          string        `mapstructure:"device"`
	SampleRate      int           `mapstructure:"sample_rate"`
	FramesPerBuffer int           `mapstructure:"frames_per_buffer"`
	QueueCapacity   int           `mapstructure:"queue_capacity"`
	CaptureCmd      string        `mapstructure:"capture_cmd"`
	RestartDelay    time.Duration `mapstructure:"restart_delay"`

	Synthetic SyntheticConfig `mapstructure:"synthetic"`
}

// SyntheticConfig configures the synthetic test source
type SyntheticConfig struct {
	DelaySamples int           `mapstructure:"delay_samples"`
	SweepSamples int           `mapstructure:"sweep_samples"`
	SweepPeriod  time.Duration `mapstructure:"sweep_period"`
	Seed         int64         `mapstructure:"seed"`
}

// GeometryConfig places the microphone pair. When ParamsFile is set the
// scalars are read from it and the inline values are ignored.
type GeometryConfig struct {
	H           float64 `mapstructure:"h"`
	K           float64 `mapstructure:"k"`
	Phi         float64 `mapstructure:"phi"`
	MicDistance float64 `mapstructure:"mic_distance"`
	ParamsFile  string  `mapstructure:"params_file"`
}

// Geometry returns the scalars as the wire representation.
func (g GeometryConfig) Geometry() protocol.Geometry {
	return protocol.Geometry{H: g.H, K: g.K, Phi: g.Phi, MicDistance: g.MicDistance}
}

// PipelineConfig configures the delay estimator
type PipelineConfig struct {
	CFARGuard      int           `mapstructure:"cfar_guard"`
	CFARReference  int           `mapstructure:"cfar_reference"`
	CFARBias       float64       `mapstructure:"cfar_bias"`
	WindowCapacity int           `mapstructure:"window_capacity"`
	WindowMinimum  int           `mapstructure:"window_minimum"`
	WhiteningFloor float64       `mapstructure:"whitening_floor"`
	PairTimeout    time.Duration `mapstructure:"pair_timeout"`
	MailboxPolicy  string        `mapstructure:"mailbox_policy"` // overwrite, drop_newest
}

// SmoothingConfig configures the zero-phase low-pass over the delay window
type SmoothingConfig struct {
	Order      int     `mapstructure:"order"`
	SampleRate float64 `mapstructure:"sample_rate"`
	Cutoff     float64 `mapstructure:"cutoff"`
}

// TelemetryConfig configures the downstream connection
type TelemetryConfig struct {
	Address       string        `mapstructure:"address"`
	RetryInterval time.Duration `mapstructure:"retry_interval"`
	DialTimeout   time.Duration `mapstructure:"dial_timeout"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
}

// VisualizationConfig configures the bearing tracker and stream
type VisualizationConfig struct {
	SpeedOfSound      float64       `mapstructure:"speed_of_sound"`
	HistorySize       int           `mapstructure:"history_size"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	BroadcastInterval time.Duration `mapstructure:"broadcast_interval"`
}

// LoggingConfig configures logging
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, text
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Enabled:         true,
			Port:            9000,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			GracefulTimeout: 5 * time.Second,
		},
		Audio: AudioConfig{
			Backend:         "arecord",
			Device:          "default",
			SampleRate:      16000,
			FramesPerBuffer: 1024,
			QueueCapacity:   100,
			CaptureCmd:      "arecord",
			RestartDelay:    1 * time.Second,
			Synthetic: SyntheticConfig{
				DelaySamples: 3,
				SweepPeriod:  10 * time.Second,
				Seed:         1,
			},
		},
		Pipeline: PipelineConfig{
			CFARGuard:      10,
			CFARReference:  4,
			CFARBias:       3.5,
			WindowCapacity: 120,
			WindowMinimum:  10,
			WhiteningFloor: 1e-12,
			MailboxPolicy:  "overwrite",
		},
		Smoothing: SmoothingConfig{
			Order:      2,
			SampleRate: 20000,
			Cutoff:     6000,
		},
		Telemetry: TelemetryConfig{
			Address:       "127.0.0.1:9099",
			RetryInterval: 1 * time.Second,
			DialTimeout:   5 * time.Second,
			WriteTimeout:  2 * time.Second,
		},
		Visualization: VisualizationConfig{
			SpeedOfSound:      343,
			HistorySize:       100,
			PollInterval:      50 * time.Millisecond,
			BroadcastInterval: 100 * time.Millisecond,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load loads configuration from file and environment. A geometry params
// file, if configured, is read here.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Config file
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			v.SetConfigType("yaml")
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config %s: %w", path, err)
			}
		} else {
			// A missing file is okay, defaults and environment still apply
			fmt.Fprintf(os.Stderr, "Warning: config file not found at %s, using defaults\n", path)
		}
	}

	// Environment variable overrides
	v.SetEnvPrefix("GOTDOA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Geometry.ParamsFile != "" {
		g, err := LoadGeometryFile(cfg.Geometry.ParamsFile)
		if err != nil {
			return nil, err
		}
		cfg.Geometry.H, cfg.Geometry.K, cfg.Geometry.Phi, cfg.Geometry.MicDistance = g.H, g.K, g.Phi, g.MicDistance
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := Default()

	// Server defaults
	v.SetDefault("server.enabled", d.Server.Enabled)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.graceful_timeout", "5s")

	// Audio defaults
	v.SetDefault("audio.backend", d.Audio.Backend)
	v.SetDefault("audio.device", d.Audio.Device)
	v.SetDefault("audio.sample_rate", d.Audio.SampleRate)
	v.SetDefault("audio.frames_per_buffer", d.Audio.FramesPerBuffer)
	v.SetDefault("audio.queue_capacity", d.Audio.QueueCapacity)
	v.SetDefault("audio.capture_cmd", d.Audio.CaptureCmd)
	v.SetDefault("audio.restart_delay", "1s")
	v.SetDefault("audio.synthetic.delay_samples", d.Audio.Synthetic.DelaySamples)
	v.SetDefault("audio.synthetic.sweep_samples", d.Audio.Synthetic.SweepSamples)
	v.SetDefault("audio.synthetic.sweep_period", "10s")
	v.SetDefault("audio.synthetic.seed", d.Audio.Synthetic.Seed)

	// Geometry has no defaults, it must come from the file, env or params CSV
	v.SetDefault("geometry.h", 0.0)
	v.SetDefault("geometry.k", 0.0)
	v.SetDefault("geometry.phi", 0.0)
	v.SetDefault("geometry.mic_distance", 0.0)
	v.SetDefault("geometry.params_file", "")

	// Pipeline defaults
	v.SetDefault("pipeline.cfar_guard", d.Pipeline.CFARGuard)
	v.SetDefault("pipeline.cfar_reference", d.Pipeline.CFARReference)
	v.SetDefault("pipeline.cfar_bias", d.Pipeline.CFARBias)
	v.SetDefault("pipeline.window_capacity", d.Pipeline.WindowCapacity)
	v.SetDefault("pipeline.window_minimum", d.Pipeline.WindowMinimum)
	v.SetDefault("pipeline.whitening_floor", d.Pipeline.WhiteningFloor)
	v.SetDefault("pipeline.pair_timeout", "0s")
	v.SetDefault("pipeline.mailbox_policy", d.Pipeline.MailboxPolicy)

	// Smoothing defaults
	v.SetDefault("smoothing.order", d.Smoothing.Order)
	v.SetDefault("smoothing.sample_rate", d.Smoothing.SampleRate)
	v.SetDefault("smoothing.cutoff", d.Smoothing.Cutoff)

	// Telemetry defaults
	v.SetDefault("telemetry.address", d.Telemetry.Address)
	v.SetDefault("telemetry.retry_interval", "1s")
	v.SetDefault("telemetry.dial_timeout", "5s")
	v.SetDefault("telemetry.write_timeout", "2s")

	// Visualization defaults
	v.SetDefault("visualization.speed_of_sound", d.Visualization.SpeedOfSound)
	v.SetDefault("visualization.history_size", d.Visualization.HistorySize)
	v.SetDefault("visualization.poll_interval", "50ms")
	v.SetDefault("visualization.broadcast_interval", "100ms")

	// Logging defaults
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
}

// ErrMissingGeometry is returned when no microphone distance is configured.
var ErrMissingGeometry = errors.New("geometry: mic_distance must be set and positive")

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Geometry.MicDistance <= 0 {
		return ErrMissingGeometry
	}

	if c.Audio.SampleRate <= 0 {
		return fmt.Errorf("audio sample_rate must be positive, got %d", c.Audio.SampleRate)
	}
	if c.Audio.FramesPerBuffer <= 0 {
		return fmt.Errorf("audio frames_per_buffer must be positive, got %d", c.Audio.FramesPerBuffer)
	}
	if c.Audio.QueueCapacity < 1 {
		return fmt.Errorf("audio queue_capacity must be at least 1, got %d", c.Audio.QueueCapacity)
	}

	if c.Pipeline.CFARGuard < 0 || c.Pipeline.CFARReference < 1 {
		return fmt.Errorf("invalid cfar cells: guard %d, reference %d", c.Pipeline.CFARGuard, c.Pipeline.CFARReference)
	}
	if c.Pipeline.WindowCapacity < 1 {
		return fmt.Errorf("window_capacity must be at least 1, got %d", c.Pipeline.WindowCapacity)
	}
	if c.Pipeline.WindowMinimum < 1 || c.Pipeline.WindowMinimum > c.Pipeline.WindowCapacity {
		return fmt.Errorf("window_minimum must be between 1 and %d, got %d", c.Pipeline.WindowCapacity, c.Pipeline.WindowMinimum)
	}
	if _, err := mailbox.ParsePolicy(c.Pipeline.MailboxPolicy); err != nil {
		return err
	}

	if c.Smoothing.Cutoff <= 0 || c.Smoothing.Cutoff >= c.Smoothing.SampleRate/2 {
		return fmt.Errorf("smoothing cutoff must be between 0 and %g, got %g", c.Smoothing.SampleRate/2, c.Smoothing.Cutoff)
	}

	if c.Telemetry.Address == "" {
		return errors.New("telemetry address must not be empty")
	}

	if c.Visualization.SpeedOfSound <= 0 {
		return fmt.Errorf("speed_of_sound must be positive, got %f", c.Visualization.SpeedOfSound)
	}

	return nil
}
