//go:build portaudio

package audio

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"

	"github.com/teslashibe/go-tdoa/internal/capture"
)

// PortAudioSource captures from a PortAudio input device selected by its
// exact name. An empty name selects the default input device.
type PortAudioSource struct {
	cfg    Config
	logger *slog.Logger

	running atomic.Bool
	batches atomic.Uint64
	dropped atomic.Uint64
}

// NewPortAudioSource creates a PortAudio capture source
func NewPortAudioSource(cfg Config, logger *slog.Logger) (Source, error) {
	if logger == nil {
		logger = slog.Default()
	}
	return &PortAudioSource{cfg: cfg, logger: logger}, nil
}

// Name returns "portaudio".
func (p *PortAudioSource) Name() string { return BackendPortAudio }

// SampleRate returns the configured rate.
func (p *PortAudioSource) SampleRate() int { return p.cfg.SampleRate }

// Healthy reports whether the stream is running.
func (p *PortAudioSource) Healthy() bool { return p.running.Load() }

// Close is a no-op; Run releases the stream when its context ends.
func (p *PortAudioSource) Close() error { return nil }

func (p *PortAudioSource) device() (*portaudio.DeviceInfo, error) {
	if p.cfg.Device == "" || p.cfg.Device == "default" {
		return portaudio.DefaultInputDevice()
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	for _, d := range devices {
		if d.Name == p.cfg.Device && d.MaxInputChannels >= stereo {
			return d, nil
		}
	}
	return nil, fmt.Errorf("no stereo input device named %q", p.cfg.Device)
}

// Run opens a stereo callback stream and feeds the queues until ctx is done.
func (p *PortAudioSource) Run(ctx context.Context, left, right *capture.Queue) error {
	defer left.Close()
	defer right.Close()

	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("audio: portaudio init: %w", err)
	}
	defer portaudio.Terminate()

	dev, err := p.device()
	if err != nil {
		return fmt.Errorf("audio: %w", err)
	}

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: stereo,
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      float64(p.cfg.SampleRate),
		FramesPerBuffer: p.cfg.FramesPerBuffer,
	}

	stream, err := portaudio.OpenStream(params, func(in []float32) {
		p.batches.Add(1)
		if !sendStereo(in, left, right) {
			p.dropped.Add(1)
		}
	})
	if err != nil {
		return fmt.Errorf("audio: open stream: %w", err)
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return fmt.Errorf("audio: start stream: %w", err)
	}
	p.running.Store(true)

	p.logger.Info("portaudio capture started",
		"device", dev.Name,
		"sample_rate", p.cfg.SampleRate,
		"frames_per_buffer", p.cfg.FramesPerBuffer,
	)

	<-ctx.Done()
	p.running.Store(false)

	if err := stream.Stop(); err != nil {
		p.logger.Warn("portaudio stop failed", "error", err)
	}
	p.logger.Info("portaudio capture stopped", "batches", p.batches.Load(), "dropped", p.dropped.Load())
	return nil
}
