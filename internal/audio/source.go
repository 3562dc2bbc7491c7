// Package audio captures the stereo microphone pair and feeds each channel
// into its capture queue. Capture never blocks on the pipeline: a batch that
// does not fit is dropped by the queue.
package audio

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/teslashibe/go-tdoa/internal/capture"
)

// Backend names accepted by New.
const (
	BackendSynthetic = "synthetic"
	BackendArecord   = "arecord"
	BackendPortAudio = "portaudio"
)

// Config holds audio capture configuration
type Config struct {
	Backend         string        // synthetic, arecord or portaudio
	Device          string        // ALSA device or exact PortAudio device name
	SampleRate      int           // Sample rate in Hz (default: 16000)
	FramesPerBuffer int           // Frames per channel in one batch (default: 1024)
	CaptureCmd      string        // Command for ALSA capture (default: "arecord")
	RestartDelay    time.Duration // Pause before restarting a failed capture command

	// Synthetic source only
	SyntheticDelay int           // Right channel lag in samples
	SyntheticSweep int           // Amplitude of the delay sweep in samples, 0 disables
	SweepPeriod    time.Duration // Period of the delay sweep
	SyntheticSeed  int64
}

// DefaultConfig returns sensible defaults for a USB stereo microphone pair
func DefaultConfig() Config {
	return Config{
		Backend:         BackendArecord,
		Device:          "default",
		SampleRate:      16000,
		FramesPerBuffer: 1024,
		CaptureCmd:      "arecord",
		RestartDelay:    time.Second,
		SyntheticDelay:  3,
		SweepPeriod:     10 * time.Second,
		SyntheticSeed:   1,
	}
}

// Source produces paired left and right batches. Run owns the producer side
// of both queues and closes them when it returns.
type Source interface {
	Run(ctx context.Context, left, right *capture.Queue) error
	Name() string
	Healthy() bool
	SampleRate() int
	Close() error
}

// New creates the source selected by cfg.Backend.
func New(cfg Config, logger *slog.Logger) (Source, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("audio: invalid sample rate %d", cfg.SampleRate)
	}
	if cfg.FramesPerBuffer <= 0 {
		return nil, fmt.Errorf("audio: invalid frames per buffer %d", cfg.FramesPerBuffer)
	}

	switch cfg.Backend {
	case BackendSynthetic:
		return NewSyntheticSource(cfg, logger), nil
	case BackendArecord, "":
		src := NewArecordSource(cfg, logger)
		if !src.IsAvailable() {
			logger.Warn("capture command not found, will keep retrying", "cmd", src.cfg.CaptureCmd)
		}
		return src, nil
	case BackendPortAudio:
		return NewPortAudioSource(cfg, logger)
	default:
		return nil, fmt.Errorf("audio: unknown backend %q", cfg.Backend)
	}
}

// Deinterleave splits frame-interleaved samples into one slice per channel.
// A trailing partial frame is ignored.
func Deinterleave(interleaved []float32, channels int) [][]float64 {
	if channels <= 0 {
		return nil
	}

	frames := len(interleaved) / channels
	out := make([][]float64, channels)
	for c := range out {
		out[c] = make([]float64, frames)
	}

	for f := range frames {
		base := f * channels
		for c := range channels {
			out[c][f] = float64(interleaved[base+c])
		}
	}
	return out
}

// sendStereo splits one interleaved stereo buffer and offers each half to its
// queue. It reports whether both halves were accepted.
func sendStereo(interleaved []float32, left, right *capture.Queue) bool {
	ch := Deinterleave(interleaved, 2)
	l := left.TrySend(ch[0])
	r := right.TrySend(ch[1])
	return l && r
}
