package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-tdoa/internal/capture"
)

const stereo = 2

// ArecordSource streams interleaved stereo FLOAT_LE samples from arecord.
// The command is restarted after RestartDelay whenever it exits.
type ArecordSource struct {
	cfg    Config
	logger *slog.Logger

	mu  sync.Mutex
	cmd *exec.Cmd

	running       atomic.Bool
	batches       atomic.Uint64
	dropped       atomic.Uint64
	captureErrors atomic.Uint64
}

// NewArecordSource creates an ALSA capture source
func NewArecordSource(cfg Config, logger *slog.Logger) *ArecordSource {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.CaptureCmd == "" {
		cfg.CaptureCmd = "arecord"
	}
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = time.Second
	}
	return &ArecordSource{cfg: cfg, logger: logger}
}

// Name returns "arecord".
func (a *ArecordSource) Name() string { return BackendArecord }

// SampleRate returns the configured rate.
func (a *ArecordSource) SampleRate() int { return a.cfg.SampleRate }

// Healthy reports whether the capture command is streaming.
func (a *ArecordSource) Healthy() bool { return a.running.Load() }

// IsAvailable checks if the capture command is installed
func (a *ArecordSource) IsAvailable() bool {
	_, err := exec.LookPath(a.cfg.CaptureCmd)
	return err == nil
}

func (a *ArecordSource) args() []string {
	return []string{
		"-D", a.cfg.Device,
		"-f", "FLOAT_LE",
		"-c", strconv.Itoa(stereo),
		"-r", strconv.Itoa(a.cfg.SampleRate),
		"-t", "raw",
		"-q",
	}
}

// Run starts the capture command and feeds the queues until ctx is done.
func (a *ArecordSource) Run(ctx context.Context, left, right *capture.Queue) error {
	defer left.Close()
	defer right.Close()

	a.logger.Info("starting audio capture",
		"command", a.cfg.CaptureCmd,
		"device", a.cfg.Device,
		"sample_rate", a.cfg.SampleRate,
		"frames_per_buffer", a.cfg.FramesPerBuffer,
	)

	for {
		err := a.runOnce(ctx, left, right)
		if ctx.Err() != nil {
			a.logger.Info("audio capture stopped", "batches", a.batches.Load(), "dropped", a.dropped.Load())
			return nil
		}

		a.captureErrors.Add(1)
		a.logger.Warn("capture command exited, restarting",
			"error", err,
			"retry_in", a.cfg.RestartDelay,
		)

		select {
		case <-time.After(a.cfg.RestartDelay):
		case <-ctx.Done():
			return nil
		}
	}
}

func (a *ArecordSource) runOnce(ctx context.Context, left, right *capture.Queue) error {
	cmd := exec.CommandContext(ctx, a.cfg.CaptureCmd, a.args()...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start capture: %w", err)
	}

	a.mu.Lock()
	a.cmd = cmd
	a.mu.Unlock()

	a.running.Store(true)
	readErr := a.stream(stdout, left, right)
	a.running.Store(false)

	waitErr := cmd.Wait()
	a.mu.Lock()
	a.cmd = nil
	a.mu.Unlock()

	if readErr != nil {
		return readErr
	}
	return waitErr
}

// stream reads whole stereo buffers from r until it fails. A clean EOF is
// reported as io.ErrUnexpectedEOF since capture should never end by itself.
func (a *ArecordSource) stream(r io.Reader, left, right *capture.Queue) error {
	raw := make([]byte, a.cfg.FramesPerBuffer*stereo*4)
	samples := make([]float32, a.cfg.FramesPerBuffer*stereo)

	for {
		if _, err := io.ReadFull(r, raw); err != nil {
			if errors.Is(err, io.EOF) {
				return io.ErrUnexpectedEOF
			}
			return fmt.Errorf("read capture: %w", err)
		}

		decodeFloat32LE(samples, raw)
		a.batches.Add(1)
		if !sendStereo(samples, left, right) {
			a.dropped.Add(1)
		}
	}
}

// decodeFloat32LE decodes little-endian IEEE 754 samples from src into dst.
func decodeFloat32LE(dst []float32, src []byte) {
	for i := range dst {
		dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(src[i*4:]))
	}
}

// Close kills a running capture command.
func (a *ArecordSource) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cmd != nil && a.cmd.Process != nil {
		return a.cmd.Process.Kill()
	}
	return nil
}

// Stats contains capture statistics
type Stats struct {
	Batches       uint64 `json:"batches"`
	Dropped       uint64 `json:"dropped"`
	CaptureErrors uint64 `json:"capture_errors"`
	Running       bool   `json:"running"`
}

// Stats returns capture statistics
func (a *ArecordSource) Stats() Stats {
	return Stats{
		Batches:       a.batches.Load(),
		Dropped:       a.dropped.Load(),
		CaptureErrors: a.captureErrors.Load(),
		Running:       a.running.Load(),
	}
}
