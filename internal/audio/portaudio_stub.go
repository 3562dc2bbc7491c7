//go:build !portaudio

package audio

import (
	"errors"
	"log/slog"
)

// ErrPortAudioUnavailable is returned when the binary was built without the
// portaudio build tag.
var ErrPortAudioUnavailable = errors.New("audio: portaudio support not compiled in (build with -tags portaudio)")

// NewPortAudioSource reports that PortAudio support is missing.
func NewPortAudioSource(cfg Config, logger *slog.Logger) (Source, error) {
	return nil, ErrPortAudioUnavailable
}
