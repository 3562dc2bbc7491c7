package protocol

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/teslashibe/go-tdoa/internal/spectral"
)

// MessageType identifies the type of a stream message
type MessageType string

const (
	// Server → client
	TypeBearing     MessageType = "bearing"     // delay and derived angle
	TypeSpectrum    MessageType = "spectrum"    // magnitude plots and CFAR thresholds
	TypeCorrelation MessageType = "correlation" // GCC-PHAT cross-correlation
	TypeWindow      MessageType = "window"      // delay window snapshot
	TypeStats       MessageType = "stats"       // runtime statistics

	// Client → server
	TypeGetStats MessageType = "get_stats"

	// Bidirectional
	TypePing MessageType = "ping"
	TypePong MessageType = "pong"
)

// Message is the envelope of every stream message
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp int64           `json:"ts,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewMessage creates a new message with the current timestamp
func NewMessage(msgType MessageType, data interface{}) (*Message, error) {
	var rawData json.RawMessage
	if data != nil {
		var err error
		rawData, err = json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal message data: %w", err)
		}
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
		Data:      rawData,
	}, nil
}

// ParseData unmarshals the message data into the provided struct
func (m *Message) ParseData(v interface{}) error {
	if m.Data == nil {
		return nil
	}
	return json.Unmarshal(m.Data, v)
}

// Bytes returns the JSON-encoded message
func (m *Message) Bytes() ([]byte, error) {
	return json.Marshal(m)
}

// ParseMessage parses a JSON message from bytes
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	return &msg, nil
}

// BearingData carries one smoothed delay and the angle derived from it
type BearingData struct {
	Seq      uint64  `json:"seq"`
	Delay    float64 `json:"delay"`     // seconds, smoothed
	RawDelay float64 `json:"raw_delay"` // seconds, before smoothing
	Angle    float64 `json:"angle"`     // radians relative to the array broadside
	AngleDeg float64 `json:"angle_deg"`
	Heading  float64 `json:"heading"` // radians, phi + angle wrapped to [-pi, pi)
	Valid    bool    `json:"valid"`   // false when |delay*c/d| > 1
}

// ChannelSpectrum is the diagnostic output of one leg
type ChannelSpectrum struct {
	Magnitude spectral.Plot `json:"magnitude"`
	Threshold spectral.Plot `json:"threshold"`
}

// SpectrumData carries both legs' diagnostic plots
type SpectrumData struct {
	Left  ChannelSpectrum `json:"left"`
	Right ChannelSpectrum `json:"right"`
}

// CorrelationData carries the centered cross-correlation function
type CorrelationData struct {
	Points spectral.Plot `json:"points"`
}

// WindowData carries the raw and smoothed delay window
type WindowData struct {
	Raw      []float64 `json:"raw"`
	Smoothed []float64 `json:"smoothed"`
}

// GetBearing extracts bearing data from a message
func (m *Message) GetBearing() (*BearingData, error) {
	var data BearingData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetWindow extracts window data from a message
func (m *Message) GetWindow() (*WindowData, error) {
	var data WindowData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetSpectrum extracts spectrum data from a message
func (m *Message) GetSpectrum() (*SpectrumData, error) {
	var data SpectrumData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetCorrelation extracts correlation data from a message
func (m *Message) GetCorrelation() (*CorrelationData, error) {
	var data CorrelationData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// FloorDB replaces non-finite dB values, which JSON cannot carry. A silent
// bin is -Inf dB.
const FloorDB = -400.0

// NewSpectrumData builds a spectrum payload with non-finite values replaced
// by FloorDB.
func NewSpectrumData(leftMag, leftTh, rightMag, rightTh spectral.Plot) SpectrumData {
	return SpectrumData{
		Left:  ChannelSpectrum{Magnitude: finite(leftMag), Threshold: finite(leftTh)},
		Right: ChannelSpectrum{Magnitude: finite(rightMag), Threshold: finite(rightTh)},
	}
}

func finite(p spectral.Plot) spectral.Plot {
	out := make(spectral.Plot, len(p))
	for i, pt := range p {
		if math.IsNaN(pt.Y) || math.IsInf(pt.Y, 0) {
			pt.Y = FloorDB
		}
		out[i] = pt
	}
	return out
}
