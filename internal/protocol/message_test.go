package protocol

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/teslashibe/go-tdoa/internal/spectral"
)

func TestNewMessage(t *testing.T) {
	msg, err := NewMessage(TypeBearing, BearingData{Delay: 1e-4})
	if err != nil {
		t.Fatalf("NewMessage() error = %v", err)
	}

	if msg.Type != TypeBearing {
		t.Errorf("Type = %v, want %v", msg.Type, TypeBearing)
	}

	if msg.Timestamp == 0 {
		t.Error("Timestamp should be set")
	}
}

func TestMessageRoundTrip(t *testing.T) {
	original := BearingData{Seq: 7, Delay: 5e-5, Angle: 0.3, Valid: true}

	msg, err := NewMessage(TypeBearing, original)
	if err != nil {
		t.Fatalf("NewMessage() error = %v", err)
	}

	bytes, err := msg.Bytes()
	if err != nil {
		t.Fatalf("Bytes() error = %v", err)
	}

	parsed, err := ParseMessage(bytes)
	if err != nil {
		t.Fatalf("ParseMessage() error = %v", err)
	}

	got, err := parsed.GetBearing()
	if err != nil {
		t.Fatalf("GetBearing() error = %v", err)
	}

	if *got != original {
		t.Errorf("got %+v, want %+v", *got, original)
	}
}

func TestParseMessage_Invalid(t *testing.T) {
	if _, err := ParseMessage([]byte("not json")); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestNewSpectrumData_MarshalsSilentBins(t *testing.T) {
	mag := spectral.Plot{{X: 0, Y: math.Inf(-1)}, {X: 10, Y: 20}}
	th := spectral.Plot{{X: 0, Y: math.NaN()}, {X: 10, Y: 5}}

	data := NewSpectrumData(mag, th, mag, th)

	if _, err := json.Marshal(data); err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if data.Left.Magnitude[0].Y != FloorDB || data.Right.Threshold[0].Y != FloorDB {
		t.Errorf("non-finite values not floored: %+v", data)
	}
	if data.Left.Magnitude[1].Y != 20 {
		t.Errorf("finite value changed: %g", data.Left.Magnitude[1].Y)
	}
	if !math.IsInf(mag[0].Y, -1) {
		t.Error("input plot modified")
	}
}

func TestGetWindow(t *testing.T) {
	msg, _ := NewMessage(TypeWindow, WindowData{Raw: []float64{1, 2}, Smoothed: []float64{1.5}})

	w, err := msg.GetWindow()
	if err != nil {
		t.Fatalf("GetWindow() error = %v", err)
	}
	if len(w.Raw) != 2 || w.Smoothed[0] != 1.5 {
		t.Errorf("unexpected window %+v", w)
	}
}
