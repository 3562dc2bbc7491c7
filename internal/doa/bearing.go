// Package doa turns inter-channel delays into bearings and keeps the latest
// pipeline outputs for the visualization surfaces.
package doa

import (
	"math"

	"github.com/teslashibe/go-tdoa/internal/spectral"
)

// SpeedOfSound in air at 20 °C, m/s
const SpeedOfSound = 343.0

// Angle converts a delay in seconds to the angle of arrival in radians
// relative to the array broadside, asin(delay*c/d). It reports false when
// the delay is longer than the acoustic path between the microphones allows.
func Angle(delay, micDistance, speedOfSound float64) (float64, bool) {
	if micDistance <= 0 || speedOfSound <= 0 {
		return 0, false
	}

	arg := delay * speedOfSound / micDistance
	if math.IsNaN(arg) || math.Abs(arg) > 1 {
		return 0, false
	}
	return math.Asin(arg), true
}

// MaxDelay is the largest physically possible delay for the pair.
func MaxDelay(micDistance, speedOfSound float64) float64 {
	if speedOfSound <= 0 {
		return 0
	}
	return micDistance / speedOfSound
}

// AngularResolution is the angle step one sample of delay makes at
// broadside.
func AngularResolution(micDistance, sampleRate, speedOfSound float64) float64 {
	if sampleRate <= 0 {
		return 0
	}
	a, ok := Angle(1/sampleRate, micDistance, speedOfSound)
	if !ok {
		return math.Pi / 2
	}
	return a
}

// NormalizeAngle wraps an angle into [-π, π)
func NormalizeAngle(angle float64) float64 {
	return spectral.WrapAngle(angle)
}

// Clamp clamps a value to [lo, hi]
func Clamp(value, lo, hi float64) float64 {
	return max(lo, min(hi, value))
}

// Degrees converts radians to degrees
func Degrees(rad float64) float64 {
	return rad * 180 / math.Pi
}
