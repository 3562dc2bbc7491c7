// Package protocol defines the telemetry line format sent to the downstream
// consumer and the JSON messages of the local bearing stream.
package protocol

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMalformedRecord is returned when a telemetry line cannot be parsed.
var ErrMalformedRecord = errors.New("protocol: malformed record")

// Geometry describes the microphone pair placement. It is fixed for the
// lifetime of the process and repeated in every record.
type Geometry struct {
	H           float64 `json:"h" mapstructure:"h"`
	K           float64 `json:"k" mapstructure:"k"`
	Phi         float64 `json:"phi" mapstructure:"phi"`
	MicDistance float64 `json:"mic_distance" mapstructure:"mic_distance"`
}

// Record is one delay estimate as delivered downstream.
type Record struct {
	TimestampMs int64
	Geometry
	Delay float64
}

// AppendLine appends the ASCII line
//
//	timestamp_ms,h,k,phi,mic_distance,delay\n
//
// to dst. Floats use the shortest decimal form that round-trips.
func (r Record) AppendLine(dst []byte) []byte {
	dst = strconv.AppendInt(dst, r.TimestampMs, 10)
	for _, v := range [...]float64{r.H, r.K, r.Phi, r.MicDistance, r.Delay} {
		dst = append(dst, ',')
		dst = strconv.AppendFloat(dst, v, 'f', -1, 64)
	}
	return append(dst, '\n')
}

// Line returns the encoded record including the trailing newline.
func (r Record) Line() []byte {
	return r.AppendLine(make([]byte, 0, 96))
}

// ParseRecord decodes one telemetry line. The trailing newline is optional.
func ParseRecord(line string) (Record, error) {
	line = strings.TrimRight(line, "\r\n")

	fields := strings.Split(line, ",")
	if len(fields) != 6 {
		return Record{}, fmt.Errorf("%w: %d fields", ErrMalformedRecord, len(fields))
	}

	ts, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("%w: timestamp: %v", ErrMalformedRecord, err)
	}

	var vals [5]float64
	for i := range vals {
		vals[i], err = strconv.ParseFloat(fields[i+1], 64)
		if err != nil {
			return Record{}, fmt.Errorf("%w: field %d: %v", ErrMalformedRecord, i+1, err)
		}
	}

	return Record{
		TimestampMs: ts,
		Geometry: Geometry{
			H:           vals[0],
			K:           vals[1],
			Phi:         vals[2],
			MicDistance: vals[3],
		},
		Delay: vals[4],
	}, nil
}
