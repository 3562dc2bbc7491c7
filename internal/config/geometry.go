package config

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/teslashibe/go-tdoa/internal/protocol"
)

// geometryColumns are the params file columns, in headerless order
var geometryColumns = [...]string{"h", "k", "phi", "mic_dis"}

// LoadGeometryFile reads the microphone geometry from a CSV file.
func LoadGeometryFile(path string) (protocol.Geometry, error) {
	f, err := os.Open(path)
	if err != nil {
		return protocol.Geometry{}, fmt.Errorf("geometry: %w", err)
	}
	defer f.Close()

	g, err := ParseGeometry(f)
	if err != nil {
		return protocol.Geometry{}, fmt.Errorf("geometry %s: %w", path, err)
	}
	return g, nil
}

// ParseGeometry reads the geometry from CSV. The file is either a single
// headerless row holding h, k, phi and mic_dis in that order, or a header row
// naming those columns in any order followed by one data row. Extra columns
// are ignored.
func ParseGeometry(r io.Reader) (protocol.Geometry, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	first, err := cr.Read()
	if err != nil {
		return protocol.Geometry{}, fmt.Errorf("read header: %w", err)
	}

	if vals, ok := parseRow(first); ok {
		if len(vals) < len(geometryColumns) {
			return protocol.Geometry{}, fmt.Errorf("missing value for %q", geometryColumns[len(vals)])
		}
		return geometryFrom(vals), nil
	}

	index := make(map[string]int, len(first))
	for i, name := range first {
		index[strings.ToLower(strings.TrimSpace(name))] = i
	}

	row, err := cr.Read()
	if err != nil {
		return protocol.Geometry{}, fmt.Errorf("read values: %w", err)
	}

	vals := make([]float64, len(geometryColumns))
	for i, col := range geometryColumns {
		pos, ok := index[col]
		if !ok {
			return protocol.Geometry{}, fmt.Errorf("missing column %q", col)
		}
		if pos >= len(row) {
			return protocol.Geometry{}, fmt.Errorf("missing value for %q", col)
		}
		vals[i], err = strconv.ParseFloat(strings.TrimSpace(row[pos]), 64)
		if err != nil {
			return protocol.Geometry{}, fmt.Errorf("column %q: %w", col, err)
		}
	}

	return geometryFrom(vals), nil
}

// parseRow reports whether every field of the row is a number.
func parseRow(row []string) ([]float64, bool) {
	vals := make([]float64, len(row))
	for i, field := range row {
		v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
		if err != nil {
			return nil, false
		}
		vals[i] = v
	}
	return vals, true
}

func geometryFrom(vals []float64) protocol.Geometry {
	return protocol.Geometry{H: vals[0], K: vals[1], Phi: vals[2], MicDistance: vals[3]}
}
