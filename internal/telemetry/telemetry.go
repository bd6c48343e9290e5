// Package telemetry encodes location samples into the line protocol
//
//	<dd/Mon/yyyy-HH:mm:ss> <source> <label> <latitude> <longitude>\n
//
// and parses it back on the receiving side. Fields are separated by one space and are
// not quoted, so a label containing spaces cannot be told apart from extra fields.
package telemetry

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"nuha.dev/gpsforward/internal/location"
)

// TimeLayout renders day/abbreviated month/year-time. Go month names do not depend on
// the process locale.
const TimeLayout = "02/Jan/2006-15:04:05"

var (
	ErrLabelNewline = errors.New("device label contains newline")
	ErrEmptyField   = errors.New("empty field")
	ErrFieldCount   = errors.New("unexpected field count")
	ErrCoordinate   = errors.New("coordinate out of range")
)

type Record struct {
	Time      time.Time
	Source    string
	Label     string
	Latitude  float64
	Longitude float64
}

func FromSample(s location.Sample) Record {
	return Record{
		Time:      s.Timestamp(),
		Source:    s.SourceIdentifier,
		Label:     s.DeviceLabel,
		Latitude:  s.Latitude,
		Longitude: s.Longitude,
	}
}

func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// FormatFloat prints the shortest decimal that round-trips, keeping a ".0" on
// integral values. Small magnitudes stay in plain decimal (0.0005, never 5.0E-4) so
// receivers only ever see one number syntax.
func FormatFloat(f float64) string {
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return s
	}
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// Encode returns the record line without its terminating newline.
func Encode(r Record) (string, error) {
	b, err := r.AppendText(make([]byte, 0, 80))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r Record) AppendText(buf []byte) ([]byte, error) {
	if r.Source == "" || r.Label == "" {
		return buf, ErrEmptyField
	}
	if strings.ContainsAny(r.Label, "\r\n") || strings.ContainsAny(r.Source, "\r\n") {
		return buf, ErrLabelNewline
	}
	buf = r.Time.UTC().AppendFormat(buf, TimeLayout)
	buf = append(buf, ' ')
	buf = append(buf, r.Source...)
	buf = append(buf, ' ')
	buf = append(buf, r.Label...)
	buf = append(buf, ' ')
	buf = append(buf, FormatFloat(r.Latitude)...)
	buf = append(buf, ' ')
	buf = append(buf, FormatFloat(r.Longitude)...)
	return buf, nil
}

// Parse reads one line. In strict mode exactly five fields are required. With
// joinLabel every field between the source and the latitude is joined back into the
// label with single spaces.
func Parse(line string, joinLabel bool) (Record, error) {
	line = strings.TrimRight(line, "\r\n")
	f := strings.Fields(line)
	if len(f) < 5 || (len(f) > 5 && !joinLabel) {
		return Record{}, fmt.Errorf("%w: got %d", ErrFieldCount, len(f))
	}
	t, err := time.ParseInLocation(TimeLayout, f[0], time.UTC)
	if err != nil {
		return Record{}, fmt.Errorf("timestamp: %w", err)
	}
	lat, err := strconv.ParseFloat(f[len(f)-2], 64)
	if err != nil {
		return Record{}, fmt.Errorf("latitude: %w", err)
	}
	lon, err := strconv.ParseFloat(f[len(f)-1], 64)
	if err != nil {
		return Record{}, fmt.Errorf("longitude: %w", err)
	}
	if err := checkCoordinate(lat, 90); err != nil {
		return Record{}, fmt.Errorf("latitude: %w", err)
	}
	if err := checkCoordinate(lon, 180); err != nil {
		return Record{}, fmt.Errorf("longitude: %w", err)
	}
	return Record{
		Time:      t,
		Source:    f[1],
		Label:     strings.Join(f[2:len(f)-2], " "),
		Latitude:  lat,
		Longitude: lon,
	}, nil
}

func checkCoordinate(v, limit float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < -limit || v > limit {
		return fmt.Errorf("%w: %v", ErrCoordinate, v)
	}
	return nil
}
