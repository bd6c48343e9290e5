package telemetry

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nuha.dev/gpsforward/internal/location"
)

func TestEncodeSample(t *testing.T) {
	s := location.Sample{
		Time:             1490371509000,
		SourceIdentifier: "192.168.1.23",
		DeviceLabel:      "Pixel",
		Latitude:         49.2827,
		Longitude:        -123.1207,
	}
	line, err := Encode(FromSample(s))
	require.NoError(t, err)
	assert.Equal(t, "24/Mar/2017-16:05:09 192.168.1.23 Pixel 49.2827 -123.1207", line)
}

func TestEncodeExactLine(t *testing.T) {
	// 16:45:09 UTC on the same day.
	s := location.Sample{
		Time:             1490373909000,
		SourceIdentifier: "192.168.1.23",
		DeviceLabel:      "Pixel",
		Latitude:         49.2827,
		Longitude:        -123.1207,
	}
	line, err := Encode(FromSample(s))
	require.NoError(t, err)
	assert.Equal(t, "24/Mar/2017-16:45:09 192.168.1.23 Pixel 49.2827 -123.1207\n", line+"\n")
}

func TestFormatTimeIgnoresLocation(t *testing.T) {
	loc := time.FixedZone("UTC+9", 9*3600)
	ts := time.Date(2017, time.March, 25, 1, 5, 9, 0, loc)
	assert.Equal(t, "24/Mar/2017-16:05:09", FormatTime(ts))
}

func TestFormatFloat(t *testing.T) {
	cases := map[float64]string{
		49.2827:   "49.2827",
		-123.1207: "-123.1207",
		0:         "0.0",
		12:        "12.0",
		-90:       "-90.0",
		0.00001:   "0.00001",
		0.0005:    "0.0005",
	}
	for in, want := range cases {
		assert.Equal(t, want, FormatFloat(in), "input %v", in)
	}
}

func TestEncodeRejectsBadFields(t *testing.T) {
	r := Record{Time: time.Unix(0, 0), Source: "10.0.0.1", Label: "two\nlines"}
	_, err := Encode(r)
	assert.True(t, errors.Is(err, ErrLabelNewline))

	r.Label = ""
	_, err = Encode(r)
	assert.True(t, errors.Is(err, ErrEmptyField))
}

func TestEncodeKeepsSpacesInLabel(t *testing.T) {
	r := Record{Time: time.Unix(0, 0), Source: "10.0.0.1", Label: "Galaxy S7", Latitude: 1.5, Longitude: 2.5}
	line, err := Encode(r)
	require.NoError(t, err)
	assert.Equal(t, "01/Jan/1970-00:00:00 10.0.0.1 Galaxy S7 1.5 2.5", line)
}

func TestParse(t *testing.T) {
	r, err := Parse("24/Mar/2017-16:45:09 192.168.1.23 Pixel 49.2827 -123.1207\n", false)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2017, time.March, 24, 16, 45, 9, 0, time.UTC), r.Time)
	assert.Equal(t, "192.168.1.23", r.Source)
	assert.Equal(t, "Pixel", r.Label)
	assert.Equal(t, 49.2827, r.Latitude)
	assert.Equal(t, -123.1207, r.Longitude)
}

func TestParseLabelWithSpaces(t *testing.T) {
	line := "24/Mar/2017-16:45:09 192.168.1.23 Galaxy S7 edge 49.2827 -123.1207"

	_, err := Parse(line, false)
	assert.True(t, errors.Is(err, ErrFieldCount))

	r, err := Parse(line, true)
	require.NoError(t, err)
	assert.Equal(t, "Galaxy S7 edge", r.Label)
}

func TestParseErrors(t *testing.T) {
	for _, line := range []string{
		"",
		"24/Mar/2017-16:45:09 192.168.1.23 Pixel 49.2827",
		"2017-03-24T16:45:09Z 192.168.1.23 Pixel 49.2827 -123.1207",
		"24/Mar/2017-16:45:09 192.168.1.23 Pixel north -123.1207",
		"24/Mar/2017-16:45:09 192.168.1.23 Pixel 49.2827 west",
	} {
		_, err := Parse(line, true)
		assert.Error(t, err, "line %q", line)
	}
}

func TestParseRejectsBadCoordinates(t *testing.T) {
	for _, pos := range []string{
		"NaN -123.1207",
		"49.2827 +Inf",
		"-Inf 0",
		"90.5 -123.1207",
		"-91 -123.1207",
		"49.2827 180.0001",
		"49.2827 -200",
	} {
		_, err := Parse("24/Mar/2017-16:45:09 10.0.0.5 Pixel "+pos, false)
		assert.ErrorIs(t, err, ErrCoordinate, "position %q", pos)
	}

	r, err := Parse("24/Mar/2017-16:45:09 10.0.0.5 Pixel -90.0 180.0", false)
	require.NoError(t, err)
	assert.Equal(t, -90.0, r.Latitude)
	assert.Equal(t, 180.0, r.Longitude)
}

func TestEncodeParseSample(t *testing.T) {
	in := Record{Time: time.Date(2021, time.July, 4, 8, 30, 0, 0, time.UTC), Source: "10.1.2.3", Label: "moto", Latitude: -6.2088, Longitude: 106.8456}
	line, err := Encode(in)
	require.NoError(t, err)
	out, err := Parse(line, false)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}
