// Package store defines where received location records go.
package store

import (
	"errors"
	"time"

	"nuha.dev/gpsforward/internal/telemetry"
)

type Store interface {
	Put(rec telemetry.Record, srvt time.Time)
	Close() error
}

// Message is the JSON shape of a record shared by the file, nats and websocket sinks.
// The first five keys keep the gpsData.json layout.
type Message struct {
	IP       string    `json:"ip"`
	Lat      float64   `json:"lat"`
	Long     float64   `json:"long"`
	Name     string    `json:"name"`
	Time     string    `json:"time"`
	Received time.Time `json:"received"`
}

func NewMessage(rec telemetry.Record, srvt time.Time) Message {
	return Message{
		IP:       rec.Source,
		Lat:      rec.Latitude,
		Long:     rec.Longitude,
		Name:     rec.Label,
		Time:     telemetry.FormatTime(rec.Time),
		Received: srvt.UTC(),
	}
}

// Multi puts every record into each store in order.
type Multi []Store

func (m Multi) Put(rec telemetry.Record, srvt time.Time) {
	for _, s := range m {
		s.Put(rec, srvt)
	}
}

func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return closeErrors(errs)
}

type closeErrors []error

func (e closeErrors) Error() string {
	s := "close stores:"
	for _, err := range e {
		s += " " + err.Error() + ";"
	}
	return s
}

func (e closeErrors) Is(target error) bool {
	for _, err := range e {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
