package logstore

import (
	"time"

	"github.com/phuslu/log"
	"nuha.dev/gpsforward/internal/telemetry"
)

type LogStore struct {
	log log.Logger
}

func NewStore(logger log.Logger) *LogStore {
	o := &LogStore{log: logger}
	o.log.Context = log.NewContext(nil).Str("module", "logstore").Value()
	return o
}

func (l *LogStore) Put(rec telemetry.Record, srvt time.Time) {
	l.log.Info().Str("source", rec.Source).Str("label", rec.Label).
		Float64("lat", rec.Latitude).Float64("lon", rec.Longitude).
		Time("device_time", rec.Time).Time("server_time", srvt).Msg("location")
}

func (l *LogStore) Close() error {
	return nil
}
