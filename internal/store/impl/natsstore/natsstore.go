// Package natsstore publishes every received record as a JSON message on a NATS subject.
package natsstore

import (
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/phuslu/log"
	"nuha.dev/gpsforward/internal/store"
	"nuha.dev/gpsforward/internal/telemetry"
)

// Publisher is satisfied by *nats.Conn.
type Publisher interface {
	Publish(subj string, data []byte) error
	Flush() error
}

type Store struct {
	pub     Publisher
	subject string
	closer  func()
	log     log.Logger
}

func NewStore(pub Publisher, subject string) *Store {
	o := &Store{pub: pub, subject: subject}
	o.log = log.DefaultLogger
	o.log.Context = log.NewContext(nil).Str("module", "natsstore").Str("subject", subject).Value()
	return o
}

// Connect dials the NATS server at url and returns a store that owns the connection.
func Connect(url, subject string) (*Store, error) {
	logger := log.DefaultLogger
	logger.Context = log.NewContext(nil).Str("module", "natsstore").Str("subject", subject).Value()
	nc, err := nats.Connect(url,
		nats.Name("gpsserver"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(c *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info().Str("url", c.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, err
	}
	st := NewStore(nc, subject)
	st.closer = nc.Close
	return st, nil
}

func (s *Store) Put(rec telemetry.Record, srvt time.Time) {
	b, err := json.Marshal(store.NewMessage(rec, srvt))
	if err != nil {
		s.log.Error().Err(err).Msg("marshal error")
		return
	}
	if err := s.pub.Publish(s.subject, b); err != nil {
		s.log.Error().Err(err).Str("source", rec.Source).Msg("publish error")
	}
}

func (s *Store) Close() error {
	err := s.pub.Flush()
	if s.closer != nil {
		s.closer()
	}
	return err
}
