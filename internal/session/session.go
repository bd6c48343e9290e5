package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"nuha.dev/gpsforward/internal/apperr"
	"nuha.dev/gpsforward/internal/event"
	"nuha.dev/gpsforward/internal/location"
	"nuha.dev/gpsforward/internal/stat"
	"nuha.dev/gpsforward/internal/telemetry"
)

const (
	INVALID_TARGET    string = "invalid_target"
	STATE_CHANGED     string = "state_changed"
	ENCODE_FAILED     string = "encode_failed"
	SEND_FAILED       string = "send_failed"
	PROVIDER_DISABLED string = "provider_disabled"
	LATE_CONNECTION   string = "late_connection"
)

const default_tick = 5 * time.Second

// Session is one tracking run against a single host and port. It is never reused.
type Session struct {
	id      string
	host    string
	port    uint16
	created time.Time
	c       *Controller

	// mu guards state and is never held across a Send. send_mu keeps a single
	// writer on conn; a terminal transition closes conn without taking it, which
	// unblocks a stuck write.
	mu           sync.Mutex
	send_mu      sync.Mutex
	state        State
	conn         Conn
	sub          location.Subscription
	write_errors int
	last_err     error

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	exited chan struct{}

	stat   *stat.Stat
	logger zerolog.Logger
}

type Snapshot struct {
	ID        string        `json:"id"`
	State     string        `json:"state"`
	Host      string        `json:"host"`
	Port      uint16        `json:"port"`
	Created   time.Time     `json:"created"`
	LastError string        `json:"last_error,omitempty"`
	Stat      stat.Snapshot `json:"stat"`
}

func newSession(c *Controller, host string, port uint16) *Session {
	s := &Session{c: c, host: host, port: port}
	s.id = uuid.NewString()
	s.created = c.clock.Now()
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.done = make(chan struct{})
	s.exited = make(chan struct{})
	s.stat = stat.NewStat(s.created)
	s.logger = c.logger.With().Str("session_id", s.id).Logger()

	s.mu.Lock()
	s.transitionLocked(Connecting)
	s.mu.Unlock()
	return s
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done is closed once the session reaches a terminal state.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{ID: s.id, State: s.state.String(), Host: s.host, Port: s.port, Created: s.created}
	if s.last_err != nil {
		snap.LastError = s.last_err.Error()
	}
	s.mu.Unlock()
	snap.Stat = s.stat.Snapshot()
	return snap
}

func (s *Session) run() {
	defer close(s.exited)
	conn, err := s.c.dialer.Connect(s.ctx, s.host, s.port)
	if err != nil {
		s.OnConnectFailed(err)
		return
	}
	if !s.OnConnected(conn) {
		return
	}
	s.monitor()
}

// OnConnected moves a Connecting session to Active and subscribes it to the location
// source. A connection arriving after the session ended is closed right away.
func (s *Session) OnConnected(conn Conn) bool {
	s.mu.Lock()
	if s.state != Connecting {
		s.mu.Unlock()
		s.logger.Info().Str("event", LATE_CONNECTION).Msg("")
		if err := conn.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("close of late connection failed")
		}
		return false
	}
	s.conn = conn
	s.stat.ConnectEv(s.c.clock.Now())
	s.transitionLocked(Active)
	s.mu.Unlock()

	// a source may deliver from inside Subscribe, so the lock is not held here
	sub := s.c.source.Subscribe(s.OnLocationSample)

	s.mu.Lock()
	if s.state != Active {
		s.mu.Unlock()
		sub.Unsubscribe()
		return false
	}
	s.sub = sub
	s.mu.Unlock()
	return true
}

func (s *Session) OnConnectFailed(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Connecting {
		return
	}
	s.reportLocked(err)
	s.endLocked(Failed)
}

// OnLocationSample forwards one sample. Samples outside Active are dropped.
func (s *Session) OnLocationSample(sample location.Sample) {
	s.mu.Lock()
	if s.state != Active {
		s.mu.Unlock()
		s.stat.Dropped()
		return
	}
	rec := telemetry.FromSample(sample)
	if rec.Source == "" {
		rec.Source = s.c.config.SourceID
	}
	if rec.Source == "" {
		rec.Source = s.conn.LocalIP()
	}
	if rec.Label == "" {
		rec.Label = s.c.config.DeviceLabel
	}
	line, err := telemetry.Encode(rec)
	if err != nil {
		s.stat.Dropped()
		s.logger.Warn().Err(err).Str("event", ENCODE_FAILED).Msg("")
		s.reportLocked(apperr.New(apperr.Unknown, "encode", err))
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.send_mu.Lock()
	// the session may have ended while this sample waited for the writer
	s.mu.Lock()
	conn := s.conn
	active := s.state == Active
	s.mu.Unlock()
	if !active {
		s.send_mu.Unlock()
		s.stat.Dropped()
		return
	}
	err = conn.Send(line)
	s.send_mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Active {
		// a write cut short by the terminal close is not reported
		return
	}
	if err != nil {
		s.stat.WriteErr()
		s.write_errors++
		s.logger.Warn().Err(err).Str("event", SEND_FAILED).Int("consecutive", s.write_errors).Msg("")
		s.reportLocked(err)
		limit := s.c.config.MaxWriteErrors
		if apperr.IsFatal(err) || (limit > 0 && s.write_errors >= limit) {
			s.endLocked(Stopped)
		}
		return
	}
	s.write_errors = 0
	s.stat.RecordSent(len(line)+1, s.c.clock.Now())
}

// Tick ends an Active session when the location provider is disabled.
func (s *Session) Tick() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Active {
		return
	}
	if s.c.source.Enabled() {
		return
	}
	s.logger.Info().Str("event", PROVIDER_DISABLED).Msg("")
	s.endLocked(Stopped)
}

// StopSession ends a Connecting or Active session. It reports whether this call stopped it.
func (s *Session) StopSession() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return false
	}
	s.endLocked(Stopped)
	return true
}

func (s *Session) monitor() {
	interval := s.c.config.TickInterval
	if interval <= 0 {
		interval = default_tick
	}
	ticker := s.c.clock.NewTicker(interval)
	defer ticker.Stop()

	var status <-chan struct{}
	if n, ok := s.c.source.(location.StatusNotifier); ok {
		status = n.StatusChanged()
	}

	s.Tick()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.Chan():
			s.Tick()
		case <-status:
			s.Tick()
		}
	}
}

// endLocked enters a terminal state: unsubscribe, close the connection once and
// release the goroutine.
func (s *Session) endLocked(to State) {
	if s.state.Terminal() {
		return
	}
	if s.sub != nil {
		s.sub.Unsubscribe()
		s.sub = nil
	}
	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			s.logger.Warn().Err(err).Str("kind", apperr.KindOf(err).String()).Msg("close failed")
		}
		s.conn = nil
		s.stat.DisconnectEv(s.c.clock.Now())
	}
	s.cancel()
	s.transitionLocked(to)
	close(s.done)
}

func (s *Session) transitionLocked(to State) {
	from := s.state
	s.state = to
	s.logger.Info().Str("event", STATE_CHANGED).Str("from", from.String()).Str("to", to.String()).Msg("")
	s.c.notifier.StateChanged(event.StateChange{
		SessionID: s.id,
		Host:      s.host,
		Port:      s.port,
		From:      from.String(),
		To:        to.String(),
		At:        s.c.clock.Now(),
	})
}

func (s *Session) reportLocked(err error) {
	s.last_err = err
	s.c.notifier.Failed(event.Failure{SessionID: s.id, Kind: apperr.KindOf(err), Err: err, At: s.c.clock.Now()})
}
