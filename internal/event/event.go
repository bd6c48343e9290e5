// Package event carries session notifications (state changes and failures) to the
// display and logging sinks over an in-process bus.
package event

import (
	"context"
	"sync"
	"time"

	"github.com/mustafaturan/bus/v3"
	"github.com/mustafaturan/monoton/v2"
	"github.com/mustafaturan/monoton/v2/sequencer"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"nuha.dev/gpsforward/internal/apperr"
)

const (
	TopicState = "session.state"
	TopicError = "session.error"
)

const recent_size = 32

// 2020-01-01T00:00:00Z, epoch of the event id generator
const id_epoch uint64 = 1577836800000

type StateChange struct {
	SessionID string    `json:"session_id"`
	Host      string    `json:"host"`
	Port      uint16    `json:"port"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	At        time.Time `json:"at"`
}

type Failure struct {
	SessionID string      `json:"session_id"`
	Kind      apperr.Kind `json:"-"`
	Err       error       `json:"-"`
	At        time.Time   `json:"at"`
}

func (f Failure) MarshalZerologObject(e *zerolog.Event) {
	e.Str("session_id", f.SessionID).Str("kind", f.Kind.String()).AnErr("cause", f.Err)
}

// Entry is one emitted event as kept for the monitoring API.
type Entry struct {
	ID      string      `json:"id"`
	Topic   string      `json:"topic"`
	At      time.Time   `json:"at"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

type Bus struct {
	b      *bus.Bus
	logger zerolog.Logger

	mu     sync.Mutex
	recent [recent_size]Entry
	idx    int
	n      int
}

// New builds a bus with the logging sink and the recent-events recorder registered.
func New(node uint64) (*Bus, error) {
	m, err := monoton.New(sequencer.NewMillisecond(), node, id_epoch)
	if err != nil {
		return nil, err
	}
	var next bus.Next = m.Next
	b, err := bus.NewBus(next)
	if err != nil {
		return nil, err
	}
	b.RegisterTopics(TopicState, TopicError)

	o := &Bus{b: b}
	o.logger = log.With().Str("module", "event").Logger()
	b.RegisterHandler("log", bus.Handler{Handle: o.logSink, Matcher: ".*"})
	b.RegisterHandler("recent", bus.Handler{Handle: o.record, Matcher: ".*"})
	return o, nil
}

// Handle registers an additional sink for topics matching the regular expression matcher.
func (b *Bus) Handle(key, matcher string, fn func(ctx context.Context, e bus.Event)) {
	b.b.RegisterHandler(key, bus.Handler{Handle: fn, Matcher: matcher})
}

func (b *Bus) Unhandle(key string) {
	b.b.DeregisterHandler(key)
}

func (b *Bus) StateChanged(sc StateChange) {
	b.emit(TopicState, sc)
}

func (b *Bus) Failed(f Failure) {
	b.emit(TopicError, f)
}

func (b *Bus) emit(topic string, data interface{}) {
	if err := b.b.Emit(context.Background(), topic, data); err != nil {
		b.logger.Err(err).Str("topic", topic).Msg("emit failed")
	}
}

func (b *Bus) logSink(ctx context.Context, e bus.Event) {
	switch d := e.Data.(type) {
	case StateChange:
		b.logger.Info().Str("event_id", e.ID).Str("session_id", d.SessionID).
			Str("from", d.From).Str("to", d.To).Msg("session state changed")
	case Failure:
		b.logger.Error().Str("event_id", e.ID).EmbedObject(d).Msg("session error")
	}
}

func (b *Bus) record(ctx context.Context, e bus.Event) {
	en := Entry{ID: e.ID, Topic: e.Topic, At: e.OccurredAt, Data: e.Data}
	if f, ok := e.Data.(Failure); ok {
		en.Message = f.Kind.String()
		if f.Err != nil {
			en.Message = en.Message + ": " + f.Err.Error()
		}
	}
	b.mu.Lock()
	b.recent[b.idx] = en
	b.idx = (b.idx + 1) % recent_size
	if b.n < recent_size {
		b.n++
	}
	b.mu.Unlock()
}

// Recent returns the last emitted events, oldest first.
func (b *Bus) Recent() []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Entry, 0, b.n)
	start := b.idx - b.n
	if start < 0 {
		start += recent_size
	}
	for i := 0; i < b.n; i++ {
		out = append(out, b.recent[(start+i)%recent_size])
	}
	return out
}
