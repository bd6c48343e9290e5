package stat

import (
	"sync"
	"sync/atomic"
	"time"
)

type counter struct {
	base time.Time
	cnt  uint64
}

type time_event struct {
	list [10]time.Time
	idx  int
	n    int
	mu   sync.Mutex
}

// Stat keeps per-session counters: connect/disconnect history, records sent per
// minute over the last hour and failure totals.
type Stat struct {
	connect    time_event
	disconnect time_event
	mu         sync.Mutex
	buf        [60]counter
	phead      int
	dur        time.Duration

	sent      uint64
	bytes     uint64
	write_err uint64
	dropped   uint64

	created time.Time
}

type MinuteCount struct {
	Minute time.Time `json:"minute"`
	Count  uint64    `json:"count"`
}

type Snapshot struct {
	Created        time.Time     `json:"created"`
	LastConnect    time.Time     `json:"last_connect,omitempty"`
	LastDisconnect time.Time     `json:"last_disconnect,omitempty"`
	Sent           uint64        `json:"sent"`
	BytesOut       uint64        `json:"bytes_out"`
	WriteErrors    uint64        `json:"write_errors"`
	Dropped        uint64        `json:"dropped"`
	PerMinute      []MinuteCount `json:"per_minute"`
}

func NewStat(t time.Time) *Stat {
	o := &Stat{}
	o.dur = time.Minute
	o.created = t
	return o
}

func (s *Stat) ConnectEv(t time.Time) {
	record(&s.connect, t)
}

func (s *Stat) DisconnectEv(t time.Time) {
	record(&s.disconnect, t)
}

func record(l *time_event, t time.Time) {
	l.mu.Lock()
	l.list[l.idx] = t
	l.idx = l.idx + 1
	if l.idx == len(l.list) {
		l.idx = 0
	}
	if l.n < len(l.list) {
		l.n++
	}
	l.mu.Unlock()
}

func last(l *time_event) time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.n == 0 {
		return time.Time{}
	}
	i := l.idx - 1
	if i < 0 {
		i = len(l.list) - 1
	}
	return l.list[i]
}

// RecordSent counts one delivered record of n bytes at time t.
func (s *Stat) RecordSent(n int, t time.Time) {
	atomic.AddUint64(&s.sent, 1)
	atomic.AddUint64(&s.bytes, uint64(n))
	s.CounterIncr(1, t)
}

func (s *Stat) WriteErr() {
	atomic.AddUint64(&s.write_err, 1)
}

func (s *Stat) Dropped() {
	atomic.AddUint64(&s.dropped, 1)
}

func (s *Stat) CounterIncr(amt uint64, t time.Time) {
	s.mu.Lock()
	f := t.Truncate(s.dur)
	head := &s.buf[s.phead]
	if f.After(head.base) {
		if head.cnt != 0 {
			s.phead = s.phead + 1
			if s.phead == len(s.buf) {
				s.phead = 0
			}
		}
		s.buf[s.phead].base = f
		s.buf[s.phead].cnt = amt
	} else if f.Equal(head.base) {
		head.cnt = head.cnt + amt
	}
	s.mu.Unlock()
}

func (s *Stat) Snapshot() Snapshot {
	snap := Snapshot{
		Created:        s.created,
		LastConnect:    last(&s.connect),
		LastDisconnect: last(&s.disconnect),
		Sent:           atomic.LoadUint64(&s.sent),
		BytesOut:       atomic.LoadUint64(&s.bytes),
		WriteErrors:    atomic.LoadUint64(&s.write_err),
		Dropped:        atomic.LoadUint64(&s.dropped),
		PerMinute:      make([]MinuteCount, 0, len(s.buf)),
	}
	s.mu.Lock()
	// oldest first, starting right after the head
	for i := 1; i <= len(s.buf); i++ {
		c := s.buf[(s.phead+i)%len(s.buf)]
		if c.cnt == 0 {
			continue
		}
		snap.PerMinute = append(snap.PerMinute, MinuteCount{Minute: c.base, Count: c.cnt})
	}
	s.mu.Unlock()
	return snap
}
