// Package sublist fans a payload out to a set of subscribers and drops the ones that
// failed or closed.
package sublist

import (
	"errors"
	"sync"
)

var errUnsubscribed = errors.New("unsubscribed")

type Subscriber interface {
	Push(sender string, d []byte) error
	Closed() bool
	Name() string
}

type subflag struct {
	sub Subscriber
	err error
}

type Sublist struct {
	list []subflag
	mu   sync.Mutex
}

func NewSublist() *Sublist {
	o := &Sublist{}
	o.list = make([]subflag, 0, 20)
	return o
}

func (s *Sublist) Subscribe(sub Subscriber) {
	s.mu.Lock()
	s.list = append(s.list, subflag{sub: sub})
	s.mu.Unlock()
}

func (s *Sublist) Unsubscribe(sub Subscriber) {
	s.mu.Lock()
	for i := range s.list {
		if s.list[i].sub == sub {
			s.list[i].err = errUnsubscribed
		}
	}
	s.prune()
	s.mu.Unlock()
}

// Send pushes d to every subscriber, then prunes those that returned an error.
func (s *Sublist) Send(sender string, d []byte) {
	s.mu.Lock()
	bad := false
	for i := range s.list {
		err := s.list[i].sub.Push(sender, d)
		s.list[i].err = err
		if err != nil {
			bad = true
		}
	}
	if bad {
		s.prune()
	}
	s.mu.Unlock()
}

func (s *Sublist) Prune() {
	s.mu.Lock()
	s.prune()
	s.mu.Unlock()
}

func (s *Sublist) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.list)
}

// prune compacts the list in place, keeping order. Caller holds mu.
func (s *Sublist) prune() {
	n := 0
	for _, f := range s.list {
		if f.err == nil && !f.sub.Closed() {
			s.list[n] = f
			n++
		}
	}
	for i := n; i < len(s.list); i++ {
		s.list[i] = subflag{}
	}
	s.list = s.list[:n]
}
