// Package session is the tracking session controller. A session connects once, forwards
// every location sample while Active and ends for good when the user stops it, the
// location provider goes away or the connection breaks.
package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"nuha.dev/gpsforward/internal/apperr"
	"nuha.dev/gpsforward/internal/event"
	"nuha.dev/gpsforward/internal/location"
	"nuha.dev/gpsforward/internal/transport"
)

var ErrBusy = errors.New("a session is already connecting or active")

// Conn is the part of a transport connection a session uses.
type Conn interface {
	Send(line string) error
	Close() error
	LocalIP() string
}

type Dialer interface {
	Connect(ctx context.Context, host string, port uint16) (Conn, error)
}

type DialerFunc func(ctx context.Context, host string, port uint16) (Conn, error)

func (f DialerFunc) Connect(ctx context.Context, host string, port uint16) (Conn, error) {
	return f(ctx, host, port)
}

func FromTransport(t *transport.Transport) Dialer {
	return DialerFunc(func(ctx context.Context, host string, port uint16) (Conn, error) {
		c, err := t.Connect(ctx, host, port)
		if err != nil {
			return nil, err
		}
		return c, nil
	})
}

// Notifier receives every state change and reported failure. It is called with the
// session lock held and must not call back into the session.
type Notifier interface {
	StateChanged(sc event.StateChange)
	Failed(f event.Failure)
}

type nopNotifier struct{}

func (nopNotifier) StateChanged(event.StateChange) {}
func (nopNotifier) Failed(event.Failure)           {}

type Config struct {
	// TickInterval is the period of the provider-enabled check.
	TickInterval time.Duration
	// MaxWriteErrors stops the session after that many consecutive failed sends. Zero
	// keeps the session running on any non-fatal write error.
	MaxWriteErrors int
	// DeviceLabel and SourceID fill samples that carry none.
	DeviceLabel string
	SourceID    string
}

type Controller struct {
	mu       sync.Mutex
	config   *Config
	dialer   Dialer
	source   location.Source
	notifier Notifier
	clock    clockwork.Clock
	validate *validator.Validate
	current  *Session
	logger   zerolog.Logger
}

func NewController(dialer Dialer, source location.Source, notifier Notifier, clock clockwork.Clock, config *Config) *Controller {
	o := &Controller{dialer: dialer, source: source, notifier: notifier, clock: clock, config: config}
	if o.notifier == nil {
		o.notifier = nopNotifier{}
	}
	if o.clock == nil {
		o.clock = clockwork.NewRealClock()
	}
	o.validate = validator.New()
	o.logger = log.With().Str("module", "session").Logger()
	return o
}

// ParseTarget validates user input before any connection attempt.
func (c *Controller) ParseTarget(host, port string) (string, uint16, error) {
	host = strings.TrimSpace(host)
	if err := c.validate.Var(host, "required"); err != nil {
		return "", 0, apperr.New(apperr.InvalidConfig, "parse_target", fmt.Errorf("host: %w", err))
	}
	p, err := strconv.Atoi(strings.TrimSpace(port))
	if err != nil {
		return "", 0, apperr.New(apperr.InvalidConfig, "parse_target", fmt.Errorf("port %q: %w", port, err))
	}
	if p < 0 || p > 65535 {
		return "", 0, apperr.New(apperr.InvalidConfig, "parse_target", fmt.Errorf("port %d out of range", p))
	}
	return host, uint16(p), nil
}

// StartSession creates a new session in state Connecting and returns without waiting
// for the connection. Connect and monitoring run on the session's own goroutine.
func (c *Controller) StartSession(host, port string) (*Session, error) {
	h, p, err := c.ParseTarget(host, port)
	if err != nil {
		c.logger.Warn().Err(err).Str("event", INVALID_TARGET).Msg("")
		c.notifier.Failed(event.Failure{Kind: apperr.InvalidConfig, Err: err, At: c.clock.Now()})
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != nil && !c.current.State().Terminal() {
		return nil, ErrBusy
	}
	s := newSession(c, h, p)
	c.current = s
	go s.run()
	return s, nil
}

// Current is the latest session, or nil when none was started.
func (c *Controller) Current() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// StopCurrent stops the latest session if it is still running.
func (c *Controller) StopCurrent() bool {
	s := c.Current()
	if s == nil {
		return false
	}
	return s.StopSession()
}

// Shutdown stops the current session and waits for its goroutine to exit or ctx to end.
func (c *Controller) Shutdown(ctx context.Context) error {
	s := c.Current()
	if s == nil {
		return nil
	}
	go s.StopSession()
	select {
	case <-s.exited:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
