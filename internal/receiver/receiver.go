// Package receiver is the TCP server end of the telemetry stream. Every accepted
// connection is read line by line; each parsed line becomes a record handed to the store.
package receiver

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/phuslu/log"
	proxyproto "github.com/pires/go-proxyproto"
	"nuha.dev/gpsforward/internal/receiver/conn"
	"nuha.dev/gpsforward/internal/store"
	"nuha.dev/gpsforward/internal/telemetry"
	"nuha.dev/gpsforward/internal/tunnel"
)

const (
	NEW_CONNECTION    string = "new_connection"
	CONNECTION_CLOSED string = "connection_closed"
	BAD_LINE          string = "bad_line"
	LINE_TOO_LONG     string = "line_too_long"
	TUNNEL_UP         string = "tunnel_up"
	TUNNEL_DOWN       string = "tunnel_down"
)

type ReceiverConfig struct {
	ListenerAddr  string
	ProxyProtocol bool
	JoinLabel     bool
	MaxLineLength int
	IdleTimeout   time.Duration
	TunnelAddr    string
	TunnelToken   string
	TunnelRetry   time.Duration
}

type Stats struct {
	Connections uint64 `json:"connections"`
	Active      int64  `json:"active"`
	Records     uint64 `json:"records"`
	BadLines    uint64 `json:"bad_lines"`
}

type Receiver struct {
	mu          sync.Mutex
	log         log.Logger
	config      *ReceiverConfig
	store       store.Store
	listener    net.Listener
	closed      bool
	cid_counter uint64
	active      int64
	records     uint64
	bad_lines   uint64
	conns       map[uint64]net.Conn
	wg          sync.WaitGroup
}

func NewReceiver(st store.Store, config *ReceiverConfig) *Receiver {
	r := &Receiver{}
	r.log = log.DefaultLogger
	r.log.Context = log.NewContext(nil).Str("module", "receiver").Value()
	r.config = config
	if r.config.MaxLineLength <= 0 {
		r.config.MaxLineLength = 1024
	}
	if r.config.TunnelRetry <= 0 {
		r.config.TunnelRetry = 5 * time.Second
	}
	r.store = st
	r.conns = make(map[uint64]net.Conn)
	return r
}

// Listen binds the configured address, wrapped for PROXY headers when enabled.
func (r *Receiver) Listen() (net.Listener, error) {
	ln, err := net.Listen("tcp", r.config.ListenerAddr)
	if err != nil {
		return nil, err
	}
	if r.config.ProxyProtocol {
		ln = &proxyproto.Listener{Listener: ln}
	}
	r.mu.Lock()
	r.listener = ln
	r.mu.Unlock()
	return ln, nil
}

func (r *Receiver) Run() error {
	ln, err := r.Listen()
	if err != nil {
		r.log.Error().Err(err).Msg("unable to listen")
		return err
	}
	r.log.Info().Msgf("starting receiver on %s", ln.Addr())
	return r.Serve(ln)
}

// Serve accepts plain sender connections from ln until it is closed.
func (r *Receiver) Serve(ln net.Listener) error {
	return r.serve(ln, false)
}

func (r *Receiver) serve(ln net.Listener, tunneled bool) error {
	for {
		_c, err := ln.Accept()
		if err != nil {
			if r.isClosed() {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Temporary() {
				r.log.Warn().Err(err).Msg("temporary accept error")
				time.Sleep(50 * time.Millisecond)
				continue
			}
			if tunneled {
				return err
			}
			r.log.Error().Err(err).Msg("failed to accept new connection")
			return err
		}
		cid := atomic.AddUint64(&r.cid_counter, 1)
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			_c.Close()
			return nil
		}
		r.conns[cid] = _c
		r.wg.Add(1)
		r.mu.Unlock()
		go r.handle(_c, cid, tunneled)
	}
}

// RunTunnel dials the tunnel edge and serves the streams it forwards, redialing after
// a lost tunnel until ctx is done.
func (r *Receiver) RunTunnel(ctx context.Context) {
	for {
		session, err := tunnel.Dial(r.config.TunnelAddr, r.config.TunnelToken, 10*time.Second)
		if err != nil {
			r.log.Error().Err(err).Str("tunnel_address", r.config.TunnelAddr).Msg("failed to dial tunnel")
		} else {
			r.log.Info().Str("event", TUNNEL_UP).Str("tunnel_address", r.config.TunnelAddr).Msg("")
			go func() {
				select {
				case <-ctx.Done():
					session.Close()
				case <-session.CloseChan():
				}
			}()
			err = r.serve(session, true)
			session.Close()
			r.log.Warn().Str("event", TUNNEL_DOWN).Err(err).Msg("")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(r.config.TunnelRetry):
		}
		if r.isClosed() {
			return
		}
	}
}

func (r *Receiver) handle(_c net.Conn, cid uint64, tunneled bool) {
	defer r.wg.Done()
	atomic.AddInt64(&r.active, 1)
	defer func() {
		atomic.AddInt64(&r.active, -1)
		r.mu.Lock()
		delete(r.conns, cid)
		r.mu.Unlock()
		_c.Close()
	}()

	// with PROXY protocol on, the header is read here, off the accept loop
	r.deadline(_c)
	c := conn.NewConn(_c, cid, r.config.MaxLineLength)

	if tunneled {
		// the edge writes the external peer address ahead of the payload
		addr, err := c.ReadLine()
		if err != nil {
			r.log.Error().Err(err).EmbedObject(c).Msg("missing tunnel header")
			return
		}
		c.SetSource(addr)
	}
	r.log.Info().Str("event", NEW_CONNECTION).EmbedObject(c).Msg("")

	for {
		r.deadline(c)
		line, err := c.ReadLine()
		if err != nil {
			if errors.Is(err, conn.ErrLineTooLong) {
				atomic.AddUint64(&r.bad_lines, 1)
				r.log.Warn().Str("event", LINE_TOO_LONG).EmbedObject(c).Msg("")
				continue
			}
			lines, byte_in := c.Stat()
			ev := r.log.Info()
			if !errors.Is(err, io.EOF) && !r.isClosed() {
				ev = r.log.Warn().Err(err)
			}
			ev.Str("event", CONNECTION_CLOSED).EmbedObject(c).Uint64("lines", lines).Uint64("byte_in", byte_in).Msg("")
			return
		}
		if line == "" {
			continue
		}
		rec, err := telemetry.Parse(line, r.config.JoinLabel)
		if err != nil {
			atomic.AddUint64(&r.bad_lines, 1)
			r.log.Warn().Str("event", BAD_LINE).Err(err).EmbedObject(c).Str("line", line).Msg("")
			continue
		}
		atomic.AddUint64(&r.records, 1)
		r.store.Put(rec, time.Now())
	}
}

func (r *Receiver) deadline(c net.Conn) {
	if r.config.IdleTimeout > 0 {
		_ = c.SetReadDeadline(time.Now().Add(r.config.IdleTimeout))
	}
}

func (r *Receiver) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *Receiver) Addr() net.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listener == nil {
		return nil
	}
	return r.listener.Addr()
}

func (r *Receiver) Stats() Stats {
	return Stats{
		Connections: atomic.LoadUint64(&r.cid_counter),
		Active:      atomic.LoadInt64(&r.active),
		Records:     atomic.LoadUint64(&r.records),
		BadLines:    atomic.LoadUint64(&r.bad_lines),
	}
}

// Close stops accepting, closes open connections and waits for their handlers.
// The store is left open for the caller.
func (r *Receiver) Close() error {
	r.mu.Lock()
	r.closed = true
	var err error
	if r.listener != nil {
		err = r.listener.Close()
	}
	for _, c := range r.conns {
		c.Close()
	}
	r.mu.Unlock()
	r.wg.Wait()
	return err
}
