// Package tunnel lets a receiver behind NAT serve a public port. The edge listens for
// one receiver on the tunnel address, authenticates it with a shared token and then
// forwards every external connection as a yamux stream, prefixed by a line holding the
// external peer address.
package tunnel

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/hashicorp/yamux"
	"github.com/phuslu/log"
)

const (
	TUNNEL_ACCEPTED string = "tunnel_accepted"
	TUNNEL_REJECTED string = "tunnel_rejected"
	STREAM_OPENED   string = "stream_opened"
)

const max_token = 64

var (
	ErrRejected = errors.New("tunnel token rejected")
	errToken    = errors.New("token too long")
)

// Dial connects to an edge at addr and returns the client side of the yamux session.
// The session's Accept yields one stream per external connection.
func Dial(addr, token string, timeout time.Duration) (*yamux.Session, error) {
	if len(token) > max_token {
		return nil, errToken
	}
	yconn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, err
	}
	if timeout > 0 {
		_ = yconn.SetDeadline(time.Now().Add(timeout))
	}
	_, err = yconn.Write([]byte(token + "\n"))
	if err != nil {
		yconn.Close()
		return nil, err
	}
	status := []byte{0}
	_, err = io.ReadFull(yconn, status)
	if err != nil {
		yconn.Close()
		return nil, err
	}
	if status[0] != '+' {
		yconn.Close()
		return nil, ErrRejected
	}
	_ = yconn.SetDeadline(time.Time{})
	return yamux.Client(yconn, nil)
}

type EdgeConfig struct {
	ExternalAddr string
	TunnelAddr   string
	Token        string
}

// Edge is the public end of the tunnel.
type Edge struct {
	config   *EdgeConfig
	log      log.Logger
	mu       sync.Mutex
	tln      net.Listener
	eln      net.Listener
	session  *yamux.Session
	closed   bool
	ext_addr chan net.Addr
}

func NewEdge(config *EdgeConfig) *Edge {
	e := &Edge{config: config}
	e.log = log.DefaultLogger
	e.log.Context = log.NewContext(nil).Str("module", "tunnel-edge").Value()
	e.ext_addr = make(chan net.Addr, 1)
	return e
}

// Listen binds the tunnel address.
func (e *Edge) Listen() (net.Addr, error) {
	ln, err := net.Listen("tcp", e.config.TunnelAddr)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.tln = ln
	e.mu.Unlock()
	return ln.Addr(), nil
}

// ExternalAddr blocks until the external listener is bound for the first time.
func (e *Edge) ExternalAddr() net.Addr {
	a := <-e.ext_addr
	e.ext_addr <- a
	return a
}

// Run serves receivers one at a time until Close.
func (e *Edge) Run() error {
	if e.tln == nil {
		if _, err := e.Listen(); err != nil {
			return err
		}
	}
	for {
		yconn, err := e.tln.Accept()
		if err != nil {
			if e.isClosed() {
				return nil
			}
			return err
		}
		e.log.Info().Str("remote_address", yconn.RemoteAddr().String()).Msg("tunnel connection")
		if err := e.serve(yconn); err != nil {
			e.log.Error().Err(err).Msg("tunnel ended")
		}
		if e.isClosed() {
			return nil
		}
	}
}

func (e *Edge) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

func (e *Edge) authenticate(yconn net.Conn) bool {
	_ = yconn.SetReadDeadline(time.Now().Add(5 * time.Second))
	buf := make([]byte, 0, max_token+1)
	one := []byte{0}
	for len(buf) <= max_token {
		if _, err := io.ReadFull(yconn, one); err != nil {
			return false
		}
		if one[0] == '\n' {
			break
		}
		buf = append(buf, one[0])
	}
	_ = yconn.SetReadDeadline(time.Time{})
	if string(buf) != e.config.Token {
		_, _ = yconn.Write([]byte{'-'})
		return false
	}
	_, err := yconn.Write([]byte{'+'})
	return err == nil
}

func (e *Edge) serve(yconn net.Conn) error {
	if !e.authenticate(yconn) {
		e.log.Warn().Str("event", TUNNEL_REJECTED).Str("remote_address", yconn.RemoteAddr().String()).Msg("")
		yconn.Close()
		return nil
	}
	session, err := yamux.Server(yconn, nil)
	if err != nil {
		yconn.Close()
		return err
	}
	eln, err := net.Listen("tcp", e.config.ExternalAddr)
	if err != nil {
		session.Close()
		return err
	}
	e.mu.Lock()
	e.session = session
	e.eln = eln
	e.mu.Unlock()
	select {
	case e.ext_addr <- eln.Addr():
	default:
	}
	e.log.Info().Str("event", TUNNEL_ACCEPTED).Str("external_address", eln.Addr().String()).Msg("")

	// a dead session closes the external listener so Accept returns
	go func() {
		<-session.CloseChan()
		eln.Close()
	}()
	defer eln.Close()
	for {
		c, err := eln.Accept()
		if err != nil {
			if session.IsClosed() || e.isClosed() {
				return nil
			}
			return err
		}
		go e.forward(session, c)
	}
}

func (e *Edge) forward(session *yamux.Session, c net.Conn) {
	defer c.Close()
	stream, err := session.OpenStream()
	if err != nil {
		e.log.Error().Err(err).Msg("error trying to open stream")
		return
	}
	defer stream.Close()
	e.log.Debug().Str("event", STREAM_OPENED).Uint32("stream_id", stream.StreamID()).Str("remote_address", c.RemoteAddr().String()).Msg("")

	if _, err := fmt.Fprintf(stream, "%s\n", c.RemoteAddr()); err != nil {
		return
	}
	done := make(chan struct{})
	go func() {
		_, _ = io.Copy(c, stream)
		c.Close()
		close(done)
	}()
	_, err = io.Copy(stream, c)
	if err != nil {
		e.log.Debug().Err(err).Uint32("stream_id", stream.StreamID()).Msg("copy ended")
	}
	stream.Close()
	<-done
}

func (e *Edge) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	if e.eln != nil {
		e.eln.Close()
	}
	if e.session != nil {
		e.session.Close()
	}
	if e.tln != nil {
		return e.tln.Close()
	}
	return nil
}
