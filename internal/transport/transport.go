// Package transport owns the single TCP connection of a tracking session. It resolves,
// dials, writes newline-terminated records and closes; there is no read path.
package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"nuha.dev/gpsforward/internal/apperr"
	"nuha.dev/gpsforward/internal/util/wc"
)

const (
	RESOLVE_FAILED string = "resolve_failed"
	CONNECT_FAILED string = "connect_failed"
	CONNECTED      string = "connected"
	WRITE_FAILED   string = "write_failed"
	CLOSE_FAILED   string = "close_failed"
)

var errNoAddress = errors.New("no address for host")

type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

type TransportConfig struct {
	// ConnectTimeout bounds resolve and dial together. Zero waits for as long as the
	// operating system does.
	ConnectTimeout time.Duration
	// WriteTimeout is the deadline of a single Send. Zero means none.
	WriteTimeout time.Duration
}

type Transport struct {
	config      *TransportConfig
	resolver    Resolver
	dialer      net.Dialer
	logger      zerolog.Logger
	cid_counter uint64
}

// New returns a Transport. A nil resolver uses net.DefaultResolver.
func New(config *TransportConfig, resolver Resolver) *Transport {
	t := &Transport{config: config, resolver: resolver}
	if t.resolver == nil {
		t.resolver = net.DefaultResolver
	}
	t.logger = log.With().Str("module", "transport").Logger()
	return t
}

func (t *Transport) Connect(ctx context.Context, host string, port uint16) (*Conn, error) {
	if t.config.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.config.ConnectTimeout)
		defer cancel()
	}

	addrs, err := t.resolver.LookupIPAddr(ctx, host)
	if err == nil && len(addrs) == 0 {
		err = errNoAddress
	}
	if err != nil {
		kind := apperr.UnresolvableHost
		if isTimeout(err) {
			kind = apperr.Timeout
		}
		t.logger.Error().Err(err).Str("event", RESOLVE_FAILED).Str("host", host).Msg("")
		return nil, apperr.New(kind, "resolve", err)
	}

	sport := strconv.Itoa(int(port))
	for _, addr := range addrs {
		var c net.Conn
		c, err = t.dialer.DialContext(ctx, "tcp", net.JoinHostPort(addr.String(), sport))
		if err != nil {
			t.logger.Debug().Err(err).Str("addr", addr.String()).Msg("dial attempt failed")
			continue
		}
		cid := atomic.AddUint64(&t.cid_counter, 1)
		wconn := wc.NewWrappedConn(c, cid, t.logger)
		t.logger.Info().Str("event", CONNECTED).Str("host", host).Str("remote_address", wconn.RemoteAddr()).Uint64("cid", cid).Msg("")
		return &Conn{c: wconn, write_timeout: t.config.WriteTimeout, buf: make([]byte, 0, 128), logger: t.logger}, nil
	}

	kind := apperr.ConnectionRefused
	if isTimeout(err) {
		kind = apperr.Timeout
	}
	t.logger.Error().Err(err).Str("event", CONNECT_FAILED).Str("host", host).Uint16("port", port).Msg("")
	return nil, apperr.New(kind, "connect", err)
}

// Conn is one live connection. It is not safe for concurrent Send; the owning session
// serializes writers.
type Conn struct {
	c             *wc.Conn
	write_timeout time.Duration
	buf           []byte
	logger        zerolog.Logger
}

// Send writes line plus a single newline in one write.
func (c *Conn) Send(line string) error {
	c.buf = append(c.buf[:0], line...)
	c.buf = append(c.buf, '\n')
	if c.write_timeout > 0 {
		_ = c.c.SetWriteDeadline(time.Now().Add(c.write_timeout))
	}
	_, err := c.c.Write(c.buf)
	if err != nil {
		e := apperr.New(apperr.WriteError, "send", err)
		e.Fatal = isFatal(err)
		c.logger.Warn().Err(err).Str("event", WRITE_FAILED).Bool("fatal", e.Fatal).Uint64("cid", c.c.Cid()).Msg("")
		return e
	}
	return nil
}

func (c *Conn) Close() error {
	err := c.c.Close()
	if err != nil {
		c.logger.Warn().Err(err).Str("event", CLOSE_FAILED).Uint64("cid", c.c.Cid()).Msg("")
		return apperr.New(apperr.CloseError, "close", err)
	}
	return nil
}

func (c *Conn) LocalIP() string {
	return c.c.LocalIP()
}

func (c *Conn) RemoteAddr() string {
	return c.c.RemoteAddr()
}

func (c *Conn) BytesOut() uint64 {
	return c.c.Stat()
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// isFatal reports write errors after which the socket cannot be used again.
func isFatal(err error) bool {
	return errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNRESET)
}
