package wc

import (
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Conn is an outbound connection that counts written bytes and remembers whether it
// was closed.
type Conn struct {
	conn     net.Conn
	closed   uint32
	raddr    string
	laddr    string
	cid      uint64
	created  time.Time
	byte_out uint64
	logger   zerolog.Logger
}

func NewWrappedConn(conn net.Conn, cid uint64, logger zerolog.Logger) *Conn {
	o := &Conn{conn: conn, cid: cid}
	o.raddr = conn.RemoteAddr().String()
	o.laddr = conn.LocalAddr().String()
	o.created = time.Now()
	o.logger = logger.With().Str("module", "wconn").Logger()
	o.logger.Debug().Str("remote_address", o.raddr).Str("local_address", o.laddr).Uint64("cid", o.cid).Msg("connection created")
	return o
}

func (c *Conn) Write(d []byte) (int, error) {
	n, err := c.conn.Write(d)
	atomic.AddUint64(&c.byte_out, uint64(n))
	return n, err
}

func (c *Conn) SetWriteDeadline(t time.Time) error {
	return c.conn.SetWriteDeadline(t)
}

// Close closes the socket once. Later calls return net.ErrClosed.
func (c *Conn) Close() error {
	if !atomic.CompareAndSwapUint32(&c.closed, 0, 1) {
		return fmt.Errorf("cid %d: %w", c.cid, net.ErrClosed)
	}
	err := c.conn.Close()
	c.logger.Debug().Uint64("byte_out", c.Stat()).Uint64("cid", c.cid).Msg("connection closed")
	return err
}

func (c *Conn) Stat() (byte_out uint64) {
	return atomic.LoadUint64(&c.byte_out)
}

func (c *Conn) Cid() uint64 {
	return c.cid
}

func (c *Conn) Closed() bool {
	return atomic.LoadUint32(&c.closed) == 1
}

func (c *Conn) RemoteAddr() string {
	return c.raddr
}

// LocalIP is the local address of the socket without its port.
func (c *Conn) LocalIP() string {
	host, _, err := net.SplitHostPort(c.laddr)
	if err != nil {
		return c.laddr
	}
	return host
}

func (c *Conn) Created() time.Time {
	return c.created
}
