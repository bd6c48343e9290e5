package conn

import (
	"bufio"
	"errors"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/phuslu/log"
)

var ErrLineTooLong = errors.New("line too long")

// Conn is one accepted sender connection with a line reader on top.
type Conn struct {
	cid     uint64
	tuple   []string
	r       *bufio.Reader
	created time.Time
	lines   uint64
	byte_in uint64
	net.Conn
}

// NewConn wraps c. max is the longest accepted line including its newline.
func NewConn(c net.Conn, cid uint64, max int) *Conn {
	sourceip, sourceport, _ := net.SplitHostPort(c.RemoteAddr().String())
	targetip, targetport, _ := net.SplitHostPort(c.LocalAddr().String())
	if max < 16 {
		max = 16
	}
	return &Conn{
		cid:     cid,
		tuple:   []string{sourceip, sourceport, targetip, targetport},
		r:       bufio.NewReaderSize(c, max),
		created: time.Now(),
		Conn:    c,
	}
}

func (c *Conn) Cid() uint64 {
	return c.cid
}

// SetSource replaces the peer address, used when the real peer arrives in a tunnel header.
func (c *Conn) SetSource(addr string) {
	ip, port, err := net.SplitHostPort(addr)
	if err != nil {
		ip, port = addr, ""
	}
	c.tuple[0] = ip
	c.tuple[1] = port
}

func (c *Conn) SourceIP() string {
	return c.tuple[0]
}

// ReadLine returns the next line without its line ending. A line longer than the
// reader buffer is discarded up to its newline and reported as ErrLineTooLong.
func (c *Conn) ReadLine() (string, error) {
	b, err := c.r.ReadSlice('\n')
	atomic.AddUint64(&c.byte_in, uint64(len(b)))
	if err == bufio.ErrBufferFull {
		for err == bufio.ErrBufferFull {
			b, err = c.r.ReadSlice('\n')
			atomic.AddUint64(&c.byte_in, uint64(len(b)))
		}
		if err != nil {
			return "", err
		}
		return "", ErrLineTooLong
	}
	if err != nil {
		// a final line without newline is still a line
		if len(b) > 0 && errors.Is(err, io.EOF) {
			atomic.AddUint64(&c.lines, 1)
			return trim(b), nil
		}
		return "", err
	}
	atomic.AddUint64(&c.lines, 1)
	return trim(b), nil
}

func trim(b []byte) string {
	n := len(b)
	if n > 0 && b[n-1] == '\n' {
		n--
	}
	if n > 0 && b[n-1] == '\r' {
		n--
	}
	return string(b[:n])
}

func (c *Conn) Stat() (lines uint64, byte_in uint64) {
	return atomic.LoadUint64(&c.lines), atomic.LoadUint64(&c.byte_in)
}

func (c *Conn) MarshalObject(e *log.Entry) {
	e.Strs("socket", c.tuple).Uint64("cid", c.cid)
}
