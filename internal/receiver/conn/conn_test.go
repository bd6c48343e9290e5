package conn

import (
	"io"
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pipe(t *testing.T, max int, payload string) *Conn {
	a, b := net.Pipe()
	t.Cleanup(func() { a.Close(); b.Close() })
	go func() {
		_, _ = io.WriteString(b, payload)
		b.Close()
	}()
	return NewConn(a, 7, max)
}

func TestReadLines(t *testing.T) {
	c := pipe(t, 64, "first\nsecond\r\nlast")
	l, err := c.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "first", l)
	l, err = c.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "second", l)
	l, err = c.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "last", l)
	_, err = c.ReadLine()
	assert.ErrorIs(t, err, io.EOF)

	lines, n := c.Stat()
	assert.Equal(t, uint64(3), lines)
	assert.Equal(t, uint64(len("first\nsecond\r\nlast")), n)
}

func TestLongLineIsSkipped(t *testing.T) {
	c := pipe(t, 16, strings.Repeat("x", 50)+"\nok\n")
	_, err := c.ReadLine()
	assert.ErrorIs(t, err, ErrLineTooLong)
	l, err := c.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "ok", l)
}

func TestSetSource(t *testing.T) {
	c := pipe(t, 64, "")
	c.SetSource("203.0.113.9:41000")
	assert.Equal(t, "203.0.113.9", c.SourceIP())
	c.SetSource("garbage")
	assert.Equal(t, "garbage", c.SourceIP())
	assert.Equal(t, uint64(7), c.Cid())
}
