package receiver

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nuha.dev/gpsforward/internal/telemetry"
	"nuha.dev/gpsforward/internal/tunnel"
)

const line = "24/Mar/2017-16:45:09 10.0.0.5 Pixel 49.2827 -123.1207\n"

type memStore struct {
	mu   sync.Mutex
	recs []telemetry.Record
}

func (m *memStore) Put(rec telemetry.Record, srvt time.Time) {
	m.mu.Lock()
	m.recs = append(m.recs, rec)
	m.mu.Unlock()
}

func (m *memStore) Close() error { return nil }

func (m *memStore) all() []telemetry.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]telemetry.Record(nil), m.recs...)
}

func start(t *testing.T, config *ReceiverConfig) (*Receiver, *memStore) {
	st := &memStore{}
	config.ListenerAddr = "127.0.0.1:0"
	r := NewReceiver(st, config)
	ln, err := r.Listen()
	require.NoError(t, err)
	go r.Serve(ln)
	t.Cleanup(func() { r.Close() })
	return r, st
}

func send(t *testing.T, addr string, payload string) {
	c, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	defer c.Close()
	_, err = c.Write([]byte(payload))
	require.NoError(t, err)
}

func TestReceivesRecords(t *testing.T) {
	r, st := start(t, &ReceiverConfig{})
	send(t, r.Addr().String(), line+"\n"+"garbage\n"+"24/Mar/2017-16:45:10 10.0.0.5 My Phone 49.2827 -123.1207\n"+line)

	require.Eventually(t, func() bool { return len(st.all()) == 2 && r.Stats().BadLines == 2 }, 2*time.Second, 5*time.Millisecond)
	recs := st.all()
	assert.Equal(t, "Pixel", recs[0].Label)
	assert.Equal(t, "10.0.0.5", recs[0].Source)
	assert.Equal(t, time.Date(2017, time.March, 24, 16, 45, 9, 0, time.UTC), recs[0].Time)
	assert.InDelta(t, -123.1207, recs[1].Longitude, 1e-9)
	assert.Equal(t, uint64(2), r.Stats().Records)
}

func TestNonFiniteCoordinatesAreBadLines(t *testing.T) {
	r, st := start(t, &ReceiverConfig{})
	send(t, r.Addr().String(), "24/Mar/2017-16:45:09 10.0.0.5 Pixel NaN -123.1207\n"+
		"24/Mar/2017-16:45:09 10.0.0.5 Pixel 49.2827 +Inf\n"+
		"24/Mar/2017-16:45:09 10.0.0.5 Pixel 95.0 -123.1207\n"+line)

	require.Eventually(t, func() bool { return len(st.all()) == 1 && r.Stats().BadLines == 3 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, uint64(1), r.Stats().Records)
}

func TestJoinLabel(t *testing.T) {
	r, st := start(t, &ReceiverConfig{JoinLabel: true})
	send(t, r.Addr().String(), "24/Mar/2017-16:45:10 10.0.0.5 My  Phone 49.2827 -123.1207\n")

	require.Eventually(t, func() bool { return len(st.all()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "My Phone", st.all()[0].Label)
}

func TestLongLineDoesNotKillConnection(t *testing.T) {
	r, st := start(t, &ReceiverConfig{MaxLineLength: 64})
	long := make([]byte, 200)
	for i := range long {
		long[i] = 'x'
	}
	send(t, r.Addr().String(), string(long)+"\n"+line)

	require.Eventually(t, func() bool { return len(st.all()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, uint64(1), r.Stats().BadLines)
}

func TestProxyProtocolHeader(t *testing.T) {
	r, st := start(t, &ReceiverConfig{ProxyProtocol: true})
	send(t, r.Addr().String(), "PROXY TCP4 203.0.113.9 10.0.0.1 41000 25150\r\n"+line)

	require.Eventually(t, func() bool { return len(st.all()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, uint64(0), r.Stats().BadLines)
}

func TestCloseEndsConnections(t *testing.T) {
	r, _ := start(t, &ReceiverConfig{})
	c, err := net.DialTimeout("tcp", r.Addr().String(), time.Second)
	require.NoError(t, err)
	defer c.Close()
	require.Eventually(t, func() bool { return r.Stats().Active == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, r.Close())
	assert.Equal(t, int64(0), r.Stats().Active)
}

func TestReceivesThroughTunnel(t *testing.T) {
	edge := tunnel.NewEdge(&tunnel.EdgeConfig{ExternalAddr: "127.0.0.1:0", TunnelAddr: "127.0.0.1:0", Token: "t0ken"})
	taddr, err := edge.Listen()
	require.NoError(t, err)
	go edge.Run()
	defer edge.Close()

	st := &memStore{}
	r := NewReceiver(st, &ReceiverConfig{TunnelAddr: taddr.String(), TunnelToken: "t0ken", TunnelRetry: 50 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.RunTunnel(ctx)
		close(done)
	}()

	send(t, edge.ExternalAddr().String(), line)
	require.Eventually(t, func() bool { return len(st.all()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "Pixel", st.all()[0].Label)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("tunnel loop did not stop")
	}
	r.Close()
}
