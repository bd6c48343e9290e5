package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nuha.dev/gpsforward/internal/event"
	"nuha.dev/gpsforward/internal/location"
	"nuha.dev/gpsforward/internal/session"
)

type nopSub struct{}

func (nopSub) Unsubscribe() {}

type staticSource struct{}

func (staticSource) Subscribe(h location.Handler) location.Subscription { return nopSub{} }
func (staticSource) Enabled() bool                                      { return true }

// dials never complete so sessions stay Connecting until stopped
func pendingDialer() session.Dialer {
	return session.DialerFunc(func(ctx context.Context, host string, port uint16) (session.Conn, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
}

func newApi(t *testing.T) (http.Handler, *session.Controller) {
	bus, err := event.New(1)
	require.NoError(t, err)
	c := session.NewController(pendingDialer(), staticSource{}, bus, clockwork.NewFakeClock(), &session.Config{})
	t.Cleanup(func() { c.StopCurrent() })
	m := NewMonApi(c, bus, &MonitoringConfig{ListenAddr: "127.0.0.1:0"})
	return m.GetHandler(), c
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	h, _ := newApi(t)
	w := do(h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"ok":true}`, w.Body.String())
}

func TestNoSession(t *testing.T) {
	h, _ := newApi(t)
	w := do(h, http.MethodGet, "/session", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(h, http.MethodDelete, "/session", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"stopped":false}`, w.Body.String())
}

func TestStartGetStop(t *testing.T) {
	h, c := newApi(t)

	w := do(h, http.MethodPost, "/session", `{"host":"tracker.example","port":25150}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	snap := session.Snapshot{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, "connecting", snap.State)
	assert.Equal(t, "tracker.example", snap.Host)
	assert.Equal(t, uint16(25150), snap.Port)
	assert.Equal(t, c.Current().ID(), snap.ID)

	w = do(h, http.MethodPost, "/session", `{"host":"other.example","port":"25151"}`)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(h, http.MethodGet, "/session", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(h, http.MethodDelete, "/session", "")
	require.Equal(t, http.StatusOK, w.Code)
	res := StopResponse{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.True(t, res.Stopped)
	require.NotNil(t, res.Session)
	assert.Equal(t, "stopped", res.Session.State)

	w = do(h, http.MethodGet, "/events", "")
	require.Equal(t, http.StatusOK, w.Code)
	entries := []event.Entry{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &entries))
	require.Len(t, entries, 2)
	assert.Equal(t, event.TopicState, entries[0].Topic)
}

func TestStartRejectsBadInput(t *testing.T) {
	h, c := newApi(t)
	for _, body := range []string{
		`not json`,
		`{"port":25150}`,
		`{"host":"tracker.example"}`,
		`{"host":"tracker.example","port":70000}`,
		`{"host":"tracker.example","port":"abc"}`,
	} {
		w := do(h, http.MethodPost, "/session", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
	}
	assert.Nil(t, c.Current())
}
