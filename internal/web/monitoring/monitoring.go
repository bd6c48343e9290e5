// Package monitoring is the local HTTP API of the client: it shows the current session,
// starts and stops sessions and lists recent session events.
package monitoring

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"nuha.dev/gpsforward/internal/apperr"
	"nuha.dev/gpsforward/internal/event"
	"nuha.dev/gpsforward/internal/session"
	"nuha.dev/gpsforward/internal/util"
)

var errNoSession = errors.New("no session")

type Sessions interface {
	StartSession(host, port string) (*session.Session, error)
	Current() *session.Session
	StopCurrent() bool
}

type Events interface {
	Recent() []event.Entry
}

type MonitoringConfig struct {
	ListenAddr     string
	AllowedOrigins []string
}

type StartRequest struct {
	Host string      `json:"host" validate:"required"`
	Port json.Number `json:"port" validate:"required"`
}

type StopResponse struct {
	Stopped bool              `json:"stopped"`
	Session *session.Snapshot `json:"session,omitempty"`
}

type MonitoringServer struct {
	sessions Sessions
	events   Events
	validate *validator.Validate
	r        chi.Router
	server   *http.Server
	logger   zerolog.Logger
}

func NewMonApi(sessions Sessions, events Events, config *MonitoringConfig) *MonitoringServer {
	m := &MonitoringServer{sessions: sessions, events: events}
	m.validate = validator.New()
	m.logger = log.With().Str("module", "monitoring").Logger()

	origins := config.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:*", "http://127.0.0.1:*"}
	}
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(middleware.Recoverer)
	r.Use(m.access_log)

	r.Get("/health", m.health)
	r.Get("/session", m.get_session)
	r.Post("/session", m.start_session)
	r.Delete("/session", m.stop_session)
	r.Get("/events", m.recent_events)
	m.r = r

	m.server = &http.Server{
		Addr:           config.ListenAddr,
		Handler:        r,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
	return m
}

func (m *MonitoringServer) Run() error {
	m.logger.Info().Str("addr", m.server.Addr).Msg("monitoring api listening")
	err := m.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (m *MonitoringServer) Shutdown(ctx context.Context) error {
	return m.server.Shutdown(ctx)
}

func (m *MonitoringServer) GetHandler() http.Handler {
	return m.r
}

func (m *MonitoringServer) access_log(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		t := time.Now()
		next.ServeHTTP(ww, r)
		m.logger.Debug().Str("method", r.Method).Str("path", r.URL.Path).
			Int("status", ww.Status()).Dur("took", time.Since(t)).Msg("")
	})
}

func (m *MonitoringServer) health(w http.ResponseWriter, r *http.Request) {
	util.JsonWrite(w, map[string]bool{"ok": true})
}

func (m *MonitoringServer) get_session(w http.ResponseWriter, r *http.Request) {
	s := m.sessions.Current()
	if s == nil {
		util.JsonError(w, http.StatusNotFound, errNoSession)
		return
	}
	util.JsonWrite(w, s.Snapshot())
}

func (m *MonitoringServer) start_session(w http.ResponseWriter, r *http.Request) {
	req := StartRequest{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		util.JsonError(w, http.StatusBadRequest, err)
		return
	}
	if err := m.validate.Struct(req); err != nil {
		util.JsonError(w, http.StatusBadRequest, err)
		return
	}
	s, err := m.sessions.StartSession(req.Host, req.Port.String())
	switch {
	case errors.Is(err, session.ErrBusy):
		util.JsonError(w, http.StatusConflict, err)
		return
	case apperr.IsKind(err, apperr.InvalidConfig):
		util.JsonError(w, http.StatusBadRequest, err)
		return
	case err != nil:
		util.JsonError(w, http.StatusInternalServerError, err)
		return
	}
	util.JsonWriteStatus(w, http.StatusAccepted, s.Snapshot())
}

func (m *MonitoringServer) stop_session(w http.ResponseWriter, r *http.Request) {
	res := StopResponse{}
	res.Stopped = m.sessions.StopCurrent()
	if s := m.sessions.Current(); s != nil {
		snap := s.Snapshot()
		res.Session = &snap
	}
	util.JsonWrite(w, res)
}

func (m *MonitoringServer) recent_events(w http.ResponseWriter, r *http.Request) {
	util.JsonWrite(w, m.events.Recent())
}
