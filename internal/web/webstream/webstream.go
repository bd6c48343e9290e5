// Package webstream serves a websocket feed of every record the receiver stores. It is
// itself a store.Store so it can sit in the receiver's store fan-out.
package webstream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/phuslu/log"
	"nhooyr.io/websocket"
	"nuha.dev/gpsforward/internal/store"
	"nuha.dev/gpsforward/internal/sublist"
	"nuha.dev/gpsforward/internal/telemetry"
)

const (
	CONNECTED    string = "viewer_connected"
	DISCONNECTED string = "viewer_disconnected"
)

const queue_size = 64

var errClosed = errors.New("subscriber closed")

type WebStreamConfig struct {
	ListenAddr     string
	OriginPatterns []string
	WriteTimeout   time.Duration
}

type WebstreamServer struct {
	server  *http.Server
	log     log.Logger
	config  WebStreamConfig
	subs    *sublist.Sublist
	counter uint64

	// viewer connections are hijacked, so server Shutdown does not end them
	mu      sync.Mutex
	closed  bool
	viewers map[*WsSubscriber]context.CancelFunc
	wg      sync.WaitGroup
}

type WsSubscriber struct {
	name    string
	loc     chan []byte
	closed  uint32
	skipped uint64
	pushed  uint64
}

func (wsub *WsSubscriber) Push(sender string, d []byte) error {
	if wsub.Closed() {
		return errClosed
	}
	select {
	case wsub.loc <- d:
		atomic.AddUint64(&wsub.pushed, 1)
	default:
		atomic.AddUint64(&wsub.skipped, 1)
	}
	return nil
}

func (wsub *WsSubscriber) Closed() bool {
	return atomic.LoadUint32(&wsub.closed) == 1
}

func (wsub *WsSubscriber) Name() string {
	return wsub.name
}

func (wsub *WsSubscriber) MarshalObject(e *log.Entry) {
	e.Str("viewer", wsub.name).Uint64("pushed", atomic.LoadUint64(&wsub.pushed)).Uint64("skipped", atomic.LoadUint64(&wsub.skipped))
}

func NewWebstream(config WebStreamConfig) *WebstreamServer {
	o := &WebstreamServer{config: config}
	if o.config.WriteTimeout <= 0 {
		o.config.WriteTimeout = 5 * time.Second
	}
	o.subs = sublist.NewSublist()
	o.viewers = make(map[*WsSubscriber]context.CancelFunc)
	o.log = log.DefaultLogger
	o.log.Context = log.NewContext(nil).Str("module", "webstream").Value()
	o.server = &http.Server{
		Addr:           config.ListenAddr,
		Handler:        http.HandlerFunc(o.serve_http),
		ReadTimeout:    10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
	return o
}

func (ws *WebstreamServer) Run() error {
	ws.log.Info().Str("addr", ws.server.Addr).Msg("webstream listening")
	err := ws.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (ws *WebstreamServer) GetHandler() http.Handler {
	return http.HandlerFunc(ws.serve_http)
}

func (ws *WebstreamServer) Viewers() int {
	return ws.subs.Len()
}

// Put sends the record to every connected viewer. Slow viewers skip records.
func (ws *WebstreamServer) Put(rec telemetry.Record, srvt time.Time) {
	b, err := json.Marshal(store.NewMessage(rec, srvt))
	if err != nil {
		ws.log.Error().Err(err).Msg("marshal error")
		return
	}
	ws.subs.Send(rec.Source, b)
}

// Close stops the http server, ends every viewer connection and waits for their
// write loops.
func (ws *WebstreamServer) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := ws.server.Shutdown(ctx)

	ws.mu.Lock()
	ws.closed = true
	for _, stop := range ws.viewers {
		stop()
	}
	ws.mu.Unlock()
	ws.wg.Wait()
	return err
}

func (ws *WebstreamServer) serve_http(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:  ws.config.OriginPatterns,
		CompressionMode: websocket.CompressionDisabled,
	})
	if err != nil {
		ws.log.Error().Err(err).Msg("error while upgrading websocket")
		return
	}
	defer c.Close(websocket.StatusInternalError, "unhandled error")

	n := atomic.AddUint64(&ws.counter, 1)
	sub := &WsSubscriber{name: r.RemoteAddr + "#" + strconv.FormatUint(n, 10), loc: make(chan []byte, queue_size)}

	// viewers never send; CloseRead handles control frames and ends ctx on close
	ctx, stop := context.WithCancel(c.CloseRead(r.Context()))
	defer stop()
	ws.mu.Lock()
	if ws.closed {
		ws.mu.Unlock()
		c.Close(websocket.StatusGoingAway, "server closing")
		return
	}
	ws.viewers[sub] = stop
	ws.wg.Add(1)
	ws.mu.Unlock()
	defer ws.wg.Done()

	ws.subs.Subscribe(sub)
	ws.log.Info().Str("event", CONNECTED).EmbedObject(sub).Msg("")
	err = ws.write_loop(ctx, c, sub)
	atomic.StoreUint32(&sub.closed, 1)
	ws.subs.Unsubscribe(sub)

	ws.mu.Lock()
	delete(ws.viewers, sub)
	closing := ws.closed
	ws.mu.Unlock()
	ws.log.Info().Str("event", DISCONNECTED).Err(err).EmbedObject(sub).Msg("")
	if closing {
		c.Close(websocket.StatusGoingAway, "server closing")
		return
	}
	c.Close(websocket.StatusNormalClosure, "")
}

func (ws *WebstreamServer) write_loop(ctx context.Context, c *websocket.Conn, sub *WsSubscriber) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d := <-sub.loc:
			wctx, cancel := context.WithTimeout(ctx, ws.config.WriteTimeout)
			err := c.Write(wctx, websocket.MessageText, d)
			cancel()
			if err != nil {
				return err
			}
		}
	}
}
