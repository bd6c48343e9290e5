package pgstore

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jonboulle/clockwork"
	"github.com/phuslu/log"
	"nuha.dev/gpsforward/internal/telemetry"
)

var columns = []string{"source", "label", "latitude", "longitude", "device_time", "server_time"}

// Copier is satisfied by *pgxpool.Pool and *pgx.Conn.
type Copier interface {
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

type Store struct {
	config *StoreConfig
	clock  clockwork.Clock
	wlock  sync.Mutex
	wbuf   buffer
	flushc chan buffer
	stopc  chan struct{}
	done   sync.WaitGroup
	db     Copier
	log    log.Logger
	table  string
	closed bool
}

type StoreConfig struct {
	BufSize     int
	TickerDur   time.Duration
	MaxAgeFlush time.Duration
}

type buffer struct {
	seq uint64
	t1  time.Time
	buf []record
}

func new_buffer(seq uint64, len int) buffer {
	return buffer{seq: seq, buf: make([]record, 0, len)}
}

type record struct {
	source string
	label  string
	lat    float64
	lon    float64
	devt   time.Time
	srvt   time.Time
}

func NewStore(db Copier, table string, clock clockwork.Clock, config *StoreConfig) *Store {
	o := &Store{}
	o.config = config
	o.clock = clock
	o.table = table
	o.db = db
	o.log = log.DefaultLogger
	o.log.Context = log.NewContext(nil).Str("module", "pgstore").Str("table", table).Value()
	o.wbuf = new_buffer(0, o.config.BufSize)
	o.flushc = make(chan buffer, 4)
	o.stopc = make(chan struct{})
	return o
}

func (st *Store) Run() {
	st.done.Add(2)
	go st.timer_flusher()
	go st.handle()
}

func (st *Store) timer_flusher() {
	defer st.done.Done()
	ticker := st.clock.NewTicker(st.config.TickerDur)
	defer ticker.Stop()
	for {
		select {
		case <-st.stopc:
			return
		case t := <-ticker.Chan():
			st.wlock.Lock()
			if len(st.wbuf.buf) != 0 && t.Sub(st.wbuf.t1) >= st.config.MaxAgeFlush {
				st.flush()
			}
			st.wlock.Unlock()
		}
	}
}

func (st *Store) Put(rec telemetry.Record, srvt time.Time) {
	r := record{source: rec.Source, label: rec.Label, lat: rec.Latitude, lon: rec.Longitude, devt: rec.Time, srvt: srvt}
	st.wlock.Lock()
	defer st.wlock.Unlock()
	if st.closed {
		st.log.Warn().Str("source", rec.Source).Msg("put after close, record dropped")
		return
	}
	if len(st.wbuf.buf) == 0 {
		st.wbuf.t1 = st.clock.Now()
	}
	st.wbuf.buf = append(st.wbuf.buf, r)
	if len(st.wbuf.buf) == st.config.BufSize {
		st.flush()
	}
}

// flush hands the write buffer to the copier goroutine. Caller holds wlock.
func (st *Store) flush() {
	next := st.wbuf.seq + 1
	st.flushc <- st.wbuf
	st.wbuf = new_buffer(next, st.config.BufSize)
}

func (st *Store) handle() {
	defer st.done.Done()
	st.log.Info().Msg("starting flusher task")
	for buf := range st.flushc {
		t1 := time.Now()
		n, err := st.db.CopyFrom(context.Background(),
			pgx.Identifier{st.table},
			columns,
			pgx.CopyFromSlice(len(buf.buf), func(i int) ([]interface{}, error) {
				d := buf.buf[i]
				return []interface{}{d.source, d.label, d.lat, d.lon, d.devt, d.srvt}, nil
			}))
		if err != nil {
			st.log.Error().Err(err).Uint64("seq", buf.seq).Int("length", len(buf.buf)).Msg("flush error")
		} else {
			st.log.Debug().Str("action", "flush").Uint64("seq", buf.seq).Int64("length", n).Dur("time_taken", time.Since(t1)).Msg("flush successfull")
		}
	}
}

// Close flushes what is buffered and waits for the copier to finish.
func (st *Store) Close() error {
	st.wlock.Lock()
	if st.closed {
		st.wlock.Unlock()
		return nil
	}
	st.closed = true
	close(st.stopc)
	if len(st.wbuf.buf) != 0 {
		st.flush()
	}
	close(st.flushc)
	st.wlock.Unlock()
	st.done.Wait()
	return nil
}
