package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/phuslu/log"
	"nuha.dev/gpsforward/internal/config"
	"nuha.dev/gpsforward/internal/logger"
	"nuha.dev/gpsforward/internal/receiver"
	"nuha.dev/gpsforward/internal/store"
	"nuha.dev/gpsforward/internal/store/impl/filestore"
	"nuha.dev/gpsforward/internal/store/impl/logstore"
	"nuha.dev/gpsforward/internal/store/impl/natsstore"
	"nuha.dev/gpsforward/internal/store/impl/pgstore"
	"nuha.dev/gpsforward/internal/web/webstream"
)

var configPath = flag.String("config", "", "path to yaml config file")

func main() {
	flag.Parse()
	cfg, err := config.LoadReceiver(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("unable to load config")
	}
	logger.InitReceiver(cfg.Logging)

	var stores store.Multi
	if cfg.Store.File != "" {
		fs, err := filestore.Open(cfg.Store.File)
		if err != nil {
			log.Fatal().Err(err).Str("file", cfg.Store.File).Msg("unable to open store file")
		}
		stores = append(stores, fs)
	}
	var pool *pgxpool.Pool
	if cfg.Store.PostgresURL != "" {
		pool, err = pgxpool.Connect(context.Background(), cfg.Store.PostgresURL)
		if err != nil {
			log.Fatal().Err(err).Msg("unable to connect to postgres")
		}
		if err := pgstore.EnsureSchema(context.Background(), pool, cfg.Store.PostgresTable); err != nil {
			log.Fatal().Err(err).Msg("unable to create schema")
		}
		pg := pgstore.NewStore(pool, cfg.Store.PostgresTable, clockwork.NewRealClock(), &pgstore.StoreConfig{
			BufSize:     128,
			TickerDur:   time.Second,
			MaxAgeFlush: cfg.Store.FlushInterval,
		})
		pg.Run()
		stores = append(stores, pg)
	}
	if cfg.Store.NatsURL != "" {
		ns, err := natsstore.Connect(cfg.Store.NatsURL, cfg.Store.NatsSubject)
		if err != nil {
			log.Fatal().Err(err).Msg("unable to connect to nats")
		}
		stores = append(stores, ns)
	}
	if cfg.Store.Log {
		stores = append(stores, logstore.NewStore(log.DefaultLogger))
	}
	if cfg.Web.Addr != "" {
		ws := webstream.NewWebstream(webstream.WebStreamConfig{
			ListenAddr:     cfg.Web.Addr,
			OriginPatterns: cfg.Web.AllowedOrigins,
		})
		go func() {
			if err := ws.Run(); err != nil {
				log.Error().Err(err).Msg("webstream stopped")
			}
		}()
		stores = append(stores, ws)
	}

	r := receiver.NewReceiver(stores, &receiver.ReceiverConfig{
		ListenerAddr:  cfg.Listen.Addr,
		ProxyProtocol: cfg.Listen.ProxyProtocol,
		JoinLabel:     cfg.Listen.JoinLabel,
		MaxLineLength: cfg.Listen.MaxLineLength,
		IdleTimeout:   cfg.Listen.IdleTimeout,
		TunnelAddr:    cfg.Tunnel.Addr,
		TunnelToken:   cfg.Tunnel.Token,
		TunnelRetry:   cfg.Tunnel.Retry,
	})
	go func() {
		if err := r.Run(); err != nil {
			log.Fatal().Err(err).Msg("receiver stopped")
		}
	}()
	ctx, cancel := context.WithCancel(context.Background())
	if cfg.Tunnel.Addr != "" {
		go r.RunTunnel(ctx)
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	log.Info().Msg("shutting down")
	cancel()
	_ = r.Close()
	if err := stores.Close(); err != nil {
		log.Error().Err(err).Msg("error closing stores")
	}
	if pool != nil {
		pool.Close()
	}
	st := r.Stats()
	log.Info().Uint64("connections", st.Connections).Uint64("records", st.Records).Uint64("bad_lines", st.BadLines).Msg("receiver stopped")
}
