package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"nuha.dev/gpsforward/internal/config"
	"nuha.dev/gpsforward/internal/event"
	"nuha.dev/gpsforward/internal/location/sim"
	"nuha.dev/gpsforward/internal/logger"
	"nuha.dev/gpsforward/internal/session"
	"nuha.dev/gpsforward/internal/transport"
	"nuha.dev/gpsforward/internal/web/monitoring"
)

var configPath = flag.String("config", "", "path to yaml config file")

func main() {
	flag.Parse()
	cfg, err := config.LoadClient(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("unable to load config")
	}
	logger.Init(cfg.Logging)

	bus, err := event.New(cfg.EventNode)
	if err != nil {
		log.Fatal().Err(err).Msg("unable to create event bus")
	}

	clock := clockwork.NewRealClock()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	source := sim.New(&sim.Config{
		Interval:       cfg.Location.Interval,
		MinDistance:    cfg.Location.MinDistance,
		Step:           cfg.Location.Step,
		StartLatitude:  cfg.Location.StartLatitude,
		StartLongitude: cfg.Location.StartLongitude,
		Seed:           cfg.Location.Seed,
	}, clock)
	go source.Run(ctx)

	tr := transport.New(&transport.TransportConfig{
		ConnectTimeout: cfg.Transport.ConnectTimeout,
		WriteTimeout:   cfg.Transport.WriteTimeout,
	}, nil)
	ctrl := session.NewController(session.FromTransport(tr), source, bus, clock, &session.Config{
		TickInterval:   cfg.Session.TickInterval,
		MaxWriteErrors: cfg.Session.MaxWriteErrors,
		DeviceLabel:    cfg.Session.DeviceLabel,
		SourceID:       cfg.Session.SourceID,
	})

	var mon *monitoring.MonitoringServer
	if cfg.Monitoring.Addr != "" {
		mon = monitoring.NewMonApi(ctrl, bus, &monitoring.MonitoringConfig{
			ListenAddr:     cfg.Monitoring.Addr,
			AllowedOrigins: cfg.Monitoring.AllowedOrigins,
		})
		go func() {
			if err := mon.Run(); err != nil {
				log.Error().Err(err).Msg("monitoring api stopped")
			}
		}()
	}

	if cfg.Target.Host != "" && cfg.Target.Port != "" {
		if _, err := ctrl.StartSession(cfg.Target.Host, cfg.Target.Port); err != nil {
			log.Error().Err(err).Msg("unable to start session")
		}
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1)
	for sig := range sigc {
		if sig == syscall.SIGUSR1 {
			source.SetEnabled(!source.Enabled())
			log.Info().Bool("enabled", source.Enabled()).Msg("location provider toggled")
			continue
		}
		break
	}

	log.Info().Msg("shutting down")
	sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer scancel()
	if err := ctrl.Shutdown(sctx); err != nil {
		log.Error().Err(err).Msg("session did not stop in time")
	}
	if mon != nil {
		_ = mon.Shutdown(sctx)
	}
}
