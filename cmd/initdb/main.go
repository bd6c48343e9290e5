package main

import (
	"context"
	"flag"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/phuslu/log"
	"nuha.dev/gpsforward/internal/config"
	"nuha.dev/gpsforward/internal/store/impl/pgstore"
)

var configPath = flag.String("config", "", "path to gpsserver yaml config file")

func main() {
	flag.Parse()
	cfg, err := config.LoadReceiver(*configPath)
	if err != nil {
		panic(err.Error())
	}
	if cfg.Store.PostgresURL == "" {
		log.Fatal().Msg("store.postgres_url is not set")
	}
	pool, err := pgxpool.Connect(context.Background(), cfg.Store.PostgresURL)
	if err != nil {
		panic(err.Error())
	}
	defer pool.Close()
	err = pgstore.EnsureSchema(context.Background(), pool, cfg.Store.PostgresTable)
	if err != nil {
		panic(err.Error())
	}
	log.Info().Str("table", cfg.Store.PostgresTable).Msg("schema ready")
}
