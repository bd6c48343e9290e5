package pgstore

import (
	"context"
	"fmt"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/phuslu/log"
)

type Execer interface {
	Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error)
}

const schema = `CREATE TABLE IF NOT EXISTS %s (
	id          bigserial PRIMARY KEY,
	source      text NOT NULL,
	label       text NOT NULL,
	latitude    double precision NOT NULL,
	longitude   double precision NOT NULL,
	device_time timestamptz NOT NULL,
	server_time timestamptz NOT NULL
)`

const index = `CREATE INDEX IF NOT EXISTS %s ON %s (source, device_time)`

// EnsureSchema creates the location table and its lookup index if missing.
func EnsureSchema(ctx context.Context, db Execer, table string) error {
	logger := log.DefaultLogger
	logger.Context = log.NewContext(nil).Str("module", "pgstore").Str("table", table).Value()

	ident := pgx.Identifier{table}.Sanitize()
	if _, err := db.Exec(ctx, fmt.Sprintf(schema, ident)); err != nil {
		logger.Error().Err(err).Msg("error creating table")
		return err
	}
	idx := pgx.Identifier{table + "_source_time_idx"}.Sanitize()
	if _, err := db.Exec(ctx, fmt.Sprintf(index, idx, ident)); err != nil {
		logger.Error().Err(err).Msg("error creating index")
		return err
	}
	logger.Info().Msg("schema ready")
	return nil
}
