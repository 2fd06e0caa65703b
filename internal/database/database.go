// Package database keeps the durable run history in PostgreSQL.
package database

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// ErrSchemaNotReady is returned by HealthCheck while migrations are pending.
var ErrSchemaNotReady = errors.New("runs schema not migrated")

type DB struct {
	Pool *pgxpool.Pool
	log  zerolog.Logger
}

// Options configures the connection pool.
type Options struct {
	URL      string
	MaxConns int32
	MinConns int32
}

// Connect opens the pool, pings the server and reports whether the runs
// table is already in place. Migrate creates it when it is not.
func Connect(ctx context.Context, opts Options, log zerolog.Logger) (*DB, error) {
	cfg, err := pgxpool.ParseConfig(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url %s: %w", maskDSN(opts.URL), err)
	}
	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}
	if opts.MinConns >= 0 && opts.MinConns <= cfg.MaxConns {
		cfg.MinConns = opts.MinConns
	}
	cfg.ConnConfig.RuntimeParams["application_name"] = "audioscribe"

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping %s: %w", maskDSN(opts.URL), err)
	}

	db := &DB{Pool: pool, log: log}

	ev := log.Info().
		Str("url", maskDSN(opts.URL)).
		Int32("max_conns", cfg.MaxConns).
		Int32("min_conns", cfg.MinConns)
	if pending, err := db.pendingMigrations(ctx); err != nil {
		ev = ev.AnErr("schema_check", err)
	} else {
		ev = ev.Int("pending_migrations", len(pending))
	}
	ev.Msg("database connected")

	return db, nil
}

// HealthCheck pings the server and confirms the runs schema is migrated.
func (db *DB) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := db.Pool.Ping(ctx); err != nil {
		return err
	}
	pending, err := db.pendingMigrations(ctx)
	if err != nil {
		return err
	}
	if len(pending) > 0 {
		return fmt.Errorf("%w: %d pending", ErrSchemaNotReady, len(pending))
	}
	return nil
}

// maskDSN hides the password in both URL and keyword/value connection strings.
func maskDSN(dsn string) string {
	if !strings.Contains(dsn, "://") {
		fields := strings.Fields(dsn)
		for i, f := range fields {
			if k, _, ok := strings.Cut(f, "="); ok && strings.EqualFold(k, "password") {
				fields[i] = k + "=***"
			}
		}
		return strings.Join(fields, " ")
	}
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		if _, hasPass := u.User.Password(); hasPass {
			u.User = url.UserPassword(u.User.Username(), "***")
		}
	}
	q := u.Query()
	if q.Has("password") {
		q.Set("password", "***")
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func (db *DB) Close() {
	st := db.Pool.Stat()
	db.log.Info().Int32("total_conns", st.TotalConns()).Msg("closing database pool")
	db.Pool.Close()
}
