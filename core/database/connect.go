package database

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	coreconfig "github.com/m3rciful/swapbot/core/config"
	"github.com/m3rciful/swapbot/core/logger"
)

const (
	connectTimeout = 5 * time.Second
	readyTimeout   = 30 * time.Second
	readyInterval  = 2 * time.Second
)

// postgresURL renders cfg as a postgres:// URL with escaped credentials.
func postgresURL(cfg coreconfig.DatabaseConfig) string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(cfg.User, cfg.Password),
		Host:   cfg.Host + ":" + cfg.Port,
		Path:   "/" + cfg.Name,
	}
	if cfg.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": {cfg.SSLMode}}.Encode()
	}
	return u.String()
}

func dbAttrs(cfg coreconfig.DatabaseConfig, extra ...any) []any {
	return append([]any{
		slog.String("driver", "postgres"),
		slog.String("host", cfg.Host),
		slog.String("port", cfg.Port),
		slog.String("db", cfg.Name),
	}, extra...)
}

// Connect opens the pool, waits until Postgres answers pings and applies the
// pool limits.
func Connect(cfg coreconfig.DatabaseConfig) (*sqlx.DB, error) {
	start := time.Now()
	db, err := sqlx.Open("postgres", postgresURL(cfg))
	if err != nil {
		logger.DB.Error("db open failed", dbAttrs(cfg,
			slog.String("event", "db.connect"),
			slog.String("err", err.Error()),
		)...)
		return nil, fmt.Errorf("db open: %w", err)
	}
	if cfg.MaxConnections > 0 {
		db.SetMaxOpenConns(cfg.MaxConnections)
		db.SetMaxIdleConns(cfg.MaxConnections)
	}

	ctx, cancel := context.WithTimeout(context.Background(), readyTimeout)
	defer cancel()
	if err := waitReady(ctx, db); err != nil {
		logger.DB.Error("db not ready", dbAttrs(cfg,
			slog.String("event", "db.ping"),
			slog.Duration("duration", logger.Took(start)),
			slog.String("err", err.Error()),
		)...)
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}

	logger.DB.Info("db connected", dbAttrs(cfg,
		slog.String("event", "db.connect"),
		slog.Int("pool_open", cfg.MaxConnections),
		slog.Duration("duration", logger.Took(start)),
	)...)
	return db, nil
}

type pinger interface {
	PingContext(ctx context.Context) error
}

// waitReady pings until the database answers or ctx ends.
func waitReady(ctx context.Context, db pinger) error {
	t := time.NewTicker(readyInterval)
	defer t.Stop()
	for {
		pctx, cancel := context.WithTimeout(ctx, connectTimeout)
		err := db.PingContext(pctx)
		cancel()
		if err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w (last error: %v)", ctx.Err(), err)
		case <-t.C:
		}
	}
}
