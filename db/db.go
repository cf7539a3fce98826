// Package db provides the Postgres connection and schema migrations for the
// giveaway_wins audit table.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx postgres driver registered as 'pgx'
)

// Connect opens a Postgres connection pool for dsn and verifies it with a ping.
func Connect(ctx context.Context, dsn string) (*sql.DB, error) {
	database, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	database.SetMaxOpenConns(5)
	database.SetMaxIdleConns(2)
	database.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := database.PingContext(pingCtx); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return database, nil
}

// Migrate applies idempotent schema changes for the tables the service writes.
// It is the fallback for databases that predate versioned migrations.
func Migrate(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS giveaway_wins (
			id BIGSERIAL PRIMARY KEY,
			round_token TEXT NOT NULL UNIQUE,
			channel TEXT NOT NULL DEFAULT '',
			winner TEXT NOT NULL,
			amount DOUBLE PRECISION NOT NULL,
			moderator TEXT NOT NULL DEFAULT '',
			winner_msgs JSONB NOT NULL DEFAULT '[]'::jsonb,
			confirmed_at TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_giveaway_wins_channel_confirmed ON giveaway_wins(channel, confirmed_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_giveaway_wins_winner ON giveaway_wins(winner)`,
	}
	for _, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	slog.Info("embedded schema applied", slog.Int("statements", len(stmts)), slog.String("component", "db_migrate"))
	return nil
}

// Ping reports whether the database answers within a short deadline.
func Ping(ctx context.Context, db *sql.DB) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return db.PingContext(ctx)
}
