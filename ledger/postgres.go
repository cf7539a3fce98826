package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/Halunen/GiveawayTracker/giveaway"
	"github.com/Halunen/GiveawayTracker/telemetry"
)

// Postgres appends wins to the giveaway_wins audit table. A round token is
// stored at most once; later submissions with the same token are ignored.
type Postgres struct {
	db *sql.DB
}

// NewPostgres returns a sink writing to db. The schema must already be migrated.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Name identifies the backend in metrics.
func (p *Postgres) Name() string { return "postgres" }

// Submit inserts rec unless its round token is already recorded.
func (p *Postgres) Submit(ctx context.Context, rec giveaway.Record) error {
	msgs := rec.WinnerMsgs
	if msgs == nil {
		msgs = []giveaway.Message{}
	}
	raw, err := json.Marshal(msgs)
	if err != nil {
		return fmt.Errorf("encode winner messages: %w", err)
	}
	res, err := p.db.ExecContext(ctx, `INSERT INTO giveaway_wins (round_token, channel, winner, amount, moderator, winner_msgs, confirmed_at)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7)
		ON CONFLICT (round_token) DO NOTHING`,
		rec.RoundToken, rec.Channel, rec.Winner, rec.Amount, rec.Mod, string(raw), rec.ConfirmedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert giveaway win: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		telemetry.LoggerWithCorr(ctx).Debug("giveaway win already recorded", slog.String("round_token", rec.RoundToken), slog.String("component", "ledger_postgres"))
	}
	return nil
}
