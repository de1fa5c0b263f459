package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"halo-tracker/internal/coerce"
	"halo-tracker/internal/domain"
	"halo-tracker/internal/schema"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
)

type CheckpointRepository struct {
	db     *sqlx.DB
	logger zerolog.Logger
}

func NewCheckpointRepository(db *sqlx.DB, logger zerolog.Logger) *CheckpointRepository {
	return &CheckpointRepository{
		db:     db,
		logger: logger,
	}
}

// Get returns nil, nil when the player was never synced.
func (r *CheckpointRepository) Get(ctx context.Context, xuid string) (*domain.SyncCheckpoint, error) {
	var cp domain.SyncCheckpoint
	err := r.db.GetContext(ctx, &cp, r.db.Rebind(`
		SELECT xuid, last_match_id, last_match_started_at, last_synced_at
		FROM sync_checkpoints WHERE xuid = ?`), xuid)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get checkpoint for %s: %w", xuid, err)
	}
	return &cp, nil
}

// Advance moves the checkpoint forward. A checkpoint whose match started
// before the stored one is ignored; it reports whether the row changed.
//
// A zero start time is taken from the stored match row. If that is unknown
// too the checkpoint is written unconditionally.
func (r *CheckpointRepository) Advance(ctx context.Context, cp domain.SyncCheckpoint) (bool, error) {
	if cp.LastMatchStartedAt.IsZero() {
		started, err := r.matchStartedAt(ctx, cp.LastMatchID)
		if err != nil {
			return false, fmt.Errorf("failed to advance checkpoint for %s: %w", cp.XUID, err)
		}
		cp.LastMatchStartedAt = started
	}

	t := schema.SyncCheckpoints
	values, _ := coerce.Normalize(t.Name, t.Columns, map[string]any{
		"xuid":                  cp.XUID,
		"last_match_id":         cp.LastMatchID,
		"last_match_started_at": cp.LastMatchStartedAt,
		"last_synced_at":        cp.LastSyncedAt,
	})

	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}

	guard := ""
	if !cp.LastMatchStartedAt.IsZero() {
		guard = fmt.Sprintf("WHERE excluded.last_match_started_at >= %s.last_match_started_at", t.Name)
	}

	query := r.db.Rebind(fmt.Sprintf(`
		INSERT INTO %s (%s) VALUES (?, ?, ?, ?)
		ON CONFLICT (xuid) DO UPDATE SET
			last_match_id = excluded.last_match_id,
			last_match_started_at = excluded.last_match_started_at,
			last_synced_at = excluded.last_synced_at
		%s`,
		t.Name, strings.Join(names, ", "), guard))

	res, err := r.db.ExecContext(ctx, query, values...)
	if err != nil {
		return false, fmt.Errorf("failed to advance checkpoint for %s: %w", cp.XUID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to advance checkpoint for %s: %w", cp.XUID, err)
	}

	if n == 0 {
		r.logger.Warn().
			Str("xuid", cp.XUID).
			Str("match_id", cp.LastMatchID).
			Time("started_at", cp.LastMatchStartedAt).
			Msg("checkpoint not advanced, stored checkpoint is newer")
	}
	return n > 0, nil
}

// matchStartedAt returns the zero time when the match is not stored or has
// no start time.
func (r *CheckpointRepository) matchStartedAt(ctx context.Context, matchID string) (time.Time, error) {
	var started time.Time
	err := r.db.GetContext(ctx, &started, r.db.Rebind(`SELECT started_at FROM matches WHERE match_id = ?`), matchID)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	if started.Equal(schema.Epoch) {
		return time.Time{}, nil
	}
	return started.UTC(), nil
}
