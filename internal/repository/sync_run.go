package repository

import (
	"context"
	"fmt"

	"halo-tracker/internal/batch"
	"halo-tracker/internal/domain"
	"halo-tracker/internal/schema"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
)

type SyncRunRepository struct {
	db     *sqlx.DB
	writer *batch.Writer
	logger zerolog.Logger
}

func NewSyncRunRepository(db *sqlx.DB, writer *batch.Writer, logger zerolog.Logger) *SyncRunRepository {
	return &SyncRunRepository{
		db:     db,
		writer: writer,
		logger: logger,
	}
}

func (r *SyncRunRepository) Record(ctx context.Context, run domain.SyncRun) error {
	_, err := r.writer.Insert(ctx, schema.SyncRuns, []batch.Row{{
		"run_id":      run.RunID,
		"xuid":        run.XUID,
		"started_at":  run.StartedAt,
		"finished_at": run.FinishedAt,
		"fetched":     run.Fetched,
		"inserted":    run.Inserted,
		"updated":     run.Updated,
		"skipped":     run.Skipped,
		"errors":      run.Errors,
		"anomalies":   run.Anomalies,
		"status":      string(run.Status),
		"error":       run.Error,
	}})
	if err != nil {
		return fmt.Errorf("failed to record sync run %s: %w", run.RunID, err)
	}
	return nil
}

// List returns the player's most recent runs first.
func (r *SyncRunRepository) List(ctx context.Context, xuid string, limit int) ([]domain.SyncRun, error) {
	runs := []domain.SyncRun{}
	err := r.db.SelectContext(ctx, &runs, r.db.Rebind(`
		SELECT run_id, xuid, started_at, finished_at, fetched, inserted, updated, skipped,
		       errors, anomalies, status, error
		FROM sync_runs WHERE xuid = ?
		ORDER BY started_at DESC
		LIMIT ?`), xuid, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync runs for %s: %w", xuid, err)
	}
	return runs, nil
}
