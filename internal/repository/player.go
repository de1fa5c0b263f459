package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"halo-tracker/internal/batch"
	"halo-tracker/internal/domain"
	"halo-tracker/internal/schema"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
)

var ErrPlayerNotFound = errors.New("player not found")

type PlayerRepository struct {
	db     *sqlx.DB
	writer *batch.Writer
	logger zerolog.Logger
}

func NewPlayerRepository(db *sqlx.DB, writer *batch.Writer, logger zerolog.Logger) *PlayerRepository {
	return &PlayerRepository{
		db:     db,
		writer: writer,
		logger: logger,
	}
}

func (r *PlayerRepository) Get(ctx context.Context, xuid string) (*domain.Player, error) {
	var player domain.Player
	err := r.db.GetContext(ctx, &player, r.db.Rebind(
		`SELECT xuid, gamertag, updated_at FROM players WHERE xuid = ?`), xuid)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPlayerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get player %s: %w", xuid, err)
	}
	return &player, nil
}

// Resolve finds a stored player by xuid, current gamertag or any past alias.
// Gamertags match case-insensitively; the most recent alias wins.
func (r *PlayerRepository) Resolve(ctx context.Context, id string) (*domain.Player, error) {
	player, err := r.Get(ctx, id)
	if err == nil || !errors.Is(err, ErrPlayerNotFound) {
		return player, err
	}

	var p domain.Player
	err = r.db.GetContext(ctx, &p, r.db.Rebind(`
		SELECT p.xuid, p.gamertag, p.updated_at
		FROM players p
		WHERE lower(p.gamertag) = lower(?)
		ORDER BY p.updated_at DESC
		LIMIT 1`), id)
	if err == nil {
		return &p, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to resolve gamertag %s: %w", id, err)
	}

	err = r.db.GetContext(ctx, &p, r.db.Rebind(`
		SELECT p.xuid, p.gamertag, p.updated_at
		FROM aliases a
		JOIN players p ON p.xuid = a.xuid
		WHERE lower(a.gamertag) = lower(?)
		ORDER BY a.seen_at DESC
		LIMIT 1`), id)
	if errors.Is(err, sql.ErrNoRows) {
		r.logger.Debug().Str("player_id", id).Msg("player not found in registry")
		return nil, ErrPlayerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve alias %s: %w", id, err)
	}
	return &p, nil
}

func (r *PlayerRepository) List(ctx context.Context) ([]domain.Player, error) {
	players := []domain.Player{}
	if err := r.db.SelectContext(ctx, &players,
		`SELECT xuid, gamertag, updated_at FROM players ORDER BY xuid`); err != nil {
		return nil, fmt.Errorf("failed to list players: %w", err)
	}
	return players, nil
}

// Search matches gamertags and aliases by prefix.
func (r *PlayerRepository) Search(ctx context.Context, query string, limit int) ([]domain.Player, error) {
	players := []domain.Player{}
	pattern := escapeLike(query) + "%"
	err := r.db.SelectContext(ctx, &players, r.db.Rebind(`
		SELECT DISTINCT p.xuid, p.gamertag, p.updated_at
		FROM players p
		LEFT JOIN aliases a ON a.xuid = p.xuid
		WHERE lower(p.gamertag) LIKE lower(?) ESCAPE '\'
		   OR lower(a.gamertag) LIKE lower(?) ESCAPE '\'
		ORDER BY p.gamertag
		LIMIT ?`), pattern, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search players: %w", err)
	}
	return players, nil
}

func (r *PlayerRepository) Aliases(ctx context.Context, xuid string) ([]domain.Alias, error) {
	aliases := []domain.Alias{}
	err := r.db.SelectContext(ctx, &aliases, r.db.Rebind(`
		SELECT xuid, gamertag, seen_at FROM aliases WHERE xuid = ? ORDER BY seen_at DESC`), xuid)
	if err != nil {
		return nil, fmt.Errorf("failed to list aliases for %s: %w", xuid, err)
	}
	return aliases, nil
}

// Save upserts the player row and appends the alias row only when the
// gamertag differs from the stored one. It reports whether an alias was added.
func (r *PlayerRepository) Save(ctx context.Context, player, alias batch.Row) (bool, error) {
	xuid, _ := player["xuid"].(string)
	gamertag, _ := player["gamertag"].(string)

	ops := []batch.Op{batch.UpsertOp(schema.Players, []batch.Row{player})}

	current, err := r.Get(ctx, xuid)
	switch {
	case errors.Is(err, ErrPlayerNotFound):
		ops = append(ops, batch.InsertOp(schema.Aliases, []batch.Row{alias}))
	case err != nil:
		return false, err
	case current.Gamertag != gamertag:
		r.logger.Info().
			Str("xuid", xuid).
			Str("old_gamertag", current.Gamertag).
			Str("new_gamertag", gamertag).
			Msg("gamertag changed")
		ops = append(ops, batch.InsertOp(schema.Aliases, []batch.Row{alias}))
	}

	if _, err := r.writer.Flush(ctx, ops...); err != nil {
		return false, fmt.Errorf("failed to save player %s: %w", xuid, err)
	}
	return len(ops) > 1, nil
}

func escapeLike(s string) string {
	r := []rune{}
	for _, c := range s {
		if c == '%' || c == '_' || c == '\\' {
			r = append(r, '\\')
		}
		r = append(r, c)
	}
	return string(r)
}
