package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"halo-tracker/internal/domain"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
)

var ErrMatchNotFound = errors.New("match not found")

type MatchRepository struct {
	db     *sqlx.DB
	logger zerolog.Logger
}

func NewMatchRepository(db *sqlx.DB, logger zerolog.Logger) *MatchRepository {
	return &MatchRepository{
		db:     db,
		logger: logger,
	}
}

// enriched
type MatchWithStats struct {
	Match domain.Match            `json:"match"`
	Stats domain.MatchParticipant `json:"stats"`
	Skill *domain.SkillStat       `json:"skill,omitempty"`
}

type matchRow struct {
	MatchID     string    `db:"match_id"`
	StartedAt   time.Time `db:"started_at"`
	MapID       string    `db:"map_id"`
	ModeID      string    `db:"mode_id"`
	PlaylistID  string    `db:"playlist_id"`
	DurationS   float64   `db:"duration_s"`
	UpdatedAt   time.Time `db:"updated_at"`
	XUID        string    `db:"xuid"`
	Kills       int       `db:"kills"`
	Deaths      int       `db:"deaths"`
	Assists     int       `db:"assists"`
	Score       int       `db:"score"`
	Team        string    `db:"team"`
	Outcome     string    `db:"outcome"`
	Accuracy    float64   `db:"accuracy"`
	DamageDealt int       `db:"damage_dealt"`
	DamageTaken int       `db:"damage_taken"`

	RankDelta sql.NullInt64  `db:"rank_delta"`
	CSR       sql.NullInt64  `db:"csr"`
	PreCSR    sql.NullInt64  `db:"pre_csr"`
	Tier      sql.NullString `db:"tier"`
}

func (r *MatchRepository) Exists(ctx context.Context, matchID string) (bool, error) {
	var n int
	err := r.db.GetContext(ctx, &n, r.db.Rebind(`SELECT COUNT(*) FROM matches WHERE match_id = ?`), matchID)
	if err != nil {
		return false, fmt.Errorf("failed to check match %s: %w", matchID, err)
	}
	return n > 0, nil
}

// ListByXUID returns the player's matches newest first, with their own
// participant row and the skill row when one was stored.
func (r *MatchRepository) ListByXUID(ctx context.Context, xuid string, limit int) ([]MatchWithStats, error) {
	rows := []matchRow{}
	err := r.db.SelectContext(ctx, &rows, r.db.Rebind(`
		SELECT m.match_id, m.started_at, m.map_id, m.mode_id, m.playlist_id, m.duration_s, m.updated_at,
		       mp.xuid, mp.kills, mp.deaths, mp.assists, mp.score, mp.team, mp.outcome,
		       mp.accuracy, mp.damage_dealt, mp.damage_taken,
		       s.rank_delta, s.csr, s.pre_csr, s.tier
		FROM match_participants mp
		JOIN matches m ON m.match_id = mp.match_id
		LEFT JOIN skill_stats s ON s.match_id = mp.match_id AND s.xuid = mp.xuid
		WHERE mp.xuid = ?
		ORDER BY m.started_at DESC, m.match_id
		LIMIT ?`), xuid, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list matches for %s: %w", xuid, err)
	}

	results := make([]MatchWithStats, len(rows))
	for i, row := range rows {
		result := MatchWithStats{
			Match: domain.Match{
				MatchID:    row.MatchID,
				StartedAt:  row.StartedAt,
				MapID:      row.MapID,
				ModeID:     row.ModeID,
				PlaylistID: row.PlaylistID,
				DurationS:  row.DurationS,
				UpdatedAt:  row.UpdatedAt,
			},
			Stats: domain.MatchParticipant{
				MatchID:     row.MatchID,
				XUID:        row.XUID,
				Kills:       row.Kills,
				Deaths:      row.Deaths,
				Assists:     row.Assists,
				Score:       row.Score,
				Team:        row.Team,
				Outcome:     domain.Outcome(row.Outcome),
				Accuracy:    row.Accuracy,
				DamageDealt: row.DamageDealt,
				DamageTaken: row.DamageTaken,
			},
		}

		if row.CSR.Valid {
			result.Skill = &domain.SkillStat{
				MatchID:   row.MatchID,
				XUID:      row.XUID,
				RankDelta: int(row.RankDelta.Int64),
				CSR:       int(row.CSR.Int64),
				PreCSR:    int(row.PreCSR.Int64),
				Tier:      row.Tier.String,
			}
		}

		results[i] = result
	}

	return results, nil
}

func (r *MatchRepository) Get(ctx context.Context, matchID string) (*domain.Match, error) {
	var match domain.Match
	err := r.db.GetContext(ctx, &match, r.db.Rebind(`
		SELECT match_id, started_at, map_id, mode_id, playlist_id, duration_s, updated_at
		FROM matches WHERE match_id = ?`), matchID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMatchNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get match %s: %w", matchID, err)
	}
	return &match, nil
}

func (r *MatchRepository) Participants(ctx context.Context, matchID string) ([]domain.MatchParticipant, error) {
	participants := []domain.MatchParticipant{}
	err := r.db.SelectContext(ctx, &participants, r.db.Rebind(`
		SELECT match_id, xuid, kills, deaths, assists, score, team, outcome, accuracy, damage_dealt, damage_taken
		FROM match_participants WHERE match_id = ?
		ORDER BY team, score DESC`), matchID)
	if err != nil {
		return nil, fmt.Errorf("failed to get participants for %s: %w", matchID, err)
	}
	return participants, nil
}

func (r *MatchRepository) Skills(ctx context.Context, matchID string) ([]domain.SkillStat, error) {
	skills := []domain.SkillStat{}
	err := r.db.SelectContext(ctx, &skills, r.db.Rebind(`
		SELECT match_id, xuid, rank_delta, csr, pre_csr, tier
		FROM skill_stats WHERE match_id = ?`), matchID)
	if err != nil {
		return nil, fmt.Errorf("failed to get skill stats for %s: %w", matchID, err)
	}
	return skills, nil
}

// CSRHistory returns the player's post-match CSR values oldest first.
func (r *MatchRepository) CSRHistory(ctx context.Context, xuid string, limit int) ([]domain.SkillStat, error) {
	skills := []domain.SkillStat{}
	err := r.db.SelectContext(ctx, &skills, r.db.Rebind(`
		SELECT match_id, xuid, rank_delta, csr, pre_csr, tier FROM (
			SELECT s.match_id, s.xuid, s.rank_delta, s.csr, s.pre_csr, s.tier, m.started_at
			FROM skill_stats s
			JOIN matches m ON m.match_id = s.match_id
			WHERE s.xuid = ?
			ORDER BY m.started_at DESC
			LIMIT ?
		) recent ORDER BY started_at ASC`), xuid, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get csr history for %s: %w", xuid, err)
	}
	return skills, nil
}
