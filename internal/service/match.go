package service

import (
	"context"
	"fmt"

	"halo-tracker/internal/api"
	"halo-tracker/internal/constants"
	"halo-tracker/internal/domain"
	"halo-tracker/internal/repository"
	"halo-tracker/internal/transform"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

type MatchService struct {
	matches *repository.MatchRepository
	raw     *repository.RawPayloadRepository
	players *PlayerService
	logger  zerolog.Logger
}

func NewMatchService(matches *repository.MatchRepository, raw *repository.RawPayloadRepository, players *PlayerService, logger zerolog.Logger) *MatchService {
	return &MatchService{matches: matches, raw: raw, players: players, logger: logger}
}

type MatchDetail struct {
	Match        domain.Match              `json:"match"`
	Participants []domain.MatchParticipant `json:"participants"`
	Skills       []domain.SkillStat        `json:"skills"`
}

type PlayerSummary struct {
	Player   domain.Player      `json:"player"`
	Matches  int                `json:"matches"`
	Wins     int                `json:"wins"`
	Losses   int                `json:"losses"`
	Kills    int                `json:"kills"`
	Deaths   int                `json:"deaths"`
	Assists  int                `json:"assists"`
	KD       float64            `json:"kd"`
	WinRate  float64            `json:"win_rate"`
	CSR      int                `json:"csr"`
	CSRTrend []domain.SkillStat `json:"csr_trend"`
}

func (s *MatchService) GetMatchesFor(ctx context.Context, id string, limit int) ([]repository.MatchWithStats, error) {
	player, err := s.players.GetPlayer(ctx, id)
	if err != nil {
		return nil, err
	}

	if limit <= 0 || limit > constants.MatchListLimit {
		limit = constants.MatchListLimit
	}

	ctx, cancel := context.WithTimeout(ctx, constants.RequestTimeout)
	defer cancel()

	matches, err := s.matches.ListByXUID(ctx, player.XUID, limit)
	if err != nil {
		s.logger.Error().Err(err).Str("xuid", player.XUID).Msg("failed to list matches")
		return nil, err
	}
	return matches, nil
}

func (s *MatchService) GetMatchDetail(ctx context.Context, matchID string) (*MatchDetail, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.RequestTimeout)
	defer cancel()

	matchID = transform.NormalizeMatchID(matchID)

	g, gCtx := errgroup.WithContext(ctx)
	var detail MatchDetail

	g.Go(func() error {
		m, err := s.matches.Get(gCtx, matchID)
		if err != nil {
			return err
		}
		detail.Match = *m
		return nil
	})

	g.Go(func() error {
		var err error
		detail.Participants, err = s.matches.Participants(gCtx, matchID)
		return err
	})

	g.Go(func() error {
		var err error
		detail.Skills, err = s.matches.Skills(gCtx, matchID)
		return err
	})

	if err := g.Wait(); err != nil {
		s.logger.Debug().Err(err).Str("match_id", matchID).Msg("failed to load match detail")
		return nil, err
	}
	return &detail, nil
}

// GetSummary aggregates the player's most recent matches.
func (s *MatchService) GetSummary(ctx context.Context, id string) (*PlayerSummary, error) {
	player, err := s.players.GetPlayer(ctx, id)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, constants.RequestTimeout)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)
	var (
		matches []repository.MatchWithStats
		trend   []domain.SkillStat
	)

	g.Go(func() error {
		var err error
		matches, err = s.matches.ListByXUID(gCtx, player.XUID, constants.MatchListLimit)
		return err
	})

	g.Go(func() error {
		var err error
		trend, err = s.matches.CSRHistory(gCtx, player.XUID, constants.MatchListLimit)
		return err
	})

	if err := g.Wait(); err != nil {
		s.logger.Error().Err(err).Str("xuid", player.XUID).Msg("failed to load summary data")
		return nil, fmt.Errorf("failed to load summary: %w", err)
	}

	summary := summarize(matches)
	summary.Player = *player
	summary.CSRTrend = trend
	if len(trend) > 0 {
		summary.CSR = trend[len(trend)-1].CSR
	}
	return summary, nil
}

func summarize(matches []repository.MatchWithStats) *PlayerSummary {
	s := &PlayerSummary{Matches: len(matches)}
	for _, m := range matches {
		s.Kills += m.Stats.Kills
		s.Deaths += m.Stats.Deaths
		s.Assists += m.Stats.Assists
		switch m.Stats.Outcome {
		case domain.OutcomeWin:
			s.Wins++
		case domain.OutcomeLoss, domain.OutcomeLeft:
			s.Losses++
		}
	}

	// K/D is plain kills when the player never died
	s.KD = float64(s.Kills)
	if s.Deaths > 0 {
		s.KD = float64(s.Kills) / float64(s.Deaths)
	}
	if s.Matches > 0 {
		s.WinRate = float64(s.Wins) / float64(s.Matches)
	}
	return s
}

func (s *MatchService) GetRawPayload(ctx context.Context, matchID string, kind api.Kind) (*repository.StoredPayload, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.DatabaseTimeout)
	defer cancel()
	return s.raw.Get(ctx, transform.NormalizeMatchID(matchID), kind)
}
