package service

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"halo-tracker/internal/constants"
	"halo-tracker/internal/domain"
	"halo-tracker/internal/repository"

	"github.com/rs/zerolog"
)

type PlayerService struct {
	players *repository.PlayerRepository
	runs    *repository.SyncRunRepository
	logger  zerolog.Logger
}

func NewPlayerService(players *repository.PlayerRepository, runs *repository.SyncRunRepository, logger zerolog.Logger) *PlayerService {
	return &PlayerService{players: players, runs: runs, logger: logger}
}

// GetPlayer looks a stored player up by xuid, gamertag or past alias. It
// never calls the stats API; unknown players have to be synced first.
func (s *PlayerService) GetPlayer(ctx context.Context, id string) (*domain.Player, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.DatabaseTimeout)
	defer cancel()

	id, err := url.QueryUnescape(id)
	if err != nil {
		return nil, fmt.Errorf("failed to unescape player id: %w", err)
	}

	s.logger.Debug().Str("player_id", id).Msg("getting player")

	player, err := s.players.Resolve(ctx, strings.TrimSpace(id))
	if err != nil {
		s.logger.Debug().Err(err).Str("player_id", id).Msg("player not found")
		return nil, err
	}
	return player, nil
}

func (s *PlayerService) SearchSuggestions(ctx context.Context, query string) ([]domain.Player, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.DatabaseTimeout)
	defer cancel()

	query = strings.TrimSpace(query)
	if query == "" {
		return []domain.Player{}, nil
	}

	players, err := s.players.Search(ctx, query, constants.SearchSuggestionLimit)
	if err != nil {
		s.logger.Error().Err(err).Str("query", query).Msg("failed to search players")
		return nil, err
	}

	s.logger.Info().Int("count", len(players)).Str("query", query).Msg("search completed")
	return players, nil
}

// Aliases returns every gamertag seen for the player, newest first.
func (s *PlayerService) Aliases(ctx context.Context, id string) ([]domain.Alias, error) {
	player, err := s.GetPlayer(ctx, id)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, constants.DatabaseTimeout)
	defer cancel()
	return s.players.Aliases(ctx, player.XUID)
}

func (s *PlayerService) SyncRuns(ctx context.Context, id string) ([]domain.SyncRun, error) {
	player, err := s.GetPlayer(ctx, id)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, constants.DatabaseTimeout)
	defer cancel()
	return s.runs.List(ctx, player.XUID, constants.SyncRunListLimit)
}
