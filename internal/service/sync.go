package service

import (
	"context"
	"strings"
	"time"

	"halo-tracker/internal/config"
	"halo-tracker/internal/constants"
	"halo-tracker/internal/repository"
	"halo-tracker/internal/syncer"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

type Syncer interface {
	SyncPlayer(ctx context.Context, playerID string, opts syncer.Options) (syncer.Result, error)
	SyncAllPlayers(ctx context.Context, opts syncer.Options) (map[string]syncer.Result, error)
}

const allPlayersKey = "*"

// SyncService runs syncs on behalf of callers. Concurrent requests for the
// same player share one run, whether they name it by xuid, gamertag or alias.
type SyncService struct {
	engine     Syncer
	players    *repository.PlayerRepository
	maxMatches int
	timeout    time.Duration
	group      singleflight.Group
	logger     zerolog.Logger
}

func NewSyncService(engine Syncer, players *repository.PlayerRepository, cfg *config.Config, logger zerolog.Logger) *SyncService {
	return &SyncService{
		engine:     engine,
		players:    players,
		maxMatches: cfg.Sync.MaxMatches,
		timeout:    constants.SyncTimeout,
		logger:     logger.With().Str("component", "sync_service").Logger(),
	}
}

// DefaultOptions applies the configured match limit.
func (s *SyncService) DefaultOptions() syncer.Options {
	return syncer.Options{MaxMatches: s.maxMatches}
}

func (s *SyncService) SyncPlayer(ctx context.Context, playerID string, opts syncer.Options) (syncer.Result, bool, error) {
	key := s.playerKey(ctx, playerID)

	v, err, shared := s.group.Do(key, func() (any, error) {
		// the run outlives any single caller that gives up waiting
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()
		return s.engine.SyncPlayer(runCtx, playerID, opts)
	})
	if shared {
		s.logger.Debug().Str("player_id", playerID).Msg("joined running sync")
	}

	res, _ := v.(syncer.Result)
	return res, shared, err
}

// playerKey is the stored xuid when the player is known. Players never synced
// fall back to the lowercased id.
func (s *SyncService) playerKey(ctx context.Context, playerID string) string {
	id := strings.TrimSpace(playerID)
	if p, err := s.players.Resolve(ctx, id); err == nil {
		return "player:" + p.XUID
	}
	return "player:" + strings.ToLower(id)
}

func (s *SyncService) SyncAll(ctx context.Context, opts syncer.Options) (map[string]syncer.Result, bool, error) {
	v, err, shared := s.group.Do(allPlayersKey, func() (any, error) {
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()
		return s.engine.SyncAllPlayers(runCtx, opts)
	})

	results, _ := v.(map[string]syncer.Result)
	return results, shared, err
}
