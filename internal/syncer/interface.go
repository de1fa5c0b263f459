package syncer

import (
	"context"
	"iter"

	"halo-tracker/internal/api"
	"halo-tracker/internal/batch"
	"halo-tracker/internal/domain"
)

// Source is the stats API as the engine sees it.
type Source interface {
	Matches(ctx context.Context, xuid string) iter.Seq2[api.Payload, error]
	MatchStats(ctx context.Context, matchID string) (api.Payload, error)
	MatchSkill(ctx context.Context, matchID string, xuids []string) (api.Payload, error)
	Profile(ctx context.Context, player string) (api.Payload, error)
}

type PlayerStore interface {
	Resolve(ctx context.Context, id string) (*domain.Player, error)
	List(ctx context.Context) ([]domain.Player, error)
	Save(ctx context.Context, player, alias batch.Row) (bool, error)
}

type MatchStore interface {
	Exists(ctx context.Context, matchID string) (bool, error)
}

type CheckpointStore interface {
	Get(ctx context.Context, xuid string) (*domain.SyncCheckpoint, error)
	Advance(ctx context.Context, cp domain.SyncCheckpoint) (bool, error)
}

type RunStore interface {
	Record(ctx context.Context, run domain.SyncRun) error
}

type Writer interface {
	Flush(ctx context.Context, ops ...batch.Op) (batch.Stats, error)
}
