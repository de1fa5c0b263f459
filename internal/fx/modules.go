package fx

import (
	"net/http"

	"halo-tracker/internal/api"
	"halo-tracker/internal/batch"
	"halo-tracker/internal/config"
	"halo-tracker/internal/database"
	"halo-tracker/internal/logger"
	"halo-tracker/internal/metrics"
	"halo-tracker/internal/repository"
	"halo-tracker/internal/server"
	"halo-tracker/internal/service"
	"halo-tracker/internal/syncer"

	"github.com/rs/zerolog"
	"go.uber.org/fx"
)

func ProvideMetrics() *metrics.Service {
	return metrics.NewService()
}

func ProvideMetricsHandler() http.Handler {
	return metrics.NewMetricsHandler()
}

func ProvideEngine(
	client *api.HaloClient,
	players *repository.PlayerRepository,
	matches *repository.MatchRepository,
	checkpoints *repository.CheckpointRepository,
	runs *repository.SyncRunRepository,
	writer *batch.Writer,
	m metrics.Metrics,
	cfg *config.Config,
	logger zerolog.Logger,
) *syncer.Engine {
	return syncer.NewEngine(client, players, matches, checkpoints, runs, writer, m, cfg, logger)
}

// Core is everything the sync engine needs; both binaries build on it.
var Core = fx.Options(
	logger.Module,
	config.Module,
	database.Module,
	fx.Provide(batch.NewWriter),
	fx.Provide(fx.Annotate(ProvideMetrics, fx.As(new(metrics.Metrics)))),
	// repos
	fx.Provide(repository.NewPlayerRepository),
	fx.Provide(repository.NewMatchRepository),
	fx.Provide(repository.NewCheckpointRepository),
	fx.Provide(repository.NewRawPayloadRepository),
	fx.Provide(repository.NewSyncRunRepository),
	// api client
	fx.Provide(api.NewHaloClient),
	// sync
	fx.Provide(fx.Annotate(ProvideEngine, fx.As(new(service.Syncer)))),
	fx.Provide(service.NewSyncService),
)

var Module = fx.Options(
	Core,
	fx.Provide(ProvideMetricsHandler),
	// svc
	fx.Provide(service.NewPlayerService),
	fx.Provide(service.NewMatchService),
	// server
	fx.Provide(server.NewTrackerServer),
)
