package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"halo-tracker/internal/batch"
	"halo-tracker/internal/config"
	"halo-tracker/internal/database"
	"halo-tracker/internal/domain"
	"halo-tracker/internal/repository"
	"halo-tracker/internal/schema"
	"halo-tracker/internal/syncer"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSyncer struct {
	calls   atomic.Int32
	release chan struct{}

	SyncPlayerFunc func(ctx context.Context, playerID string, opts syncer.Options) (syncer.Result, error)
}

func (f *fakeSyncer) SyncPlayer(ctx context.Context, playerID string, opts syncer.Options) (syncer.Result, error) {
	f.calls.Add(1)
	if f.release != nil {
		<-f.release
	}
	if f.SyncPlayerFunc != nil {
		return f.SyncPlayerFunc(ctx, playerID, opts)
	}
	return syncer.Result{XUID: playerID, Inserted: 1}, nil
}

func (f *fakeSyncer) SyncAllPlayers(ctx context.Context, opts syncer.Options) (map[string]syncer.Result, error) {
	f.calls.Add(1)
	if f.release != nil {
		<-f.release
	}
	return map[string]syncer.Result{"1": {XUID: "1"}}, nil
}

func newSyncService(t *testing.T, fake *fakeSyncer, cfg *config.Config) (*SyncService, *batch.Writer) {
	t.Helper()
	db, w := setupDB(t)
	return NewSyncService(fake, repository.NewPlayerRepository(db, w, zerolog.Nop()), cfg, zerolog.Nop()), w
}

func TestSyncService_CollapsesConcurrentRuns(t *testing.T) {
	fake := &fakeSyncer{release: make(chan struct{})}
	svc, _ := newSyncService(t, fake, &config.Config{})

	const callers = 5
	var wg sync.WaitGroup
	results := make([]syncer.Result, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, _, err := svc.SyncPlayer(context.Background(), "Chief", syncer.Options{})
			assert.NoError(t, err)
			results[i] = res
		}()
	}

	// let every caller reach the group before the run finishes
	require.Eventually(t, func() bool { return fake.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(fake.release)
	wg.Wait()

	assert.Equal(t, int32(1), fake.calls.Load())
	for _, res := range results {
		assert.Equal(t, "Chief", res.XUID)
	}
}

func TestSyncService_CollapsesAcrossIdentifiers(t *testing.T) {
	fake := &fakeSyncer{release: make(chan struct{})}
	svc, w := newSyncService(t, fake, &config.Config{})
	seed(t, w)

	var wg sync.WaitGroup
	for _, id := range []string{"Chief", "100", " chief "} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, _, err := svc.SyncPlayer(context.Background(), id, syncer.Options{})
			assert.NoError(t, err)
			assert.NotEmpty(t, res.XUID)
		}()
	}

	require.Eventually(t, func() bool { return fake.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(fake.release)
	wg.Wait()

	assert.Equal(t, int32(1), fake.calls.Load())
	assert.Equal(t, "player:100", svc.playerKey(context.Background(), "CHIEF"))
	assert.Equal(t, "player:cortana", svc.playerKey(context.Background(), " Cortana"))
}

func TestSyncService_RunSurvivesCallerCancel(t *testing.T) {
	fake := &fakeSyncer{}
	fake.SyncPlayerFunc = func(ctx context.Context, playerID string, opts syncer.Options) (syncer.Result, error) {
		_, hasDeadline := ctx.Deadline()
		assert.True(t, hasDeadline)
		return syncer.Result{XUID: playerID}, ctx.Err()
	}
	svc, _ := newSyncService(t, fake, &config.Config{Sync: config.SyncConfig{MaxMatches: 30}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, shared, err := svc.SyncPlayer(ctx, "Chief", svc.DefaultOptions())
	require.NoError(t, err)
	assert.False(t, shared)
	assert.Equal(t, "Chief", res.XUID)
	assert.Equal(t, 30, svc.DefaultOptions().MaxMatches)

	all, _, err := svc.SyncAll(context.Background(), syncer.Options{})
	require.NoError(t, err)
	assert.Contains(t, all, "1")
}

func setupDB(t *testing.T) (*sqlx.DB, *batch.Writer) {
	t.Helper()
	cfg := &config.Config{DB: config.DBConfig{Driver: database.DriverSQLite, Path: ":memory:"}}
	db, err := database.New(cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, batch.NewWriter(db, zerolog.Nop())
}

func setupServices(t *testing.T) (*PlayerService, *MatchService, *batch.Writer) {
	t.Helper()
	db, w := setupDB(t)
	players := NewPlayerService(
		repository.NewPlayerRepository(db, w, zerolog.Nop()),
		repository.NewSyncRunRepository(db, w, zerolog.Nop()),
		zerolog.Nop(),
	)
	matches := NewMatchService(
		repository.NewMatchRepository(db, zerolog.Nop()),
		repository.NewRawPayloadRepository(db, zerolog.Nop()),
		players,
		zerolog.Nop(),
	)
	return players, matches, w
}

func seed(t *testing.T, w *batch.Writer) {
	t.Helper()
	ctx := context.Background()
	t0 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	_, err := w.Flush(ctx,
		batch.UpsertOp(schema.Players, []batch.Row{{"xuid": "100", "gamertag": "Chief", "updated_at": t0}}),
		batch.InsertOp(schema.Aliases, []batch.Row{{"xuid": "100", "gamertag": "Chief", "seen_at": t0}}),
		batch.UpsertOp(schema.Matches, []batch.Row{
			{"match_id": "m1", "started_at": t0},
			{"match_id": "m2", "started_at": t0.Add(time.Hour)},
			{"match_id": "m3", "started_at": t0.Add(2 * time.Hour)},
		}),
		batch.UpsertOp(schema.MatchParticipants, []batch.Row{
			{"match_id": "m1", "xuid": "100", "kills": 10, "deaths": 5, "outcome": "win"},
			{"match_id": "m2", "xuid": "100", "kills": 5, "deaths": 10, "outcome": "loss"},
			{"match_id": "m3", "xuid": "100", "kills": 9, "deaths": 0, "outcome": "win"},
			{"match_id": "m3", "xuid": "200", "kills": 0, "deaths": 9, "outcome": "loss"},
		}),
		batch.UpsertOp(schema.SkillStats, []batch.Row{
			{"match_id": "m1", "xuid": "100", "csr": 1500, "pre_csr": 1490, "rank_delta": 10},
			{"match_id": "m3", "xuid": "100", "csr": 1520, "pre_csr": 1505, "rank_delta": 15},
		}),
	)
	require.NoError(t, err)
}

func TestMatchService_Summary(t *testing.T) {
	_, svc, w := setupServices(t)
	seed(t, w)

	summary, err := svc.GetSummary(context.Background(), "chief")
	require.NoError(t, err)

	assert.Equal(t, "100", summary.Player.XUID)
	assert.Equal(t, 3, summary.Matches)
	assert.Equal(t, 2, summary.Wins)
	assert.Equal(t, 1, summary.Losses)
	assert.Equal(t, 24, summary.Kills)
	assert.Equal(t, 15, summary.Deaths)
	assert.InDelta(t, 1.6, summary.KD, 1e-9)
	assert.InDelta(t, 2.0/3.0, summary.WinRate, 1e-9)
	assert.Equal(t, 1520, summary.CSR)
	require.Len(t, summary.CSRTrend, 2)
	assert.Equal(t, "m1", summary.CSRTrend[0].MatchID)
}

func TestMatchService_Detail(t *testing.T) {
	_, svc, w := setupServices(t)
	seed(t, w)

	detail, err := svc.GetMatchDetail(context.Background(), "m3")
	require.NoError(t, err)
	assert.Equal(t, "m3", detail.Match.MatchID)
	assert.Len(t, detail.Participants, 2)
	assert.Len(t, detail.Skills, 1)

	_, err = svc.GetMatchDetail(context.Background(), "missing")
	assert.ErrorIs(t, err, repository.ErrMatchNotFound)
}

func TestPlayerService(t *testing.T) {
	players, matches, w := setupServices(t)
	seed(t, w)
	ctx := context.Background()

	p, err := players.GetPlayer(ctx, "Chief%20")
	require.NoError(t, err)
	assert.Equal(t, "100", p.XUID)

	_, err = players.GetPlayer(ctx, "Cortana")
	assert.ErrorIs(t, err, repository.ErrPlayerNotFound)

	found, err := players.SearchSuggestions(ctx, "ch")
	require.NoError(t, err)
	require.Len(t, found, 1)

	empty, err := players.SearchSuggestions(ctx, "  ")
	require.NoError(t, err)
	assert.Empty(t, empty)

	aliases, err := players.Aliases(ctx, "100")
	require.NoError(t, err)
	require.Len(t, aliases, 1)
	assert.Equal(t, []domain.Alias{{XUID: "100", Gamertag: "Chief", SeenAt: aliases[0].SeenAt}}, aliases)

	list, err := matches.GetMatchesFor(ctx, "100", 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "m3", list[0].Match.MatchID)

	runs, err := players.SyncRuns(ctx, "100")
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestSummarize_NoDeaths(t *testing.T) {
	s := summarize([]repository.MatchWithStats{{Stats: domain.MatchParticipant{Kills: 7, Outcome: domain.OutcomeLeft}}})
	assert.Equal(t, 7.0, s.KD)
	assert.Equal(t, 1, s.Losses)
	assert.Equal(t, 0.0, s.WinRate)

	empty := summarize(nil)
	assert.Equal(t, 0.0, empty.KD)
	assert.Equal(t, 0, empty.Matches)
}
