package repository

import (
	"context"
	"testing"
	"time"

	"halo-tracker/internal/api"
	"halo-tracker/internal/batch"
	"halo-tracker/internal/config"
	"halo-tracker/internal/database"
	"halo-tracker/internal/domain"
	"halo-tracker/internal/schema"

	"github.com/goccy/go-json"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) (*sqlx.DB, *batch.Writer) {
	t.Helper()
	cfg := &config.Config{DB: config.DBConfig{Driver: database.DriverSQLite, Path: ":memory:"}}
	db, err := database.New(cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, batch.NewWriter(db, zerolog.Nop())
}

func profileRows(xuid, gamertag string, at time.Time) (batch.Row, batch.Row) {
	return batch.Row{"xuid": xuid, "gamertag": gamertag, "updated_at": at},
		batch.Row{"xuid": xuid, "gamertag": gamertag, "seen_at": at}
}

func TestPlayerRepository_SaveAppendsAliasOnlyOnChange(t *testing.T) {
	db, w := setupTestDB(t)
	repo := NewPlayerRepository(db, w, zerolog.Nop())
	ctx := context.Background()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	p, a := profileRows("100", "Chief", t0)
	added, err := repo.Save(ctx, p, a)
	require.NoError(t, err)
	assert.True(t, added)

	p, a = profileRows("100", "Chief", t0.Add(time.Hour))
	added, err = repo.Save(ctx, p, a)
	require.NoError(t, err)
	assert.False(t, added)

	p, a = profileRows("100", "Arbiter", t0.Add(2*time.Hour))
	added, err = repo.Save(ctx, p, a)
	require.NoError(t, err)
	assert.True(t, added)

	aliases, err := repo.Aliases(ctx, "100")
	require.NoError(t, err)
	require.Len(t, aliases, 2)
	assert.Equal(t, "Arbiter", aliases[0].Gamertag)
	assert.Equal(t, "Chief", aliases[1].Gamertag)

	player, err := repo.Get(ctx, "100")
	require.NoError(t, err)
	assert.Equal(t, "Arbiter", player.Gamertag)
}

func TestPlayerRepository_Resolve(t *testing.T) {
	db, w := setupTestDB(t)
	repo := NewPlayerRepository(db, w, zerolog.Nop())
	ctx := context.Background()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	p, a := profileRows("100", "Chief", t0)
	_, err := repo.Save(ctx, p, a)
	require.NoError(t, err)
	p, a = profileRows("100", "Arbiter", t0.Add(time.Hour))
	_, err = repo.Save(ctx, p, a)
	require.NoError(t, err)

	for _, id := range []string{"100", "arbiter", "CHIEF"} {
		p, err := repo.Resolve(ctx, id)
		require.NoError(t, err, id)
		assert.Equal(t, "100", p.XUID)
		assert.Equal(t, "Arbiter", p.Gamertag)
	}

	_, err = repo.Resolve(ctx, "Cortana")
	assert.ErrorIs(t, err, ErrPlayerNotFound)
}

func TestPlayerRepository_Search(t *testing.T) {
	db, w := setupTestDB(t)
	repo := NewPlayerRepository(db, w, zerolog.Nop())
	ctx := context.Background()
	t0 := time.Now().UTC()

	p, a := profileRows("100", "Chief", t0)
	_, err := repo.Save(ctx, p, a)
	require.NoError(t, err)
	p, a = profileRows("200", "Cortana", t0)
	_, err = repo.Save(ctx, p, a)
	require.NoError(t, err)
	p, a = profileRows("300", "Arbiter", t0)
	_, err = repo.Save(ctx, p, a)
	require.NoError(t, err)

	players, err := repo.Search(ctx, "c", 10)
	require.NoError(t, err)
	require.Len(t, players, 2)
	assert.Equal(t, "Chief", players[0].Gamertag)
	assert.Equal(t, "Cortana", players[1].Gamertag)

	all, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func seedMatch(t *testing.T, w *batch.Writer, id, xuid string, startedAt time.Time, withSkill bool) {
	t.Helper()
	ops := []batch.Op{
		batch.UpsertOp(schema.Matches, []batch.Row{{"match_id": id, "started_at": startedAt, "map_id": "map"}}),
		batch.UpsertOp(schema.MatchParticipants, []batch.Row{{"match_id": id, "xuid": xuid, "kills": 10, "deaths": 5, "outcome": "win"}}),
	}
	if withSkill {
		ops = append(ops, batch.UpsertOp(schema.SkillStats, []batch.Row{{"match_id": id, "xuid": xuid, "csr": 1500, "pre_csr": 1490, "rank_delta": 10, "tier": "Diamond"}}))
	}
	_, err := w.Flush(context.Background(), ops...)
	require.NoError(t, err)
}

func TestMatchRepository_ListByXUIDSoftJoinsSkill(t *testing.T) {
	db, w := setupTestDB(t)
	repo := NewMatchRepository(db, zerolog.Nop())
	ctx := context.Background()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	seedMatch(t, w, "m1", "100", t0, true)
	seedMatch(t, w, "m2", "100", t0.Add(time.Hour), false)

	matches, err := repo.ListByXUID(ctx, "100", 10)
	require.NoError(t, err)
	require.Len(t, matches, 2)

	assert.Equal(t, "m2", matches[0].Match.MatchID)
	assert.Nil(t, matches[0].Skill)
	assert.Equal(t, "m1", matches[1].Match.MatchID)
	require.NotNil(t, matches[1].Skill)
	assert.Equal(t, 1500, matches[1].Skill.CSR)
	assert.Equal(t, domain.OutcomeWin, matches[1].Stats.Outcome)
	assert.True(t, matches[1].Match.StartedAt.Equal(t0))

	exists, err := repo.Exists(ctx, "m1")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = repo.Exists(ctx, "nope")
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = repo.Get(ctx, "nope")
	assert.ErrorIs(t, err, ErrMatchNotFound)
}

func TestCheckpointRepository_NeverMovesBackward(t *testing.T) {
	db, _ := setupTestDB(t)
	repo := NewCheckpointRepository(db, zerolog.Nop())
	ctx := context.Background()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	cp, err := repo.Get(ctx, "100")
	require.NoError(t, err)
	assert.Nil(t, cp)

	advanced, err := repo.Advance(ctx, domain.SyncCheckpoint{XUID: "100", LastMatchID: "b", LastMatchStartedAt: t0.Add(time.Hour), LastSyncedAt: t0})
	require.NoError(t, err)
	assert.True(t, advanced)

	advanced, err = repo.Advance(ctx, domain.SyncCheckpoint{XUID: "100", LastMatchID: "a", LastMatchStartedAt: t0, LastSyncedAt: t0.Add(time.Hour)})
	require.NoError(t, err)
	assert.False(t, advanced)

	cp, err = repo.Get(ctx, "100")
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, "b", cp.LastMatchID)

	advanced, err = repo.Advance(ctx, domain.SyncCheckpoint{XUID: "100", LastMatchID: "c", LastMatchStartedAt: t0.Add(2 * time.Hour), LastSyncedAt: t0.Add(2 * time.Hour)})
	require.NoError(t, err)
	assert.True(t, advanced)

	cp, err = repo.Get(ctx, "100")
	require.NoError(t, err)
	assert.Equal(t, "c", cp.LastMatchID)
}

func TestCheckpointRepository_ZeroStartTime(t *testing.T) {
	db, w := setupTestDB(t)
	repo := NewCheckpointRepository(db, zerolog.Nop())
	ctx := context.Background()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := w.Upsert(ctx, schema.Matches, []batch.Row{{"match_id": "m", "started_at": t0.Add(5 * time.Hour)}})
	require.NoError(t, err)

	_, err = repo.Advance(ctx, domain.SyncCheckpoint{XUID: "100", LastMatchID: "b", LastMatchStartedAt: t0.Add(time.Hour), LastSyncedAt: t0})
	require.NoError(t, err)

	// the start time comes from the stored match row
	advanced, err := repo.Advance(ctx, domain.SyncCheckpoint{XUID: "100", LastMatchID: "m", LastSyncedAt: t0})
	require.NoError(t, err)
	assert.True(t, advanced)

	cp, err := repo.Get(ctx, "100")
	require.NoError(t, err)
	assert.Equal(t, "m", cp.LastMatchID)
	assert.True(t, cp.LastMatchStartedAt.Equal(t0.Add(5*time.Hour)))

	// unknown everywhere: written without the ordering guard
	advanced, err = repo.Advance(ctx, domain.SyncCheckpoint{XUID: "100", LastMatchID: "ghost", LastSyncedAt: t0})
	require.NoError(t, err)
	assert.True(t, advanced)

	cp, err = repo.Get(ctx, "100")
	require.NoError(t, err)
	assert.Equal(t, "ghost", cp.LastMatchID)
}

func TestRawPayloadRepository_Get(t *testing.T) {
	db, w := setupTestDB(t)
	repo := NewRawPayloadRepository(db, zerolog.Nop())
	ctx := context.Background()

	p := api.Payload{Kind: api.KindMatchStats, Data: map[string]any{
		"MatchId": "m1",
		"Players": []any{map[string]any{"PlayerId": "xuid(1)", "Outcome": json.Number("2")}},
	}}
	body, err := EncodePayload(p)
	require.NoError(t, err)

	_, err = w.Upsert(ctx, schema.RawPayloads, []batch.Row{{
		"match_id": "m1", "kind": string(p.Kind), "fetched_at": time.Now(), "body": body,
	}})
	require.NoError(t, err)

	stored, err := repo.Get(ctx, "m1", api.KindMatchStats)
	require.NoError(t, err)
	assert.Equal(t, "m1", stored.Payload.Data["MatchId"])

	players := stored.Payload.Data["Players"].([]any)
	outcome := players[0].(map[string]any)["Outcome"]
	assert.EqualValues(t, 2, outcome)

	_, err = repo.Get(ctx, "m1", api.KindMatchSkill)
	assert.ErrorIs(t, err, ErrPayloadNotFound)
}

func TestSyncRunRepository_RecordAndList(t *testing.T) {
	db, w := setupTestDB(t)
	repo := NewSyncRunRepository(db, w, zerolog.Nop())
	ctx := context.Background()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Record(ctx, domain.SyncRun{RunID: "r1", XUID: "100", StartedAt: t0, FinishedAt: t0.Add(time.Second), Fetched: 3, Inserted: 3, Status: domain.SyncStatusSuccess}))
	require.NoError(t, repo.Record(ctx, domain.SyncRun{RunID: "r2", XUID: "100", StartedAt: t0.Add(time.Hour), FinishedAt: t0.Add(time.Hour), Status: domain.SyncStatusFailed, Error: "boom"}))

	runs, err := repo.List(ctx, "100", 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "r2", runs[0].RunID)
	assert.Equal(t, domain.SyncStatusFailed, runs[0].Status)
	assert.Equal(t, "boom", runs[0].Error)
	assert.Equal(t, 3, runs[1].Inserted)
}
