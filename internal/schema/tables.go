// Package schema declares the write-side shape of every table: column order,
// coercion kind and default, and natural key.
package schema

import (
	"time"

	"halo-tracker/internal/batch"
	"halo-tracker/internal/coerce"
	"halo-tracker/internal/domain"
)

// Epoch is the default for timestamps the payload did not carry.
var Epoch = time.Unix(0, 0).UTC()

var Players = batch.Table{
	Name: "players",
	Columns: []coerce.Column{
		{Name: "xuid", Kind: coerce.Text, Default: ""},
		{Name: "gamertag", Kind: coerce.Text, Default: ""},
		{Name: "updated_at", Kind: coerce.Time, Default: Epoch},
	},
	Key: []string{"xuid"},
}

var Aliases = batch.Table{
	Name: "aliases",
	Columns: []coerce.Column{
		{Name: "xuid", Kind: coerce.Text, Default: ""},
		{Name: "gamertag", Kind: coerce.Text, Default: ""},
		{Name: "seen_at", Kind: coerce.Time, Default: Epoch},
	},
}

var Matches = batch.Table{
	Name: "matches",
	Columns: []coerce.Column{
		{Name: "match_id", Kind: coerce.Text, Default: ""},
		{Name: "started_at", Kind: coerce.Time, Default: Epoch},
		{Name: "map_id", Kind: coerce.Text, Default: ""},
		{Name: "mode_id", Kind: coerce.Text, Default: ""},
		{Name: "playlist_id", Kind: coerce.Text, Default: ""},
		{Name: "duration_s", Kind: coerce.Float, Default: 0.0},
		{Name: "updated_at", Kind: coerce.Time, Default: Epoch},
	},
	Key: []string{"match_id"},
}

var MatchParticipants = batch.Table{
	Name: "match_participants",
	Columns: []coerce.Column{
		{Name: "match_id", Kind: coerce.Text, Default: ""},
		{Name: "xuid", Kind: coerce.Text, Default: ""},
		{Name: "kills", Kind: coerce.Int, Default: int64(0)},
		{Name: "deaths", Kind: coerce.Int, Default: int64(0)},
		{Name: "assists", Kind: coerce.Int, Default: int64(0)},
		{Name: "score", Kind: coerce.Int, Default: int64(0)},
		{Name: "team", Kind: coerce.Text, Default: ""},
		{Name: "outcome", Kind: coerce.Text, Default: string(domain.OutcomeUnknown)},
		{Name: "accuracy", Kind: coerce.Float, Default: 0.0},
		{Name: "damage_dealt", Kind: coerce.Int, Default: int64(0)},
		{Name: "damage_taken", Kind: coerce.Int, Default: int64(0)},
	},
	Key: []string{"match_id", "xuid"},
}

var SkillStats = batch.Table{
	Name: "skill_stats",
	Columns: []coerce.Column{
		{Name: "match_id", Kind: coerce.Text, Default: ""},
		{Name: "xuid", Kind: coerce.Text, Default: ""},
		{Name: "rank_delta", Kind: coerce.Int, Default: int64(0)},
		{Name: "csr", Kind: coerce.Int, Default: int64(0)},
		{Name: "pre_csr", Kind: coerce.Int, Default: int64(0)},
		{Name: "tier", Kind: coerce.Text, Default: ""},
	},
	Key: []string{"match_id", "xuid"},
}

// SyncCheckpoints is advanced through the checkpoint repository, which adds a
// monotonic guard the generic upsert cannot express.
var SyncCheckpoints = batch.Table{
	Name: "sync_checkpoints",
	Columns: []coerce.Column{
		{Name: "xuid", Kind: coerce.Text, Default: ""},
		{Name: "last_match_id", Kind: coerce.Text, Default: ""},
		{Name: "last_match_started_at", Kind: coerce.Time, Default: Epoch},
		{Name: "last_synced_at", Kind: coerce.Time, Default: Epoch},
	},
	Key: []string{"xuid"},
}

var RawPayloads = batch.Table{
	Name: "raw_payloads",
	Columns: []coerce.Column{
		{Name: "match_id", Kind: coerce.Text, Default: ""},
		{Name: "kind", Kind: coerce.Text, Default: ""},
		{Name: "fetched_at", Kind: coerce.Time, Default: Epoch},
		{Name: "body", Kind: coerce.Bytes, Default: []byte{}},
	},
	Key: []string{"match_id", "kind"},
}

var SyncRuns = batch.Table{
	Name: "sync_runs",
	Columns: []coerce.Column{
		{Name: "run_id", Kind: coerce.Text, Default: ""},
		{Name: "xuid", Kind: coerce.Text, Default: ""},
		{Name: "started_at", Kind: coerce.Time, Default: Epoch},
		{Name: "finished_at", Kind: coerce.Time, Default: Epoch},
		{Name: "fetched", Kind: coerce.Int, Default: int64(0)},
		{Name: "inserted", Kind: coerce.Int, Default: int64(0)},
		{Name: "updated", Kind: coerce.Int, Default: int64(0)},
		{Name: "skipped", Kind: coerce.Int, Default: int64(0)},
		{Name: "errors", Kind: coerce.Int, Default: int64(0)},
		{Name: "anomalies", Kind: coerce.Int, Default: int64(0)},
		{Name: "status", Kind: coerce.Text, Default: string(domain.SyncStatusFailed)},
		{Name: "error", Kind: coerce.Text, Default: ""},
	},
}
