package domain

import (
	"time"
)

type Player struct {
	XUID      string    `db:"xuid" json:"xuid"`
	Gamertag  string    `db:"gamertag" json:"gamertag"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Alias is one gamertag observed for an xuid. The log is append-only.
type Alias struct {
	XUID     string    `db:"xuid" json:"xuid"`
	Gamertag string    `db:"gamertag" json:"gamertag"`
	SeenAt   time.Time `db:"seen_at" json:"seen_at"`
}

type Match struct {
	MatchID    string    `db:"match_id" json:"match_id"`
	StartedAt  time.Time `db:"started_at" json:"started_at"`
	MapID      string    `db:"map_id" json:"map_id"`
	ModeID     string    `db:"mode_id" json:"mode_id"`
	PlaylistID string    `db:"playlist_id" json:"playlist_id"`
	DurationS  float64   `db:"duration_s" json:"duration_s"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

type Outcome string

const (
	OutcomeWin     Outcome = "win"
	OutcomeLoss    Outcome = "loss"
	OutcomeDraw    Outcome = "draw"
	OutcomeLeft    Outcome = "left"
	OutcomeUnknown Outcome = "unknown"
)

type MatchParticipant struct {
	MatchID     string  `db:"match_id" json:"match_id"`
	XUID        string  `db:"xuid" json:"xuid"`
	Kills       int     `db:"kills" json:"kills"`
	Deaths      int     `db:"deaths" json:"deaths"`
	Assists     int     `db:"assists" json:"assists"`
	Score       int     `db:"score" json:"score"`
	Team        string  `db:"team" json:"team"`
	Outcome     Outcome `db:"outcome" json:"outcome"`
	Accuracy    float64 `db:"accuracy" json:"accuracy"`
	DamageDealt int     `db:"damage_dealt" json:"damage_dealt"`
	DamageTaken int     `db:"damage_taken" json:"damage_taken"`
}

// SkillStat comes from a separate endpoint and is joined on (match_id, xuid)
// at query time.
type SkillStat struct {
	MatchID   string `db:"match_id" json:"match_id"`
	XUID      string `db:"xuid" json:"xuid"`
	RankDelta int    `db:"rank_delta" json:"rank_delta"`
	CSR       int    `db:"csr" json:"csr"`
	PreCSR    int    `db:"pre_csr" json:"pre_csr"`
	Tier      string `db:"tier" json:"tier"`
}

type SyncCheckpoint struct {
	XUID               string    `db:"xuid" json:"xuid"`
	LastMatchID        string    `db:"last_match_id" json:"last_match_id"`
	LastMatchStartedAt time.Time `db:"last_match_started_at" json:"last_match_started_at"`
	LastSyncedAt       time.Time `db:"last_synced_at" json:"last_synced_at"`
}

type SyncStatus string

const (
	SyncStatusSuccess SyncStatus = "success"
	SyncStatusFailed  SyncStatus = "failed"
)

// SyncRun is the persisted summary of one player sync.
type SyncRun struct {
	RunID      string     `db:"run_id" json:"run_id"`
	XUID       string     `db:"xuid" json:"xuid"`
	StartedAt  time.Time  `db:"started_at" json:"started_at"`
	FinishedAt time.Time  `db:"finished_at" json:"finished_at"`
	Fetched    int        `db:"fetched" json:"fetched"`
	Inserted   int        `db:"inserted" json:"inserted"`
	Updated    int        `db:"updated" json:"updated"`
	Skipped    int        `db:"skipped" json:"skipped"`
	Errors     int        `db:"errors" json:"errors"`
	Anomalies  int        `db:"anomalies" json:"anomalies"`
	Status     SyncStatus `db:"status" json:"status"`
	Error      string     `db:"error" json:"error,omitempty"`
}
