package constants

import "time"

const (
	ExternalAPITimeout = 10 * time.Second
	DatabaseTimeout    = 5 * time.Second
	RequestTimeout     = 30 * time.Second
	SyncTimeout        = 15 * time.Minute
)

const (
	DBMaxOpenConns    = 100
	DBMaxIdleConns    = 10
	DBConnMaxLifetime = 1 * time.Hour
	DBMaxIdleTime     = 10 * time.Minute
	DBBatchSize       = 100
)

const (
	// the stats API serves at most 25 matches per history page
	MatchHistoryPageSize = 25
	SyncFlushSize        = 50
	APIRequestsPerSecond = 4
	APIBurst             = 4
)

const (
	ShutdownTimeout   = 5 * time.Second
	ReadHeaderTimeout = 10 * time.Second
)

const (
	SearchSuggestionLimit = 10
	MatchListLimit        = 100
	SyncRunListLimit      = 20
)
