package syncer

import (
	"errors"
	"time"
)

var ErrInvalidOptions = errors.New("invalid sync options")

type Options struct {
	// 0 means no limit beyond the end of the history.
	MaxMatches int `validate:"gte=0"`
	// ForceFull ignores the checkpoint and the stored-match boundary and
	// rewrites every match it pages through.
	ForceFull bool
	// Since stops paging at the first match that started before it. Zero
	// disables the bound.
	Since time.Time
}

type MatchError struct {
	MatchID string `json:"match_id"`
	Reason  string `json:"reason"`
}

// Result describes one finished player sync.
type Result struct {
	RunID    string `json:"run_id"`
	XUID     string `json:"xuid"`
	Gamertag string `json:"gamertag"`

	Fetched  int `json:"fetched"`
	Inserted int `json:"inserted"`
	// Updated counts stored matches rewritten by a forced run.
	Updated    int          `json:"updated"`
	Skipped    int          `json:"skipped"`
	Errors     []MatchError `json:"errors,omitempty"`
	Anomalies  int          `json:"anomalies"`
	OutOfOrder int          `json:"out_of_order"`

	Checkpoint         string `json:"checkpoint"`
	CheckpointAdvanced bool   `json:"checkpoint_advanced"`

	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Err       error         `json:"-"`
}

func (r Result) OK() bool {
	return r.Err == nil
}

// Failure returns the fatal error text, empty on success.
func (r Result) Failure() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}
