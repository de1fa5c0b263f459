package transform

import (
	"time"

	"halo-tracker/internal/api"
	"halo-tracker/internal/coerce"
)

var historyFields = Mapping{
	{Column: "match_id", Path: "MatchId", Required: true, Convert: matchID},
	{Column: "started_at", Path: "MatchInfo.StartTime"},
}

// Entry is one row of a match history page.
type Entry struct {
	MatchID string
	// zero when the page did not carry a usable start time
	StartedAt time.Time
}

func HistoryEntry(p api.Payload) (Entry, error) {
	row, err := historyFields.Extract(string(api.KindMatchHistory), p.Data)
	if err != nil {
		return Entry{}, err
	}

	e := Entry{MatchID: row["match_id"].(string)}
	if ts, err := coerce.Value(coerce.Time, row["started_at"]); err == nil && ts != nil {
		e.StartedAt = ts.(time.Time)
	}
	return e, nil
}
