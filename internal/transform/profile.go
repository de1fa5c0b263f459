package transform

import (
	"time"

	"halo-tracker/internal/api"
	"halo-tracker/internal/batch"
)

var profileFields = Mapping{
	{Column: "xuid", Path: "xuid", Required: true, Convert: xuid},
	{Column: "gamertag", Path: "gamertag", Required: true},
}

type AliasRecords struct {
	Player batch.Row
	Alias  batch.Row
}

// Aliases maps a profile payload onto the players row and the aliases row
// observed at seenAt. When owner is set the payload must describe that xuid.
func Aliases(p api.Payload, owner string, seenAt time.Time) (AliasRecords, error) {
	kind := string(api.KindProfile)

	row, err := profileFields.Extract(kind, p.Data)
	if err != nil {
		return AliasRecords{}, err
	}
	if owner != "" && row["xuid"] != owner {
		return AliasRecords{}, &ValidationError{Kind: kind, Field: "xuid", Reason: "profile does not belong to " + owner}
	}

	seenAt = seenAt.UTC()
	return AliasRecords{
		Player: batch.Row{"xuid": row["xuid"], "gamertag": row["gamertag"], "updated_at": seenAt},
		Alias:  batch.Row{"xuid": row["xuid"], "gamertag": row["gamertag"], "seen_at": seenAt},
	}, nil
}
