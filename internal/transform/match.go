package transform

import (
	"halo-tracker/internal/api"
	"halo-tracker/internal/batch"
	"halo-tracker/internal/domain"
	"halo-tracker/internal/schema"
)

var matchFields = Mapping{
	{Column: "match_id", Path: "MatchId", Required: true, Convert: matchID},
	{Column: "started_at", Path: "MatchInfo.StartTime", Default: schema.Epoch},
	{Column: "map_id", Path: "MatchInfo.MapVariant.AssetId", Default: ""},
	{Column: "mode_id", Path: "MatchInfo.UgcGameVariant.AssetId", Default: ""},
	{Column: "playlist_id", Path: "MatchInfo.Playlist.AssetId", Default: ""},
	{Column: "duration_s", Path: "MatchInfo.Duration", Default: 0.0, Convert: durationSeconds},
}

const coreStats = "PlayerTeamStats.0.Stats.CoreStats."

// participantFields are relative to one entry of Players.
var participantFields = Mapping{
	{Column: "xuid", Path: "PlayerId", Required: true, Convert: xuid},
	{Column: "team", Path: "LastTeamId", Default: ""},
	{Column: "outcome", Path: "Outcome", Default: string(domain.OutcomeUnknown), Convert: outcome},
	{Column: "kills", Path: coreStats + "Kills", Default: int64(0)},
	{Column: "deaths", Path: coreStats + "Deaths", Default: int64(0)},
	{Column: "assists", Path: coreStats + "Assists", Default: int64(0)},
	{Column: "score", Path: coreStats + "Score", Default: int64(0)},
	{Column: "accuracy", Path: coreStats + "Accuracy", Default: 0.0},
	{Column: "damage_dealt", Path: coreStats + "DamageDealt", Default: int64(0)},
	{Column: "damage_taken", Path: coreStats + "DamageTaken", Default: int64(0)},
}

type MatchRecords struct {
	Match        batch.Row
	Participants []batch.Row
}

// MatchStats maps a match stats payload onto one matches row and one
// match_participants row per human player. Bots are dropped. The owner must
// be among the players.
func MatchStats(p api.Payload, owner string) (MatchRecords, error) {
	kind := string(api.KindMatchStats)
	if p.Data == nil {
		return MatchRecords{}, missing(kind, "MatchId")
	}

	match, err := matchFields.Extract(kind, p.Data)
	if err != nil {
		return MatchRecords{}, err
	}
	id := match["match_id"]

	players, _ := p.Data["Players"].([]any)
	participants := make([]batch.Row, 0, len(players))
	ownerSeen := false
	for _, entry := range players {
		player, ok := entry.(map[string]any)
		if !ok {
			return MatchRecords{}, &ValidationError{Kind: kind, Field: "Players", Reason: "player entry is not an object"}
		}
		if pid, _ := player["PlayerId"].(string); isBot(pid) {
			continue
		}

		row, err := participantFields.Extract(kind, player)
		if err != nil {
			return MatchRecords{}, err
		}
		row["match_id"] = id
		if row["xuid"] == owner {
			ownerSeen = true
		}
		participants = append(participants, row)
	}

	if !ownerSeen {
		return MatchRecords{}, &ValidationError{Kind: kind, Field: "Players", Reason: "player " + owner + " not in match"}
	}

	return MatchRecords{Match: match, Participants: participants}, nil
}

// ParticipantXUIDs lists the human player ids of a match stats payload, as
// needed by the skill endpoint.
func ParticipantXUIDs(p api.Payload) []string {
	players, _ := p.Data["Players"].([]any)
	ids := make([]string, 0, len(players))
	for _, entry := range players {
		player, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		pid, _ := player["PlayerId"].(string)
		if pid == "" || isBot(pid) {
			continue
		}
		ids = append(ids, NormalizeXUID(pid))
	}
	return ids
}
