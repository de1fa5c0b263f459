package transform

import (
	"halo-tracker/internal/api"
	"halo-tracker/internal/batch"
	"halo-tracker/internal/coerce"
)

const recap = "Result.RankRecap."

var skillFields = Mapping{
	{Column: "xuid", Path: "Id", Required: true, Convert: xuid},
	{Column: "pre_csr", Path: recap + "PreMatchCsr.Value", Default: int64(0)},
	{Column: "csr", Path: recap + "PostMatchCsr.Value", Default: int64(0)},
	{Column: "tier", Path: recap + "PostMatchCsr.Tier", Default: ""},
}

// SkillStats maps a skill payload onto skill_stats rows, one per entry of
// Value. Unranked entries keep zero CSR. The owner's entry, when present, is
// returned first.
func SkillStats(p api.Payload, owner string) ([]batch.Row, error) {
	kind := string(api.KindMatchSkill)

	id, ok := lookup(p.Data, "MatchId")
	if !ok {
		return nil, missing(kind, "MatchId")
	}
	matchIDValue, ok := matchID(id)
	if !ok || isBlank(matchIDValue) {
		return nil, missing(kind, "MatchId")
	}

	entries, _ := p.Data["Value"].([]any)
	rows := make([]batch.Row, 0, len(entries))
	for _, entry := range entries {
		obj, ok := entry.(map[string]any)
		if !ok {
			return nil, &ValidationError{Kind: kind, Field: "Value", Reason: "skill entry is not an object"}
		}
		row, err := skillFields.Extract(kind, obj)
		if err != nil {
			return nil, err
		}
		row["match_id"] = matchIDValue
		row["rank_delta"] = rankDelta(row["pre_csr"], row["csr"])

		if row["xuid"] == owner {
			rows = append([]batch.Row{row}, rows...)
		} else {
			rows = append(rows, row)
		}
	}
	return rows, nil
}

// rankDelta is post minus pre CSR; values that are not integers give 0.
func rankDelta(pre, post any) int64 {
	a, err := coerce.Value(coerce.Int, pre)
	if err != nil || a == nil {
		return 0
	}
	b, err := coerce.Value(coerce.Int, post)
	if err != nil || b == nil {
		return 0
	}
	return b.(int64) - a.(int64)
}
