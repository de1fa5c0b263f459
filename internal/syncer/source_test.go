package syncer

import (
	"context"
	"fmt"
	"iter"
	"sync"
	"time"

	"halo-tracker/internal/api"

	"github.com/goccy/go-json"
)

const ownerXUID = "2533274800000001"

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeMatch struct {
	id        string
	startedAt time.Time
	// malformed stats leave the owner out of Players
	malformed bool
	noSkill   bool
}

// fakeSource serves a fixed newest-first history. StatsErr and ProfileFunc
// override the generated payloads.
type fakeSource struct {
	mu       sync.Mutex
	gamertag string
	history  []fakeMatch

	MatchesErrAt int
	StatsErr     map[string]error
	ProfileFunc  func(player string) (api.Payload, error)

	statsCalls   []string
	skillCalls   []string
	profileCalls []string
}

func newFakeSource(history ...fakeMatch) *fakeSource {
	return &fakeSource{gamertag: "Chief", history: history, MatchesErrAt: -1}
}

func (f *fakeSource) Matches(ctx context.Context, xuid string) iter.Seq2[api.Payload, error] {
	return func(yield func(api.Payload, error) bool) {
		for i, m := range f.history {
			if i == f.MatchesErrAt {
				yield(api.Payload{}, &api.StatusError{Code: 503, URL: "/matches"})
				return
			}
			entry := map[string]any{
				"MatchId":   m.id,
				"MatchInfo": map[string]any{"StartTime": m.startedAt.Format(time.RFC3339)},
			}
			if m.id == "" {
				delete(entry, "MatchId")
			}
			if !yield(api.Payload{Kind: api.KindMatchHistory, Data: entry}, nil) {
				return
			}
		}
	}
}

func (f *fakeSource) find(matchID string) (fakeMatch, bool) {
	for _, m := range f.history {
		if m.id == matchID {
			return m, true
		}
	}
	return fakeMatch{}, false
}

func (f *fakeSource) MatchStats(ctx context.Context, matchID string) (api.Payload, error) {
	f.mu.Lock()
	f.statsCalls = append(f.statsCalls, matchID)
	f.mu.Unlock()

	if err := f.StatsErr[matchID]; err != nil {
		return api.Payload{}, err
	}
	m, ok := f.find(matchID)
	if !ok {
		return api.Payload{}, &api.StatusError{Code: 404, URL: "/stats/" + matchID}
	}

	owner := "xuid(" + ownerXUID + ")"
	if m.malformed {
		owner = "xuid(999)"
	}
	return api.Payload{Kind: api.KindMatchStats, Data: map[string]any{
		"MatchId": m.id,
		"MatchInfo": map[string]any{
			"StartTime":  m.startedAt.Format(time.RFC3339),
			"MapVariant": map[string]any{"AssetId": "map-" + m.id},
			"Duration":   "PT10M",
		},
		"Players": []any{
			participant(owner, "2", 12, 4),
			participant("xuid(2533274800000002)", "3", 4, 12),
			participant("bid(1.0)", "3", 0, 20),
		},
	}}, nil
}

func participant(id, outcome string, kills, deaths int) map[string]any {
	return map[string]any{
		"PlayerId":   id,
		"LastTeamId": json.Number("0"),
		"Outcome":    json.Number(outcome),
		"PlayerTeamStats": []any{map[string]any{
			"Stats": map[string]any{"CoreStats": map[string]any{
				"Kills":  json.Number(fmt.Sprint(kills)),
				"Deaths": json.Number(fmt.Sprint(deaths)),
			}},
		}},
	}
}

func (f *fakeSource) MatchSkill(ctx context.Context, matchID string, xuids []string) (api.Payload, error) {
	f.mu.Lock()
	f.skillCalls = append(f.skillCalls, matchID)
	f.mu.Unlock()

	m, ok := f.find(matchID)
	if !ok || m.noSkill {
		return api.Payload{}, &api.StatusError{Code: 404, URL: "/skill/" + matchID}
	}

	values := make([]any, 0, len(xuids))
	for i, x := range xuids {
		values = append(values, map[string]any{
			"Id": "xuid(" + x + ")",
			"Result": map[string]any{"RankRecap": map[string]any{
				"PreMatchCsr":  map[string]any{"Value": json.Number(fmt.Sprint(1500 + i))},
				"PostMatchCsr": map[string]any{"Value": json.Number(fmt.Sprint(1510 + i)), "Tier": "Diamond"},
			}},
		})
	}
	return api.Payload{Kind: api.KindMatchSkill, Data: map[string]any{"MatchId": matchID, "Value": values}}, nil
}

func (f *fakeSource) Profile(ctx context.Context, player string) (api.Payload, error) {
	f.mu.Lock()
	f.profileCalls = append(f.profileCalls, player)
	f.mu.Unlock()

	if f.ProfileFunc != nil {
		return f.ProfileFunc(player)
	}
	return api.Payload{Kind: api.KindProfile, Data: map[string]any{"xuid": ownerXUID, "gamertag": f.gamertag}}, nil
}

// history builds n matches named m<n-1>..m0, newest first, one hour apart.
func history(n int) []fakeMatch {
	out := make([]fakeMatch, 0, n)
	for i := n - 1; i >= 0; i-- {
		out = append(out, fakeMatch{id: fmt.Sprintf("m%d", i), startedAt: t0.Add(time.Duration(i) * time.Hour)})
	}
	return out
}
