package transform

import (
	"regexp"
	"strconv"
	"strings"

	"halo-tracker/internal/coerce"
	"halo-tracker/internal/domain"

	"github.com/google/uuid"
)

// NormalizeMatchID lowercases uuid match ids so ids from different endpoints
// compare equal. Non-uuid ids are only trimmed.
func NormalizeMatchID(id string) string {
	id = strings.TrimSpace(id)
	if u, err := uuid.Parse(id); err == nil {
		return u.String()
	}
	return id
}

func matchID(v any) (any, bool) {
	s, ok := v.(string)
	if !ok {
		return nil, false
	}
	return NormalizeMatchID(s), true
}

// NormalizeXUID strips the "xuid(...)" wrapper the stats API puts around
// player ids.
func NormalizeXUID(id string) string {
	id = strings.TrimSpace(id)
	if strings.HasPrefix(id, "xuid(") && strings.HasSuffix(id, ")") {
		return id[len("xuid(") : len(id)-1]
	}
	return id
}

func isBot(id string) bool {
	return strings.HasPrefix(strings.TrimSpace(id), "bid(")
}

func xuid(v any) (any, bool) {
	s, ok := v.(string)
	if !ok {
		return nil, false
	}
	return NormalizeXUID(s), true
}

// API outcome codes
var outcomes = map[int64]domain.Outcome{
	1: domain.OutcomeDraw,
	2: domain.OutcomeWin,
	3: domain.OutcomeLoss,
	4: domain.OutcomeLeft,
}

func outcome(v any) (any, bool) {
	if s, ok := v.(string); ok {
		switch o := domain.Outcome(strings.ToLower(s)); o {
		case domain.OutcomeWin, domain.OutcomeLoss, domain.OutcomeDraw, domain.OutcomeLeft:
			return string(o), true
		}
	}
	code, err := coerce.Value(coerce.Int, v)
	if err != nil {
		return string(domain.OutcomeUnknown), true
	}
	if o, ok := outcomes[code.(int64)]; ok {
		return string(o), true
	}
	return string(domain.OutcomeUnknown), true
}

var isoDuration = regexp.MustCompile(`^P(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+(?:\.\d+)?)S)?)?$`)

// durationSeconds parses ISO-8601 durations such as "PT9M30.5S".
func durationSeconds(v any) (any, bool) {
	s, ok := v.(string)
	if !ok {
		return nil, false
	}
	m := isoDuration.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil || s == "P" || s == "PT" {
		return nil, false
	}
	units := []float64{86400, 3600, 60, 1}
	total := 0.0
	for i, unit := range units {
		if m[i+1] == "" {
			continue
		}
		n, err := strconv.ParseFloat(m[i+1], 64)
		if err != nil {
			return nil, false
		}
		total += n * unit
	}
	return total, true
}
