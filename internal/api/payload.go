package api

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

type Kind string

const (
	KindMatchHistory Kind = "match_history"
	KindMatchStats   Kind = "match_stats"
	KindMatchSkill   Kind = "match_skill"
	KindProfile      Kind = "profile"
)

// Payload is one decoded API document tagged with the endpoint it came from.
// Numbers are kept as json.Number.
type Payload struct {
	Kind Kind
	Data map[string]any
}

var ErrAPI = errors.New("stats API request failed")

// StatusError is a non-200 response. It matches ErrAPI.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API error: %d (%s)", e.Code, e.URL)
}

func (e *StatusError) Is(target error) bool {
	return target == ErrAPI
}

func (e *StatusError) NotFound() bool {
	return e.Code == 404
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.NotFound()
}

// IsXUID reports whether id looks like a numeric xuid rather than a gamertag.
func IsXUID(id string) bool {
	id = strings.TrimSpace(id)
	if strings.HasPrefix(id, "xuid(") && strings.HasSuffix(id, ")") {
		return true
	}
	if len(id) < 15 {
		return false
	}
	for _, r := range id {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
