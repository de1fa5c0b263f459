package repository

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"halo-tracker/internal/api"

	"github.com/goccy/go-json"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

var ErrPayloadNotFound = errors.New("raw payload not found")

type RawPayloadRepository struct {
	db     *sqlx.DB
	logger zerolog.Logger
}

func NewRawPayloadRepository(db *sqlx.DB, logger zerolog.Logger) *RawPayloadRepository {
	return &RawPayloadRepository{
		db:     db,
		logger: logger,
	}
}

// EncodePayload is the archive encoding of a payload body.
func EncodePayload(p api.Payload) ([]byte, error) {
	body, err := msgpack.Marshal(plain(p.Data))
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", p.Kind, err)
	}
	return body, nil
}

// plain swaps json.Number for int64 or float64 so the archive stores numbers
// as numbers.
func plain(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = plain(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = plain(e)
		}
		return out
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	}
	return v
}

type rawPayloadRow struct {
	MatchID   string    `db:"match_id"`
	Kind      string    `db:"kind"`
	FetchedAt time.Time `db:"fetched_at"`
	Body      []byte    `db:"body"`
}

type StoredPayload struct {
	Payload   api.Payload
	FetchedAt time.Time
}

// Get decodes an archived payload. Numbers come back as int64, uint64 or
// float64 rather than json.Number.
func (r *RawPayloadRepository) Get(ctx context.Context, matchID string, kind api.Kind) (*StoredPayload, error) {
	var row rawPayloadRow
	err := r.db.GetContext(ctx, &row, r.db.Rebind(`
		SELECT match_id, kind, fetched_at, body FROM raw_payloads WHERE match_id = ? AND kind = ?`),
		matchID, string(kind))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPayloadNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s payload for %s: %w", kind, matchID, err)
	}

	dec := msgpack.NewDecoder(bytes.NewReader(row.Body))
	dec.UseLooseInterfaceDecoding(true)
	var data map[string]any
	if err := dec.Decode(&data); err != nil {
		return nil, fmt.Errorf("failed to decode %s payload for %s: %w", kind, matchID, err)
	}
	return &StoredPayload{
		Payload:   api.Payload{Kind: api.Kind(row.Kind), Data: data},
		FetchedAt: row.FetchedAt,
	}, nil
}
