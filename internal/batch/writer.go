package batch

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"halo-tracker/internal/coerce"
	"halo-tracker/internal/constants"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"github.com/valyala/bytebufferpool"
)

var ErrWrite = errors.New("batch write failed")

// WriteError wraps the driver error of a failed flush. It matches ErrWrite.
type WriteError struct {
	Table string
	Err   error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("failed to write %s: %v", e.Table, e.Err)
}

func (e *WriteError) Unwrap() []error {
	return []error{ErrWrite, e.Err}
}

type Stats struct {
	Rows      int
	Anomalies []coerce.Anomaly
}

func (s *Stats) add(o Stats) {
	s.Rows += o.Rows
	s.Anomalies = append(s.Anomalies, o.Anomalies...)
}

// Op is one insert or upsert to run inside a Flush.
type Op struct {
	table  Table
	rows   []Row
	keys   []string
	upsert bool
}

func InsertOp(t Table, rows []Row) Op {
	return Op{table: t, rows: rows}
}

// UpsertOp replaces rows matching keys. With no keys the table's own Key is used.
func UpsertOp(t Table, rows []Row, keys ...string) Op {
	if len(keys) == 0 {
		keys = t.Key
	}
	return Op{table: t, rows: rows, keys: keys, upsert: true}
}

type Writer struct {
	db        *sqlx.DB
	chunkSize int
	logger    zerolog.Logger
}

func NewWriter(db *sqlx.DB, logger zerolog.Logger) *Writer {
	return &Writer{
		db:        db,
		chunkSize: constants.DBBatchSize,
		logger:    logger,
	}
}

// WithChunkSize returns a copy of the writer that sends at most n rows per statement.
func (w *Writer) WithChunkSize(n int) *Writer {
	if n < 1 {
		n = 1
	}
	cp := *w
	cp.chunkSize = n
	return &cp
}

func (w *Writer) Insert(ctx context.Context, t Table, rows []Row) (Stats, error) {
	return w.Flush(ctx, InsertOp(t, rows))
}

func (w *Writer) Upsert(ctx context.Context, t Table, rows []Row, keys ...string) (Stats, error) {
	return w.Flush(ctx, UpsertOp(t, rows, keys...))
}

// Flush runs every op in a single transaction. Either all rows of all ops are
// committed or none are.
func (w *Writer) Flush(ctx context.Context, ops ...Op) (Stats, error) {
	var stats Stats

	total := 0
	for _, op := range ops {
		if op.upsert && len(op.keys) == 0 {
			return stats, fmt.Errorf("%w: upsert into %s without key columns", ErrInvalidTable, op.table.Name)
		}
		if err := op.table.validate(op.keys); err != nil {
			return stats, err
		}
		total += len(op.rows)
	}
	if total == 0 {
		return stats, nil
	}

	tx, err := w.db.BeginTxx(ctx, nil)
	if err != nil {
		return stats, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, op := range ops {
		s, err := w.exec(ctx, tx, op)
		if err != nil {
			return Stats{}, err
		}
		stats.add(s)
	}

	if err := tx.Commit(); err != nil {
		return Stats{}, &WriteError{Table: "commit", Err: err}
	}

	for _, a := range stats.Anomalies {
		w.logger.Warn().
			Str("table", a.Table).
			Str("column", a.Column).
			Str("kind", a.Kind.String()).
			Interface("value", a.Value).
			Err(a.Err).
			Msg("coercion anomaly, default substituted")
	}

	w.logger.Debug().
		Int("ops", len(ops)).
		Int("rows", stats.Rows).
		Int("anomalies", len(stats.Anomalies)).
		Msg("batch flushed")

	return stats, nil
}

func (w *Writer) exec(ctx context.Context, tx *sqlx.Tx, op Op) (Stats, error) {
	var stats Stats
	if len(op.rows) == 0 {
		return stats, nil
	}

	values := make([][]any, 0, len(op.rows))
	for _, row := range op.rows {
		v, anomalies := coerce.Normalize(op.table.Name, op.table.Columns, row)
		values = append(values, v)
		stats.Anomalies = append(stats.Anomalies, anomalies...)
	}
	if op.upsert {
		values = dedupe(op.table, op.keys, values)
	}

	for start := 0; start < len(values); start += w.chunkSize {
		end := min(start+w.chunkSize, len(values))
		chunk := values[start:end]

		query := tx.Rebind(buildStatement(op, len(chunk)))
		args := make([]any, 0, len(chunk)*len(op.table.Columns))
		for _, v := range chunk {
			args = append(args, v...)
		}

		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			w.logger.Error().
				Err(err).
				Str("table", op.table.Name).
				Int("chunk_start", start).
				Int("chunk_rows", len(chunk)).
				Msg("failed to write batch chunk")
			return stats, &WriteError{Table: op.table.Name, Err: err}
		}
	}

	stats.Rows = len(values)
	return stats, nil
}

// dedupe collapses rows sharing a key; the last row wins and keeps the
// position of the first occurrence.
func dedupe(t Table, keys []string, values [][]any) [][]any {
	idx := make([]int, len(keys))
	for i, k := range keys {
		idx[i] = t.index(k)
	}

	seen := make(map[string]int, len(values))
	out := make([][]any, 0, len(values))
	var sb strings.Builder
	for _, v := range values {
		sb.Reset()
		for _, i := range idx {
			fmt.Fprintf(&sb, "%v\x1f", v[i])
		}
		key := sb.String()
		if pos, ok := seen[key]; ok {
			out[pos] = v
			continue
		}
		seen[key] = len(out)
		out = append(out, v)
	}
	return out
}

func buildStatement(op Op, rows int) string {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	columns := op.table.columnNames()

	buf.WriteString("INSERT INTO ")
	buf.WriteString(op.table.Name)
	buf.WriteString(" (")
	buf.WriteString(strings.Join(columns, ", "))
	buf.WriteString(") VALUES ")

	group := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ") + ")"
	for i := 0; i < rows; i++ {
		if i > 0 {
			buf.WriteString(", ")
		}
		buf.WriteString(group)
	}

	if op.upsert {
		buf.WriteString(" ON CONFLICT (")
		buf.WriteString(strings.Join(op.keys, ", "))
		buf.WriteString(") DO ")

		var set []string
		for _, c := range columns {
			if !slices.Contains(op.keys, c) {
				set = append(set, c+" = excluded."+c)
			}
		}
		if len(set) == 0 {
			buf.WriteString("NOTHING")
		} else {
			buf.WriteString("UPDATE SET ")
			buf.WriteString(strings.Join(set, ", "))
		}
	}

	return buf.String()
}
