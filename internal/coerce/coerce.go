// Package coerce normalizes loosely typed payload values into the declared
// type of a target column.
package coerce

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

type Kind int

const (
	Text Kind = iota
	Int
	Float
	Bool
	Time
	Bytes
)

func (k Kind) String() string {
	switch k {
	case Text:
		return "text"
	case Int:
		return "int"
	case Float:
		return "float"
	case Bool:
		return "bool"
	case Time:
		return "time"
	case Bytes:
		return "bytes"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Column declares a target column. Default is used when the value is absent
// or cannot be coerced.
type Column struct {
	Name    string
	Kind    Kind
	Default any
}

var ErrUncoercible = errors.New("value cannot be coerced")

// Anomaly records a value that was replaced by its column default.
type Anomaly struct {
	Table  string
	Column string
	Kind   Kind
	Value  any
	Err    error
}

func (a Anomaly) String() string {
	return fmt.Sprintf("%s.%s: %v (%T) as %s: %v", a.Table, a.Column, a.Value, a.Value, a.Kind, a.Err)
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02",
}

// Value converts v into the Go type used for kind: string, int64, float64,
// bool, time.Time (UTC) or []byte. A nil v yields nil.
func Value(kind Kind, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch kind {
	case Text:
		return toText(v)
	case Int:
		return toInt(v)
	case Float:
		return toFloat(v)
	case Bool:
		return toBool(v)
	case Time:
		return toTime(v)
	case Bytes:
		return toBytes(v)
	}
	return nil, fmt.Errorf("%w: unknown kind %s", ErrUncoercible, kind)
}

func uncoercible(v any, kind Kind) error {
	return fmt.Errorf("%w: %v (%T) to %s", ErrUncoercible, v, v, kind)
}

func toText(v any) (any, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case json.Number:
		return t.String(), nil
	case []byte:
		return string(t), nil
	case bool:
		return strconv.FormatBool(t), nil
	case int:
		return strconv.Itoa(t), nil
	case int32:
		return strconv.FormatInt(int64(t), 10), nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	case uint64:
		return strconv.FormatUint(t, 10), nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano), nil
	case fmt.Stringer:
		return t.String(), nil
	}
	return nil, uncoercible(v, Text)
}

func floatToInt(f float64) (int64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	if f > math.MaxInt64 || f < math.MinInt64 {
		return 0, false
	}
	return int64(f), true
}

func toInt(v any) (any, error) {
	switch t := v.(type) {
	case int:
		return int64(t), nil
	case int32:
		return int64(t), nil
	case int64:
		return t, nil
	case int8:
		return int64(t), nil
	case int16:
		return int64(t), nil
	case uint8:
		return int64(t), nil
	case uint16:
		return int64(t), nil
	case uint32:
		return int64(t), nil
	case uint64:
		if t <= math.MaxInt64 {
			return int64(t), nil
		}
	case float32:
		if i, ok := floatToInt(float64(t)); ok {
			return i, nil
		}
	case float64:
		if i, ok := floatToInt(t); ok {
			return i, nil
		}
	case bool:
		if t {
			return int64(1), nil
		}
		return int64(0), nil
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i, nil
		}
		if f, err := t.Float64(); err == nil {
			if i, ok := floatToInt(f); ok {
				return i, nil
			}
		}
	case string:
		s := strings.TrimSpace(t)
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i, nil
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			if i, ok := floatToInt(f); ok {
				return i, nil
			}
		}
	}
	return nil, uncoercible(v, Int)
}

func toFloat(v any) (any, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case int:
		return float64(t), nil
	case int32:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case uint64:
		return float64(t), nil
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return f, nil
		}
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
			return f, nil
		}
	}
	return nil, uncoercible(v, Float)
}

func toBool(v any) (any, error) {
	switch t := v.(type) {
	case bool:
		return t, nil
	case string:
		if b, err := strconv.ParseBool(strings.TrimSpace(t)); err == nil {
			return b, nil
		}
	case json.Number, int, int64, uint64, float64:
		i, err := toInt(t)
		if err == nil && (i == int64(0) || i == int64(1)) {
			return i == int64(1), nil
		}
	}
	return nil, uncoercible(v, Bool)
}

func toTime(v any) (any, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case string:
		s := strings.TrimSpace(t)
		for _, layout := range timeLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts.UTC(), nil
			}
		}
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return time.Unix(i, 0).UTC(), nil
		}
	case json.Number, int, int64, uint64, float64:
		// unix seconds
		i, err := toInt(t)
		if err == nil {
			return time.Unix(i.(int64), 0).UTC(), nil
		}
	}
	return nil, uncoercible(v, Time)
}

func toBytes(v any) (any, error) {
	switch t := v.(type) {
	case []byte:
		return t, nil
	case string:
		return []byte(t), nil
	}
	return nil, uncoercible(v, Bytes)
}

// Normalize returns the row's values ordered as columns, each coerced to its
// column kind. Missing values take the column default; values that cannot be
// coerced take the default too and are reported as anomalies.
func Normalize(table string, columns []Column, row map[string]any) ([]any, []Anomaly) {
	values := make([]any, len(columns))
	var anomalies []Anomaly
	for i, col := range columns {
		raw, ok := row[col.Name]
		if !ok || raw == nil {
			values[i] = col.Default
			continue
		}
		v, err := Value(col.Kind, raw)
		if err != nil {
			anomalies = append(anomalies, Anomaly{
				Table:  table,
				Column: col.Name,
				Kind:   col.Kind,
				Value:  raw,
				Err:    err,
			})
			values[i] = col.Default
			continue
		}
		values[i] = v
	}
	return values, anomalies
}
