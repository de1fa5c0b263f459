package batch

import (
	"errors"
	"fmt"
	"slices"

	"halo-tracker/internal/coerce"
)

// Row is the single normalized record shape shared by transformers,
// the sync engine and the writer.
type Row map[string]any

// Table describes a target table: its columns in insert order, and the
// natural key used for upserts when the caller does not pass one.
type Table struct {
	Name    string
	Columns []coerce.Column
	Key     []string
}

var ErrInvalidTable = errors.New("invalid table definition")

func (t Table) columnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

func (t Table) index(column string) int {
	return slices.IndexFunc(t.Columns, func(c coerce.Column) bool { return c.Name == column })
}

func (t Table) validate(keys []string) error {
	if t.Name == "" || len(t.Columns) == 0 {
		return fmt.Errorf("%w: table %q has no columns", ErrInvalidTable, t.Name)
	}
	for _, k := range keys {
		if t.index(k) < 0 {
			return fmt.Errorf("%w: key column %q not in table %s", ErrInvalidTable, k, t.Name)
		}
	}
	return nil
}
