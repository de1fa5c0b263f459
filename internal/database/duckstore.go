package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	goosedb "github.com/pressly/goose/v3/database"
)

const gooseVersionTable = "goose_db_version"

// duckStore keeps goose's version table on DuckDB, which goose has no
// built-in dialect for.
type duckStore struct {
	table string
}

var (
	_ goosedb.Store         = (*duckStore)(nil)
	_ goosedb.StoreExtender = (*duckStore)(nil)
)

func newDuckStore() *duckStore {
	return &duckStore{table: gooseVersionTable}
}

func (s *duckStore) Tablename() string {
	return s.table
}

func (s *duckStore) CreateVersionTable(ctx context.Context, db goosedb.DBTxConn) error {
	stmts := []string{
		fmt.Sprintf("CREATE SEQUENCE IF NOT EXISTS %s_id_seq START 1", s.table),
		fmt.Sprintf(`CREATE TABLE %[1]s (
			id BIGINT PRIMARY KEY DEFAULT nextval('%[1]s_id_seq'),
			version_id BIGINT NOT NULL,
			is_applied BOOLEAN NOT NULL,
			tstamp TIMESTAMP DEFAULT current_timestamp
		)`, s.table),
	}
	for _, q := range stmts {
		if _, err := db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("failed to create version table: %w", err)
		}
	}
	return nil
}

func (s *duckStore) Insert(ctx context.Context, db goosedb.DBTxConn, req goosedb.InsertRequest) error {
	q := fmt.Sprintf("INSERT INTO %s (version_id, is_applied) VALUES (?, TRUE)", s.table)
	if _, err := db.ExecContext(ctx, q, req.Version); err != nil {
		return fmt.Errorf("failed to insert version %d: %w", req.Version, err)
	}
	return nil
}

func (s *duckStore) Delete(ctx context.Context, db goosedb.DBTxConn, version int64) error {
	q := fmt.Sprintf("DELETE FROM %s WHERE version_id = ?", s.table)
	if _, err := db.ExecContext(ctx, q, version); err != nil {
		return fmt.Errorf("failed to delete version %d: %w", version, err)
	}
	return nil
}

func (s *duckStore) GetMigration(ctx context.Context, db goosedb.DBTxConn, version int64) (*goosedb.GetMigrationResult, error) {
	q := fmt.Sprintf("SELECT tstamp, is_applied FROM %s WHERE version_id = ? ORDER BY id DESC LIMIT 1", s.table)
	var result goosedb.GetMigrationResult
	err := db.QueryRowContext(ctx, q, version).Scan(&result.Timestamp, &result.IsApplied)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("version %d: %w", version, goosedb.ErrVersionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get version %d: %w", version, err)
	}
	return &result, nil
}

func (s *duckStore) GetLatestVersion(ctx context.Context, db goosedb.DBTxConn) (int64, error) {
	q := fmt.Sprintf("SELECT max(version_id) FROM %s", s.table)
	var latest sql.NullInt64
	if err := db.QueryRowContext(ctx, q).Scan(&latest); err != nil {
		return -1, fmt.Errorf("failed to get latest version: %w", err)
	}
	if !latest.Valid {
		return -1, fmt.Errorf("latest %w", goosedb.ErrVersionNotFound)
	}
	return latest.Int64, nil
}

func (s *duckStore) ListMigrations(ctx context.Context, db goosedb.DBTxConn) ([]*goosedb.ListMigrationsResult, error) {
	q := fmt.Sprintf("SELECT version_id, is_applied FROM %s ORDER BY id DESC", s.table)
	rows, err := db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to list migrations: %w", err)
	}
	defer rows.Close()

	var migrations []*goosedb.ListMigrationsResult
	for rows.Next() {
		var m goosedb.ListMigrationsResult
		if err := rows.Scan(&m.Version, &m.IsApplied); err != nil {
			return nil, fmt.Errorf("failed to scan migration: %w", err)
		}
		migrations = append(migrations, &m)
	}
	return migrations, rows.Err()
}

func (s *duckStore) TableExists(ctx context.Context, db goosedb.DBTxConn) (bool, error) {
	var n int
	err := db.QueryRowContext(ctx,
		"SELECT count(*) FROM information_schema.tables WHERE table_name = ?", s.table,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check version table: %w", err)
	}
	return n > 0, nil
}
