package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"strings"

	"halo-tracker/internal/config"
	"halo-tracker/internal/constants"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"
	_ "github.com/tursodatabase/libsql-client-go/libsql"
	"go.uber.org/fx"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

const (
	DriverSQLite = "sqlite3"
	DriverLibSQL = "libsql"
	DriverDuckDB = "duckdb"

	memoryPath = ":memory:"
)

func New(cfg *config.Config, logger zerolog.Logger) (*sqlx.DB, error) {
	driver := cfg.DB.Driver
	if driver == "" {
		driver = DriverSQLite
	}
	logger.Info().Str("driver", driver).Str("path", cfg.DB.Path).Msg("connecting to database")

	dsn, err := dataSource(driver, cfg.DB)
	if err != nil {
		return nil, err
	}

	sqlDB, err := sql.Open(driver, dsn)
	if err != nil {
		logger.Error().Err(err).Msg("failed to connect to database")
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), constants.DatabaseTimeout)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if cfg.DB.Path == memoryPath {
		// every sqlite connection to :memory: is a separate database
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(constants.DBMaxOpenConns)
		sqlDB.SetMaxIdleConns(constants.DBMaxIdleConns)
		sqlDB.SetConnMaxLifetime(constants.DBConnMaxLifetime)
		sqlDB.SetConnMaxIdleTime(constants.DBMaxIdleTime)
	}

	if driver == DriverSQLite {
		if err := optimizeSQLite(sqlDB, logger); err != nil {
			sqlDB.Close()
			logger.Error().Err(err).Msg("failed to optimize SQLite")
			return nil, fmt.Errorf("failed to optimize SQLite: %w", err)
		}
	}

	if err := runMigrations(ctx, sqlDB, driver, logger); err != nil {
		sqlDB.Close()
		logger.Error().Err(err).Msg("failed to run migrations")
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logger.Info().Str("driver", driver).Msg("database connection established")
	return sqlx.NewDb(sqlDB, driver), nil
}

func dataSource(driver string, cfg config.DBConfig) (string, error) {
	switch driver {
	case DriverSQLite:
		return cfg.Path, nil
	case DriverDuckDB:
		if cfg.Path == memoryPath {
			return "", nil
		}
		return cfg.Path, nil
	case DriverLibSQL:
		if strings.Contains(cfg.Path, "://") {
			if cfg.AuthToken == "" {
				return cfg.Path, nil
			}
			return cfg.Path + "?authToken=" + cfg.AuthToken, nil
		}
		return "file:" + cfg.Path, nil
	}
	return "", fmt.Errorf("unsupported database driver %q", driver)
}

func runMigrations(ctx context.Context, db *sql.DB, driver string, logger zerolog.Logger) error {
	fsys, err := fs.Sub(embedMigrations, "migrations")
	if err != nil {
		return fmt.Errorf("failed to open migrations: %w", err)
	}

	var provider *goose.Provider
	if driver == DriverDuckDB {
		provider, err = goose.NewProvider("", db, fsys, goose.WithStore(newDuckStore()))
	} else {
		provider, err = goose.NewProvider(goose.DialectSQLite3, db, fsys)
	}
	if err != nil {
		return fmt.Errorf("failed to create goose provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("failed to run goose migrations: %w", err)
	}
	for _, r := range results {
		logger.Info().
			Int64("version", r.Source.Version).
			Str("source", r.Source.Path).
			Dur("duration", r.Duration).
			Msg("migration applied")
	}

	logger.Info().Int("applied", len(results)).Msg("migrations completed successfully")
	return nil
}

func optimizeSQLite(sqlDB *sql.DB, logger zerolog.Logger) error {
	pragmas := []struct {
		name  string
		value string
	}{
		{"journal_mode", "WAL"},
		{"synchronous", "NORMAL"},
		{"cache_size", "-64000"},
		{"busy_timeout", "5000"},
		{"temp_store", "MEMORY"},
	}

	for _, pragma := range pragmas {
		query := fmt.Sprintf("PRAGMA %s = %s", pragma.name, pragma.value)
		if _, err := sqlDB.Exec(query); err != nil {
			logger.Warn().
				Err(err).
				Str("pragma", pragma.name).
				Str("value", pragma.value).
				Msg("failed to set pragma")
			return fmt.Errorf("failed to set PRAGMA %s: %w", pragma.name, err)
		}
		logger.Debug().
			Str("pragma", pragma.name).
			Str("value", pragma.value).
			Msg("SQLite pragma set")
	}

	return nil
}

// Register closes the handle when the fx app stops.
func Register(lc fx.Lifecycle, db *sqlx.DB, logger zerolog.Logger) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			if err := db.Close(); err != nil {
				logger.Warn().Err(err).Msg("error closing database connection")
				return err
			}
			logger.Info().Msg("database connection closed")
			return nil
		},
	})
}

var Module = fx.Options(
	fx.Provide(New),
	fx.Invoke(Register),
)
