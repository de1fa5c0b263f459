package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"halo-tracker/internal/constants"
	"halo-tracker/internal/logger"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"github.com/rs/zerolog"
	"go.uber.org/fx"
)

const ConfigPathEnvVar = "CONFIG_PATH"

type Config struct {
	API      APIConfig    `koanf:"api"`
	DB       DBConfig     `koanf:"db"`
	Server   ServerConfig `koanf:"server"`
	Sync     SyncConfig   `koanf:"sync"`
	LogLevel string       `koanf:"log_level" validate:"oneof=trace debug info warn error"`
}

type APIConfig struct {
	Key               string        `koanf:"key" validate:"required"`
	BaseURL           string        `koanf:"base_url" validate:"required,url"`
	ProfileURL        string        `koanf:"profile_url" validate:"required,url"`
	RequestsPerSecond float64       `koanf:"rps" validate:"gt=0"`
	Burst             int           `koanf:"burst" validate:"gte=1"`
	Timeout           time.Duration `koanf:"timeout" validate:"gt=0"`
}

type DBConfig struct {
	Driver string `koanf:"driver" validate:"oneof=sqlite3 libsql duckdb"`
	// file path, or a libsql:// URL when Driver is libsql
	Path      string `koanf:"path" validate:"required"`
	AuthToken string `koanf:"auth_token"`
}

type ServerConfig struct {
	Port string `koanf:"port" validate:"required,numeric"`
}

type SyncConfig struct {
	PageSize   int `koanf:"page_size" validate:"gte=1,lte=25"`
	FlushSize  int `koanf:"flush_size" validate:"gte=1"`
	MaxMatches int `koanf:"max_matches" validate:"gte=0"`
}

func defaults() Config {
	return Config{
		API: APIConfig{
			BaseURL:           "https://halostats.svc.halowaypoint.com",
			ProfileURL:        "https://profile.svc.halowaypoint.com",
			RequestsPerSecond: constants.APIRequestsPerSecond,
			Burst:             constants.APIBurst,
			Timeout:           constants.ExternalAPITimeout,
		},
		DB: DBConfig{
			Driver: "sqlite3",
			Path:   "halo.db",
		},
		Server: ServerConfig{
			Port: "8080",
		},
		Sync: SyncConfig{
			PageSize:  constants.MatchHistoryPageSize,
			FlushSize: constants.SyncFlushSize,
		},
		LogLevel: "info",
	}
}

// env var name -> koanf path
var envKeys = map[string]string{
	"halo_api_key":      "api.key",
	"halo_api_base_url": "api.base_url",
	"halo_profile_url":  "api.profile_url",
	"halo_api_rps":      "api.rps",
	"halo_api_burst":    "api.burst",
	"halo_api_timeout":  "api.timeout",
	"db_driver":         "db.driver",
	"db_path":           "db.path",
	"db_auth_token":     "db.auth_token",
	"server_port":       "server.port",
	"sync_page_size":    "sync.page_size",
	"sync_flush_size":   "sync.flush_size",
	"sync_max_matches":  "sync.max_matches",
	"log_level":         "log_level",
}

func envKey(key string) string {
	return envKeys[strings.ToLower(key)]
}

func Load(log zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg(".env file not found, using environment variables or defaults")
	}

	k := koanf.New(".")
	if err := k.Load(structs.Provider(defaults(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load config defaults: %w", err)
	}

	if path := os.Getenv(ConfigPathEnvVar); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
		log.Debug().Str("path", path).Msg("config file loaded")
	}

	if err := k.Load(env.Provider("", ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if err := logger.SetLevel(cfg.LogLevel); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}

	log.Info().
		Str("db_driver", cfg.DB.Driver).
		Str("db_path", cfg.DB.Path).
		Str("server_port", cfg.Server.Port).
		Str("log_level", cfg.LogLevel).
		Int("sync_flush_size", cfg.Sync.FlushSize).
		Float64("api_rps", cfg.API.RequestsPerSecond).
		Msg("configuration loaded")

	return cfg, nil
}

var Module = fx.Provide(Load)
