package logger

import (
	"os"

	"github.com/rs/zerolog"
	"go.uber.org/fx"
)

const serviceName = "halo-tracker"

// New logs every level; SetLevel filters globally once config is loaded.
func New() zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	return zerolog.New(os.Stdout).
		Level(zerolog.TraceLevel).
		With().
		Timestamp().
		Caller().
		Str("service", serviceName).
		Logger()
}

func SetLevel(level string) error {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return err
	}
	zerolog.SetGlobalLevel(lvl)
	return nil
}

var Module = fx.Provide(New)
