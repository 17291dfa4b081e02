package di

import (
	"io"
	"os"
	"time"

	"github.com/goliatone/go-flatwhite/cache"
	"github.com/rs/zerolog"
)

// NewLogger builds the root logger from the configured level and format,
// writing to stderr.
func NewLogger(config cache.Config) (zerolog.Logger, error) {
	return newLogger(os.Stderr, config)
}

func newLogger(w io.Writer, config cache.Config) (zerolog.Logger, error) {
	level := zerolog.InfoLevel
	if config.LogLevel != "" {
		parsed, err := zerolog.ParseLevel(config.LogLevel)
		if err != nil {
			return zerolog.Nop(), cache.WrapConfigurationError(err, cache.TextCodeInvalidConfig, "parse log level")
		}
		level = parsed
	}

	if config.LogFormat == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Str("service", "flatwhite").Logger(), nil
}
