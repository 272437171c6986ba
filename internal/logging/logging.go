// Package logging sets up kratos-ai's global zerolog logger.
package logging

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init configures the global zerolog logger at the given level. pretty
// selects a human-readable console writer (for local runs); otherwise
// logs are newline-delimited JSON, suitable for a log collector.
func Init(level zerolog.Level, pretty bool) {
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	if pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
		return
	}
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
}
