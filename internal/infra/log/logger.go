package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger создаёт настроенный zerolog. Журнал пишется в stderr,
// stdout остаётся за выводом команд CLI.
func NewLogger(appEnv string) zerolog.Logger {
	return newLogger(appEnv, os.Stderr)
}

func newLogger(appEnv string, w io.Writer) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	level := zerolog.InfoLevel
	if appEnv == "dev" {
		level = zerolog.DebugLevel
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05", NoColor: true}
	}
	return zerolog.New(w).With().Timestamp().Logger().Level(level)
}
