package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LevelEnv names the environment variable that controls the log level.
const LevelEnv = "ERASEBG_LOG_LEVEL"

// Init initializes the global logger with the level from ERASEBG_LOG_LEVEL.
// Accepted values: debug, info, warn, error (default: info).
func Init() {
	InitWithLevel(os.Getenv(LevelEnv))
}

// InitWithLevel initializes the global logger with an explicit level. The
// console writer goes to stderr so stdout stays free for command output.
func InitWithLevel(level string) {
	zerolog.SetGlobalLevel(ParseLevel(level))
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}

// ParseLevel maps a level name to a zerolog level, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	switch level {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Discard silences the global logger. Used by tests that exercise noisy paths.
func Discard() {
	log.Logger = zerolog.New(io.Discard)
}
