package app

import (
	"os"

	"github.com/rs/zerolog"
)

// InitLogger builds the root logger. Every log line carries the application name.
func InitLogger(levelStr string, appName string) zerolog.Logger {
	// Set global log level
	level, err := zerolog.ParseLevel(levelStr)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	// Add color and formatting
	output := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		NoColor:    false,
		TimeFormat: "2006-01-02 15:04:05",
	}

	return zerolog.New(output).With().
		Timestamp().
		Str("app", appName).
		Logger()
}
