package logger

import (
	"context"
	"io"
	"os"

	"github.com/rs/zerolog"
)

// InitLogger builds the process-wide console logger and installs it as the
// default context logger. An empty or unknown level falls back to info.
func InitLogger(level string, out io.Writer) *zerolog.Logger {
	if out == nil {
		out = os.Stderr
	}
	consoleWriter := zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}

	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	logger := zerolog.New(consoleWriter).
		With().
		Timestamp().
		Logger()
	zerolog.SetGlobalLevel(lvl)
	zerolog.DefaultContextLogger = &logger
	return &logger
}

func Logger(ctx context.Context) *zerolog.Logger {
	return zerolog.Ctx(ctx)
}
