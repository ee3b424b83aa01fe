package middleware

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Grant-Huang/inkpath/pkg/hash"
)

// Logger is the package-level zerolog logger used throughout the application.
var Logger zerolog.Logger

// InitLogger sets up the global zerolog logger with structured JSON output.
// Level is parsed from the given string (e.g. "debug", "info", "warn", "error").
func InitLogger(level, service string) zerolog.Logger {
	return initLogger(os.Stdout, level, service)
}

func initLogger(w io.Writer, level, service string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.DurationFieldUnit = time.Millisecond
	zerolog.DurationFieldInteger = true

	Logger = zerolog.New(w).With().
		Timestamp().
		Str("service", service).
		Logger()
	return Logger
}

const maxLoggedPath = 128

// sanitizePath replaces id segments with a placeholder and caps the length
// so probes against unknown paths cannot flood the logs.
func sanitizePath(path string) string {
	parts := strings.Split(path, "/")
	for i, p := range parts {
		if _, err := uuid.Parse(p); err == nil {
			parts[i] = ":id"
		}
	}
	out := strings.Join(parts, "/")
	if len(out) > maxLoggedPath {
		out = out[:maxLoggedPath] + "..."
	}
	return out
}

// NewRequestLogger returns a Fiber middleware that logs each request as
// structured JSON. Raw client IPs are never written, only a hash prefix.
func NewRequestLogger() fiber.Handler {
	return func(c fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		duration := time.Since(start)
		status := c.Response().StatusCode()

		evt := Logger.Info()
		if status >= 500 {
			evt = Logger.Error()
		} else if status >= 400 {
			evt = Logger.Warn()
		}

		evt.
			Str("method", c.Method()).
			Str("path", sanitizePath(c.Path())).
			Int("status", status).
			Dur("duration_ms", duration).
			Str("ip_hash", hash.Prefix(c.IP(), 12)).
			Int("bytes_sent", len(c.Response().Body())).
			Msg("request")

		return err
	}
}
