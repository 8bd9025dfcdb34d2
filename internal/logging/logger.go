// Package logging wraps zerolog behind a small interface so the rest of
// the engine depends on a contract, not a concrete logging library.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the structured logging contract used throughout the engine.
type Logger interface {
	Debug(msg string)
	Debugf(format string, args ...any)
	Info(msg string)
	Infof(format string, args ...any)
	Warn(msg string)
	Warnf(format string, args ...any)
	Error(err error, msg string)
	Errorf(err error, format string, args ...any)
	Fatal(err error, msg string)
	With(key string, value any) Logger
}

type zeroLogger struct {
	log zerolog.Logger
}

// New builds a Logger. Pretty console output in development, JSON in
// every other environment.
func New(env string) Logger {
	var out io.Writer = os.Stdout
	if env == "development" {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}
	l := zerolog.New(out).With().Timestamp().Logger()
	return &zeroLogger{log: l}
}

func (z *zeroLogger) Debug(msg string) { z.log.Debug().Msg(msg) }
func (z *zeroLogger) Debugf(format string, args ...any) {
	z.log.Debug().Msgf(format, args...)
}
func (z *zeroLogger) Info(msg string) { z.log.Info().Msg(msg) }
func (z *zeroLogger) Infof(format string, args ...any) {
	z.log.Info().Msgf(format, args...)
}
func (z *zeroLogger) Warn(msg string) { z.log.Warn().Msg(msg) }
func (z *zeroLogger) Warnf(format string, args ...any) {
	z.log.Warn().Msgf(format, args...)
}
func (z *zeroLogger) Error(err error, msg string) {
	z.log.Error().Err(err).Msg(msg)
}
func (z *zeroLogger) Errorf(err error, format string, args ...any) {
	z.log.Error().Err(err).Msgf(format, args...)
}
func (z *zeroLogger) Fatal(err error, msg string) {
	z.log.Fatal().Err(err).Msg(msg)
}
func (z *zeroLogger) With(key string, value any) Logger {
	return &zeroLogger{log: z.log.With().Interface(key, value).Logger()}
}
