package logging

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"
)

// Init configures the global zerolog logger. Development uses the console
// writer; everything else logs JSON with caller info. The configured logger
// also becomes the fallback for zerolog.Ctx on contexts without one.
func Init(service, env, level string) zerolog.Logger {
	return InitWriter(os.Stdout, service, env, level)
}

func InitWriter(out io.Writer, service, env, level string) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	if env == "dev" || env == "development" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
		}).With().
			Timestamp().
			Str("service", service).
			Logger()
	} else {
		log.Logger = zerolog.New(out).
			With().
			Timestamp().
			Caller().
			Str("service", service).
			Logger()
	}

	zerolog.DefaultContextLogger = &log.Logger
	return log.Logger
}

// WithTrace returns ctx's logger enriched with the active span ids.
func WithTrace(ctx context.Context) zerolog.Logger {
	logger := *zerolog.Ctx(ctx)

	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		logger = logger.With().
			Str("trace_id", span.SpanContext().TraceID().String()).
			Str("span_id", span.SpanContext().SpanID().String()).
			Logger()
	}
	return logger
}
