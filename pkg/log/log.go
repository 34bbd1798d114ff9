// Package log provides the structured zerolog logger shared by the
// Captain and the Sailor: a package-level global Logger configured once
// at startup via Init, and a set of child-logger helpers that stamp the
// fields this codebase actually keys its log lines on — component,
// sailor, chore_id, request_id.
package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the process-wide logger. Every With* helper derives a child
// from it rather than holding its own state, so a call to Init after
// startup (e.g. in a test) takes effect for loggers obtained afterward.
var Logger zerolog.Logger

// Level is the configured minimum severity.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

func (l Level) zerolog() zerolog.Level {
	switch l {
	case DebugLevel:
		return zerolog.DebugLevel
	case WarnLevel:
		return zerolog.WarnLevel
	case ErrorLevel:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Config holds the --log-level/--log-json flags both cmd/captain and
// cmd/sailor expose.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer // defaults to os.Stdout
}

// Init sets the global level and (re)builds Logger: JSON for production
// log shipping, a timestamped console writer otherwise (local runs,
// godog scenarios).
func Init(cfg Config) {
	zerolog.SetGlobalLevel(cfg.Level.zerolog())

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	if cfg.JSONOutput {
		Logger = zerolog.New(output).With().Timestamp().Logger()
		return
	}
	Logger = zerolog.New(zerolog.ConsoleWriter{
		Out:        output,
		TimeFormat: time.RFC3339,
	}).With().Timestamp().Logger()
}

// WithComponent scopes a logger to one background loop or subsystem
// (scheduler, reconciler, api, captain, sailor).
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithSailor scopes a logger to one crew member, for dispatch, heartbeat,
// and cancellation log lines.
func WithSailor(name string) zerolog.Logger {
	return Logger.With().Str("sailor", name).Logger()
}

// WithChore scopes a logger to one chore_id, for the submit -> assign ->
// dispatch -> report lifecycle.
func WithChore(choreID string) zerolog.Logger {
	return Logger.With().Str("chore_id", choreID).Logger()
}

// WithRequestID scopes a logger to the inbound HTTP correlation ID
// pkg/api's withRequestID middleware attaches to each request, so a
// single call's logs (including any async cancel notification it
// triggers) can be grepped out as one request_id.
func WithRequestID(id string) zerolog.Logger {
	return Logger.With().Str("request_id", id).Logger()
}
