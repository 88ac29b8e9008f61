package reactor

import (
	"log/slog"
	"os"

	"github.com/joeycumines/logiface"
	logifaceslog "github.com/joeycumines/logiface-slog"
)

// Logger is the structured logging surface used by the Reactor. It is
// satisfied directly by *logiface.Logger[*logifaceslog.Event], the concrete
// type WithLogger takes; no other package in this module accepts a logger.
type Logger interface {
	Debug() *logiface.Builder[*logifaceslog.Event]
	Info() *logiface.Builder[*logifaceslog.Event]
	Warning() *logiface.Builder[*logifaceslog.Event]
	Err() *logiface.Builder[*logifaceslog.Event]
}

// NewSlogLogger builds the default Logger implementation, wiring logiface
// to a log/slog handler.
func NewSlogLogger(handler slog.Handler) *logiface.Logger[*logifaceslog.Event] {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, nil)
	}
	return logiface.New[*logifaceslog.Event](
		logifaceslog.WithSlogHandler(handler),
		logiface.WithLevel[*logifaceslog.Event](logiface.LevelTrace),
	)
}

// discardLogger is used when the caller supplies no Logger via WithLogger,
// so the Reactor never has to nil-check before logging.
func discardLogger() *logiface.Logger[*logifaceslog.Event] {
	return logiface.New[*logifaceslog.Event](
		logifaceslog.WithSlogHandler(slog.NewTextHandler(discardWriter{}, nil)),
		logiface.WithLevel[*logifaceslog.Event](logiface.LevelEmergency),
	)
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }
