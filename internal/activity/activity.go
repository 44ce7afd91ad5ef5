package activity

import (
	"context"
	"time"

	"loghold/internal/logger"
)

// Activity is one human-readable operational audit record.
type Activity struct {
	Message string
	Caller  string
	Time    time.Time
}

func New(message, caller string) Activity {
	return Activity{
		Message: message,
		Caller:  caller,
		Time:    time.Now().UTC(),
	}
}

// Writer is the audit sink collaborator. Writes are fire-and-forget: a lost
// activity record never fails the operation that produced it.
type Writer interface {
	Write(ctx context.Context, a Activity)
}

// LogWriter sends activities to the service log. Used as a fallback when no
// document store is configured, and in tests.
type LogWriter struct {
	log logger.Logger
}

func NewLogWriter(log logger.Logger) *LogWriter {
	return &LogWriter{log: log}
}

func (w *LogWriter) Write(ctx context.Context, a Activity) {
	w.log.InfowCtx(ctx, "Activity",
		"activity", a.Message,
		"caller", a.Caller,
	)
}
