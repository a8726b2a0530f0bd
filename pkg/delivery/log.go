package delivery

import (
	"context"
	"log/slog"
)

// Log only writes messages to the logger. It is useful without a push service.
type Log struct {
	log *slog.Logger
}

func NewLog(log *slog.Logger) *Log {
	if log == nil {
		log = slog.Default()
	}
	return &Log{log: log}
}

func (l *Log) Name() string { return MethodLog }

func (l *Log) Deliver(_ context.Context, msg Message) error {
	attrs := []any{"text", msg.Text}
	if msg.Attachment != nil {
		attrs = append(attrs, "attachment_bytes", len(msg.Attachment.Data), "attachment_title", msg.Attachment.Title)
	}
	l.log.Info("notification", attrs...)
	return nil
}
