// Package delivery sends forwarded notifications to a push service.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// DefaultTimeout bounds every outbound request; deliveries are never retried.
const DefaultTimeout = 10 * time.Second

// Delivery methods accepted in configuration.
const (
	MethodNtfy     = "ntfy"
	MethodTelegram = "telegram"
	MethodLog      = "log"
)

// ErrUnknownMethod is returned by New for an unsupported delivery method.
var ErrUnknownMethod = errors.New("unknown delivery method")

// Message is one outbound notification.
type Message struct {
	Text       string
	Attachment *Attachment
}

// Sink delivers messages. Implementations must be safe for concurrent use.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, msg Message) error
}

// Options selects and configures the sink built by New.
type Options struct {
	Method   string
	Ntfy     NtfyOptions
	Telegram TelegramOptions
	Timeout  time.Duration
}

// New builds the sink named by opts.Method.
func New(opts Options, log *slog.Logger) (Sink, error) {
	if log == nil {
		log = slog.Default()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	client := &http.Client{Timeout: timeout}

	switch strings.ToLower(strings.TrimSpace(opts.Method)) {
	case MethodNtfy, "":
		return NewNtfy(opts.Ntfy, client, log), nil
	case MethodTelegram:
		return NewTelegram(opts.Telegram, client, log), nil
	case MethodLog:
		return NewLog(log), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, opts.Method)
	}
}
