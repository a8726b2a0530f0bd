package delivery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// DefaultNtfyServer is used when no server is configured.
const DefaultNtfyServer = "https://ntfy.sh"

// ErrTopicUnset is returned when the ntfy topic is empty.
var ErrTopicUnset = errors.New("ntfy topic not configured")

// NtfyOptions configures the ntfy sink. Token, when set, is sent as a bearer
// token for protected topics.
type NtfyOptions struct {
	Server string
	Topic  string
	Token  string
}

// Ntfy publishes to an ntfy topic: the text as one message, then the
// screenshot (if any) as a second upload.
type Ntfy struct {
	opts   NtfyOptions
	client *http.Client
	log    *slog.Logger
	now    func() time.Time
}

// NewNtfy creates an ntfy sink. A nil client gets DefaultTimeout.
func NewNtfy(opts NtfyOptions, client *http.Client, log *slog.Logger) *Ntfy {
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	if log == nil {
		log = slog.Default()
	}
	if opts.Server == "" {
		opts.Server = DefaultNtfyServer
	}
	opts.Server = strings.TrimRight(opts.Server, "/")
	return &Ntfy{opts: opts, client: client, log: log, now: time.Now}
}

func (n *Ntfy) Name() string { return MethodNtfy }

func (n *Ntfy) Deliver(ctx context.Context, msg Message) error {
	topic := strings.Trim(strings.TrimSpace(n.opts.Topic), "/")
	if topic == "" {
		return ErrTopicUnset
	}
	url := n.opts.Server + "/" + topic

	if err := send(ctx, n.client, http.MethodPost, url, strings.NewReader(msg.Text), n.header()); err != nil {
		return fmt.Errorf("ntfy publish: %w", err)
	}
	n.log.Debug("message sent via ntfy", "topic", topic, "preview", preview(msg.Text))

	if msg.Attachment == nil {
		return nil
	}
	header := n.header()
	header.Set("Filename", msg.Attachment.Filename(n.now()))
	header.Set("Content-Type", msg.Attachment.MIME)
	if msg.Attachment.Title != "" {
		header.Set("Title", msg.Attachment.Title)
	}
	if err := send(ctx, n.client, http.MethodPut, url, bytes.NewReader(msg.Attachment.Data), header); err != nil {
		return fmt.Errorf("ntfy attachment: %w", err)
	}
	n.log.Debug("screenshot sent via ntfy", "topic", topic, "bytes", len(msg.Attachment.Data))
	return nil
}

func (n *Ntfy) header() http.Header {
	header := http.Header{}
	if n.opts.Token != "" {
		header.Set("Authorization", "Bearer "+n.opts.Token)
	}
	return header
}

func preview(text string) string {
	r := []rune(text)
	if len(r) <= 30 {
		return text
	}
	return string(r[:30]) + "..."
}
