package delivery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"
)

// DefaultTelegramAPI is the Bot API base URL.
const DefaultTelegramAPI = "https://api.telegram.org"

// ErrNotConfigured is returned when the bot token or chat id is missing.
var ErrNotConfigured = errors.New("telegram bot token or chat id not configured")

// TelegramOptions configures the Telegram sink. APIURL overrides the Bot API
// base for self-hosted servers and tests.
type TelegramOptions struct {
	BotToken string
	ChatID   string
	APIURL   string
}

// Telegram sends messages through the Telegram Bot API.
type Telegram struct {
	opts   TelegramOptions
	client *http.Client
	log    *slog.Logger
	now    func() time.Time
}

// NewTelegram creates a Telegram sink. A nil client gets DefaultTimeout.
func NewTelegram(opts TelegramOptions, client *http.Client, log *slog.Logger) *Telegram {
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	if log == nil {
		log = slog.Default()
	}
	if opts.APIURL == "" {
		opts.APIURL = DefaultTelegramAPI
	}
	opts.APIURL = strings.TrimRight(opts.APIURL, "/")
	return &Telegram{opts: opts, client: client, log: log, now: time.Now}
}

func (t *Telegram) Name() string { return MethodTelegram }

func (t *Telegram) Deliver(ctx context.Context, msg Message) error {
	if t.opts.BotToken == "" || t.opts.ChatID == "" {
		return ErrNotConfigured
	}

	form := url.Values{}
	form.Set("chat_id", t.opts.ChatID)
	form.Set("text", msg.Text)
	header := http.Header{}
	header.Set("Content-Type", "application/x-www-form-urlencoded")
	if err := send(ctx, t.client, http.MethodPost, t.endpoint("sendMessage"), strings.NewReader(form.Encode()), header); err != nil {
		return fmt.Errorf("telegram sendMessage: %w", t.redact(err))
	}
	t.log.Debug("message sent via telegram", "preview", preview(msg.Text))

	if msg.Attachment == nil {
		return nil
	}
	body, contentType, err := t.photoForm(msg.Attachment)
	if err != nil {
		return fmt.Errorf("telegram sendPhoto: %w", err)
	}
	header = http.Header{}
	header.Set("Content-Type", contentType)
	if err := send(ctx, t.client, http.MethodPost, t.endpoint("sendPhoto"), body, header); err != nil {
		return fmt.Errorf("telegram sendPhoto: %w", t.redact(err))
	}
	return nil
}

func (t *Telegram) endpoint(method string) string {
	return t.opts.APIURL + "/bot" + t.opts.BotToken + "/" + method
}

// redact hides the bot token, which is part of every request URL.
func (t *Telegram) redact(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		urlErr.URL = strings.ReplaceAll(urlErr.URL, t.opts.BotToken, "<token>")
	}
	return err
}

func (t *Telegram) photoForm(a *Attachment) (*bytes.Buffer, string, error) {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	if err := w.WriteField("chat_id", t.opts.ChatID); err != nil {
		return nil, "", err
	}
	if a.Title != "" {
		if err := w.WriteField("caption", a.Title); err != nil {
			return nil, "", err
		}
	}

	part := textproto.MIMEHeader{}
	part.Set("Content-Disposition", fmt.Sprintf(`form-data; name="photo"; filename=%q`, a.Filename(t.now())))
	part.Set("Content-Type", a.MIME)
	fw, err := w.CreatePart(part)
	if err != nil {
		return nil, "", err
	}
	if _, err := fw.Write(a.Data); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf, w.FormDataContentType(), nil
}
