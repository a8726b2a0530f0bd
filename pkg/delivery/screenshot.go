package delivery

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	defaultImageMIME = "image/png"
	maxTitleRunes    = 120
	titleSuffix      = " – screenshot"
)

// ErrEmptyScreenshot is returned when the payload decodes to zero bytes.
var ErrEmptyScreenshot = errors.New("empty screenshot")

// Attachment is an image sent alongside a message.
type Attachment struct {
	Data  []byte
	MIME  string
	Title string
}

// Filename names the upload after the delivery time in milliseconds.
func (a *Attachment) Filename(at time.Time) string {
	ext := "png"
	if strings.HasSuffix(a.MIME, "/jpeg") || strings.HasSuffix(a.MIME, "/jpg") {
		ext = "jpg"
	}
	return fmt.Sprintf("screenshot-%d.%s", at.UnixMilli(), ext)
}

// DecodeScreenshot accepts a data URI ("data:image/jpeg;base64,...") or bare
// base64 and returns the image bytes. The MIME type defaults to image/png.
func DecodeScreenshot(raw string) (*Attachment, error) {
	raw = strings.TrimSpace(raw)
	mime := defaultImageMIME
	if strings.HasPrefix(raw, "data:image") {
		header, body, ok := strings.Cut(raw, ",")
		if !ok {
			return nil, fmt.Errorf("decode screenshot: data uri without payload")
		}
		meta := strings.TrimPrefix(header, "data:")
		if kind, _, _ := strings.Cut(meta, ";"); kind != "" {
			mime = kind
		}
		raw = body
	}

	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(raw)
	}
	if err != nil {
		return nil, fmt.Errorf("decode screenshot: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrEmptyScreenshot
	}
	return &Attachment{Data: data, MIME: mime}, nil
}

// ScreenshotTitle labels an attachment after the rule that produced it.
// An empty rule name yields no title.
func ScreenshotTitle(ruleName string) string {
	ruleName = strings.TrimSpace(ruleName)
	if ruleName == "" {
		return ""
	}
	title := ruleName + titleSuffix
	if utf8.RuneCountInString(title) <= maxTitleRunes {
		return title
	}
	return string([]rune(title)[:maxTitleRunes])
}
