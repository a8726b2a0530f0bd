// Package client talks to a running notifywatch daemon over its HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"notifywatch/pkg/journal"
	"notifywatch/pkg/pending"
	"notifywatch/pkg/rules"
)

const defaultTimeout = 15 * time.Second

// APIError is a non-2xx answer from the daemon.
type APIError struct {
	Status int
	Reason string
}

func (e *APIError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("server returned %d", e.Status)
	}
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Reason)
}

// Reason extracts the daemon's error reason from err, if any.
func Reason(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Reason
	}
	return ""
}

// Snapshot is the body of GET /config.
type Snapshot struct {
	Version     int                  `json:"version"`
	Rules       []rules.Rule         `json:"rules"`
	IgnoredApps []string             `json:"ignored_apps"`
	PendingRule *pending.PendingRule `json:"pending_rule"`
}

// Client calls the daemon at a base URL such as http://127.0.0.1:3000.
type Client struct {
	base string
	http *http.Client
}

func New(base string) *Client {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &Client{base: base, http: &http.Client{Timeout: defaultTimeout}}
}

func (c *Client) Config(ctx context.Context) (Snapshot, error) {
	var out Snapshot
	err := c.call(ctx, http.MethodGet, "/config", nil, &out)
	return out, err
}

// Pending returns the proposal awaiting a decision.
func (c *Client) Pending(ctx context.Context) (pending.PendingRule, bool, error) {
	snap, err := c.Config(ctx)
	if err != nil || snap.PendingRule == nil {
		return pending.PendingRule{}, false, err
	}
	return *snap.PendingRule, true, nil
}

// Accept commits the pending rule. A non-empty id guards against accepting
// a proposal that was replaced; edited, when non-nil, replaces the rule body.
func (c *Client) Accept(ctx context.Context, id string, edited map[string]any) (rules.Rule, error) {
	req := map[string]any{}
	if id != "" {
		req["id"] = id
	}
	if edited != nil {
		req["rule"] = edited
	}
	var out struct {
		Rule rules.Rule `json:"rule"`
	}
	err := c.call(ctx, http.MethodPost, "/pending_rule/accept", req, &out)
	return out.Rule, err
}

func (c *Client) Discard(ctx context.Context) error {
	return c.call(ctx, http.MethodDelete, "/pending_rule", nil, nil)
}

func (c *Client) IgnoredApps(ctx context.Context) ([]string, error) {
	var out struct {
		Apps []string `json:"apps"`
	}
	err := c.call(ctx, http.MethodGet, "/ignored_apps", nil, &out)
	return out.Apps, err
}

func (c *Client) Ignore(ctx context.Context, app string) (bool, error) {
	var out struct {
		Changed bool `json:"changed"`
	}
	err := c.call(ctx, http.MethodPost, "/ignored_apps", map[string]string{"app": app}, &out)
	return out.Changed, err
}

func (c *Client) Unignore(ctx context.Context, app string) (bool, error) {
	var out struct {
		Changed bool `json:"changed"`
	}
	err := c.call(ctx, http.MethodDelete, "/ignored_apps/"+url.PathEscape(app), nil, &out)
	return out.Changed, err
}

func (c *Client) Rules(ctx context.Context) ([]rules.Rule, error) {
	var out struct {
		Rules []rules.Rule `json:"rules"`
	}
	err := c.call(ctx, http.MethodGet, "/rules", nil, &out)
	return out.Rules, err
}

// AddRule sends a loose rule payload; the daemon sanitizes it.
func (c *Client) AddRule(ctx context.Context, payload map[string]any) (int, rules.Rule, error) {
	var out struct {
		Index int        `json:"index"`
		Rule  rules.Rule `json:"rule"`
	}
	err := c.call(ctx, http.MethodPost, "/rules", payload, &out)
	return out.Index, out.Rule, err
}

func (c *Client) RemoveRule(ctx context.Context, index int) (rules.Rule, error) {
	var out struct {
		Rule rules.Rule `json:"rule"`
	}
	err := c.call(ctx, http.MethodDelete, "/rules/"+strconv.Itoa(index), nil, &out)
	return out.Rule, err
}

func (c *Client) History(ctx context.Context, limit int) ([]journal.Entry, error) {
	var out struct {
		Entries []journal.Entry `json:"entries"`
	}
	path := "/history"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	err := c.call(ctx, http.MethodGet, path, nil, &out)
	return out.Entries, err
}

func (c *Client) call(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Default().Warn("failed to close response body", "error", err)
		}
	}()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		var failure struct {
			Reason string `json:"reason"`
		}
		_ = json.Unmarshal(data, &failure)
		return &APIError{Status: resp.StatusCode, Reason: failure.Reason}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
