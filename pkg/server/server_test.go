package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notifywatch/internal/testutil"
	"notifywatch/pkg/handler"
	"notifywatch/pkg/ignore"
	"notifywatch/pkg/journal"
	"notifywatch/pkg/logger"
	"notifywatch/pkg/metrics"
	"notifywatch/pkg/pending"
	"notifywatch/pkg/router"
	"notifywatch/pkg/rules"
)

type stack struct {
	dir     string
	sink    *testutil.RecordingSink
	rules   *rules.Store
	ignore  *ignore.Registry
	pending *pending.Store
	server  *Server
	http    *httptest.Server
}

func newStack(t *testing.T, withJournal bool) *stack {
	t.Helper()
	gin.SetMode(gin.TestMode)
	dir := t.TempDir()
	log := logger.Discard()

	s := &stack{
		dir:     dir,
		sink:    &testutil.RecordingSink{},
		rules:   rules.NewStore(filepath.Join(dir, "config.json"), log),
		ignore:  ignore.NewRegistry(filepath.Join(dir, "ignore.json"), log),
		pending: pending.NewStore(filepath.Join(dir, "pending_rule.json"), log),
	}
	m := metrics.New(prometheus.NewRegistry())
	r := router.New(router.SourceHTTP, s.ignore, s.sink, log).WithMetrics(m)

	deps := handler.Deps{Rules: s.rules, Ignore: s.ignore, Pending: s.pending, Router: r, Metrics: m}
	if withJournal {
		j, err := journal.Open(filepath.Join(dir, "journal.db"), log)
		require.NoError(t, err)
		t.Cleanup(func() { _ = j.Close() })
		r.WithJournal(j)
		deps.History = j
	}

	s.server = New("127.0.0.1:0", handler.New(deps, log), m, log)
	s.http = httptest.NewServer(s.server.Handler())
	t.Cleanup(s.http.Close)
	return s
}

func (s *stack) do(t *testing.T, method, path, body string) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, s.http.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestNotifyTwiceDeliversOnce(t *testing.T) {
	s := newStack(t, false)

	code, body := s.do(t, http.MethodPost, "/notify", `{"app": "Site", "text": "price dropped"}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])

	code, body = s.do(t, http.MethodPost, "/notify", `{"app": "Site", "text": "price dropped"}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ignored", body["status"])
	assert.Equal(t, "duplicate", body["reason"])

	assert.Equal(t, []string{"[Site] price dropped"}, s.sink.Texts())
}

func TestNotifyDefaultsAndIgnoredApp(t *testing.T) {
	s := newStack(t, false)

	code, _ := s.do(t, http.MethodPost, "/notify", `{}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, []string{"[Browser] No message."}, s.sink.Texts())

	code, body := s.do(t, http.MethodPost, "/ignored_apps", `{"app": "Noisy"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["changed"])

	_, body = s.do(t, http.MethodPost, "/notify", `{"app": "Noisy", "text": "spam"}`)
	assert.Equal(t, "ignored", body["status"])
	assert.Equal(t, "ignored_app", body["reason"])
	assert.Len(t, s.sink.Messages(), 1)

	code, body = s.do(t, http.MethodPost, "/notify", `not json`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid_json", body["reason"])
}

func TestNotifyScreenshot(t *testing.T) {
	s := newStack(t, false)
	img := base64.StdEncoding.EncodeToString([]byte("jpeg-bytes"))

	payload := fmt.Sprintf(`{"app": "Site", "text": "changed", "screenshot": "data:image/jpeg;base64,%s", "rule": {"name": "Price"}}`, img)
	_, body := s.do(t, http.MethodPost, "/notify", payload)
	require.Equal(t, "ok", body["status"])

	msgs := s.sink.Messages()
	require.Len(t, msgs, 1)
	require.NotNil(t, msgs[0].Attachment)
	assert.Equal(t, "image/jpeg", msgs[0].Attachment.MIME)
	assert.Equal(t, "Price – screenshot", msgs[0].Attachment.Title)
	assert.Equal(t, []byte("jpeg-bytes"), msgs[0].Attachment.Data)

	// An undecodable screenshot does not block the notification.
	_, body = s.do(t, http.MethodPost, "/notify", `{"app": "Site", "text": "again", "screenshot": "@@@"}`)
	require.Equal(t, "ok", body["status"])
	msgs = s.sink.Messages()
	require.Len(t, msgs, 2)
	assert.Nil(t, msgs[1].Attachment)
}

func TestInvalidPendingRuleLeavesSlotEmpty(t *testing.T) {
	s := newStack(t, false)

	code, body := s.do(t, http.MethodPost, "/pending_rule", `{"selector": "", "type": "element"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "error", body["status"])
	assert.Equal(t, "invalid_rule", body["reason"])

	code, body = s.do(t, http.MethodGet, "/config", "")
	require.Equal(t, http.StatusOK, code)
	assert.Nil(t, body["pending_rule"])
	assert.Equal(t, float64(rules.SchemaVersion), body["version"])
	assert.Equal(t, []any{}, body["rules"])
	assert.Equal(t, []any{}, body["ignored_apps"])
}

func TestPendingRuleAcceptFlow(t *testing.T) {
	s := newStack(t, false)

	code, body := s.do(t, http.MethodPost, "/pending_rule", `{"type": "element_text", "text_snapshot": "Out of stock", "condition": "text_differs", "page_url": "https://shop.example.com/p/1"}`)
	require.Equal(t, http.StatusOK, code)
	firstID := body["id"].(string)

	_, body = s.do(t, http.MethodPost, "/pending_rule", `{"selector": "#price", "name": "Price"}`)
	secondID := body["id"].(string)
	require.NotEqual(t, firstID, secondID)

	_, body = s.do(t, http.MethodGet, "/config", "")
	p := body["pending_rule"].(map[string]any)
	assert.Equal(t, "Price", p["name"])
	assert.Equal(t, "pending", p["status"])
	assert.Equal(t, "extension", p["source"])

	code, body = s.do(t, http.MethodPost, "/pending_rule/accept", fmt.Sprintf(`{"id": %q}`, firstID))
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "pending_rule_changed", body["reason"])

	code, body = s.do(t, http.MethodPost, "/pending_rule/accept", fmt.Sprintf(`{"id": %q, "rule": {"selector": "#price", "name": "Edited"}}`, secondID))
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(0), body["index"])

	list := s.rules.List()
	require.Len(t, list, 1)
	assert.Equal(t, "Edited", list[0].Name)
	assert.Equal(t, rules.SourceExtension, list[0].Source)
	_, ok := s.pending.Peek()
	assert.False(t, ok)

	code, body = s.do(t, http.MethodPost, "/pending_rule/accept", "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "no_pending_rule", body["reason"])
}

func TestPendingRuleDiscard(t *testing.T) {
	s := newStack(t, false)
	s.do(t, http.MethodPost, "/pending_rule", `{"selector": "#a"}`)

	code, body := s.do(t, http.MethodDelete, "/pending_rule", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
	code, _ = s.do(t, http.MethodDelete, "/pending_rule", "")
	assert.Equal(t, http.StatusOK, code)

	_, body = s.do(t, http.MethodGet, "/config", "")
	assert.Nil(t, body["pending_rule"])
}

func TestRulesCRUD(t *testing.T) {
	s := newStack(t, false)

	code, body := s.do(t, http.MethodPost, "/rules", `{"selector": "#a", "name": "A", "condition": "text_length_gt", "text_snapshot": "abcd"}`)
	require.Equal(t, http.StatusOK, code)
	rule := body["rule"].(map[string]any)
	assert.Equal(t, "manual", rule["source"])
	assert.Equal(t, float64(4), rule["length_threshold"])

	s.do(t, http.MethodPost, "/rules", `{"selector": "#b", "name": "B"}`)

	code, _ = s.do(t, http.MethodPut, "/rules/1", `{"selector": "#b2", "name": "B2"}`)
	require.Equal(t, http.StatusOK, code)

	code, body = s.do(t, http.MethodPut, "/rules/9", `{"selector": "#x"}`)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "rule_not_found", body["reason"])

	code, body = s.do(t, http.MethodDelete, "/rules/abc", "")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid_index", body["reason"])

	code, body = s.do(t, http.MethodPost, "/rules", `{"selector": "  "}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid_rule", body["reason"])

	code, body = s.do(t, http.MethodDelete, "/rules/0", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "A", body["rule"].(map[string]any)["name"])

	_, body = s.do(t, http.MethodGet, "/rules", "")
	list := body["rules"].([]any)
	require.Len(t, list, 1)
	assert.Equal(t, "B2", list[0].(map[string]any)["name"])
}

func TestIgnoredApps(t *testing.T) {
	s := newStack(t, false)

	code, body := s.do(t, http.MethodPost, "/ignored_apps", `{"app": "   "}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid_app", body["reason"])

	s.do(t, http.MethodPost, "/ignored_apps", `{"app": "Zoom"}`)
	s.do(t, http.MethodPost, "/ignored_apps", `{"app": "Chat App"}`)
	_, body = s.do(t, http.MethodGet, "/ignored_apps", "")
	assert.Equal(t, []any{"Chat App", "Zoom"}, body["apps"])

	code, body = s.do(t, http.MethodDelete, "/ignored_apps/Chat%20App", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["changed"])
	assert.Equal(t, []any{"Zoom"}, body["apps"])
	assert.False(t, s.ignore.IsIgnored("Chat App"))
}

func TestHistory(t *testing.T) {
	s := newStack(t, true)
	s.do(t, http.MethodPost, "/notify", `{"app": "A", "text": "one"}`)
	s.do(t, http.MethodPost, "/notify", `{"app": "A", "text": "one"}`)

	code, body := s.do(t, http.MethodGet, "/history?limit=10", "")
	require.Equal(t, http.StatusOK, code)
	entries := body["entries"].([]any)
	require.Len(t, entries, 2)
	outcomes := []string{
		entries[0].(map[string]any)["outcome"].(string),
		entries[1].(map[string]any)["outcome"].(string),
	}
	assert.ElementsMatch(t, []string{"forwarded", "duplicate"}, outcomes)

	code, body = s.do(t, http.MethodGet, "/history?limit=zero", "")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid_limit", body["reason"])
}

func TestHistoryWithoutJournal(t *testing.T) {
	s := newStack(t, false)
	code, body := s.do(t, http.MethodGet, "/history", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []any{}, body["entries"])
}

func TestCORSAndHealth(t *testing.T) {
	s := newStack(t, false)

	req, err := http.NewRequest(http.MethodOptions, s.http.URL+"/notify", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	code, body := s.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	s := newStack(t, false)
	s.do(t, http.MethodPost, "/notify", `{"app": "A", "text": "m"}`)

	resp, err := http.Get(s.http.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(data), `notifywatch_router_events_total{outcome="forwarded",source="http"} 1`)
}

func TestStartAndShutdown(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s := newStack(t, false)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.server.Start(ctx))

	resp, err := http.Get("http://" + s.server.Addr() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Second)
	defer shutdownCancel()
	assert.NoError(t, s.server.Shutdown(shutdownCtx))
}
