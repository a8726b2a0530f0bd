// Package handler implements the HTTP API used by the browser extension and
// by operator tools.
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"

	"notifywatch/pkg/delivery"
	"notifywatch/pkg/ignore"
	"notifywatch/pkg/journal"
	"notifywatch/pkg/metrics"
	"notifywatch/pkg/pending"
	"notifywatch/pkg/router"
	"notifywatch/pkg/rules"
	"notifywatch/pkg/version"
)

const (
	// DefaultApp names notifications posted without an app.
	DefaultApp = "Browser"
	// DefaultText is used when a notification has no text.
	DefaultText = "No message."

	statusOK      = "ok"
	statusIgnored = "ignored"
	statusError   = "error"
)

// Error reasons returned in {"status": "error", "reason": ...}.
const (
	ReasonInvalidJSON    = "invalid_json"
	ReasonInvalidRule    = "invalid_rule"
	ReasonInvalidApp     = "invalid_app"
	ReasonInvalidIndex   = "invalid_index"
	ReasonRuleNotFound   = "rule_not_found"
	ReasonNoPendingRule  = "no_pending_rule"
	ReasonPendingChanged = "pending_rule_changed"
	ReasonStorage        = "storage_error"
	ReasonHistory        = "history_unavailable"
	ReasonIgnoredApp     = "ignored_app"
	ReasonDuplicate      = "duplicate"
	ReasonInvalidLimit   = "invalid_limit"
)

const defaultHistoryEntries = 50

// History reads the notification journal.
type History interface {
	Recent(ctx context.Context, limit int) ([]journal.Entry, error)
}

// Deps are the components the handlers operate on. History and Metrics may
// be nil.
type Deps struct {
	Rules   *rules.Store
	Ignore  *ignore.Registry
	Pending *pending.Store
	Router  *router.Router
	History History
	Metrics *metrics.Metrics
}

type Handler struct {
	rules   *rules.Store
	ignore  *ignore.Registry
	pending *pending.Store
	router  *router.Router
	history History
	metrics *metrics.Metrics
	log     *slog.Logger
}

func New(deps Deps, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		rules:   deps.Rules,
		ignore:  deps.Ignore,
		pending: deps.Pending,
		router:  deps.Router,
		history: deps.History,
		metrics: deps.Metrics,
		log:     log,
	}
}

// Register mounts every route on r.
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/healthz", h.Health)
	r.POST("/notify", h.Notify)
	r.GET("/config", h.Config)

	r.POST("/pending_rule", h.ProposeRule)
	r.DELETE("/pending_rule", h.DiscardRule)
	r.POST("/pending_rule/accept", h.AcceptRule)

	r.GET("/ignored_apps", h.ListIgnored)
	r.POST("/ignored_apps", h.AddIgnored)
	r.DELETE("/ignored_apps/:app", h.RemoveIgnored)

	r.GET("/rules", h.ListRules)
	r.POST("/rules", h.AddRule)
	r.PUT("/rules/:index", h.ReplaceRule)
	r.DELETE("/rules/:index", h.RemoveRule)

	r.GET("/history", h.History)
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": statusOK, "version": version.NotifywatchVersion})
}

// Notify forwards a notification posted by the extension.
func (h *Handler) Notify(c *gin.Context) {
	doc, ok := h.readObject(c)
	if !ok {
		return
	}

	ev := router.Event{
		App:  DefaultApp,
		Text: DefaultText,
	}
	if app := strings.TrimSpace(doc.Get("app").String()); app != "" {
		ev.App = app
	}
	if text := doc.Get("text"); text.Exists() && text.Type != gjson.Null {
		ev.Text = text.String()
	}
	if raw := doc.Get("screenshot").String(); raw != "" {
		att, err := delivery.DecodeScreenshot(raw)
		if err != nil {
			h.log.Warn("failed to decode screenshot, sending without it", "app", ev.App, "error", err)
		} else {
			if rule := doc.Get("rule"); rule.IsObject() {
				att.Title = delivery.ScreenshotTitle(rule.Get("name").String())
			}
			ev.Attachment = att
		}
	}

	switch h.router.Route(c.Request.Context(), ev) {
	case router.Ignored:
		c.JSON(http.StatusOK, gin.H{"status": statusIgnored, "reason": ReasonIgnoredApp})
	case router.Duplicate:
		c.JSON(http.StatusOK, gin.H{"status": statusIgnored, "reason": ReasonDuplicate})
	default:
		c.JSON(http.StatusOK, gin.H{"status": statusOK})
	}
}

// Config returns everything the extension needs in one document.
func (h *Handler) Config(c *gin.Context) {
	schema, list := h.rules.Snapshot()
	var pendingRule *pending.PendingRule
	if p, ok := h.pending.Peek(); ok {
		pendingRule = &p
	}
	c.JSON(http.StatusOK, gin.H{
		"version":      schema,
		"rules":        list,
		"ignored_apps": h.ignore.List(),
		"pending_rule": pendingRule,
	})
}

// ProposeRule stores a rule captured by the extension for operator review.
func (h *Handler) ProposeRule(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		h.fail(c, http.StatusBadRequest, ReasonInvalidRule, err)
		return
	}
	rule, err := rules.Sanitize(body, rules.SourceExtension)
	if err != nil {
		h.fail(c, http.StatusBadRequest, ReasonInvalidRule, err)
		return
	}
	p, err := h.pending.Propose(rule)
	if err != nil {
		h.fail(c, http.StatusInternalServerError, ReasonStorage, err)
		return
	}
	h.metrics.PendingProposed()
	c.JSON(http.StatusOK, gin.H{"status": statusOK, "id": p.ID})
}

func (h *Handler) DiscardRule(c *gin.Context) {
	if err := h.pending.Clear(); err != nil {
		h.fail(c, http.StatusInternalServerError, ReasonStorage, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": statusOK})
}

// AcceptRule commits the pending rule, or an operator-edited version of it,
// to the rule list. Body: {"id": "...", "rule": {...}}, both optional.
func (h *Handler) AcceptRule(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		h.fail(c, http.StatusBadRequest, ReasonInvalidJSON, err)
		return
	}
	var req gjson.Result
	if len(strings.TrimSpace(string(body))) > 0 {
		if !gjson.ValidBytes(body) || !gjson.ParseBytes(body).IsObject() {
			h.fail(c, http.StatusBadRequest, ReasonInvalidJSON, errors.New("body must be a JSON object"))
			return
		}
		req = gjson.ParseBytes(body)
	}

	current, ok := h.pending.Peek()
	if !ok {
		h.fail(c, http.StatusNotFound, ReasonNoPendingRule, pending.ErrNoPending)
		return
	}
	if id := req.Get("id").String(); id != "" && id != current.ID {
		h.fail(c, http.StatusConflict, ReasonPendingChanged, pending.ErrPendingChanged)
		return
	}

	var edited *rules.Rule
	if raw := req.Get("rule"); raw.Exists() && raw.Type != gjson.Null {
		source := current.Source
		if source == "" {
			source = rules.SourceExtension
		}
		rule, err := rules.Sanitize([]byte(raw.Raw), source)
		if err != nil {
			h.fail(c, http.StatusBadRequest, ReasonInvalidRule, err)
			return
		}
		edited = &rule
	}

	// Claim the proposal before committing it so that concurrent accepts
	// and discards see an empty slot.
	taken, err := h.pending.Take(current.ID)
	switch {
	case errors.Is(err, pending.ErrNoPending):
		h.fail(c, http.StatusNotFound, ReasonNoPendingRule, err)
		return
	case errors.Is(err, pending.ErrPendingChanged):
		h.fail(c, http.StatusConflict, ReasonPendingChanged, err)
		return
	case err != nil:
		h.fail(c, http.StatusInternalServerError, ReasonStorage, err)
		return
	}

	rule := taken.Rule
	if edited != nil {
		rule = *edited
	}
	index, err := h.rules.Append(rule)
	if err != nil {
		if _, rerr := h.pending.Restore(taken); rerr != nil {
			h.log.Error("failed to restore pending rule", "id", taken.ID, "error", rerr)
		}
		h.fail(c, http.StatusInternalServerError, ReasonStorage, err)
		return
	}
	h.log.Info("pending rule accepted", "id", current.ID, "index", index, "rule", rule.String())
	c.JSON(http.StatusOK, gin.H{"status": statusOK, "index": index, "rule": rule})
}

func (h *Handler) ListIgnored(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"apps": h.ignore.List()})
}

func (h *Handler) AddIgnored(c *gin.Context) {
	doc, ok := h.readObject(c)
	if !ok {
		return
	}
	app := strings.TrimSpace(doc.Get("app").String())
	if app == "" {
		h.fail(c, http.StatusBadRequest, ReasonInvalidApp, errors.New("app is empty"))
		return
	}
	changed, err := h.ignore.Add(app)
	if err != nil {
		h.fail(c, http.StatusInternalServerError, ReasonStorage, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": statusOK, "changed": changed, "apps": h.ignore.List()})
}

func (h *Handler) RemoveIgnored(c *gin.Context) {
	changed, err := h.ignore.Remove(c.Param("app"))
	if err != nil {
		h.fail(c, http.StatusInternalServerError, ReasonStorage, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": statusOK, "changed": changed, "apps": h.ignore.List()})
}

func (h *Handler) ListRules(c *gin.Context) {
	schema, list := h.rules.Snapshot()
	c.JSON(http.StatusOK, gin.H{"version": schema, "rules": list})
}

// AddRule appends a manually written rule.
func (h *Handler) AddRule(c *gin.Context) {
	rule, ok := h.readRule(c)
	if !ok {
		return
	}
	index, err := h.rules.Append(rule)
	if err != nil {
		h.fail(c, http.StatusInternalServerError, ReasonStorage, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": statusOK, "index": index, "rule": rule})
}

func (h *Handler) ReplaceRule(c *gin.Context) {
	index, ok := h.readIndex(c)
	if !ok {
		return
	}
	rule, ok := h.readRule(c)
	if !ok {
		return
	}
	if err := h.rules.Replace(index, rule); err != nil {
		h.failStore(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": statusOK, "index": index, "rule": rule})
}

func (h *Handler) RemoveRule(c *gin.Context) {
	index, ok := h.readIndex(c)
	if !ok {
		return
	}
	removed, err := h.rules.Remove(index)
	if err != nil {
		h.failStore(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": statusOK, "rule": removed})
}

// History returns recent routing decisions, newest first. Without a journal
// the list is empty.
func (h *Handler) History(c *gin.Context) {
	limit := defaultHistoryEntries
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.fail(c, http.StatusBadRequest, ReasonInvalidLimit, errors.New("limit must be a positive integer"))
			return
		}
		limit = n
	}
	if h.history == nil {
		c.JSON(http.StatusOK, gin.H{"entries": []journal.Entry{}})
		return
	}
	entries, err := h.history.Recent(c.Request.Context(), limit)
	if err != nil {
		h.fail(c, http.StatusInternalServerError, ReasonHistory, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func (h *Handler) readObject(c *gin.Context) (gjson.Result, bool) {
	body, err := c.GetRawData()
	if err != nil || !gjson.ValidBytes(body) {
		h.fail(c, http.StatusBadRequest, ReasonInvalidJSON, errors.New("body is not valid JSON"))
		return gjson.Result{}, false
	}
	doc := gjson.ParseBytes(body)
	if !doc.IsObject() {
		h.fail(c, http.StatusBadRequest, ReasonInvalidJSON, errors.New("body must be a JSON object"))
		return gjson.Result{}, false
	}
	return doc, true
}

func (h *Handler) readRule(c *gin.Context) (rules.Rule, bool) {
	body, err := c.GetRawData()
	if err != nil {
		h.fail(c, http.StatusBadRequest, ReasonInvalidRule, err)
		return rules.Rule{}, false
	}
	rule, err := rules.Sanitize(body, rules.SourceManual)
	if err != nil {
		h.fail(c, http.StatusBadRequest, ReasonInvalidRule, err)
		return rules.Rule{}, false
	}
	return rule, true
}

func (h *Handler) readIndex(c *gin.Context) (int, bool) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		h.fail(c, http.StatusBadRequest, ReasonInvalidIndex, err)
		return 0, false
	}
	return index, true
}

func (h *Handler) failStore(c *gin.Context, err error) {
	if errors.Is(err, rules.ErrIndex) {
		h.fail(c, http.StatusNotFound, ReasonRuleNotFound, err)
		return
	}
	h.fail(c, http.StatusInternalServerError, ReasonStorage, err)
}

func (h *Handler) fail(c *gin.Context, status int, reason string, err error) {
	attrs := []any{"method", c.Request.Method, "path", c.Request.URL.Path, "reason", reason, "error", err}
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed", attrs...)
	} else {
		h.log.Warn("request rejected", attrs...)
	}
	c.AbortWithStatusJSON(status, gin.H{"status": statusError, "reason": reason})
}
