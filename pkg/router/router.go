// Package router filters incoming notifications and hands the survivors to
// a delivery sink.
package router

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"notifywatch/pkg/delivery"
	"notifywatch/pkg/journal"
	"notifywatch/pkg/metrics"
)

// DedupWindow is how long an identical message is suppressed after it was
// last forwarded.
const DedupWindow = time.Second

// Sources used to label routers.
const (
	SourceBus  = "bus"
	SourceHTTP = "http"
)

// Outcome is the routing decision for one event.
type Outcome string

const (
	Forwarded Outcome = "forwarded"
	Ignored   Outcome = "ignored"
	Duplicate Outcome = "duplicate"
)

// Event is a notification as produced by a listener.
type Event struct {
	App        string
	Text       string
	Attachment *delivery.Attachment
}

// Message is the text forwarded for an event and compared for duplicates.
func (e Event) Message() string {
	return "[" + e.App + "] " + e.Text
}

// IgnoreChecker reports whether an application is muted.
type IgnoreChecker interface {
	IsIgnored(app string) bool
}

// Recorder stores routing decisions.
type Recorder interface {
	Record(ctx context.Context, e journal.Entry) error
}

// Router applies the ignore list and duplicate suppression for one source.
// Each source gets its own Router, so the same text arriving once from the
// bus and once over HTTP is forwarded twice.
type Router struct {
	source  string
	ignore  IgnoreChecker
	sink    delivery.Sink
	journal Recorder
	metrics *metrics.Metrics
	log     *slog.Logger
	now     func() time.Time

	mu          sync.Mutex
	lastMessage string
	lastAt      time.Time
}

func New(source string, ignore IgnoreChecker, sink delivery.Sink, log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}
	return &Router{
		source: source,
		ignore: ignore,
		sink:   sink,
		log:    log.With("source", source),
		now:    time.Now,
	}
}

// WithJournal records every decision in rec.
func (r *Router) WithJournal(rec Recorder) *Router {
	r.journal = rec
	return r
}

// WithMetrics counts decisions and deliveries in m.
func (r *Router) WithMetrics(m *metrics.Metrics) *Router {
	r.metrics = m
	return r
}

// Source returns the label this router was created with.
func (r *Router) Source() string {
	return r.source
}

// Route decides what happens to ev and, when it is forwarded, delivers it.
// Delivery failures are logged and do not change the outcome.
func (r *Router) Route(ctx context.Context, ev Event) Outcome {
	full := ev.Message()
	if r.ignore != nil && r.ignore.IsIgnored(ev.App) {
		r.log.Debug("notification from ignored app", "app", ev.App)
		r.finish(ctx, ev, full, Ignored, false, nil)
		return Ignored
	}

	now := r.now()
	r.mu.Lock()
	if full == r.lastMessage && now.Sub(r.lastAt) < DedupWindow {
		r.mu.Unlock()
		r.log.Debug("duplicate notification suppressed", "app", ev.App)
		r.finish(ctx, ev, full, Duplicate, false, nil)
		return Duplicate
	}
	r.lastMessage, r.lastAt = full, now
	r.mu.Unlock()

	err := r.deliver(ctx, delivery.Message{Text: full, Attachment: ev.Attachment})
	r.finish(ctx, ev, full, Forwarded, err == nil, err)
	return Forwarded
}

func (r *Router) deliver(ctx context.Context, msg delivery.Message) error {
	if r.sink == nil {
		return nil
	}
	err := r.sink.Deliver(ctx, msg)
	r.metrics.Delivery(r.sink.Name(), err)
	if err != nil {
		r.log.Error("failed to deliver notification", "sink", r.sink.Name(), "error", err)
		return err
	}
	r.log.Info("notification forwarded", "sink", r.sink.Name(), "message", msg.Text)
	return nil
}

func (r *Router) finish(ctx context.Context, ev Event, full string, outcome Outcome, delivered bool, deliverErr error) {
	r.metrics.RouterEvent(r.source, string(outcome))
	if r.journal == nil {
		return
	}
	entry := journal.Entry{
		Source:    r.source,
		App:       ev.App,
		Message:   full,
		Outcome:   string(outcome),
		Delivered: delivered,
		CreatedAt: r.now(),
	}
	if deliverErr != nil {
		entry.Error = deliverErr.Error()
	}
	if err := r.journal.Record(ctx, entry); err != nil {
		r.log.Warn("failed to journal notification", "error", err)
	}
}

// Pump routes events until the channel is closed or ctx ends.
func Pump(ctx context.Context, events <-chan Event, r *Router) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			r.Route(ctx, ev)
		}
	}
}
