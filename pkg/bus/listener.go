// Package bus listens for desktop notifications on the D-Bus session bus.
package bus

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"

	"notifywatch/pkg/router"
)

const (
	// ReadyTimeout bounds how long Start waits for the bus to attach.
	ReadyTimeout = 5 * time.Second
	// StopGrace bounds how long Stop waits for the run loop to exit.
	StopGrace = 2 * time.Second

	eventBuffer = 64
)

// ErrNotReady is reported when the bus did not attach within ReadyTimeout.
var ErrNotReady = errors.New("bus listener not ready")

// Listener turns Notify calls seen on the bus into router events.
type Listener struct {
	dial   Dialer
	log    *slog.Logger
	events chan router.Event

	ReadyTimeout time.Duration
	StopGrace    time.Duration

	mu      sync.Mutex
	err     error
	ready   chan struct{}
	done    chan struct{}
	cancel  context.CancelFunc
	started bool
}

// NewListener creates a listener. A nil dial uses SessionDialer.
func NewListener(dial Dialer, log *slog.Logger) *Listener {
	if dial == nil {
		dial = SessionDialer
	}
	if log == nil {
		log = slog.Default()
	}
	return &Listener{
		dial:         dial,
		log:          log,
		events:       make(chan router.Event, eventBuffer),
		ReadyTimeout: ReadyTimeout,
		StopGrace:    StopGrace,
		ready:        make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// Events is closed when the run loop exits.
func (l *Listener) Events() <-chan router.Event {
	return l.events
}

// Err returns why the listener is not running, if it failed to start.
func (l *Listener) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// Start attaches to the bus and reports whether it is listening. A false
// result means the process should continue without bus notifications.
func (l *Listener) Start(ctx context.Context) bool {
	l.mu.Lock()
	if l.started {
		l.mu.Unlock()
		return l.Err() == nil
	}
	l.started = true
	runCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.mu.Unlock()

	go l.run(runCtx)

	timer := time.NewTimer(l.ReadyTimeout)
	defer timer.Stop()
	select {
	case <-l.ready:
	case <-timer.C:
		l.setErr(ErrNotReady)
	case <-ctx.Done():
		l.setErr(ctx.Err())
	}

	if err := l.Err(); err != nil {
		l.log.Warn("bus listener unavailable, continuing without desktop notifications", "error", err)
		cancel()
		return false
	}
	l.log.Info("bus listener attached", "match", MatchRule)
	return true
}

// Stop asks the run loop to exit and waits up to StopGrace.
func (l *Listener) Stop() {
	l.mu.Lock()
	cancel := l.cancel
	l.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()

	timer := time.NewTimer(l.StopGrace)
	defer timer.Stop()
	select {
	case <-l.done:
		l.log.Info("bus listener stopped")
	case <-timer.C:
		l.log.Warn("bus listener did not stop in time", "grace", l.StopGrace)
	}
}

func (l *Listener) setErr(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err == nil {
		l.err = err
	}
}

func (l *Listener) run(ctx context.Context) {
	defer close(l.done)
	defer close(l.events)

	conn, err := l.dial()
	if err != nil {
		l.setErr(err)
		close(l.ready)
		return
	}
	defer func() {
		if err := conn.Close(); err != nil {
			l.log.Debug("failed to close bus connection", "error", err)
		}
	}()

	msgs := make(chan *dbus.Message, eventBuffer)
	conn.Eavesdrop(msgs)
	if err := conn.Monitor(MatchRule); err != nil {
		l.setErr(err)
		close(l.ready)
		return
	}
	close(l.ready)

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				l.log.Warn("bus connection closed")
				return
			}
			ev, ok := l.decode(msg)
			if !ok {
				continue
			}
			select {
			case l.events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (l *Listener) decode(msg *dbus.Message) (ev router.Event, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("panic while decoding bus message", "panic", r)
			ok = false
		}
	}()

	if msg == nil || msg.Type != dbus.TypeMethodCall {
		return router.Event{}, false
	}
	if headerString(msg, dbus.FieldMember) != notifyMember {
		return router.Event{}, false
	}
	if iface := headerString(msg, dbus.FieldInterface); iface != "" && iface != notificationsInterface {
		return router.Event{}, false
	}

	n, err := Normalize(msg.Body)
	if err != nil {
		l.log.Error("failed to decode Notify arguments", "sender", headerString(msg, dbus.FieldSender), "error", err)
		return router.Event{}, false
	}
	l.log.Debug("captured Notify call", "sender", headerString(msg, dbus.FieldSender), "app", n.App())
	return router.Event{App: n.App(), Text: n.Text()}, true
}

func headerString(msg *dbus.Message, field dbus.HeaderField) string {
	v, ok := msg.Headers[field]
	if !ok {
		return ""
	}
	s, _ := v.Value().(string)
	return s
}
