package bus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"

	"notifywatch/pkg/logger"
	"notifywatch/pkg/router"
)

type fakeConn struct {
	monitorErr error

	mu     sync.Mutex
	rule   string
	ch     chan<- *dbus.Message
	closed bool
}

func (c *fakeConn) Monitor(rule string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rule = rule
	return c.monitorErr
}

func (c *fakeConn) Eavesdrop(ch chan<- *dbus.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ch = ch
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) send(msg *dbus.Message) {
	c.mu.Lock()
	ch := c.ch
	c.mu.Unlock()
	ch <- msg
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func notifyCall(args ...any) *dbus.Message {
	return &dbus.Message{
		Type: dbus.TypeMethodCall,
		Headers: map[dbus.HeaderField]dbus.Variant{
			dbus.FieldMember:    dbus.MakeVariant("Notify"),
			dbus.FieldInterface: dbus.MakeVariant("org.freedesktop.Notifications"),
			dbus.FieldSender:    dbus.MakeVariant(":1.42"),
		},
		Body: args,
	}
}

func startFake(t *testing.T, conn *fakeConn) *Listener {
	t.Helper()
	l := NewListener(func() (Conn, error) { return conn, nil }, logger.Discard())
	if !l.Start(context.Background()) {
		t.Fatalf("Start failed: %v", l.Err())
	}
	t.Cleanup(l.Stop)
	return l
}

func receive(t *testing.T, l *Listener) router.Event {
	t.Helper()
	select {
	case ev := <-l.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}
	return router.Event{}
}

func TestListenerPublishesNotify(t *testing.T) {
	conn := &fakeConn{}
	l := startFake(t, conn)

	if conn.rule != MatchRule {
		t.Errorf("monitor rule = %q", conn.rule)
	}

	conn.send(notifyCall("Mail", uint32(0), "mail-icon", "New message", "from Ana",
		[]string{}, map[string]dbus.Variant{}, int32(-1)))
	ev := receive(t, l)
	if ev.App != "Mail" || ev.Text != "New message: from Ana" {
		t.Errorf("event = %+v", ev)
	}
	if got := ev.Message(); got != "[Mail] New message: from Ana" {
		t.Errorf("Message() = %q", got)
	}
}

func TestListenerSkipsUnrelatedAndBadMessages(t *testing.T) {
	conn := &fakeConn{}
	l := startFake(t, conn)

	other := notifyCall("x")
	other.Headers[dbus.FieldMember] = dbus.MakeVariant("CloseNotification")
	conn.send(other)

	signal := notifyCall("x")
	signal.Type = dbus.TypeSignal
	conn.send(signal)

	conn.send(notifyCall(42, uint32(0), "", "bad", "app name type"))
	conn.send(nil)

	conn.send(notifyCall("", uint32(0), "", "Title", "Body"))
	ev := receive(t, l)
	if ev.App != DefaultAppName || ev.Text != "Title: Body" {
		t.Errorf("event = %+v, want the only well-formed call", ev)
	}
}

func TestListenerStartFailures(t *testing.T) {
	tests := []struct {
		name string
		dial Dialer
	}{
		{"no bus", func() (Conn, error) { return nil, errors.New("no session bus") }},
		{"monitor refused", func() (Conn, error) { return &fakeConn{monitorErr: errors.New("denied")}, nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := NewListener(tt.dial, logger.Discard())
			if l.Start(context.Background()) {
				t.Fatal("Start reported success")
			}
			if l.Err() == nil {
				t.Error("Err() is nil after a failed start")
			}
			select {
			case _, ok := <-l.Events():
				if ok {
					t.Error("unexpected event")
				}
			case <-time.After(time.Second):
				t.Error("events channel not closed after a failed start")
			}
		})
	}
}

func TestListenerReadyTimeout(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	l := NewListener(func() (Conn, error) {
		<-block
		return nil, errors.New("gave up")
	}, logger.Discard())
	l.ReadyTimeout = 20 * time.Millisecond

	if l.Start(context.Background()) {
		t.Fatal("Start reported success")
	}
	if !errors.Is(l.Err(), ErrNotReady) {
		t.Errorf("Err() = %v, want ErrNotReady", l.Err())
	}
}

func TestListenerStopClosesConn(t *testing.T) {
	conn := &fakeConn{}
	l := NewListener(func() (Conn, error) { return conn, nil }, logger.Discard())
	if !l.Start(context.Background()) {
		t.Fatal("Start failed")
	}
	l.Stop()
	if !conn.isClosed() {
		t.Error("connection not closed after Stop")
	}
	if _, ok := <-l.Events(); ok {
		t.Error("events channel still open after Stop")
	}
}

func TestListenerFeedsRouter(t *testing.T) {
	conn := &fakeConn{}
	l := startFake(t, conn)

	var mu sync.Mutex
	var got []string
	sink := sinkFunc(func(text string) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, text)
	})
	r := router.New(router.SourceBus, nil, sink, logger.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go router.Pump(ctx, l.Events(), r)

	call := notifyCall("Chat", uint32(0), "", "Ana", "oi")
	conn.send(call)
	conn.send(call)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n >= 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0] != "[Chat] Ana: oi" {
		t.Errorf("delivered %v, want one [Chat] Ana: oi", got)
	}
}
