package bus

import (
	"fmt"

	"github.com/godbus/dbus/v5"
)

const (
	notificationsInterface = "org.freedesktop.Notifications"
	notifyMember           = "Notify"

	// MatchRule selects the Notify calls sent to the notification daemon.
	MatchRule = "type='method_call',interface='" + notificationsInterface + "',member='" + notifyMember + "'"
)

// Conn is the part of a bus connection the listener needs.
type Conn interface {
	// Monitor starts delivering messages matching rule.
	Monitor(rule string) error
	Eavesdrop(ch chan<- *dbus.Message)
	Close() error
}

// Dialer opens a bus connection.
type Dialer func() (Conn, error)

type sessionConn struct {
	conn *dbus.Conn
}

// SessionDialer connects to the user's session bus.
func SessionDialer() (Conn, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("connect session bus: %w", err)
	}
	return &sessionConn{conn: conn}, nil
}

// Monitor turns the connection into a bus monitor. Daemons without the
// Monitoring interface get an eavesdropping match rule instead.
func (c *sessionConn) Monitor(rule string) error {
	call := c.conn.BusObject().Call("org.freedesktop.DBus.Monitoring.BecomeMonitor", 0, []string{rule}, uint32(0))
	if call.Err == nil {
		return nil
	}
	fallback := c.conn.BusObject().Call("org.freedesktop.DBus.AddMatch", 0, rule+",eavesdrop='true'")
	if fallback.Err != nil {
		return fmt.Errorf("become monitor: %v; add match: %w", call.Err, fallback.Err)
	}
	return nil
}

func (c *sessionConn) Eavesdrop(ch chan<- *dbus.Message) {
	c.conn.Eavesdrop(ch)
}

func (c *sessionConn) Close() error {
	return c.conn.Close()
}
