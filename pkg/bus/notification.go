package bus

import (
	"errors"
	"fmt"

	"github.com/godbus/dbus/v5"
)

// NotifyArity is the number of arguments of org.freedesktop.Notifications.Notify.
const NotifyArity = 8

// DefaultAppName replaces an empty application name.
const DefaultAppName = "Application"

// ErrBadArgument is returned when a Notify argument has an unexpected type.
var ErrBadArgument = errors.New("unexpected notify argument type")

// Notification holds the positional Notify arguments.
type Notification struct {
	AppName    string
	ReplacesID uint32
	Icon       string
	Summary    string
	Body       string
	Actions    []string
	Hints      map[string]dbus.Variant
	Timeout    int32
}

// Text is the notification as forwarded: "summary: body".
func (n Notification) Text() string {
	return n.Summary + ": " + n.Body
}

// App is the application name, or DefaultAppName when the sender left it empty.
func (n Notification) App() string {
	if n.AppName == "" {
		return DefaultAppName
	}
	return n.AppName
}

// Normalize decodes Notify arguments. Missing trailing arguments are treated
// as absent and extra ones are dropped.
func Normalize(args []any) (Notification, error) {
	fixed := make([]any, NotifyArity)
	copy(fixed, args)

	var n Notification
	var err error
	if n.AppName, err = asString(fixed[0], "app_name"); err != nil {
		return Notification{}, err
	}
	if n.ReplacesID, err = asUint32(fixed[1], "replaces_id"); err != nil {
		return Notification{}, err
	}
	if n.Icon, err = asString(fixed[2], "app_icon"); err != nil {
		return Notification{}, err
	}
	if n.Summary, err = asString(fixed[3], "summary"); err != nil {
		return Notification{}, err
	}
	if n.Body, err = asString(fixed[4], "body"); err != nil {
		return Notification{}, err
	}
	if n.Actions, err = asStrings(fixed[5], "actions"); err != nil {
		return Notification{}, err
	}
	if n.Hints, err = asHints(fixed[6], "hints"); err != nil {
		return Notification{}, err
	}
	if n.Timeout, err = asInt32(fixed[7], "expire_timeout"); err != nil {
		return Notification{}, err
	}
	return n, nil
}

func unwrap(v any) any {
	if variant, ok := v.(dbus.Variant); ok {
		return variant.Value()
	}
	return v
}

func asString(v any, name string) (string, error) {
	switch x := unwrap(v).(type) {
	case nil:
		return "", nil
	case string:
		return x, nil
	case dbus.ObjectPath:
		return string(x), nil
	default:
		return "", fmt.Errorf("%w: %s is %T", ErrBadArgument, name, x)
	}
}

func asUint32(v any, name string) (uint32, error) {
	switch x := unwrap(v).(type) {
	case nil:
		return 0, nil
	case uint32:
		return x, nil
	case int32:
		return uint32(x), nil
	default:
		return 0, fmt.Errorf("%w: %s is %T", ErrBadArgument, name, x)
	}
}

func asInt32(v any, name string) (int32, error) {
	switch x := unwrap(v).(type) {
	case nil:
		return 0, nil
	case int32:
		return x, nil
	case uint32:
		return int32(x), nil
	default:
		return 0, fmt.Errorf("%w: %s is %T", ErrBadArgument, name, x)
	}
}

func asStrings(v any, name string) ([]string, error) {
	switch x := unwrap(v).(type) {
	case nil:
		return nil, nil
	case []string:
		return x, nil
	default:
		return nil, fmt.Errorf("%w: %s is %T", ErrBadArgument, name, x)
	}
}

func asHints(v any, name string) (map[string]dbus.Variant, error) {
	switch x := unwrap(v).(type) {
	case nil:
		return nil, nil
	case map[string]dbus.Variant:
		return x, nil
	default:
		return nil, fmt.Errorf("%w: %s is %T", ErrBadArgument, name, x)
	}
}
