// Package notify talks to the freedesktop notification service over the
// session bus. Only the org.freedesktop.Notifications interface is used, so
// any compliant notification daemon works.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"
)

const (
	busName    = "org.freedesktop.Notifications"
	objectPath = dbus.ObjectPath("/org/freedesktop/Notifications")
	iface      = "org.freedesktop.Notifications"
)

// Urgency levels of the freedesktop notification protocol
type Urgency byte

const (
	UrgencyLow      Urgency = 0
	UrgencyNormal   Urgency = 1
	UrgencyCritical Urgency = 2
)

// Action is a button on a notification
type Action struct {
	Key   string
	Label string
}

// Notification is one desktop notification
type Notification struct {
	AppName      string
	AppIcon      string
	Summary      string
	Body         string
	Actions      []Action
	Urgency      Urgency
	DesktopEntry string
	// Timeout of zero leaves expiry to the server
	Timeout time.Duration
}

// Notifier shows notifications and reports which action was picked
type Notifier interface {
	Notify(ctx context.Context, n Notification) (uint32, error)
	// WaitAction blocks until the user invokes an action, returning its key,
	// or the notification is closed, returning "".
	WaitAction(ctx context.Context, id uint32) (string, error)
	Close() error
}

// Factory connects a Notifier on demand
type Factory func(ctx context.Context) (Notifier, error)

// SessionFactory connects a fresh DBusNotifier for every notification
func SessionFactory(logger *zap.Logger) Factory {
	return func(ctx context.Context) (Notifier, error) {
		n, err := Connect(ctx, logger)
		if err != nil {
			return nil, err
		}
		return n, nil
	}
}

// ErrNoServer means no notification service answered on the session bus
var ErrNoServer = errors.New("no notification server")

// DBusNotifier implements Notifier on a session bus connection
type DBusNotifier struct {
	conn    *dbus.Conn
	signals chan *dbus.Signal
	logger  *zap.Logger
}

// Connect opens a private session bus connection and subscribes to the
// notification signals
func Connect(ctx context.Context, logger *zap.Logger) (*DBusNotifier, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	conn, err := dbus.ConnectSessionBus(dbus.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session bus: %w", err)
	}

	// Verify connection
	var name, vendor, version, specVersion string
	err = conn.Object(busName, objectPath).
		CallWithContext(ctx, iface+".GetServerInformation", 0).
		Store(&name, &vendor, &version, &specVersion)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: %v", ErrNoServer, err)
	}

	for _, member := range []string{"ActionInvoked", "NotificationClosed"} {
		if err := conn.AddMatchSignalContext(ctx,
			dbus.WithMatchInterface(iface),
			dbus.WithMatchMember(member),
			dbus.WithMatchObjectPath(objectPath),
		); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to subscribe to %s: %w", member, err)
		}
	}

	signals := make(chan *dbus.Signal, 16)
	conn.Signal(signals)

	logger.Debug("Connected to notification server",
		zap.String("server", name),
		zap.String("vendor", vendor),
		zap.String("version", version))

	return &DBusNotifier{conn: conn, signals: signals, logger: logger}, nil
}

// Notify shows n and returns its server side id
func (d *DBusNotifier) Notify(ctx context.Context, n Notification) (uint32, error) {
	var id uint32
	err := d.conn.Object(busName, objectPath).CallWithContext(ctx, iface+".Notify", 0,
		n.AppName,
		uint32(0),
		n.AppIcon,
		n.Summary,
		n.Body,
		encodeActions(n.Actions),
		encodeHints(n),
		expireTimeout(n.Timeout),
	).Store(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to send notification: %w", err)
	}
	return id, nil
}

// WaitAction waits for the outcome of notification id
func (d *DBusNotifier) WaitAction(ctx context.Context, id uint32) (string, error) {
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case sig, ok := <-d.signals:
			if !ok {
				return "", errors.New("session bus connection closed")
			}
			key, done := matchSignal(sig, id)
			if done {
				return key, nil
			}
		}
	}
}

// Close closes the bus connection
func (d *DBusNotifier) Close() error {
	d.conn.RemoveSignal(d.signals)
	return d.conn.Close()
}

// matchSignal reports whether sig ends notification id and the action key
// it carried
func matchSignal(sig *dbus.Signal, id uint32) (string, bool) {
	if sig == nil || len(sig.Body) < 2 {
		return "", false
	}
	sigID, ok := sig.Body[0].(uint32)
	if !ok || sigID != id {
		return "", false
	}

	switch sig.Name {
	case iface + ".ActionInvoked":
		key, _ := sig.Body[1].(string)
		return key, true
	case iface + ".NotificationClosed":
		return "", true
	}
	return "", false
}

func encodeActions(actions []Action) []string {
	out := make([]string, 0, 2*len(actions))
	for _, a := range actions {
		out = append(out, a.Key, a.Label)
	}
	return out
}

func encodeHints(n Notification) map[string]dbus.Variant {
	hints := map[string]dbus.Variant{
		"urgency": dbus.MakeVariant(byte(n.Urgency)),
	}
	if n.DesktopEntry != "" {
		hints["desktop-entry"] = dbus.MakeVariant(n.DesktopEntry)
	}
	return hints
}

func expireTimeout(d time.Duration) int32 {
	if d <= 0 {
		return -1
	}
	return int32(d.Milliseconds())
}
