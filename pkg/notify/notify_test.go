package notify

import (
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
)

func TestEncodeActions(t *testing.T) {
	got := encodeActions([]Action{{Key: "details", Label: "Details"}, {Key: "gdb", Label: "gdb"}})
	assert.Equal(t, []string{"details", "Details", "gdb", "gdb"}, got)
	assert.Empty(t, encodeActions(nil))
}

func TestEncodeHints(t *testing.T) {
	hints := encodeHints(Notification{Urgency: UrgencyCritical, DesktopEntry: "org.kde.kate"})
	assert.Equal(t, dbus.MakeVariant(byte(2)), hints["urgency"])
	assert.Equal(t, dbus.MakeVariant("org.kde.kate"), hints["desktop-entry"])

	hints = encodeHints(Notification{})
	assert.NotContains(t, hints, "desktop-entry")
}

func TestExpireTimeout(t *testing.T) {
	assert.Equal(t, int32(-1), expireTimeout(0))
	assert.Equal(t, int32(5000), expireTimeout(5*time.Second))
}

func TestMatchSignal(t *testing.T) {
	tests := []struct {
		name    string
		sig     *dbus.Signal
		wantKey string
		done    bool
	}{
		{
			name:    "action invoked",
			sig:     &dbus.Signal{Name: iface + ".ActionInvoked", Body: []interface{}{uint32(7), "details"}},
			wantKey: "details",
			done:    true,
		},
		{
			name: "closed",
			sig:  &dbus.Signal{Name: iface + ".NotificationClosed", Body: []interface{}{uint32(7), uint32(2)}},
			done: true,
		},
		{
			name: "other notification",
			sig:  &dbus.Signal{Name: iface + ".ActionInvoked", Body: []interface{}{uint32(8), "details"}},
		},
		{
			name: "other member",
			sig:  &dbus.Signal{Name: iface + ".ActivationToken", Body: []interface{}{uint32(7), "token"}},
		},
		{
			name: "short body",
			sig:  &dbus.Signal{Name: iface + ".ActionInvoked", Body: []interface{}{uint32(7)}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, done := matchSignal(tt.sig, 7)
			assert.Equal(t, tt.wantKey, key)
			assert.Equal(t, tt.done, done)
		})
	}
}
