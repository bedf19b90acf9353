// Package notify raises desktop notifications for layer switches and
// trigger failures over the session D-Bus.
package notify

import (
	"fmt"

	"github.com/godbus/dbus/v5"

	"macrod/internal/logging"
)

const (
	busName    = "org.freedesktop.Notifications"
	objectPath = "/org/freedesktop/Notifications"
	method     = "org.freedesktop.Notifications.Notify"

	appName   = "macrod"
	expireMs  = int32(5000)
)

// Notifier sends desktop notifications. A notifier without a session bus
// is valid and silently does nothing, so headless runs keep working.
type Notifier struct {
	conn *dbus.Conn
	log  *logging.Logger
}

// New connects to the session bus. Connection failure is not an error:
// it returns a disabled notifier and logs why.
func New(enabled bool, log *logging.Logger) *Notifier {
	if log == nil {
		log = logging.Default()
	}
	n := &Notifier{log: log.WithComponent("notify")}
	if !enabled {
		return n
	}

	conn, err := dbus.SessionBus()
	if err != nil {
		n.log.Warn("desktop notifications disabled", "error", err)
		return n
	}
	n.conn = conn
	return n
}

// Enabled reports whether notifications will actually be delivered.
func (n *Notifier) Enabled() bool {
	return n.conn != nil
}

// LayerChanged announces a table's layer switch.
func (n *Notifier) LayerChanged(device, layer string) {
	n.send("Layer changed", fmt.Sprintf("%s is now in layer %q", device, layer))
}

// TriggerFailed announces a trigger invocation that could not start.
func (n *Notifier) TriggerFailed(device, title string, err error) {
	n.send("Trigger failed", fmt.Sprintf("%s: %q did not start: %v", device, title, err))
}

// send delivers one notification; delivery failures are logged only.
func (n *Notifier) send(summary, body string) {
	if n.conn == nil {
		return
	}
	obj := n.conn.Object(busName, objectPath)
	call := obj.Call(method, 0, appName, uint32(0), "", summary, body,
		[]string{}, map[string]dbus.Variant{}, expireMs)
	if call.Err != nil {
		n.log.Debug("notification not delivered", "error", call.Err)
	}
}

// Close releases the bus connection.
func (n *Notifier) Close() error {
	if n.conn == nil {
		return nil
	}
	err := n.conn.Close()
	n.conn = nil
	return err
}
