package systemd

import (
	"context"
	"fmt"
	"strings"

	sddbus "github.com/coreos/go-systemd/v22/dbus"
)

// dbusConn is the subset of *sddbus.Conn this package depends on, so tests
// can supply a fake without dialing the real system bus.
type dbusConn interface {
	Close()
	Connected() bool
	GetUnitPropertiesContext(ctx context.Context, unit string) (map[string]interface{}, error)
}

// DbusConn wraps a systemd manager D-Bus connection (session
// coordinator collaborator: logind/systemd over D-Bus).
type DbusConn struct {
	conn dbusConn
}

// NewDbusConn dials the system bus's systemd manager.
func NewDbusConn(ctx context.Context) (*DbusConn, error) {
	conn, err := sddbus.NewSystemConnectionContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("connecting to systemd over dbus: %w", err)
	}
	return &DbusConn{conn: conn}, nil
}

func (c *DbusConn) Close() {
	if c != nil && c.conn != nil {
		c.conn.Close()
	}
}

// normalizeServiceUnitName appends ".service" unless name already carries a
// systemd unit suffix.
func normalizeServiceUnitName(name string) string {
	for _, suffix := range []string{".service", ".target", ".socket", ".mount", ".timer"} {
		if strings.HasSuffix(name, suffix) {
			return name
		}
	}
	return name + ".service"
}

func checkActiveState(props map[string]interface{}, unitName string) (bool, error) {
	raw, ok := props["ActiveState"]
	if !ok {
		return false, fmt.Errorf("ActiveState property not found for unit %s", unitName)
	}
	state, ok := raw.(string)
	if !ok {
		return false, fmt.Errorf("ActiveState property is not a string for unit %s", unitName)
	}
	return state == "active", nil
}

// IsActive reports whether unitName's ActiveState is "active", over the
// systemd manager D-Bus connection.
func (c *DbusConn) IsActive(ctx context.Context, unitName string) (bool, error) {
	if c == nil || c.conn == nil {
		return false, fmt.Errorf("connection not initialized")
	}
	if !c.conn.Connected() {
		return false, fmt.Errorf("connection disconnected")
	}

	unit := normalizeServiceUnitName(unitName)
	props, err := c.conn.GetUnitPropertiesContext(ctx, unit)
	if err != nil {
		return false, fmt.Errorf("unable to get unit properties for %s: %w", unitName, err)
	}
	return checkActiveState(props, unitName)
}
