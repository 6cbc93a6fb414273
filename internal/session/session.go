// Package session talks to logind over D-Bus on behalf of the mode
// controller: whether any graphical session is active, waiting for all of
// them to log out, holding a sleep inhibitor for the duration of a
// transition, and re-probing on resume from suspend.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/login1"
	"github.com/godbus/dbus/v5"

	v1 "github.com/asus-linux/supergfxd/api/v1"
	"github.com/asus-linux/supergfxd/pkg/errdefs"
	"github.com/asus-linux/supergfxd/pkg/log"
)

const (
	loginBusName    = "org.freedesktop.login1"
	loginObjectPath = dbus.ObjectPath("/org/freedesktop/login1")
	managerIface    = "org.freedesktop.login1.Manager"

	// pollInterval is the safety-net poll for logged-out sessions, run
	// alongside the signal subscription in case a SessionRemoved signal
	// is missed.
	pollInterval = 2 * time.Second
)

// sessionInfo is one row of Manager.ListSessions.
type sessionInfo struct {
	id   string
	user string
	seat string
	path dbus.ObjectPath
}

// Coordinator is the session-coordinator interface the mode controller
// depends on: whether any graphical session is active, waiting for
// logout, holding a sleep inhibitor, and reacting to resume. Tests supply
// a scripted fake; DbusCoordinator is the real logind-backed implementation.
type Coordinator interface {
	GraphicalSessionsActive() (bool, error)
	WaitUntilAllLoggedOut(ctx context.Context, timeout time.Duration) error
	InhibitSleep(scope string) (func(), error)
	OnResume(cb func())
}

var _ Coordinator = (*DbusCoordinator)(nil)

// DbusCoordinator is the logind-backed Coordinator implementation. A
// DbusCoordinator constructed with NoLogind treats the machine as having
// no graphical sessions and never touches the bus, matching config.no_logind.
type DbusCoordinator struct {
	noLogind bool

	loginConn *login1.Conn
	sysBus    *dbus.Conn

	mu              sync.Mutex
	resumeCallbacks []func()

	signalCh chan *dbus.Signal
	wakeCh   chan struct{}
	stopCh   chan struct{}
}

// New connects to the system bus and logind unless cfg.NoLogind is set.
func New(cfg *v1.Config) (*DbusCoordinator, error) {
	c := &DbusCoordinator{noLogind: cfg != nil && cfg.NoLogind}
	if c.noLogind {
		return c, nil
	}

	loginConn, err := login1.New()
	if err != nil {
		return nil, err
	}
	sysBus, err := dbus.SystemBus()
	if err != nil {
		loginConn.Close()
		return nil, err
	}

	c.loginConn = loginConn
	c.sysBus = sysBus
	c.signalCh = make(chan *dbus.Signal, 16)
	c.wakeCh = make(chan struct{}, 1)
	c.stopCh = make(chan struct{})

	call := sysBus.BusObject().Call("org.freedesktop.DBus.AddMatch", 0,
		"type='signal',interface='"+managerIface+"'")
	if call.Err != nil {
		log.Logger.Warn("session: failed subscribing to logind signals", "error", call.Err)
	}
	sysBus.Signal(c.signalCh)
	go c.watchSignals()

	return c, nil
}

// Close releases the bus connections and stops the signal watcher.
func (c *DbusCoordinator) Close() error {
	if c.noLogind {
		return nil
	}
	close(c.stopCh)
	c.sysBus.RemoveSignal(c.signalCh)
	if err := c.sysBus.Close(); err != nil {
		return err
	}
	c.loginConn.Close()
	return nil
}

func (c *DbusCoordinator) listSessions() ([]sessionInfo, error) {
	obj := c.sysBus.Object(loginBusName, loginObjectPath)
	var raw [][]interface{}
	if err := obj.Call(managerIface+".ListSessions", 0).Store(&raw); err != nil {
		return nil, err
	}
	sessions := make([]sessionInfo, 0, len(raw))
	for _, row := range raw {
		if len(row) < 5 {
			continue
		}
		id, _ := row[0].(string)
		user, _ := row[2].(string)
		seat, _ := row[3].(string)
		path, _ := row[4].(dbus.ObjectPath)
		sessions = append(sessions, sessionInfo{id: id, user: user, seat: seat, path: path})
	}
	return sessions, nil
}

func (c *DbusCoordinator) isGraphical(path dbus.ObjectPath) bool {
	obj := c.sysBus.Object(loginBusName, path)
	typ, err := obj.GetProperty("org.freedesktop.login1.Session.Type")
	if err != nil {
		return false
	}
	s, _ := typ.Value().(string)
	return s == "x11" || s == "wayland"
}

// GraphicalSessionsActive reports whether any logind session is a
// graphical (x11/wayland) session. Always false when no_logind is set.
func (c *DbusCoordinator) GraphicalSessionsActive() (bool, error) {
	if c.noLogind {
		return false, nil
	}
	sessions, err := c.listSessions()
	if err != nil {
		return false, err
	}
	for _, s := range sessions {
		if c.isGraphical(s.path) {
			return true, nil
		}
	}
	return false, nil
}

// WaitUntilAllLoggedOut blocks until no graphical session remains, the
// context is cancelled, or timeout elapses (0 means wait forever). It
// polls every pollInterval as a safety net alongside the signal
// subscription, since SessionRemoved may arrive before ListSessions
// reflects the removal on some systemd versions.
func (c *DbusCoordinator) WaitUntilAllLoggedOut(ctx context.Context, timeout time.Duration) error {
	if c.noLogind {
		return nil
	}

	active, err := c.GraphicalSessionsActive()
	if err != nil {
		return err
	}
	if !active {
		return nil
	}

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timeoutCh:
			return errdefs.ErrLogoutTimedOut
		case <-c.wakeCh:
		case <-ticker.C:
		}
		active, err := c.GraphicalSessionsActive()
		if err != nil {
			continue
		}
		if !active {
			return nil
		}
	}
}

// InhibitSleep holds a delay-mode sleep inhibitor for the duration of a
// mode transition. The returned release func must always be called.
func (c *DbusCoordinator) InhibitSleep(scope string) (func(), error) {
	if c.noLogind {
		return func() {}, nil
	}
	f, err := c.loginConn.Inhibit("sleep", "supergfxd", scope, "delay")
	if err != nil {
		return nil, err
	}
	return func() { _ = f.Close() }, nil
}

// OnResume registers a callback fired after the machine resumes from
// suspend. Callbacks run synchronously on the signal-watcher goroutine;
// callers that need to block should dispatch to their own goroutine.
func (c *DbusCoordinator) OnResume(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resumeCallbacks = append(c.resumeCallbacks, cb)
}

func (c *DbusCoordinator) fireResume() {
	c.mu.Lock()
	callbacks := append([]func(){}, c.resumeCallbacks...)
	c.mu.Unlock()
	for _, cb := range callbacks {
		cb()
	}
}

// watchSignals is the single consumer of signalCh: it dispatches
// PrepareForSleep to fireResume and wakes any blocked
// WaitUntilAllLoggedOut via wakeCh for every other logind signal (most
// usefully SessionNew/SessionRemoved), so a resume signal arriving during
// a logout wait can never be stolen by the wait's own select.
func (c *DbusCoordinator) watchSignals() {
	for {
		select {
		case <-c.stopCh:
			return
		case sig, ok := <-c.signalCh:
			if !ok {
				return
			}
			if sig.Name == managerIface+".PrepareForSleep" && len(sig.Body) > 0 {
				if sleeping, ok := sig.Body[0].(bool); ok && !sleeping {
					c.fireResume()
				}
				continue
			}
			c.wake()
		}
	}
}

// wake nudges a blocked WaitUntilAllLoggedOut into rechecking session
// state; the send is non-blocking since wakeCh only needs to carry "recheck
// now", not every individual signal.
func (c *DbusCoordinator) wake() {
	select {
	case c.wakeCh <- struct{}{}:
	default:
	}
}
