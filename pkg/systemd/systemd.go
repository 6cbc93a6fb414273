// Package systemd wraps the systemd/logind integration points the session
// coordinator and the daemon's own lifecycle need: unit state queries,
// daemon-reload, sd_notify, and version/uptime introspection for the
// status debug command.
package systemd

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	sd "github.com/coreos/go-systemd/v22/daemon"
)

// seams for tests; production code leaves these at their zero-overhead
// defaults.
var (
	lookPath           = exec.LookPath
	cmdOutput          = func(cmd *exec.Cmd) ([]byte, error) { return cmd.Output() }
	cmdCombinedOutput  = func(cmd *exec.Cmd) ([]byte, error) { return cmd.CombinedOutput() }
	sdNotify           = sd.SdNotify
)

func SystemdExists() bool {
	p, err := lookPath("systemd")
	return err == nil && p != ""
}

func SystemctlExists() bool {
	p, err := lookPath("systemctl")
	return err == nil && p != ""
}

// DaemonReload runs "systemctl daemon-reload", used after writing a
// unit-file change during package install/upgrade flows.
func DaemonReload(ctx context.Context) ([]byte, error) {
	path, err := lookPath("systemctl")
	if err != nil {
		return nil, fmt.Errorf("systemctl not found: %w", err)
	}
	cmd := exec.CommandContext(ctx, path, "daemon-reload")
	return cmdOutput(cmd)
}

// GetVersion runs "systemd --version" and splits it into the headline
// version string and the feature-flag lines that follow it.
func GetVersion() (string, []string, error) {
	path, err := lookPath("systemd")
	if err != nil {
		return "", nil, fmt.Errorf("systemd not found: %w", err)
	}
	cmd := exec.Command(path, "--version")
	out, err := cmdOutput(cmd)
	if err != nil {
		return "", nil, fmt.Errorf("running systemd --version: %w", err)
	}
	ver, extra := parseVersion(string(out))
	return ver, extra, nil
}

func parseVersion(s string) (string, []string) {
	lines := strings.Split(s, "\n")
	var trimmed []string
	for _, l := range lines {
		t := strings.TrimSpace(l)
		if t != "" {
			trimmed = append(trimmed, t)
		}
	}
	if len(trimmed) == 0 {
		return "", nil
	}
	return trimmed[0], trimmed[1:]
}

// IsActive runs "systemctl is-active <unit>" directly, as an alternative
// path to DbusConn.IsActive for callers without a bus connection handy
// (e.g. the CLI status command).
func IsActive(unit string) (bool, error) {
	path, err := lookPath("systemctl")
	if err != nil {
		return false, fmt.Errorf("systemd active check requires systemctl: %w", err)
	}
	cmd := exec.Command(path, "is-active", unit)
	out, err := cmdCombinedOutput(cmd)
	state := strings.TrimSpace(string(out))
	if state == "active" {
		return true, nil
	}
	// "is-active" exits non-zero whenever the unit isn't active; only
	// "inactive" is itself a successful (non-error) answer. Anything else
	// ("failed", unexpected output) surfaces the command's error.
	if state == "inactive" {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking active state of %s: %w", unit, err)
	}
	return false, nil
}

// GetUptime returns how long unit has been in its current state, parsed
// from "systemctl show -p InactiveExitTimestamp".
func GetUptime(unit string) (*time.Duration, error) {
	path, err := lookPath("systemctl")
	if err != nil {
		return nil, fmt.Errorf("systemd uptime check requires systemctl: %w", err)
	}
	cmd := exec.Command(path, "show", unit, "-p", "InactiveExitTimestamp")
	out, err := cmdCombinedOutput(cmd)
	if err != nil {
		return nil, fmt.Errorf("running systemctl show: %w", err)
	}

	line := strings.TrimSpace(string(out))
	idx := strings.Index(line, "=")
	if idx == -1 {
		return nil, fmt.Errorf("could not parse the service uptime time correctly from %q", line)
	}
	ts := strings.TrimSpace(line[idx+1:])
	if ts == "" || ts == "n/a" {
		return nil, nil
	}
	return parseSystemdUnitUptime(ts)
}

func parseSystemdUnitUptime(ts string) (time.Duration, error) {
	ts = strings.TrimRight(ts, "\n\x0a")
	ts = strings.TrimSpace(ts)
	t, err := time.Parse("Mon 2006-01-02 15:04:05 MST", ts)
	if err != nil {
		return 0, fmt.Errorf("parsing systemd timestamp %q: %w", ts, err)
	}
	return time.Since(t), nil
}

// NotifyReady sends sd_notify(READY=1), signaling the service manager that
// startup completed.
func NotifyReady(_ context.Context) error {
	_, err := sdNotify(false, sd.SdNotifyReady)
	return err
}

// NotifyStopping sends sd_notify(STOPPING=1) during graceful shutdown.
func NotifyStopping(_ context.Context) error {
	_, err := sdNotify(false, sd.SdNotifyStopping)
	return err
}
