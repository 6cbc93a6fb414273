package systemd

import (
	"context"
	"fmt"
	"os/exec"
)

// JournalctlExists reports whether the journalctl binary is on PATH.
func JournalctlExists() bool {
	p, err := lookPath("journalctl")
	return err == nil && p != ""
}

// GetLatestJournalctlOutput returns the most recent journal entries for
// unit, used by the status debug command to surface why a transition's
// systemd collaborator (logind, a mount unit) misbehaved.
func GetLatestJournalctlOutput(ctx context.Context, unit string) (string, error) {
	path, err := lookPath("journalctl")
	if err != nil {
		return "", fmt.Errorf("journalctl not found: %w", err)
	}
	cmd := exec.CommandContext(ctx, path, "-u", unit, "-n", "200", "--no-pager")
	out, err := cmdOutput(cmd)
	if err != nil {
		return "", fmt.Errorf("running journalctl: %w", err)
	}
	return string(out), nil
}
