// Package sysfs provides the daemon's only read/write path into the sysfs
// pseudo-filesystem: every executor action and hardware probe touches
// these files exclusively through here so tests can swap RootDir and
// point at a fixture tree instead of the real /sys.
package sysfs

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// RootDir is the sysfs mount point; overridden in tests to a temp dir
// shaped like the real tree.
var RootDir = "/sys"

// Path joins elem onto RootDir.
func Path(elem ...string) string {
	return filepath.Join(append([]string{RootDir}, elem...)...)
}

// ReadString reads and trims a sysfs attribute.
func ReadString(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

// Write writes value to a sysfs attribute. Sysfs write() calls are
// single-shot; no append, no partial writes.
func Write(path, value string) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()
	if _, err := f.WriteString(value); err != nil {
		return fmt.Errorf("writing %q to %s: %w", value, path, err)
	}
	return nil
}

// Exists reports whether path exists, swallowing all errors other than
// "not found" as false (matching the probe's "absent means unsupported"
// treatment of these paths).
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
