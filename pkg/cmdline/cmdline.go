// Package cmdline parses /proc/cmdline looking for nvidia-drm.modeset and
// supergfxd.mode, the two kernel boot flags that influence the initial
// hardware profile.
package cmdline

import (
	"os"
	"strings"

	v1 "github.com/asus-linux/supergfxd/api/v1"
)

// Path is the file read by Parse; overridden in tests.
var Path = "/proc/cmdline"

// Flags holds the kernel cmdline values the probe cares about.
type Flags struct {
	NvidiaModesetEnabled bool
	Mode                 v1.Mode
	HasMode              bool
}

// Parse reads and parses Path. A missing file (e.g. non-Linux test host)
// yields a zero Flags and no error, matching the probe's "absent means
// unmanaged" treatment of optional inputs.
func Parse() (Flags, error) {
	b, err := os.ReadFile(Path)
	if err != nil {
		if os.IsNotExist(err) {
			return Flags{}, nil
		}
		return Flags{}, err
	}
	return ParseString(string(b)), nil
}

// ParseString parses a raw cmdline string; split out so tests don't need
// to touch the filesystem.
func ParseString(cmdline string) Flags {
	var f Flags
	for _, tok := range strings.Fields(cmdline) {
		switch {
		case tok == "nvidia-drm.modeset=1":
			f.NvidiaModesetEnabled = true
		case strings.HasPrefix(strings.ToLower(tok), "supergfxd.mode="):
			parts := strings.SplitN(tok, "=", 2)
			if len(parts) == 2 {
				if m, err := v1.ParseMode(parts[1]); err == nil {
					f.Mode = m
					f.HasMode = true
				}
			}
		}
	}
	return f
}
