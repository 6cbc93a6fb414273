// Package kernelmodule wraps modprobe/rmmod and /proc/modules so the
// planner's LoadModule/UnloadModule actions and the hardware probe's
// "is vfio loadable" check share one seam.
package kernelmodule

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// seams, overridden in tests.
var (
	lookPath        = exec.LookPath
	cmdRun          = func(name string, args ...string) error { return exec.Command(name, args...).Run() }
	cmdOutput       = func(name string, args ...string) ([]byte, error) { return exec.Command(name, args...).Output() }
	procModulesPath = "/proc/modules"
)

// Load runs "modprobe <name>".
func Load(name string) error {
	if err := cmdRun("modprobe", name); err != nil {
		return fmt.Errorf("modprobe %s: %w", name, err)
	}
	return nil
}

// Unload runs "rmmod <name>".
func Unload(name string) error {
	if err := cmdRun("rmmod", name); err != nil {
		return fmt.Errorf("rmmod %s: %w", name, err)
	}
	return nil
}

// Loadable reports whether modprobe is available to load modules at all;
// it does not guarantee a specific module exists.
func Loadable() bool {
	_, err := lookPath("modprobe")
	return err == nil
}

// Loaded reports whether name appears as a line in /proc/modules.
// Available reports whether name can be loaded: either already resident,
// or known to modinfo (present under /lib/modules for the running kernel).
func Available(name string) bool {
	if loaded, _ := Loaded(name); loaded {
		return true
	}
	_, err := cmdOutput("modinfo", name)
	return err == nil
}

func Loaded(name string) (bool, error) {
	b, err := os.ReadFile(procModulesPath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	for _, line := range strings.Split(string(b), "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if fields[0] == name {
			return true, nil
		}
	}
	return false, nil
}
