// Package asus probes and drives the asus-nb-wmi platform sysfs knobs
// dgpu_disable, egpu_enable, gpu_mux_mode. Paths are
// probed, never hard-coded, since not every ASUS laptop exposes all three.
package asus

import (
	v1 "github.com/asus-linux/supergfxd/api/v1"
	"github.com/asus-linux/supergfxd/pkg/sysfs"
)

const platformDevice = "asus-nb-wmi"

func knobPath(name string) v1.SysfsPath {
	return v1.SysfsPath(sysfs.Path("bus", "platform", "devices", platformDevice, name))
}

// Knobs is the set of platform attributes found on this machine; an empty
// field means the knob doesn't exist here.
type Knobs struct {
	DgpuDisable v1.SysfsPath
	EgpuEnable  v1.SysfsPath
	GpuMuxMode  v1.SysfsPath
}

// Probe checks for each knob's presence under the platform device.
func Probe() Knobs {
	var k Knobs
	if p := knobPath("dgpu_disable"); sysfs.Exists(string(p)) {
		k.DgpuDisable = p
	}
	if p := knobPath("egpu_enable"); sysfs.Exists(string(p)) {
		k.EgpuEnable = p
	}
	if p := knobPath("gpu_mux_mode"); sysfs.Exists(string(p)) {
		k.GpuMuxMode = p
	}
	return k
}

// ReadBoolKnob reads a 0/1 knob as a bool; absent knobs read as false.
func ReadBoolKnob(path v1.SysfsPath) (bool, error) {
	if path == "" {
		return false, nil
	}
	v, err := sysfs.ReadString(string(path))
	if err != nil {
		return false, err
	}
	return v == "1", nil
}

// ReadMuxMode reads gpu_mux_mode: 0 = dGPU-MUX, 1 = Optimus.
func ReadMuxMode(path v1.SysfsPath) (int, error) {
	if path == "" {
		return -1, nil
	}
	v, err := sysfs.ReadString(string(path))
	if err != nil {
		return -1, err
	}
	if v == "0" {
		return 0, nil
	}
	return 1, nil
}
