// Package pci enumerates PCI devices through sysfs, grounded on the
// teacher's pkg/pci device-listing style (a flat Device/Devices type,
// one exported List) but reading the live PCI topology the hardware probe
// needs rather than ACS bridge state.
package pci

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	v1 "github.com/asus-linux/supergfxd/api/v1"
	"github.com/asus-linux/supergfxd/pkg/sysfs"
)

// ClassDisplayControllerPrefix is the PCI class prefix for GPUs
// ("0x03xxxx").
const ClassDisplayControllerPrefix = "0x03"

// Device is one entry under /sys/bus/pci/devices.
type Device struct {
	Address    v1.DomainBusDeviceFunction `json:"address"`
	Class      string                     `json:"class"`
	VendorID   string                     `json:"vendor_id"`
	DeviceID   string                     `json:"device_id"`
	Driver     string                     `json:"driver,omitempty"`
	BootVGA    bool                       `json:"boot_vga"`
	PowerState string                     `json:"power_state,omitempty"`
}

// Devices is a list of Device, kept as a distinct type for JSON/YAML
// rendering symmetry with HardwareProfile.
type Devices []Device

// IsDisplayController reports whether the device's class is a VGA/3D/
// display controller ("PCI class 0x03xxxx").
func (d Device) IsDisplayController() bool {
	return strings.HasPrefix(d.Class, ClassDisplayControllerPrefix)
}

// List enumerates every device under /sys/bus/pci/devices.
func List() (Devices, error) {
	root := sysfs.Path("bus", "pci", "devices")
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", root, err)
	}

	devices := make(Devices, 0, len(entries))
	for _, e := range entries {
		addr := v1.DomainBusDeviceFunction(e.Name())
		dev, err := readDevice(root, addr)
		if err != nil {
			continue
		}
		devices = append(devices, dev)
	}
	return devices, nil
}

func readDevice(root string, addr v1.DomainBusDeviceFunction) (Device, error) {
	devDir := filepath.Join(root, string(addr))

	class, err := sysfs.ReadString(filepath.Join(devDir, "class"))
	if err != nil {
		return Device{}, err
	}
	vendor, _ := sysfs.ReadString(filepath.Join(devDir, "vendor"))
	device, _ := sysfs.ReadString(filepath.Join(devDir, "device"))

	driver := ""
	if target, err := os.Readlink(filepath.Join(devDir, "driver")); err == nil {
		driver = filepath.Base(target)
	}

	bootVGA := false
	if raw, err := sysfs.ReadString(filepath.Join(devDir, "boot_vga")); err == nil {
		if v, err := strconv.Atoi(raw); err == nil {
			bootVGA = v == 1
		}
	}

	powerState, _ := sysfs.ReadString(filepath.Join(devDir, "power", "runtime_status"))

	return Device{
		Address:    addr,
		Class:      class,
		VendorID:   vendor,
		DeviceID:   device,
		Driver:     driver,
		BootVGA:    bootVGA,
		PowerState: powerState,
	}, nil
}

// Rescan writes "1" to /sys/bus/pci/rescan.
func Rescan() error {
	return sysfs.Write(sysfs.Path("bus", "pci", "rescan"), "1")
}

// Remove writes "1" to <addr>/remove.
func Remove(addr v1.DomainBusDeviceFunction) error {
	return sysfs.Write(sysfs.Path("bus", "pci", "devices", string(addr), "remove"), "1")
}

// SetDriverOverride writes driver to <addr>/driver_override.
func SetDriverOverride(addr v1.DomainBusDeviceFunction, driver string) error {
	return sysfs.Write(sysfs.Path("bus", "pci", "devices", string(addr), "driver_override"), driver)
}

// Bind writes addr to /sys/bus/pci/drivers/<driver>/bind.
func Bind(addr v1.DomainBusDeviceFunction, driver string) error {
	return sysfs.Write(sysfs.Path("bus", "pci", "drivers", driver, "bind"), string(addr))
}

// Unbind writes addr to <addr>/driver/unbind.
func Unbind(addr v1.DomainBusDeviceFunction, _ string) error {
	return sysfs.Write(sysfs.Path("bus", "pci", "devices", string(addr), "driver", "unbind"), string(addr))
}

// SetRuntimePM writes state ("auto"|"on") to <addr>/power/control.
func SetRuntimePM(addr v1.DomainBusDeviceFunction, state string) error {
	return sysfs.Write(sysfs.Path("bus", "pci", "devices", string(addr), "power", "control"), state)
}

// PowerStatus reads <addr>/power/runtime_status and maps it onto
// v1.PowerStatus.
func PowerStatus(addr v1.DomainBusDeviceFunction) (v1.PowerStatus, error) {
	raw, err := sysfs.ReadString(sysfs.Path("bus", "pci", "devices", string(addr), "power", "runtime_status"))
	if err != nil {
		return v1.PowerUnknown, err
	}
	switch raw {
	case "active":
		return v1.PowerActive, nil
	case "suspended":
		return v1.PowerSuspended, nil
	case "":
		return v1.PowerOff, nil
	default:
		return v1.PowerUnknown, nil
	}
}
