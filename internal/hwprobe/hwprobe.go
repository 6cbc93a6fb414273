// Package hwprobe builds the HardwareProfile and infers the initial Mode
// by reading PCI topology, ASUS platform knobs, and the kernel cmdline.
// A probe never fails the daemon: every error narrows the result toward
// Mode::None with an empty supported set instead of propagating up.
package hwprobe

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	v1 "github.com/asus-linux/supergfxd/api/v1"
	"github.com/asus-linux/supergfxd/internal/capability"
	"github.com/asus-linux/supergfxd/pkg/asus"
	"github.com/asus-linux/supergfxd/pkg/cmdline"
	"github.com/asus-linux/supergfxd/pkg/kernelmodule"
	"github.com/asus-linux/supergfxd/pkg/pci"
	"github.com/asus-linux/supergfxd/pkg/sysfs"
)

// cacheTTL bounds how long a probe result is reused across repeated
// Probe calls (the controller queries the profile far more often than
// the underlying PCI/sysfs state actually changes). Resume-from-suspend
// invalidates explicitly via Invalidate rather than waiting out the TTL,
// matching "re-probed on resume".
const cacheTTL = 5 * time.Second

const cacheKey = "hardware-profile"

var resultCache = gocache.New(cacheTTL, 2*cacheTTL)

// vfioModules are checked together to decide whether Vfio can be offered
// at all.
var vfioModules = []string{"vfio", "vfio_pci", "vfio_iommu_type1"}

// Result is everything the probe determined about the machine.
type Result struct {
	Profile *v1.HardwareProfile
	Mode    v1.Mode
}

// Probe enumerates PCI devices, inspects the dGPU candidate's driver
// binding and the ASUS platform knobs, and returns the resulting profile
// together with the mode it infers the machine is currently in. Probe
// always reads live state; callers on a hot path (repeated RPC reads)
// should use CachedProbe instead.
func Probe(cfg *v1.Config) (*Result, error) {
	profile := &v1.HardwareProfile{ProbedAt: metav1.Time{Time: probeTime()}}

	devices, err := pci.List()
	if err != nil {
		return &Result{Profile: profile, Mode: v1.ModeNone}, nil
	}

	candidate, ok := pickDGPU(devices)
	if !ok {
		return &Result{Profile: profile, Mode: v1.ModeNone}, nil
	}
	profile.DGPUAddress = candidate.Address
	profile.DGPUVendor = vendorOf(candidate.VendorID)
	profile.DGPUDeviceID = candidate.DeviceID

	knobs := asus.Probe()
	profile.AsusDgpuDisable = knobs.DgpuDisable
	profile.AsusEgpuEnable = knobs.EgpuEnable
	profile.AsusGpuMuxMode = knobs.GpuMuxMode

	flags, _ := cmdline.Parse()
	profile.NvidiaModesetEnabled = flags.NvidiaModesetEnabled

	vfioLoadable := true
	for _, m := range vfioModules {
		if !kernelmodule.Available(m) {
			vfioLoadable = false
			break
		}
	}
	profile.Supported = capability.Resolve(profile, cfg, vfioLoadable)

	mode := inferMode(candidate, knobs)
	return &Result{Profile: profile, Mode: mode}, nil
}

// probeTime is split out because the workflow sandbox forbids time.Now at
// the call site from being exercised against a fixed clock in tests; real
// callers always use the wall clock.
var probeTime = func() time.Time { return time.Now() }

// CachedProbe serves Probe's result out of a short-TTL cache so frequent
// read-only RPC callers (GetPowerStatus, status polling) don't
// each force a fresh PCI/sysfs walk. Call Invalidate after any event that
// actually changes hardware state.
func CachedProbe(cfg *v1.Config) (*Result, error) {
	if cached, ok := resultCache.Get(cacheKey); ok {
		return cached.(*Result), nil
	}
	result, err := Probe(cfg)
	if err != nil {
		return result, err
	}
	resultCache.Set(cacheKey, result, gocache.DefaultExpiration)
	return result, nil
}

// Invalidate drops the cached probe result so the next CachedProbe call
// reads live state; the session coordinator's resume callback and the
// controller (after a completed transition) both call this.
func Invalidate() {
	resultCache.Delete(cacheKey)
}

func pickDGPU(devices pci.Devices) (pci.Device, bool) {
	var nvidia, amd *pci.Device
	for i := range devices {
		d := devices[i]
		if !d.IsDisplayController() || d.BootVGA {
			continue
		}
		switch d.VendorID {
		case pciVendorNvidia:
			if nvidia == nil {
				nvidia = &devices[i]
			}
		case pciVendorAMD:
			if amd == nil {
				amd = &devices[i]
			}
		}
	}
	if nvidia != nil {
		return *nvidia, true
	}
	if amd != nil {
		return *amd, true
	}
	return pci.Device{}, false
}

const (
	pciVendorNvidia = v1.PCIVendorIDNvidia
	pciVendorAMD    = v1.PCIVendorIDAMD
)

func vendorOf(vendorID string) v1.Vendor {
	switch vendorID {
	case v1.PCIVendorIDNvidia:
		return v1.VendorNvidia
	case v1.PCIVendorIDAMD:
		return v1.VendorAmd
	case v1.PCIVendorIDIntel:
		return v1.VendorIntel
	default:
		return v1.VendorUnknown
	}
}

func inferMode(d pci.Device, knobs asus.Knobs) v1.Mode {
	switch d.Driver {
	case "vfio-pci":
		return v1.ModeVfio
	case "nvidia", "amdgpu", "nouveau":
		return v1.ModeHybrid
	}

	if d.Driver == "" {
		powerControl, _ := sysfs.ReadString(sysfs.Path("bus", "pci", "devices", string(d.Address), "power", "control"))
		dgpuDisabled, _ := asus.ReadBoolKnob(knobs.DgpuDisable)
		if powerControl == "auto" && d.PowerState == "suspended" && dgpuDisabled {
			return v1.ModeIntegrated
		}
	}

	if muxMode, err := asus.ReadMuxMode(knobs.GpuMuxMode); err == nil && muxMode == 0 {
		return v1.ModeAsusMuxDgpu
	}
	if egpuEnabled, _ := asus.ReadBoolKnob(knobs.EgpuEnable); egpuEnabled {
		return v1.ModeAsusEgpu
	}

	return v1.ModeHybrid
}
