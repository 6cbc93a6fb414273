package planner

import (
	"fmt"
	"time"

	v1 "github.com/asus-linux/supergfxd/api/v1"
	"github.com/asus-linux/supergfxd/pkg/errdefs"
)

// minAsusSettle is the floor for how long a dgpu_disable write needs to settle.
const minAsusSettle = 500 * time.Millisecond

// stdRescanSettle is the settle window after a Std-hotplug PCI remove.
const stdRescanSettle = 250 * time.Millisecond

func graphicsModules(vendor v1.Vendor) []string {
	switch vendor {
	case v1.VendorNvidia:
		return []string{"nvidia_drm", "nvidia_modeset", "nvidia_uvm", "nvidia"}
	case v1.VendorAmd:
		return []string{"amdgpu"}
	default:
		return nil
	}
}

func unloadActions(modules []string) []Action {
	actions := make([]Action, 0, len(modules))
	for _, m := range modules {
		actions = append(actions, UnloadModule(m))
	}
	return actions
}

func loadActions(modules []string) []Action {
	actions := make([]Action, 0, len(modules))
	for i := len(modules) - 1; i >= 0; i-- {
		actions = append(actions, LoadModule(modules[i]))
	}
	return actions
}

// Compile is the pure planner entrypoint. The returned Plan
// is deterministic in (from, to, profile, config) and performs no I/O.
func Compile(from, to v1.Mode, profile *v1.HardwareProfile, cfg *v1.Config) (*Plan, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	if to == from {
		return &Plan{RequiredAction: v1.ActionNothing}, nil
	}
	if profile != nil && !profile.SupportsMode(to) {
		return nil, fmt.Errorf("%w: %s", errdefs.ErrUnsupported, to)
	}

	var plan *Plan
	var err error

	switch to {
	case v1.ModeIntegrated:
		plan, err = compileToIntegrated(from, profile, cfg)
	case v1.ModeHybrid:
		plan, err = compileToHybrid(from, profile, cfg)
	case v1.ModeVfio:
		plan, err = compileToVfio(from, profile, cfg)
	case v1.ModeAsusMuxDgpu:
		plan, err = compileToAsusMuxDgpu(from, profile, cfg)
	case v1.ModeAsusEgpu:
		plan, err = compileToAsusEgpu(from, profile, cfg)
	case v1.ModeNvidiaNoModeset:
		plan, err = compileToNvidiaNoModeset(from, cfg)
	default:
		return nil, fmt.Errorf("no planner rule for target mode %s", to)
	}
	if err != nil {
		return nil, err
	}

	// Global override: always_reboot or an active kernel modeset lock
	// forces every transition onto the next-boot path. compileToAsusMuxDgpu
	// and compileToNvidiaNoModeset already set DeferToNextBoot themselves
	// with only the actions that must run before reboot (a mux register
	// write, or nothing but the persist); for every other target this
	// branch discards the synchronous action list and replaces it with a
	// bare persist, since those actions are recorded for execution on
	// next boot rather than executed now, and are replayed by the
	// boot-time resume once the reboot has happened.
	if !plan.DeferToNextBoot && (cfg.AlwaysReboot || (profile != nil && profile.NvidiaModesetEnabled)) {
		plan.Actions = []Action{PersistPending(to, v1.ActionReboot)}
		plan.RequiredAction = v1.ActionReboot
		plan.DeferToNextBoot = true
	}
	return plan, nil
}

func compileToIntegrated(from v1.Mode, profile *v1.HardwareProfile, cfg *v1.Config) (*Plan, error) {
	vendor := v1.VendorUnknown
	addr := v1.DomainBusDeviceFunction("")
	if profile != nil {
		vendor = profile.DGPUVendor
		addr = profile.DGPUAddress
	}

	required := v1.ActionNothing
	if from == v1.ModeHybrid {
		required = v1.ActionLogout
	}

	actions := []Action{}
	actions = append(actions, unloadActions(graphicsModules(vendor))...)

	switch cfg.HotplugType {
	case v1.HotplugAsus:
		if profile != nil && profile.AsusDgpuDisable != "" {
			actions = append(actions, WriteSysfs(profile.AsusDgpuDisable, "1"))
		}
		delay := cfg.AsusSettleDelay.Duration
		if delay < minAsusSettle {
			delay = minAsusSettle
		}
		actions = append(actions, WaitSettle(delay))
	default: // Std or None: PCI remove/rescan path
		if addr != "" {
			actions = append(actions, PciRemove(addr))
		}
		actions = append(actions, WaitSettle(stdRescanSettle))
	}

	return &Plan{RequiredAction: required, Actions: actions}, nil
}

func compileToHybrid(from v1.Mode, profile *v1.HardwareProfile, cfg *v1.Config) (*Plan, error) {
	vendor := v1.VendorUnknown
	if profile != nil {
		vendor = profile.DGPUVendor
	}

	// Logout is required from any dGPU-bound mode; Integrated and
	// None have already released/never held the dGPU, so re-engaging it
	// for Hybrid needs no session coordination.
	required := v1.ActionNothing
	switch from {
	case v1.ModeVfio, v1.ModeAsusEgpu, v1.ModeAsusMuxDgpu, v1.ModeNvidiaNoModeset:
		required = v1.ActionLogout
	}

	actions := []Action{}
	if cfg.HotplugType == v1.HotplugAsus && profile != nil && profile.AsusDgpuDisable != "" {
		actions = append(actions, WriteSysfs(profile.AsusDgpuDisable, "0"))
	}
	actions = append(actions, PciRescan())
	actions = append(actions, loadActions(graphicsModules(vendor))...)

	return &Plan{RequiredAction: required, Actions: actions}, nil
}

func compileToVfio(from v1.Mode, profile *v1.HardwareProfile, cfg *v1.Config) (*Plan, error) {
	if !cfg.VfioEnable {
		return nil, fmt.Errorf("vfio_enable is false in config")
	}

	vendor := v1.VendorUnknown
	addr := v1.DomainBusDeviceFunction("")
	prevDriver := "nvidia"
	if profile != nil {
		vendor = profile.DGPUVendor
		addr = profile.DGPUAddress
		if vendor == v1.VendorAmd {
			prevDriver = "amdgpu"
		}
	}

	required := v1.ActionNothing
	if from == v1.ModeHybrid {
		required = v1.ActionLogout
	}

	actions := []Action{}
	if from == v1.ModeHybrid {
		// Only Hybrid leaves the graphics driver loaded; every other
		// mode has already unbound it (the literal
		// Integrated->Vfio action list carries no UnloadModule steps).
		actions = append(actions, unloadActions(graphicsModules(vendor))...)
	}
	actions = append(actions,
		LoadModule("vfio"),
		LoadModule("vfio_pci"),
		LoadModule("vfio_iommu_type1"),
	)
	if addr != "" {
		actions = append(actions,
			DriverOverride(addr, "vfio-pci"),
			Unbind(addr, prevDriver),
			Bind(addr, "vfio-pci"),
		)
	}

	return &Plan{RequiredAction: required, Actions: actions}, nil
}

func compileToAsusMuxDgpu(from v1.Mode, profile *v1.HardwareProfile, cfg *v1.Config) (*Plan, error) {
	actions := []Action{}
	if profile != nil && profile.AsusGpuMuxMode != "" {
		actions = append(actions, WriteSysfs(profile.AsusGpuMuxMode, "0"))
	}
	actions = append(actions, PersistPending(v1.ModeAsusMuxDgpu, v1.ActionSwitchMuxAndReboot))
	return &Plan{
		RequiredAction:  v1.ActionSwitchMuxAndReboot,
		Actions:         actions,
		DeferToNextBoot: true,
	}, nil
}

func compileToAsusEgpu(from v1.Mode, profile *v1.HardwareProfile, cfg *v1.Config) (*Plan, error) {
	required := v1.ActionAsusEgpuDisable
	if from == v1.ModeAsusEgpu {
		required = v1.ActionNothing
	} else if from == v1.ModeHybrid {
		required = v1.ActionLogout
	}

	actions := []Action{}
	if profile != nil && profile.AsusEgpuEnable != "" {
		actions = append(actions, WriteSysfs(profile.AsusEgpuEnable, "1"))
	}
	actions = append(actions, PciRescan())
	actions = append(actions, loadActions(graphicsModules(v1.VendorNvidia))...)

	return &Plan{RequiredAction: required, Actions: actions}, nil
}

func compileToNvidiaNoModeset(from v1.Mode, cfg *v1.Config) (*Plan, error) {
	actions := []Action{
		PersistPending(v1.ModeNvidiaNoModeset, v1.ActionReboot),
	}
	return &Plan{
		RequiredAction:  v1.ActionReboot,
		Actions:         actions,
		DeferToNextBoot: true,
	}, nil
}
