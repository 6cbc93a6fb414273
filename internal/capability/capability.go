// Package capability resolves which modes a machine supports given a
// hardware profile and the persisted config, the rules a probed profile
// alone can't answer (vfio needs config.vfio_enable, ASUS modes need
// the matching sysfs knob to exist).
package capability

import (
	v1 "github.com/asus-linux/supergfxd/api/v1"
)

// Resolve computes the supported mode set for a machine. vfioModulesLoadable
// reflects whether the vfio/vfio_pci/vfio_iommu_type1 modules can be loaded
// on this kernel; callers typically derive it from pkg/kernelmodule.
func Resolve(profile *v1.HardwareProfile, cfg *v1.Config, vfioModulesLoadable bool) []v1.Mode {
	if profile == nil || !profile.HasDGPU() {
		return nil
	}

	modes := []v1.Mode{v1.ModeIntegrated, v1.ModeHybrid}

	if cfg != nil && cfg.VfioEnable && vfioModulesLoadable {
		modes = append(modes, v1.ModeVfio)
	}
	if profile.AsusEgpuEnable != "" {
		modes = append(modes, v1.ModeAsusEgpu)
	}
	if profile.AsusGpuMuxMode != "" {
		modes = append(modes, v1.ModeAsusMuxDgpu)
	}
	if profile.DGPUVendor == v1.VendorNvidia {
		modes = append(modes, v1.ModeNvidiaNoModeset)
	}
	return modes
}
