// Package v1 defines the data model and RPC surface that the mode-transition
// core exposes to its collaborators (the CLI front-end and the message-bus
// binding). Types here are wire-shaped but transport-agnostic: nothing in
// this package depends on D-Bus, HTTP, or any particular codec.
package v1

import (
	"fmt"
	"strings"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/yaml"
)

// Mode is the graphics configuration the daemon can switch the machine into.
type Mode string

const (
	ModeHybrid           Mode = "Hybrid"
	ModeIntegrated       Mode = "Integrated"
	ModeVfio             Mode = "Vfio"
	ModeAsusEgpu         Mode = "AsusEgpu"
	ModeAsusMuxDgpu      Mode = "AsusMuxDgpu"
	ModeNvidiaNoModeset  Mode = "NvidiaNoModeset"
	ModeNone             Mode = "None"
)

// ParseMode accepts mode names case-insensitively, as required by the
// persisted-config and kernel-cmdline surfaces.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "hybrid":
		return ModeHybrid, nil
	case "integrated":
		return ModeIntegrated, nil
	case "vfio":
		return ModeVfio, nil
	case "asusegpu":
		return ModeAsusEgpu, nil
	case "asusmuxdgpu":
		return ModeAsusMuxDgpu, nil
	case "nvidianomodeset":
		return ModeNvidiaNoModeset, nil
	case "none", "":
		return ModeNone, nil
	default:
		return "", fmt.Errorf("unrecognized mode %q", s)
	}
}

func (m Mode) String() string { return string(m) }

// Vendor identifies the silicon vendor of the discrete GPU.
type Vendor string

const (
	VendorNvidia  Vendor = "Nvidia"
	VendorAmd     Vendor = "Amd"
	VendorIntel   Vendor = "Intel"
	VendorUnknown Vendor = "Unknown"
)

// PCI vendor IDs relevant to dGPU candidate selection.
const (
	PCIVendorIDNvidia = "0x10de"
	PCIVendorIDAMD    = "0x1002"
	PCIVendorIDIntel  = "0x8086"
)

// HotplugType selects how the daemon removes/re-adds the dGPU from the PCI
// topology when moving to/from Integrated mode.
type HotplugType string

const (
	HotplugNone HotplugType = "None"
	HotplugStd  HotplugType = "Std"
	HotplugAsus HotplugType = "Asus"
)

// RequiredUserAction is the minimal user-visible step the daemon needs
// before a transition completes.
type RequiredUserAction string

const (
	ActionNothing             RequiredUserAction = "Nothing"
	ActionLogout              RequiredUserAction = "Logout"
	ActionReboot              RequiredUserAction = "Reboot"
	ActionSwitchMuxAndReboot  RequiredUserAction = "SwitchMuxAndReboot"
	ActionAsusEgpuDisable     RequiredUserAction = "AsusEgpuDisable"
)

// PowerStatus is derived from the dGPU's runtime PM sysfs node.
type PowerStatus string

const (
	PowerActive    PowerStatus = "Active"
	PowerSuspended PowerStatus = "Suspended"
	PowerOff       PowerStatus = "Off"
	PowerUnknown   PowerStatus = "Unknown"
)

// SysfsPath is a path to a writable 0/1 sysfs attribute, kept as a distinct
// type so planner/executor code never confuses it with an arbitrary string.
type SysfsPath string

// DomainBusDeviceFunction is a PCI address in "dddd:bb:dd.f" form, e.g.
// "0000:01:00.0".
type DomainBusDeviceFunction string

func (d DomainBusDeviceFunction) String() string { return string(d) }

// HardwareProfile is immutable after a probe; a fresh one is produced at
// daemon init and again on resume-from-suspend.
type HardwareProfile struct {
	DGPUAddress  DomainBusDeviceFunction `json:"dgpu_address,omitempty"`
	DGPUVendor   Vendor                  `json:"dgpu_vendor"`
	DGPUDeviceID string                  `json:"dgpu_device_id,omitempty"`

	AsusDgpuDisable SysfsPath `json:"asus_dgpu_disable,omitempty"`
	AsusEgpuEnable  SysfsPath `json:"asus_egpu_enable,omitempty"`
	AsusGpuMuxMode  SysfsPath `json:"asus_gpu_mux_mode,omitempty"`

	NvidiaModesetEnabled bool `json:"nvidia_modeset_enabled"`

	Supported []Mode `json:"supported"`

	ProbedAt metav1.Time `json:"probed_at"`
}

// HasDGPU reports whether a dGPU candidate was found during probing.
func (h *HardwareProfile) HasDGPU() bool {
	return h != nil && h.DGPUAddress != ""
}

// SupportsMode reports whether m is in the supported set.
func (h *HardwareProfile) SupportsMode(m Mode) bool {
	if h == nil {
		return false
	}
	for _, s := range h.Supported {
		if s == m {
			return true
		}
	}
	return false
}

func (h *HardwareProfile) String() string {
	if h == nil {
		return ""
	}
	b, err := yaml.Marshal(h)
	if err != nil {
		return fmt.Sprintf("error marshaling hardware profile: %v", err)
	}
	return string(b)
}

// Config is the daemon's persisted configuration. Persistence itself is an
// external concern (pkg/config.Persistence); this type is the value that
// flows through the core.
type Config struct {
	Mode HotplugAwareMode `json:"mode"`

	VfioEnable bool `json:"vfio_enable"`
	VfioSave   bool `json:"vfio_save"`

	AlwaysReboot bool `json:"always_reboot"`
	NoLogind     bool `json:"no_logind"`

	LogoutTimeout metav1.Duration `json:"logout_timeout"`

	HotplugType HotplugType `json:"hotplug_type"`

	// AsusSettleDelay is the minimum time to wait after writing
	// dgpu_disable=1 before considering the transition settled
	// Floor is 500ms; configurable above that.
	AsusSettleDelay metav1.Duration `json:"asus_settle_delay"`

	Annotations map[string]string `json:"annotations,omitempty"`
}

// HotplugAwareMode is just Mode; named separately so config.Config.Mode's
// JSON field is self-documenting without importing planner semantics here.
type HotplugAwareMode = Mode

// DefaultLogoutTimeoutSeconds is the out-of-the-box wait before a pending
// logout-gated transition gives up; 0 means wait forever.
const DefaultLogoutTimeoutSeconds = 180

// DefaultAsusSettleDelayMillis is the default settle delay after ASUS
// dgpu_disable writes; the planner never waits less than 500ms.
const DefaultAsusSettleDelayMillis = 600

func (c *Config) String() string {
	if c == nil {
		return ""
	}
	b, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Sprintf("error marshaling config: %v", err)
	}
	return string(b)
}

// Validate checks field-level invariants that do not depend on hardware.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("nil config")
	}
	switch c.HotplugType {
	case HotplugNone, HotplugStd, HotplugAsus:
	default:
		return fmt.Errorf("invalid hotplug_type %q", c.HotplugType)
	}
	if c.LogoutTimeout.Duration < 0 {
		return fmt.Errorf("logout_timeout must be >= 0")
	}
	return nil
}

// PendingState is persisted so a reboot/logout completes the transition on
// the next boot.
type PendingState struct {
	TargetMode     Mode               `json:"target_mode"`
	RequiredAction RequiredUserAction `json:"required_action"`
	SourceMode     Mode               `json:"source_mode"`
	CreatedAt      metav1.Time        `json:"created_at"`
}

func (p *PendingState) String() string {
	if p == nil {
		return ""
	}
	b, err := yaml.Marshal(p)
	if err != nil {
		return fmt.Sprintf("error marshaling pending state: %v", err)
	}
	return string(b)
}

// Event is a notification the controller emits on the RPC surface's signal
// channels.
type Event struct {
	ID      string      `json:"id"`
	Time    metav1.Time `json:"time"`
	Kind    EventKind   `json:"kind"`
	Mode    Mode        `json:"mode,omitempty"`
	Action  RequiredUserAction `json:"action,omitempty"`
	Status  PowerStatus `json:"status,omitempty"`
	Message string      `json:"message,omitempty"`
}

// EventKind discriminates which Notify* signal an Event carries.
type EventKind string

const (
	EventNotifyGfx       EventKind = "NotifyGfx"
	EventNotifyAction    EventKind = "NotifyAction"
	EventNotifyGfxStatus EventKind = "NotifyGfxStatus"
)

func nowUTC() metav1.Time { return metav1.NewTime(timeNow().UTC()) }

// timeNow is a package-level indirection so tests can freeze time without
// reaching into every caller.
var timeNow = time.Now
