// Package planner compiles a (from, to, profile, config) transition into a
// deterministic, side-effect-free action plan. Nothing in
// this package touches the filesystem; internal/executor interprets the
// plan it produces.
package planner

import (
	"fmt"
	"time"

	v1 "github.com/asus-linux/supergfxd/api/v1"
)

// ActionKind discriminates an Action's variant; the executor dispatches on
// this rather than on the Action's concrete Go type so the plan stays a
// flat, comparable value so whole plans can be asserted with assert.Equal.
type ActionKind string

const (
	ActionLoadModule           ActionKind = "LoadModule"
	ActionUnloadModule         ActionKind = "UnloadModule"
	ActionWriteSysfs           ActionKind = "WriteSysfs"
	ActionPciRescan            ActionKind = "PciRescan"
	ActionPciRemove            ActionKind = "PciRemove"
	ActionDriverOverride       ActionKind = "DriverOverride"
	ActionBind                 ActionKind = "Bind"
	ActionUnbind               ActionKind = "Unbind"
	ActionWaitSettle           ActionKind = "WaitSettle"
	ActionCheckNoGraphicalSess ActionKind = "CheckNoGraphicalSessions"
	ActionSetRuntimePm         ActionKind = "SetRuntimePm"
	ActionPersistPending       ActionKind = "PersistPending"
)

// Action is one executor primitive. Only the fields relevant
// to Kind are populated; the zero value of the others is ignored.
type Action struct {
	Kind ActionKind

	ModuleName string

	SysfsPath  v1.SysfsPath
	SysfsValue string

	PciAddress v1.DomainBusDeviceFunction
	Driver     string

	SettleFor time.Duration

	RuntimePmState string // "auto" | "on"

	PendingMode   v1.Mode
	PendingAction v1.RequiredUserAction
}

func (a Action) String() string {
	switch a.Kind {
	case ActionLoadModule, ActionUnloadModule:
		return fmt.Sprintf("%s(%s)", a.Kind, a.ModuleName)
	case ActionWriteSysfs:
		return fmt.Sprintf("%s(%s=%s)", a.Kind, a.SysfsPath, a.SysfsValue)
	case ActionPciRemove, ActionDriverOverride, ActionBind, ActionUnbind, ActionSetRuntimePm:
		return fmt.Sprintf("%s(%s)", a.Kind, a.PciAddress)
	case ActionWaitSettle:
		return fmt.Sprintf("%s(%s)", a.Kind, a.SettleFor)
	case ActionPersistPending:
		return fmt.Sprintf("%s(%s,%s)", a.Kind, a.PendingMode, a.PendingAction)
	default:
		return string(a.Kind)
	}
}

// Plan is the planner's output: an ordered action list plus the minimal
// user-visible step needed before the plan is considered complete.
type Plan struct {
	RequiredAction v1.RequiredUserAction
	Actions        []Action

	// DeferToNextBoot is true when the target mode only takes effect
	// after a reboot (or a MUX switch and reboot): Actions then hold just
	// the steps that run now, before that reboot (a MUX register write,
	// the pending-state persist). Logout-gated plans are not deferred.
	DeferToNextBoot bool

	// DryRun marks a plan compiled for inspection only. Nothing in this
	// module sets it, and the executor does not check it.
	DryRun bool
}

func LoadModule(name string) Action   { return Action{Kind: ActionLoadModule, ModuleName: name} }
func UnloadModule(name string) Action { return Action{Kind: ActionUnloadModule, ModuleName: name} }

func WriteSysfs(path v1.SysfsPath, value string) Action {
	return Action{Kind: ActionWriteSysfs, SysfsPath: path, SysfsValue: value}
}

func PciRescan() Action { return Action{Kind: ActionPciRescan} }

func PciRemove(addr v1.DomainBusDeviceFunction) Action {
	return Action{Kind: ActionPciRemove, PciAddress: addr}
}

func DriverOverride(addr v1.DomainBusDeviceFunction, driver string) Action {
	return Action{Kind: ActionDriverOverride, PciAddress: addr, Driver: driver}
}

func Bind(addr v1.DomainBusDeviceFunction, driver string) Action {
	return Action{Kind: ActionBind, PciAddress: addr, Driver: driver}
}

func Unbind(addr v1.DomainBusDeviceFunction, driver string) Action {
	return Action{Kind: ActionUnbind, PciAddress: addr, Driver: driver}
}

func WaitSettle(d time.Duration) Action {
	return Action{Kind: ActionWaitSettle, SettleFor: d}
}

func CheckNoGraphicalSessions() Action {
	return Action{Kind: ActionCheckNoGraphicalSess}
}

func SetRuntimePm(addr v1.DomainBusDeviceFunction, state string) Action {
	return Action{Kind: ActionSetRuntimePm, PciAddress: addr, RuntimePmState: state}
}

func PersistPending(mode v1.Mode, action v1.RequiredUserAction) Action {
	return Action{Kind: ActionPersistPending, PendingMode: mode, PendingAction: action}
}
