// Package executor runs a compiled plan one action at a time, retrying
// transient failures with backoff and rolling back on fatal ones.
package executor

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/fsnotify/fsnotify"

	v1 "github.com/asus-linux/supergfxd/api/v1"
	"github.com/asus-linux/supergfxd/internal/hwprobe"
	"github.com/asus-linux/supergfxd/internal/planner"
	"github.com/asus-linux/supergfxd/internal/session"
	"github.com/asus-linux/supergfxd/pkg/config"
	"github.com/asus-linux/supergfxd/pkg/errdefs"
	"github.com/asus-linux/supergfxd/pkg/kernelmodule"
	"github.com/asus-linux/supergfxd/pkg/log"
	"github.com/asus-linux/supergfxd/pkg/pci"
	"github.com/asus-linux/supergfxd/pkg/sysfs"
)

// retryDelays is the fixed exponential-ish backoff schedule for transient
// action failures: 4 retries, last one giving up after ~1.65s total.
var retryDelays = []time.Duration{50 * time.Millisecond, 150 * time.Millisecond, 450 * time.Millisecond, 1000 * time.Millisecond}

// deviceSettleWindow is how long a rescan is given to make the dGPU
// visible again before the executor treats it as gone for good.
const deviceSettleWindow = 2 * time.Second

// Deps are the collaborators an Executor dispatches action primitives to.
type Deps struct {
	Session     session.Coordinator
	Persistence config.Persistence
	DGPUAddress v1.DomainBusDeviceFunction
}

// Transition bundles everything Execute needs to run a plan and, if it
// fails fatally, compile and run a best-effort rollback.
type Transition struct {
	From    v1.Mode
	To      v1.Mode
	Profile *v1.HardwareProfile
	Config  *v1.Config
	Plan    *planner.Plan

	// SkipPostCheck is set by callers running a plan whose actions are
	// only the subset meant to run before a reboot (Plan.DeferToNextBoot):
	// the observed mode can't match To yet, so the post-condition re-probe
	// would always fail and must be skipped.
	SkipPostCheck bool
}

// Executor runs plans produced by internal/planner.
type Executor struct {
	deps Deps
}

// New builds an Executor bound to deps.
func New(deps Deps) *Executor {
	return &Executor{deps: deps}
}

// Execute runs t.Plan's actions sequentially. On a fatal failure it
// attempts one rollback plan before returning the original error. On
// success it re-probes and reports ErrPostConditionNotMet if the observed
// mode doesn't match t.To.
func (e *Executor) Execute(ctx context.Context, t Transition) error {
	for _, action := range t.Plan.Actions {
		if err := e.runWithRetry(ctx, action); err != nil {
			log.Logger.Errorw("executor: action failed", "action", action.String(), "error", err)
			if errdefs.IsFatalIo(err) || errdefs.IsHardwareDisappeared(err) {
				if rerr := e.rollback(ctx, t); rerr != nil {
					log.Logger.Errorw("executor: rollback failed", "error", rerr)
				}
			}
			return err
		}
	}

	if t.SkipPostCheck {
		return nil
	}

	result, err := hwprobe.Probe(t.Config)
	if err != nil {
		return nil
	}
	if result.Mode != t.To {
		return fmt.Errorf("%w: expected %s observed %s", errdefs.ErrPostConditionNotMet, t.To, result.Mode)
	}
	return nil
}

func (e *Executor) rollback(ctx context.Context, t Transition) error {
	result, err := hwprobe.Probe(t.Config)
	if err != nil {
		return err
	}
	inverse, err := planner.Compile(result.Mode, t.From, t.Profile, t.Config)
	if err != nil {
		return err
	}
	for _, action := range inverse.Actions {
		if err := e.runWithRetry(ctx, action); err != nil {
			return err
		}
	}
	return nil
}

type fixedBackoff struct {
	delays []time.Duration
	idx    int
}

func (f *fixedBackoff) NextBackOff() time.Duration {
	if f.idx >= len(f.delays) {
		return backoff.Stop
	}
	d := f.delays[f.idx]
	f.idx++
	return d
}

func (e *Executor) runWithRetry(ctx context.Context, action planner.Action) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		if err := e.runOnce(ctx, action); err != nil {
			if !errdefs.IsTransientIo(err) {
				return struct{}{}, backoff.Permanent(err)
			}
			return struct{}{}, err
		}
		return struct{}{}, nil
	}, backoff.WithBackOff(&fixedBackoff{delays: retryDelays}))
	return err
}

func (e *Executor) runOnce(ctx context.Context, action planner.Action) error {
	switch action.Kind {
	case planner.ActionLoadModule:
		if err := kernelmodule.Load(action.ModuleName); err != nil {
			return fmt.Errorf("%w: %v", errdefs.ErrTransientIo, err)
		}
		return nil

	case planner.ActionUnloadModule:
		if err := kernelmodule.Unload(action.ModuleName); err != nil {
			return fmt.Errorf("%w: %v", errdefs.ErrTransientIo, err)
		}
		return nil

	case planner.ActionWriteSysfs:
		if err := sysfs.Write(string(action.SysfsPath), action.SysfsValue); err != nil {
			return fmt.Errorf("%w: %v", errdefs.ErrFatalIo, err)
		}
		return nil

	case planner.ActionPciRescan:
		if err := pci.Rescan(); err != nil {
			return fmt.Errorf("%w: %v", errdefs.ErrTransientIo, err)
		}
		return awaitDevicePresence(ctx, e.deps.DGPUAddress, deviceSettleWindow)

	case planner.ActionPciRemove:
		if err := pci.Remove(action.PciAddress); err != nil {
			return fmt.Errorf("%w: %v", errdefs.ErrTransientIo, err)
		}
		return nil

	case planner.ActionDriverOverride:
		if err := pci.SetDriverOverride(action.PciAddress, action.Driver); err != nil {
			return fmt.Errorf("%w: %v", errdefs.ErrFatalIo, err)
		}
		return nil

	case planner.ActionBind:
		if err := pci.Bind(action.PciAddress, action.Driver); err != nil {
			return fmt.Errorf("%w: %v", errdefs.ErrTransientIo, err)
		}
		return nil

	case planner.ActionUnbind:
		if err := pci.Unbind(action.PciAddress, action.Driver); err != nil {
			return fmt.Errorf("%w: %v", errdefs.ErrTransientIo, err)
		}
		return nil

	case planner.ActionWaitSettle:
		return waitSettle(ctx, action.SettleFor)

	case planner.ActionCheckNoGraphicalSess:
		if e.deps.Session == nil {
			return nil
		}
		active, err := e.deps.Session.GraphicalSessionsActive()
		if err != nil {
			return err
		}
		if active {
			return errdefs.ErrBusy
		}
		return nil

	case planner.ActionSetRuntimePm:
		if err := pci.SetRuntimePM(action.PciAddress, action.RuntimePmState); err != nil {
			return fmt.Errorf("%w: %v", errdefs.ErrTransientIo, err)
		}
		return nil

	case planner.ActionPersistPending:
		if e.deps.Persistence == nil {
			return nil
		}
		return e.deps.Persistence.SavePending(ctx, &v1.PendingState{
			TargetMode:     action.PendingMode,
			RequiredAction: action.PendingAction,
		})

	default:
		return fmt.Errorf("%w: unknown action %s", errdefs.ErrFatalIo, action.Kind)
	}
}

func waitSettle(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// awaitDevicePresence blocks until addr shows up under
// /sys/bus/pci/devices or timeout elapses, using fsnotify rather than
// polling so settle detection is immediate on systems with fast udev.
func awaitDevicePresence(ctx context.Context, addr v1.DomainBusDeviceFunction, timeout time.Duration) error {
	if addr == "" {
		return nil
	}
	devicesDir := sysfs.Path("bus", "pci", "devices")
	if sysfs.Exists(filepath.Join(devicesDir, string(addr))) {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("%w: %v", errdefs.ErrTransientIo, err)
	}
	defer watcher.Close()
	if err := watcher.Add(devicesDir); err != nil {
		return fmt.Errorf("%w: %v", errdefs.ErrTransientIo, err)
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-watcher.Events:
			if ev.Op&fsnotify.Create != 0 && filepath.Base(ev.Name) == string(addr) {
				return nil
			}
		case <-deadline.C:
			return fmt.Errorf("%w: %s not visible after rescan", errdefs.ErrHardwareDisappeared, addr)
		}
	}
}
