// Package modectl implements the mode-transition state machine: the
// single owner of "what mode are we in, what are we switching to, and
// what does the user still need to do." It is the concrete api/v1.Service
// and api/v1.Notifier implementation that every RPC binding (pkg/server,
// the CLI) drives.
package modectl

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	v1 "github.com/asus-linux/supergfxd/api/v1"
	"github.com/asus-linux/supergfxd/internal/executor"
	"github.com/asus-linux/supergfxd/internal/hwprobe"
	"github.com/asus-linux/supergfxd/internal/planner"
	"github.com/asus-linux/supergfxd/internal/session"
	"github.com/asus-linux/supergfxd/pkg/cmdline"
	"github.com/asus-linux/supergfxd/pkg/config"
	"github.com/asus-linux/supergfxd/pkg/errdefs"
	"github.com/asus-linux/supergfxd/pkg/log"
	"github.com/asus-linux/supergfxd/pkg/pci"
	"github.com/asus-linux/supergfxd/pkg/version"
)

// State is one of the controller's top-level states.
type State string

const (
	StateIdle              State = "Idle"
	StatePendingUserAction State = "PendingUserAction"
	StateSwitching         State = "Switching"
	StateFailed            State = "Failed"
)

// Deps are the collaborators a Controller is built from. Profile, Mode and
// Config are the results of the boot-time probe and config load; callers
// own those calls so New stays a plain constructor a test can drive with
// canned values instead of touching sysfs or sqlite.
type Deps struct {
	Persistence config.Persistence
	Session     session.Coordinator
	Executor    *executor.Executor

	Profile *v1.HardwareProfile
	Mode    v1.Mode
	Config  *v1.Config
}

// Controller is the single-writer mode-transition state machine. Every
// mutating call funnels through SetMode, which is admitted by a bounded
// semaphore (depth v1.RequestQueueDepth) and then serialized against the
// current state; reads (GetMode, GetConfig, ...) only ever take the mutex
// briefly and never block on a transition in flight.
type Controller struct {
	deps Deps

	queue chan struct{}

	mu            sync.Mutex
	state         State
	mode          v1.Mode
	profile       *v1.HardwareProfile
	cfg           *v1.Config
	pending       *v1.PendingState
	failedReason  error
	logoutTimeout time.Duration
	cancelWait    context.CancelFunc
	waitDone      chan struct{}

	subsMu sync.Mutex
	subs   map[int]chan v1.Event
	nextID int
}

var (
	_ v1.Service  = (*Controller)(nil)
	_ v1.Notifier = (*Controller)(nil)
)

// New builds a Controller in StateIdle. Start performs the boot-time
// resume sequence and must be called once before the controller is wired
// into an RPC binding.
func New(deps Deps) (*Controller, error) {
	if deps.Profile == nil {
		return nil, fmt.Errorf("modectl: nil hardware profile")
	}
	if deps.Config == nil {
		return nil, fmt.Errorf("modectl: nil config")
	}
	if deps.Executor == nil {
		return nil, fmt.Errorf("modectl: nil executor")
	}

	return &Controller{
		deps:          deps,
		queue:         make(chan struct{}, v1.RequestQueueDepth),
		state:         StateIdle,
		mode:          deps.Mode,
		profile:       deps.Profile,
		cfg:           deps.Config,
		logoutTimeout: deps.Config.LogoutTimeout.Duration,
		subs:          make(map[int]chan v1.Event),
	}, nil
}

// Start wires the resume callback and runs the boot-time resume sequence:
// a supergfxd.mode= kernel cmdline override wins over everything else;
// otherwise a persisted PendingState left by a deferred-to-reboot or
// logout-gated transition is replayed; otherwise a vfio_save config.mode
// is reasserted if the probed mode doesn't already match it.
func (c *Controller) Start(ctx context.Context) error {
	if c.deps.Session != nil {
		c.deps.Session.OnResume(c.handleResume)
	}

	var pending *v1.PendingState
	if c.deps.Persistence != nil {
		p, err := c.deps.Persistence.LoadPending(ctx)
		if err != nil {
			log.Logger.Warnw("modectl: loading pending state failed", "error", err)
		}
		pending = p
	}

	flags, err := cmdline.Parse()
	if err != nil {
		log.Logger.Warnw("modectl: failed parsing kernel cmdline", "error", err)
	}

	switch {
	case flags.HasMode:
		log.Logger.Infow("modectl: applying boot cmdline mode override", "mode", flags.Mode)
		if _, err := c.SetMode(ctx, flags.Mode); err != nil && !errdefs.IsBusy(err) {
			log.Logger.Errorw("modectl: cmdline override failed", "error", err)
		}
	case pending != nil:
		c.resumePending(ctx, pending)
	default:
		c.reassertConfigMode(ctx)
	}
	return nil
}

// SetMode is the only mutating entrypoint. A caller arriving when the
// admission queue is already full of in-flight SetMode calls is rejected
// with ErrBusy rather than blocking past v1.RequestQueueDepth.
func (c *Controller) SetMode(ctx context.Context, target v1.Mode) (v1.RequiredUserAction, error) {
	select {
	case c.queue <- struct{}{}:
	default:
		busyRejectionsTotal.Inc()
		return v1.ActionNothing, errdefs.ErrBusy
	}
	defer func() { <-c.queue }()
	return c.handleSetMode(ctx, target)
}

func (c *Controller) handleSetMode(ctx context.Context, target v1.Mode) (v1.RequiredUserAction, error) {
	c.mu.Lock()
	switch c.state {
	case StateSwitching:
		c.mu.Unlock()
		busyRejectionsTotal.Inc()
		return v1.ActionNothing, errdefs.ErrBusy

	case StatePendingUserAction:
		// Supersede: a new target arrives before the recorded plan's
		// user action happened. Re-plan optimistically from the
		// superseded plan's target mode, as if that plan had already
		// been applied.
		from := c.pending.TargetMode
		cancel := c.cancelWait
		done := c.waitDone
		c.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		if done != nil {
			<-done
		}
		return c.startTransition(ctx, from, target, true)

	default: // Idle or Failed: start fresh from the last observed mode.
		from := c.mode
		c.mu.Unlock()
		return c.startTransition(ctx, from, target, false)
	}
}

func (c *Controller) startTransition(ctx context.Context, from, to v1.Mode, superseding bool) (v1.RequiredUserAction, error) {
	if superseding {
		c.mu.Lock()
		c.pending = nil
		c.cancelWait = nil
		c.waitDone = nil
		c.mu.Unlock()
		c.clearPersistedPending(ctx)
	}

	if from == to {
		c.mu.Lock()
		c.state = StateIdle
		c.mu.Unlock()
		c.notify(v1.EventNotifyGfx, to, v1.ActionNothing, "")
		return v1.ActionNothing, nil
	}

	profile, cfg := c.currentProfileAndConfig()
	plan, err := planner.Compile(from, to, profile, cfg)
	if err != nil {
		c.mu.Lock()
		c.state = StateIdle
		c.mu.Unlock()
		return v1.ActionNothing, err
	}

	switch {
	case plan.DeferToNextBoot:
		return c.runDeferred(ctx, from, to, plan)
	case plan.RequiredAction != v1.ActionNothing:
		return c.runGated(ctx, from, to, plan)
	default:
		return c.runImmediate(ctx, from, to, profile, cfg, plan)
	}
}

// runImmediate executes a plan that needs no user action, blocking the
// caller until the transition settles.
func (c *Controller) runImmediate(ctx context.Context, from, to v1.Mode, profile *v1.HardwareProfile, cfg *v1.Config, plan *planner.Plan) (v1.RequiredUserAction, error) {
	release, err := c.acquireInhibitor()
	if err != nil {
		c.mu.Lock()
		c.state = StateIdle
		c.mu.Unlock()
		return v1.ActionNothing, err
	}
	defer release()

	c.mu.Lock()
	c.state = StateSwitching
	c.mu.Unlock()

	start := time.Now()
	t := executor.Transition{From: from, To: to, Profile: profile, Config: cfg, Plan: plan}
	err = c.deps.Executor.Execute(ctx, t)
	c.finishTransition(from, to, start, err)
	return v1.ActionNothing, err
}

// acquireInhibitor takes a sleep inhibitor for the duration of a
// transition; a transition that cannot hold one is refused rather than
// run unprotected against a concurrent suspend. The returned release
// func is always safe to defer.
func (c *Controller) acquireInhibitor() (func(), error) {
	if c.deps.Session == nil {
		return func() {}, nil
	}
	release, err := c.deps.Session.InhibitSleep("ModeChange")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errdefs.ErrInhibitorUnavailable, err)
	}
	return release, nil
}

// runDeferred runs only the plan's immediate actions (a mux register
// write, or nothing but a persist) now; the rest happens on next boot via
// Start's resumePending, so the post-condition re-probe must be skipped.
func (c *Controller) runDeferred(ctx context.Context, from, to v1.Mode, plan *planner.Plan) (v1.RequiredUserAction, error) {
	profile, cfg := c.currentProfileAndConfig()

	release, err := c.acquireInhibitor()
	if err != nil {
		c.mu.Lock()
		c.state = StateIdle
		c.mu.Unlock()
		return v1.ActionNothing, err
	}
	defer release()

	c.mu.Lock()
	c.state = StateSwitching
	c.mu.Unlock()

	t := executor.Transition{From: from, To: to, Profile: profile, Config: cfg, Plan: plan, SkipPostCheck: true}
	if err := c.deps.Executor.Execute(ctx, t); err != nil {
		c.mu.Lock()
		c.state = StateFailed
		c.failedReason = err
		c.mu.Unlock()
		transitionsTotal.WithLabelValues(string(from), string(to), "error").Inc()
		c.notify(v1.EventNotifyAction, to, v1.ActionNothing, err.Error())
		return plan.RequiredAction, err
	}

	c.mu.Lock()
	c.state = StatePendingUserAction
	c.pending = &v1.PendingState{TargetMode: to, RequiredAction: plan.RequiredAction, SourceMode: from, CreatedAt: nowUTC()}
	c.mu.Unlock()

	c.notify(v1.EventNotifyAction, to, plan.RequiredAction, "")
	return plan.RequiredAction, nil
}

// runGated persists the recorded plan, moves to PendingUserAction, and
// returns immediately; a background goroutine waits for the gating user
// action (logout, or eGPU switch toggle) and then runs the plan.
func (c *Controller) runGated(ctx context.Context, from, to v1.Mode, plan *planner.Plan) (v1.RequiredUserAction, error) {
	pending := &v1.PendingState{TargetMode: to, RequiredAction: plan.RequiredAction, SourceMode: from, CreatedAt: nowUTC()}
	if c.deps.Persistence != nil {
		if err := c.deps.Persistence.SavePending(ctx, pending); err != nil {
			log.Logger.Warnw("modectl: persisting pending state failed", "error", err)
		}
	}

	waitCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	c.mu.Lock()
	c.state = StatePendingUserAction
	c.pending = pending
	c.cancelWait = cancel
	c.waitDone = done
	c.mu.Unlock()

	c.notify(v1.EventNotifyAction, to, plan.RequiredAction, "")

	go c.awaitGatedAction(waitCtx, from, to, plan, done)

	return plan.RequiredAction, nil
}

// awaitGatedAction blocks until the session coordinator reports every
// graphical session gone (the same wait serves ActionLogout and the
// ActionAsusEgpuDisable case, since disengaging the ASUS eGPU switch in
// practice also requires ending the session), then runs the recorded
// plan. A cancellation means the caller that superseded this transition
// now owns the state; this goroutine just exits.
func (c *Controller) awaitGatedAction(ctx context.Context, from, to v1.Mode, plan *planner.Plan, done chan struct{}) {
	defer close(done)

	start := time.Now()
	waitErr := c.deps.Session.WaitUntilAllLoggedOut(ctx, c.logoutTimeoutValue())
	if waitErr != nil && ctx.Err() == context.Canceled {
		return
	}
	if waitErr != nil {
		log.Logger.Warnw("modectl: gated transition wait failed", "target", to, "error", waitErr)
		c.mu.Lock()
		c.state = StateIdle
		c.pending = nil
		c.cancelWait = nil
		c.waitDone = nil
		c.mu.Unlock()
		c.clearPersistedPending(context.Background())
		c.notify(v1.EventNotifyAction, to, v1.ActionNothing, waitErr.Error())
		return
	}

	release, inhibitErr := c.acquireInhibitor()
	if inhibitErr != nil {
		log.Logger.Warnw("modectl: inhibitor unavailable, refusing gated transition", "target", to, "error", inhibitErr)
		c.mu.Lock()
		c.state = StateIdle
		c.pending = nil
		c.cancelWait = nil
		c.waitDone = nil
		c.mu.Unlock()
		c.clearPersistedPending(context.Background())
		c.notify(v1.EventNotifyAction, to, v1.ActionNothing, inhibitErr.Error())
		return
	}
	defer release()

	profile, cfg := c.currentProfileAndConfig()
	c.mu.Lock()
	c.state = StateSwitching
	c.mu.Unlock()

	t := executor.Transition{From: from, To: to, Profile: profile, Config: cfg, Plan: plan}
	execErr := c.deps.Executor.Execute(context.Background(), t)
	c.finishTransition(from, to, start, execErr)
}

func (c *Controller) finishTransition(from, to v1.Mode, start time.Time, err error) {
	hwprobe.Invalidate()
	transitionDuration.WithLabelValues(string(to)).Observe(time.Since(start).Seconds())

	if err != nil {
		c.mu.Lock()
		c.state = StateFailed
		c.failedReason = err
		c.pending = nil
		c.cancelWait = nil
		c.waitDone = nil
		c.mu.Unlock()
		transitionsTotal.WithLabelValues(string(from), string(to), "error").Inc()
		c.notify(v1.EventNotifyAction, to, v1.ActionNothing, err.Error())
		return
	}

	result, probeErr := hwprobe.Probe(c.currentConfig())

	c.mu.Lock()
	if probeErr == nil {
		c.profile = result.Profile
		c.mode = result.Mode
	} else {
		c.mode = to
	}
	c.state = StateIdle
	c.pending = nil
	c.cancelWait = nil
	c.waitDone = nil
	c.mu.Unlock()

	transitionsTotal.WithLabelValues(string(from), string(to), "ok").Inc()
	c.clearPersistedPending(context.Background())
	c.notify(v1.EventNotifyGfx, to, v1.ActionNothing, "")
}

// resumePending replays a PendingState found at boot: the gating reboot
// has already happened, so the recorded plan is re-derived from the
// machine's current real mode to the persisted target, with always_reboot
// forced off since the reboot gate has already been satisfied.
func (c *Controller) resumePending(ctx context.Context, pending *v1.PendingState) {
	log.Logger.Infow("modectl: resuming pending transition after reboot", "source", pending.SourceMode, "target", pending.TargetMode)

	c.mu.Lock()
	c.state = StatePendingUserAction
	c.pending = pending
	c.mu.Unlock()

	result, err := hwprobe.Probe(c.currentConfig())
	if err != nil {
		log.Logger.Errorw("modectl: post-reboot probe failed", "error", err)
		return
	}

	c.mu.Lock()
	c.profile = result.Profile
	c.mode = result.Mode
	c.mu.Unlock()

	if result.Mode == pending.TargetMode {
		c.mu.Lock()
		c.state = StateIdle
		c.pending = nil
		c.mu.Unlock()
		c.clearPersistedPending(ctx)
		c.notify(v1.EventNotifyGfx, result.Mode, v1.ActionNothing, "")
		return
	}

	resumeCfg := *c.currentConfig()
	resumeCfg.AlwaysReboot = false
	plan, err := planner.Compile(result.Mode, pending.TargetMode, result.Profile, &resumeCfg)
	if err != nil {
		c.mu.Lock()
		c.state = StateFailed
		c.failedReason = fmt.Errorf("resuming pending transition: %w", err)
		c.mu.Unlock()
		return
	}

	release, inhibitErr := c.acquireInhibitor()
	if inhibitErr != nil {
		c.mu.Lock()
		c.state = StateFailed
		c.failedReason = fmt.Errorf("resuming pending transition: %w", inhibitErr)
		c.mu.Unlock()
		return
	}
	defer release()

	c.mu.Lock()
	c.state = StateSwitching
	c.mu.Unlock()

	start := time.Now()
	t := executor.Transition{From: result.Mode, To: pending.TargetMode, Profile: result.Profile, Config: &resumeCfg, Plan: plan}
	execErr := c.deps.Executor.Execute(ctx, t)
	c.finishTransition(result.Mode, pending.TargetMode, start, execErr)
}

// reassertConfigMode re-applies a persisted vfio_save target if the
// probed boot mode doesn't already match it.
func (c *Controller) reassertConfigMode(ctx context.Context) {
	cfg := c.currentConfig()
	if cfg == nil || !cfg.VfioSave || cfg.Mode != v1.ModeVfio {
		return
	}
	c.mu.Lock()
	current := c.mode
	c.mu.Unlock()
	if current == v1.ModeVfio {
		return
	}
	log.Logger.Infow("modectl: reasserting persisted vfio_save mode", "mode", cfg.Mode)
	if _, err := c.SetMode(ctx, cfg.Mode); err != nil {
		log.Logger.Errorw("modectl: vfio_save reassertion failed", "error", err)
	}
}

// handleResume is registered with the session coordinator's OnResume;
// suspend can change which dGPU is enumerated or its power state, so the
// cached probe is dropped and a fresh one taken.
func (c *Controller) handleResume() {
	hwprobe.Invalidate()
	result, err := hwprobe.Probe(c.currentConfig())
	if err != nil {
		log.Logger.Warnw("modectl: post-resume probe failed", "error", err)
		return
	}
	c.mu.Lock()
	c.profile = result.Profile
	if c.state == StateIdle {
		c.mode = result.Mode
	}
	c.mu.Unlock()
	c.notify(v1.EventNotifyGfxStatus, result.Mode, v1.ActionNothing, "resumed from suspend")
}

func (c *Controller) clearPersistedPending(ctx context.Context) {
	if c.deps.Persistence == nil {
		return
	}
	if err := c.deps.Persistence.ClearPending(ctx); err != nil {
		log.Logger.Warnw("modectl: clearing persisted pending state failed", "error", err)
	}
}

func (c *Controller) currentConfig() *v1.Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

func (c *Controller) currentProfileAndConfig() (*v1.HardwareProfile, *v1.Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.profile, c.cfg
}

func (c *Controller) logoutTimeoutValue() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.logoutTimeout
}

// State reports the controller's current top-level state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// FailedReason reports the error that drove the controller into
// StateFailed, or nil outside that state.
func (c *Controller) FailedReason() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failedReason
}

// GetMode implements api/v1.Service.
func (c *Controller) GetMode(ctx context.Context) (v1.Mode, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode, nil
}

// GetSupported implements api/v1.Service.
func (c *Controller) GetSupported(ctx context.Context) ([]v1.Mode, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.profile == nil {
		return nil, nil
	}
	return append([]v1.Mode{}, c.profile.Supported...), nil
}

// GetVendor implements api/v1.Service.
func (c *Controller) GetVendor(ctx context.Context) (v1.Vendor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.profile == nil {
		return v1.VendorUnknown, nil
	}
	return c.profile.DGPUVendor, nil
}

// GetPowerStatus implements api/v1.Service. It is the one RPC that reads
// runtime PM state fresh on every call (status polling hits this
// repeatedly), so it goes through hwprobe.CachedProbe rather than the
// controller's own in-memory profile, which is only refreshed on
// transitions and resume.
func (c *Controller) GetPowerStatus(ctx context.Context) (v1.PowerStatus, error) {
	result, err := hwprobe.CachedProbe(c.currentConfig())
	if err != nil {
		return v1.PowerUnknown, err
	}
	if !result.Profile.HasDGPU() {
		return v1.PowerOff, nil
	}
	return pci.PowerStatus(result.Profile.DGPUAddress)
}

// GetVersion implements api/v1.Service.
func (c *Controller) GetVersion(ctx context.Context) (string, error) {
	return version.Version, nil
}

// PendingMode implements api/v1.Service.
func (c *Controller) PendingMode(ctx context.Context) (v1.Mode, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return "", false, nil
	}
	return c.pending.TargetMode, true, nil
}

// PendingUserAction implements api/v1.Service.
func (c *Controller) PendingUserAction(ctx context.Context) (v1.RequiredUserAction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return v1.ActionNothing, nil
	}
	return c.pending.RequiredAction, nil
}

// GetConfig implements api/v1.Service.
func (c *Controller) GetConfig(ctx context.Context) (*v1.Config, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cfg := *c.cfg
	return &cfg, nil
}

// SetConfig implements api/v1.Service.
func (c *Controller) SetConfig(ctx context.Context, cfg *v1.Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%w: %v", errdefs.ErrConfigInvalid, err)
	}
	if c.deps.Persistence != nil {
		if err := c.deps.Persistence.SaveConfig(ctx, cfg); err != nil {
			return err
		}
	}
	c.mu.Lock()
	c.cfg = cfg
	if cfg.LogoutTimeout.Duration > 0 {
		c.logoutTimeout = cfg.LogoutTimeout.Duration
	}
	c.mu.Unlock()
	return nil
}

// Subscribe implements api/v1.Notifier. The returned channel is buffered;
// a slow subscriber drops events rather than stalling the controller.
func (c *Controller) Subscribe(ctx context.Context) (<-chan v1.Event, func()) {
	ch := make(chan v1.Event, 16)

	c.subsMu.Lock()
	id := c.nextID
	c.nextID++
	c.subs[id] = ch
	c.subsMu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			c.subsMu.Lock()
			delete(c.subs, id)
			c.subsMu.Unlock()
			close(ch)
		})
	}
	go func() {
		<-ctx.Done()
		cancel()
	}()
	return ch, cancel
}

func (c *Controller) notify(kind v1.EventKind, mode v1.Mode, action v1.RequiredUserAction, message string) {
	ev := v1.Event{
		ID:      uuid.NewString(),
		Time:    nowUTC(),
		Kind:    kind,
		Mode:    mode,
		Action:  action,
		Message: message,
	}
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	for id, ch := range c.subs {
		select {
		case ch <- ev:
		default:
			log.Logger.Warnw("modectl: dropping event for slow subscriber", "subscriber", id, "kind", kind)
		}
	}
}

func nowUTC() metav1.Time { return metav1.NewTime(time.Now().UTC()) }
