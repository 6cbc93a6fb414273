// Package errdefs defines the sentinel error kinds shared across the
// mode-transition core, in the style of gRPC/containerd status
// codes: a small set of sentinels, wrapped with context via fmt.Errorf,
// classified with errors.Is.
package errdefs

import (
	"context"
	"errors"
)

var (
	ErrUnknown            = errors.New("unknown")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrNotFound           = errors.New("not found")
	ErrAlreadyExists      = errors.New("already exists")
	ErrFailedPrecondition = errors.New("failed precondition")
	ErrUnavailable        = errors.New("unavailable")
	ErrNotImplemented     = errors.New("not implemented")

	// ErrBusy means a transition is already in progress.
	ErrBusy = errors.New("busy")

	// ErrLogoutTimedOut means the session coordinator's wait exceeded the
	// configured logout_timeout_s.
	ErrLogoutTimedOut = errors.New("logout timed out")

	// ErrTransientIo is retried by the executor; ErrFatalIo aborts the plan.
	ErrTransientIo = errors.New("transient io error")
	ErrFatalIo     = errors.New("fatal io error")

	ErrHardwareAbsent     = errors.New("hardware absent")
	ErrHardwareDisappeared = errors.New("hardware disappeared")

	ErrPostConditionNotMet = errors.New("post-condition not met")
	ErrConfigInvalid       = errors.New("invalid config field")

	// ErrUnsupported means the requested mode is not in the machine's
	// supported set.
	ErrUnsupported = errors.New("mode not supported on this machine")

	// ErrInhibitorUnavailable means a sleep inhibitor could not be
	// acquired for the duration of a transition; the transition is
	// refused rather than run unprotected against suspend.
	ErrInhibitorUnavailable = errors.New("sleep inhibitor unavailable")
)

func IsInvalidArgument(err error) bool    { return errors.Is(err, ErrInvalidArgument) }
func IsNotFound(err error) bool           { return errors.Is(err, ErrNotFound) }
func IsAlreadyExists(err error) bool      { return errors.Is(err, ErrAlreadyExists) }
func IsFailedPrecondition(err error) bool { return errors.Is(err, ErrFailedPrecondition) }
func IsUnavailable(err error) bool        { return errors.Is(err, ErrUnavailable) }
func IsNotImplemented(err error) bool     { return errors.Is(err, ErrNotImplemented) }
func IsCanceled(err error) bool           { return errors.Is(err, context.Canceled) }
func IsDeadlineExceeded(err error) bool   { return errors.Is(err, context.DeadlineExceeded) }

func IsBusy(err error) bool              { return errors.Is(err, ErrBusy) }
func IsLogoutTimedOut(err error) bool    { return errors.Is(err, ErrLogoutTimedOut) }
func IsTransientIo(err error) bool       { return errors.Is(err, ErrTransientIo) }
func IsFatalIo(err error) bool           { return errors.Is(err, ErrFatalIo) }
func IsHardwareAbsent(err error) bool    { return errors.Is(err, ErrHardwareAbsent) }
func IsHardwareDisappeared(err error) bool { return errors.Is(err, ErrHardwareDisappeared) }
func IsPostConditionNotMet(err error) bool { return errors.Is(err, ErrPostConditionNotMet) }
func IsUnsupported(err error) bool          { return errors.Is(err, ErrUnsupported) }
func IsInhibitorUnavailable(err error) bool { return errors.Is(err, ErrInhibitorUnavailable) }
