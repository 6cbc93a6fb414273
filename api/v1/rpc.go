package v1

import "context"

// RequestQueueDepth bounds the controller's inbound RPC queue; a request
// arriving when the queue is full is rejected with Busy rather than blocking.
const RequestQueueDepth = 16

// Service is the RPC surface exposed to the bus collaborator.
// Names and semantics are normative; the transport (D-Bus, HTTP, ...) is
// deliberately not part of this interface.
type Service interface {
	GetMode(ctx context.Context) (Mode, error)
	SetMode(ctx context.Context, target Mode) (RequiredUserAction, error)
	GetSupported(ctx context.Context) ([]Mode, error)
	GetVendor(ctx context.Context) (Vendor, error)
	GetPowerStatus(ctx context.Context) (PowerStatus, error)
	GetVersion(ctx context.Context) (string, error)
	PendingMode(ctx context.Context) (Mode, bool, error)
	PendingUserAction(ctx context.Context) (RequiredUserAction, error)
	GetConfig(ctx context.Context) (*Config, error)
	SetConfig(ctx context.Context, cfg *Config) error
}

// Notifier is the signal-emitting half of the RPC surface. A bus binding
// subscribes to Events and re-emits NotifyGfx/NotifyAction/NotifyGfxStatus
// on its own transport.
type Notifier interface {
	Subscribe(ctx context.Context) (<-chan Event, func())
}
