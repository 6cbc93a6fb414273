package config

import (
	"context"

	v1 "github.com/asus-linux/supergfxd/api/v1"
)

// Persistence is the storage boundary the mode controller depends on
// pkg/state provides the
// sqlite-backed default implementation; tests use an in-memory fake.
type Persistence interface {
	LoadConfig(ctx context.Context) (*v1.Config, error)
	SaveConfig(ctx context.Context, cfg *v1.Config) error

	LoadPending(ctx context.Context) (*v1.PendingState, error)
	SavePending(ctx context.Context, p *v1.PendingState) error
	ClearPending(ctx context.Context) error

	Close() error
}
