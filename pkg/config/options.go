package config

import (
	"fmt"
	"time"

	v1 "github.com/asus-linux/supergfxd/api/v1"
)

// Op collects the options DefaultConfig resolves into a v1.Config plus the
// filesystem layout around it.
type Op struct {
	LogoutTimeout   time.Duration
	HotplugType     v1.HotplugType
	VfioEnable      bool
	VfioSave        bool
	AlwaysReboot    bool
	NoLogind        bool
	AsusSettleDelay time.Duration

	DataDir string
}

type OpOption func(*Op)

// ApplyOpts applies opts in order, then validates the result.
func (op *Op) ApplyOpts(opts []OpOption) error {
	for _, o := range opts {
		o(op)
	}
	if op.LogoutTimeout < 0 {
		return fmt.Errorf("logout timeout must be >= 0, got %s", op.LogoutTimeout)
	}
	if op.AsusSettleDelay < 0 {
		return fmt.Errorf("asus settle delay must be >= 0, got %s", op.AsusSettleDelay)
	}
	return nil
}

func WithLogoutTimeout(d time.Duration) OpOption {
	return func(op *Op) { op.LogoutTimeout = d }
}

func WithHotplugType(h v1.HotplugType) OpOption {
	return func(op *Op) { op.HotplugType = h }
}

func WithVfioEnable(enable bool) OpOption {
	return func(op *Op) { op.VfioEnable = enable }
}

func WithVfioSave(save bool) OpOption {
	return func(op *Op) { op.VfioSave = save }
}

func WithAlwaysReboot(always bool) OpOption {
	return func(op *Op) { op.AlwaysReboot = always }
}

func WithNoLogind(noLogind bool) OpOption {
	return func(op *Op) { op.NoLogind = noLogind }
}

func WithAsusSettleDelay(d time.Duration) OpOption {
	return func(op *Op) { op.AsusSettleDelay = d }
}

func WithDataDir(dir string) OpOption {
	return func(op *Op) { op.DataDir = dir }
}
