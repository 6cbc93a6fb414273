package config

import (
	"context"
	"os"
	"path/filepath"
	"time"

	v1 "github.com/asus-linux/supergfxd/api/v1"
	homedir "github.com/mitchellh/go-homedir"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// DefaultStateFileName is the sqlite file holding Config/PendingState.
const DefaultStateFileName = "supergfxd.db"

// DefaultConfig resolves opts against the built-in defaults
// logout_timeout=180s, hotplug_type=Std) into a v1.Config.
func DefaultConfig(_ context.Context, opts ...OpOption) (*v1.Config, error) {
	op := &Op{
		LogoutTimeout:   v1.DefaultLogoutTimeoutSeconds * time.Second,
		HotplugType:     v1.HotplugStd,
		AsusSettleDelay: v1.DefaultAsusSettleDelayMillis * time.Millisecond,
	}
	if err := op.ApplyOpts(opts); err != nil {
		return nil, err
	}

	cfg := &v1.Config{
		VfioEnable:      op.VfioEnable,
		VfioSave:        op.VfioSave,
		AlwaysReboot:    op.AlwaysReboot,
		NoLogind:        op.NoLogind,
		LogoutTimeout:   metav1.Duration{Duration: op.LogoutTimeout},
		HotplugType:     op.HotplugType,
		AsusSettleDelay: metav1.Duration{Duration: op.AsusSettleDelay},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultStateDir picks a writable directory for the daemon's sqlite state:
// /var/lib/supergfxd when running as root, falling back to ~/.supergfxd
// otherwise.
func DefaultStateDir(opts ...OpOption) (string, error) {
	op := &Op{}
	if err := op.ApplyOpts(opts); err != nil {
		return "", err
	}
	if op.DataDir != "" {
		if err := os.MkdirAll(op.DataDir, 0o750); err != nil {
			return "", err
		}
		return op.DataDir, nil
	}

	if os.Geteuid() == 0 {
		dir := "/var/lib/supergfxd"
		if err := os.MkdirAll(dir, 0o750); err == nil {
			return dir, nil
		}
	}

	home, err := homedir.Dir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, ".supergfxd")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", err
	}
	return dir, nil
}

// DefaultStateFile returns the full path to the sqlite state file.
func DefaultStateFile(opts ...OpOption) (string, error) {
	dir, err := DefaultStateDir(opts...)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, DefaultStateFileName), nil
}
