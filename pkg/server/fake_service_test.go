package server

import (
	"context"
	"errors"
	"sync"

	v1 "github.com/asus-linux/supergfxd/api/v1"
)

// fakeService is a scripted api/v1.Service + api/v1.Notifier used in place
// of internal/modectl.Controller so handler tests don't need to stand up
// a real controller.
type fakeService struct {
	mode      v1.Mode
	supported []v1.Mode
	vendor    v1.Vendor
	power     v1.PowerStatus
	version   string
	pending   v1.Mode
	hasPend   bool
	action    v1.RequiredUserAction
	cfg       *v1.Config

	setModeErr   error
	setModeCalls []v1.Mode

	mu   sync.Mutex
	subs []chan v1.Event
}

func (f *fakeService) GetMode(context.Context) (v1.Mode, error) { return f.mode, nil }

func (f *fakeService) SetMode(_ context.Context, target v1.Mode) (v1.RequiredUserAction, error) {
	f.setModeCalls = append(f.setModeCalls, target)
	if f.setModeErr != nil {
		return v1.ActionNothing, f.setModeErr
	}
	return f.action, nil
}

func (f *fakeService) GetSupported(context.Context) ([]v1.Mode, error) { return f.supported, nil }
func (f *fakeService) GetVendor(context.Context) (v1.Vendor, error)    { return f.vendor, nil }
func (f *fakeService) GetPowerStatus(context.Context) (v1.PowerStatus, error) {
	return f.power, nil
}
func (f *fakeService) GetVersion(context.Context) (string, error) { return f.version, nil }
func (f *fakeService) PendingMode(context.Context) (v1.Mode, bool, error) {
	return f.pending, f.hasPend, nil
}
func (f *fakeService) PendingUserAction(context.Context) (v1.RequiredUserAction, error) {
	return f.action, nil
}
func (f *fakeService) GetConfig(context.Context) (*v1.Config, error) { return f.cfg, nil }
func (f *fakeService) SetConfig(_ context.Context, cfg *v1.Config) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	f.cfg = cfg
	return nil
}

func (f *fakeService) Subscribe(ctx context.Context) (<-chan v1.Event, func()) {
	ch := make(chan v1.Event, 4)
	f.mu.Lock()
	f.subs = append(f.subs, ch)
	f.mu.Unlock()
	return ch, func() { close(ch) }
}

func (f *fakeService) emit(ev v1.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs {
		ch <- ev
	}
}
