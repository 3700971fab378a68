// Package hosttest provides an in-memory host.Adapter that plays the part of
// the Bluetooth host in tests.
package hosttest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/srg/blealert/internal/gatt"
	"github.com/srg/blealert/internal/host"
)

// DefaultHandle is the adapter handle returned by a successful discovery.
const DefaultHandle host.Handle = "/org/bluez/hci0"

// ErrNotRegistered is returned by simulated host calls before RegisterApplication.
var ErrNotRegistered = errors.New("application not registered")

// Notification is one value pushed to subscribed centrals.
type Notification struct {
	Path  gatt.Path
	Value []byte
}

// Adapter is a fake host. Configure the error fields before the bridge runs.
type Adapter struct {
	DiscoverErr    error
	PowerErr       error
	RegisterAppErr error
	RegisterAdErr  error
	// DiscoverGate, when set, holds DiscoverAdapter until it is closed or
	// the discovery context ends.
	DiscoverGate chan struct{}

	mu            sync.Mutex
	dispatcher    host.Dispatcher
	name          string
	app           *gatt.Application
	ad            *gatt.Advertisement
	notifications []Notification
	registrations int
	closed        bool
	changed       chan struct{}
}

// New returns a fake host that discovers DefaultHandle.
func New() *Adapter {
	return &Adapter{changed: make(chan struct{}, 1)}
}

// NotFound returns a fake host without any capable adapter.
func NotFound() *Adapter {
	a := New()
	a.DiscoverErr = host.ErrAdapterNotFound
	return a
}

func (a *Adapter) Bind(d host.Dispatcher) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.dispatcher = d
}

func (a *Adapter) DiscoverAdapter(ctx context.Context) (host.Handle, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if a.DiscoverGate != nil {
		select {
		case <-a.DiscoverGate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if a.DiscoverErr != nil {
		return "", a.DiscoverErr
	}
	return DefaultHandle, nil
}

func (a *Adapter) PowerOnAndName(_ context.Context, _ host.Handle, name string) error {
	if a.PowerErr != nil {
		return a.PowerErr
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.name = name
	return nil
}

func (a *Adapter) RegisterApplication(_ host.Handle, app *gatt.Application, done func(error)) {
	a.mu.Lock()
	a.registrations++
	if a.RegisterAppErr == nil {
		a.app = app
	}
	a.mu.Unlock()
	go done(a.RegisterAppErr)
}

func (a *Adapter) RegisterAdvertisement(_ host.Handle, ad *gatt.Advertisement, done func(error)) {
	a.mu.Lock()
	a.registrations++
	if a.RegisterAdErr == nil {
		a.ad = ad
	}
	a.mu.Unlock()
	go done(a.RegisterAdErr)
}

// NotifyValue records the value as delivered to every subscribed central.
func (a *Adapter) NotifyValue(c *gatt.Characteristic, value []byte) {
	a.mu.Lock()
	a.notifications = append(a.notifications, Notification{Path: c.Path(), Value: value})
	a.mu.Unlock()

	select {
	case a.changed <- struct{}{}:
	default:
	}
}

func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	return nil
}

// Name returns the alias set by PowerOnAndName.
func (a *Adapter) Name() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.name
}

// Registrations counts RegisterApplication and RegisterAdvertisement calls.
func (a *Adapter) Registrations() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.registrations
}

// Closed reports whether Close was called.
func (a *Adapter) Closed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

// Notifications returns a snapshot of every recorded notification.
func (a *Adapter) Notifications() []Notification {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Notification, len(a.notifications))
	copy(out, a.notifications)
	return out
}

// WaitForNotifications blocks until at least n notifications were recorded or
// timeout elapses, and reports whether the count was reached.
func (a *Adapter) WaitForNotifications(n int, timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		if len(a.Notifications()) >= n {
			return true
		}
		select {
		case <-a.changed:
		case <-deadline.C:
			return len(a.Notifications()) >= n
		}
	}
}

// StartNotify simulates a central enabling notifications on the first characteristic.
func (a *Adapter) StartNotify() error {
	return a.withCharacteristic(func(c *gatt.Characteristic) error { return c.StartNotify() })
}

// StopNotify simulates a central disabling notifications on the first characteristic.
func (a *Adapter) StopNotify() error {
	return a.withCharacteristic(func(c *gatt.Characteristic) error { return c.StopNotify() })
}

// ReadValue simulates a central reading the first characteristic.
func (a *Adapter) ReadValue() ([]byte, error) {
	var value []byte
	err := a.withCharacteristic(func(c *gatt.Characteristic) error {
		value = c.ReadValue()
		return nil
	})
	return value, err
}

// ManagedObjects simulates the host enumerating the registered application.
func (a *Adapter) ManagedObjects() (map[gatt.Path]map[string]map[string]any, error) {
	a.mu.Lock()
	app, d := a.app, a.dispatcher
	a.mu.Unlock()
	if app == nil || d == nil {
		return nil, ErrNotRegistered
	}

	out := make(map[gatt.Path]map[string]map[string]any)
	err := d.Invoke(func() {
		for pair := app.ManagedObjects().Oldest(); pair != nil; pair = pair.Next() {
			out[pair.Key] = pair.Value
		}
	})
	return out, err
}

// ReleaseAdvertisement simulates the host tearing down advertising.
func (a *Adapter) ReleaseAdvertisement() error {
	a.mu.Lock()
	ad, d := a.ad, a.dispatcher
	a.mu.Unlock()
	if ad == nil || d == nil {
		return ErrNotRegistered
	}
	return d.Invoke(ad.Release)
}

func (a *Adapter) withCharacteristic(fn func(c *gatt.Characteristic) error) error {
	a.mu.Lock()
	app, d := a.app, a.dispatcher
	a.mu.Unlock()
	if app == nil || d == nil {
		return ErrNotRegistered
	}

	var callErr error
	err := d.Invoke(func() {
		svcs := app.Services()
		if len(svcs) == 0 || len(svcs[0].Characteristics()) == 0 {
			callErr = ErrNotRegistered
			return
		}
		callErr = fn(svcs[0].Characteristics()[0])
	})
	if err != nil {
		return err
	}
	return callErr
}

var _ host.Adapter = (*Adapter)(nil)
