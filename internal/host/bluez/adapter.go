// Package bluez binds the GATT object model to the BlueZ Bluetooth daemon over
// the system D-Bus.
package bluez

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"

	"github.com/srg/blealert/internal/gatt"
	"github.com/srg/blealert/internal/host"
)

const (
	Service = "org.bluez"

	adapterIface       = "org.bluez.Adapter1"
	gattManagerIface   = "org.bluez.GattManager1"
	adManagerIface     = "org.bluez.LEAdvertisingManager1"
	objectManagerIface = "org.freedesktop.DBus.ObjectManager"
	propertiesIface    = "org.freedesktop.DBus.Properties"
	introspectIface    = "org.freedesktop.DBus.Introspectable"

	unregisterTimeout = 2 * time.Second
)

// ErrClosed is returned by operations on a closed adapter.
var ErrClosed = errors.New("bluez adapter closed")

// Conn is the part of *dbus.Conn the adapter relies on.
type Conn interface {
	Object(dest string, path dbus.ObjectPath) dbus.BusObject
	Export(v interface{}, path dbus.ObjectPath, iface string) error
	Emit(path dbus.ObjectPath, name string, values ...interface{}) error
	Close() error
}

// Adapter implements host.Adapter on top of BlueZ.
type Adapter struct {
	dial   func() (Conn, error)
	logger *logrus.Logger

	mu         sync.Mutex
	conn       Conn
	dispatcher host.Dispatcher
	cleanup    []cleanupFunc
	closed     bool
}

type cleanupFunc struct {
	name string
	fn   func() error
}

// New returns an adapter that opens a private system bus connection on
// first use.
func New(logger *logrus.Logger) *Adapter {
	return newAdapter(func() (Conn, error) {
		conn, err := dbus.ConnectSystemBus()
		if err != nil {
			return nil, err
		}
		return conn, nil
	}, logger)
}

// NewWithConn returns an adapter using an already established connection.
// Close closes conn.
func NewWithConn(conn Conn, logger *logrus.Logger) *Adapter {
	a := newAdapter(nil, logger)
	a.conn = conn
	return a
}

func newAdapter(dial func() (Conn, error), logger *logrus.Logger) *Adapter {
	if logger == nil {
		logger = logrus.New()
	}
	return &Adapter{dial: dial, logger: logger}
}

func (a *Adapter) Bind(d host.Dispatcher) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.dispatcher = d
}

// DiscoverAdapter returns the first adapter, by object path, that exposes
// the GATT manager interface.
func (a *Adapter) DiscoverAdapter(ctx context.Context) (host.Handle, error) {
	conn, err := a.connection()
	if err != nil {
		return "", err
	}

	var objs map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	call := conn.Object(Service, "/").CallWithContext(ctx, objectManagerIface+".GetManagedObjects", 0)
	if err := call.Store(&objs); err != nil {
		return "", fmt.Errorf("enumerate %s objects: %w", Service, err)
	}

	path, ok := selectAdapter(objs)
	if !ok {
		return "", host.ErrAdapterNotFound
	}
	return host.Handle(path), nil
}

// PowerOnAndName powers the adapter on and sets its alias.
func (a *Adapter) PowerOnAndName(ctx context.Context, h host.Handle, name string) error {
	conn, err := a.connection()
	if err != nil {
		return err
	}
	obj := conn.Object(Service, dbus.ObjectPath(h))

	if err := obj.CallWithContext(ctx, propertiesIface+".Set", 0, adapterIface, "Powered", dbus.MakeVariant(true)).Err; err != nil {
		return fmt.Errorf("power on %s: %w", h, err)
	}
	if name == "" {
		return nil
	}
	if err := obj.CallWithContext(ctx, propertiesIface+".Set", 0, adapterIface, "Alias", dbus.MakeVariant(name)).Err; err != nil {
		return fmt.Errorf("set alias of %s: %w", h, err)
	}
	return nil
}

// RegisterApplication exports every object of app and asks BlueZ to register
// it. done runs on a separate goroutine once BlueZ replies.
func (a *Adapter) RegisterApplication(h host.Handle, app *gatt.Application, done func(error)) {
	conn, err := a.connection()
	if err == nil {
		err = a.exportApplication(conn, app)
	}
	if err != nil {
		go done(fmt.Errorf("export application: %w", err))
		return
	}
	a.register(conn, h, gattManagerIface, "Application", dbus.ObjectPath(app.Path()), done)
}

// RegisterAdvertisement exports ad and asks BlueZ to start advertising it.
func (a *Adapter) RegisterAdvertisement(h host.Handle, ad *gatt.Advertisement, done func(error)) {
	conn, err := a.connection()
	if err == nil {
		err = a.exportAdvertisement(conn, ad)
	}
	if err != nil {
		go done(fmt.Errorf("export advertisement: %w", err))
		return
	}
	a.register(conn, h, adManagerIface, "Advertisement", dbus.ObjectPath(ad.Path()), done)
}

func (a *Adapter) register(conn Conn, h host.Handle, manager, what string, path dbus.ObjectPath, done func(error)) {
	obj := conn.Object(Service, dbus.ObjectPath(h))
	call := obj.Go(manager+".Register"+what, 0, make(chan *dbus.Call, 1), path, map[string]dbus.Variant{})

	go func() {
		reply := <-call.Done
		if reply.Err == nil {
			pushed := a.pushCleanup("unregister "+string(path), func() error {
				ctx, cancel := context.WithTimeout(context.Background(), unregisterTimeout)
				defer cancel()
				return obj.CallWithContext(ctx, manager+".Unregister"+what, 0, path).Err
			})
			if !pushed {
				// BlueZ drops registrations of a client whose connection went away.
				a.logger.WithField("path", path).Debug("Registration completed after close")
			}
		}
		done(reply.Err)
	}()
}

// NotifyValue emits PropertiesChanged for the characteristic value, which
// BlueZ forwards to every subscribed central.
func (a *Adapter) NotifyValue(c *gatt.Characteristic, value []byte) {
	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()
	if conn == nil {
		return
	}

	err := conn.Emit(dbus.ObjectPath(c.Path()), propertiesIface+".PropertiesChanged",
		gatt.CharacteristicInterface,
		map[string]dbus.Variant{"Value": dbus.MakeVariant(value)},
		[]string{},
	)
	if err != nil {
		a.logger.WithError(err).WithField("path", c.Path()).Warn("Failed to emit value change")
	}
}

// Close unregisters and unexports everything in reverse order, then closes
// the bus connection.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	cleanup := a.cleanup
	a.cleanup = nil
	conn := a.conn
	a.mu.Unlock()

	for i := len(cleanup) - 1; i >= 0; i-- {
		if err := cleanup[i].fn(); err != nil {
			a.logger.WithError(err).WithField("step", cleanup[i].name).Debug("Cleanup step failed")
		}
	}
	if conn == nil {
		return nil
	}
	return conn.Close()
}

func (a *Adapter) connection() (Conn, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil, ErrClosed
	}
	if a.conn != nil {
		return a.conn, nil
	}
	conn, err := a.dial()
	if err != nil {
		return nil, fmt.Errorf("connect system bus: %w", err)
	}
	a.conn = conn
	return conn, nil
}

// pushCleanup records a teardown step. It returns false once the adapter is
// closed, in which case fn is not kept.
func (a *Adapter) pushCleanup(name string, fn func() error) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return false
	}
	a.cleanup = append(a.cleanup, cleanupFunc{name: name, fn: fn})
	return true
}

// invoke runs fn on the event loop on behalf of an incoming D-Bus call.
func (a *Adapter) invoke(fn func()) *dbus.Error {
	a.mu.Lock()
	d := a.dispatcher
	a.mu.Unlock()

	if d == nil {
		return dbus.NewError(errFailed, []interface{}{"adapter is not bound to an event loop"})
	}
	if err := d.Invoke(fn); err != nil {
		return dbus.NewError(errFailed, []interface{}{err.Error()})
	}
	return nil
}

// selectAdapter picks the lowest object path exposing the GATT manager.
func selectAdapter(objs map[dbus.ObjectPath]map[string]map[string]dbus.Variant) (dbus.ObjectPath, bool) {
	var candidates []string
	for path, ifaces := range objs {
		if _, ok := ifaces[gattManagerIface]; ok {
			candidates = append(candidates, string(path))
		}
	}
	if len(candidates) == 0 {
		return "", false
	}
	sort.Strings(candidates)
	return dbus.ObjectPath(candidates[0]), true
}

var _ host.Adapter = (*Adapter)(nil)
