// Package host bridges the GATT object model to an external Bluetooth host
// stack.
//
// A Bridge owns one Loop, a cooperative single-threaded event loop that runs
// every object-model mutation and every host interaction. Other goroutines
// only hand work to the loop through Schedule; host-originated calls enter it
// through the Dispatcher bound to the Adapter.
package host

import (
	"context"
	"errors"

	"github.com/srg/blealert/internal/gatt"
)

// Handle identifies a host adapter (e.g. "/org/bluez/hci0").
type Handle string

var (
	// ErrAdapterNotFound is returned by DiscoverAdapter when no adapter offers GATT manager capability.
	ErrAdapterNotFound = errors.New("no adapter with GATT manager capability found")

	// ErrLoopStopped is returned when work reaches a loop that is stopping or stopped.
	ErrLoopStopped = errors.New("event loop stopped")
)

// Dispatcher runs host-originated calls on the event loop and waits for them.
type Dispatcher interface {
	Invoke(fn func()) error
}

// Adapter is the seam between the bridge and an external BLE host.
//
// Registration is asynchronous: the done callback may fire on any goroutine,
// and the bridge re-enters the event loop before acting on it.
type Adapter interface {
	gatt.ValueNotifier

	// Bind installs the dispatcher used for every incoming host call.
	Bind(d Dispatcher)
	// DiscoverAdapter returns the first host adapter with GATT manager capability.
	DiscoverAdapter(ctx context.Context) (Handle, error)
	// PowerOnAndName powers the radio on and sets its advertised alias.
	PowerOnAndName(ctx context.Context, h Handle, name string) error
	// RegisterApplication exposes app to the host.
	RegisterApplication(h Handle, app *gatt.Application, done func(error))
	// RegisterAdvertisement starts advertising ad.
	RegisterAdvertisement(h Handle, ad *gatt.Advertisement, done func(error))
	// Close releases every host resource held by the adapter.
	Close() error
}
