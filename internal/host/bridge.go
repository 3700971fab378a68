package host

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/blealert/internal/gatt"
	"github.com/srg/blealert/internal/groutine"
)

// State is the lifecycle state of a Bridge session.
type State int32

const (
	StateNotStarted State = iota
	StateDiscovering
	StateAdapterFound
	StateNoAdapter
	StateRegistering
	StateRunning
	StateRegistrationFailed
	StateStopping
	StateStopped
)

var stateNames = [...]string{
	StateNotStarted:         "not_started",
	StateDiscovering:        "discovering",
	StateAdapterFound:       "adapter_found",
	StateNoAdapter:          "no_adapter",
	StateRegistering:        "registering",
	StateRunning:            "running",
	StateRegistrationFailed: "registration_failed",
	StateStopping:           "stopping",
	StateStopped:            "stopped",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Options describes the peripheral a Bridge exposes.
type Options struct {
	DeviceName         string
	ServiceUUID        string
	CharacteristicUUID string
	BasePath           gatt.Path
	MaxValueLength     int
	// Flags defaults to read|notify.
	Flags ble.Property
}

// Bridge runs one peripheral session: it discovers the host adapter, builds
// and registers the object model and advertisement, then runs the event loop
// until stopped.
//
// Only State, HasCharacteristic, Notify and Stop may be called from
// other goroutines. Everything else belongs to the loop.
type Bridge struct {
	adapter Adapter
	loop    *Loop
	opts    Options
	logger  *logrus.Logger

	state   atomic.Int32
	hasChar atomic.Bool

	mu        sync.Mutex
	cancelRun context.CancelFunc // cancels the setup phases of Run

	// owned by the loop goroutine
	app       *gatt.Application
	char      *gatt.Characteristic
	ad        *gatt.Advertisement
	pending   int
	regFailed bool
	listener  gatt.SubscriptionListener
}

// NewBridge creates a bridge for one session. A Bridge cannot be restarted;
// create a new one for each session.
func NewBridge(adapter Adapter, opts Options, logger *logrus.Logger) *Bridge {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.Flags == 0 {
		opts.Flags = ble.CharRead | ble.CharNotify
	}
	return &Bridge{
		adapter: adapter,
		loop:    NewLoop(logger),
		opts:    opts,
		logger:  logger,
	}
}

// SetSubscriptionListener forwards subscription transitions to l.
// It must be called before Run.
func (b *Bridge) SetSubscriptionListener(l gatt.SubscriptionListener) {
	b.listener = l
}

// State returns the current session state.
func (b *Bridge) State() State {
	return State(b.state.Load())
}

// HasCharacteristic reports whether the alert characteristic was constructed
// and the session has not shut down.
func (b *Bridge) HasCharacteristic() bool {
	return b.hasChar.Load()
}

// Notify schedules an update of the alert characteristic. done, if set, runs
// on the loop and reports whether a notification reached the host. Notify
// returns false when the update could not be scheduled.
func (b *Bridge) Notify(value []byte, done func(delivered bool)) bool {
	return b.loop.Schedule(func() {
		delivered := b.UpdateCharacteristic(value)
		if done != nil {
			done(delivered)
		}
	})
}

// UpdateCharacteristic updates the alert characteristic. Loop goroutine only.
func (b *Bridge) UpdateCharacteristic(value []byte) bool {
	if b.char == nil {
		return false
	}
	return b.char.UpdateValue(value)
}

// Stop asks the session to end. Safe from any goroutine and before Run.
// Adapter discovery and power-on still in progress are cancelled.
func (b *Bridge) Stop() {
	for {
		cur := b.state.Load()
		if State(cur) == StateStopping || State(cur) == StateStopped {
			break
		}
		if b.state.CompareAndSwap(cur, int32(StateStopping)) {
			break
		}
	}

	b.mu.Lock()
	if b.cancelRun != nil {
		b.cancelRun()
	}
	b.mu.Unlock()
	b.loop.Stop()
}

// Done is closed once the event loop has returned.
func (b *Bridge) Done() <-chan struct{} {
	return b.loop.Done()
}

// Run executes the session on the calling goroutine. ready is called once the
// object model exists or adapter discovery has failed; Run then blocks in the
// event loop until Stop.
func (b *Bridge) Run(ctx context.Context, ready func()) {
	signalled := false
	signalReady := func() {
		if !signalled && ready != nil {
			signalled = true
			ready()
		}
	}
	defer func() {
		b.hasChar.Store(false)
		b.state.Store(int32(StateStopped))
	}()
	defer signalReady()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	b.mu.Lock()
	b.cancelRun = cancel
	b.mu.Unlock()
	if b.stopping() {
		cancel()
	}

	b.logger.WithField("goroutine", groutine.GetName(ctx)).Debug("BLE session starting")
	b.adapter.Bind(b.loop)
	b.transition(StateDiscovering)

	h, err := b.adapter.DiscoverAdapter(ctx)
	if b.stopping() {
		b.logger.Debug("Stopped during adapter discovery")
		b.serve()
		return
	}
	if err != nil {
		b.logger.WithError(err).Error("No BLE adapter found, notifications disabled")
		b.transition(StateNoAdapter)
		signalReady()
		b.serve()
		return
	}
	b.transition(StateAdapterFound)
	b.logger.WithField("adapter", h).Info("BLE adapter found")

	if err := b.adapter.PowerOnAndName(ctx, h, b.opts.DeviceName); err != nil {
		b.logger.WithError(err).WithField("adapter", h).Warn("Failed to power on adapter")
	}
	if b.stopping() {
		b.logger.Debug("Stopped before registration")
		b.serve()
		return
	}

	if err := b.build(); err != nil {
		b.logger.WithError(err).Error("Failed to build GATT application")
		b.regFailed = true
		b.transition(StateRegistrationFailed)
		signalReady()
		b.serve()
		return
	}

	b.transition(StateRegistering)
	b.pending = 2
	b.adapter.RegisterApplication(h, b.app, b.reply("GATT application"))
	b.adapter.RegisterAdvertisement(h, b.ad, b.reply("BLE advertisement"))

	b.hasChar.Store(true)
	signalReady()
	b.serve()
}

func (b *Bridge) serve() {
	b.loop.Run()
	if err := b.adapter.Close(); err != nil {
		b.logger.WithError(err).Warn("Failed to release host adapter")
	}
}

func (b *Bridge) build() error {
	app := gatt.NewApplication(b.opts.BasePath, b.logger)
	app.SetNotifier(b.adapter)
	app.SetSubscriptionListener(gatt.SubscriptionListenerFunc(b.subscriptionChanged))

	svc, err := app.AddService(b.opts.ServiceUUID, true)
	if err != nil {
		return err
	}
	char, err := svc.AddCharacteristic(b.opts.CharacteristicUUID, b.opts.Flags, gatt.WithMaxValueLength(b.opts.MaxValueLength))
	if err != nil {
		return err
	}
	ad, err := gatt.NewAdvertisement(b.opts.BasePath+"/ad0", b.opts.DeviceName, []string{svc.UUID()}, b.logger)
	if err != nil {
		return err
	}

	ad.OnRelease(b.advertisementReleased)

	b.app, b.char, b.ad = app, char, ad
	return nil
}

// reply turns an adapter callback into a work item so the registration
// outcome is handled on the loop.
func (b *Bridge) reply(what string) func(error) {
	return func(err error) {
		if !b.loop.Schedule(func() { b.registered(what, err) }) {
			b.logger.WithField("object", what).Debug("Registration reply arrived after stop")
		}
	}
}

func (b *Bridge) registered(what string, err error) {
	b.pending--
	if err != nil {
		b.regFailed = true
		b.logger.WithError(err).WithField("object", what).Error("Registration failed")
	} else {
		b.logger.WithField("object", what).Info("Registered")
	}

	if b.pending > 0 {
		return
	}
	if b.regFailed {
		b.transition(StateRegistrationFailed)
	} else {
		b.transition(StateRunning)
		b.logger.WithField("name", b.opts.DeviceName).Info("Advertising")
	}
}

// advertisementReleased runs on the loop when the host drops the
// advertisement; the GATT service stays registered.
func (b *Bridge) advertisementReleased() {
	b.logger.WithFields(logrus.Fields{
		"name":  b.opts.DeviceName,
		"state": b.State(),
	}).Warn("Host released advertisement, device is no longer discoverable")
}

func (b *Bridge) subscriptionChanged(ev gatt.SubscriptionEvent) {
	b.logger.WithFields(logrus.Fields{
		"characteristic": ev.UUID,
		"notifying":      ev.Notifying,
	}).Debug("Subscription changed")
	if b.listener != nil {
		b.listener.SubscriptionChanged(ev)
	}
}

func (b *Bridge) stopping() bool {
	s := b.State()
	return s == StateStopping || s == StateStopped
}

// transition moves to s unless the session is already shutting down.
func (b *Bridge) transition(s State) {
	for {
		cur := b.state.Load()
		if State(cur) == StateStopping || State(cur) == StateStopped {
			return
		}
		if b.state.CompareAndSwap(cur, int32(s)) {
			return
		}
	}
}
