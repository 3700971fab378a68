// Package notifier is the public entry point for pushing driver alerts to a
// connected phone over BLE.
//
// A Notifier runs one peripheral session at a time on a dedicated event loop
// goroutine. SendAlert never blocks and never fails: alerts that cannot be
// delivered are dropped and counted in Stats.
package notifier

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"

	"github.com/srg/blealert/internal/gatt"
	"github.com/srg/blealert/internal/groutine"
	"github.com/srg/blealert/internal/host"
	"github.com/srg/blealert/internal/host/bluez"
	"github.com/srg/blealert/internal/payload"
	"github.com/srg/blealert/pkg/config"
)

// DropReason says why an alert did not reach the phone.
type DropReason string

const (
	DropNotRunning    DropReason = "not_running"
	DropNoAdapter     DropReason = "no_adapter"
	DropStopping      DropReason = "stopping"
	DropNotSubscribed DropReason = "not_subscribed"
)

// AdapterFactory creates the host adapter for a new session.
type AdapterFactory func(logger *logrus.Logger) host.Adapter

// BlueZ is the production AdapterFactory.
func BlueZ(logger *logrus.Logger) host.Adapter {
	return bluez.New(logger)
}

// Stats is a snapshot of the notifier counters.
type Stats struct {
	// Sent counts alerts handed to the event loop.
	Sent uint64
	// Delivered counts alerts pushed to a subscribed central.
	Delivered uint64
	Dropped   map[DropReason]uint64
	// Subscribers is 1 while a central has notifications enabled.
	Subscribers int
}

// Notifier owns the BLE peripheral lifecycle.
type Notifier struct {
	cfg     *config.Config
	factory AdapterFactory
	logger  *logrus.Logger

	mu      sync.Mutex // serializes session launch and Stop
	done    <-chan struct{}
	bridge  atomic.Pointer[host.Bridge]
	started atomic.Bool

	sent       atomic.Uint64
	delivered  atomic.Uint64
	subscribed atomic.Bool
	drops      *hashmap.Map[DropReason, *atomic.Uint64]
}

// New creates a stopped notifier. A nil cfg means config.DefaultConfig and a
// nil factory means BlueZ.
func New(cfg *config.Config, factory AdapterFactory, logger *logrus.Logger) *Notifier {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if factory == nil {
		factory = BlueZ
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Notifier{
		cfg:     cfg,
		factory: factory,
		logger:  logger,
		drops:   hashmap.New[DropReason, *atomic.Uint64](),
	}
}

// Start launches a session and waits until the characteristic exists, no
// adapter was found, StartTimeout elapses or ctx is done, whichever is first.
// Start never fails; a session that is not ready in time keeps starting in
// the background. Calling Start on a running notifier does nothing.
func (n *Notifier) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	b, ready := n.launch(ctx)
	if b == nil {
		return
	}

	// The wait runs unlocked so a concurrent Stop is not held up by it.
	select {
	case <-ready:
		if s := b.State(); s == host.StateStopping || s == host.StateStopped {
			n.logger.WithField("state", s).Debug("BLE notifier stopped while starting")
			return
		}
		n.logger.WithFields(logrus.Fields{
			"name":  n.cfg.DeviceName,
			"state": b.State(),
		}).Info("BLE notifier started")
	case <-time.After(n.cfg.StartTimeout):
		n.logger.WithField("timeout", n.cfg.StartTimeout).Warn("BLE notifier may not be ready")
	case <-ctx.Done():
		n.logger.WithError(ctx.Err()).Warn("BLE notifier may not be ready")
	}
}

// launch creates the session bridge and starts its event loop goroutine. It
// returns a nil bridge when a session is already active.
func (n *Notifier) launch(ctx context.Context) (*host.Bridge, <-chan struct{}) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.bridge.Load() != nil {
		n.logger.Debug("BLE notifier already running")
		return nil, nil
	}

	b := host.NewBridge(n.factory(n.logger), host.Options{
		DeviceName:         n.cfg.DeviceName,
		ServiceUUID:        n.cfg.ServiceUUID,
		CharacteristicUUID: n.cfg.CharacteristicUUID,
		BasePath:           gatt.Path(n.cfg.BasePath),
		MaxValueLength:     n.cfg.MaxValueLength,
		Flags:              n.cfg.Flags(),
	}, n.logger)
	b.SetSubscriptionListener(gatt.SubscriptionListenerFunc(n.subscriptionChanged))

	ready := make(chan struct{})
	n.subscribed.Store(false)
	n.bridge.Store(b)
	n.started.Store(true)
	n.done = groutine.Go(context.WithoutCancel(ctx), "ble-event-loop", func(ctx context.Context) {
		b.Run(ctx, func() { close(ready) })
	})
	return b, ready
}

// Stop ends the session and waits up to StopTimeout for the event loop to
// exit. It is safe to call without Start and more than once.
func (n *Notifier) Stop() {
	n.mu.Lock()
	defer n.mu.Unlock()

	b := n.bridge.Load()
	if b == nil {
		return
	}

	b.Stop()
	if groutine.Join(n.done, n.cfg.StopTimeout) {
		n.logger.Info("BLE notifier stopped")
	} else {
		n.logger.WithField("timeout", n.cfg.StopTimeout).Warn("BLE event loop did not exit in time")
	}

	n.bridge.Store(nil)
	n.done = nil
	n.subscribed.Store(false)
}

// SendAlert encodes the alert and hands it to the event loop. It never blocks.
func (n *Notifier) SendAlert(level payload.Level, message string) {
	b := n.bridge.Load()
	if b == nil {
		n.drop(DropNotRunning)
		n.logger.WithField("level", level).Debug("BLE notifier not running, alert dropped")
		return
	}

	switch b.State() {
	case host.StateStopping, host.StateStopped:
		n.drop(DropStopping)
		return
	}

	if !b.HasCharacteristic() {
		switch b.State() {
		case host.StateNoAdapter, host.StateRegistrationFailed:
			n.drop(DropNoAdapter)
			n.logger.WithField("level", level).Warn("BLE characteristic not available, alert dropped")
		default:
			n.drop(DropNotRunning)
			n.logger.WithField("level", level).Debug("BLE notifier still starting, alert dropped")
		}
		return
	}

	value := payload.Encode(level, message, n.cfg.MaxPayloadLength)
	if !b.Notify(value, n.deliveryResult) {
		n.drop(DropStopping)
		return
	}
	n.sent.Add(1)
}

// State reports the current session state.
func (n *Notifier) State() host.State {
	if b := n.bridge.Load(); b != nil {
		return b.State()
	}
	if n.started.Load() {
		return host.StateStopped
	}
	return host.StateNotStarted
}

// Stats returns a snapshot of the counters.
func (n *Notifier) Stats() Stats {
	s := Stats{
		Sent:      n.sent.Load(),
		Delivered: n.delivered.Load(),
		Dropped:   make(map[DropReason]uint64, n.drops.Len()),
	}
	n.drops.Range(func(reason DropReason, count *atomic.Uint64) bool {
		s.Dropped[reason] = count.Load()
		return true
	})
	if n.subscribed.Load() {
		s.Subscribers = 1
	}
	return s
}

func (n *Notifier) deliveryResult(delivered bool) {
	if delivered {
		n.delivered.Add(1)
		return
	}
	n.drop(DropNotSubscribed)
}

func (n *Notifier) subscriptionChanged(ev gatt.SubscriptionEvent) {
	n.subscribed.Store(ev.Notifying)
	if ev.Notifying {
		n.logger.WithField("characteristic", ev.UUID).Info("Phone subscribed to alerts")
	} else {
		n.logger.WithField("characteristic", ev.UUID).Info("Phone unsubscribed from alerts")
	}
}

func (n *Notifier) drop(reason DropReason) {
	count, ok := n.drops.Get(reason)
	if !ok {
		count, _ = n.drops.GetOrInsert(reason, &atomic.Uint64{})
	}
	count.Add(1)
}
