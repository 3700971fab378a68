package gatt

// SubscriptionEvent describes a transition of a characteristic's notifying state.
type SubscriptionEvent struct {
	Path      Path
	UUID      string
	Notifying bool
}

// SubscriptionListener observes subscription transitions.
type SubscriptionListener interface {
	SubscriptionChanged(ev SubscriptionEvent)
}

// SubscriptionListenerFunc is an adapter to allow the use of ordinary functions as SubscriptionListeners.
type SubscriptionListenerFunc func(ev SubscriptionEvent)

// SubscriptionChanged calls f(ev).
func (f SubscriptionListenerFunc) SubscriptionChanged(ev SubscriptionEvent) {
	f(ev)
}

// subscription tracks whether at least one central has notifications enabled.
// Individual centrals are not tracked.
type subscription struct {
	notifying bool
}

// enable reports whether the call changed the state.
func (s *subscription) enable() bool {
	if s.notifying {
		return false
	}
	s.notifying = true
	return true
}

// disable reports whether the call changed the state.
func (s *subscription) disable() bool {
	if !s.notifying {
		return false
	}
	s.notifying = false
	return true
}
