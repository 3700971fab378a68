package gatt

import (
	"fmt"

	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// ValueNotifier receives characteristic values that must be pushed to
// subscribed centrals. The host adapter implements it.
type ValueNotifier interface {
	NotifyValue(c *Characteristic, value []byte)
}

// ValueNotifierFunc is an adapter to allow the use of ordinary functions as ValueNotifiers.
type ValueNotifierFunc func(c *Characteristic, value []byte)

// NotifyValue calls f(c, value).
func (f ValueNotifierFunc) NotifyValue(c *Characteristic, value []byte) {
	f(c, value)
}

// hooks are the outbound sinks shared by every object of one application.
type hooks struct {
	notifier ValueNotifier
	listener SubscriptionListener
	logger   *logrus.Logger
}

// Application is the root of a GATT object tree.
type Application struct {
	path     Path
	services []*Service
	hooks    *hooks
}

// NewApplication creates an empty application rooted at path.
func NewApplication(path Path, logger *logrus.Logger) *Application {
	if logger == nil {
		logger = logrus.New()
	}
	return &Application{
		path:  path,
		hooks: &hooks{logger: logger},
	}
}

// Path returns the application's object path.
func (a *Application) Path() Path {
	return a.path
}

// SetNotifier installs the sink for value change notifications.
func (a *Application) SetNotifier(n ValueNotifier) {
	a.hooks.notifier = n
}

// SetSubscriptionListener installs the sink for subscription transitions.
func (a *Application) SetSubscriptionListener(l SubscriptionListener) {
	a.hooks.listener = l
}

// AddService creates a service owned by the application.
// Services must be added before the application is registered with a host.
func (a *Application) AddService(uuid string, primary bool) (*Service, error) {
	canonical, u, err := ParseUUID(uuid)
	if err != nil {
		return nil, fmt.Errorf("add service: %w", err)
	}

	svc := &Service{
		path:    Path(fmt.Sprintf("%s/service%d", a.path, len(a.services))),
		uuid:    canonical,
		bleUUID: u,
		primary: primary,
		hooks:   a.hooks,
	}
	a.services = append(a.services, svc)
	return svc, nil
}

// Services returns the owned services in insertion order.
func (a *Application) Services() []*Service {
	out := make([]*Service, len(a.services))
	copy(out, a.services)
	return out
}

// Service looks up a service by path.
func (a *Application) Service(path Path) (*Service, error) {
	for _, svc := range a.services {
		if svc.path == path {
			return svc, nil
		}
	}
	return nil, &NotFoundError{Resource: "service", Path: path}
}

// Characteristic looks up a characteristic by path.
func (a *Application) Characteristic(path Path) (*Characteristic, error) {
	for _, svc := range a.services {
		for _, c := range svc.chars {
			if c.path == path {
				return c, nil
			}
		}
	}
	return nil, &NotFoundError{Resource: "characteristic", Path: path}
}

// Descriptor looks up a descriptor by path.
func (a *Application) Descriptor(path Path) (*Descriptor, error) {
	for _, svc := range a.services {
		for _, c := range svc.chars {
			for _, d := range c.descs {
				if d.path == path {
					return d, nil
				}
			}
		}
	}
	return nil, &NotFoundError{Resource: "descriptor", Path: path}
}

// Objects returns every descendant object in tree order.
func (a *Application) Objects() []Object {
	var objs []Object
	for _, svc := range a.services {
		objs = append(objs, svc)
		for _, c := range svc.chars {
			objs = append(objs, c)
			for _, d := range c.descs {
				objs = append(objs, d)
			}
		}
	}
	return objs
}

// ManagedObjects returns a snapshot of every descendant object and its
// interface properties, ordered service, characteristics, descriptors.
// The snapshot reflects the tree at call time.
func (a *Application) ManagedObjects() *orderedmap.OrderedMap[Path, map[string]map[string]any] {
	objs := orderedmap.New[Path, map[string]map[string]any]()
	for _, o := range a.Objects() {
		objs.Set(o.Path(), o.Properties())
	}
	return objs
}
