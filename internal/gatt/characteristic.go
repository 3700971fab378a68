package gatt

import (
	"fmt"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
)

// Characteristic is a GATT characteristic owned by a Service.
type Characteristic struct {
	path        Path
	uuid        string
	bleUUID     ble.UUID
	flags       ble.Property
	servicePath Path
	value       []byte
	maxLen      int
	descs       []*Descriptor
	sub         subscription
	hooks       *hooks
}

func (c *Characteristic) Path() Path { return c.path }
func (c *Characteristic) UUID() string { return c.uuid }
func (c *Characteristic) BLEUUID() ble.UUID { return c.bleUUID }
func (c *Characteristic) Flags() ble.Property { return c.flags }
func (c *Characteristic) ServicePath() Path { return c.servicePath }
func (c *Characteristic) MaxValueLength() int { return c.maxLen }
func (c *Characteristic) Notifying() bool { return c.sub.notifying }

// Descriptors returns the owned descriptors in insertion order.
func (c *Characteristic) Descriptors() []*Descriptor {
	out := make([]*Descriptor, len(c.descs))
	copy(out, c.descs)
	return out
}

// AddDescriptor creates a descriptor owned by the characteristic.
func (c *Characteristic) AddDescriptor(uuid string, flags ble.Property, value []byte) (*Descriptor, error) {
	canonical, u, err := ParseUUID(uuid)
	if err != nil {
		return nil, fmt.Errorf("add descriptor: %w", err)
	}
	d := &Descriptor{
		path:     Path(fmt.Sprintf("%s/desc%d", c.path, len(c.descs))),
		uuid:     canonical,
		bleUUID:  u,
		flags:    flags,
		charPath: c.path,
		value:    truncate(value, c.maxLen),
		maxLen:   c.maxLen,
	}
	c.descs = append(c.descs, d)
	return d, nil
}

// ReadValue returns a copy of the stored value.
func (c *Characteristic) ReadValue() []byte {
	out := make([]byte, len(c.value))
	copy(out, c.value)
	return out
}

// WriteValue stores a value written by a central. Characteristics without a
// write flag reject the request with ErrInvalidArgs.
func (c *Characteristic) WriteValue(value []byte) error {
	if c.flags&(ble.CharWrite|ble.CharWriteNR) == 0 {
		return fmt.Errorf("%w: characteristic %s is not writable", ErrInvalidArgs, c.path)
	}
	c.value = truncate(value, c.maxLen)
	return nil
}

// StartNotify enables notifications. Redundant calls are no-ops.
func (c *Characteristic) StartNotify() error {
	if c.flags&(ble.CharNotify|ble.CharIndicate) == 0 {
		return fmt.Errorf("%w: characteristic %s does not support notifications", ErrInvalidArgs, c.path)
	}
	if !c.sub.enable() {
		c.logger().Debug("Notifications already enabled")
		return nil
	}
	c.logger().Info("Client subscribed to notifications")
	c.emitSubscription()
	return nil
}

// StopNotify disables notifications. Redundant calls are no-ops.
func (c *Characteristic) StopNotify() error {
	if !c.sub.disable() {
		c.logger().Debug("Notifications already disabled")
		return nil
	}
	c.logger().Info("Client unsubscribed from notifications")
	c.emitSubscription()
	return nil
}

// UpdateValue replaces the stored value, truncated to the maximum length, and
// pushes it to the ValueNotifier when notifications are enabled. Without a
// subscriber the value changes silently. It reports whether a notification
// was emitted.
func (c *Characteristic) UpdateValue(value []byte) bool {
	c.value = truncate(value, c.maxLen)
	if !c.sub.notifying {
		return false
	}
	if c.hooks.notifier == nil {
		c.logger().Warn("Notifications enabled but no notifier installed")
		return false
	}
	c.hooks.notifier.NotifyValue(c, c.ReadValue())
	c.logger().WithField("bytes", len(c.value)).Debug("Notification sent")
	return true
}

// Properties implements Object.
func (c *Characteristic) Properties() map[string]map[string]any {
	paths := make([]Path, len(c.descs))
	for i, d := range c.descs {
		paths[i] = d.path
	}
	return map[string]map[string]any{
		CharacteristicInterface: {
			"Service":     c.servicePath,
			"UUID":        c.uuid,
			"Flags":       FlagNames(c.flags),
			"Descriptors": paths,
		},
	}
}

// PropertiesFor implements Object.
func (c *Characteristic) PropertiesFor(iface string) (map[string]any, error) {
	return propertyFor(c, iface)
}

func (c *Characteristic) emitSubscription() {
	if c.hooks.listener == nil {
		return
	}
	c.hooks.listener.SubscriptionChanged(SubscriptionEvent{
		Path:      c.path,
		UUID:      c.uuid,
		Notifying: c.sub.notifying,
	})
}

func (c *Characteristic) logger() *logrus.Entry {
	return c.hooks.logger.WithFields(logrus.Fields{
		"characteristic": c.uuid,
		"path":           c.path,
	})
}
