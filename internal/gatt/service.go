package gatt

import (
	"fmt"

	"github.com/go-ble/ble"
)

// Service is a GATT service owned by an Application.
type Service struct {
	path    Path
	uuid    string
	bleUUID ble.UUID
	primary bool
	chars   []*Characteristic
	hooks   *hooks
}

// CharacteristicOption customizes a characteristic at construction.
type CharacteristicOption func(*Characteristic)

// WithMaxValueLength bounds the stored value length.
func WithMaxValueLength(n int) CharacteristicOption {
	return func(c *Characteristic) {
		if n > 0 {
			c.maxLen = n
		}
	}
}

// WithInitialValue sets the value returned before the first update.
func WithInitialValue(v []byte) CharacteristicOption {
	return func(c *Characteristic) {
		c.value = v
	}
}

func (s *Service) Path() Path { return s.path }
func (s *Service) UUID() string { return s.uuid }
func (s *Service) BLEUUID() ble.UUID { return s.bleUUID }
func (s *Service) Primary() bool { return s.primary }

// Characteristics returns the owned characteristics in insertion order.
func (s *Service) Characteristics() []*Characteristic {
	out := make([]*Characteristic, len(s.chars))
	copy(out, s.chars)
	return out
}

// AddCharacteristic creates a characteristic owned by the service.
// It fails if the UUID is malformed or already used within the service.
func (s *Service) AddCharacteristic(uuid string, flags ble.Property, opts ...CharacteristicOption) (*Characteristic, error) {
	canonical, u, err := ParseUUID(uuid)
	if err != nil {
		return nil, fmt.Errorf("add characteristic: %w", err)
	}
	for _, c := range s.chars {
		if c.bleUUID.Equal(u) {
			return nil, fmt.Errorf("add characteristic: service %s already contains %s", s.uuid, canonical)
		}
	}

	c := &Characteristic{
		path:        Path(fmt.Sprintf("%s/char%d", s.path, len(s.chars))),
		uuid:        canonical,
		bleUUID:     u,
		flags:       flags,
		servicePath: s.path,
		maxLen:      DefaultMaxValueLength,
		hooks:       s.hooks,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.value = truncate(c.value, c.maxLen)

	s.chars = append(s.chars, c)
	return c, nil
}

// Properties implements Object.
func (s *Service) Properties() map[string]map[string]any {
	paths := make([]Path, len(s.chars))
	for i, c := range s.chars {
		paths[i] = c.path
	}
	return map[string]map[string]any{
		ServiceInterface: {
			"UUID":            s.uuid,
			"Primary":         s.primary,
			"Characteristics": paths,
		},
	}
}

// PropertiesFor implements Object.
func (s *Service) PropertiesFor(iface string) (map[string]any, error) {
	return propertyFor(s, iface)
}
