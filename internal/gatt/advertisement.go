package gatt

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// AdvertisementTypePeripheral is the advertisement type of a connectable peripheral.
const AdvertisementTypePeripheral = "peripheral"

// Advertisement describes how the peripheral announces itself. It is
// immutable once constructed.
type Advertisement struct {
	path         Path
	adType       string
	localName    string
	serviceUUIDs []string
	onRelease    func()
	logger       *logrus.Logger
}

// NewAdvertisement creates a peripheral advertisement carrying the local name
// and service UUIDs.
func NewAdvertisement(path Path, localName string, serviceUUIDs []string, logger *logrus.Logger) (*Advertisement, error) {
	if logger == nil {
		logger = logrus.New()
	}
	uuids := make([]string, 0, len(serviceUUIDs))
	for _, s := range serviceUUIDs {
		canonical, _, err := ParseUUID(s)
		if err != nil {
			return nil, fmt.Errorf("advertisement: %w", err)
		}
		uuids = append(uuids, canonical)
	}
	return &Advertisement{
		path:         path,
		adType:       AdvertisementTypePeripheral,
		localName:    localName,
		serviceUUIDs: uuids,
		logger:       logger,
	}, nil
}

func (a *Advertisement) Path() Path { return a.path }
func (a *Advertisement) Type() string { return a.adType }
func (a *Advertisement) LocalName() string { return a.localName }

// ServiceUUIDs returns a copy of the advertised service UUIDs.
func (a *Advertisement) ServiceUUIDs() []string {
	out := make([]string, len(a.serviceUUIDs))
	copy(out, a.serviceUUIDs)
	return out
}

// OnRelease installs a hook run after the host releases the advertisement.
func (a *Advertisement) OnRelease(f func()) {
	a.onRelease = f
}

// Release is invoked by the host when advertising is torn down.
// Re-registration is left to the host adapter.
func (a *Advertisement) Release() {
	a.logger.WithField("path", a.path).Info("Advertisement released")
	if a.onRelease != nil {
		a.onRelease()
	}
}

// Properties implements Object.
func (a *Advertisement) Properties() map[string]map[string]any {
	return map[string]map[string]any{
		AdvertisementInterface: {
			"Type":         a.adType,
			"LocalName":    a.localName,
			"ServiceUUIDs": a.ServiceUUIDs(),
		},
	}
}

// PropertiesFor implements Object.
func (a *Advertisement) PropertiesFor(iface string) (map[string]any, error) {
	return propertyFor(a, iface)
}
