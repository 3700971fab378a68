package gatt

import (
	"fmt"
	"strings"

	"github.com/go-ble/ble"
)

// Host interface names used in property snapshots.
const (
	ServiceInterface        = "org.bluez.GattService1"
	CharacteristicInterface = "org.bluez.GattCharacteristic1"
	DescriptorInterface     = "org.bluez.GattDescriptor1"
	AdvertisementInterface  = "org.bluez.LEAdvertisement1"
)

// DefaultMaxValueLength is the largest attribute value the host accepts by default.
const DefaultMaxValueLength = 512

// Path identifies an object inside the host's object namespace.
type Path string

// Object is a node of the tree that the host can query for properties.
type Object interface {
	Path() Path
	// Properties returns a snapshot of every interface the object implements.
	Properties() map[string]map[string]any
	// PropertiesFor returns the properties of a single interface.
	PropertiesFor(iface string) (map[string]any, error)
}

// propertyFor is the shared PropertiesFor implementation: objects implement a
// single interface each.
func propertyFor(o Object, iface string) (map[string]any, error) {
	props, ok := o.Properties()[iface]
	if !ok {
		return nil, &InterfaceError{Path: o.Path(), Interface: iface}
	}
	return props, nil
}

// flagNames maps go-ble property bits to host flag strings, in bit order.
var flagNames = []struct {
	bit  ble.Property
	name string
}{
	{ble.CharBroadcast, "broadcast"},
	{ble.CharRead, "read"},
	{ble.CharWriteNR, "write-without-response"},
	{ble.CharWrite, "write"},
	{ble.CharNotify, "notify"},
	{ble.CharIndicate, "indicate"},
	{ble.CharSignedWrite, "authenticated-signed-writes"},
	{ble.CharExtended, "extended-properties"},
}

// FlagNames renders a property set as host flag strings.
func FlagNames(p ble.Property) []string {
	names := make([]string, 0, len(flagNames))
	for _, f := range flagNames {
		if p&f.bit != 0 {
			names = append(names, f.name)
		}
	}
	return names
}

// ParseFlags converts host flag strings ("read,notify" or separate values) into a property set.
func ParseFlags(flags ...string) (ble.Property, error) {
	var p ble.Property
	for _, group := range flags {
		for _, name := range strings.Split(group, ",") {
			name = strings.TrimSpace(strings.ToLower(name))
			if name == "" {
				continue
			}
			found := false
			for _, f := range flagNames {
				if f.name == name {
					p |= f.bit
					found = true
					break
				}
			}
			if !found {
				return 0, fmt.Errorf("unknown characteristic flag %q", name)
			}
		}
	}
	return p, nil
}

// ParseUUID validates a 16-, 32- or 128-bit UUID string and returns it in
// canonical lowercase form alongside its go-ble representation.
func ParseUUID(s string) (string, ble.UUID, error) {
	u, err := ble.Parse(s)
	if err != nil {
		return "", nil, fmt.Errorf("invalid UUID %q: %w", s, err)
	}
	return strings.ToLower(s), u, nil
}

func truncate(value []byte, max int) []byte {
	if len(value) > max {
		value = value[:max]
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out
}
