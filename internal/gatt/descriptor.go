package gatt

import (
	"fmt"

	"github.com/go-ble/ble"
)

// Descriptor is a GATT descriptor owned by a Characteristic.
// It carries structure and a static value only.
type Descriptor struct {
	path     Path
	uuid     string
	bleUUID  ble.UUID
	flags    ble.Property
	charPath Path
	value    []byte
	maxLen   int
}

func (d *Descriptor) Path() Path { return d.path }
func (d *Descriptor) UUID() string { return d.uuid }
func (d *Descriptor) BLEUUID() ble.UUID { return d.bleUUID }
func (d *Descriptor) CharacteristicPath() Path { return d.charPath }

// ReadValue returns a copy of the stored value.
func (d *Descriptor) ReadValue() []byte {
	out := make([]byte, len(d.value))
	copy(out, d.value)
	return out
}

// WriteValue stores a value when the descriptor is writable.
func (d *Descriptor) WriteValue(value []byte) error {
	if d.flags&(ble.CharWrite|ble.CharWriteNR) == 0 {
		return fmt.Errorf("%w: descriptor %s is not writable", ErrInvalidArgs, d.path)
	}
	d.value = truncate(value, d.maxLen)
	return nil
}

// Properties implements Object.
func (d *Descriptor) Properties() map[string]map[string]any {
	return map[string]map[string]any{
		DescriptorInterface: {
			"Characteristic": d.charPath,
			"UUID":           d.uuid,
			"Flags":          FlagNames(d.flags),
		},
	}
}

// PropertiesFor implements Object.
func (d *Descriptor) PropertiesFor(iface string) (map[string]any, error) {
	return propertyFor(d, iface)
}
