package bluez

import (
	"errors"

	"github.com/godbus/dbus/v5"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/srg/blealert/internal/gatt"
)

const (
	errInvalidArgs      = "org.freedesktop.DBus.Error.InvalidArgs"
	errUnknownObject    = "org.freedesktop.DBus.Error.UnknownObject"
	errUnknownProperty  = "org.freedesktop.DBus.Error.UnknownProperty"
	errPropertyReadOnly = "org.freedesktop.DBus.Error.PropertyReadOnly"
	errFailed           = "org.bluez.Error.Failed"
	errInvalidOffset    = "org.bluez.Error.InvalidOffset"
)

// toVariant wraps a property value, turning object paths into D-Bus paths.
func toVariant(v any) dbus.Variant {
	switch t := v.(type) {
	case gatt.Path:
		return dbus.MakeVariant(dbus.ObjectPath(t))
	case []gatt.Path:
		paths := make([]dbus.ObjectPath, len(t))
		for i, p := range t {
			paths[i] = dbus.ObjectPath(p)
		}
		return dbus.MakeVariant(paths)
	default:
		return dbus.MakeVariant(v)
	}
}

func toVariants(props map[string]any) map[string]dbus.Variant {
	out := make(map[string]dbus.Variant, len(props))
	for name, v := range props {
		out[name] = toVariant(v)
	}
	return out
}

func toManagedObjects(objs *orderedmap.OrderedMap[gatt.Path, map[string]map[string]any]) map[dbus.ObjectPath]map[string]map[string]dbus.Variant {
	out := make(map[dbus.ObjectPath]map[string]map[string]dbus.Variant, objs.Len())
	for pair := objs.Oldest(); pair != nil; pair = pair.Next() {
		ifaces := make(map[string]map[string]dbus.Variant, len(pair.Value))
		for iface, props := range pair.Value {
			ifaces[iface] = toVariants(props)
		}
		out[dbus.ObjectPath(pair.Key)] = ifaces
	}
	return out
}

// toDBusError maps object-model errors onto D-Bus error names.
func toDBusError(err error) *dbus.Error {
	if err == nil {
		return nil
	}

	var notFound *gatt.NotFoundError
	switch {
	case errors.Is(err, gatt.ErrInvalidArgs):
		return dbus.NewError(errInvalidArgs, []interface{}{err.Error()})
	case errors.As(err, &notFound):
		return dbus.NewError(errUnknownObject, []interface{}{err.Error()})
	default:
		return dbus.NewError(errFailed, []interface{}{err.Error()})
	}
}

// readOffset extracts the "offset" option of a ReadValue request.
func readOffset(options map[string]dbus.Variant) (int, bool) {
	v, ok := options["offset"]
	if !ok {
		return 0, true
	}
	switch off := v.Value().(type) {
	case uint16:
		return int(off), true
	case uint32:
		return int(off), true
	default:
		return 0, false
	}
}

func sliceAt(value []byte, options map[string]dbus.Variant) ([]byte, *dbus.Error) {
	off, ok := readOffset(options)
	if !ok {
		return nil, dbus.NewError(errInvalidArgs, []interface{}{"offset must be an unsigned integer"})
	}
	if off > len(value) {
		return nil, dbus.NewError(errInvalidOffset, []interface{}{"offset beyond value length"})
	}
	return value[off:], nil
}
