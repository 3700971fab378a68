package bluez

import (
	"sort"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"github.com/godbus/dbus/v5/prop"
	"github.com/sirupsen/logrus"

	"github.com/srg/blealert/internal/gatt"
)

// properties serves org.freedesktop.DBus.Properties for one object.
type properties struct {
	a   *Adapter
	obj gatt.Object
}

func (p *properties) Get(iface, name string) (dbus.Variant, *dbus.Error) {
	var (
		v    dbus.Variant
		derr *dbus.Error
	)
	if err := p.a.invoke(func() {
		props, err := p.obj.PropertiesFor(iface)
		if err != nil {
			derr = toDBusError(err)
			return
		}
		raw, ok := props[name]
		if !ok {
			derr = dbus.NewError(errUnknownProperty, []interface{}{iface + "." + name})
			return
		}
		v = toVariant(raw)
	}); err != nil {
		return dbus.Variant{}, err
	}
	return v, derr
}

func (p *properties) GetAll(iface string) (map[string]dbus.Variant, *dbus.Error) {
	var (
		out  map[string]dbus.Variant
		derr *dbus.Error
	)
	if err := p.a.invoke(func() {
		props, err := p.obj.PropertiesFor(iface)
		if err != nil {
			derr = toDBusError(err)
			return
		}
		out = toVariants(props)
	}); err != nil {
		return nil, err
	}
	return out, derr
}

func (p *properties) Set(iface, name string, _ dbus.Variant) *dbus.Error {
	return dbus.NewError(errPropertyReadOnly, []interface{}{iface + "." + name})
}

// application serves the object manager at the application root.
type application struct {
	a   *Adapter
	app *gatt.Application
}

func (o *application) GetManagedObjects() (map[dbus.ObjectPath]map[string]map[string]dbus.Variant, *dbus.Error) {
	var out map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	if err := o.a.invoke(func() {
		out = toManagedObjects(o.app.ManagedObjects())
	}); err != nil {
		return nil, err
	}
	return out, nil
}

type service struct{}

type characteristic struct {
	a *Adapter
	c *gatt.Characteristic
}

func (o *characteristic) ReadValue(options map[string]dbus.Variant) ([]byte, *dbus.Error) {
	var value []byte
	if err := o.a.invoke(func() { value = o.c.ReadValue() }); err != nil {
		return nil, err
	}
	o.log().WithField("length", len(value)).Debug("Central read value")
	return sliceAt(value, options)
}

func (o *characteristic) WriteValue(value []byte, _ map[string]dbus.Variant) *dbus.Error {
	var werr error
	if err := o.a.invoke(func() { werr = o.c.WriteValue(value) }); err != nil {
		return err
	}
	return toDBusError(werr)
}

func (o *characteristic) StartNotify() *dbus.Error {
	var serr error
	if err := o.a.invoke(func() { serr = o.c.StartNotify() }); err != nil {
		return err
	}
	return toDBusError(serr)
}

func (o *characteristic) StopNotify() *dbus.Error {
	var serr error
	if err := o.a.invoke(func() { serr = o.c.StopNotify() }); err != nil {
		return err
	}
	return toDBusError(serr)
}

func (o *characteristic) log() *logrus.Entry {
	return o.a.logger.WithFields(logrus.Fields{
		"characteristic": o.c.UUID(),
		"path":           o.c.Path(),
	})
}

type descriptor struct {
	a *Adapter
	d *gatt.Descriptor
}

func (o *descriptor) ReadValue(options map[string]dbus.Variant) ([]byte, *dbus.Error) {
	var value []byte
	if err := o.a.invoke(func() { value = o.d.ReadValue() }); err != nil {
		return nil, err
	}
	return sliceAt(value, options)
}

func (o *descriptor) WriteValue(value []byte, _ map[string]dbus.Variant) *dbus.Error {
	var werr error
	if err := o.a.invoke(func() { werr = o.d.WriteValue(value) }); err != nil {
		return err
	}
	return toDBusError(werr)
}

type advertisement struct {
	a  *Adapter
	ad *gatt.Advertisement
}

func (o *advertisement) Release() *dbus.Error {
	return o.a.invoke(o.ad.Release)
}

// export is one interface implementation exported at a path.
type export struct {
	iface string
	impl  interface{}
	intro introspect.Interface
}

func (a *Adapter) exportApplication(conn Conn, app *gatt.Application) error {
	root := &application{a: a, app: app}
	if err := a.exportObject(conn, app.Path(), export{
		iface: objectManagerIface,
		impl:  root,
		intro: introspect.Interface{Name: objectManagerIface, Methods: introspect.Methods(root)},
	}); err != nil {
		return err
	}

	for _, obj := range app.Objects() {
		var (
			iface string
			impl  interface{}
		)
		switch o := obj.(type) {
		case *gatt.Service:
			iface, impl = gatt.ServiceInterface, &service{}
		case *gatt.Characteristic:
			iface, impl = gatt.CharacteristicInterface, &characteristic{a: a, c: o}
		case *gatt.Descriptor:
			iface, impl = gatt.DescriptorInterface, &descriptor{a: a, d: o}
		default:
			continue
		}

		if err := a.exportObject(conn, obj.Path(),
			export{
				iface: iface,
				impl:  impl,
				intro: introspect.Interface{Name: iface, Methods: introspect.Methods(impl), Properties: propertySignatures(obj, iface)},
			},
			a.propertiesExport(obj),
		); err != nil {
			return err
		}
	}
	return nil
}

func (a *Adapter) exportAdvertisement(conn Conn, ad *gatt.Advertisement) error {
	impl := &advertisement{a: a, ad: ad}
	return a.exportObject(conn, ad.Path(),
		export{
			iface: gatt.AdvertisementInterface,
			impl:  impl,
			intro: introspect.Interface{
				Name:       gatt.AdvertisementInterface,
				Methods:    introspect.Methods(impl),
				Properties: propertySignatures(ad, gatt.AdvertisementInterface),
			},
		},
		a.propertiesExport(ad),
	)
}

func (a *Adapter) propertiesExport(obj gatt.Object) export {
	return export{iface: propertiesIface, impl: &properties{a: a, obj: obj}, intro: prop.IntrospectData}
}

// exportObject exports every interface plus introspection data at path and
// queues the matching unexports.
func (a *Adapter) exportObject(conn Conn, path gatt.Path, exports ...export) error {
	node := &introspect.Node{Name: string(path), Interfaces: []introspect.Interface{introspect.IntrospectData}}
	for _, e := range exports {
		node.Interfaces = append(node.Interfaces, e.intro)
	}
	exports = append(exports, export{iface: introspectIface, impl: introspect.NewIntrospectable(node)})

	objPath := dbus.ObjectPath(path)
	for _, e := range exports {
		if err := conn.Export(e.impl, objPath, e.iface); err != nil {
			return err
		}
		iface := e.iface
		a.pushCleanup("unexport "+string(path)+" "+iface, func() error {
			return conn.Export(nil, objPath, iface)
		})
	}
	a.logger.WithField("path", path).Debug("Exported object")
	return nil
}

// propertySignatures describes the read-only properties of obj for
// introspection.
func propertySignatures(obj gatt.Object, iface string) []introspect.Property {
	props, err := obj.PropertiesFor(iface)
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]introspect.Property, 0, len(names))
	for _, name := range names {
		out = append(out, introspect.Property{
			Name:   name,
			Type:   toVariant(props[name]).Signature().String(),
			Access: "read",
		})
	}
	return out
}
