package bluez

import (
	"context"
	"errors"
	"sync"

	"github.com/godbus/dbus/v5"
)

type exported struct {
	path  dbus.ObjectPath
	iface string
	impl  interface{}
}

type emitted struct {
	path dbus.ObjectPath
	name string
	body []interface{}
}

type methodCall struct {
	path   dbus.ObjectPath
	method string
	args   []interface{}
}

// fakeConn records everything the adapter does on the bus.
type fakeConn struct {
	mu      sync.Mutex
	objects map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	callErr map[string]error
	held    map[string]chan struct{}
	exports []exported
	emits   []emitted
	calls   []methodCall
	closed  bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		objects: map[dbus.ObjectPath]map[string]map[string]dbus.Variant{},
		callErr: map[string]error{},
		held:    map[string]chan struct{}{},
	}
}

// hold delays the async reply of method until the returned func is called.
func (c *fakeConn) hold(method string) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan struct{})
	c.held[method] = ch
	return func() { close(ch) }
}

func (c *fakeConn) Object(_ string, path dbus.ObjectPath) dbus.BusObject {
	return &fakeObject{conn: c, path: path}
}

func (c *fakeConn) Export(v interface{}, path dbus.ObjectPath, iface string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exports = append(c.exports, exported{path: path, iface: iface, impl: v})
	return nil
}

func (c *fakeConn) Emit(path dbus.ObjectPath, name string, values ...interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.emits = append(c.emits, emitted{path: path, name: name, body: values})
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("already closed")
	}
	c.closed = true
	return nil
}

// exportedAt returns the live implementation at path for iface.
func (c *fakeConn) exportedAt(path dbus.ObjectPath, iface string) interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	var impl interface{}
	for _, e := range c.exports {
		if e.path == path && e.iface == iface {
			impl = e.impl
		}
	}
	return impl
}

func (c *fakeConn) methods() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.calls))
	for i, call := range c.calls {
		out[i] = call.method
	}
	return out
}

func (c *fakeConn) record(path dbus.ObjectPath, method string, args []interface{}) *dbus.Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, methodCall{path: path, method: method, args: args})

	call := &dbus.Call{Path: path, Method: method, Args: args, Err: c.callErr[method]}
	if method == objectManagerIface+".GetManagedObjects" && call.Err == nil {
		call.Body = []interface{}{c.objects}
	}
	return call
}

// fakeObject implements the BusObject methods the adapter calls. Any other
// method panics through the nil embedded interface.
type fakeObject struct {
	dbus.BusObject
	conn *fakeConn
	path dbus.ObjectPath
}

func (o *fakeObject) Call(method string, _ dbus.Flags, args ...interface{}) *dbus.Call {
	return o.conn.record(o.path, method, args)
}

func (o *fakeObject) CallWithContext(_ context.Context, method string, _ dbus.Flags, args ...interface{}) *dbus.Call {
	return o.conn.record(o.path, method, args)
}

func (o *fakeObject) Go(method string, _ dbus.Flags, ch chan *dbus.Call, args ...interface{}) *dbus.Call {
	call := o.conn.record(o.path, method, args)
	if ch == nil {
		ch = make(chan *dbus.Call, 1)
	}
	call.Done = ch

	o.conn.mu.Lock()
	held := o.conn.held[method]
	o.conn.mu.Unlock()
	if held == nil {
		ch <- call
		return call
	}
	go func() {
		<-held
		ch <- call
	}()
	return call
}

// syncDispatcher runs calls inline, standing in for the event loop.
type syncDispatcher struct{}

func (syncDispatcher) Invoke(fn func()) error {
	fn()
	return nil
}

type stoppedDispatcher struct{}

func (stoppedDispatcher) Invoke(func()) error {
	return errors.New("event loop stopped")
}
