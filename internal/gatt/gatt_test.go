package gatt

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testServiceUUID = "12345678-1234-5678-1234-56789abcdef0"
	testCharUUID    = "12345678-1234-5678-1234-56789abcdef1"
)

type notification struct {
	path  Path
	value []byte
}

type recorder struct {
	notifications []notification
	events        []SubscriptionEvent
}

func (r *recorder) NotifyValue(c *Characteristic, value []byte) {
	r.notifications = append(r.notifications, notification{path: c.Path(), value: value})
}

func (r *recorder) SubscriptionChanged(ev SubscriptionEvent) {
	r.events = append(r.events, ev)
}

func newTestApp(t *testing.T, flags ble.Property) (*Application, *Characteristic, *recorder) {
	t.Helper()

	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)

	app := NewApplication("/org/sleepydrive", logger)
	rec := &recorder{}
	app.SetNotifier(rec)
	app.SetSubscriptionListener(rec)

	svc, err := app.AddService(testServiceUUID, true)
	require.NoError(t, err)
	char, err := svc.AddCharacteristic(testCharUUID, flags)
	require.NoError(t, err)

	return app, char, rec
}

func TestObjectPaths(t *testing.T) {
	app, char, _ := newTestApp(t, ble.CharRead|ble.CharNotify)

	desc, err := char.AddDescriptor("2901", ble.CharRead, []byte("alert"))
	require.NoError(t, err)

	assert.Equal(t, Path("/org/sleepydrive/service0"), char.ServicePath())
	assert.Equal(t, Path("/org/sleepydrive/service0/char0"), char.Path())
	assert.Equal(t, Path("/org/sleepydrive/service0/char0/desc0"), desc.Path())
	assert.Equal(t, char.Path(), desc.CharacteristicPath())

	svc, err := app.Service(char.ServicePath())
	require.NoError(t, err)
	assert.Equal(t, testServiceUUID, svc.UUID())

	found, err := app.Characteristic(char.Path())
	require.NoError(t, err)
	assert.Same(t, char, found)

	foundDesc, err := app.Descriptor(desc.Path())
	require.NoError(t, err)
	assert.Same(t, desc, foundDesc)
}

func TestLookupNotFound(t *testing.T) {
	app, _, _ := newTestApp(t, ble.CharRead)

	_, err := app.Characteristic("/nope")
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "characteristic", nf.Resource)
	assert.Equal(t, `characteristic "/nope" not found`, err.Error())

	_, err = app.Service("/nope")
	assert.ErrorAs(t, err, &nf)

	_, err = app.Descriptor("/nope")
	assert.ErrorAs(t, err, &nf)
}

func TestNotFoundErrorIs(t *testing.T) {
	app, _, _ := newTestApp(t, ble.CharRead)

	_, err := app.Service("/nope")
	wrapped := fmt.Errorf("lookup: %w", err)

	assert.ErrorIs(t, wrapped, &NotFoundError{Resource: "service"})
	assert.ErrorIs(t, wrapped, &NotFoundError{})
	assert.NotErrorIs(t, wrapped, &NotFoundError{Resource: "descriptor"})
	assert.NotErrorIs(t, wrapped, ErrInvalidArgs)
}

func TestAddCharacteristicValidation(t *testing.T) {
	app := NewApplication("/app", nil)

	_, err := app.AddService("not-a-uuid", true)
	assert.Error(t, err)

	svc, err := app.AddService(testServiceUUID, true)
	require.NoError(t, err)

	_, err = svc.AddCharacteristic("zz", ble.CharRead)
	assert.Error(t, err)

	_, err = svc.AddCharacteristic(testCharUUID, ble.CharRead)
	require.NoError(t, err)

	_, err = svc.AddCharacteristic(testCharUUID, ble.CharRead)
	assert.Error(t, err, "duplicate UUID within a service must be rejected")
}

func TestManagedObjects(t *testing.T) {
	app, char, _ := newTestApp(t, ble.CharRead|ble.CharNotify)
	desc, err := char.AddDescriptor("2901", ble.CharRead, nil)
	require.NoError(t, err)

	objs := app.ManagedObjects()
	require.Equal(t, 3, objs.Len())

	var order []Path
	for pair := objs.Oldest(); pair != nil; pair = pair.Next() {
		order = append(order, pair.Key)
	}
	assert.Equal(t, []Path{char.ServicePath(), char.Path(), desc.Path()}, order)

	svcProps, ok := objs.Get(char.ServicePath())
	require.True(t, ok)
	assert.Equal(t, map[string]any{
		"UUID":            testServiceUUID,
		"Primary":         true,
		"Characteristics": []Path{char.Path()},
	}, svcProps[ServiceInterface])

	charProps, ok := objs.Get(char.Path())
	require.True(t, ok)
	assert.Equal(t, map[string]any{
		"Service":     char.ServicePath(),
		"UUID":        testCharUUID,
		"Flags":       []string{"read", "notify"},
		"Descriptors": []Path{desc.Path()},
	}, charProps[CharacteristicInterface])

	descProps, ok := objs.Get(desc.Path())
	require.True(t, ok)
	assert.Equal(t, char.Path(), descProps[DescriptorInterface]["Characteristic"])
}

func TestManagedObjectsReflectMutations(t *testing.T) {
	app, char, _ := newTestApp(t, ble.CharRead|ble.CharNotify)
	assert.Equal(t, 2, app.ManagedObjects().Len())

	_, err := char.AddDescriptor("2901", ble.CharRead, nil)
	require.NoError(t, err)

	objs := app.ManagedObjects()
	assert.Equal(t, 3, objs.Len())
	props, _ := objs.Get(char.Path())
	assert.Len(t, props[CharacteristicInterface]["Descriptors"], 1)
}

func TestPropertiesForInvalidInterface(t *testing.T) {
	app, char, _ := newTestApp(t, ble.CharRead)
	svc := app.Services()[0]

	for _, obj := range []Object{svc, char} {
		_, err := obj.PropertiesFor("org.example.Bogus1")
		assert.ErrorIs(t, err, ErrInvalidArgs)

		var ie *InterfaceError
		assert.ErrorAs(t, err, &ie)
	}

	props, err := char.PropertiesFor(CharacteristicInterface)
	require.NoError(t, err)
	assert.Equal(t, testCharUUID, props["UUID"])
}

func TestReadValueNeverMutates(t *testing.T) {
	_, char, _ := newTestApp(t, ble.CharRead|ble.CharNotify)
	char.UpdateValue([]byte("1|hello"))

	v := char.ReadValue()
	v[0] = 'X'
	assert.Equal(t, []byte("1|hello"), char.ReadValue())
}

func TestWriteValue(t *testing.T) {
	t.Run("rejected without write flag", func(t *testing.T) {
		_, char, _ := newTestApp(t, ble.CharRead|ble.CharNotify)
		err := char.WriteValue([]byte("x"))
		assert.ErrorIs(t, err, ErrInvalidArgs)
		assert.Empty(t, char.ReadValue())
	})

	t.Run("accepted with write flag", func(t *testing.T) {
		_, char, _ := newTestApp(t, ble.CharRead|ble.CharWrite)
		require.NoError(t, char.WriteValue([]byte("x")))
		assert.Equal(t, []byte("x"), char.ReadValue())
	})
}

func TestStartNotifyIdempotent(t *testing.T) {
	_, char, rec := newTestApp(t, ble.CharRead|ble.CharNotify)

	require.NoError(t, char.StartNotify())
	require.NoError(t, char.StartNotify())
	assert.True(t, char.Notifying())
	assert.Len(t, rec.events, 1, "redundant StartNotify must not emit a second event")

	char.UpdateValue([]byte("2|wake up"))
	assert.Len(t, rec.notifications, 1, "redundant StartNotify must not duplicate notifications")
}

func TestStopNotifyWithoutStart(t *testing.T) {
	_, char, rec := newTestApp(t, ble.CharRead|ble.CharNotify)

	assert.NoError(t, char.StopNotify())
	assert.False(t, char.Notifying())
	assert.Empty(t, rec.events)
}

func TestStartNotifyUnsupported(t *testing.T) {
	_, char, rec := newTestApp(t, ble.CharRead)

	assert.ErrorIs(t, char.StartNotify(), ErrInvalidArgs)
	assert.False(t, char.Notifying())
	assert.Empty(t, rec.events)
}

func TestSubscriptionEvents(t *testing.T) {
	_, char, rec := newTestApp(t, ble.CharRead|ble.CharNotify)

	require.NoError(t, char.StartNotify())
	require.NoError(t, char.StopNotify())
	require.NoError(t, char.StopNotify())

	require.Len(t, rec.events, 2)
	assert.Equal(t, SubscriptionEvent{Path: char.Path(), UUID: testCharUUID, Notifying: true}, rec.events[0])
	assert.Equal(t, SubscriptionEvent{Path: char.Path(), UUID: testCharUUID, Notifying: false}, rec.events[1])
}

func TestUpdateValueNotNotifying(t *testing.T) {
	_, char, rec := newTestApp(t, ble.CharRead|ble.CharNotify)

	delivered := char.UpdateValue([]byte("1|drowsy"))
	assert.False(t, delivered)
	assert.Equal(t, []byte("1|drowsy"), char.ReadValue())
	assert.Empty(t, rec.notifications)
}

func TestUpdateValueNotifying(t *testing.T) {
	_, char, rec := newTestApp(t, ble.CharRead|ble.CharNotify)
	require.NoError(t, char.StartNotify())

	delivered := char.UpdateValue([]byte("2|brake now"))
	assert.True(t, delivered)
	assert.Equal(t, []byte("2|brake now"), char.ReadValue())
	require.Len(t, rec.notifications, 1)
	assert.Equal(t, char.Path(), rec.notifications[0].path)
	assert.Equal(t, []byte("2|brake now"), rec.notifications[0].value)
}

func TestUpdateValueAfterStopNotify(t *testing.T) {
	_, char, rec := newTestApp(t, ble.CharRead|ble.CharNotify)
	require.NoError(t, char.StartNotify())
	require.NoError(t, char.StopNotify())

	assert.False(t, char.UpdateValue([]byte("0|ok")))
	assert.Empty(t, rec.notifications)
}

func TestUpdateValueTruncates(t *testing.T) {
	app := NewApplication("/app", nil)
	svc, err := app.AddService(testServiceUUID, true)
	require.NoError(t, err)
	char, err := svc.AddCharacteristic(testCharUUID, ble.CharRead|ble.CharNotify, WithMaxValueLength(4))
	require.NoError(t, err)

	char.UpdateValue([]byte("0123456789"))
	assert.Equal(t, []byte("0123"), char.ReadValue())
	assert.Equal(t, 4, char.MaxValueLength())
}

func TestDefaultMaxValueLength(t *testing.T) {
	_, char, rec := newTestApp(t, ble.CharRead|ble.CharNotify)
	require.NoError(t, char.StartNotify())

	char.UpdateValue(bytes.Repeat([]byte("a"), 600))
	assert.Len(t, char.ReadValue(), DefaultMaxValueLength)
	require.Len(t, rec.notifications, 1)
	assert.Len(t, rec.notifications[0].value, DefaultMaxValueLength)
}

func TestUpdateValueWithoutNotifier(t *testing.T) {
	app := NewApplication("/app", nil)
	svc, err := app.AddService(testServiceUUID, true)
	require.NoError(t, err)
	char, err := svc.AddCharacteristic(testCharUUID, ble.CharNotify, WithInitialValue([]byte("0|")))
	require.NoError(t, err)
	assert.Equal(t, []byte("0|"), char.ReadValue())

	require.NoError(t, char.StartNotify())
	assert.False(t, char.UpdateValue([]byte("1|x")))
	assert.Equal(t, []byte("1|x"), char.ReadValue())
}

func TestDescriptorWrite(t *testing.T) {
	_, char, _ := newTestApp(t, ble.CharRead)

	ro, err := char.AddDescriptor("2901", ble.CharRead, []byte("ro"))
	require.NoError(t, err)
	assert.ErrorIs(t, ro.WriteValue([]byte("x")), ErrInvalidArgs)
	assert.Equal(t, []byte("ro"), ro.ReadValue())

	rw, err := char.AddDescriptor("2902", ble.CharRead|ble.CharWrite, nil)
	require.NoError(t, err)
	require.NoError(t, rw.WriteValue([]byte{0x01, 0x00}))
	assert.Equal(t, []byte{0x01, 0x00}, rw.ReadValue())
}

func TestFlags(t *testing.T) {
	tests := []struct {
		name     string
		input    []string
		expected []string
	}{
		{name: "read notify csv", input: []string{"read,notify"}, expected: []string{"read", "notify"}},
		{name: "separate values", input: []string{"notify", "READ"}, expected: []string{"read", "notify"}},
		{name: "write variants", input: []string{"write-without-response,write"}, expected: []string{"write-without-response", "write"}},
		{name: "empty", input: nil, expected: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ParseFlags(tt.input...)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, FlagNames(p))
		})
	}

	_, err := ParseFlags("read,teleport")
	assert.Error(t, err)
}

func TestAdvertisement(t *testing.T) {
	ad, err := NewAdvertisement("/org/sleepydrive/ad0", "SleepyDrive", []string{testServiceUUID}, nil)
	require.NoError(t, err)

	props, err := ad.PropertiesFor(AdvertisementInterface)
	require.NoError(t, err)
	assert.Equal(t, "peripheral", props["Type"])
	assert.Equal(t, "SleepyDrive", props["LocalName"])
	assert.Equal(t, []string{testServiceUUID}, props["ServiceUUIDs"])

	_, err = ad.PropertiesFor(ServiceInterface)
	assert.ErrorIs(t, err, ErrInvalidArgs)

	released := 0
	ad.OnRelease(func() { released++ })
	ad.Release()
	assert.Equal(t, 1, released)

	_, err = NewAdvertisement("/ad", "x", []string{"bad uuid"}, nil)
	assert.Error(t, err)
}
