//go:build test

package goble_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"
	suitelib "github.com/stretchr/testify/suite"

	"github.com/srg/blex/internal/explorer"
	"github.com/srg/blex/internal/radio/goble"
	"github.com/srg/blex/internal/testutils"
	"github.com/srg/blex/internal/testutils/mocks"
)

const (
	evState          = "StateChanged"
	evDiscovered     = "PeripheralDiscovered"
	evConnected      = "PeripheralConnected"
	evDisconnected   = "PeripheralDisconnected"
	evConnectFailed  = "ConnectFailed"
	evServices       = "ServicesDiscovered"
	evCharacteristic = "CharacteristicsDiscovered"
	evDescriptors    = "DescriptorsDiscovered"
	evValue          = "ValueUpdated"
	evWritten        = "ValueWritten"
	evNotify         = "NotifyStateChanged"
)

type observed struct {
	Kind      string
	ID        string
	Path      explorer.Path
	State     explorer.PowerState
	Adv       explorer.Advertisement
	Services  []explorer.GATTService
	Chars     []explorer.GATTCharacteristic
	Descs     []explorer.GATTDescriptor
	Value     []byte
	Notifying bool
	Err       error
}

// channelObserver forwards every radio callback to a channel.
type channelObserver chan observed

func (o channelObserver) StateChanged(s explorer.PowerState) {
	o <- observed{Kind: evState, State: s}
}
func (o channelObserver) PeripheralDiscovered(adv explorer.Advertisement) {
	o <- observed{Kind: evDiscovered, ID: adv.ID, Adv: adv}
}
func (o channelObserver) PeripheralConnected(id string) {
	o <- observed{Kind: evConnected, ID: id}
}
func (o channelObserver) PeripheralDisconnected(id string, err error) {
	o <- observed{Kind: evDisconnected, ID: id, Err: err}
}
func (o channelObserver) ConnectFailed(id string, err error) {
	o <- observed{Kind: evConnectFailed, ID: id, Err: err}
}
func (o channelObserver) ServicesDiscovered(id string, s []explorer.GATTService, err error) {
	o <- observed{Kind: evServices, ID: id, Services: s, Err: err}
}
func (o channelObserver) CharacteristicsDiscovered(p explorer.Path, c []explorer.GATTCharacteristic, err error) {
	o <- observed{Kind: evCharacteristic, Path: p, Chars: c, Err: err}
}
func (o channelObserver) DescriptorsDiscovered(p explorer.Path, d []explorer.GATTDescriptor, err error) {
	o <- observed{Kind: evDescriptors, Path: p, Descs: d, Err: err}
}
func (o channelObserver) ValueUpdated(p explorer.Path, v []byte, err error) {
	o <- observed{Kind: evValue, Path: p, Value: v, Err: err}
}
func (o channelObserver) ValueWritten(p explorer.Path, err error) {
	o <- observed{Kind: evWritten, Path: p, Err: err}
}
func (o channelObserver) NotifyStateChanged(p explorer.Path, n bool, err error) {
	o <- observed{Kind: evNotify, Path: p, Notifying: n, Err: err}
}

const peripheralID = "aa:bb:cc:dd:ee:ff"

type RadioTestSuite struct {
	suitelib.Suite

	logger   *logrus.Logger
	device   *mocks.MockDevice
	radio    *goble.Radio
	events   channelObserver
	factory  func() (ble.Device, error)
	services []*ble.Service
}

func (suite *RadioTestSuite) SetupSuite() {
	suite.logger = testutils.NewTestHelper(suite.T()).Logger
	suite.factory = goble.DeviceFactory
}

func (suite *RadioTestSuite) TearDownSuite() {
	goble.DeviceFactory = suite.factory
}

func (suite *RadioTestSuite) SetupTest() {
	suite.device = &mocks.MockDevice{}
	suite.device.On("Scan", mock.Anything).Return()
	suite.device.On("Dial", mock.Anything).Return()
	suite.device.On("Stop").Return(nil)
	goble.DeviceFactory = func() (ble.Device, error) { return suite.device, nil }

	suite.events = make(channelObserver, 64)
	suite.radio = goble.New(goble.Options{Logger: suite.logger, DescriptorReadTimeout: 100 * time.Millisecond})
	suite.radio.SetObserver(suite.events)
	suite.Require().NoError(suite.radio.Start())
	suite.Equal(explorer.StatePoweredOn, suite.expect(evState).State)
}

func (suite *RadioTestSuite) TearDownTest() {
	suite.NoError(suite.radio.Close())
}

// expect waits for the next observer callback and asserts its kind.
func (suite *RadioTestSuite) expect(kind string) observed {
	select {
	case ev := <-suite.events:
		suite.Require().Equal(kind, ev.Kind, "unexpected observer callback")
		return ev
	case <-time.After(time.Second):
		suite.FailNow("timed out waiting for " + kind)
		return observed{}
	}
}

func (suite *RadioTestSuite) expectSilence(d time.Duration) {
	select {
	case ev := <-suite.events:
		suite.Failf("unexpected observer callback", "%s %+v", ev.Kind, ev)
	case <-time.After(d):
	}
}

func (suite *RadioTestSuite) profile() testutils.Profile {
	return testutils.CreateProfile().
		WithService("180f").
		WithCharacteristic("2a19", "read,notify", []byte{85}).
		WithDescriptor("2902", []byte{0x00, 0x00}).
		WithDescriptor("2901", []byte("Battery")).
		WithService("ffe0").
		WithCharacteristic("ffe1", "read,write,write_without_response", nil).
		WithCharacteristic("ffe2", "indicate", nil).
		WithDescriptor("2902", nil).
		Build()
}

// connect dials peripheralID with a client serving profile and waits for the connected callback.
func (suite *RadioTestSuite) connect() *mocks.MockClient {
	client := mocks.NewMockClient()
	suite.services = suite.profile().BLEServices()
	client.On("DiscoverServices", mock.Anything).Return(suite.services, nil)
	for _, s := range suite.services {
		client.On("DiscoverCharacteristics", mock.Anything, s).Return(s.Characteristics, nil)
		for _, c := range s.Characteristics {
			client.On("DiscoverDescriptors", mock.Anything, c).Return(c.Descriptors, nil)
		}
	}
	client.On("CancelConnection").Return(nil)
	suite.device.DialFunc = func(ctx context.Context, a ble.Addr) (ble.Client, error) {
		return client, nil
	}

	suite.Require().NoError(suite.radio.Connect(peripheralID))
	suite.Equal(peripheralID, suite.expect(evConnected).ID)
	return client
}

// discover walks the whole profile through the radio.
func (suite *RadioTestSuite) discover() {
	suite.Require().NoError(suite.radio.DiscoverServices(peripheralID, nil))
	ev := suite.expect(evServices)
	for _, s := range ev.Services {
		sp := explorer.Path{Peripheral: peripheralID, Service: s.UUID}
		suite.Require().NoError(suite.radio.DiscoverCharacteristics(sp, nil))
		chars := suite.expect(evCharacteristic)
		for _, c := range chars.Chars {
			cp := sp
			cp.Characteristic = c.UUID
			suite.Require().NoError(suite.radio.DiscoverDescriptors(cp))
			suite.expect(evDescriptors)
		}
	}
}

func (suite *RadioTestSuite) bleCharacteristic(service, uuid string) *ble.Characteristic {
	for _, s := range suite.services {
		if !s.UUID.Equal(ble.MustParse(service)) {
			continue
		}
		for _, c := range s.Characteristics {
			if c.UUID.Equal(ble.MustParse(uuid)) {
				return c
			}
		}
	}
	suite.FailNow("characteristic not in profile", "%s/%s", service, uuid)
	return nil
}

func (suite *RadioTestSuite) TestStart() {
	suite.Run("bluetooth off reports powered off", func() {
		goble.DeviceFactory = func() (ble.Device, error) {
			return nil, errors.New("central manager has invalid state: have=4 want=5: is Bluetooth turned on?")
		}
		events := make(channelObserver, 4)
		r := goble.New(goble.Options{Logger: suite.logger})
		r.SetObserver(events)

		err := r.Start()

		suite.ErrorIs(err, goble.ErrBluetoothOff)
		suite.Equal(explorer.StatePoweredOff, (<-events).State)
		suite.NoError(r.Close())
	})

	suite.Run("other failures report unsupported", func() {
		goble.DeviceFactory = func() (ble.Device, error) { return nil, errors.New("no adapter") }
		events := make(channelObserver, 4)
		r := goble.New(goble.Options{Logger: suite.logger})
		r.SetObserver(events)

		suite.Error(r.Start())
		suite.Equal(explorer.StateUnsupported, (<-events).State)
		suite.NoError(r.Close())
	})

	suite.Run("requests before start fail", func() {
		r := goble.New(goble.Options{Logger: suite.logger})
		defer r.Close()

		suite.ErrorIs(r.StartScan(nil), goble.ErrNotStarted)
		suite.ErrorIs(r.Connect(peripheralID), goble.ErrNotStarted)
	})
}

func (suite *RadioTestSuite) TestScan() {
	// GOAL: Verify advertisements are converted and filtered by service
	//
	// TEST SCENARIO: two advertisements, one with 180d → filter 180d → only one reported → stop ends the scan

	match := testutils.NewAdvertisementBuilder().
		WithID("11:22:33:44:55:66").
		WithLocalName("HR Strap").
		WithRSSI(-61).
		WithServices("180D").
		WithManufacturerData([]byte{0x4c, 0x00}).
		WithServiceData("180d", []byte{0x01}).
		WithTxPower(4).
		BuildBLE()
	other := testutils.CreateAdvertisement("22:33:44:55:66:77", "Other", -70).WithServices("1800").BuildBLE()

	stopped := make(chan struct{})
	suite.device.ScanFunc = func(ctx context.Context, allowDup bool, h ble.AdvHandler) error {
		h(other)
		h(match)
		<-ctx.Done()
		close(stopped)
		return ctx.Err()
	}

	suite.Require().NoError(suite.radio.StartScan([]string{"180d"}))

	ev := suite.expect(evDiscovered)
	suite.Equal("11:22:33:44:55:66", ev.Adv.ID)
	suite.Equal("HR Strap", ev.Adv.LocalName)
	suite.Equal(-61, ev.Adv.RSSI)
	suite.True(ev.Adv.Connectable)
	suite.Equal([]string{"180d"}, ev.Adv.Services)
	suite.Equal([]byte{0x4c, 0x00}, ev.Adv.ManufacturerData)
	suite.Equal(map[string][]byte{"180d": {0x01}}, ev.Adv.ServiceData)
	suite.Require().NotNil(ev.Adv.TxPower)
	suite.Equal(4, *ev.Adv.TxPower)

	suite.NoError(suite.radio.StopScan())
	select {
	case <-stopped:
	case <-time.After(time.Second):
		suite.Fail("scan MUST stop")
	}
	suite.expectSilence(50 * time.Millisecond)
	suite.device.AssertCalled(suite.T(), "Scan", true)
}

func (suite *RadioTestSuite) TestDiscovery() {
	suite.connect()

	suite.Require().NoError(suite.radio.DiscoverServices(peripheralID, []string{"180f", "ffe0"}))
	services := suite.expect(evServices)
	suite.NoError(services.Err)
	suite.Equal([]explorer.GATTService{{UUID: "180f", Primary: true}, {UUID: "ffe0", Primary: true}}, services.Services)

	sp := explorer.Path{Peripheral: peripheralID, Service: "180f"}
	suite.Require().NoError(suite.radio.DiscoverCharacteristics(sp, nil))
	chars := suite.expect(evCharacteristic)
	suite.Equal(sp, chars.Path)
	suite.Equal([]explorer.GATTCharacteristic{{UUID: "2a19", Properties: explorer.PropRead | explorer.PropNotify}}, chars.Chars)

	cp := sp
	cp.Characteristic = "2a19"
	suite.Require().NoError(suite.radio.DiscoverDescriptors(cp))
	descs := suite.expect(evDescriptors)
	suite.Equal([]explorer.GATTDescriptor{
		{UUID: "2902", Value: []byte{0x00, 0x00}},
		{UUID: "2901", Value: []byte("Battery")},
	}, descs.Descs)

	suite.Run("unknown attributes fail synchronously", func() {
		err := suite.radio.DiscoverCharacteristics(explorer.Path{Peripheral: peripheralID, Service: "1800"}, nil)
		suite.ErrorIs(err, goble.ErrUnknownAttribute)
		err = suite.radio.ReadValue(explorer.Path{Peripheral: peripheralID, Service: "180f", Characteristic: "2a1a"})
		suite.ErrorIs(err, goble.ErrUnknownAttribute)
	})

	suite.Run("invalid filter fails synchronously", func() {
		suite.Error(suite.radio.DiscoverServices(peripheralID, []string{"not-a-uuid"}))
	})
}

func (suite *RadioTestSuite) TestDescriptorValueRead() {
	client := mocks.NewMockClient()
	svc := &ble.Service{UUID: ble.MustParse("180d")}
	ch := &ble.Characteristic{UUID: ble.MustParse("2a37"), Property: ble.CharNotify}
	unread := &ble.Descriptor{UUID: ble.MustParse("2902"), Handle: 0x0011}
	noHandle := &ble.Descriptor{UUID: ble.MustParse("2901")}
	svc.Characteristics = []*ble.Characteristic{ch}
	client.On("DiscoverServices", mock.Anything).Return([]*ble.Service{svc}, nil)
	client.On("DiscoverCharacteristics", mock.Anything, svc).Return(svc.Characteristics, nil)
	client.On("DiscoverDescriptors", mock.Anything, ch).Return([]*ble.Descriptor{unread, noHandle}, nil)
	client.On("ReadDescriptor", unread).Return([]byte{0x01, 0x00}, nil)
	client.On("CancelConnection").Return(nil)
	suite.device.DialFunc = func(ctx context.Context, a ble.Addr) (ble.Client, error) { return client, nil }
	suite.Require().NoError(suite.radio.Connect(peripheralID))
	suite.expect(evConnected)

	suite.discover()

	client.AssertCalled(suite.T(), "ReadDescriptor", unread)
	client.AssertNotCalled(suite.T(), "ReadDescriptor", noHandle)
}

func (suite *RadioTestSuite) TestReadWrite() {
	client := suite.connect()
	suite.discover()
	battery := suite.bleCharacteristic("180f", "2a19")
	writable := suite.bleCharacteristic("ffe0", "ffe1")

	suite.Run("read characteristic", func() {
		client.On("ReadCharacteristic", battery).Return([]byte{84}, nil).Once()
		path := explorer.Path{Peripheral: peripheralID, Service: "180f", Characteristic: "2a19"}

		suite.Require().NoError(suite.radio.ReadValue(path))

		ev := suite.expect(evValue)
		suite.Equal(path, ev.Path)
		suite.Equal([]byte{84}, ev.Value)
		suite.NoError(ev.Err)
	})

	suite.Run("read error is normalized", func() {
		client.On("ReadCharacteristic", battery).Return(nil, errors.New("device not connected")).Once()

		suite.Require().NoError(suite.radio.ReadValue(explorer.Path{Peripheral: peripheralID, Service: "180f", Characteristic: "2a19"}))

		suite.ErrorIs(suite.expect(evValue).Err, goble.ErrNotConnected)
	})

	suite.Run("write with and without response", func() {
		client.On("WriteCharacteristic", writable, []byte("on"), false).Return(nil).Once()
		client.On("WriteCharacteristic", writable, []byte("off"), true).Return(nil).Once()
		path := explorer.Path{Peripheral: peripheralID, Service: "ffe0", Characteristic: "ffe1"}

		suite.Require().NoError(suite.radio.WriteValue(path, []byte("on"), true))
		suite.Require().NoError(suite.radio.WriteValue(path, []byte("off"), false))

		suite.NoError(suite.expect(evWritten).Err)
		suite.NoError(suite.expect(evWritten).Err)
		client.AssertExpectations(suite.T())
	})

	suite.Run("descriptor read and write", func() {
		cccd := battery.Descriptors[0]
		client.On("ReadDescriptor", cccd).Return([]byte{0x01, 0x00}, nil).Once()
		client.On("WriteDescriptor", cccd, []byte{0x00, 0x00}).Return(nil).Once()
		path := explorer.Path{Peripheral: peripheralID, Service: "180f", Characteristic: "2a19", Descriptor: "2902"}

		suite.Require().NoError(suite.radio.ReadValue(path))
		ev := suite.expect(evValue)
		suite.Equal(path, ev.Path)
		suite.Equal([]byte{0x01, 0x00}, ev.Value)

		suite.Require().NoError(suite.radio.WriteValue(path, []byte{0x00, 0x00}, true))
		written := suite.expect(evWritten)
		suite.Equal(path, written.Path)
		suite.NoError(written.Err)
	})
}

func (suite *RadioTestSuite) TestNotify() {
	client := suite.connect()
	suite.discover()
	battery := suite.bleCharacteristic("180f", "2a19")
	indicateOnly := suite.bleCharacteristic("ffe0", "ffe2")
	path := explorer.Path{Peripheral: peripheralID, Service: "180f", Characteristic: "2a19"}

	handlers := make(chan ble.NotificationHandler, 1)
	client.On("Subscribe", battery, false, mock.Anything).
		Run(func(args mock.Arguments) { handlers <- args.Get(2).(ble.NotificationHandler) }).
		Return(nil).Once()

	suite.Require().NoError(suite.radio.SetNotify(path, true))
	ev := suite.expect(evNotify)
	suite.True(ev.Notifying)
	suite.NoError(ev.Err)

	handler := <-handlers
	handler([]byte{77})
	handler([]byte{78})
	suite.Equal([]byte{77}, suite.expect(evValue).Value)
	suite.Equal([]byte{78}, suite.expect(evValue).Value, "notifications MUST arrive in order")

	suite.Run("unsubscribe", func() {
		client.On("Unsubscribe", battery, false).Return(nil).Once()

		suite.Require().NoError(suite.radio.SetNotify(path, false))

		suite.False(suite.expect(evNotify).Notifying)
	})

	suite.Run("indicate-only characteristics use indications", func() {
		client.On("Subscribe", indicateOnly, true, mock.Anything).Return(nil).Once()

		suite.Require().NoError(suite.radio.SetNotify(explorer.Path{Peripheral: peripheralID, Service: "ffe0", Characteristic: "ffe2"}, true))

		suite.True(suite.expect(evNotify).Notifying)
		client.AssertExpectations(suite.T())
	})

	suite.Run("failed subscribe reports not notifying", func() {
		client.On("Subscribe", battery, false, mock.Anything).Return(errors.New("cccd write failed")).Once()

		suite.Require().NoError(suite.radio.SetNotify(path, true))

		ev := suite.expect(evNotify)
		suite.False(ev.Notifying)
		suite.Error(ev.Err)
	})
}

func (suite *RadioTestSuite) TestDisconnect() {
	suite.connect()

	suite.Require().NoError(suite.radio.Disconnect(peripheralID))

	ev := suite.expect(evDisconnected)
	suite.Equal(peripheralID, ev.ID)
	suite.NoError(ev.Err, "requested disconnect MUST carry no error")
	suite.expectSilence(50 * time.Millisecond)
	suite.ErrorIs(suite.radio.DiscoverServices(peripheralID, nil), goble.ErrNotConnected)
	suite.NoError(suite.radio.Disconnect(peripheralID), "unknown peripheral MUST be ignored")
}

func (suite *RadioTestSuite) TestLinkLost() {
	client := suite.connect()

	client.Drop()

	ev := suite.expect(evDisconnected)
	suite.ErrorIs(ev.Err, goble.ErrNotConnected)
	suite.ErrorIs(suite.radio.ReadValue(explorer.Path{Peripheral: peripheralID, Service: "180f", Characteristic: "2a19"}), goble.ErrNotConnected)
}

func (suite *RadioTestSuite) TestConnectFailures() {
	suite.Run("dial error is reported", func() {
		suite.device.DialFunc = func(ctx context.Context, a ble.Addr) (ble.Client, error) {
			return nil, errors.New("device already connected")
		}

		suite.Require().NoError(suite.radio.Connect(peripheralID))

		ev := suite.expect(evConnectFailed)
		suite.Equal(peripheralID, ev.ID)
		suite.ErrorIs(ev.Err, goble.ErrAlreadyConnected)
	})

	suite.Run("cancelled dial reports nothing", func() {
		suite.device.DialFunc = nil // blocks until cancelled
		suite.Eventually(func() bool { return suite.radio.Connect(peripheralID) == nil }, time.Second, 10*time.Millisecond)

		suite.ErrorIs(suite.radio.Connect(peripheralID), goble.ErrAlreadyConnected, "second dial MUST be refused")
		suite.NoError(suite.radio.Disconnect(peripheralID))

		suite.expectSilence(100 * time.Millisecond)
	})

	suite.Run("requests need an established link", func() {
		suite.ErrorIs(suite.radio.DiscoverServices("00:00:00:00:00:00", nil), goble.ErrNotConnected)
	})
}

func TestRadioTestSuite(t *testing.T) {
	suitelib.Run(t, new(RadioTestSuite))
}
