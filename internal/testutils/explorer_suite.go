//go:build test

package testutils

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"

	"github.com/srg/blex/internal/explorer"
)

// ExplorerSuite wires a Central to a RadioRecorder and a DelegateRecorder with
// inline delegate dispatch, so every notification has been delivered by the
// time a Central method or radio callback returns.
//
//	type ConnectSuite struct {
//	    testutils.ExplorerSuite
//	}
//
//	func (s *ConnectSuite) SetupTest() {
//	    s.ConnectTimeout = 50 * time.Millisecond // configure before calling parent
//	    s.ExplorerSuite.SetupTest()
//	}
//
//	func (s *ConnectSuite) TestReady() {
//	    p := s.ConnectReady("AA:BB", s.HeartRateProfile())
//	    s.True(p.IsReady())
//	}
type ExplorerSuite struct {
	suite.Suite

	Helper *TestHelper
	Logger *logrus.Logger

	Radio    *RadioRecorder
	Delegate *DelegateRecorder
	Central  *explorer.Central

	// Options applied by SetupTest; zero values use the Central defaults.
	Criteria         explorer.ScanCriteria
	ConnectTimeout   time.Duration
	DiscoveryTimeout time.Duration
	ScanDuration     time.Duration
}

func (s *ExplorerSuite) SetupSuite() {
	s.Helper = NewTestHelper(s.T())
	s.Logger = s.Helper.Logger
}

// SetupTest creates a powered-on Central for each test.
func (s *ExplorerSuite) SetupTest() {
	if s.Logger == nil {
		s.SetupSuite()
	}
	s.Radio = NewRadioRecorder()
	s.Delegate = NewDelegateRecorder()
	s.Central = explorer.NewCentral(explorer.Options{
		Radio:            s.Radio,
		Delegate:         s.Delegate,
		Dispatcher:       explorer.InlineDispatcher,
		Criteria:         s.Criteria,
		ConnectTimeout:   s.ConnectTimeout,
		DiscoveryTimeout: s.DiscoveryTimeout,
		ScanDuration:     s.ScanDuration,
		Logger:           s.Logger,
	})
	s.Require().Same(s.Central, s.Radio.Observer(), "central MUST register as radio observer")

	s.Central.StateChanged(explorer.StatePoweredOn)
	s.Radio.Reset()
	s.Delegate.Reset()
}

func (s *ExplorerSuite) TearDownTest() {
	if s.Central != nil {
		s.Central.Close()
	}
}

// HeartRateProfile is a two-service profile: Heart Rate (two characteristics)
// and Battery (one characteristic).
func (s *ExplorerSuite) HeartRateProfile() Profile {
	return NewProfileBuilder().
		WithService("180d").
		WithCharacteristic("2a37", "notify", nil).
		WithDescriptor("2902", []byte{0x00, 0x00}).
		WithCharacteristic("2a38", "read", []byte{0x01}).
		WithService("180f").
		WithCharacteristic("2a19", "read,notify", []byte{85}).
		WithDescriptor("2902", []byte{0x00, 0x00}).
		WithDescriptor("2901", []byte("Battery")).
		Build()
}

// Stage starts scanning if needed and reports one advertisement; returns the staged record.
func (s *ExplorerSuite) Stage(id, name string) *explorer.DiscoveryRecord {
	if !s.Central.IsScanning() {
		s.Require().NoError(s.Central.StartScanning(), "MUST start scanning")
	}
	s.Central.PeripheralDiscovered(CreateAdvertisement(id, name, -50).Build())
	r, ok := s.Central.Record(id)
	s.Require().True(ok, "record MUST be staged")
	return r
}

// Connect stages and connects a peripheral, answering with the connected
// callback. Service discovery is requested but not answered.
func (s *ExplorerSuite) Connect(id string) *explorer.PeripheralNode {
	r := s.Stage(id, "dev-"+id)
	s.Require().True(r.Connect(), "connect MUST be issued")
	s.Central.PeripheralConnected(id)
	p, ok := s.Central.Peripheral(id)
	s.Require().True(ok, "peripheral MUST be connected")
	return p
}

// Discover answers the pending service, characteristic, and descriptor
// discovery of a connected peripheral from profile.
func (s *ExplorerSuite) Discover(id string, profile Profile) {
	obs := s.Radio.Observer()
	obs.ServicesDiscovered(id, profile.GATTServices(), nil)
	for _, svc := range profile.Services {
		sp := explorer.Path{Peripheral: id, Service: svc.UUID}
		obs.CharacteristicsDiscovered(sp, svc.GATTCharacteristics(), nil)
		for _, ch := range svc.Characteristics {
			cp := sp
			cp.Characteristic = ch.UUID
			obs.DescriptorsDiscovered(cp, ch.GATTDescriptors(), nil)
		}
	}
}

// ConnectReady connects a peripheral and drives it through full discovery.
func (s *ExplorerSuite) ConnectReady(id string, profile Profile) *explorer.PeripheralNode {
	p := s.Connect(id)
	s.Discover(id, profile)
	s.Require().True(p.IsReady(), "peripheral MUST be ready after discovery")
	return p
}
