//go:build test

package main

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/go-ble/ble"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/mock"
	suitelib "github.com/stretchr/testify/suite"

	"github.com/srg/blex/internal/radio/goble"
	"github.com/srg/blex/internal/testutils"
	"github.com/srg/blex/internal/testutils/mocks"
)

// Test peripheral identities for consistent mock peripheral identification
const (
	TestPeripheral1 = "00:00:00:00:00:01"
	TestPeripheral2 = "00:00:00:00:00:02"
)

// CommandTestSuite runs commands against the go-ble adapter with a mocked
// device: advertisements are replayed on every scan, and dials are answered by
// mocked clients serving test profiles. All cmd/blex suites embed it.
type CommandTestSuite struct {
	suitelib.Suite

	Helper *testutils.TestHelper
	Device *mocks.MockDevice

	factory func() (ble.Device, error)

	mu       sync.Mutex
	adverts  []ble.Advertisement
	clients  map[string]*mocks.MockClient
	services map[string][]*ble.Service
}

func (s *CommandTestSuite) SetupSuite() {
	s.Helper = testutils.NewTestHelper(s.T())
	s.factory = goble.DeviceFactory
}

func (s *CommandTestSuite) TearDownSuite() {
	goble.DeviceFactory = s.factory
}

// SetupTest installs a fresh mocked device and resets every command flag.
func (s *CommandTestSuite) SetupTest() {
	s.mu.Lock()
	s.adverts = nil
	s.clients = make(map[string]*mocks.MockClient)
	s.services = make(map[string][]*ble.Service)
	s.mu.Unlock()

	s.Device = &mocks.MockDevice{}
	s.Device.On("Scan", mock.Anything).Return()
	s.Device.On("Dial", mock.Anything).Return()
	s.Device.On("Stop").Return(nil)
	s.Device.ScanFunc = func(ctx context.Context, allowDup bool, h ble.AdvHandler) error {
		s.mu.Lock()
		adverts := append([]ble.Advertisement(nil), s.adverts...)
		s.mu.Unlock()
		for _, a := range adverts {
			h(a)
		}
		<-ctx.Done()
		return ctx.Err()
	}
	s.Device.DialFunc = func(ctx context.Context, a ble.Addr) (ble.Client, error) {
		s.mu.Lock()
		client, ok := s.clients[strings.ToLower(a.String())]
		s.mu.Unlock()
		if !ok {
			return nil, fmt.Errorf("no peripheral at %s", a)
		}
		client.Redial()
		return client, nil
	}
	goble.DeviceFactory = func() (ble.Device, error) { return s.Device, nil }

	resetFlags(rootCmd)
}

// Advertise adds an advertisement replayed by every subsequent scan.
func (s *CommandTestSuite) Advertise(b *testutils.AdvertisementBuilder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.adverts = append(s.adverts, b.BuildBLE())
}

// Serve advertises id and answers its dial with a client serving profile.
// Reads return the profile values; the returned client can be given more
// expectations before the command runs.
func (s *CommandTestSuite) Serve(id string, profile testutils.Profile) *mocks.MockClient {
	s.Advertise(testutils.CreateAdvertisement(id, "Device "+id[len(id)-2:], -50))

	services := profile.BLEServices()
	client := mocks.NewMockClient()
	client.On("DiscoverServices", mock.Anything).Return(services, nil)
	for _, svc := range services {
		client.On("DiscoverCharacteristics", mock.Anything, svc).Return(svc.Characteristics, nil)
		for _, c := range svc.Characteristics {
			client.On("DiscoverDescriptors", mock.Anything, c).Return(c.Descriptors, nil)
			client.On("ReadCharacteristic", c).Return(c.Value, nil)
			for _, d := range c.Descriptors {
				client.On("ReadDescriptor", d).Return(d.Value, nil)
			}
		}
	}
	client.On("CancelConnection").Return(nil)

	s.mu.Lock()
	s.clients[strings.ToLower(id)] = client
	s.services[strings.ToLower(id)] = services
	s.mu.Unlock()
	return client
}

// Characteristic returns the go-ble characteristic served for id.
func (s *CommandTestSuite) Characteristic(id, service, uuid string) *ble.Characteristic {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, svc := range s.services[strings.ToLower(id)] {
		if !svc.UUID.Equal(ble.MustParse(service)) {
			continue
		}
		for _, c := range svc.Characteristics {
			if c.UUID.Equal(ble.MustParse(uuid)) {
				return c
			}
		}
	}
	s.FailNow("characteristic not served", "%s %s/%s", id, service, uuid)
	return nil
}

// ExecuteCommand runs the root command with args, returns output and error.
func (s *CommandTestSuite) ExecuteCommand(args ...string) (string, error) {
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	defer rootCmd.SetArgs(nil)
	err := rootCmd.ExecuteContext(context.Background())
	return buf.String(), err
}

// HeartRateProfile serves Heart Rate, Battery, and a vendor service with a
// writable characteristic.
func (s *CommandTestSuite) HeartRateProfile() testutils.Profile {
	return testutils.CreateProfile().
		WithService("180d").
		WithCharacteristic("2a37", "notify", nil).
		WithDescriptor("2902", []byte{0x00, 0x00}).
		WithService("180f").
		WithCharacteristic("2a19", "read,notify", []byte{85}).
		WithDescriptor("2902", []byte{0x01, 0x00}).
		WithDescriptor("2901", []byte("Battery")).
		WithService("ffe0").
		WithCharacteristic("ffe1", "read,write,write_without_response", []byte("hello")).
		Build()
}

// resetFlags restores every flag of cmd and its subcommands to its default
// and clears the changed marks that required-flag checks rely on.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}
