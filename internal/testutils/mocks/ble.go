//go:build test

// Package mocks holds testify mocks for the go-ble interfaces. Each mock embeds
// the interface it implements so that methods without an override panic when
// called unexpectedly.
package mocks

import (
	"context"
	"sync"

	"github.com/go-ble/ble"
	"github.com/stretchr/testify/mock"
)

type MockAddr struct {
	mock.Mock
}

func (m *MockAddr) String() string {
	return m.Called().String(0)
}

type MockAdvertisement struct {
	mock.Mock
	ble.Advertisement
}

func (m *MockAdvertisement) LocalName() string { return m.Called().String(0) }
func (m *MockAdvertisement) RSSI() int         { return m.Called().Int(0) }
func (m *MockAdvertisement) Connectable() bool { return m.Called().Bool(0) }
func (m *MockAdvertisement) TxPowerLevel() int { return m.Called().Int(0) }

func (m *MockAdvertisement) Addr() ble.Addr {
	return m.Called().Get(0).(ble.Addr)
}

func (m *MockAdvertisement) ManufacturerData() []byte {
	v, _ := m.Called().Get(0).([]byte)
	return v
}

func (m *MockAdvertisement) Services() []ble.UUID {
	v, _ := m.Called().Get(0).([]ble.UUID)
	return v
}

func (m *MockAdvertisement) ServiceData() []ble.ServiceData {
	v, _ := m.Called().Get(0).([]ble.ServiceData)
	return v
}

// MockDevice mocks ble.Device. Scan and Dial are driven by the functions set on
// the mock so tests control timing.
type MockDevice struct {
	mock.Mock
	ble.Device

	ScanFunc func(ctx context.Context, allowDup bool, h ble.AdvHandler) error
	DialFunc func(ctx context.Context, a ble.Addr) (ble.Client, error)
}

func (m *MockDevice) Scan(ctx context.Context, allowDup bool, h ble.AdvHandler) error {
	m.Called(allowDup)
	if m.ScanFunc != nil {
		return m.ScanFunc(ctx, allowDup, h)
	}
	<-ctx.Done()
	return ctx.Err()
}

func (m *MockDevice) Dial(ctx context.Context, a ble.Addr) (ble.Client, error) {
	m.Called(a.String())
	if m.DialFunc != nil {
		return m.DialFunc(ctx, a)
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func (m *MockDevice) Stop() error {
	return m.Called().Error(0)
}

// MockClient mocks ble.Client. One client can serve several connections in
// turn; Redial re-arms it after a disconnect.
type MockClient struct {
	mock.Mock
	ble.Client

	mu   sync.Mutex
	gone chan struct{}
}

func NewMockClient() *MockClient {
	return &MockClient{gone: make(chan struct{})}
}

func (m *MockClient) DiscoverServices(filter []ble.UUID) ([]*ble.Service, error) {
	args := m.Called(filter)
	v, _ := args.Get(0).([]*ble.Service)
	return v, args.Error(1)
}

func (m *MockClient) DiscoverCharacteristics(filter []ble.UUID, s *ble.Service) ([]*ble.Characteristic, error) {
	args := m.Called(filter, s)
	v, _ := args.Get(0).([]*ble.Characteristic)
	return v, args.Error(1)
}

func (m *MockClient) DiscoverDescriptors(filter []ble.UUID, c *ble.Characteristic) ([]*ble.Descriptor, error) {
	args := m.Called(filter, c)
	v, _ := args.Get(0).([]*ble.Descriptor)
	return v, args.Error(1)
}

func (m *MockClient) ReadCharacteristic(c *ble.Characteristic) ([]byte, error) {
	args := m.Called(c)
	v, _ := args.Get(0).([]byte)
	return v, args.Error(1)
}

func (m *MockClient) WriteCharacteristic(c *ble.Characteristic, value []byte, noRsp bool) error {
	return m.Called(c, value, noRsp).Error(0)
}

func (m *MockClient) ReadDescriptor(d *ble.Descriptor) ([]byte, error) {
	args := m.Called(d)
	v, _ := args.Get(0).([]byte)
	return v, args.Error(1)
}

func (m *MockClient) WriteDescriptor(d *ble.Descriptor, v []byte) error {
	return m.Called(d, v).Error(0)
}

func (m *MockClient) Subscribe(c *ble.Characteristic, ind bool, h ble.NotificationHandler) error {
	return m.Called(c, ind, h).Error(0)
}

func (m *MockClient) Unsubscribe(c *ble.Characteristic, ind bool) error {
	return m.Called(c, ind).Error(0)
}

// CancelConnection drops the link, as a real link reports the disconnect.
func (m *MockClient) CancelConnection() error {
	err := m.Called().Error(0)
	if err == nil {
		m.Drop()
	}
	return err
}

func (m *MockClient) Disconnected() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gone
}

// Drop simulates a link loss.
func (m *MockClient) Drop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	select {
	case <-m.gone:
	default:
		close(m.gone)
	}
}

// Redial prepares a dropped client for the next connection.
func (m *MockClient) Redial() {
	m.mu.Lock()
	defer m.mu.Unlock()
	select {
	case <-m.gone:
		m.gone = make(chan struct{})
	default:
	}
}
