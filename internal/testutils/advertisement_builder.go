package testutils

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/srg/lbridge/internal/device"
)

// MockAdvertisement is a testify mock of device.Advertisement.
type MockAdvertisement struct {
	mock.Mock
}

func (m *MockAdvertisement) LocalName() string        { return m.Called().String(0) }
func (m *MockAdvertisement) ManufacturerData() []byte { return bytesArg(m.Called(), 0) }
func (m *MockAdvertisement) TxPowerLevel() int        { return m.Called().Int(0) }
func (m *MockAdvertisement) Connectable() bool        { return m.Called().Bool(0) }
func (m *MockAdvertisement) RSSI() int                { return m.Called().Int(0) }
func (m *MockAdvertisement) Addr() string             { return m.Called().String(0) }

func (m *MockAdvertisement) ServiceData() []device.ServiceData {
	if sd, ok := m.Called().Get(0).([]device.ServiceData); ok {
		return sd
	}
	return nil
}

func (m *MockAdvertisement) Services() []string         { return stringsArg(m.Called(), 0) }
func (m *MockAdvertisement) OverflowService() []string  { return stringsArg(m.Called(), 0) }
func (m *MockAdvertisement) SolicitedService() []string { return stringsArg(m.Called(), 0) }

func bytesArg(args mock.Arguments, i int) []byte {
	if b, ok := args.Get(i).([]byte); ok {
		return b
	}
	return nil
}

func stringsArg(args mock.Arguments, i int) []string {
	if s, ok := args.Get(i).([]string); ok {
		return s
	}
	return nil
}

// AdvertisementBuilder builds mocked advertisements for tests.
type AdvertisementBuilder struct {
	name        string
	address     string
	rssi        int
	services    []string
	overflow    []string
	manufData   []byte
	serviceData []device.ServiceData
	txPower     int
	connectable bool
}

// NewAdvertisementBuilder starts a connectable advertisement with no TX power.
func NewAdvertisementBuilder() *AdvertisementBuilder {
	return &AdvertisementBuilder{rssi: -60, txPower: 127, connectable: true}
}

func (b *AdvertisementBuilder) WithName(name string) *AdvertisementBuilder {
	b.name = name
	return b
}

func (b *AdvertisementBuilder) WithAddress(addr string) *AdvertisementBuilder {
	b.address = addr
	return b
}

func (b *AdvertisementBuilder) WithRSSI(rssi int) *AdvertisementBuilder {
	b.rssi = rssi
	return b
}

// WithServices adds service UUIDs in any accepted form ("180D", dashed 128-bit).
func (b *AdvertisementBuilder) WithServices(uuids ...string) *AdvertisementBuilder {
	b.services = append(b.services, uuids...)
	return b
}

func (b *AdvertisementBuilder) WithOverflowServices(uuids ...string) *AdvertisementBuilder {
	b.overflow = append(b.overflow, uuids...)
	return b
}

func (b *AdvertisementBuilder) WithServiceData(uuid string, data []byte) *AdvertisementBuilder {
	b.serviceData = append(b.serviceData, device.ServiceData{UUID: uuid, Data: data})
	return b
}

func (b *AdvertisementBuilder) WithManufacturerData(data []byte) *AdvertisementBuilder {
	b.manufData = data
	return b
}

func (b *AdvertisementBuilder) WithConnectable(c bool) *AdvertisementBuilder {
	b.connectable = c
	return b
}

// Build returns a mock answering every accessor; none of them is required to be called.
func (b *AdvertisementBuilder) Build() *MockAdvertisement {
	adv := &MockAdvertisement{}
	adv.On("LocalName").Return(b.name).Maybe()
	adv.On("Addr").Return(b.address).Maybe()
	adv.On("RSSI").Return(b.rssi).Maybe()
	adv.On("Services").Return(b.services).Maybe()
	adv.On("OverflowService").Return(b.overflow).Maybe()
	adv.On("SolicitedService").Return([]string(nil)).Maybe()
	adv.On("ServiceData").Return(b.serviceData).Maybe()
	adv.On("ManufacturerData").Return(b.manufData).Maybe()
	adv.On("TxPowerLevel").Return(b.txPower).Maybe()
	adv.On("Connectable").Return(b.connectable).Maybe()
	return adv
}

// FakeScanner is a device.ScanningDevice replaying fixed advertisements, then
// blocking until the scan context ends.
type FakeScanner struct {
	mu             sync.Mutex
	Advertisements []device.Advertisement
	// Err, when set, is returned immediately instead of scanning.
	Err   error
	calls int
}

var _ device.ScanningDevice = (*FakeScanner)(nil)

func NewFakeScanner(ads ...device.Advertisement) *FakeScanner {
	return &FakeScanner{Advertisements: ads}
}

func (s *FakeScanner) Scan(ctx context.Context, _ bool, handler func(device.Advertisement)) error {
	s.mu.Lock()
	s.calls++
	ads := append([]device.Advertisement(nil), s.Advertisements...)
	err := s.Err
	s.mu.Unlock()
	if err != nil {
		return err
	}
	for _, adv := range ads {
		handler(adv)
	}
	<-ctx.Done()
	return ctx.Err()
}

// Calls returns how many times Scan was invoked.
func (s *FakeScanner) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
