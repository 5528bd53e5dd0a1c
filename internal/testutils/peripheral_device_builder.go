package testutils

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	blelib "github.com/go-ble/ble"
	"github.com/stretchr/testify/mock"

	"github.com/srg/lbridge/internal/bledb"
	"github.com/srg/lbridge/internal/transport"
)

// MockGATTClient is a testify mock of transport.GATTClient that also keeps the
// notification handlers registered through Subscribe so tests can push values.
type MockGATTClient struct {
	mock.Mock

	mu           sync.Mutex
	handlers     map[string]blelib.NotificationHandler
	disconnected chan struct{}
	dropOnce     sync.Once
}

var _ transport.GATTClient = (*MockGATTClient)(nil)

func (m *MockGATTClient) DiscoverProfile(force bool) (*blelib.Profile, error) {
	args := m.Called(force)
	p, _ := args.Get(0).(*blelib.Profile)
	return p, args.Error(1)
}

func (m *MockGATTClient) ReadCharacteristic(c *blelib.Characteristic) ([]byte, error) {
	args := m.Called(c)
	return bytesArg(args, 0), args.Error(1)
}

func (m *MockGATTClient) WriteCharacteristic(c *blelib.Characteristic, value []byte, noRsp bool) error {
	return m.Called(c, value, noRsp).Error(0)
}

func (m *MockGATTClient) Subscribe(c *blelib.Characteristic, ind bool, h blelib.NotificationHandler) error {
	err := m.Called(c, ind, h).Error(0)
	if err == nil {
		m.mu.Lock()
		m.handlers[bledb.NormalizeUUID(c.UUID.String())] = h
		m.mu.Unlock()
	}
	return err
}

func (m *MockGATTClient) Unsubscribe(c *blelib.Characteristic, ind bool) error {
	return m.Called(c, ind).Error(0)
}

func (m *MockGATTClient) CancelConnection() error {
	return m.Called().Error(0)
}

// Disconnected mirrors the go-ble client method the transport watches.
func (m *MockGATTClient) Disconnected() <-chan struct{} {
	return m.disconnected
}

// Notify delivers data to the handler subscribed on uuid. It reports whether a
// handler was registered.
func (m *MockGATTClient) Notify(uuid string, data []byte) bool {
	m.mu.Lock()
	h := m.handlers[bledb.NormalizeUUID(uuid)]
	m.mu.Unlock()
	if h == nil {
		return false
	}
	h(data)
	return true
}

// Drop simulates the peripheral going away.
func (m *MockGATTClient) Drop() {
	m.dropOnce.Do(func() { close(m.disconnected) })
}

// Forget removes every expectation of method so a test can set its own.
func (m *MockGATTClient) Forget(method string) {
	kept := m.ExpectedCalls[:0]
	for _, c := range m.ExpectedCalls {
		if c.Method != method {
			kept = append(kept, c)
		}
	}
	m.ExpectedCalls = kept
}

// FindCharacteristic returns the profile characteristic with uuid.
func FindCharacteristic(profile *blelib.Profile, uuid string) *blelib.Characteristic {
	want := bledb.NormalizeUUID(uuid)
	for _, s := range profile.Services {
		for _, c := range s.Characteristics {
			if bledb.NormalizeUUID(c.UUID.String()) == want {
				return c
			}
		}
	}
	return nil
}

// CharacteristicConfig represents a BLE characteristic configuration for mocking
type CharacteristicConfig struct {
	UUID       string `json:"uuid"`
	Properties string `json:"properties,omitempty"` // e.g. "read,write,notify"
	Value      []byte `json:"value,omitempty"`
}

// ServiceConfig represents a BLE service configuration for mocking
type ServiceConfig struct {
	UUID            string                 `json:"uuid"`
	Characteristics []CharacteristicConfig `json:"characteristics,omitempty"`
}

// DeviceProfileConfig represents the complete device profile for mocking
type DeviceProfileConfig struct {
	Services []ServiceConfig `json:"services"`
}

// PeripheralDeviceBuilder builds a MockGATTClient serving a GATT profile.
type PeripheralDeviceBuilder struct {
	profile DeviceProfileConfig
}

func NewPeripheralDeviceBuilder() *PeripheralDeviceBuilder {
	return &PeripheralDeviceBuilder{}
}

// WithService adds a service to the device profile
func (b *PeripheralDeviceBuilder) WithService(uuid string) *PeripheralDeviceBuilder {
	b.profile.Services = append(b.profile.Services, ServiceConfig{UUID: uuid})
	return b
}

// WithCharacteristic adds a characteristic to the last added service
func (b *PeripheralDeviceBuilder) WithCharacteristic(uuid, properties string, value []byte) *PeripheralDeviceBuilder {
	if len(b.profile.Services) == 0 {
		panic("WithCharacteristic: no service added yet, call WithService first")
	}
	last := &b.profile.Services[len(b.profile.Services)-1]
	last.Characteristics = append(last.Characteristics, CharacteristicConfig{UUID: uuid, Properties: properties, Value: value})
	return b
}

// FromJSON fills the device profile from JSON
func (b *PeripheralDeviceBuilder) FromJSON(jsonStrFmt string, args ...interface{}) *PeripheralDeviceBuilder {
	var config DeviceProfileConfig
	if err := json.Unmarshal([]byte(fmt.Sprintf(jsonStrFmt, args...)), &config); err != nil {
		panic(fmt.Sprintf("PeripheralDeviceBuilder.FromJSON: failed to unmarshal: %v", err))
	}
	b.profile = config
	return b
}

func parseCharacteristicProperties(props string) blelib.Property {
	if props == "" {
		return blelib.CharRead | blelib.CharWrite | blelib.CharNotify
	}
	var p blelib.Property
	for _, name := range strings.Split(props, ",") {
		switch strings.TrimSpace(name) {
		case "read":
			p |= blelib.CharRead
		case "write":
			p |= blelib.CharWrite
		case "notify":
			p |= blelib.CharNotify
		case "indicate":
			p |= blelib.CharIndicate
		}
	}
	return p
}

// Build returns the profile and a client with default expectations: discovery
// succeeds, subscriptions and writes succeed, reads return the configured value.
// Use Forget before setting a different expectation for a method.
func (b *PeripheralDeviceBuilder) Build() (*MockGATTClient, *blelib.Profile) {
	profile := &blelib.Profile{}
	for _, svcConfig := range b.profile.Services {
		svc := &blelib.Service{UUID: blelib.MustParse(svcConfig.UUID)}
		for _, charConfig := range svcConfig.Characteristics {
			svc.Characteristics = append(svc.Characteristics, &blelib.Characteristic{
				UUID:     blelib.MustParse(charConfig.UUID),
				Property: parseCharacteristicProperties(charConfig.Properties),
				Value:    charConfig.Value,
			})
		}
		profile.Services = append(profile.Services, svc)
	}

	client := &MockGATTClient{
		handlers:     map[string]blelib.NotificationHandler{},
		disconnected: make(chan struct{}),
	}
	client.On("DiscoverProfile", true).Return(profile, nil).Maybe()
	client.On("CancelConnection").Return(nil).Maybe()
	for _, svc := range profile.Services {
		for _, c := range svc.Characteristics {
			client.On("Subscribe", c, mock.Anything, mock.Anything).Return(nil).Maybe()
			client.On("Unsubscribe", c, mock.Anything).Return(nil).Maybe()
			client.On("WriteCharacteristic", c, mock.Anything, false).Return(nil).Maybe()
			if c.Property&blelib.CharRead != 0 {
				client.On("ReadCharacteristic", c).Return(c.Value, nil).Maybe()
			} else {
				client.On("ReadCharacteristic", c).Return(nil, fmt.Errorf("characteristic does not support read")).Maybe()
			}
		}
	}
	return client, profile
}

// Dialer returns a transport.Dialer handing out client.
func (m *MockGATTClient) Dialer() transport.Dialer {
	return func(context.Context, string) (transport.GATTClient, error) {
		return m, nil
	}
}
