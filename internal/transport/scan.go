package transport

import (
	"context"
	"errors"

	"github.com/go-ble/ble"

	"github.com/srg/lbridge/internal/device"
)

// bleScanner wraps ble.Device to implement device.ScanningDevice.
type bleScanner struct {
	dev ble.Device
}

func (s *bleScanner) Scan(ctx context.Context, allowDup bool, handler func(device.Advertisement)) error {
	err := s.dev.Scan(ctx, allowDup, func(adv ble.Advertisement) {
		handler(advertisement{adv})
	})
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return NormalizeError(err)
}

// NewScanner creates a scanner over the platform BLE device.
func NewScanner() (device.ScanningDevice, error) {
	dev, err := DeviceFactory()
	if err != nil {
		return nil, NormalizeError(err)
	}
	return &bleScanner{dev: dev}, nil
}

// advertisement adapts ble.Advertisement to device.Advertisement.
type advertisement struct {
	adv ble.Advertisement
}

func (a advertisement) LocalName() string          { return a.adv.LocalName() }
func (a advertisement) ManufacturerData() []byte   { return a.adv.ManufacturerData() }
func (a advertisement) TxPowerLevel() int          { return a.adv.TxPowerLevel() }
func (a advertisement) Connectable() bool          { return a.adv.Connectable() }
func (a advertisement) RSSI() int                  { return a.adv.RSSI() }
func (a advertisement) Addr() string               { return a.adv.Addr().String() }
func (a advertisement) Services() []string         { return uuidStrings(a.adv.Services()) }
func (a advertisement) OverflowService() []string  { return uuidStrings(a.adv.OverflowService()) }
func (a advertisement) SolicitedService() []string { return uuidStrings(a.adv.SolicitedService()) }

func (a advertisement) ServiceData() []device.ServiceData {
	raw := a.adv.ServiceData()
	out := make([]device.ServiceData, len(raw))
	for i, sd := range raw {
		out[i] = device.ServiceData{UUID: sd.UUID.String(), Data: sd.Data}
	}
	return out
}

func uuidStrings(uuids []ble.UUID) []string {
	out := make([]string, len(uuids))
	for i, u := range uuids {
		out[i] = u.String()
	}
	return out
}
