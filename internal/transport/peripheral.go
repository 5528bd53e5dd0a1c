// Package transport talks to BLE peripherals through go-ble.
package transport

import (
	"context"
)

// Peripheral is what the bridge needs from a connected device.
type Peripheral interface {
	// WriteCharacteristic writes with response. A write in flight cannot be
	// cancelled; implementations bound it by their own timeout instead of ctx.
	WriteCharacteristic(ctx context.Context, uuid string, data []byte) error
	// ReadCharacteristic reads the current value. Honours ctx cancellation.
	ReadCharacteristic(ctx context.Context, uuid string) ([]byte, error)
}

// NotificationHandler receives notifications of subscribed characteristics.
// data must be copied if retained.
type NotificationHandler func(charUUID string, data []byte)
