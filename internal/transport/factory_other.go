//go:build !darwin && !linux

package transport

import (
	"fmt"
	"runtime"

	"github.com/go-ble/ble"
)

// DeviceFactory creates ble.Device instances (can be overridden in tests)
var DeviceFactory = func() (ble.Device, error) {
	return nil, fmt.Errorf("ble on %s: %w", runtime.GOOS, ErrUnsupported)
}
