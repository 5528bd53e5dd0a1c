package bridge

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/lbridge/internal/codec"
	"github.com/srg/lbridge/internal/devclass"
	"github.com/srg/lbridge/internal/groutine"
	"github.com/srg/lbridge/internal/notify"
	"github.com/srg/lbridge/internal/property"
	"github.com/srg/lbridge/internal/store"
	"github.com/srg/lbridge/internal/transport"
)

// Connector is the link to one peripheral. transport.GoBLE implements it.
type Connector interface {
	transport.Peripheral
	Connect(ctx context.Context, address string) (<-chan struct{}, error)
	Discover() ([]string, error)
	Subscribe(uuids []string, handler transport.NotificationHandler) error
	Disconnect() error
}

// Seeder provides last-known-good values for a device. persist.Store implements it.
type Seeder interface {
	Load(ctx context.Context, deviceID string) (map[property.Name]codec.Value, error)
}

// RunOptions configures RunDeviceBridge.
type RunOptions struct {
	Address string
	// Name is the advertised local name, if discovery saw one.
	Name     string
	DeviceID string
	DSN      string
	Resolver *devclass.Resolver
	// Listeners are subscribed before the first notification can arrive.
	Listeners      []notify.Listener
	Seeder         Seeder
	ConnectTimeout time.Duration
	Logger         *logrus.Logger
}

// ProgressCallback is called when the bridge phase changes
type ProgressCallback func(phase string)

// BridgeCallback is executed with the running session.
type BridgeCallback[R any] func(*Session) (R, error)

// Session is a connected, subscribed device.
type Session struct {
	Device     *Device
	Resolution devclass.Resolution
	// Disconnected is closed when the peripheral drops the link.
	Disconnected <-chan struct{}
}

// RunDeviceBridge connects to a peripheral, resolves its class from the discovered
// services, subscribes to its sensor characteristics and runs callback with the
// live device. The link is torn down when callback returns.
func RunDeviceBridge[R any](
	ctx context.Context,
	conn Connector,
	opts *RunOptions,
	progressCallback ProgressCallback,
	callback BridgeCallback[R],
) (R, error) {
	var zero R

	if opts == nil {
		return zero, fmt.Errorf("failed to execute bridge: options are required")
	}
	if opts.Address == "" {
		return zero, fmt.Errorf("failed to execute bridge: device address is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}
	if progressCallback == nil {
		progressCallback = func(string) {}
	}
	resolver := opts.Resolver
	if resolver == nil {
		resolver = devclass.NewResolver(logger)
	}
	timeout := opts.ConnectTimeout
	if timeout == 0 {
		timeout = transport.DefaultConnectTimeout
	}

	progressCallback("Connecting")
	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	linkDown, err := conn.Connect(connectCtx, opts.Address)
	cancel()
	if err != nil {
		progressCallback("Failed")
		return zero, fmt.Errorf("failed to connect to device %s: %w", opts.Address, err)
	}
	defer func() {
		if err := conn.Disconnect(); err != nil {
			logger.WithError(err).WithField("address", opts.Address).Warn("Failed to disconnect")
		}
	}()

	services, err := conn.Discover()
	if err != nil {
		progressCallback("Failed")
		return zero, fmt.Errorf("failed to discover services of %s: %w", opts.Address, err)
	}
	res := resolver.Resolve(devclass.Candidate{HardwareID: opts.Address, LocalName: opts.Name, Services: services})
	if len(res.Class.SensorChars) == 0 {
		progressCallback("Failed")
		return zero, fmt.Errorf("device %s resolved to %s class: %w", opts.Address, res.Class, transport.ErrUnsupported)
	}
	logger.WithFields(logrus.Fields{
		"address": opts.Address,
		"class":   res.Class.String(),
		"product": res.Identity.ProductName,
	}).Info("Resolved device class")

	dev, err := New(Options{
		DeviceID:   opts.DeviceID,
		DSN:        opts.DSN,
		Identity:   res.Identity,
		Class:      res.Class,
		Peripheral: conn,
		Logger:     logger,
	})
	if err != nil {
		return zero, err
	}
	defer dev.Close()

	if opts.Seeder != nil {
		values, err := opts.Seeder.Load(ctx, dev.ID())
		if err != nil {
			logger.WithError(err).Warn("Failed to load last known values")
		} else if n, _ := dev.Seed(values); n > 0 {
			logger.WithField("properties", n).Info("Restored last known values")
		}
	}
	for _, l := range opts.Listeners {
		defer dev.Subscribe(l)()
	}

	for _, s := range []store.State{store.Connecting, store.ServicesDiscovered} {
		if err := dev.SetState(s); err != nil {
			return zero, err
		}
	}
	progressCallback("Subscribing")
	if err := conn.Subscribe(res.Class.SensorChars, dev.HandleNotification); err != nil {
		progressCallback("Failed")
		_ = dev.SetState(store.Disconnected)
		return zero, fmt.Errorf("failed to subscribe to %s: %w", opts.Address, err)
	}
	if err := dev.SetState(store.Subscribed); err != nil {
		return zero, err
	}

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	groutine.Go(watchCtx, "bridge-link", func(ctx context.Context) {
		select {
		case <-linkDown:
			logger.WithField("address", opts.Address).Warn("Peripheral disconnected")
			if err := dev.SetState(store.Disconnected); err != nil {
				logger.WithError(err).Debug("Could not record disconnect")
			}
			progressCallback("Disconnected")
		case <-ctx.Done():
		}
	})

	progressCallback("Running")
	return callback(&Session{Device: dev, Resolution: res, Disconnected: linkDown})
}
