package transport

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/srg/lbridge/internal/bledb"
	"github.com/srg/lbridge/internal/groutine"
)

const (
	DefaultConnectTimeout = 15 * time.Second
	DefaultWriteTimeout   = 5 * time.Second
	DefaultReadTimeout    = 5 * time.Second
)

// GATTClient is the subset of ble.Client the adapter uses.
type GATTClient interface {
	DiscoverProfile(force bool) (*ble.Profile, error)
	ReadCharacteristic(c *ble.Characteristic) ([]byte, error)
	WriteCharacteristic(c *ble.Characteristic, value []byte, noRsp bool) error
	Subscribe(c *ble.Characteristic, ind bool, h ble.NotificationHandler) error
	Unsubscribe(c *ble.Characteristic, ind bool) error
	CancelConnection() error
}

// Dialer opens a GATT connection to address.
type Dialer func(ctx context.Context, address string) (GATTClient, error)

// DialDefault dials through the default go-ble device, creating it with
// DeviceFactory on first use.
func DialDefault(ctx context.Context, address string) (GATTClient, error) {
	if err := ensureDefaultDevice(); err != nil {
		return nil, err
	}
	client, err := ble.Dial(ctx, ble.NewAddr(address))
	if err != nil {
		return nil, NormalizeError(err)
	}
	return client, nil
}

var (
	defaultDeviceOnce sync.Once
	defaultDeviceErr  error
)

func ensureDefaultDevice() error {
	defaultDeviceOnce.Do(func() {
		dev, err := DeviceFactory()
		if err != nil {
			defaultDeviceErr = NormalizeError(err)
			return
		}
		ble.SetDefaultDevice(dev)
	})
	return defaultDeviceErr
}

// Options configures a GoBLE connection. Zero durations take the defaults.
type Options struct {
	ConnectTimeout time.Duration
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	Dial           Dialer
}

// GoBLE is a Peripheral over a go-ble client.
type GoBLE struct {
	opts   Options
	logger *logrus.Logger

	mu           sync.RWMutex
	client       GATTClient
	address      string
	chars        map[string]*ble.Characteristic
	subscribed   []*ble.Characteristic
	disconnected chan struct{}
	closeOnce    *sync.Once
}

var _ Peripheral = (*GoBLE)(nil)

// NewGoBLE creates an unconnected adapter.
func NewGoBLE(opts Options, logger *logrus.Logger) *GoBLE {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = DefaultReadTimeout
	}
	if opts.Dial == nil {
		opts.Dial = DialDefault
	}
	return &GoBLE{opts: opts, logger: logger, chars: map[string]*ble.Characteristic{}}
}

// Connect dials address. The returned channel is closed once the link is gone,
// whether the peripheral dropped it or Disconnect was called.
func (g *GoBLE) Connect(ctx context.Context, address string) (<-chan struct{}, error) {
	if strings.TrimSpace(address) == "" {
		return nil, fmt.Errorf("device address is empty")
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.client != nil {
		return nil, ErrAlreadyConnected
	}

	log := g.logger.WithField("address", address)
	log.WithField("timeout", g.opts.ConnectTimeout).Info("Connecting to BLE device...")

	connCtx, cancel := context.WithTimeout(ctx, g.opts.ConnectTimeout)
	defer cancel()
	client, err := g.opts.Dial(connCtx, address)
	if err != nil {
		log.WithField("error", err).Error("Failed to dial BLE device")
		return nil, fmt.Errorf("failed to connect to device with address %q: %w", address, NormalizeError(err))
	}

	g.client = client
	g.address = address
	g.chars = map[string]*ble.Characteristic{}
	g.subscribed = nil
	g.disconnected = make(chan struct{})
	g.closeOnce = &sync.Once{}

	if watcher, ok := client.(interface{ Disconnected() <-chan struct{} }); ok {
		done := g.disconnected
		once := g.closeOnce
		groutine.Go(context.Background(), "ble-connection-monitor", func(context.Context) {
			select {
			case <-watcher.Disconnected():
				log.Warn("Peripheral reported disconnection")
				g.mu.Lock()
				if g.disconnected == done {
					g.client = nil
				}
				g.mu.Unlock()
				once.Do(func() { close(done) })
			case <-done:
			}
		})
	} else {
		log.Debug("Client does not report disconnections")
	}

	log.Info("BLE device connected")
	return g.disconnected, nil
}

// Discover runs GATT discovery and returns the normalized UUIDs of the
// discovered services.
func (g *GoBLE) Discover() ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.client == nil {
		return nil, ErrNotConnected
	}

	profile, err := g.client.DiscoverProfile(true)
	if err != nil {
		return nil, fmt.Errorf("failed to discover profile: %w", NormalizeError(err))
	}

	services := make([]string, 0, len(profile.Services))
	for _, svc := range profile.Services {
		svcUUID := bledb.NormalizeUUID(svc.UUID.String())
		services = append(services, svcUUID)
		for _, c := range svc.Characteristics {
			charUUID := bledb.NormalizeUUID(c.UUID.String())
			g.chars[charUUID] = c
			g.logger.WithFields(logrus.Fields{
				"service_uuid": svcUUID,
				"char_uuid":    charUUID,
				"char_name":    bledb.LookupCharacteristic(charUUID),
			}).Debug("Found characteristic")
		}
	}
	g.logger.WithFields(logrus.Fields{
		"address":         g.address,
		"services":        len(services),
		"characteristics": len(g.chars),
	}).Debug("Profile discovered")
	return services, nil
}

// Subscribe enables notifications on every given characteristic. Characteristics
// that cannot notify or were not discovered fail the whole call.
func (g *GoBLE) Subscribe(uuids []string, handler NotificationHandler) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.client == nil {
		return ErrNotConnected
	}

	var missing, unsupported []string
	targets := make([]*ble.Characteristic, 0, len(uuids))
	for _, raw := range uuids {
		c, ok := g.chars[bledb.NormalizeUUID(raw)]
		switch {
		case !ok:
			missing = append(missing, raw)
		case c.Property&ble.CharNotify == 0 && c.Property&ble.CharIndicate == 0:
			unsupported = append(unsupported, raw)
		default:
			targets = append(targets, c)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing characteristics: %s", strings.Join(missing, ", "))
	}
	if len(unsupported) > 0 {
		return fmt.Errorf("characteristics without notification support: %s: %w", strings.Join(unsupported, ", "), ErrUnsupported)
	}

	for _, c := range targets {
		uuid := bledb.NormalizeUUID(c.UUID.String())
		indicate := c.Property&ble.CharNotify == 0
		if err := g.client.Subscribe(c, indicate, func(data []byte) {
			handler(uuid, data)
		}); err != nil {
			return fmt.Errorf("subscribe %s: %w", uuid, NormalizeError(err))
		}
		g.subscribed = append(g.subscribed, c)
		g.logger.WithField("char_uuid", uuid).Debug("Subscribed to notifications")
	}
	return nil
}

func (g *GoBLE) lookup(uuid string) (GATTClient, *ble.Characteristic, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.client == nil {
		return nil, nil, ErrNotConnected
	}
	c, ok := g.chars[bledb.NormalizeUUID(uuid)]
	if !ok {
		return nil, nil, fmt.Errorf("characteristic %q not found", uuid)
	}
	return g.client, c, nil
}

// WriteCharacteristic writes data with response. ctx is ignored: once issued a
// write runs until the peripheral answers or WriteTimeout passes.
func (g *GoBLE) WriteCharacteristic(_ context.Context, uuid string, data []byte) error {
	client, c, err := g.lookup(uuid)
	if err != nil {
		return err
	}
	errc := make(chan error, 1)
	groutine.Go(context.Background(), "ble-write", func(context.Context) {
		errc <- client.WriteCharacteristic(c, data, false)
	})

	timer := time.NewTimer(g.opts.WriteTimeout)
	defer timer.Stop()
	select {
	case err := <-errc:
		return g.opError("write", uuid, err)
	case <-timer.C:
		return fmt.Errorf("write %s: %w", uuid, ErrTimeout)
	}
}

// ReadCharacteristic reads the current value of uuid.
func (g *GoBLE) ReadCharacteristic(ctx context.Context, uuid string) ([]byte, error) {
	client, c, err := g.lookup(uuid)
	if err != nil {
		return nil, err
	}
	type result struct {
		data []byte
		err  error
	}
	resc := make(chan result, 1)
	groutine.Go(context.Background(), "ble-read", func(context.Context) {
		data, err := client.ReadCharacteristic(c)
		resc <- result{data, err}
	})

	timer := time.NewTimer(g.opts.ReadTimeout)
	defer timer.Stop()
	select {
	case r := <-resc:
		if r.err != nil {
			return nil, g.opError("read", uuid, r.err)
		}
		return r.data, nil
	case <-timer.C:
		return nil, fmt.Errorf("read %s: %w", uuid, ErrTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (g *GoBLE) opError(op, uuid string, err error) error {
	err = NormalizeError(err)
	if err == nil {
		return nil
	}
	if ae, ok := err.(*ATTError); ok {
		return &ATTError{Code: ae.Code, Op: op, UUID: uuid}
	}
	return fmt.Errorf("%s %s: %w", op, uuid, err)
}

// Disconnect unsubscribes and drops the link. Calling it while disconnected is a no-op.
func (g *GoBLE) Disconnect() error {
	g.mu.Lock()
	client := g.client
	subscribed := g.subscribed
	done, once := g.disconnected, g.closeOnce
	g.client = nil
	g.subscribed = nil
	g.mu.Unlock()

	if client == nil {
		g.logger.Debug("Disconnect called but already disconnected")
		return nil
	}

	for _, c := range subscribed {
		indicate := c.Property&ble.CharNotify == 0
		if err := client.Unsubscribe(c, indicate); err != nil {
			g.logger.WithFields(logrus.Fields{
				"char_uuid": bledb.NormalizeUUID(c.UUID.String()),
				"error":     err,
			}).Warn("Failed to unsubscribe during disconnect")
		}
	}

	err := client.CancelConnection()
	once.Do(func() { close(done) })
	if err != nil {
		g.logger.WithField("error", err).Warn("BLE device disconnected with errors")
		return NormalizeError(err)
	}
	g.logger.Info("BLE device disconnected")
	return nil
}
