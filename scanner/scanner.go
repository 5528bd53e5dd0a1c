package scanner

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/hedzr/go-ringbuf/v2/mpmc"
	"github.com/sirupsen/logrus"

	"github.com/srg/lbridge/internal/devclass"
	"github.com/srg/lbridge/internal/device"
)

// DefaultEventBacklog is how many discovery events are kept for Events.
const DefaultEventBacklog = 100

// ProgressCallback is called when the scan phase changes
type ProgressCallback func(phase string)

// DeviceEventType marks if the device was newly discovered or updated
type DeviceEventType int

const (
	EventNew DeviceEventType = iota
	EventUpdated
)

func (t DeviceEventType) String() string {
	if t == EventNew {
		return "new"
	}
	return "updated"
}

// Discovery is what a scan learned about one peripheral.
type Discovery struct {
	Address     string
	Name        string
	RSSI        int
	TxPower     int
	Connectable bool
	Services    []string
	// Manufacturer names the company in the manufacturer data, if any was sent.
	Manufacturer string
	Resolution   devclass.Resolution
	LastSeen     time.Time
}

// Known reports whether the peripheral resolved to a class other than generic.
func (d Discovery) Known() bool {
	return d.Resolution.Class != nil && d.Resolution.Class != devclass.Generic
}

type DeviceEvent struct {
	Type      DeviceEventType
	Discovery Discovery
}

// Scanner handles BLE device discovery
type Scanner struct {
	dev      device.ScanningDevice
	resolver *devclass.Resolver
	logger   *logrus.Logger
	now      func() time.Time

	devices     *hashmap.Map[string, Discovery]
	events      mpmc.RichOverlappedRingBuffer[DeviceEvent]
	overwritten atomic.Int64

	scanOptions *ScanOptions
}

// ScanOptions configures scanning behavior
type ScanOptions struct {
	Duration        time.Duration
	DuplicateFilter bool
	// ServiceUUIDs keeps peripherals advertising at least one of these services.
	ServiceUUIDs []string
	AllowList    []string
	BlockList    []string
	// KnownOnly keeps peripherals that resolve to a device class other than generic.
	KnownOnly bool
}

// DefaultScanOptions returns default scanning options
func DefaultScanOptions() *ScanOptions {
	return &ScanOptions{
		Duration:        10 * time.Second,
		DuplicateFilter: true,
	}
}

// NewScanner creates a scanner over dev. A nil resolver uses the default bindings.
func NewScanner(dev device.ScanningDevice, resolver *devclass.Resolver, logger *logrus.Logger) (*Scanner, error) {
	if dev == nil {
		return nil, fmt.Errorf("scanning device is required")
	}
	if logger == nil {
		logger = logrus.New()
	}
	if resolver == nil {
		resolver = devclass.NewResolver(logger)
	}

	return &Scanner{
		dev:      dev,
		resolver: resolver,
		logger:   logger,
		now:      time.Now,
		devices:  hashmap.New[string, Discovery](),
		events:   mpmc.NewOverlappedRingBuffer[DeviceEvent](DefaultEventBacklog),
	}, nil
}

// Scan performs BLE discovery with provided options and returns every accepted
// peripheral by address.
func (s *Scanner) Scan(ctx context.Context, opts *ScanOptions, progressCallback ProgressCallback) (map[string]Discovery, error) {
	s.devices = hashmap.New[string, Discovery]()

	if opts == nil {
		opts = DefaultScanOptions()
	}
	if progressCallback == nil {
		progressCallback = func(string) {} // No-op callback
	}
	scanOpts := *opts
	if len(opts.ServiceUUIDs) > 0 {
		filter, err := device.ValidateUUID(opts.ServiceUUIDs...)
		if err != nil {
			return nil, fmt.Errorf("invalid service filter: %w", err)
		}
		scanOpts.ServiceUUIDs = filter
	}
	opts = &scanOpts

	s.logger.WithField("duration", opts.Duration).Info("Starting BLE scan...")
	progressCallback("Scanning")

	scanCtx := ctx
	if opts.Duration > 0 {
		var cancel context.CancelFunc
		scanCtx, cancel = context.WithTimeout(ctx, opts.Duration)
		defer cancel()
	}

	s.scanOptions = opts
	defer func() {
		s.scanOptions = nil
	}()
	err := s.dev.Scan(scanCtx, !opts.DuplicateFilter, s.handleAdvertisement)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		progressCallback("Failed")
		return nil, fmt.Errorf("scan failed: %w", err)
	}

	s.logger.WithField("device_count", s.devices.Len()).Info("BLE scan completed")
	progressCallback("Processing results")

	devices := make(map[string]Discovery, s.devices.Len())
	s.devices.Range(func(key string, value Discovery) bool {
		devices[key] = value
		return true
	})
	return devices, nil
}

// handleAdvertisement updates existing or adds a new device
func (s *Scanner) handleAdvertisement(adv device.Advertisement) {
	addr := adv.Addr()
	services := device.AdvertisedServices(adv)

	prev, existing := s.devices.Get(addr)
	if existing {
		// Names and services often arrive in a later scan response.
		services = mergeServices(prev.Services, services)
	}
	d := Discovery{
		Address:     addr,
		Name:        adv.LocalName(),
		RSSI:        adv.RSSI(),
		TxPower:     adv.TxPowerLevel(),
		Connectable: adv.Connectable(),
		Services:    services,
		LastSeen:    s.now(),
	}
	d.Manufacturer = device.ManufacturerName(adv.ManufacturerData())
	if d.Name == "" && existing {
		d.Name = prev.Name
	}
	if d.Manufacturer == "" && existing {
		d.Manufacturer = prev.Manufacturer
	}
	if existing && len(services) == len(prev.Services) && d.Name == prev.Name {
		d.Resolution = prev.Resolution
	} else {
		d.Resolution = s.resolver.Resolve(devclass.Candidate{HardwareID: addr, LocalName: d.Name, Services: services})
	}

	if !existing {
		if !s.shouldIncludeDevice(d, s.scanOptions) {
			return
		}
		if _, loaded := s.devices.GetOrInsert(addr, d); loaded {
			existing = true
		}
	}

	event := DeviceEvent{Discovery: d}
	if existing {
		s.devices.Set(addr, d)
		event.Type = EventUpdated
	} else {
		s.logger.WithFields(logrus.Fields{
			"device":  d.Name,
			"address": d.Address,
			"rssi":    d.RSSI,
			"class":   d.Resolution.Class.String(),
		}).Info("Discovered new device")
		event.Type = EventNew
	}

	overwrites, err := s.events.EnqueueM(event)
	if err != nil {
		s.logger.WithError(err).Warn("Failed to record discovery event")
		return
	}
	s.overwritten.Add(int64(overwrites))
}

// shouldIncludeDevice applies to allow/block/service/class filters
func (s *Scanner) shouldIncludeDevice(d Discovery, opts *ScanOptions) bool {
	if opts == nil {
		return true
	}
	for _, blocked := range opts.BlockList {
		if d.Address == blocked {
			return false
		}
	}

	if len(opts.AllowList) > 0 {
		allowed := false
		for _, a := range opts.AllowList {
			if d.Address == a {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}

	if len(opts.ServiceUUIDs) > 0 {
		hasRequired := false
		for _, required := range opts.ServiceUUIDs {
			for _, advertised := range d.Services {
				if required == advertised {
					hasRequired = true
					break
				}
			}
			if hasRequired {
				break
			}
		}
		if !hasRequired {
			return false
		}
	}

	if opts.KnownOnly && !d.Known() {
		return false
	}
	return true
}

// Events drains the buffered discovery events, oldest first. The backlog keeps the
// most recent DefaultEventBacklog events.
func (s *Scanner) Events() []DeviceEvent {
	var out []DeviceEvent
	for !s.events.IsEmpty() {
		ev, err := s.events.Dequeue()
		if err != nil {
			break
		}
		out = append(out, ev)
	}
	return out
}

// Overwritten returns how many events were dropped because the backlog was full.
func (s *Scanner) Overwritten() int64 {
	return s.overwritten.Load()
}

func mergeServices(known, seen []string) []string {
	out := append([]string(nil), known...)
	for _, u := range seen {
		found := false
		for _, k := range known {
			if k == u {
				found = true
				break
			}
		}
		if !found {
			out = append(out, u)
		}
	}
	return out
}
