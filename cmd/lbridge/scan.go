package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/lbridge/internal/device"
	"github.com/srg/lbridge/internal/transport"
	"github.com/srg/lbridge/scanner"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for BLE appliances",
	Long: `Scans for Bluetooth Low Energy peripherals and resolves each one to a device
class from its advertised services. Supported appliances show their class, anything
else is listed as generic.

Examples:
  lbridge scan --known
  lbridge scan --duration 30s --format json
  lbridge scan --watch`,
	RunE: runScan,
}

// newScanningDevice opens the platform radio; tests replace it.
var newScanningDevice = transport.NewScanner

var (
	scanDuration    time.Duration
	scanFormat      string
	scanServices    []string
	scanAllowList   []string
	scanBlockList   []string
	scanNoDuplicate bool
	scanKnown       bool
	scanWatch       bool
)

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 0, "Scan duration (default from config, 0 with --watch for indefinite)")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "", "Output format (table, json); default from config")
	scanCmd.Flags().StringSliceVarP(&scanServices, "services", "s", nil, "Filter by service UUIDs")
	scanCmd.Flags().StringSliceVar(&scanAllowList, "allow", nil, "Only show devices with these addresses")
	scanCmd.Flags().StringSliceVar(&scanBlockList, "block", nil, "Hide devices with these addresses")
	scanCmd.Flags().BoolVar(&scanNoDuplicate, "no-duplicates", true, "Filter duplicate advertisements")
	scanCmd.Flags().BoolVar(&scanKnown, "known", false, "Only show supported appliances")
	scanCmd.Flags().BoolVarP(&scanWatch, "watch", "w", false, "Print devices as they are discovered")
}

type scanEntry struct {
	Address     string    `json:"address"`
	Name        string    `json:"name"`
	RSSI        int       `json:"rssi"`
	Connectable bool      `json:"connectable"`
	Class       string    `json:"class"`
	Product     string    `json:"product"`
	Maker       string    `json:"manufacturer,omitempty"`
	Services    []string  `json:"services"`
	LastSeen    time.Time `json:"last_seen"`
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	format := cfg.OutputFormat
	if scanFormat != "" {
		format = scanFormat
	}
	if err := validateFormat(format); err != nil {
		return err
	}
	var serviceUUIDs []string
	if len(scanServices) > 0 {
		serviceUUIDs, err = device.ValidateUUID(scanServices...)
		if err != nil {
			return fmt.Errorf("invalid service UUID: %w", err)
		}
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	duration := cfg.BLE.ScanTimeout
	if cmd.Flags().Changed("duration") || (scanWatch && scanDuration == 0) {
		duration = scanDuration
	}

	dev, err := newScanningDevice()
	if err != nil {
		return fmt.Errorf("failed to open BLE adapter: %w", err)
	}
	s, err := scanner.NewScanner(dev, nil, logger)
	if err != nil {
		return fmt.Errorf("failed to create BLE scanner: %w", err)
	}

	opts := &scanner.ScanOptions{
		Duration:        duration,
		DuplicateFilter: scanNoDuplicate,
		ServiceUUIDs:    serviceUUIDs,
		AllowList:       scanAllowList,
		BlockList:       scanBlockList,
		KnownOnly:       scanKnown,
	}

	ctx, cancel := signalContext(cmd.Context(), cmd.ErrOrStderr(), "cancelling scan")
	defer cancel()

	var devices map[string]scanner.Discovery
	if scanWatch {
		devices, err = watchScan(ctx, s, opts, cmd.OutOrStdout(), logger)
	} else {
		progress := NewCountdownProgressPrinter(cmd.ErrOrStderr(), "Scanning for BLE devices", "Scanning", duration, "Processing results", "Failed")
		progress.Start()
		devices, err = s.Scan(ctx, opts, progress.Callback())
		progress.Stop()
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.WithError(err).Error("Scan failed")
		return err
	}

	return displayDevices(cmd.OutOrStdout(), devices, format)
}

// watchScan prints every newly discovered device while the scan runs.
func watchScan(ctx context.Context, s *scanner.Scanner, opts *scanner.ScanOptions, w io.Writer, logger *logrus.Logger) (map[string]scanner.Discovery, error) {
	type result struct {
		devices map[string]scanner.Discovery
		err     error
	}
	done := make(chan result, 1)
	go func() {
		devices, err := s.Scan(ctx, opts, nil)
		done <- result{devices, err}
	}()

	printNew := func() {
		for _, ev := range s.Events() {
			if ev.Type != scanner.EventNew {
				continue
			}
			d := ev.Discovery
			fmt.Fprintf(w, "%s  %-20s %-10s %d dBm\n", d.Address, d.Name, d.Resolution.Class, d.RSSI)
		}
	}

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case r := <-done:
			printNew()
			if n := s.Overwritten(); n > 0 {
				logger.WithField("dropped", n).Debug("Discovery events overwritten before display")
			}
			return r.devices, r.err
		case <-ticker.C:
			printNew()
		}
	}
}

func displayDevices(w io.Writer, devices map[string]scanner.Discovery, format string) error {
	entries := make([]scanEntry, 0, len(devices))
	for _, d := range devices {
		entries = append(entries, scanEntry{
			Address:     d.Address,
			Name:        d.Name,
			RSSI:        d.RSSI,
			Connectable: d.Connectable,
			Class:       d.Resolution.Class.String(),
			Product:     d.Resolution.Identity.ProductName,
			Maker:       d.Manufacturer,
			Services:    d.Services,
			LastSeen:    d.LastSeen,
		})
	}
	// supported appliances first, then by signal strength
	sort.Slice(entries, func(i, j int) bool {
		ki, kj := entries[i].Class != "generic", entries[j].Class != "generic"
		if ki != kj {
			return ki
		}
		if entries[i].RSSI != entries[j].RSSI {
			return entries[i].RSSI > entries[j].RSSI
		}
		return entries[i].Address < entries[j].Address
	})

	if format == "json" {
		return writeJSON(w, entries)
	}
	if len(entries) == 0 {
		fmt.Fprintln(w, "No devices discovered")
		return nil
	}

	tw := newTable(w)
	fmt.Fprintln(tw, "NAME\tADDRESS\tRSSI\tCLASS\tSERVICES")
	for _, e := range entries {
		name := e.Name
		if len(name) > 20 {
			name = name[:17] + "..."
		}
		labels := make([]string, len(e.Services))
		for i, u := range e.Services {
			labels[i] = device.ServiceLabel(u)
		}
		services := strings.Join(labels, ",")
		if len(services) > 30 {
			services = services[:27] + "..."
		}
		fmt.Fprintf(tw, "%s\t%s\t%d dBm\t%s\t%s\n", name, e.Address, e.RSSI, e.Class, services)
	}
	return tw.Flush()
}

// signalContext is cancelled on Ctrl+C or SIGTERM.
func signalContext(parent context.Context, w io.Writer, action string) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			fmt.Fprintf(w, "\nCtrl+C pressed, %s...\n", action)
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, func() {
		signal.Stop(sigCh)
		cancel()
	}
}
