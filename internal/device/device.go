package device

import (
	"context"
)

// ScanningDevice represents a BLE device capable of scanning for advertisements
type ScanningDevice interface {
	Scan(ctx context.Context, allowDup bool, handler func(Advertisement)) error
}

// Advertisement is one received advertising report.
type Advertisement interface {
	LocalName() string
	ManufacturerData() []byte
	ServiceData() []ServiceData

	Services() []string
	OverflowService() []string
	TxPowerLevel() int
	Connectable() bool
	SolicitedService() []string

	RSSI() int
	Addr() string
}

// ServiceData is one service data element of an advertisement.
type ServiceData struct {
	UUID string
	Data []byte
}

// AdvertisedServices returns every service UUID an advertisement names, normalized
// and without duplicates, in the order they appear.
func AdvertisedServices(adv Advertisement) []string {
	seen := map[string]bool{}
	var out []string
	add := func(uuids []string) {
		for _, u := range NormalizeUUIDs(uuids) {
			if u == "" || seen[u] {
				continue
			}
			seen[u] = true
			out = append(out, u)
		}
	}
	add(adv.Services())
	add(adv.OverflowService())
	for _, sd := range adv.ServiceData() {
		add([]string{sd.UUID})
	}
	return out
}
