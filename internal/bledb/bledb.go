// Package bledb normalizes BLE UUIDs and names the services and characteristics the
// bridge knows about. Lookups accept any common UUID spelling.
package bledb

import "strings"

// Bluetooth SIG base UUID around the 16-bit slot.
const (
	sigPrefix = "0000"
	sigSuffix = "00001000800000805f9b34fb"
)

var services = map[string]string{
	"1800":                             "Generic Access",
	"1801":                             "Generic Attribute",
	"180a":                             "Device Information",
	"180d":                             "Heart Rate",
	"180f":                             "Battery Service",
	"2899fe00c27748a891cbb29ab0f01ac4": "GrillRight Thermometer",
}

var characteristics = map[string]string{
	"2a00":                             "Device Name",
	"2a19":                             "Battery Level",
	"2a24":                             "Model Number String",
	"2a26":                             "Firmware Revision String",
	"2a29":                             "Manufacturer Name String",
	"2a37":                             "Heart Rate Measurement",
	"28998e03c27748a891cbb29ab0f01ac4": "GrillRight Probe 1",
	"28998e04c27748a891cbb29ab0f01ac4": "GrillRight Probe 2",
	"28998e10c27748a891cbb29ab0f01ac4": "GrillRight Control",
}

// NormalizeUUID lowercases a UUID and strips "0x", braces and dashes. UUIDs on the
// SIG base collapse to their 16-bit form. Input with non-hex characters yields "".
func NormalizeUUID(uuid string) string {
	u := strings.ToLower(strings.TrimSpace(uuid))
	u = strings.TrimPrefix(u, "0x")
	u = strings.Trim(u, "{}")
	u = strings.ReplaceAll(u, "-", "")
	for _, r := range u {
		if !(r >= '0' && r <= '9' || r >= 'a' && r <= 'f') {
			return ""
		}
	}
	if len(u) == 32 && strings.HasPrefix(u, sigPrefix) && strings.HasSuffix(u, sigSuffix) {
		return u[4:8]
	}
	return u
}

// NormalizeUUIDs normalizes every UUID of a slice.
func NormalizeUUIDs(uuids []string) []string {
	out := make([]string, len(uuids))
	for i, u := range uuids {
		out[i] = NormalizeUUID(u)
	}
	return out
}

// LookupService returns the known name of a service, or "".
func LookupService(uuid string) string {
	return services[NormalizeUUID(uuid)]
}

// LookupCharacteristic returns the known name of a characteristic, or "".
func LookupCharacteristic(uuid string) string {
	return characteristics[NormalizeUUID(uuid)]
}
