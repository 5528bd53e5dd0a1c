package device

import (
	"encoding/binary"
	"fmt"
)

// knownCompanies maps Bluetooth SIG company identifiers seen on kitchen and
// sensor peripherals to a display name.
var knownCompanies = map[uint16]string{
	0x0006: "Microsoft",
	0x004C: "Apple",
	0x0059: "Nordic Semiconductor",
	0x0075: "Samsung",
	0x00E0: "Google",
	0x0131: "Cypress Semiconductor",
	0x02E5: "Espressif",
	0x0157: "Anhui Huami",
}

// CompanyID extracts the company identifier that opens manufacturer-specific data
// (first 2 bytes, little-endian).
func CompanyID(data []byte) (uint16, bool) {
	if len(data) < 2 {
		return 0, false
	}
	return binary.LittleEndian.Uint16(data[:2]), true
}

// ManufacturerName names the company behind manufacturer data. Unknown companies
// are rendered by their identifier, empty data gives "".
func ManufacturerName(data []byte) string {
	id, ok := CompanyID(data)
	if !ok {
		return ""
	}
	if name, known := knownCompanies[id]; known {
		return name
	}
	return fmt.Sprintf("0x%04X", id)
}
