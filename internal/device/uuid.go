package device

import (
	"fmt"

	"github.com/srg/lbridge/internal/bledb"
)

// NormalizeUUID is re-exported from bledb for convenience.
func NormalizeUUID(uuid string) string {
	return bledb.NormalizeUUID(uuid)
}

// NormalizeUUIDs is re-exported from bledb for convenience.
func NormalizeUUIDs(uuids []string) []string {
	return bledb.NormalizeUUIDs(uuids)
}

// ShortenUUID returns the first eight characters of a long UUID for display.
func ShortenUUID(uuid string) string {
	if len(uuid) > 8 {
		return uuid[:8]
	}
	return uuid
}

// ServiceLabel names a service for display: its known name, otherwise the
// shortened normalized UUID.
func ServiceLabel(uuid string) string {
	if name := bledb.LookupService(uuid); name != "" {
		return name
	}
	if n := NormalizeUUID(uuid); n != "" {
		return ShortenUUID(n)
	}
	return uuid
}

// ValidateUUID normalizes uuids, failing on the first empty or malformed one.
func ValidateUUID(uuids ...string) ([]string, error) {
	if len(uuids) == 0 {
		return nil, fmt.Errorf("at least one UUID is required")
	}

	result := make([]string, 0, len(uuids))
	for i, uuid := range uuids {
		if uuid == "" {
			return nil, fmt.Errorf("UUID at index %d cannot be empty", i)
		}
		normalized := NormalizeUUID(uuid)
		if normalized == "" {
			return nil, fmt.Errorf("invalid UUID format at index %d: %s", i, uuid)
		}
		result = append(result, normalized)
	}
	return result, nil
}
