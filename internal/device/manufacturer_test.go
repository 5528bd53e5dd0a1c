package device_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/srg/lbridge/internal/device"
)

func TestManufacturerName(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		expected string
	}{
		{"known company", []byte{0x4C, 0x00, 0x02, 0x15}, "Apple"},
		{"unknown company", []byte{0xFE, 0xFF, 0x01}, "0xFFFE"},
		{"too short", []byte{0x4C}, ""},
		{"empty", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, device.ManufacturerName(tt.data))
		})
	}
}

func TestCompanyID(t *testing.T) {
	id, ok := device.CompanyID([]byte{0x59, 0x00})
	assert.True(t, ok)
	assert.Equal(t, uint16(0x0059), id)
}
