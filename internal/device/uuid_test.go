package device_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/lbridge/internal/device"
	"github.com/srg/lbridge/internal/testutils"
)

func TestValidateUUID(t *testing.T) {
	got, err := device.ValidateUUID("0x180D", "2899FE00-C277-48A8-91CB-B29AB0F01AC4")
	require.NoError(t, err)
	assert.Equal(t, []string{"180d", "2899fe00c27748a891cbb29ab0f01ac4"}, got)

	_, err = device.ValidateUUID()
	assert.Error(t, err)

	_, err = device.ValidateUUID("180d", "")
	assert.ErrorContains(t, err, "index 1")

	_, err = device.ValidateUUID("not-a-uuid")
	assert.ErrorContains(t, err, "invalid UUID format")
}

func TestShortenUUID(t *testing.T) {
	assert.Equal(t, "2899fe00", device.ShortenUUID("2899fe00c27748a891cbb29ab0f01ac4"))
	assert.Equal(t, "180d", device.ShortenUUID("180d"))
}

func TestServiceLabel(t *testing.T) {
	tests := []struct {
		uuid     string
		expected string
	}{
		{"180F", "Battery Service"},
		{"0000180d-0000-1000-8000-00805f9b34fb", "Heart Rate"},
		{"2899FE00-C277-48A8-91CB-B29AB0F01AC4", "GrillRight Thermometer"},
		{"6e400001-b5a3-f393-e0a9-e50e24dcca9e", "6e400001"},
		{"181c", "181c"},
		{"zz", "zz"},
	}
	for _, tt := range tests {
		t.Run(tt.uuid, func(t *testing.T) {
			assert.Equal(t, tt.expected, device.ServiceLabel(tt.uuid))
		})
	}
}

func TestAdvertisedServices(t *testing.T) {
	adv := testutils.NewAdvertisementBuilder().
		WithServices("2899FE00-C277-48A8-91CB-B29AB0F01AC4", "0000180f-0000-1000-8000-00805f9b34fb").
		WithOverflowServices("180F").
		WithServiceData("fe9f", []byte{1}).
		Build()

	assert.Equal(t,
		[]string{"2899fe00c27748a891cbb29ab0f01ac4", "180f", "fe9f"},
		device.AdvertisedServices(adv))

	empty := testutils.NewAdvertisementBuilder().Build()
	assert.Empty(t, device.AdvertisedServices(empty))
}
