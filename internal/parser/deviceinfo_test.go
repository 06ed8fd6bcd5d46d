package parser

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseDeviceInfo(t *testing.T) {
	payload := make([]byte, 16)
	binary.LittleEndian.PutUint16(payload[0:], 100)
	binary.LittleEndian.PutUint32(payload[2:], 0x0000000b)
	binary.LittleEndian.PutUint16(payload[6:], 100)

	info, ok := ParseDeviceInfo(payload)
	assert.True(t, ok)
	assert.Equal(t, uint16(100), info.StandardVersion)
	assert.Equal(t, uint32(0x0000000b), info.VendorExtensionID)
	assert.Equal(t, uint16(100), info.VendorExtensionVersion)
}

func TestParseDeviceInfoTooShort(t *testing.T) {
	_, ok := ParseDeviceInfo(make([]byte, 4))
	assert.False(t, ok)
}
