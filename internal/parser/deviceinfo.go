package parser

import "encoding/binary"

// DeviceInfo holds the handful of PTP DeviceInfo dataset fields the
// filter actually inspects. The original fixed-offset struct documents
// that more fields would need a larger minimum-length check; this
// implementation keeps the same restriction rather than growing the
// dataset parse into a general PTP type marshaler.
type DeviceInfo struct {
	StandardVersion        uint16
	VendorExtensionID      uint32
	VendorExtensionVersion uint16
}

// Field byte offsets within the DeviceInfo dataset payload (i.e. the
// data-phase bytes immediately following the 12-byte PDU header).
const (
	deviceInfoOffStandardVersion        = 0
	deviceInfoOffVendorExtensionID      = 2
	deviceInfoOffVendorExtensionVersion = 6
	// deviceInfoMinLength is the minimum payload size covering the three
	// fields above; a shorter payload means the data phase hasn't fully
	// arrived yet (or the device sent something unexpectedly small).
	deviceInfoMinLength = 8
)

// ParseDeviceInfo extracts StandardVersion, VendorExtensionID and
// VendorExtensionVersion from a GetDeviceInfo response's data-phase
// payload (payload, not the PDU header). ok is false if payload is too
// short to cover these fields. This is not an error; the dispatcher's
// device-info probe treats it as "no usable vendor extension" and does
// not retry.
func ParseDeviceInfo(payload []byte) (info DeviceInfo, ok bool) {
	if len(payload) < deviceInfoMinLength {
		return DeviceInfo{}, false
	}
	info.StandardVersion = binary.LittleEndian.Uint16(payload[deviceInfoOffStandardVersion:])
	info.VendorExtensionID = binary.LittleEndian.Uint32(payload[deviceInfoOffVendorExtensionID:])
	info.VendorExtensionVersion = binary.LittleEndian.Uint16(payload[deviceInfoOffVendorExtensionVersion:])
	return info, true
}
