package dispatcher

import "github.com/ptpfilter/ptpfilter/internal/pdu"

// VendorExtensionID identifies a PTP vendor extension, used both to look
// up the preview opcode and to decide whether the (disabled-by-default)
// GetDeviceInfo interception path is needed at all.
type VendorExtensionID uint32

const (
	VendorExtensionNone  VendorExtensionID = 0
	VendorExtensionCanon VendorExtensionID = 0x0000000b
)

// Capability flags, mirroring the source's compile-time model table
// flags field.
type Capability uint32

const (
	CapPTP        Capability = 1 << 0
	CapPTPPreview Capability = 1 << 1
)

// ModelEntry is one row of the compile-time device/vendor table. Probe
// matches (VendorID, ProductID) and, on a hit, pre-populates
// VendorExtensionID and skips GetDeviceInfo interception.
type ModelEntry struct {
	VendorID               uint16
	ProductID              uint16
	StandardVersion        uint16
	VendorExtensionID      VendorExtensionID
	VendorExtensionVersion uint16
	Flags                  Capability
}

// DefaultModels is the built-in model table. The Canon EOS 650D entry is
// grounded directly on the source's models[] row; the siblings are
// documented-extension entries sharing the same vendor extension and
// preview opcode (Canon's EOS line shares GetViewFinderData across
// bodies of this generation).
var DefaultModels = []ModelEntry{
	{VendorID: 0x04a9, ProductID: 0x323b, StandardVersion: 100, VendorExtensionID: VendorExtensionCanon, VendorExtensionVersion: 100, Flags: CapPTP | CapPTPPreview}, // Canon EOS 650D
	{VendorID: 0x04a9, ProductID: 0x3270, StandardVersion: 100, VendorExtensionID: VendorExtensionCanon, VendorExtensionVersion: 100, Flags: CapPTP | CapPTPPreview}, // Canon EOS 600D
	{VendorID: 0x04a9, ProductID: 0x3292, StandardVersion: 100, VendorExtensionID: VendorExtensionCanon, VendorExtensionVersion: 100, Flags: CapPTP | CapPTPPreview}, // Canon EOS 60D
	{VendorID: 0x04a9, ProductID: 0x3146, StandardVersion: 100, VendorExtensionID: VendorExtensionCanon, VendorExtensionVersion: 100, Flags: CapPTP | CapPTPPreview}, // Canon EOS 5D Mark III
	{VendorID: 0x04a9, ProductID: 0x3327, StandardVersion: 100, VendorExtensionID: VendorExtensionCanon, VendorExtensionVersion: 100, Flags: CapPTP | CapPTPPreview}, // Canon EOS 70D
	{VendorID: 0x04a9, ProductID: 0x3302, StandardVersion: 100, VendorExtensionID: VendorExtensionCanon, VendorExtensionVersion: 100, Flags: CapPTP | CapPTPPreview}, // Canon EOS 7D Mark II
}

// LookupModel returns the model table row matching (vendorID, productID),
// or ok=false if the device is not in the table.
func LookupModel(vendorID, productID uint16) (ModelEntry, bool) {
	for _, m := range DefaultModels {
		if m.VendorID == vendorID && m.ProductID == productID {
			return m, true
		}
	}
	return ModelEntry{}, false
}

// previewOpcodes maps a vendor extension to its preview-frame opcode.
// Other vendor families register here as a documented extension point;
// only Canon ships a default.
var previewOpcodes = map[VendorExtensionID]pdu.Code{
	VendorExtensionCanon: pdu.CanonGetViewFinderData,
}

// PreviewOpcodeFor returns the preview opcode for a vendor extension, or
// ok=false if the extension has no registered preview opcode.
func PreviewOpcodeFor(ext VendorExtensionID) (pdu.Code, bool) {
	op, ok := previewOpcodes[ext]
	return op, ok
}

// RegisterPreviewOpcode adds or overrides the preview opcode for a
// vendor extension — the documented extension point for additional
// vendor families.
func RegisterPreviewOpcode(ext VendorExtensionID, opcode pdu.Code) {
	previewOpcodes[ext] = opcode
}
