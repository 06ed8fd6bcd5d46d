package pdu

// Standard PTP operation codes the filter inspects directly. The full
// opcode space is vendor- and device-specific; the filter only special-cases
// session bracketing and the configured preview opcode.
const (
	OpGetDeviceInfo Code = 0x1001
	OpOpenSession   Code = 0x1002
	OpCloseSession  Code = 0x1003
)

// Code is a PTP operation or response code (the 16-bit "code" header field
// means different things depending on Type, but shares one wire size).
type Code = uint16

// ResponseOK is the PTP "OK" response code; any other response code on an
// injected preview transaction is treated as a protocol-level failure.
const ResponseOK Code = 0x2001

// CanonGetViewFinderData is the Canon EOS vendor-extension opcode for
// fetching one viewfinder (preview) frame. Other vendor families register
// their own preview opcode via dispatcher.RegisterPreviewOpcode; this is
// the only one this
// repository ships a default for.
const CanonGetViewFinderData Code = 0x9153
