// Package config holds the filter's process-wide tunables: a plain
// const-block of defaults plus a small resolved struct, the same shape
// as a device driver's compile-time module parameters.
package config

// Default tunables.
const (
	// DefaultFPS is the preview target frames per second. Zero is
	// treated the same as the default.
	DefaultFPS = 10

	// DefaultBufferCount is the maximum number of buffered frames
	// before the scheduler stops arming new ticks.
	DefaultBufferCount = 3

	// DefaultFrameBufferMax is the frame cache's maximum size (1 MiB).
	DefaultFrameBufferMax = 1 << 20

	// DefaultAlignShift is the frame-boundary alignment, in bits
	// (1<<6 = 64 bytes). Kept identical to the source; the source
	// assumes cache-line alignment without comment.
	DefaultAlignShift = 6

	// DefaultFreeCarrierCount is the number of pre-allocated injected
	// URB carriers held on the free list.
	DefaultFreeCarrierCount = 2

	// LowWatermarkPackets is a free-space threshold in wMaxPacketSize
	// units (§4.3's "approximately 32 packets"). The producer does not
	// read it: ProduceFrame never drops an already completed frame to
	// make room; a full buffer sends the filter to sleep instead.
	LowWatermarkPackets = 32
)

// Config is the resolved set of tunables for one filter instance.
type Config struct {
	// FPS is the preview target frame rate; 0 is normalized to
	// DefaultFPS by Normalize.
	FPS int

	// BufferCount is the maximum number of buffered frames.
	BufferCount int

	// FrameBufferMax is the frame cache's maximum size in bytes.
	FrameBufferMax int

	// FreeCarrierCount is the number of pre-allocated injected URB
	// carriers.
	FreeCarrierCount int

	// ParseDeviceInfoFallback enables the (disabled-by-default)
	// GetDeviceInfo interception path for devices absent from the model
	// table. See DESIGN.md for why this defaults to false.
	ParseDeviceInfoFallback bool

	// CPUAffinity pins the scheduler's ticking goroutine to the given
	// CPU set. Empty means no pinning.
	CPUAffinity []int
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		FPS:                     DefaultFPS,
		BufferCount:             DefaultBufferCount,
		FrameBufferMax:          DefaultFrameBufferMax,
		FreeCarrierCount:        DefaultFreeCarrierCount,
		ParseDeviceInfoFallback: false,
	}
}

// Normalize fills in defaults for zero-valued fields, matching the
// spec's "zero fps is treated as 10" rule.
func (c *Config) Normalize() {
	if c.FPS <= 0 {
		c.FPS = DefaultFPS
	}
	if c.BufferCount <= 0 {
		c.BufferCount = DefaultBufferCount
	}
	if c.FrameBufferMax <= 0 {
		c.FrameBufferMax = DefaultFrameBufferMax
	}
	if c.FreeCarrierCount <= 0 {
		c.FreeCarrierCount = DefaultFreeCarrierCount
	}
}
