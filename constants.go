package ptpfilter

import "github.com/ptpfilter/ptpfilter/internal/config"

// Re-exported tunable defaults for the public API.
const (
	DefaultFPS              = config.DefaultFPS
	DefaultBufferCount      = config.DefaultBufferCount
	DefaultFrameBufferMax   = config.DefaultFrameBufferMax
	DefaultFreeCarrierCount = config.DefaultFreeCarrierCount
	LowWatermarkPackets     = config.LowWatermarkPackets
)
