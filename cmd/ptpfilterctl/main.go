// Command ptpfilterctl attaches a preview filter to a simulated PTP
// camera and prints frame-throughput metrics until interrupted. It
// exists to exercise the public API end to end without a real USB/IP
// stub and host controller, which this module does not provide.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"syscall"
	"time"

	"github.com/ptpfilter/ptpfilter"
	"github.com/ptpfilter/ptpfilter/internal/logging"
	"github.com/ptpfilter/ptpfilter/internal/pdu"
)

func main() {
	var (
		vendorID  = flag.Uint("vendor", 0x04a9, "USB vendor ID (default: Canon)")
		productID = flag.Uint("product", 0x323b, "USB product ID (default: EOS 650D)")
		fps       = flag.Int("fps", ptpfilter.DefaultFPS, "preview target frames per second")
		verbose   = flag.Bool("v", false, "verbose output")
	)
	flag.Parse()

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	transport := ptpfilter.NewMockTransport(uint16(pdu.CanonGetViewFinderData), samplePreviewPayload())

	params := ptpfilter.DefaultParams(uint16(*vendorID), uint16(*productID))
	params.FPS = *fps

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	filter, err := ptpfilter.Attach(ctx, transport, params, &ptpfilter.Options{Logger: logger})
	if err != nil {
		logger.Error("failed to attach filter", "error", err)
		os.Exit(1)
	}
	defer func() {
		logger.Info("detaching filter")
		if err := ptpfilter.Detach(filter); err != nil {
			logger.Error("error detaching filter", "error", err)
		}
	}()

	logger.Info("filter attached", "vendor", fmt.Sprintf("0x%04x", *vendorID), "product", fmt.Sprintf("0x%04x", *productID), "fps", *fps)
	fmt.Printf("Filter attached: state=%s fps=%d\n", filter.State(), *fps)
	fmt.Printf("Press Ctrl+C to stop...\n")
	fmt.Printf("Send SIGUSR1 (kill -USR1 %d) to dump goroutine stacks\n", os.Getpid())

	go reportMetrics(ctx, filter, logger)

	stackDumpCh := make(chan os.Signal, 1)
	signal.Notify(stackDumpCh, syscall.SIGUSR1)
	go func() {
		for range stackDumpCh {
			buf := make([]byte, 1<<20)
			n := runtime.Stack(buf, true)
			fmt.Fprintf(os.Stderr, "\n=== GOROUTINE STACK DUMP ===\n%s\n", buf[:n])
			pprof.Lookup("goroutine").WriteTo(os.Stderr, 2)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("received shutdown signal")
	cancel()
}

func reportMetrics(ctx context.Context, filter *ptpfilter.Filter, logger *logging.Logger) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := filter.MetricsSnapshot()
			logger.Info("filter stats",
				"state", filter.State(),
				"produced", snap.FramesProduced,
				"served", snap.FramesServed,
				"dropped", snap.FramesDropped,
				"produced_fps", fmt.Sprintf("%.1f", snap.ProducedFPS),
				"p99_ns", snap.ProduceLatencyP99Ns)
		}
	}
}

func samplePreviewPayload() []byte {
	// A minimal placeholder JPEG-shaped payload: SOI and EOI markers
	// bracketing filler bytes, large enough to exercise multi-packet
	// frame assembly at the simulator's 512-byte wMaxPacketSize.
	payload := make([]byte, 2048)
	payload[0], payload[1] = 0xff, 0xd8
	payload[len(payload)-2], payload[len(payload)-1] = 0xff, 0xd9
	return payload
}
