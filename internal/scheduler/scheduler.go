// Package scheduler implements the periodic preview-frame scheduler (C4):
// a ticker-driven loop that invokes the caller-supplied submitter once
// per tick; the submitter itself checks, under the filter lock, whether
// an injected preview transaction may be submitted. Thread pinning and CPU affinity mirror the
// queue runner's dedicated-OS-thread pattern, since the kernel-adjacent
// USB host controller driver this filter sits above expects submissions
// to originate from a single consistent thread per device.
package scheduler

import (
	"context"
	"runtime"
	"time"

	"golang.org/x/sys/unix"

	"github.com/ptpfilter/ptpfilter/internal/interfaces"
)

// Submitter is asked, once per tick, to submit an injected preview
// transaction. It returns false if the filter was not eligible when
// examined under lock (not an error — just nothing to do this tick).
type Submitter interface {
	SubmitPreview(ctx context.Context) (submitted bool, err error)
}

// Config configures tick rate and thread placement.
type Config struct {
	FPS         int
	CPUAffinity []int
}

// interval converts FPS to a ticker period, defaulting to 10fps.
func (c Config) interval() time.Duration {
	fps := c.FPS
	if fps <= 0 {
		fps = 10
	}
	return time.Second / time.Duration(fps)
}

// Scheduler drives the tick loop for one attached device.
type Scheduler struct {
	cfg       Config
	submitter Submitter
	logger    interfaces.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a scheduler bound to parent ctx. Start must be called to
// begin ticking.
func New(ctx context.Context, cfg Config, submitter Submitter, logger interfaces.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(ctx)
	return &Scheduler{
		cfg:       cfg,
		submitter: submitter,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

// Start launches the tick loop in its own goroutine, pinned to an OS
// thread for the lifetime of the scheduler.
func (s *Scheduler) Start() {
	go s.loop()
}

// Stop cancels the tick loop and waits for it to exit.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.done
}

func (s *Scheduler) loop() {
	defer close(s.done)

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if len(s.cfg.CPUAffinity) > 0 {
		var mask unix.CPUSet
		for _, cpu := range s.cfg.CPUAffinity {
			mask.Set(cpu)
		}
		if err := unix.SchedSetaffinity(0, &mask); err != nil && s.logger != nil {
			s.logger.Warnf("scheduler: failed to set CPU affinity: %v", err)
		}
	}

	ticker := time.NewTicker(s.cfg.interval())
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			submitted, err := s.submitter.SubmitPreview(s.ctx)
			if err != nil && s.logger != nil {
				s.logger.Warnf("scheduler: submit preview failed: %v", err)
			}
			if submitted && s.logger != nil {
				s.logger.Debugf("scheduler: tick submitted preview")
			}
		}
	}
}
