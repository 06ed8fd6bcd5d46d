package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type countingSubmitter struct {
	calls int32
}

func (c *countingSubmitter) SubmitPreview(ctx context.Context) (bool, error) {
	atomic.AddInt32(&c.calls, 1)
	return true, nil
}

func TestSchedulerTicksAndStops(t *testing.T) {
	sub := &countingSubmitter{}
	s := New(context.Background(), Config{FPS: 200}, sub, nil)
	s.Start()

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&sub.calls) >= 3
	}, time.Second, time.Millisecond)

	s.Stop()
	calls := atomic.LoadInt32(&sub.calls)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, calls, atomic.LoadInt32(&sub.calls), "no ticks should fire after Stop")
}

func TestConfigIntervalDefaultsTo10FPS(t *testing.T) {
	var cfg Config
	require.Equal(t, 100*time.Millisecond, cfg.interval())
}
