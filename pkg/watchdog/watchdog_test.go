package watchdog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"rocpipe/pkg/config"
	"rocpipe/pkg/frame"
	"rocpipe/pkg/status"
)

func testCfg() config.WatchdogConfig {
	return config.WatchdogConfig{
		NoPlaybackTimeout:     200 * time.Millisecond,
		ChoppyPlaybackTimeout: 100 * time.Millisecond,
		ChoppyPlaybackWindow:  150 * time.Millisecond,
		WarmupDuration:        0,
		FrameStatusWindow:     16,
	}
}

func TestWatchdog_HealthyNeverAborts(t *testing.T) {
	start := time.Unix(0, 0)
	w := New(testCfg(), start)
	now := start
	for i := 0; i < 50; i++ {
		now = now.Add(10 * time.Millisecond)
		code := w.Observe(status.OK, frame.HasSignal, now)
		require.Equal(t, status.OK, code)
	}
}

func TestWatchdog_NoPlaybackTimeoutAborts(t *testing.T) {
	cfg := testCfg()
	cfg.ChoppyPlaybackTimeout = 0 // isolate the no-playback path
	start := time.Unix(0, 0)
	w := New(cfg, start)
	now := start

	var last status.Code
	for i := 0; i < 30; i++ {
		now = now.Add(10 * time.Millisecond)
		last = w.Observe(status.Drain, 0, now)
		if last == status.Abort {
			break
		}
	}
	require.Equal(t, status.Abort, last)
}

func TestWatchdog_ChoppyStreakAborts(t *testing.T) {
	start := time.Unix(0, 0)
	w := New(testCfg(), start)
	now := start

	var last status.Code
	for i := 0; i < 30; i++ {
		now = now.Add(10 * time.Millisecond)
		// Part never updates lastGood, only a fully-clean HasSignal read
		// does, so the choppy-streak path trips well before the
		// no-playback timeout would.
		last = w.Observe(status.Part, frame.HasSignal|frame.NotComplete, now)
		if last == status.Abort {
			break
		}
	}
	require.Equal(t, status.Abort, last)
}

func TestWatchdog_WarmupSuppressesAbort(t *testing.T) {
	cfg := testCfg()
	cfg.WarmupDuration = 500 * time.Millisecond
	start := time.Unix(0, 0)
	w := New(cfg, start)
	now := start
	for i := 0; i < 30; i++ {
		now = now.Add(10 * time.Millisecond)
		code := w.Observe(status.Drain, 0, now)
		require.Equal(t, status.OK, code)
	}
}

// A choppy streak just short of the abort threshold, interrupted by one
// clean read, must not carry over: the same number of further choppy
// reads afterward shouldn't trip immediately just because the cumulative
// choppy time since the original streak's start exceeds the threshold.
func TestWatchdog_RecoveryResetsChoppyStreak(t *testing.T) {
	start := time.Unix(0, 0)
	w := New(testCfg(), start)
	now := start

	for i := 0; i < 8; i++ {
		now = now.Add(10 * time.Millisecond)
		code := w.Observe(status.Part, frame.HasSignal|frame.NotComplete, now)
		require.Equal(t, status.OK, code)
	}

	now = now.Add(10 * time.Millisecond)
	require.Equal(t, status.OK, w.Observe(status.OK, frame.HasSignal, now))

	now = now.Add(10 * time.Millisecond)
	code := w.Observe(status.Part, frame.HasSignal|frame.NotComplete, now)
	require.Equal(t, status.OK, code, "one choppy read right after recovery must not immediately abort")
}
