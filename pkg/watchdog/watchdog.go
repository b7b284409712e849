// Package watchdog observes the receiver pipeline's per-read outcomes and
// raises Abort once it's clear the pipeline has stopped making useful
// progress: either no playback at all, or playback so choppy it might as
// well be none.
package watchdog

import (
	"time"

	"rocpipe/pkg/config"
	"rocpipe/pkg/frame"
	"rocpipe/pkg/status"
)

// event is one recorded Observe outcome.
type event struct {
	at     time.Time
	choppy bool
}

// Watchdog is not itself a FrameReader: it's a side observer a pipeline
// driver calls once per Read with that Read's own outcome, the same
// "watch, don't wrap" relationship LatencyMonitor has to Depacketizer and
// ResamplerReader.
type Watchdog struct {
	cfg   config.WatchdogConfig
	start time.Time

	lastGood time.Time

	history []event // ring buffer bounded by cfg.FrameStatusWindow
	head    int
	filled  int
}

// New constructs a Watchdog. now is the pipeline's start time, the anchor
// WarmupDuration is measured from.
func New(cfg config.WatchdogConfig, now time.Time) *Watchdog {
	n := cfg.FrameStatusWindow
	if n <= 0 {
		n = 1
	}
	return &Watchdog{
		cfg:      cfg,
		start:    now,
		lastGood: now,
		history:  make([]event, n),
	}
}

// Observe records the outcome of one pipeline read at time now and
// returns status.Abort once either timeout has tripped, else status.OK.
// A read counts as choppy if it didn't fully deliver HasSignal samples:
// Drain/Part/any HasGaps/NotComplete flag, or a fatal status.
func (w *Watchdog) Observe(code status.Code, flags frame.Flags, now time.Time) status.Code {
	if now.Sub(w.start) < w.cfg.WarmupDuration {
		w.lastGood = now
		w.record(event{at: now, choppy: false})
		return status.OK
	}

	choppy := status.IsFatal(code) ||
		code == status.Drain || code == status.Part ||
		flags&(frame.HasGaps|frame.NotComplete) != 0
	w.record(event{at: now, choppy: choppy})
	if !choppy {
		w.lastGood = now
	}

	if w.cfg.NoPlaybackTimeout > 0 && now.Sub(w.lastGood) >= w.cfg.NoPlaybackTimeout {
		return status.Abort
	}
	if w.cfg.ChoppyPlaybackTimeout > 0 && w.cfg.ChoppyPlaybackWindow > 0 &&
		w.choppyDurationWithin(w.cfg.ChoppyPlaybackWindow, now) >= w.cfg.ChoppyPlaybackTimeout {
		return status.Abort
	}
	return status.OK
}

func (w *Watchdog) record(e event) {
	w.history[w.head] = e
	w.head = (w.head + 1) % len(w.history)
	if w.filled < len(w.history) {
		w.filled++
	}
}

// choppyDurationWithin sums the elapsed time covered by consecutive choppy
// events within the trailing window ending at now, walking the ring
// buffer from most to least recent. It stops at the first non-choppy
// event or once it falls outside window, whichever comes first — the
// same "continuous streak" semantics as ChoppyPlaybackTimeout alone, but
// bounded to events still within window so a streak that started long
// ago and window has since rolled past doesn't count forever.
func (w *Watchdog) choppyDurationWithin(window time.Duration, now time.Time) time.Duration {
	if w.filled == 0 {
		return 0
	}
	cutoff := now.Add(-window)
	idx := (w.head - 1 + len(w.history)) % len(w.history)
	var earliest time.Time
	found := false
	for i := 0; i < w.filled; i++ {
		e := w.history[idx]
		if !e.choppy || e.at.Before(cutoff) {
			break
		}
		earliest = e.at
		found = true
		idx = (idx - 1 + len(w.history)) % len(w.history)
	}
	if !found {
		return 0
	}
	return now.Sub(earliest)
}

// ChoppyFraction reports the fraction of the last FrameStatusWindow
// recorded reads that were choppy, for logging/diagnostics.
func (w *Watchdog) ChoppyFraction() float64 {
	if w.filled == 0 {
		return 0
	}
	n := 0
	for i := 0; i < w.filled; i++ {
		if w.history[i].choppy {
			n++
		}
	}
	return float64(n) / float64(w.filled)
}

func (w *Watchdog) String() string {
	if w.ChoppyFraction() == 0 {
		return "watchdog(healthy)"
	}
	return "watchdog(choppy)"
}
