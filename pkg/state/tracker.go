// Package state tracks pipeline liveness across the one boundary the
// pipeline shares with a foreign thread: the packet-receiving network
// thread registers/unregisters sessions and packets, and an idle sink
// thread blocks on the aggregate result.
package state

import (
	"sync"
	"time"

	"go.uber.org/atomic"
)

// HaltState overrides the derived Active/Idle state once a pipeline can no
// longer make progress.
type HaltState int32

const (
	// HaltNone means no override is in effect; GetState() derives Active/Idle
	// from the live counters.
	HaltNone HaltState = iota
	Broken
	Closed
)

// PipelineState is the value wait_state callers match against.
type PipelineState int32

const (
	Idle PipelineState = iota
	Active
)

func (s PipelineState) String() string {
	if s == Active {
		return "active"
	}
	return "idle"
}

func (h HaltState) pipelineState() PipelineState {
	switch h {
	case Broken, Closed:
		return Idle
	default:
		return Active
	}
}

// Mask is a bitmask of PipelineState/HaltState values wait_state matches
// against: any bit set in the observed state that is also set in mask is a
// match. Values are small enough to fit comfortably in one bit each.
type Mask uint32

const (
	MaskIdle   Mask = 1 << 0
	MaskActive Mask = 1 << 1
	MaskBroken Mask = 1 << 2
	MaskClosed Mask = 1 << 3
)

// Tracker is a thread-safe summary of pipeline liveness. Its counters are
// lock-free (atomic load/add); register_*/unregister_* signal waiters only
// on a transition that might change the aggregated state, the same
// "only wake on edges, not levels" discipline a condition variable's
// predicate loop relies on.
type Tracker struct {
	activeSessions atomic.Int64
	pendingPackets atomic.Int64
	halt           atomic.Int32

	mu   sync.Mutex
	cond *sync.Cond
}

// New constructs a Tracker in the Idle, un-halted state.
func New() *Tracker {
	t := &Tracker{}
	t.cond = sync.NewCond(&t.mu)
	return t
}

// GetState derives the current aggregate Mask: a halt state (if set)
// overrides the liveness derived from the counters; otherwise Active iff
// active_sessions > 0 or pending_packets > 0, else Idle.
func (t *Tracker) GetState() Mask {
	if h := HaltState(t.halt.Load()); h != HaltNone {
		switch h {
		case Broken:
			return MaskBroken
		case Closed:
			return MaskClosed
		}
	}
	if t.activeSessions.Load() > 0 || t.pendingPackets.Load() > 0 {
		return MaskActive
	}
	return MaskIdle
}

// WaitState blocks until GetState() has a bit in common with mask, or
// deadline passes (zero deadline means wait forever). Returns the state
// observed at wake time and whether it actually matched (false on
// timeout).
func (t *Tracker) WaitState(mask Mask, deadline time.Time) (Mask, bool) {
	if s := t.GetState(); s&mask != 0 {
		return s, true
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for {
		if s := t.GetState(); s&mask != 0 {
			return s, true
		}
		if deadline.IsZero() {
			t.cond.Wait()
			continue
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return t.GetState(), false
		}
		woke := make(chan struct{})
		timer := time.AfterFunc(remaining, func() {
			t.mu.Lock()
			close(woke)
			t.cond.Broadcast()
			t.mu.Unlock()
		})
		t.cond.Wait()
		timer.Stop()
		select {
		case <-woke:
			if s := t.GetState(); s&mask != 0 {
				return s, true
			}
			return t.GetState(), false
		default:
		}
	}
}

func (t *Tracker) signal() {
	t.mu.Lock()
	t.cond.Broadcast()
	t.mu.Unlock()
}

// RegisterSession marks one more session as actively producing signal.
// Wakes waiters only on the 0->1 edge, the only transition that can flip
// the derived state from Idle to Active.
func (t *Tracker) RegisterSession() {
	if t.activeSessions.Inc() == 1 {
		t.signal()
	}
}

// UnregisterSession reverses RegisterSession, waking waiters on the 1->0
// edge (the only one that can flip Active back toward Idle, pending other
// counters).
func (t *Tracker) UnregisterSession() {
	if t.activeSessions.Dec() == 0 {
		t.signal()
	}
}

// RegisterPacket marks one more packet as waiting to be depacketized.
func (t *Tracker) RegisterPacket() {
	if t.pendingPackets.Inc() == 1 {
		t.signal()
	}
}

// UnregisterPacket reverses RegisterPacket.
func (t *Tracker) UnregisterPacket() {
	if t.pendingPackets.Dec() == 0 {
		t.signal()
	}
}

// SetBroken marks the pipeline Broken (a fatal error occurred downstream);
// subsequent GetState calls report MaskBroken regardless of the counters
// until SetHalt(HaltNone) is called.
func (t *Tracker) SetBroken() { t.SetHalt(Broken) }

// SetClosed marks the pipeline Closed (shutdown in progress/complete).
func (t *Tracker) SetClosed() { t.SetHalt(Closed) }

// SetHalt sets the halt override directly and wakes waiters.
func (t *Tracker) SetHalt(h HaltState) {
	t.halt.Store(int32(h))
	t.signal()
}

// ActiveSessions and PendingPackets expose the raw counters for
// diagnostics/logging.
func (t *Tracker) ActiveSessions() int64 { return t.activeSessions.Load() }
func (t *Tracker) PendingPackets() int64 { return t.pendingPackets.Load() }

func (t *Tracker) String() string {
	return t.GetState().String()
}

func (m Mask) String() string {
	switch {
	case m&MaskBroken != 0:
		return "broken"
	case m&MaskClosed != 0:
		return "closed"
	case m&MaskActive != 0:
		return "active"
	default:
		return "idle"
	}
}
