package netio

import (
	"sync/atomic"

	"github.com/frostbyte73/core"
	prtp "github.com/pion/rtp"

	"rocpipe/pkg/frame"
	"rocpipe/pkg/reader"
	"rocpipe/pkg/state"
	"rocpipe/pkg/status"
)

// Depacketizer is the bottom of a receiver pipeline: it turns RTP packets
// handed off by the network thread into frames, marking lost packets as
// HasGaps rather than dropping them silently. Reordering, FEC recovery, and
// jitter-buffer delay are the SortedQueue's job upstream of this; by the
// time a Packet reaches Push, the core treats it as already in order.
//
// Push runs on the network thread; Read runs on the pipeline thread. The
// handoff between them is a buffered channel, which already gives the
// lock-free MPSC semantics this boundary needs.
type Depacketizer struct {
	spec            frame.SampleSpec
	samplesPerFrame int
	tracker         *state.Tracker

	haveLast atomic.Bool
	lastSeq  atomic.Uint32
	lastTS   atomic.Uint32

	queue  chan *frame.Frame
	closed core.Fuse // Push side: no more packets will ever arrive

	leftover    []byte
	leftoverCTS int64
	leftoverGap bool
}

// New constructs a Depacketizer for RTP streams carrying samplesPerFrame
// samples-per-channel per packet, at spec (payloads are Raw/PCM bytes
// already in spec's format — codec decode is explicitly out of scope).
// queueDepth bounds how many packets may be buffered between Push and Read
// before Push blocks; tracker may be nil.
func New(spec frame.SampleSpec, samplesPerFrame, queueDepth int, tracker *state.Tracker) *Depacketizer {
	return &Depacketizer{
		spec:            spec,
		samplesPerFrame: samplesPerFrame,
		tracker:         tracker,
		queue:           make(chan *frame.Frame, queueDepth),
		closed:          core.Fuse{},
	}
}

// Push parses one RTP packet and enqueues the frame(s) it produces: a
// HasGaps filler frame for any packets lost since the last one seen, then
// the HasSignal frame carrying pkt's own payload. Blocks if the queue is
// full, applying backpressure to the network thread rather than dropping
// (dropping under jitter policy is the SortedQueue's responsibility, not
// this one's).
func (d *Depacketizer) Push(pkt Packet) status.Code {
	var rp prtp.Packet
	if err := rp.Unmarshal(pkt.Payload); err != nil {
		return status.ErrFile
	}

	if d.tracker != nil {
		d.tracker.RegisterPacket()
	}

	if d.haveLast.Load() {
		// Packets arrive already in order (the SortedQueue's job, upstream
		// of this); a sequence number ahead of lastSeq+1 means that many
		// packets were lost and never will arrive.
		lastSeq := uint16(d.lastSeq.Load())
		missed := int(rp.SequenceNumber - (lastSeq + 1))
		for i := 0; i < missed; i++ {
			d.enqueue(d.gapFrame())
		}
	}
	d.haveLast.Store(true)
	d.lastSeq.Store(uint32(rp.SequenceNumber))
	d.lastTS.Store(rp.Timestamp)

	fr := &frame.Frame{
		Spec:             d.spec,
		Buf:              append([]byte(nil), rp.Payload...),
		Duration:         d.spec.BytesToSamples(len(rp.Payload)),
		CaptureTimestamp: pkt.RecvTimestampNs,
		Flags:            frame.HasSignal,
	}
	d.enqueue(fr)
	return status.OK
}

func (d *Depacketizer) gapFrame() *frame.Frame {
	return &frame.Frame{
		Spec:     d.spec,
		Buf:      make([]byte, d.spec.SamplesToBytes(d.samplesPerFrame)),
		Duration: d.samplesPerFrame,
		Flags:    frame.HasGaps,
	}
}

func (d *Depacketizer) enqueue(fr *frame.Frame) {
	d.queue <- fr
}

// Close signals that no further packets will be pushed; outstanding
// buffered frames still drain normally, and Read returns Finish once they
// do. Idempotent.
func (d *Depacketizer) Close() status.Code {
	d.closed.Break()
	return status.OK
}

// Read implements reader.FrameReader. In Hard mode it blocks until at
// least one queued frame is available or the depacketizer is closed and
// drained; once it holds some data it takes only what is already queued
// and returns Part if that falls short of requestedDuration. In Soft mode
// it returns Drain immediately rather than blocking on an empty,
// still-open queue.
func (d *Depacketizer) Read(fr *frame.Frame, requestedDuration int, mode status.Mode) status.Code {
	fr.Spec = d.spec
	need := d.spec.SamplesToBytes(requestedDuration)
	fr.EnsureCapacity(need)

	got := 0
	firstCTS := int64(0)
	gotGap, gotSignal := false, false

	for got < need {
		if len(d.leftover) > 0 {
			n := copy(fr.Buf[got:need], d.leftover)
			if got == 0 {
				firstCTS = d.leftoverCTS
			}
			if d.leftoverGap {
				gotGap = true
			} else {
				gotSignal = true
			}
			got += n
			if n == len(d.leftover) {
				d.leftover = nil
			} else {
				d.leftover = d.leftover[n:]
				if d.leftoverCTS != 0 {
					d.leftoverCTS += d.spec.SamplesToNs(d.spec.BytesToSamples(n))
				}
			}
			continue
		}

		next, code := d.pull(mode, got > 0)
		if next == nil {
			if got > 0 {
				break
			}
			return code
		}
		if d.tracker != nil {
			d.tracker.UnregisterPacket()
		}
		isGap := next.Flags&frame.HasGaps != 0
		if (isGap && gotSignal) || (!isGap && gotGap) {
			// Enforce the partition invariant: never mix HasSignal and
			// HasGaps in one frame. Stash this frame for the next call and
			// stop here with what's gathered so far.
			d.leftover = next.Buf
			d.leftoverCTS = next.CaptureTimestamp
			d.leftoverGap = isGap
			break
		}
		if got == 0 {
			firstCTS = next.CaptureTimestamp
		}
		if isGap {
			gotGap = true
		} else {
			gotSignal = true
		}
		n := copy(fr.Buf[got:need], next.Buf)
		got += n
		if n < len(next.Buf) {
			d.leftover = next.Buf[n:]
			d.leftoverCTS = next.CaptureTimestamp
			if next.CaptureTimestamp != 0 {
				d.leftoverCTS += d.spec.SamplesToNs(d.spec.BytesToSamples(n))
			}
			d.leftoverGap = isGap
		}
	}

	fr.Duration = d.spec.BytesToSamples(got)
	fr.CaptureTimestamp = firstCTS
	switch {
	case gotGap:
		fr.Flags = frame.HasGaps
	default:
		fr.Flags = frame.HasSignal
	}
	if fr.Duration == 0 {
		return status.Finish
	}
	if fr.Duration < requestedDuration {
		fr.Flags |= frame.NotComplete
		return status.Part
	}
	return status.OK
}

// pull fetches the next queued frame, blocking in Hard mode (unless
// already holding some data, in which case a non-blocking peek is enough:
// a partial frame is always an acceptable result) and never blocking in
// Soft mode.
func (d *Depacketizer) pull(mode status.Mode, haveSome bool) (*frame.Frame, status.Code) {
	if mode == status.Soft || haveSome {
		select {
		case fr := <-d.queue:
			return fr, status.OK
		default:
		}
		if d.closed.IsBroken() {
			return nil, status.Finish
		}
		return nil, status.Drain
	}
	select {
	case fr := <-d.queue:
		return fr, status.OK
	case <-d.closed.Watch():
		select {
		case fr := <-d.queue:
			return fr, status.OK
		default:
			return nil, status.Finish
		}
	}
}

var _ reader.FrameReader = (*Depacketizer)(nil)
