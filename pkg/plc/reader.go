// Package plc hides gaps in an underlying FrameReader using interpolation
// and look-ahead.
package plc

import (
	"rocpipe/pkg/frame"
	"rocpipe/pkg/reader"
	"rocpipe/pkg/status"
)

// Reader adapts an IPlc plugin to the FrameReader contract.
type Reader struct {
	src  reader.FrameReader
	plc  IPlc
	spec frame.SampleSpec

	lookbehindBytes int
	lookaheadBytes  int
	maxFillBytes    int // largest loss this reader will conceal in one call

	history   *ringHistory
	sawSignal bool

	// pending is the look-ahead cache: real signal samples already pulled
	// from src during a previous loss, not yet delivered to the caller.
	pending       []byte
	pendingCTS    int64
	pendingOffset int

	scratch *frame.Frame
}

// New builds a Reader. bufBytes bounds how large a single concealed loss
// may be before the reader must split it via status.Part.
func New(src reader.FrameReader, p IPlc, spec frame.SampleSpec, bufBytes int) *Reader {
	bpfs := spec.BytesPerFrameSample()
	r := &Reader{
		src:             src,
		plc:             p,
		spec:            spec,
		lookbehindBytes: p.LookbehindLen() * bpfs,
		lookaheadBytes:  p.LookaheadLen() * bpfs,
		maxFillBytes:    bufBytes,
	}
	r.history = newRingHistory(r.lookbehindBytes)
	r.scratch = &frame.Frame{Spec: spec}
	return r
}

func (r *Reader) bpfs() int { return r.spec.BytesPerFrameSample() }

// Read fills out with up to requestedDuration samples. The final status is
// always decided here, from out.Duration alone, regardless of which path
// (pending cache, concealed loss, or a plain forwarded frame) produced it:
// short of requestedDuration means status.Part with frame.NotComplete set,
// matching the "frame filled to a smaller duration" FrameReader contract a
// caller can re-issue for the remainder.
func (r *Reader) Read(out *frame.Frame, requestedDuration int, mode status.Mode) status.Code {
	need := requestedDuration
	bpfs := r.bpfs()
	if r.maxFillBytes > 0 && bpfs > 0 {
		if maxSamples := r.maxFillBytes / bpfs; need > maxSamples {
			need = maxSamples
		}
	}
	out.Spec = r.spec

	var code status.Code
	if len(r.pending) > r.pendingOffset {
		code = r.deliverPending(out, need)
	} else {
		code = r.readFromSource(out, need, mode)
	}
	if status.IsFatal(code) || code == status.Drain || code == status.Finish {
		return code
	}

	// History tracks everything handed out, whichever path produced it:
	// forwarded signal, PLC fill, or the look-ahead cache.
	if r.lookbehindBytes > 0 {
		r.history.Write(out.Buf[:out.Duration*bpfs])
	}

	if out.Duration < requestedDuration {
		out.Flags |= frame.NotComplete
		return status.Part
	}
	return status.OK
}

func (r *Reader) readFromSource(out *frame.Frame, need int, mode status.Mode) status.Code {
	bpfs := r.bpfs()
	r.scratch.Spec = r.spec
	r.scratch.EnsureCapacity(need * bpfs)
	code := r.src.Read(r.scratch, need, mode)
	if status.IsFatal(code) || code == status.Drain || code == status.Finish {
		return code
	}

	if r.scratch.Flags&frame.HasGaps != 0 {
		if !r.sawSignal {
			// Initial gap: forward unchanged, PLC is never invoked until
			// the first signal frame arrives.
			copyInto(out, r.scratch)
			return status.OK
		}
		r.concealLoss(out, r.scratch.Duration)
		return status.OK
	}

	// HasSignal: forwarded as-is and fed to the plugin.
	r.sawSignal = true
	r.plc.ProcessHistory(r.scratch)
	copyInto(out, r.scratch)
	return status.OK
}

// concealLoss fills out with an interpolated replacement for a lost frame of
// lostDuration samples, built from ring-buffer history (prev) and a
// best-effort look-ahead (next). It always fills out to exactly
// lostDuration; Read decides Part/OK by comparing against requestedDuration.
func (r *Reader) concealLoss(out *frame.Frame, lostDuration int) {
	bpfs := r.bpfs()

	var prev *frame.Frame
	if r.lookbehindBytes > 0 {
		if pb := r.history.ReadLast(r.lookbehindBytes); pb != nil {
			prev = &frame.Frame{
				Spec:     r.spec,
				Buf:      pb,
				Duration: len(pb) / bpfs,
				Flags:    frame.HasSignal,
			}
		}
	}

	var next *frame.Frame
	var nextBuf []byte
	var nextCTS int64
	if r.lookaheadBytes > 0 {
		nextBuf, nextCTS = r.gatherLookahead()
		if len(nextBuf) > 0 {
			next = &frame.Frame{
				Spec:             r.spec,
				Buf:              nextBuf,
				Duration:         len(nextBuf) / bpfs,
				CaptureTimestamp: nextCTS,
				Flags:            frame.HasSignal,
			}
		}
	}

	lost := &frame.Frame{Spec: r.spec, Buf: make([]byte, lostDuration*bpfs), Duration: lostDuration, Flags: frame.HasGaps}
	r.plc.ProcessLoss(lost, prev, next)

	copyInto(out, lost)

	if len(nextBuf) > 0 {
		r.pending = nextBuf
		r.pendingOffset = 0
		r.pendingCTS = nextCTS
	}
}

// gatherLookahead performs soft reads, concatenating them, until either
// lookaheadBytes have been gathered or a Drain/terminal status is hit
// ("partial soft reads for look-ahead must be concatenated... a
// Drain mid-way means not yet available, and the reader proceeds with
// whatever was gathered").
func (r *Reader) gatherLookahead() ([]byte, int64) {
	bpfs := r.bpfs()
	want := r.lookaheadBytes / bpfs
	if want <= 0 {
		return nil, 0
	}
	out := make([]byte, 0, r.lookaheadBytes)
	var cts int64
	scratch := &frame.Frame{Spec: r.spec}
	for len(out) < r.lookaheadBytes {
		remaining := want - len(out)/bpfs
		scratch.EnsureCapacity(remaining * bpfs)
		code := r.src.Read(scratch, remaining, status.Soft)
		if code == status.Drain || status.IsFatal(code) || code == status.Finish {
			break
		}
		n := scratch.Duration * bpfs
		if n <= 0 {
			break
		}
		if len(out) == 0 {
			cts = scratch.CaptureTimestamp
		}
		out = append(out, scratch.Buf[:n]...)
	}
	if len(out) == 0 {
		return nil, 0
	}
	return out, cts
}

// deliverPending drains the look-ahead cache into out, up to need samples.
// It always returns status.OK; Read decides Part/OK against the caller's
// original requestedDuration.
func (r *Reader) deliverPending(out *frame.Frame, need int) status.Code {
	bpfs := r.bpfs()
	avail := (len(r.pending) - r.pendingOffset) / bpfs
	n := need
	if n > avail {
		n = avail
	}
	nBytes := n * bpfs
	out.Spec = r.spec
	out.EnsureCapacity(nBytes)
	copy(out.Buf[:nBytes], r.pending[r.pendingOffset:r.pendingOffset+nBytes])
	out.Duration = n
	out.Flags = frame.HasSignal
	// recompute CTS as next_frame.cts + bytes_consumed*ns_per_byte.
	if r.pendingCTS != 0 {
		nsPerByte := r.nsPerByte()
		out.CaptureTimestamp = r.pendingCTS + int64(r.pendingOffset)*nsPerByte
	}
	r.plc.ProcessHistory(out)
	r.pendingOffset += nBytes
	if r.pendingOffset >= len(r.pending) {
		r.pending = nil
		r.pendingOffset = 0
		r.pendingCTS = 0
	}
	return status.OK
}

func (r *Reader) nsPerByte() int64 {
	bpfs := r.bpfs()
	if bpfs == 0 || r.spec.SampleRate == 0 {
		return 0
	}
	// ns per sample-per-channel / bytes-per-sample-per-channel
	return r.spec.SamplesToNs(1) / int64(bpfs)
}

func copyInto(dst, src *frame.Frame) {
	dst.Spec = src.Spec
	n := src.Duration * src.BytesPerFrameSample()
	dst.EnsureCapacity(n)
	copy(dst.Buf[:n], src.Buf[:n])
	dst.Duration = src.Duration
	dst.CaptureTimestamp = src.CaptureTimestamp
	dst.Flags = src.Flags
}
