package plc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"rocpipe/pkg/frame"
	"rocpipe/pkg/reader"
	"rocpipe/pkg/status"
)

var monoSpec = frame.SampleSpec{
	Format:     frame.SInt16LE,
	SampleRate: 8000,
	Channels:   frame.MonoChannelSet(),
}

func constFrame(spec frame.SampleSpec, duration int, value int16, flags frame.Flags) *frame.Frame {
	bpfs := spec.BytesPerFrameSample()
	buf := make([]byte, duration*bpfs)
	for i := 0; i < duration; i++ {
		off := i * bpfs
		buf[off] = byte(uint16(value))
		buf[off+1] = byte(uint16(value) >> 8)
	}
	return &frame.Frame{Spec: spec, Buf: buf, Duration: duration, Flags: flags}
}

func frameValue(fr *frame.Frame) int16 {
	if len(fr.Buf) < 2 {
		return 0
	}
	return int16(uint16(fr.Buf[0]) | uint16(fr.Buf[1])<<8)
}

func sampleAt(buf []byte, i int) int16 {
	return int16(uint16(buf[2*i]) | uint16(buf[2*i+1])<<8)
}

// scriptedReader plays back a fixed sequence of frames. A Soft read against
// an item marked notYetReady returns Drain instead of the frame (used to
// simulate "not delivered until after second read"); a Hard read against the
// same item matures it and proceeds normally.
type scriptedReader struct {
	items []scriptItem
	pos   int
}

type scriptItem struct {
	duration    int
	value       int16
	flags       frame.Flags
	notYetReady bool
}

func (s *scriptedReader) Read(out *frame.Frame, requestedDuration int, mode status.Mode) status.Code {
	if s.pos >= len(s.items) {
		return status.Finish
	}
	it := s.items[s.pos]
	if it.notYetReady {
		if mode == status.Soft {
			return status.Drain
		}
		it.notYetReady = false
		s.items[s.pos] = it
	}
	d := it.duration
	if d > requestedDuration {
		d = requestedDuration
	}
	src := constFrame(monoSpec, d, it.value, it.flags)
	out.Spec = monoSpec
	out.EnsureCapacity(d * monoSpec.BytesPerFrameSample())
	copy(out.Buf, src.Buf)
	out.Duration = d
	out.Flags = it.flags

	if d >= it.duration {
		s.pos++
	} else {
		it.duration -= d
		s.items[s.pos] = it
		return status.Part
	}
	return status.OK
}

var _ reader.FrameReader = (*scriptedReader)(nil)

// mockPlc fills losses with a constant value and records what it was given.
type mockPlc struct {
	lookbehind, lookahead int
	fillValue             int16
	nPrevSamples          int
	nNextSamples          int
	historyCalls          int
	prevCopy              []byte
}

func (m *mockPlc) SampleSpec() frame.SampleSpec { return monoSpec }
func (m *mockPlc) LookbehindLen() int           { return m.lookbehind }
func (m *mockPlc) LookaheadLen() int            { return m.lookahead }
func (m *mockPlc) ProcessHistory(*frame.Frame)  { m.historyCalls++ }
func (m *mockPlc) ProcessLoss(lost, prev, next *frame.Frame) {
	if prev != nil {
		m.nPrevSamples = prev.Duration
		m.prevCopy = append(m.prevCopy[:0], prev.Buf[:prev.Duration*prev.BytesPerFrameSample()]...)
	} else {
		m.nPrevSamples = 0
		m.prevCopy = nil
	}
	if next != nil {
		m.nNextSamples = next.Duration
	} else {
		m.nNextSamples = 0
	}
	bpfs := lost.BytesPerFrameSample()
	for i := 0; i < lost.Duration; i++ {
		off := i * bpfs
		lost.Buf[off] = byte(uint16(m.fillValue))
		lost.Buf[off+1] = byte(uint16(m.fillValue) >> 8)
	}
}

// Simple gap: signal, then a gap the PLC fills, then signal again. The
// concealment must see the full lookbehind and lookahead context.
func TestPlcReader_SimpleGap(t *testing.T) {
	src := &scriptedReader{items: []scriptItem{
		{duration: 50, value: 1100, flags: frame.HasSignal},
		{duration: 50, value: 0, flags: frame.HasGaps},
		{duration: 50, value: 3300, flags: frame.HasSignal},
	}}
	p := &mockPlc{lookbehind: 50, lookahead: 50, fillValue: 2200}
	r := New(src, p, monoSpec, 1<<20)

	out := &frame.Frame{}

	code := r.Read(out, 50, status.Hard)
	require.Equal(t, status.OK, code)
	require.EqualValues(t, 1100, frameValue(out))
	require.Equal(t, frame.HasSignal, out.Flags)

	code = r.Read(out, 50, status.Hard)
	require.Equal(t, status.OK, code)
	require.EqualValues(t, 2200, frameValue(out))
	require.True(t, out.Flags&frame.HasGaps != 0)
	require.Equal(t, 50, p.nPrevSamples)
	require.Equal(t, 50, p.nNextSamples)

	code = r.Read(out, 50, status.Hard)
	require.Equal(t, status.OK, code)
	require.EqualValues(t, 3300, frameValue(out))
}

// Read-ahead drain: the third (signal) frame isn't ready until after the
// gap-filled read completes; the PLC must proceed with no lookahead.
func TestPlcReader_ReadAheadDrain(t *testing.T) {
	src := &scriptedReader{items: []scriptItem{
		{duration: 50, value: 1100, flags: frame.HasSignal},
		{duration: 50, value: 0, flags: frame.HasGaps},
		{duration: 50, value: 3300, flags: frame.HasSignal, notYetReady: true},
	}}
	p := &mockPlc{lookbehind: 50, lookahead: 50, fillValue: 2200}
	r := New(src, p, monoSpec, 1<<20)

	out := &frame.Frame{}
	require.Equal(t, status.OK, r.Read(out, 50, status.Hard))
	require.EqualValues(t, 1100, frameValue(out))

	require.Equal(t, status.OK, r.Read(out, 50, status.Hard))
	require.EqualValues(t, 2200, frameValue(out))
	require.Equal(t, 50, p.nPrevSamples)
	require.Equal(t, 0, p.nNextSamples)
}

// PLC transparency: a source that only ever returns HasSignal frames is
// forwarded byte-identical.
func TestPlcReader_TransparentOnSignal(t *testing.T) {
	src := &scriptedReader{items: []scriptItem{
		{duration: 20, value: 42, flags: frame.HasSignal},
		{duration: 20, value: 43, flags: frame.HasSignal},
	}}
	p := &mockPlc{lookbehind: 20, lookahead: 20}
	r := New(src, p, monoSpec, 1<<20)

	out := &frame.Frame{}
	require.Equal(t, status.OK, r.Read(out, 20, status.Hard))
	require.EqualValues(t, 42, frameValue(out))
	require.Equal(t, frame.HasSignal, out.Flags)
	require.Equal(t, status.OK, r.Read(out, 20, status.Hard))
	require.EqualValues(t, 43, frameValue(out))
}

// Initial gap: forwarded unchanged, PLC never invoked before first signal.
func TestPlcReader_InitialGapForwardedUnchanged(t *testing.T) {
	src := &scriptedReader{items: []scriptItem{
		{duration: 20, value: 0, flags: frame.HasGaps},
		{duration: 20, value: 7, flags: frame.HasSignal},
	}}
	p := &mockPlc{lookbehind: 20, lookahead: 20, fillValue: 999}
	r := New(src, p, monoSpec, 1<<20)

	out := &frame.Frame{}
	require.Equal(t, status.OK, r.Read(out, 20, status.Hard))
	require.EqualValues(t, 0, frameValue(out))
	require.Equal(t, frame.HasGaps, out.Flags)
	require.Equal(t, 0, p.nPrevSamples+p.nNextSamples) // ProcessLoss never called
}

func TestRingHistory_LastMinTC(t *testing.T) {
	r := newRingHistory(10)
	r.Write([]byte{1, 2, 3})
	r.Write([]byte{4, 5, 6, 7, 8})
	r.Write([]byte{9, 10, 11})
	require.Equal(t, []byte{2, 3, 4, 5, 6, 7, 8, 9, 10, 11}, r.ReadLast(20))
}

// Variable frame sizes 3, 10, 5(lost), 10, 5(lost), 20 with
// lookbehind=15, lookahead=13. Exercises lookbehind truncated-from-left
// (history shorter than capacity), lookahead truncated-from-right (a
// not-yet-ready second loss stops the soft-read gather early), lookahead
// fully saturated mid-way through a later frame, and the resulting
// Part(13)/OK(7) split once the cached look-ahead runs out mid-frame-6.
func TestPlcReader_VariableFrameSizes(t *testing.T) {
	src := &scriptedReader{items: []scriptItem{
		{duration: 3, value: 100, flags: frame.HasSignal},
		{duration: 10, value: 200, flags: frame.HasSignal},
		{duration: 5, value: 0, flags: frame.HasGaps},
		{duration: 10, value: 400, flags: frame.HasSignal},
		{duration: 5, value: 0, flags: frame.HasGaps, notYetReady: true},
		{duration: 20, value: 600, flags: frame.HasSignal},
	}}
	p := &mockPlc{lookbehind: 15, lookahead: 13, fillValue: 999}
	r := New(src, p, monoSpec, 1<<20)
	out := &frame.Frame{}

	require.Equal(t, status.OK, r.Read(out, 3, status.Hard))
	require.EqualValues(t, 100, frameValue(out))

	require.Equal(t, status.OK, r.Read(out, 10, status.Hard))
	require.EqualValues(t, 200, frameValue(out))

	// First loss: history only holds 13 samples so far (< lookbehind
	// capacity of 15), and the soft read for look-ahead runs into the
	// not-yet-ready second loss after pulling frame 4's 10 samples, so it
	// stops there instead of waiting for more.
	require.Equal(t, status.OK, r.Read(out, 5, status.Hard))
	require.EqualValues(t, 999, frameValue(out))
	require.Equal(t, 13, p.nPrevSamples)
	require.Equal(t, 10, p.nNextSamples)

	// Delivered from the look-ahead cache gathered above: frame 4's real
	// signal, untouched by the loss.
	require.Equal(t, status.OK, r.Read(out, 10, status.Hard))
	require.EqualValues(t, 400, frameValue(out))

	// Second loss: history is now fully saturated at the 15-sample
	// capacity, and the look-ahead gather fully saturates at 13 samples by
	// reading 13 of frame 6's 20 samples, leaving 7 behind in the source.
	require.Equal(t, status.OK, r.Read(out, 5, status.Hard))
	require.EqualValues(t, 999, frameValue(out))
	require.Equal(t, 15, p.nPrevSamples)
	require.Equal(t, 13, p.nNextSamples)
	// History reflects what was actually handed out, cache deliveries
	// included: the 5-sample PLC fill followed by frame 4's 10 samples.
	require.EqualValues(t, 999, sampleAt(p.prevCopy, 0))
	require.EqualValues(t, 400, sampleAt(p.prevCopy, 5))
	require.EqualValues(t, 400, sampleAt(p.prevCopy, 14))

	// The next read asks for all 20 of frame 6's samples, but only 13 are
	// cached from the look-ahead: Part of length 13, then re-issuing for
	// the remainder yields OK of length 7 from the source directly.
	code := r.Read(out, 20, status.Hard)
	require.Equal(t, status.Part, code)
	require.Equal(t, 13, out.Duration)
	require.True(t, out.Flags&frame.NotComplete != 0)
	require.EqualValues(t, 600, frameValue(out))

	code = r.Read(out, 7, status.Hard)
	require.Equal(t, status.OK, code)
	require.Equal(t, 7, out.Duration)
	require.EqualValues(t, 600, frameValue(out))
}

func TestLookbehindZero_PrevAlwaysNil(t *testing.T) {
	src := &scriptedReader{items: []scriptItem{
		{duration: 20, value: 1, flags: frame.HasSignal},
		{duration: 20, value: 0, flags: frame.HasGaps},
	}}
	p := &mockPlc{lookbehind: 0, lookahead: 0, fillValue: 5}
	r := New(src, p, monoSpec, 1<<20)
	out := &frame.Frame{}
	require.Equal(t, status.OK, r.Read(out, 20, status.Hard))
	require.Equal(t, status.OK, r.Read(out, 20, status.Hard))
	require.Equal(t, 0, p.nPrevSamples)
	require.Equal(t, 0, p.nNextSamples)
}
