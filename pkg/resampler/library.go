package resampler

import (
	"fmt"

	"github.com/gammazero/deque"
	msdk "github.com/livekit/media-sdk"
)

// Library wraps media-sdk's resampler as an IResampler backend. media-sdk
// exposes a push-style PCM16 writer chain rather than a pull cursor, so this
// type feeds input through an msdk.ResampleWriter into a capture sink and
// drains the captured output on PopOutput. The int16 round-trip matches what
// a speexdsp shim would do anyway: speex resamples 16-bit samples.
//
// media-sdk resamples a single stream; Library therefore only supports mono.
// The dispatcher falls back to Builtin for multi-channel pipelines.
type Library struct {
	outRate int

	w    msdk.PCM16Writer
	sink *captureSink

	pushBuf []float32
	in      msdk.PCM16Sample
}

// NewLibrary constructs a Library backend. Returns nil unless channels == 1.
func NewLibrary(channels int, _ Profile) *Library {
	if channels != 1 {
		return nil
	}
	return &Library{}
}

// captureSink is the tail of the ResampleWriter chain: it receives samples
// already converted to the output rate and stores them for PopOutput.
type captureSink struct {
	rate int
	out  *deque.Deque[float32]
}

func (s *captureSink) String() string {
	return fmt.Sprintf("ResamplerCapture(%dHz)", s.rate)
}

func (s *captureSink) SampleRate() int { return s.rate }

func (s *captureSink) WriteSample(sample msdk.PCM16Sample) error {
	for _, v := range sample {
		s.out.PushBack(float32(v) / 32768.0)
	}
	return nil
}

func (l *Library) SetScaling(inRate, outRate int, multiplier float64) bool {
	if inRate <= 0 || outRate <= 0 || multiplier <= 0 {
		return false
	}
	srcRate := int(float64(inRate)*multiplier + 0.5)
	if srcRate <= 0 {
		return false
	}
	if l.sink == nil {
		l.sink = &captureSink{out: new(deque.Deque[float32])}
	}
	l.sink.rate = outRate
	l.outRate = outRate
	l.w = msdk.ResampleWriter(msdk.NopCloser[msdk.PCM16Sample](l.sink), srcRate)
	return true
}

func (l *Library) BeginPushInput() []float32 {
	if l.pushBuf == nil {
		l.pushBuf = make([]float32, 4096)
	}
	return l.pushBuf
}

func (l *Library) EndPushInput(n int) {
	if n <= 0 || l.w == nil {
		return
	}
	if cap(l.in) < n {
		l.in = make(msdk.PCM16Sample, n)
	}
	l.in = l.in[:n]
	for i := 0; i < n; i++ {
		f := l.pushBuf[i]
		if f > 1 {
			f = 1
		} else if f < -1 {
			f = -1
		}
		l.in[i] = int16(f * 32767)
	}
	_ = l.w.WriteSample(l.in)
}

func (l *Library) PopOutput(buf []float32) int {
	if l.sink == nil {
		return 0
	}
	n := 0
	for n < len(buf) && l.sink.out.Len() > 0 {
		buf[n] = l.sink.out.PopFront()
		n++
	}
	return n
}

func (l *Library) NLeftToProcess() float64 {
	if l.sink == nil {
		return 0
	}
	return float64(l.sink.out.Len())
}

var _ IResampler = (*Library)(nil)
