package plc

import (
	"math"

	"rocpipe/pkg/frame"
)

// BeepPlc is the reference IPlc backend: instead of filling a loss with
// pure silence, it fills it with a fixed low-amplitude tone, so
// PlcConfig{Backend: Beep} is testable and audibly distinct from "no
// concealment" without needing a real plugin.
type BeepPlc struct {
	spec       frame.SampleSpec
	lookbehind int
	lookahead  int
	amplitude  float64
	freqHz     float64
	phase      float64
}

// NewBeepPlc constructs a BeepPlc. lookbehind/lookahead are in samples.
func NewBeepPlc(spec frame.SampleSpec, lookbehind, lookahead int) *BeepPlc {
	return &BeepPlc{
		spec:       spec,
		lookbehind: lookbehind,
		lookahead:  lookahead,
		amplitude:  0.05,
		freqHz:     440,
	}
}

func (b *BeepPlc) SampleSpec() frame.SampleSpec { return b.spec }
func (b *BeepPlc) LookbehindLen() int           { return b.lookbehind }
func (b *BeepPlc) LookaheadLen() int            { return b.lookahead }

func (b *BeepPlc) ProcessHistory(*frame.Frame) {}

// ProcessLoss fills lost with a quiet sine tone, matching the original's
// "beep" concealment: audibly marks the gap without silence, and doesn't
// require prev/next at all (both may be nil).
func (b *BeepPlc) ProcessLoss(lost, _, _ *frame.Frame) {
	if lost == nil || lost.Spec.SampleRate <= 0 || lost.Spec.Format != frame.SInt16LE {
		return
	}
	ch := lost.Spec.NumChannels()
	if ch <= 0 {
		ch = 1
	}
	step := 2 * math.Pi * b.freqHz / float64(lost.Spec.SampleRate)
	bpfs := lost.BytesPerFrameSample()
	n := lost.Duration * bpfs
	if n > len(lost.Buf) {
		n = len(lost.Buf)
	}
	buf := lost.Buf[:n]
	for i := 0; i < lost.Duration; i++ {
		v := int16(b.amplitude * 32767 * math.Sin(b.phase))
		b.phase += step
		for c := 0; c < ch; c++ {
			off := i*bpfs + c*2
			if off+2 > len(buf) {
				break
			}
			buf[off] = byte(uint16(v))
			buf[off+1] = byte(uint16(v) >> 8)
		}
	}
	if b.phase > 1e6 {
		b.phase = math.Mod(b.phase, 2*math.Pi)
	}
}
