package resampler

import "math"

// qFracBits is the fixed-point scale for the sample cursor: Q8.24, giving a
// wide integer range for the sample-count part and 24 bits of sub-sample
// precision for the fractional part.
const qFracBits = 24
const qFracOne = int64(1) << qFracBits

// Builtin is a windowed-sinc interpolator in the spirit of the classic
// Smith/Bristow-Johnson bandlimited resampler: three sliding frames of
// interleaved float32 input (prev/curr/next) and a fractional cursor stepped
// by the target scale, convolved against a precomputed, linearly
// interpolated sinc table.
type Builtin struct {
	channels  int
	frameSize int // samples-per-channel capacity of prev/curr/next

	prev, curr, next          []float32
	prevLen, currLen, nextLen int

	qtSample     int64 // Q8.24 offset into curr
	qtSampleStep int64 // Q8.24 advance per output sample

	scale float64

	cutoff                   float64
	windowSize, windowInterp int
	sincTable                []float32

	pushBuf []float32
}

// NewBuiltin constructs a Builtin resampler for the given channel count and
// per-push frame size, sized per profile.
func NewBuiltin(channels, frameSize int, profile Profile) *Builtin {
	ws, wi := windowParams(profile)
	b := &Builtin{
		channels:     channels,
		frameSize:    frameSize,
		prev:         make([]float32, frameSize*channels),
		curr:         make([]float32, frameSize*channels),
		next:         make([]float32, frameSize*channels),
		cutoff:       0.9,
		windowSize:   ws,
		windowInterp: wi,
		qtSampleStep: qFracOne,
		scale:        1,
	}
	b.prevLen = frameSize // start-of-stream: prev is implicit silence
	b.buildTable()
	return b
}

func (b *Builtin) buildTable() {
	n := b.windowSize*b.windowInterp + 1
	b.sincTable = make([]float32, n)
	for i := range b.sincTable {
		t := float64(i) / float64(b.windowInterp)
		b.sincTable[i] = float32(sincFn(b.cutoff*t) * hannWindow(t, float64(b.windowSize)))
	}
}

func sincFn(x float64) float64 {
	if x == 0 {
		return 1
	}
	px := math.Pi * x
	return math.Sin(px) / px
}

func hannWindow(t, width float64) float64 {
	if t >= width {
		return 0
	}
	return 0.5 * (1 + math.Cos(math.Pi*t/width))
}

// windowWidth returns the half-window width, in input samples, for a given
// scale: scale > 1 stretches the window by scale (the filter edge frequency
// shifts down to the output Nyquist), scale <= 1 keeps a fixed width.
func (b *Builtin) windowWidth(scale float64) int {
	w := float64(b.windowSize) / b.cutoff
	if scale > 1 {
		w *= scale
	}
	if w < 1 {
		w = 1
	}
	return int(math.Ceil(w))
}

func (b *Builtin) SetScaling(inRate, outRate int, multiplier float64) bool {
	if inRate <= 0 || outRate <= 0 || multiplier <= 0 {
		return false
	}
	scale := float64(inRate) / float64(outRate) * multiplier
	if math.IsNaN(scale) || math.IsInf(scale, 0) || scale <= 0 {
		return false
	}
	width := b.windowWidth(scale)
	if width > b.frameSize-1 {
		return false
	}
	b.scale = scale
	b.qtSampleStep = int64(math.Round(scale * float64(qFracOne)))
	return true
}

func (b *Builtin) BeginPushInput() []float32 {
	if b.pushBuf == nil {
		b.pushBuf = make([]float32, b.frameSize*b.channels)
	}
	return b.pushBuf
}

func (b *Builtin) EndPushInput(n int) {
	if n > b.frameSize {
		n = b.frameSize
	}
	if b.currLen == 0 {
		copy(b.curr, b.pushBuf[:n*b.channels])
		b.currLen = n
		return
	}
	copy(b.next, b.pushBuf[:n*b.channels])
	b.nextLen = n
}

func (b *Builtin) NLeftToProcess() float64 {
	posF := float64(b.qtSample) / float64(qFracOne)
	return float64(b.currLen) - posF + float64(b.nextLen)
}

// PopOutput produces interleaved samples until buf is full or input runs
// out, sliding prev<-curr<-next whenever the cursor crosses into next.
func (b *Builtin) PopOutput(buf []float32) int {
	if b.currLen == 0 {
		return 0
	}
	produced := 0
	n := len(buf) / b.channels
	for produced < n {
		posF := float64(b.qtSample) / float64(qFracOne)
		width := b.windowWidth(b.scale)

		if int(posF)+width >= b.currLen && b.nextLen == 0 {
			break // need more input before this sample's window is satisfiable
		}

		for c := 0; c < b.channels; c++ {
			buf[produced*b.channels+c] = b.convolve(posF, c, width)
		}
		produced++

		b.qtSample += b.qtSampleStep
		if int(b.qtSample/qFracOne) >= b.currLen {
			b.slide()
		}
	}
	return produced * b.channels
}

func (b *Builtin) convolve(posF float64, ch, width int) float32 {
	i0 := int(math.Floor(posF))
	frac := posF - float64(i0)

	var sum float64
	// Left half: descending sinc argument (samples at or before i0).
	for k := 0; k <= width; k++ {
		idx := i0 - k
		d := frac + float64(k)
		w := b.sincWeight(d)
		if w == 0 && k > 0 {
			break
		}
		sum += float64(b.sampleAt(idx, ch)) * w
	}
	// Right half: ascending sinc argument (samples after i0).
	for k := 1; k <= width; k++ {
		idx := i0 + k
		d := float64(k) - frac
		w := b.sincWeight(d)
		if w == 0 {
			break
		}
		sum += float64(b.sampleAt(idx, ch)) * w
	}

	if b.scale > 1 {
		// The stretched window sums scale times more taps; divide to
		// preserve gain.
		sum /= b.scale
	}
	return float32(sum)
}

func (b *Builtin) sincWeight(d float64) float64 {
	d = math.Abs(d)
	step := b.cutoff
	if b.scale > 1 {
		step = b.cutoff / b.scale
	}
	t := d * step
	if t >= float64(b.windowSize) {
		return 0
	}
	idx := t * float64(b.windowInterp)
	i0 := int(idx)
	if i0+1 >= len(b.sincTable) {
		return float64(b.sincTable[len(b.sincTable)-1])
	}
	frac := idx - float64(i0)
	return float64(b.sincTable[i0])*(1-frac) + float64(b.sincTable[i0+1])*frac
}

func (b *Builtin) sampleAt(idx, ch int) float32 {
	if idx >= 0 && idx < b.currLen {
		return b.curr[idx*b.channels+ch]
	}
	if idx < 0 {
		pidx := b.prevLen + idx
		if pidx >= 0 && pidx < b.prevLen {
			return b.prev[pidx*b.channels+ch]
		}
		return 0
	}
	nidx := idx - b.currLen
	if nidx >= 0 && nidx < b.nextLen {
		return b.next[nidx*b.channels+ch]
	}
	return 0
}

func (b *Builtin) slide() {
	oldCurrLen := b.currLen
	copy(b.prev, b.curr)
	b.prevLen = oldCurrLen
	copy(b.curr, b.next)
	b.currLen = b.nextLen
	for i := range b.next {
		b.next[i] = 0
	}
	b.nextLen = 0
	b.qtSample -= int64(oldCurrLen) * qFracOne
	if b.qtSample < 0 {
		b.qtSample = 0
	}
}
