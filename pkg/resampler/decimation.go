package resampler

// Decimation wraps an inner IResampler and applies only the dynamic
// scaling multiplier itself: it delegates the constant inRate/outRate
// ratio to inner unconditionally (SetScaling always hands inner a
// multiplier of exactly 1), then walks inner's output one sample-per-
// channel frame at a time, duplicating or dropping a frame whenever the
// accumulated drift (multiplier-1 applied per frame) crosses +-1. At
// multiplier == 1.0 the accumulator never crosses the threshold and every
// frame passes straight through, so the common "no drift correction
// needed" path stays a tight copy loop instead of a real convolution.
type Decimation struct {
	inner    IResampler
	channels int

	multiplier float64
	outAcc     float64

	one []float32
}

// NewDecimation wraps inner, which must already be sized for channels.
func NewDecimation(inner IResampler, channels int) *Decimation {
	if channels <= 0 {
		channels = 1
	}
	return &Decimation{
		inner:      inner,
		channels:   channels,
		multiplier: 1,
		one:        make([]float32, channels),
	}
}

func (d *Decimation) SetScaling(inRate, outRate int, multiplier float64) bool {
	if multiplier <= 0 {
		return false
	}
	if !d.inner.SetScaling(inRate, outRate, 1.0) {
		return false
	}
	d.multiplier = multiplier
	return true
}

func (d *Decimation) BeginPushInput() []float32 { return d.inner.BeginPushInput() }
func (d *Decimation) EndPushInput(n int)        { d.inner.EndPushInput(n) }

// PopOutput drains inner one frame at a time so the duplicate/drop
// decision can be made per frame. At multiplier 1.0 (outAcc never crosses
// +-1) this degenerates to copying inner's output straight through.
func (d *Decimation) PopOutput(buf []float32) int {
	ch := d.channels
	written := 0
	for written+ch <= len(buf) {
		n := d.inner.PopOutput(d.one)
		if n < ch {
			break
		}
		d.outAcc += d.multiplier - 1

		if d.outAcc >= 1 {
			// Time-compress: drop this frame entirely, don't advance
			// written, and re-evaluate drift against the next one.
			d.outAcc -= 1
			continue
		}

		copy(buf[written:written+ch], d.one)
		written += ch

		if d.outAcc <= -1 && written+ch <= len(buf) {
			// Time-expand: duplicate the frame just emitted.
			d.outAcc += 1
			copy(buf[written:written+ch], d.one)
			written += ch
		}
	}
	return written
}

func (d *Decimation) NLeftToProcess() float64 { return d.inner.NLeftToProcess() }

var _ IResampler = (*Decimation)(nil)
