// Package mixer sums N concurrent session readers into a single output
// stream, clamping to the valid sample range and averaging capture
// timestamps across inputs that have drifted slightly apart.
package mixer

import (
	"rocpipe/pkg/frame"
	"rocpipe/pkg/reader"
	"rocpipe/pkg/status"
)

const (
	sampleMin = -1.0
	sampleMax = 1.0
)

// inputState is the per-attached-reader bookkeeping: nMixed samples have
// already been summed into mixBuffer at offset 0, cts is the interpolated
// capture timestamp of the first unread sample in that accumulator (0 when
// unknown).
type inputState struct {
	r          reader.FrameReader
	nMixed     int
	cts        int64
	isFinished bool
	scratch    *frame.Frame
}

// Mixer sums any number of session FrameReaders into one output. All
// inputs and the output share spec, and spec.Format must be frame.Raw: the
// accumulator sums in floating point directly, with no per-sample
// wire-format round trip, so feeding it anything else would silently sum
// garbage bit patterns. Bring inputs to Raw with chanmap.PcmMapperReader
// upstream of attaching them.
type Mixer struct {
	spec       frame.SampleSpec
	channels   int
	mixBufSamp int // samples-per-channel capacity of mixBuffer
	mixBuffer  []float32

	inputs []*inputState
}

// New constructs a Mixer. mixBufferSamples bounds how many samples-per-
// channel of internal accumulator the mixer holds; it should be sized from
// the configured frame duration and max concurrent sessions, the same way
// FrameFactory pools are.
func New(spec frame.SampleSpec, mixBufferSamples int) *Mixer {
	ch := spec.NumChannels()
	if ch <= 0 {
		ch = 1
	}
	if mixBufferSamples <= 0 {
		mixBufferSamples = 1
	}
	return &Mixer{
		spec:       spec,
		channels:   ch,
		mixBufSamp: mixBufferSamples,
		mixBuffer:  make([]float32, mixBufferSamples*ch),
	}
}

// AddInput attaches r as a new mixer input. Safe to call only from the
// pipeline thread that also calls Read (the mixer itself isn't
// lock-free; cross-thread session attach/detach is the registry's job,
// not the mixer's).
func (m *Mixer) AddInput(r reader.FrameReader) {
	m.inputs = append(m.inputs, &inputState{r: r, scratch: &frame.Frame{Spec: m.spec}})
}

// HasInput reports whether r is currently attached.
func (m *Mixer) HasInput(r reader.FrameReader) bool {
	return m.indexOf(r) >= 0
}

func (m *Mixer) indexOf(r reader.FrameReader) int {
	for i, in := range m.inputs {
		if in.r == r {
			return i
		}
	}
	return -1
}

// RemoveInput detaches r. If it had accumulated more than every other
// attached input, the vacated tail of mixBuffer between the others' max
// and its own nMixed is zeroed so a later Read doesn't deliver stale
// samples that were never meant to be summed with anything.
func (m *Mixer) RemoveInput(r reader.FrameReader) {
	idx := m.indexOf(r)
	if idx < 0 {
		return
	}
	removed := m.inputs[idx]
	maxOthers := 0
	for i, in := range m.inputs {
		if i == idx {
			continue
		}
		if in.nMixed > maxOthers {
			maxOthers = in.nMixed
		}
	}
	if removed.nMixed > maxOthers {
		for i := maxOthers * m.channels; i < removed.nMixed*m.channels; i++ {
			m.mixBuffer[i] = 0
		}
	}
	m.inputs = append(m.inputs[:idx], m.inputs[idx+1:]...)
}

// Read fills out with up to requestedDuration mixed samples-per-channel.
// Requested output may be bigger than the mix buffer, so mixing repeats in
// batches of at most mixBufSamp until the output is filled or a soft read
// stops early.
func (m *Mixer) Read(out *frame.Frame, requestedDuration int, mode status.Mode) status.Code {
	bpfs := m.spec.BytesPerFrameSample()
	out.Spec = m.spec
	out.EnsureCapacity(requestedDuration * bpfs)

	produced := 0
	var outCTS int64

	for produced < requestedDuration {
		batch := requestedDuration - produced
		if batch > m.mixBufSamp {
			batch = m.mixBufSamp
		}
		n, cts, code := m.mixBatch(out.Buf[produced*bpfs:(produced+batch)*bpfs], batch, mode)
		if code == status.Drain {
			break
		}
		if code != status.OK && code != status.Part {
			return code
		}
		if produced == 0 {
			outCTS = cts
		}
		produced += n
		if code == status.Part {
			break
		}
	}

	out.Duration = produced
	out.Flags = frame.HasSignal
	out.CaptureTimestamp = outCTS
	if produced == 0 {
		out.Flags = 0
		return status.Drain
	}
	if produced < requestedDuration {
		out.Flags |= frame.NotComplete
		return status.Part
	}
	return status.OK
}

// mixBatch mixes all inputs into mixBuffer, delivers the prefix present in
// every input to dst, shifts the remainder down, and returns how many
// samples-per-channel were delivered plus the averaged capture timestamp.
func (m *Mixer) mixBatch(dst []byte, batch int, mode status.Mode) (int, int64, status.Code) {
	// When there are no inputs, produce silence.
	if len(m.inputs) == 0 {
		if mode == status.Soft {
			return 0, 0, status.Drain
		}
		for i := range dst[:batch*m.spec.BytesPerFrameSample()] {
			dst[i] = 0
		}
		return batch, 0, status.OK
	}

	var ctsBase int64
	var ctsSum float64
	ctsCount := 0
	minMixed, maxMixed := 0, 0

	for i, in := range m.inputs {
		code := m.mixOne(in, batch, mode)
		if code != status.OK && code != status.Part && code != status.Drain {
			return 0, 0, code
		}
		if i == 0 || in.nMixed < minMixed {
			minMixed = in.nMixed
		}
		if in.nMixed > maxMixed {
			maxMixed = in.nMixed
		}
		if in.nMixed != 0 && in.cts != 0 {
			// Subtract the first nonzero timestamp from the others before
			// summing; inputs are closely synchronized, so the offsets stay
			// small and the sum can't overflow or lose precision.
			if ctsBase == 0 {
				ctsBase = in.cts
			}
			ctsSum += float64(in.cts - ctsBase)
			ctsCount++
		}
	}

	var outCTS int64
	if ctsCount != 0 {
		n := float64(len(m.inputs))
		outCTS = int64(float64(ctsBase)*(float64(ctsCount)/n) + ctsSum/n)
	}

	if minMixed > batch {
		// Leftover from an earlier, larger batch; deliver only what fits.
		minMixed = batch
	}
	if minMixed == 0 {
		return 0, 0, status.Drain
	}

	ch := m.channels
	floatsToBytes(dst[:minMixed*ch*4], m.mixBuffer[:minMixed*ch])

	// Shift [minMixed, maxMixed) down to position 0 and zero the vacated
	// tail.
	if minMixed < maxMixed {
		copy(m.mixBuffer, m.mixBuffer[minMixed*ch:maxMixed*ch])
	}
	for i := (maxMixed - minMixed) * ch; i < maxMixed*ch; i++ {
		m.mixBuffer[i] = 0
	}

	nsPerSample := m.spec.SamplesToNs(1)
	for _, in := range m.inputs {
		in.nMixed -= minMixed
		if in.nMixed < 0 {
			in.nMixed = 0
		}
		if in.cts != 0 {
			in.cts += int64(minMixed) * nsPerSample
		}
	}

	if minMixed < batch {
		return minMixed, outCTS, status.Part
	}
	return minMixed, outCTS, status.OK
}

// mixOne tops up one input's accumulator to batch samples-per-channel,
// summing and clamping as it goes. Partial reads are re-issued; Drain stops
// early; Finish marks the input finished, after which it pads with silence
// until removed.
func (m *Mixer) mixOne(in *inputState, batch int, mode status.Mode) status.Code {
	if in.isFinished {
		if in.nMixed < batch {
			in.nMixed = batch
		}
		return status.OK
	}

	bpfs := m.spec.BytesPerFrameSample()
	nsPerSample := m.spec.SamplesToNs(1)

	for in.nMixed < batch {
		need := batch - in.nMixed
		in.scratch.Spec = m.spec
		in.scratch.Reset()
		in.scratch.EnsureCapacity(need * bpfs)
		code := in.r.Read(in.scratch, need, mode)

		if code == status.Finish {
			// Stream ended and will be removed soon; pad with zeros until
			// then.
			in.nMixed = batch
			in.isFinished = true
			break
		}
		if code == status.Drain {
			break
		}
		if code != status.OK && code != status.Part {
			return code
		}

		n := in.scratch.Duration
		if n <= 0 {
			break
		}

		floats := bytesToFloats(in.scratch.Buf[:n*bpfs])
		off := in.nMixed * m.channels
		for i, v := range floats {
			s := m.mixBuffer[off+i] + v
			if s > sampleMax {
				s = sampleMax
			} else if s < sampleMin {
				s = sampleMin
			}
			m.mixBuffer[off+i] = s
		}

		// Interpolate the CTS of the first sample in the accumulator.
		if cts := in.scratch.CaptureTimestamp; cts > 0 {
			cts -= int64(in.nMixed) * nsPerSample
			if cts > 0 {
				in.cts = cts
			} else {
				in.cts = 0
			}
		} else {
			in.cts = 0
		}

		in.nMixed += n
	}
	return status.OK
}

var _ reader.FrameReader = (*Mixer)(nil)
