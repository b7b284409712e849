package resampler

import (
	"rocpipe/pkg/frame"
	"rocpipe/pkg/reader"
	"rocpipe/pkg/status"
)

// Reader adapts an IResampler backend to the FrameReader contract: pop
// whatever output the backend already has buffered, and whenever it runs
// dry, pull one more frame from below and push it in before trying again.
type Reader struct {
	src  reader.FrameReader
	impl IResampler
	spec frame.SampleSpec

	inRate  int
	scratch *frame.Frame

	lastCTS    int64
	haveLastTS bool
}

// New builds a Reader. inRate is the rate the underlying src currently
// produces; it may drift at runtime via SetScaling, driven by a
// FreqEstimator steering the pipeline's latency.
func New(src reader.FrameReader, impl IResampler, spec frame.SampleSpec, inRate int) *Reader {
	impl.SetScaling(inRate, spec.SampleRate, 1.0)
	return &Reader{
		src:     src,
		impl:    impl,
		spec:    spec,
		inRate:  inRate,
		scratch: &frame.Frame{Spec: spec},
	}
}

// SetScaling forwards to the backend; see IResampler.SetScaling.
func (r *Reader) SetScaling(inRate, outRate int, multiplier float64) bool {
	ok := r.impl.SetScaling(inRate, outRate, multiplier)
	if ok {
		r.inRate = inRate
	}
	return ok
}

func (r *Reader) Read(out *frame.Frame, requestedDuration int, mode status.Mode) status.Code {
	bpfs := r.spec.BytesPerFrameSample()
	if bpfs <= 0 {
		return status.BadConfig
	}
	ch := r.spec.NumChannels()
	if ch <= 0 {
		ch = 1
	}

	out.Spec = r.spec
	out.EnsureCapacity(requestedDuration * bpfs)
	outFloats := make([]float32, requestedDuration*ch)

	produced, code := r.fill(outFloats, requestedDuration, ch, mode)

	floatsToBytes(out.Buf[:produced*ch*4], outFloats[:produced*ch])
	out.Duration = produced
	out.Flags = frame.HasSignal
	if produced < requestedDuration {
		out.Flags |= frame.NotComplete
	}
	if r.haveLastTS {
		nLeft := r.impl.NLeftToProcess()
		out.CaptureTimestamp = r.lastCTS - int64(nLeft*float64(r.spec.SamplesToNs(1)))
	}

	if produced == 0 {
		return code
	}
	if produced < requestedDuration {
		return status.Part
	}
	return status.OK
}

// fill drives the pop/push loop until requestedDuration samples-per-channel
// have been produced, input is exhausted, or the source reports a terminal
// status. It returns the samples-per-channel produced and the last status
// seen from src (meaningful only when produced < requestedDuration).
func (r *Reader) fill(outFloats []float32, requestedDuration, ch int, mode status.Mode) (int, status.Code) {
	produced := 0
	lastCode := status.OK

	for produced < requestedDuration {
		n := r.impl.PopOutput(outFloats[produced*ch : requestedDuration*ch])
		if n > 0 {
			produced += n / ch
			continue
		}

		buf := r.impl.BeginPushInput()
		inSamples := len(buf) / ch
		r.scratch.Spec = r.spec
		r.scratch.EnsureCapacity(inSamples * r.spec.BytesPerFrameSample())
		readCode := r.src.Read(r.scratch, inSamples, mode)

		if status.IsFatal(readCode) || readCode == status.Drain || readCode == status.Finish {
			r.impl.EndPushInput(0)
			if produced == 0 {
				return 0, readCode
			}
			return produced, status.Part
		}

		n2 := r.scratch.Duration
		copyFloatsFromBytes(buf, r.scratch.Buf, n2*ch)
		r.impl.EndPushInput(n2)
		if !r.haveLastTS {
			r.lastCTS = r.scratch.CaptureTimestamp
			r.haveLastTS = true
		}
		if n2 == 0 {
			return produced, status.Part
		}
		lastCode = readCode
	}
	return produced, lastCode
}

func copyFloatsFromBytes(dst []float32, src []byte, n int) {
	for i := 0; i < n && i*4+4 <= len(src); i++ {
		dst[i] = getFloat32(src, i)
	}
}

var _ reader.FrameReader = (*Reader)(nil)
