package chanmap

import (
	"fmt"
	"math/bits"

	"rocpipe/pkg/frame"
	"rocpipe/pkg/reader"
	"rocpipe/pkg/status"
)

// ChannelMapperReader remaps between channel layouts. A channel present in
// both input and output masks is copied straight across; an output channel
// absent from the input mask is synthesized as the average of every
// present input channel (down-mix); an input channel not claimed by any
// output bit is simply dropped. Up-mix duplication (mono -> stereo, say)
// falls out of this directly, since both output bits alias the one input
// channel; stereo -> mono averages left and right into front-center. Input and output sample rate must be equal; rate conversion
// belongs to resampler.Reader, not here.
type ChannelMapperReader struct {
	src     reader.FrameReader
	inSpec  frame.SampleSpec
	outSpec frame.SampleSpec
	codec   sampleCodec

	scratch *frame.Frame
}

// NewChannelMapperReader builds a ChannelMapperReader. inSpec and outSpec
// must share Format and SampleRate; only the channel set may differ.
func NewChannelMapperReader(src reader.FrameReader, inSpec, outSpec frame.SampleSpec) (*ChannelMapperReader, error) {
	if inSpec.SampleRate != outSpec.SampleRate {
		return nil, fmt.Errorf("chanmap: sample rates must match (in=%d out=%d)", inSpec.SampleRate, outSpec.SampleRate)
	}
	if inSpec.Format != outSpec.Format {
		return nil, fmt.Errorf("chanmap: formats must match %v != %v (use PcmMapperReader for format conversion)", inSpec.Format, outSpec.Format)
	}
	codec, err := codecFor(inSpec.Format)
	if err != nil {
		return nil, err
	}
	return &ChannelMapperReader{
		src:     src,
		inSpec:  inSpec,
		outSpec: outSpec,
		codec:   codec,
		scratch: &frame.Frame{Spec: inSpec},
	}, nil
}

// Read fills out by repeatedly reading from src until requestedDuration is
// satisfied, the source stalls, or it terminates. Flags are OR-reduced
// across every internal read; the capture timestamp is that of the first
// one.
func (m *ChannelMapperReader) Read(out *frame.Frame, requestedDuration int, mode status.Mode) status.Code {
	inBpfs := m.inSpec.BytesPerFrameSample()
	outBpfs := m.outSpec.BytesPerFrameSample()
	out.Spec = m.outSpec
	out.EnsureCapacity(requestedDuration * outBpfs)

	produced := 0
	var flags frame.Flags
	var cts int64
	haveCTS := false
	lastCode := status.OK

	for produced < requestedDuration {
		remaining := requestedDuration - produced
		m.scratch.Spec = m.inSpec
		m.scratch.EnsureCapacity(remaining * inBpfs)
		code := m.src.Read(m.scratch, remaining, mode)
		lastCode = code
		if status.IsFatal(code) || code == status.Drain || code == status.Finish {
			break
		}

		n := m.scratch.Duration
		if n > 0 {
			if !haveCTS {
				cts = m.scratch.CaptureTimestamp
				haveCTS = true
			}
			flags |= m.scratch.Flags &^ frame.NotComplete
			m.remapInto(out.Buf[produced*outBpfs:(produced+n)*outBpfs], m.scratch.Buf[:n*inBpfs])
			produced += n
		}
		if code != status.OK {
			break
		}
	}

	out.Duration = produced
	out.CaptureTimestamp = cts
	out.Flags = flags
	if produced < requestedDuration {
		out.Flags |= frame.NotComplete
		if produced == 0 {
			return lastCode
		}
		return status.Part
	}
	return status.OK
}

// remapInto applies the mask-based channel remap to every
// samples-per-channel frame in src, writing into dst.
func (m *ChannelMapperReader) remapInto(dst, src []byte) {
	inBpfs := m.inSpec.BytesPerFrameSample()
	outBpfs := m.outSpec.BytesPerFrameSample()
	n := len(src) / inBpfs
	if n == 0 {
		return
	}
	width := m.codec.width
	inMask := m.inSpec.Channels.Mask
	outMask := m.outSpec.Channels.Mask

	var inVals [64]float64
	for i := 0; i < n; i++ {
		inFrame := src[i*inBpfs : (i+1)*inBpfs]
		outFrame := dst[i*outBpfs : (i+1)*outBpfs]

		var sum float64
		inCount := 0
		for b := 0; b < 64; b++ {
			bit := uint64(1) << uint(b)
			if inMask&bit == 0 {
				continue
			}
			idx := bits.OnesCount64(inMask & (bit - 1))
			v := m.codec.decode(inFrame[idx*width:])
			inVals[b] = v
			sum += v
			inCount++
		}
		avg := 0.0
		if inCount > 0 {
			avg = sum / float64(inCount)
		}

		for b := 0; b < 64; b++ {
			bit := uint64(1) << uint(b)
			if outMask&bit == 0 {
				continue
			}
			outIdx := bits.OnesCount64(outMask & (bit - 1))
			v := avg
			if inMask&bit != 0 {
				v = inVals[b]
			}
			m.codec.encode(outFrame[outIdx*width:], v)
		}
	}
}

var _ reader.FrameReader = (*ChannelMapperReader)(nil)
