package chanmap

import (
	"fmt"

	"rocpipe/pkg/frame"
	"rocpipe/pkg/reader"
	"rocpipe/pkg/status"
)

// PcmMapperReader converts between PCM formats (integer <-> float,
// endianness, bit depth) via the same table-driven per-sample codec
// ChannelMapperReader uses. Channel set must be identical between input and
// output; remapping belongs to ChannelMapperReader, not here.
type PcmMapperReader struct {
	src      reader.FrameReader
	inSpec   frame.SampleSpec
	outSpec  frame.SampleSpec
	inCodec  sampleCodec
	outCodec sampleCodec

	scratch *frame.Frame
}

// NewPcmMapperReader builds a PcmMapperReader. inSpec and outSpec must
// share SampleRate and Channels; only Format may differ.
func NewPcmMapperReader(src reader.FrameReader, inSpec, outSpec frame.SampleSpec) (*PcmMapperReader, error) {
	if inSpec.SampleRate != outSpec.SampleRate {
		return nil, fmt.Errorf("pcmmap: sample rates must match (in=%d out=%d)", inSpec.SampleRate, outSpec.SampleRate)
	}
	if inSpec.Channels.Mask != outSpec.Channels.Mask {
		return nil, fmt.Errorf("pcmmap: channel sets must match (use ChannelMapperReader for remapping)")
	}
	inCodec, err := codecFor(inSpec.Format)
	if err != nil {
		return nil, err
	}
	outCodec, err := codecFor(outSpec.Format)
	if err != nil {
		return nil, err
	}
	return &PcmMapperReader{
		src:      src,
		inSpec:   inSpec,
		outSpec:  outSpec,
		inCodec:  inCodec,
		outCodec: outCodec,
		scratch:  &frame.Frame{Spec: inSpec},
	}, nil
}

func (p *PcmMapperReader) Read(out *frame.Frame, requestedDuration int, mode status.Mode) status.Code {
	inBpfs := p.inSpec.BytesPerFrameSample()
	outBpfs := p.outSpec.BytesPerFrameSample()
	out.Spec = p.outSpec
	out.EnsureCapacity(requestedDuration * outBpfs)

	produced := 0
	var flags frame.Flags
	var cts int64
	haveCTS := false
	lastCode := status.OK

	for produced < requestedDuration {
		remaining := requestedDuration - produced
		p.scratch.Spec = p.inSpec
		p.scratch.EnsureCapacity(remaining * inBpfs)
		code := p.src.Read(p.scratch, remaining, mode)
		lastCode = code
		if status.IsFatal(code) || code == status.Drain || code == status.Finish {
			break
		}

		n := p.scratch.Duration
		if n > 0 {
			if !haveCTS {
				cts = p.scratch.CaptureTimestamp
				haveCTS = true
			}
			flags |= p.scratch.Flags &^ frame.NotComplete
			p.convertInto(out.Buf[produced*outBpfs:(produced+n)*outBpfs], p.scratch.Buf[:n*inBpfs])
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

func (p *PcmMapperReader) convertInto(dst, src []byte) {
	inW, outW := p.inCodec.width, p.outCodec.width
	nSamples := len(src) / inW
	for i := 0; i < nSamples; i++ {
		v := p.inCodec.decode(src[i*inW:])
		p.outCodec.encode(dst[i*outW:], v)
	}
}

var _ reader.FrameReader = (*PcmMapperReader)(nil)
