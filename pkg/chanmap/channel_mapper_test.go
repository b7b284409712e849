package chanmap

import (
	"testing"

	"github.com/stretchr/testify/require"

	"rocpipe/pkg/frame"
	"rocpipe/pkg/status"
)

var stereoSpec16 = frame.SampleSpec{Format: frame.SInt16LE, SampleRate: 8000, Channels: frame.StereoChannelSet()}
var monoSpec16 = frame.SampleSpec{Format: frame.SInt16LE, SampleRate: 8000, Channels: frame.MonoChannelSet()}

// constStereoReader always returns duration samples of a fixed (left, right)
// pair.
type constStereoReader struct {
	left, right int16
}

func (r *constStereoReader) Read(out *frame.Frame, requestedDuration int, mode status.Mode) status.Code {
	out.Spec = stereoSpec16
	out.EnsureCapacity(requestedDuration * 4)
	for i := 0; i < requestedDuration; i++ {
		off := i * 4
		putS16(out.Buf[off:], r.left)
		putS16(out.Buf[off+2:], r.right)
	}
	out.Duration = requestedDuration
	out.Flags = frame.HasSignal
	out.CaptureTimestamp = 1000
	return status.OK
}

func putS16(b []byte, v int16) {
	b[0] = byte(uint16(v))
	b[1] = byte(uint16(v) >> 8)
}

func getS16(b []byte) int16 {
	return int16(uint16(b[0]) | uint16(b[1])<<8)
}

func TestChannelMapper_Downmix(t *testing.T) {
	src := &constStereoReader{left: 10000, right: -10000}
	m, err := NewChannelMapperReader(src, stereoSpec16, monoSpec16)
	require.NoError(t, err)

	out := &frame.Frame{}
	code := m.Read(out, 10, status.Hard)
	require.Equal(t, status.OK, code)
	require.Equal(t, 10, out.Duration)
	// average of +10000 and -10000 is 0
	require.EqualValues(t, 0, getS16(out.Buf[0:2]))
}

func TestChannelMapper_Upmix(t *testing.T) {
	m, err := NewChannelMapperReader(&monoConstReader{value: 5000}, monoSpec16, stereoSpec16)
	require.NoError(t, err)

	out := &frame.Frame{}
	code := m.Read(out, 5, status.Hard)
	require.Equal(t, status.OK, code)
	for i := 0; i < 5; i++ {
		off := i * 4
		require.EqualValues(t, 5000, getS16(out.Buf[off:off+2]))
		require.EqualValues(t, 5000, getS16(out.Buf[off+2:off+4]))
	}
}

type monoConstReader struct{ value int16 }

func (r *monoConstReader) Read(out *frame.Frame, requestedDuration int, mode status.Mode) status.Code {
	out.Spec = monoSpec16
	out.EnsureCapacity(requestedDuration * 2)
	for i := 0; i < requestedDuration; i++ {
		putS16(out.Buf[i*2:], r.value)
	}
	out.Duration = requestedDuration
	out.Flags = frame.HasSignal
	out.CaptureTimestamp = 2000
	return status.OK
}

func TestPcmMapper_S16ToFloat32RoundTrips(t *testing.T) {
	f32Spec := frame.SampleSpec{Format: frame.Float32LE, SampleRate: 8000, Channels: frame.MonoChannelSet()}
	src := &monoConstReader{value: 16000}
	m, err := NewPcmMapperReader(src, monoSpec16, f32Spec)
	require.NoError(t, err)

	out := &frame.Frame{}
	require.Equal(t, status.OK, m.Read(out, 4, status.Hard))
	require.Equal(t, f32Spec, out.Spec)
	require.Equal(t, 4, out.Duration)

	back, err := NewPcmMapperReader(sliceReaderOf(out), f32Spec, monoSpec16)
	require.NoError(t, err)
	out2 := &frame.Frame{}
	require.Equal(t, status.OK, back.Read(out2, 4, status.Hard))
	// int16 -> float -> int16 recovers the exact value: k/32768 is exact
	// in float32 for every int16 k.
	require.EqualValues(t, 16000, getS16(out2.Buf[0:2]))
}

// sliceReaderOf returns a one-shot FrameReader that replays fr once, then
// Finish.
type sliceReader struct {
	fr   *frame.Frame
	done bool
}

func sliceReaderOf(fr *frame.Frame) *sliceReader { return &sliceReader{fr: fr} }

func (s *sliceReader) Read(out *frame.Frame, requestedDuration int, mode status.Mode) status.Code {
	if s.done {
		return status.Finish
	}
	s.done = true
	out.Spec = s.fr.Spec
	n := s.fr.Duration
	if n > requestedDuration {
		n = requestedDuration
	}
	bpfs := s.fr.BytesPerFrameSample()
	out.EnsureCapacity(n * bpfs)
	copy(out.Buf, s.fr.Buf[:n*bpfs])
	out.Duration = n
	out.Flags = s.fr.Flags
	out.CaptureTimestamp = s.fr.CaptureTimestamp
	return status.OK
}
