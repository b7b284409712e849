package netio

import (
	"testing"

	prtp "github.com/pion/rtp"
	"github.com/stretchr/testify/require"

	"rocpipe/pkg/frame"
	"rocpipe/pkg/status"
)

var monoRawSpec = frame.SampleSpec{Format: frame.Raw, SampleRate: 8000, Channels: frame.MonoChannelSet()}

func marshalPacket(t *testing.T, seq uint16, ts uint32, payload []byte) []byte {
	t.Helper()
	pkt := &prtp.Packet{
		Header: prtp.Header{
			SequenceNumber: seq,
			Timestamp:      ts,
			Version:        2,
		},
		Payload: payload,
	}
	b, err := pkt.Marshal()
	require.NoError(t, err)
	return b
}

func payloadOf(samples int) []byte {
	return make([]byte, monoRawSpec.SamplesToBytes(samples))
}

// Every frame the depacketizer hands back is either entirely HasSignal or
// entirely HasGaps.
func TestDepacketizer_NoGaps(t *testing.T) {
	d := New(monoRawSpec, 80, 8, nil)
	for i := uint16(0); i < 3; i++ {
		code := d.Push(Packet{Payload: marshalPacket(t, i, uint32(i)*80, payloadOf(80))})
		require.Equal(t, status.OK, code)
	}
	d.Close()

	out := &frame.Frame{}
	for i := 0; i < 3; i++ {
		code := d.Read(out, 80, status.Hard)
		require.Equal(t, status.OK, code)
		require.Equal(t, frame.HasSignal, out.Flags)
		require.Equal(t, 80, out.Duration)
	}
	code := d.Read(out, 80, status.Hard)
	require.Equal(t, status.Finish, code)
}

func TestDepacketizer_DetectsGap(t *testing.T) {
	d := New(monoRawSpec, 80, 8, nil)
	require.Equal(t, status.OK, d.Push(Packet{Payload: marshalPacket(t, 0, 0, payloadOf(80))}))
	// seq 1 missing -> one frame's worth of gap should be synthesized
	require.Equal(t, status.OK, d.Push(Packet{Payload: marshalPacket(t, 2, 160, payloadOf(80))}))
	d.Close()

	out := &frame.Frame{}
	require.Equal(t, status.OK, d.Read(out, 80, status.Hard))
	require.Equal(t, frame.HasSignal, out.Flags)

	require.Equal(t, status.OK, d.Read(out, 80, status.Hard))
	require.Equal(t, frame.HasGaps, out.Flags)

	require.Equal(t, status.OK, d.Read(out, 80, status.Hard))
	require.Equal(t, frame.HasSignal, out.Flags)

	require.Equal(t, status.Finish, d.Read(out, 80, status.Hard))
}

func TestDepacketizer_SoftReadDrainsWhenEmpty(t *testing.T) {
	d := New(monoRawSpec, 80, 8, nil)
	out := &frame.Frame{}
	require.Equal(t, status.Drain, d.Read(out, 80, status.Soft))
}
