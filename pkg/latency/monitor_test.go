package latency

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"rocpipe/pkg/config"
	"rocpipe/pkg/frame"
	"rocpipe/pkg/status"
)

func TestFreqEstimator_ClampsToMaxScalingDelta(t *testing.T) {
	fe := NewFreqEstimator(config.Responsive, 100_000_000, 0.01)

	// Feed a huge, persistent positive error: the coefficient must never
	// leave [1-delta, 1+delta] no matter how large or how long the error.
	var coeff float64
	for i := 0; i < 1000; i++ {
		coeff = fe.Update(10_000_000_000) // 10s latency vs 100ms target
	}
	require.LessOrEqual(t, coeff, 1.01)
	require.GreaterOrEqual(t, coeff, 0.99)
}

func TestFreqEstimator_TracksTowardTarget(t *testing.T) {
	fe := NewFreqEstimator(config.Gradual, 100_000_000, 0.05)

	above := fe.Update(150_000_000) // latency above target -> speed up (coeff > 1)
	require.Greater(t, above, 1.0)

	fe2 := NewFreqEstimator(config.Gradual, 100_000_000, 0.05)
	below := fe2.Update(50_000_000) // latency below target -> slow down (coeff < 1)
	require.Less(t, below, 1.0)
}

type constSource struct {
	cts int64
}

func (s *constSource) Read(fr *frame.Frame, requestedDuration int, mode status.Mode) status.Code {
	fr.Duration = requestedDuration
	fr.CaptureTimestamp = s.cts
	fr.Flags = frame.HasSignal
	return status.OK
}

type constNIQ struct{ ns int64 }

func (n constNIQ) NIQLatencyNs() int64 { return n.ns }

type nopScaler struct{ lastCoeff float64 }

func (s *nopScaler) SetScaling(inRate, outRate int, multiplier float64) bool {
	s.lastCoeff = multiplier
	return true
}

// With min_latency=10ms and max_latency=100ms, a queue depth of 150ms must
// cause the next read to return Abort and the monitor to report itself
// broken.
func TestMonitor_LatencyOutOfBoundsAborts(t *testing.T) {
	src := &constSource{cts: 0} // cts==0 means E2E latency is not derivable
	niq := constNIQ{ns: int64(150 * time.Millisecond)}
	scaler := &nopScaler{}

	cfg := config.LatencyMonitorConfig{
		MinLatency: 10 * time.Millisecond,
		MaxLatency: 100 * time.Millisecond,
	}
	m := NewMonitor(src, niq, scaler, cfg, int64(40*time.Millisecond), 48000, 48000)

	fr := &frame.Frame{Buf: make([]byte, 4*160)}
	code := m.Read(fr, 160, status.Hard)
	require.Equal(t, status.Abort, code)
	require.False(t, m.IsAlive())

	// Once broken, subsequent reads must keep returning Abort without
	// touching the wrapped source again.
	code = m.Read(fr, 160, status.Hard)
	require.Equal(t, status.Abort, code)
}

func TestMonitor_WithinBoundsPassesThrough(t *testing.T) {
	src := &constSource{cts: 0}
	niq := constNIQ{ns: int64(40 * time.Millisecond)}
	scaler := &nopScaler{}

	cfg := config.LatencyMonitorConfig{
		MinLatency: 10 * time.Millisecond,
		MaxLatency: 100 * time.Millisecond,
	}
	m := NewMonitor(src, niq, scaler, cfg, int64(40*time.Millisecond), 48000, 48000)

	fr := &frame.Frame{Buf: make([]byte, 4*160)}
	code := m.Read(fr, 160, status.Hard)
	require.Equal(t, status.OK, code)
	require.True(t, m.IsAlive())
}
