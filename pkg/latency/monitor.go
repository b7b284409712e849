package latency

import (
	"fmt"
	"time"

	"rocpipe/pkg/config"
	"rocpipe/pkg/frame"
	"rocpipe/pkg/reader"
	"rocpipe/pkg/status"
)

// Scaler is the subset of ResamplerReader the monitor drives.
type Scaler interface {
	SetScaling(inRate, outRate int, multiplier float64) bool
}

// NIQSource reports the network incoming queue latency in nanoseconds: how
// much audio is currently buffered between the packet queue and the
// depacketizer.
type NIQSource interface {
	NIQLatencyNs() int64
}

// Stats mirrors LatencyMonitorStats: the two latency estimates a caller can
// query on behalf of a status request.
type Stats struct {
	NIQLatencyNs int64
	E2ELatencyNs int64
}

// Monitor wraps a FrameReader, periodically re-estimating latency and
// driving a Scaler's scaling coefficient to hold it near targetLatency. If
// latency leaves [minLatency, maxLatency] the session is marked broken and
// subsequent reads return status.Abort.
type Monitor struct {
	e2e    *E2EMonitorUnix
	niq    NIQSource
	scaler Scaler
	fe     *FreqEstimator

	minLatencyNs, maxLatencyNs int64
	inRate, outRate            int

	samplesSinceFe int64
	feIntervalSmp  int64

	broken bool
	stats  Stats
}

// NewMonitor constructs a Monitor. targetLatencyNs is the latency the
// pipeline should maintain; minLatency/maxLatency come from cfg unless they
// are both zero, in which case they're derived from targetLatencyNs using
// the same formula the original carries for deduce_min_latency/
// deduce_max_latency. That formula computes min as target-target (always
// zero) — preserved verbatim rather than silently "fixed", per the decision
// to keep but not repair this specific quirk.
func NewMonitor(src reader.FrameReader, niq NIQSource, scaler Scaler, cfg config.LatencyMonitorConfig, targetLatencyNs int64, inRate, outRate int) *Monitor {
	minLatencyNs := cfg.MinLatency.Nanoseconds()
	maxLatencyNs := cfg.MaxLatency.Nanoseconds()
	if minLatencyNs == 0 && maxLatencyNs == 0 {
		minLatencyNs = targetLatencyNs - targetLatencyNs
		maxLatencyNs = targetLatencyNs + targetLatencyNs
	}

	updateIntervalNs := cfg.FeUpdateInterval.Nanoseconds()
	if updateIntervalNs <= 0 {
		updateIntervalNs = (5 * time.Millisecond).Nanoseconds()
	}
	feIntervalSmp := updateIntervalNs * int64(inRate) / int64(time.Second)
	if feIntervalSmp <= 0 {
		feIntervalSmp = 1
	}

	m := &Monitor{
		e2e:           NewE2EMonitorUnix(src),
		niq:           niq,
		scaler:        scaler,
		minLatencyNs:  minLatencyNs,
		maxLatencyNs:  maxLatencyNs,
		inRate:        inRate,
		outRate:       outRate,
		feIntervalSmp: feIntervalSmp,
	}
	if cfg.FeEnable {
		profile := cfg.FeProfile
		if profile == config.ProfileDefault {
			if targetLatencyNs < (30 * time.Millisecond).Nanoseconds() {
				profile = config.Responsive
			} else {
				profile = config.Gradual
			}
		}
		m.fe = NewFreqEstimator(profile, float64(targetLatencyNs), cfg.MaxScalingDelta)
	}
	return m
}

// Read forwards to the wrapped chain, then updates latency estimates and
// (every fe_update_interval worth of samples) the resampler's scaling.
func (m *Monitor) Read(fr *frame.Frame, requestedDuration int, mode status.Mode) status.Code {
	if m.broken {
		return status.Abort
	}

	code := m.e2e.Read(fr, requestedDuration, mode)

	if m.niq != nil {
		m.stats.NIQLatencyNs = m.niq.NIQLatencyNs()
	}
	if m.e2e.HasLatency() {
		m.stats.E2ELatencyNs = m.e2e.Latency()
	}

	latency := m.stats.NIQLatencyNs
	if m.stats.E2ELatencyNs != 0 {
		latency = m.stats.E2ELatencyNs
	}

	if !m.checkBounds(latency) {
		m.broken = true
		return status.Abort
	}

	m.samplesSinceFe += int64(fr.Duration)
	if m.fe != nil && m.samplesSinceFe >= m.feIntervalSmp {
		m.samplesSinceFe = 0
		coeff := m.fe.Update(float64(latency))
		m.scaler.SetScaling(m.inRate, m.outRate, coeff)
	}

	return code
}

func (m *Monitor) checkBounds(latencyNs int64) bool {
	if m.maxLatencyNs <= m.minLatencyNs {
		return true // bounds not configured; never trips
	}
	return latencyNs >= m.minLatencyNs && latencyNs <= m.maxLatencyNs
}

// IsAlive reports whether the session has not yet been marked broken.
func (m *Monitor) IsAlive() bool { return !m.broken }

// CurrentStats returns the latest latency estimates.
func (m *Monitor) CurrentStats() Stats { return m.stats }

func (m *Monitor) String() string {
	return fmt.Sprintf("latency(niq=%dns e2e=%dns broken=%v)", m.stats.NIQLatencyNs, m.stats.E2ELatencyNs, m.broken)
}

var _ reader.FrameReader = (*Monitor)(nil)
