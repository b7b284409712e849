// Package latency estimates and steers pipeline latency: a PI controller
// maps a latency error to a resampler scaling coefficient, and a monitor
// watches NIQ/E2E latency against configured bounds.
package latency

import "rocpipe/pkg/config"

// gains per profile. Responsive reacts faster to latency error at the cost
// of more jitter in the scaling coefficient; Gradual is smoother but slower
// to correct.
var profileGains = map[config.FreqProfile]struct{ kp, ki float64 }{
	config.Responsive: {kp: 5.0e-9, ki: 1.0e-11},
	config.Gradual:    {kp: 1.0e-9, ki: 2.0e-12},
}

// FreqEstimator is a two-term PI controller: it accumulates latency error
// over time (integral term) and reacts to instantaneous error (proportional
// term), producing a scaling coefficient clamped to
// [1-maxScalingDelta, 1+maxScalingDelta].
type FreqEstimator struct {
	targetLatency   float64
	kp, ki          float64
	maxScalingDelta float64

	integral float64
	coeff    float64
}

// NewFreqEstimator constructs an estimator for the given target latency (in
// nanoseconds) and profile.
func NewFreqEstimator(profile config.FreqProfile, targetLatencyNs float64, maxScalingDelta float32) *FreqEstimator {
	g, ok := profileGains[profile]
	if !ok {
		g = profileGains[config.Gradual]
	}
	return &FreqEstimator{
		targetLatency:   targetLatencyNs,
		kp:              g.kp,
		ki:              g.ki,
		maxScalingDelta: float64(maxScalingDelta),
		coeff:           1,
	}
}

// Update feeds a fresh latency sample (nanoseconds) and returns the updated
// scaling coefficient.
func (fe *FreqEstimator) Update(latencyNs float64) float64 {
	err := latencyNs - fe.targetLatency
	fe.integral += err

	coeff := 1 + fe.kp*err + fe.ki*fe.integral
	if coeff > 1+fe.maxScalingDelta {
		coeff = 1 + fe.maxScalingDelta
		fe.integral -= err // anti-windup: undo the integration that pushed us out of range
	} else if coeff < 1-fe.maxScalingDelta {
		coeff = 1 - fe.maxScalingDelta
		fe.integral -= err
	}
	fe.coeff = coeff
	return coeff
}

// Coeff returns the most recently computed scaling coefficient.
func (fe *FreqEstimator) Coeff() float64 { return fe.coeff }
