// Package pipeline assembles the reusable FrameReader stages (jitter,
// silence fill, concealment, resampling) the bridge's two audio legs are
// built from.
package pipeline

import (
	"fmt"
	"time"

	"rocpipe/pkg/chanmap"
	"rocpipe/pkg/config"
	"rocpipe/pkg/frame"
	"rocpipe/pkg/iopump"
	"rocpipe/pkg/latency"
	"rocpipe/pkg/plc"
	"rocpipe/pkg/reader"
	"rocpipe/pkg/resampler"
	"rocpipe/pkg/status"

	"rocpipe/bridge/pcm"
)

// DriftChainConfig bundles the PCM geometry and tuning knobs BuildDriftChain
// needs to turn a PCMPlayoutBuffer into a concealment+resampling chain.
type DriftChainConfig struct {
	SampleRate int
	Channels   int
	FrameMs    int // granularity the chain is driven at, e.g. 10ms TG frames

	TargetBacklogFrames int // latency.Monitor's target, in FrameMs units
	MaxBacklogFrames    int // emergency hard cap before DropFrames kicks in

	Plc      config.PlcConfig
	Resample config.ResamplerConfig
	Latency  config.LatencyMonitorConfig
}

// queueSource adapts a PCMPlayoutBuffer to reader.FrameReader and
// latency.NIQSource. It never blocks: an underrun is reported as a zeroed
// HasGaps frame of the requested duration rather than the caller stalling,
// the same contract a depacketizer uses when RTP packets haven't arrived
// yet, so plc.Reader downstream conceals it exactly like a lost packet.
type queueSource struct {
	buf         *pcm.PCMPlayoutBuffer
	spec        frame.SampleSpec
	capBytes    int
	droppedSamp int64
}

func newQueueSource(buf *pcm.PCMPlayoutBuffer, spec frame.SampleSpec, capBytes int) *queueSource {
	return &queueSource{buf: buf, spec: spec, capBytes: capBytes}
}

// NIQLatencyNs reports how much audio is currently sitting in buf,
// converted to a duration. This is the only latency signal the bridge has:
// decoded SIP audio carries no wall-clock capture timestamp, so the
// Monitor drives scaling off backlog depth rather than a true end-to-end
// measurement.
func (q *queueSource) NIQLatencyNs() int64 {
	samples := q.spec.BytesToSamples(q.buf.LenBytes())
	return q.spec.SamplesToNs(samples)
}

func (q *queueSource) Read(fr *frame.Frame, requestedDuration int, _ status.Mode) status.Code {
	bpfs := q.spec.BytesPerFrameSample()
	if bpfs <= 0 || requestedDuration <= 0 {
		return status.BadConfig
	}
	need := requestedDuration * bpfs

	if q.capBytes > 0 && q.buf.FrameSize() > 0 {
		if over := q.buf.LenBytes() - q.capBytes; over > 0 {
			dropped := q.buf.DropFrames(over / q.buf.FrameSize())
			q.droppedSamp += int64(dropped * q.buf.FrameSize() / bpfs)
		}
	}

	fr.Spec = q.spec
	fr.EnsureCapacity(need)
	n := q.buf.ReadBytes(fr.Buf[:need])

	switch {
	case n == need:
		fr.Duration = requestedDuration
		fr.Flags = frame.HasSignal
		fr.CaptureTimestamp = 0
		return status.OK
	case n > 0:
		fr.Duration = n / bpfs
		fr.Flags = frame.HasSignal | frame.NotComplete
		fr.CaptureTimestamp = 0
		return status.Part
	default:
		buf := fr.Buf[:need]
		for i := range buf {
			buf[i] = 0
		}
		fr.Duration = requestedDuration
		fr.Flags = frame.HasGaps
		fr.CaptureTimestamp = 0
		return status.OK
	}
}

var _ reader.FrameReader = (*queueSource)(nil)
var _ latency.NIQSource = (*queueSource)(nil)

// BuildDriftChain assembles the concealment + rate-adaptive chain over buf:
//
//	queueSource (PCM16) -> plc.Reader (PCM16, format-agnostic)
//	  -> PcmMapperReader (PCM16 -> Raw) -> resampler.Reader (Raw)
//	  -> PcmMapperReader (Raw -> PCM16)
//
// wrapped in a latency.Monitor that steers the resampler off queueSource's
// own backlog depth. This replaces the sample-splicing driftAcc logic the
// bridge used to do by hand with the general-purpose components built for
// exactly this job.
func BuildDriftChain(buf *pcm.PCMPlayoutBuffer, cfg DriftChainConfig) (*latency.Monitor, *queueSource, error) {
	channels := frame.MonoChannelSet()
	if cfg.Channels == 2 {
		channels = frame.StereoChannelSet()
	}
	pcmSpec := frame.SampleSpec{Format: frame.SInt16LE, SampleRate: cfg.SampleRate, Channels: channels}
	rawSpec := frame.SampleSpec{Format: frame.Raw, SampleRate: cfg.SampleRate, Channels: channels}

	frameSamples := cfg.SampleRate * cfg.FrameMs / 1000
	if frameSamples <= 0 {
		return nil, nil, fmt.Errorf("drift chain: sample rate/frame duration produce zero-length frames")
	}
	capBytes := pcmSpec.SamplesToBytes(frameSamples * cfg.MaxBacklogFrames)

	qs := newQueueSource(buf, pcmSpec, capBytes)

	plcImpl, code := plc.NewBackend(cfg.Plc, pcmSpec, frameSamples, frameSamples)
	if code != status.OK {
		return nil, nil, fmt.Errorf("drift chain: plc backend: %s", code)
	}
	concealed := plc.New(qs, plcImpl, pcmSpec, 4*frameSamples*pcmSpec.BytesPerFrameSample())

	toRaw, err := chanmap.NewPcmMapperReader(concealed, pcmSpec, rawSpec)
	if err != nil {
		return nil, nil, fmt.Errorf("drift chain: to-raw mapper: %w", err)
	}

	resamplerImpl, code := resampler.NewBackend(cfg.Resample, channels.Count(), frameSamples)
	if code != status.OK {
		return nil, nil, fmt.Errorf("drift chain: resampler backend: %s", code)
	}
	resampled := resampler.New(toRaw, resamplerImpl, rawSpec, cfg.SampleRate)

	toPcm, err := chanmap.NewPcmMapperReader(resampled, rawSpec, pcmSpec)
	if err != nil {
		return nil, nil, fmt.Errorf("drift chain: to-pcm mapper: %w", err)
	}

	targetLatencyNs := pcmSpec.SamplesToNs(frameSamples * cfg.TargetBacklogFrames)
	mon := latency.NewMonitor(toPcm, qs, resampled, cfg.Latency, targetLatencyNs, cfg.SampleRate, cfg.SampleRate)

	return mon, qs, nil
}

// monitorSource adapts a latency.Monitor to iopump.Source. It never blocks
// and reports neither latency nor pause/resume state; pacing the transfer
// loop is the sink's job (a real playback endpoint blocks its Write until
// it can accept more audio).
type monitorSource struct {
	mon  *latency.Monitor
	spec frame.SampleSpec
}

func newMonitorSource(mon *latency.Monitor, spec frame.SampleSpec) *monitorSource {
	return &monitorSource{mon: mon, spec: spec}
}

func (m *monitorSource) Type() iopump.DeviceType      { return iopump.SourceDevice }
func (m *monitorSource) SampleSpec() frame.SampleSpec { return m.spec }
func (m *monitorSource) HasClock() bool               { return false }
func (m *monitorSource) HasLatency() bool             { return false }
func (m *monitorSource) Latency() int64               { return 0 }
func (m *monitorSource) HasState() bool               { return false }
func (m *monitorSource) State() iopump.DeviceState    { return iopump.StateActive }
func (m *monitorSource) Pause() status.Code           { return status.OK }
func (m *monitorSource) Resume() status.Code          { return status.OK }
func (m *monitorSource) Close() status.Code           { return status.OK }
func (m *monitorSource) Rewind() status.Code          { return status.OK }
func (m *monitorSource) Reclock(int64) status.Code    { return status.OK }

func (m *monitorSource) Read(fr *frame.Frame, requestedDuration int, mode status.Mode) status.Code {
	return m.mon.Read(fr, requestedDuration, mode)
}

var _ iopump.Source = (*monitorSource)(nil)

// pacedSink adapts a plain send func to iopump.Sink, pacing calls to one
// per frameDur the way a real playback device's Write blocks until its
// ring has room. Resyncs after a stall longer than one frame instead of
// bursting to catch up.
type pacedSink struct {
	spec     frame.SampleSpec
	frameDur time.Duration
	send     func([]byte) error
	nextTick time.Time
}

func newPacedSink(spec frame.SampleSpec, frameDur time.Duration, send func([]byte) error) *pacedSink {
	return &pacedSink{spec: spec, frameDur: frameDur, send: send, nextTick: time.Now()}
}

func (s *pacedSink) Type() iopump.DeviceType      { return iopump.SinkDevice }
func (s *pacedSink) SampleSpec() frame.SampleSpec { return s.spec }
func (s *pacedSink) HasClock() bool               { return true }
func (s *pacedSink) HasLatency() bool             { return true }
func (s *pacedSink) Latency() int64               { return s.frameDur.Nanoseconds() }
func (s *pacedSink) HasState() bool               { return false }
func (s *pacedSink) State() iopump.DeviceState    { return iopump.StateActive }
func (s *pacedSink) Pause() status.Code           { return status.OK }
func (s *pacedSink) Resume() status.Code          { return status.OK }
func (s *pacedSink) Close() status.Code           { return status.OK }
func (s *pacedSink) Flush() status.Code           { return status.OK }

func (s *pacedSink) Write(fr *frame.Frame) status.Code {
	if wait := time.Until(s.nextTick); wait > 0 {
		time.Sleep(wait)
	}
	s.nextTick = s.nextTick.Add(s.frameDur)
	if now := time.Now(); now.Sub(s.nextTick) > s.frameDur {
		s.nextTick = now
	}

	bpfs := fr.Spec.BytesPerFrameSample()
	if err := s.send(fr.Buf[:fr.Duration*bpfs]); err != nil {
		return status.ErrDevice
	}
	return status.OK
}

var _ iopump.Sink = (*pacedSink)(nil)

// DriftPump is an io pump driving PCM from a PCMPlayoutBuffer to a sink
// callback at a fixed frame cadence, plus the Monitor steering its
// resampler so the caller can log latency stats alongside it.
type DriftPump struct {
	Pump    *iopump.Pump
	Monitor *latency.Monitor
}

// NewDriftPump builds a DriftPump: BuildDriftChain's reader stack, an
// iopump.Source/Sink pair around it, and the Pump coupling them in
// Permanent mode so it runs until Stop is called.
func NewDriftPump(buf *pcm.PCMPlayoutBuffer, cfg DriftChainConfig, send func([]byte) error) (*DriftPump, error) {
	mon, _, err := BuildDriftChain(buf, cfg)
	if err != nil {
		return nil, err
	}

	channels := frame.MonoChannelSet()
	if cfg.Channels == 2 {
		channels = frame.StereoChannelSet()
	}
	spec := frame.SampleSpec{Format: frame.SInt16LE, SampleRate: cfg.SampleRate, Channels: channels}
	frameSamples := cfg.SampleRate * cfg.FrameMs / 1000

	src := newMonitorSource(mon, spec)
	sink := newPacedSink(spec, time.Duration(cfg.FrameMs)*time.Millisecond, send)
	pump := iopump.New(src, nil, sink, frameSamples, iopump.Permanent)

	return &DriftPump{Pump: pump, Monitor: mon}, nil
}
