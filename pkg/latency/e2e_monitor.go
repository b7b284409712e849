package latency

import (
	"time"

	"rocpipe/pkg/frame"
	"rocpipe/pkg/reader"
	"rocpipe/pkg/status"
)

// E2EMonitorUnix forwards frames unchanged while tracking end-to-end
// latency as wall-clock-now minus each frame's capture timestamp. This is
// the canonical variant: capture timestamps travel in Unix time (populated
// via RTCP sender reports), so comparing against a Unix clock is the
// correct match. Kept alongside E2EMonitorMonotonic, which historically
// measured against CLOCK_MONOTONIC instead.
type E2EMonitorUnix struct {
	src     reader.FrameReader
	ready   bool
	latency int64
}

func NewE2EMonitorUnix(src reader.FrameReader) *E2EMonitorUnix {
	return &E2EMonitorUnix{src: src}
}

func (m *E2EMonitorUnix) Read(fr *frame.Frame, requestedDuration int, mode status.Mode) status.Code {
	code := m.src.Read(fr, requestedDuration, mode)
	if fr.CaptureTimestamp != 0 {
		m.ready = true
		m.latency = time.Now().UnixNano() - fr.CaptureTimestamp
	} else {
		m.ready = false
	}
	return code
}

func (m *E2EMonitorUnix) HasLatency() bool { return m.ready }
func (m *E2EMonitorUnix) Latency() int64   { return m.latency }

// E2EMonitorMonotonic is the superseded sibling of E2EMonitorUnix: it
// measures elapsed time against a monotonic clock anchored at construction
// instead of wall-clock Unix time. Kept for receivers that still populate
// capture timestamps from a monotonic source rather than RTCP-derived Unix
// time (Open Question (a): the Unix variant is canonical going forward).
type E2EMonitorMonotonic struct {
	src     reader.FrameReader
	epoch   time.Time
	ready   bool
	latency int64
}

func NewE2EMonitorMonotonic(src reader.FrameReader) *E2EMonitorMonotonic {
	return &E2EMonitorMonotonic{src: src, epoch: time.Now()}
}

func (m *E2EMonitorMonotonic) Read(fr *frame.Frame, requestedDuration int, mode status.Mode) status.Code {
	code := m.src.Read(fr, requestedDuration, mode)
	if fr.CaptureTimestamp != 0 {
		m.ready = true
		m.latency = int64(time.Since(m.epoch)) - fr.CaptureTimestamp
	} else {
		m.ready = false
	}
	return code
}

func (m *E2EMonitorMonotonic) HasLatency() bool { return m.ready }
func (m *E2EMonitorMonotonic) Latency() int64   { return m.latency }

var (
	_ reader.FrameReader = (*E2EMonitorUnix)(nil)
	_ reader.FrameReader = (*E2EMonitorMonotonic)(nil)
)
