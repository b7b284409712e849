// Package iopump couples a Source to a Sink, transferring frames one at a
// time and optionally failing over to a backup source while the main one
// is idle.
package iopump

import (
	"rocpipe/pkg/frame"
	"rocpipe/pkg/status"
)

// DeviceType distinguishes sinks from sources.
type DeviceType int

const (
	SinkDevice DeviceType = iota
	SourceDevice
)

// DeviceState is the pause/resume state of a device that HasState.
type DeviceState int

const (
	StateActive DeviceState = iota
	StateIdle
	StatePaused
)

// Device is the capability set every Source and Sink shares.
type Device interface {
	Type() DeviceType
	SampleSpec() frame.SampleSpec
	HasClock() bool

	HasLatency() bool
	Latency() int64 // ns; only meaningful if HasLatency()

	HasState() bool
	State() DeviceState // only meaningful if HasState()
	Pause() status.Code
	Resume() status.Code

	// Close is idempotent: IoPump calls it exactly once per device on
	// exit, but implementations should tolerate a stray extra call.
	Close() status.Code
}

// Source is a frame producer: a sound-card capture device, a file reader,
// or (in a sender pipeline) the bottom of the encode chain.
type Source interface {
	Device
	Rewind() status.Code
	// Reclock reports back the Unix-nanosecond instant at which a frame
	// this source produced was actually rendered, so clock-recovery
	// sources (e.g. a live capture device) can correct drift.
	Reclock(playbackTimeNs int64) status.Code
	Read(fr *frame.Frame, requestedDuration int, mode status.Mode) status.Code
}

// Sink is a frame consumer: a sound-card playback device, a file writer,
// or the top of a receiver's decode chain.
type Sink interface {
	Device
	Write(fr *frame.Frame) status.Code
	Flush() status.Code
}
