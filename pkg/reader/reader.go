// Package reader defines the one-operation contract every pipeline stage
// implements.
package reader

import (
	"rocpipe/pkg/frame"
	"rocpipe/pkg/status"
)

// FrameReader is the contract every pipeline stage exposes. requestedDuration
// is in samples-per-channel. On status.OK or status.Part, the frame's
// Duration, buffer size, and (where applicable) CaptureTimestamp and Flags
// must be set by the implementation.
//
// In status.Hard mode, Read must block/produce until either it has filled
// some data, the stream terminates, or a fatal error occurs; it must never
// return status.Drain. In status.Soft mode, Read must return status.Drain
// promptly if data is not already buffered.
type FrameReader interface {
	Read(fr *frame.Frame, requestedDuration int, mode status.Mode) status.Code
}

// Func adapts a plain function to FrameReader.
type Func func(fr *frame.Frame, requestedDuration int, mode status.Mode) status.Code

func (f Func) Read(fr *frame.Frame, requestedDuration int, mode status.Mode) status.Code {
	return f(fr, requestedDuration, mode)
}
