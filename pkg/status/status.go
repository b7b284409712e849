// Package status defines the StatusCode taxonomy shared by every stage of
// the audio pipeline. Codes are plain comparable values, not errors: the
// hot path returns one per frame and we don't want to allocate an error
// interface value for every 10ms of audio.
package status

// Code is the return value of every FrameReader.Read call and every other
// pipeline operation that can fail or stall.
type Code int

const (
	// OK means the frame was filled to the requested duration.
	OK Code = iota
	// Part means the frame was filled to less than the requested duration;
	// the caller may re-issue Read for the remainder.
	Part
	// Drain means nothing was produced (soft mode only).
	Drain
	// Finish means end of stream; no further useful reads will succeed.
	Finish
	// NoMem means pool allocation failed.
	NoMem
	// BadBuffer means the caller-supplied buffer was invalid (too small
	// and non-reallocatable, wrong layout, etc).
	BadBuffer
	// BadConfig means a configuration value was invalid.
	BadConfig
	// BadOperation means the operation is not valid in the current state.
	BadOperation
	// BadInterface means a plugin interface returned a malformed result.
	BadInterface
	// ErrFile means a file-backed device failed.
	ErrFile
	// ErrDevice means a hardware device failed.
	ErrDevice
	// NoDriver means no backend driver matched the request.
	NoDriver
	// NoFormat means no backend supports the requested format.
	NoFormat
	// NoPlugin means no plugin matched the requested id.
	NoPlugin
	// Abort is a fatal, unrecoverable condition; the pipeline is Broken.
	Abort
)

func (c Code) String() string {
	switch c {
	case OK:
		return "ok"
	case Part:
		return "part"
	case Drain:
		return "drain"
	case Finish:
		return "finish"
	case NoMem:
		return "no_mem"
	case BadBuffer:
		return "bad_buffer"
	case BadConfig:
		return "bad_config"
	case BadOperation:
		return "bad_operation"
	case BadInterface:
		return "bad_interface"
	case ErrFile:
		return "err_file"
	case ErrDevice:
		return "err_device"
	case NoDriver:
		return "no_driver"
	case NoFormat:
		return "no_format"
	case NoPlugin:
		return "no_plugin"
	case Abort:
		return "abort"
	default:
		return "unknown"
	}
}

// IsFatal reports whether c terminates the pipeline (resource
// exhaustion, configuration, I/O, driver absence surfaced all the way up,
// or Abort).
func IsFatal(c Code) bool {
	switch c {
	case NoMem, BadBuffer, BadConfig, BadOperation, BadInterface,
		ErrFile, ErrDevice, NoDriver, NoFormat, NoPlugin, Abort:
		return true
	default:
		return false
	}
}

// Mode selects blocking behavior for FrameReader.Read.
type Mode int

const (
	// Hard blocks/produces until data, termination, or a fatal error;
	// must never return Drain.
	Hard Mode = iota
	// Soft returns Drain promptly if data is not already buffered.
	Soft
)

func (m Mode) String() string {
	if m == Soft {
		return "soft"
	}
	return "hard"
}
