package resampler

import (
	"rocpipe/pkg/config"
	"rocpipe/pkg/status"
)

// NewBackend resolves a ResamplerConfig into a concrete IResampler,
// mirroring backend_dispatcher.cpp's "try the next candidate" fallback:
// Auto tries the higher-quality Library backend first and falls back to
// Builtin (which, being self-contained, can never itself fail to
// construct) if Library can't be built for the requested channel count.
// Builtin/Speex/SpeexDec pin a single backend and report NoDriver instead
// of falling back if it can't be built.
func NewBackend(cfg config.ResamplerConfig, channels, frameSize int) (IResampler, status.Code) {
	profile := profileFor(cfg.Profile)

	switch cfg.Backend {
	case "", "auto":
		if channels > 0 && frameSize > 0 {
			if lib := tryNewLibrary(channels, profile); lib != nil {
				return lib, status.OK
			}
		}
		return NewBuiltin(channels, frameSize, profile), status.OK
	case "builtin":
		return NewBuiltin(channels, frameSize, profile), status.OK
	case "speex", "speexdec":
		if lib := tryNewLibrary(channels, profile); lib != nil {
			return lib, status.OK
		}
		return nil, status.NoDriver
	default:
		return nil, status.NoDriver
	}
}

// tryNewLibrary builds a Library backend, recovering from a panic the way
// backend_dispatcher.cpp treats a backend constructor throwing: as "this
// candidate isn't available", not a fatal error.
func tryNewLibrary(channels int, profile Profile) (lib *Library) {
	defer func() {
		if recover() != nil {
			lib = nil
		}
	}()
	if channels <= 0 {
		return nil
	}
	return NewLibrary(channels, profile)
}

func profileFor(s string) Profile {
	switch s {
	case "low":
		return Low
	case "high":
		return High
	default:
		return Medium
	}
}
