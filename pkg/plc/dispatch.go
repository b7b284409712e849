package plc

import (
	"rocpipe/pkg/config"
	"rocpipe/pkg/frame"
	"rocpipe/pkg/status"
)

// nopPlc is the None backend: it reports zero lookbehind/lookahead and its
// ProcessLoss leaves the zeroed loss buffer Reader hands it untouched, so
// gaps after the first signal frame come out as silence.
type nopPlc struct {
	spec frame.SampleSpec
}

func (n nopPlc) SampleSpec() frame.SampleSpec  { return n.spec }
func (n nopPlc) LookbehindLen() int            { return 0 }
func (n nopPlc) LookaheadLen() int             { return 0 }
func (n nopPlc) ProcessHistory(*frame.Frame)   {}
func (n nopPlc) ProcessLoss(*frame.Frame, *frame.Frame, *frame.Frame) {}

var _ IPlc = nopPlc{}

// NewBackend resolves a PlcConfig into a concrete IPlc, mirroring
// processor_map.cpp's backend-id dispatch: None and Beep are built in,
// anything at or above MinPlcBackendID is a user plugin id this package
// doesn't know how to construct, reported as NoPlugin; any other id is
// BadConfig. Both codes are fatal per status.IsFatal.
func NewBackend(cfg config.PlcConfig, spec frame.SampleSpec, lookbehind, lookahead int) (IPlc, status.Code) {
	switch {
	case cfg.Backend == int(None):
		return nopPlc{spec: spec}, status.OK
	case cfg.Backend == int(Beep):
		return NewBeepPlc(spec, lookbehind, lookahead), status.OK
	case cfg.Backend >= config.MinPlcBackendID:
		return nil, status.NoPlugin
	default:
		return nil, status.BadConfig
	}
}
