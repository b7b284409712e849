package plc

import (
	"rocpipe/pkg/frame"
)

// IPlc is the pluggable packet-loss-concealment interface. Lookbehind
// and lookahead lengths are in samples-per-channel.
type IPlc interface {
	SampleSpec() frame.SampleSpec
	LookbehindLen() int
	LookaheadLen() int

	// ProcessHistory is called with every HasSignal frame as it passes
	// through, so implementations that want raw signal context beyond
	// PlcReader's own ring buffer can maintain it themselves.
	ProcessHistory(fr *frame.Frame)

	// ProcessLoss writes synthetic samples into lost, using prev and next
	// as context. prev and/or next are nil when no lookbehind/lookahead
	// was available or configured.
	ProcessLoss(lost, prev, next *frame.Frame)
}

// Backend selects a PlcConfig.Backend value.
type Backend int

const (
	// None performs no concealment; gaps are delivered as silence, as
	// produced by the depacketizer.
	None Backend = iota
	// Beep fills losses with a fixed low-amplitude tone; history is not
	// used.
	Beep
	// MinPluginID is the first id reserved for user plugins.
	MinPluginID = 100
)
