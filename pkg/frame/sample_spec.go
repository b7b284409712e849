package frame

import "fmt"

// Format is the PCM sample encoding.
type Format int

const (
	// Raw is 32-bit native float, used internally between pipeline stages
	// before a PcmMapperReader converts to/from a wire format.
	Raw Format = iota
	SInt8
	SInt16LE
	SInt16BE
	SInt24LE
	SInt24BE
	SInt32LE
	SInt32BE
	Float32LE
	Float32BE
	Float64LE
	Float64BE
)

func (f Format) String() string {
	switch f {
	case Raw:
		return "raw"
	case SInt8:
		return "s8"
	case SInt16LE:
		return "s16le"
	case SInt16BE:
		return "s16be"
	case SInt24LE:
		return "s24le"
	case SInt24BE:
		return "s24be"
	case SInt32LE:
		return "s32le"
	case SInt32BE:
		return "s32be"
	case Float32LE:
		return "f32le"
	case Float32BE:
		return "f32be"
	case Float64LE:
		return "f64le"
	case Float64BE:
		return "f64be"
	default:
		return "unknown"
	}
}

// BytesPerSample returns the on-the-wire width of one sample in f, one
// channel's worth.
func (f Format) BytesPerSample() int {
	switch f {
	case Raw, Float32LE, Float32BE:
		return 4
	case SInt8:
		return 1
	case SInt16LE, SInt16BE:
		return 2
	case SInt24LE, SInt24BE:
		return 3
	case SInt32LE, SInt32BE:
		return 4
	case Float64LE, Float64BE:
		return 8
	default:
		return 0
	}
}

// ChannelLayout distinguishes speaker-mapped surround sets from unmapped
// multitrack sets.
type ChannelLayout int

const (
	Surround ChannelLayout = iota
	Multitrack
)

// ChannelOrder selects the bit-to-speaker mapping convention.
type ChannelOrder int

const (
	SMPTE ChannelOrder = iota
	ALSA
)

// ChannelSet describes which channels are present and in what order.
type ChannelSet struct {
	Layout ChannelLayout
	Order  ChannelOrder
	Mask   uint64
}

// Count returns the number of set bits in Mask.
func (c ChannelSet) Count() int {
	n := 0
	m := c.Mask
	for m != 0 {
		n += int(m & 1)
		m >>= 1
	}
	return n
}

// SampleSpec is the semantic description of a PCM stream. A spec is
// "complete" when all three fields are set; "raw" when Format == Raw.
type SampleSpec struct {
	Format     Format
	SampleRate int
	Channels   ChannelSet
}

// IsComplete reports whether every field of s is set.
func (s SampleSpec) IsComplete() bool {
	return s.SampleRate > 0 && s.Channels.Mask != 0
}

// IsRaw reports whether s.Format is the internal Raw float32 format.
func (s SampleSpec) IsRaw() bool {
	return s.Format == Raw
}

// NumChannels is a convenience accessor for s.Channels.Count().
func (s SampleSpec) NumChannels() int {
	return s.Channels.Count()
}

// BytesPerFrameSample returns the interleaved byte width of one
// samples-per-channel unit (one sample on every channel).
func (s SampleSpec) BytesPerFrameSample() int {
	return s.Format.BytesPerSample() * s.NumChannels()
}

// NsToSamples converts a duration in nanoseconds to samples-per-channel at
// s.SampleRate, truncating.
func (s SampleSpec) NsToSamples(ns int64) int {
	if s.SampleRate <= 0 {
		return 0
	}
	return int(ns * int64(s.SampleRate) / 1e9)
}

// SamplesToNs converts samples-per-channel to nanoseconds at s.SampleRate.
func (s SampleSpec) SamplesToNs(samples int) int64 {
	if s.SampleRate <= 0 {
		return 0
	}
	return int64(samples) * 1e9 / int64(s.SampleRate)
}

// BytesToSamples converts a byte count to samples-per-channel given s's
// interleaved frame size.
func (s SampleSpec) BytesToSamples(n int) int {
	bpfs := s.BytesPerFrameSample()
	if bpfs <= 0 {
		return 0
	}
	return n / bpfs
}

// SamplesToBytes is the inverse of BytesToSamples.
func (s SampleSpec) SamplesToBytes(samples int) int {
	return samples * s.BytesPerFrameSample()
}

func (s SampleSpec) String() string {
	return fmt.Sprintf("%s/%dHz/%dch", s.Format, s.SampleRate, s.NumChannels())
}

// MonoChannelSet is a convenience constructor for a single-channel,
// Surround/SMPTE channel set holding only front-center (the common case in
// tests and in the SIP bridge adapters).
func MonoChannelSet() ChannelSet {
	return ChannelSet{Layout: Surround, Order: SMPTE, Mask: 0x4}
}

// StereoChannelSet is a convenience constructor for the front-left/
// front-right channel set.
func StereoChannelSet() ChannelSet {
	return ChannelSet{Layout: Surround, Order: SMPTE, Mask: 0x3}
}
