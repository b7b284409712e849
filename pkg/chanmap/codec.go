// Package chanmap remaps channel layouts and converts between PCM formats:
// the two narrow transcoding stages that sit between the resampler and the
// mixer in a receiver chain.
package chanmap

import (
	"encoding/binary"
	"fmt"
	"math"

	"rocpipe/pkg/frame"
)

// sampleCodec is the table-driven per-sample converter both readers in this
// package build on: decode reads one sample (width bytes) and returns it as
// a float64 in [-1, 1] (frame.Raw and the Float formats pass the value
// through unscaled); encode is the inverse, clamping to the target range.
type sampleCodec struct {
	width  int
	decode func(b []byte) float64
	encode func(b []byte, v float64)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func decode24(b []byte, le bool) float64 {
	var v int32
	if le {
		v = int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
	} else {
		v = int32(b[2]) | int32(b[1])<<8 | int32(b[0])<<16
	}
	if v&0x800000 != 0 {
		v |= ^int32(0xFFFFFF)
	}
	return float64(v) / 8388608
}

func encode24(b []byte, v float64, le bool) {
	iv := int32(clamp(v*8388608, -8388608, 8388607))
	if le {
		b[0] = byte(iv)
		b[1] = byte(iv >> 8)
		b[2] = byte(iv >> 16)
	} else {
		b[2] = byte(iv)
		b[1] = byte(iv >> 8)
		b[0] = byte(iv >> 16)
	}
}

var codecs = map[frame.Format]sampleCodec{
	frame.Raw: {
		width:  4,
		decode: func(b []byte) float64 { return float64(math.Float32frombits(binary.LittleEndian.Uint32(b))) },
		encode: func(b []byte, v float64) { binary.LittleEndian.PutUint32(b, math.Float32bits(float32(v))) },
	},
	frame.SInt8: {
		width:  1,
		decode: func(b []byte) float64 { return float64(int8(b[0])) / 128 },
		encode: func(b []byte, v float64) { b[0] = byte(int8(clamp(v*128, -128, 127))) },
	},
	frame.SInt16LE: {
		width:  2,
		decode: func(b []byte) float64 { return float64(int16(binary.LittleEndian.Uint16(b))) / 32768 },
		encode: func(b []byte, v float64) { binary.LittleEndian.PutUint16(b, uint16(int16(clamp(v*32768, -32768, 32767)))) },
	},
	frame.SInt16BE: {
		width:  2,
		decode: func(b []byte) float64 { return float64(int16(binary.BigEndian.Uint16(b))) / 32768 },
		encode: func(b []byte, v float64) { binary.BigEndian.PutUint16(b, uint16(int16(clamp(v*32768, -32768, 32767)))) },
	},
	frame.SInt24LE: {
		width:  3,
		decode: func(b []byte) float64 { return decode24(b, true) },
		encode: func(b []byte, v float64) { encode24(b, v, true) },
	},
	frame.SInt24BE: {
		width:  3,
		decode: func(b []byte) float64 { return decode24(b, false) },
		encode: func(b []byte, v float64) { encode24(b, v, false) },
	},
	frame.SInt32LE: {
		width:  4,
		decode: func(b []byte) float64 { return float64(int32(binary.LittleEndian.Uint32(b))) / 2147483648 },
		encode: func(b []byte, v float64) { binary.LittleEndian.PutUint32(b, uint32(int32(clamp(v*2147483648, -2147483648, 2147483647)))) },
	},
	frame.SInt32BE: {
		width:  4,
		decode: func(b []byte) float64 { return float64(int32(binary.BigEndian.Uint32(b))) / 2147483648 },
		encode: func(b []byte, v float64) { binary.BigEndian.PutUint32(b, uint32(int32(clamp(v*2147483648, -2147483648, 2147483647)))) },
	},
	frame.Float32LE: {
		width:  4,
		decode: func(b []byte) float64 { return float64(math.Float32frombits(binary.LittleEndian.Uint32(b))) },
		encode: func(b []byte, v float64) { binary.LittleEndian.PutUint32(b, math.Float32bits(float32(v))) },
	},
	frame.Float32BE: {
		width:  4,
		decode: func(b []byte) float64 { return float64(math.Float32frombits(binary.BigEndian.Uint32(b))) },
		encode: func(b []byte, v float64) { binary.BigEndian.PutUint32(b, math.Float32bits(float32(v))) },
	},
	frame.Float64LE: {
		width:  8,
		decode: func(b []byte) float64 { return math.Float64frombits(binary.LittleEndian.Uint64(b)) },
		encode: func(b []byte, v float64) { binary.LittleEndian.PutUint64(b, math.Float64bits(v)) },
	},
	frame.Float64BE: {
		width:  8,
		decode: func(b []byte) float64 { return math.Float64frombits(binary.BigEndian.Uint64(b)) },
		encode: func(b []byte, v float64) { binary.BigEndian.PutUint64(b, math.Float64bits(v)) },
	},
}

func codecFor(f frame.Format) (sampleCodec, error) {
	c, ok := codecs[f]
	if !ok {
		return sampleCodec{}, fmt.Errorf("chanmap: unsupported format %v", f)
	}
	return c, nil
}
