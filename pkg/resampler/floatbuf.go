package resampler

import (
	"encoding/binary"
	"math"
)

// Frames flowing through the resampler are always in frame.Raw format
// (32-bit float, little-endian on the wire): the builtin algorithm operates
// directly on raw-sample frames. These helpers convert between that byte
// representation and []float32 without unsafe pointer tricks.

func getFloat32(buf []byte, i int) float32 {
	off := i * 4
	return math.Float32frombits(binary.LittleEndian.Uint32(buf[off : off+4]))
}

func putFloat32(buf []byte, i int, v float32) {
	off := i * 4
	binary.LittleEndian.PutUint32(buf[off:off+4], math.Float32bits(v))
}

func bytesToFloats(buf []byte) []float32 {
	n := len(buf) / 4
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		out[i] = getFloat32(buf, i)
	}
	return out
}

func floatsToBytes(buf []byte, vs []float32) {
	for i, v := range vs {
		putFloat32(buf, i, v)
	}
}
