package mixer

import (
	"encoding/binary"
	"math"
)

// Mixer operates on frame.Raw (32-bit float, little-endian on the wire)
// input and output; these helpers mirror resampler/floatbuf.go rather than
// import it, matching the small per-package float<->byte helper pattern
// the rest of the pipeline uses.

func bytesToFloats(buf []byte) []float32 {
	n := len(buf) / 4
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return out
}

func floatsToBytes(buf []byte, vs []float32) {
	for i, v := range vs {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
}
