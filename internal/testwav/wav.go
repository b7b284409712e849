// Package testwav provides a WAV-file-backed Source and Sink for pipeline
// tests, the fixture the pump round-trip test drives. Decoding walks the
// file with github.com/go-audio/riff's chunk parser; encoding is a plain
// PCM/RIFF header writer (see the note on Sink) since riff exposes no
// public WAVE encoder to pair it with.
package testwav

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/frostbyte73/core"
	"github.com/go-audio/riff"

	"rocpipe/pkg/frame"
	"rocpipe/pkg/iopump"
	"rocpipe/pkg/status"
)

const (
	wavAudioFormatPCM = 1
	wavBitsPerSample  = 16
)

// Sink writes every frame it's given as 16-bit PCM into an in-memory WAV
// file, finalized on Close.
//
// Stdlib fallback: github.com/go-audio/riff (the RIFF dependency already in
// the module graph) only exposes a chunk parser, not a WAVE encoder — that
// lives in the separate go-audio/wav package, which nothing else in this
// tree pulls in. Rather than add a dependency with no other home, the
// header here is written directly with encoding/binary; decoding below
// still goes through riff's real parser.
type Sink struct {
	spec   frame.SampleSpec
	pcm    bytes.Buffer
	closed core.Fuse
	final  []byte
}

// NewSink constructs a Sink for the given spec (must be SInt16LE PCM: the
// only format the fixture round-trips exactly, since float/other-depth
// frames would need a PcmMapperReader stage ahead of it).
func NewSink(spec frame.SampleSpec) (*Sink, error) {
	if spec.Format != frame.SInt16LE {
		return nil, fmt.Errorf("testwav: sink only supports SInt16LE, got %v", spec.Format)
	}
	return &Sink{spec: spec, closed: core.NewFuse()}, nil
}

func (s *Sink) Type() iopump.DeviceType      { return iopump.SinkDevice }
func (s *Sink) SampleSpec() frame.SampleSpec { return s.spec }
func (s *Sink) HasClock() bool               { return false }
func (s *Sink) HasLatency() bool             { return false }
func (s *Sink) Latency() int64               { return 0 }
func (s *Sink) HasState() bool               { return false }
func (s *Sink) State() iopump.DeviceState    { return iopump.StateActive }
func (s *Sink) Pause() status.Code           { return status.OK }
func (s *Sink) Resume() status.Code          { return status.OK }

func (s *Sink) Write(fr *frame.Frame) status.Code {
	n := fr.Duration * fr.BytesPerFrameSample()
	if n > len(fr.Buf) {
		n = len(fr.Buf)
	}
	s.pcm.Write(fr.Buf[:n])
	return status.OK
}

func (s *Sink) Flush() status.Code { return status.OK }

func (s *Sink) Close() status.Code {
	if s.closed.IsBroken() {
		return status.OK
	}
	s.closed.Break()
	s.final = encodeWav(s.spec, s.pcm.Bytes())
	return status.OK
}

// Bytes returns the encoded WAV file. Only valid after Close.
func (s *Sink) Bytes() []byte { return s.final }

// encodeWav writes a minimal canonical WAVE container: RIFF/WAVE header,
// one "fmt " chunk, one "data" chunk.
func encodeWav(spec frame.SampleSpec, pcm []byte) []byte {
	numChans := spec.NumChannels()
	blockAlign := numChans * wavBitsPerSample / 8
	byteRate := spec.SampleRate * blockAlign

	var buf bytes.Buffer
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+len(pcm))) //nolint:errcheck // bytes.Buffer never errors
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16)) //nolint:errcheck
	binary.Write(&buf, binary.LittleEndian, uint16(wavAudioFormatPCM))
	binary.Write(&buf, binary.LittleEndian, uint16(numChans))
	binary.Write(&buf, binary.LittleEndian, uint32(spec.SampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(&buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(&buf, binary.LittleEndian, uint16(wavBitsPerSample))

	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(len(pcm))) //nolint:errcheck
	buf.Write(pcm)

	return buf.Bytes()
}

// Source reads frames back out of a WAV file produced by Sink (or any
// well-formed 16-bit PCM RIFF/WAVE file), locating the data chunk with
// github.com/go-audio/riff's chunk parser.
type Source struct {
	spec   frame.SampleSpec
	data   []byte
	pos    int
	closed core.Fuse
}

// NewSource parses a WAV file's data chunk and returns a Source that reads
// it back as SInt16LE PCM frames.
func NewSource(wavBytes []byte, spec frame.SampleSpec) (*Source, error) {
	p := riff.New(bytes.NewReader(wavBytes))
	if err := p.ParseHeaders(); err != nil {
		return nil, fmt.Errorf("testwav: parse riff headers: %w", err)
	}
	var data []byte
	for {
		c, err := p.NextChunk()
		if err != nil || c == nil {
			break
		}
		if c.ID == riff.DataFormatID {
			buf := make([]byte, c.Size)
			if _, rerr := io.ReadFull(c, buf); rerr != nil {
				return nil, fmt.Errorf("testwav: read data chunk: %w", rerr)
			}
			data = buf
			break
		}
		c.Done()
	}
	if data == nil {
		return nil, fmt.Errorf("testwav: no data chunk found")
	}
	return &Source{spec: spec, data: data, closed: core.NewFuse()}, nil
}

func (s *Source) Type() iopump.DeviceType      { return iopump.SourceDevice }
func (s *Source) SampleSpec() frame.SampleSpec { return s.spec }
func (s *Source) HasClock() bool               { return false }
func (s *Source) HasLatency() bool             { return false }
func (s *Source) Latency() int64               { return 0 }
func (s *Source) HasState() bool               { return false }
func (s *Source) State() iopump.DeviceState    { return iopump.StateActive }
func (s *Source) Pause() status.Code           { return status.OK }
func (s *Source) Resume() status.Code          { return status.OK }
func (s *Source) Rewind() status.Code          { s.pos = 0; return status.OK }
func (s *Source) Reclock(int64) status.Code    { return status.OK }

func (s *Source) Read(fr *frame.Frame, requestedDuration int, mode status.Mode) status.Code {
	bpfs := s.spec.BytesPerFrameSample()
	fr.Spec = s.spec
	avail := (len(s.data) - s.pos) / bpfs
	if avail <= 0 {
		fr.Duration = 0
		return status.Finish
	}
	n := requestedDuration
	if n > avail {
		n = avail
	}
	fr.EnsureCapacity(n * bpfs)
	copy(fr.Buf, s.data[s.pos:s.pos+n*bpfs])
	fr.Duration = n
	fr.Flags = frame.HasSignal
	s.pos += n * bpfs
	if n < requestedDuration {
		fr.Flags |= frame.NotComplete
		return status.Part
	}
	return status.OK
}

func (s *Source) Close() status.Code {
	s.closed.Break()
	return status.OK
}

var (
	_ iopump.Sink   = (*Sink)(nil)
	_ iopump.Source = (*Source)(nil)
)
