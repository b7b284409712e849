package plc

import (
	"testing"

	"rocpipe/pkg/config"
	"rocpipe/pkg/frame"
	"rocpipe/pkg/status"
)

func TestNewBackend_None(t *testing.T) {
	spec := frame.SampleSpec{SampleRate: 48000, Format: frame.SInt16LE}
	p, code := NewBackend(config.PlcConfig{Backend: int(None)}, spec, 100, 100)
	if code != status.OK {
		t.Fatalf("expected OK, got %v", code)
	}
	if p.LookbehindLen() != 0 || p.LookaheadLen() != 0 {
		t.Fatal("None backend must report zero lookbehind/lookahead")
	}
}

func TestNewBackend_Beep(t *testing.T) {
	spec := frame.SampleSpec{SampleRate: 48000, Format: frame.SInt16LE}
	p, code := NewBackend(config.PlcConfig{Backend: int(Beep)}, spec, 200, 150)
	if code != status.OK {
		t.Fatalf("expected OK, got %v", code)
	}
	if p.LookbehindLen() != 200 || p.LookaheadLen() != 150 {
		t.Fatalf("Beep backend should carry through requested lookbehind/lookahead")
	}
}

func TestNewBackend_UnknownPlugin(t *testing.T) {
	spec := frame.SampleSpec{SampleRate: 48000, Format: frame.SInt16LE}
	_, code := NewBackend(config.PlcConfig{Backend: config.MinPlcBackendID + 5}, spec, 0, 0)
	if code != status.NoPlugin {
		t.Fatalf("expected NoPlugin for unregistered plugin id, got %v", code)
	}
}
