package iopump

import (
	"time"

	"github.com/frostbyte73/core"

	"rocpipe/pkg/frame"
	"rocpipe/pkg/status"
)

// Mode selects when Run exits.
type Mode int

const (
	// Permanent runs until the main source finishes or Stop is called.
	Permanent Mode = iota
	// Oneshot exits the first time the main source transitions from
	// Active to Idle.
	Oneshot
)

// Pump couples one Source to one Sink, transferring one frame of frameSize
// samples-per-channel at a time. If backup is non-nil, Pump fails over to
// it whenever main reports itself Idle and switches back once main
// reports Active again.
type Pump struct {
	main   Source
	backup Source
	sink   Sink

	frameSize int
	mode      Mode

	// stop is a fuse rather than a plain bool: Stop may be called
	// concurrently with the loop (or more than once), and every caller
	// needs to observe exactly one broken/not-broken transition.
	stop core.Fuse

	current       Source
	wasMainActive bool
}

// New constructs a Pump. backup may be nil (no failover).
func New(main, backup Source, sink Sink, frameSize int, mode Mode) *Pump {
	return &Pump{
		main:      main,
		backup:    backup,
		sink:      sink,
		frameSize: frameSize,
		mode:      mode,
		stop:      core.Fuse{},
		current:   main,
	}
}

// Stop requests the pump exit at the top of its next iteration. It is the
// only cancellation signal; an in-flight transfer cannot be interrupted.
// Safe to call more than once or concurrently with Run.
func (p *Pump) Stop() {
	p.stop.Break()
}

// Run drives the transfer loop until Stop is called, the main source
// finishes (or, in Oneshot mode, first goes Idle), or a fatal error
// occurs. On every exit path the sink is flushed and every device closed
// exactly once; Run returns the first error encountered doing so if the
// loop itself exited cleanly, otherwise the loop's own terminal code.
func (p *Pump) Run() status.Code {
	loopCode := p.loop()
	closeCode := p.closeAll()
	if loopCode != status.OK && loopCode != status.Finish {
		return loopCode
	}
	if closeCode != status.OK {
		return closeCode
	}
	return loopCode
}

func (p *Pump) loop() status.Code {
	for {
		if p.stop.IsBroken() {
			return status.Abort
		}

		// Main source became inactive.
		if p.current == p.main && p.main.HasState() && p.main.State() == StateIdle {
			// In oneshot mode, the first time main goes idle after having
			// been active, we exit.
			if p.mode == Oneshot && p.wasMainActive {
				return status.Finish
			}
			if p.backup != nil {
				if code := p.backup.Rewind(); code != status.OK {
					return code
				}
				if code := p.switchToBackup(); code != status.OK {
					return code
				}
			}
		}

		// Main source became active again.
		if p.current != p.main && p.main.HasState() && p.main.State() == StateActive {
			if code := p.switchToMain(); code != status.OK {
				return code
			}
		}

		code := p.transferOne()
		if code == status.Finish {
			// EOF from main causes exit; EOF from backup causes rewind.
			if p.current == p.main {
				return status.Finish
			}
			if rcode := p.backup.Rewind(); rcode != status.OK {
				return rcode
			}
		} else if code != status.OK && code != status.Part {
			return code
		}

		if p.current == p.main && p.main.HasState() && p.main.State() == StateActive {
			p.wasMainActive = true
		}
	}
}

// switchToBackup pauses main and resumes backup (the caller has already
// rewound it).
func (p *Pump) switchToBackup() status.Code {
	if p.main.HasState() {
		if code := p.main.Pause(); code != status.OK {
			return code
		}
	}
	if p.backup.HasState() {
		if code := p.backup.Resume(); code != status.OK {
			return code
		}
	}
	p.current = p.backup
	return status.OK
}

// switchToMain pauses backup and resumes main; main keeps its position
// since it was only paused, never rewound.
func (p *Pump) switchToMain() status.Code {
	if p.backup != nil && p.backup.HasState() {
		if code := p.backup.Pause(); code != status.OK {
			return code
		}
	}
	if p.main.HasState() {
		if code := p.main.Resume(); code != status.OK {
			return code
		}
	}
	p.current = p.main
	return status.OK
}

// transferOne moves one frame_size frame from the current source to the
// sink, synthesizing a capture timestamp if the source didn't supply one
// and reporting playback time back via Reclock.
func (p *Pump) transferOne() status.Code {
	spec := p.current.SampleSpec()
	fr := &frame.Frame{Spec: spec}
	code := p.current.Read(fr, p.frameSize, status.Hard)
	if code == status.Finish {
		return status.Finish
	}
	if status.IsFatal(code) {
		return code
	}

	durNs := spec.SamplesToNs(fr.Duration)
	if fr.CaptureTimestamp == 0 {
		// The source doesn't provide capture timestamps; fill one in,
		// accounting for time the frame spent in the recording buffer plus
		// the frame itself, which has already been read in full.
		var captureLatency int64
		if p.current.HasLatency() {
			captureLatency = p.current.Latency() + durNs
		}
		fr.CaptureTimestamp = time.Now().UnixNano() - captureLatency
	}

	wcode := p.sink.Write(fr)
	if wcode != status.OK {
		return wcode
	}

	// Tell the source the playback time of the first sample of the frame:
	// sink latency ahead, minus the frame already sitting in the playback
	// buffer.
	var playbackLatency int64
	if p.sink.HasLatency() {
		playbackLatency = p.sink.Latency() - durNs
	}
	p.current.Reclock(time.Now().UnixNano() + playbackLatency)

	return code
}

// closeAll flushes the sink and closes every device exactly once,
// returning the first error encountered.
func (p *Pump) closeAll() status.Code {
	first := status.OK
	record := func(c status.Code) {
		if first == status.OK && c != status.OK {
			first = c
		}
	}
	record(p.sink.Flush())
	record(p.sink.Close())
	record(p.main.Close())
	if p.backup != nil {
		record(p.backup.Close())
	}
	return first
}
