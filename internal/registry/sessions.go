// Package registry holds the one piece of mutable state shared between the
// network thread and the pipeline thread besides StateTracker: the set of
// currently active sessions. The network thread attaches and detaches
// sessions as SIP/RTP signalling adds and tears them down; Range walks the
// set without a mutex. No code in this module ranges the registry to
// attach readers to a Mixer.
package registry

import (
	"github.com/puzpuzpuz/xsync/v3"

	"rocpipe/pkg/reader"
)

// Sessions is a concurrent session-id -> FrameReader map. The id is
// whatever the caller uses to correlate a session across SDP/SIP and the
// pipeline (e.g. a SIP call-id or a Telegram peer id); the value is the
// session's own reader chain (PlcReader -> ResamplerReader -> ... ), the
// thing a Mixer attaches via AddInput.
type Sessions struct {
	m *xsync.MapOf[string, reader.FrameReader]
}

// New constructs an empty Sessions registry.
func New() *Sessions {
	return &Sessions{m: xsync.NewMapOf[string, reader.FrameReader]()}
}

// Attach registers r under id, replacing any previous reader registered
// under the same id. Safe to call from any goroutine.
func (s *Sessions) Attach(id string, r reader.FrameReader) {
	s.m.Store(id, r)
}

// Detach removes id from the registry, if present. Safe to call from any
// goroutine, including concurrently with Range.
func (s *Sessions) Detach(id string) {
	s.m.Delete(id)
}

// Get returns the reader registered under id, if any.
func (s *Sessions) Get(id string) (reader.FrameReader, bool) {
	return s.m.Load(id)
}

// Len returns the number of currently attached sessions.
func (s *Sessions) Len() int {
	return s.m.Size()
}

// Range calls f for every currently attached session, in no particular
// order. f must not call Attach/Detach on the same id it's currently
// iterating; xsync.MapOf tolerates concurrent mutation but the visited set
// for a mutation racing with Range is unspecified.
func (s *Sessions) Range(f func(id string, r reader.FrameReader) bool) {
	s.m.Range(f)
}
