package frame

import (
	"sync"

	"github.com/gammazero/deque"
)

// Factory owns two pools: one of Frame headers, one of fixed-size byte
// buffers. Allocation never blocks: when the free lists are empty it falls
// back to the heap, and releases beyond the pool caps are dropped.
//
// The free-buffer list is a deque rather than a sync.Pool: sync.Pool may
// silently drop items under GC pressure, which would turn a "pool
// exhaustion never blocks" guarantee into an occasional surprise
// allocation storm on the audio thread. A deque gives us an explicit,
// bounded LIFO free list instead.
type Factory struct {
	mu sync.Mutex

	bufSize  int
	maxBufs  int
	freeBufs deque.Deque[[]byte]

	headers deque.Deque[*Frame]
	maxHdrs int
}

// NewFactory sets the buffer size and the caps of both pools. The pools
// start empty and fill as frames are released, never beyond those caps.
func NewFactory(bufSize, maxBufs, maxHeaders int) *Factory {
	if bufSize < 0 {
		bufSize = 0
	}
	if maxBufs < 0 {
		maxBufs = 0
	}
	if maxHeaders < 0 {
		maxHeaders = 0
	}
	return &Factory{
		bufSize: bufSize,
		maxBufs: maxBufs,
		maxHdrs: maxHeaders,
	}
}

// allocBuf returns a buffer of at least n bytes, preferring one from the
// free list if it's big enough.
func (f *Factory) allocBuf(n int) []byte {
	f.mu.Lock()
	if f.freeBufs.Len() > 0 {
		b := f.freeBufs.PopBack()
		f.mu.Unlock()
		if cap(b) >= n {
			return b[:n]
		}
		return make([]byte, n)
	}
	f.mu.Unlock()
	return make([]byte, n)
}

func (f *Factory) releaseBuf(b []byte) {
	if b == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.freeBufs.Len() >= f.maxBufs {
		return
	}
	f.freeBufs.PushBack(b[:0])
}

// AllocFrame returns a pooled Frame with a buffer of at least the
// configured bufSize bytes (none when the factory was configured with
// bufSize 0, meaning the caller attaches its own buffer).
func (fa *Factory) AllocFrame(spec SampleSpec) *Frame {
	fa.mu.Lock()
	var fr *Frame
	if fa.headers.Len() > 0 {
		fr = fa.headers.PopFront()
	}
	fa.mu.Unlock()

	if fr == nil {
		fr = &Frame{factory: fa}
	}
	fr.Spec = spec
	fr.Reset()
	if fa.bufSize > 0 {
		fr.EnsureCapacity(fa.bufSize)
	}
	return fr
}

// ReleaseFrame returns fr to the pool. fr must not be used afterwards.
func (fa *Factory) ReleaseFrame(fr *Frame) {
	if fr == nil {
		return
	}
	fa.releaseBuf(fr.Buf)
	fr.Buf = nil
	fr.factory = nil

	fa.mu.Lock()
	defer fa.mu.Unlock()
	if fa.headers.Len() >= fa.maxHdrs {
		return
	}
	fr.factory = fa
	fa.headers.PushBack(fr)
}
