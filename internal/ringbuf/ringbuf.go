// Package ringbuf provides a fixed-size circular buffer of recent event-feed
// frames. The gateway replays it to late-joining observers; when full, the
// oldest frame is overwritten.
package ringbuf

import "sync"

// Frame is one buffered feed message.
type Frame struct {
	Seq  int64
	Data []byte // pre-built envelope JSON
}

// Ring is a thread-safe overwriting circular buffer of frames.
type Ring struct {
	mu   sync.RWMutex
	buf  []Frame
	pos  int // next write position
	full bool
}

// New creates a ring with the given capacity (minimum 1).
func New(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 500
	}
	return &Ring{buf: make([]Frame, capacity)}
}

// Push appends a frame, overwriting the oldest when full. The data slice is
// copied so the caller may reuse it.
func (r *Ring) Push(seq int64, data []byte) {
	cp := make([]byte, len(data))
	copy(cp, data)

	r.mu.Lock()
	r.buf[r.pos] = Frame{Seq: seq, Data: cp}
	r.pos = (r.pos + 1) % len(r.buf)
	if r.pos == 0 {
		r.full = true
	}
	r.mu.Unlock()
}

// Snapshot returns all buffered frames, oldest first.
func (r *Ring) Snapshot() []Frame {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := r.lenLocked()
	out := make([]Frame, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, r.buf[r.index(i)])
	}
	return out
}

// Since returns frames with Seq greater than fromSeq, oldest first.
func (r *Ring) Since(fromSeq int64) []Frame {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Frame
	n := r.lenLocked()
	for i := 0; i < n; i++ {
		f := r.buf[r.index(i)]
		if f.Seq > fromSeq {
			out = append(out, f)
		}
	}
	return out
}

// Len returns the number of buffered frames.
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lenLocked()
}

func (r *Ring) lenLocked() int {
	if r.full {
		return len(r.buf)
	}
	return r.pos
}

// index maps logical position i (0 = oldest) to a buffer index.
func (r *Ring) index(i int) int {
	if !r.full {
		return i
	}
	return (r.pos + i) % len(r.buf)
}
