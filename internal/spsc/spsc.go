// Package spsc provides a lock-free single-producer, single-consumer
// ring of audio frames, used to feed a stream callback from a decoder
// goroutine without locking on the audio thread.
package spsc

import "sync/atomic"

// Ring is a lock-free SPSC ring buffer that only moves whole frames.
//
// Two monotonically increasing atomic byte counters (write, read) index a
// power-of-two buffer. The producer publishes write after copying data in;
// the consumer loads write before copying data out, so it always sees
// complete frames.
//
// Thread assignment:
//   - Write, Free, CloseWrite: producer only
//   - Read, Fill, Available, Drained: consumer only
type Ring struct {
	// Separate cache lines for the producer and consumer counters.
	write atomic.Uint64
	_pad1 [56]byte
	read  atomic.Uint64
	_pad2 [56]byte

	eof atomic.Bool

	buf   []byte
	mask  uint64
	frame int
}

// New returns a ring holding at least minBytes, rounded up to a power of
// two. frameSize is the byte size of one frame; transfers are truncated to
// a multiple of it. A frameSize below 1 is treated as 1.
func New(minBytes, frameSize int) *Ring {
	if frameSize < 1 {
		frameSize = 1
	}
	size := 1
	for size < minBytes || size < frameSize {
		size <<= 1
	}
	return &Ring{
		buf:   make([]byte, size),
		mask:  uint64(size - 1),
		frame: frameSize,
	}
}

// Cap returns the ring size in bytes.
func (r *Ring) Cap() int { return len(r.buf) }

// FrameSize returns the frame size the ring aligns transfers to.
func (r *Ring) FrameSize() int { return r.frame }

func (r *Ring) align(n uint64) uint64 {
	return n / uint64(r.frame) * uint64(r.frame)
}

// Write copies as many whole frames of p as fit and returns the number of
// bytes taken. Never blocks.
func (r *Ring) Write(p []byte) int {
	w := r.write.Load()
	rd := r.read.Load()

	n := r.align(min(uint64(len(p)), uint64(len(r.buf))-(w-rd)))
	if n == 0 {
		return 0
	}

	pos := w & r.mask
	// One or two segments depending on wrap-around.
	first := uint64(len(r.buf)) - pos
	if first >= n {
		copy(r.buf[pos:pos+n], p[:n])
	} else {
		copy(r.buf[pos:], p[:first])
		copy(r.buf[:n-first], p[first:n])
	}

	r.write.Store(w + n)
	return int(n)
}

// Read copies as many whole frames as are buffered and fit in p, and
// returns the number of bytes copied. Never blocks.
func (r *Ring) Read(p []byte) int {
	rd := r.read.Load()
	w := r.write.Load()

	n := r.align(min(uint64(len(p)), w-rd))
	if n == 0 {
		return 0
	}

	pos := rd & r.mask
	first := uint64(len(r.buf)) - pos
	if first >= n {
		copy(p[:n], r.buf[pos:pos+n])
	} else {
		copy(p[:first], r.buf[pos:])
		copy(p[first:n], r.buf[:n-first])
	}

	r.read.Store(rd + n)
	return int(n)
}

// Fill reads into p and zeroes whatever could not be filled. It returns
// the number of bytes that came from the ring.
func (r *Ring) Fill(p []byte) int {
	n := r.Read(p)
	if n < len(p) {
		clear(p[n:])
	}
	return n
}

// Available returns the number of buffered bytes.
func (r *Ring) Available() int {
	return int(r.write.Load() - r.read.Load())
}

// Free returns the number of bytes that can be written.
func (r *Ring) Free() int {
	return len(r.buf) - int(r.write.Load()-r.read.Load())
}

// Full reports whether no whole frame can be written.
func (r *Ring) Full() bool {
	return r.Free() < r.frame
}

// CloseWrite marks the end of the producer's data.
func (r *Ring) CloseWrite() {
	r.eof.Store(true)
}

// Drained reports whether the producer has closed and everything it wrote
// has been read.
func (r *Ring) Drained() bool {
	return r.eof.Load() && r.Available() == 0
}
