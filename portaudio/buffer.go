package portaudio

import (
	"errors"
	"sync/atomic"
	"unsafe"
)

var (
	// ErrBufferExpired is returned when a SampleBuffer is used after the
	// callback invocation that produced it has returned.
	ErrBufferExpired = errors.New("portaudio: sample buffer used outside its callback")
	// ErrFormatMismatch is returned when a typed view does not match the stream format.
	ErrFormatMismatch = errors.New("portaudio: sample type does not match buffer format")
	// ErrLayoutMismatch is returned when an interleaved accessor is used on a
	// non-interleaved buffer or the other way round.
	ErrLayoutMismatch = errors.New("portaudio: buffer layout does not support this view")
	// ErrChannelRange is returned for a channel index outside the buffer.
	ErrChannelRange = errors.New("portaudio: channel index out of range")
)

// layout is the fixed shape of one side of a stream.
type layout struct {
	format      SampleFormat
	width       int
	channels    int
	interleaved bool
}

func layoutOf(p *StreamParameters) layout {
	return layout{
		format:      p.SampleFormat,
		width:       p.SampleFormat.Size(),
		channels:    p.ChannelCount,
		interleaved: !p.NonInterleaved,
	}
}

// bytes is the size of one channel plane (non-interleaved) or of the
// whole buffer (interleaved) for n frames.
func (l layout) bytes(frames int) int {
	if l.interleaved {
		return frames * l.channels * l.width
	}
	return frames * l.width
}

// SampleBuffer is a view of an engine buffer handed to a stream callback.
// It is only usable during the invocation that produced it; afterwards
// every accessor fails with ErrBufferExpired. A stream direction that is
// absent is passed as the zero SampleBuffer, which is never valid.
//
// Slices obtained from a view alias engine memory and must not be retained
// past the callback.
type SampleBuffer struct {
	data   unsafe.Pointer
	layout layout
	frames int
	epoch  uint64
	live   *atomic.Uint64
}

func newSampleBuffer(data unsafe.Pointer, l layout, frames int, epoch uint64, live *atomic.Uint64) SampleBuffer {
	return SampleBuffer{data: data, layout: l, frames: frames, epoch: epoch, live: live}
}

// Valid reports whether the view may still be used.
func (b SampleBuffer) Valid() bool {
	return b.live != nil && b.data != nil && b.live.Load() == b.epoch
}

func (b SampleBuffer) check() error {
	if !b.Valid() {
		return ErrBufferExpired
	}
	return nil
}

// Format returns the sample format of the buffer.
func (b SampleBuffer) Format() SampleFormat { return b.layout.format }

// Channels returns the channel count.
func (b SampleBuffer) Channels() int { return b.layout.channels }

// Frames returns the number of frames in the buffer.
func (b SampleBuffer) Frames() int { return b.frames }

// Interleaved reports whether channels share one buffer.
func (b SampleBuffer) Interleaved() bool { return b.layout.interleaved }

// Len returns the total number of samples across all channels.
func (b SampleBuffer) Len() int { return b.frames * b.layout.channels }

// Bytes returns the raw interleaved bytes of the buffer.
func (b SampleBuffer) Bytes() ([]byte, error) {
	if err := b.check(); err != nil {
		return nil, err
	}
	if !b.layout.interleaved {
		return nil, ErrLayoutMismatch
	}
	return unsafe.Slice((*byte)(b.data), b.layout.bytes(b.frames)), nil
}

// Channel returns the single-channel view of channel ch of a
// non-interleaved buffer.
func (b SampleBuffer) Channel(ch int) (SampleBuffer, error) {
	if err := b.check(); err != nil {
		return SampleBuffer{}, err
	}
	if b.layout.interleaved {
		return SampleBuffer{}, ErrLayoutMismatch
	}
	if ch < 0 || ch >= b.layout.channels {
		return SampleBuffer{}, ErrChannelRange
	}
	planes := unsafe.Slice((*unsafe.Pointer)(b.data), b.layout.channels)
	l := b.layout
	l.channels = 1
	l.interleaved = true
	return SampleBuffer{data: planes[ch], layout: l, frames: b.frames, epoch: b.epoch, live: b.live}, nil
}

// Clear fills the buffer with zero bytes. For UInt8 that is not silence;
// write 0x80 for that format.
func (b SampleBuffer) Clear() error {
	if err := b.check(); err != nil {
		return err
	}
	clearRaw(b.data, b.layout, b.frames)
	return nil
}

func clearRaw(data unsafe.Pointer, l layout, frames int) {
	if data == nil || frames <= 0 {
		return
	}
	if l.interleaved {
		clear(unsafe.Slice((*byte)(data), l.bytes(frames)))
		return
	}
	for _, plane := range unsafe.Slice((*unsafe.Pointer)(data), l.channels) {
		if plane != nil {
			clear(unsafe.Slice((*byte)(plane), l.bytes(frames)))
		}
	}
}

// Samples returns the interleaved samples of b as a []T. T must match the
// stream's sample format exactly.
//
//	out, err := portaudio.Samples[float32](output)
func Samples[T Sample](b SampleBuffer) ([]T, error) {
	if err := b.check(); err != nil {
		return nil, err
	}
	if FormatOf[T]() != b.layout.format {
		return nil, ErrFormatMismatch
	}
	if !b.layout.interleaved {
		return nil, ErrLayoutMismatch
	}
	return unsafe.Slice((*T)(b.data), b.Len()), nil
}

// Int24Samples is a packed little-endian 24-bit sample slice.
type Int24Samples []byte

// Len returns the number of samples.
func (s Int24Samples) Len() int { return len(s) / 3 }

// At returns sample i sign-extended to 32 bits.
func (s Int24Samples) At(i int) int32 { return Int24At(s, i) }

// Set stores v as sample i.
func (s Int24Samples) Set(i int, v int32) { PutInt24(s, i, v) }

// Int24 returns the interleaved samples of an Int24 buffer.
func (b SampleBuffer) Int24() (Int24Samples, error) {
	if err := b.check(); err != nil {
		return nil, err
	}
	if b.layout.format != SampleFmtInt24 {
		return nil, ErrFormatMismatch
	}
	if !b.layout.interleaved {
		return nil, ErrLayoutMismatch
	}
	return Int24Samples(unsafe.Slice((*byte)(b.data), b.layout.bytes(b.frames))), nil
}
