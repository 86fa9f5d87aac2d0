// Package recorder captures audio from an input stream with blocking reads.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/drgolem/pastream/portaudio"
)

// Config holds the parameters for creating a Recorder.
type Config struct {
	// Device is the input device; nil means the default input device.
	Device          *portaudio.DeviceInfo
	Channels        int
	Format          portaudio.SampleFormat
	SampleRate      int
	FramesPerBuffer int
	Log             zerolog.Logger
}

// Recorder records audio from an input device into an io.Writer.
type Recorder struct {
	stream       *portaudio.Stream
	w            io.Writer
	log          zerolog.Logger
	frameSize    int
	framesPerBuf int

	framesRecorded atomic.Uint64
	overflows      atomic.Uint64
}

// New opens a blocking input stream. Frames are written to w whole.
func New(pa *portaudio.Context, w io.Writer, cfg Config) (*Recorder, error) {
	dev := cfg.Device
	if dev == nil {
		d, err := pa.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("default input device: %w", err)
		}
		dev = d
	}
	if cfg.FramesPerBuffer <= 0 {
		cfg.FramesPerBuffer = 512
	}

	params := portaudio.LowLatencyParameters(dev, cfg.Channels, cfg.Format, true)
	stream, err := pa.OpenStream(portaudio.StreamConfig{
		Input:           &params,
		SampleRate:      float64(cfg.SampleRate),
		FramesPerBuffer: cfg.FramesPerBuffer,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open input stream: %w", err)
	}

	return &Recorder{
		stream:       stream,
		w:            w,
		log:          cfg.Log,
		frameSize:    params.FrameSize(),
		framesPerBuf: cfg.FramesPerBuffer,
	}, nil
}

// Run records until limit frames have been captured, or until ctx is done
// when limit is 0. Cancelling ctx is a normal way to end a recording.
func (r *Recorder) Run(ctx context.Context, limit uint64) error {
	if err := r.stream.Start(); err != nil {
		return fmt.Errorf("failed to start stream: %w", err)
	}

	// Abort interrupts a Read blocked waiting for input.
	stop := context.AfterFunc(ctx, func() {
		_ = r.stream.Abort()
	})
	defer stop()

	buf := make([]byte, r.framesPerBuf*r.frameSize)
	for limit == 0 || r.framesRecorded.Load() < limit {
		frames := r.framesPerBuf
		if limit > 0 {
			frames = int(min(uint64(frames), limit-r.framesRecorded.Load()))
		}
		chunk := buf[:frames*r.frameSize]

		err := r.stream.Read(frames, chunk)
		switch {
		case err == nil:
		case errors.Is(err, portaudio.BufferOverflow):
			// Input was lost before this read; the data read is still good.
			r.overflows.Add(1)
		case ctx.Err() != nil:
			return nil
		default:
			return fmt.Errorf("read: %w", err)
		}

		if _, err := r.w.Write(chunk); err != nil {
			return fmt.Errorf("write: %w", err)
		}
		r.framesRecorded.Add(uint64(frames))
	}

	r.log.Debug().Uint64("frames", r.framesRecorded.Load()).Msg("recording complete")
	return nil
}

// FramesRecorded returns the number of frames written so far.
func (r *Recorder) FramesRecorded() uint64 {
	return r.framesRecorded.Load()
}

// Overflows returns how many reads reported lost input.
func (r *Recorder) Overflows() uint64 {
	return r.overflows.Load()
}

// Close stops and releases the stream.
func (r *Recorder) Close() error {
	return r.stream.Close()
}
