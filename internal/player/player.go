// Package player plays a decoded source through a portaudio stream, with
// a lock-free ring buffer between the decoder and the audio output.
package player

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/drgolem/pastream/internal/source"
	"github.com/drgolem/pastream/internal/spsc"
	"github.com/drgolem/pastream/portaudio"
)

// Mode selects how audio data is delivered to the stream.
type Mode string

const (
	// ModeCallback reads the ring from the stream callback (low latency).
	ModeCallback Mode = "callback"
	// ModeStream has a writer goroutine push the ring with blocking writes.
	ModeStream Mode = "stream"
)

// ParseMode accepts "callback" or "stream".
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeCallback, ModeStream:
		return m, nil
	}
	return "", fmt.Errorf("unknown player mode %q", s)
}

// Config holds the parameters for creating a Player.
type Config struct {
	// Device is the output device; nil means the default output device.
	Device          *portaudio.DeviceInfo
	FramesPerBuffer int
	// RingMs sizes the ring buffer in milliseconds of audio.
	RingMs int
	Mode   Mode
	Log    zerolog.Logger
}

// Player plays a source.Source.
//
// Callback mode:
//
//	producer goroutine --Write--> spsc.Ring --Read--> stream callback
//
// Stream mode:
//
//	producer goroutine --Write--> spsc.Ring --Read--> writer goroutine (Stream.Write)
//
// Both modes share the producer; only the consumer differs.
type Player struct {
	stream *portaudio.Stream
	src    source.Source
	ring   *spsc.Ring
	mode   Mode
	log    zerolog.Logger

	frameSize    int
	sampleRate   int
	framesPerBuf int

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	finished chan struct{}
	finish   sync.Once
	errMu    sync.Mutex
	err      error

	framesPlayed atomic.Uint64
	underflows   atomic.Uint64
	silentBytes  atomic.Uint64

	// Bytes at each pipeline stage:
	//   source -> [Read] -> [ring.Write] -> ring -> [ring.Read] -> output
	bytesFromSource atomic.Uint64
	bytesToRing     atomic.Uint64
	bytesFromRing   atomic.Uint64
	bytesOutput     atomic.Uint64

	callbacks   atomic.Uint64
	writes      atomic.Uint64
	maxWriteNs  atomic.Int64
	writeErrors atomic.Uint64
}

// New opens an output stream matching src. The player owns src.
func New(pa *portaudio.Context, src source.Source, cfg Config) (*Player, error) {
	dev := cfg.Device
	if dev == nil {
		d, err := pa.DefaultOutputDevice()
		if err != nil {
			return nil, fmt.Errorf("default output device: %w", err)
		}
		dev = d
	}
	if cfg.RingMs <= 0 {
		cfg.RingMs = 250
	}

	p := &Player{
		src:          src,
		mode:         cfg.Mode,
		log:          cfg.Log,
		frameSize:    source.FrameSize(src),
		sampleRate:   src.SampleRate(),
		framesPerBuf: cfg.FramesPerBuffer,
		finished:     make(chan struct{}),
	}
	p.ring = spsc.New(p.sampleRate*p.frameSize*cfg.RingMs/1000, p.frameSize)

	var params portaudio.StreamParameters
	var cb portaudio.StreamCallback
	flags := portaudio.NoFlag
	switch cfg.Mode {
	case ModeStream:
		params = portaudio.HighLatencyParameters(dev, src.Channels(), src.Format(), false)
		flags = portaudio.ClipOff
	case ModeCallback, "":
		p.mode = ModeCallback
		params = portaudio.LowLatencyParameters(dev, src.Channels(), src.Format(), false)
		cb = p.audioCallback
	default:
		return nil, fmt.Errorf("unknown player mode %q", cfg.Mode)
	}

	stream, err := pa.OpenStream(portaudio.StreamConfig{
		Output:          &params,
		SampleRate:      float64(p.sampleRate),
		FramesPerBuffer: cfg.FramesPerBuffer,
		Flags:           flags,
	}, cb)
	if err != nil {
		return nil, fmt.Errorf("failed to open stream: %w", err)
	}
	p.stream = stream
	return p, nil
}

// Start begins the producer goroutine and the stream.
func (p *Player) Start(ctx context.Context) error {
	ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.producer(ctx)

	if err := p.stream.Start(); err != nil {
		p.cancel()
		return fmt.Errorf("failed to start stream: %w", err)
	}

	p.wg.Add(1)
	if p.mode == ModeStream {
		go p.writer(ctx)
	} else {
		go p.monitor(ctx)
	}
	p.log.Info().Str("mode", string(p.mode)).Str("stream", p.stream.ID()).Int("rate", p.sampleRate).Msg("playback started")
	return nil
}

func (p *Player) done(err error) {
	p.finish.Do(func() {
		p.errMu.Lock()
		p.err = err
		p.errMu.Unlock()
		close(p.finished)
	})
}

// Done is closed when all audio has been played or playback failed.
func (p *Player) Done() <-chan struct{} {
	return p.finished
}

// Err returns why playback ended early, or nil.
func (p *Player) Err() error {
	p.errMu.Lock()
	defer p.errMu.Unlock()
	return p.err
}

// Wait blocks until playback finishes or ctx is done.
func (p *Player) Wait(ctx context.Context) error {
	select {
	case <-p.finished:
		return p.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// producer moves decoded audio from the source into the ring buffer.
// Runs in its own goroutine, so blocking reads are fine here.
func (p *Player) producer(ctx context.Context) {
	defer p.wg.Done()
	defer p.ring.CloseWrite()

	// Whole frames, never more than the ring can hold at once. Refill once
	// half a chunk is free so small rings do not run dry between reads.
	chunk := min(max(4096/p.frameSize, 1), p.ring.Cap()/p.frameSize) * p.frameSize
	refill := max(chunk/2/p.frameSize, 1) * p.frameSize
	buf := make([]byte, chunk)
	for {
		if ctx.Err() != nil {
			return
		}
		free := p.ring.Free() / p.frameSize * p.frameSize
		if free < refill {
			time.Sleep(time.Millisecond)
			continue
		}

		n, err := p.src.Read(buf[:min(chunk, free)])
		if n > 0 {
			p.bytesFromSource.Add(uint64(n))
			written := p.ring.Write(buf[:n])
			for written < n && ctx.Err() == nil {
				time.Sleep(500 * time.Microsecond)
				written += p.ring.Write(buf[written:n])
			}
			p.bytesToRing.Add(uint64(written))
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				p.log.Error().Err(err).Msg("decode failed")
				p.done(fmt.Errorf("decode: %w", err))
			}
			return
		}
	}
}

// writer drains the ring with blocking writes, which pace themselves.
func (p *Player) writer(ctx context.Context) {
	defer p.wg.Done()

	buf := make([]byte, max(p.framesPerBuf, 256)*p.frameSize)
	for ctx.Err() == nil {
		n := p.ring.Read(buf)
		if n == 0 {
			if p.ring.Drained() {
				p.done(nil)
				return
			}
			p.underflows.Add(1)
			time.Sleep(time.Millisecond)
			continue
		}
		p.bytesFromRing.Add(uint64(n))

		began := time.Now()
		err := p.stream.Write(n/p.frameSize, buf[:n])
		if d := time.Since(began).Nanoseconds(); d > p.maxWriteNs.Load() {
			p.maxWriteNs.Store(d)
		}
		p.writes.Add(1)

		if err != nil {
			p.writeErrors.Add(1)
			if errors.Is(err, portaudio.StreamStopped) || errors.Is(err, portaudio.AlreadyClosed) {
				p.done(err)
				return
			}
			p.log.Warn().Err(err).Msg("write failed")
			continue
		}
		p.bytesOutput.Add(uint64(n))
		p.framesPlayed.Add(uint64(n / p.frameSize))
	}
}

// monitor waits for the callback to complete the stream.
func (p *Player) monitor(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		active, err := p.stream.IsActive()
		if err != nil {
			p.done(err)
			return
		}
		if !active {
			p.done(nil)
			return
		}
	}
}

// audioCallback runs on the audio thread. It only touches the ring and
// atomic counters.
func (p *Player) audioCallback(in, out portaudio.SampleBuffer, frames int, ti *portaudio.StreamCallbackTimeInfo, flags portaudio.StreamCallbackFlags) portaudio.StreamCallbackResult {
	p.callbacks.Add(1)
	if flags&portaudio.OutputUnderflow != 0 {
		p.underflows.Add(1)
	}

	dst, err := out.Bytes()
	if err != nil {
		return portaudio.Abort
	}
	n := p.ring.Fill(dst)
	p.bytesFromRing.Add(uint64(n))
	p.bytesOutput.Add(uint64(len(dst)))
	p.framesPlayed.Add(uint64(n / p.frameSize))

	if n < len(dst) {
		if p.ring.Drained() {
			return portaudio.Complete
		}
		// The producer fell behind; the rest is silence.
		p.silentBytes.Add(uint64(len(dst) - n))
		if n == 0 {
			p.underflows.Add(1)
		}
	}
	return portaudio.Continue
}

// Stop stops the goroutines and the stream, letting queued output play.
// Safe to call multiple times.
func (p *Player) Stop() error {
	if p.cancel != nil {
		p.cancel()
	}
	var errs []error
	if p.stream != nil {
		if err := p.stream.Stop(); err != nil && !errors.Is(err, portaudio.StreamStopped) && !errors.Is(err, portaudio.AlreadyClosed) && !errors.Is(err, portaudio.NotOpen) {
			errs = append(errs, fmt.Errorf("stop stream: %w", err))
		}
	}
	p.wg.Wait()
	if p.stream != nil {
		if err := p.stream.CallbackErr(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close stops playback and releases the stream and the source.
func (p *Player) Close() error {
	errs := []error{p.Stop()}
	if p.stream != nil {
		if err := p.stream.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close stream: %w", err))
		}
	}
	if err := p.src.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close source: %w", err))
	}
	return errors.Join(errs...)
}

// FramesPlayed returns the number of source frames delivered to the stream.
func (p *Player) FramesPlayed() uint64 {
	return p.framesPlayed.Load()
}

// Diagnostics is a snapshot of the player's counters.
type Diagnostics struct {
	Mode         Mode
	FramesPerBuf int
	RingSize     int

	BytesFromSource uint64
	BytesToRing     uint64
	BytesFromRing   uint64
	BytesOutput     uint64
	RingResidual    int

	Callbacks   uint64
	Underflows  uint64
	SilentBytes uint64

	Writes      uint64
	MaxWrite    time.Duration
	WriteErrors uint64
}

// Diagnostics returns a snapshot of all diagnostic counters.
func (p *Player) Diagnostics() Diagnostics {
	return Diagnostics{
		Mode:            p.mode,
		FramesPerBuf:    p.framesPerBuf,
		RingSize:        p.ring.Cap(),
		BytesFromSource: p.bytesFromSource.Load(),
		BytesToRing:     p.bytesToRing.Load(),
		BytesFromRing:   p.bytesFromRing.Load(),
		BytesOutput:     p.bytesOutput.Load(),
		RingResidual:    p.ring.Available(),
		Callbacks:       p.callbacks.Load(),
		Underflows:      p.underflows.Load(),
		SilentBytes:     p.silentBytes.Load(),
		Writes:          p.writes.Load(),
		MaxWrite:        time.Duration(p.maxWriteNs.Load()),
		WriteErrors:     p.writeErrors.Load(),
	}
}

// PrintDiagnostics writes a human-readable report to w.
func (p *Player) PrintDiagnostics(w io.Writer) {
	d := p.Diagnostics()
	fmt.Fprintf(w, "\nDiagnostics (%s mode, %d frames/buffer, ring %d bytes):\n", d.Mode, d.FramesPerBuf, d.RingSize)
	switch d.Mode {
	case ModeStream:
		fmt.Fprintf(w, "  Writes:             %d, max %v\n", d.Writes, d.MaxWrite)
		if d.WriteErrors > 0 {
			fmt.Fprintf(w, "  Write errors:       %d\n", d.WriteErrors)
		}
	default:
		fmt.Fprintf(w, "  Callbacks:          %d\n", d.Callbacks)
		if d.SilentBytes > 0 {
			fmt.Fprintf(w, "  Silence inserted:   %d bytes\n", d.SilentBytes)
		}
	}
	if d.Underflows > 0 {
		fmt.Fprintf(w, "  Underflows:         %d\n", d.Underflows)
	}

	fmt.Fprintf(w, "  Source -> Ring:     %d read, %d written", d.BytesFromSource, d.BytesToRing)
	if d.BytesFromSource == d.BytesToRing {
		fmt.Fprintln(w, "  ok")
	} else {
		fmt.Fprintf(w, "  MISMATCH (lost %d bytes)\n", d.BytesFromSource-d.BytesToRing)
	}
	fmt.Fprintf(w, "  Ring -> Output:     %d read, %d residual", d.BytesFromRing, d.RingResidual)
	if d.BytesFromRing+uint64(d.RingResidual) == d.BytesToRing {
		fmt.Fprintln(w, "  ok")
	} else {
		fmt.Fprintf(w, "  MISMATCH (expected %d, got %d)\n", d.BytesToRing, d.BytesFromRing+uint64(d.RingResidual))
	}
}
