package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"time"

	"github.com/drgolem/pastream/portaudio"
)

// sineGenerator fills float32 buffers with one sine per channel.
// All state is allocated up front; the callback does not allocate.
type sineGenerator struct {
	phase []float64
	step  []float64
	gain  float64
	// remaining counts frames left to play; negative plays forever.
	remaining int64
}

func newSineGenerator(freqs []float64, sampleRate float64, gain float64, frames int64) *sineGenerator {
	g := &sineGenerator{
		phase:     make([]float64, len(freqs)),
		step:      make([]float64, len(freqs)),
		gain:      gain,
		remaining: frames,
	}
	for i, f := range freqs {
		g.step[i] = f / sampleRate
	}
	return g
}

func (g *sineGenerator) next(ch int) float32 {
	v := float32(g.gain * math.Sin(2*math.Pi*g.phase[ch]))
	_, g.phase[ch] = math.Modf(g.phase[ch] + g.step[ch])
	return v
}

func (g *sineGenerator) audioCallback(in, out portaudio.SampleBuffer, frames int, ti *portaudio.StreamCallbackTimeInfo, flags portaudio.StreamCallbackFlags) portaudio.StreamCallbackResult {
	channels := len(g.phase)
	if out.Interleaved() {
		samples, err := portaudio.Samples[float32](out)
		if err != nil {
			return portaudio.Abort
		}
		for f := range frames {
			for ch := range channels {
				samples[f*channels+ch] = g.next(ch)
			}
		}
	} else {
		for ch := range channels {
			plane, err := out.Channel(ch)
			if err != nil {
				return portaudio.Abort
			}
			samples, err := portaudio.Samples[float32](plane)
			if err != nil {
				return portaudio.Abort
			}
			for f := range samples {
				samples[f] = g.next(ch)
			}
		}
	}

	if g.remaining >= 0 {
		g.remaining -= int64(frames)
		if g.remaining <= 0 {
			return portaudio.Complete
		}
	}
	return portaudio.Continue
}

func runTone(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("tone", flag.ContinueOnError)
	deviceIdx := fs.Int("device", -1, "Audio output device index (-1 for default output)")
	channels := fs.Int("channels", 2, "Number of channels")
	sampleRate := fs.Float64("samplerate", 44100, "Sample rate in Hz")
	bufferFrames := fs.Int("buffer", 512, "Frames per buffer")
	freqL := fs.Float64("freq", 256, "Frequency of the first channel in Hz")
	freqR := fs.Float64("freq2", 320, "Frequency of the other channels in Hz")
	gain := fs.Float64("gain", 0.5, "Amplitude, 0 to 1")
	duration := fs.Duration("duration", 0, "How long to play (0 = until Ctrl-C)")
	nonInterleaved := fs.Bool("noninterleaved", false, "Use one buffer per channel")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if *channels < 1 {
		return fmt.Errorf("invalid channel count %d", *channels)
	}
	if *gain < 0 || *gain > 1 {
		return fmt.Errorf("gain %v out of range [0, 1]", *gain)
	}

	pa, done, err := e.open()
	if err != nil {
		return err
	}
	defer done()

	dev, err := device(pa, *deviceIdx)
	if err != nil {
		return err
	}
	if dev == nil {
		if dev, err = pa.DefaultOutputDevice(); err != nil {
			return err
		}
	}

	params := portaudio.LowLatencyParameters(dev, *channels, portaudio.SampleFmtFloat32, false)
	params.NonInterleaved = *nonInterleaved
	cfg := portaudio.StreamConfig{
		Output:          &params,
		SampleRate:      *sampleRate,
		FramesPerBuffer: *bufferFrames,
		// The generator never leaves [-1, 1].
		Flags: portaudio.ClipOff,
	}
	if err := pa.IsFormatSupported(nil, &params, *sampleRate); err != nil {
		return fmt.Errorf("format not supported: %w", err)
	}

	freqs := make([]float64, *channels)
	for i := range freqs {
		freqs[i] = *freqR
	}
	freqs[0] = *freqL
	frames := int64(-1)
	if *duration > 0 {
		frames = int64(duration.Seconds() * *sampleRate)
	}
	gen := newSineGenerator(freqs, *sampleRate, *gain, frames)

	return pa.UseStream(cfg, gen.audioCallback, func(s *portaudio.Stream) error {
		if err := s.Start(); err != nil {
			return err
		}
		fmt.Fprintf(e.stdout, "Playing %.0f Hz / %.0f Hz on %s (stream %s)\n", *freqL, *freqR, dev.Name, s.ID())
		if *duration == 0 {
			fmt.Fprintln(e.stdout, "Press Ctrl-C to stop.")
		}

		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				fmt.Fprintln(e.stdout, "\nStopping...")
				return s.Abort()
			case <-ticker.C:
			}
			active, err := s.IsActive()
			if err != nil {
				return err
			}
			if !active {
				return s.Stop()
			}
		}
	})
}
