package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"math"
	"time"

	"github.com/drgolem/pastream/portaudio"
	"github.com/drgolem/pastream/portaudio/loopback"
)

type check struct {
	name string
	run  func(ctx context.Context, pa *portaudio.Context) error
}

// runLoopback exercises the stream layer end to end on the loopback
// engine, whatever -engine says.
func runLoopback(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("loopback", flag.ContinueOnError)
	frames := fs.Int("frames", 1024, "Frames per round trip")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if *frames <= 0 {
		return fmt.Errorf("invalid frame count %d", *frames)
	}

	pa := portaudio.NewContext(loopback.New(loopback.DefaultConfig()), portaudio.WithLogger(e.log))
	if err := pa.Initialize(); err != nil {
		return err
	}
	defer pa.Terminate()

	checks := []check{
		{"blocking round trip", func(ctx context.Context, pa *portaudio.Context) error {
			return checkRoundTrip(pa, *frames)
		}},
		{"callback tone", checkTone},
		{"callback fault", checkFault},
	}

	failed := 0
	for _, c := range checks {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		began := time.Now()
		err := c.run(ctx, pa)
		status := "ok"
		if err != nil {
			status = "FAIL: " + err.Error()
			failed++
		}
		fmt.Fprintf(e.stdout, "%-20s %-8v %s\n", c.name, time.Since(began).Round(time.Millisecond), status)
	}
	if n := pa.OpenStreams(); n != 0 {
		return fmt.Errorf("%d streams left open", n)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d checks failed", failed, len(checks))
	}
	return nil
}

// checkRoundTrip writes a pattern in every format and reads it back.
func checkRoundTrip(pa *portaudio.Context, frames int) error {
	for _, format := range portaudio.SampleFormats() {
		p := &portaudio.StreamParameters{ChannelCount: 2, SampleFormat: format}
		cfg := portaudio.StreamConfig{Input: p, Output: p, SampleRate: 48000}

		out := make([]byte, frames*p.FrameSize())
		for i := range out {
			out[i] = byte(i*31 + 7)
		}
		in := make([]byte, len(out))

		err := pa.UseStream(cfg, nil, func(s *portaudio.Stream) error {
			if err := s.Start(); err != nil {
				return err
			}
			if err := s.Write(frames, out); err != nil {
				return err
			}
			return s.ReadTimeout(frames, in, time.Second)
		})
		if err != nil {
			return fmt.Errorf("%v: %w", format, err)
		}
		if !bytes.Equal(in, out) {
			return fmt.Errorf("%v: data mismatch", format)
		}
	}
	return nil
}

// checkTone plays a short sine through a callback and reads it back.
func checkTone(ctx context.Context, pa *portaudio.Context) error {
	const rate = 48000
	const frames = 4 * loopback.DefaultFramesPerBuffer

	p := &portaudio.StreamParameters{ChannelCount: 1, SampleFormat: portaudio.SampleFmtFloat32}
	gen := newSineGenerator([]float64{1000}, rate, 0.5, frames)
	err := pa.UseStream(portaudio.StreamConfig{Output: p, SampleRate: rate}, gen.audioCallback, func(s *portaudio.Stream) error {
		if err := s.Start(); err != nil {
			return err
		}
		for {
			active, err := s.IsActive()
			if err != nil {
				return err
			}
			if !active {
				return s.Stop()
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(5 * time.Millisecond):
			}
		}
	})
	if err != nil {
		return err
	}

	buf := make([]byte, frames*p.FrameSize())
	return pa.UseStream(portaudio.StreamConfig{Input: p, SampleRate: rate}, nil, func(s *portaudio.Stream) error {
		if err := s.Start(); err != nil {
			return err
		}
		if err := s.ReadTimeout(frames, buf, time.Second); err != nil {
			return err
		}
		var peak float64
		for i := 0; i < len(buf); i += 4 {
			v := math.Float32frombits(uint32(buf[i]) | uint32(buf[i+1])<<8 | uint32(buf[i+2])<<16 | uint32(buf[i+3])<<24)
			peak = max(peak, math.Abs(float64(v)))
		}
		if peak < 0.45 || peak > 0.5001 {
			return fmt.Errorf("peak %.3f, want about 0.5", peak)
		}
		return nil
	})
}

// checkFault makes the callback panic and expects the stream to report it.
func checkFault(ctx context.Context, pa *portaudio.Context) error {
	p := &portaudio.StreamParameters{ChannelCount: 1, SampleFormat: portaudio.SampleFmtInt16}
	cb := func(in, out portaudio.SampleBuffer, frames int, ti *portaudio.StreamCallbackTimeInfo, flags portaudio.StreamCallbackFlags) portaudio.StreamCallbackResult {
		panic("self-check")
	}
	return pa.UseStream(portaudio.StreamConfig{Output: p, SampleRate: 8000, FramesPerBuffer: 64}, cb, func(s *portaudio.Stream) error {
		if err := s.Start(); err != nil {
			return err
		}
		deadline := time.Now().Add(2 * time.Second)
		for s.CallbackErr() == nil {
			if time.Now().After(deadline) || ctx.Err() != nil {
				return errors.New("fault never reported")
			}
			time.Sleep(time.Millisecond)
		}
		var fault *portaudio.CallbackFault
		if !errors.As(s.CallbackErr(), &fault) || fault.Value != "self-check" {
			return fmt.Errorf("unexpected callback error: %v", s.CallbackErr())
		}
		if _, err := s.IsActive(); !errors.Is(err, portaudio.CallbackFaulted) {
			return fmt.Errorf("IsActive after fault = %v, want CallbackFaulted", err)
		}
		if err := s.Stop(); err != nil && !errors.Is(err, portaudio.StreamStopped) {
			return err
		}
		return nil
	})
}
