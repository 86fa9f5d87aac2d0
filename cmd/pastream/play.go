package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/drgolem/pastream/internal/player"
	"github.com/drgolem/pastream/internal/source"
)

func runPlay(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("play", flag.ContinueOnError)
	inputFile := fs.String("in", "", "Input file: .wav, .aiff, .mp3, .ogg, or .raw/.pcm (required)")
	deviceIdx := fs.Int("device", -1, "Audio output device index (-1 for default output)")
	bufferFrames := fs.Int("buffer", 512, "Frames per buffer")
	ringMs := fs.Int("ringms", 250, "Ring buffer size in milliseconds of audio")
	mode := fs.String("mode", "callback", "Output mode: callback (low latency) or stream (blocking I/O)")
	diag := fs.Bool("diag", false, "Print diagnostics when playback ends")
	// Raw PCM has no header.
	rawRate := fs.Int("samplerate", 44100, "Sample rate of raw input in Hz")
	rawChannels := fs.Int("channels", 2, "Channels of raw input")
	rawBits := fs.Int("bitspersample", 16, "Bits per sample of raw input (8, 16, 24, 32)")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if *inputFile == "" {
		fs.Usage()
		return errUsage
	}
	m, err := player.ParseMode(*mode)
	if err != nil {
		return err
	}
	rawFormat, err := formatFromBits(*rawBits)
	if err != nil {
		return err
	}

	src, err := source.Open(*inputFile, source.RawFormat{SampleRate: *rawRate, Channels: *rawChannels, Format: rawFormat})
	if err != nil {
		return err
	}

	pa, done, err := e.open()
	if err != nil {
		src.Close()
		return err
	}
	defer done()

	dev, err := device(pa, *deviceIdx)
	if err != nil {
		src.Close()
		return err
	}

	p, err := player.New(pa, src, player.Config{
		Device:          dev,
		FramesPerBuffer: *bufferFrames,
		RingMs:          *ringMs,
		Mode:            m,
		Log:             e.log,
	})
	if err != nil {
		src.Close()
		return err
	}
	defer func() {
		if err := p.Close(); err != nil {
			e.log.Warn().Err(err).Msg("close player")
		}
	}()

	fmt.Fprintf(e.stdout, "Playing %s: %d Hz, %d channel(s), %v, %s mode\n",
		*inputFile, src.SampleRate(), src.Channels(), src.Format(), m)
	if err := p.Start(ctx); err != nil {
		return err
	}

	err = p.Wait(ctx)
	if ctx.Err() != nil {
		fmt.Fprintln(e.stdout, "\nStopping...")
		err = nil
	}
	if stopErr := p.Stop(); stopErr != nil && err == nil {
		err = stopErr
	}
	fmt.Fprintf(e.stdout, "Played %d frames (%.2f seconds)\n", p.FramesPlayed(), float64(p.FramesPlayed())/float64(src.SampleRate()))
	if *diag {
		p.PrintDiagnostics(e.stdout)
	}
	return err
}
