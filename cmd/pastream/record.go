package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/drgolem/pastream/internal/recorder"
	"github.com/drgolem/pastream/internal/source"
	"github.com/drgolem/pastream/portaudio"
)

func runRecord(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("record", flag.ContinueOnError)
	outputFile := fs.String("out", "recording.wav", "Output file: .wav, or raw PCM for any other extension")
	deviceIdx := fs.Int("device", -1, "Audio input device index (-1 for default input)")
	channels := fs.Int("channels", 1, "Number of channels (1=mono, 2=stereo)")
	sampleRate := fs.Int("samplerate", 44100, "Sample rate in Hz")
	bitsPerSample := fs.Int("bitspersample", 16, "Bits per sample (8, 16, 24, 32; 8-bit WAV is unsigned)")
	bufferFrames := fs.Int("buffer", 512, "Frames per read")
	duration := fs.Duration("duration", 0, "Recording duration (0 = until Ctrl-C)")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	format, err := formatFromBits(*bitsPerSample)
	if err != nil {
		return err
	}
	isWAV := strings.EqualFold(filepath.Ext(*outputFile), ".wav")
	if isWAV && format == portaudio.SampleFmtInt8 {
		format = portaudio.SampleFmtUInt8
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

	file, err := os.Create(*outputFile)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer file.Close()

	var sink io.Writer = file
	var wav *source.WAVWriter
	if isWAV {
		if wav, err = source.NewWAVWriter(file, *sampleRate, *channels, format); err != nil {
			return err
		}
		sink = wav
	}

	rec, err := recorder.New(pa, sink, recorder.Config{
		Device:          dev,
		Channels:        *channels,
		Format:          format,
		SampleRate:      *sampleRate,
		FramesPerBuffer: *bufferFrames,
		Log:             e.log,
	})
	if err != nil {
		return err
	}

	var limit uint64
	if *duration > 0 {
		limit = uint64(duration.Seconds() * float64(*sampleRate))
	}
	fmt.Fprintf(e.stdout, "Recording to %s: %d channel(s), %d Hz, %v\n", *outputFile, *channels, *sampleRate, format)
	if limit == 0 {
		fmt.Fprintln(e.stdout, "Press Ctrl-C to stop recording")
	}

	runErr := rec.Run(ctx, limit)
	errs := []error{runErr, rec.Close()}
	if wav != nil {
		errs = append(errs, wav.Close())
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	frames := rec.FramesRecorded()
	fmt.Fprintf(e.stdout, "Recording complete: %d frames (%.2f seconds)\n", frames, float64(frames)/float64(*sampleRate))
	if o := rec.Overflows(); o > 0 {
		fmt.Fprintf(e.stdout, "Warning: %d input overflow(s) detected (audio data lost)\n", o)
	}
	return nil
}
