// Package source decodes audio files into interleaved little-endian PCM
// bytes in a PortAudio sample format, and writes recordings as WAV.
package source

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/drgolem/pastream/portaudio"
)

var (
	ErrUnsupported = errors.New("source: unsupported file type")
	ErrNotWAV      = errors.New("source: not a PCM WAV file")
	ErrNotAIFF     = errors.New("source: not an AIFF file")
	ErrBitDepth    = errors.New("source: unsupported bit depth")
)

// Source is a stream of interleaved PCM frames. Read never returns a
// partial frame unless p is shorter than one frame.
type Source interface {
	io.ReadCloser
	SampleRate() int
	Channels() int
	Format() portaudio.SampleFormat
}

// FrameSize returns the byte size of one frame of s.
func FrameSize(s Source) int {
	return s.Channels() * s.Format().Size()
}

// RawFormat describes headerless PCM files.
type RawFormat struct {
	SampleRate int
	Channels   int
	Format     portaudio.SampleFormat
}

// Open opens path and picks a decoder from its extension: .wav, .aif/.aiff,
// .mp3, .ogg/.oga, or .raw/.pcm read as raw.
func Open(path string, raw RawFormat) (Source, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".wav", ".aif", ".aiff", ".mp3", ".ogg", ".oga", ".raw", ".pcm":
	default:
		return nil, fmt.Errorf("%s: %w", path, ErrUnsupported)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	var s Source
	switch ext {
	case ".wav":
		s, err = NewWAV(f)
	case ".aif", ".aiff":
		s, err = NewAIFF(f)
	case ".mp3":
		s, err = NewMP3(f)
	case ".ogg", ".oga":
		s, err = NewVorbis(f)
	default:
		s, err = NewRaw(f, raw)
	}
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// frameAligned returns the largest whole-frame prefix length of p. A
// non-empty p shorter than one frame is an error.
func frameAligned(p []byte, frame int) (int, error) {
	n := len(p) / frame * frame
	if n == 0 && len(p) > 0 {
		return 0, io.ErrShortBuffer
	}
	return n, nil
}

func closeIf(r any) error {
	if c, ok := r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

type rawSource struct {
	r      io.Reader
	format RawFormat
	frame  int
}

// NewRaw reads headerless interleaved PCM from r.
func NewRaw(r io.Reader, f RawFormat) (Source, error) {
	if f.SampleRate <= 0 || f.Channels <= 0 || !f.Format.Valid() {
		return nil, fmt.Errorf("raw format %d Hz, %d channels, %v: %w", f.SampleRate, f.Channels, f.Format, ErrUnsupported)
	}
	return &rawSource{r: r, format: f, frame: f.Channels * f.Format.Size()}, nil
}

func (s *rawSource) SampleRate() int                { return s.format.SampleRate }
func (s *rawSource) Channels() int                  { return s.format.Channels }
func (s *rawSource) Format() portaudio.SampleFormat { return s.format.Format }
func (s *rawSource) Close() error                   { return closeIf(s.r) }

func (s *rawSource) Read(p []byte) (int, error) {
	want, err := frameAligned(p, s.frame)
	if want == 0 {
		return 0, err
	}
	n, err := io.ReadFull(s.r, p[:want])
	if err == io.ErrUnexpectedEOF {
		// Drop a trailing partial frame.
		n = n / s.frame * s.frame
		err = nil
		if n == 0 {
			err = io.EOF
		}
	}
	return n, err
}
