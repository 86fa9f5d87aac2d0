package source

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/hajimehoshi/go-mp3"
	"github.com/jfreymuth/oggvorbis"

	"github.com/drgolem/pastream/portaudio"
)

type mp3Source struct {
	r   io.Reader
	dec *mp3.Decoder
}

// NewMP3 decodes MP3 data. go-mp3 always produces 16-bit stereo.
func NewMP3(r io.Reader) (Source, error) {
	dec, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, fmt.Errorf("mp3: %w", err)
	}
	return &mp3Source{r: r, dec: dec}, nil
}

func (s *mp3Source) SampleRate() int                { return s.dec.SampleRate() }
func (s *mp3Source) Channels() int                  { return 2 }
func (s *mp3Source) Format() portaudio.SampleFormat { return portaudio.SampleFmtInt16 }
func (s *mp3Source) Close() error                   { return closeIf(s.r) }

func (s *mp3Source) Read(p []byte) (int, error) {
	want, err := frameAligned(p, 4)
	if want == 0 {
		return 0, err
	}
	return io.ReadAtLeast(s.dec, p[:want], 4)
}

type vorbisSource struct {
	r     io.Reader
	dec   *oggvorbis.Reader
	chans int
	buf   []float32
}

// NewVorbis decodes Ogg Vorbis data as float32 samples.
func NewVorbis(r io.Reader) (Source, error) {
	dec, err := oggvorbis.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("vorbis: %w", err)
	}
	return &vorbisSource{r: r, dec: dec, chans: dec.Channels()}, nil
}

func (s *vorbisSource) SampleRate() int                { return s.dec.SampleRate() }
func (s *vorbisSource) Channels() int                  { return s.chans }
func (s *vorbisSource) Format() portaudio.SampleFormat { return portaudio.SampleFmtFloat32 }
func (s *vorbisSource) Close() error                   { return closeIf(s.r) }

func (s *vorbisSource) Read(p []byte) (int, error) {
	want, err := frameAligned(p, 4*s.chans)
	if want == 0 {
		return 0, err
	}
	samples := want / 4
	if cap(s.buf) < samples {
		s.buf = make([]float32, samples)
	}
	s.buf = s.buf[:samples]

	// The decoder may return nothing while crossing a page boundary.
	for {
		n, err := s.dec.Read(s.buf)
		n = n / s.chans * s.chans
		if n > 0 {
			for i, v := range s.buf[:n] {
				binary.LittleEndian.PutUint32(p[4*i:], math.Float32bits(v))
			}
			return 4 * n, nil
		}
		if err != nil {
			return 0, err
		}
	}
}
