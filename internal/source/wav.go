package source

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/drgolem/pastream/portaudio"
)

// formatForBits maps a PCM bit depth to the matching sample format. 8-bit
// WAV data is unsigned.
func formatForBits(bits int) (portaudio.SampleFormat, error) {
	switch bits {
	case 8:
		return portaudio.SampleFmtUInt8, nil
	case 16:
		return portaudio.SampleFmtInt16, nil
	case 24:
		return portaudio.SampleFmtInt24, nil
	case 32:
		return portaudio.SampleFmtInt32, nil
	}
	return 0, fmt.Errorf("%d bits: %w", bits, ErrBitDepth)
}

func bitsForFormat(f portaudio.SampleFormat) (int, error) {
	switch f {
	case portaudio.SampleFmtUInt8:
		return 8, nil
	case portaudio.SampleFmtInt16:
		return 16, nil
	case portaudio.SampleFmtInt24:
		return 24, nil
	case portaudio.SampleFmtInt32:
		return 32, nil
	}
	return 0, fmt.Errorf("%v: %w", f, ErrBitDepth)
}

// putSamples encodes ints as little-endian samples of format f. go-audio
// hands 8-bit samples over as the raw byte.
func putSamples(p []byte, data []int, f portaudio.SampleFormat) {
	switch f {
	case portaudio.SampleFmtUInt8, portaudio.SampleFmtInt8:
		for i, v := range data {
			p[i] = byte(v)
		}
	case portaudio.SampleFmtInt16:
		for i, v := range data {
			binary.LittleEndian.PutUint16(p[2*i:], uint16(int16(v)))
		}
	case portaudio.SampleFmtInt24:
		for i, v := range data {
			portaudio.PutInt24(p, i, int32(v))
		}
	case portaudio.SampleFmtInt32:
		for i, v := range data {
			binary.LittleEndian.PutUint32(p[4*i:], uint32(int32(v)))
		}
	}
}

// getSamples decodes little-endian samples of format f into data.
func getSamples(data []int, p []byte, f portaudio.SampleFormat) {
	switch f {
	case portaudio.SampleFmtUInt8:
		for i := range data {
			data[i] = int(p[i])
		}
	case portaudio.SampleFmtInt16:
		for i := range data {
			data[i] = int(int16(binary.LittleEndian.Uint16(p[2*i:])))
		}
	case portaudio.SampleFmtInt24:
		for i := range data {
			data[i] = int(portaudio.Int24At(p, i))
		}
	case portaudio.SampleFmtInt32:
		for i := range data {
			data[i] = int(int32(binary.LittleEndian.Uint32(p[4*i:])))
		}
	}
}

// pcmDecoder is the part of the go-audio decoders a pcmSource reads from.
type pcmDecoder interface {
	PCMBuffer(buf *audio.IntBuffer) (int, error)
}

// pcmSource adapts a go-audio integer decoder to Source.
type pcmSource struct {
	r      io.ReadSeeker
	dec    pcmDecoder
	format portaudio.SampleFormat
	rate   int
	chans  int
	buf    *audio.IntBuffer
}

// NewWAV decodes integer PCM WAV data of 8, 16, 24 or 32 bits.
func NewWAV(r io.ReadSeeker) (Source, error) {
	dec := wav.NewDecoder(r)
	dec.ReadInfo()
	if err := dec.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotWAV, err)
	}
	if dec.WavAudioFormat != 1 || dec.NumChans == 0 {
		return nil, ErrNotWAV
	}
	format, err := formatForBits(int(dec.BitDepth))
	if err != nil {
		return nil, err
	}
	if err := dec.FwdToPCM(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotWAV, err)
	}

	return newPCMSource(r, dec, format, int(dec.BitDepth), int(dec.SampleRate), int(dec.NumChans)), nil
}

func newPCMSource(r io.ReadSeeker, dec pcmDecoder, format portaudio.SampleFormat, bits, rate, chans int) *pcmSource {
	return &pcmSource{
		r:      r,
		dec:    dec,
		format: format,
		rate:   rate,
		chans:  chans,
		buf: &audio.IntBuffer{
			Format:         &audio.Format{NumChannels: chans, SampleRate: rate},
			SourceBitDepth: bits,
		},
	}
}

func (s *pcmSource) SampleRate() int                { return s.rate }
func (s *pcmSource) Channels() int                  { return s.chans }
func (s *pcmSource) Format() portaudio.SampleFormat { return s.format }
func (s *pcmSource) Close() error                   { return closeIf(s.r) }

func (s *pcmSource) Read(p []byte) (int, error) {
	width := s.format.Size()
	want, err := frameAligned(p, width*s.chans)
	if want == 0 {
		return 0, err
	}
	samples := want / width
	if cap(s.buf.Data) < samples {
		s.buf.Data = make([]int, samples)
	}
	s.buf.Data = s.buf.Data[:samples]

	n, err := s.dec.PCMBuffer(s.buf)
	n = n / s.chans * s.chans
	if n == 0 {
		if err != nil && err != io.EOF {
			return 0, err
		}
		return 0, io.EOF
	}
	putSamples(p, s.buf.Data[:n], s.format)
	return n * width, nil
}

// WAVWriter writes interleaved PCM bytes to a WAV file.
type WAVWriter struct {
	enc    *wav.Encoder
	format portaudio.SampleFormat
	frame  int
	buf    *audio.IntBuffer
	frames int64
}

// NewWAVWriter writes unsigned 8-bit or 16, 24 or 32-bit integer PCM to w. Close must be
// called to finish the header; it does not close w.
func NewWAVWriter(w io.WriteSeeker, sampleRate, channels int, format portaudio.SampleFormat) (*WAVWriter, error) {
	bits, err := bitsForFormat(format)
	if err != nil {
		return nil, err
	}
	if channels <= 0 || sampleRate <= 0 {
		return nil, fmt.Errorf("wav writer: %d Hz, %d channels", sampleRate, channels)
	}
	return &WAVWriter{
		enc:    wav.NewEncoder(w, sampleRate, bits, channels, 1),
		format: format,
		frame:  channels * format.Size(),
		buf: &audio.IntBuffer{
			Format:         &audio.Format{NumChannels: channels, SampleRate: sampleRate},
			SourceBitDepth: bits,
		},
	}, nil
}

// Write encodes p, which must hold whole frames.
func (w *WAVWriter) Write(p []byte) (int, error) {
	if len(p)%w.frame != 0 {
		return 0, fmt.Errorf("wav writer: %d bytes is not a whole number of %d-byte frames", len(p), w.frame)
	}
	if len(p) == 0 {
		return 0, nil
	}
	samples := len(p) / w.format.Size()
	if cap(w.buf.Data) < samples {
		w.buf.Data = make([]int, samples)
	}
	w.buf.Data = w.buf.Data[:samples]
	getSamples(w.buf.Data, p, w.format)

	if err := w.enc.Write(w.buf); err != nil {
		return 0, err
	}
	w.frames += int64(len(p) / w.frame)
	return len(p), nil
}

// Frames returns how many frames have been written.
func (w *WAVWriter) Frames() int64 {
	return w.frames
}

// Close finishes the WAV header.
func (w *WAVWriter) Close() error {
	return w.enc.Close()
}
