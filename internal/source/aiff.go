package source

import (
	"io"

	"github.com/go-audio/aiff"

	"github.com/drgolem/pastream/portaudio"
)

// NewAIFF decodes integer PCM AIFF data of 8, 16, 24 or 32 bits. Samples
// come out little-endian like every other source.
func NewAIFF(r io.ReadSeeker) (Source, error) {
	dec := aiff.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, ErrNotAIFF
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	dec = aiff.NewDecoder(r)
	dec.ReadInfo()
	if dec.NumChans == 0 || dec.SampleRate <= 0 {
		return nil, ErrNotAIFF
	}
	// 8-bit AIFF is signed, unlike WAV.
	format := portaudio.SampleFmtInt8
	if dec.BitDepth != 8 {
		var err error
		if format, err = formatForBits(int(dec.BitDepth)); err != nil {
			return nil, err
		}
	}
	return newPCMSource(r, dec, format, int(dec.BitDepth), dec.SampleRate, int(dec.NumChans)), nil
}
