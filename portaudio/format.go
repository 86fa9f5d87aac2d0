package portaudio

import "fmt"

// SampleFormat identifies the encoding of one sample. The values match
// the native paFloat32..paUInt8 constants so engines can pass them through.
type SampleFormat int

const (
	SampleFmtFloat32 SampleFormat = 0x00000001
	SampleFmtInt32   SampleFormat = 0x00000002
	SampleFmtInt24   SampleFormat = 0x00000004
	SampleFmtInt16   SampleFormat = 0x00000008
	SampleFmtInt8    SampleFormat = 0x00000010
	SampleFmtUInt8   SampleFormat = 0x00000020
)

// NonInterleavedFlag is or'ed into a native sample format to request
// one buffer per channel.
const NonInterleavedFlag = 0x80000000

type formatSpec struct {
	format SampleFormat
	name   string
	width  int
}

var formatTable = [...]formatSpec{
	{SampleFmtFloat32, "float32", 4},
	{SampleFmtInt32, "int32", 4},
	{SampleFmtInt24, "int24", 3},
	{SampleFmtInt16, "int16", 2},
	{SampleFmtInt8, "int8", 1},
	{SampleFmtUInt8, "uint8", 1},
}

// SampleFormats lists every supported format.
func SampleFormats() []SampleFormat {
	out := make([]SampleFormat, len(formatTable))
	for i, s := range formatTable {
		out[i] = s.format
	}
	return out
}

func (f SampleFormat) spec() (formatSpec, bool) {
	for _, s := range formatTable {
		if s.format == f {
			return s, true
		}
	}
	return formatSpec{}, false
}

// Valid reports whether f is exactly one supported format.
func (f SampleFormat) Valid() bool {
	_, ok := f.spec()
	return ok
}

// Size returns the width of one sample in bytes, 0 for unknown formats.
func (f SampleFormat) Size() int {
	s, _ := f.spec()
	return s.width
}

func (f SampleFormat) String() string {
	if s, ok := f.spec(); ok {
		return s.name
	}
	return fmt.Sprintf("SampleFormat(%#x)", int(f))
}

// ParseSampleFormat resolves a format by its String name.
func ParseSampleFormat(name string) (SampleFormat, error) {
	for _, s := range formatTable {
		if s.name == name {
			return s.format, nil
		}
	}
	return 0, &ConfigError{Kind: InvalidFormat, Field: "SampleFormat", Msg: fmt.Sprintf("unknown format %q", name)}
}

// GetSampleSize returns the size in bytes for a given sample format.
// Returns 0 for unknown formats.
func GetSampleSize(format SampleFormat) int {
	return format.Size()
}

// Sample is the set of Go types a typed buffer view can expose.
// Int24 has no native Go type; use SampleBuffer.Int24 for it.
type Sample interface {
	int8 | uint8 | int16 | int32 | float32
}

// FormatOf returns the sample format that stores values of type T.
// int32 maps to SampleFmtInt32.
func FormatOf[T Sample]() SampleFormat {
	var zero T
	switch any(zero).(type) {
	case int8:
		return SampleFmtInt8
	case uint8:
		return SampleFmtUInt8
	case int16:
		return SampleFmtInt16
	case int32:
		return SampleFmtInt32
	case float32:
		return SampleFmtFloat32
	}
	return 0
}

// Int24At decodes the little-endian packed 24-bit sample at index i of p.
func Int24At(p []byte, i int) int32 {
	o := i * 3
	v := int32(p[o]) | int32(p[o+1])<<8 | int32(p[o+2])<<16
	return v << 8 >> 8
}

// PutInt24 stores v as a little-endian packed 24-bit sample at index i of p.
// Values outside the 24-bit range are truncated.
func PutInt24(p []byte, i int, v int32) {
	o := i * 3
	p[o] = byte(v)
	p[o+1] = byte(v >> 8)
	p[o+2] = byte(v >> 16)
}
