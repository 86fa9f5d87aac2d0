package portaudio

import (
	"errors"
	"math"
	"testing"
)

// TestGetSampleSize tests sample format size calculations
func TestGetSampleSize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		format   SampleFormat
		expected int
	}{
		{"Float32", SampleFmtFloat32, 4},
		{"Int32", SampleFmtInt32, 4},
		{"Int24", SampleFmtInt24, 3},
		{"Int16", SampleFmtInt16, 2},
		{"Int8", SampleFmtInt8, 1},
		{"UInt8", SampleFmtUInt8, 1},
		{"Unknown", SampleFormat(0x40), 0},
		{"Combined", SampleFmtInt16 | SampleFmtInt8, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			size := GetSampleSize(tt.format)
			if size != tt.expected {
				t.Errorf("GetSampleSize(%v) = %d, want %d", tt.format, size, tt.expected)
			}
			if tt.format.Valid() != (tt.expected > 0) {
				t.Errorf("%v.Valid() = %v", tt.format, tt.format.Valid())
			}
		})
	}
}

func TestParseSampleFormat(t *testing.T) {
	t.Parallel()

	for _, f := range SampleFormats() {
		got, err := ParseSampleFormat(f.String())
		if err != nil {
			t.Fatalf("ParseSampleFormat(%q) failed: %v", f.String(), err)
		}
		if got != f {
			t.Errorf("ParseSampleFormat(%q) = %v, want %v", f.String(), got, f)
		}
	}

	if _, err := ParseSampleFormat("int12"); !errors.Is(err, InvalidFormat) {
		t.Errorf("ParseSampleFormat(int12) error = %v, want InvalidFormat", err)
	}
}

func TestFormatOf(t *testing.T) {
	t.Parallel()

	if FormatOf[float32]() != SampleFmtFloat32 {
		t.Error("float32 should map to SampleFmtFloat32")
	}
	if FormatOf[int32]() != SampleFmtInt32 {
		t.Error("int32 should map to SampleFmtInt32")
	}
	if FormatOf[int16]() != SampleFmtInt16 {
		t.Error("int16 should map to SampleFmtInt16")
	}
	if FormatOf[int8]() != SampleFmtInt8 {
		t.Error("int8 should map to SampleFmtInt8")
	}
	if FormatOf[uint8]() != SampleFmtUInt8 {
		t.Error("uint8 should map to SampleFmtUInt8")
	}
}

func TestInt24(t *testing.T) {
	t.Parallel()

	values := []int32{0, 1, -1, 8388607, -8388608, 0x123456, -0x123456}
	buf := make([]byte, len(values)*3)
	for i, v := range values {
		PutInt24(buf, i, v)
	}
	for i, want := range values {
		if got := Int24At(buf, i); got != want {
			t.Errorf("Int24At(%d) = %d, want %d", i, got, want)
		}
	}

	// little-endian packing
	PutInt24(buf, 0, 0x123456)
	if buf[0] != 0x56 || buf[1] != 0x34 || buf[2] != 0x12 {
		t.Errorf("PutInt24 packed % x", buf[:3])
	}
}

func TestPaTimeDuration(t *testing.T) {
	t.Parallel()

	d := PaTime(0.0125).Duration()
	if math.Abs(d.Seconds()-0.0125) > 1e-9 {
		t.Errorf("Duration() = %v", d)
	}
}
