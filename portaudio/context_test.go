package portaudio_test

import (
	"errors"
	"testing"

	"github.com/drgolem/pastream/portaudio"
	"github.com/drgolem/pastream/portaudio/loopback"
)

// TestDevices tests device and host API enumeration
func TestDevices(t *testing.T) {
	t.Parallel()

	engine := loopback.New(loopback.Config{Devices: []loopback.DeviceConfig{
		{Name: "Speakers", MaxOutputChannels: 2, DefaultSampleRate: 48000},
		{Name: "Mic", MaxInputChannels: 1, DefaultSampleRate: 16000},
	}})
	ctx := portaudio.NewContext(engine)
	if err := ctx.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer ctx.Terminate()

	devices, err := ctx.Devices()
	if err != nil {
		t.Fatalf("Devices failed: %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("Devices() returned %d devices, want 2", len(devices))
	}
	for i, d := range devices {
		if d.Index != portaudio.DeviceIndex(i) {
			t.Errorf("device %d has index %d", i, d.Index)
		}
		t.Logf("Device %d: %s (in %d, out %d, %.0f Hz)", d.Index, d.Name, d.MaxInputChannels, d.MaxOutputChannels, d.DefaultSampleRate)
	}

	out, err := ctx.DefaultOutputDevice()
	if err != nil || out.Name != "Speakers" {
		t.Errorf("DefaultOutputDevice() = %v, %v", out, err)
	}
	in, err := ctx.DefaultInputDevice()
	if err != nil || in.Name != "Mic" {
		t.Errorf("DefaultInputDevice() = %v, %v", in, err)
	}

	if _, err := ctx.DeviceInfo(7); !errors.Is(err, portaudio.InvalidDevice) {
		t.Errorf("DeviceInfo(7) = %v, want InvalidDevice", err)
	}

	apis, err := ctx.HostApis()
	if err != nil {
		t.Fatalf("HostApis failed: %v", err)
	}
	if len(apis) != 1 || apis[0].DeviceCount != 2 || apis[0].DefaultInputDevice != 1 {
		t.Errorf("HostApis() = %+v", apis)
	}
	if idx, err := ctx.DefaultHostApi(); err != nil || idx != 0 {
		t.Errorf("DefaultHostApi() = %d, %v", idx, err)
	}
	if _, err := ctx.HostApiInfo(3); !errors.Is(err, portaudio.HostError) {
		t.Errorf("HostApiInfo(3) = %v, want HostError", err)
	}

	if ctx.Version() == 0 || ctx.VersionText() == "" {
		t.Error("version should be reported")
	}
}

func TestNoDefaultInput(t *testing.T) {
	t.Parallel()

	engine := loopback.New(loopback.Config{Devices: []loopback.DeviceConfig{{Name: "Speakers", MaxOutputChannels: 2}}})
	ctx := portaudio.NewContext(engine)
	if err := ctx.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer ctx.Terminate()

	if _, err := ctx.DefaultInputDevice(); !errors.Is(err, portaudio.DeviceUnavailable) {
		t.Errorf("DefaultInputDevice() = %v, want DeviceUnavailable", err)
	}
	if _, err := ctx.OpenDefaultStream(1, 0, portaudio.SampleFmtInt16, 44100, 256, nil); !errors.Is(err, portaudio.DeviceUnavailable) {
		t.Errorf("OpenDefaultStream with input = %v, want DeviceUnavailable", err)
	}
}

// TestIsFormatSupported tests format validation
func TestIsFormatSupported(t *testing.T) {
	t.Parallel()
	ctx, _ := newLoopbackContext(t)

	tests := []struct {
		name   string
		output *portaudio.StreamParameters
		rate   float64
		want   error
	}{
		{"Stereo", params(2, portaudio.SampleFmtInt16), 44100, nil},
		{"TooManyChannels", params(16, portaudio.SampleFmtInt16), 44100, portaudio.InvalidChannelCount},
		{"BadRate", params(2, portaudio.SampleFmtInt16), 10, portaudio.InvalidSampleRate},
		{"BadFormat", params(2, portaudio.SampleFormat(0x40)), 44100, portaudio.InvalidFormat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ctx.IsFormatSupported(nil, tt.output, tt.rate)
			if tt.want == nil {
				if err != nil {
					t.Errorf("IsFormatSupported() = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("IsFormatSupported() = %v, want %v", err, tt.want)
			}
			var pe *portaudio.PaError
			if errors.As(err, &pe) && pe.Text == "" {
				t.Error("engine errors should carry the engine's text")
			}
		})
	}
}

func TestOpenDefaultStream(t *testing.T) {
	t.Parallel()
	ctx, _ := newLoopbackContext(t)

	blocking, err := ctx.OpenDefaultStream(0, 2, portaudio.SampleFmtInt16, 44100, 512, nil)
	if err != nil {
		t.Fatalf("OpenDefaultStream (blocking) failed: %v", err)
	}
	defer blocking.Close()
	cfg := blocking.Config()
	if cfg.Flags != portaudio.ClipOff || cfg.Output.SuggestedLatency != 0.05 {
		t.Errorf("blocking default stream config = %+v, output %+v", cfg, cfg.Output)
	}

	callback, err := ctx.OpenDefaultStream(1, 2, portaudio.SampleFmtFloat32, 44100, 512, silence)
	if err != nil {
		t.Fatalf("OpenDefaultStream (callback) failed: %v", err)
	}
	defer callback.Close()
	cfg = callback.Config()
	if cfg.Input == nil || cfg.Output.SuggestedLatency != 0.005 {
		t.Errorf("callback default stream config = %+v", cfg)
	}
	if ctx.OpenStreams() != 2 {
		t.Errorf("OpenStreams() = %d, want 2", ctx.OpenStreams())
	}
}
