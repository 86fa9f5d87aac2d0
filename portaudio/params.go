package portaudio

import (
	"fmt"
	"math"
	"time"
)

// PaTime represents time in seconds as used by PortAudio (maps to C double).
type PaTime float64

// Duration converts t to a time.Duration.
func (t PaTime) Duration() time.Duration {
	return time.Duration(float64(t) * float64(time.Second))
}

// DeviceIndex addresses a device in the engine's device list.
type DeviceIndex int

// NoDevice is returned when an engine has no default device for a direction.
const NoDevice DeviceIndex = -1

// StreamFlags specify special options when opening a stream
type StreamFlags uint

const (
	// NoFlag is the default, no special flags set
	NoFlag StreamFlags = 0x00000000
	// ClipOff disables automatic output clipping. Recommended for blocking I/O
	// when you guarantee the output samples are within range [-1.0, 1.0].
	ClipOff StreamFlags = 0x00000001
	// DitherOff disables dithering when converting from float to integer samples
	DitherOff StreamFlags = 0x00000002
	// NeverDropInput prevents PortAudio from dropping input data when the callback is slow
	NeverDropInput StreamFlags = 0x00000004
	// PrimeOutputBuffersUsingStreamCallback pre-fills output buffers before starting
	PrimeOutputBuffersUsingStreamCallback StreamFlags = 0x00000008
	// PlatformSpecificFlags allows platform-specific flag usage
	PlatformSpecificFlags StreamFlags = 0xFFFF0000
)

const knownFlags = ClipOff | DitherOff | NeverDropInput | PrimeOutputBuffersUsingStreamCallback | PlatformSpecificFlags

// FramesPerBufferUnspecified lets the engine choose the callback buffer size,
// which may then vary between invocations.
const FramesPerBufferUnspecified = 0

// StreamParameters describes one direction of a stream.
type StreamParameters struct {
	Device           DeviceIndex
	ChannelCount     int
	SampleFormat     SampleFormat
	SuggestedLatency PaTime
	// NonInterleaved requests one buffer per channel in callbacks.
	NonInterleaved bool
}

// FrameSize returns the byte width of one interleaved frame.
func (p StreamParameters) FrameSize() int {
	return p.ChannelCount * p.SampleFormat.Size()
}

// NativeFormat returns the sample format word an engine passes to PortAudio.
func (p StreamParameters) NativeFormat() uint64 {
	f := uint64(p.SampleFormat)
	if p.NonInterleaved {
		f |= NonInterleavedFlag
	}
	return f
}

func (p *StreamParameters) validate(side string) error {
	if p.Device < 0 {
		return &ConfigError{Kind: InvalidDevice, Field: side + ".Device", Msg: fmt.Sprintf("negative device index %d", p.Device)}
	}
	if p.ChannelCount <= 0 {
		return &ConfigError{Kind: InvalidChannelCount, Field: side + ".ChannelCount", Msg: fmt.Sprintf("must be positive, got %d", p.ChannelCount)}
	}
	if !p.SampleFormat.Valid() {
		return &ConfigError{Kind: InvalidFormat, Field: side + ".SampleFormat", Msg: fmt.Sprintf("unsupported format %s", p.SampleFormat)}
	}
	if p.SuggestedLatency < 0 || math.IsNaN(float64(p.SuggestedLatency)) || math.IsInf(float64(p.SuggestedLatency), 0) {
		return &ConfigError{Kind: InvalidLatency, Field: side + ".SuggestedLatency", Msg: fmt.Sprintf("must be a finite non-negative number of seconds, got %v", p.SuggestedLatency)}
	}
	return nil
}

// HighLatencyParameters creates stream parameters configured for high latency.
// This is recommended for blocking I/O to avoid underruns.
// Uses the device's DefaultHighInputLatency or DefaultHighOutputLatency.
func HighLatencyParameters(device *DeviceInfo, channels int, format SampleFormat, isInput bool) StreamParameters {
	latency := device.DefaultHighOutputLatency
	if isInput {
		latency = device.DefaultHighInputLatency
	}

	return StreamParameters{
		Device:           device.Index,
		ChannelCount:     channels,
		SampleFormat:     format,
		SuggestedLatency: latency,
	}
}

// LowLatencyParameters creates stream parameters configured for low latency.
// This is recommended for callback-based I/O for real-time audio processing.
// Uses the device's DefaultLowInputLatency or DefaultLowOutputLatency.
func LowLatencyParameters(device *DeviceInfo, channels int, format SampleFormat, isInput bool) StreamParameters {
	latency := device.DefaultLowOutputLatency
	if isInput {
		latency = device.DefaultLowInputLatency
	}

	return StreamParameters{
		Device:           device.Index,
		ChannelCount:     channels,
		SampleFormat:     format,
		SuggestedLatency: latency,
	}
}

// StreamConfig is everything needed to open a stream. At least one of
// Input and Output must be set; both make a duplex stream.
type StreamConfig struct {
	Input           *StreamParameters
	Output          *StreamParameters
	SampleRate      float64
	FramesPerBuffer int
	Flags           StreamFlags
}

// Validate checks the configuration without consulting any engine.
func (c StreamConfig) Validate() error {
	if c.Input == nil && c.Output == nil {
		return &ConfigError{Kind: NoDirection, Field: "Input/Output", Msg: "at least one direction is required"}
	}
	if c.Input != nil {
		if err := c.Input.validate("Input"); err != nil {
			return err
		}
	}
	if c.Output != nil {
		if err := c.Output.validate("Output"); err != nil {
			return err
		}
	}
	// Supported rates are the engine's call; only nonsense is rejected here.
	if math.IsNaN(c.SampleRate) || math.IsInf(c.SampleRate, 0) || c.SampleRate <= 0 {
		return &ConfigError{Kind: InvalidSampleRate, Field: "SampleRate", Msg: fmt.Sprintf("%v is not a positive rate", c.SampleRate)}
	}
	if c.FramesPerBuffer < 0 || c.FramesPerBuffer > maxCallbackFrames {
		return &ConfigError{Kind: InvalidFramesPerBuffer, Field: "FramesPerBuffer", Msg: fmt.Sprintf("%d outside [0, %d]", c.FramesPerBuffer, maxCallbackFrames)}
	}
	if c.Flags&^knownFlags != 0 {
		return &ConfigError{Kind: InvalidFormat, Field: "Flags", Msg: fmt.Sprintf("unknown flag bits %#x", uint(c.Flags&^knownFlags))}
	}
	return nil
}

// clone copies the parameter structs so later caller edits cannot reach an open stream.
func (c StreamConfig) clone() StreamConfig {
	if c.Input != nil {
		in := *c.Input
		c.Input = &in
	}
	if c.Output != nil {
		out := *c.Output
		c.Output = &out
	}
	return c
}

// ValidatedConfig is a StreamConfig checked against the engine's devices.
type ValidatedConfig struct {
	StreamConfig
	InputDevice  *DeviceInfo
	OutputDevice *DeviceInfo
}

// ValidateConfig runs Validate and then checks device ranges, channel
// limits and format support with the engine.
func (c *Context) ValidateConfig(cfg StreamConfig) (*ValidatedConfig, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := c.check(); err != nil {
		return nil, err
	}

	vc := &ValidatedConfig{StreamConfig: cfg.clone()}
	var err error
	if cfg.Input != nil {
		if vc.InputDevice, err = c.deviceFor("Input", cfg.Input, true); err != nil {
			return nil, err
		}
	}
	if cfg.Output != nil {
		if vc.OutputDevice, err = c.deviceFor("Output", cfg.Output, false); err != nil {
			return nil, err
		}
	}
	if err := c.IsFormatSupported(vc.Input, vc.Output, vc.SampleRate); err != nil {
		return nil, err
	}
	return vc, nil
}

func (c *Context) deviceFor(side string, p *StreamParameters, isInput bool) (*DeviceInfo, error) {
	count := c.engine.DeviceCount()
	if int(p.Device) >= count {
		return nil, &ConfigError{Kind: InvalidDevice, Field: side + ".Device", Msg: fmt.Sprintf("index %d out of range, %d devices", p.Device, count)}
	}
	di := c.engine.DeviceInfo(p.Device)
	if di == nil {
		return nil, &ConfigError{Kind: InvalidDevice, Field: side + ".Device", Msg: fmt.Sprintf("no info for device %d", p.Device)}
	}
	limit := di.MaxOutputChannels
	if isInput {
		limit = di.MaxInputChannels
	}
	if p.ChannelCount > limit {
		return nil, &ConfigError{Kind: InvalidChannelCount, Field: side + ".ChannelCount", Msg: fmt.Sprintf("%d exceeds %d supported by %s", p.ChannelCount, limit, di.Name)}
	}
	return di, nil
}
