package portaudio

import "unsafe"

// DeviceInfo contains information about an audio device.
type DeviceInfo struct {
	Index                    DeviceIndex
	Name                     string
	HostApiIndex             int
	MaxInputChannels         int
	MaxOutputChannels        int
	DefaultLowInputLatency   PaTime
	DefaultLowOutputLatency  PaTime
	DefaultHighInputLatency  PaTime
	DefaultHighOutputLatency PaTime
	DefaultSampleRate        float64
}

// HostApiInfo contains information about a host API (e.g. ALSA, CoreAudio).
type HostApiInfo struct {
	Index               int
	Type                int
	Name                string
	DeviceCount         int
	DefaultInputDevice  DeviceIndex
	DefaultOutputDevice DeviceIndex
}

// HostErrorInfo is the engine's record of the last host API failure.
type HostErrorInfo struct {
	HostApiType int
	ErrorCode   int
	ErrorText   string
}

// StreamInfo reports the actual parameters of an open stream.
type StreamInfo struct {
	InputLatency  PaTime
	OutputLatency PaTime
	SampleRate    float64
}

// OpenRequest is a validated stream configuration handed to an engine.
// Bridge is nil for blocking streams.
type OpenRequest struct {
	Input           *StreamParameters
	Output          *StreamParameters
	SampleRate      float64
	FramesPerBuffer int
	Flags           StreamFlags
	Bridge          *CallbackBridge
}

// Engine is an audio backend: the native PortAudio library or an
// in-process substitute. Methods report failures as raw codes; the
// Context translates them.
//
// Query methods returning int use a negative ErrorCode for failure.
type Engine interface {
	Initialize() ErrorCode
	Terminate() ErrorCode
	Version() int
	VersionText() string
	ErrorText(code ErrorCode) string
	LastHostError() *HostErrorInfo

	DeviceCount() int
	DeviceInfo(index DeviceIndex) *DeviceInfo
	DefaultInputDevice() DeviceIndex
	DefaultOutputDevice() DeviceIndex
	HostApiCount() int
	DefaultHostApi() int
	HostApiInfo(index int) *HostApiInfo

	IsFormatSupported(input, output *StreamParameters, sampleRate float64) ErrorCode
	OpenStream(req OpenRequest) (EngineStream, ErrorCode)
}

// EngineStream is one open stream inside an engine. The Stream type
// serializes calls to it, except that Stop and Abort may be called while
// a blocking Read or Write is in progress and must make it return.
type EngineStream interface {
	Start() ErrorCode
	Stop() ErrorCode
	Abort() ErrorCode
	Close() ErrorCode

	// IsStopped and IsActive return 1, 0 or a negative ErrorCode.
	IsStopped() int
	IsActive() int
	Time() PaTime
	Info() StreamInfo
	CPULoad() float64

	// Read and Write transfer exactly frames interleaved frames.
	Read(buf unsafe.Pointer, frames int) ErrorCode
	Write(buf unsafe.Pointer, frames int) ErrorCode
	// ReadAvailable and WriteAvailable return frames or a negative ErrorCode.
	ReadAvailable() int
	WriteAvailable() int
}
