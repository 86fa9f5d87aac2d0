//go:build cgo

// Package native is the portaudio.Engine backed by the PortAudio C library.
//
// # Thread Safety
//
// PortAudio keeps process-wide state, so every Engine shares one
// reference-counted initialization. portaudio.Context serializes calls per
// stream; the callback registry is safe for concurrent use by audio threads.
package native

/*
#cgo pkg-config: portaudio-2.0
#include <portaudio.h>

// Ensure these PortAudio functions are available
PaDeviceIndex Pa_GetDefaultInputDevice(void);
PaDeviceIndex Pa_GetDefaultOutputDevice(void);
PaHostApiIndex Pa_GetDefaultHostApi(void);
const PaHostErrorInfo* Pa_GetLastHostErrorInfo(void);
*/
import "C"
import (
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/drgolem/pastream/portaudio"
)

var (
	// initialized tracks the initialization reference count
	initialized int
	// initMu protects the initialized counter
	initMu sync.Mutex
)

// Engine drives the native library. It carries no state of its own.
type Engine struct{}

// New returns the native engine.
func New() *Engine {
	return &Engine{}
}

var _ portaudio.Engine = (*Engine)(nil)

// Initialize initializes the PortAudio library.
//
// Calls are reference counted across every Engine in the process; the
// library is only initialized on the first call.
func (e *Engine) Initialize() portaudio.ErrorCode {
	initMu.Lock()
	defer initMu.Unlock()

	if initialized == 0 {
		if code := C.Pa_Initialize(); code != C.paNoError {
			return portaudio.ErrorCode(code)
		}
	}
	initialized++
	return portaudio.CodeNoError
}

// Terminate releases one reference and terminates the library on the last.
func (e *Engine) Terminate() portaudio.ErrorCode {
	initMu.Lock()
	defer initMu.Unlock()

	if initialized == 0 {
		return portaudio.CodeNotInitialized
	}
	initialized--
	if initialized == 0 {
		if code := C.Pa_Terminate(); code != C.paNoError {
			// Restore count on error so the caller can retry.
			initialized = 1
			return portaudio.ErrorCode(code)
		}
	}
	return portaudio.CodeNoError
}

func (e *Engine) Version() int {
	return int(C.Pa_GetVersion())
}

func (e *Engine) VersionText() string {
	vi := C.Pa_GetVersionInfo()
	return C.GoString(vi.versionText)
}

func (e *Engine) ErrorText(code portaudio.ErrorCode) string {
	return C.GoString(C.Pa_GetErrorText(C.PaError(code)))
}

func (e *Engine) LastHostError() *portaudio.HostErrorInfo {
	hostErr := C.Pa_GetLastHostErrorInfo()
	if hostErr == nil {
		return nil
	}
	return &portaudio.HostErrorInfo{
		HostApiType: int(hostErr.hostApiType),
		ErrorCode:   int(hostErr.errorCode),
		ErrorText:   C.GoString(hostErr.errorText),
	}
}

func (e *Engine) DeviceCount() int {
	return int(C.Pa_GetDeviceCount())
}

func (e *Engine) DeviceInfo(index portaudio.DeviceIndex) *portaudio.DeviceInfo {
	if index < 0 {
		return nil
	}
	di := C.Pa_GetDeviceInfo(C.PaDeviceIndex(index))
	if di == nil {
		return nil
	}
	return &portaudio.DeviceInfo{
		Index:                    index,
		Name:                     C.GoString(di.name),
		HostApiIndex:             int(di.hostApi),
		MaxInputChannels:         int(di.maxInputChannels),
		MaxOutputChannels:        int(di.maxOutputChannels),
		DefaultLowInputLatency:   portaudio.PaTime(di.defaultLowInputLatency),
		DefaultLowOutputLatency:  portaudio.PaTime(di.defaultLowOutputLatency),
		DefaultHighInputLatency:  portaudio.PaTime(di.defaultHighInputLatency),
		DefaultHighOutputLatency: portaudio.PaTime(di.defaultHighOutputLatency),
		DefaultSampleRate:        float64(di.defaultSampleRate),
	}
}

func (e *Engine) DefaultInputDevice() portaudio.DeviceIndex {
	idx := C.Pa_GetDefaultInputDevice()
	if idx == C.paNoDevice {
		return portaudio.NoDevice
	}
	return portaudio.DeviceIndex(idx)
}

func (e *Engine) DefaultOutputDevice() portaudio.DeviceIndex {
	idx := C.Pa_GetDefaultOutputDevice()
	if idx == C.paNoDevice {
		return portaudio.NoDevice
	}
	return portaudio.DeviceIndex(idx)
}

func (e *Engine) HostApiCount() int {
	return int(C.Pa_GetHostApiCount())
}

func (e *Engine) DefaultHostApi() int {
	return int(C.Pa_GetDefaultHostApi())
}

func (e *Engine) HostApiInfo(index int) *portaudio.HostApiInfo {
	if index < 0 {
		return nil
	}
	hi := C.Pa_GetHostApiInfo(C.PaHostApiIndex(index))
	if hi == nil {
		return nil
	}
	return &portaudio.HostApiInfo{
		Index:               index,
		Type:                int(hi._type),
		Name:                C.GoString(hi.name),
		DeviceCount:         int(hi.deviceCount),
		DefaultInputDevice:  portaudio.DeviceIndex(hi.defaultInputDevice),
		DefaultOutputDevice: portaudio.DeviceIndex(hi.defaultOutputDevice),
	}
}

func (e *Engine) IsFormatSupported(input, output *portaudio.StreamParameters, sampleRate float64) portaudio.ErrorCode {
	code := C.Pa_IsFormatSupported(cParams(input), cParams(output), C.double(sampleRate))
	return portaudio.ErrorCode(code)
}

// cParams converts stream parameters for the C API; nil stays nil.
func cParams(p *portaudio.StreamParameters) *C.PaStreamParameters {
	if p == nil {
		return nil
	}
	return &C.PaStreamParameters{
		device:           C.PaDeviceIndex(p.Device),
		channelCount:     C.int(p.ChannelCount),
		sampleFormat:     C.PaSampleFormat(p.NativeFormat()),
		suggestedLatency: C.PaTime(p.SuggestedLatency),
	}
}

// stream is an open PaStream.
type stream struct {
	stream unsafe.Pointer
	// callbackID and callbackIDPtr are set for callback streams only.
	callbackID    int64
	callbackIDPtr unsafe.Pointer

	inFrame, outFrame int

	// xfer is held across each Pa_ReadStream/Pa_WriteStream call. PortAudio
	// does not promise that stopping a stream from another thread wakes a
	// blocked transfer, so Stop and Abort raise halting and take xfer
	// instead; transfers only ask for frames that are already available.
	xfer    sync.Mutex
	halting atomic.Bool
}

func (s *stream) Start() portaudio.ErrorCode {
	s.halting.Store(false)
	return portaudio.ErrorCode(C.Pa_StartStream(s.stream))
}

func (s *stream) Stop() portaudio.ErrorCode {
	s.halting.Store(true)
	s.xfer.Lock()
	defer s.xfer.Unlock()
	return portaudio.ErrorCode(C.Pa_StopStream(s.stream))
}

func (s *stream) Abort() portaudio.ErrorCode {
	s.halting.Store(true)
	s.xfer.Lock()
	defer s.xfer.Unlock()
	return portaudio.ErrorCode(C.Pa_AbortStream(s.stream))
}

// Close closes the PaStream and only then drops the callback registration,
// so the audio thread never looks up a missing bridge for a live stream.
func (s *stream) Close() portaudio.ErrorCode {
	code := portaudio.ErrorCode(C.Pa_CloseStream(s.stream))
	if s.callbackID != 0 {
		unregisterBridge(s.callbackID, s.callbackIDPtr)
		s.callbackID, s.callbackIDPtr = 0, nil
	}
	s.stream = nil
	return code
}

func (s *stream) IsStopped() int {
	return int(C.Pa_IsStreamStopped(s.stream))
}

func (s *stream) IsActive() int {
	return int(C.Pa_IsStreamActive(s.stream))
}

func (s *stream) Time() portaudio.PaTime {
	return portaudio.PaTime(C.Pa_GetStreamTime(s.stream))
}

func (s *stream) Info() portaudio.StreamInfo {
	si := C.Pa_GetStreamInfo(s.stream)
	if si == nil {
		return portaudio.StreamInfo{}
	}
	return portaudio.StreamInfo{
		InputLatency:  portaudio.PaTime(si.inputLatency),
		OutputLatency: portaudio.PaTime(si.outputLatency),
		SampleRate:    float64(si.sampleRate),
	}
}

func (s *stream) CPULoad() float64 {
	return float64(C.Pa_GetStreamCpuLoad(s.stream))
}

// Read reads interleaved frames; only interleaved frames are supported.
func (s *stream) Read(buf unsafe.Pointer, frames int) portaudio.ErrorCode {
	return s.transfer(buf, frames, s.inFrame, s.ReadAvailable, func(p unsafe.Pointer, n int) C.PaError {
		return C.Pa_ReadStream(s.stream, p, C.ulong(n))
	})
}

// Write writes interleaved frames; only interleaved frames are supported.
func (s *stream) Write(buf unsafe.Pointer, frames int) portaudio.ErrorCode {
	return s.transfer(buf, frames, s.outFrame, s.WriteAvailable, func(p unsafe.Pointer, n int) C.PaError {
		return C.Pa_WriteStream(s.stream, p, C.ulong(n))
	})
}

// transfer moves frames in pieces no larger than what is available, so no
// PortAudio call blocks for long and a halt is seen between pieces. An
// overflow or underflow is reported once the whole transfer is done.
func (s *stream) transfer(buf unsafe.Pointer, frames, frameSize int, available func() int, call func(unsafe.Pointer, int) C.PaError) portaudio.ErrorCode {
	s.xfer.Lock()
	defer s.xfer.Unlock()

	result := portaudio.CodeNoError
	for done := 0; done < frames; {
		if s.halting.Load() {
			return portaudio.CodeStreamIsStopped
		}
		n := available()
		if n < 0 {
			return portaudio.ErrorCode(n)
		}
		if n == 0 {
			s.xfer.Unlock()
			time.Sleep(time.Millisecond)
			s.xfer.Lock()
			continue
		}
		n = min(n, frames-done)
		switch code := portaudio.ErrorCode(call(unsafe.Add(buf, done*frameSize), n)); code {
		case portaudio.CodeNoError:
		case portaudio.CodeInputOverflowed, portaudio.CodeOutputUnderflowed:
			result = code
		default:
			return code
		}
		done += n
	}
	return result
}

func (s *stream) ReadAvailable() int {
	return int(C.Pa_GetStreamReadAvailable(s.stream))
}

func (s *stream) WriteAvailable() int {
	return int(C.Pa_GetStreamWriteAvailable(s.stream))
}
