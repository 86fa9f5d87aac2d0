//go:build !cgo

package native

import "github.com/drgolem/pastream/portaudio"

// Engine is unavailable without cgo: Initialize always fails with
// HostApiNotFound and nothing else can be reached through a Context.
type Engine struct{}

// New returns the native engine.
func New() *Engine {
	return &Engine{}
}

var _ portaudio.Engine = (*Engine)(nil)

func (e *Engine) Initialize() portaudio.ErrorCode { return portaudio.CodeHostApiNotFound }
func (e *Engine) Terminate() portaudio.ErrorCode  { return portaudio.CodeNotInitialized }
func (e *Engine) Version() int                    { return 0 }
func (e *Engine) VersionText() string             { return "PortAudio unavailable (built without cgo)" }

func (e *Engine) ErrorText(code portaudio.ErrorCode) string {
	if code == portaudio.CodeHostApiNotFound {
		return "PortAudio unavailable (built without cgo)"
	}
	return "PortAudio unavailable"
}

func (e *Engine) LastHostError() *portaudio.HostErrorInfo                { return nil }
func (e *Engine) DeviceCount() int                                       { return int(portaudio.CodeNotInitialized) }
func (e *Engine) DeviceInfo(portaudio.DeviceIndex) *portaudio.DeviceInfo { return nil }
func (e *Engine) DefaultInputDevice() portaudio.DeviceIndex              { return portaudio.NoDevice }
func (e *Engine) DefaultOutputDevice() portaudio.DeviceIndex             { return portaudio.NoDevice }
func (e *Engine) HostApiCount() int                                      { return int(portaudio.CodeNotInitialized) }
func (e *Engine) DefaultHostApi() int                                    { return int(portaudio.CodeNotInitialized) }
func (e *Engine) HostApiInfo(int) *portaudio.HostApiInfo                 { return nil }

func (e *Engine) IsFormatSupported(_, _ *portaudio.StreamParameters, _ float64) portaudio.ErrorCode {
	return portaudio.CodeNotInitialized
}

func (e *Engine) OpenStream(portaudio.OpenRequest) (portaudio.EngineStream, portaudio.ErrorCode) {
	return nil, portaudio.CodeNotInitialized
}
