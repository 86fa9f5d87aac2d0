// Package loopback is an in-memory portaudio.Engine. Every device has a
// FIFO: whatever a stream writes to a device's output can be read back from
// the same device's input. Callback streams are driven by a goroutine
// ticking at the buffer period, so tests run without audio hardware.
package loopback

import (
	"fmt"
	"sync"
	"time"

	"github.com/drgolem/pastream/portaudio"
	"github.com/smallnest/ringbuffer"
)

// Version reported by the engine.
const (
	Version     = 0x00010000
	VersionText = "loopback engine 1.0"
)

// DefaultFramesPerBuffer is used for callback streams opened with
// portaudio.FramesPerBufferUnspecified.
const DefaultFramesPerBuffer = 256

// Sample rates the engine accepts.
const (
	MinSampleRate = 1000.0
	MaxSampleRate = 768000.0
)

// DeviceConfig describes one simulated device.
type DeviceConfig struct {
	Name              string
	MaxInputChannels  int
	MaxOutputChannels int
	DefaultSampleRate float64
	// FIFOBytes is the capacity of the loop between output and input.
	FIFOBytes int
}

// Config configures an Engine.
type Config struct {
	Devices []DeviceConfig
	// TickInterval overrides the real-time buffer period of callback streams.
	TickInterval time.Duration
}

// DefaultConfig is a single stereo-capable device.
func DefaultConfig() Config {
	return Config{
		Devices: []DeviceConfig{{
			Name:              "Loopback",
			MaxInputChannels:  8,
			MaxOutputChannels: 8,
			DefaultSampleRate: 44100,
			FIFOBytes:         1 << 18,
		}},
	}
}

const (
	lowLatency  = portaudio.PaTime(0.005)
	highLatency = portaudio.PaTime(0.05)
)

var errorTexts = map[portaudio.ErrorCode]string{
	portaudio.CodeNoError:                          "Success",
	portaudio.CodeNotInitialized:                   "PortAudio not initialized",
	portaudio.CodeInvalidChannelCount:              "Invalid number of channels",
	portaudio.CodeInvalidSampleRate:                "Invalid sample rate",
	portaudio.CodeInvalidDevice:                    "Invalid device",
	portaudio.CodeInvalidFlag:                      "Invalid flag",
	portaudio.CodeSampleFormatNotSupported:         "Sample format not supported",
	portaudio.CodeBadIODeviceCombination:           "Illegal combination of I/O devices",
	portaudio.CodeBufferTooBig:                     "Buffer too big",
	portaudio.CodeBufferTooSmall:                   "Buffer too small",
	portaudio.CodeBadStreamPtr:                     "Invalid stream pointer",
	portaudio.CodeTimedOut:                         "Wait timed out",
	portaudio.CodeInternalError:                    "Internal PortAudio error",
	portaudio.CodeStreamIsStopped:                  "Stream is stopped",
	portaudio.CodeStreamIsNotStopped:               "Stream is not stopped",
	portaudio.CodeInputOverflowed:                  "Input overflowed",
	portaudio.CodeOutputUnderflowed:                "Output underflowed",
	portaudio.CodeInvalidHostApi:                   "Invalid host API",
	portaudio.CodeCanNotReadFromACallbackStream:    "Can't read from a callback stream",
	portaudio.CodeCanNotWriteToACallbackStream:     "Can't write to a callback stream",
	portaudio.CodeCanNotReadFromAnOutputOnlyStream: "Can't read from an output only stream",
	portaudio.CodeCanNotWriteToAnInputOnlyStream:   "Can't write to an input only stream",
}

// Engine is the loopback engine. The zero value is not usable; call New.
type Engine struct {
	cfg Config

	mu          sync.Mutex
	initialized bool
	epoch       time.Time
	devices     []*device
	streams     map[*stream]struct{}
}

// New returns an engine with the given devices, or DefaultConfig's when
// cfg has none.
func New(cfg Config) *Engine {
	if len(cfg.Devices) == 0 {
		cfg.Devices = DefaultConfig().Devices
	}
	return &Engine{cfg: cfg, streams: make(map[*stream]struct{})}
}

func (e *Engine) Initialize() portaudio.ErrorCode {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.devices = make([]*device, len(e.cfg.Devices))
	for i, dc := range e.cfg.Devices {
		e.devices[i] = newDevice(portaudio.DeviceIndex(i), dc)
	}
	e.epoch = time.Now()
	e.initialized = true
	return portaudio.CodeNoError
}

func (e *Engine) Terminate() portaudio.ErrorCode {
	e.mu.Lock()
	if !e.initialized {
		e.mu.Unlock()
		return portaudio.CodeNotInitialized
	}
	open := make([]*stream, 0, len(e.streams))
	for s := range e.streams {
		open = append(open, s)
	}
	e.mu.Unlock()

	for _, s := range open {
		s.Close()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.initialized = false
	e.devices = nil
	return portaudio.CodeNoError
}

// OpenStreams returns the number of engine streams not yet closed.
func (e *Engine) OpenStreams() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.streams)
}

func (e *Engine) Version() int        { return Version }
func (e *Engine) VersionText() string { return VersionText }

func (e *Engine) ErrorText(code portaudio.ErrorCode) string {
	if t, ok := errorTexts[code]; ok {
		return t
	}
	return fmt.Sprintf("Unknown error %d", int(code))
}

func (e *Engine) LastHostError() *portaudio.HostErrorInfo { return nil }

func (e *Engine) now() portaudio.PaTime {
	return portaudio.PaTime(time.Since(e.epoch).Seconds())
}

func (e *Engine) device(index portaudio.DeviceIndex) (*device, portaudio.ErrorCode) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized {
		return nil, portaudio.CodeNotInitialized
	}
	if index < 0 || int(index) >= len(e.devices) {
		return nil, portaudio.CodeInvalidDevice
	}
	return e.devices[index], portaudio.CodeNoError
}

func (e *Engine) DeviceCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized {
		return int(portaudio.CodeNotInitialized)
	}
	return len(e.devices)
}

func (e *Engine) DeviceInfo(index portaudio.DeviceIndex) *portaudio.DeviceInfo {
	d, code := e.device(index)
	if code != portaudio.CodeNoError {
		return nil
	}
	info := d.info
	return &info
}

func (e *Engine) DefaultInputDevice() portaudio.DeviceIndex {
	return e.firstDevice(func(d *device) bool { return d.info.MaxInputChannels > 0 })
}

func (e *Engine) DefaultOutputDevice() portaudio.DeviceIndex {
	return e.firstDevice(func(d *device) bool { return d.info.MaxOutputChannels > 0 })
}

func (e *Engine) firstDevice(match func(*device) bool) portaudio.DeviceIndex {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, d := range e.devices {
		if match(d) {
			return d.info.Index
		}
	}
	return portaudio.NoDevice
}

func (e *Engine) HostApiCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized {
		return int(portaudio.CodeNotInitialized)
	}
	return 1
}

func (e *Engine) DefaultHostApi() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized {
		return int(portaudio.CodeNotInitialized)
	}
	return 0
}

func (e *Engine) HostApiInfo(index int) *portaudio.HostApiInfo {
	if index != 0 || e.HostApiCount() < 1 {
		return nil
	}
	return &portaudio.HostApiInfo{
		Index:               0,
		Name:                "Loopback",
		DeviceCount:         len(e.cfg.Devices),
		DefaultInputDevice:  e.DefaultInputDevice(),
		DefaultOutputDevice: e.DefaultOutputDevice(),
	}
}

func (e *Engine) IsFormatSupported(input, output *portaudio.StreamParameters, sampleRate float64) portaudio.ErrorCode {
	_, _, code := e.resolve(input, output, sampleRate)
	return code
}

// resolve checks a parameter pair against the devices.
func (e *Engine) resolve(input, output *portaudio.StreamParameters, sampleRate float64) (in, out *device, code portaudio.ErrorCode) {
	if input == nil && output == nil {
		return nil, nil, portaudio.CodeBadIODeviceCombination
	}
	if sampleRate < MinSampleRate || sampleRate > MaxSampleRate {
		return nil, nil, portaudio.CodeInvalidSampleRate
	}
	if input != nil {
		if in, code = e.checkSide(input, true); code != portaudio.CodeNoError {
			return nil, nil, code
		}
	}
	if output != nil {
		if out, code = e.checkSide(output, false); code != portaudio.CodeNoError {
			return nil, nil, code
		}
	}
	return in, out, portaudio.CodeNoError
}

func (e *Engine) checkSide(p *portaudio.StreamParameters, isInput bool) (*device, portaudio.ErrorCode) {
	d, code := e.device(p.Device)
	if code != portaudio.CodeNoError {
		return nil, code
	}
	limit := d.info.MaxOutputChannels
	if isInput {
		limit = d.info.MaxInputChannels
	}
	if p.ChannelCount <= 0 || p.ChannelCount > limit {
		return nil, portaudio.CodeInvalidChannelCount
	}
	if !p.SampleFormat.Valid() {
		return nil, portaudio.CodeSampleFormatNotSupported
	}
	return d, portaudio.CodeNoError
}

func (e *Engine) OpenStream(req portaudio.OpenRequest) (portaudio.EngineStream, portaudio.ErrorCode) {
	in, out, code := e.resolve(req.Input, req.Output, req.SampleRate)
	if code != portaudio.CodeNoError {
		return nil, code
	}
	frames := req.FramesPerBuffer
	if frames == portaudio.FramesPerBufferUnspecified {
		frames = DefaultFramesPerBuffer
	}
	if in != nil && frames*req.Input.FrameSize() > in.capacity() {
		return nil, portaudio.CodeBufferTooBig
	}
	if out != nil && frames*req.Output.FrameSize() > out.capacity() {
		return nil, portaudio.CodeBufferTooBig
	}

	s := newStream(e, req, in, out, frames)

	e.mu.Lock()
	e.streams[s] = struct{}{}
	e.mu.Unlock()
	return s, portaudio.CodeNoError
}

func (e *Engine) forget(s *stream) {
	e.mu.Lock()
	delete(e.streams, s)
	e.mu.Unlock()
}

func (e *Engine) tickInterval(frames int, rate float64) time.Duration {
	if e.cfg.TickInterval > 0 {
		return e.cfg.TickInterval
	}
	return time.Duration(float64(frames) / rate * float64(time.Second))
}

// device is one loop: output bytes queue up until input reads them.
type device struct {
	info portaudio.DeviceInfo

	mu   sync.Mutex
	cond *sync.Cond
	fifo *ringbuffer.RingBuffer
	size int
}

func newDevice(index portaudio.DeviceIndex, dc DeviceConfig) *device {
	size := dc.FIFOBytes
	if size <= 0 {
		size = 1 << 18
	}
	rate := dc.DefaultSampleRate
	if rate == 0 {
		rate = 44100
	}
	d := &device{
		info: portaudio.DeviceInfo{
			Index:                    index,
			Name:                     dc.Name,
			MaxInputChannels:         dc.MaxInputChannels,
			MaxOutputChannels:        dc.MaxOutputChannels,
			DefaultLowInputLatency:   lowLatency,
			DefaultLowOutputLatency:  lowLatency,
			DefaultHighInputLatency:  highLatency,
			DefaultHighOutputLatency: highLatency,
			DefaultSampleRate:        rate,
		},
		fifo: ringbuffer.New(size),
		size: size,
	}
	d.cond = sync.NewCond(&d.mu)
	return d
}

func (d *device) capacity() int {
	return d.size
}

// take moves whole frames from the FIFO into p and zero-fills the rest.
// It returns the number of bytes taken.
func (d *device) take(p []byte, frameSize int) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := 0
	if want := min(d.fifo.Length(), len(p)) / frameSize * frameSize; want > 0 {
		n, _ = d.fifo.Read(p[:want])
	}
	clear(p[n:])
	d.cond.Broadcast()
	return n
}

// put queues as many whole frames of p as fit and returns the bytes queued.
func (d *device) put(p []byte, frameSize int) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := 0
	if want := min(d.fifo.Free(), len(p)) / frameSize * frameSize; want > 0 {
		n, _ = d.fifo.Write(p[:want])
	}
	d.cond.Broadcast()
	return n
}

func (d *device) buffered() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fifo.Length()
}

func (d *device) free() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fifo.Free()
}

// wake releases blocked readers and writers so they can observe a state change.
func (d *device) wake() {
	d.mu.Lock()
	d.cond.Broadcast()
	d.mu.Unlock()
}
