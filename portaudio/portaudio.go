// Package portaudio provides a safe stream lifecycle and callback layer
// over PortAudio - a cross-platform audio I/O library.
//
// The package itself is pure Go. Audio is produced by an Engine: the cgo
// binding in portaudio/native talks to the real library, portaudio/loopback
// is an in-memory engine that routes each device's output back to its input.
//
// # Quick Start
//
//	ctx := portaudio.NewContext(native.New(), portaudio.WithLogger(log))
//	if err := ctx.Initialize(); err != nil { ... }
//	defer ctx.Terminate()
//
//	stream, _ := ctx.OpenDefaultStream(0, 2, portaudio.SampleFmtFloat32, 44100, 512,
//	    func(in, out portaudio.SampleBuffer, frames int, ti *portaudio.StreamCallbackTimeInfo,
//	        flags portaudio.StreamCallbackFlags) portaudio.StreamCallbackResult {
//	        samples, _ := portaudio.Samples[float32](out)
//	        // Generate or process audio here
//	        return portaudio.Continue
//	    })
//	defer stream.Close()
//	stream.Start()
//
// # Stream Types
//
// Callback Mode (recommended for real-time audio):
//   - Low latency (typically 10-20ms)
//   - Buffers are SampleBuffer views valid only during the callback
//   - Use Context.OpenStream with a callback, or Stream.Open
//
// Blocking I/O Mode:
//   - Higher latency (typically 50-100ms)
//   - Read and Write move interleaved bytes, optionally with a timeout
//   - Use Context.OpenStream with a nil callback, or Stream.OpenBlocking
//
// # Lifecycle
//
// A Stream moves Unopened -> Stopped -> Running and back, and ends Closed.
// Stop drains queued output before returning; Abort discards it. Close is
// idempotent and stops a running stream first. Terminating the Context
// closes every stream still open.
//
// # Thread Safety
//
// Context and Stream methods may be called from any goroutine. Stream
// methods are serialized per stream, except that Stop, Abort and Close may
// interrupt a blocking Read or Write in progress on another goroutine.
//
// # Audio Callback Constraints
//
// Audio callbacks run in a real-time context managed by the engine. In
// callbacks, you MUST:
//   - Process audio quickly (typically < 1ms)
//   - Use pre-allocated buffers only
//   - Avoid memory allocation (make, new, append)
//   - Avoid blocking operations (mutex, I/O, time.Sleep)
//
// A panicking callback aborts its stream; the fault is reported by the
// stream's next query and by CallbackErr.
package portaudio

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Context owns one engine and the reference count of its initialization.
type Context struct {
	engine Engine
	log    zerolog.Logger

	// lifecycle serializes Initialize and Terminate.
	lifecycle sync.Mutex

	mu   sync.Mutex
	refs int
	// terminating is set while the last Terminate closes streams; no
	// stream may open in that window.
	terminating bool
	streams     map[*Stream]struct{}
}

// Option configures a Context.
type Option func(*Context)

// WithLogger sets the logger used for lifecycle events. The default discards.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Context) {
		c.log = l
	}
}

// NewContext wraps engine. Nothing is initialized until Initialize.
func NewContext(engine Engine, opts ...Option) *Context {
	c := &Context{
		engine:  engine,
		log:     zerolog.Nop(),
		streams: make(map[*Stream]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Engine returns the engine the context drives.
func (c *Context) Engine() Engine {
	return c.engine
}

// Initialize initializes the engine.
//
// This function uses reference counting, so multiple calls are safe. Each
// call to Initialize must be matched with a corresponding call to Terminate.
// The engine is only initialized on the first call and torn down on the last
// Terminate.
func (c *Context) Initialize() error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.refs == 0 {
		if code := c.engine.Initialize(); code != CodeNoError {
			err := c.errorFor(code)
			c.log.Error().Err(err).Msg("engine initialization failed")
			return err
		}
		c.log.Debug().Str("version", c.engine.VersionText()).Msg("engine initialized")
	}
	c.refs++
	return nil
}

// Terminate releases one reference. The last one closes every stream
// still open, then terminates the engine.
//
// If the engine fails to terminate the context stays initialized, matching
// the native library's behavior of leaving its state untouched.
func (c *Context) Terminate() error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	c.mu.Lock()
	switch {
	case c.refs == 0:
		c.mu.Unlock()
		return nil
	case c.refs > 1:
		c.refs--
		c.mu.Unlock()
		return nil
	}
	c.terminating = true
	open := make([]*Stream, 0, len(c.streams))
	for s := range c.streams {
		open = append(open, s)
	}
	c.mu.Unlock()

	var errs []error
	for _, s := range open {
		c.log.Warn().Str("stream", s.id).Msg("closing stream left open at terminate")
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close stream %s: %w", s.id, err))
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.terminating = false
	if code := c.engine.Terminate(); code != CodeNoError {
		errs = append(errs, c.errorFor(code))
		return errors.Join(errs...)
	}
	c.refs = 0
	clear(c.streams)
	c.log.Debug().Msg("engine terminated")
	return errors.Join(errs...)
}

// Initialized reports whether the engine is currently initialized.
func (c *Context) Initialized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refs > 0
}

func (c *Context) check() error {
	if !c.Initialized() {
		return c.errorFor(CodeNotInitialized)
	}
	return nil
}

// errorFor translates code and attaches the engine's description.
func (c *Context) errorFor(code ErrorCode) error {
	if code >= 0 {
		return nil
	}
	text := c.engine.ErrorText(code)
	if code == CodeUnanticipatedHostError {
		if h := c.engine.LastHostError(); h != nil {
			return &UnanticipatedHostError{
				Code:          code,
				Text:          text,
				HostApiType:   h.HostApiType,
				HostErrorCode: h.ErrorCode,
				HostErrorText: h.ErrorText,
			}
		}
	}
	e := Translate(code)
	e.Text = text
	return e
}

// checkOpen is check plus a refusal while the last Terminate is running.
func (c *Context) checkOpen() error {
	c.mu.Lock()
	ok := c.refs > 0 && !c.terminating
	c.mu.Unlock()
	if !ok {
		return c.errorFor(CodeNotInitialized)
	}
	return nil
}

// track registers an opened stream. It reports false if the context is
// terminated or terminating, in which case the caller must close it.
func (c *Context) track(s *Stream) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.refs == 0 || c.terminating {
		return false
	}
	c.streams[s] = struct{}{}
	return true
}

func (c *Context) forget(s *Stream) {
	c.mu.Lock()
	delete(c.streams, s)
	c.mu.Unlock()
}

// OpenStreams returns the number of streams opened and not yet closed.
func (c *Context) OpenStreams() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.streams)
}

// Version returns the engine's numeric version.
func (c *Context) Version() int {
	return c.engine.Version()
}

// VersionText returns the engine's version string.
func (c *Context) VersionText() string {
	return c.engine.VersionText()
}

// ErrorText returns the engine's description of code.
func (c *Context) ErrorText(code ErrorCode) string {
	return c.engine.ErrorText(code)
}

// DeviceCount returns the number of devices the engine exposes.
func (c *Context) DeviceCount() (int, error) {
	if err := c.check(); err != nil {
		return 0, err
	}
	n := c.engine.DeviceCount()
	if n < 0 {
		return 0, c.errorFor(ErrorCode(n))
	}
	return n, nil
}

// Devices returns a slice of all available audio devices.
// This is a convenience function that wraps DeviceCount and DeviceInfo.
func (c *Context) Devices() ([]*DeviceInfo, error) {
	n, err := c.DeviceCount()
	if err != nil {
		return nil, err
	}

	devices := make([]*DeviceInfo, 0, n)
	for i := range n {
		di, err := c.DeviceInfo(DeviceIndex(i))
		if err != nil {
			return nil, err
		}
		devices = append(devices, di)
	}
	return devices, nil
}

// DeviceInfo returns information about the device at index.
func (c *Context) DeviceInfo(index DeviceIndex) (*DeviceInfo, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	di := c.engine.DeviceInfo(index)
	if di == nil {
		return nil, fmt.Errorf("device %d: %w", index, c.errorFor(CodeInvalidDevice))
	}
	return di, nil
}

// DefaultInputDevice returns the default input device.
// Returns an error if no default input device is available.
func (c *Context) DefaultInputDevice() (*DeviceInfo, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	idx := c.engine.DefaultInputDevice()
	if idx == NoDevice {
		return nil, fmt.Errorf("no default input device: %w", c.errorFor(CodeDeviceUnavailable))
	}
	return c.DeviceInfo(idx)
}

// DefaultOutputDevice returns the default output device.
// Returns an error if no default output device is available.
func (c *Context) DefaultOutputDevice() (*DeviceInfo, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	idx := c.engine.DefaultOutputDevice()
	if idx == NoDevice {
		return nil, fmt.Errorf("no default output device: %w", c.errorFor(CodeDeviceUnavailable))
	}
	return c.DeviceInfo(idx)
}

// HostApiCount returns the number of host APIs.
func (c *Context) HostApiCount() (int, error) {
	if err := c.check(); err != nil {
		return 0, err
	}
	n := c.engine.HostApiCount()
	if n < 0 {
		return 0, c.errorFor(ErrorCode(n))
	}
	return n, nil
}

// HostApis returns a slice of all available host APIs.
func (c *Context) HostApis() ([]*HostApiInfo, error) {
	n, err := c.HostApiCount()
	if err != nil {
		return nil, err
	}

	apis := make([]*HostApiInfo, 0, n)
	for i := range n {
		info, err := c.HostApiInfo(i)
		if err != nil {
			return nil, err
		}
		apis = append(apis, info)
	}
	return apis, nil
}

// HostApiInfo returns information about the host API at index.
func (c *Context) HostApiInfo(index int) (*HostApiInfo, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	info := c.engine.HostApiInfo(index)
	if info == nil {
		return nil, fmt.Errorf("host api %d: %w", index, c.errorFor(CodeInvalidHostApi))
	}
	return info, nil
}

// DefaultHostApi returns the index of the default host API.
func (c *Context) DefaultHostApi() (int, error) {
	if err := c.check(); err != nil {
		return 0, err
	}
	idx := c.engine.DefaultHostApi()
	if idx < 0 {
		return 0, c.errorFor(ErrorCode(idx))
	}
	return idx, nil
}

// IsFormatSupported asks the engine whether a stream with these
// parameters could be opened. It returns nil when it could.
func (c *Context) IsFormatSupported(input, output *StreamParameters, sampleRate float64) error {
	if err := c.check(); err != nil {
		return err
	}
	if code := c.engine.IsFormatSupported(input, output, sampleRate); code != CodeFormatSupported {
		return c.errorFor(code)
	}
	return nil
}
