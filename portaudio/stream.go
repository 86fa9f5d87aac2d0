package portaudio

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// StreamState is the lifecycle state of a Stream.
type StreamState int

const (
	StateUnopened StreamState = iota
	StateStopped
	StateRunning
	StateClosed
)

func (s StreamState) String() string {
	switch s {
	case StateUnopened:
		return "unopened"
	case StateStopped:
		return "stopped"
	case StateRunning:
		return "running"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("StreamState(%d)", int(s))
}

// Stream is one audio stream of a Context.
type Stream struct {
	ctx    *Context
	id     string
	log    zerolog.Logger
	config StreamConfig

	mu     sync.Mutex
	state  StreamState
	handle EngineStream
	bridge *CallbackBridge
	// ioMu serializes blocking transfers; io counts the one running without mu held.
	ioMu sync.Mutex
	io   sync.WaitGroup
}

// NewStream creates an unopened stream. The configuration is validated
// and copied; later edits to cfg do not affect the stream.
func (c *Context) NewStream(cfg StreamConfig) (*Stream, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	id := uuid.NewString()
	return &Stream{
		ctx:    c,
		id:     id,
		log:    c.log.With().Str("stream", id).Logger(),
		config: cfg.clone(),
	}, nil
}

// OpenStream creates and opens a stream. A nil callback opens a blocking stream.
func (c *Context) OpenStream(cfg StreamConfig, cb StreamCallback) (*Stream, error) {
	s, err := c.NewStream(cfg)
	if err != nil {
		return nil, err
	}
	if cb == nil {
		err = s.OpenBlocking()
	} else {
		err = s.Open(cb)
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// OpenDefaultStream opens a stream on the default devices. A zero channel
// count leaves that direction out. If callback is nil, the stream is
// opened for blocking I/O.
func (c *Context) OpenDefaultStream(inputChannels, outputChannels int, format SampleFormat, sampleRate float64, framesPerBuffer int, callback StreamCallback) (*Stream, error) {
	cfg := StreamConfig{SampleRate: sampleRate, FramesPerBuffer: framesPerBuffer}
	highLatency := callback == nil
	if inputChannels > 0 {
		di, err := c.DefaultInputDevice()
		if err != nil {
			return nil, err
		}
		p := LowLatencyParameters(di, inputChannels, format, true)
		if highLatency {
			p = HighLatencyParameters(di, inputChannels, format, true)
		}
		cfg.Input = &p
	}
	if outputChannels > 0 {
		di, err := c.DefaultOutputDevice()
		if err != nil {
			return nil, err
		}
		p := LowLatencyParameters(di, outputChannels, format, false)
		if highLatency {
			p = HighLatencyParameters(di, outputChannels, format, false)
			cfg.Flags = ClipOff
		}
		cfg.Output = &p
	}
	return c.OpenStream(cfg, callback)
}

// UseStream opens a stream, passes it to fn and closes it when fn returns,
// whatever fn returns.
func (c *Context) UseStream(cfg StreamConfig, cb StreamCallback, fn func(*Stream) error) (err error) {
	s, err := c.OpenStream(cfg, cb)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}()
	return fn(s)
}

// ID returns the stream's unique identifier.
func (s *Stream) ID() string {
	return s.id
}

// Config returns a copy of the stream configuration.
func (s *Stream) Config() StreamConfig {
	return s.config.clone()
}

// State returns the current lifecycle state.
func (s *Stream) State() StreamState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Open opens the stream in callback mode.
func (s *Stream) Open(cb StreamCallback) error {
	if cb == nil {
		return &ConfigError{Kind: ModeMismatch, Field: "callback", Msg: "nil callback, use OpenBlocking"}
	}
	return s.open(cb)
}

// OpenBlocking opens the stream for blocking Read and Write.
func (s *Stream) OpenBlocking() error {
	for _, p := range []*StreamParameters{s.config.Input, s.config.Output} {
		if p != nil && p.NonInterleaved {
			return &ConfigError{Kind: InvalidFormat, Field: "NonInterleaved", Msg: "blocking streams are interleaved only"}
		}
	}
	return s.open(nil)
}

func (s *Stream) open(cb StreamCallback) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ctx.checkOpen(); err != nil {
		return err
	}
	switch s.state {
	case StateClosed:
		return s.stateErr("open", AlreadyClosed)
	case StateStopped, StateRunning:
		return s.stateErr("open", AlreadyOpen)
	}

	req := OpenRequest{
		Input:           s.config.Input,
		Output:          s.config.Output,
		SampleRate:      s.config.SampleRate,
		FramesPerBuffer: s.config.FramesPerBuffer,
		Flags:           s.config.Flags,
	}
	var bridge *CallbackBridge
	if cb != nil {
		bridge = NewCallbackBridge(s.config, cb)
		req.Bridge = bridge
	}

	h, code := s.ctx.engine.OpenStream(req)
	if code != CodeNoError {
		err := s.ctx.errorFor(code)
		s.log.Error().Err(err).Msg("open stream failed")
		return fmt.Errorf("open stream: %w", err)
	}

	if !s.ctx.track(s) {
		h.Close()
		return fmt.Errorf("open stream: %w", s.ctx.errorFor(CodeNotInitialized))
	}
	s.handle = h
	s.bridge = bridge
	s.state = StateStopped
	s.log.Debug().
		Bool("callback", bridge != nil).
		Float64("sample_rate", s.config.SampleRate).
		Int("frames_per_buffer", s.config.FramesPerBuffer).
		Msg("stream opened")
	return nil
}

func (s *Stream) stateErr(op string, kind ErrorKind) error {
	return &StateError{Op: op, State: s.state, Kind: kind}
}

// opened checks that the context is live and the stream is open. Callers hold mu.
func (s *Stream) opened(op string) error {
	if err := s.ctx.check(); err != nil {
		return err
	}
	switch s.state {
	case StateUnopened:
		return s.stateErr(op, NotOpen)
	case StateClosed:
		return s.stateErr(op, AlreadyClosed)
	}
	return nil
}

// Start begins audio processing. Starting a running stream fails with StreamRunning.
func (s *Stream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.opened("start"); err != nil {
		return err
	}
	if s.state == StateRunning {
		return s.ctx.errorFor(CodeStreamIsNotStopped)
	}
	if s.bridge != nil {
		s.bridge.Reset()
	}
	if code := s.handle.Start(); code != CodeNoError {
		return fmt.Errorf("start stream: %w", s.ctx.errorFor(code))
	}
	s.state = StateRunning
	s.log.Debug().Msg("stream started")
	return nil
}

// Stop stops the stream after all queued output has been played.
// No callback runs once Stop returns.
func (s *Stream) Stop() error {
	return s.halt("stop", EngineStream.Stop)
}

// Abort stops the stream immediately, discarding queued output.
// No callback runs once Abort returns.
func (s *Stream) Abort() error {
	return s.halt("abort", EngineStream.Abort)
}

func (s *Stream) halt(op string, fn func(EngineStream) ErrorCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.opened(op); err != nil {
		return err
	}
	if s.state == StateStopped {
		return s.ctx.errorFor(CodeStreamIsStopped)
	}
	if code := fn(s.handle); code != CodeNoError {
		return fmt.Errorf("%s stream: %w", op, s.ctx.errorFor(code))
	}
	s.io.Wait()
	s.state = StateStopped
	s.reportFault()
	s.log.Debug().Str("op", op).Uint64("callbacks", s.invocations()).Msg("stream stopped")
	return nil
}

// Close stops the stream if it is running and releases it. Closing a
// closed or never opened stream is a no-op.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateClosed:
		return nil
	case StateUnopened:
		s.state = StateClosed
		return nil
	}

	var errs []error
	if s.state == StateRunning {
		if code := s.handle.Stop(); code != CodeNoError && code != CodeStreamIsStopped {
			errs = append(errs, fmt.Errorf("stop stream: %w", s.ctx.errorFor(code)))
			if code := s.handle.Abort(); code != CodeNoError && code != CodeStreamIsStopped {
				errs = append(errs, fmt.Errorf("abort stream: %w", s.ctx.errorFor(code)))
			}
		}
	}
	s.io.Wait()
	if code := s.handle.Close(); code != CodeNoError {
		errs = append(errs, fmt.Errorf("close stream: %w", s.ctx.errorFor(code)))
	}

	s.state = StateClosed
	s.handle = nil
	s.ctx.forget(s)
	s.reportFault()
	s.log.Debug().Uint64("callbacks", s.invocations()).Msg("stream closed")
	return errors.Join(errs...)
}

// SetCallback replaces the callback of a stopped callback-mode stream.
func (s *Stream) SetCallback(cb StreamCallback) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.opened("set callback"); err != nil {
		return err
	}
	if s.bridge == nil || cb == nil {
		return s.stateErr("set callback", ModeMismatch)
	}
	if s.state == StateRunning {
		return s.stateErr("set callback", StreamRunning)
	}
	s.bridge.setCallback(cb)
	return nil
}

// CallbackErr returns the fault recorded by the stream callback since the
// last Start, or nil.
func (s *Stream) CallbackErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bridge == nil {
		return nil
	}
	return s.bridge.Err()
}

// Invocations returns how many times the engine has called the stream callback.
func (s *Stream) Invocations() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.invocations()
}

func (s *Stream) invocations() uint64 {
	if s.bridge == nil {
		return 0
	}
	return s.bridge.Invocations()
}

// reportFault logs a callback fault once, from the caller's goroutine.
func (s *Stream) reportFault() {
	if s.bridge == nil {
		return
	}
	if f := s.bridge.takeReport(); f != nil {
		s.log.Error().
			Interface("value", f.Value).
			Str("reason", f.Reason).
			Uint64("invocation", f.Invocation).
			Int("frames", f.FrameCount).
			Msg("stream callback faulted")
	}
}

// queryable checks that a query has a meaningful answer. Callers hold mu.
func (s *Stream) queryable() error {
	if err := s.ctx.check(); err != nil {
		return err
	}
	if s.state == StateUnopened || s.state == StateClosed {
		return s.ctx.errorFor(CodeStreamIsStopped)
	}
	return nil
}

func (s *Stream) faultErr() error {
	if s.bridge == nil {
		return nil
	}
	if err := s.bridge.Err(); err != nil {
		s.reportFault()
		return err
	}
	return nil
}

// IsActive reports whether the engine is currently processing audio for
// the stream. A running stream whose callback returned Complete or Abort
// is not active.
func (s *Stream) IsActive() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.queryable(); err != nil {
		return false, err
	}
	if err := s.faultErr(); err != nil {
		return false, err
	}
	r := s.handle.IsActive()
	if r < 0 {
		return false, s.ctx.errorFor(ErrorCode(r))
	}
	return r == 1, nil
}

// IsStopped reports whether the stream is stopped.
func (s *Stream) IsStopped() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.queryable(); err != nil {
		return false, err
	}
	if err := s.faultErr(); err != nil {
		return false, err
	}
	r := s.handle.IsStopped()
	if r < 0 {
		return false, s.ctx.errorFor(ErrorCode(r))
	}
	return r == 1, nil
}

// Time returns the stream's current clock in seconds.
func (s *Stream) Time() (PaTime, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.queryable(); err != nil {
		return 0, err
	}
	t := s.handle.Time()
	if t == 0 {
		return 0, s.ctx.errorFor(CodeStreamIsStopped)
	}
	return t, nil
}

// Info returns the actual latency and sample rate of the open stream.
func (s *Stream) Info() (StreamInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.queryable(); err != nil {
		return StreamInfo{}, err
	}
	return s.handle.Info(), nil
}

// Latency returns the input and output latency of the open stream.
func (s *Stream) Latency() (input, output PaTime, err error) {
	info, err := s.Info()
	if err != nil {
		return 0, 0, err
	}
	return info.InputLatency, info.OutputLatency, nil
}

// CPULoad returns the fraction of available time spent in the callback.
// Blocking streams always report 0.
func (s *Stream) CPULoad() (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.queryable(); err != nil {
		return 0, err
	}
	return s.handle.CPULoad(), nil
}
