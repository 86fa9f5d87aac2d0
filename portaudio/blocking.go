package portaudio

import (
	"fmt"
	"time"
	"unsafe"
)

// pollInterval is how often ReadTimeout and WriteTimeout re-check availability.
const pollInterval = time.Millisecond

// Read reads frames interleaved frames from the stream into buf, blocking
// until they are available. buf must hold exactly frames * channelCount *
// sampleSize bytes.
func (s *Stream) Read(frames int, buf []byte) error {
	return s.transfer("read", frames, buf, 0)
}

// ReadTimeout is Read that gives up with Timeout when frames are not
// available within timeout. Nothing is consumed on timeout.
func (s *Stream) ReadTimeout(frames int, buf []byte, timeout time.Duration) error {
	if timeout <= 0 {
		return &ConfigError{Kind: Timeout, Field: "timeout", Msg: "must be positive"}
	}
	return s.transfer("read", frames, buf, timeout)
}

// Write writes audio data to the stream.
// frames specifies the number of frames to write (not bytes).
// buf must contain exactly frames * channelCount * sampleSize bytes.
func (s *Stream) Write(frames int, buf []byte) error {
	return s.transfer("write", frames, buf, 0)
}

// WriteTimeout is Write that gives up with Timeout when the stream cannot
// accept frames within timeout. Nothing is written on timeout.
func (s *Stream) WriteTimeout(frames int, buf []byte, timeout time.Duration) error {
	if timeout <= 0 {
		return &ConfigError{Kind: Timeout, Field: "timeout", Msg: "must be positive"}
	}
	return s.transfer("write", frames, buf, timeout)
}

// GetReadAvailable returns the number of frames that can be read without blocking.
func (s *Stream) GetReadAvailable() (int, error) {
	return s.available("read")
}

// GetWriteAvailable returns the number of frames that can be written without blocking.
func (s *Stream) GetWriteAvailable() (int, error) {
	return s.available("write")
}

// blockingSide returns the parameters of the direction op uses, after
// checking the stream is a running blocking stream. Callers hold mu.
func (s *Stream) blockingSide(op string) (*StreamParameters, error) {
	if err := s.opened(op); err != nil {
		return nil, err
	}
	if s.bridge != nil {
		return nil, s.stateErr(op, ModeMismatch)
	}
	p, missing := s.config.Input, CodeCanNotReadFromAnOutputOnlyStream
	if op == "write" {
		p, missing = s.config.Output, CodeCanNotWriteToAnInputOnlyStream
	}
	if p == nil {
		return nil, s.ctx.errorFor(missing)
	}
	return p, nil
}

func (s *Stream) available(op string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.blockingSide(op); err != nil {
		return 0, err
	}
	n := s.availableLocked(op)
	if n < 0 {
		return 0, s.ctx.errorFor(ErrorCode(n))
	}
	return n, nil
}

func (s *Stream) availableLocked(op string) int {
	if op == "write" {
		return s.handle.WriteAvailable()
	}
	return s.handle.ReadAvailable()
}

func (s *Stream) transfer(op string, frames int, buf []byte, timeout time.Duration) error {
	s.ioMu.Lock()
	defer s.ioMu.Unlock()

	s.mu.Lock()
	p, err := s.blockingSide(op)
	if err == nil && s.state != StateRunning {
		err = s.ctx.errorFor(CodeStreamIsStopped)
	}
	if err == nil {
		err = checkTransfer(p, frames, buf)
	}
	if err == nil && timeout > 0 {
		err = s.awaitLocked(op, frames, timeout)
	}
	if err != nil {
		s.mu.Unlock()
		return err
	}
	h := s.handle
	s.io.Add(1)
	s.mu.Unlock()

	var code ErrorCode
	if op == "write" {
		code = h.Write(unsafe.Pointer(&buf[0]), frames)
	} else {
		code = h.Read(unsafe.Pointer(&buf[0]), frames)
	}
	s.io.Done()

	if code != CodeNoError {
		return fmt.Errorf("%s stream: %w", op, s.ctx.errorFor(code))
	}
	return nil
}

func checkTransfer(p *StreamParameters, frames int, buf []byte) error {
	if frames <= 0 {
		return &ConfigError{Kind: InvalidFramesPerBuffer, Field: "frames", Msg: fmt.Sprintf("must be positive, got %d", frames)}
	}
	expected := frames * p.FrameSize()
	if len(buf) != expected {
		return &ConfigError{
			Kind:  InvalidFramesPerBuffer,
			Field: "buf",
			Msg:   fmt.Sprintf("buffer size mismatch: expected %d bytes for %d frames, got %d bytes", expected, frames, len(buf)),
		}
	}
	return nil
}

// awaitLocked polls until frames can be transferred or timeout passes.
// mu is released while sleeping so Stop and Abort are not held off.
func (s *Stream) awaitLocked(op string, frames int, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		n := s.availableLocked(op)
		if n < 0 {
			return s.ctx.errorFor(ErrorCode(n))
		}
		if n >= frames {
			return nil
		}
		if !time.Now().Before(deadline) {
			return fmt.Errorf("%s %d frames within %v, %d available: %w", op, frames, timeout, n, s.ctx.errorFor(CodeTimedOut))
		}

		s.mu.Unlock()
		time.Sleep(pollInterval)
		s.mu.Lock()

		if s.state != StateRunning {
			return s.ctx.errorFor(CodeStreamIsStopped)
		}
	}
}
