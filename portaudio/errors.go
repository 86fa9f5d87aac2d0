package portaudio

import (
	"fmt"
)

// ErrorCode is a raw status code as returned by a PortAudio engine.
// Negative values are errors, zero is success.
type ErrorCode int

// Engine status codes. The values match the native PaErrorCode enumeration.
const (
	CodeNoError         ErrorCode = 0
	CodeFormatSupported ErrorCode = 0

	CodeNotInitialized                        ErrorCode = -10000
	CodeUnanticipatedHostError                ErrorCode = -9999
	CodeInvalidChannelCount                   ErrorCode = -9998
	CodeInvalidSampleRate                     ErrorCode = -9997
	CodeInvalidDevice                         ErrorCode = -9996
	CodeInvalidFlag                           ErrorCode = -9995
	CodeSampleFormatNotSupported              ErrorCode = -9994
	CodeBadIODeviceCombination                ErrorCode = -9993
	CodeInsufficientMemory                    ErrorCode = -9992
	CodeBufferTooBig                          ErrorCode = -9991
	CodeBufferTooSmall                        ErrorCode = -9990
	CodeNullCallback                          ErrorCode = -9989
	CodeBadStreamPtr                          ErrorCode = -9988
	CodeTimedOut                              ErrorCode = -9987
	CodeInternalError                         ErrorCode = -9986
	CodeDeviceUnavailable                     ErrorCode = -9985
	CodeIncompatibleHostApiSpecificStreamInfo ErrorCode = -9984
	CodeStreamIsStopped                       ErrorCode = -9983
	CodeStreamIsNotStopped                    ErrorCode = -9982
	CodeInputOverflowed                       ErrorCode = -9981
	CodeOutputUnderflowed                     ErrorCode = -9980
	CodeHostApiNotFound                       ErrorCode = -9979
	CodeInvalidHostApi                        ErrorCode = -9978
	CodeCanNotReadFromACallbackStream         ErrorCode = -9977
	CodeCanNotWriteToACallbackStream          ErrorCode = -9976
	CodeCanNotReadFromAnOutputOnlyStream      ErrorCode = -9975
	CodeCanNotWriteToAnInputOnlyStream        ErrorCode = -9974
	CodeIncompatibleStreamHostApi             ErrorCode = -9973
	CodeBadBufferPtr                          ErrorCode = -9972
)

// ErrorKind classifies every failure this package reports. Kinds are
// errors themselves so callers can match with errors.Is:
//
//	if errors.Is(err, portaudio.Timeout) { ... }
type ErrorKind int

const (
	InternalFault ErrorKind = iota
	InvalidDevice
	InvalidChannelCount
	InvalidSampleRate
	InvalidFormat
	InvalidLatency
	InvalidFramesPerBuffer
	NoDirection
	DeviceUnavailable
	Timeout
	BufferOverflow
	BufferUnderflow
	NotInitialized
	StreamStopped
	StreamRunning
	HostError
	NotOpen
	AlreadyOpen
	AlreadyClosed
	ModeMismatch
	CallbackFaulted
)

var kindNames = [...]string{
	InternalFault:          "internal fault",
	InvalidDevice:          "invalid device",
	InvalidChannelCount:    "invalid channel count",
	InvalidSampleRate:      "invalid sample rate",
	InvalidFormat:          "invalid sample format",
	InvalidLatency:         "invalid latency",
	InvalidFramesPerBuffer: "invalid frames per buffer",
	NoDirection:            "stream has neither input nor output",
	DeviceUnavailable:      "device unavailable",
	Timeout:                "timed out",
	BufferOverflow:         "buffer overflow",
	BufferUnderflow:        "buffer underflow",
	NotInitialized:         "not initialized",
	StreamStopped:          "stream is stopped",
	StreamRunning:          "stream is running",
	HostError:              "host error",
	NotOpen:                "stream is not open",
	AlreadyOpen:            "stream is already open",
	AlreadyClosed:          "stream is closed",
	ModeMismatch:           "operation not valid for stream mode",
	CallbackFaulted:        "stream callback faulted",
}

func (k ErrorKind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

func (k ErrorKind) Error() string {
	return "portaudio: " + k.String()
}

// PaError is an engine failure translated into a typed error.
type PaError struct {
	Code ErrorCode
	Kind ErrorKind
	// Text is the engine's own description of Code, when available.
	Text string
}

func (e *PaError) Error() string {
	if e.Text != "" {
		return fmt.Sprintf("portaudio: %s (%d)", e.Text, int(e.Code))
	}
	return fmt.Sprintf("portaudio: %s (%d)", e.Kind, int(e.Code))
}

// Is reports whether target is the same ErrorKind or a PaError with the same code.
func (e *PaError) Is(target error) bool {
	switch t := target.(type) {
	case ErrorKind:
		return e.Kind == t
	case *PaError:
		return e.Code == t.Code
	}
	return false
}

// Translate maps an engine status code to a typed error.
// It is total: codes >= 0 yield nil, every negative code (known or not)
// yields a *PaError, unknown codes with Kind InternalFault.
func Translate(code ErrorCode) *PaError {
	if code >= 0 {
		return nil
	}
	return &PaError{Code: code, Kind: kindOf(code)}
}

func kindOf(code ErrorCode) ErrorKind {
	switch code {
	case CodeNotInitialized:
		return NotInitialized
	case CodeUnanticipatedHostError, CodeHostApiNotFound, CodeInvalidHostApi,
		CodeIncompatibleHostApiSpecificStreamInfo, CodeIncompatibleStreamHostApi:
		return HostError
	case CodeInvalidChannelCount:
		return InvalidChannelCount
	case CodeInvalidSampleRate:
		return InvalidSampleRate
	case CodeInvalidDevice, CodeBadIODeviceCombination:
		return InvalidDevice
	case CodeSampleFormatNotSupported, CodeInvalidFlag:
		return InvalidFormat
	case CodeDeviceUnavailable:
		return DeviceUnavailable
	case CodeTimedOut:
		return Timeout
	case CodeInputOverflowed:
		return BufferOverflow
	case CodeOutputUnderflowed:
		return BufferUnderflow
	case CodeStreamIsStopped:
		return StreamStopped
	case CodeStreamIsNotStopped:
		return StreamRunning
	case CodeBufferTooBig, CodeBufferTooSmall:
		return InvalidFramesPerBuffer
	case CodeCanNotReadFromACallbackStream, CodeCanNotWriteToACallbackStream,
		CodeCanNotReadFromAnOutputOnlyStream, CodeCanNotWriteToAnInputOnlyStream:
		return ModeMismatch
	case CodeBadStreamPtr:
		return AlreadyClosed
	}
	return InternalFault
}

// UnanticipatedHostError represents a host-specific error that occurred
// within the underlying audio API (ALSA, CoreAudio, WASAPI, etc.).
type UnanticipatedHostError struct {
	Code          ErrorCode
	Text          string
	HostApiType   int
	HostErrorCode int
	HostErrorText string
}

func (e *UnanticipatedHostError) Error() string {
	if e.HostErrorText != "" {
		return fmt.Sprintf("portaudio: %s [Host API error %d: %s]", e.Text, e.HostErrorCode, e.HostErrorText)
	}
	return fmt.Sprintf("portaudio: %s [Host API error %d]", e.Text, e.HostErrorCode)
}

func (e *UnanticipatedHostError) Is(target error) bool {
	k, ok := target.(ErrorKind)
	return ok && k == HostError
}

// ConfigError reports a stream configuration rejected before any engine call.
type ConfigError struct {
	Kind  ErrorKind
	Field string
	Msg   string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("portaudio: invalid stream config: %s: %s", e.Field, e.Msg)
}

func (e *ConfigError) Is(target error) bool {
	k, ok := target.(ErrorKind)
	return ok && k == e.Kind
}

// StateError reports a lifecycle operation attempted in the wrong state.
type StateError struct {
	Op    string
	State StreamState
	Kind  ErrorKind
}

func (e *StateError) Error() string {
	return fmt.Sprintf("portaudio: %s: %s (state %s)", e.Op, e.Kind, e.State)
}

func (e *StateError) Is(target error) bool {
	k, ok := target.(ErrorKind)
	return ok && k == e.Kind
}

// CallbackFault records a stream callback that panicked or was invoked
// with arguments the bridge refused to hand to user code.
type CallbackFault struct {
	// Value is the recovered panic value, nil when the bridge rejected the invocation.
	Value      any
	Reason     string
	FrameCount int
	Invocation uint64
}

func (e *CallbackFault) Error() string {
	if e.Value != nil {
		return fmt.Sprintf("portaudio: stream callback faulted on invocation %d: %s: %v", e.Invocation, e.Reason, e.Value)
	}
	return fmt.Sprintf("portaudio: stream callback faulted on invocation %d: %s (frames %d)", e.Invocation, e.Reason, e.FrameCount)
}

func (e *CallbackFault) Is(target error) bool {
	k, ok := target.(ErrorKind)
	return ok && k == CallbackFaulted
}

// Unwrap exposes a panic value that was itself an error.
func (e *CallbackFault) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
