package portaudio

import (
	"sync/atomic"
	"unsafe"
)

// maxCallbackFrames bounds the frame count the bridge will expose to user code.
const maxCallbackFrames = 1 << 20

// StreamCallback is the Go callback function type.
// It receives audio data and should fill the output buffer with audio samples.
//
// Parameters:
//   - input: input buffer, the zero SampleBuffer for output-only streams
//   - output: output buffer to fill, the zero SampleBuffer for input-only streams
//   - frameCount: number of frames to process
//   - timeInfo: timing information about the stream
//   - statusFlags: status flags indicating stream conditions
//
// Returns:
//   - Continue (0) to keep the stream running
//   - Complete (1) to finish gracefully
//   - Abort (2) to stop immediately
//
// IMPORTANT: The callback runs in a real-time context. Avoid:
//   - Memory allocation/deallocation
//   - File I/O or console output
//   - Mutex locks or context switching
//   - Any operations that may block or take unbounded time
//
// A panic is recovered, recorded as a CallbackFault and turned into Abort.
type StreamCallback func(
	input, output SampleBuffer,
	frameCount int,
	timeInfo *StreamCallbackTimeInfo,
	statusFlags StreamCallbackFlags,
) StreamCallbackResult

// StreamCallbackResult indicates what the callback wants the stream to do
type StreamCallbackResult int

const (
	// Continue tells PortAudio to continue invoking the callback
	Continue StreamCallbackResult = 0
	// Complete tells PortAudio to finish playing remaining buffers then stop
	Complete StreamCallbackResult = 1
	// Abort tells PortAudio to stop immediately, discarding buffered data
	Abort StreamCallbackResult = 2
)

func (r StreamCallbackResult) String() string {
	switch r {
	case Continue:
		return "continue"
	case Complete:
		return "complete"
	case Abort:
		return "abort"
	}
	return "invalid"
}

// StreamCallbackFlags provides information about the stream state
type StreamCallbackFlags uint

const (
	// InputUnderflow indicates input data was lost before callback was called
	InputUnderflow StreamCallbackFlags = 0x00000001
	// InputOverflow indicates input data was discarded after callback returned
	InputOverflow StreamCallbackFlags = 0x00000002
	// OutputUnderflow indicates output buffer had insufficient data
	OutputUnderflow StreamCallbackFlags = 0x00000004
	// OutputOverflow indicates output data was discarded
	OutputOverflow StreamCallbackFlags = 0x00000008
	// PrimingOutput indicates initial output is being generated
	PrimingOutput StreamCallbackFlags = 0x00000010
)

// StreamCallbackTimeInfo provides timing information for the callback
type StreamCallbackTimeInfo struct {
	InputBufferAdcTime  PaTime // Time when first sample of input buffer was captured
	CurrentTime         PaTime // Time when callback was invoked
	OutputBufferDacTime PaTime // Time when first sample of output buffer will be played
}

// CallbackBridge adapts raw engine buffers to a StreamCallback. An engine
// calls Invoke from its audio thread; invocations for one stream must be
// sequential.
//
// Invoke does not allocate or lock. Everything it touches is sized when the
// stream is opened.
type CallbackBridge struct {
	callback  StreamCallback
	in, out   layout
	hasInput  bool
	hasOutput bool

	// epoch advances after every invocation and invalidates the views handed out.
	epoch atomic.Uint64
	// timeInfo is reused across invocations.
	timeInfo    StreamCallbackTimeInfo
	invocations atomic.Uint64

	faulted  atomic.Bool
	fault    CallbackFault
	reported atomic.Bool
}

// NewCallbackBridge builds a bridge for a stream opened with cfg.
func NewCallbackBridge(cfg StreamConfig, cb StreamCallback) *CallbackBridge {
	b := &CallbackBridge{callback: cb}
	if cfg.Input != nil {
		b.in = layoutOf(cfg.Input)
		b.hasInput = true
	}
	if cfg.Output != nil {
		b.out = layoutOf(cfg.Output)
		b.hasOutput = true
	}
	return b
}

// Invoke runs the user callback for one engine buffer and returns the
// result the engine should act on. A panic in user code, an out-of-range
// frame count or an unknown result all produce Abort and a recorded fault;
// once faulted, Invoke returns Abort without calling user code until Reset.
func (b *CallbackBridge) Invoke(input, output unsafe.Pointer, frameCount int, timeInfo StreamCallbackTimeInfo, flags StreamCallbackFlags) (result StreamCallbackResult) {
	n := b.invocations.Add(1)
	defer func() {
		if r := recover(); r != nil {
			b.recordFault(r, "callback panicked", frameCount, n)
			if b.hasOutput && frameCount > 0 && frameCount <= maxCallbackFrames {
				clearRaw(output, b.out, frameCount)
			}
			result = Abort
		}
		b.epoch.Add(1)
	}()

	if b.faulted.Load() {
		return Abort
	}
	if frameCount < 0 || frameCount > maxCallbackFrames {
		b.recordFault(nil, "frame count out of range", frameCount, n)
		return Abort
	}

	epoch := b.epoch.Load()
	var in, out SampleBuffer
	if b.hasInput && input != nil {
		in = newSampleBuffer(input, b.in, frameCount, epoch, &b.epoch)
	}
	if b.hasOutput && output != nil {
		out = newSampleBuffer(output, b.out, frameCount, epoch, &b.epoch)
	}
	b.timeInfo = timeInfo

	result = b.callback(in, out, frameCount, &b.timeInfo, flags)
	switch result {
	case Continue, Complete, Abort:
		return result
	}
	b.recordFault(nil, "invalid callback result "+result.String(), frameCount, n)
	return Abort
}

// recordFault keeps the first fault only. Invocations are sequential, so
// the plain write to b.fault is published by the faulted store.
func (b *CallbackBridge) recordFault(v any, reason string, frames int, n uint64) {
	if b.faulted.Load() {
		return
	}
	b.fault = CallbackFault{Value: v, Reason: reason, FrameCount: frames, Invocation: n}
	b.faulted.Store(true)
}

// Err returns the recorded fault, or nil.
func (b *CallbackBridge) Err() error {
	if !b.faulted.Load() {
		return nil
	}
	f := b.fault
	return &f
}

// Invocations returns how many times the engine has called Invoke.
func (b *CallbackBridge) Invocations() uint64 {
	return b.invocations.Load()
}

// Reset clears a recorded fault. Only call while the engine is not invoking the bridge.
func (b *CallbackBridge) Reset() {
	b.fault = CallbackFault{}
	b.faulted.Store(false)
	b.reported.Store(false)
}

// setCallback swaps the user callback. Same restriction as Reset.
func (b *CallbackBridge) setCallback(cb StreamCallback) {
	b.callback = cb
}

// takeReport returns the fault the first time it is asked for after it was recorded.
func (b *CallbackBridge) takeReport() *CallbackFault {
	if !b.faulted.Load() || !b.reported.CompareAndSwap(false, true) {
		return nil
	}
	f := b.fault
	return &f
}
