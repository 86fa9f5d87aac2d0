package portaudio

import (
	"errors"
	"testing"
	"unsafe"
)

func outputBridge(format SampleFormat, channels int, cb StreamCallback) *CallbackBridge {
	return NewCallbackBridge(StreamConfig{
		Output:     &StreamParameters{ChannelCount: channels, SampleFormat: format},
		SampleRate: 44100,
	}, cb)
}

func TestBridgeInvoke(t *testing.T) {
	t.Parallel()

	var gotFrames int
	var gotFlags StreamCallbackFlags
	var gotTime PaTime
	b := outputBridge(SampleFmtFloat32, 2, func(in, out SampleBuffer, frames int, ti *StreamCallbackTimeInfo, flags StreamCallbackFlags) StreamCallbackResult {
		if in.Valid() {
			t.Error("input of an output-only stream should be the zero buffer")
		}
		samples, err := Samples[float32](out)
		if err != nil {
			t.Errorf("Samples failed: %v", err)
			return Abort
		}
		for i := range samples {
			samples[i] = 0.5
		}
		gotFrames, gotFlags, gotTime = frames, flags, ti.CurrentTime
		return Continue
	})

	buf := make([]float32, 64*2)
	res := b.Invoke(nil, unsafe.Pointer(&buf[0]), 64, StreamCallbackTimeInfo{CurrentTime: 1.5}, OutputUnderflow)
	if res != Continue {
		t.Fatalf("Invoke() = %v, want continue", res)
	}
	if gotFrames != 64 || gotFlags != OutputUnderflow || gotTime != 1.5 {
		t.Errorf("callback saw frames=%d flags=%v time=%v", gotFrames, gotFlags, gotTime)
	}
	for i, v := range buf {
		if v != 0.5 {
			t.Fatalf("buf[%d] = %v, want 0.5", i, v)
		}
	}
	if b.Invocations() != 1 {
		t.Errorf("Invocations() = %d, want 1", b.Invocations())
	}
	if err := b.Err(); err != nil {
		t.Errorf("Err() = %v, want nil", err)
	}
}

func TestBridgePanicBecomesAbort(t *testing.T) {
	t.Parallel()

	calls := 0
	b := outputBridge(SampleFmtInt16, 1, func(in, out SampleBuffer, frames int, ti *StreamCallbackTimeInfo, flags StreamCallbackFlags) StreamCallbackResult {
		calls++
		samples, _ := Samples[int16](out)
		for i := range samples {
			samples[i] = 1000
		}
		panic("deliberate")
	})

	buf := make([]int16, 32)
	if res := b.Invoke(nil, unsafe.Pointer(&buf[0]), 32, StreamCallbackTimeInfo{}, 0); res != Abort {
		t.Fatalf("Invoke() = %v, want abort", res)
	}
	for i, v := range buf {
		if v != 0 {
			t.Fatalf("output not silenced after panic: buf[%d] = %d", i, v)
		}
	}

	err := b.Err()
	if !errors.Is(err, CallbackFaulted) {
		t.Fatalf("Err() = %v, want CallbackFaulted", err)
	}
	var fault *CallbackFault
	if !errors.As(err, &fault) || fault.Value != "deliberate" || fault.Invocation != 1 {
		t.Errorf("fault = %+v", fault)
	}

	// Faulted bridges do not call user code again.
	if res := b.Invoke(nil, unsafe.Pointer(&buf[0]), 32, StreamCallbackTimeInfo{}, 0); res != Abort {
		t.Errorf("second Invoke() = %v, want abort", res)
	}
	if calls != 1 {
		t.Errorf("callback ran %d times, want 1", calls)
	}

	if f := b.takeReport(); f == nil {
		t.Error("takeReport() should return the fault once")
	}
	if f := b.takeReport(); f != nil {
		t.Error("takeReport() should return the fault only once")
	}

	b.Reset()
	if b.Err() != nil {
		t.Error("Reset() should clear the fault")
	}
}

func TestBridgeRejectsFrameCount(t *testing.T) {
	t.Parallel()

	called := false
	b := outputBridge(SampleFmtInt8, 1, func(in, out SampleBuffer, frames int, ti *StreamCallbackTimeInfo, flags StreamCallbackFlags) StreamCallbackResult {
		called = true
		return Continue
	})

	buf := make([]byte, 8)
	for _, frames := range []int{-1, maxCallbackFrames + 1} {
		b.Reset()
		if res := b.Invoke(nil, unsafe.Pointer(&buf[0]), frames, StreamCallbackTimeInfo{}, 0); res != Abort {
			t.Errorf("Invoke(frames=%d) = %v, want abort", frames, res)
		}
		var fault *CallbackFault
		if !errors.As(b.Err(), &fault) || fault.FrameCount != frames {
			t.Errorf("frames=%d: fault = %+v", frames, fault)
		}
	}
	if called {
		t.Error("callback should not run for a rejected frame count")
	}
}

func TestBridgeInvalidResult(t *testing.T) {
	t.Parallel()

	b := outputBridge(SampleFmtInt8, 1, func(in, out SampleBuffer, frames int, ti *StreamCallbackTimeInfo, flags StreamCallbackFlags) StreamCallbackResult {
		return StreamCallbackResult(7)
	})

	buf := make([]byte, 4)
	if res := b.Invoke(nil, unsafe.Pointer(&buf[0]), 4, StreamCallbackTimeInfo{}, 0); res != Abort {
		t.Errorf("Invoke() = %v, want abort", res)
	}
	if !errors.Is(b.Err(), CallbackFaulted) {
		t.Errorf("Err() = %v, want CallbackFaulted", b.Err())
	}
}

func TestBridgeCompleteIsNotAFault(t *testing.T) {
	t.Parallel()

	b := outputBridge(SampleFmtInt8, 1, func(in, out SampleBuffer, frames int, ti *StreamCallbackTimeInfo, flags StreamCallbackFlags) StreamCallbackResult {
		return Complete
	})

	buf := make([]byte, 4)
	if res := b.Invoke(nil, unsafe.Pointer(&buf[0]), 4, StreamCallbackTimeInfo{}, 0); res != Complete {
		t.Errorf("Invoke() = %v, want complete", res)
	}
	if b.Err() != nil {
		t.Errorf("Err() = %v, want nil", b.Err())
	}
}

func TestBridgeViewsExpire(t *testing.T) {
	t.Parallel()

	var kept SampleBuffer
	b := outputBridge(SampleFmtInt16, 2, func(in, out SampleBuffer, frames int, ti *StreamCallbackTimeInfo, flags StreamCallbackFlags) StreamCallbackResult {
		if !out.Valid() {
			t.Error("view should be valid during the callback")
		}
		kept = out
		return Continue
	})

	buf := make([]int16, 16)
	b.Invoke(nil, unsafe.Pointer(&buf[0]), 8, StreamCallbackTimeInfo{}, 0)

	if kept.Valid() {
		t.Fatal("view should expire when the callback returns")
	}
	if _, err := Samples[int16](kept); !errors.Is(err, ErrBufferExpired) {
		t.Errorf("Samples on a stale view = %v, want ErrBufferExpired", err)
	}
	if _, err := kept.Bytes(); !errors.Is(err, ErrBufferExpired) {
		t.Errorf("Bytes on a stale view = %v, want ErrBufferExpired", err)
	}
	if err := kept.Clear(); !errors.Is(err, ErrBufferExpired) {
		t.Errorf("Clear on a stale view = %v, want ErrBufferExpired", err)
	}
}

func TestBridgeDuplex(t *testing.T) {
	t.Parallel()

	cfg := StreamConfig{
		Input:      &StreamParameters{ChannelCount: 1, SampleFormat: SampleFmtInt32},
		Output:     &StreamParameters{ChannelCount: 1, SampleFormat: SampleFmtInt32},
		SampleRate: 48000,
	}
	b := NewCallbackBridge(cfg, func(in, out SampleBuffer, frames int, ti *StreamCallbackTimeInfo, flags StreamCallbackFlags) StreamCallbackResult {
		src, err := Samples[int32](in)
		if err != nil {
			t.Errorf("input Samples failed: %v", err)
			return Abort
		}
		dst, err := Samples[int32](out)
		if err != nil {
			t.Errorf("output Samples failed: %v", err)
			return Abort
		}
		for i := range src {
			dst[i] = -src[i]
		}
		return Continue
	})

	in := []int32{1, 2, 3, 4}
	out := make([]int32, 4)
	b.Invoke(unsafe.Pointer(&in[0]), unsafe.Pointer(&out[0]), 4, StreamCallbackTimeInfo{}, 0)
	for i := range in {
		if out[i] != -in[i] {
			t.Errorf("out[%d] = %d, want %d", i, out[i], -in[i])
		}
	}
}

func TestBridgeSetCallback(t *testing.T) {
	t.Parallel()

	b := outputBridge(SampleFmtInt8, 1, func(in, out SampleBuffer, frames int, ti *StreamCallbackTimeInfo, flags StreamCallbackFlags) StreamCallbackResult {
		return Continue
	})
	b.setCallback(func(in, out SampleBuffer, frames int, ti *StreamCallbackTimeInfo, flags StreamCallbackFlags) StreamCallbackResult {
		return Complete
	})

	buf := make([]byte, 2)
	if res := b.Invoke(nil, unsafe.Pointer(&buf[0]), 2, StreamCallbackTimeInfo{}, 0); res != Complete {
		t.Errorf("Invoke() = %v, want complete from the replacement callback", res)
	}
}
