package portaudio_test

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/drgolem/pastream/portaudio"
	"github.com/drgolem/pastream/portaudio/loopback"
)

// syncBuffer lets the logger and the test share a buffer.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newLoopbackContext(t *testing.T, opts ...portaudio.Option) (*portaudio.Context, *loopback.Engine) {
	t.Helper()

	cfg := loopback.DefaultConfig()
	cfg.TickInterval = time.Millisecond
	engine := loopback.New(cfg)
	ctx := portaudio.NewContext(engine, opts...)
	if err := ctx.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	t.Cleanup(func() {
		if err := ctx.Terminate(); err != nil {
			t.Errorf("Terminate failed: %v", err)
		}
	})
	return ctx, engine
}

func params(channels int, format portaudio.SampleFormat) *portaudio.StreamParameters {
	return &portaudio.StreamParameters{Device: 0, ChannelCount: channels, SampleFormat: format, SuggestedLatency: 0.01}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func silence(in, out portaudio.SampleBuffer, frames int, ti *portaudio.StreamCallbackTimeInfo, flags portaudio.StreamCallbackFlags) portaudio.StreamCallbackResult {
	_ = out.Clear()
	return portaudio.Continue
}

// TestCallbackStreamLifecycle tests open, start, stop and close of a callback stream
func TestCallbackStreamLifecycle(t *testing.T) {
	t.Parallel()
	ctx, engine := newLoopbackContext(t)

	cfg := portaudio.StreamConfig{Output: params(2, portaudio.SampleFmtFloat32), SampleRate: 44100, FramesPerBuffer: 64}
	stream, err := ctx.OpenStream(cfg, silence)
	if err != nil {
		t.Fatalf("OpenStream failed: %v", err)
	}
	if stream.State() != portaudio.StateStopped {
		t.Errorf("State() = %v, want stopped", stream.State())
	}
	if stream.ID() == "" {
		t.Error("stream should have an ID")
	}

	if err := stream.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitFor(t, "callbacks", func() bool { return stream.Invocations() >= 5 })

	active, err := stream.IsActive()
	if err != nil || !active {
		t.Errorf("IsActive() = %v, %v; want true", active, err)
	}
	if err := stream.Start(); !errors.Is(err, portaudio.StreamRunning) {
		t.Errorf("Start on running stream = %v, want StreamRunning", err)
	}

	if err := stream.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	after := stream.Invocations()
	time.Sleep(20 * time.Millisecond)
	if n := stream.Invocations(); n != after {
		t.Errorf("callback ran %d times after Stop returned", n-after)
	}
	if err := stream.Stop(); !errors.Is(err, portaudio.StreamStopped) {
		t.Errorf("Stop on stopped stream = %v, want StreamStopped", err)
	}

	stopped, err := stream.IsStopped()
	if err != nil || !stopped {
		t.Errorf("IsStopped() = %v, %v; want true", stopped, err)
	}

	if err := stream.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := stream.Close(); err != nil {
		t.Errorf("second Close = %v, want nil", err)
	}
	if ctx.OpenStreams() != 0 || engine.OpenStreams() != 0 {
		t.Errorf("open streams after Close: context %d, engine %d", ctx.OpenStreams(), engine.OpenStreams())
	}
	if err := stream.Start(); !errors.Is(err, portaudio.AlreadyClosed) {
		t.Errorf("Start after Close = %v, want AlreadyClosed", err)
	}
}

// TestUnspecifiedFramesPerBuffer opens a stereo float32 output stream
// without a buffer size and checks every buffer the engine hands over.
func TestUnspecifiedFramesPerBuffer(t *testing.T) {
	t.Parallel()
	ctx, _ := newLoopbackContext(t)

	var calls, bad atomic.Int64
	var lastFrames atomic.Int64
	cb := func(in, out portaudio.SampleBuffer, frames int, ti *portaudio.StreamCallbackTimeInfo, flags portaudio.StreamCallbackFlags) portaudio.StreamCallbackResult {
		calls.Add(1)
		lastFrames.Store(int64(frames))
		samples, err := portaudio.Samples[float32](out)
		switch {
		case err != nil,
			in.Valid(),
			out.Channels() != 2,
			len(samples) != 2*frames,
			frames != loopback.DefaultFramesPerBuffer:
			bad.Add(1)
			return portaudio.Continue
		}
		clear(samples)
		return portaudio.Continue
	}

	cfg := portaudio.StreamConfig{
		Output:          params(2, portaudio.SampleFmtFloat32),
		SampleRate:      44100,
		FramesPerBuffer: portaudio.FramesPerBufferUnspecified,
	}
	stream, err := ctx.OpenStream(cfg, cb)
	if err != nil {
		t.Fatalf("OpenStream failed: %v", err)
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitFor(t, "callbacks", func() bool { return calls.Load() >= 10 })
	if err := stream.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if n := bad.Load(); n != 0 {
		t.Errorf("%d of %d buffers had the wrong shape (last frame count %d)", n, calls.Load(), lastFrames.Load())
	}
	if err := stream.CallbackErr(); err != nil {
		t.Errorf("CallbackErr() = %v", err)
	}
}

func TestStartStopCycles(t *testing.T) {
	t.Parallel()
	ctx, _ := newLoopbackContext(t)

	cfg := portaudio.StreamConfig{Output: params(1, portaudio.SampleFmtInt16), SampleRate: 48000, FramesPerBuffer: 32}
	stream, err := ctx.OpenStream(cfg, silence)
	if err != nil {
		t.Fatalf("OpenStream failed: %v", err)
	}
	defer stream.Close()

	for i := range 5 {
		before := stream.Invocations()
		if err := stream.Start(); err != nil {
			t.Fatalf("cycle %d: Start failed: %v", i, err)
		}
		waitFor(t, "callbacks", func() bool { return stream.Invocations() > before+2 })

		halt := stream.Stop
		if i%2 == 1 {
			halt = stream.Abort
		}
		if err := halt(); err != nil {
			t.Fatalf("cycle %d: halt failed: %v", i, err)
		}
		settled := stream.Invocations()
		time.Sleep(5 * time.Millisecond)
		if stream.Invocations() != settled {
			t.Fatalf("cycle %d: callback ran after halt", i)
		}
	}
}

func TestCallbackComplete(t *testing.T) {
	t.Parallel()
	ctx, _ := newLoopbackContext(t)

	var calls atomic.Int32
	cb := func(in, out portaudio.SampleBuffer, frames int, ti *portaudio.StreamCallbackTimeInfo, flags portaudio.StreamCallbackFlags) portaudio.StreamCallbackResult {
		if calls.Add(1) == 3 {
			return portaudio.Complete
		}
		return portaudio.Continue
	}

	cfg := portaudio.StreamConfig{Output: params(2, portaudio.SampleFmtInt16), SampleRate: 44100, FramesPerBuffer: 16}
	err := ctx.UseStream(cfg, cb, func(s *portaudio.Stream) error {
		if err := s.Start(); err != nil {
			return err
		}
		waitFor(t, "stream to finish", func() bool {
			active, err := s.IsActive()
			return err == nil && !active
		})
		if s.State() != portaudio.StateRunning {
			t.Errorf("State() = %v, completed streams stay running until stopped", s.State())
		}
		if got := calls.Load(); got != 3 {
			t.Errorf("callback ran %d times, want 3", got)
		}
		return s.Stop()
	})
	if err != nil {
		t.Fatalf("UseStream failed: %v", err)
	}
	if ctx.OpenStreams() != 0 {
		t.Errorf("UseStream left %d streams open", ctx.OpenStreams())
	}
}

// TestCallbackPanic covers a callback that panics mid-stream: the stream
// aborts, the fault surfaces on the next query and is logged once.
func TestCallbackPanic(t *testing.T) {
	t.Parallel()

	logs := &syncBuffer{}
	ctx, _ := newLoopbackContext(t, portaudio.WithLogger(zerolog.New(logs)))

	var calls atomic.Int32
	cb := func(in, out portaudio.SampleBuffer, frames int, ti *portaudio.StreamCallbackTimeInfo, flags portaudio.StreamCallbackFlags) portaudio.StreamCallbackResult {
		if calls.Add(1) == 3 {
			panic(errors.New("decoder exploded"))
		}
		return portaudio.Continue
	}

	cfg := portaudio.StreamConfig{Output: params(2, portaudio.SampleFmtFloat32), SampleRate: 44100, FramesPerBuffer: 16}
	stream, err := ctx.OpenStream(cfg, cb)
	if err != nil {
		t.Fatalf("OpenStream failed: %v", err)
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	var queryErr error
	waitFor(t, "fault", func() bool {
		_, queryErr = stream.IsActive()
		return queryErr != nil
	})
	if !errors.Is(queryErr, portaudio.CallbackFaulted) {
		t.Fatalf("IsActive() error = %v, want CallbackFaulted", queryErr)
	}
	var fault *portaudio.CallbackFault
	if !errors.As(queryErr, &fault) || fault.Invocation != 3 {
		t.Errorf("fault = %+v, want invocation 3", fault)
	}
	if fault != nil && fault.Unwrap() == nil {
		t.Error("fault should unwrap the panic error")
	}

	settled := stream.Invocations()
	time.Sleep(10 * time.Millisecond)
	if stream.Invocations() != settled {
		t.Error("callback ran after the fault")
	}

	if err := stream.Stop(); err != nil {
		t.Fatalf("Stop after fault failed: %v", err)
	}
	if !errors.Is(stream.CallbackErr(), portaudio.CallbackFaulted) {
		t.Errorf("CallbackErr() = %v", stream.CallbackErr())
	}
	if n := strings.Count(logs.String(), "stream callback faulted"); n != 1 {
		t.Errorf("fault logged %d times, want 1", n)
	}

	// Restarting clears the fault and the callback runs again.
	if err := stream.Start(); err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	if stream.CallbackErr() != nil {
		t.Errorf("CallbackErr() after restart = %v", stream.CallbackErr())
	}
	waitFor(t, "callbacks after restart", func() bool { return calls.Load() > 5 })
	active, err := stream.IsActive()
	if err != nil || !active {
		t.Errorf("IsActive() after restart = %v, %v", active, err)
	}
}

func TestSetCallback(t *testing.T) {
	t.Parallel()
	ctx, _ := newLoopbackContext(t)

	cfg := portaudio.StreamConfig{Output: params(1, portaudio.SampleFmtInt8), SampleRate: 8000, FramesPerBuffer: 8}
	stream, err := ctx.OpenStream(cfg, silence)
	if err != nil {
		t.Fatalf("OpenStream failed: %v", err)
	}
	defer stream.Close()

	var replaced atomic.Bool
	next := func(in, out portaudio.SampleBuffer, frames int, ti *portaudio.StreamCallbackTimeInfo, flags portaudio.StreamCallbackFlags) portaudio.StreamCallbackResult {
		replaced.Store(true)
		return portaudio.Continue
	}

	if err := stream.SetCallback(next); err != nil {
		t.Fatalf("SetCallback on stopped stream failed: %v", err)
	}
	if err := stream.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := stream.SetCallback(silence); !errors.Is(err, portaudio.StreamRunning) {
		t.Errorf("SetCallback while running = %v, want StreamRunning", err)
	}
	waitFor(t, "replacement callback", replaced.Load)
}

func TestInvalidOperations(t *testing.T) {
	t.Parallel()
	ctx, _ := newLoopbackContext(t)

	cfg := portaudio.StreamConfig{Output: params(2, portaudio.SampleFmtInt16), SampleRate: 44100}
	stream, err := ctx.NewStream(cfg)
	if err != nil {
		t.Fatalf("NewStream failed: %v", err)
	}

	if err := stream.Start(); !errors.Is(err, portaudio.NotOpen) {
		t.Errorf("Start on unopened stream = %v, want NotOpen", err)
	}
	if _, err := stream.Time(); !errors.Is(err, portaudio.StreamStopped) {
		t.Errorf("Time on unopened stream = %v, want StreamStopped", err)
	}
	if err := stream.Open(nil); !errors.Is(err, portaudio.ModeMismatch) {
		t.Errorf("Open(nil) = %v, want ModeMismatch", err)
	}

	if err := stream.OpenBlocking(); err != nil {
		t.Fatalf("OpenBlocking failed: %v", err)
	}
	if err := stream.OpenBlocking(); !errors.Is(err, portaudio.AlreadyOpen) {
		t.Errorf("second open = %v, want AlreadyOpen", err)
	}
	if err := stream.SetCallback(silence); !errors.Is(err, portaudio.ModeMismatch) {
		t.Errorf("SetCallback on blocking stream = %v, want ModeMismatch", err)
	}

	buf := make([]byte, 16*4)
	if err := stream.Write(16, buf); !errors.Is(err, portaudio.StreamStopped) {
		t.Errorf("Write on stopped stream = %v, want StreamStopped", err)
	}

	if err := stream.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := stream.Open(silence); !errors.Is(err, portaudio.AlreadyClosed) {
		t.Errorf("Open after Close = %v, want AlreadyClosed", err)
	}
	if _, err := stream.IsActive(); !errors.Is(err, portaudio.StreamStopped) {
		t.Errorf("IsActive after Close = %v, want StreamStopped", err)
	}
}

func TestNotInitialized(t *testing.T) {
	t.Parallel()

	engine := loopback.New(loopback.Config{TickInterval: time.Millisecond})
	ctx := portaudio.NewContext(engine)

	cfg := portaudio.StreamConfig{Output: params(2, portaudio.SampleFmtInt16), SampleRate: 44100}
	if _, err := ctx.NewStream(cfg); !errors.Is(err, portaudio.NotInitialized) {
		t.Errorf("NewStream = %v, want NotInitialized", err)
	}
	if _, err := ctx.OpenStream(cfg, silence); !errors.Is(err, portaudio.NotInitialized) {
		t.Errorf("OpenStream = %v, want NotInitialized", err)
	}
	if _, err := ctx.DeviceCount(); !errors.Is(err, portaudio.NotInitialized) {
		t.Errorf("DeviceCount = %v, want NotInitialized", err)
	}
	if _, err := ctx.HostApis(); !errors.Is(err, portaudio.NotInitialized) {
		t.Errorf("HostApis = %v, want NotInitialized", err)
	}
	if err := ctx.IsFormatSupported(nil, cfg.Output, 44100); !errors.Is(err, portaudio.NotInitialized) {
		t.Errorf("IsFormatSupported = %v, want NotInitialized", err)
	}
	if err := ctx.Terminate(); err != nil {
		t.Errorf("Terminate without Initialize = %v, want nil", err)
	}

	if err := ctx.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	stream, err := ctx.OpenStream(cfg, silence)
	if err != nil {
		t.Fatalf("OpenStream failed: %v", err)
	}
	if err := stream.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Terminate stops and closes the stream left running.
	if err := ctx.Terminate(); err != nil {
		t.Fatalf("Terminate failed: %v", err)
	}
	if stream.State() != portaudio.StateClosed {
		t.Errorf("State() after Terminate = %v, want closed", stream.State())
	}
	if engine.OpenStreams() != 0 {
		t.Errorf("engine has %d open streams after Terminate", engine.OpenStreams())
	}
	if err := stream.Start(); !errors.Is(err, portaudio.NotInitialized) {
		t.Errorf("Start after Terminate = %v, want NotInitialized", err)
	}
	if err := stream.Close(); err != nil {
		t.Errorf("Close after Terminate = %v, want nil", err)
	}
}

func TestReferenceCounting(t *testing.T) {
	t.Parallel()

	ctx := portaudio.NewContext(loopback.New(loopback.Config{}))
	for range 2 {
		if err := ctx.Initialize(); err != nil {
			t.Fatalf("Initialize failed: %v", err)
		}
	}

	if err := ctx.Terminate(); err != nil {
		t.Fatalf("first Terminate failed: %v", err)
	}
	if !ctx.Initialized() {
		t.Fatal("context should stay initialized until the last Terminate")
	}
	if _, err := ctx.DeviceCount(); err != nil {
		t.Errorf("DeviceCount after first Terminate = %v", err)
	}

	if err := ctx.Terminate(); err != nil {
		t.Fatalf("second Terminate failed: %v", err)
	}
	if ctx.Initialized() {
		t.Error("context should be terminated")
	}
}

// closeHookEngine runs onClose before an engine stream closes.
type closeHookEngine struct {
	*loopback.Engine
	onClose func()
}

func (e *closeHookEngine) OpenStream(req portaudio.OpenRequest) (portaudio.EngineStream, portaudio.ErrorCode) {
	h, code := e.Engine.OpenStream(req)
	if code != portaudio.CodeNoError {
		return h, code
	}
	return &closeHookStream{EngineStream: h, engine: e}, code
}

type closeHookStream struct {
	portaudio.EngineStream
	engine *closeHookEngine
}

func (s *closeHookStream) Close() portaudio.ErrorCode {
	if s.engine.onClose != nil {
		s.engine.onClose()
	}
	return s.EngineStream.Close()
}

func TestNoOpenDuringTerminate(t *testing.T) {
	t.Parallel()

	engine := &closeHookEngine{Engine: loopback.New(loopback.DefaultConfig())}
	ctx := portaudio.NewContext(engine)
	if err := ctx.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	cfg := portaudio.StreamConfig{Output: params(1, portaudio.SampleFmtInt16), SampleRate: 8000}
	leaked, err := ctx.OpenStream(cfg, nil)
	if err != nil {
		t.Fatalf("OpenStream failed: %v", err)
	}

	// Terminate closes the leaked stream; try to open another meanwhile.
	var once sync.Once
	var lateErr error
	var lateStream *portaudio.Stream
	engineOpen := -1
	engine.onClose = func() {
		once.Do(func() {
			lateStream, lateErr = ctx.OpenStream(cfg, nil)
			engineOpen = engine.OpenStreams()
		})
	}

	if err := ctx.Terminate(); err != nil {
		t.Fatalf("Terminate failed: %v", err)
	}
	if !errors.Is(lateErr, portaudio.NotInitialized) {
		t.Errorf("OpenStream during Terminate = %v, want NotInitialized", lateErr)
	}
	if lateStream != nil {
		t.Errorf("OpenStream during Terminate returned stream in state %v", lateStream.State())
	}
	if engineOpen != 1 {
		t.Errorf("engine had %d open streams during Terminate, want only the leaked one", engineOpen)
	}
	if leaked.State() != portaudio.StateClosed {
		t.Errorf("leaked stream state = %v, want closed", leaked.State())
	}
	if ctx.OpenStreams() != 0 {
		t.Errorf("OpenStreams() = %d after Terminate", ctx.OpenStreams())
	}
}

func TestStaleViewAfterCallback(t *testing.T) {
	t.Parallel()
	ctx, _ := newLoopbackContext(t)

	var mu sync.Mutex
	var kept portaudio.SampleBuffer
	cb := func(in, out portaudio.SampleBuffer, frames int, ti *portaudio.StreamCallbackTimeInfo, flags portaudio.StreamCallbackFlags) portaudio.StreamCallbackResult {
		mu.Lock()
		kept = out
		mu.Unlock()
		return portaudio.Complete
	}

	cfg := portaudio.StreamConfig{Output: params(2, portaudio.SampleFmtInt32), SampleRate: 44100, FramesPerBuffer: 16}
	stream, err := ctx.OpenStream(cfg, cb)
	if err != nil {
		t.Fatalf("OpenStream failed: %v", err)
	}
	defer stream.Close()
	if err := stream.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitFor(t, "callback", func() bool { return stream.Invocations() >= 1 })
	if err := stream.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if kept.Frames() != 16 {
		t.Errorf("Frames() = %d, want 16", kept.Frames())
	}
	if _, err := portaudio.Samples[int32](kept); !errors.Is(err, portaudio.ErrBufferExpired) {
		t.Errorf("Samples on retained view = %v, want ErrBufferExpired", err)
	}
}

func TestValidateConfig(t *testing.T) {
	t.Parallel()
	ctx, _ := newLoopbackContext(t)

	ok := portaudio.StreamConfig{Input: params(2, portaudio.SampleFmtInt16), Output: params(2, portaudio.SampleFmtInt16), SampleRate: 44100}
	vc, err := ctx.ValidateConfig(ok)
	if err != nil {
		t.Fatalf("ValidateConfig failed: %v", err)
	}
	if vc.InputDevice == nil || vc.OutputDevice == nil {
		t.Error("validated config should carry the device info")
	}

	tooMany := portaudio.StreamConfig{Output: params(9, portaudio.SampleFmtInt16), SampleRate: 44100}
	if _, err := ctx.ValidateConfig(tooMany); !errors.Is(err, portaudio.InvalidChannelCount) {
		t.Errorf("9 channels = %v, want InvalidChannelCount", err)
	}

	badDevice := portaudio.StreamConfig{Output: &portaudio.StreamParameters{Device: 4, ChannelCount: 2, SampleFormat: portaudio.SampleFmtInt16}, SampleRate: 44100}
	if _, err := ctx.ValidateConfig(badDevice); !errors.Is(err, portaudio.InvalidDevice) {
		t.Errorf("device 4 = %v, want InvalidDevice", err)
	}
	if _, err := ctx.OpenStream(badDevice, silence); !errors.Is(err, portaudio.InvalidDevice) {
		t.Errorf("OpenStream on device 4 = %v, want InvalidDevice", err)
	}

	// 500 Hz is a valid request; the loopback engine is what refuses it.
	lowRate := portaudio.StreamConfig{Output: params(2, portaudio.SampleFmtInt16), SampleRate: 500}
	if err := lowRate.Validate(); err != nil {
		t.Errorf("Validate(500 Hz) = %v, want nil", err)
	}
	_, err = ctx.OpenStream(lowRate, silence)
	var pe *portaudio.PaError
	if !errors.As(err, &pe) || !errors.Is(err, portaudio.InvalidSampleRate) {
		t.Errorf("OpenStream at 500 Hz = %v, want an engine InvalidSampleRate", err)
	}
}

func TestStreamQueries(t *testing.T) {
	t.Parallel()
	ctx, _ := newLoopbackContext(t)

	cfg := portaudio.StreamConfig{
		Input:           params(1, portaudio.SampleFmtFloat32),
		Output:          params(2, portaudio.SampleFmtFloat32),
		SampleRate:      48000,
		FramesPerBuffer: 32,
	}
	stream, err := ctx.OpenStream(cfg, silence)
	if err != nil {
		t.Fatalf("OpenStream failed: %v", err)
	}
	defer stream.Close()

	info, err := stream.Info()
	if err != nil {
		t.Fatalf("Info failed: %v", err)
	}
	if info.SampleRate != 48000 || info.InputLatency != 0.01 || info.OutputLatency != 0.01 {
		t.Errorf("Info() = %+v", info)
	}

	if err := stream.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitFor(t, "callbacks", func() bool { return stream.Invocations() >= 2 })

	t1, err := stream.Time()
	if err != nil {
		t.Fatalf("Time failed: %v", err)
	}
	time.Sleep(2 * time.Millisecond)
	t2, _ := stream.Time()
	if t2 <= t1 {
		t.Errorf("stream time did not advance: %v then %v", t1, t2)
	}

	if load, err := stream.CPULoad(); err != nil || load < 0 {
		t.Errorf("CPULoad() = %v, %v", load, err)
	}
	if _, out, err := stream.Latency(); err != nil || out != 0.01 {
		t.Errorf("Latency() output = %v, %v", out, err)
	}
}
