package loopback

import (
	"math"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/drgolem/pastream/portaudio"
)

// side is one direction of a stream with its pre-allocated callback buffers.
type side struct {
	params    portaudio.StreamParameters
	dev       *device
	frameSize int
	// buf holds the callback buffer: interleaved, or one plane per channel.
	buf []byte
	// planes points into buf for non-interleaved callbacks.
	planes []unsafe.Pointer
	// wire is the interleaved form exchanged with the FIFO.
	wire []byte
}

func newSide(p *portaudio.StreamParameters, dev *device, frames int, callback bool) *side {
	sd := &side{params: *p, dev: dev, frameSize: p.FrameSize()}
	if !callback {
		return sd
	}
	sd.buf = make([]byte, frames*sd.frameSize)
	if p.NonInterleaved {
		sd.wire = make([]byte, frames*sd.frameSize)
		plane := frames * p.SampleFormat.Size()
		sd.planes = make([]unsafe.Pointer, p.ChannelCount)
		for ch := range sd.planes {
			sd.planes[ch] = unsafe.Pointer(&sd.buf[ch*plane])
		}
	} else {
		sd.wire = sd.buf
	}
	return sd
}

// pointer is what the callback receives for this side.
func (sd *side) pointer() unsafe.Pointer {
	if sd.planes != nil {
		return unsafe.Pointer(&sd.planes[0])
	}
	return unsafe.Pointer(&sd.buf[0])
}

// deinterleave copies wire into the per-channel planes of buf.
func (sd *side) deinterleave(frames int) {
	if sd.planes == nil {
		return
	}
	w := sd.params.SampleFormat.Size()
	chans := sd.params.ChannelCount
	for f := range frames {
		for ch := range chans {
			copy(sd.buf[(ch*frames+f)*w:][:w], sd.wire[(f*chans+ch)*w:][:w])
		}
	}
}

// interleave copies the per-channel planes of buf into wire.
func (sd *side) interleave(frames int) {
	if sd.planes == nil {
		return
	}
	w := sd.params.SampleFormat.Size()
	chans := sd.params.ChannelCount
	for f := range frames {
		for ch := range chans {
			copy(sd.wire[(f*chans+ch)*w:][:w], sd.buf[(ch*frames+f)*w:][:w])
		}
	}
}

type stream struct {
	e       *Engine
	in, out *side
	rate    float64
	frames  int
	bridge  *portaudio.CallbackBridge

	mu      sync.Mutex
	running bool
	closed  bool
	quit    chan struct{}
	done    chan struct{}

	active  atomic.Bool
	stopped atomic.Bool
	load    atomic.Uint64
	// pending carries output overflow into the next callback's flags.
	pending portaudio.StreamCallbackFlags
}

func newStream(e *Engine, req portaudio.OpenRequest, inDev, outDev *device, frames int) *stream {
	s := &stream{e: e, rate: req.SampleRate, frames: frames, bridge: req.Bridge}
	callback := req.Bridge != nil
	if req.Input != nil {
		s.in = newSide(req.Input, inDev, frames, callback)
	}
	if req.Output != nil {
		s.out = newSide(req.Output, outDev, frames, callback)
	}
	s.stopped.Store(true)
	return s
}

func (s *stream) Start() portaudio.ErrorCode {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return portaudio.CodeBadStreamPtr
	}
	if s.running {
		return portaudio.CodeStreamIsNotStopped
	}
	s.running = true
	s.stopped.Store(false)
	s.active.Store(true)
	if s.bridge != nil {
		s.pending = 0
		s.quit = make(chan struct{})
		s.done = make(chan struct{})
		go s.run(s.quit, s.done)
	}
	return portaudio.CodeNoError
}

// Stop and Abort behave the same: the FIFO already holds everything
// written, so there is nothing left to drain or discard.
func (s *stream) Stop() portaudio.ErrorCode  { return s.halt() }
func (s *stream) Abort() portaudio.ErrorCode { return s.halt() }

func (s *stream) halt() portaudio.ErrorCode {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return portaudio.CodeBadStreamPtr
	}
	if !s.running {
		return portaudio.CodeStreamIsStopped
	}
	s.haltLocked()
	return portaudio.CodeNoError
}

func (s *stream) haltLocked() {
	s.running = false
	s.stopped.Store(true)
	if s.quit != nil {
		close(s.quit)
		<-s.done
		s.quit, s.done = nil, nil
	}
	s.active.Store(false)
	s.wake()
}

func (s *stream) wake() {
	if s.in != nil {
		s.in.dev.wake()
	}
	if s.out != nil {
		s.out.dev.wake()
	}
}

func (s *stream) Close() portaudio.ErrorCode {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return portaudio.CodeBadStreamPtr
	}
	if s.running {
		s.haltLocked()
	}
	s.closed = true
	s.e.forget(s)
	return portaudio.CodeNoError
}

func (s *stream) run(quit <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	period := s.e.tickInterval(s.frames, s.rate)
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-quit:
			return
		case <-ticker.C:
		}
		began := time.Now()
		more := s.tick()
		s.load.Store(math.Float64bits(float64(time.Since(began)) / float64(period)))
		if !more {
			s.active.Store(false)
			<-quit
			return
		}
	}
}

// tick runs one callback period and reports whether the stream continues.
func (s *stream) tick() bool {
	flags := s.pending
	s.pending = 0

	var inPtr, outPtr unsafe.Pointer
	if s.in != nil {
		if n := s.in.dev.take(s.in.wire, s.in.frameSize); n < len(s.in.wire) {
			flags |= portaudio.InputUnderflow
		}
		s.in.deinterleave(s.frames)
		inPtr = s.in.pointer()
	}
	if s.out != nil {
		clear(s.out.buf)
		outPtr = s.out.pointer()
	}

	now := s.e.now()
	ti := portaudio.StreamCallbackTimeInfo{CurrentTime: now}
	if s.in != nil {
		ti.InputBufferAdcTime = now - s.in.params.SuggestedLatency
	}
	if s.out != nil {
		ti.OutputBufferDacTime = now + s.out.params.SuggestedLatency
	}

	res := s.bridge.Invoke(inPtr, outPtr, s.frames, ti, flags)

	if s.out != nil && res != portaudio.Abort {
		s.out.interleave(s.frames)
		if n := s.out.dev.put(s.out.wire, s.out.frameSize); n < len(s.out.wire) {
			s.pending |= portaudio.OutputOverflow
		}
	}
	return res == portaudio.Continue
}

func (s *stream) IsStopped() int {
	if s.stopped.Load() {
		return 1
	}
	return 0
}

func (s *stream) IsActive() int {
	if s.active.Load() {
		return 1
	}
	return 0
}

func (s *stream) Time() portaudio.PaTime {
	return s.e.now()
}

func (s *stream) Info() portaudio.StreamInfo {
	info := portaudio.StreamInfo{SampleRate: s.rate}
	if s.in != nil {
		info.InputLatency = s.in.params.SuggestedLatency
	}
	if s.out != nil {
		info.OutputLatency = s.out.params.SuggestedLatency
	}
	return info
}

func (s *stream) CPULoad() float64 {
	if s.bridge == nil {
		return 0
	}
	return math.Float64frombits(s.load.Load())
}

func (s *stream) isRunning() bool {
	return !s.stopped.Load()
}

// Read blocks until frames frames have been taken from the input FIFO or
// the stream is stopped.
func (s *stream) Read(buf unsafe.Pointer, frames int) portaudio.ErrorCode {
	if s.bridge != nil {
		return portaudio.CodeCanNotReadFromACallbackStream
	}
	if s.in == nil {
		return portaudio.CodeCanNotReadFromAnOutputOnlyStream
	}
	if !s.isRunning() {
		return portaudio.CodeStreamIsStopped
	}
	p := unsafe.Slice((*byte)(buf), frames*s.in.frameSize)
	d := s.in.dev

	d.mu.Lock()
	defer d.mu.Unlock()
	for len(p) > 0 {
		for d.fifo.Length() < s.in.frameSize {
			if !s.isRunning() {
				return portaudio.CodeStreamIsStopped
			}
			d.cond.Wait()
		}
		want := min(d.fifo.Length(), len(p)) / s.in.frameSize * s.in.frameSize
		n, _ := d.fifo.Read(p[:want])
		p = p[n:]
		d.cond.Broadcast()
	}
	return portaudio.CodeNoError
}

// Write blocks until frames frames have been queued on the output FIFO or
// the stream is stopped.
func (s *stream) Write(buf unsafe.Pointer, frames int) portaudio.ErrorCode {
	if s.bridge != nil {
		return portaudio.CodeCanNotWriteToACallbackStream
	}
	if s.out == nil {
		return portaudio.CodeCanNotWriteToAnInputOnlyStream
	}
	if !s.isRunning() {
		return portaudio.CodeStreamIsStopped
	}
	p := unsafe.Slice((*byte)(buf), frames*s.out.frameSize)
	d := s.out.dev

	d.mu.Lock()
	defer d.mu.Unlock()
	for len(p) > 0 {
		for d.fifo.Free() < s.out.frameSize {
			if !s.isRunning() {
				return portaudio.CodeStreamIsStopped
			}
			d.cond.Wait()
		}
		want := min(d.fifo.Free(), len(p)) / s.out.frameSize * s.out.frameSize
		n, _ := d.fifo.Write(p[:want])
		p = p[n:]
		d.cond.Broadcast()
	}
	return portaudio.CodeNoError
}

func (s *stream) ReadAvailable() int {
	if s.in == nil {
		return int(portaudio.CodeCanNotReadFromAnOutputOnlyStream)
	}
	return s.in.dev.buffered() / s.in.frameSize
}

func (s *stream) WriteAvailable() int {
	if s.out == nil {
		return int(portaudio.CodeCanNotWriteToAnInputOnlyStream)
	}
	return s.out.dev.free() / s.out.frameSize
}
