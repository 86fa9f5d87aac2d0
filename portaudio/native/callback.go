//go:build cgo

package native

/*
#cgo pkg-config: portaudio-2.0
#include <portaudio.h>
#include <stdlib.h>
#include <stdint.h>

// Implemented in Go below.
extern int goCallbackBridge(void *input, void *output,
                            unsigned long frameCount,
                            void *timeInfo,
                            unsigned long statusFlags,
                            long streamId);

// Trampoline with the PaStreamCallback signature.
static int paStreamCallbackWrapper(const void *input, void *output,
                                   unsigned long frameCount,
                                   const PaStreamCallbackTimeInfo* timeInfo,
                                   PaStreamCallbackFlags statusFlags,
                                   void *userData) {
    // userData holds the registry slot.
    long streamId = *(long*)userData;
    return goCallbackBridge((void*)input, output, frameCount,
                           (void*)timeInfo, (unsigned long)statusFlags, streamId);
}

// Opens a blocking stream when userData is NULL, a callback stream otherwise.
static int openStream(void** stream,
                      void* inputParameters,
                      void* outputParameters,
                      double sampleRate,
                      unsigned long framesPerBuffer,
                      unsigned long streamFlags,
                      void *userData) {
    return Pa_OpenStream((PaStream**)stream,
                        (const PaStreamParameters*)inputParameters,
                        (const PaStreamParameters*)outputParameters,
                        sampleRate, framesPerBuffer,
                        (PaStreamFlags)streamFlags,
                        userData ? paStreamCallbackWrapper : NULL, userData);
}
*/
import "C"
import (
	"sync/atomic"
	"unsafe"

	"github.com/drgolem/pastream/portaudio"
)

// maxCallbackStreams bounds how many callback streams can be open at once.
const maxCallbackStreams = 1024

// Bridge registry. Stream ID n lives in slot n-1. Integer IDs instead of
// pointers avoid passing Go pointers to C, and the fixed table keeps the
// audio-thread lookup free of locks and allocation.
var bridges [maxCallbackStreams]atomic.Pointer[portaudio.CallbackBridge]

// registerBridge claims a free slot and returns its stream ID, or 0 when
// the table is full.
func registerBridge(b *portaudio.CallbackBridge) int64 {
	for i := range bridges {
		if bridges[i].CompareAndSwap(nil, b) {
			return int64(i + 1)
		}
	}
	return 0
}

func unregisterBridge(id int64, idPtr unsafe.Pointer) {
	bridges[id-1].Store(nil)
	if idPtr != nil {
		C.free(idPtr)
	}
}

func lookupBridge(id int64) *portaudio.CallbackBridge {
	if id < 1 || id > maxCallbackStreams {
		return nil
	}
	return bridges[id-1].Load()
}

// OpenStream opens a PaStream. Requests carrying a bridge get the shared
// C callback trampoline; the rest are blocking streams.
func (e *Engine) OpenStream(req portaudio.OpenRequest) (portaudio.EngineStream, portaudio.ErrorCode) {
	s := &stream{}
	if req.Input != nil {
		s.inFrame = req.Input.FrameSize()
	}
	if req.Output != nil {
		s.outFrame = req.Output.FrameSize()
	}
	inParams, outParams := cParams(req.Input), cParams(req.Output)

	var userData unsafe.Pointer
	if req.Bridge != nil {
		s.callbackID = registerBridge(req.Bridge)
		if s.callbackID == 0 {
			return nil, portaudio.CodeInsufficientMemory
		}

		// The slot index lives in C memory; converting an int to a pointer
		// would trip checkptr under -race.
		idPtr := (*C.long)(C.malloc(C.size_t(unsafe.Sizeof(C.long(0)))))
		*idPtr = C.long(s.callbackID)
		s.callbackIDPtr = unsafe.Pointer(idPtr)
		userData = s.callbackIDPtr
	}

	code := C.openStream(&s.stream,
		unsafe.Pointer(inParams),
		unsafe.Pointer(outParams),
		C.double(req.SampleRate),
		C.ulong(req.FramesPerBuffer),
		C.ulong(req.Flags),
		userData)

	if code != C.paNoError {
		if s.callbackID != 0 {
			unregisterBridge(s.callbackID, s.callbackIDPtr)
		}
		return nil, portaudio.ErrorCode(code)
	}
	return s, portaudio.CodeNoError
}

//export goCallbackBridge
func goCallbackBridge(input, output unsafe.Pointer,
	frameCount C.ulong,
	timeInfo unsafe.Pointer,
	statusFlags C.ulong,
	streamID C.long) (result C.int) {

	// The bridge recovers user panics itself; this guards the lookup and
	// conversion so nothing unwinds into C.
	defer func() {
		if r := recover(); r != nil {
			result = C.int(portaudio.Abort)
		}
	}()

	b := lookupBridge(int64(streamID))
	if b == nil {
		// No bridge registered, tell PortAudio to abort
		return C.int(portaudio.Abort)
	}

	var ti portaudio.StreamCallbackTimeInfo
	if timeInfo != nil {
		cTimeInfo := (*C.PaStreamCallbackTimeInfo)(timeInfo)
		ti.InputBufferAdcTime = portaudio.PaTime(cTimeInfo.inputBufferAdcTime)
		ti.CurrentTime = portaudio.PaTime(cTimeInfo.currentTime)
		ti.OutputBufferDacTime = portaudio.PaTime(cTimeInfo.outputBufferDacTime)
	}

	res := b.Invoke(input, output, int(frameCount), ti, portaudio.StreamCallbackFlags(statusFlags))
	return C.int(res)
}
