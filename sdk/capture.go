package coach

import "context"

// CaptureSource delivers raw microphone frames as normalized float
// samples at the source's native rate. The session resamples them to
// CaptureSampleRate before encoding.
type CaptureSource interface {
	// Start begins capture and invokes sink for every frame until the
	// context is canceled or Close is called. Start returns an error when
	// the device cannot be acquired (permission denied, missing hardware).
	Start(ctx context.Context, sink func(frame []float32)) error

	// SampleRate is the native rate of delivered frames.
	SampleRate() int

	// Close releases the capture device. Idempotent.
	Close() error
}

// frameSlot is the outbound backpressure policy: a one-deep slot that the
// capture callback overwrites with the newest frame while a dedicated
// sender goroutine drains it. Resample-and-send therefore never overlaps
// and wire order is the slot order; under load the oldest pending frame
// is dropped rather than growing latency.
type frameSlot struct {
	frames chan []float32
}

func newFrameSlot() *frameSlot {
	return &frameSlot{frames: make(chan []float32, 1)}
}

// Put stores the frame, replacing any frame still pending.
func (s *frameSlot) Put(frame []float32) {
	for {
		select {
		case s.frames <- frame:
			return
		default:
		}
		select {
		case <-s.frames:
		default:
		}
	}
}

// Frames is consumed by the sender goroutine.
func (s *frameSlot) Frames() <-chan []float32 {
	return s.frames
}
