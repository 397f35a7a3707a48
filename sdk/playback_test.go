package coach

import (
	"testing"
)

func frameOf(v float32, n int) []float32 {
	f := make([]float32, n)
	for i := range f {
		f[i] = v
	}
	return f
}

func TestPlaybackQueue_PlaysInOrder(t *testing.T) {
	t.Parallel()

	speaker := newFakeSpeaker(false)
	queue := newPlaybackQueue(speaker, PlaybackSampleRate)

	queue.Enqueue(frameOf(0.1, 8))
	queue.Enqueue(frameOf(0.2, 8))
	queue.Enqueue(frameOf(0.3, 8))

	if got := speaker.playedCount(); got != 1 {
		t.Fatalf("frames started = %d, want 1 (strictly sequential)", got)
	}
	speaker.Complete()
	speaker.Complete()
	speaker.Complete()

	speaker.mu.Lock()
	defer speaker.mu.Unlock()
	if len(speaker.played) != 3 {
		t.Fatalf("frames played = %d, want 3", len(speaker.played))
	}
	for i, want := range []float32{0.1, 0.2, 0.3} {
		if speaker.played[i][0] != want {
			t.Fatalf("frame %d = %v, want %v (order not preserved)", i, speaker.played[i][0], want)
		}
	}
}

func TestPlaybackQueue_InterruptEmptiesQueue(t *testing.T) {
	t.Parallel()

	for _, queued := range []int{0, 1, 5} {
		speaker := newFakeSpeaker(false)
		queue := newPlaybackQueue(speaker, PlaybackSampleRate)

		for i := 0; i < queued; i++ {
			queue.Enqueue(frameOf(0.5, 8))
		}
		queue.Interrupt()

		if got := queue.Len(); got != 0 {
			t.Fatalf("queued=%d: queue length after interrupt = %d, want 0", queued, got)
		}
		speaker.mu.Lock()
		stopped := speaker.stopped
		pending := speaker.pending
		speaker.mu.Unlock()
		if stopped == 0 {
			t.Fatalf("queued=%d: interrupt did not stop the speaker", queued)
		}
		if pending != nil {
			t.Fatalf("queued=%d: frame still in flight after interrupt", queued)
		}
	}
}

func TestPlaybackQueue_InterruptThenEnqueueRestarts(t *testing.T) {
	t.Parallel()

	speaker := newFakeSpeaker(false)
	queue := newPlaybackQueue(speaker, PlaybackSampleRate)

	queue.Enqueue(frameOf(0.1, 8))
	queue.Enqueue(frameOf(0.2, 8))
	queue.Interrupt()

	queue.Enqueue(frameOf(0.9, 8))
	speaker.Complete()

	speaker.mu.Lock()
	defer speaker.mu.Unlock()
	last := speaker.played[len(speaker.played)-1]
	if last[0] != 0.9 {
		t.Fatalf("frame after interrupt = %v, want 0.9", last[0])
	}
}

func TestPlaybackQueue_StalledSpeakerRequeuesHead(t *testing.T) {
	t.Parallel()

	speaker := newFakeSpeaker(false)
	speaker.setReady(false)
	queue := newPlaybackQueue(speaker, PlaybackSampleRate)

	queue.Enqueue(frameOf(0.4, 8))
	if got := speaker.playedCount(); got != 0 {
		t.Fatalf("played %d frames through a stalled speaker, want 0", got)
	}
	if got := queue.Len(); got != 1 {
		t.Fatalf("queue length = %d, want 1 (head requeued)", got)
	}

	// The pipeline stalls until driven again.
	speaker.setReady(true)
	queue.Resume()
	if got := speaker.playedCount(); got != 1 {
		t.Fatalf("played %d frames after resume, want 1", got)
	}
}

func TestPlaybackQueue_NextEnqueueDrivesStalledQueue(t *testing.T) {
	t.Parallel()

	speaker := newFakeSpeaker(false)
	speaker.setReady(false)
	queue := newPlaybackQueue(speaker, PlaybackSampleRate)

	queue.Enqueue(frameOf(0.4, 8))
	speaker.setReady(true)
	queue.Enqueue(frameOf(0.5, 8))

	if got := speaker.playedCount(); got != 1 {
		t.Fatalf("played %d frames, want 1", got)
	}
	speaker.mu.Lock()
	first := speaker.played[0][0]
	speaker.mu.Unlock()
	if first != 0.4 {
		t.Fatalf("first played frame = %v, want the requeued head 0.4", first)
	}
}

func TestPlaybackQueue_DropsEmptyFrames(t *testing.T) {
	t.Parallel()

	speaker := newFakeSpeaker(true)
	queue := newPlaybackQueue(speaker, PlaybackSampleRate)

	queue.Enqueue(nil)
	queue.Enqueue([]float32{})
	if got := speaker.playedCount(); got != 0 {
		t.Fatalf("played %d empty frames, want 0", got)
	}
}
