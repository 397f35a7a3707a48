package coach

import (
	"sync"
)

// Speaker plays decoded agent audio. Implementations must be safe for
// concurrent use; Play is asynchronous and must invoke done exactly once
// when the frame finishes or is stopped.
type Speaker interface {
	// Ready reports whether the audio backend can accept a frame now.
	Ready() bool

	// Play starts playback of one frame at the given sample rate.
	Play(samples []float32, sampleRate int, done func())

	// Stop hard-cuts the currently playing frame, if any. The frame's
	// done callback still fires.
	Stop()
}

// playbackQueue orders decoded agent audio frames for strictly sequential
// playback: one frame plays to completion, then the next is dequeued.
// Interruption clears the queue wholesale and stops the in-flight frame.
type playbackQueue struct {
	speaker    Speaker
	sampleRate int

	mu      sync.Mutex
	queue   [][]float32
	playing bool
	gen     uint64
}

func newPlaybackQueue(speaker Speaker, sampleRate int) *playbackQueue {
	return &playbackQueue{
		speaker:    speaker,
		sampleRate: sampleRate,
	}
}

// Enqueue appends a frame and starts the pipeline if nothing is playing.
func (q *playbackQueue) Enqueue(frame []float32) {
	if len(frame) == 0 {
		return
	}
	q.mu.Lock()
	q.queue = append(q.queue, frame)
	start := !q.playing
	q.mu.Unlock()
	if start {
		q.playNext()
	}
}

// Resume restarts the pipeline after the speaker reported not ready.
// Enqueueing the next inbound frame also drives the queue again.
func (q *playbackQueue) Resume() {
	q.mu.Lock()
	start := !q.playing && len(q.queue) > 0
	q.mu.Unlock()
	if start {
		q.playNext()
	}
}

// Interrupt empties the queue and stops in-flight playback immediately.
func (q *playbackQueue) Interrupt() {
	q.mu.Lock()
	q.queue = nil
	q.gen++
	q.mu.Unlock()
	q.speaker.Stop()
}

// Len reports the number of queued (not yet playing) frames.
func (q *playbackQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queue)
}

func (q *playbackQueue) playNext() {
	q.mu.Lock()
	if len(q.queue) == 0 {
		q.playing = false
		q.mu.Unlock()
		return
	}
	if !q.speaker.Ready() {
		// Leave the head queued; the pipeline stalls until driven again
		// by the next Enqueue or an explicit Resume.
		q.playing = false
		q.mu.Unlock()
		return
	}
	frame := q.queue[0]
	q.queue = q.queue[1:]
	q.playing = true
	gen := q.gen
	q.mu.Unlock()

	q.speaker.Play(frame, q.sampleRate, func() {
		q.mu.Lock()
		// A completion from before an interrupt must not restart the
		// pipeline against the cleared queue.
		stale := gen != q.gen
		if stale {
			q.playing = false
		}
		q.mu.Unlock()
		if stale {
			q.Resume()
			return
		}
		q.playNext()
	})
}
