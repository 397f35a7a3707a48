package coach

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// newWebsocketTestServer upgrades every request and hands the connection
// to handler on its own goroutine.
func newWebsocketTestServer(t *testing.T, handler func(conn *websocket.Conn)) (string, func()) {
	t.Helper()

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		handler(conn)
	}))
	return server.URL, server.Close
}

// waitEvent consumes events until one matches, or fails the test.
func waitEvent[T Event](t *testing.T, events <-chan Event, timeout time.Duration) T {
	t.Helper()

	deadline := time.After(timeout)
	for {
		select {
		case ev := <-events:
			if typed, ok := ev.(T); ok {
				return typed
			}
		case <-deadline:
			var zero T
			t.Fatalf("timed out waiting for %T", zero)
			return zero
		}
	}
}

type fakeCapture struct {
	rate     int
	startErr error

	mu     sync.Mutex
	sink   func([]float32)
	closed bool
}

func newFakeCapture(rate int) *fakeCapture {
	return &fakeCapture{rate: rate}
}

func (c *fakeCapture) Start(_ context.Context, sink func([]float32)) error {
	if c.startErr != nil {
		return c.startErr
	}
	c.mu.Lock()
	c.sink = sink
	c.mu.Unlock()
	return nil
}

func (c *fakeCapture) SampleRate() int {
	return c.rate
}

func (c *fakeCapture) Close() error {
	c.mu.Lock()
	c.closed = true
	c.sink = nil
	c.mu.Unlock()
	return nil
}

// Push delivers one frame as if the device produced it.
func (c *fakeCapture) Push(frame []float32) {
	c.mu.Lock()
	sink := c.sink
	c.mu.Unlock()
	if sink != nil {
		sink(frame)
	}
}

// fakeSpeaker records played frames. In auto mode each frame completes
// immediately; otherwise the test drives completion via Complete.
type fakeSpeaker struct {
	auto bool

	mu      sync.Mutex
	ready   bool
	played  [][]float32
	pending func()
	stopped int
}

func newFakeSpeaker(auto bool) *fakeSpeaker {
	return &fakeSpeaker{auto: auto, ready: true}
}

func (s *fakeSpeaker) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

func (s *fakeSpeaker) setReady(ready bool) {
	s.mu.Lock()
	s.ready = ready
	s.mu.Unlock()
}

func (s *fakeSpeaker) Play(samples []float32, _ int, done func()) {
	s.mu.Lock()
	s.played = append(s.played, samples)
	auto := s.auto
	if !auto {
		s.pending = done
	}
	s.mu.Unlock()
	if auto {
		done()
	}
}

func (s *fakeSpeaker) Stop() {
	s.mu.Lock()
	done := s.pending
	s.pending = nil
	s.stopped++
	s.mu.Unlock()
	if done != nil {
		done()
	}
}

// Complete finishes the in-flight frame in manual mode.
func (s *fakeSpeaker) Complete() {
	s.mu.Lock()
	done := s.pending
	s.pending = nil
	s.mu.Unlock()
	if done != nil {
		done()
	}
}

func (s *fakeSpeaker) playedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.played)
}

var errDeviceDenied = errors.New("microphone permission denied")
