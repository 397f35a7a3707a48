package coach

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/coachlive/coach-go/internal/protocol"
)

const (
	defaultConnectTimeout = 15 * time.Second
	defaultEventBuffer    = 64

	streamPath        = "/api/v1/chat/stream"
	chatSessionPath   = "/api/v1/chat"
	defaultGainFactor = 1.0
)

// SessionState is the streaming session lifecycle state.
type SessionState int32

const (
	StateDisconnected SessionState = iota
	StateConnecting
	StateStreaming
	StateTearingDown
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateTearingDown:
		return "tearing_down"
	default:
		return "disconnected"
	}
}

// StreamService manages the live voice/text session with the coach agent.
// At most one session is active at a time.
type StreamService struct {
	client *Client

	mu         sync.Mutex
	session    *StreamSession
	connecting bool
}

// ConnectOptions configures a streaming session.
type ConnectOptions struct {
	// Capture provides microphone frames. Required.
	Capture CaptureSource

	// Speaker plays agent audio. Required.
	Speaker Speaker

	// Gain is the outbound gain multiplier applied to captured audio
	// before encoding. Zero means 1.0.
	Gain float64

	// EventBuffer sizes the session event channel. Zero means 64.
	EventBuffer int
}

// Session returns the current session, or nil.
func (s *StreamService) Session() *StreamSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

// Connect establishes the streaming session: it opens the duplex channel
// to the agent, then acquires the capture source and wires the outbound
// audio path. A call while already streaming is a no-op returning the
// live session; a call while another connect is underway returns
// ErrConnectInProgress.
func (s *StreamService) Connect(ctx context.Context, opts ConnectOptions) (*StreamSession, error) {
	s.mu.Lock()
	if s.session != nil && s.session.State() == StateStreaming {
		sess := s.session
		s.mu.Unlock()
		return sess, nil
	}
	if s.connecting {
		s.mu.Unlock()
		return nil, ErrConnectInProgress
	}
	s.connecting = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.connecting = false
		s.mu.Unlock()
	}()

	if opts.Capture == nil {
		return nil, errors.New("connect: capture source is required")
	}
	if opts.Speaker == nil {
		return nil, errors.New("connect: speaker is required")
	}
	if s.client.agentURL == "" {
		return nil, errors.New("connect: agent URL is not configured (use WithAgentURL)")
	}
	if opts.Gain == 0 {
		opts.Gain = defaultGainFactor
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = defaultEventBuffer
	}

	wsURL := wsBaseURL(s.client.agentURL) + streamPath

	dialCtx := ctx
	var cancel context.CancelFunc
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		dialCtx, cancel = context.WithTimeout(ctx, defaultConnectTimeout)
		defer cancel()
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(dialCtx, wsURL, nil)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
			return nil, &TransportError{Op: "GET", URL: wsURL, Err: fmt.Errorf("websocket dial failed (status %d): %w", resp.StatusCode, err)}
		}
		return nil, &TransportError{Op: "GET", URL: wsURL, Err: err}
	}

	sess := newStreamSession(s.client, conn, opts)
	sess.publish(NoticeEvent{Level: NoticeInfo, Text: "Streaming connection established."})

	// Channel is open; now acquire the microphone and wire the capture
	// path. Failing to get the device aborts the whole connect.
	captureCtx, captureCancel := context.WithCancel(context.Background())
	sess.captureCancel = captureCancel
	if err := opts.Capture.Start(captureCtx, sess.onCaptureFrame); err != nil {
		sess.publish(NoticeEvent{Level: NoticeError, Text: fmt.Sprintf("Microphone error: %v", err)})
		sess.teardown()
		return nil, &CaptureError{Err: err}
	}

	sess.setState(StateStreaming)
	sess.muted.Store(false)
	sess.publish(MuteChangeEvent{Muted: false})
	sess.publish(NoticeEvent{Level: NoticeSuccess, Text: "Audio connected. You can now speak."})

	go sess.readLoop()
	go sess.sendLoop()

	s.mu.Lock()
	s.session = sess
	s.mu.Unlock()
	return sess, nil
}

// DeleteHistory removes the stored chat history for this user's agent
// session. Any live session is torn down first.
func (s *StreamService) DeleteHistory(ctx context.Context) error {
	if sess := s.Session(); sess != nil {
		_ = sess.Close()
	}
	endpoint := s.client.agentURL + chatSessionPath
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return err
	}
	if s.client.userEmail != "" {
		req.Header.Set("X-User-Email", s.client.userEmail)
	}
	resp, err := s.client.httpClient.Do(req)
	if err != nil {
		return &TransportError{Op: http.MethodDelete, URL: endpoint, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, URL: endpoint}
	}
	return nil
}

// StreamSession is one live voice/text exchange with the coach agent.
type StreamSession struct {
	client  *Client
	conn    *websocket.Conn
	capture CaptureSource
	queue   *playbackQueue
	slot    *frameSlot

	transcript *Transcript
	events     chan Event
	done       chan struct{}
	stopSend   chan struct{}
	stopOnce   sync.Once

	writeMu     sync.Mutex
	state       atomic.Int32
	muted       atomic.Bool
	gainBits    atomic.Uint64
	tearingDown atomic.Bool
	closedByUs  atomic.Bool

	accumMu   sync.Mutex
	accumOpen bool

	captureCancel context.CancelFunc
}

func newStreamSession(client *Client, conn *websocket.Conn, opts ConnectOptions) *StreamSession {
	sess := &StreamSession{
		client:     client,
		conn:       conn,
		capture:    opts.Capture,
		queue:      newPlaybackQueue(opts.Speaker, PlaybackSampleRate),
		slot:       newFrameSlot(),
		transcript: newTranscript(),
		events:     make(chan Event, opts.EventBuffer),
		done:       make(chan struct{}),
		stopSend:   make(chan struct{}),
	}
	sess.state.Store(int32(StateConnecting))
	sess.muted.Store(true)
	sess.gainBits.Store(math.Float64bits(opts.Gain))
	return sess
}

// Events yields session events. The channel is never closed; consumers
// should also select on Done.
func (s *StreamSession) Events() <-chan Event {
	return s.events
}

// Done is closed once the session is fully torn down.
func (s *StreamSession) Done() <-chan struct{} {
	return s.done
}

// State returns the current lifecycle state.
func (s *StreamSession) State() SessionState {
	return SessionState(s.state.Load())
}

// Transcript returns the session chat log.
func (s *StreamSession) Transcript() *Transcript {
	return s.transcript
}

// Muted reports the microphone mute state.
func (s *StreamSession) Muted() bool {
	return s.muted.Load()
}

// ToggleMute flips the microphone mute state. Outside of streaming it
// only logs and reports the current state unchanged.
func (s *StreamSession) ToggleMute() bool {
	if s.State() != StateStreaming {
		s.client.logger.Warn("cannot toggle mute: not streaming")
		return s.muted.Load()
	}
	muted := !s.muted.Load()
	s.muted.Store(muted)
	s.publish(MuteChangeEvent{Muted: muted})
	if muted {
		s.publish(NoticeEvent{Level: NoticeSuccess, Text: "Mic muted"})
	} else {
		s.publish(NoticeEvent{Level: NoticeSuccess, Text: "Audio connected. You can now speak."})
	}
	return muted
}

// Gain returns the outbound gain multiplier.
func (s *StreamSession) Gain() float64 {
	return math.Float64frombits(s.gainBits.Load())
}

// SetGain updates the outbound gain multiplier applied before encoding.
func (s *StreamSession) SetGain(gain float64) {
	if gain < 0 {
		gain = 0
	}
	s.gainBits.Store(math.Float64bits(gain))
}

// SendText sends a typed message to the agent. Sending while the agent is
// mid-turn counts as an interruption: the open agent message is closed
// and queued audio is dropped before the text goes out. Empty or
// whitespace-only input is a no-op.
func (s *StreamSession) SendText(text string) error {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	if s.State() != StateStreaming {
		return ErrSessionNotActive
	}

	s.resetAccumulator()
	s.queue.Interrupt()

	if err := s.sendJSON(protocol.TextFrame(trimmed)); err != nil {
		return fmt.Errorf("send text message: %w", err)
	}
	s.transcript.AppendUser(trimmed)
	s.publish(UserTextEvent{Text: trimmed})
	return nil
}

// Close tears the session down: capture device, outbound path, channel
// and playback are all released. Idempotent.
func (s *StreamSession) Close() error {
	s.teardown()
	return nil
}

// onCaptureFrame is the per-frame outbound path entry. Muted or
// disconnected frames are dropped with a zero level report.
func (s *StreamSession) onCaptureFrame(frame []float32) {
	if s.muted.Load() || s.State() != StateStreaming {
		s.publish(LevelEvent{Percent: 0})
		return
	}
	// The capture source may reuse its buffer; copy before handing the
	// frame to the sender.
	buf := make([]float32, len(frame))
	copy(buf, frame)
	ApplyGain(buf, s.Gain())
	s.slot.Put(buf)
	s.publish(LevelEvent{Percent: RMSLevel(buf)})
}

// sendLoop serializes resample+encode+send so outbound frames keep slot
// order on the wire.
func (s *StreamSession) sendLoop() {
	srcRate := s.capture.SampleRate()
	for {
		select {
		case <-s.stopSend:
			return
		case frame := <-s.slot.Frames():
			resampled := Resample(frame, srcRate, CaptureSampleRate)
			b64 := base64.StdEncoding.EncodeToString(FloatToPCM16(resampled))
			if err := s.sendJSON(protocol.AudioFrame(b64)); err != nil {
				s.client.logger.Warn("send audio frame", "error", err)
			}
		}
	}
}

func (s *StreamSession) readLoop() {
	defer close(s.done)
	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			s.handleClose(err)
			s.teardown()
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		s.handleFrame(data)
	}
}

// handleFrame processes one inbound agent frame. Payload fields are
// handled before control flags; either control flag resets the open text
// accumulator so the next fragment starts a new message.
func (s *StreamSession) handleFrame(data []byte) {
	frame, err := protocol.DecodeStreamFrame(data)
	if err != nil {
		s.client.logger.Warn("malformed agent frame", "error", err)
		s.resetAccumulator()
		return
	}

	if frame.MimeType == protocol.MimeTextPlain && frame.Data != "" {
		s.accumMu.Lock()
		begin := !s.accumOpen
		s.accumOpen = true
		s.accumMu.Unlock()
		s.transcript.AppendAgent(frame.Data, begin)
		s.publish(AgentTextEvent{Text: frame.Data, Begin: begin})
	}

	if frame.MimeType == protocol.MimeAudioPCM && frame.Data != "" {
		pcm, err := base64.StdEncoding.DecodeString(frame.Data)
		if err != nil {
			s.client.logger.Warn("malformed agent audio", "error", err)
			s.resetAccumulator()
			return
		}
		samples := PCM16ToFloat(pcm)
		if len(samples) > 0 && !IsSilence(samples) {
			s.queue.Enqueue(samples)
		}
	}

	if frame.Interrupted || frame.TurnComplete {
		if frame.Interrupted {
			s.publish(InterruptedEvent{})
			s.publish(NoticeEvent{Level: NoticeSuccess, Text: "Agent interrupted."})
			s.queue.Interrupt()
		}
		if frame.TurnComplete {
			s.publish(TurnCompleteEvent{})
			s.publish(NoticeEvent{Level: NoticeInfo, Text: "Agent turn complete."})
		}
		s.resetAccumulator()
	}
}

// handleClose surfaces unexpected channel loss; a close carrying our own
// teardown reason stays silent.
func (s *StreamSession) handleClose(err error) {
	if s.tearingDown.Load() || s.closedByUs.Load() {
		return
	}
	reason := ""
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		reason = closeErr.Text
	}
	if reason == protocol.TeardownReason {
		return
	}
	s.publish(DisconnectedEvent{Reason: reason, Unexpected: true})
	s.publish(NoticeEvent{Level: NoticeSuccess, Text: "Streaming stopped. Please re-enable the connection."})
}

// teardown releases everything in order: capture device, outbound path,
// duplex channel, playback queue. A re-entrancy flag prevents concurrent
// teardown races; later calls return immediately.
func (s *StreamSession) teardown() {
	if !s.tearingDown.CompareAndSwap(false, true) {
		return
	}
	prev := s.State()
	s.setState(StateTearingDown)

	if s.captureCancel != nil {
		s.captureCancel()
	}
	if s.capture != nil {
		_ = s.capture.Close()
	}

	s.stopOnce.Do(func() { close(s.stopSend) })

	s.closedByUs.Store(true)
	s.writeMu.Lock()
	_ = s.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, protocol.TeardownReason),
		time.Now().Add(2*time.Second),
	)
	s.writeMu.Unlock()
	_ = s.conn.Close()

	s.queue.Interrupt()
	s.resetAccumulator()

	s.muted.Store(true)
	s.setState(StateDisconnected)
	s.publish(LevelEvent{Percent: 0})
	s.client.logger.Debug("session teardown complete", "from", prev.String())
}

func (s *StreamSession) resetAccumulator() {
	s.accumMu.Lock()
	s.accumOpen = false
	s.accumMu.Unlock()
	s.transcript.CloseAgent()
}

func (s *StreamSession) setState(next SessionState) {
	prev := SessionState(s.state.Swap(int32(next)))
	if prev != next {
		s.publish(StateChangeEvent{From: prev, To: next})
	}
}

func (s *StreamSession) sendJSON(v any) error {
	if s.closedByUs.Load() {
		return ErrSessionNotActive
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(v)
}

func (s *StreamSession) publish(event Event) {
	select {
	case s.events <- event:
	default:
		// Avoid blocking the read loop if the consumer stops draining.
	}
}
