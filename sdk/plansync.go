package coach

import (
	"encoding/json"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/coachlive/coach-go/internal/protocol"
)

const (
	planPushPath   = "/api/v1/ws"
	reconnectDelay = 5 * time.Second
)

// PlanWatcher maintains the live-update channel keyed by the user's
// identity. PLAN_UPDATED pushes replace the plan service's record
// wholesale; unexpected closes trigger a fixed-delay reconnect loop that
// repeats indefinitely until Stop.
type PlanWatcher struct {
	service *PlanService
	delay   time.Duration

	mu      sync.Mutex
	conn    *websocket.Conn
	timer   *time.Timer
	stopped bool
}

// Watch opens the live-update channel and returns its watcher. A failed
// initial dial is treated like a dropped connection: a reconnect is
// scheduled and Watch still returns the watcher.
func (s *PlanService) Watch() *PlanWatcher {
	w := &PlanWatcher{service: s, delay: reconnectDelay}
	w.connect()
	return w
}

func (w *PlanWatcher) connect() {
	w.mu.Lock()
	if w.stopped || w.conn != nil {
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()

	client := w.service.client
	wsURL := wsBaseURL(client.backendURL) + planPushPath + "?email=" + url.QueryEscape(client.userEmail)
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		client.logger.Warn("plan channel dial failed", "url", wsURL, "error", err)
		w.service.publish(NoticeEvent{Level: NoticeError, Text: "Real-time connection lost. Attempting to reconnect..."})
		w.scheduleReconnect()
		return
	}

	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		_ = conn.Close()
		return
	}
	w.conn = conn
	w.mu.Unlock()

	w.service.publish(NoticeEvent{Level: NoticeSuccess, Text: "Real-time connection active."})
	go w.readLoop(conn)
}

func (w *PlanWatcher) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			w.handleClose()
			return
		}
		push, err := protocol.DecodePlanPush(data)
		if err != nil {
			w.service.client.logger.Warn("malformed plan push", "error", err)
			continue
		}
		if push.Action != protocol.PlanUpdatedAction {
			continue
		}
		var plan DailyPlan
		if err := json.Unmarshal(push.Data, &plan); err != nil {
			w.service.client.logger.Warn("malformed plan push payload", "error", err)
			continue
		}
		w.service.applyPush(&plan)
	}
}

// handleClose distinguishes an intentional Stop (handle already nulled,
// stay silent) from a dropped connection (report and reconnect).
func (w *PlanWatcher) handleClose() {
	w.mu.Lock()
	if w.stopped || w.conn == nil {
		w.mu.Unlock()
		return
	}
	w.conn = nil
	w.mu.Unlock()

	w.service.publish(NoticeEvent{Level: NoticeError, Text: "Real-time connection lost. Attempting to reconnect..."})
	w.scheduleReconnect()
}

// scheduleReconnect arms a single-shot timer, clearing any pending one
// first so overlapping failures never stack timers.
func (w *PlanWatcher) scheduleReconnect() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.delay, w.connect)
}

// Stop tears the channel down intentionally: the handle is nulled before
// closing so the close path does not schedule a reconnect. Idempotent.
func (w *PlanWatcher) Stop() {
	w.mu.Lock()
	w.stopped = true
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	conn := w.conn
	w.conn = nil
	w.mu.Unlock()

	if conn != nil {
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, protocol.TeardownReason),
			time.Now().Add(2*time.Second),
		)
		_ = conn.Close()
	}
}
