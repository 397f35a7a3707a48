package coach

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coachlive/coach-go/internal/protocol"
)

// pushServer accepts plan-channel connections and hands each one to the
// test, recording the query string of the dial.
type pushServer struct {
	conns  chan *websocket.Conn
	emails chan string
}

func newPushServer(t *testing.T) (string, *pushServer) {
	t.Helper()

	ps := &pushServer{
		conns:  make(chan *websocket.Conn, 4),
		emails: make(chan string, 4),
	}
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != planPushPath {
			http.NotFound(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ps.emails <- r.URL.Query().Get("email")
		ps.conns <- conn
	}))
	t.Cleanup(server.Close)
	return server.URL, ps
}

func (ps *pushServer) accept(t *testing.T, timeout time.Duration) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-ps.conns:
		return conn
	case <-time.After(timeout):
		t.Fatalf("no plan-channel connection within %v", timeout)
		return nil
	}
}

func newWatcherFixture(t *testing.T, backendURL string) (*PlanService, *PlanWatcher) {
	t.Helper()

	client := NewClient(WithBackendURL(backendURL), WithUserEmail("athlete@example.com"))
	svc := client.Plan
	watcher := &PlanWatcher{service: svc, delay: 20 * time.Millisecond}
	watcher.connect()
	t.Cleanup(watcher.Stop)
	return svc, watcher
}

func TestPlanWatcher_DialsWithUserIdentity(t *testing.T) {
	t.Parallel()

	backendURL, server := newPushServer(t)
	newWatcherFixture(t, backendURL)

	server.accept(t, 2*time.Second)
	select {
	case email := <-server.emails:
		assert.Equal(t, "athlete@example.com", email)
	default:
		t.Fatalf("dial carried no email")
	}
}

func TestWatch_DialFailureStillReturnsWatcher(t *testing.T) {
	t.Parallel()

	dead := httptest.NewServer(http.NotFoundHandler())
	backendURL := dead.URL
	dead.Close()

	client := NewClient(WithBackendURL(backendURL), WithUserEmail("athlete@example.com"))
	watcher := client.Plan.Watch()
	require.NotNil(t, watcher)
	t.Cleanup(watcher.Stop)

	notice := waitEvent[NoticeEvent](t, client.Plan.Events(), 2*time.Second)
	assert.Equal(t, NoticeError, notice.Level)
}

func TestPlanWatcher_PushReplacesRecord(t *testing.T) {
	t.Parallel()

	backendURL, server := newPushServer(t)
	svc, _ := newWatcherFixture(t, backendURL)

	conn := server.accept(t, 2*time.Second)
	require.NoError(t, conn.WriteJSON(map[string]any{
		"action": protocol.PlanUpdatedAction,
		"data": DailyPlan{
			ID:   "daily-9",
			Date: "2026-03-14",
			Repetitions: map[string]map[string]Achievement{
				"back": {"stretch": {Repetition: 4}},
			},
		},
	}))

	ev := waitEvent[PlanEvent](t, svc.Events(), 2*time.Second)
	assert.Equal(t, PlanOriginPush, ev.Origin)
	assert.Equal(t, 4, ev.Plan.Repetitions["back"]["stretch"].Repetition)

	daily := svc.Daily()
	require.NotNil(t, daily)
	assert.Equal(t, "daily-9", daily.ID)
}

func TestPlanWatcher_IgnoresUnknownAndMalformedPushes(t *testing.T) {
	t.Parallel()

	backendURL, server := newPushServer(t)
	svc, _ := newWatcherFixture(t, backendURL)

	conn := server.accept(t, 2*time.Second)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	require.NoError(t, conn.WriteJSON(map[string]any{"action": "SOMETHING_ELSE", "data": map[string]any{}}))
	require.NoError(t, conn.WriteJSON(map[string]any{
		"action": protocol.PlanUpdatedAction,
		"data":   DailyPlan{ID: "daily-2", Date: "2026-03-14"},
	}))

	ev := waitEvent[PlanEvent](t, svc.Events(), 2*time.Second)
	assert.Equal(t, "daily-2", ev.Plan.ID, "bad frames must be skipped, not kill the read loop")
}

func TestPlanWatcher_ReconnectsAfterDrop(t *testing.T) {
	t.Parallel()

	backendURL, server := newPushServer(t)
	svc, _ := newWatcherFixture(t, backendURL)

	first := server.accept(t, 2*time.Second)
	_ = first.Close()

	notice := waitEvent[NoticeEvent](t, svc.Events(), 2*time.Second)
	assert.Equal(t, NoticeError, notice.Level)

	// Fixed-delay retry re-establishes the channel without backoff growth.
	second := server.accept(t, 2*time.Second)
	require.NoError(t, second.WriteJSON(map[string]any{
		"action": protocol.PlanUpdatedAction,
		"data":   DailyPlan{ID: "after-reconnect", Date: "2026-03-14"},
	}))
	ev := waitEvent[PlanEvent](t, svc.Events(), 2*time.Second)
	assert.Equal(t, "after-reconnect", ev.Plan.ID)
}

func TestPlanWatcher_OverlappingFailuresArmOneReconnect(t *testing.T) {
	t.Parallel()

	backendURL, server := newPushServer(t)
	client := NewClient(WithBackendURL(backendURL), WithUserEmail("athlete@example.com"))
	watcher := &PlanWatcher{service: client.Plan, delay: 150 * time.Millisecond}
	watcher.connect()
	t.Cleanup(watcher.Stop)

	first := server.accept(t, 2*time.Second)
	_ = first.Close()

	// More failure signals land before the pending timer fires; each must
	// replace the armed timer, never stack another.
	watcher.scheduleReconnect()
	watcher.scheduleReconnect()

	server.accept(t, 2*time.Second)
	select {
	case <-server.conns:
		t.Fatalf("overlapping failure signals produced more than one reconnect")
	case <-time.After(400 * time.Millisecond):
	}
}

func TestPlanWatcher_StopIsSilentAndFinal(t *testing.T) {
	t.Parallel()

	backendURL, server := newPushServer(t)
	_, watcher := newWatcherFixture(t, backendURL)

	conn := server.accept(t, 2*time.Second)
	watcher.Stop()

	// The server sees our teardown reason on the wire.
	deadline := time.Now().Add(2 * time.Second)
	_ = conn.SetReadDeadline(deadline)
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		var closeErr *websocket.CloseError
		require.True(t, errors.As(err, &closeErr), "read err = %v", err)
		assert.Equal(t, protocol.TeardownReason, closeErr.Text)
		break
	}

	// No reconnect attempt after an intentional stop.
	select {
	case <-server.conns:
		t.Fatalf("watcher reconnected after Stop")
	case <-time.After(100 * time.Millisecond):
	}
}
