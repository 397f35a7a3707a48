package coach

// Event is published by the session and plan clients; the presentation
// layer subscribes via Events() channels instead of threading rendering
// callbacks through the core.
type Event interface {
	eventType() string
}

// NoticeLevel classifies user-facing notices.
type NoticeLevel int

const (
	NoticeInfo NoticeLevel = iota
	NoticeSuccess
	NoticeError
)

func (l NoticeLevel) String() string {
	switch l {
	case NoticeSuccess:
		return "success"
	case NoticeError:
		return "error"
	default:
		return "info"
	}
}

// NoticeEvent carries a user-facing status line.
type NoticeEvent struct {
	Level NoticeLevel
	Text  string
}

func (e NoticeEvent) eventType() string { return "notice" }

// StateChangeEvent reports a session state transition.
type StateChangeEvent struct {
	From SessionState
	To   SessionState
}

func (e StateChangeEvent) eventType() string { return "state_change" }

// AgentTextEvent carries one streamed text fragment from the agent.
// Begin is true when the fragment opens a new agent message; otherwise it
// appends to the currently open one.
type AgentTextEvent struct {
	Text  string
	Begin bool
}

func (e AgentTextEvent) eventType() string { return "agent_text" }

// UserTextEvent echoes a sent user message into the transcript view.
type UserTextEvent struct {
	Text string
}

func (e UserTextEvent) eventType() string { return "user_text" }

// TurnCompleteEvent marks the end of an agent turn.
type TurnCompleteEvent struct{}

func (e TurnCompleteEvent) eventType() string { return "turn_complete" }

// InterruptedEvent marks an agent turn cut off mid-output. Playback has
// already been stopped and the queue cleared when this is published.
type InterruptedEvent struct{}

func (e InterruptedEvent) eventType() string { return "interrupted" }

// MuteChangeEvent reports the microphone mute state.
type MuteChangeEvent struct {
	Muted bool
}

func (e MuteChangeEvent) eventType() string { return "mute_change" }

// LevelEvent reports the input level meter as a percentage in [0,100],
// computed from the raw capture frame before resampling.
type LevelEvent struct {
	Percent float64
}

func (e LevelEvent) eventType() string { return "level" }

// DisconnectedEvent reports channel loss. Unexpected is false when the
// close was initiated by this client's own teardown.
type DisconnectedEvent struct {
	Reason     string
	Unexpected bool
}

func (e DisconnectedEvent) eventType() string { return "disconnected" }

// PlanOrigin says where a plan snapshot came from.
type PlanOrigin int

const (
	// PlanOriginLocal is an optimistic local mutation not yet confirmed.
	PlanOriginLocal PlanOrigin = iota
	// PlanOriginServer is the authoritative copy from a save response.
	PlanOriginServer
	// PlanOriginPush is the authoritative copy from the live channel.
	PlanOriginPush
)

// PlanEvent reports that the daily plan snapshot changed and should be
// redrawn.
type PlanEvent struct {
	Plan   *DailyPlan
	Origin PlanOrigin
}

func (e PlanEvent) eventType() string { return "plan" }
