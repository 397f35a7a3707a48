package coach

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Role identifies who produced a transcript entry.
type Role string

const (
	RoleUser   Role = "user"
	RoleAgent  Role = "agent"
	RoleSystem Role = "system"
)

// Entry is one transcript line. Agent entries grow while their turn is
// open; fragments append to the same entry until the turn completes or is
// interrupted.
type Entry struct {
	ID   string
	Role Role
	Text string
	Time time.Time
}

// Transcript is the in-memory chat log for one session.
type Transcript struct {
	mu      sync.Mutex
	entries []Entry
	open    int // index of the open agent entry, -1 when none
}

func newTranscript() *Transcript {
	return &Transcript{open: -1}
}

// AppendUser records a sent user message.
func (t *Transcript) AppendUser(text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = append(t.entries, Entry{
		ID:   uuid.NewString(),
		Role: RoleUser,
		Text: text,
		Time: time.Now(),
	})
}

// AppendAgent adds a streamed fragment. When begin is true (or no agent
// entry is open) a new entry starts; otherwise the fragment appends to
// the open one.
func (t *Transcript) AppendAgent(fragment string, begin bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if begin || t.open < 0 {
		t.entries = append(t.entries, Entry{
			ID:   uuid.NewString(),
			Role: RoleAgent,
			Text: fragment,
			Time: time.Now(),
		})
		t.open = len(t.entries) - 1
		return
	}
	t.entries[t.open].Text += fragment
}

// CloseAgent seals the open agent entry at a turn boundary.
func (t *Transcript) CloseAgent() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.open = -1
}

// Entries returns a copy of the transcript.
func (t *Transcript) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Clear drops all entries.
func (t *Transcript) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = nil
	t.open = -1
}
