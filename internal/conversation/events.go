package conversation

import (
	"time"

	"github.com/ashureev/chatdesk/internal/domain"
)

// EventType names a change to a user's conversation state.
type EventType string

const (
	// EventThreadCreated carries a new, empty thread.
	EventThreadCreated EventType = "thread.created"
	// EventThreadUpdated carries a thread whose title or model changed.
	EventThreadUpdated EventType = "thread.updated"
	// EventActiveChanged names the newly active thread; 0 clears it.
	EventActiveChanged EventType = "thread.activated"
	// EventTurnAppended carries a turn; Pending marks a tentative user turn.
	EventTurnAppended EventType = "turn.appended"
	// EventTurnRetracted carries a tentative user turn that was removed.
	EventTurnRetracted EventType = "turn.retracted"
	// EventQuotaUpdated carries the monthly counter after a change or reset.
	EventQuotaUpdated EventType = "quota.updated"
	// EventSettingsChange reports a credential change; the key is never sent.
	EventSettingsChange EventType = "settings.updated"
)

// Event is published after a state change has been applied.
type Event struct {
	Type     EventType           `json:"type"`
	ThreadID int64               `json:"thread_id,omitempty"`
	Thread   *domain.Thread      `json:"thread,omitempty"`
	Turn     *domain.Turn        `json:"turn,omitempty"`
	Quota    *domain.QuotaStatus `json:"quota,omitempty"`
	Pending  bool                `json:"pending,omitempty"`
	At       time.Time           `json:"at"`
}

// Notifier receives events for one user. Publish must not block.
type Notifier interface {
	Publish(userID string, ev Event)
}

type nopNotifier struct{}

func (nopNotifier) Publish(string, Event) {}
