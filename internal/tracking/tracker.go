package tracking

import "time"

// Status is the lifecycle state of one outbound call.
type Status string

const (
	StatusInitiated Status = "initiated"
	StatusRinging   Status = "ringing"
	StatusStarted   Status = "started"
	StatusAnswered  Status = "answered"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusRejected  Status = "rejected"
	StatusBusy      Status = "busy"
	StatusTimeout   Status = "timeout"
)

// Terminal reports whether no further progress is expected after this status.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusRejected, StatusBusy, StatusTimeout:
		return true
	}
	return false
}

// Result is a captured payload for a tracker, e.g. recognized speech.
type Result struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// Tracker is a snapshot of one outbound action awaiting correlation. The
// registry hands out copies; callers never hold live pointers into guarded
// state.
type Tracker struct {
	// CallUUID is the primary correlation id assigned by the provider.
	CallUUID string `json:"call_uuid"`
	// ConversationUUID is the secondary correlation id; some provider
	// events are keyed by conversation instead of call.
	ConversationUUID string `json:"conversation_uuid,omitempty"`

	To   string `json:"to"`
	From string `json:"from"`

	CreatedAt time.Time `json:"created_at"`
	Status    Status    `json:"status"`
	// StatusHistory is an append-only sequence of human-readable progress
	// messages.
	StatusHistory []string `json:"status_history"`
	// StatusSent records which raw status strings have already been
	// reported, so a status repeated across polls is only notified once.
	StatusSent map[string]bool `json:"-"`

	// Result is set at most once, when a speech or reply payload is
	// captured for this tracker.
	Result *Result `json:"result,omitempty"`
	// AwaitingResult marks trackers that expect a result payload beyond
	// plain status updates.
	AwaitingResult bool `json:"awaiting_result"`
}

// Terminal reports whether the tracker has reached a terminal status.
func (t *Tracker) Terminal() bool {
	return t.Status.Terminal()
}

func (t *Tracker) clone() Tracker {
	out := *t
	out.StatusHistory = append([]string(nil), t.StatusHistory...)
	out.StatusSent = make(map[string]bool, len(t.StatusSent))
	for k, v := range t.StatusSent {
		out.StatusSent[k] = v
	}
	if t.Result != nil {
		r := *t.Result
		out.Result = &r
	}
	return out
}
