// Package mentallog implements the bot's inner activity stream: a
// bounded, append-only log of conversation events and thoughts that is
// rendered back into prompts so the model can "remember" what it was
// doing and feeling across turns.
package mentallog

import (
	"encoding/json"
	"time"
)

// EventKind identifies what a log entry records.
type EventKind string

const (
	// KindUserMessage records an inbound user message.
	KindUserMessage EventKind = "user_message"
	// KindBotPlanning records a decision turn: thought, actions, expectation.
	KindBotPlanning EventKind = "bot_planning"
	// KindWaitingStart records the beginning of a wait window.
	KindWaitingStart EventKind = "waiting_start"
	// KindWaitingUpdate records a mid-wait thought from the wait checker.
	KindWaitingUpdate EventKind = "waiting_update"
	// KindReplyInTime records a user reply inside the wait window.
	KindReplyInTime EventKind = "reply_in_time"
	// KindReplyLate records a user reply after the wait window expired.
	KindReplyLate EventKind = "reply_late"
	// KindWaitTimeout records an expired wait window with nobody replying.
	KindWaitTimeout EventKind = "wait_timeout"
	// KindProactiveTrigger records a self-initiated conversation start.
	KindProactiveTrigger EventKind = "proactive_trigger"
)

func (k EventKind) known() bool {
	switch k {
	case KindUserMessage, KindBotPlanning, KindWaitingStart, KindWaitingUpdate,
		KindReplyInTime, KindReplyLate, KindWaitTimeout, KindProactiveTrigger:
		return true
	}
	return false
}

// UnmarshalJSON coerces unknown kinds to KindUserMessage so that logs
// written by newer versions still load.
func (k *EventKind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	kind := EventKind(s)
	if !kind.known() {
		kind = KindUserMessage
	}
	*k = kind
	return nil
}

// Action is one planned action from a decision, stored as the raw
// key-value form the model produced. The "type" key names the action.
type Action map[string]any

// Type returns the action's type name, or "" when absent.
func (a Action) Type() string {
	s, _ := a["type"].(string)
	return s
}

// Content returns the action's content argument, or "" when absent.
func (a Action) Content() string {
	s, _ := a["content"].(string)
	return s
}

// Clone returns a shallow copy of the action.
func (a Action) Clone() Action {
	out := make(Action, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// Entry is a single event node in the activity stream. Field presence
// depends on Kind; unused fields stay at their zero values.
type Entry struct {
	Kind      EventKind `json:"event_type"`
	Timestamp float64   `json:"timestamp"`

	Content string `json:"content"`

	UserName string `json:"user_name"`
	UserID   string `json:"user_id"`

	Thought          string   `json:"thought"`
	Actions          []Action `json:"actions"`
	ExpectedReaction string   `json:"expected_reaction"`
	MaxWaitSeconds   float64  `json:"max_wait_seconds"`

	ElapsedSeconds float64 `json:"elapsed_seconds"`
	WaitingThought string  `json:"waiting_thought"`
	Mood           string  `json:"mood"`

	Metadata map[string]any `json:"metadata"`
}

// TimeString renders the entry timestamp as a local wall-clock string.
func (e Entry) TimeString(layout string) string {
	return time.Unix(0, int64(e.Timestamp*float64(time.Second))).Format(layout)
}

// Now returns the current time as float epoch seconds, the timestamp
// representation used throughout the activity stream.
func Now() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}
