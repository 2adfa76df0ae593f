package session

import (
	"github.com/kokoroflow/kokoroflow/pkg/mentallog"
)

// Session is the per-stream conversation state. Fields are exported
// for serialization; all access must go through the store's per-stream
// lock so scheduler callbacks and the dialogue loop never interleave.
type Session struct {
	UserID   string `json:"user_id"`
	StreamID string `json:"stream_id"`
	Platform string `json:"platform"`

	Waiting                 WaitingConfig `json:"waiting_config"`
	ConsecutiveTimeoutCount int           `json:"consecutive_timeout_count"`

	CreatedAt         float64  `json:"created_at"`
	LastActivityAt    float64  `json:"last_activity_at"`
	LastUserMessageAt *float64 `json:"last_user_message_at"`
	LastProactiveAt   *float64 `json:"last_proactive_at"`

	MentalLog *mentallog.Log `json:"mental_log"`

	// PendingThoughts collects mid-wait monologue written by the wait
	// checker; the next decision turn consumes and clears them.
	PendingThoughts []string `json:"pending_thoughts"`

	TotalInteractions int `json:"total_interactions"`
}

// NewSession creates a blank session for the stream.
func NewSession(streamID string, maxLogEntries int) *Session {
	now := nowUnix()
	return &Session{
		StreamID:       streamID,
		CreatedAt:      now,
		LastActivityAt: now,
		MentalLog:      mentallog.NewLog(maxLogEntries),
	}
}

// SetWaiting arms a wait window. Windows without a positive duration
// clear the waiting state instead.
func (s *Session) SetWaiting(config WaitingConfig) {
	if config.MaxWaitSeconds <= 0 {
		s.ClearWaiting()
		return
	}
	s.Waiting = config
}

// ClearWaiting resets the wait window and bumps activity time.
func (s *Session) ClearWaiting() {
	s.Waiting.Reset()
	s.LastActivityAt = nowUnix()
}

// IsWaiting reports whether a wait window is armed.
func (s *Session) IsWaiting() bool {
	return s.Waiting.IsActive()
}

// AddUserMessage records an inbound message in the mental log. When a
// wait window is open the entry is annotated with whether the reply
// landed in time, and the consecutive timeout counter resets.
func (s *Session) AddUserMessage(content, userName, userID string, timestamp float64) mentallog.Entry {
	msgTime := timestamp
	if msgTime == 0 {
		msgTime = nowUnix()
	}
	entry := mentallog.Entry{
		Kind:      mentallog.KindUserMessage,
		Timestamp: msgTime,
		Content:   content,
		UserName:  userName,
		UserID:    userID,
	}

	if s.Waiting.IsActive() {
		elapsed := s.Waiting.ElapsedSeconds()
		status := "in_time"
		if elapsed > s.Waiting.MaxWaitSeconds {
			status = "late"
		}
		entry.Metadata = map[string]any{
			"reply_status":     status,
			"elapsed_seconds":  elapsed,
			"max_wait_seconds": s.Waiting.MaxWaitSeconds,
		}
	}

	s.MentalLog.Add(entry)
	s.ConsecutiveTimeoutCount = 0
	s.LastUserMessageAt = &msgTime
	s.LastActivityAt = msgTime
	return entry
}

// AddBotPlanning records a decision turn in the mental log and counts
// the interaction.
func (s *Session) AddBotPlanning(thought string, actions []mentallog.Action, expectedReaction string, maxWaitSeconds float64) mentallog.Entry {
	entry := mentallog.Entry{
		Kind:             mentallog.KindBotPlanning,
		Timestamp:        nowUnix(),
		Thought:          thought,
		Actions:          actions,
		ExpectedReaction: expectedReaction,
		MaxWaitSeconds:   maxWaitSeconds,
	}
	s.MentalLog.Add(entry)
	s.TotalInteractions++
	s.LastActivityAt = nowUnix()
	return entry
}

// AddWaitingUpdate records a mid-wait thought from the wait checker.
func (s *Session) AddWaitingUpdate(waitingThought, mood string) mentallog.Entry {
	entry := mentallog.Entry{
		Kind:           mentallog.KindWaitingUpdate,
		Timestamp:      nowUnix(),
		WaitingThought: waitingThought,
		Mood:           mood,
		ElapsedSeconds: s.Waiting.ElapsedSeconds(),
	}
	s.MentalLog.Add(entry)
	return entry
}

// normalize repairs a session deserialized from storage: nil logs get
// a fresh bound, zero create times get backfilled.
func (s *Session) normalize(maxLogEntries int) {
	if s.MentalLog == nil {
		s.MentalLog = mentallog.NewLog(maxLogEntries)
	} else {
		s.MentalLog = mentallog.FromList(s.MentalLog.ToList(), maxLogEntries)
	}
	now := nowUnix()
	if s.CreatedAt == 0 {
		s.CreatedAt = now
	}
	if s.LastActivityAt == 0 {
		s.LastActivityAt = now
	}
}
