package engine

import (
	"context"
	"fmt"

	"github.com/kokoroflow/kokoroflow/pkg/config"
	"github.com/kokoroflow/kokoroflow/pkg/logger"
	"github.com/kokoroflow/kokoroflow/pkg/mentallog"
	"github.com/kokoroflow/kokoroflow/pkg/session"
)

// TimeoutContext carries everything the timeout decision payload needs,
// captured at the moment the wait window expired.
type TimeoutContext struct {
	ElapsedSeconds      float64
	ExpectedReaction    string
	ConsecutiveTimeouts int
	PendingThoughts     []string
	LastBotMessage      string
}

// TimeoutHandler turns an expired wait window into the state updates and
// context the next decision turn runs on.
type TimeoutHandler struct {
	cfg *config.Config
}

// NewTimeoutHandler creates a handler over the engine configuration.
func NewTimeoutHandler(cfg *config.Config) *TimeoutHandler {
	return &TimeoutHandler{cfg: cfg}
}

// CheckTimeout reports whether the session's wait window has expired.
func (h *TimeoutHandler) CheckTimeout(s *session.Session) bool {
	return s.Waiting.IsTimeout()
}

// HandleTimeout bumps the consecutive timeout counter, records the
// timeout in the mental log, snapshots the mid-wait thoughts, and clears
// the wait window. Callers must hold the stream lock.
func (h *TimeoutHandler) HandleTimeout(ctx context.Context, s *session.Session) TimeoutContext {
	elapsed := s.Waiting.ElapsedSeconds()
	expected := s.Waiting.ExpectedReaction
	s.ConsecutiveTimeoutCount++

	s.MentalLog.Add(mentallog.Entry{
		Kind:           mentallog.KindWaitTimeout,
		Timestamp:      mentallog.Now(),
		ElapsedSeconds: elapsed,
		Content:        fmt.Sprintf("等待超时，已等待 %.0f 秒", elapsed),
	})

	pending := append([]string(nil), s.PendingThoughts...)
	lastBotMessage := s.MentalLog.LastBotReplyContent()

	s.ClearWaiting()

	logger.G(ctx).WithFields(map[string]any{
		"stream_id":   s.StreamID,
		"elapsed":     fmt.Sprintf("%.0fs", elapsed),
		"consecutive": s.ConsecutiveTimeoutCount,
	}).Info("等待超时")

	return TimeoutContext{
		ElapsedSeconds:      elapsed,
		ExpectedReaction:    expected,
		ConsecutiveTimeouts: s.ConsecutiveTimeoutCount,
		PendingThoughts:     pending,
		LastBotMessage:      lastBotMessage,
	}
}

// ShouldGiveUp reports whether the bot should stop chasing a reply. Call
// after HandleTimeout: the counter is post-increment, so the Nth timeout
// sees count == N and a budget of 3 allows follow-ups after timeouts 1
// and 2 only.
func (h *TimeoutHandler) ShouldGiveUp(s *session.Session) bool {
	return s.ConsecutiveTimeoutCount >= h.cfg.Wait.MaxConsecutiveTimeouts
}
