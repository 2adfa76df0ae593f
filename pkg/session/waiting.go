// Package session holds per-stream conversation state: the waiting
// window, timeout counters, the mental log, and the store that
// persists it all through a kvstore backend.
package session

import "time"

// WaitingConfig captures the wait window armed after the bot sends a
// message and commits to waiting for a reaction.
type WaitingConfig struct {
	ExpectedReaction string  `json:"expected_reaction"`
	MaxWaitSeconds   float64 `json:"max_wait_seconds"`
	StartedAt        float64 `json:"started_at"`
	LastThinkingAt   float64 `json:"last_thinking_at"`
	ThinkingCount    int     `json:"thinking_count"`
	FollowupCount    int     `json:"followup_count"`
}

// IsActive reports whether a wait window is armed.
func (w *WaitingConfig) IsActive() bool {
	return w.MaxWaitSeconds > 0 && w.StartedAt > 0
}

// ElapsedSeconds returns how long the window has been open, measured
// against the wall clock. Inactive windows report 0.
func (w *WaitingConfig) ElapsedSeconds() float64 {
	if !w.IsActive() {
		return 0
	}
	return nowUnix() - w.StartedAt
}

// IsTimeout reports whether the window has fully elapsed.
func (w *WaitingConfig) IsTimeout() bool {
	if !w.IsActive() {
		return false
	}
	return w.ElapsedSeconds() >= w.MaxWaitSeconds
}

// Progress returns the elapsed fraction of the window in [0, 1].
func (w *WaitingConfig) Progress() float64 {
	if !w.IsActive() || w.MaxWaitSeconds <= 0 {
		return 0
	}
	progress := w.ElapsedSeconds() / w.MaxWaitSeconds
	if progress > 1 {
		return 1
	}
	return progress
}

// Reset clears the window back to the idle state.
func (w *WaitingConfig) Reset() {
	*w = WaitingConfig{}
}

func nowUnix() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}
