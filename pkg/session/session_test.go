package session

import (
	"encoding/json"
	"testing"

	"github.com/kokoroflow/kokoroflow/pkg/mentallog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitingConfig(t *testing.T) {
	t.Run("inactive by default", func(t *testing.T) {
		var w WaitingConfig
		assert.False(t, w.IsActive())
		assert.Zero(t, w.ElapsedSeconds())
		assert.False(t, w.IsTimeout())
		assert.Zero(t, w.Progress())
	})

	t.Run("elapsed and progress", func(t *testing.T) {
		w := WaitingConfig{MaxWaitSeconds: 100, StartedAt: nowUnix() - 50}
		require.True(t, w.IsActive())
		assert.InDelta(t, 50, w.ElapsedSeconds(), 2)
		assert.InDelta(t, 0.5, w.Progress(), 0.05)
		assert.False(t, w.IsTimeout())
	})

	t.Run("timeout reached", func(t *testing.T) {
		w := WaitingConfig{MaxWaitSeconds: 30, StartedAt: nowUnix() - 31}
		assert.True(t, w.IsTimeout())
		assert.Equal(t, float64(1), w.Progress())
	})

	t.Run("reset", func(t *testing.T) {
		w := WaitingConfig{ExpectedReaction: "回复", MaxWaitSeconds: 30, StartedAt: 1, ThinkingCount: 2}
		w.Reset()
		assert.Equal(t, WaitingConfig{}, w)
	})
}

func TestSetWaiting(t *testing.T) {
	t.Run("positive duration arms window", func(t *testing.T) {
		s := NewSession("stream-1", 50)
		s.SetWaiting(WaitingConfig{MaxWaitSeconds: 60, StartedAt: nowUnix()})
		assert.True(t, s.IsWaiting())
	})

	t.Run("non-positive duration clears", func(t *testing.T) {
		s := NewSession("stream-1", 50)
		s.SetWaiting(WaitingConfig{MaxWaitSeconds: 60, StartedAt: nowUnix()})
		s.SetWaiting(WaitingConfig{MaxWaitSeconds: 0})
		assert.False(t, s.IsWaiting())
	})
}

func TestAddUserMessage(t *testing.T) {
	t.Run("resets timeout counter", func(t *testing.T) {
		s := NewSession("stream-1", 50)
		s.ConsecutiveTimeoutCount = 2

		entry := s.AddUserMessage("你好", "小明", "user-1", 0)

		assert.Zero(t, s.ConsecutiveTimeoutCount)
		assert.Equal(t, mentallog.KindUserMessage, entry.Kind)
		assert.Equal(t, "你好", entry.Content)
		require.NotNil(t, s.LastUserMessageAt)
		assert.Equal(t, entry.Timestamp, *s.LastUserMessageAt)
	})

	t.Run("in time reply annotation", func(t *testing.T) {
		s := NewSession("stream-1", 50)
		s.SetWaiting(WaitingConfig{MaxWaitSeconds: 100, StartedAt: nowUnix() - 10})

		entry := s.AddUserMessage("来了", "小明", "user-1", 0)

		require.NotNil(t, entry.Metadata)
		assert.Equal(t, "in_time", entry.Metadata["reply_status"])
		assert.InDelta(t, 10, entry.Metadata["elapsed_seconds"].(float64), 2)
	})

	t.Run("late reply annotation", func(t *testing.T) {
		s := NewSession("stream-1", 50)
		s.SetWaiting(WaitingConfig{MaxWaitSeconds: 10, StartedAt: nowUnix() - 60})

		entry := s.AddUserMessage("抱歉久等", "小明", "user-1", 0)

		require.NotNil(t, entry.Metadata)
		assert.Equal(t, "late", entry.Metadata["reply_status"])
	})

	t.Run("no annotation outside window", func(t *testing.T) {
		s := NewSession("stream-1", 50)
		entry := s.AddUserMessage("你好", "小明", "user-1", 0)
		assert.Nil(t, entry.Metadata)
	})
}

func TestAddBotPlanning(t *testing.T) {
	s := NewSession("stream-1", 50)

	actions := []mentallog.Action{{"type": "kfc_reply", "content": "在呢"}}
	entry := s.AddBotPlanning("他在找我", actions, "对方说明来意", 120)

	assert.Equal(t, 1, s.TotalInteractions)
	assert.Equal(t, mentallog.KindBotPlanning, entry.Kind)
	assert.Equal(t, "他在找我", entry.Thought)
	assert.Equal(t, float64(120), entry.MaxWaitSeconds)

	s.AddBotPlanning("再想想", nil, "", 0)
	assert.Equal(t, 2, s.TotalInteractions)
}

func TestAddWaitingUpdate(t *testing.T) {
	s := NewSession("stream-1", 50)
	s.SetWaiting(WaitingConfig{MaxWaitSeconds: 100, StartedAt: nowUnix() - 40})

	entry := s.AddWaitingUpdate("怎么还不回我", "有点失落")

	assert.Equal(t, mentallog.KindWaitingUpdate, entry.Kind)
	assert.Equal(t, "怎么还不回我", entry.WaitingThought)
	assert.Equal(t, "有点失落", entry.Mood)
	assert.InDelta(t, 40, entry.ElapsedSeconds, 2)
}

func TestSessionRoundTrip(t *testing.T) {
	s := NewSession("stream-1", 50)
	s.UserID = "user-1"
	s.ConsecutiveTimeoutCount = 2
	s.PendingThoughts = []string{"在忙吧", "再等等"}
	s.SetWaiting(WaitingConfig{ExpectedReaction: "回复我", MaxWaitSeconds: 120, StartedAt: nowUnix()})
	s.AddUserMessage("你好", "小明", "user-1", 1700000000)

	data, err := json.Marshal(s)
	require.NoError(t, err)

	var decoded Session
	require.NoError(t, json.Unmarshal(data, &decoded))
	decoded.normalize(50)

	assert.Equal(t, "stream-1", decoded.StreamID)
	assert.Equal(t, "user-1", decoded.UserID)
	assert.Zero(t, decoded.ConsecutiveTimeoutCount) // reset by AddUserMessage
	assert.Equal(t, []string{"在忙吧", "再等等"}, decoded.PendingThoughts)
	assert.Equal(t, "回复我", decoded.Waiting.ExpectedReaction)
	require.NotNil(t, decoded.LastUserMessageAt)
	assert.Equal(t, float64(1700000000), *decoded.LastUserMessageAt)
	require.NotNil(t, decoded.MentalLog)
	assert.Equal(t, 1, decoded.MentalLog.Len())
	assert.Nil(t, decoded.LastProactiveAt)
}
