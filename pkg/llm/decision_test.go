package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDecisionCleanJSON(t *testing.T) {
	text := `{
		"thought": "她在等我回复",
		"actions": [{"type": "kfc_reply", "content": "在呢在呢"}],
		"expected_user_reaction": "她会继续说",
		"max_wait_seconds": 120,
		"mood": "期待"
	}`

	d, ok := ParseDecision(text)
	require.True(t, ok)
	assert.Equal(t, "她在等我回复", d.Thought)
	assert.Equal(t, "她会继续说", d.ExpectedReaction)
	assert.Equal(t, float64(120), d.MaxWaitSeconds)
	assert.Equal(t, "期待", d.Mood)
	require.Len(t, d.Actions, 1)
	assert.Equal(t, "kfc_reply", d.Actions[0]["type"])
	assert.Equal(t, "在呢在呢", d.Actions[0]["content"])
	assert.True(t, d.Actionable())
}

func TestParseDecisionFencedBlock(t *testing.T) {
	text := "好的，我来决定。\n```json\n{\"thought\": \"想一想\", \"actions\": [{\"type\": \"do_nothing\"}], \"max_wait_seconds\": 0}\n```"

	d, ok := ParseDecision(text)
	require.True(t, ok)
	assert.Equal(t, "想一想", d.Thought)
	require.Len(t, d.Actions, 1)
	assert.Equal(t, "do_nothing", d.Actions[0]["type"])
}

func TestParseDecisionRepairsMalformedJSON(t *testing.T) {
	t.Run("single quotes", func(t *testing.T) {
		text := `{'thought': '回一句', 'actions': [{'type': 'kfc_reply', 'content': '哈哈'}], 'max_wait_seconds': 60}`
		d, ok := ParseDecision(text)
		require.True(t, ok)
		assert.Equal(t, "回一句", d.Thought)
		assert.Equal(t, float64(60), d.MaxWaitSeconds)
	})

	t.Run("trailing comma", func(t *testing.T) {
		text := `{"thought": "嗯", "actions": [{"type": "do_nothing"},], "max_wait_seconds": 0,}`
		d, ok := ParseDecision(text)
		require.True(t, ok)
		require.Len(t, d.Actions, 1)
	})
}

func TestParseDecisionRejectsProse(t *testing.T) {
	for _, text := range []string{"", "   ", "今天天气不错啊", "嗯嗯，好呀！"} {
		_, ok := ParseDecision(text)
		assert.False(t, ok, "should reject %q", text)
	}
}

func TestParseDecisionNormalization(t *testing.T) {
	t.Run("respond alias becomes kfc_reply", func(t *testing.T) {
		d, ok := ParseDecision(`{"thought": "x", "actions": [{"type": "respond", "content": "好"}]}`)
		require.True(t, ok)
		require.Len(t, d.Actions, 1)
		assert.Equal(t, "kfc_reply", d.Actions[0]["type"])
		assert.Equal(t, "好", d.Actions[0]["content"])
	})

	t.Run("expected_reaction fallback spelling", func(t *testing.T) {
		d, ok := ParseDecision(`{"thought": "x", "actions": [], "expected_reaction": "回我"}`)
		require.True(t, ok)
		assert.Equal(t, "回我", d.ExpectedReaction)
	})

	t.Run("expected_user_reaction wins", func(t *testing.T) {
		d, ok := ParseDecision(`{"thought": "x", "actions": [], "expected_user_reaction": "主字段", "expected_reaction": "备用"}`)
		require.True(t, ok)
		assert.Equal(t, "主字段", d.ExpectedReaction)
	})

	t.Run("kfc_stop forces zero wait", func(t *testing.T) {
		d, ok := ParseDecision(`{"thought": "结束吧", "actions": [{"type": "kfc_stop"}], "max_wait_seconds": 300}`)
		require.True(t, ok)
		assert.Zero(t, d.MaxWaitSeconds)
	})

	t.Run("string wait seconds coerced", func(t *testing.T) {
		d, ok := ParseDecision(`{"thought": "x", "actions": [], "max_wait_seconds": "90"}`)
		require.True(t, ok)
		assert.Equal(t, float64(90), d.MaxWaitSeconds)
	})

	t.Run("reply content passes through verbatim", func(t *testing.T) {
		d, ok := ParseDecision(`{"thought": "x", "actions": [{"type": "kfc_reply", "content": "好的呀\n想法: 她应该会高兴"}]}`)
		require.True(t, ok)
		require.Len(t, d.Actions, 1)
		assert.Equal(t, "好的呀\n想法: 她应该会高兴", d.Actions[0]["content"])
	})
}

func TestDecisionToCalls(t *testing.T) {
	t.Run("metadata rides on control calls", func(t *testing.T) {
		d := &Decision{
			Thought:          "先回一句",
			ExpectedReaction: "她接话",
			MaxWaitSeconds:   120,
			Mood:             "轻松",
			Actions: []map[string]any{
				{"type": "kfc_reply", "content": "哈哈好"},
				{"type": "web_search", "query": "天气"},
			},
		}

		calls := DecisionToCalls(d)
		require.Len(t, calls, 2)

		reply := calls[0]
		assert.Equal(t, "kfc_reply", reply.Name)
		assert.NotEmpty(t, reply.ID)
		assert.Equal(t, "哈哈好", reply.StringArg("content"))
		assert.Equal(t, "先回一句", reply.StringArg("thought"))
		assert.Equal(t, "她接话", reply.StringArg("expected_reaction"))
		assert.Equal(t, float64(120), reply.FloatArg("max_wait_seconds"))

		search := calls[1]
		assert.Equal(t, "web_search", search.Name)
		assert.Equal(t, "天气", search.StringArg("query"))
		assert.NotContains(t, search.Args, "thought")
		assert.NotContains(t, search.Args, "max_wait_seconds")
	})

	t.Run("kfc_stop counts as a control call", func(t *testing.T) {
		d := &Decision{
			Thought: "话题到这儿了",
			Actions: []map[string]any{{"type": "kfc_stop"}},
		}
		calls := DecisionToCalls(d)
		require.Len(t, calls, 1)
		assert.Equal(t, "kfc_stop", calls[0].Name)
		assert.Equal(t, "话题到这儿了", calls[0].StringArg("thought"))
		assert.Zero(t, calls[0].FloatArg("max_wait_seconds"))
	})

	t.Run("type key stripped from args", func(t *testing.T) {
		d := &Decision{Actions: []map[string]any{{"type": "do_nothing"}}}
		calls := DecisionToCalls(d)
		require.Len(t, calls, 1)
		assert.NotContains(t, calls[0].Args, "type")
	})

	t.Run("typeless actions skipped", func(t *testing.T) {
		d := &Decision{Actions: []map[string]any{{"content": "孤儿动作"}}}
		assert.Empty(t, DecisionToCalls(d))
	})
}
