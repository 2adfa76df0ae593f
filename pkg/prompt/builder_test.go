package prompt

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kokoroflow/kokoroflow/pkg/chat"
	"github.com/kokoroflow/kokoroflow/pkg/mentallog"
	"github.com/kokoroflow/kokoroflow/pkg/multimodal"
	llmtypes "github.com/kokoroflow/kokoroflow/pkg/types/llm"
)

func testBuilder() *Builder {
	b := NewBuilder(chat.Persona{
		Nickname:         "小花",
		AliasNames:       []string{"花花", "小花儿"},
		PersonalityCore:  "温和友善，偶尔有点小脾气",
		PersonalitySide:  "喜欢分享生活琐事",
		Identity:         "一个喜欢聊天的普通人",
		BackgroundStory:  "从小在南方小城长大，大学学的是设计，现在做自由职业。",
		ReplyStyle:       "口语化，简短自然",
		SafetyGuidelines: []string{"不讨论政治话题", "不透露自己是程序"},
	})
	b.now = func() time.Time {
		return time.Date(2025, 6, 1, 14, 30, 0, 0, time.Local)
	}
	return b
}

func TestBuildSystemPrompt(t *testing.T) {
	b := testBuilder()
	info := chat.StreamInfo{
		StreamID: "s1",
		Platform: "qq",
		ChatType: chat.ChatTypePrivate,
		BotID:    "bot-1",
	}

	out, err := b.BuildSystemPrompt(info, nil)
	require.NoError(t, err)

	assert.Contains(t, out, "你的名字是 小花，也有人叫你 花花、小花儿。")
	assert.Contains(t, out, "你温和友善，偶尔有点小脾气")
	assert.Contains(t, out, "# 背景故事")
	assert.Contains(t, out, "从小在南方小城长大")
	assert.Contains(t, out, "不要在对话中直接复述")
	assert.Contains(t, out, "不讨论政治话题\n不透露自己是程序")
	assert.Contains(t, out, "你当前处于私聊环境")
	assert.Contains(t, out, "- kfc_reply — 发送一条消息，需要 content 字段")
	assert.Contains(t, out, "当前时间: 2025-06-01 14:30:00")
	assert.Contains(t, out, "聊天平台：qq，聊天类型：private")
	assert.Contains(t, out, "你的信息：昵称 小花，ID bot-1")
	assert.NotContains(t, out, "以下是你可以使用的额外能力")
}

func TestBuildSystemPromptExtraActions(t *testing.T) {
	b := testBuilder()
	info := chat.StreamInfo{Platform: "qq", ChatType: chat.ChatTypeGroup, BotID: "bot-1"}

	schemas := []llmtypes.ToolSchema{
		{
			Name:        "weather",
			Description: "查询天气",
			Params: []llmtypes.Param{
				{Name: "city", Type: "string", Description: "城市名", Required: true},
				{Name: "days", Type: "number", Description: "天数"},
				{Name: "reason", Type: "string", Description: "调用原因"},
			},
		},
	}

	out, err := b.BuildSystemPrompt(info, schemas)
	require.NoError(t, err)

	assert.Contains(t, out, "以下是你可以使用的额外能力（直接在 actions 中使用即可）：")
	assert.Contains(t, out, "- weather — 查询天气。参数: city(string): 城市名；days(number，可选): 天数")
	assert.NotContains(t, out, "reason")
	assert.Contains(t, out, "你当前处于群聊环境")
}

func TestBuildSystemPromptShortBackground(t *testing.T) {
	b := NewBuilder(chat.Persona{Nickname: "小花", BackgroundStory: "无"})
	out, err := b.BuildSystemPrompt(chat.StreamInfo{}, nil)
	require.NoError(t, err)
	assert.NotContains(t, out, "# 背景故事")
	assert.Contains(t, out, "聊天平台：unknown，聊天类型：unknown")
}

func TestFormatExtraActions(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		assert.Empty(t, FormatExtraActions(nil))
	})

	t.Run("no params", func(t *testing.T) {
		out := FormatExtraActions([]llmtypes.ToolSchema{
			{Name: "ping", Description: "测试连通"},
		})
		assert.Contains(t, out, "- ping — 测试连通。参数: 无参数")
	})

	t.Run("only reason param", func(t *testing.T) {
		out := FormatExtraActions([]llmtypes.ToolSchema{
			{Name: "noop", Description: "什么都不做", Params: []llmtypes.Param{
				{Name: "reason", Type: "string", Description: "内部参数"},
			}},
		})
		assert.Contains(t, out, "- noop — 什么都不做。参数: 无参数")
	})
}

func TestBuildUserPayload(t *testing.T) {
	b := testBuilder()

	t.Run("text only", func(t *testing.T) {
		payload := b.BuildUserPayload("张三: 在吗", nil)
		assert.Equal(t, llmtypes.RoleUser, payload.Role)
		require.Len(t, payload.Parts, 1)
		assert.Equal(t, "[新消息]\n张三: 在吗", payload.Parts[0].Text)
	})

	t.Run("with media", func(t *testing.T) {
		items := []multimodal.Item{
			{MediaType: chat.MediaEmoji, Base64Data: "emoji-data"},
		}
		payload := b.BuildUserPayload("张三: [图片]", items)
		require.Len(t, payload.Parts, 3)
		assert.Equal(t, "[新消息]\n张三: [图片]", payload.Parts[0].Text)
		assert.Equal(t, "[表情包]", payload.Parts[1].Text)
		assert.Equal(t, llmtypes.PartImage, payload.Parts[2].Type)
	})
}

func TestBuildTimeoutPayload(t *testing.T) {
	b := testBuilder()

	t.Run("first timeout", func(t *testing.T) {
		out, err := b.BuildTimeoutPayload(TimeoutContext{
			ElapsedSeconds:      120,
			ExpectedReaction:    "对方会答应",
			ConsecutiveTimeouts: 1,
			LastBotMessage:      "周末一起去爬山吗",
		})
		require.NoError(t, err)
		assert.Contains(t, out, "# 等待超时通知")
		assert.Contains(t, out, "已经等了 120 秒（约 2.0 分钟）")
		assert.Contains(t, out, "你发出的最后一条消息：周末一起去爬山吗")
		assert.Contains(t, out, "你当时期望的回应：对方会答应")
		assert.Contains(t, out, "💭 这是第一次等待超时")
		assert.NotContains(t, out, "你等待期间的想法")
	})

	t.Run("second timeout", func(t *testing.T) {
		out, err := b.BuildTimeoutPayload(TimeoutContext{
			ElapsedSeconds:      60,
			ConsecutiveTimeouts: 2,
		})
		require.NoError(t, err)
		assert.Contains(t, out, "📝 温馨提醒：这是你第 2 次等待回复（已追问 1 次）")
		assert.Contains(t, out, "你当时期望的回应：对方能回复点什么")
		assert.Contains(t, out, "你发出的最后一条消息：（消息内容不可用）")
	})

	t.Run("third timeout strongly advises stopping", func(t *testing.T) {
		out, err := b.BuildTimeoutPayload(TimeoutContext{
			ElapsedSeconds:      60,
			ConsecutiveTimeouts: 3,
		})
		require.NoError(t, err)
		assert.Contains(t, out, "⚠️ **强烈建议**: 你已经连续追问了 2 次，对方仍未回复。")
		assert.Contains(t, out, "**极度推荐选择 do_nothing 并将 max_wait_seconds 设为 0**")
	})

	t.Run("pending thoughts keep newest three", func(t *testing.T) {
		out, err := b.BuildTimeoutPayload(TimeoutContext{
			ElapsedSeconds:      60,
			ConsecutiveTimeouts: 1,
			PendingThoughts:     []string{"想法一", "想法二", "想法三", "想法四"},
		})
		require.NoError(t, err)
		assert.Contains(t, out, "你等待期间的想法：")
		assert.NotContains(t, out, "想法一")
		assert.Contains(t, out, "  - 想法二")
		assert.Contains(t, out, "  - 想法三")
		assert.Contains(t, out, "  - 想法四")
	})
}

func TestBuildProactiveContext(t *testing.T) {
	b := testBuilder()

	t.Run("minutes", func(t *testing.T) {
		out, err := b.BuildProactiveContext(45, "[14:00] 张三 说：回头聊")
		require.NoError(t, err)
		assert.Contains(t, out, "# 主动发起对话")
		assert.Contains(t, out, "（约 45 分钟）")
		assert.Contains(t, out, "[14:00] 张三 说：回头聊")
	})

	t.Run("hours", func(t *testing.T) {
		out, err := b.BuildProactiveContext(185, "")
		require.NoError(t, err)
		assert.Contains(t, out, "（约 3.1 小时）")
		assert.Contains(t, out, "（无近期活动记录）")
	})
}

func TestBuildContinuousThinkingContext(t *testing.T) {
	b := testBuilder()

	out, err := b.BuildContinuousThinkingContext(64, 0.64, "", "")
	require.NoError(t, err)
	assert.Contains(t, out, "已经过了 64 秒（进度 64%）")
	assert.Contains(t, out, "你之前期望的回应：无特定期望")
	assert.Contains(t, out, "你发出的最后一条消息：（消息内容不可用）")
}

func TestBuildFusedNarrative(t *testing.T) {
	b := testBuilder()

	t.Run("empty", func(t *testing.T) {
		assert.Empty(t, b.BuildFusedNarrative(nil, mentallog.NewLog(10), "bot-1"))
	})

	t.Run("weaves thoughts into history", func(t *testing.T) {
		base := float64(time.Date(2025, 6, 1, 14, 0, 0, 0, time.Local).Unix())
		history := []chat.Message{
			{SenderID: "u1", SenderName: "张三", PlainText: "在吗", Time: base},
			{SenderID: "bot-1", SenderName: "小花", PlainText: "在的在的", Time: base + 10},
			{SenderID: "u1", SenderName: "张三", PlainText: "", Time: base + 20},
		}

		log := mentallog.NewLog(10)
		log.Add(mentallog.Entry{
			Kind:      mentallog.KindBotPlanning,
			Timestamp: base + 5,
			Thought:   "他来找我了，有点开心",
		})

		out := b.BuildFusedNarrative(history, log, "bot-1")
		require.NotEmpty(t, out)

		lines := strings.Split(out, "\n")
		require.Len(t, lines, 4)
		assert.Equal(t, narrativeHeader, lines[0])
		assert.Equal(t, "["+formatClock(base)+"] 张三说：在吗", lines[1])
		assert.Equal(t, "["+formatClock(base+5)+"] （你的内心：他来找我了，有点开心）", lines[2])
		assert.Equal(t, "["+formatClock(base+10)+"] 你回复：在的在的", lines[3])
	})

	t.Run("old thoughts fall behind the cutoff", func(t *testing.T) {
		base := float64(time.Date(2025, 6, 1, 14, 0, 0, 0, time.Local).Unix())
		var history []chat.Message
		for i := 0; i < 8; i++ {
			history = append(history, chat.Message{
				SenderID:   "u1",
				SenderName: "张三",
				PlainText:  "消息",
				Time:       base + float64(i*10),
			})
		}
		// cutoff is the 7th-newest message at base+10
		log := mentallog.NewLog(10)
		log.Add(mentallog.Entry{Kind: mentallog.KindBotPlanning, Timestamp: base + 5, Thought: "太早的想法"})
		log.Add(mentallog.Entry{Kind: mentallog.KindBotPlanning, Timestamp: base + 15, Thought: "还算新的想法"})

		out := b.BuildFusedNarrative(history, log, "bot-1")
		assert.NotContains(t, out, "太早的想法")
		assert.Contains(t, out, "还算新的想法")
	})

	t.Run("only planning entries with thoughts appear", func(t *testing.T) {
		base := float64(time.Date(2025, 6, 1, 14, 0, 0, 0, time.Local).Unix())
		history := []chat.Message{
			{SenderID: "u1", SenderName: "张三", PlainText: "早", Time: base},
		}

		log := mentallog.NewLog(10)
		log.Add(mentallog.Entry{Kind: mentallog.KindBotPlanning, Timestamp: base + 1, Thought: ""})
		log.Add(mentallog.Entry{Kind: mentallog.KindUserMessage, Timestamp: base + 2, Content: "早"})

		out := b.BuildFusedNarrative(history, log, "bot-1")
		assert.NotContains(t, out, "你的内心")
	})
}
