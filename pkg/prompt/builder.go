package prompt

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kokoroflow/kokoroflow/pkg/chat"
	"github.com/kokoroflow/kokoroflow/pkg/mentallog"
	"github.com/kokoroflow/kokoroflow/pkg/multimodal"
	llmtypes "github.com/kokoroflow/kokoroflow/pkg/types/llm"
)

const mentalLogHint = "你的活动流会以线性叙事的形式呈现在消息中，帮助你回顾之前的互动和内心活动。"

const narrativeHeader = "以下是最近的对话记录（含你的内心活动）："

// backgroundMinRunes is the shortest background story worth a section
// of its own; anything shorter is dropped from the system prompt.
const backgroundMinRunes = 10

// Builder renders prompts for one persona.
type Builder struct {
	renderer *Renderer
	persona  chat.Persona
	now      func() time.Time
}

// NewBuilder creates a builder over the embedded templates.
func NewBuilder(persona chat.Persona) *Builder {
	return &Builder{
		renderer: defaultRenderer,
		persona:  persona,
		now:      time.Now,
	}
}

type systemContext struct {
	Nickname         string
	AliasNames       string
	PersonalityCore  string
	PersonalitySide  string
	Identity         string
	BackgroundStory  string
	ReplyStyle       string
	SafetyGuidelines string
	ThemeGuide       string
	ExtraActionTypes string
	MentalLogHint    string
	CurrentTime      string
	Platform         string
	ChatType         string
	BotID            string
}

// BuildSystemPrompt fills the persona template for one stream. Tool
// schemas, when present, become the extra-action-types block so the
// model can invoke them through JSON actions.
func (b *Builder) BuildSystemPrompt(info chat.StreamInfo, schemas []llmtypes.ToolSchema) (string, error) {
	platform := info.Platform
	if platform == "" {
		platform = "unknown"
	}
	chatType := string(info.ChatType)
	if chatType == "" {
		chatType = "unknown"
	}

	ctx := systemContext{
		Nickname:         b.persona.Nickname,
		AliasNames:       b.persona.Aliases(),
		PersonalityCore:  b.persona.PersonalityCore,
		PersonalitySide:  b.persona.PersonalitySide,
		Identity:         b.persona.Identity,
		BackgroundStory:  wrapBackgroundStory(b.persona.BackgroundStory),
		ReplyStyle:       b.persona.ReplyStyle,
		SafetyGuidelines: strings.Join(b.persona.SafetyGuidelines, "\n"),
		ThemeGuide:       themeGuide(info.ChatType),
		ExtraActionTypes: FormatExtraActions(schemas),
		MentalLogHint:    mentalLogHint,
		CurrentTime:      b.now().Format("2006-01-02 15:04:05"),
		Platform:         platform,
		ChatType:         chatType,
		BotID:            info.BotID,
	}
	return b.renderer.RenderPrompt(SystemTemplate, ctx)
}

// BuildUserPayload wraps formatted unread text into a user payload,
// packing extracted media alongside when present.
func (b *Builder) BuildUserPayload(formatted string, items []multimodal.Item) llmtypes.Payload {
	body := "[新消息]\n" + formatted
	if len(items) == 0 {
		return llmtypes.NewPayload(llmtypes.RoleUser, llmtypes.Text(body))
	}
	return llmtypes.Payload{
		Role:  llmtypes.RoleUser,
		Parts: multimodal.BuildParts(body, items),
	}
}

// TimeoutContext carries what the wait-timeout payload renders.
type TimeoutContext struct {
	ElapsedSeconds      float64
	ExpectedReaction    string
	ConsecutiveTimeouts int
	LastBotMessage      string
	PendingThoughts     []string
}

type timeoutTemplateContext struct {
	ElapsedSeconds       string
	ElapsedMinutes       string
	LastBotMessage       string
	ExpectedReaction     string
	FollowupWarning      string
	PendingThoughtsBlock string
}

// BuildTimeoutPayload renders the decision payload handed to the model
// after a wait window expires. The follow-up warning escalates with
// the number of follow-ups already sent.
func (b *Builder) BuildTimeoutPayload(ctx TimeoutContext) (string, error) {
	expectedReaction := ctx.ExpectedReaction
	if expectedReaction == "" {
		expectedReaction = "对方能回复点什么"
	}
	lastBotMessage := ctx.LastBotMessage
	if lastBotMessage == "" {
		lastBotMessage = "（消息内容不可用）"
	}

	followupCount := ctx.ConsecutiveTimeouts - 1
	if followupCount < 0 {
		followupCount = 0
	}

	var warning string
	switch {
	case followupCount >= 2:
		warning = fmt.Sprintf(
			"\n⚠️ **强烈建议**: 你已经连续追问了 %d 次，对方仍未回复。"+
				"**极度推荐选择 do_nothing 并将 max_wait_seconds 设为 0**。"+
				"对方可能在忙或需要空间，给彼此一些空间会更好。",
			followupCount)
	case followupCount == 1:
		warning = "\n📝 温馨提醒：这是你第 2 次等待回复（已追问 1 次）。" +
			"可以再试着追问一次，但如果对方还是没回复，" +
			"**强烈建议**之后选择 do_nothing 结束等待。"
	default:
		warning = "\n💭 这是第一次等待超时。如果觉得话题还没结束，" +
			"可以适当追问一下，但也要考虑对方可能在忙。"
	}

	var pendingBlock string
	if len(ctx.PendingThoughts) > 0 {
		thoughts := ctx.PendingThoughts
		if len(thoughts) > 3 {
			thoughts = thoughts[len(thoughts)-3:]
		}
		var sb strings.Builder
		sb.WriteString("\n你等待期间的想法：")
		for _, thought := range thoughts {
			sb.WriteString("\n  - ")
			sb.WriteString(thought)
		}
		pendingBlock = sb.String()
	}

	return b.renderer.RenderPrompt(TimeoutTemplate, timeoutTemplateContext{
		ElapsedSeconds:       fmt.Sprintf("%.0f", ctx.ElapsedSeconds),
		ElapsedMinutes:       fmt.Sprintf("%.1f", ctx.ElapsedSeconds/60),
		LastBotMessage:       lastBotMessage,
		ExpectedReaction:     expectedReaction,
		FollowupWarning:      warning,
		PendingThoughtsBlock: pendingBlock,
	})
}

type proactiveTemplateContext struct {
	SilenceDuration string
	RecentActivity  string
}

// BuildProactiveContext renders the payload nudging the model to open
// a conversation after a long silence.
func (b *Builder) BuildProactiveContext(silenceMinutes float64, recentActivity string) (string, error) {
	var silence string
	if silenceMinutes >= 60 {
		silence = fmt.Sprintf("%.1f 小时", silenceMinutes/60)
	} else {
		silence = fmt.Sprintf("%.0f 分钟", silenceMinutes)
	}
	if recentActivity == "" {
		recentActivity = "（无近期活动记录）"
	}
	return b.renderer.RenderPrompt(ProactiveTemplate, proactiveTemplateContext{
		SilenceDuration: silence,
		RecentActivity:  recentActivity,
	})
}

type continuousThinkingTemplateContext struct {
	ElapsedSeconds   string
	Progress         string
	LastBotMessage   string
	ExpectedReaction string
}

// BuildContinuousThinkingContext renders the short prompt asking the
// model how the wait feels right now.
func (b *Builder) BuildContinuousThinkingContext(elapsedSeconds, progress float64, expectedReaction, lastBotMessage string) (string, error) {
	if expectedReaction == "" {
		expectedReaction = "无特定期望"
	}
	if lastBotMessage == "" {
		lastBotMessage = "（消息内容不可用）"
	}
	return b.renderer.RenderPrompt(ContinuousThinkingTemplate, continuousThinkingTemplateContext{
		ElapsedSeconds:   fmt.Sprintf("%.0f", elapsedSeconds),
		Progress:         fmt.Sprintf("%.0f%%", progress*100),
		LastBotMessage:   lastBotMessage,
		ExpectedReaction: expectedReaction,
	})
}

// BuildFusedNarrative weaves chat history and the mental log into one
// chronological narrative. Inner thoughts older than the 7th-newest
// history message are dropped so the monologue tracks only the visible
// tail of the conversation. Returns "" when there is nothing to tell.
func (b *Builder) BuildFusedNarrative(history []chat.Message, log *mentallog.Log, botID string) string {
	type event struct {
		ts   float64
		line string
	}
	var timeline []event

	var historyTimestamps []float64
	for _, msg := range history {
		text := strings.TrimSpace(msg.Text())
		if msg.Time <= 0 || text == "" {
			continue
		}
		historyTimestamps = append(historyTimestamps, msg.Time)
		var line string
		if msg.SenderID == botID {
			line = fmt.Sprintf("[%s] 你回复：%s", formatClock(msg.Time), text)
		} else {
			line = fmt.Sprintf("[%s] %s说：%s", formatClock(msg.Time), msg.SenderName, text)
		}
		timeline = append(timeline, event{ts: msg.Time, line: line})
	}

	var cutoff float64
	if len(historyTimestamps) >= 7 {
		cutoff = historyTimestamps[len(historyTimestamps)-7]
	}

	if log != nil {
		for _, entry := range log.Entries() {
			if entry.Kind != mentallog.KindBotPlanning || entry.Thought == "" {
				continue
			}
			if entry.Timestamp < cutoff {
				continue
			}
			line := fmt.Sprintf("[%s] （你的内心：%s）", formatClock(entry.Timestamp), entry.Thought)
			timeline = append(timeline, event{ts: entry.Timestamp, line: line})
		}
	}

	if len(timeline) == 0 {
		return ""
	}

	sort.SliceStable(timeline, func(i, j int) bool {
		return timeline[i].ts < timeline[j].ts
	})

	lines := make([]string, 0, len(timeline)+1)
	lines = append(lines, narrativeHeader)
	for _, ev := range timeline {
		lines = append(lines, ev.line)
	}
	return strings.Join(lines, "\n")
}

// FormatExtraActions renders third-party tool schemas into the
// extra-action-types block of the system prompt. The reason parameter
// is a framework meta-parameter and stays hidden from the model.
func FormatExtraActions(schemas []llmtypes.ToolSchema) string {
	if len(schemas) == 0 {
		return ""
	}

	lines := []string{
		"",
		"以下是你可以使用的额外能力（直接在 actions 中使用即可）：",
	}
	for _, schema := range schemas {
		var params []string
		for _, p := range schema.Params {
			if p.Name == "reason" {
				continue
			}
			ptype := p.Type
			if ptype == "" {
				ptype = "string"
			}
			suffix := ""
			if !p.Required {
				suffix = "，可选"
			}
			params = append(params, fmt.Sprintf("%s(%s%s): %s", p.Name, ptype, suffix, p.Description))
		}
		paramText := "无参数"
		if len(params) > 0 {
			paramText = strings.Join(params, "；")
		}
		lines = append(lines, fmt.Sprintf("- %s — %s。参数: %s", schema.Name, schema.Description, paramText))
	}
	return strings.Join(lines, "\n")
}

func themeGuide(chatType chat.ChatType) string {
	switch strings.ToLower(string(chatType)) {
	case "private":
		return "你当前处于私聊环境。你可以更亲近地和对方交流，" +
			"关注对方情绪并提供更直接、细腻的回应。"
	case "group":
		return "你当前处于群聊环境。注意多人对话的上下文，" +
			"确认对方确实在和你说话后再做出回应。" +
			"群聊中不要总是抢话，保持自然。"
	}
	return ""
}

func wrapBackgroundStory(story string) string {
	story = strings.TrimSpace(story)
	if utf8.RuneCountInString(story) < backgroundMinRunes {
		return ""
	}
	return "# 背景故事\n" + story +
		"\n- （以上为背景知识，请理解并作为行动依据，但不要在对话中直接复述。）"
}

func formatClock(ts float64) string {
	sec := int64(ts)
	nsec := int64((ts - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec).Format("15:04:05")
}
