package mentallog

import (
	"fmt"
	"strings"
)

const clockLayout = "15:04"

// FormatNarrative renders the whole stream as first-person narrative
// lines for prompt injection.
func (l *Log) FormatNarrative() string {
	if len(l.entries) == 0 {
		return "（暂无活动记录）"
	}

	var lines []string
	for _, e := range l.entries {
		if line := narrativeLine(e); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

// FormatSummary renders the newest maxEntries entries as one-line
// summaries, used inside the system prompt.
func (l *Log) FormatSummary(maxEntries int) string {
	recent := l.Recent(maxEntries)
	if len(recent) == 0 {
		return ""
	}

	lines := make([]string, 0, len(recent))
	for _, e := range recent {
		lines = append(lines, fmt.Sprintf("[%s] %s", e.TimeString(clockLayout), summaryLine(e)))
	}
	return strings.Join(lines, "\n")
}

func narrativeLine(e Entry) string {
	ts := e.TimeString(clockLayout)

	switch e.Kind {
	case KindUserMessage:
		name := e.UserName
		if name == "" {
			name = "用户"
		}
		return fmt.Sprintf("[%s] %s 说：%s", ts, name, e.Content)

	case KindBotPlanning:
		parts := []string{fmt.Sprintf("[%s] 你的内心想法：%s", ts, e.Thought)}
		if len(e.Actions) > 0 {
			names := make([]string, 0, len(e.Actions))
			for _, a := range e.Actions {
				name := a.Type()
				if name == "" {
					name = "unknown"
				}
				names = append(names, name)
			}
			parts = append(parts, fmt.Sprintf("  执行动作：%s", strings.Join(names, ", ")))
		}
		if e.ExpectedReaction != "" {
			parts = append(parts, fmt.Sprintf("  期望对方回应：%s", e.ExpectedReaction))
		}
		return strings.Join(parts, "\n")

	case KindWaitingUpdate:
		return fmt.Sprintf("[%s] (等待中的内心活动) %s", ts, e.WaitingThought)

	case KindWaitTimeout:
		return fmt.Sprintf("[%s] 等待超时，已等待 %.0f 秒", ts, e.ElapsedSeconds)

	case KindReplyInTime:
		return fmt.Sprintf("[%s] 在预期时间内收到了对方回复", ts)

	case KindReplyLate:
		return fmt.Sprintf("[%s] 对方回复较晚（已等待 %.0f 秒）", ts, e.ElapsedSeconds)

	case KindProactiveTrigger:
		return fmt.Sprintf("[%s] (主动发起) %s", ts, e.Content)

	case KindWaitingStart:
		return fmt.Sprintf("[%s] 开始等待对方回复（最多 %.0f 秒）", ts, e.MaxWaitSeconds)
	}

	return fmt.Sprintf("[%s] %s", ts, e.Content)
}

func summaryLine(e Entry) string {
	switch e.Kind {
	case KindUserMessage:
		name := e.UserName
		if name == "" {
			name = "用户"
		}
		return fmt.Sprintf("%s: %s", name, truncateRunes(e.Content, 60))

	case KindBotPlanning:
		if e.Thought == "" {
			return "(无想法)"
		}
		return truncateRunes(e.Thought, 60)

	case KindWaitingUpdate:
		if e.WaitingThought == "" {
			return "(思考中)"
		}
		return truncateRunes(e.WaitingThought, 60)

	case KindWaitTimeout:
		return fmt.Sprintf("等待超时 (%.0fs)", e.ElapsedSeconds)

	case KindReplyInTime:
		return "及时收到回复"

	case KindReplyLate:
		return fmt.Sprintf("延迟回复 (%.0fs)", e.ElapsedSeconds)

	case KindProactiveTrigger:
		if e.Content == "" {
			return "主动发起"
		}
		return truncateRunes(e.Content, 60)
	}

	if e.Content == "" {
		return string(e.Kind)
	}
	return truncateRunes(e.Content, 60)
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
