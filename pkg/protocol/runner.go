// Package protocol runs one decision turn against the model: the
// perceive-then-decide send loop, tool-call dispatch with typing delays
// and reply sanitation, and the structured Result handed back to the
// dialogue loop.
package protocol

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/pkg/errors"

	"github.com/kokoroflow/kokoroflow/pkg/chat"
	"github.com/kokoroflow/kokoroflow/pkg/config"
	"github.com/kokoroflow/kokoroflow/pkg/host"
	"github.com/kokoroflow/kokoroflow/pkg/llm"
	"github.com/kokoroflow/kokoroflow/pkg/logger"
	"github.com/kokoroflow/kokoroflow/pkg/tools"
	llmtypes "github.com/kokoroflow/kokoroflow/pkg/types/llm"
)

// perceiveFollowupPrompt nudges the model from free-form observation
// into the decision stage after it answered with plain prose.
const perceiveFollowupPrompt = "现在请基于你刚才的观察做出决策：按照要求的 JSON 格式输出 thought 和 actions，不要输出任何其他内容。"

// Runner executes decision turns. The sleep hook is injectable so tests
// can observe typing delays without waiting them out.
type Runner struct {
	cfg      *config.Config
	sender   host.Sender
	registry tools.Registry
	watchdog host.Watchdog
	sleep    func(ctx context.Context, d time.Duration)
}

// NewRunner builds a runner. The registry may be nil when no third-party
// tools are configured.
func NewRunner(cfg *config.Config, sender host.Sender, registry tools.Registry, watchdog host.Watchdog) *Runner {
	return &Runner{
		cfg:      cfg,
		sender:   sender,
		registry: registry,
		watchdog: watchdog,
		sleep:    sleepFor,
	}
}

// Run executes one decision turn: send the chain, tolerate the model's
// perceive phase, then dispatch the resulting calls in order.
func (r *Runner) Run(ctx context.Context, streamID string, chain *llmtypes.Chain, model llmtypes.ChatModel, trigger *chat.Message, schemas []llmtypes.ToolSchema) (*Result, error) {
	resp, decision, err := r.sendWithPerceiveLoop(ctx, streamID, chain, model, schemas)
	if err != nil {
		return nil, err
	}

	result := r.dispatch(ctx, streamID, chain, resp, trigger, decision)
	r.logResult(ctx, result)
	return result, nil
}

// sendWithPerceiveLoop sends the chain, tolerating the "perceive" phase
// some models go through after seeing images: plain prose instead of a
// decision. The prose stays in the chain as the model's own observation
// and a short nudge asks it to decide; after max_compat_retries extra
// sends the last response is returned as-is. A non-nil decision means
// the calls were synthesized from prose rather than returned natively.
func (r *Runner) sendWithPerceiveLoop(ctx context.Context, streamID string, chain *llmtypes.Chain, model llmtypes.ChatModel, schemas []llmtypes.ToolSchema) (*llmtypes.Response, *llm.Decision, error) {
	maxRetries := r.cfg.General.MaxCompatRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	opts := llmtypes.SendOptions{Tools: schemas}

	for attempt := 0; ; attempt++ {
		r.feed(ctx, streamID)
		resp, err := model.Send(ctx, chain, opts)
		r.feed(ctx, streamID)
		if err != nil {
			return nil, nil, errors.Wrap(err, "model request failed")
		}

		// the model's own output becomes part of its context
		var parts []llmtypes.Part
		if resp.Message != "" {
			parts = append(parts, llmtypes.Text(resp.Message))
		}
		if len(parts) > 0 || len(resp.Calls) > 0 {
			chain.Add(llmtypes.Payload{Role: llmtypes.RoleAssistant, Parts: parts, Calls: resp.Calls})
		}

		if len(resp.Calls) > 0 {
			return resp, nil, nil
		}

		if decision, ok := llm.ParseDecision(resp.Message); ok && decision.Actionable() {
			resp.Calls = llm.DecisionToCalls(decision)
			return resp, decision, nil
		}

		if attempt >= maxRetries {
			return resp, nil, nil
		}

		prose := strings.TrimSpace(resp.Message)
		logger.G(ctx).Infof("模型感知阶段输出纯文本，进入决策阶段 (第 %d 轮): %s", attempt+1, truncateRunes(prose, 80))
		chain.Add(llmtypes.NewPayload(llmtypes.RoleUser, llmtypes.Text(perceiveFollowupPrompt)))
	}
}

// dispatch walks the calls in order: control calls update the result and
// send replies, anything else goes to the registry. Tool results are
// appended to the chain only for native calls; synthetic calls parsed
// out of prose have no provider-side counterpart to answer. A prose
// decision seeds the result metadata up front, so third-party-only
// decisions keep their thought and wait window.
func (r *Runner) dispatch(ctx context.Context, streamID string, chain *llmtypes.Chain, resp *llmtypes.Response, trigger *chat.Message, decision *llm.Decision) *Result {
	result := &Result{}
	native := decision == nil
	if decision != nil {
		result.applyDecision(decision)
	}

	if len(resp.Calls) == 0 {
		prose := strings.TrimSpace(resp.Message)
		if prose != "" {
			logger.G(ctx).Warnf("JSON 解析失败，丢弃响应（不发送消息）: %s", truncateRunes(prose, 120))
			result.Thought = "响应格式异常，选择不回复"
			result.Actions = append(result.Actions, map[string]any{"type": ActionDoNothing})
			result.HasDoNothing = true
		}
		return result
	}

	firstReply := true
	for _, call := range resp.Calls {
		name := NormalizeCallName(call.Name)

		action := make(map[string]any, len(call.Args)+1)
		for k, v := range call.Args {
			action[k] = v
		}
		action["type"] = name
		result.Actions = append(result.Actions, action)

		switch name {
		case ActionReply:
			result.HasReply = true
			result.extractMetadata(call.Args)
			r.sendReply(ctx, streamID, call, action, trigger, &firstReply)
			if native {
				chain.Add(llmtypes.NewPayload(llmtypes.RoleTool, llmtypes.ToolResult(call.ID, call.Name, "已发送")))
			}

		case ActionDoNothing:
			result.HasDoNothing = true
			result.extractMetadata(call.Args)
			if native {
				chain.Add(llmtypes.NewPayload(llmtypes.RoleTool, llmtypes.ToolResult(call.ID, call.Name, "已选择不回复")))
			}

		case ActionStop:
			// legacy stop never reaches the registry: it ends the topic
			// like do_nothing with a zero wait window
			result.HasDoNothing = true
			result.extractMetadata(call.Args)
			result.MaxWaitSeconds = 0
			if native {
				chain.Add(llmtypes.NewPayload(llmtypes.RoleTool, llmtypes.ToolResult(call.ID, call.Name, "已选择结束话题")))
			}

		default:
			result.HasThirdParty = true
			value := r.dispatchThirdParty(ctx, call, trigger)
			if native {
				chain.Add(llmtypes.NewPayload(llmtypes.RoleTool, llmtypes.ToolResult(call.ID, call.Name, value)))
			}
		}
	}
	return result
}

// sendReply sanitizes and sends one reply segment, simulating typing
// time before every segment after the first.
func (r *Runner) sendReply(ctx context.Context, streamID string, call llmtypes.ToolCall, action map[string]any, trigger *chat.Message, firstReply *bool) {
	log := logger.G(ctx)

	content := strings.TrimSpace(call.StringArg("content"))
	if content == "" {
		log.Debug("回复内容为空，跳过发送")
		return
	}

	cleaned, hits := SanitizeReplyContent(content)
	if hits >= 2 {
		log.Warnf("检测到回复内容混入 %d 个元数据关键字，已截断。原始长度=%d，截断后=%d",
			hits, utf8.RuneCountInString(content), utf8.RuneCountInString(cleaned))
	}
	action["content"] = cleaned
	if cleaned == "" {
		log.Warn("清洗后内容为空，未发送")
		return
	}

	if !*firstReply {
		if delay := r.typingDelay(cleaned); delay > 0 {
			log.WithField("delay", delay.Seconds()).Debug("模拟打字延迟")
			r.sleep(ctx, delay)
		}
	}
	*firstReply = false

	if err := r.sender.SendReply(ctx, streamID, trigger, cleaned); err != nil {
		log.WithError(err).Error("消息发送失败")
	}
}

// dispatchThirdParty runs one registry call and renders its outcome as
// tool-result text. Failures are reported back to the model rather than
// aborting the turn.
func (r *Runner) dispatchThirdParty(ctx context.Context, call llmtypes.ToolCall, trigger *chat.Message) string {
	log := logger.G(ctx).WithField("tool", call.Name)
	if r.registry == nil {
		log.Warn("未注册第三方工具，跳过调用")
		return "工具不可用"
	}

	value, err := r.registry.Dispatch(ctx, call, trigger)
	if err != nil {
		log.WithError(err).Error("第三方工具执行失败")
		return fmt.Sprintf("执行失败: %v", err)
	}
	return value
}

// typingDelay converts reply length into simulated typing time, clamped
// to the configured window.
func (r *Runner) typingDelay(content string) time.Duration {
	cps := r.cfg.Reply.TypingCharsPerSec
	if cps <= 0 {
		return 0
	}
	base := float64(utf8.RuneCountInString(content)) / cps
	clamped := math.Max(r.cfg.Reply.TypingDelayMin, math.Min(base, r.cfg.Reply.TypingDelayMax))
	return time.Duration(clamped * float64(time.Second))
}

func (r *Runner) feed(ctx context.Context, streamID string) {
	if r.watchdog != nil {
		r.watchdog.Feed(ctx, streamID)
	}
}

func (r *Runner) logResult(ctx context.Context, result *Result) {
	if !r.cfg.Debug.ShowResponse {
		return
	}
	log := logger.G(ctx)

	if result.Thought != "" {
		log.Infof("💭 %s", result.Thought)
	}
	for _, action := range result.Actions {
		switch asString(action["type"]) {
		case ActionReply, "respond":
			if content := asString(action["content"]); content != "" {
				log.Infof("💬 %s", content)
			}
		case ActionDoNothing:
			log.Info("⏳ 选择不回复")
		case "no_action":
		default:
			log.Infof("🎯 %s", asString(action["type"]))
		}
	}

	var meta []string
	if result.MaxWaitSeconds > 0 {
		meta = append(meta, fmt.Sprintf("⏱ %.0fs", result.MaxWaitSeconds))
	}
	if result.ExpectedReaction != "" {
		meta = append(meta, "预期: "+result.ExpectedReaction)
	}
	if result.Mood != "" {
		meta = append(meta, "心情: "+result.Mood)
	}
	if len(meta) > 0 {
		log.Info(strings.Join(meta, " | "))
	}
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}

func sleepFor(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
