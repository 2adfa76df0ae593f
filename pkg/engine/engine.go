// Package engine implements the per-stream dialogue state machine. Each
// stream runs as an episode holding the payload chain, the model, and
// the image budget; ticks drive decision turns through the protocol
// runner and arbitrate between fresh messages, wait timeouts, and
// stopping.
package engine

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/kokoroflow/kokoroflow/pkg/chat"
	"github.com/kokoroflow/kokoroflow/pkg/config"
	"github.com/kokoroflow/kokoroflow/pkg/host"
	"github.com/kokoroflow/kokoroflow/pkg/logger"
	"github.com/kokoroflow/kokoroflow/pkg/mentallog"
	"github.com/kokoroflow/kokoroflow/pkg/multimodal"
	"github.com/kokoroflow/kokoroflow/pkg/prompt"
	"github.com/kokoroflow/kokoroflow/pkg/protocol"
	"github.com/kokoroflow/kokoroflow/pkg/session"
	"github.com/kokoroflow/kokoroflow/pkg/tools"
	llmtypes "github.com/kokoroflow/kokoroflow/pkg/types/llm"
)

// historyWindow bounds how much processed history feeds the fused
// narrative and its media extraction.
const historyWindow = 20

const proactiveTriggerText = "[主动发起] 你已经沉默很久了，主动找对方聊聊吧。"

// Deps are the host capabilities and subsystems the engine drives.
// Registry may be nil when no third-party tools are configured.
type Deps struct {
	Streams  host.Streams
	Sender   host.Sender
	Models   llmtypes.ModelResolver
	Sessions *session.Store
	Registry tools.Registry
	Watchdog host.Watchdog
	Media    host.MediaManager
}

// Engine runs the dialogue loop for every stream, one tick at a time.
// All session access inside a tick happens under the stream's store
// lock, so scheduler callbacks never interleave with a running turn.
type Engine struct {
	cfg      *config.Config
	deps     Deps
	runner   *protocol.Runner
	timeouts *TimeoutHandler

	mu       sync.Mutex
	episodes map[string]*episode
}

// episode is the per-stream conversation context surviving across Wait
// ticks: the payload chain accumulates every turn of the conversation,
// and the image budget is shared between history and fresh messages.
type episode struct {
	stream  host.Stream
	builder *prompt.Builder
	chain   *llmtypes.Chain
	model   llmtypes.ChatModel
	budget  *multimodal.Budget
	schemas []llmtypes.ToolSchema
	vlmSkip bool
}

// New wires an engine over its dependencies.
func New(cfg *config.Config, deps Deps) *Engine {
	return &Engine{
		cfg:      cfg,
		deps:     deps,
		runner:   protocol.NewRunner(cfg, deps.Sender, deps.Registry, deps.Watchdog),
		timeouts: NewTimeoutHandler(cfg),
		episodes: make(map[string]*episode),
	}
}

// Tick advances the stream's conversation by one loop iteration. The
// returned signal tells the host whether to re-tick, stop, or treat the
// turn as failed; on failure the episode is kept so the next tick
// retries with the same context.
func (e *Engine) Tick(ctx context.Context, streamID string) Signal {
	if !e.cfg.General.Enabled {
		logger.G(ctx).Debug("引擎已禁用，跳过本轮")
		return Stop()
	}

	var sig Signal
	e.deps.Sessions.WithLock(streamID, func() {
		ep, err := e.ensureEpisode(ctx, streamID)
		if err != nil {
			sig = Failure(failureReason(err), err)
			return
		}
		sig = e.tick(ctx, ep)
	})

	if sig.Kind == SignalStop {
		e.dropEpisode(ctx, streamID)
	}
	return sig
}

// reasonError tags an error with the human-readable failure reason the
// signal carries back to the host.
type reasonError struct {
	reason string
	err    error
}

func (e *reasonError) Error() string { return e.reason + ": " + e.err.Error() }
func (e *reasonError) Unwrap() error { return e.err }

func withReason(reason string, err error) error {
	return &reasonError{reason: reason, err: err}
}

func failureReason(err error) string {
	var re *reasonError
	if errors.As(err, &re) {
		return re.reason
	}
	return err.Error()
}

// ensureEpisode returns the live episode for the stream, building one on
// first entry: activate the stream, resolve the model, start a fresh
// chain with the system prompt and the fused narrative, and collect the
// tool schemas. Caller holds the stream lock.
func (e *Engine) ensureEpisode(ctx context.Context, streamID string) (*episode, error) {
	e.mu.Lock()
	ep, ok := e.episodes[streamID]
	e.mu.Unlock()
	if ok {
		return ep, nil
	}

	stream, err := e.deps.Streams.Activate(ctx, streamID)
	if err != nil {
		return nil, withReason("无法激活聊天流", err)
	}

	vlmSkip := false
	if e.cfg.General.NativeMultimodal && e.deps.Media != nil {
		if err := e.deps.Media.SkipVLM(ctx, streamID); err != nil {
			logger.G(ctx).WithError(err).Debug("注册 VLM 跳过失败（不影响功能）")
		} else {
			vlmSkip = true
		}
	}

	ep, err = e.newEpisode(ctx, stream, vlmSkip)
	if err != nil {
		if vlmSkip {
			e.unskipVLM(ctx, streamID)
		}
		return nil, err
	}

	e.mu.Lock()
	e.episodes[streamID] = ep
	e.mu.Unlock()
	return ep, nil
}

func (e *Engine) newEpisode(ctx context.Context, stream host.Stream, vlmSkip bool) (*episode, error) {
	model, err := e.deps.Models.ModelForTask(e.cfg.General.ModelTask)
	if err != nil {
		logger.G(ctx).WithError(err).Error("无法获取模型配置")
		return nil, withReason("模型配置错误：未找到 model_task 配置", err)
	}

	info := stream.Info()
	builder := prompt.NewBuilder(info.Persona)
	sess := e.deps.Sessions.GetOrCreate(ctx, stream.ID())
	sess.Platform = info.Platform

	var extraSchemas []llmtypes.ToolSchema
	if e.deps.Registry != nil {
		extraSchemas = e.deps.Registry.Schemas(ctx)
	}

	systemPrompt, err := builder.BuildSystemPrompt(info, extraSchemas)
	if err != nil {
		return nil, withReason("系统提示词构建失败", err)
	}

	chain := llmtypes.NewChain(e.cfg.Prompt.MaxContextPayloads)
	chain.Add(llmtypes.NewPayload(llmtypes.RoleSystem, llmtypes.Text(systemPrompt)))

	var budget *multimodal.Budget
	if e.cfg.General.NativeMultimodal {
		budget = multimodal.NewBudget(e.cfg.General.MaxImagesPerPayload)
	}

	history, err := stream.History(ctx, historyWindow)
	if err != nil {
		logger.G(ctx).WithError(err).Warn("读取历史消息失败，跳过叙事注入")
		history = nil
	}
	if narrative := builder.BuildFusedNarrative(history, sess.MentalLog, info.BotID); narrative != "" {
		payload := llmtypes.NewPayload(llmtypes.RoleUser, llmtypes.Text(narrative))
		if budget != nil && !budget.Exhausted() && len(history) > 0 {
			if items := multimodal.ExtractMedia(history, budget.Remaining()); len(items) > 0 {
				budget.Consume(len(items))
				payload = llmtypes.Payload{Role: llmtypes.RoleUser, Parts: multimodal.BuildParts(narrative, items)}
				logger.G(ctx).Debugf("历史多模态: 提取到 %d 张图片/表情包 (剩余配额 %d)", len(items), budget.Remaining())
			}
		}
		chain.Add(payload)
	}

	return &episode{
		stream:  stream,
		builder: builder,
		chain:   chain,
		model:   model,
		budget:  budget,
		schemas: append(protocol.BuiltinSchemas(), extraSchemas...),
		vlmSkip: vlmSkip,
	}, nil
}

// tick runs one loop body over a live episode. Caller holds the stream
// lock.
func (e *Engine) tick(ctx context.Context, ep *episode) Signal {
	log := logger.G(ctx).WithField("stream_id", ep.stream.ID())
	sess := e.deps.Sessions.GetOrCreate(ctx, ep.stream.ID())

	formatted, unreads, err := ep.stream.FetchUnreads(ctx)
	if err != nil {
		log.WithError(err).Error("读取未读消息失败")
		return Failure("读取未读消息失败", err)
	}

	var trigger *chat.Message
	switch {
	case formatted != "" && len(unreads) > 0:
		for i := range unreads {
			msg := unreads[i]
			sess.AddUserMessage(msg.PlainText, msg.SenderName, msg.SenderID, msg.Time)
			if msg.SenderID != "" {
				sess.UserID = msg.SenderID
			}
		}
		if sess.IsWaiting() {
			recordReplyTiming(sess)
			sess.ClearWaiting()
		}

		items := e.extractMedia(ctx, unreads, ep.budget)
		ep.chain.Add(ep.builder.BuildUserPayload(formatted, items))
		trigger = &unreads[len(unreads)-1]

	case sess.IsWaiting():
		if !e.timeouts.CheckTimeout(sess) {
			return Wait(0)
		}
		tctx := e.timeouts.HandleTimeout(ctx, sess)
		if e.timeouts.ShouldGiveUp(sess) {
			log.Info("连续超时次数过多，结束对话")
			e.deps.Sessions.Save(ctx, sess)
			return Stop()
		}
		payload, err := ep.builder.BuildTimeoutPayload(prompt.TimeoutContext{
			ElapsedSeconds:      tctx.ElapsedSeconds,
			ExpectedReaction:    tctx.ExpectedReaction,
			ConsecutiveTimeouts: tctx.ConsecutiveTimeouts,
			LastBotMessage:      tctx.LastBotMessage,
			PendingThoughts:     tctx.PendingThoughts,
		})
		if err != nil {
			log.WithError(err).Error("超时提示词构建失败")
			return Failure("超时提示词构建失败", err)
		}
		ep.chain.Add(llmtypes.NewPayload(llmtypes.RoleUser, llmtypes.Text(payload)))
		trigger = e.virtualTrigger(ctx, ep.stream)

	default:
		return Wait(0)
	}

	if e.cfg.Debug.ShowPrompt {
		log.Infof("提示词 (stream=%.8s):\n%s", ep.stream.ID(), FormatChainForLog(ep.chain, ep.schemas))
	}

	result, err := e.runner.Run(ctx, ep.stream.ID(), ep.chain, ep.model, trigger, ep.schemas)
	if err != nil {
		log.WithError(err).Error("LLM 请求失败")
		return Failure("LLM 请求失败", err)
	}

	if len(unreads) > 0 {
		if err := ep.stream.FlushUnreads(ctx, unreads); err != nil {
			log.WithError(err).Warn("未读消息确认失败，可能重复投递")
		}
	}

	sess.AddBotPlanning(result.Thought, toLogActions(result.Actions), result.ExpectedReaction, result.MaxWaitSeconds)

	if !result.HasMeaningfulAction() {
		e.deps.Sessions.Save(ctx, sess)
		return Stop()
	}
	if result.HasDoNothing && !result.HasReply {
		log.Debug("do_nothing，跳过本轮")
		e.deps.Sessions.Save(ctx, sess)
		return Stop()
	}

	waitSeconds := e.cfg.Wait.Apply(result.MaxWaitSeconds, sess.ConsecutiveTimeoutCount)
	if waitSeconds > 0 {
		sess.SetWaiting(session.WaitingConfig{
			ExpectedReaction: result.ExpectedReaction,
			MaxWaitSeconds:   waitSeconds,
			StartedAt:        mentallog.Now(),
			FollowupCount:    sess.ConsecutiveTimeoutCount,
		})
		sess.PendingThoughts = nil
		e.deps.Sessions.Save(ctx, sess)
		return Wait(0)
	}

	sess.ClearWaiting()
	e.deps.Sessions.Save(ctx, sess)
	return Stop()
}

// ProactiveEntry starts a self-initiated conversation: it records the
// trigger in the mental log, injects a synthesized system message into
// the stream's unread queue, and wakes the stream loop.
func (e *Engine) ProactiveEntry(ctx context.Context, streamID string) error {
	stream, ok := e.deps.Streams.Get(ctx, streamID)
	if !ok {
		return errors.Errorf("stream %s not active", streamID)
	}

	e.deps.Sessions.WithLock(streamID, func() {
		sess := e.deps.Sessions.GetOrCreate(ctx, streamID)
		sess.MentalLog.Add(mentallog.Entry{
			Kind:      mentallog.KindProactiveTrigger,
			Timestamp: mentallog.Now(),
			Content:   proactiveTriggerText,
		})
		e.deps.Sessions.Save(ctx, sess)
	})

	msg := chat.Message{
		MessageID:  "proactive_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12],
		SenderID:   "system",
		SenderName: "系统",
		PlainText:  proactiveTriggerText,
		Time:       mentallog.Now(),
	}
	if err := stream.InjectMessage(ctx, msg); err != nil {
		return errors.Wrap(err, "failed to inject proactive trigger")
	}
	logger.G(ctx).WithField("stream_id", streamID).Debug("已注入主动发起触发消息")
	return errors.Wrap(stream.Wake(ctx), "failed to wake stream")
}

// extractMedia lifts images out of the fresh unreads against the shared
// episode budget. Outside native-multimodal mode nothing is extracted.
func (e *Engine) extractMedia(ctx context.Context, unreads []chat.Message, budget *multimodal.Budget) []multimodal.Item {
	if !e.cfg.General.NativeMultimodal || budget == nil {
		return nil
	}
	log := logger.G(ctx)
	if budget.Exhausted() {
		log.Debug("原生多模态: 图片配额已用尽，跳过提取")
		return nil
	}
	items := multimodal.ExtractMedia(unreads, budget.Remaining())
	if len(items) == 0 {
		log.Debug("原生多模态: 未读消息中无图片")
		return nil
	}
	budget.Consume(len(items))
	log.Debugf("原生多模态: 提取到 %d 张图片 (配额剩余 %d)", len(items), budget.Remaining())
	return items
}

// virtualTrigger builds the outbound attribution for turns without an
// inbound message: the last processed message when one exists, else a
// synthesized system trigger.
func (e *Engine) virtualTrigger(ctx context.Context, stream host.Stream) *chat.Message {
	history, err := stream.History(ctx, 1)
	if err == nil && len(history) > 0 {
		msg := history[len(history)-1]
		return &msg
	}
	return &chat.Message{
		MessageID:  "virtual_timeout_trigger",
		SenderID:   "system",
		SenderName: "system",
		PlainText:  "[超时触发]",
	}
}

func (e *Engine) dropEpisode(ctx context.Context, streamID string) {
	e.mu.Lock()
	ep, ok := e.episodes[streamID]
	delete(e.episodes, streamID)
	e.mu.Unlock()

	if ok && ep.vlmSkip {
		e.unskipVLM(ctx, streamID)
	}
}

func (e *Engine) unskipVLM(ctx context.Context, streamID string) {
	if e.deps.Media == nil {
		return
	}
	if err := e.deps.Media.UnskipVLM(ctx, streamID); err != nil {
		logger.G(ctx).WithError(err).Debug("注销 VLM 跳过失败")
	}
}

// recordReplyTiming notes whether the reply that ended a wait window
// landed inside it.
func recordReplyTiming(sess *session.Session) {
	elapsed := sess.Waiting.ElapsedSeconds()
	kind := mentallog.KindReplyInTime
	if elapsed > sess.Waiting.MaxWaitSeconds {
		kind = mentallog.KindReplyLate
	}
	sess.MentalLog.Add(mentallog.Entry{
		Kind:           kind,
		Timestamp:      mentallog.Now(),
		ElapsedSeconds: elapsed,
	})
}

func toLogActions(actions []map[string]any) []mentallog.Action {
	out := make([]mentallog.Action, 0, len(actions))
	for _, a := range actions {
		out = append(out, mentallog.Action(a))
	}
	return out
}
