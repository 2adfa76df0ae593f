// Package thinker holds the background tasks running beside the
// dialogue loop: continuous thinking during waits and proactive
// conversation starts after long silence. Both sweep the cached
// sessions on a schedule and serialize with the loop through the
// store's per-stream locks.
package thinker

import (
	"context"
	"fmt"
	"strings"

	"github.com/kokoroflow/kokoroflow/pkg/chat"
	"github.com/kokoroflow/kokoroflow/pkg/config"
	"github.com/kokoroflow/kokoroflow/pkg/logger"
	"github.com/kokoroflow/kokoroflow/pkg/mentallog"
	"github.com/kokoroflow/kokoroflow/pkg/prompt"
	"github.com/kokoroflow/kokoroflow/pkg/session"
	llmtypes "github.com/kokoroflow/kokoroflow/pkg/types/llm"
)

// subActorTask names the lightweight model task continuous thinking
// runs on, separate from the main decision model.
const subActorTask = "sub_actor"

const thinkingSystemPrompt = "你是一个正在等待对方回复的人，请简短地描述你此刻的内心感受。"

// maxThoughtRunes caps one inner-monologue entry.
const maxThoughtRunes = 200

// WaitChecker generates inner monologue while the bot waits for a
// reply, pacing itself along the wait window's progress thresholds.
type WaitChecker struct {
	cfg     *config.Config
	models  llmtypes.ModelResolver
	store   *session.Store
	builder *prompt.Builder

	now func() float64
}

// NewWaitChecker wires a checker over the session store.
func NewWaitChecker(cfg *config.Config, models llmtypes.ModelResolver, store *session.Store) *WaitChecker {
	return &WaitChecker{
		cfg:     cfg,
		models:  models,
		store:   store,
		builder: prompt.NewBuilder(chat.Persona{}),
		now:     mentallog.Now,
	}
}

// CheckAll sweeps every cached session once, each under its stream
// lock.
func (w *WaitChecker) CheckAll(ctx context.Context) {
	for streamID := range w.store.AllCached() {
		w.store.WithLock(streamID, func() {
			sess, ok := w.store.Get(ctx, streamID)
			if !ok {
				return
			}
			if thought := w.checkAndThink(ctx, sess); thought != "" {
				w.store.Save(ctx, sess)
			}
		})
	}
}

// checkAndThink runs the gate chain for one session and, when all
// gates pass, produces a thought and records it. Returns "" when
// nothing was generated. Caller holds the stream lock.
func (w *WaitChecker) checkAndThink(ctx context.Context, sess *session.Session) string {
	ct := w.cfg.ContinuousThinking
	if !ct.Enabled {
		return ""
	}
	if !sess.Waiting.IsActive() {
		return ""
	}

	now := w.now()
	if last := sess.Waiting.LastThinkingAt; last > 0 && now-last < ct.MinInterval {
		return ""
	}

	progress := sess.Waiting.Progress()
	n := sess.Waiting.ThinkingCount
	if n >= len(ct.ProgressThresholds) {
		return ""
	}
	if progress < ct.ProgressThresholds[n] {
		return ""
	}

	thought := w.generateThought(ctx, sess, progress)
	if thought == "" {
		return ""
	}

	sess.Waiting.LastThinkingAt = now
	sess.Waiting.ThinkingCount++
	sess.PendingThoughts = append(sess.PendingThoughts, thought)
	sess.AddWaitingUpdate(thought, "")

	logger.G(ctx).WithFields(map[string]any{
		"stream_id": sess.StreamID,
		"progress":  fmt.Sprintf("%.0f%%", progress*100),
	}).Debugf("连续思考 #%d: %.50s", n+1, thought)
	return thought
}

// generateThought asks the sub_actor model for a short monologue,
// falling back to a canned line bucketed by progress when the model is
// unavailable or fails.
func (w *WaitChecker) generateThought(ctx context.Context, sess *session.Session, progress float64) string {
	contextText, err := w.builder.BuildContinuousThinkingContext(
		sess.Waiting.ElapsedSeconds(),
		progress,
		sess.Waiting.ExpectedReaction,
		sess.MentalLog.LastBotReplyContent(),
	)
	if err != nil {
		logger.G(ctx).WithError(err).Warn("连续思考上下文构建失败")
		return fallbackThought(progress)
	}

	model, err := w.models.ModelForTask(subActorTask)
	if err != nil {
		logger.G(ctx).WithError(err).Debug("sub_actor 模型不可用，使用兜底思考")
		return fallbackThought(progress)
	}

	chain := llmtypes.NewChain(5)
	chain.Add(llmtypes.NewPayload(llmtypes.RoleSystem, llmtypes.Text(thinkingSystemPrompt)))
	chain.Add(llmtypes.NewPayload(llmtypes.RoleUser, llmtypes.Text(contextText)))

	resp, err := model.Send(ctx, chain, llmtypes.SendOptions{})
	if err != nil {
		logger.G(ctx).WithError(err).Warn("连续思考 LLM 调用失败")
		return fallbackThought(progress)
	}

	if msg := strings.TrimSpace(resp.Message); msg != "" {
		return trimRunes(msg, maxThoughtRunes)
	}
	return fallbackThought(progress)
}

func fallbackThought(progress float64) string {
	switch {
	case progress < 0.3:
		return "刚发完消息，有点期待对方的回复呢"
	case progress < 0.6:
		return "对方还没回复，是不是在忙呢"
	case progress < 0.85:
		return "等了一会儿了，不知道对方有没有看到消息"
	}
	return "等了挺久了，也许该做点别的了"
}

func trimRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
