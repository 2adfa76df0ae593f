// Package runtime assembles the conversation engine, its background
// thinkers, and the host services into one startable unit. The host
// keeps ownership of the scheduler and bus lifecycles; the runtime only
// registers work on them and unregisters on Close.
package runtime

import (
	"context"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/kokoroflow/kokoroflow/pkg/config"
	"github.com/kokoroflow/kokoroflow/pkg/engine"
	"github.com/kokoroflow/kokoroflow/pkg/host"
	"github.com/kokoroflow/kokoroflow/pkg/kvstore"
	"github.com/kokoroflow/kokoroflow/pkg/logger"
	"github.com/kokoroflow/kokoroflow/pkg/session"
	"github.com/kokoroflow/kokoroflow/pkg/thinker"
	"github.com/kokoroflow/kokoroflow/pkg/tools"
	llmtypes "github.com/kokoroflow/kokoroflow/pkg/types/llm"
)

// TopicProactiveTrigger carries one event per stream the proactive
// sweep selects. Payload: {"stream_id": string}.
const TopicProactiveTrigger = "kfc.proactive_trigger"

const (
	taskWaitCheck      = "kfc_wait_check"
	taskProactiveCheck = "kfc_proactive_check"
)

// Deps are the host services the runtime wires together. Watchdog and
// Media default to in-process no-ops when nil; Registry may stay nil
// when no third-party tools are configured.
type Deps struct {
	Streams   host.Streams
	Sender    host.Sender
	Models    llmtypes.ModelResolver
	KV        kvstore.Store
	Bus       host.EventBus
	Scheduler host.Scheduler
	Watchdog  host.Watchdog
	Media     host.MediaManager
	Registry  tools.Registry
}

// Runtime owns the engine and its recurring background work.
type Runtime struct {
	cfg       *config.Config
	deps      Deps
	sessions  *session.Store
	engine    *engine.Engine
	checker   *thinker.WaitChecker
	proactive *thinker.ProactiveThinker

	cancels []host.CancelFunc
}

// New wires the session store, engine and thinkers over the host deps.
// Nothing runs until Start.
func New(cfg *config.Config, deps Deps) (*Runtime, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if deps.Streams == nil || deps.Sender == nil || deps.Models == nil ||
		deps.KV == nil || deps.Bus == nil || deps.Scheduler == nil {
		return nil, errors.New("incomplete host deps: streams, sender, models, kv, bus, and scheduler are required")
	}
	if deps.Watchdog == nil {
		deps.Watchdog = host.NopWatchdog{}
	}
	if deps.Media == nil {
		deps.Media = host.NewMemoryMediaManager()
	}

	sessions := session.NewStore(deps.KV, cfg.Prompt.MaxLogEntries)
	eng := engine.New(cfg, engine.Deps{
		Streams:  deps.Streams,
		Sender:   deps.Sender,
		Models:   deps.Models,
		Sessions: sessions,
		Registry: deps.Registry,
		Watchdog: deps.Watchdog,
		Media:    deps.Media,
	})

	return &Runtime{
		cfg:       cfg,
		deps:      deps,
		sessions:  sessions,
		engine:    eng,
		checker:   thinker.NewWaitChecker(cfg, deps.Models, sessions),
		proactive: thinker.NewProactiveThinker(cfg, sessions),
	}, nil
}

// Engine returns the conversation engine for the host's dialogue loop.
func (r *Runtime) Engine() *engine.Engine { return r.engine }

// Sessions exposes the session store for host-side introspection.
func (r *Runtime) Sessions() *session.Store { return r.sessions }

// Start registers the recurring wait and proactive checks and the
// proactive trigger subscription. In native-multimodal mode it also
// re-registers VLM skips for every persisted stream so images survive a
// restart. A failed Start leaves the runtime safe to Close.
func (r *Runtime) Start(ctx context.Context) error {
	if r.cfg.General.NativeMultimodal {
		r.preloadVLMSkips(ctx)
	}

	r.cancels = append(r.cancels, r.deps.Bus.Subscribe(TopicProactiveTrigger, r.onProactiveTrigger))

	cancelWait, err := r.deps.Scheduler.Every(taskWaitCheck, secondsPeriod(r.cfg.ContinuousThinking.MinInterval, 30), func(ctx context.Context) {
		r.checker.CheckAll(ctx)
	})
	if err != nil {
		return errors.Wrap(err, "failed to schedule wait check")
	}
	r.cancels = append(r.cancels, cancelWait)

	cancelProactive, err := r.deps.Scheduler.Every(taskProactiveCheck, secondsPeriod(r.cfg.Proactive.CheckInterval, 60), r.proactiveSweep)
	if err != nil {
		return errors.Wrap(err, "failed to schedule proactive check")
	}
	r.cancels = append(r.cancels, cancelProactive)

	logger.G(ctx).WithFields(map[string]any{
		"wait_check":      r.cfg.ContinuousThinking.MinInterval,
		"proactive_check": r.cfg.Proactive.CheckInterval,
	}).Info("KokoroFlow 运行时已启动")
	return nil
}

// Close unregisters background work and closes the session store.
func (r *Runtime) Close() error {
	for _, cancel := range r.cancels {
		cancel()
	}
	r.cancels = nil

	var errs *multierror.Error
	if err := r.deps.KV.Close(); err != nil {
		errs = multierror.Append(errs, errors.Wrap(err, "failed to close session store"))
	}
	return errs.ErrorOrNil()
}

// proactiveSweep publishes one trigger event per selected stream. The
// stream is marked triggered even if no handler picks the event up, so
// a broken stream cannot be re-selected every sweep.
func (r *Runtime) proactiveSweep(ctx context.Context) {
	for _, streamID := range r.proactive.CheckAll(ctx) {
		r.deps.Bus.Publish(ctx, TopicProactiveTrigger, map[string]any{"stream_id": streamID})
		r.proactive.MarkTriggered(ctx, streamID)
	}
}

func (r *Runtime) onProactiveTrigger(ctx context.Context, payload map[string]any) {
	streamID, _ := payload["stream_id"].(string)
	if streamID == "" {
		logger.G(ctx).Warn("proactive trigger event missing stream_id")
		return
	}
	if err := r.engine.ProactiveEntry(ctx, streamID); err != nil {
		logger.G(ctx).WithError(err).WithField("stream_id", streamID).Warn("主动发起失败，跳过该聊天流")
	}
}

func (r *Runtime) preloadVLMSkips(ctx context.Context) {
	ids, err := r.sessions.ListIDs(ctx)
	if err != nil {
		logger.G(ctx).WithError(err).Warn("列举已持久化会话失败，跳过 VLM 预注册")
		return
	}
	for _, id := range ids {
		if err := r.deps.Media.SkipVLM(ctx, id); err != nil {
			logger.G(ctx).WithError(err).WithField("stream_id", id).Debug("注册 VLM 跳过失败（不影响功能）")
		}
	}
	if len(ids) > 0 {
		logger.G(ctx).Infof("原生多模态: 已为 %d 个会话注册 VLM 跳过", len(ids))
	}
}

func secondsPeriod(sec, fallback float64) time.Duration {
	if sec <= 0 {
		sec = fallback
	}
	return time.Duration(sec * float64(time.Second))
}
