package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/chzyer/readline"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/kokoroflow/kokoroflow/pkg/chat"
	"github.com/kokoroflow/kokoroflow/pkg/config"
	"github.com/kokoroflow/kokoroflow/pkg/engine"
	"github.com/kokoroflow/kokoroflow/pkg/host"
	"github.com/kokoroflow/kokoroflow/pkg/kvstore"
	"github.com/kokoroflow/kokoroflow/pkg/llm"
	"github.com/kokoroflow/kokoroflow/pkg/mentallog"
	"github.com/kokoroflow/kokoroflow/pkg/presenter"
	"github.com/kokoroflow/kokoroflow/pkg/runtime"
	"github.com/kokoroflow/kokoroflow/pkg/tools"
	llmtypes "github.com/kokoroflow/kokoroflow/pkg/types/llm"
)

// ChatOptions contains all options for the chat command.
type ChatOptions struct {
	scripted bool
	persona  string
	streamID string
	userName string
}

var chatOptions = &ChatOptions{}

func init() {
	chatCmd.Flags().BoolVar(&chatOptions.scripted, "scripted", false, "Use a canned decision model instead of a configured provider")
	chatCmd.Flags().StringVar(&chatOptions.persona, "persona", "", "Persona YAML file for the bot character")
	chatCmd.Flags().StringVar(&chatOptions.streamID, "stream", "console", "Stream ID for this session")
	chatCmd.Flags().StringVar(&chatOptions.userName, "user", "你", "Display name for your messages")
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to the engine in an interactive console",
	Long: `Start an interactive console session against a single in-process
stream. The engine decides when to reply, how long to wait, and when to
follow up, the same way it would on a real platform.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()
		return runChat(ctx, chatOptions)
	},
}

func runChat(ctx context.Context, opts *ChatOptions) error {
	cfg, err := config.Load(globalOptions.configFile)
	if err != nil {
		return err
	}

	persona := chat.DefaultPersona()
	if opts.persona != "" {
		persona, err = chat.LoadPersona(opts.persona)
		if err != nil {
			return err
		}
	}

	streams := host.NewMemoryStreams()
	stream := streams.Add(chat.StreamInfo{
		StreamID: opts.streamID,
		Platform: "console",
		ChatType: chat.ChatTypePrivate,
		BotID:    "kokoroflow",
		Persona:  persona,
	})

	kv, err := openStore(cfg.Store)
	if err != nil {
		return err
	}

	var models llmtypes.ModelResolver
	if opts.scripted {
		canned := &scriptedModel{}
		models = llm.StaticResolver{cfg.General.ModelTask: canned, "sub_actor": canned}
	} else {
		models = llm.NewResolver(cfg.Models)
	}

	sender := host.SenderFunc(func(ctx context.Context, streamID string, trigger *chat.Message, content string) error {
		presenter.Bot(persona.Nickname, content)
		stream.AppendHistory(chat.Message{
			MessageID:  "bot_" + uuid.NewString(),
			SenderID:   "kokoroflow",
			SenderName: persona.Nickname,
			PlainText:  content,
			Time:       mentallog.Now(),
		})
		return nil
	})

	var registry tools.Registry
	if len(cfg.MCP.Servers) > 0 {
		mcpRegistry, err := tools.NewMCPRegistry(cfg.MCP)
		if err != nil {
			return err
		}
		if err := mcpRegistry.Connect(ctx); err != nil {
			presenter.Warning(fmt.Sprintf("MCP 服务器连接失败，本次会话没有第三方工具: %v", err))
		} else {
			defer mcpRegistry.Close()
			registry = mcpRegistry
		}
	}

	sched := host.NewCronScheduler()
	sched.Start(ctx)
	defer sched.Stop()

	rt, err := runtime.New(cfg, runtime.Deps{
		Streams:   streams,
		Sender:    sender,
		Models:    models,
		KV:        kv,
		Bus:       host.NewBus(),
		Scheduler: sched,
		Registry:  registry,
	})
	if err != nil {
		return err
	}
	if err := rt.Start(ctx); err != nil {
		return err
	}
	defer rt.Close()

	loop := newConsoleLoop(rt.Engine(), stream)
	go loop.run(ctx)

	presenter.Section(fmt.Sprintf("KokoroFlow 会话 (%s)", persona.Nickname))
	presenter.Info("输入消息开始聊天；对方会自己决定何时回复、等待和追问。")
	presenter.Info("输入 exit 或 quit 结束。")
	presenter.Separator()

	return readLoop(ctx, opts, stream)
}

// openStore resolves the per-user default path when the config leaves
// it empty.
func openStore(cfg config.StoreConfig) (kvstore.Store, error) {
	path := cfg.Path
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, errors.Wrap(err, "failed to locate home directory for the session store")
		}
		base := filepath.Join(home, ".kokoroflow")
		switch cfg.Backend {
		case "bolt":
			path = filepath.Join(base, "sessions.db")
		case "sqlite":
			path = filepath.Join(base, "sessions.sqlite")
		default:
			path = filepath.Join(base, "sessions")
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, errors.Wrap(err, "failed to create data directory")
		}
	}
	return kvstore.New(kvstore.Config{Backend: cfg.Backend, Path: path})
}

// readLoop feeds console input into the stream until the user leaves.
func readLoop(ctx context.Context, opts *ChatOptions, stream *host.MemoryStream) error {
	rl, err := readline.New("\033[1;33m" + opts.userName + "> \033[0m")
	if err != nil {
		return errors.Wrap(err, "failed to start console input")
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
				presenter.Info("再见！")
				return nil
			}
			return errors.Wrap(err, "failed to read input")
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			presenter.Info("再见！")
			return nil
		}

		stream.Push(chat.Message{
			MessageID:  "console_" + uuid.NewString(),
			SenderID:   "console-user",
			SenderName: opts.userName,
			PlainText:  line,
			Time:       mentallog.Now(),
		})
		if err := stream.Wake(ctx); err != nil {
			presenter.Error(err, "唤醒会话失败")
		}
	}
}

// consoleLoop drives the engine for the single console stream: one tick
// per second while the conversation is live, parked after a Stop until
// the next wake.
type consoleLoop struct {
	engine *engine.Engine
	stream *host.MemoryStream

	mu     sync.Mutex
	parked bool
	wake   chan struct{}
}

func newConsoleLoop(eng *engine.Engine, stream *host.MemoryStream) *consoleLoop {
	l := &consoleLoop{engine: eng, stream: stream, wake: make(chan struct{}, 1)}
	stream.SetWakeFunc(l.Wake)
	return l
}

// Wake unparks the loop. Safe from any goroutine.
func (l *consoleLoop) Wake() {
	l.mu.Lock()
	l.parked = false
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *consoleLoop) park() {
	l.mu.Lock()
	l.parked = true
	l.mu.Unlock()
}

func (l *consoleLoop) isParked() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.parked
}

func (l *consoleLoop) run(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.wake:
		case <-ticker.C:
			if l.isParked() {
				continue
			}
		}

		switch sig := l.engine.Tick(ctx, l.stream.ID()); sig.Kind {
		case engine.SignalStop:
			l.park()
		case engine.SignalFailure:
			presenter.Error(sig.Err, sig.Reason)
			l.park()
		case engine.SignalWait:
			// The one-second cadence covers any requested delay.
		}
	}
}

// scriptedModel is a canned stand-in for a real provider so the console
// can be exercised without credentials. Decision turns reply and arm a
// short wait; thinking turns return a fixed monologue line.
type scriptedModel struct {
	mu    sync.Mutex
	turns int
}

var scriptedLines = []string{
	"在呢在呢，怎么啦？",
	"哈哈，我也这么觉得",
	"嗯嗯，你继续说",
	"真的假的，后来呢？",
}

// Name implements llmtypes.ChatModel.
func (m *scriptedModel) Name() string { return "scripted" }

// Send implements llmtypes.ChatModel.
func (m *scriptedModel) Send(ctx context.Context, chain *llmtypes.Chain, opts llmtypes.SendOptions) (*llmtypes.Response, error) {
	if len(opts.Tools) == 0 {
		return &llmtypes.Response{Message: "不知道对方在忙什么，有点好奇"}, nil
	}

	m.mu.Lock()
	m.turns++
	n := m.turns
	m.mu.Unlock()

	content := scriptedLines[(n-1)%len(scriptedLines)]
	if last := lastUserText(chain); strings.Contains(last, "等待超时通知") {
		content = "还在吗？"
	} else if strings.Contains(last, "[主动发起]") {
		content = "突然想起你了，最近怎么样？"
	}

	return &llmtypes.Response{
		Calls: []llmtypes.ToolCall{{
			ID:   fmt.Sprintf("scripted_%d", n),
			Name: "kfc_reply",
			Args: map[string]any{
				"content":           content,
				"thought":           "演示模式的固定台词",
				"expected_reaction": "对方继续聊下去",
				"max_wait_seconds":  float64(45),
			},
		}},
	}, nil
}

func lastUserText(chain *llmtypes.Chain) string {
	payloads := chain.Payloads()
	for i := len(payloads) - 1; i >= 0; i-- {
		if payloads[i].Role == llmtypes.RoleUser {
			return payloads[i].TextContent()
		}
	}
	return ""
}
