package llm

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/kokoroflow/kokoroflow/pkg/config"
	"github.com/kokoroflow/kokoroflow/pkg/llm/anthropic"
	"github.com/kokoroflow/kokoroflow/pkg/llm/openai"
	llmtypes "github.com/kokoroflow/kokoroflow/pkg/types/llm"
)

// NewModel builds the provider adapter for one model entry.
func NewModel(cfg config.ModelConfig) (llmtypes.ChatModel, error) {
	switch cfg.Provider {
	case "openai", "":
		return openai.New(cfg)
	case "anthropic":
		return anthropic.New(cfg)
	default:
		return nil, errors.Errorf("unknown model provider: %s", cfg.Provider)
	}
}

// Resolver maps engine task names to configured models. Adapters are
// built lazily and cached so a task shared by several subsystems gets
// one client. Tasks without their own entry fall back to "actor".
type Resolver struct {
	mu      sync.Mutex
	configs map[string]config.ModelConfig
	models  map[string]llmtypes.ChatModel
}

// NewResolver creates a resolver over the configured model entries.
func NewResolver(configs map[string]config.ModelConfig) *Resolver {
	return &Resolver{
		configs: configs,
		models:  make(map[string]llmtypes.ChatModel),
	}
}

// ModelForTask implements llmtypes.ModelResolver.
func (r *Resolver) ModelForTask(task string) (llmtypes.ChatModel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := task
	if _, ok := r.configs[name]; !ok {
		if _, ok := r.configs["actor"]; !ok {
			return nil, errors.Errorf("no model configured for task %s", task)
		}
		name = "actor"
	}

	if model, ok := r.models[name]; ok {
		return model, nil
	}
	model, err := NewModel(r.configs[name])
	if err != nil {
		return nil, errors.Wrapf(err, "failed to build model for task %s", name)
	}
	r.models[name] = model
	return model, nil
}

// StaticResolver serves pre-built models, keyed by task. Tasks without
// an entry fall back to "actor". Used by tests and the scripted
// console backend.
type StaticResolver map[string]llmtypes.ChatModel

// ModelForTask implements llmtypes.ModelResolver.
func (r StaticResolver) ModelForTask(task string) (llmtypes.ChatModel, error) {
	if model, ok := r[task]; ok {
		return model, nil
	}
	if model, ok := r["actor"]; ok {
		return model, nil
	}
	return nil, errors.Errorf("no model configured for task %s", task)
}
