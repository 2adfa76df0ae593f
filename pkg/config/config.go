// Package config defines the engine configuration, loaded from YAML
// files and KOKOROFLOW_* environment variables via viper.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Config is the root configuration. Sections mirror the runtime
// subsystems they drive.
type Config struct {
	General            GeneralConfig            `mapstructure:"general" yaml:"general"`
	Wait               WaitConfig               `mapstructure:"wait" yaml:"wait"`
	Proactive          ProactiveConfig          `mapstructure:"proactive" yaml:"proactive"`
	Reply              ReplyConfig              `mapstructure:"reply" yaml:"reply"`
	Prompt             PromptConfig             `mapstructure:"prompt" yaml:"prompt"`
	ContinuousThinking ContinuousThinkingConfig `mapstructure:"continuous_thinking" yaml:"continuous_thinking"`
	Debug              DebugConfig              `mapstructure:"debug" yaml:"debug"`
	Store              StoreConfig              `mapstructure:"store" yaml:"store"`
	Models             map[string]ModelConfig   `mapstructure:"models" yaml:"models"`
	MCP                MCPConfig                `mapstructure:"mcp" yaml:"mcp"`
}

// GeneralConfig holds top-level engine switches.
type GeneralConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// ModelTask names the model task the decision turns run on.
	ModelTask string `mapstructure:"model_task" yaml:"model_task"`
	// NativeMultimodal packs images straight into the decision payload
	// instead of relying on a separate vision pass. The configured
	// model task must accept image inputs.
	NativeMultimodal    bool `mapstructure:"native_multimodal" yaml:"native_multimodal"`
	MaxImagesPerPayload int  `mapstructure:"max_images_per_payload" yaml:"max_images_per_payload"`
	// MaxCompatRetries bounds the perceive-then-decide retry loop when
	// the model answers with prose instead of a decision. 0 disables
	// the retry.
	MaxCompatRetries int `mapstructure:"max_compat_retries" yaml:"max_compat_retries"`
}

// WaitConfig bounds how long the bot will wait for a reply.
type WaitConfig struct {
	MinSeconds             float64 `mapstructure:"min_seconds" yaml:"min_seconds"`
	MaxSeconds             float64 `mapstructure:"max_seconds" yaml:"max_seconds"`
	MaxConsecutiveTimeouts int     `mapstructure:"max_consecutive_timeouts" yaml:"max_consecutive_timeouts"`
}

// Apply turns a model-proposed wait duration into an effective one.
// Non-positive requests mean "do not wait". Once the consecutive
// timeout budget is exhausted waiting is suppressed entirely;
// otherwise the value is clamped into [MinSeconds, MaxSeconds].
func (w WaitConfig) Apply(rawSeconds float64, consecutiveTimeouts int) float64 {
	if rawSeconds <= 0 {
		return 0
	}
	if consecutiveTimeouts >= w.MaxConsecutiveTimeouts {
		return 0
	}
	if rawSeconds < w.MinSeconds {
		return w.MinSeconds
	}
	if rawSeconds > w.MaxSeconds {
		return w.MaxSeconds
	}
	return rawSeconds
}

// ProactiveConfig controls self-initiated conversation starts.
type ProactiveConfig struct {
	Enabled            bool    `mapstructure:"enabled" yaml:"enabled"`
	SilenceThreshold   float64 `mapstructure:"silence_threshold" yaml:"silence_threshold"`
	TriggerProbability float64 `mapstructure:"trigger_probability" yaml:"trigger_probability"`
	MinInterval        float64 `mapstructure:"min_interval" yaml:"min_interval"`
	QuietHoursStart    string  `mapstructure:"quiet_hours_start" yaml:"quiet_hours_start"`
	QuietHoursEnd      string  `mapstructure:"quiet_hours_end" yaml:"quiet_hours_end"`
	CheckInterval      float64 `mapstructure:"check_interval" yaml:"check_interval"`
}

// ReplyConfig shapes outbound delivery pacing.
type ReplyConfig struct {
	TypingCharsPerSec float64 `mapstructure:"typing_chars_per_sec" yaml:"typing_chars_per_sec"`
	TypingDelayMin    float64 `mapstructure:"typing_delay_min" yaml:"typing_delay_min"`
	TypingDelayMax    float64 `mapstructure:"typing_delay_max" yaml:"typing_delay_max"`
}

// PromptConfig bounds prompt-side memory.
type PromptConfig struct {
	MaxLogEntries      int `mapstructure:"max_log_entries" yaml:"max_log_entries"`
	MaxContextPayloads int `mapstructure:"max_context_payloads" yaml:"max_context_payloads"`
}

// ContinuousThinkingConfig controls mid-wait inner monologue.
type ContinuousThinkingConfig struct {
	Enabled            bool      `mapstructure:"enabled" yaml:"enabled"`
	ProgressThresholds []float64 `mapstructure:"progress_thresholds" yaml:"progress_thresholds"`
	MinInterval        float64   `mapstructure:"min_interval" yaml:"min_interval"`
}

// DebugConfig toggles verbose logging of prompts and decisions.
type DebugConfig struct {
	ShowPrompt   bool `mapstructure:"show_prompt" yaml:"show_prompt"`
	ShowResponse bool `mapstructure:"show_response" yaml:"show_response"`
}

// StoreConfig selects the session persistence backend.
type StoreConfig struct {
	// Backend is one of "jsonfile", "bolt", "sqlite".
	Backend string `mapstructure:"backend" yaml:"backend"`
	// Path is a directory for jsonfile or a database file otherwise.
	// Empty means a per-user default under ~/.kokoroflow.
	Path string `mapstructure:"path" yaml:"path"`
}

// ModelConfig describes one LLM endpoint, keyed by task name.
type ModelConfig struct {
	// Provider is "openai" or "anthropic".
	Provider string `mapstructure:"provider" yaml:"provider"`
	Model    string `mapstructure:"model" yaml:"model"`
	// APIKey overrides the provider's environment variable lookup.
	APIKey    string      `mapstructure:"api_key" yaml:"api_key"`
	BaseURL   string      `mapstructure:"base_url" yaml:"base_url"`
	MaxTokens int         `mapstructure:"max_tokens" yaml:"max_tokens"`
	Retry     RetryConfig `mapstructure:"retry" yaml:"retry"`
}

// RetryConfig controls transport-level retries on model calls. Delay
// fields are milliseconds.
type RetryConfig struct {
	Attempts     int `mapstructure:"attempts" yaml:"attempts"`
	InitialDelay int `mapstructure:"initial_delay" yaml:"initial_delay"`
	MaxDelay     int `mapstructure:"max_delay" yaml:"max_delay"`
	// BackoffType is "fixed" or "exponential".
	BackoffType string `mapstructure:"backoff_type" yaml:"backoff_type"`
}

// DefaultRetry is applied when a model entry omits its retry block.
var DefaultRetry = RetryConfig{
	Attempts:     3,
	InitialDelay: 1000,
	MaxDelay:     10000,
	BackoffType:  "exponential",
}

// MCPServerConfig describes one MCP server to attach tools from.
type MCPServerConfig struct {
	// Type is "stdio" or "sse".
	Type    string            `mapstructure:"type" yaml:"type"`
	Command string            `mapstructure:"command" yaml:"command"`
	Args    []string          `mapstructure:"args" yaml:"args"`
	Envs    map[string]string `mapstructure:"envs" yaml:"envs"`
	BaseURL string            `mapstructure:"base_url" yaml:"base_url"`
	Headers map[string]string `mapstructure:"headers" yaml:"headers"`
	// ToolWhiteList limits which tools are exposed; empty allows all.
	ToolWhiteList []string `mapstructure:"tool_white_list" yaml:"tool_white_list"`
}

// MCPConfig lists the MCP servers to connect at startup.
type MCPConfig struct {
	Servers map[string]MCPServerConfig `mapstructure:"servers" yaml:"servers"`
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() *Config {
	return &Config{
		General: GeneralConfig{
			Enabled:             true,
			ModelTask:           "actor",
			NativeMultimodal:    false,
			MaxImagesPerPayload: 4,
			MaxCompatRetries:    1,
		},
		Wait: WaitConfig{
			MinSeconds:             10,
			MaxSeconds:             600,
			MaxConsecutiveTimeouts: 3,
		},
		Proactive: ProactiveConfig{
			Enabled:            true,
			SilenceThreshold:   7200,
			TriggerProbability: 0.3,
			MinInterval:        1800,
			QuietHoursStart:    "23:00",
			QuietHoursEnd:      "07:00",
			CheckInterval:      60,
		},
		Reply: ReplyConfig{
			TypingCharsPerSec: 15,
			TypingDelayMin:    0.8,
			TypingDelayMax:    4.0,
		},
		Prompt: PromptConfig{
			MaxLogEntries:      50,
			MaxContextPayloads: 20,
		},
		ContinuousThinking: ContinuousThinkingConfig{
			Enabled:            true,
			ProgressThresholds: []float64{0.3, 0.6, 0.85},
			MinInterval:        30,
		},
		Debug: DebugConfig{
			ShowPrompt:   false,
			ShowResponse: true,
		},
		Store: StoreConfig{
			Backend: "jsonfile",
		},
		Models: map[string]ModelConfig{
			"actor": {Provider: "openai", Model: "gpt-4o"},
		},
	}
}

// Load reads configuration from the given file (or the default search
// paths when empty), layers KOKOROFLOW_* environment variables on top,
// and validates the result.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".kokoroflow"))
		}
	}

	v.SetEnvPrefix("KOKOROFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if configFile != "" {
			return nil, errors.Wrapf(err, "failed to read config file %s", configFile)
		}
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "failed to read config")
		}
	}

	cfg := DefaultConfig()
	if err := decodeSettings(v.AllSettings(), cfg); err != nil {
		return nil, errors.Wrap(err, "failed to decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decodeSettings overlays viper settings onto cfg with weak typing so
// environment strings coerce into numbers, bools, and slices.
func decodeSettings(settings map[string]any, cfg *Config) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToSliceHookFunc(","),
		WeaklyTypedInput: true,
		ZeroFields:       false,
		Result:           cfg,
	})
	if err != nil {
		return errors.Wrap(err, "failed to create config decoder")
	}
	return decoder.Decode(settings)
}
