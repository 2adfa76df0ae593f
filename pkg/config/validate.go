package config

import (
	"sort"
	"strconv"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

var knownBackends = map[string]bool{
	"jsonfile": true,
	"bolt":     true,
	"sqlite":   true,
}

// Validate checks the configuration for internally inconsistent values
// and reports every problem found, not just the first.
func (c *Config) Validate() error {
	var result *multierror.Error

	if c.Wait.MinSeconds < 0 {
		result = multierror.Append(result, errors.New("wait.min_seconds must not be negative"))
	}
	if c.Wait.MaxSeconds < c.Wait.MinSeconds {
		result = multierror.Append(result, errors.New("wait.max_seconds must not be smaller than wait.min_seconds"))
	}
	if c.Wait.MaxConsecutiveTimeouts < 1 {
		result = multierror.Append(result, errors.New("wait.max_consecutive_timeouts must be at least 1"))
	}

	if c.General.MaxImagesPerPayload < 0 {
		result = multierror.Append(result, errors.New("general.max_images_per_payload must not be negative"))
	}
	if c.General.MaxCompatRetries < 0 {
		result = multierror.Append(result, errors.New("general.max_compat_retries must not be negative"))
	}

	if p := c.Proactive.TriggerProbability; p < 0 || p > 1 {
		result = multierror.Append(result, errors.Errorf("proactive.trigger_probability must be within [0, 1], got %v", p))
	}
	// Empty quiet hours disable the window.
	if c.Proactive.QuietHoursStart != "" {
		if _, err := ParseClock(c.Proactive.QuietHoursStart); err != nil {
			result = multierror.Append(result, errors.Wrap(err, "proactive.quiet_hours_start"))
		}
	}
	if c.Proactive.QuietHoursEnd != "" {
		if _, err := ParseClock(c.Proactive.QuietHoursEnd); err != nil {
			result = multierror.Append(result, errors.Wrap(err, "proactive.quiet_hours_end"))
		}
	}
	if c.Proactive.CheckInterval <= 0 {
		result = multierror.Append(result, errors.New("proactive.check_interval must be positive"))
	}

	if c.Reply.TypingCharsPerSec <= 0 {
		result = multierror.Append(result, errors.New("reply.typing_chars_per_sec must be positive"))
	}
	if c.Reply.TypingDelayMin < 0 {
		result = multierror.Append(result, errors.New("reply.typing_delay_min must not be negative"))
	}
	if c.Reply.TypingDelayMax < c.Reply.TypingDelayMin {
		result = multierror.Append(result, errors.New("reply.typing_delay_max must not be smaller than reply.typing_delay_min"))
	}

	if c.Prompt.MaxLogEntries <= 0 {
		result = multierror.Append(result, errors.New("prompt.max_log_entries must be positive"))
	}
	if c.Prompt.MaxContextPayloads < 0 {
		result = multierror.Append(result, errors.New("prompt.max_context_payloads must not be negative"))
	}

	if !sort.Float64sAreSorted(c.ContinuousThinking.ProgressThresholds) {
		result = multierror.Append(result, errors.New("continuous_thinking.progress_thresholds must be ascending"))
	}
	for _, threshold := range c.ContinuousThinking.ProgressThresholds {
		if threshold <= 0 || threshold > 1 {
			result = multierror.Append(result, errors.Errorf("continuous_thinking.progress_thresholds values must be within (0, 1], got %v", threshold))
			break
		}
	}
	if c.ContinuousThinking.MinInterval <= 0 {
		result = multierror.Append(result, errors.New("continuous_thinking.min_interval must be positive"))
	}

	if !knownBackends[c.Store.Backend] {
		result = multierror.Append(result, errors.Errorf("store.backend must be one of jsonfile, bolt, sqlite, got %q", c.Store.Backend))
	}

	for task, model := range c.Models {
		if model.Provider != "openai" && model.Provider != "anthropic" {
			result = multierror.Append(result, errors.Errorf("models.%s.provider must be openai or anthropic, got %q", task, model.Provider))
		}
		if model.Model == "" {
			result = multierror.Append(result, errors.Errorf("models.%s.model must be set", task))
		}
	}

	return result.ErrorOrNil()
}

// ParseClock parses an "HH:MM" wall-clock string into minutes since
// midnight.
func ParseClock(s string) (int, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, errors.Errorf("invalid clock %q, expected HH:MM", s)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, errors.Errorf("invalid clock %q, expected HH:MM", s)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, errors.Errorf("invalid clock %q, expected HH:MM", s)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, errors.Errorf("clock %q out of range", s)
	}
	return hour*60 + minute, nil
}
