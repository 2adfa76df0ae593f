// Package llm builds on the shared model types: it parses prose
// decisions out of model output, synthesizes tool calls from them, and
// constructs configured model endpoints.
package llm

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/kaptinlin/jsonrepair"

	llmtypes "github.com/kokoroflow/kokoroflow/pkg/types/llm"
)

// Decision is the structured JSON answer the model produces when it is
// not using native tool calling: an inner thought plus planned actions
// and wait metadata.
type Decision struct {
	Thought          string
	ExpectedReaction string
	MaxWaitSeconds   float64
	Mood             string
	Actions          []map[string]any
}

// Actionable reports whether the decision carries anything to execute.
func (d *Decision) Actionable() bool {
	return len(d.Actions) > 0
}

var fencedJSONPattern = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)\\n?```")

// ParseDecision extracts a Decision from model prose. The text is run
// through a repair-tolerant JSON parser first, then a fenced-code-block
// fallback. Returns false when no decision object can be recovered.
func ParseDecision(text string) (*Decision, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, false
	}

	obj := tryParseObject(text)
	if obj == nil {
		return nil, false
	}
	return decisionFromObject(obj), true
}

func tryParseObject(text string) map[string]any {
	if repaired, err := jsonrepair.JSONRepair(text); err == nil {
		var obj map[string]any
		if err := json.Unmarshal([]byte(repaired), &obj); err == nil {
			return obj
		}
	}

	if match := fencedJSONPattern.FindStringSubmatch(text); match != nil {
		var obj map[string]any
		if err := json.Unmarshal([]byte(match[1]), &obj); err == nil {
			return obj
		}
	}
	return nil
}

func decisionFromObject(obj map[string]any) *Decision {
	d := &Decision{
		Thought:        asString(obj["thought"]),
		Mood:           asString(obj["mood"]),
		MaxWaitSeconds: asFloat(obj["max_wait_seconds"]),
	}
	// both key spellings appear in the wild
	d.ExpectedReaction = asString(obj["expected_user_reaction"])
	if d.ExpectedReaction == "" {
		d.ExpectedReaction = asString(obj["expected_reaction"])
	}

	raw, _ := obj["actions"].([]any)
	for _, item := range raw {
		action, ok := item.(map[string]any)
		if !ok {
			continue
		}
		// legacy action name from older prompt revisions
		if asString(action["type"]) == "respond" {
			renamed := make(map[string]any, len(action))
			for k, v := range action {
				renamed[k] = v
			}
			renamed["type"] = "kfc_reply"
			action = renamed
		}
		d.Actions = append(d.Actions, action)
	}

	// legacy stop action means "end the topic, do not wait"
	for _, action := range d.Actions {
		if asString(action["type"]) == "kfc_stop" {
			d.MaxWaitSeconds = 0
			break
		}
	}
	return d
}

// DecisionToCalls converts a parsed decision into synthetic tool calls
// so prose decisions flow through the same dispatch as native calls.
// The decision-level metadata rides along on the control calls
// (kfc_reply, do_nothing, kfc_stop) where dispatch extracts it;
// third-party call args stay exactly what the model wrote.
func DecisionToCalls(d *Decision) []llmtypes.ToolCall {
	calls := make([]llmtypes.ToolCall, 0, len(d.Actions))
	for _, action := range d.Actions {
		name := asString(action["type"])
		if name == "" {
			continue
		}

		args := make(map[string]any, len(action)+4)
		for k, v := range action {
			if k == "type" {
				continue
			}
			args[k] = v
		}

		switch name {
		case "kfc_reply", "do_nothing", "kfc_stop":
			if d.Thought != "" {
				args["thought"] = d.Thought
			}
			if d.ExpectedReaction != "" {
				args["expected_reaction"] = d.ExpectedReaction
			}
			if d.Mood != "" {
				args["mood"] = d.Mood
			}
			args["max_wait_seconds"] = d.MaxWaitSeconds
		}

		calls = append(calls, llmtypes.ToolCall{
			ID:   uuid.NewString(),
			Name: name,
			Args: args,
		})
	}
	return calls
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asFloat(v any) float64 {
	switch value := v.(type) {
	case float64:
		return value
	case int:
		return float64(value)
	case int64:
		return float64(value)
	case json.Number:
		f, _ := value.Float64()
		return f
	case string:
		f, _ := strconv.ParseFloat(strings.TrimSpace(value), 64)
		return f
	}
	return 0
}
