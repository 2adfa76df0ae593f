package protocol

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/kokoroflow/kokoroflow/pkg/llm"
)

// Result is the structured outcome of one decision turn: the metadata
// the model attached to its control calls plus the executed actions.
type Result struct {
	Thought          string
	ExpectedReaction string
	MaxWaitSeconds   float64
	Mood             string

	// Actions records every call as a type-tagged map, mirroring what
	// lands in the mental log.
	Actions []map[string]any

	HasReply      bool
	HasDoNothing  bool
	HasThirdParty bool
}

// HasMeaningfulAction reports whether the turn produced anything at
// all: a reply, an explicit do-nothing, or a third-party call.
func (r *Result) HasMeaningfulAction() bool {
	return r.HasReply || r.HasDoNothing || r.HasThirdParty
}

// applyDecision seeds the result with the outer metadata of a prose
// decision, so it survives even when every action is third-party. The
// per-call extraction may still overwrite these values afterwards.
func (r *Result) applyDecision(d *llm.Decision) {
	r.Thought = d.Thought
	r.ExpectedReaction = d.ExpectedReaction
	r.MaxWaitSeconds = d.MaxWaitSeconds
	r.Mood = d.Mood
}

// extractMetadata pulls the shared planning fields out of a control
// call's arguments. Later calls overwrite earlier values; both
// expected-reaction key spellings are accepted.
func (r *Result) extractMetadata(args map[string]any) {
	if v, ok := args["thought"]; ok {
		r.Thought = asString(v)
	}
	if v, ok := args["expected_reaction"]; ok {
		r.ExpectedReaction = asString(v)
	}
	if v, ok := args["expected_user_reaction"]; ok {
		r.ExpectedReaction = asString(v)
	}
	if v, ok := args["max_wait_seconds"]; ok {
		r.MaxWaitSeconds = asFloat(v)
	}
	if v, ok := args["mood"]; ok {
		r.Mood = asString(v)
	}
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
