package llm

import (
	"context"
	"strconv"
	"strings"
)

// ToolCall is one structured call the model asked for.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// StringArg returns the named argument as a string, or "".
func (c ToolCall) StringArg(name string) string {
	s, _ := c.Args[name].(string)
	return s
}

// FloatArg returns the named argument coerced to float64. JSON numbers
// arrive as float64; integer and string forms are tolerated.
func (c ToolCall) FloatArg(name string) float64 {
	switch v := c.Args[name].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case string:
		f, _ := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f
	}
	return 0
}

// Response is a provider-neutral model answer: prose plus any calls.
type Response struct {
	Message string     `json:"message"`
	Calls   []ToolCall `json:"calls"`
}

// SendOptions tune a single model request.
type SendOptions struct {
	// Tools are offered to the model for native tool calling.
	Tools []ToolSchema
	// MaxTokens overrides the adapter default when positive.
	MaxTokens int
}

// ChatModel is one configured LLM endpoint.
type ChatModel interface {
	// Name identifies the endpoint for logging.
	Name() string
	// Send submits the chain and returns the model's answer.
	Send(ctx context.Context, chain *Chain, opts SendOptions) (*Response, error)
}

// ModelResolver maps engine task names (actor, sub_actor) to models.
type ModelResolver interface {
	ModelForTask(task string) (ChatModel, error)
}
