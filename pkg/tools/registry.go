// Package tools exposes third-party actions to the conversation engine.
// The Registry contract hides where an action comes from; the MCP-backed
// implementation connects to configured MCP servers and surfaces their
// tools as engine actions.
package tools

import (
	"context"

	"github.com/kokoroflow/kokoroflow/pkg/chat"
	llmtypes "github.com/kokoroflow/kokoroflow/pkg/types/llm"
)

// Registry is the set of third-party actions offered to the model on top
// of the builtin reply/do-nothing pair.
type Registry interface {
	// Schemas lists the callable actions.
	Schemas(ctx context.Context) []llmtypes.ToolSchema

	// Dispatch executes one call and returns the result text to feed
	// back to the model. The trigger is the message that started the
	// turn, when there is one.
	Dispatch(ctx context.Context, call llmtypes.ToolCall, trigger *chat.Message) (string, error)
}
