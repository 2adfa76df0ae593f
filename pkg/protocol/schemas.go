package protocol

import (
	"github.com/invopop/jsonschema"

	llmtypes "github.com/kokoroflow/kokoroflow/pkg/types/llm"
)

// Names of the builtin control actions. kfc_stop is a legacy action
// from older prompt revisions meaning "end the topic, do not wait"; it
// is still accepted but no longer advertised to the model.
const (
	ActionReply     = "kfc_reply"
	ActionDoNothing = "do_nothing"
	ActionStop      = "kfc_stop"
)

const (
	replyDescription = "发送一段文本消息给对方。" +
		"你可以调用多次来分多段回复，每次提供你想说的话的纯文本内容。" +
		"注意：本工具无法发送表情包等非文本内容。"
	doNothingDescription = "决定不做任何回复。当对方的消息不需要回应、纯表情、或者你选择已读不回时使用。"
)

// ReplyArgs are the arguments of the kfc_reply action.
type ReplyArgs struct {
	Content          string  `json:"content" jsonschema:"description=要发送的文本内容，不要添加标记，只写你想说的话"`
	Thought          string  `json:"thought,omitempty" jsonschema:"description=你此刻的内心想法和感受，描述你为什么要这样回复"`
	ExpectedReaction string  `json:"expected_reaction,omitempty" jsonschema:"description=你期望对方看到你这条消息后的反应"`
	MaxWaitSeconds   float64 `json:"max_wait_seconds,omitempty" jsonschema:"description=你愿意等待对方回复的最长时间(秒)，0表示不等待"`
	Mood             string  `json:"mood,omitempty" jsonschema:"description=你当前的心情，用一两个词描述"`
}

// DoNothingArgs are the arguments of the do_nothing action.
type DoNothingArgs struct {
	Thought          string  `json:"thought,omitempty" jsonschema:"description=你此刻的内心想法，描述你为什么选择不回复"`
	ExpectedReaction string  `json:"expected_reaction,omitempty" jsonschema:"description=你预期的对方反应"`
	MaxWaitSeconds   float64 `json:"max_wait_seconds,omitempty" jsonschema:"description=是否继续等待对方（秒），0表示不等待"`
	Mood             string  `json:"mood,omitempty" jsonschema:"description=你当前的心情"`
}

var builtinSchemas = []llmtypes.ToolSchema{
	schemaFromType[ReplyArgs](ActionReply, replyDescription),
	schemaFromType[DoNothingArgs](ActionDoNothing, doNothingDescription),
}

// BuiltinSchemas returns the control action schemas offered on every
// decision turn.
func BuiltinSchemas() []llmtypes.ToolSchema {
	out := make([]llmtypes.ToolSchema, len(builtinSchemas))
	copy(out, builtinSchemas)
	return out
}

func schemaFromType[T any](name, description string) llmtypes.ToolSchema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	reflected := reflector.Reflect(v)

	required := make(map[string]bool, len(reflected.Required))
	for _, r := range reflected.Required {
		required[r] = true
	}

	schema := llmtypes.ToolSchema{Name: name, Description: description}
	for pair := reflected.Properties.Oldest(); pair != nil; pair = pair.Next() {
		schema.Params = append(schema.Params, llmtypes.Param{
			Name:        pair.Key,
			Type:        pair.Value.Type,
			Description: pair.Value.Description,
			Required:    required[pair.Key],
		})
	}
	return schema
}
