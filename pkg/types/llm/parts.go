// Package llm defines the provider-neutral conversation types shared
// between the dialogue engine and the model adapters: payload chains,
// responses, tool calls, and tool schemas.
package llm

// Role identifies who a payload speaks as.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// PartType discriminates the content variants a payload can carry.
type PartType string

const (
	PartText       PartType = "text"
	PartImage      PartType = "image"
	PartToolResult PartType = "tool_result"
)

// Part is one content block inside a payload. Adapters translate parts
// into each provider's wire format.
type Part struct {
	Type PartType `json:"type"`

	// Text is set for PartText.
	Text string `json:"text,omitempty"`

	// Data holds base64 image bytes for PartImage. A "base64|" prefix
	// or full data URL from the host is tolerated.
	Data string `json:"data,omitempty"`

	// CallID, Name and Value describe a PartToolResult.
	CallID string `json:"call_id,omitempty"`
	Name   string `json:"name,omitempty"`
	Value  string `json:"value,omitempty"`
}

// Text builds a text part.
func Text(s string) Part {
	return Part{Type: PartText, Text: s}
}

// Image builds an image part from base64 data.
func Image(data string) Part {
	return Part{Type: PartImage, Data: data}
}

// ToolResult builds a tool result part answering the given call.
func ToolResult(callID, name, value string) Part {
	return Part{Type: PartToolResult, CallID: callID, Name: name, Value: value}
}

// Payload is one conversation turn: a role plus its content parts.
// Assistant payloads additionally carry the tool calls the model made
// on that turn so adapters can replay them to the provider.
type Payload struct {
	Role  Role       `json:"role"`
	Parts []Part     `json:"parts"`
	Calls []ToolCall `json:"calls,omitempty"`
}

// NewPayload builds a payload from parts.
func NewPayload(role Role, parts ...Part) Payload {
	return Payload{Role: role, Parts: parts}
}

// TextContent concatenates the payload's text parts.
func (p Payload) TextContent() string {
	var out string
	for _, part := range p.Parts {
		if part.Type == PartText {
			out += part.Text
		}
	}
	return out
}

// HasImages reports whether the payload carries image parts.
func (p Payload) HasImages() bool {
	for _, part := range p.Parts {
		if part.Type == PartImage {
			return true
		}
	}
	return false
}
