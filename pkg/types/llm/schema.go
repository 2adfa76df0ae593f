package llm

// Param describes one tool parameter for schema generation and prompt
// rendering.
type Param struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
}

// ToolSchema is the provider-neutral description of one callable
// action. Adapters expand it into each provider's function format; the
// prompt builder renders it into the extra-abilities block.
type ToolSchema struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Params      []Param `json:"params"`
}

// Properties returns the parameters as a JSON-schema properties map.
func (s ToolSchema) Properties() map[string]any {
	props := make(map[string]any, len(s.Params))
	for _, p := range s.Params {
		prop := map[string]any{"type": p.Type}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		props[p.Name] = prop
	}
	return props
}

// RequiredNames lists the required parameter names in declared order.
func (s ToolSchema) RequiredNames() []string {
	var required []string
	for _, p := range s.Params {
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return required
}

// FunctionParameters returns the complete JSON-schema object for the
// tool's arguments.
func (s ToolSchema) FunctionParameters() map[string]any {
	params := map[string]any{
		"type":       "object",
		"properties": s.Properties(),
	}
	if required := s.RequiredNames(); len(required) > 0 {
		params["required"] = required
	}
	return params
}
